package directory

import (
	"strings"
)

// DN construction and comparison for the fixed tree layout:
//
//	<suffix>
//	├── ou=users,<suffix>
//	│   └── uid=<username>,ou=users,<suffix>
//	└── ou=groups,<suffix>
//	    └── cn=<name>,ou=groups,<suffix>
//
// Names are POSIX-sanitized before they reach a DN, but escaping is applied
// anyway per RFC 4514 so the layout stays correct even if sanitization rules
// loosen later.

// EscapeDNValue escapes an attribute value for use in a distinguished name
// per RFC 4514 section 2.4.
func EscapeDNValue(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == ',' || c == '+' || c == '"' || c == '\\' ||
			c == '<' || c == '>' || c == ';' || c == '=':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '#' && i == 0:
			b.WriteString("\\#")
		case c == ' ' && (i == 0 || i == len(value)-1):
			b.WriteString("\\ ")
		case c == 0x00:
			b.WriteString("\\00")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// NormalizeDN lowercases a DN and collapses whitespace around RDN separators
// so that DNs compare the way LDAP clients expect ("OU=Users, DC=Example" ==
// "ou=users,dc=example"). Escaped characters are preserved.
func NormalizeDN(dn string) string {
	parts := splitDN(dn)
	for i, rdn := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(rdn))
	}
	return strings.Join(parts, ",")
}

// splitDN splits a DN on unescaped commas.
func splitDN(dn string) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(dn); i++ {
		c := dn[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			cur.WriteByte(c)
			escaped = true
		case c == ',':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// EqualDN compares two DNs case-insensitively with whitespace collapsed.
func EqualDN(a, b string) bool {
	return NormalizeDN(a) == NormalizeDN(b)
}

// Layout resolves DNs under one configured suffix. The suffix is stored
// normalized once so hot-path comparisons don't re-normalize it.
type Layout struct {
	Suffix           string
	normalizedSuffix string
}

// NewLayout builds a Layout for the configured base DN.
func NewLayout(suffix string) *Layout {
	return &Layout{
		Suffix:           suffix,
		normalizedSuffix: NormalizeDN(suffix),
	}
}

// UsersOU returns `ou=users,<suffix>`.
func (l *Layout) UsersOU() string { return "ou=users," + l.Suffix }

// GroupsOU returns `ou=groups,<suffix>`.
func (l *Layout) GroupsOU() string { return "ou=groups," + l.Suffix }

// UserDN returns the DN of a user entry.
func (l *Layout) UserDN(username string) string {
	return "uid=" + EscapeDNValue(username) + "," + l.UsersOU()
}

// GroupDN returns the DN of a group entry.
func (l *Layout) GroupDN(name string) string {
	return "cn=" + EscapeDNValue(name) + "," + l.GroupsOU()
}

// Contains reports whether dn lies at or under the suffix.
func (l *Layout) Contains(dn string) bool {
	n := NormalizeDN(dn)
	return n == l.normalizedSuffix || strings.HasSuffix(n, ","+l.normalizedSuffix)
}

// RDNValue extracts the value of the first RDN if its attribute matches attr
// (case-insensitive). Returns ok=false when dn is empty or the attribute
// differs.
func RDNValue(dn, attr string) (string, bool) {
	parts := splitDN(dn)
	if len(parts) == 0 {
		return "", false
	}
	rdn := strings.TrimSpace(parts[0])
	eq := strings.IndexByte(rdn, '=')
	if eq < 0 {
		return "", false
	}
	if !strings.EqualFold(strings.TrimSpace(rdn[:eq]), attr) {
		return "", false
	}
	return unescapeDNValue(strings.TrimSpace(rdn[eq+1:])), true
}

func unescapeDNValue(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+1 < len(value) {
			i++
			b.WriteByte(value[i])
			continue
		}
		b.WriteByte(value[i])
	}
	return b.String()
}
