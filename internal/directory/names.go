package directory

import (
	"strconv"
	"strings"
)

// Posixify maps an arbitrary IdP name onto the conservative POSIX name
// alphabet [a-z0-9._-]. Uppercase is folded, whitespace and other invalid
// runes become underscores, and a name that does not start with a letter or
// underscore gets a prefix so tools like useradd-compatible consumers accept
// it.
func Posixify(name, prefix string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		case r == '@':
			// user@example.com → user_example.com keeps principal names readable
			b.WriteByte('_')
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		out = prefix + "unnamed"
	}
	if c := out[0]; !(c >= 'a' && c <= 'z') && c != '_' {
		out = prefix + out
	}
	return out
}

// NameDeduper hands out snapshot-unique names by suffixing collisions with
// -2, -3, … in arrival order.
type NameDeduper struct {
	seen map[string]int
}

func NewNameDeduper() *NameDeduper {
	return &NameDeduper{seen: make(map[string]int)}
}

func (d *NameDeduper) Claim(name string) string {
	count := d.seen[name]
	d.seen[name] = count + 1
	if count == 0 {
		return name
	}
	// Suffixed candidates can themselves collide with explicit names;
	// keep counting until one is free.
	for {
		count++
		candidate := name + "-" + strconv.Itoa(count)
		if _, taken := d.seen[candidate]; !taken {
			d.seen[candidate] = 1
			return candidate
		}
	}
}
