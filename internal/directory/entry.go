package directory

import (
	"strconv"
	"strings"
)

// Attribute is one projected attribute of a directory entry.
type Attribute struct {
	Name   string
	Values []string
}

// Entry is a typed directory entry flattened into attribute form. Entries are
// built on demand from the snapshot for each search; both the filter
// evaluator and the result streamer read them through the same projection.
type Entry struct {
	DN    string
	attrs []Attribute
	index map[string]int // lowercased attribute name → position in attrs
}

// newEntry builds an entry preserving attribute order. Attributes with no
// values are dropped so `present` semantics fall out of existence checks.
func newEntry(dn string, attrs []Attribute) *Entry {
	e := &Entry{DN: dn, index: make(map[string]int, len(attrs))}
	for _, a := range attrs {
		vals := a.Values[:0:0]
		for _, v := range a.Values {
			if v != "" {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}
		e.index[strings.ToLower(a.Name)] = len(e.attrs)
		e.attrs = append(e.attrs, Attribute{Name: a.Name, Values: vals})
	}
	return e
}

// Values returns the values of the named attribute (case-insensitive), or nil.
func (e *Entry) Values(name string) []string {
	i, ok := e.index[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return e.attrs[i].Values
}

// Project selects attributes for a search response. An empty list or a "*"
// entry selects everything; unknown names are silently skipped. When
// typesOnly is set the value lists are emptied but the type names stay.
func (e *Entry) Project(names []string, typesOnly bool) []Attribute {
	all := len(names) == 0
	for _, n := range names {
		if n == "*" {
			all = true
			break
		}
	}

	var selected []Attribute
	if all {
		selected = append(selected, e.attrs...)
	} else {
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			i, ok := e.index[strings.ToLower(n)]
			if !ok || seen[strings.ToLower(n)] {
				continue
			}
			seen[strings.ToLower(n)] = true
			selected = append(selected, e.attrs[i])
		}
	}

	if typesOnly {
		out := make([]Attribute, len(selected))
		for i, a := range selected {
			out[i] = Attribute{Name: a.Name}
		}
		return out
	}
	return selected
}

// RootDSEEntry is the zero-length-DN capabilities pseudo-entry.
func RootDSEEntry(l *Layout, vendorName, vendorVersion string) *Entry {
	return newEntry("", []Attribute{
		{Name: "objectClass", Values: []string{"top", "rootDSE"}},
		{Name: "namingContexts", Values: []string{l.Suffix}},
		{Name: "supportedLDAPVersion", Values: []string{"3"}},
		{Name: "supportedControl", Values: []string{"1.2.840.113556.1.4.319"}},
		{Name: "vendorName", Values: []string{vendorName}},
		{Name: "vendorVersion", Values: []string{vendorVersion}},
	})
}

// BaseEntry is the entry at the suffix itself.
func BaseEntry(l *Layout) *Entry {
	attrs := []Attribute{
		{Name: "objectClass", Values: []string{"top", "domain"}},
	}
	if dc, ok := RDNValue(l.Suffix, "dc"); ok {
		attrs = append(attrs, Attribute{Name: "dc", Values: []string{dc}})
	}
	return newEntry(l.Suffix, attrs)
}

// OUEntry is one of the two organizational units under the suffix.
func OUEntry(dn, ou, description string) *Entry {
	return newEntry(dn, []Attribute{
		{Name: "objectClass", Values: []string{"top", "organizationalUnit"}},
		{Name: "ou", Values: []string{ou}},
		{Name: "description", Values: []string{description}},
	})
}

// UserEntry renders a user as inetOrgPerson+posixAccount. The snapshot is
// consulted to resolve the primary group's gidNumber and the memberOf DNs.
func UserEntry(u *User, s *Snapshot, l *Layout) *Entry {
	sn := u.FamilyName
	if sn == "" {
		sn = u.Username
	}
	cn := u.DisplayName
	if cn == "" {
		cn = u.Username
	}

	gid := ""
	if g := s.GroupByID(u.PrimaryGroupID); g != nil {
		gid = strconv.Itoa(g.GIDNumber)
	}

	var memberOf []string
	for _, groupID := range u.MemberGroupIDs {
		if g := s.GroupByID(groupID); g != nil {
			memberOf = append(memberOf, l.GroupDN(g.Name))
		}
	}

	return newEntry(l.UserDN(u.Username), []Attribute{
		{Name: "objectClass", Values: []string{
			"top", "person", "organizationalPerson", "inetOrgPerson", "posixAccount",
		}},
		{Name: "uid", Values: []string{u.Username}},
		{Name: "cn", Values: []string{cn}},
		{Name: "sn", Values: []string{sn}},
		{Name: "givenName", Values: []string{u.GivenName}},
		{Name: "displayName", Values: []string{u.DisplayName}},
		{Name: "mail", Values: []string{u.Email}},
		{Name: "uidNumber", Values: []string{strconv.Itoa(u.UIDNumber)}},
		{Name: "gidNumber", Values: []string{gid}},
		{Name: "homeDirectory", Values: []string{"/home/" + u.Username}},
		{Name: "loginShell", Values: []string{"/bin/sh"}},
		{Name: "memberOf", Values: memberOf},
	})
}

// GroupEntry renders a group as groupOfNames+posixGroup. Member users appear
// both as member DNs and as memberUid names; nested member groups (mirrors)
// appear as member DNs only.
func GroupEntry(g *Group, s *Snapshot, l *Layout) *Entry {
	var member []string
	var memberUID []string
	for _, uid := range g.MemberUserIDs {
		if u := s.UserByID(uid); u != nil {
			member = append(member, l.UserDN(u.Username))
			memberUID = append(memberUID, u.Username)
		}
	}
	for _, gid := range g.MemberGroupIDs {
		if sub := s.GroupByID(gid); sub != nil {
			member = append(member, l.GroupDN(sub.Name))
		}
	}

	return newEntry(l.GroupDN(g.Name), []Attribute{
		{Name: "objectClass", Values: []string{"top", "groupOfNames", "posixGroup"}},
		{Name: "cn", Values: []string{g.Name}},
		{Name: "gidNumber", Values: []string{strconv.Itoa(g.GIDNumber)}},
		{Name: "description", Values: []string{g.Description}},
		{Name: "member", Values: member},
		{Name: "memberUid", Values: memberUID},
	})
}
