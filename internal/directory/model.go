// Package directory holds the canonical data model projected over LDAP: users
// and groups normalized from an identity provider, frozen into immutable
// snapshots, plus the DN layout, entry projection and filter evaluation that
// the search path runs against a snapshot.
package directory

import (
	"time"
)

// Feature flags accepted in config `features`.
const (
	FeatureSyntheticPrimaryGroup = "synthetic_primary_group"
	FeatureMirrorNestedGroups    = "mirror_nested_groups"
)

// SentinelPrimaryGroupID is the primary group id assigned to every user when
// synthetic primary groups are disabled. The builder emits a matching shared
// group so the id always resolves inside the snapshot.
const SentinelPrimaryGroupID = "users"

// User is one active IdP principal, normalized.
type User struct {
	ID          string // opaque IdP id, stable
	Username    string // POSIX-safe
	DisplayName string
	GivenName   string
	FamilyName  string
	Email       string
	Active      bool

	UIDNumber      int
	PrimaryGroupID string
	MemberGroupIDs []string // sorted ascending
}

// Group is a real IdP group or a synthetic one (primary or mirror).
type Group struct {
	ID          string
	Name        string // POSIX-safe, unique within the snapshot
	Description string

	MemberUserIDs  []string // sorted ascending
	MemberGroupIDs []string // nested members (mirrors); sorted ascending
	GIDNumber      int
	IsSynthetic    bool
	Truncated      bool // membership list was clipped at the configured cap
}

// Snapshot is the immutable publication unit produced by one refresh. It is
// never mutated after Freeze; readers share it by pointer.
type Snapshot struct {
	Users  []User  // sorted by Username
	Groups []Group // sorted by Name

	GeneratedAt  time.Time
	Sequence     uint64
	FeatureFlags []string

	usersByID    map[string]*User
	groupsByID   map[string]*Group
	usersByName  map[string]*User
	groupsByName map[string]*Group
}

// Freeze builds the lookup indexes. Called once by the builder before
// publication; afterwards the snapshot is read-only.
func (s *Snapshot) Freeze() {
	s.usersByID = make(map[string]*User, len(s.Users))
	s.usersByName = make(map[string]*User, len(s.Users))
	for i := range s.Users {
		u := &s.Users[i]
		s.usersByID[u.ID] = u
		s.usersByName[u.Username] = u
	}
	s.groupsByID = make(map[string]*Group, len(s.Groups))
	s.groupsByName = make(map[string]*Group, len(s.Groups))
	for i := range s.Groups {
		g := &s.Groups[i]
		s.groupsByID[g.ID] = g
		s.groupsByName[g.Name] = g
	}
}

// UserByID returns the user with the given IdP id, or nil.
func (s *Snapshot) UserByID(id string) *User { return s.usersByID[id] }

// GroupByID returns the group with the given id, or nil.
func (s *Snapshot) GroupByID(id string) *Group { return s.groupsByID[id] }

// UserByName returns the user with the given POSIX username, or nil.
func (s *Snapshot) UserByName(name string) *User { return s.usersByName[name] }

// GroupByName returns the group with the given POSIX name, or nil.
func (s *Snapshot) GroupByName(name string) *Group { return s.groupsByName[name] }

// HasFeature reports whether the snapshot was built with the given flag.
func (s *Snapshot) HasFeature(flag string) bool {
	for _, f := range s.FeatureFlags {
		if f == flag {
			return true
		}
	}
	return false
}
