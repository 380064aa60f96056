// Package snapshot turns adapter output into immutable directory snapshots
// and drives their periodic refresh.
package snapshot

import (
	"sort"
	"time"

	"github.com/ldaptoid/ldaptoid/internal/directory"
	"github.com/ldaptoid/ldaptoid/internal/idalloc"
	"github.com/ldaptoid/ldaptoid/internal/idp"
	"github.com/ldaptoid/ldaptoid/internal/logger"
	"github.com/ldaptoid/ldaptoid/internal/mapstore"
)

// DefaultMaxGroupMembers caps a group's membership list; anything beyond is
// clipped and the group marked truncated.
const DefaultMaxGroupMembers = 5000

// DefaultMirrorMinMembers is the smallest user membership for which a mirror
// group is emitted.
const DefaultMirrorMinMembers = 2

// BuilderMetrics is the builder's slice of pkg/metrics. Nil disables it.
type BuilderMetrics interface {
	RecordGroupTruncated()
}

// BuilderConfig tunes snapshot synthesis.
type BuilderConfig struct {
	Features         []string
	MaxGroupMembers  int
	MirrorMinMembers int
}

// Allocation is one uid/gid pair minted during a build, reported so the
// scheduler can persist it.
type Allocation struct {
	Kind   mapstore.Kind
	IdPID  string
	Record mapstore.Record
}

// Builder assembles snapshots. It owns the two allocators, whose state is the
// only thing carried between builds; everything else is derived from the
// adapter output each time.
type Builder struct {
	cfg     BuilderConfig
	uids    *idalloc.Allocator
	gids    *idalloc.Allocator
	metrics BuilderMetrics

	sequence uint64
	now      func() time.Time
}

// NewBuilder creates a builder around the given allocators.
func NewBuilder(cfg BuilderConfig, uids, gids *idalloc.Allocator, metrics BuilderMetrics) *Builder {
	if cfg.MaxGroupMembers <= 0 {
		cfg.MaxGroupMembers = DefaultMaxGroupMembers
	}
	if cfg.MirrorMinMembers <= 0 {
		cfg.MirrorMinMembers = DefaultMirrorMinMembers
	}
	return &Builder{
		cfg:     cfg,
		uids:    uids,
		gids:    gids,
		metrics: metrics,
		now:     time.Now,
	}
}

func (b *Builder) hasFeature(flag string) bool {
	for _, f := range b.cfg.Features {
		if f == flag {
			return true
		}
	}
	return false
}

// Build produces the next snapshot from one adapter fetch. The returned
// allocations are the pairs minted during this build (users carry their
// primary gid alongside the uid).
func (b *Builder) Build(input *idp.Directory) (*directory.Snapshot, []Allocation) {
	synthetic := b.hasFeature(directory.FeatureSyntheticPrimaryGroup)
	mirrors := b.hasFeature(directory.FeatureMirrorNestedGroups)
	if mirrors && !synthetic {
		logger.Warn("mirror groups need synthetic primary groups as members, skipping mirrors",
			"missing_feature", directory.FeatureSyntheticPrimaryGroup)
	}

	var allocations []Allocation
	ts := b.now().Unix()

	// Deterministic processing order regardless of adapter ordering: names
	// are deduplicated in the order they are claimed.
	users := make([]idp.User, 0, len(input.Users))
	for _, u := range input.Users {
		if u.Active {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].ID < users[j].ID
	})
	groups := make([]idp.Group, len(input.Groups))
	copy(groups, input.Groups)
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Name != groups[j].Name {
			return groups[i].Name < groups[j].Name
		}
		return groups[i].ID < groups[j].ID
	})

	userNames := directory.NewNameDeduper()
	groupNames := directory.NewNameDeduper()

	snap := &directory.Snapshot{
		FeatureFlags: append([]string(nil), b.cfg.Features...),
	}

	activeIDs := make(map[string]bool, len(users))
	newUserUIDs := make(map[string]bool)
	for _, u := range users {
		res := b.uids.Allocate("user:" + u.ID)
		activeIDs[u.ID] = true
		if res.New {
			newUserUIDs[u.ID] = true
		}
		snap.Users = append(snap.Users, directory.User{
			ID:          u.ID,
			Username:    userNames.Claim(directory.Posixify(u.Username, "u_")),
			DisplayName: u.DisplayName,
			GivenName:   u.GivenName,
			FamilyName:  u.FamilyName,
			Email:       u.Email,
			Active:      true,
			UIDNumber:   res.ID,
		})
	}

	memberGroups := make(map[string][]string) // user id → group ids
	for _, g := range groups {
		res := b.gids.Allocate("group:" + g.ID)
		if res.New {
			allocations = append(allocations, Allocation{
				Kind:   mapstore.KindGroup,
				IdPID:  g.ID,
				Record: mapstore.Record{GID: uint32(res.ID), TS: ts},
			})
		}

		members := make([]string, 0, len(g.MemberUserIDs))
		for _, id := range g.MemberUserIDs {
			if activeIDs[id] {
				members = append(members, id)
			}
		}
		sort.Strings(members)
		truncated := false
		if len(members) > b.cfg.MaxGroupMembers {
			members = members[:b.cfg.MaxGroupMembers]
			truncated = true
			if b.metrics != nil {
				b.metrics.RecordGroupTruncated()
			}
			logger.Warn("group membership clipped", "group", g.Name, "cap", b.cfg.MaxGroupMembers)
		}
		for _, id := range members {
			memberGroups[id] = append(memberGroups[id], g.ID)
		}

		snap.Groups = append(snap.Groups, directory.Group{
			ID:            g.ID,
			Name:          groupNames.Claim(directory.Posixify(g.Name, "g_")),
			Description:   g.Description,
			MemberUserIDs: members,
			GIDNumber:     res.ID,
			Truncated:     truncated,
		})
	}
	realGroupCount := len(snap.Groups)

	// Primary groups: one synthetic per user, or the shared sentinel.
	primaryGID := make(map[string]uint32) // user id → primary gid
	if synthetic {
		for i := range snap.Users {
			u := &snap.Users[i]
			res := b.gids.Allocate("synthetic:" + u.ID)
			if res.New {
				allocations = append(allocations, Allocation{
					Kind:   mapstore.KindSynthetic,
					IdPID:  u.ID,
					Record: mapstore.Record{GID: uint32(res.ID), TS: ts},
				})
			}
			u.PrimaryGroupID = "synthetic:" + u.ID
			primaryGID[u.ID] = uint32(res.ID)
			snap.Groups = append(snap.Groups, directory.Group{
				ID:            u.PrimaryGroupID,
				Name:          groupNames.Claim(u.Username + "-primary"),
				MemberUserIDs: []string{u.ID},
				GIDNumber:     res.ID,
				IsSynthetic:   true,
			})
		}
	} else {
		res := b.gids.Allocate("synthetic:" + directory.SentinelPrimaryGroupID)
		if res.New {
			allocations = append(allocations, Allocation{
				Kind:   mapstore.KindSynthetic,
				IdPID:  directory.SentinelPrimaryGroupID,
				Record: mapstore.Record{GID: uint32(res.ID), TS: ts},
			})
		}
		members := make([]string, 0, len(snap.Users))
		for i := range snap.Users {
			snap.Users[i].PrimaryGroupID = directory.SentinelPrimaryGroupID
			primaryGID[snap.Users[i].ID] = uint32(res.ID)
			members = append(members, snap.Users[i].ID)
		}
		sort.Strings(members)
		snap.Groups = append(snap.Groups, directory.Group{
			ID:            directory.SentinelPrimaryGroupID,
			Name:          groupNames.Claim(directory.SentinelPrimaryGroupID),
			MemberUserIDs: members,
			GIDNumber:     res.ID,
			IsSynthetic:   true,
		})
	}

	// Mirror groups nest the primary groups of a real group's user members.
	// They only make sense when each member has a distinct primary group.
	if mirrors && synthetic {
		for i := 0; i < realGroupCount; i++ {
			g := snap.Groups[i]
			if len(g.MemberUserIDs) < b.cfg.MirrorMinMembers {
				continue
			}
			res := b.gids.Allocate("synthetic:mirror:" + g.ID)
			if res.New {
				allocations = append(allocations, Allocation{
					Kind:   mapstore.KindSynthetic,
					IdPID:  "mirror:" + g.ID,
					Record: mapstore.Record{GID: uint32(res.ID), TS: ts},
				})
			}
			nested := make([]string, 0, len(g.MemberUserIDs))
			for _, id := range g.MemberUserIDs {
				nested = append(nested, "synthetic:"+id)
			}
			sort.Strings(nested)
			snap.Groups = append(snap.Groups, directory.Group{
				ID:             "mirror:" + g.ID,
				Name:           groupNames.Claim(g.Name + "-mirror"),
				Description:    g.Description,
				MemberGroupIDs: nested,
				GIDNumber:      res.ID,
				IsSynthetic:    true,
			})
		}
	}

	// Users carry their uid together with the resolved primary gid, so the
	// persisted record is complete even when the primary is synthetic.
	for i := range snap.Users {
		u := &snap.Users[i]
		ids := memberGroups[u.ID]
		sort.Strings(ids)
		u.MemberGroupIDs = ids
		if newUserUIDs[u.ID] {
			allocations = append(allocations, Allocation{
				Kind:   mapstore.KindUser,
				IdPID:  u.ID,
				Record: mapstore.Record{UID: uint32(u.UIDNumber), GID: primaryGID[u.ID], TS: ts},
			})
		}
	}

	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].Username < snap.Users[j].Username })
	sort.Slice(snap.Groups, func(i, j int) bool { return snap.Groups[i].Name < snap.Groups[j].Name })

	b.sequence++
	snap.Sequence = b.sequence
	snap.GeneratedAt = b.now()
	snap.Freeze()
	return snap, allocations
}

// Seed imports persisted allocations into the allocators. Called once before
// the first build.
func (b *Builder) Seed(users, groups, synthetic map[string]mapstore.Record) error {
	var uidEntries, gidEntries []idalloc.Entry
	for id, rec := range users {
		uidEntries = append(uidEntries, idalloc.Entry{Key: "user:" + id, ID: int(rec.UID)})
	}
	for id, rec := range groups {
		gidEntries = append(gidEntries, idalloc.Entry{Key: "group:" + id, ID: int(rec.GID)})
	}
	for id, rec := range synthetic {
		gidEntries = append(gidEntries, idalloc.Entry{Key: "synthetic:" + id, ID: int(rec.GID)})
	}
	if err := b.uids.Import(uidEntries); err != nil {
		return err
	}
	return b.gids.Import(gidEntries)
}
