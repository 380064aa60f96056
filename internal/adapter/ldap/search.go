package ldap

import (
	"context"
	"strings"
	"time"

	"github.com/ldaptoid/ldaptoid/internal/directory"
	"github.com/ldaptoid/ldaptoid/internal/protocol/ber"
)

// VendorName is reported in the RootDSE.
const VendorName = "ldaptoid"

// search executes one SearchRequest: a burst of SearchResultEntry PDUs
// followed by exactly one SearchResultDone. The snapshot reference is read
// once up front; a concurrent publication never tears a response.
func (c *connection) search(ctx context.Context, msg *ber.Message, req *ber.SearchRequest) ber.ResultCode {
	paged, pagedErr := pagedControl(msg.Controls)
	var doneControls []ber.Control
	if paged {
		doneControls = []ber.Control{ber.PagedResultsAck()}
	}

	done := func(code ber.ResultCode, diagnostic string) ber.ResultCode {
		if !c.write(ber.EncodeSearchResultDone(msg.ID, code, diagnostic, doneControls)) {
			c.state = stateClosing
		}
		return code
	}

	if pagedErr != "" {
		return done(ber.ResultUnwillingToPerform, pagedErr)
	}
	if hasExtensible(req.Filter) {
		return done(ber.ResultUnwillingToPerform, "extensible match filters are not supported")
	}

	snap := c.adapter.snapshots.Current()
	if snap == nil {
		return done(ber.ResultUnavailable, "no directory snapshot available yet")
	}

	limit := c.adapter.cfg.SizeLimit
	if req.SizeLimit > 0 && int(req.SizeLimit) < limit {
		limit = int(req.SizeLimit)
	}
	timeLimit := DefaultTimeLimit
	if req.TimeLimit > 0 {
		timeLimit = time.Duration(req.TimeLimit) * time.Second
	}
	deadline := c.adapter.now().Add(timeLimit)

	sent := 0
	code := ber.ResultSuccess
	diagnostic := ""
	for _, entry := range c.candidates(snap, req) {
		select {
		case <-ctx.Done():
			c.state = stateClosing
			return ber.ResultUnavailable
		default:
		}
		if c.adapter.now().After(deadline) {
			code = ber.ResultTimeLimitExceeded
			diagnostic = "time limit exceeded"
			break
		}
		if !directory.Evaluate(req.Filter, entry) {
			continue
		}
		if sent >= limit {
			code = ber.ResultSizeLimitExceeded
			diagnostic = "size limit exceeded"
			break
		}
		attrs := entry.Project(req.Attributes, req.TypesOnly)
		wire := make([]ber.Attribute, len(attrs))
		for i, a := range attrs {
			wire[i] = ber.Attribute{Name: a.Name, Values: a.Values}
		}
		if !c.write(ber.EncodeSearchResultEntry(msg.ID, entry.DN, wire)) {
			c.state = stateClosing
			return ber.ResultUnavailable
		}
		sent++
	}
	return done(code, diagnostic)
}

// candidates enumerates the entries a request's base and scope select, in the
// observable order: base entry, OUs, users ascending by uid, groups ascending
// by cn. Snapshot slices are already sorted.
func (c *connection) candidates(snap *directory.Snapshot, req *ber.SearchRequest) []*directory.Entry {
	layout := c.adapter.layout
	base := directory.NormalizeDN(req.BaseObject)

	if base == "" {
		if req.Scope == ber.ScopeBaseObject {
			return []*directory.Entry{directory.RootDSEEntry(layout, VendorName, c.adapter.cfg.VendorVersion)}
		}
		return nil
	}
	if !layout.Contains(req.BaseObject) {
		return nil
	}

	var out []*directory.Entry
	usersOU := func() *directory.Entry {
		return directory.OUEntry(layout.UsersOU(), "users", "projected user accounts")
	}
	groupsOU := func() *directory.Entry {
		return directory.OUEntry(layout.GroupsOU(), "groups", "projected groups")
	}
	allUsers := func() {
		for i := range snap.Users {
			out = append(out, directory.UserEntry(&snap.Users[i], snap, layout))
		}
	}
	allGroups := func() {
		for i := range snap.Groups {
			out = append(out, directory.GroupEntry(&snap.Groups[i], snap, layout))
		}
	}

	switch {
	case directory.EqualDN(base, layout.Suffix):
		switch req.Scope {
		case ber.ScopeBaseObject:
			out = append(out, directory.BaseEntry(layout))
		case ber.ScopeSingleLevel:
			out = append(out, usersOU(), groupsOU())
		default:
			out = append(out, directory.BaseEntry(layout), usersOU(), groupsOU())
			allUsers()
			allGroups()
		}

	case directory.EqualDN(base, layout.UsersOU()):
		switch req.Scope {
		case ber.ScopeBaseObject:
			out = append(out, usersOU())
		case ber.ScopeSingleLevel:
			allUsers()
		default:
			out = append(out, usersOU())
			allUsers()
		}

	case directory.EqualDN(base, layout.GroupsOU()):
		switch req.Scope {
		case ber.ScopeBaseObject:
			out = append(out, groupsOU())
		case ber.ScopeSingleLevel:
			allGroups()
		default:
			out = append(out, groupsOU())
			allGroups()
		}

	default:
		// A leaf below one of the OUs. Single-level under a leaf selects
		// nothing; base and subtree select the leaf itself.
		if req.Scope == ber.ScopeSingleLevel {
			return nil
		}
		// DN comparison is case-insensitive; snapshot names are always
		// lowercase after posixification, so fold before the lookup.
		if username, ok := directory.RDNValue(req.BaseObject, "uid"); ok && layout.Contains(req.BaseObject) {
			if u := snap.UserByName(strings.ToLower(username)); u != nil && directory.EqualDN(base, layout.UserDN(u.Username)) {
				out = append(out, directory.UserEntry(u, snap, layout))
			}
		}
		if name, ok := directory.RDNValue(req.BaseObject, "cn"); ok {
			if g := snap.GroupByName(strings.ToLower(name)); g != nil && directory.EqualDN(base, layout.GroupDN(g.Name)) {
				out = append(out, directory.GroupEntry(g, snap, layout))
			}
		}
	}
	return out
}

// pagedControl reports whether the request carries the Simple Paged Results
// control. The server acknowledges the control without actually paging, so a
// resumption cookie from a previous exchange cannot be honored.
func pagedControl(controls []ber.Control) (present bool, errDiagnostic string) {
	for _, ctrl := range controls {
		if ctrl.OID != ber.OIDPagedResults {
			continue
		}
		value, err := ber.DecodePagedResultsValue(ctrl.Value)
		if err != nil {
			return true, "malformed paged results control"
		}
		if len(value.Cookie) > 0 {
			return true, "paged results cookies are not supported"
		}
		return true, ""
	}
	return false, ""
}

func hasExtensible(f ber.Filter) bool {
	if f.Type == ber.FilterExtensible {
		return true
	}
	for _, sub := range f.Children {
		if hasExtensible(sub) {
			return true
		}
	}
	return false
}
