package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledConstructorsReturnNil(t *testing.T) {
	// Before Init every constructor yields a nil set whose methods no-op.
	if IsEnabled() {
		t.Skip("registry already initialized by another test")
	}
	var ldap *LDAPMetrics
	assert.Nil(t, NewLDAPMetrics())
	assert.NotPanics(t, func() {
		ldap.RecordConnectionAccepted()
		ldap.RecordRequest("search", "success")
	})
}

func TestMetricSetsRegisterAndRecord(t *testing.T) {
	Init()
	require.True(t, IsEnabled())

	ldap := NewLDAPMetrics()
	alloc := NewAllocatorMetrics()
	refresh := NewRefreshMetrics()
	tokens := NewTokenMetrics()
	store := NewMapstoreMetrics()

	ldap.RecordConnectionAccepted()
	ldap.SetActiveConnections(1)
	ldap.RecordRequest("bind", "success")
	ldap.RecordConnectionClosed()
	alloc.RecordCollision("uid")
	alloc.RecordFallback("gid")
	alloc.SetSize("uid", 42)
	refresh.RecordRefresh("success", 120*time.Millisecond)
	refresh.SetSnapshotStats(7, 100, 20)
	refresh.RecordGroupTruncated()
	tokens.RecordTokenFetch("keycloak", true)
	store.RecordMapstoreOp("put", false)

	families, err := Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"ldaptoid_ldap_connections_total",
		"ldaptoid_ldap_connections_active",
		"ldaptoid_ldap_requests_total",
		"ldaptoid_idalloc_collisions_total",
		"ldaptoid_idalloc_size",
		"ldaptoid_refresh_total",
		"ldaptoid_refresh_duration_seconds",
		"ldaptoid_snapshot_sequence",
		"ldaptoid_group_truncated_total",
		"ldaptoid_token_fetch_total",
		"ldaptoid_mapstore_operations_total",
	} {
		assert.True(t, names[want], "missing metric family %s", want)
	}
}
