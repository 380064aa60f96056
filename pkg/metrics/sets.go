package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LDAPMetrics implements the LDAP adapter's recorder.
type LDAPMetrics struct {
	connectionsTotal  prometheus.Counter
	connectionsClosed prometheus.Counter
	connectionsActive prometheus.Gauge
	requestsTotal     *prometheus.CounterVec
}

// NewLDAPMetrics returns the LDAP metric set, or nil when metrics are
// disabled (nil receivers are no-ops, zero overhead).
func NewLDAPMetrics() *LDAPMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := Registry()
	return &LDAPMetrics{
		connectionsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ldaptoid_ldap_connections_total",
			Help: "Total accepted LDAP connections",
		}),
		connectionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ldaptoid_ldap_connections_closed_total",
			Help: "Total closed LDAP connections",
		}),
		connectionsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ldaptoid_ldap_connections_active",
			Help: "Currently active LDAP connections",
		}),
		requestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ldaptoid_ldap_requests_total",
			Help: "LDAP requests by operation and result code",
		}, []string{"op", "code"}),
	}
}

func (m *LDAPMetrics) RecordConnectionAccepted() {
	if m != nil {
		m.connectionsTotal.Inc()
	}
}

func (m *LDAPMetrics) RecordConnectionClosed() {
	if m != nil {
		m.connectionsClosed.Inc()
	}
}

func (m *LDAPMetrics) SetActiveConnections(count int32) {
	if m != nil {
		m.connectionsActive.Set(float64(count))
	}
}

func (m *LDAPMetrics) RecordRequest(op, code string) {
	if m != nil {
		m.requestsTotal.WithLabelValues(op, code).Inc()
	}
}

// AllocatorMetrics implements the ID allocator's recorder.
type AllocatorMetrics struct {
	collisions *prometheus.CounterVec
	fallbacks  *prometheus.CounterVec
	size       *prometheus.GaugeVec
}

func NewAllocatorMetrics() *AllocatorMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := Registry()
	return &AllocatorMetrics{
		collisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ldaptoid_idalloc_collisions_total",
			Help: "Hash collisions during id allocation, by number space",
		}, []string{"space"}),
		fallbacks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ldaptoid_idalloc_fallbacks_total",
			Help: "Sequential fallback allocations, by number space",
		}, []string{"space"}),
		size: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "ldaptoid_idalloc_size",
			Help: "Allocated ids per number space",
		}, []string{"space"}),
	}
}

func (m *AllocatorMetrics) RecordCollision(space string) {
	if m != nil {
		m.collisions.WithLabelValues(space).Inc()
	}
}

func (m *AllocatorMetrics) RecordFallback(space string) {
	if m != nil {
		m.fallbacks.WithLabelValues(space).Inc()
	}
}

func (m *AllocatorMetrics) SetSize(space string, size int) {
	if m != nil {
		m.size.WithLabelValues(space).Set(float64(size))
	}
}

// RefreshMetrics implements both the snapshot builder's and the scheduler's
// recorders.
type RefreshMetrics struct {
	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	sequence        prometheus.Gauge
	users           prometheus.Gauge
	groups          prometheus.Gauge
	groupTruncated  prometheus.Counter
}

func NewRefreshMetrics() *RefreshMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := Registry()
	return &RefreshMetrics{
		refreshTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ldaptoid_refresh_total",
			Help: "Snapshot refresh attempts by result",
		}, []string{"result"}),
		refreshDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "ldaptoid_refresh_duration_seconds",
			Help:    "Duration of snapshot refreshes",
			Buckets: prometheus.DefBuckets,
		}),
		sequence: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ldaptoid_snapshot_sequence",
			Help: "Sequence number of the published snapshot",
		}),
		users: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ldaptoid_snapshot_users",
			Help: "Users in the published snapshot",
		}),
		groups: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ldaptoid_snapshot_groups",
			Help: "Groups in the published snapshot",
		}),
		groupTruncated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ldaptoid_group_truncated_total",
			Help: "Groups whose membership list was clipped at the cap",
		}),
	}
}

func (m *RefreshMetrics) RecordRefresh(result string, took time.Duration) {
	if m != nil {
		m.refreshTotal.WithLabelValues(result).Inc()
		m.refreshDuration.Observe(took.Seconds())
	}
}

func (m *RefreshMetrics) SetSnapshotStats(sequence uint64, users, groups int) {
	if m != nil {
		m.sequence.Set(float64(sequence))
		m.users.Set(float64(users))
		m.groups.Set(float64(groups))
	}
}

func (m *RefreshMetrics) RecordGroupTruncated() {
	if m != nil {
		m.groupTruncated.Inc()
	}
}

// TokenMetrics implements the token cache's recorder.
type TokenMetrics struct {
	fetchTotal *prometheus.CounterVec
}

func NewTokenMetrics() *TokenMetrics {
	if !IsEnabled() {
		return nil
	}
	return &TokenMetrics{
		fetchTotal: promauto.With(Registry()).NewCounterVec(prometheus.CounterOpts{
			Name: "ldaptoid_token_fetch_total",
			Help: "OAuth2 token fetches by IdP and result",
		}, []string{"idp", "result"}),
	}
}

func (m *TokenMetrics) RecordTokenFetch(idp string, ok bool) {
	if m != nil {
		m.fetchTotal.WithLabelValues(idp, outcome(ok)).Inc()
	}
}

// MapstoreMetrics implements the mapping store's recorder.
type MapstoreMetrics struct {
	operationsTotal *prometheus.CounterVec
}

func NewMapstoreMetrics() *MapstoreMetrics {
	if !IsEnabled() {
		return nil
	}
	return &MapstoreMetrics{
		operationsTotal: promauto.With(Registry()).NewCounterVec(prometheus.CounterOpts{
			Name: "ldaptoid_mapstore_operations_total",
			Help: "Mapping store operations by operation and result",
		}, []string{"op", "result"}),
	}
}

func (m *MapstoreMetrics) RecordMapstoreOp(op string, ok bool) {
	if m != nil {
		m.operationsTotal.WithLabelValues(op, outcome(ok)).Inc()
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
