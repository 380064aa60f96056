package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldaptoid/ldaptoid/internal/directory"
)

type fakeStatus struct {
	healthy  bool
	ready    bool
	degraded bool
	snap     *directory.Snapshot
}

func (f *fakeStatus) Healthy() bool                { return f.healthy }
func (f *fakeStatus) Ready() bool                  { return f.ready }
func (f *fakeStatus) Degraded() bool               { return f.degraded }
func (f *fakeStatus) Current() *directory.Snapshot { return f.snap }

func doRequest(t *testing.T, status Status, path string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	NewRouter(status).ServeHTTP(rec, req)

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestLivenessHealthy(t *testing.T) {
	rec, body := doRequest(t, &fakeStatus{healthy: true}, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body.Status)
}

func TestLivenessHalted(t *testing.T) {
	rec, body := doRequest(t, &fakeStatus{healthy: false}, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Contains(t, body.Error, "halted")
}

func TestReadinessBeforeFirstSnapshot(t *testing.T) {
	rec, body := doRequest(t, &fakeStatus{healthy: true}, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body.Error, "no snapshot")
}

func TestReadinessReportsSnapshotStats(t *testing.T) {
	snap := &directory.Snapshot{
		Sequence: 7,
		Users:    make([]directory.User, 3),
		Groups:   make([]directory.Group, 2),
	}
	rec, body := doRequest(t, &fakeStatus{healthy: true, ready: true, snap: snap}, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	data, err := json.Marshal(body.Data)
	require.NoError(t, err)
	var ready readyData
	require.NoError(t, json.Unmarshal(data, &ready))
	assert.Equal(t, uint64(7), ready.Sequence)
	assert.Equal(t, 3, ready.Users)
	assert.Equal(t, 2, ready.Groups)
	assert.False(t, ready.Degraded)
}

func TestReadinessDegradedStillReady(t *testing.T) {
	snap := &directory.Snapshot{Sequence: 1}
	rec, body := doRequest(t, &fakeStatus{healthy: true, ready: true, degraded: true, snap: snap}, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	data, err := json.Marshal(body.Data)
	require.NoError(t, err)
	var ready readyData
	require.NoError(t, json.Unmarshal(data, &ready))
	assert.True(t, ready.Degraded)
}

func TestNilStatusUnhealthy(t *testing.T) {
	rec, _ := doRequest(t, nil, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
