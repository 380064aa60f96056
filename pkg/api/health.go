package api

import (
	"net/http"

	"github.com/ldaptoid/ldaptoid/internal/directory"
)

// Status is the refresh scheduler's health surface.
type Status interface {
	// Healthy reports liveness: false only after the refresh loop has
	// permanently halted.
	Healthy() bool

	// Ready reports whether a snapshot has been published.
	Ready() bool

	// Degraded reports whether the last mapping-store persistence failed.
	// Degraded service still serves traffic.
	Degraded() bool

	// Current returns the published snapshot, or nil before the first build.
	Current() *directory.Snapshot
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	status Status
}

// NewHealthHandler creates a health handler over the scheduler. A nil status
// reports unhealthy and not ready, which keeps probes sane during startup
// wiring.
func NewHealthHandler(status Status) *HealthHandler {
	return &HealthHandler{status: status}
}

// Liveness handles GET /healthz.
//
// Returns 200 as long as the refresh loop has not permanently halted. A
// failing refresh that is still retrying is alive; only MaxRetries
// consecutive failures flip this to 503 so the orchestrator restarts us.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	if h.status == nil || !h.status.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("refresh loop halted"))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "ldaptoid",
	}))
}

// readyData is the /readyz payload once a snapshot exists.
type readyData struct {
	Sequence uint64 `json:"sequence"`
	Users    int    `json:"users"`
	Groups   int    `json:"groups"`
	Degraded bool   `json:"degraded"`
}

// Readiness handles GET /readyz.
//
// Returns 503 until the first snapshot has been published. Degraded
// persistence is reported in the body but does not fail the probe: the
// directory is still fully servable from memory.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.status == nil || !h.status.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("no snapshot published"))
		return
	}

	snap := h.status.Current()
	writeJSON(w, http.StatusOK, healthyResponse(readyData{
		Sequence: snap.Sequence,
		Users:    len(snap.Users),
		Groups:   len(snap.Groups),
		Degraded: h.status.Degraded(),
	}))
}
