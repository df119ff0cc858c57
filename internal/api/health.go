package api

import (
	"net/http"

	"github.com/opencollections/lod-gateway/internal/api/respond"
)

// HealthHandler reports aggregated service health. The probe function is
// bound at wiring time to the service-level health checker.
type HealthHandler struct {
	healthy func() bool
}

func NewHealthHandler(healthy func() bool) *HealthHandler {
	if healthy == nil {
		healthy = func() bool { return true }
	}
	return &HealthHandler{healthy: healthy}
}

// CheckHealth GET /health
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	if !h.healthy() {
		respond.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
