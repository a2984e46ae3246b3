package api

import (
	"net/http"
	"time"

	"github.com/funneldash/dashcore/internal/models"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	dash Dashboard
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(dash Dashboard) *HealthHandler {
	return &HealthHandler{dash: dash}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                            `json:"status"`
	Timestamp time.Time                         `json:"timestamp"`
	Channels  map[string]models.ConnectionState `json:"channels,omitempty"`
}

// Health handles GET /health (liveness check)
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	SendJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Ready handles GET /ready. The dashboard is ready when no realtime
// channel is configured or at least one is subscribed; otherwise it only
// serves refresh data.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	statuses := h.dash.Channels()
	states := make(map[string]models.ConnectionState, len(statuses))
	ready := len(statuses) == 0
	for _, st := range statuses {
		states[st.Name] = st.State
		if st.State == models.StateSubscribed {
			ready = true
		}
	}

	resp := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now(),
		Channels:  states,
	}
	if !ready {
		resp.Status = "degraded"
		SendJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	SendJSON(w, http.StatusOK, resp)
}
