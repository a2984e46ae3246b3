package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/funneldash/dashcore/internal/channels"
	"github.com/funneldash/dashcore/internal/dashboard"
	"github.com/funneldash/dashcore/internal/metrics"
	"github.com/funneldash/dashcore/internal/middleware"
	"github.com/funneldash/dashcore/internal/models"
	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
	defaultHours     = 24
	maxHours         = 24 * 7
)

// DashboardHandler serves the read side of the dashboard and the operator
// actions on alerts, refresh and channels
type DashboardHandler struct {
	dash           Dashboard
	logger         *slog.Logger
	refreshTimeout time.Duration
}

// NewDashboardHandler creates a handler. A zero refreshTimeout leaves the
// request context as the only bound.
func NewDashboardHandler(dash Dashboard, refreshTimeout time.Duration, logger *slog.Logger) *DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardHandler{
		dash:           dash,
		logger:         logger.With("component", "api"),
		refreshTimeout: refreshTimeout,
	}
}

// TrendResponse is returned by GET /metrics/trend
type TrendResponse struct {
	Key     models.CounterKey `json:"key"`
	Hours   int               `json:"hours"`
	Values  []int64           `json:"values"`
	Average float64           `json:"average"`
}

// Metrics handles GET /api/v1/dashboard/metrics
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	SendJSON(w, http.StatusOK, h.dash.GetCurrentMetrics())
}

// Trend handles GET /api/v1/dashboard/metrics/trend?key=&hours=
func (h *DashboardHandler) Trend(w http.ResponseWriter, r *http.Request) {
	key := models.CounterKey(r.URL.Query().Get("key"))
	hours, err := queryInt(r, "hours", defaultHours, maxHours)
	if err != nil {
		SendError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}

	values, err := h.dash.GetMetricsTrend(key, hours)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	avg, err := h.dash.GetMetricsAverage(key)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if values == nil {
		values = []int64{}
	}

	SendJSON(w, http.StatusOK, TrendResponse{
		Key:     key,
		Hours:   hours,
		Values:  values,
		Average: avg,
	})
}

// Events handles GET /api/v1/dashboard/events?limit=
func (h *DashboardHandler) Events(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit, maxListLimit)
	if err != nil {
		SendError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}
	events := h.dash.GetRecentEvents(limit)
	SendListResponse(w, events, len(events))
}

// Alerts handles GET /api/v1/dashboard/alerts?limit=&unresolved=
func (h *DashboardHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit, maxListLimit)
	if err != nil {
		SendError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}

	alerts := h.dash.GetRecentAlerts(limit)
	if r.URL.Query().Get("unresolved") == "true" {
		open := alerts[:0]
		for _, a := range alerts {
			if !a.Resolved {
				open = append(open, a)
			}
		}
		alerts = open
	}
	SendListResponse(w, alerts, len(alerts))
}

// Channels handles GET /api/v1/dashboard/channels
func (h *DashboardHandler) Channels(w http.ResponseWriter, r *http.Request) {
	statuses := h.dash.Channels()
	SendListResponse(w, statuses, len(statuses))
}

// State handles GET /api/v1/dashboard/state
func (h *DashboardHandler) State(w http.ResponseWriter, r *http.Request) {
	SendJSON(w, http.StatusOK, h.dash.State())
}

// ResolveAlert handles POST /api/v1/dashboard/alerts/{id}/resolve
func (h *DashboardHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	alert, err := h.dash.ResolveAlert(id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.logger.Info("alert resolved", "alert_id", id, "user", middleware.Username(r.Context()))
	SendJSON(w, http.StatusOK, alert)
}

// Refresh handles POST /api/v1/dashboard/refresh
func (h *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.refreshTimeout)
		defer cancel()
	}

	snap, err := h.dash.Refresh(ctx)
	if err != nil {
		SendError(w, r, http.StatusBadGateway, "REFRESH_FAILED", "Metrics refresh failed", err.Error())
		return
	}
	SendJSON(w, http.StatusOK, snap)
}

// ReconnectChannel handles POST /api/v1/dashboard/channels/{name}/reconnect
func (h *DashboardHandler) ReconnectChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.dash.Reconnect(name); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.logger.Info("channel reconnect requested", "channel", name, "user", middleware.Username(r.Context()))
	w.WriteHeader(http.StatusAccepted)
}

// handleError maps domain errors onto HTTP statuses
func (h *DashboardHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dashboard.ErrAlertNotFound):
		SendError(w, r, http.StatusNotFound, "NOT_FOUND", "Alert not found", nil)
	case errors.Is(err, channels.ErrChannelNotFound):
		SendError(w, r, http.StatusNotFound, "NOT_FOUND", "Channel not found", nil)
	case errors.Is(err, metrics.ErrUnknownCounter):
		SendError(w, r, http.StatusBadRequest, "UNKNOWN_METRIC", err.Error(), models.AllCounters())
	case errors.Is(err, channels.ErrManagerClosed):
		SendError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "Dashboard is shutting down", nil)
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		SendError(w, r, http.StatusConflict, "REQUEST_FAILED", err.Error(), nil)
	}
}
