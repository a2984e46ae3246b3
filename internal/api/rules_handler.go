package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/funneldash/dashcore/internal/alerting"
	"github.com/funneldash/dashcore/internal/middleware"
	"github.com/funneldash/dashcore/internal/models"
	"github.com/go-chi/chi/v5"
)

// RulesHandler manages alert rules
type RulesHandler struct {
	dash   Dashboard
	logger *slog.Logger
}

// NewRulesHandler creates a new rules handler
func NewRulesHandler(dash Dashboard, logger *slog.Logger) *RulesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RulesHandler{dash: dash, logger: logger.With("component", "api")}
}

// RuleEnabledRequest toggles a rule
type RuleEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// List handles GET /api/v1/dashboard/rules
func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	rules := h.dash.Rules()
	SendListResponse(w, rules, len(rules))
}

// Create handles POST /api/v1/dashboard/rules
func (h *RulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	input, ok := DecodeJSON[models.AlertRule](w, r)
	if !ok {
		return
	}

	rule, err := h.dash.AddRule(input)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.logger.Info("alert rule saved", "rule", rule.String(), "user", middleware.Username(r.Context()))
	SendJSON(w, http.StatusCreated, rule)
}

// SetEnabled handles PATCH /api/v1/dashboard/rules/{id}
func (h *RulesHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	input, ok := DecodeJSON[RuleEnabledRequest](w, r)
	if !ok {
		return
	}
	if err := h.dash.SetRuleEnabled(id, input.Enabled); err != nil {
		h.handleError(w, r, err)
		return
	}

	for _, rule := range h.dash.Rules() {
		if rule.ID == id {
			SendJSON(w, http.StatusOK, rule)
			return
		}
	}
	SendError(w, r, http.StatusNotFound, "NOT_FOUND", "Rule not found", nil)
}

// Delete handles DELETE /api/v1/dashboard/rules/{id}
func (h *RulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.dash.RemoveRule(id); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.logger.Info("alert rule removed", "rule_id", id, "user", middleware.Username(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles POST /api/v1/dashboard/rules/{id}/clear, re-arming a
// triggered rule
func (h *RulesHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	SendJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"cleared": h.dash.ClearRule(id),
	})
}

func (h *RulesHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs *alerting.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		SendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid alert rule", verrs.Errors)
	case errors.Is(err, alerting.ErrRuleNotFound):
		SendError(w, r, http.StatusNotFound, "NOT_FOUND", "Rule not found", nil)
	case errors.Is(err, alerting.ErrBuiltinRule):
		SendError(w, r, http.StatusConflict, "BUILTIN_RULE", err.Error(), nil)
	default:
		h.logger.Error("rule request failed", "error", err)
		SendError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Rule request failed", nil)
	}
}
