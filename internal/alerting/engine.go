// Package alerting evaluates threshold rules against metric snapshots and
// turns error events into alerts.
//
// Rule evaluation is edge-triggered: a rule raises one alert when its
// condition becomes true and stays silent until the condition turns false
// again or the rule is explicitly cleared. Resolving an alert does not
// clear its rule.
package alerting

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/funneldash/dashcore/internal/models"
	"github.com/funneldash/dashcore/internal/schedule"
	"github.com/funneldash/dashcore/internal/telemetry"
	"github.com/google/uuid"
)

var (
	// ErrRuleNotFound is returned for unknown rule IDs
	ErrRuleNotFound = errors.New("alert rule not found")

	// ErrBuiltinRule is returned when a built-in rule would be replaced or
	// removed
	ErrBuiltinRule = errors.New("built-in alert rules cannot be replaced or removed")
)

// DefaultRules returns the built-in error-count thresholds
func DefaultRules(warning, critical int64) []models.AlertRule {
	return []models.AlertRule{
		{
			ID:        "builtin-error-count-warning",
			MetricKey: models.CounterErrors,
			Condition: models.ConditionGreaterThan,
			Threshold: warning,
			Message:   fmt.Sprintf("Error count exceeded %d", warning),
			Enabled:   true,
			Severity:  models.SeverityWarning,
		},
		{
			ID:        "builtin-error-count-critical",
			MetricKey: models.CounterErrors,
			Condition: models.ConditionGreaterThan,
			Threshold: critical,
			Message:   fmt.Sprintf("Error count exceeded %d", critical),
			Enabled:   true,
			Severity:  models.SeverityCritical,
		},
	}
}

// Engine holds the rule set and the triggered set
type Engine struct {
	clock   schedule.Clock
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu        sync.Mutex
	rules     map[string]models.AlertRule
	order     []string
	builtin   map[string]bool
	triggered map[string]bool
}

// NewEngine creates an Engine seeded with the given built-in rules
func NewEngine(clock schedule.Clock, builtin []models.AlertRule, logger *slog.Logger, metrics *telemetry.Metrics) (*Engine, error) {
	if clock == nil {
		clock = schedule.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		clock:     clock,
		logger:    logger.With("component", "alerting"),
		metrics:   metrics,
		rules:     make(map[string]models.AlertRule),
		builtin:   make(map[string]bool),
		triggered: make(map[string]bool),
	}

	for _, r := range builtin {
		r = withDefaults(r)
		if err := ValidateRule(r); err != nil {
			return nil, fmt.Errorf("built-in rule %q: %w", r.ID, err)
		}
		if e.builtin[r.ID] {
			return nil, fmt.Errorf("duplicate built-in rule %q", r.ID)
		}
		e.builtin[r.ID] = true
		e.rules[r.ID] = r
		e.order = append(e.order, r.ID)
	}
	return e, nil
}

func withDefaults(r models.AlertRule) models.AlertRule {
	if r.Severity == "" {
		r.Severity = models.SeverityWarning
	}
	return r
}

// AddRule validates and registers a user rule. A rule with an existing ID
// replaces the previous one and starts untriggered.
func (e *Engine) AddRule(rule models.AlertRule) (models.AlertRule, error) {
	rule = withDefaults(rule)
	if err := ValidateRule(rule); err != nil {
		return models.AlertRule{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.builtin[rule.ID] {
		return models.AlertRule{}, fmt.Errorf("%w: %s", ErrBuiltinRule, rule.ID)
	}
	if _, exists := e.rules[rule.ID]; !exists {
		e.order = append(e.order, rule.ID)
	}
	e.rules[rule.ID] = rule
	delete(e.triggered, rule.ID)

	e.logger.Info("alert rule added", "rule", rule.String())
	return rule, nil
}

// RemoveRule deletes a user rule
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.builtin[id] {
		return fmt.Errorf("%w: %s", ErrBuiltinRule, id)
	}
	if _, ok := e.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(e.rules, id)
	delete(e.triggered, id)
	for i, other := range e.order {
		if other == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}

	e.logger.Info("alert rule removed", "rule_id", id)
	return nil
}

// SetEnabled toggles any rule, built-in ones included. Disabling a rule
// clears its triggered state.
func (e *Engine) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	rule.Enabled = enabled
	e.rules[id] = rule
	if !enabled {
		delete(e.triggered, id)
	}
	return nil
}

// Rules returns every rule, built-in rules first, in registration order
func (e *Engine) Rules() []models.AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.AlertRule, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.rules[id])
	}
	return out
}

// IsBuiltin reports whether id names a built-in rule
func (e *Engine) IsBuiltin(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.builtin[id]
}

// Evaluate checks every enabled rule against snapshot and returns the
// alerts for rules that just became true.
func (e *Engine) Evaluate(snapshot models.MetricsSnapshot) []models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var raised []models.Alert
	for _, id := range e.order {
		rule := e.rules[id]
		if !rule.Enabled {
			continue
		}

		value := snapshot.Value(rule.MetricKey)
		if !rule.Condition.Holds(value, rule.Threshold) {
			delete(e.triggered, id)
			continue
		}
		if e.triggered[id] {
			continue
		}
		e.triggered[id] = true

		alert := models.Alert{
			ID:        uuid.NewString(),
			Severity:  rule.Severity,
			Message:   rule.Message,
			Timestamp: e.clock.Now(),
			RuleID:    rule.ID,
			Metadata: map[string]any{
				"metric_key": string(rule.MetricKey),
				"condition":  string(rule.Condition),
				"threshold":  rule.Threshold,
				"value":      value,
			},
		}
		e.metrics.AlertRaised(string(alert.Severity))
		e.logger.Warn("alert rule triggered",
			"rule_id", rule.ID,
			"metric_key", rule.MetricKey,
			"value", value,
			"threshold", rule.Threshold,
		)
		raised = append(raised, alert)
	}
	return raised
}

// Clear removes ruleID from the triggered set so it can fire again on the
// next evaluation. It reports whether the rule was triggered.
func (e *Engine) Clear(ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.triggered[ruleID] {
		return false
	}
	delete(e.triggered, ruleID)
	return true
}

// Triggered returns the IDs of currently triggered rules in rule order
func (e *Engine) Triggered() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []string
	for _, id := range e.order {
		if e.triggered[id] {
			out = append(out, id)
		}
	}
	return out
}

// ForEvent returns the alert an event raises on its own, or nil
func (e *Engine) ForEvent(event models.Event) *models.Alert {
	var message string
	switch event.Type {
	case models.EventSystemError:
		message = "System error reported"
		if m, ok := event.Data["message"].(string); ok && m != "" {
			message = m
		}
	case models.EventConnectionError:
		message = "Realtime connection lost"
		if ch, ok := event.Data["channel"].(string); ok && ch != "" {
			message = fmt.Sprintf("Realtime channel %s failed after retries", ch)
		}
	default:
		return nil
	}

	metadata := map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	}
	if event.SessionID != "" {
		metadata["session_id"] = event.SessionID
	}
	if event.UserID != "" {
		metadata["user_id"] = event.UserID
	}
	if errText, ok := event.Data["error"]; ok {
		metadata["error"] = errText
	}

	alert := e.newAlert(models.SeverityError, message, metadata)
	return &alert
}

// SystemError builds an alert for an error reported outside the rule set.
// An invalid severity falls back to error.
func (e *Engine) SystemError(err error, metadata map[string]any, severity models.Severity) models.Alert {
	if !severity.Valid() {
		severity = models.SeverityError
	}
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}

	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return e.newAlert(severity, message, md)
}

func (e *Engine) newAlert(severity models.Severity, message string, metadata map[string]any) models.Alert {
	e.metrics.AlertRaised(string(severity))
	return models.Alert{
		ID:        uuid.NewString(),
		Severity:  severity,
		Message:   message,
		Timestamp: e.clock.Now(),
		Metadata:  metadata,
	}
}
