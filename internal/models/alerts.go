package models

import (
	"fmt"
	"time"
)

// Severity of an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Alert is raised by the alert engine or by explicit system-error reporting.
// Resolved may flip to true; nothing else changes after creation.
type Alert struct {
	ID        string         `json:"id"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Resolved  bool           `json:"resolved"`
	RuleID    string         `json:"rule_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Condition compares a counter against a rule threshold
type Condition string

const (
	ConditionGreaterThan Condition = "greater-than"
	ConditionLessThan    Condition = "less-than"
	ConditionEqual       Condition = "equal"
)

// Holds evaluates the condition for value against threshold
func (c Condition) Holds(value, threshold int64) bool {
	switch c {
	case ConditionGreaterThan:
		return value > threshold
	case ConditionLessThan:
		return value < threshold
	case ConditionEqual:
		return value == threshold
	}
	return false
}

// AlertRule is a threshold rule over one counter
type AlertRule struct {
	ID        string     `json:"id" yaml:"id" validate:"required,max=64"`
	MetricKey CounterKey `json:"metric_key" yaml:"metric_key" validate:"required,counter"`
	Condition Condition  `json:"condition" yaml:"condition" validate:"required,oneof=greater-than less-than equal"`
	Threshold int64      `json:"threshold" yaml:"threshold"`
	Message   string     `json:"message" yaml:"message" validate:"required,max=256"`
	Enabled   bool       `json:"enabled" yaml:"enabled"`
	Severity  Severity   `json:"severity,omitempty" yaml:"severity,omitempty" validate:"omitempty,oneof=info warning error critical"`
}

// String returns a compact description for logging
func (r AlertRule) String() string {
	return fmt.Sprintf("AlertRule{ID: %s, %s %s %d, Enabled: %t}",
		r.ID, r.MetricKey, r.Condition, r.Threshold, r.Enabled)
}
