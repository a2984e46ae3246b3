package normalizer

import (
	"fmt"

	"github.com/funneldash/dashcore/internal/models"
)

// Rule maps a change shape to an event type. Column and Value form an
// optional predicate: the new row must hold Value in Column and the old row,
// when present, must not. An empty Column matches any row.
type Rule struct {
	Table     string                 `json:"table" yaml:"table"`
	Operation models.ChangeOperation `json:"operation" yaml:"operation"`
	Column    string                 `json:"column,omitempty" yaml:"column,omitempty"`
	Value     string                 `json:"value,omitempty" yaml:"value,omitempty"`
	Type      models.EventType       `json:"type" yaml:"type"`
}

func (r Rule) matches(rec models.ChangeRecord) bool {
	if r.Table != rec.Table {
		return false
	}
	if r.Operation != models.OpAny && r.Operation != "" && r.Operation != rec.Operation {
		return false
	}
	if r.Column == "" {
		return true
	}

	row := rec.Row()
	if row == nil {
		return false
	}
	v, ok := row[r.Column]
	if !ok || !equalValue(v, r.Value) {
		return false
	}
	if rec.Operation == models.OpUpdate && rec.Old != nil {
		if prev, ok := rec.Old[r.Column]; ok && equalValue(prev, r.Value) {
			// Already held before this update
			return false
		}
	}
	return true
}

func equalValue(v any, want string) bool {
	if v == nil {
		return want == ""
	}
	return fmt.Sprint(v) == want
}

// DefaultRules returns the rule table for the funnel schema
func DefaultRules() []Rule {
	return []Rule{
		{Table: "diagnosis_sessions", Operation: models.OpInsert, Type: models.EventSessionStarted},
		{Table: "diagnosis_sessions", Operation: models.OpUpdate, Column: "status", Value: "completed", Type: models.EventSessionCompleted},
		{Table: "diagnosis_sessions", Operation: models.OpUpdate, Column: "status", Value: "abandoned", Type: models.EventSessionAbandoned},

		{Table: "users", Operation: models.OpInsert, Type: models.EventUserRegistered},
		{Table: "users", Operation: models.OpUpdate, Column: "is_verified", Value: "true", Type: models.EventUserVerified},

		{Table: "verifications", Operation: models.OpInsert, Type: models.EventVerificationRequested},
		{Table: "verifications", Operation: models.OpUpdate, Column: "status", Value: "verified", Type: models.EventVerificationCompleted},

		{Table: "error_logs", Operation: models.OpInsert, Type: models.EventSystemError},
	}
}
