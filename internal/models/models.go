// Package models holds the shared data definitions of the dashboard pipeline:
// domain events, metric snapshots, alerts, alert rules and raw change records.
package models

import (
	"time"
)

// EventType is the domain tag attached to a normalized Event
type EventType string

const (
	EventSessionStarted        EventType = "session-started"
	EventSessionCompleted      EventType = "session-completed"
	EventSessionAbandoned      EventType = "session-abandoned"
	EventUserRegistered        EventType = "user-registered"
	EventUserVerified          EventType = "user-verified"
	EventVerificationRequested EventType = "verification-requested"
	EventVerificationCompleted EventType = "verification-completed"
	EventSystemError           EventType = "system-error"
	EventConnectionError       EventType = "connection-error"

	// EventDataChanged is the fallback for change notifications no rule recognizes
	EventDataChanged EventType = "data-changed"
)

// Event is a normalized domain event. It is never mutated after creation.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// CounterKey names one of the fixed dashboard counters
type CounterKey string

const (
	CounterActiveSessions    CounterKey = "active-sessions"
	CounterCompletedSessions CounterKey = "completed-sessions"
	CounterActiveUsers       CounterKey = "active-users"
	CounterVerifications     CounterKey = "verification-count"
	CounterErrors            CounterKey = "error-count"
)

// AllCounters returns the fixed counter set in a stable order
func AllCounters() []CounterKey {
	return []CounterKey{
		CounterActiveSessions,
		CounterCompletedSessions,
		CounterActiveUsers,
		CounterVerifications,
		CounterErrors,
	}
}

// IsCounter reports whether key is one of the fixed counters
func IsCounter(key CounterKey) bool {
	for _, k := range AllCounters() {
		if k == key {
			return true
		}
	}
	return false
}

// MetricsSnapshot is a point-in-time view of all counters
type MetricsSnapshot struct {
	Counters    map[CounterKey]int64 `json:"counters"`
	LastUpdated time.Time            `json:"last_updated"`
}

// NewMetricsSnapshot returns a snapshot with every counter present and zero
func NewMetricsSnapshot(now time.Time) MetricsSnapshot {
	counters := make(map[CounterKey]int64, len(AllCounters()))
	for _, k := range AllCounters() {
		counters[k] = 0
	}
	return MetricsSnapshot{Counters: counters, LastUpdated: now}
}

// Value returns the counter value, zero when absent
func (m MetricsSnapshot) Value(key CounterKey) int64 {
	return m.Counters[key]
}

// Clone returns a deep copy so callers can never alias live counters
func (m MetricsSnapshot) Clone() MetricsSnapshot {
	counters := make(map[CounterKey]int64, len(m.Counters))
	for k, v := range m.Counters {
		counters[k] = v
	}
	return MetricsSnapshot{Counters: counters, LastUpdated: m.LastUpdated}
}
