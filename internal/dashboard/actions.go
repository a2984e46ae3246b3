package dashboard

import (
	"time"

	"github.com/funneldash/dashcore/internal/models"
)

// Action is a state transition request for the Store. The set is closed:
// only the types in this file implement it.
type Action interface {
	actionName() string
}

// Connect marks the dashboard as live
type Connect struct{}

// Disconnect marks the dashboard as offline
type Disconnect struct {
	Reason string
}

// EventReceived appends an event to the bounded event buffer
type EventReceived struct {
	Event models.Event
}

// MetricsUpdated replaces the current snapshot and records history
type MetricsUpdated struct {
	Snapshot models.MetricsSnapshot
}

// AlertRaised appends an alert to the bounded alert buffer
type AlertRaised struct {
	Alert models.Alert
}

// AlertResolved flips the resolved flag of one alert
type AlertResolved struct {
	ID string
}

// RefreshStarted marks a fallback refresh as in flight
type RefreshStarted struct{}

// RefreshFinished ends a refresh; Err is nil on success
type RefreshFinished struct {
	At  time.Time
	Err error
}

// EventsSwept drops events with a timestamp before Cutoff
type EventsSwept struct {
	Cutoff time.Time
}

// ChannelStateChanged records the state of one realtime channel
type ChannelStateChanged struct {
	Change models.StateChange
}

func (Connect) actionName() string             { return "connect" }
func (Disconnect) actionName() string          { return "disconnect" }
func (EventReceived) actionName() string       { return "event-received" }
func (MetricsUpdated) actionName() string      { return "metrics-updated" }
func (AlertRaised) actionName() string         { return "alert-raised" }
func (AlertResolved) actionName() string       { return "alert-resolved" }
func (RefreshStarted) actionName() string      { return "refresh-started" }
func (RefreshFinished) actionName() string     { return "refresh-finished" }
func (EventsSwept) actionName() string         { return "events-swept" }
func (ChannelStateChanged) actionName() string { return "channel-state-changed" }

// ActionName returns the wire name of an action, for logging
func ActionName(a Action) string {
	return a.actionName()
}
