package metrics

import "github.com/funneldash/dashcore/internal/models"

// Delta is a signed adjustment of one counter
type Delta struct {
	Key    models.CounterKey
	Amount int64
}

// deltaTable maps event types to the counter changes they cause
var deltaTable = map[models.EventType][]Delta{
	models.EventSessionStarted: {
		{Key: models.CounterActiveSessions, Amount: 1},
	},
	models.EventSessionCompleted: {
		{Key: models.CounterActiveSessions, Amount: -1},
		{Key: models.CounterCompletedSessions, Amount: 1},
	},
	models.EventSessionAbandoned: {
		{Key: models.CounterActiveSessions, Amount: -1},
	},
	models.EventUserRegistered: {
		{Key: models.CounterActiveUsers, Amount: 1},
	},
	models.EventVerificationCompleted: {
		{Key: models.CounterVerifications, Amount: 1},
	},
	models.EventSystemError: {
		{Key: models.CounterErrors, Amount: 1},
	},
	models.EventConnectionError: {
		{Key: models.CounterErrors, Amount: 1},
	},
}

// DeltasFor returns the counter changes caused by event; nil when the
// event does not affect any counter
func DeltasFor(event models.Event) []Delta {
	deltas := deltaTable[event.Type]
	if len(deltas) == 0 {
		return nil
	}
	out := make([]Delta, len(deltas))
	copy(out, deltas)
	return out
}
