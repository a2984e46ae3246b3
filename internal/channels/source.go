package channels

import (
	"context"
	"errors"
	"time"

	"github.com/funneldash/dashcore/internal/models"
)

var (
	// ErrManagerClosed is returned by operations on a closed Manager
	ErrManagerClosed = errors.New("channel manager closed")

	// ErrChannelNotFound is returned for unknown channel names
	ErrChannelNotFound = errors.New("channel not found")

	// ErrStreamClosed is reported when a source ends a stream on its own
	ErrStreamClosed = errors.New("change stream closed by source")
)

// ChangeSource opens filtered change-notification streams
type ChangeSource interface {
	Subscribe(ctx context.Context, filter models.TopicFilter) (Stream, error)
}

// Stream is one open subscription. Records arrive in commit order. A value
// on Errors, or Records being closed, ends the stream.
type Stream interface {
	Records() <-chan models.ChangeRecord
	Errors() <-chan error
	Close() error
}

// Handlers receives the output of a Manager
type Handlers struct {
	// Deliver is called for every record, in arrival order per channel
	Deliver func(channel string, rec models.ChangeRecord)

	// OnStateChange is called for every state transition, in order
	OnStateChange func(change models.StateChange)
}

// ChannelStatus is a point-in-time view of one channel
type ChannelStatus struct {
	Name        string                 `json:"name"`
	Filter      models.TopicFilter     `json:"filter"`
	State       models.ConnectionState `json:"state"`
	Retries     int                    `json:"retries"`
	Leases      int                    `json:"leases"`
	LastError   string                 `json:"last_error,omitempty"`
	ConnectedAt *time.Time             `json:"connected_at,omitempty"`
}

// AllStates lists every state, used for exclusive state gauges
func AllStates() []string {
	return []string{
		string(models.StateIdle),
		string(models.StateConnecting),
		string(models.StateSubscribed),
		string(models.StateError),
		string(models.StateFailed),
		string(models.StateClosed),
	}
}
