// Package dashboard composes the pipeline into a queryable dashboard: the
// Store holds bounded state behind action dispatch and the Service wires
// channels, normalizer, aggregator and alert engine into it.
package dashboard

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/funneldash/dashcore/internal/buffer"
	"github.com/funneldash/dashcore/internal/metrics"
	"github.com/funneldash/dashcore/internal/models"
	"github.com/funneldash/dashcore/internal/schedule"
	"github.com/funneldash/dashcore/internal/telemetry"
)

// Default capacities and housekeeping timings
const (
	DefaultEventCapacity   = 100
	DefaultAlertCapacity   = 50
	DefaultHistoryCapacity = 24
	DefaultRetention       = 5 * time.Minute
	DefaultSweepInterval   = 60 * time.Second
)

var (
	// ErrAlertNotFound is returned when resolving an unknown alert
	ErrAlertNotFound = errors.New("alert not found")

	// ErrDuplicateEvent is returned when an event ID is already buffered
	ErrDuplicateEvent = errors.New("duplicate event")
)

// StoreOptions configures capacities and retention
type StoreOptions struct {
	EventCapacity   int
	AlertCapacity   int
	HistoryCapacity int
	Retention       time.Duration
	SweepInterval   time.Duration
}

// DefaultStoreOptions returns 100 events, 50 alerts, 24 snapshots, 5m
// retention swept every 60s
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		EventCapacity:   DefaultEventCapacity,
		AlertCapacity:   DefaultAlertCapacity,
		HistoryCapacity: DefaultHistoryCapacity,
		Retention:       DefaultRetention,
		SweepInterval:   DefaultSweepInterval,
	}
}

func (o StoreOptions) withDefaults() StoreOptions {
	def := DefaultStoreOptions()
	if o.EventCapacity <= 0 {
		o.EventCapacity = def.EventCapacity
	}
	if o.AlertCapacity <= 0 {
		o.AlertCapacity = def.AlertCapacity
	}
	if o.HistoryCapacity <= 0 {
		o.HistoryCapacity = def.HistoryCapacity
	}
	if o.Retention <= 0 {
		o.Retention = def.Retention
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = def.SweepInterval
	}
	return o
}

// State is a copy of the store contents
type State struct {
	Connected      bool                              `json:"connected"`
	Refreshing     bool                              `json:"refreshing"`
	Events         []models.Event                    `json:"events"`
	Alerts         []models.Alert                    `json:"alerts"`
	Metrics        models.MetricsSnapshot            `json:"metrics"`
	MetricsHistory []models.MetricsSnapshot          `json:"metrics_history"`
	LastError      string                            `json:"last_error,omitempty"`
	LastRefresh    time.Time                         `json:"last_refresh,omitempty"`
	Channels       map[string]models.ConnectionState `json:"channels"`
}

// Store is the single writer of dashboard state. Dispatch is the only way
// to change it; queries return copies.
type Store struct {
	opts    StoreOptions
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu          sync.RWMutex
	connected   bool
	refreshing  bool
	events      *buffer.Bounded[models.Event]
	eventIDs    map[string]struct{}
	alerts      *buffer.Bounded[models.Alert]
	current     models.MetricsSnapshot
	history     *buffer.Bounded[models.MetricsSnapshot]
	lastError   string
	lastRefresh time.Time
	channels    map[string]models.ConnectionState
}

// NewStore creates an empty Store
func NewStore(opts StoreOptions, now time.Time, logger *slog.Logger, metrics *telemetry.Metrics) *Store {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		opts:     opts,
		logger:   logger.With("component", "store"),
		metrics:  metrics,
		events:   buffer.New[models.Event](opts.EventCapacity),
		eventIDs: make(map[string]struct{}, opts.EventCapacity),
		alerts:   buffer.New[models.Alert](opts.AlertCapacity),
		current:  models.NewMetricsSnapshot(now),
		history:  buffer.New[models.MetricsSnapshot](opts.HistoryCapacity),
		channels: make(map[string]models.ConnectionState),
	}
}

// Options returns the effective options
func (s *Store) Options() StoreOptions {
	return s.opts
}

// Dispatch applies one action
func (s *Store) Dispatch(action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch a := action.(type) {
	case Connect:
		s.connected = true

	case Disconnect:
		s.connected = false
		if a.Reason != "" {
			s.lastError = a.Reason
		}

	case EventReceived:
		if _, dup := s.eventIDs[a.Event.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateEvent, a.Event.ID)
		}
		if s.events.Len() >= s.events.Cap() {
			oldest := s.events.Recent(s.events.Len())[0]
			delete(s.eventIDs, oldest.ID)
		}
		evicted := s.events.Add(a.Event)
		s.eventIDs[a.Event.ID] = struct{}{}
		s.metrics.EventsEvicted("capacity", evicted)

	case MetricsUpdated:
		s.history.Add(s.current.Clone())
		s.current = a.Snapshot.Clone()

	case AlertRaised:
		s.alerts.Add(a.Alert)

	case AlertResolved:
		found := s.alerts.Update(
			func(al models.Alert) bool { return al.ID == a.ID },
			func(al models.Alert) models.Alert {
				al.Resolved = true
				return al
			},
		)
		if !found {
			return fmt.Errorf("%w: %s", ErrAlertNotFound, a.ID)
		}

	case RefreshStarted:
		s.refreshing = true

	case RefreshFinished:
		s.refreshing = false
		if a.Err != nil {
			s.lastError = a.Err.Error()
		} else {
			s.lastRefresh = a.At
		}

	case EventsSwept:
		removed := s.events.Retain(func(e models.Event) bool {
			return !e.Timestamp.Before(a.Cutoff)
		})
		if removed > 0 {
			s.rebuildEventIDsLocked()
			s.metrics.EventsEvicted("retention", removed)
			s.logger.Debug("swept expired events", "removed", removed, "cutoff", a.Cutoff)
		}

	case ChannelStateChanged:
		if a.Change.To == models.StateClosed {
			delete(s.channels, a.Change.Channel)
		} else {
			s.channels[a.Change.Channel] = a.Change.To
		}
		if a.Change.Error != "" {
			s.lastError = a.Change.Error
		}
		s.connected = s.anySubscribedLocked()

	default:
		return fmt.Errorf("unsupported action %T", action)
	}
	return nil
}

func (s *Store) rebuildEventIDsLocked() {
	s.eventIDs = make(map[string]struct{}, s.events.Len())
	for _, e := range s.events.All() {
		s.eventIDs[e.ID] = struct{}{}
	}
}

func (s *Store) anySubscribedLocked() bool {
	for _, st := range s.channels {
		if st == models.StateSubscribed {
			return true
		}
	}
	return false
}

// HasEvent reports whether an event with id is buffered
func (s *Store) HasEvent(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.eventIDs[id]
	return ok
}

// RecentEvents returns up to limit events, newest first. limit <= 0
// returns all.
func (s *Store) RecentEvents(limit int) []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.events.Recent(limit))
}

// RecentAlerts returns up to limit alerts, newest first. limit <= 0
// returns all.
func (s *Store) RecentAlerts(limit int) []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.alerts.Recent(limit))
}

// Alert looks up one alert by ID
func (s *Store) Alert(id string) (models.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alerts.Find(func(a models.Alert) bool { return a.ID == id })
}

// Trend returns the last n historical values of key, oldest first
func (s *Store) Trend(key models.CounterKey, n int) []int64 {
	if n <= 0 {
		return []int64{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return metrics.Values(s.history.Recent(n), key)
}

// Average is the mean of key over the retained history
func (s *Store) Average(key models.CounterKey) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return metrics.Mean(s.history.All(), key)
}

// Snapshot returns a copy of the whole state
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.history.All()
	for i := range history {
		history[i] = history[i].Clone()
	}
	channels := make(map[string]models.ConnectionState, len(s.channels))
	for k, v := range s.channels {
		channels[k] = v
	}

	return State{
		Connected:      s.connected,
		Refreshing:     s.refreshing,
		Events:         newestFirst(s.events.All()),
		Alerts:         newestFirst(s.alerts.All()),
		Metrics:        s.current.Clone(),
		MetricsHistory: history,
		LastError:      s.lastError,
		LastRefresh:    s.lastRefresh,
		Channels:       channels,
	}
}

// Degraded reports whether any known channel is not subscribed
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.channels {
		if st != models.StateSubscribed {
			return true
		}
	}
	return false
}

// ChannelNames returns the tracked channel names, sorted
func (s *Store) ChannelNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartHousekeeping sweeps events older than the retention window every
// sweep interval until the returned task is stopped.
func (s *Store) StartHousekeeping(clock schedule.Clock) *schedule.Periodic {
	return schedule.Every(clock, s.opts.SweepInterval, func() {
		_ = s.Dispatch(EventsSwept{Cutoff: clock.Now().Add(-s.opts.Retention)})
	})
}

func newestFirst[T any](items []T) []T {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items
}
