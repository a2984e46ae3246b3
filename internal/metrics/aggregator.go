// Package metrics maintains the dashboard counters and their rolling
// history.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/funneldash/dashcore/internal/buffer"
	"github.com/funneldash/dashcore/internal/models"
	"github.com/funneldash/dashcore/internal/schedule"
	"github.com/funneldash/dashcore/internal/telemetry"
)

// DefaultHistoryCapacity is the number of prior snapshots kept for trends
const DefaultHistoryCapacity = 24

var (
	// ErrUnknownCounter is returned for keys outside the fixed counter set
	ErrUnknownCounter = errors.New("unknown counter")

	// ErrNoQuerier is returned by Refresh when no querier was configured
	ErrNoQuerier = errors.New("no refresh querier configured")
)

// RefreshQuerier runs aggregate count queries against the backing store
type RefreshQuerier interface {
	// Counts returns the authoritative value of each counter it knows,
	// counting activity since the given time
	Counts(ctx context.Context, since time.Time) (map[models.CounterKey]int64, error)
}

// Options configures an Aggregator
type Options struct {
	HistoryCapacity int

	// NoHistory disables the aggregator's own history, for callers that
	// record prior snapshots elsewhere
	NoHistory bool

	// RefreshWindow bounds the time window of refresh queries
	RefreshWindow time.Duration
}

// Aggregator owns the live MetricsSnapshot. All methods are safe for
// concurrent use.
type Aggregator struct {
	clock   schedule.Clock
	querier RefreshQuerier
	window  time.Duration
	metrics *telemetry.Metrics

	mu      sync.RWMutex
	current models.MetricsSnapshot
	history *buffer.Bounded[models.MetricsSnapshot]
}

// NewAggregator creates an Aggregator with every counter at zero. querier
// may be nil, in which case Refresh fails with ErrNoQuerier.
func NewAggregator(clock schedule.Clock, querier RefreshQuerier, opts Options, metrics *telemetry.Metrics) *Aggregator {
	if clock == nil {
		clock = schedule.RealClock{}
	}
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = DefaultHistoryCapacity
	}
	if opts.RefreshWindow <= 0 {
		opts.RefreshWindow = 24 * time.Hour
	}
	a := &Aggregator{
		clock:   clock,
		querier: querier,
		window:  opts.RefreshWindow,
		metrics: metrics,
		current: models.NewMetricsSnapshot(clock.Now()),
	}
	if !opts.NoHistory {
		a.history = buffer.New[models.MetricsSnapshot](opts.HistoryCapacity)
	}
	return a
}

// ApplyDelta adjusts one counter by delta, clamping at zero, and returns
// the new snapshot. The prior snapshot is appended to the history.
func (a *Aggregator) ApplyDelta(key models.CounterKey, delta int64) (models.MetricsSnapshot, error) {
	return a.Apply([]Delta{{Key: key, Amount: delta}})
}

// Apply adjusts several counters as a single step: one history entry is
// recorded for the whole batch. An empty batch changes nothing.
func (a *Aggregator) Apply(deltas []Delta) (models.MetricsSnapshot, error) {
	for _, d := range deltas {
		if !models.IsCounter(d.Key) {
			return a.Current(), fmt.Errorf("%w: %s", ErrUnknownCounter, d.Key)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(deltas) == 0 {
		return a.current.Clone(), nil
	}

	a.recordLocked()
	for _, d := range deltas {
		v := a.current.Counters[d.Key] + d.Amount
		if v < 0 {
			v = 0
		}
		a.current.Counters[d.Key] = v
	}
	a.current.LastUpdated = a.clock.Now()
	a.publishLocked()

	return a.current.Clone(), nil
}

// Current returns a copy of the live snapshot
func (a *Aggregator) Current() models.MetricsSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current.Clone()
}

func (a *Aggregator) recordLocked() {
	if a.history != nil {
		a.history.Add(a.current.Clone())
	}
}

// History returns the retained prior snapshots, oldest first
func (a *Aggregator) History() []models.MetricsSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.history == nil {
		return []models.MetricsSnapshot{}
	}
	hist := a.history.All()
	for i := range hist {
		hist[i] = hist[i].Clone()
	}
	return hist
}

// Trend returns the last n historical values of key, oldest first. Fewer
// are returned when the history is shorter.
func (a *Aggregator) Trend(key models.CounterKey, n int) []int64 {
	if n <= 0 || a.history == nil {
		return []int64{}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return Values(a.history.Recent(n), key)
}

// Average is the arithmetic mean of key over the retained history. It is
// zero when no history exists.
func (a *Aggregator) Average(key models.CounterKey) float64 {
	if a.history == nil {
		return 0
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return Mean(a.history.All(), key)
}

// Values extracts key from each snapshot, preserving order
func Values(hist []models.MetricsSnapshot, key models.CounterKey) []int64 {
	out := make([]int64, len(hist))
	for i, snap := range hist {
		out[i] = snap.Value(key)
	}
	return out
}

// Mean is the arithmetic mean of key over hist, zero for an empty slice
func Mean(hist []models.MetricsSnapshot, key models.CounterKey) float64 {
	if len(hist) == 0 {
		return 0
	}
	var sum int64
	for _, snap := range hist {
		sum += snap.Value(key)
	}
	return float64(sum) / float64(len(hist))
}

// Refresh queries the backing store and replaces every counter it returns.
// Counters the querier does not report keep their value.
func (a *Aggregator) Refresh(ctx context.Context) (models.MetricsSnapshot, error) {
	if a.querier == nil {
		return a.Current(), ErrNoQuerier
	}

	start := time.Now()
	counts, err := a.querier.Counts(ctx, a.clock.Now().Add(-a.window))
	a.metrics.RefreshObserved(time.Since(start), err)
	if err != nil {
		return a.Current(), fmt.Errorf("refresh counts: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.recordLocked()
	for key, v := range counts {
		if !models.IsCounter(key) {
			continue
		}
		if v < 0 {
			v = 0
		}
		a.current.Counters[key] = v
	}
	a.current.LastUpdated = a.clock.Now()
	a.publishLocked()

	return a.current.Clone(), nil
}

func (a *Aggregator) publishLocked() {
	for key, v := range a.current.Counters {
		a.metrics.CounterValue(string(key), v)
	}
}
