package metrics

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/funneldash/dashcore/internal/models"
	"github.com/funneldash/dashcore/internal/schedule"
	"github.com/funneldash/dashcore/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeQuerier returns canned counts
type fakeQuerier struct {
	counts map[models.CounterKey]int64
	err    error
	since  time.Time
	calls  int
}

func (f *fakeQuerier) Counts(ctx context.Context, since time.Time) (map[models.CounterKey]int64, error) {
	f.calls++
	f.since = since
	if f.err != nil {
		return nil, f.err
	}
	return f.counts, nil
}

func TestApplyDelta_Example(t *testing.T) {
	clock := schedule.NewFakeClock(start)
	agg := NewAggregator(clock, nil, Options{}, nil)

	for _, d := range []int64{1, 1, -1} {
		clock.Advance(time.Second)
		_, err := agg.ApplyDelta(models.CounterActiveSessions, d)
		require.NoError(t, err)
	}

	snap := agg.Current()
	assert.Equal(t, int64(1), snap.Value(models.CounterActiveSessions))
	assert.Equal(t, start.Add(3*time.Second), snap.LastUpdated)
	assert.Len(t, agg.History(), 3)
	assert.Equal(t, []int64{0, 1, 2}, agg.Trend(models.CounterActiveSessions, 10))
}

func TestApplyDelta_NeverNegative(t *testing.T) {
	agg := NewAggregator(schedule.NewFakeClock(start), nil, Options{}, nil)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		key := models.AllCounters()[rng.Intn(len(models.AllCounters()))]
		snap, err := agg.ApplyDelta(key, int64(rng.Intn(11)-6))
		require.NoError(t, err)
		for k, v := range snap.Counters {
			require.GreaterOrEqual(t, v, int64(0), "counter %s went negative", k)
		}
	}
	assert.Len(t, agg.History(), DefaultHistoryCapacity)
}

func TestApplyDelta_UnknownCounter(t *testing.T) {
	agg := NewAggregator(schedule.NewFakeClock(start), nil, Options{}, nil)
	_, err := agg.ApplyDelta("page-views", 1)
	assert.ErrorIs(t, err, ErrUnknownCounter)
	assert.Empty(t, agg.History())
}

func TestApply_BatchRecordsOneHistoryEntry(t *testing.T) {
	agg := NewAggregator(schedule.NewFakeClock(start), nil, Options{}, nil)
	_, _ = agg.ApplyDelta(models.CounterActiveSessions, 2)

	snap, err := agg.Apply(DeltasFor(models.Event{Type: models.EventSessionCompleted}))
	require.NoError(t, err)

	assert.Equal(t, int64(1), snap.Value(models.CounterActiveSessions))
	assert.Equal(t, int64(1), snap.Value(models.CounterCompletedSessions))
	assert.Len(t, agg.History(), 2)
}

func TestAggregator_NoHistory(t *testing.T) {
	agg := NewAggregator(schedule.NewFakeClock(start), &fakeQuerier{counts: map[models.CounterKey]int64{models.CounterErrors: 4}}, Options{NoHistory: true}, nil)

	_, err := agg.ApplyDelta(models.CounterActiveSessions, 1)
	require.NoError(t, err)
	_, err = agg.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), agg.Current().Value(models.CounterActiveSessions))
	assert.Equal(t, int64(4), agg.Current().Value(models.CounterErrors))
	assert.Empty(t, agg.History())
	assert.Empty(t, agg.Trend(models.CounterActiveSessions, 5))
	assert.Zero(t, agg.Average(models.CounterActiveSessions))
}

func TestValuesAndMean(t *testing.T) {
	hist := make([]models.MetricsSnapshot, 0, 3)
	for _, v := range []int64{2, 4, 9} {
		snap := models.NewMetricsSnapshot(start)
		snap.Counters[models.CounterActiveUsers] = v
		hist = append(hist, snap)
	}

	assert.Equal(t, []int64{2, 4, 9}, Values(hist, models.CounterActiveUsers))
	assert.Equal(t, []int64{0, 0, 0}, Values(hist, models.CounterErrors))
	assert.InDelta(t, 5.0, Mean(hist, models.CounterActiveUsers), 1e-9)
	assert.Zero(t, Mean(nil, models.CounterActiveUsers))
	assert.Empty(t, Values(nil, models.CounterActiveUsers))
}

func TestCurrent_IsDefensiveCopy(t *testing.T) {
	agg := NewAggregator(schedule.NewFakeClock(start), nil, Options{}, nil)
	snap := agg.Current()
	snap.Counters[models.CounterErrors] = 99

	assert.Equal(t, int64(0), agg.Current().Value(models.CounterErrors))
}

func TestTrend_ShortHistoryAndAverage(t *testing.T) {
	agg := NewAggregator(schedule.NewFakeClock(start), nil, Options{HistoryCapacity: 4}, nil)
	assert.Empty(t, agg.Trend(models.CounterErrors, 5))
	assert.Equal(t, 0.0, agg.Average(models.CounterErrors))

	for i := 0; i < 6; i++ {
		_, _ = agg.ApplyDelta(models.CounterErrors, 1)
	}

	// history holds the snapshots before each of the last four deltas
	assert.Equal(t, []int64{2, 3, 4, 5}, agg.Trend(models.CounterErrors, 10))
	assert.Equal(t, []int64{4, 5}, agg.Trend(models.CounterErrors, 2))
	assert.Equal(t, 3.5, agg.Average(models.CounterErrors))
}

func TestRefresh_ReplacesCounters(t *testing.T) {
	clock := schedule.NewFakeClock(start)
	querier := &fakeQuerier{counts: map[models.CounterKey]int64{
		models.CounterActiveSessions: 7,
		models.CounterErrors:         -3,
		"unknown":                    5,
	}}
	m := telemetry.New(telemetry.DefaultConfig())
	agg := NewAggregator(clock, querier, Options{RefreshWindow: time.Hour}, m)

	_, _ = agg.ApplyDelta(models.CounterActiveSessions, 2)
	_, _ = agg.ApplyDelta(models.CounterActiveUsers, 4)

	snap, err := agg.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(7), snap.Value(models.CounterActiveSessions), "replaced, not adjusted")
	assert.Equal(t, int64(0), snap.Value(models.CounterErrors))
	assert.Equal(t, int64(4), snap.Value(models.CounterActiveUsers), "unreported counters are kept")
	assert.NotContains(t, snap.Counters, models.CounterKey("unknown"))
	assert.Equal(t, start.Add(-time.Hour), querier.since)
	assert.Len(t, agg.History(), 3)

	expected := `
# HELP dashcore_pipeline_counter_value Current value of each dashboard counter
# TYPE dashcore_pipeline_counter_value gauge
dashcore_pipeline_counter_value{counter="active-sessions"} 7
dashcore_pipeline_counter_value{counter="active-users"} 4
dashcore_pipeline_counter_value{counter="completed-sessions"} 0
dashcore_pipeline_counter_value{counter="error-count"} 0
dashcore_pipeline_counter_value{counter="verification-count"} 0
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "dashcore_pipeline_counter_value"))
}

func TestRefresh_Errors(t *testing.T) {
	agg := NewAggregator(schedule.NewFakeClock(start), nil, Options{}, nil)
	_, err := agg.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoQuerier)

	boom := errors.New("connection refused")
	agg = NewAggregator(schedule.NewFakeClock(start), &fakeQuerier{err: boom}, Options{}, nil)
	_, err = agg.Refresh(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, agg.History(), "a failed refresh leaves state untouched")
}

func TestDeltasFor(t *testing.T) {
	tests := []struct {
		event models.EventType
		want  []Delta
	}{
		{models.EventSessionStarted, []Delta{{models.CounterActiveSessions, 1}}},
		{models.EventSessionAbandoned, []Delta{{models.CounterActiveSessions, -1}}},
		{models.EventUserRegistered, []Delta{{models.CounterActiveUsers, 1}}},
		{models.EventVerificationCompleted, []Delta{{models.CounterVerifications, 1}}},
		{models.EventSystemError, []Delta{{models.CounterErrors, 1}}},
		{models.EventDataChanged, nil},
		{models.EventVerificationRequested, nil},
	}
	for _, tc := range tests {
		t.Run(string(tc.event), func(t *testing.T) {
			assert.Equal(t, tc.want, DeltasFor(models.Event{Type: tc.event}))
		})
	}
}
