package dashboard

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/funneldash/dashcore/internal/models"
	"github.com/funneldash/dashcore/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore() *Store {
	return NewStore(DefaultStoreOptions(), t0, nil, nil)
}

func event(id string, ts time.Time) models.Event {
	return models.Event{ID: id, Type: models.EventDataChanged, Timestamp: ts}
}

func TestStore_EventCapacity(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 130; i++ {
		require.NoError(t, s.Dispatch(EventReceived{Event: event(fmt.Sprintf("e%d", i), t0)}))
	}

	events := s.RecentEvents(0)
	require.Len(t, events, DefaultEventCapacity)
	assert.Equal(t, "e129", events[0].ID, "newest first")
	assert.Equal(t, "e30", events[len(events)-1].ID, "oldest were dropped")
	assert.False(t, s.HasEvent("e29"))

	// an evicted ID may be stored again
	assert.NoError(t, s.Dispatch(EventReceived{Event: event("e0", t0)}))
	assert.Len(t, s.RecentEvents(3), 3)
}

func TestStore_DuplicateEventIgnored(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Dispatch(EventReceived{Event: event("e1", t0)}))

	err := s.Dispatch(EventReceived{Event: event("e1", t0)})
	assert.ErrorIs(t, err, ErrDuplicateEvent)
	assert.Len(t, s.RecentEvents(0), 1)
}

func TestStore_AlertCapacityAndResolve(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 60; i++ {
		require.NoError(t, s.Dispatch(AlertRaised{Alert: models.Alert{ID: fmt.Sprintf("a%d", i), Severity: models.SeverityInfo}}))
	}

	alerts := s.RecentAlerts(0)
	require.Len(t, alerts, DefaultAlertCapacity)
	assert.Equal(t, "a59", alerts[0].ID)
	_, ok := s.Alert("a9")
	assert.False(t, ok, "oldest alert evicted first")

	require.NoError(t, s.Dispatch(AlertResolved{ID: "a10"}))
	a, ok := s.Alert("a10")
	require.True(t, ok)
	assert.True(t, a.Resolved)

	assert.ErrorIs(t, s.Dispatch(AlertResolved{ID: "a9"}), ErrAlertNotFound)
}

func TestStore_MetricsHistory(t *testing.T) {
	s := newTestStore()
	for i := 1; i <= 30; i++ {
		snap := models.NewMetricsSnapshot(t0.Add(time.Duration(i) * time.Minute))
		snap.Counters[models.CounterActiveSessions] = int64(i)
		require.NoError(t, s.Dispatch(MetricsUpdated{Snapshot: snap}))
	}

	state := s.Snapshot()
	assert.Equal(t, int64(30), state.Metrics.Value(models.CounterActiveSessions))
	require.Len(t, state.MetricsHistory, DefaultHistoryCapacity)
	assert.Equal(t, int64(29), state.MetricsHistory[len(state.MetricsHistory)-1].Value(models.CounterActiveSessions))

	// history holds 6..29 once the oldest entries are evicted
	assert.Equal(t, []int64{27, 28, 29}, s.Trend(models.CounterActiveSessions, 3))
	assert.Empty(t, s.Trend(models.CounterActiveSessions, 0))
	assert.InDelta(t, 17.5, s.Average(models.CounterActiveSessions), 1e-9)
}

func TestStore_SweepRemovesExpiredEvents(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Dispatch(EventReceived{Event: event("old", t0)}))
	require.NoError(t, s.Dispatch(EventReceived{Event: event("fresh", t0.Add(4*time.Minute))}))

	require.NoError(t, s.Dispatch(EventsSwept{Cutoff: t0.Add(time.Minute)}))

	events := s.RecentEvents(0)
	require.Len(t, events, 1)
	assert.Equal(t, "fresh", events[0].ID)
	assert.False(t, s.HasEvent("old"))
}

func TestStore_Housekeeping(t *testing.T) {
	clock := schedule.NewFakeClock(t0)
	s := newTestStore()
	task := s.StartHousekeeping(clock)
	defer task.Stop()

	require.NoError(t, s.Dispatch(EventReceived{Event: event("e1", t0)}))
	require.NoError(t, s.Dispatch(EventReceived{Event: event("e2", t0.Add(3*time.Minute))}))

	clock.Advance(5 * time.Minute)
	assert.Len(t, s.RecentEvents(0), 2, "nothing is older than the retention window yet")

	clock.Advance(time.Minute)
	events := s.RecentEvents(0)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].ID)

	clock.Advance(3 * time.Minute)
	assert.Empty(t, s.RecentEvents(0))
}

func TestStore_RefreshAndConnection(t *testing.T) {
	s := newTestStore()

	require.NoError(t, s.Dispatch(Connect{}))
	require.NoError(t, s.Dispatch(RefreshStarted{}))
	assert.True(t, s.Snapshot().Refreshing)

	require.NoError(t, s.Dispatch(RefreshFinished{At: t0, Err: errors.New("timeout")}))
	state := s.Snapshot()
	assert.False(t, state.Refreshing)
	assert.Equal(t, "timeout", state.LastError)
	assert.True(t, state.LastRefresh.IsZero())

	require.NoError(t, s.Dispatch(RefreshFinished{At: t0.Add(time.Minute)}))
	assert.Equal(t, t0.Add(time.Minute), s.Snapshot().LastRefresh)

	require.NoError(t, s.Dispatch(Disconnect{Reason: "shutdown"}))
	assert.False(t, s.Snapshot().Connected)
}

func TestStore_ChannelStates(t *testing.T) {
	s := newTestStore()

	require.NoError(t, s.Dispatch(ChannelStateChanged{Change: models.StateChange{Channel: "sessions", To: models.StateSubscribed}}))
	require.NoError(t, s.Dispatch(ChannelStateChanged{Change: models.StateChange{Channel: "users", To: models.StateError, Error: "reset"}}))

	state := s.Snapshot()
	assert.True(t, state.Connected)
	assert.True(t, s.Degraded())
	assert.Equal(t, "reset", state.LastError)
	assert.Equal(t, []string{"sessions", "users"}, s.ChannelNames())

	require.NoError(t, s.Dispatch(ChannelStateChanged{Change: models.StateChange{Channel: "users", To: models.StateClosed}}))
	require.NoError(t, s.Dispatch(ChannelStateChanged{Change: models.StateChange{Channel: "sessions", To: models.StateError}}))
	assert.False(t, s.Snapshot().Connected)
	assert.Equal(t, []string{"sessions"}, s.ChannelNames())
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Dispatch(EventReceived{Event: event("e1", t0)}))

	state := s.Snapshot()
	state.Events[0].ID = "mutated"
	state.Metrics.Counters[models.CounterErrors] = 5

	assert.True(t, s.HasEvent("e1"))
	assert.Equal(t, "e1", s.RecentEvents(1)[0].ID)
	assert.Equal(t, int64(0), s.Snapshot().Metrics.Value(models.CounterErrors))
}

func TestActionName(t *testing.T) {
	assert.Equal(t, "alert-resolved", ActionName(AlertResolved{ID: "x"}))
	assert.Equal(t, "events-swept", ActionName(EventsSwept{}))
}
