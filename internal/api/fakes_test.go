package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/funneldash/dashcore/internal/alerting"
	"github.com/funneldash/dashcore/internal/channels"
	"github.com/funneldash/dashcore/internal/dashboard"
	"github.com/funneldash/dashcore/internal/eventbus"
	"github.com/funneldash/dashcore/internal/metrics"
	"github.com/funneldash/dashcore/internal/models"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeDashboard keeps canned state and delegates rules to a real engine
type fakeDashboard struct {
	registry *eventbus.Registry
	engine   *alerting.Engine

	mu           sync.Mutex
	snapshot     models.MetricsSnapshot
	trend        []int64
	average      float64
	events       []models.Event
	alerts       []models.Alert
	channels     []channels.ChannelStatus
	refreshErr   error
	refreshCalls int
	reconnected  []string
}

func newFakeDashboard() *fakeDashboard {
	engine, err := alerting.NewEngine(nil, alerting.DefaultRules(10, 50), nil, nil)
	if err != nil {
		panic(err)
	}
	snap := models.NewMetricsSnapshot(t0)
	snap.Counters[models.CounterActiveSessions] = 4
	return &fakeDashboard{
		registry: eventbus.NewRegistry(nil, nil),
		engine:   engine,
		snapshot: snap,
	}
}

func (f *fakeDashboard) Subscribe(topic eventbus.Topic, listener eventbus.Listener) *eventbus.Subscription {
	return f.registry.Subscribe(topic, listener)
}

func (f *fakeDashboard) State() dashboard.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return dashboard.State{
		Connected: true,
		Events:    append([]models.Event(nil), f.events...),
		Alerts:    append([]models.Alert(nil), f.alerts...),
		Metrics:   f.snapshot.Clone(),
	}
}

func (f *fakeDashboard) GetCurrentMetrics() models.MetricsSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot.Clone()
}

func (f *fakeDashboard) GetMetricsTrend(key models.CounterKey, hours int) ([]int64, error) {
	if !models.IsCounter(key) {
		return nil, fmt.Errorf("%w: %s", metrics.ErrUnknownCounter, key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if hours < len(f.trend) {
		return f.trend[len(f.trend)-hours:], nil
	}
	return f.trend, nil
}

func (f *fakeDashboard) GetMetricsAverage(key models.CounterKey) (float64, error) {
	if !models.IsCounter(key) {
		return 0, fmt.Errorf("%w: %s", metrics.ErrUnknownCounter, key)
	}
	return f.average, nil
}

func (f *fakeDashboard) GetRecentEvents(limit int) []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit < len(f.events) {
		return append([]models.Event(nil), f.events[:limit]...)
	}
	return append([]models.Event(nil), f.events...)
}

func (f *fakeDashboard) GetRecentAlerts(limit int) []models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit < len(f.alerts) {
		return append([]models.Alert(nil), f.alerts[:limit]...)
	}
	return append([]models.Alert(nil), f.alerts...)
}

func (f *fakeDashboard) ResolveAlert(id string) (models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.alerts {
		if f.alerts[i].ID == id {
			f.alerts[i].Resolved = true
			return f.alerts[i], nil
		}
	}
	return models.Alert{}, fmt.Errorf("%w: %s", dashboard.ErrAlertNotFound, id)
}

func (f *fakeDashboard) Refresh(ctx context.Context) (models.MetricsSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return f.snapshot.Clone(), f.refreshErr
	}
	return f.snapshot.Clone(), nil
}

func (f *fakeDashboard) Channels() []channels.ChannelStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]channels.ChannelStatus(nil), f.channels...)
}

func (f *fakeDashboard) Reconnect(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		if ch.Name == name {
			f.reconnected = append(f.reconnected, name)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", channels.ErrChannelNotFound, name)
}

func (f *fakeDashboard) Rules() []models.AlertRule { return f.engine.Rules() }

func (f *fakeDashboard) AddRule(rule models.AlertRule) (models.AlertRule, error) {
	return f.engine.AddRule(rule)
}

func (f *fakeDashboard) RemoveRule(id string) error { return f.engine.RemoveRule(id) }

func (f *fakeDashboard) SetRuleEnabled(id string, enabled bool) error {
	return f.engine.SetEnabled(id, enabled)
}

func (f *fakeDashboard) ClearRule(id string) bool { return f.engine.Clear(id) }
