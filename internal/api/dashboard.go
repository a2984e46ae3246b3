package api

import (
	"context"

	"github.com/funneldash/dashcore/internal/channels"
	"github.com/funneldash/dashcore/internal/dashboard"
	"github.com/funneldash/dashcore/internal/eventbus"
	"github.com/funneldash/dashcore/internal/models"
)

// Dashboard is the part of dashboard.Service the HTTP surface uses
type Dashboard interface {
	Subscribe(topic eventbus.Topic, listener eventbus.Listener) *eventbus.Subscription
	State() dashboard.State

	GetCurrentMetrics() models.MetricsSnapshot
	GetMetricsTrend(key models.CounterKey, hours int) ([]int64, error)
	GetMetricsAverage(key models.CounterKey) (float64, error)
	GetRecentEvents(limit int) []models.Event
	GetRecentAlerts(limit int) []models.Alert
	ResolveAlert(id string) (models.Alert, error)
	Refresh(ctx context.Context) (models.MetricsSnapshot, error)

	Channels() []channels.ChannelStatus
	Reconnect(name string) error

	Rules() []models.AlertRule
	AddRule(rule models.AlertRule) (models.AlertRule, error)
	RemoveRule(id string) error
	SetRuleEnabled(id string, enabled bool) error
	ClearRule(id string) bool
}

var _ Dashboard = (*dashboard.Service)(nil)
