package main

import (
	"testing"
	"time"

	"github.com/funneldash/dashcore/internal/config"
	"github.com/funneldash/dashcore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceOptions(t *testing.T) {
	cfg, err := config.Parse([]byte(`
database: {host: localhost, dbname: funnel}
auth: {jwt_secret: 0123456789abcdef0123456789abcdef}
realtime:
  retry: {max_retries: 3, base_delay_ms: 250}
  channels:
    - {name: sessions, table: diagnosis_sessions}
    - {name: completions, table: diagnosis_sessions, operation: update, row: {column: status, value: completed}}
alerts:
  error_warning_threshold: 5
  error_critical_threshold: 20
refresh:
  auto_interval_seconds: 30
`))
	require.NoError(t, err)

	opts, err := serviceOptions(cfg)
	require.NoError(t, err)

	require.Len(t, opts.Channels, 2)
	assert.Equal(t, models.OpAny, opts.Channels[0].Filter.Operation)
	assert.Equal(t, "completed", opts.Channels[1].Filter.Row.Value)

	assert.Equal(t, 3, opts.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, opts.Retry.BaseDelay)
	assert.Equal(t, 100, opts.Store.EventCapacity)
	assert.Equal(t, 5*time.Minute, opts.Store.Retention)
	assert.Equal(t, 30*time.Second, opts.AutoRefreshInterval)
	assert.Equal(t, 24*time.Hour, opts.RefreshWindow)

	require.Len(t, opts.BuiltinRules, 2)
	assert.Equal(t, int64(5), opts.BuiltinRules[0].Threshold)
	assert.Equal(t, int64(20), opts.BuiltinRules[1].Threshold)
}

func TestTelemetryConfig(t *testing.T) {
	tc := telemetryConfig(config.MetricsConfig{Namespace: "funnel"})
	assert.Equal(t, "funnel", tc.Namespace)
	assert.Equal(t, "pipeline", tc.Subsystem)
}

func TestOperators(t *testing.T) {
	ops := operators(config.AuthConfig{Operators: []config.OperatorConfig{
		{Username: "ops", PasswordHash: "$2a$10$x"},
		{Username: "oncall", PasswordHash: "$2a$10$y"},
	}})
	require.Len(t, ops, 2)
	assert.Equal(t, "oncall", ops[1].Username)
	assert.Equal(t, "$2a$10$x", ops[0].PasswordHash)
}
