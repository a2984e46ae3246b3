package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventIngested("session-started")
		m.ListenerError("event")
		m.ChannelState("sessions", "subscribed", []string{"subscribed"})
		m.RefreshObserved(time.Second, nil)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Counters(t *testing.T) {
	m := New(DefaultConfig())

	m.EventIngested("session-started")
	m.EventIngested("session-started")
	m.ListenerError("alerts")
	m.AlertRaised("critical")
	m.EventsEvicted("capacity", 3)
	m.EventsEvicted("retention", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsIngested.WithLabelValues("session-started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.listenerErrors.WithLabelValues("alerts")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertsRaised.WithLabelValues("critical")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.eventsEvicted.WithLabelValues("capacity")))
}

func TestMetrics_ChannelStateIsExclusive(t *testing.T) {
	m := New(DefaultConfig())
	states := []string{"connecting", "subscribed", "error"}

	m.ChannelState("sessions", "connecting", states)
	m.ChannelState("sessions", "subscribed", states)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.channelState.WithLabelValues("sessions", "connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.channelState.WithLabelValues("sessions", "subscribed")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(DefaultConfig())
	m.RefreshObserved(10*time.Millisecond, errors.New("boom"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "dashcore_pipeline_refresh_duration_seconds"))
}
