// Package telemetry exposes Prometheus instrumentation for the dashboard
// pipeline. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures metric naming
type Config struct {
	Namespace   string
	Subsystem   string
	ConstLabels map[string]string
}

// DefaultConfig returns the default metric naming
func DefaultConfig() Config {
	return Config{
		Namespace: "dashcore",
		Subsystem: "pipeline",
	}
}

// Metrics holds every collector of the pipeline on a private registry
type Metrics struct {
	registry *prometheus.Registry

	eventsIngested    *prometheus.CounterVec
	eventsEvicted     *prometheus.CounterVec
	listenerErrors    *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	channelState      *prometheus.GaugeVec
	reconnectAttempts *prometheus.CounterVec
	alertsRaised      *prometheus.CounterVec
	refreshDuration   *prometheus.HistogramVec
	counterValue      *prometheus.GaugeVec
}

// New creates and registers all collectors
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg = DefaultConfig()
	}
	registry := prometheus.NewRegistry()
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		}
	}

	m := &Metrics{registry: registry}

	m.eventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("events_ingested_total", "Normalized events by type")),
		[]string{"type"},
	)
	m.eventsEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("events_evicted_total", "Events dropped from the buffer by reason")),
		[]string{"reason"},
	)
	m.listenerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("listener_errors_total", "Subscriber callbacks that failed or panicked")),
		[]string{"topic"},
	)
	m.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("notifications_total", "Payloads published to registry topics")),
		[]string{"topic"},
	)
	m.channelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts(opts("channel_state", "1 for the current state of each channel")),
		[]string{"channel", "state"},
	)
	m.reconnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("reconnect_attempts_total", "Scheduled reconnection attempts")),
		[]string{"channel"},
	)
	m.alertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("alerts_raised_total", "Alerts raised by severity")),
		[]string{"severity"},
	)
	m.refreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "refresh_duration_seconds",
			Help:        "Duration of fallback metric refresh queries",
			ConstLabels: cfg.ConstLabels,
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"outcome"},
	)
	m.counterValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts(opts("counter_value", "Current value of each dashboard counter")),
		[]string{"counter"},
	)

	registry.MustRegister(
		m.eventsIngested,
		m.eventsEvicted,
		m.listenerErrors,
		m.notifications,
		m.channelState,
		m.reconnectAttempts,
		m.alertsRaised,
		m.refreshDuration,
		m.counterValue,
	)
	return m
}

// Registry returns the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventIngested(eventType string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventsEvicted(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsEvicted.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) ListenerError(topic string) {
	if m == nil {
		return
	}
	m.listenerErrors.WithLabelValues(topic).Inc()
}

func (m *Metrics) Notified(topic string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(topic).Inc()
}

// ChannelState marks state as the only active state of channel
func (m *Metrics) ChannelState(channel string, state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.channelState.WithLabelValues(channel, s).Set(v)
	}
}

func (m *Metrics) ReconnectAttempt(channel string) {
	if m == nil {
		return
	}
	m.reconnectAttempts.WithLabelValues(channel).Inc()
}

func (m *Metrics) AlertRaised(severity string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(severity).Inc()
}

func (m *Metrics) RefreshObserved(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.refreshDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) CounterValue(counter string, v int64) {
	if m == nil {
		return
	}
	m.counterValue.WithLabelValues(counter).Set(float64(v))
}
