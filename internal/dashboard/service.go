package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/funneldash/dashcore/internal/alerting"
	"github.com/funneldash/dashcore/internal/channels"
	"github.com/funneldash/dashcore/internal/eventbus"
	"github.com/funneldash/dashcore/internal/metrics"
	"github.com/funneldash/dashcore/internal/models"
	"github.com/funneldash/dashcore/internal/normalizer"
	"github.com/funneldash/dashcore/internal/schedule"
	"github.com/funneldash/dashcore/internal/telemetry"
	"github.com/google/uuid"
)

// Deps are the collaborators injected into a Service
type Deps struct {
	Source  channels.ChangeSource
	Querier metrics.RefreshQuerier
	Clock   schedule.Clock
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// ChannelSpec names a channel opened when the Service starts
type ChannelSpec struct {
	Name   string
	Filter models.TopicFilter
}

// Options configures a Service
type Options struct {
	Channels        []ChannelSpec
	Retry           channels.Config
	Store           StoreOptions
	BuiltinRules    []models.AlertRule
	Rules           []models.AlertRule
	NormalizerRules []normalizer.Rule
	RefreshWindow   time.Duration

	// AutoRefreshInterval runs Refresh while any channel is degraded.
	// Zero disables it.
	AutoRefreshInterval time.Duration
}

// Service is the dashboard core. Reactions to records, state changes and
// timers are serialized. Each reaction queues its notifications before the
// next reaction can start, and listeners receive them in that order,
// outside the lock, so they may call back into the Service.
type Service struct {
	clock   schedule.Clock
	logger  *slog.Logger
	metrics *telemetry.Metrics
	opts    Options

	registry   *eventbus.Registry
	manager    *channels.Manager
	normalizer *normalizer.Normalizer
	aggregator *metrics.Aggregator
	alerts     *alerting.Engine
	store      *Store

	// mu serializes reactions
	mu sync.Mutex

	// pending holds outboxes in reaction order; one goroutine at a time
	// drains it
	pendingMu sync.Mutex
	pending   []outbox
	flushing  bool

	ctxMu  sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc

	lifecycle   sync.Mutex
	started     bool
	leases      []*channels.Lease
	housekeep   *schedule.Periodic
	autoRefresh *schedule.Periodic
}

// outbox collects notifications produced by one reaction
type outbox struct {
	changes []models.StateChange
	events  []models.Event
	metrics *models.MetricsSnapshot
	alerts  []models.Alert
}

// NewService wires a Service from its dependencies
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Source == nil {
		return nil, errors.New("change source is required")
	}
	if deps.Clock == nil {
		deps.Clock = schedule.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	norm, err := normalizer.New(deps.Clock.Now, opts.NormalizerRules...)
	if err != nil {
		return nil, fmt.Errorf("normalizer: %w", err)
	}

	builtin := opts.BuiltinRules
	if builtin == nil {
		builtin = alerting.DefaultRules(10, 50)
	}
	engine, err := alerting.NewEngine(deps.Clock, builtin, deps.Logger, deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("alert engine: %w", err)
	}
	for _, r := range opts.Rules {
		if _, err := engine.AddRule(r); err != nil {
			return nil, fmt.Errorf("alert rule %q: %w", r.ID, err)
		}
	}

	store := NewStore(opts.Store, deps.Clock.Now(), deps.Logger, deps.Metrics)

	s := &Service{
		clock:      deps.Clock,
		logger:     deps.Logger.With("component", "dashboard"),
		metrics:    deps.Metrics,
		opts:       opts,
		registry:   eventbus.NewRegistry(deps.Logger, deps.Metrics),
		normalizer: norm,
		// the store keeps the history that State, trends and averages read
		aggregator: metrics.NewAggregator(deps.Clock, deps.Querier, metrics.Options{
			NoHistory:     true,
			RefreshWindow: opts.RefreshWindow,
		}, deps.Metrics),
		alerts: engine,
		store:  store,
		ctx:    context.Background(),
	}

	s.manager = channels.NewManager(deps.Source, deps.Clock, opts.Retry, channels.Handlers{
		Deliver:       s.handleRecord,
		OnStateChange: s.handleStateChange,
	}, deps.Logger, deps.Metrics)

	return s, nil
}

// Start opens the configured channels and starts housekeeping. It returns
// once everything is scheduled; connection happens in the background.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.started {
		return errors.New("dashboard service already started")
	}
	s.ctxMu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.ctxMu.Unlock()
	s.started = true

	_ = s.store.Dispatch(Connect{})

	for _, spec := range s.opts.Channels {
		lease, err := s.manager.Acquire(spec.Name, spec.Filter)
		if err != nil {
			return fmt.Errorf("open channel %s: %w", spec.Name, err)
		}
		s.leases = append(s.leases, lease)
	}

	s.housekeep = s.store.StartHousekeeping(s.clock)
	if s.opts.AutoRefreshInterval > 0 {
		s.autoRefresh = schedule.Every(s.clock, s.opts.AutoRefreshInterval, s.refreshIfDegraded)
	}

	s.logger.Info("dashboard service started",
		"channels", len(s.opts.Channels),
		"auto_refresh", s.opts.AutoRefreshInterval,
	)
	return nil
}

// Stop cancels timers, closes every channel and marks the dashboard
// disconnected. It is safe to call more than once.
func (s *Service) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.started {
		return s.manager.Close()
	}
	s.started = false

	if s.housekeep != nil {
		s.housekeep.Stop()
	}
	if s.autoRefresh != nil {
		s.autoRefresh.Stop()
	}
	for _, l := range s.leases {
		l.Release()
	}
	s.leases = nil

	err := s.manager.Close()
	_ = s.store.Dispatch(Disconnect{})

	s.ctxMu.RLock()
	cancel := s.cancel
	s.ctxMu.RUnlock()
	if cancel != nil {
		cancel()
	}

	s.logger.Info("dashboard service stopped")
	return err
}

// Run starts the service and blocks until ctx is cancelled
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

func (s *Service) handleRecord(channel string, rec models.ChangeRecord) {
	s.mu.Lock()
	event := s.normalizer.Normalize(rec)
	if s.store.HasEvent(event.ID) {
		s.mu.Unlock()
		s.logger.Debug("dropping redelivered change", "channel", channel, "event_id", event.ID)
		return
	}
	s.enqueueLocked(s.ingestLocked(event))
	s.mu.Unlock()

	s.flush()
}

func (s *Service) handleStateChange(change models.StateChange) {
	s.mu.Lock()
	_ = s.store.Dispatch(ChannelStateChanged{Change: change})

	var out outbox
	if change.To == models.StateFailed {
		out = s.ingestLocked(models.Event{
			ID:   uuid.NewString(),
			Type: models.EventConnectionError,
			Data: map[string]any{
				"channel":  change.Channel,
				"error":    change.Error,
				"attempts": change.Attempt,
			},
			Timestamp: change.Timestamp,
		})
	}
	out.changes = []models.StateChange{change}
	s.enqueueLocked(out)
	s.mu.Unlock()

	s.flush()
}

// ingestLocked runs one event through aggregation and alerting
func (s *Service) ingestLocked(event models.Event) outbox {
	var out outbox

	if err := s.store.Dispatch(EventReceived{Event: event}); err != nil {
		s.logger.Debug("event not stored", "event_id", event.ID, "error", err)
		return out
	}
	s.metrics.EventIngested(string(event.Type))
	out.events = append(out.events, event)

	if deltas := metrics.DeltasFor(event); len(deltas) > 0 {
		snap, err := s.aggregator.Apply(deltas)
		if err != nil {
			s.logger.Error("failed to apply deltas", "event_type", event.Type, "error", err)
		} else {
			_ = s.store.Dispatch(MetricsUpdated{Snapshot: snap})
			out.metrics = &snap
			out.alerts = append(out.alerts, s.alerts.Evaluate(snap)...)
		}
	}

	if alert := s.alerts.ForEvent(event); alert != nil {
		out.alerts = append(out.alerts, *alert)
	}
	for _, a := range out.alerts {
		_ = s.store.Dispatch(AlertRaised{Alert: a})
	}
	return out
}

// enqueueLocked appends out to the pending notifications. Called with mu
// held so the queue follows reaction order.
func (s *Service) enqueueLocked(out outbox) {
	if out.empty() {
		return
	}
	s.pendingMu.Lock()
	s.pending = append(s.pending, out)
	s.pendingMu.Unlock()
}

// flush delivers pending outboxes in order. If another goroutine is already
// draining, it delivers ours after its own, and flush returns at once.
func (s *Service) flush() {
	s.pendingMu.Lock()
	if s.flushing {
		s.pendingMu.Unlock()
		return
	}
	s.flushing = true
	for len(s.pending) > 0 {
		out := s.pending[0]
		s.pending[0] = outbox{}
		s.pending = s.pending[1:]
		s.pendingMu.Unlock()

		s.publish(out)

		s.pendingMu.Lock()
	}
	s.pending = nil
	s.flushing = false
	s.pendingMu.Unlock()
}

func (o outbox) empty() bool {
	return len(o.changes) == 0 && len(o.events) == 0 && o.metrics == nil && len(o.alerts) == 0
}

func (s *Service) publish(out outbox) {
	ctx := s.context()
	for _, c := range out.changes {
		s.registry.Notify(ctx, eventbus.TopicConnection, c)
	}
	for _, e := range out.events {
		s.registry.Notify(ctx, eventbus.TopicEvent, e)
	}
	if out.metrics != nil {
		s.registry.Notify(ctx, eventbus.TopicMetrics, *out.metrics)
	}
	for _, a := range out.alerts {
		s.registry.Notify(ctx, eventbus.TopicAlerts, a)
	}
}

func (s *Service) context() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.ctx
}

// Subscribe registers a listener on a topic
func (s *Service) Subscribe(topic eventbus.Topic, listener eventbus.Listener) *eventbus.Subscription {
	return s.registry.Subscribe(topic, listener)
}

// Registry exposes the subscriber registry for typed helpers
func (s *Service) Registry() *eventbus.Registry {
	return s.registry
}

// GetCurrentMetrics returns a copy of the live counters
func (s *Service) GetCurrentMetrics() models.MetricsSnapshot {
	return s.aggregator.Current()
}

// GetRecentEvents returns up to limit events, newest first
func (s *Service) GetRecentEvents(limit int) []models.Event {
	return s.store.RecentEvents(limit)
}

// GetRecentAlerts returns up to limit alerts, newest first
func (s *Service) GetRecentAlerts(limit int) []models.Alert {
	return s.store.RecentAlerts(limit)
}

// GetMetricsTrend returns the last hours historical values of key,
// one history entry per hour
func (s *Service) GetMetricsTrend(key models.CounterKey, hours int) ([]int64, error) {
	if !models.IsCounter(key) {
		return nil, fmt.Errorf("%w: %s", metrics.ErrUnknownCounter, key)
	}
	return s.store.Trend(key, hours), nil
}

// GetMetricsAverage returns the mean of key over the retained history
func (s *Service) GetMetricsAverage(key models.CounterKey) (float64, error) {
	if !models.IsCounter(key) {
		return 0, fmt.Errorf("%w: %s", metrics.ErrUnknownCounter, key)
	}
	return s.store.Average(key), nil
}

// ResolveAlert marks an alert resolved and notifies alert listeners. The
// rule that raised it stays triggered until its condition clears.
func (s *Service) ResolveAlert(id string) (models.Alert, error) {
	s.mu.Lock()
	if err := s.store.Dispatch(AlertResolved{ID: id}); err != nil {
		s.mu.Unlock()
		return models.Alert{}, err
	}
	alert, _ := s.store.Alert(id)
	s.enqueueLocked(outbox{alerts: []models.Alert{alert}})
	s.mu.Unlock()

	s.flush()
	return alert, nil
}

// Refresh reconciles counters from the backing store. A failure raises a
// critical alert; the error is also returned for direct callers.
func (s *Service) Refresh(ctx context.Context) (models.MetricsSnapshot, error) {
	s.mu.Lock()
	_ = s.store.Dispatch(RefreshStarted{})
	s.mu.Unlock()

	snap, err := s.aggregator.Refresh(ctx)

	s.mu.Lock()
	var out outbox
	_ = s.store.Dispatch(RefreshFinished{At: s.clock.Now(), Err: err})
	if err != nil {
		s.logger.Error("metrics refresh failed", "error", err)
		alert := s.alerts.SystemError(
			fmt.Errorf("metrics refresh failed: %w", err),
			map[string]any{"source": "refresh"},
			models.SeverityCritical,
		)
		_ = s.store.Dispatch(AlertRaised{Alert: alert})
		out.alerts = append(out.alerts, alert)
	} else {
		// deltas applied while the query ran are already in the aggregator
		snap = s.aggregator.Current()
		_ = s.store.Dispatch(MetricsUpdated{Snapshot: snap})
		out.metrics = &snap
		for _, a := range s.alerts.Evaluate(snap) {
			_ = s.store.Dispatch(AlertRaised{Alert: a})
			out.alerts = append(out.alerts, a)
		}
	}
	s.enqueueLocked(out)
	s.mu.Unlock()

	s.flush()
	return snap, err
}

func (s *Service) refreshIfDegraded() {
	if !s.store.Degraded() {
		return
	}
	s.logger.Info("realtime degraded, refreshing metrics", "channels", s.store.ChannelNames())
	_, _ = s.Refresh(s.context())
}

// ReportError raises an alert for an error observed outside the pipeline
func (s *Service) ReportError(err error, metadata map[string]any, severity models.Severity) models.Alert {
	s.mu.Lock()
	alert := s.alerts.SystemError(err, metadata, severity)
	_ = s.store.Dispatch(AlertRaised{Alert: alert})
	s.enqueueLocked(outbox{alerts: []models.Alert{alert}})
	s.mu.Unlock()

	s.flush()
	return alert
}

// Watch opens (or shares) a channel; release the lease to close it
func (s *Service) Watch(name string, filter models.TopicFilter) (*channels.Lease, error) {
	return s.manager.Acquire(name, filter)
}

// Reconnect restarts a failed channel
func (s *Service) Reconnect(name string) error {
	return s.manager.Reconnect(name)
}

// Channels lists the realtime channels
func (s *Service) Channels() []channels.ChannelStatus {
	return s.manager.Status()
}

// AddRule registers a user alert rule
func (s *Service) AddRule(rule models.AlertRule) (models.AlertRule, error) {
	return s.alerts.AddRule(rule)
}

// RemoveRule deletes a user alert rule
func (s *Service) RemoveRule(id string) error {
	return s.alerts.RemoveRule(id)
}

// SetRuleEnabled toggles an alert rule
func (s *Service) SetRuleEnabled(id string, enabled bool) error {
	return s.alerts.SetEnabled(id, enabled)
}

// ClearRule lets a triggered rule fire again
func (s *Service) ClearRule(id string) bool {
	return s.alerts.Clear(id)
}

// Rules lists every alert rule
func (s *Service) Rules() []models.AlertRule {
	return s.alerts.Rules()
}

// State returns a copy of the dashboard state
func (s *Service) State() State {
	return s.store.Snapshot()
}
