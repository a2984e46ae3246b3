package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/funneldash/dashcore/internal/models"
	"github.com/funneldash/dashcore/internal/schedule"
	"github.com/funneldash/dashcore/internal/telemetry"
)

// channel is the per-name connection state. All fields are guarded by
// Manager.mu.
type channel struct {
	name      string
	filter    models.TopicFilter
	state     models.ConnectionState
	retries   int
	refs      int
	lastError string
	connected time.Time

	// gen is bumped on every connect attempt and on teardown; async results
	// carrying an older generation are discarded
	gen uint64

	stream Stream
	cancel context.CancelFunc
	retry  schedule.Task
}

// Manager owns the set of named channels
type Manager struct {
	source   ChangeSource
	clock    schedule.Clock
	cfg      Config
	handlers Handlers
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	channels map[string]*channel
	closed   bool

	// state changes are queued under mu and emitted by a single goroutine
	pending []models.StateChange
	wake    chan struct{}
	stop    chan struct{}
	emitted chan struct{}

	wg sync.WaitGroup
}

// NewManager creates a Manager. Channels are only opened by Acquire.
func NewManager(
	source ChangeSource,
	clock schedule.Clock,
	cfg Config,
	handlers Handlers,
	logger *slog.Logger,
	metrics *telemetry.Metrics,
) *Manager {
	if clock == nil {
		clock = schedule.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		source:   source,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		handlers: handlers,
		logger:   logger.With("component", "channels"),
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]*channel),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		emitted:  make(chan struct{}),
	}
	go m.emitLoop()
	return m
}

// Acquire returns a lease on the named channel, creating and connecting it
// if needed. Acquiring an existing name with a different filter tears the
// old subscription down and reconnects with the new filter; existing leases
// stay valid.
func (m *Manager) Acquire(name string, filter models.TopicFilter) (*Lease, error) {
	if name == "" {
		return nil, errors.New("channel name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	ch, ok := m.channels[name]
	switch {
	case ok && ch.filter.Equal(filter):
		ch.refs++
	case ok:
		m.logger.Info("channel filter changed, recreating",
			"channel", name,
			"old_filter", ch.filter.String(),
			"new_filter", filter.String(),
		)
		refs := ch.refs
		m.teardownLocked(ch, models.StateClosed, "")
		ch = m.newChannelLocked(name, filter)
		ch.refs = refs + 1
		m.connectLocked(ch)
	default:
		ch = m.newChannelLocked(name, filter)
		ch.refs = 1
		m.connectLocked(ch)
	}

	return &Lease{manager: m, name: name}, nil
}

func (m *Manager) newChannelLocked(name string, filter models.TopicFilter) *channel {
	ch := &channel{
		name:   name,
		filter: filter,
		state:  models.StateIdle,
	}
	m.channels[name] = ch
	return ch
}

// release drops one reference; the last one disconnects the channel
func (m *Manager) release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[name]
	if !ok {
		return
	}
	ch.refs--
	if ch.refs > 0 {
		return
	}
	m.teardownLocked(ch, models.StateClosed, "")
	delete(m.channels, name)
}

// Disconnect closes the named channel regardless of outstanding leases and
// cancels any pending retry.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	m.teardownLocked(ch, models.StateClosed, "")
	delete(m.channels, name)
	return nil
}

// Reconnect restarts a channel that is failed or waiting to retry, with a
// fresh retry budget.
func (m *Manager) Reconnect(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	ch, ok := m.channels[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	switch ch.state {
	case models.StateFailed, models.StateError, models.StateIdle:
	default:
		return fmt.Errorf("channel %s is %s", name, ch.state)
	}

	if ch.retry != nil {
		ch.retry.Stop()
		ch.retry = nil
	}
	ch.retries = 0
	m.connectLocked(ch)
	return nil
}

// connectLocked moves ch to connecting and subscribes asynchronously
func (m *Manager) connectLocked(ch *channel) {
	ch.gen++
	gen := ch.gen
	m.transitionLocked(ch, models.StateConnecting, "")

	ctx, cancel := context.WithCancel(m.ctx)
	ch.cancel = cancel
	filter := ch.filter

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		subCtx := ctx
		if m.cfg.ConnectTimeout > 0 {
			var subCancel context.CancelFunc
			subCtx, subCancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
			defer subCancel()
		}

		stream, err := m.source.Subscribe(subCtx, filter)
		m.onSubscribed(ctx, ch, gen, stream, err)
	}()
}

func (m *Manager) onSubscribed(ctx context.Context, ch *channel, gen uint64, stream Stream, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(ch, gen) {
		if stream != nil {
			_ = stream.Close()
		}
		return
	}

	if err != nil {
		m.failLocked(ch, fmt.Errorf("subscribe %s: %w", ch.filter.String(), err))
		return
	}

	ch.stream = stream
	ch.retries = 0
	ch.lastError = ""
	ch.connected = m.clock.Now()
	m.transitionLocked(ch, models.StateSubscribed, "")

	m.wg.Add(1)
	go m.pump(ctx, ch, gen, stream)
}

// pump forwards records of one stream until it ends
func (m *Manager) pump(ctx context.Context, ch *channel, gen uint64, stream Stream) {
	defer m.wg.Done()

	records := stream.Records()
	errs := stream.Errors()

	for {
		select {
		case <-ctx.Done():
			return

		case rec, ok := <-records:
			if !ok {
				m.streamEnded(ch, gen, ErrStreamClosed)
				return
			}
			if !m.isCurrent(ch, gen) {
				return
			}
			rec.Channel = ch.name
			if m.handlers.Deliver != nil {
				m.handlers.Deliver(ch.name, rec)
			}

		case err, ok := <-errs:
			if !ok {
				// Errors closed without a value; keep reading records
				errs = nil
				continue
			}
			m.streamEnded(ch, gen, err)
			return
		}
	}
}

func (m *Manager) streamEnded(ch *channel, gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(ch, gen) {
		return
	}
	m.failLocked(ch, err)
}

// failLocked records a failure and either schedules a retry or marks the
// channel failed
func (m *Manager) failLocked(ch *channel, err error) {
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	if ch.stream != nil {
		_ = ch.stream.Close()
		ch.stream = nil
	}
	ch.lastError = err.Error()
	m.transitionLocked(ch, models.StateError, ch.lastError)

	if ch.retries >= m.cfg.MaxRetries {
		m.logger.Error("channel retries exhausted",
			"channel", ch.name,
			"retries", ch.retries,
			"error", err,
		)
		m.transitionLocked(ch, models.StateFailed, ch.lastError)
		return
	}

	ch.retries++
	delay := m.cfg.Backoff(ch.retries)
	gen := ch.gen
	m.metrics.ReconnectAttempt(ch.name)
	m.logger.Warn("channel error, scheduling reconnect",
		"channel", ch.name,
		"attempt", ch.retries,
		"delay", delay,
		"error", err,
	)

	ch.retry = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed || !m.currentLocked(ch, gen) || ch.state != models.StateError {
			return
		}
		ch.retry = nil
		m.connectLocked(ch)
	})
}

// teardownLocked stops everything running for ch and moves it to state
func (m *Manager) teardownLocked(ch *channel, state models.ConnectionState, reason string) {
	ch.gen++
	if ch.retry != nil {
		ch.retry.Stop()
		ch.retry = nil
	}
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	if ch.stream != nil {
		_ = ch.stream.Close()
		ch.stream = nil
	}
	if ch.state != state {
		m.transitionLocked(ch, state, reason)
	}
}

func (m *Manager) currentLocked(ch *channel, gen uint64) bool {
	return ch.gen == gen && m.channels[ch.name] == ch
}

func (m *Manager) isCurrent(ch *channel, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked(ch, gen)
}

func (m *Manager) transitionLocked(ch *channel, to models.ConnectionState, reason string) {
	from := ch.state
	ch.state = to

	m.metrics.ChannelState(ch.name, string(to), AllStates())
	m.logger.Debug("channel state changed",
		"channel", ch.name,
		"from", from,
		"to", to,
		"attempt", ch.retries,
	)

	m.pending = append(m.pending, models.StateChange{
		Channel:   ch.name,
		From:      from,
		To:        to,
		Attempt:   ch.retries,
		Error:     reason,
		Timestamp: m.clock.Now(),
	})
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) emitLoop() {
	defer close(m.emitted)
	for {
		select {
		case <-m.wake:
			m.drain()
		case <-m.stop:
			m.drain()
			return
		}
	}
}

func (m *Manager) drain() {
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, change := range batch {
			m.emit(change)
		}
	}
}

func (m *Manager) emit(change models.StateChange) {
	if m.handlers.OnStateChange == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("state change handler panicked",
				"channel", change.Channel,
				"panic", p,
			)
		}
	}()
	m.handlers.OnStateChange(change)
}

// Status lists every channel sorted by name
func (m *Manager) Status() []ChannelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ChannelStatus, 0, len(m.channels))
	for _, ch := range m.channels {
		st := ChannelStatus{
			Name:      ch.name,
			Filter:    ch.filter,
			State:     ch.state,
			Retries:   ch.retries,
			Leases:    ch.refs,
			LastError: ch.lastError,
		}
		if ch.state == models.StateSubscribed {
			connected := ch.connected
			st.ConnectedAt = &connected
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// State returns the state of the named channel
func (m *Manager) State(name string) (models.ConnectionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[name]
	if !ok {
		return "", false
	}
	return ch.state, true
}

// Close disconnects every channel, flushes pending state changes and waits
// for background goroutines. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for name, ch := range m.channels {
		m.teardownLocked(ch, models.StateClosed, "")
		delete(m.channels, name)
	}
	m.mu.Unlock()

	m.cancel()
	close(m.stop)
	<-m.emitted
	m.wg.Wait()

	m.logger.Info("channel manager closed")
	return nil
}

// Lease is a reference to a named channel
type Lease struct {
	manager *Manager
	name    string
	once    sync.Once
}

// Name returns the channel name
func (l *Lease) Name() string {
	return l.name
}

// Release drops the reference. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.manager.release(l.name)
	})
}
