// Package eventbus provides the topic-based subscriber registry of the
// dashboard pipeline. Listeners are plain callbacks; a failing listener is
// isolated so it can never prevent delivery to the others.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/funneldash/dashcore/internal/telemetry"
)

// Topic represents the name of a registry topic
type Topic string

// Topic Constants
const (
	// TopicEvent carries every normalized models.Event
	TopicEvent Topic = "event"

	// TopicMetrics carries a models.MetricsSnapshot after each change
	TopicMetrics Topic = "metrics"

	// TopicAlerts carries raised and resolved models.Alert values
	TopicAlerts Topic = "alerts"

	// TopicConnection carries models.StateChange for channel transitions
	TopicConnection Topic = "connection"
)

// Topics lists every topic a consumer may subscribe to
func Topics() []Topic {
	return []Topic{TopicEvent, TopicMetrics, TopicAlerts, TopicConnection}
}

// ParseTopic validates a topic name
func ParseTopic(s string) (Topic, error) {
	for _, t := range Topics() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown topic %q", s)
}

// Message is what a listener receives
type Message struct {
	Topic     Topic
	Timestamp time.Time
	Payload   any
}

// Listener handles a single message. A returned error, like a panic, is
// logged and suppressed by the registry.
type Listener func(ctx context.Context, msg Message) error

// Subscription is the handle returned by Subscribe
type Subscription struct {
	id       uint64
	topic    Topic
	listener Listener
	active   atomic.Bool
	registry *Registry
}

// Topic returns the topic this subscription listens on
func (s *Subscription) Topic() Topic {
	return s.topic
}

// Unsubscribe stops future delivery to the listener and is safe to call more
// than once. It does not wait for a call that is already running: a listener
// invoked by a concurrent Notify may still be executing when Unsubscribe
// returns, but no new call starts after that point.
func (s *Subscription) Unsubscribe() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.registry.remove(s)
}

// Registry is a thread-safe publish-subscribe hub keyed by Topic.
type Registry struct {
	// mu protects subscribers
	mu sync.RWMutex

	// subscribers maps topics to their listeners in registration order
	subscribers map[Topic][]*Subscription

	nextID  uint64
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewRegistry creates an empty Registry.
//
// Parameters:
//   - logger: receives listener failures; slog.Default() when nil
//   - metrics: optional instrumentation, may be nil
//
// Example:
//
//	reg := NewRegistry(logger, nil)
//	sub := reg.Subscribe(TopicAlerts, func(ctx context.Context, msg Message) error {
//		alert := msg.Payload.(models.Alert)
//		return notifyOps(alert)
//	})
//	defer sub.Unsubscribe()
func NewRegistry(logger *slog.Logger, metrics *telemetry.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		subscribers: make(map[Topic][]*Subscription),
		logger:      logger.With("component", "eventbus"),
		metrics:     metrics,
	}
}

// Subscribe registers listener for topic. Multiple listeners may share a
// topic; each gets its own Subscription.
func (r *Registry) Subscribe(topic Topic, listener Listener) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := &Subscription{
		id:       r.nextID,
		topic:    topic,
		listener: listener,
		registry: r,
	}
	sub.active.Store(true)
	r.subscribers[topic] = append(r.subscribers[topic], sub)

	return sub
}

func (r *Registry) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subscribers[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			// Copy-on-write so in-flight Notify snapshots stay intact
			next := make([]*Subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(r.subscribers, sub.topic)
			} else {
				r.subscribers[sub.topic] = next
			}
			return
		}
	}
}

// Notify delivers payload to every listener currently registered on topic,
// synchronously and in registration order. Listener errors and panics are
// caught here; Notify itself never fails.
//
// Parameters:
//   - ctx: passed through to each listener
//   - topic: the topic to publish to
//   - payload: delivered as Message.Payload
//
// Returns:
//   - int: the number of listeners that handled the message without error
func (r *Registry) Notify(ctx context.Context, topic Topic, payload any) int {
	r.mu.RLock()
	subscribers := r.subscribers[topic]
	r.mu.RUnlock()

	r.metrics.Notified(string(topic))
	if len(subscribers) == 0 {
		return 0
	}

	msg := Message{
		Topic:     topic,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	delivered := 0
	for _, sub := range subscribers {
		if !sub.active.Load() {
			continue
		}
		if err := r.invoke(ctx, sub, msg); err != nil {
			r.metrics.ListenerError(string(topic))
			r.logger.Warn("listener failed",
				"topic", topic.String(),
				"subscription", sub.id,
				"error", err,
			)
			continue
		}
		delivered++
	}

	return delivered
}

// invoke runs one listener, turning a panic into an error
func (r *Registry) invoke(ctx context.Context, sub *Subscription, msg Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener panic: %v", p)
		}
	}()
	return sub.listener(ctx, msg)
}

// Count returns the number of listeners on topic
func (r *Registry) Count(topic Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[topic])
}

// Close drops every subscription. Existing handles become inert.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, subs := range r.subscribers {
		for _, s := range subs {
			s.active.Store(false)
		}
	}
	r.subscribers = make(map[Topic][]*Subscription)
	return nil
}

// String returns the topic as a string.
func (t Topic) String() string {
	return string(t)
}

// String returns a human-readable representation of a Message.
func (m Message) String() string {
	return fmt.Sprintf("Message{Topic: %s, Timestamp: %s, Payload: %+v}",
		m.Topic.String(),
		m.Timestamp.Format(time.RFC3339Nano),
		m.Payload,
	)
}
