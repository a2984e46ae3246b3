package eventbus

import (
	"context"
	"fmt"

	"github.com/funneldash/dashcore/internal/models"
)

// OnEvent subscribes a typed callback to TopicEvent
func OnEvent(r *Registry, fn func(ctx context.Context, event models.Event) error) *Subscription {
	return r.Subscribe(TopicEvent, typed(fn))
}

// OnMetrics subscribes a typed callback to TopicMetrics
func OnMetrics(r *Registry, fn func(ctx context.Context, snapshot models.MetricsSnapshot) error) *Subscription {
	return r.Subscribe(TopicMetrics, typed(fn))
}

// OnAlert subscribes a typed callback to TopicAlerts
func OnAlert(r *Registry, fn func(ctx context.Context, alert models.Alert) error) *Subscription {
	return r.Subscribe(TopicAlerts, typed(fn))
}

// OnConnection subscribes a typed callback to TopicConnection
func OnConnection(r *Registry, fn func(ctx context.Context, change models.StateChange) error) *Subscription {
	return r.Subscribe(TopicConnection, typed(fn))
}

func typed[T any](fn func(ctx context.Context, v T) error) Listener {
	return func(ctx context.Context, msg Message) error {
		v, ok := msg.Payload.(T)
		if !ok {
			var zero T
			return fmt.Errorf("unexpected payload %T on topic %s, want %T", msg.Payload, msg.Topic, zero)
		}
		return fn(ctx, v)
	}
}
