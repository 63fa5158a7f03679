// Package eventbus implements the subtitle.events topic exchange (spec
// §4.7): a fan-out publish/subscribe channel every component publishes
// lifecycle events to and the orchestrator (plus any operator tooling)
// subscribes against. Grounded on the teacher's internal/chat.Queue
// fan-out shape, generalized from a single chat-room stream to a
// multi-event-type topic bus with per-subscriber routing patterns.
package eventbus

import (
	"context"

	"github.com/yairabf/subtitlex/internal/schema"
)

// Bus publishes and subscribes Envelopes on the subtitle.events exchange.
type Bus interface {
	// Publish appends evt to the exchange. Publish does not block on
	// subscriber delivery.
	Publish(ctx context.Context, evt schema.Envelope) error

	// Subscribe opens a subscription matching the given event types. An
	// empty patterns list subscribes to every event type.
	Subscribe(ctx context.Context, patterns ...string) (Subscription, error)

	// Close releases the bus's underlying resources.
	Close() error
}

// Subscription is an open, ordered stream of envelopes from a Bus.
type Subscription interface {
	// Events delivers envelopes as they are published. The channel is
	// closed when the subscription is closed; the context passed to
	// Subscribe does not close it.
	Events() <-chan Delivery

	// Close ends the subscription and releases its resources.
	Close()
}

// Delivery wraps a received Envelope with the handle needed to
// acknowledge it once processing succeeds.
type Delivery struct {
	Envelope schema.Envelope
	Ack      func(ctx context.Context) error
}

// matches reports whether eventType satisfies one of patterns, where an
// empty patterns list matches everything.
func matches(eventType schema.EventType, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p == string(eventType) {
			return true
		}
	}
	return false
}
