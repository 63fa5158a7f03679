package eventbus

import (
	"context"
	"sync"

	"github.com/yairabf/subtitlex/internal/schema"
)

// NewMemoryBus constructs an in-process fan-out Bus, the direct
// generalization of the teacher's chat.memoryQueue: suitable for tests and
// single-process deployments of the ingress/orchestrator pair.
func NewMemoryBus(buffer int) Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &memoryBus{
		subs:   make(map[*memorySubscription]struct{}),
		buffer: buffer,
	}
}

type memoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	buffer int
}

func (b *memoryBus) Publish(ctx context.Context, evt schema.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !matches(evt.EventType, sub.patterns) {
			continue
		}
		delivery := Delivery{Envelope: evt, Ack: func(context.Context) error { return nil }}
		select {
		case sub.ch <- delivery:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Subscribers are expected to drain promptly; a stalled
			// subscriber drops events rather than blocking publish.
		}
	}
	return nil
}

func (b *memoryBus) Subscribe(_ context.Context, patterns ...string) (Subscription, error) {
	sub := &memorySubscription{
		bus:      b,
		patterns: patterns,
		ch:       make(chan Delivery, b.buffer),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

func (b *memoryBus) Close() error { return nil }

type memorySubscription struct {
	once     sync.Once
	bus      *memoryBus
	patterns []string
	ch       chan Delivery
}

func (s *memorySubscription) Events() <-chan Delivery { return s.ch }

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}
