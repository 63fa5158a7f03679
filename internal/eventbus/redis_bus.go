package eventbus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yairabf/subtitlex/internal/schema"
)

// RedisBusConfig configures the Redis Streams-backed Bus.
type RedisBusConfig struct {
	Client *redis.Client
	// Stream is the single underlying Redis stream backing the exchange;
	// routing by event type is performed client-side by matching
	// Subscribe's patterns against each envelope's EventType field, since
	// Redis Streams has no native topic-routing primitive (spec §4.7
	// describes exchange semantics; a stream plus field filtering is the
	// idiomatic Redis analogue).
	Stream string
	Group  string
	Logger *slog.Logger
	// BlockTimeout bounds each XREADGROUP poll.
	BlockTimeout time.Duration
}

// NewRedisBus constructs a Bus backed by Redis Streams, ensuring the
// consumer group exists.
func NewRedisBus(ctx context.Context, cfg RedisBusConfig) (Bus, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("eventbus: redis client is required")
	}
	if strings.TrimSpace(cfg.Stream) == "" {
		cfg.Stream = "subtitle.events"
	}
	if strings.TrimSpace(cfg.Group) == "" {
		cfg.Group = "subtitle-events-consumers"
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	bus := &redisBus{cfg: cfg}
	if err := bus.ensureGroup(ctx, bus.cfg.Group); err != nil {
		return nil, err
	}
	return bus, nil
}

type redisBus struct {
	cfg RedisBusConfig
}

func (b *redisBus) ensureGroup(ctx context.Context, group string) error {
	err := b.cfg.Client.XGroupCreateMkStream(ctx, b.cfg.Stream, group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("eventbus: create group: %w", err)
	}
	return nil
}

func (b *redisBus) Publish(ctx context.Context, evt schema.Envelope) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("eventbus: marshal envelope: %w", err)
	}
	err = b.cfg.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Stream,
		Values: map[string]interface{}{
			"event_type": string(evt.EventType),
			"payload":    payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("eventbus: publish: %w", err)
	}
	return nil
}

// Subscribe gives each call its own consumer group, derived from the
// configured base group plus a random suffix, rather than routing every
// subscription through one shared group (spec §4.7: "each event-consumer
// has its own queue"). A shared group would load-balance stream entries
// across subscribers instead of fanning them out, so two subscriptions
// with different patterns would each only see a fraction of the stream —
// and deliver would then ACK the entries it filtered out on the other
// subscriber's behalf, silently dropping them for everyone.
func (b *redisBus) Subscribe(ctx context.Context, patterns ...string) (Subscription, error) {
	group := b.cfg.Group + "." + randomConsumerID()
	if err := b.ensureGroup(ctx, group); err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		bus:      b,
		group:    group,
		consumer: randomConsumerID(),
		patterns: patterns,
		cancel:   cancel,
		ch:       make(chan Delivery, 64),
	}
	go sub.run(subCtx)
	return sub, nil
}

func (b *redisBus) Close() error { return nil }

type redisSubscription struct {
	bus      *redisBus
	group    string
	consumer string
	patterns []string
	cancel   context.CancelFunc
	ch       chan Delivery
}

func (s *redisSubscription) Events() <-chan Delivery { return s.ch }

func (s *redisSubscription) Close() {
	s.cancel()
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.ch)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		res, err := s.bus.cfg.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.bus.cfg.Stream, ">"},
			Count:    32,
			Block:    s.bus.cfg.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			s.bus.cfg.Logger.Warn("eventbus read failed", "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				s.deliver(ctx, msg)
			}
		}
	}
}

func (s *redisSubscription) deliver(ctx context.Context, msg redis.XMessage) {
	raw, _ := msg.Values["payload"].(string)
	var evt schema.Envelope
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		s.bus.cfg.Logger.Error("eventbus decode failed", "error", err, "id", msg.ID)
		s.ack(ctx, msg.ID)
		return
	}
	if !matches(evt.EventType, s.patterns) {
		s.ack(ctx, msg.ID)
		return
	}
	delivery := Delivery{
		Envelope: evt,
		Ack: func(ackCtx context.Context) error {
			return s.bus.cfg.Client.XAck(ackCtx, s.bus.cfg.Stream, s.group, msg.ID).Err()
		},
	}
	select {
	case s.ch <- delivery:
	case <-ctx.Done():
	}
}

func (s *redisSubscription) ack(ctx context.Context, id string) {
	if err := s.bus.cfg.Client.XAck(ctx, s.bus.cfg.Stream, s.group, id).Err(); err != nil {
		s.bus.cfg.Logger.Warn("eventbus ack failed", "id", id, "error", err)
	}
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func randomConsumerID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	return "consumer-" + hex.EncodeToString(buf)
}
