package taskqueue

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
)

// RedisQueueConfig configures a Redis Streams-backed durable Queue.
type RedisQueueConfig struct {
	Client       *redis.Client
	Stream       string
	Group        string
	Logger       *slog.Logger
	BlockTimeout time.Duration
}

// NewRedisQueue constructs a durable, competing-consumer Queue backed by a
// Redis stream and consumer group, generalizing the teacher's
// internal/chat.redisQueue from a hand-rolled RESP client to the real
// go-redis/v9 client, and from chat fan-out to competing-consumer delivery
// (XREADGROUP with a distinct consumer name per Consume call, prefetch 1,
// manual XACK).
func NewRedisQueue[T any](ctx context.Context, cfg RedisQueueConfig) (Queue[T], error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("taskqueue: redis client is required")
	}
	if strings.TrimSpace(cfg.Stream) == "" {
		return nil, fmt.Errorf("taskqueue: stream name is required")
	}
	if strings.TrimSpace(cfg.Group) == "" {
		cfg.Group = cfg.Stream + "-workers"
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	q := &redisQueue[T]{cfg: cfg}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

type redisQueue[T any] struct {
	cfg RedisQueueConfig
}

func (q *redisQueue[T]) ensureGroup(ctx context.Context) error {
	err := q.cfg.Client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("taskqueue: create group: %w", err)
	}
	return nil
}

func (q *redisQueue[T]) Enqueue(ctx context.Context, task T) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("taskqueue: marshal task: %w", err)
	}
	err = q.cfg.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]interface{}{"task": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("taskqueue: enqueue: %w", err)
	}
	return nil
}

func (q *redisQueue[T]) Consume(ctx context.Context) (Consumer[T], error) {
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return &redisConsumer[T]{queue: q, name: randomConsumerID()}, nil
}

func (q *redisQueue[T]) Close() error { return nil }

type redisConsumer[T any] struct {
	queue *redisQueue[T]
	name  string
}

// Receive implements prefetch 1: COUNT 1, one message delivered per call,
// so the worker processes exactly one task at a time per spec §4.4/§4.5.
func (c *redisConsumer[T]) Receive(ctx context.Context) (Delivery[T], error) {
	for {
		res, err := c.queue.cfg.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.queue.cfg.Group,
			Consumer: c.name,
			Streams:  []string{c.queue.cfg.Stream, ">"},
			Count:    1,
			Block:    c.queue.cfg.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Delivery[T]{}, err
			}
			if errors.Is(err, redis.Nil) {
				select {
				case <-ctx.Done():
					return Delivery[T]{}, ctx.Err()
				default:
					continue
				}
			}
			c.queue.cfg.Logger.Warn("taskqueue read failed", "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				var task T
				raw, _ := msg.Values["task"].(string)
				if err := json.Unmarshal([]byte(raw), &task); err != nil {
					c.queue.cfg.Logger.Error("taskqueue decode failed", "error", err, "id", msg.ID)
					c.ack(ctx, msg.ID)
					continue
				}
				id := msg.ID
				return Delivery[T]{
					Task: task,
					Ack:  func(ackCtx context.Context) error { return c.ack(ackCtx, id) },
					Nack: func(nackCtx context.Context) error { return c.nack(nackCtx, id, task) },
				}, nil
			}
		}
	}
}

func (c *redisConsumer[T]) ack(ctx context.Context, id string) error {
	if err := c.queue.cfg.Client.XAck(ctx, c.queue.cfg.Stream, c.queue.cfg.Group, id).Err(); err != nil {
		return fmt.Errorf("taskqueue: ack: %w", err)
	}
	return nil
}

// nack acks the original delivery and re-enqueues the task as a fresh
// message: Redis Streams consumer groups have no native "reject and
// requeue", so redelivery is modeled as a new XADD entry, matching the
// teacher's XCLAIM-free retry idiom of relying on re-publication.
func (c *redisConsumer[T]) nack(ctx context.Context, id string, task T) error {
	if err := c.ack(ctx, id); err != nil {
		return err
	}
	return c.queue.Enqueue(ctx, task)
}

func (c *redisConsumer[T]) Close() {}

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
