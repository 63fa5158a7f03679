// Package taskqueue implements the two durable work queues spec §4/§6.2
// names: subtitle.download and subtitle.translation. Unlike the event bus,
// a task queue delivers each task to exactly one worker (consumer-group
// competing-consumers, prefetch 1, manual ack) rather than fanning out to
// every subscriber. Grounded on the teacher's internal/chat Redis Streams
// queue, generalized from a single chat stream to a generic single-task-type
// queue reused for both the download and translation queues.
package taskqueue

import "context"

// Queue delivers tasks of a single type with at-least-once, competing-
// consumer semantics.
type Queue[T any] interface {
	// Enqueue appends a task. Only the orchestrator calls this (spec §3
	// "Ownership").
	Enqueue(ctx context.Context, task T) error

	// Consume opens a competing-consumer handle. Multiple Consume calls
	// against the same Queue share work: each task goes to exactly one
	// consumer.
	Consume(ctx context.Context) (Consumer[T], error)

	// Close releases the queue's underlying resources.
	Close() error
}

// Consumer receives tasks one at a time (prefetch 1, spec §4.5/§4.4:
// "processes exactly one task at a time") and must Ack or Nack each
// before the next is delivered.
type Consumer[T any] interface {
	// Receive blocks until a task is available or ctx is done.
	Receive(ctx context.Context) (Delivery[T], error)

	// Close stops this consumer.
	Close()
}

// Delivery wraps a received task with its ack/nack handles.
type Delivery[T any] struct {
	Task T
	// Ack marks the task as durably processed.
	Ack func(ctx context.Context) error
	// Nack returns the task to the queue for redelivery (spec §7 retry
	// semantics: transient failures requeue, permanent failures should
	// Ack after recording JOB_FAILED so the task isn't retried forever).
	Nack func(ctx context.Context) error
}
