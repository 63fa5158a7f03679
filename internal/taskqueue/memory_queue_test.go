package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairabf/subtitlex/internal/schema"
)

func TestMemoryQueueDeliversEachTaskOnce(t *testing.T) {
	queue := NewMemoryQueue[schema.DownloadTask](4)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, schema.DownloadTask{JobID: "job-1"}))

	consumerA, err := queue.Consume(ctx)
	require.NoError(t, err)
	consumerB, err := queue.Consume(ctx)
	require.NoError(t, err)

	recvCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	delivery, err := consumerA.Receive(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", delivery.Task.JobID)
	require.NoError(t, delivery.Ack(ctx))

	recvCtx2, cancel2 := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel2()
	_, err = consumerB.Receive(recvCtx2)
	assert.Error(t, err) // no second task available
}

func TestMemoryQueueNackRequeuesTask(t *testing.T) {
	queue := NewMemoryQueue[schema.TranslationTask](4)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, schema.TranslationTask{JobID: "job-1"}))

	consumer, err := queue.Consume(ctx)
	require.NoError(t, err)

	delivery, err := consumer.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, delivery.Nack(ctx))

	redelivered, err := consumer.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", redelivered.Task.JobID)
}
