package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairabf/subtitlex/internal/dedup"
	"github.com/yairabf/subtitlex/internal/eventbus"
	"github.com/yairabf/subtitlex/internal/jobid"
	"github.com/yairabf/subtitlex/internal/jobstore"
	"github.com/yairabf/subtitlex/internal/schema"
	"github.com/yairabf/subtitlex/internal/taskqueue"
)

type harness struct {
	bus     eventbus.Bus
	store   jobstore.Store
	dlQueue taskqueue.Queue[schema.DownloadTask]
	trQueue taskqueue.Queue[schema.TranslationTask]
	orch    *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus:     eventbus.NewMemoryBus(16),
		store:   jobstore.NewMemoryStore(),
		dlQueue: taskqueue.NewMemoryQueue[schema.DownloadTask](8),
		trQueue: taskqueue.NewMemoryQueue[schema.TranslationTask](8),
	}
	h.orch = New(h.bus, h.store, Config{
		DownloadQueue:    h.dlQueue,
		TranslationQueue: h.trQueue,
		Dedup:            dedup.NewMemoryDedup(time.Hour),
		Retry:            RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	return h
}

func (h *harness) publish(t *testing.T, evt schema.Envelope) {
	t.Helper()
	require.NoError(t, h.bus.Publish(context.Background(), evt))
}

func runFor(ctx context.Context, orch *Orchestrator) {
	go func() { _ = orch.Run(ctx) }()
}

func TestHandleSubtitleRequestedQueuesDownloadAndUpsertsJob(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runFor(ctx, h.orch)

	jobID := jobid.New()
	payload, err := schema.ToMap(schema.SubtitleRequestedPayload{
		VideoURL: "https://example.com/a", VideoTitle: "A", Language: "en",
	})
	require.NoError(t, err)
	h.publish(t, schema.Envelope{
		EventID: jobid.NewEventID(), EventType: schema.SubtitleRequested, JobID: jobID,
		Timestamp: time.Now().UTC(), Source: "webhook", Payload: payload,
	})

	require.Eventually(t, func() bool {
		job, err := h.store.Get(context.Background(), jobID)
		return err == nil && job.Status == jobstore.DownloadQueued
	}, time.Second, 5*time.Millisecond)

	consumer, err := h.dlQueue.Consume(context.Background())
	require.NoError(t, err)
	defer consumer.Close()
	dctx, dcancel := context.WithTimeout(context.Background(), time.Second)
	defer dcancel()
	delivery, err := consumer.Receive(dctx)
	require.NoError(t, err)
	assert.Equal(t, jobID, delivery.Task.JobID)
	assert.Equal(t, "https://example.com/a", delivery.Task.VideoURL)
}

func TestHandleSubtitleReadyAdvancesToDone(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID := jobid.New()
	_, err := h.store.Upsert(context.Background(), jobstore.UpsertParams{
		JobID: jobID, VideoURL: "u", VideoTitle: "t", Language: "en", Status: jobstore.DownloadQueued,
	})
	require.NoError(t, err)
	_, err = h.store.Advance(context.Background(), jobstore.AdvanceParams{JobID: jobID, EventID: jobid.NewEventID(), To: jobstore.DownloadInProgress})
	require.NoError(t, err)
	// This test isolates handleReady's own advance-to-DONE edge; the real
	// DOWNLOAD_QUEUED -> DOWNLOAD_IN_PROGRESS transition the orchestrator
	// itself makes on a successful enqueue is exercised end-to-end by
	// TestEndToEndReadyPathReachesDone in endtoend_test.go.

	runFor(ctx, h.orch)

	payload, err := schema.ToMap(schema.SubtitleReadyPayload{ResultURL: "s3://bucket/a.srt", Language: "en"})
	require.NoError(t, err)
	h.publish(t, schema.Envelope{
		EventID: jobid.NewEventID(), EventType: schema.SubtitleReady, JobID: jobID,
		Timestamp: time.Now().UTC(), Source: "download-worker", Payload: payload,
	})

	require.Eventually(t, func() bool {
		job, err := h.store.Get(context.Background(), jobID)
		return err == nil && job.Status == jobstore.Done && job.ResultURL == "s3://bucket/a.srt"
	}, time.Second, 5*time.Millisecond)
}

func TestHandleSubtitleReadyIgnoresUnknownJob(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runFor(ctx, h.orch)

	sub, err := h.bus.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	payload, err := schema.ToMap(schema.SubtitleReadyPayload{ResultURL: "x", Language: "en"})
	require.NoError(t, err)
	evt := schema.Envelope{
		EventID: jobid.NewEventID(), EventType: schema.SubtitleReady, JobID: "no-such-job",
		Timestamp: time.Now().UTC(), Source: "download-worker", Payload: payload,
	}
	h.publish(t, evt)

	select {
	case d := <-sub.Events():
		require.Equal(t, evt.EventID, d.Envelope.EventID)
		require.NoError(t, d.Ack(context.Background()))
	case <-time.After(time.Second):
		t.Fatal("delivery never arrived at the test subscriber")
	}

	_, err = h.store.Get(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
}

func TestHandleSubtitleTranslateRequestedQueuesTranslation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID := jobid.New()
	_, err := h.store.Upsert(context.Background(), jobstore.UpsertParams{
		JobID: jobID, VideoURL: "u", VideoTitle: "t", Language: "fr", Status: jobstore.DownloadQueued,
	})
	require.NoError(t, err)
	_, err = h.store.Advance(context.Background(), jobstore.AdvanceParams{JobID: jobID, EventID: jobid.NewEventID(), To: jobstore.DownloadInProgress})
	require.NoError(t, err)
	// This test isolates handleTranslateRequested's own advance-to-
	// TRANSLATE_QUEUED edge; the full chain through a real download worker
	// is exercised end-to-end by TestEndToEndTranslationPathReachesDone
	// in endtoend_test.go.

	runFor(ctx, h.orch)

	payload, err := schema.ToMap(schema.SubtitleTranslateRequestedPayload{
		SubtitleFilePath: "/tmp/a.en.srt", SourceLanguage: "en", TargetLanguage: "fr",
	})
	require.NoError(t, err)
	h.publish(t, schema.Envelope{
		EventID: jobid.NewEventID(), EventType: schema.SubtitleTranslateRequested, JobID: jobID,
		Timestamp: time.Now().UTC(), Source: "download-worker", Payload: payload,
	})

	require.Eventually(t, func() bool {
		job, err := h.store.Get(context.Background(), jobID)
		return err == nil && job.Status == jobstore.TranslateQueued
	}, time.Second, 5*time.Millisecond)

	consumer, err := h.trQueue.Consume(context.Background())
	require.NoError(t, err)
	defer consumer.Close()
	dctx, dcancel := context.WithTimeout(context.Background(), time.Second)
	defer dcancel()
	delivery, err := consumer.Receive(dctx)
	require.NoError(t, err)
	assert.Equal(t, "fr", delivery.Task.TargetLanguage)
}

func TestHandleJobFailedAdvancesToFailed(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID := jobid.New()
	_, err := h.store.Upsert(context.Background(), jobstore.UpsertParams{
		JobID: jobID, VideoURL: "u", VideoTitle: "t", Language: "en", Status: jobstore.DownloadQueued,
	})
	require.NoError(t, err)

	runFor(ctx, h.orch)

	payload, err := schema.ToMap(schema.JobFailedPayload{ErrorType: "not_found", ErrorMessage: "no candidates"})
	require.NoError(t, err)
	h.publish(t, schema.Envelope{
		EventID: jobid.NewEventID(), EventType: schema.JobFailed, JobID: jobID,
		Timestamp: time.Now().UTC(), Source: "download-worker", Payload: payload,
	})

	require.Eventually(t, func() bool {
		job, err := h.store.Get(context.Background(), jobID)
		return err == nil && job.Status == jobstore.Failed && job.ErrorMessage == "no candidates"
	}, time.Second, 5*time.Millisecond)
}

func TestUnknownEventTypeIsAckedWithoutReconciliation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runFor(ctx, h.orch)

	jobID := jobid.New()
	h.publish(t, schema.Envelope{
		EventID: jobid.NewEventID(), EventType: schema.EventType("some.other.event"), JobID: jobID,
		Timestamp: time.Now().UTC(), Source: "test", Payload: map[string]interface{}{},
	})

	// No job was ever created, and none should be: the default branch
	// does nothing beyond logging. This mainly asserts Run doesn't panic
	// or block on an event type outside the dispatch table.
	time.Sleep(50 * time.Millisecond)
	_, err := h.store.Get(context.Background(), jobID)
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
}

func TestDuplicateSubtitleRequestedFromDifferentJobIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runFor(ctx, h.orch)

	firstJobID := jobid.New()
	payload, err := schema.ToMap(schema.SubtitleRequestedPayload{VideoURL: "https://example.com/dup", VideoTitle: "D", Language: "en"})
	require.NoError(t, err)
	h.publish(t, schema.Envelope{
		EventID: jobid.NewEventID(), EventType: schema.SubtitleRequested, JobID: firstJobID,
		Timestamp: time.Now().UTC(), Source: "webhook", Payload: payload,
	})
	require.Eventually(t, func() bool {
		job, err := h.store.Get(context.Background(), firstJobID)
		return err == nil && job.Status == jobstore.DownloadQueued
	}, time.Second, 5*time.Millisecond)

	secondJobID := jobid.New()
	h.publish(t, schema.Envelope{
		EventID: jobid.NewEventID(), EventType: schema.SubtitleRequested, JobID: secondJobID,
		Timestamp: time.Now().UTC(), Source: "webhook", Payload: payload,
	})

	time.Sleep(50 * time.Millisecond)
	_, err = h.store.Get(context.Background(), secondJobID)
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
}
