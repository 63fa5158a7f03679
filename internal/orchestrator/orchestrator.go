// Package orchestrator implements the single writer of task-queue messages
// and single reconciler of job-store state (spec §4.2): it consumes
// subtitle.* / job.* events off the event bus, upserts and advances Job
// records, and is the only component that ever enqueues onto
// subtitle.download or subtitle.translation. Grounded on the teacher's
// internal/chat/gateway.go event-dispatch switch, generalized from a single
// chat-message-type switch to the job lifecycle's event types, and on the
// teacher's internal/ingest/adapters.go doWithRetry for the bounded
// publish-retry helper.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yairabf/subtitlex/internal/dedup"
	"github.com/yairabf/subtitlex/internal/errkind"
	"github.com/yairabf/subtitlex/internal/eventbus"
	"github.com/yairabf/subtitlex/internal/jobid"
	"github.com/yairabf/subtitlex/internal/jobstore"
	"github.com/yairabf/subtitlex/internal/metrics"
	"github.com/yairabf/subtitlex/internal/schema"
	"github.com/yairabf/subtitlex/internal/taskqueue"
)

// RetryConfig bounds the exponential backoff applied to bus/queue publish
// failures before a job is failed outright (spec §4.2 "Bus/queue publish
// failures: retry with exponential backoff; if still failing after
// configured retries, update the job to FAILED").
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 500 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
	return c
}

// Config parameterizes the Orchestrator.
type Config struct {
	DownloadQueue    taskqueue.Queue[schema.DownloadTask]
	TranslationQueue taskqueue.Queue[schema.TranslationTask]
	Dedup            dedup.Service
	Retry            RetryConfig
	Logger           *slog.Logger

	// Metrics is optional; a nil Metrics is a no-op.
	Metrics *metrics.Recorder
}

func (c Config) withDefaults() Config {
	c.Retry = c.Retry.withDefaults()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func (o *Orchestrator) recordTransition(status jobstore.Status) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.JobTransitioned(string(status))
	}
}

func (o *Orchestrator) recordFailure(component string) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.JobFailed(component)
	}
}

// Orchestrator is the event consumer of spec §4.2.
type Orchestrator struct {
	bus   eventbus.Bus
	store jobstore.Store
	cfg   Config
}

// New constructs an Orchestrator.
func New(bus eventbus.Bus, store jobstore.Store, cfg Config) *Orchestrator {
	return &Orchestrator{bus: bus, store: store, cfg: cfg.withDefaults()}
}

// Run subscribes to every event type and processes deliveries until ctx is
// done. Bus patterns are matched by exact routing key, not glob, so
// "reconciles subtitle.* and job.*" (spec §4.2) is implemented by
// subscribing unfiltered and letting dispatch's default branch log-and-ack
// anything outside the handled set (audit-only events like
// media.file.detected included). Multiple Run goroutines (in this process
// or others) may consume concurrently; the bus's own fan-out plus this
// Orchestrator's reliance on idempotent dedup/Advance calls make concurrent
// reconciliation safe (spec §4.2 "Concurrency").
func (o *Orchestrator) Run(ctx context.Context) error {
	sub, err := o.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: subscribe: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-sub.Events():
			if !ok {
				return nil
			}
			o.process(ctx, d)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, d eventbus.Delivery) {
	logger := o.cfg.Logger.With(
		"event_type", d.Envelope.EventType,
		"job_id", d.Envelope.JobID,
		"event_id", d.Envelope.EventID,
	)

	err := o.dispatch(ctx, d.Envelope, logger)
	if err == nil {
		o.ack(ctx, d, logger)
		return
	}

	if errkind.Retryable(err) {
		// State-store (or other infrastructure) failure: spec §4.2 "NACK
		// with requeue so that a later attempt can reconcile". The event
		// bus's Delivery exposes no Nack; withholding Ack is this bus's
		// equivalent of requeue, since an unacked message is redelivered.
		logger.Error("reconciliation hit a transient failure, leaving unacked for redelivery", "error", err)
		return
	}

	logger.Error("reconciliation failed terminally, acking to avoid endless redelivery", "error", err)
	o.ack(ctx, d, logger)
}

func (o *Orchestrator) ack(ctx context.Context, d eventbus.Delivery, logger *slog.Logger) {
	if err := d.Ack(ctx); err != nil {
		logger.Error("ack failed", "error", err)
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, evt schema.Envelope, logger *slog.Logger) error {
	switch evt.EventType {
	case schema.SubtitleRequested:
		return o.handleRequested(ctx, evt, logger)
	case schema.SubtitleReady:
		return o.handleReady(ctx, evt, logger)
	case schema.SubtitleTranslateRequested:
		return o.handleTranslateRequested(ctx, evt, logger)
	case schema.SubtitleTranslated:
		return o.handleTranslated(ctx, evt, logger)
	case schema.TranslationCompleted:
		return o.handleTranslationCompleted(ctx, evt, logger)
	case schema.JobFailed:
		return o.handleFailed(ctx, evt, logger)
	default:
		// Spec §4.2: "Unknown event type: log and acknowledge; never NACK
		// for unknown types." media.file.detected also lands here: it is
		// audit-only and needs no reconciliation.
		logger.Info("no reconciliation action for this event type")
		return nil
	}
}

// handleRequested implements spec §4.2's SUBTITLE_REQUESTED contract.
func (o *Orchestrator) handleRequested(ctx context.Context, evt schema.Envelope, logger *slog.Logger) error {
	var payload schema.SubtitleRequestedPayload
	if err := schema.Decode(evt.Payload, &payload); err != nil {
		logger.Error("malformed subtitle.requested payload, dropping", "error", err)
		return nil
	}

	// Step 1: defense-in-depth dedup (spec §4.3). The ingress adapter
	// already registered this exact job_id under this key before
	// publishing, so the expected outcome here is is_duplicate=true with
	// existing_job_id == evt.JobID — that is not a real duplicate, just
	// this orchestrator observing its own ingress-side registration for
	// the first time. A different existing_job_id means some path bypassed
	// ingress-level dedup; that is the "scanner bypassed" case.
	isDuplicate, existingJobID, err := o.cfg.Dedup.CheckAndRegister(ctx, payload.VideoURL, payload.Language, evt.JobID)
	if err != nil {
		return errkind.Wrap(errkind.TransientInfrastructure, fmt.Errorf("dedup check: %w", err))
	}
	if isDuplicate && existingJobID != evt.JobID {
		logger.Warn("duplicate request reached orchestrator, scanner bypassed", "existing_job_id", existingJobID)
		return nil
	}

	// Step 2: upsert with source provenance.
	metadata := mergeSourceMetadata(payload.Metadata, evt.Source)
	if _, err := o.store.Upsert(ctx, jobstore.UpsertParams{
		JobID:      evt.JobID,
		VideoURL:   payload.VideoURL,
		VideoTitle: payload.VideoTitle,
		Language:   payload.Language,
		Status:     jobstore.DownloadQueued,
		Metadata:   metadata,
	}); err != nil {
		return errkind.Wrap(errkind.TransientInfrastructure, fmt.Errorf("upsert job: %w", err))
	}
	o.recordTransition(jobstore.DownloadQueued)

	// Step 3: publish the Download Task, retrying with backoff before
	// failing the job outright.
	task := schema.DownloadTask{
		JobID:      evt.JobID,
		VideoURL:   payload.VideoURL,
		VideoTitle: payload.VideoTitle,
		Language:   payload.Language,
	}
	if err := o.withRetry(ctx, func() error { return o.cfg.DownloadQueue.Enqueue(ctx, task) }); err != nil {
		return o.failJob(ctx, evt.JobID, "enqueue download task", err, logger)
	}

	// Step 4: the task is now in the download worker's hands; advance past
	// the queued state so the worker's eventual SUBTITLE_READY or
	// SUBTITLE_TRANSLATE_REQUESTED lands on a legal edge. This transition
	// is internal (not driven by an incoming event), so it adds no entry
	// to the job's event log.
	if err := o.advance(ctx, jobstore.AdvanceParams{
		JobID:   evt.JobID,
		EventID: jobid.NewEventID(),
		To:      jobstore.DownloadInProgress,
	}, logger); err != nil {
		return err
	}

	// Step 5: record the event in the job's event log.
	return o.recordEvent(ctx, evt)
}

// handleReady implements spec §4.2's SUBTITLE_READY contract.
func (o *Orchestrator) handleReady(ctx context.Context, evt schema.Envelope, logger *slog.Logger) error {
	var payload schema.SubtitleReadyPayload
	if err := schema.Decode(evt.Payload, &payload); err != nil {
		logger.Error("malformed subtitle.ready payload, dropping", "error", err)
		return nil
	}

	if _, err := o.store.Get(ctx, evt.JobID); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			logger.Warn("subtitle.ready for unknown job_id, ignoring")
			return nil
		}
		return errkind.Wrap(errkind.TransientInfrastructure, fmt.Errorf("lookup job: %w", err))
	}

	if err := o.advance(ctx, jobstore.AdvanceParams{
		JobID:     evt.JobID,
		EventID:   evt.EventID,
		To:        jobstore.Done,
		ResultURL: payload.ResultURL,
	}, logger); err != nil {
		return err
	}
	return o.recordEvent(ctx, evt)
}

// handleTranslateRequested implements spec §4.2's SUBTITLE_TRANSLATE_REQUESTED
// contract: transition to TRANSLATE_QUEUED and publish a Translation Task.
func (o *Orchestrator) handleTranslateRequested(ctx context.Context, evt schema.Envelope, logger *slog.Logger) error {
	var payload schema.SubtitleTranslateRequestedPayload
	if err := schema.Decode(evt.Payload, &payload); err != nil {
		logger.Error("malformed subtitle.translate.requested payload, dropping", "error", err)
		return nil
	}

	if err := o.advance(ctx, jobstore.AdvanceParams{
		JobID:          evt.JobID,
		EventID:        evt.EventID,
		To:             jobstore.TranslateQueued,
		TargetLanguage: payload.TargetLanguage,
	}, logger); err != nil {
		return err
	}
	if err := o.recordEvent(ctx, evt); err != nil {
		return err
	}

	task := schema.TranslationTask{
		JobID:            evt.JobID,
		SubtitleFilePath: payload.SubtitleFilePath,
		SourceLanguage:   payload.SourceLanguage,
		TargetLanguage:   payload.TargetLanguage,
	}
	if err := o.withRetry(ctx, func() error { return o.cfg.TranslationQueue.Enqueue(ctx, task) }); err != nil {
		return o.failJob(ctx, evt.JobID, "enqueue translation task", err, logger)
	}

	// The task is now in the translation worker's hands; advance past the
	// queued state so TRANSLATION_COMPLETED/SUBTITLE_TRANSLATED land on a
	// legal edge. Internal transition, no event log entry.
	return o.advance(ctx, jobstore.AdvanceParams{
		JobID:   evt.JobID,
		EventID: jobid.NewEventID(),
		To:      jobstore.TranslateInProgress,
	}, logger)
}

// handleTranslated implements spec §4.2's SUBTITLE_TRANSLATED contract.
func (o *Orchestrator) handleTranslated(ctx context.Context, evt schema.Envelope, logger *slog.Logger) error {
	var payload schema.SubtitleTranslatedPayload
	if err := schema.Decode(evt.Payload, &payload); err != nil {
		logger.Error("malformed subtitle.translated payload, dropping", "error", err)
		return nil
	}

	if err := o.advance(ctx, jobstore.AdvanceParams{
		JobID:        evt.JobID,
		EventID:      evt.EventID,
		To:           jobstore.Done,
		SubtitlePath: payload.SubtitlePath,
	}, logger); err != nil {
		return err
	}
	return o.recordEvent(ctx, evt)
}

// handleTranslationCompleted implements spec §4.2's TRANSLATION_COMPLETED
// contract. It may arrive before SUBTITLE_TRANSLATED, so its own attempt to
// advance to DONE is allowed to be an illegal no-op; the event is recorded
// either way so the job's timing/event log is complete.
func (o *Orchestrator) handleTranslationCompleted(ctx context.Context, evt schema.Envelope, logger *slog.Logger) error {
	var payload schema.TranslationCompletedPayload
	if err := schema.Decode(evt.Payload, &payload); err != nil {
		logger.Error("malformed translation.completed payload, dropping", "error", err)
		return nil
	}

	if err := o.advance(ctx, jobstore.AdvanceParams{
		JobID:        evt.JobID,
		EventID:      evt.EventID,
		To:           jobstore.Done,
		SubtitlePath: payload.SubtitlePath,
	}, logger); err != nil {
		return err
	}
	return o.recordEvent(ctx, evt)
}

// handleFailed implements spec §4.2's JOB_FAILED contract.
func (o *Orchestrator) handleFailed(ctx context.Context, evt schema.Envelope, logger *slog.Logger) error {
	var payload schema.JobFailedPayload
	if err := schema.Decode(evt.Payload, &payload); err != nil {
		logger.Error("malformed job.failed payload, dropping", "error", err)
		return nil
	}

	if err := o.advance(ctx, jobstore.AdvanceParams{
		JobID:        evt.JobID,
		EventID:      evt.EventID,
		To:           jobstore.Failed,
		ErrorMessage: payload.ErrorMessage,
	}, logger); err != nil {
		return err
	}
	return o.recordEvent(ctx, evt)
}

// advance wraps Store.Advance, logging (without failing) an illegal
// transition per spec §4.1 and classifying any other error as a retryable
// infrastructure failure.
func (o *Orchestrator) advance(ctx context.Context, params jobstore.AdvanceParams, logger *slog.Logger) error {
	if _, err := o.store.Advance(ctx, params); err != nil {
		if errors.Is(err, jobstore.ErrIllegalTransition) {
			logger.Warn("event recorded but status left unchanged: not a legal transition", "to", params.To)
			return nil
		}
		return errkind.Wrap(errkind.TransientInfrastructure, fmt.Errorf("advance job to %s: %w", params.To, err))
	}
	o.recordTransition(params.To)
	return nil
}

// recordEvent appends evt to the job's event log, skipping the append if
// this event_id was already recorded (idempotent redelivery handling,
// independent of Advance's own event_id dedup on the status transition).
func (o *Orchestrator) recordEvent(ctx context.Context, evt schema.Envelope) error {
	already, err := o.store.HasEvent(ctx, evt.JobID, evt.EventID)
	if err != nil {
		return errkind.Wrap(errkind.TransientInfrastructure, fmt.Errorf("check existing event: %w", err))
	}
	if already {
		return nil
	}
	if err := o.store.RecordEvent(ctx, evt.JobID, jobstore.Event{
		EventID:   evt.EventID,
		EventType: string(evt.EventType),
		Timestamp: evt.Timestamp,
		Source:    evt.Source,
		Payload:   evt.Payload,
	}); err != nil {
		return errkind.Wrap(errkind.TransientInfrastructure, fmt.Errorf("record event: %w", err))
	}
	return nil
}

// failJob marks jobID FAILED after a publish operation has exhausted its
// retries (spec §4.2 "update the job to FAILED with an internal error and
// NACK the triggering message without requeue"). If recording the failure
// itself hits a store error, that is left retryable so the terminal state
// is not silently lost; otherwise the original cause is returned as a
// non-retryable error so the caller acks (no-requeue).
func (o *Orchestrator) failJob(ctx context.Context, jobID, action string, cause error, logger *slog.Logger) error {
	logger.Error("exhausted retries, failing job", "action", action, "error", cause)
	if _, err := o.store.Advance(ctx, jobstore.AdvanceParams{
		JobID:        jobID,
		EventID:      jobid.NewEventID(),
		To:           jobstore.Failed,
		ErrorMessage: fmt.Sprintf("%s: %v", action, cause),
	}); err != nil {
		return errkind.Wrap(errkind.TransientInfrastructure, fmt.Errorf("record job failure after %s: %w", action, err))
	}
	o.recordTransition(jobstore.Failed)
	o.recordFailure("orchestrator")
	return fmt.Errorf("%s failed after retries: %w", action, cause)
}

// withRetry runs op with exponential backoff, honoring ctx cancellation
// between attempts. Grounded on the teacher's doWithRetry (internal/ingest)
// generalized from an HTTP-status-classified retry to an unconditional
// bounded retry, since a queue Enqueue failure carries no status to
// classify by.
func (o *Orchestrator) withRetry(ctx context.Context, op func() error) error {
	cfg := o.cfg.Retry
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}

func mergeSourceMetadata(payloadMetadata map[string]string, source string) map[string]string {
	out := make(map[string]string, len(payloadMetadata)+1)
	for k, v := range payloadMetadata {
		out[k] = v
	}
	out["ingress_source"] = source
	return out
}
