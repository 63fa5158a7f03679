package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yairabf/subtitlex/internal/errkind"
	"github.com/yairabf/subtitlex/internal/eventbus"
	"github.com/yairabf/subtitlex/internal/jobid"
	"github.com/yairabf/subtitlex/internal/metrics"
	"github.com/yairabf/subtitlex/internal/schema"
	"github.com/yairabf/subtitlex/internal/taskqueue"
)

// Config parameterizes the worker per spec §4.5.
type Config struct {
	// FallbackLanguage is searched when the desired language yields no
	// candidates (spec §4.5 step 3). Default "en".
	FallbackLanguage string
	Logger           *slog.Logger

	// Metrics is optional; a nil Metrics is a no-op.
	Metrics *metrics.Recorder
}

func (c Config) withDefaults() Config {
	if c.FallbackLanguage == "" {
		c.FallbackLanguage = "en"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Worker consumes DownloadTask deliveries and drives each through search,
// download, and the fallback-to-translation decision of spec §4.5.
type Worker struct {
	consumer taskqueue.Consumer[schema.DownloadTask]
	bus      eventbus.Bus
	gateway  Gateway
	cfg      Config
}

// New constructs a Worker.
func New(consumer taskqueue.Consumer[schema.DownloadTask], bus eventbus.Bus, gateway Gateway, cfg Config) *Worker {
	return &Worker{consumer: consumer, bus: bus, gateway: gateway, cfg: cfg.withDefaults()}
}

// Run processes deliveries until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		delivery, err := w.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive download task: %w", err)
		}
		w.process(ctx, delivery)
	}
}

func (w *Worker) process(ctx context.Context, delivery taskqueue.Delivery[schema.DownloadTask]) {
	task := delivery.Task
	logger := w.cfg.Logger.With("job_id", task.JobID, "language", task.Language)

	err := w.download(ctx, task, logger)
	if err == nil {
		if ackErr := delivery.Ack(ctx); ackErr != nil {
			logger.Error("ack after successful download failed", "error", ackErr)
		}
		return
	}

	if errkind.Retryable(err) {
		logger.Warn("download task failed transiently, requeuing", "error", err)
		if nackErr := delivery.Nack(ctx); nackErr != nil {
			logger.Error("nack after transient download failure failed", "error", nackErr)
		}
		return
	}

	logger.Error("download task failed permanently", "error", err)
	// Terminal failure already recorded via JOB_FAILED; Ack so the task is
	// not retried forever (same reasoning as the translation worker).
	if ackErr := delivery.Ack(ctx); ackErr != nil {
		logger.Error("ack after permanent download failure failed", "error", ackErr)
	}
}

func (w *Worker) download(ctx context.Context, task schema.DownloadTask, logger *slog.Logger) error {
	candidates, searchErr := w.gateway.Search(ctx, task.VideoTitle, "", task.Language)
	if searchErr == nil && len(candidates) > 0 {
		storedPath, err := w.gateway.Download(ctx, bestOf(candidates))
		if err == nil {
			return w.emitReady(ctx, task, storedPath)
		}
		searchErr = err
	}

	// A rate-limit on the primary search/download fails the job outright
	// (spec §4.5): the same provider is the one the fallback search would
	// hit, so retrying via fallback would just hit the same limit.
	if searchErr != nil {
		if isRateLimit(searchErr) {
			return w.emitFailed(ctx, task, searchErr.Error(), "rate_limit")
		}
		if errkind.Retryable(searchErr) {
			return searchErr
		}
		logger.Warn("primary provider search/download failed, falling back", "error", searchErr)
	}

	// No candidates in the desired language, or a non-rate-limit provider
	// error: try the fallback language per spec §4.5 step 3, annotating
	// the resulting event with the cause when the fallback was triggered
	// by an error rather than a genuine empty result.
	var reason string
	if searchErr != nil {
		reason = searchErr.Error()
	}

	fallbackCandidates, err := w.gateway.Search(ctx, task.VideoTitle, "", w.cfg.FallbackLanguage)
	if err != nil {
		if isRateLimit(err) {
			return w.emitFailed(ctx, task, err.Error(), "rate_limit")
		}
		if errkind.Retryable(err) {
			return err
		}
		return w.emitFailed(ctx, task, err.Error(), "provider_error")
	}
	if len(fallbackCandidates) == 0 {
		return w.emitFailed(ctx, task, "subtitle_not_found", "not_found")
	}

	storedPath, err := w.gateway.Download(ctx, bestOf(fallbackCandidates))
	if err != nil {
		if isRateLimit(err) {
			return w.emitFailed(ctx, task, err.Error(), "rate_limit")
		}
		if errkind.Retryable(err) {
			return err
		}
		return w.emitFailed(ctx, task, err.Error(), "provider_error")
	}
	return w.emitTranslateRequested(ctx, task, storedPath, reason)
}

func bestOf(candidates []Candidate) Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best
}

func isRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RateLimitError marks a provider error as rate-limiting, distinguishing
// it from other transient infrastructure errors so it can be classified
// into JOB_FAILED kind "rate_limit" per spec §4.5 rather than retried.
type RateLimitError struct{ Err error }

func (e *RateLimitError) Error() string { return e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

func (w *Worker) emitReady(ctx context.Context, task schema.DownloadTask, storedPath string) error {
	return w.publishTyped(ctx, schema.SubtitleReady, task.JobID, schema.SubtitleReadyPayload{
		ResultURL: storedPath,
		Language:  task.Language,
	})
}

func (w *Worker) emitTranslateRequested(ctx context.Context, task schema.DownloadTask, storedPath, reason string) error {
	return w.publishTyped(ctx, schema.SubtitleTranslateRequested, task.JobID, schema.SubtitleTranslateRequestedPayload{
		SubtitleFilePath: storedPath,
		SourceLanguage:   w.cfg.FallbackLanguage,
		TargetLanguage:   task.Language,
		Reason:           reason,
	})
}

func (w *Worker) emitFailed(ctx context.Context, task schema.DownloadTask, reason, kind string) error {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.JobFailed("download-worker")
	}
	return w.publishTyped(ctx, schema.JobFailed, task.JobID, schema.JobFailedPayload{
		ErrorType:    kind,
		ErrorMessage: reason,
	})
}

func (w *Worker) publishTyped(ctx context.Context, eventType schema.EventType, jobID string, typedPayload interface{}) error {
	payload, err := schema.ToMap(typedPayload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return w.bus.Publish(ctx, schema.Envelope{
		EventID:   jobid.NewEventID(),
		EventType: eventType,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
		Source:    "download-worker",
		Payload:   payload,
	})
}
