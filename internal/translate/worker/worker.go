// Package worker implements the Translation Worker loop of spec §4.4: parse
// the source artifact, chunk it within the token budget, translate each
// chunk with retry, checkpoint progress as it goes, merge the results, and
// emit the completion events. Grounded on the teacher's internal/chat
// consumer-loop shape (receive, process, ack-or-nack) generalized with the
// parser/chunker/llm/checkpoint packages plugged in as the translation-
// specific processing step.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/yairabf/subtitlex/internal/errkind"
	"github.com/yairabf/subtitlex/internal/eventbus"
	"github.com/yairabf/subtitlex/internal/jobid"
	"github.com/yairabf/subtitlex/internal/metrics"
	"github.com/yairabf/subtitlex/internal/schema"
	"github.com/yairabf/subtitlex/internal/taskqueue"
	"github.com/yairabf/subtitlex/internal/translate/checkpoint"
	"github.com/yairabf/subtitlex/internal/translate/chunker"
	"github.com/yairabf/subtitlex/internal/translate/llm"
	"github.com/yairabf/subtitlex/internal/translate/parser"
)

// ArtifactStore reads the source subtitle file and writes the translated
// result, keeping the worker itself storage-agnostic (spec's "service-owned
// storage root" applies equally to downloaded and translated artifacts).
type ArtifactStore interface {
	Read(ctx context.Context, path string) (string, error)
	Write(ctx context.Context, jobID, targetLanguage, content string) (storedPath string, err error)
}

// Config parameterizes the worker per spec §4.4.2/§4.4.3 defaults.
type Config struct {
	ChunkConfig chunker.Config
	RetryConfig llm.RetryConfig
	Logger      *slog.Logger

	// Metrics is optional; a nil Metrics is a no-op.
	Metrics *metrics.Recorder
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Worker consumes TranslationTask deliveries and drives each through parse
// -> chunk -> translate -> checkpoint -> merge -> emit.
type Worker struct {
	consumer   taskqueue.Consumer[schema.TranslationTask]
	bus        eventbus.Bus
	gateway    llm.Gateway
	checkpoint *checkpoint.Store
	artifacts  ArtifactStore
	cfg        Config
}

// New constructs a Worker.
func New(consumer taskqueue.Consumer[schema.TranslationTask], bus eventbus.Bus, gateway llm.Gateway, cp *checkpoint.Store, artifacts ArtifactStore, cfg Config) *Worker {
	return &Worker{consumer: consumer, bus: bus, gateway: gateway, checkpoint: cp, artifacts: artifacts, cfg: cfg.withDefaults()}
}

// Run processes deliveries until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		delivery, err := w.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive translation task: %w", err)
		}
		w.process(ctx, delivery)
	}
}

func (w *Worker) process(ctx context.Context, delivery taskqueue.Delivery[schema.TranslationTask]) {
	task := delivery.Task
	logger := w.cfg.Logger.With("job_id", task.JobID, "target_language", task.TargetLanguage)

	if err := w.translate(ctx, task, logger); err != nil {
		logger.Error("translation task failed", "error", err)
		if errors.Is(err, errEmitCompletion) {
			// The completion events did not both go out, so the task is
			// requeued rather than acked; its checkpoint is still on disk.
			if err := delivery.Nack(ctx); err != nil {
				logger.Error("nack after failed completion emission failed", "error", err)
			}
			return
		}
		// Spec §4.4.3 calls for a NACK without requeue once JOB_FAILED has
		// been emitted: this queue's Nack always requeues, so the
		// equivalent is Ack — the terminal state already lives in
		// JOB_FAILED and the job store; redelivering would only retry a
		// translation that has already exhausted its retries.
		if err := delivery.Ack(ctx); err != nil {
			logger.Error("ack after failed translation task failed", "error", err)
		}
		return
	}
	if err := delivery.Ack(ctx); err != nil {
		logger.Error("ack after successful translation failed", "error", err)
	}
}

func (w *Worker) translate(ctx context.Context, task schema.TranslationTask, logger *slog.Logger) error {
	start := time.Now()

	raw, err := w.artifacts.Read(ctx, task.SubtitleFilePath)
	if err != nil {
		return w.fail(ctx, task, errkind.ParseError, fmt.Errorf("read subtitle artifact: %w", err))
	}
	segments, err := parser.ParseSRT(raw)
	if err != nil {
		return w.fail(ctx, task, errkind.ParseError, fmt.Errorf("parse subtitle artifact: %w", err))
	}

	chunkCfg := w.cfg.ChunkConfig
	if chunkCfg.Model == "" {
		chunkCfg.Model = "claude-sonnet-4-5"
	}
	chunks := chunker.ChunkSegments(segments, chunkCfg)

	cp, found, _ := w.checkpoint.Load(task.JobID, task.TargetLanguage)
	var translated []llm.TranslatedSegment
	completed := map[int]bool{}
	if found && cp.MatchesTask(task.SubtitleFilePath, task.SourceLanguage, task.TargetLanguage, len(chunks)) {
		translated = append(translated, cp.TranslatedSegmentsSoFar...)
		for _, idx := range cp.CompletedChunkIndices {
			completed[idx] = true
		}
		logger.Info("resuming translation from checkpoint", "completed_chunks", len(completed), "total_chunks", len(chunks))
	} else if found {
		logger.Warn("discarding stale checkpoint", "job_id", task.JobID)
	}

	for i, chunk := range chunks {
		if completed[i] {
			continue
		}

		chunkStart := time.Now()
		result, err := llm.TranslateWithRetry(ctx, w.gateway, chunk.Segments, task.SourceLanguage, task.TargetLanguage, chunkCfg.Model, w.cfg.RetryConfig, func(kind errkind.Kind) {
			logger.Warn("retrying translation chunk", "chunk_index", i, "kind", kind)
			if w.cfg.Metrics != nil {
				w.cfg.Metrics.LLMRetry(string(kind))
			}
		})
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.ObserveTranslationChunk(time.Since(chunkStart).Seconds())
		}
		if err != nil {
			w.saveCheckpoint(task, len(chunks), completed, translated)
			return w.fail(ctx, task, classify(err), fmt.Errorf("translate chunk %d: %w", i, err))
		}

		translated = append(translated, result...)
		completed[i] = true
		w.saveCheckpoint(task, len(chunks), completed, translated)
	}

	timestamps := make(map[int]timing, len(segments))
	for _, seg := range segments {
		timestamps[seg.Index] = timing{Start: seg.Start, End: seg.End}
	}

	final := mergeAndRenumber(translated, timestamps)
	serialized := parser.SerializeSRT(final)

	storedPath, err := w.artifacts.Write(ctx, task.JobID, task.TargetLanguage, serialized)
	if err != nil {
		return w.fail(ctx, task, errkind.TransientInfrastructure, fmt.Errorf("write translated artifact: %w", err))
	}

	if err := w.emitCompletion(ctx, task, storedPath, time.Since(start)); err != nil {
		return fmt.Errorf("%w: %w", errEmitCompletion, err)
	}

	w.checkpoint.Delete(task.JobID, task.TargetLanguage)
	return nil
}

func (w *Worker) saveCheckpoint(task schema.TranslationTask, totalChunks int, completed map[int]bool, translated []llm.TranslatedSegment) {
	indices := make([]int, 0, len(completed))
	for idx := range completed {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	now := time.Now().UTC()
	w.checkpoint.Save(checkpoint.Checkpoint{
		JobID:                   task.JobID,
		SubtitleFilePath:        task.SubtitleFilePath,
		SourceLanguage:          task.SourceLanguage,
		TargetLanguage:          task.TargetLanguage,
		TotalChunks:             totalChunks,
		CompletedChunkIndices:   indices,
		TranslatedSegmentsSoFar: translated,
		CreatedAt:               now,
		UpdatedAt:               now,
	})
}

// timing carries a source segment's timestamps, which pass through
// translation unchanged (spec §4.4.3: "only the text is localized").
type timing struct {
	Start, End time.Duration
}

// mergeAndRenumber sorts by original index and renumbers contiguously from
// 1, preserving timestamps verbatim (spec §4.4.5).
func mergeAndRenumber(translated []llm.TranslatedSegment, timestamps map[int]timing) []parser.Segment {
	sorted := make([]llm.TranslatedSegment, len(translated))
	copy(sorted, translated)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	out := make([]parser.Segment, len(sorted))
	for i, seg := range sorted {
		t := timestamps[seg.Index]
		out[i] = parser.Segment{Index: i + 1, Start: t.Start, End: t.End, Text: seg.Text}
	}
	return out
}

// errEmitCompletion marks a translate error raised while publishing the
// completion events.
var errEmitCompletion = errors.New("emit completion events")

// emitCompletion publishes TRANSLATION_COMPLETED then SUBTITLE_TRANSLATED,
// in that order, per spec §4.4.5. The caller acks the task only once both
// have succeeded.
func (w *Worker) emitCompletion(ctx context.Context, task schema.TranslationTask, storedPath string, duration time.Duration) error {
	completedPayload, err := schema.ToMap(schema.TranslationCompletedPayload{
		SourceLanguage:  task.SourceLanguage,
		TargetLanguage:  task.TargetLanguage,
		SubtitlePath:    storedPath,
		DurationSeconds: duration.Seconds(),
	})
	if err != nil {
		return fmt.Errorf("encode translation.completed payload: %w", err)
	}
	completed := schema.Envelope{
		EventID:   jobid.NewEventID(),
		EventType: schema.TranslationCompleted,
		JobID:     task.JobID,
		Timestamp: time.Now().UTC(),
		Source:    "translation-worker",
		Payload:   completedPayload,
	}
	if err := w.bus.Publish(ctx, completed); err != nil {
		return err
	}

	translatedPayload, err := schema.ToMap(schema.SubtitleTranslatedPayload{
		SubtitlePath: storedPath,
		Language:     task.TargetLanguage,
	})
	if err != nil {
		return fmt.Errorf("encode subtitle.translated payload: %w", err)
	}
	translatedEvt := schema.Envelope{
		EventID:   jobid.NewEventID(),
		EventType: schema.SubtitleTranslated,
		JobID:     task.JobID,
		Timestamp: time.Now().UTC(),
		Source:    "translation-worker",
		Payload:   translatedPayload,
	}
	return w.bus.Publish(ctx, translatedEvt)
}

// fail saves no further checkpoint state (the caller already did, where
// applicable), emits JOB_FAILED, and returns an error describing the
// failure for the caller's log line.
func (w *Worker) fail(ctx context.Context, task schema.TranslationTask, kind errkind.Kind, cause error) error {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.JobFailed("translation-worker")
	}
	payload, _ := schema.ToMap(schema.JobFailedPayload{
		ErrorType:    string(kind),
		ErrorMessage: cause.Error(),
	})
	evt := schema.Envelope{
		EventID:   jobid.NewEventID(),
		EventType: schema.JobFailed,
		JobID:     task.JobID,
		Timestamp: time.Now().UTC(),
		Source:    "translation-worker",
		Payload:   payload,
	}
	if pubErr := w.bus.Publish(ctx, evt); pubErr != nil {
		return fmt.Errorf("%w (and JOB_FAILED publish also failed: %v)", cause, pubErr)
	}
	return cause
}

func classify(err error) errkind.Kind {
	if kind, ok := errkind.Of(err); ok {
		return kind
	}
	return errkind.TransientInfrastructure
}

