// Package checkpoint persists and resumes translation progress per spec
// §4.4.4: a checkpoint is written after each successfully translated chunk
// so a crashed or redelivered task can resume instead of re-translating
// from the start. Grounded on the teacher's filesystem-artifact handling
// in internal/ingest/adapters.go (plain os/encoding-json file I/O, no
// library in the pack does structured local persistence), generalized
// from write-once media artifacts to a resumable, idempotent file.
package checkpoint

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/yairabf/subtitlex/internal/errkind"
	"github.com/yairabf/subtitlex/internal/jobid"
	"github.com/yairabf/subtitlex/internal/translate/llm"
)

// Checkpoint mirrors the schema spec §3 names: job identity, the task
// parameters it was taken against (so a stale checkpoint from a different
// task shape can be detected and discarded), and progress so far.
type Checkpoint struct {
	JobID                   string                  `json:"job_id"`
	SubtitleFilePath        string                  `json:"subtitle_file_path"`
	SourceLanguage          string                  `json:"source_language"`
	TargetLanguage          string                  `json:"target_language"`
	TotalChunks             int                     `json:"total_chunks"`
	CompletedChunkIndices   []int                   `json:"completed_chunk_indices"`
	TranslatedSegmentsSoFar []llm.TranslatedSegment `json:"translated_segments_so_far"`
	CreatedAt               time.Time               `json:"created_at"`
	UpdatedAt               time.Time               `json:"updated_at"`
}

// MatchesTask reports whether the checkpoint was taken against the same
// task parameters the worker is currently processing (spec §4.4.4: "must
// match the current task; otherwise discard the checkpoint").
func (c Checkpoint) MatchesTask(subtitleFilePath, sourceLanguage, targetLanguage string, totalChunks int) bool {
	return c.SubtitleFilePath == subtitleFilePath &&
		c.SourceLanguage == sourceLanguage &&
		c.TargetLanguage == targetLanguage &&
		c.TotalChunks == totalChunks
}

// IsChunkCompleted reports whether chunkIndex has already been translated,
// making load+resume idempotent on chunk index (spec §4.4.5's redelivery
// note: "the checkpoint is idempotent (keyed by chunk index)").
func (c Checkpoint) IsChunkCompleted(chunkIndex int) bool {
	for _, i := range c.CompletedChunkIndices {
		if i == chunkIndex {
			return true
		}
	}
	return false
}

// Store reads and writes checkpoint files at the deterministic path
// internal/jobid.CheckpointPath derives. Writes are best-effort: a
// checkpoint I/O failure is logged and swallowed (errkind.CheckpointError),
// never propagated to the translation task (spec §4.4.4, §7).
type Store struct {
	Root   string
	Logger *slog.Logger
}

// NewStore constructs a Store rooted at checkpointRoot.
func NewStore(checkpointRoot string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{Root: checkpointRoot, Logger: logger}
}

func (s *Store) path(jobID, targetLanguage string) string {
	return jobid.CheckpointPath(s.Root, jobid.SanitizeForPath(jobID), jobid.SanitizeForPath(targetLanguage))
}

// Load reads the checkpoint for (jobID, targetLanguage), if one exists. A
// missing file is not an error: found is false and err is nil. A read or
// decode failure is logged as a CHECKPOINT_ERROR and treated the same as
// "not found" — the worker starts fresh rather than failing the task.
func (s *Store) Load(jobID, targetLanguage string) (cp Checkpoint, found bool, err error) {
	path := s.path(jobID, targetLanguage)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		s.Logger.Warn("checkpoint read failed, starting translation fresh",
			"job_id", jobID, "path", path, "error", errkind.Wrap(errkind.CheckpointError, err))
		return Checkpoint{}, false, nil
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		s.Logger.Warn("checkpoint decode failed, starting translation fresh",
			"job_id", jobID, "path", path, "error", errkind.Wrap(errkind.CheckpointError, err))
		return Checkpoint{}, false, nil
	}
	return cp, true, nil
}

// Save writes cp to its deterministic path, creating the root directory if
// needed. Failures are logged and swallowed — a checkpoint write never
// fails the translation task (spec §4.4.4).
func (s *Store) Save(cp Checkpoint) {
	path := s.path(cp.JobID, cp.TargetLanguage)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.Logger.Warn("checkpoint directory creation failed",
			"job_id", cp.JobID, "path", path, "error", errkind.Wrap(errkind.CheckpointError, err))
		return
	}
	data, err := json.Marshal(cp)
	if err != nil {
		s.Logger.Warn("checkpoint encode failed",
			"job_id", cp.JobID, "path", path, "error", errkind.Wrap(errkind.CheckpointError, err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.Logger.Warn("checkpoint write failed",
			"job_id", cp.JobID, "path", path, "error", errkind.Wrap(errkind.CheckpointError, err))
		return
	}
}

// Delete removes the checkpoint file on successful task completion (spec
// §4.4.4). A missing file is not an error; any other failure is logged and
// swallowed — a stray checkpoint file does not fail an otherwise-successful
// task.
func (s *Store) Delete(jobID, targetLanguage string) {
	path := s.path(jobID, targetLanguage)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.Logger.Warn("checkpoint delete failed",
			"job_id", jobID, "path", path, "error", errkind.Wrap(errkind.CheckpointError, err))
	}
}
