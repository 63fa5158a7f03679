// Package jobid centralizes every derived identifier and path in the system
// — job IDs, event IDs, the dedup key, and the checkpoint file path — in one
// place, per spec Design Notes §9 ("Checkpoint file path derived by
// string-joining. Centralize in one function to avoid drift; never expose
// raw paths in events."). Nothing outside this package builds these strings
// by hand.
package jobid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// New returns a fresh job ID, assigned at ingress per spec §3.
func New() string {
	return uuid.NewString()
}

// NewEventID returns a fresh event ID for idempotent-transition tracking
// per spec §4.1 ("State updates are idempotent on event_id").
func NewEventID() string {
	return uuid.NewString()
}

// DedupKey computes the deduplication record key for (videoURL, language)
// per spec §4.3: dedup:{sha256(video_url + ":" + language)}:{language}.
func DedupKey(videoURL, language string) string {
	sum := sha256.Sum256([]byte(videoURL + ":" + language))
	return fmt.Sprintf("dedup:%s:%s", hex.EncodeToString(sum[:]), language)
}

// CheckpointPath computes the deterministic checkpoint file path per spec
// §4.4.4: {checkpoint_root}/{job_id}.{target_language}.checkpoint.
func CheckpointPath(checkpointRoot, jobID, targetLanguage string) string {
	name := fmt.Sprintf("%s.%s.checkpoint", jobID, targetLanguage)
	return filepath.Join(checkpointRoot, name)
}

// JobKey computes the job-store key for a job per spec §6.4: job:{job_id}.
func JobKey(jobID string) string {
	return "job:" + jobID
}

// EventLogKey computes the job-store key for a job's event log per spec
// §6.4: job:events:{job_id}.
func EventLogKey(jobID string) string {
	return "job:events:" + jobID
}

// SanitizeForPath strips path separators from a value before it is used to
// build a derived path, so a malformed job ID or language code can never
// escape the checkpoint root.
func SanitizeForPath(value string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return replacer.Replace(value)
}
