// Package jobstore owns the Job and per-job Event records (spec §3, §4.1):
// the canonical job state machine, its durable store, and the append-only
// event log mirrored into it by the orchestrator. Grounded on the teacher's
// internal/storage Repository/Option pattern, generalized from a
// viewer-platform datastore to the job-state machine this spec requires.
package jobstore

import (
	"fmt"
	"time"
)

// Status is one of the seven job states in spec §4.1.
type Status string

const (
	Pending              Status = "PENDING"
	DownloadQueued       Status = "DOWNLOAD_QUEUED"
	DownloadInProgress   Status = "DOWNLOAD_IN_PROGRESS"
	TranslateQueued      Status = "TRANSLATE_QUEUED"
	TranslateInProgress  Status = "TRANSLATE_IN_PROGRESS"
	Done                 Status = "DONE"
	Failed               Status = "FAILED"
)

// Terminal reports whether status is one of the two terminal states.
func (s Status) Terminal() bool {
	return s == Done || s == Failed
}

// transitions enumerates the legal edges of the state machine in spec
// §4.1. A transition not present here never changes status; the triggering
// event is still recorded in the event log (§4.1: "A transition that would
// move backward ... is recorded in the event log but does not alter
// status").
var transitions = map[Status]map[Status]bool{
	Pending:             {DownloadQueued: true},
	DownloadQueued:      {DownloadInProgress: true},
	DownloadInProgress:  {Done: true, TranslateQueued: true},
	TranslateQueued:     {TranslateInProgress: true},
	TranslateInProgress: {Done: true},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge.
// FAILED is reachable from any non-terminal state, per spec §4.1's
// "(any non-terminal) ──(JOB_FAILED)──▶ FAILED".
func CanTransition(from, to Status) bool {
	if to == Failed {
		return !from.Terminal()
	}
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Job is the canonical unit of work (spec §3).
type Job struct {
	JobID          string
	VideoURL       string
	VideoTitle     string
	Language       string
	TargetLanguage string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ResultURL      string
	SubtitlePath   string
	ErrorMessage   string
	Metadata       map[string]string
}

// Clone returns a deep-enough copy safe for callers to mutate without
// aliasing the store's internal state.
func (j Job) Clone() Job {
	out := j
	if j.Metadata != nil {
		out.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Event is one append-only record in a job's event log (spec §3).
type Event struct {
	EventID   string
	EventType string
	Timestamp time.Time
	Source    string
	Payload   map[string]interface{}
}

// ErrNotFound is returned when a job ID has no record in the store.
var ErrNotFound = fmt.Errorf("jobstore: job not found")

// ErrIllegalTransition is returned by Advance when the requested status
// change is not a legal edge, including FAILED on a terminal job (callers should treat this
// the same as a successful no-op mutation per spec §4.1, but the distinct
// error lets tests assert on it).
var ErrIllegalTransition = fmt.Errorf("jobstore: illegal state transition")
