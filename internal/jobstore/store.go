package jobstore

import (
	"context"
	"time"
)

// TTLConfig holds the per-terminal-state retention windows from spec §6.5.
type TTLConfig struct {
	// Completed is how long a DONE job is retained. Default 7 days.
	Completed time.Duration
	// Failed is how long a FAILED job is retained. Default 3 days.
	Failed time.Duration
	// Active jobs never expire.
}

// DefaultTTLConfig matches spec §6.5's defaults.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Completed: 7 * 24 * time.Hour,
		Failed:    3 * 24 * time.Hour,
	}
}

// UpsertParams describes the fields the orchestrator sets when accepting a
// SUBTITLE_REQUESTED event (spec §4.2 step 2): it upserts the job with
// status=DOWNLOAD_QUEUED and source provenance in metadata.
type UpsertParams struct {
	JobID          string
	VideoURL       string
	VideoTitle     string
	Language       string
	TargetLanguage string
	Status         Status
	Metadata       map[string]string
}

// AdvanceParams describes a reconciling state transition driven by an
// incoming event.
type AdvanceParams struct {
	JobID          string
	EventID        string
	To             Status
	ResultURL      string
	SubtitlePath   string
	TargetLanguage string
	ErrorMessage   string
}

// Store is the durable Job + Event-log repository owned exclusively by the
// orchestrator's reconciliation path (spec §3 "Ownership").
type Store interface {
	// Upsert creates or updates a job record. Used by the orchestrator on
	// SUBTITLE_REQUESTED acceptance.
	Upsert(ctx context.Context, params UpsertParams) (Job, error)

	// Advance applies an idempotent state transition (spec §4.1). event_id
	// is used to detect and ignore duplicate redeliveries: if this
	// event_id was already applied to this job, Advance is a no-op that
	// returns the job's current state. A transition that is not a legal
	// edge is recorded as an event (by the caller, via RecordEvent) but
	// does not change status; Advance returns ErrIllegalTransition so the
	// caller can log it without treating it as a hard failure.
	Advance(ctx context.Context, params AdvanceParams) (Job, error)

	// Get returns the job for jobID, or ErrNotFound.
	Get(ctx context.Context, jobID string) (Job, error)

	// RecordEvent appends evt to jobID's event log, in publish order.
	RecordEvent(ctx context.Context, jobID string, evt Event) error

	// HasEvent reports whether eventID has already been recorded for
	// jobID, supporting idempotent redelivery handling independent of
	// Advance (e.g. for JOB_FAILED, which does not flow through Advance's
	// state-edge table the same way).
	HasEvent(ctx context.Context, jobID, eventID string) (bool, error)

	// Events returns jobID's event log in insertion order.
	Events(ctx context.Context, jobID string) ([]Event, error)

	// ApplyTTL expires terminal jobs older than the configured retention
	// window. Called periodically by a maintenance loop; safe to call
	// concurrently with itself.
	ApplyTTL(ctx context.Context, cfg TTLConfig, now time.Time) (int, error)

	// Close releases the store's underlying connection(s).
	Close(ctx context.Context) error
}
