// Package errkind tags errors with the conceptual error kinds from spec §7
// so retry loops and failure-propagation logic can branch on kind instead of
// re-deriving classification at every call site. It generalizes the
// HTTP-status classification in the teacher's internal/ingest/adapters.go
// (isRetryableStatus / doWithRetry) into a reusable, non-HTTP-specific
// taxonomy shared by the LLM gateway, the provider gateway, the event bus,
// the task queues, and the job store clients.
package errkind

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the conceptual error kinds enumerated in spec §7.
type Kind string

const (
	// TransientInfrastructure covers bus/store connection loss, timeouts,
	// 5xx from external gateways, and rate-limiting. Retried with backoff.
	TransientInfrastructure Kind = "TRANSIENT_INFRASTRUCTURE"
	// PermanentClient covers malformed input, invalid auth, not-found.
	// Failed fast, never retried.
	PermanentClient Kind = "PERMANENT_CLIENT"
	// ParseError covers an unreadable subtitle artifact.
	ParseError Kind = "PARSE_ERROR"
	// TranslationSemanticError covers an LLM response with the wrong
	// segment count or altered timestamps; retried like a transient error
	// up to max_retries before it escalates to JOB_FAILED.
	TranslationSemanticError Kind = "TRANSLATION_SEMANTIC_ERROR"
	// CheckpointError covers a checkpoint read/write failure. Always
	// logged and swallowed; never propagated to the job.
	CheckpointError Kind = "CHECKPOINT_ERROR"
	// DedupOutage covers the dedup backend being unavailable. The service
	// fails open rather than blocking ingress.
	DedupOutage Kind = "DEDUP_OUTAGE"
)

// Error wraps an underlying error with its conceptual kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with kind. Returns nil if err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Of extracts the Kind from err, if it (or something it wraps) is an
// *Error. ok is false when no kind was attached.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether err's kind should be retried with backoff
// (TRANSIENT_INFRASTRUCTURE, TRANSLATION_SEMANTIC_ERROR). Unknown kinds are
// treated as non-retryable — a classification gap should fail fast and get
// noticed, not silently loop.
func Retryable(err error) bool {
	kind, ok := Of(err)
	if !ok {
		return false
	}
	switch kind {
	case TransientInfrastructure, TranslationSemanticError:
		return true
	default:
		return false
	}
}

// ClassifyHTTPStatus maps an HTTP status code from an external gateway
// (subtitle provider or LLM) to a Kind, per spec §4.4.3: rate-limit and
// 5xx are transient, 4xx other than 429 is permanent.
func ClassifyHTTPStatus(status int) Kind {
	if status == http.StatusTooManyRequests {
		return TransientInfrastructure
	}
	if status >= 500 && status <= 599 {
		return TransientInfrastructure
	}
	if status >= 400 && status < 500 {
		return PermanentClient
	}
	return TransientInfrastructure
}
