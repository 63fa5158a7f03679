// Package dedup implements the Duplicate-Prevention Service (spec §4.3):
// an atomic check-and-register keyed on (video_url, language), failing open
// under backend outage since availability is preferred over strict dedup.
// Grounded on the teacher's internal/chat Redis connection-handling idiom,
// adapted from a stream/queue primitive to a CAS key-value primitive.
package dedup

import "context"

// Service resolves whether a (video_url, language) pair has already been
// requested within the configured window.
type Service interface {
	// CheckAndRegister atomically checks whether key is already registered
	// and, if not, registers jobID under it with a TTL. isDuplicate is true
	// iff an existing registration was found; existingOrNewJobID is the
	// previously registered job_id when isDuplicate, otherwise jobID.
	CheckAndRegister(ctx context.Context, videoURL, language, jobID string) (isDuplicate bool, existingOrNewJobID string, err error)
}

// DefaultWindowSeconds is the default dedup retention window from spec §4.3.
const DefaultWindowSeconds = 3600
