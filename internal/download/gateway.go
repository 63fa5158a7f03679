// Package download implements the Download Worker of spec §4.5: consume a
// Download Task, search a pluggable subtitle-provider gateway for the
// desired language, fall back to a configured language and request
// translation if the desired language isn't available, or fail the job if
// neither search turns anything up. Grounded on the teacher's
// internal/ingest provider-adapter interface shape (interface boundary at
// the external system, constructor with defaults, doWithRetry-style error
// classification).
package download

import (
	"context"
	"fmt"
)

// Candidate is one subtitle search result, ordered by the provider's own
// relevance score (spec §4.5).
type Candidate struct {
	ID       string
	Score    float64
	Language string
}

// Gateway is the pluggable subtitle-provider contract spec §4.5 names.
type Gateway interface {
	// Search returns candidates for language, ordered by descending score.
	// imdbID is optional context the provider may use to disambiguate;
	// an empty string means "not available".
	Search(ctx context.Context, query, imdbID, language string) ([]Candidate, error)

	// Download fetches candidate's artifact and stores it under the
	// service-owned storage root, returning the stored path.
	Download(ctx context.Context, candidate Candidate) (storedPath string, err error)
}

// ErrGatewayUnconfigured is returned by every unconfiguredGateway method.
// Concrete subtitle-provider clients are out of scope (this repo ships one
// pluggable Gateway boundary, not a vendor integration); an operator
// running without one configured gets a clear, immediate failure at the
// call site rather than a nil-interface panic.
var ErrGatewayUnconfigured = fmt.Errorf("download: no subtitle-provider gateway configured")

type unconfiguredGateway struct{}

// NewUnconfiguredGateway returns a Gateway that fails every call with
// ErrGatewayUnconfigured, for deployments that have not wired a concrete
// subtitle-provider client. Grounded on the teacher's
// internal/storage.ErrPostgresUnavailable / NewPostgresRepository
// not-yet-wired stub idiom.
func NewUnconfiguredGateway() Gateway { return unconfiguredGateway{} }

func (unconfiguredGateway) Search(context.Context, string, string, string) ([]Candidate, error) {
	return nil, ErrGatewayUnconfigured
}

func (unconfiguredGateway) Download(context.Context, Candidate) (string, error) {
	return "", ErrGatewayUnconfigured
}
