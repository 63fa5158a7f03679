// Package ingress holds the three ingress adapters of spec §4.6 (filesystem
// watcher, webhook handler, push client). All three normalize to the same
// canonical SUBTITLE_REQUESTED event and invoke the Duplicate-Prevention
// Service before emission (defense-in-depth with the orchestrator's own
// dedup check per spec §4.3); this file holds that shared path so the three
// adapters cannot drift from one another on envelope shape or dedup
// invocation order.
package ingress

import (
	"context"
	"fmt"
	"time"

	"github.com/yairabf/subtitlex/internal/dedup"
	"github.com/yairabf/subtitlex/internal/eventbus"
	"github.com/yairabf/subtitlex/internal/jobid"
	"github.com/yairabf/subtitlex/internal/metrics"
	"github.com/yairabf/subtitlex/internal/schema"
)

// Outcome is the result of submitting a Request, mirroring the webhook
// contract's status field (spec §6.3) so all three adapters report the
// same vocabulary.
type Outcome string

const (
	Received  Outcome = "received"
	Duplicate Outcome = "duplicate"
)

// Request is the normalized form every adapter produces from its own
// wire shape (webhook JSON body, fs event, push notification) before
// handing off to Submit.
type Request struct {
	VideoURL   string
	VideoTitle string
	Language   string
	Metadata   map[string]string
}

// Publisher is the shared canonical-request path: dedup check, then
// SUBTITLE_REQUESTED publication. Source identifies which adapter is
// calling, for the envelope's Source field and log lines.
type Publisher struct {
	Bus    eventbus.Bus
	Dedup  dedup.Service
	Source string

	// Metrics is optional; a nil Metrics is a no-op rather than a zero value
	// requiring construction in every adapter's test harness.
	Metrics *metrics.Recorder
}

func (p *Publisher) recordIngress(outcome Outcome) {
	if p.Metrics != nil {
		p.Metrics.IngressRequest(p.Source, string(outcome))
	}
}

func (p *Publisher) recordDedup(outcome string) {
	if p.Metrics != nil {
		p.Metrics.DedupOutcome(outcome)
	}
}

// Submit resolves dedup and, for a fresh request, publishes
// SUBTITLE_REQUESTED. The returned job_id is either newly minted (Received)
// or the job_id the dedup service already had on file (Duplicate).
func (p *Publisher) Submit(ctx context.Context, req Request) (id string, outcome Outcome, err error) {
	newJobID := jobid.New()

	isDuplicate, resolvedJobID, err := p.Dedup.CheckAndRegister(ctx, req.VideoURL, req.Language, newJobID)
	if err != nil {
		return "", "", fmt.Errorf("dedup check: %w", err)
	}
	if isDuplicate {
		p.recordDedup("duplicate")
		p.recordIngress(Duplicate)
		return resolvedJobID, Duplicate, nil
	}
	p.recordDedup("new")

	payload, err := schema.ToMap(schema.SubtitleRequestedPayload{
		VideoURL:   req.VideoURL,
		VideoTitle: req.VideoTitle,
		Language:   req.Language,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return "", "", fmt.Errorf("encode subtitle.requested payload: %w", err)
	}

	evt := schema.Envelope{
		EventID:   jobid.NewEventID(),
		EventType: schema.SubtitleRequested,
		JobID:     resolvedJobID,
		Timestamp: time.Now().UTC(),
		Source:    p.Source,
		Payload:   payload,
	}
	if err := p.Bus.Publish(ctx, evt); err != nil {
		return "", "", fmt.Errorf("publish subtitle.requested: %w", err)
	}

	p.recordIngress(Received)
	return resolvedJobID, Received, nil
}
