package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairabf/subtitlex/internal/download"
	"github.com/yairabf/subtitlex/internal/jobid"
	"github.com/yairabf/subtitlex/internal/jobstore"
	"github.com/yairabf/subtitlex/internal/schema"
	"github.com/yairabf/subtitlex/internal/storage"
	"github.com/yairabf/subtitlex/internal/translate/checkpoint"
	"github.com/yairabf/subtitlex/internal/translate/llm"
	"github.com/yairabf/subtitlex/internal/translate/parser"
	transworker "github.com/yairabf/subtitlex/internal/translate/worker"
)

const sampleSRT = "1\n00:00:00,000 --> 00:00:01,000\nhello\n\n2\n00:00:01,000 --> 00:00:02,000\nworld\n"

// fakeProviderGateway is a download.Gateway test double: Search returns
// whatever candidates were configured for the requested language, Download
// writes the candidate's body to disk and returns the stored path.
type fakeProviderGateway struct {
	root       string
	candidates map[string][]download.Candidate
	bodies     map[string]string
}

func (g *fakeProviderGateway) Search(_ context.Context, _, _, language string) ([]download.Candidate, error) {
	return g.candidates[language], nil
}

func (g *fakeProviderGateway) Download(_ context.Context, c download.Candidate) (string, error) {
	path := filepath.Join(g.root, c.ID+".srt")
	if err := os.WriteFile(path, []byte(g.bodies[c.ID]), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// fakeLLMGateway is a llm.Gateway test double that echoes each segment's
// text back unchanged, preserving the index ordering the worker relies on.
type fakeLLMGateway struct{}

func (fakeLLMGateway) Translate(_ context.Context, chunk []parser.Segment, _, _, _ string) ([]llm.TranslatedSegment, error) {
	out := make([]llm.TranslatedSegment, len(chunk))
	for i, seg := range chunk {
		out[i] = llm.TranslatedSegment{Index: seg.Index, Text: seg.Text}
	}
	return out, nil
}

// TestEndToEndReadyPathReachesDone wires the orchestrator and the download
// worker together and drives a SUBTITLE_REQUESTED event through to DONE,
// exercising the DOWNLOAD_QUEUED -> DOWNLOAD_IN_PROGRESS -> DONE edges the
// orchestrator itself must take rather than hand-injecting them.
func TestEndToEndReadyPathReachesDone(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runFor(ctx, h.orch)

	gateway := &fakeProviderGateway{
		root:       t.TempDir(),
		candidates: map[string][]download.Candidate{"en": {{ID: "en-1", Score: 1, Language: "en"}}},
		bodies:     map[string]string{"en-1": sampleSRT},
	}
	dlConsumer, err := h.dlQueue.Consume(ctx)
	require.NoError(t, err)
	defer dlConsumer.Close()
	dlWorker := download.New(dlConsumer, h.bus, gateway, download.Config{FallbackLanguage: "en"})
	go func() { _ = dlWorker.Run(ctx) }()

	jobID := jobid.New()
	payload, err := schema.ToMap(schema.SubtitleRequestedPayload{VideoURL: "https://example.com/a", VideoTitle: "A", Language: "en"})
	require.NoError(t, err)
	h.publish(t, schema.Envelope{
		EventID: jobid.NewEventID(), EventType: schema.SubtitleRequested, JobID: jobID,
		Timestamp: time.Now().UTC(), Source: "webhook", Payload: payload,
	})

	require.Eventually(t, func() bool {
		job, err := h.store.Get(context.Background(), jobID)
		return err == nil && job.Status == jobstore.Done
	}, 2*time.Second, 5*time.Millisecond)

	events, err := h.store.Events(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, string(schema.SubtitleRequested), events[0].EventType)
	assert.Equal(t, string(schema.SubtitleReady), events[1].EventType)
}

// TestEndToEndTranslationPathReachesDone wires the orchestrator, download
// worker, and translation worker together: the desired language yields no
// candidates, so the download worker falls back and requests translation,
// and the translation worker must carry the job the rest of the way to
// DONE through the TRANSLATE_QUEUED -> TRANSLATE_IN_PROGRESS edge.
func TestEndToEndTranslationPathReachesDone(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runFor(ctx, h.orch)

	gateway := &fakeProviderGateway{
		root: t.TempDir(),
		candidates: map[string][]download.Candidate{
			"fr": nil,
			"en": {{ID: "en-1", Score: 1, Language: "en"}},
		},
		bodies: map[string]string{"en-1": sampleSRT},
	}
	dlConsumer, err := h.dlQueue.Consume(ctx)
	require.NoError(t, err)
	defer dlConsumer.Close()
	dlWorker := download.New(dlConsumer, h.bus, gateway, download.Config{FallbackLanguage: "en"})
	go func() { _ = dlWorker.Run(ctx) }()

	artifacts, err := storage.NewLocalArtifactStore(t.TempDir())
	require.NoError(t, err)
	cp := checkpoint.NewStore(t.TempDir(), nil)
	trConsumer, err := h.trQueue.Consume(ctx)
	require.NoError(t, err)
	defer trConsumer.Close()
	trWorker := transworker.New(trConsumer, h.bus, fakeLLMGateway{}, cp, artifacts, transworker.Config{})
	go func() { _ = trWorker.Run(ctx) }()

	jobID := jobid.New()
	payload, err := schema.ToMap(schema.SubtitleRequestedPayload{VideoURL: "https://example.com/b", VideoTitle: "B", Language: "fr"})
	require.NoError(t, err)
	h.publish(t, schema.Envelope{
		EventID: jobid.NewEventID(), EventType: schema.SubtitleRequested, JobID: jobID,
		Timestamp: time.Now().UTC(), Source: "webhook", Payload: payload,
	})

	require.Eventually(t, func() bool {
		job, err := h.store.Get(context.Background(), jobID)
		return err == nil && job.Status == jobstore.Done
	}, 2*time.Second, 5*time.Millisecond)

	job, err := h.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.NotEmpty(t, job.SubtitlePath)
}
