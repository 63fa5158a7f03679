package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{Pending, DownloadQueued, true},
		{Pending, TranslateQueued, false},
		{DownloadQueued, DownloadInProgress, true},
		{DownloadInProgress, Done, true},
		{DownloadInProgress, TranslateQueued, true},
		{TranslateQueued, TranslateInProgress, true},
		{TranslateInProgress, Done, true},
		{Done, Failed, false},
		{Failed, Failed, false},
		{Pending, Failed, true},
		{TranslateInProgress, Failed, true},
	}
	for _, c := range cases {
		got := CanTransition(c.from, c.to)
		assert.Equalf(t, c.want, got, "CanTransition(%s, %s)", c.from, c.to)
	}
}

func TestMemoryStoreUpsertCreatesPendingJob(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job, err := store.Upsert(ctx, UpsertParams{
		JobID:      "job-1",
		VideoURL:   "https://example.com/video",
		VideoTitle: "Example",
		Language:   "en",
		Metadata:   map[string]string{"source": "webhook"},
	})
	require.NoError(t, err)
	assert.Equal(t, Pending, job.Status)
	assert.Equal(t, "webhook", job.Metadata["source"])
	assert.False(t, job.CreatedAt.IsZero())
}

func TestMemoryStoreAdvanceIsIdempotentOnEventID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Upsert(ctx, UpsertParams{JobID: "job-1", Status: Pending})
	require.NoError(t, err)

	job, err := store.Advance(ctx, AdvanceParams{JobID: "job-1", EventID: "evt-1", To: DownloadQueued})
	require.NoError(t, err)
	assert.Equal(t, DownloadQueued, job.Status)

	// Redelivery of the same event must be a no-op, not an error and not a
	// second transition attempt.
	job, err = store.Advance(ctx, AdvanceParams{JobID: "job-1", EventID: "evt-1", To: DownloadQueued})
	require.NoError(t, err)
	assert.Equal(t, DownloadQueued, job.Status)
}

func TestMemoryStoreAdvanceIllegalEdgeRecordsButDoesNotMutateStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Upsert(ctx, UpsertParams{JobID: "job-1", Status: Pending})
	require.NoError(t, err)

	job, err := store.Advance(ctx, AdvanceParams{JobID: "job-1", EventID: "evt-1", To: TranslateQueued})
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, Pending, job.Status)
}

func TestMemoryStoreAdvanceFailedFromAnyNonTerminalState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Upsert(ctx, UpsertParams{JobID: "job-1", Status: TranslateInProgress})
	require.NoError(t, err)

	job, err := store.Advance(ctx, AdvanceParams{JobID: "job-1", EventID: "evt-1", To: Failed, ErrorMessage: "boom"})
	require.NoError(t, err)
	assert.Equal(t, Failed, job.Status)
	assert.Equal(t, "boom", job.ErrorMessage)
}

func TestMemoryStoreAdvanceTerminalJobIsImmutable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Upsert(ctx, UpsertParams{JobID: "job-1", Status: Done})
	require.NoError(t, err)

	job, err := store.Advance(ctx, AdvanceParams{JobID: "job-1", EventID: "evt-1", To: Failed})
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, Done, job.Status)
}

func TestMemoryStoreAdvanceUnknownJobNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Advance(context.Background(), AdvanceParams{JobID: "missing", To: DownloadQueued})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreApplyTTLExpiresOnlyPastWindow(t *testing.T) {
	store := NewMemoryStore().(*memoryStore)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.clock = func() time.Time { return now }

	_, err := store.Upsert(ctx, UpsertParams{JobID: "done-old", Status: Done})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, UpsertParams{JobID: "done-new", Status: Done})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, UpsertParams{JobID: "pending", Status: Pending})
	require.NoError(t, err)

	cfg := DefaultTTLConfig()
	expiredCount, err := store.ApplyTTL(ctx, cfg, now.Add(cfg.Completed+time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, expiredCount) // both DONE jobs age out; PENDING never expires

	_, err = store.Get(ctx, "done-old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "pending")
	assert.NoError(t, err)
}

func TestMemoryStoreEventLogPreservesOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.RecordEvent(ctx, "job-1", Event{EventID: "e1", EventType: "subtitle.requested"}))
	require.NoError(t, store.RecordEvent(ctx, "job-1", Event{EventID: "e2", EventType: "subtitle.ready"}))

	events, err := store.Events(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].EventID)
	assert.Equal(t, "e2", events[1].EventID)

	has, err := store.HasEvent(ctx, "job-1", "e1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasEvent(ctx, "job-1", "unknown")
	require.NoError(t, err)
	assert.False(t, has)
}
