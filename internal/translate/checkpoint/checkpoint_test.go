package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairabf/subtitlex/internal/translate/llm"
)

func TestLoadReturnsNotFoundWhenNoFileExists(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	_, found, err := store.Load("job-1", "es")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	cp := Checkpoint{
		JobID:                 "job-1",
		SubtitleFilePath:      "/videos/job-1.srt",
		SourceLanguage:        "en",
		TargetLanguage:        "es",
		TotalChunks:           3,
		CompletedChunkIndices: []int{0, 1},
		TranslatedSegmentsSoFar: []llm.TranslatedSegment{
			{Index: 1, Text: []string{"hola"}},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	store.Save(cp)

	loaded, found, err := store.Load("job-1", "es")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, cp.JobID, loaded.JobID)
	assert.Equal(t, cp.CompletedChunkIndices, loaded.CompletedChunkIndices)
	assert.Equal(t, cp.TranslatedSegmentsSoFar, loaded.TranslatedSegmentsSoFar)
}

func TestDeleteRemovesCheckpointFile(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	cp := Checkpoint{JobID: "job-1", TargetLanguage: "es", TotalChunks: 1}
	store.Save(cp)

	store.Delete("job-1", "es")

	_, found, err := store.Load("job-1", "es")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteOfMissingCheckpointIsNotAnError(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	store.Delete("no-such-job", "es")
}

func TestMatchesTaskDetectsStaleCheckpoint(t *testing.T) {
	cp := Checkpoint{SubtitleFilePath: "/a.srt", SourceLanguage: "en", TargetLanguage: "es", TotalChunks: 3}
	assert.True(t, cp.MatchesTask("/a.srt", "en", "es", 3))
	assert.False(t, cp.MatchesTask("/a.srt", "en", "es", 4))
	assert.False(t, cp.MatchesTask("/b.srt", "en", "es", 3))
}

func TestIsChunkCompleted(t *testing.T) {
	cp := Checkpoint{CompletedChunkIndices: []int{0, 2}}
	assert.True(t, cp.IsChunkCompleted(0))
	assert.True(t, cp.IsChunkCompleted(2))
	assert.False(t, cp.IsChunkCompleted(1))
}

func TestPathIsDeterministicAndSanitized(t *testing.T) {
	store := NewStore("/checkpoints", nil)
	path := store.path("../evil", "es")
	assert.Equal(t, filepath.Join("/checkpoints", "__evil.es.checkpoint"), path)
}

func TestLoadOnCorruptFileTreatsAsNotFound(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)
	path := store.path("job-1", "es")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, found, err := store.Load("job-1", "es")
	require.NoError(t, err)
	assert.False(t, found)
}
