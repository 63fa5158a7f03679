package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalArtifactStoreWriteThenRead(t *testing.T) {
	store, err := NewLocalArtifactStore(t.TempDir())
	require.NoError(t, err)

	storedPath, err := store.Write(context.Background(), "job-1", "fr", "1\n00:00:00,000 --> 00:00:01,000\nBonjour\n")
	require.NoError(t, err)
	assert.Equal(t, "fr.srt", filepath.Base(storedPath))

	got, err := store.Read(context.Background(), storedPath)
	require.NoError(t, err)
	assert.Contains(t, got, "Bonjour")
}

func TestLocalArtifactStoreReadRelativePath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "source.srt"), []byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n"), 0o644))

	store, err := NewLocalArtifactStore(root)
	require.NoError(t, err)

	got, err := store.Read(context.Background(), "source.srt")
	require.NoError(t, err)
	assert.Contains(t, got, "hi")
}

func TestLocalArtifactStoreReadMissingFile(t *testing.T) {
	store, err := NewLocalArtifactStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read(context.Background(), "does-not-exist.srt")
	require.Error(t, err)
}
