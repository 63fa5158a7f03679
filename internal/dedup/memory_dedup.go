package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/yairabf/subtitlex/internal/jobid"
)

// NewMemoryDedup constructs an in-process Service for single-process
// deployments and tests.
func NewMemoryDedup(window time.Duration) Service {
	if window <= 0 {
		window = DefaultWindowSeconds * time.Second
	}
	return &memoryDedup{window: window, entries: make(map[string]memoryEntry)}
}

type memoryEntry struct {
	jobID   string
	expires time.Time
}

type memoryDedup struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]memoryEntry
}

func (d *memoryDedup) CheckAndRegister(_ context.Context, videoURL, language, jobID_ string) (bool, string, error) {
	key := jobid.DedupKey(videoURL, language)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	entry, exists := d.entries[key]
	if exists && now.Before(entry.expires) {
		return true, entry.jobID, nil
	}
	d.entries[key] = memoryEntry{jobID: jobID_, expires: now.Add(d.window)}
	return false, jobID_, nil
}
