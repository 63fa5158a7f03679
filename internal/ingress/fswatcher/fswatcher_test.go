package fswatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairabf/subtitlex/internal/dedup"
	"github.com/yairabf/subtitlex/internal/eventbus"
	"github.com/yairabf/subtitlex/internal/ingress"
	"github.com/yairabf/subtitlex/internal/schema"
)

func newTestWatcher(t *testing.T, root string, debounce time.Duration) (*Watcher, eventbus.Bus) {
	t.Helper()
	bus := eventbus.NewMemoryBus(8)
	pub := &ingress.Publisher{Bus: bus, Dedup: dedup.NewMemoryDedup(time.Hour), Source: "fswatcher"}
	w, err := New(pub, bus, Config{Root: root, DebounceWindow: debounce})
	require.NoError(t, err)
	return w, bus
}

func TestWatcherSubmitsAfterFileSizeStabilizes(t *testing.T) {
	root := t.TempDir()
	w, bus := newTestWatcher(t, root, 30*time.Millisecond)

	sub, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)

	path := filepath.Join(root, "my_movie.mkv")
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0o644))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("partial-more-bytes"), 0o644))

	var detected, requested bool
	deadline := time.After(2 * time.Second)
	for !(detected && requested) {
		select {
		case d := <-sub.Events():
			switch d.Envelope.EventType {
			case schema.MediaFileDetected:
				detected = true
				assert.Equal(t, "my movie", d.Envelope.Payload["title"])
			case schema.SubtitleRequested:
				requested = true
				assert.Contains(t, d.Envelope.Payload["video_url"], "my_movie.mkv")
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events (detected=%v requested=%v)", detected, requested)
		}
	}
}

func TestWatcherIgnoresNonWhitelistedExtensions(t *testing.T) {
	root := t.TempDir()
	w, bus := newTestWatcher(t, root, 20*time.Millisecond)

	sub, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0o644))

	select {
	case d := <-sub.Events():
		t.Fatalf("unexpected event for non-whitelisted extension: %v", d.Envelope.EventType)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDeriveTitleStripsExtensionAndSeparators(t *testing.T) {
	assert.Equal(t, "my movie", deriveTitle("/root/my_movie.mkv"))
	assert.Equal(t, "Some Show S01E02", deriveTitle("/root/Some.Show.S01E02.srt"))
}
