// Package fswatcher implements the filesystem-watcher ingress adapter of
// spec §4.6: observe a configured media root, debounce per-file until size
// stabilizes (avoiding publication while a file is still being written),
// filter by extension whitelist, and submit the canonical request. The
// fsnotify dependency is grounded on jordigilh-kubernaut's go.mod (which
// lists it for a credential-file hot-reloader); no in-pack source exercises
// its watcher API, so the event-loop/debounce shape here is written from
// the library's documented public surface rather than copied from a
// concrete usage site.
package fswatcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yairabf/subtitlex/internal/eventbus"
	"github.com/yairabf/subtitlex/internal/ingress"
	"github.com/yairabf/subtitlex/internal/jobid"
	"github.com/yairabf/subtitlex/internal/schema"
)

// Config parameterizes the watcher per spec §4.6.
type Config struct {
	Root            string
	Extensions      []string
	DebounceWindow  time.Duration
	DefaultLanguage string
	Logger          *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 2 * time.Second
	}
	if len(c.Extensions) == 0 {
		c.Extensions = []string{".srt", ".mp4", ".mkv"}
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Watcher observes Config.Root and submits canonical requests for stable,
// whitelisted files.
type Watcher struct {
	fsw       *fsnotify.Watcher
	publisher *ingress.Publisher
	bus       eventbus.Bus
	cfg       Config

	mu      sync.Mutex
	pending map[string]int64
}

// New constructs a Watcher. The underlying fsnotify watcher is created but
// not yet watching Root; call Run to start.
func New(publisher *ingress.Publisher, bus eventbus.Bus, cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fswatcher: create watcher: %w", err)
	}
	return &Watcher{
		fsw:       fsw,
		publisher: publisher,
		bus:       bus,
		cfg:       cfg.withDefaults(),
		pending:   make(map[string]int64),
	}, nil
}

// Run adds Root to the watch list and processes events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.fsw.Add(w.cfg.Root); err != nil {
		return fmt.Errorf("fswatcher: watch root %s: %w", w.cfg.Root, err)
	}
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.cfg.Logger.Error("fswatcher: watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !w.hasWhitelistedExtension(event.Name) {
		return
	}

	w.mu.Lock()
	w.pending[event.Name]++
	generation := w.pending[event.Name]
	w.mu.Unlock()

	go w.waitForStable(ctx, event.Name, generation)
}

func (w *Watcher) hasWhitelistedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.cfg.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// waitForStable polls the file's size every DebounceWindow until two
// consecutive polls see the same size, then emits. A newer write event
// (detected via the per-path generation counter) supersedes this goroutine.
func (w *Watcher) waitForStable(ctx context.Context, path string, generation int64) {
	lastSize, err := fileSize(path)
	if err != nil {
		return
	}

	for {
		timer := time.NewTimer(w.cfg.DebounceWindow)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		w.mu.Lock()
		current := w.pending[path]
		w.mu.Unlock()
		if current != generation {
			return
		}

		size, err := fileSize(path)
		if err != nil {
			return
		}
		if size == lastSize {
			w.emit(ctx, path)
			return
		}
		lastSize = size
	}
}

func (w *Watcher) emit(ctx context.Context, path string) {
	title := deriveTitle(path)
	w.publishDetected(ctx, path, title)

	_, outcome, err := w.publisher.Submit(ctx, ingress.Request{
		VideoURL:   toVideoURL(path),
		VideoTitle: title,
		Language:   w.cfg.DefaultLanguage,
		Metadata:   map[string]string{"source": "fswatcher"},
	})
	if err != nil {
		w.cfg.Logger.Error("fswatcher: submit failed", "path", path, "error", err)
	} else {
		w.cfg.Logger.Info("fswatcher: media file submitted", "path", path, "outcome", outcome)
	}

	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
}

// publishDetected emits media.file.detected, an audit-trail-only event per
// spec §4.7 independent of the dedup/SUBTITLE_REQUESTED outcome.
func (w *Watcher) publishDetected(ctx context.Context, path, title string) {
	payload, err := schema.ToMap(schema.MediaFileDetectedPayload{Path: path, Title: title})
	if err != nil {
		return
	}
	_ = w.bus.Publish(ctx, schema.Envelope{
		EventID:   jobid.NewEventID(),
		EventType: schema.MediaFileDetected,
		JobID:     jobid.New(),
		Timestamp: time.Now().UTC(),
		Source:    "fswatcher",
		Payload:   payload,
	})
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func deriveTitle(path string) string {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.NewReplacer("_", " ", ".", " ").Replace(name)
	return strings.TrimSpace(name)
}

func toVideoURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + abs
}
