package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"cellrex/internal/fingerprint"
	"cellrex/internal/relocate"
	"cellrex/pkg/domain"
)

// Watcher defaults.
const (
	DefaultDebounce = 500 * time.Millisecond
	DefaultWorkers  = 2
	minTick         = 10 * time.Millisecond
)

// Trigger records what caused an upload to be hashed.
type Trigger string

const (
	TriggerScan   Trigger = "scan"
	TriggerNotify Trigger = "fsnotify"
)

// Event describes a freshly cached fingerprint.
type Event struct {
	Path        string
	Fingerprint domain.Fingerprint
	Size        int64
	Trigger     Trigger
}

// Logger matches the structured logger used across cellrex.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Watcher fingerprints files in the upload directory as they settle. A file
// is hashed once no write has been seen for the debounce interval, and the
// result is cached only if the file did not change while it was read.
type Watcher struct {
	dir      string
	cache    *Cache
	debounce time.Duration
	workers  int
	logger   Logger
	handler  func(Event)

	mu      sync.Mutex
	pending map[string]time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a written file is hashed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWorkers bounds concurrent hashing.
func WithWorkers(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithHandler is called after each fingerprint is cached. It may be called
// from several workers at once.
func WithHandler(fn func(Event)) Option {
	return func(w *Watcher) { w.handler = fn }
}

// NewWatcher prepares a watcher over dir, creating it when missing.
func NewWatcher(dir string, cache *Cache, opts ...Option) (*Watcher, error) {
	if cache == nil {
		return nil, errors.New("fingerprint cache is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	w := &Watcher{
		dir:      abs,
		cache:    cache,
		debounce: DefaultDebounce,
		workers:  DefaultWorkers,
		logger:   nopLogger{},
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Dir returns the absolute upload directory.
func (w *Watcher) Dir() string { return w.dir }

// Scan fingerprints every file already present in the upload directory.
func (w *Watcher) Scan(ctx context.Context) error {
	return w.scanTree(ctx, w.dir, nil)
}

func (w *Watcher) scanTree(ctx context.Context, root string, fw *fsnotify.Watcher) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := gctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// Entries can vanish while uploads are moved out.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if fw != nil {
				if err := fw.Add(p); err != nil {
					w.logger.Warn("watch upload dir failed", "dir", p, "error", err)
				}
			}
			return nil
		}
		if !d.Type().IsRegular() || relocate.IsTemp(p) {
			return nil
		}
		g.Go(func() error {
			w.hash(gctx, p, TriggerScan)
			return nil
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return walkErr
}

// Run watches the upload directory until ctx is cancelled. Existing files are
// scanned first; directories created later are watched as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start upload watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := w.scanTree(ctx, w.dir, fw); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	w.logger.Info("watching uploads", "dir", w.dir, "debounce", w.debounce, "cached", w.cache.Len())

	tick := w.debounce / 2
	if tick < minTick {
		tick = minTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("upload watcher error", "error", err)
		case now := <-ticker.C:
			for _, p := range w.due(now) {
				g.Go(func() error {
					w.hash(gctx, p, TriggerNotify)
					return nil
				})
			}
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	if relocate.IsTemp(ev.Name) {
		return
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cache.Forget(ev.Name)
		w.mu.Lock()
		delete(w.pending, ev.Name)
		w.mu.Unlock()
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := w.scanTree(ctx, ev.Name, fw); err != nil && ctx.Err() == nil {
				w.logger.Warn("scan new upload dir failed", "dir", ev.Name, "error", err)
			}
			return
		}
		w.schedule(ev.Name)
	case ev.Has(fsnotify.Write):
		w.schedule(ev.Name)
	}
}

func (w *Watcher) schedule(p string) {
	w.mu.Lock()
	w.pending[p] = time.Now().Add(w.debounce)
	w.mu.Unlock()
}

// due removes and returns the paths whose quiet period has elapsed.
func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for p, at := range w.pending {
		if !at.After(now) {
			out = append(out, p)
			delete(w.pending, p)
		}
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) hash(ctx context.Context, p string, trigger Trigger) {
	before, err := os.Stat(p)
	if err != nil || !before.Mode().IsRegular() {
		return
	}
	if _, ok := w.cache.Lookup(p, before.Size(), before.ModTime()); ok {
		return
	}
	fp, _, err := fingerprint.File(ctx, p)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Debug("fingerprint upload failed", "path", p, "error", err)
		}
		return
	}
	after, err := os.Stat(p)
	if err != nil || after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) {
		w.logger.Debug("upload changed while hashing", "path", p)
		return
	}
	if err := w.cache.Put(p, after.Size(), after.ModTime(), fp); err != nil {
		w.logger.Warn("cache fingerprint failed", "path", p, "error", err)
		return
	}
	w.logger.Debug("fingerprinted upload", "path", p, "fingerprint", fp.Short(), "trigger", trigger)
	if w.handler != nil {
		w.handler(Event{Path: p, Fingerprint: fp, Size: after.Size(), Trigger: trigger})
	}
}
