package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cellrex/internal/blob"
	"cellrex/internal/layout"
	"cellrex/pkg/domain"
)

// DefaultReconcileWorkers bounds concurrent fingerprinting during a sweep.
const DefaultReconcileWorkers = 4

// FingerprintCache supplies fingerprints computed ahead of registration. A
// hit is only valid for the given size and modification time.
type FingerprintCache interface {
	Lookup(path string, size int64, modTime time.Time) (domain.Fingerprint, bool)
	Forget(path string)
}

// Service coordinates registration and reconciliation over one storage root
// and one index. The index handle is owned by the caller.
type Service struct {
	index    domain.Index
	root     string
	composer *layout.Composer
	archive  *blob.Archive
	cache    FingerprintCache
	locks    *pathLocks
	skip     map[string]struct{}
	workers  int

	// experiments serialises registrations deriving the same experiment
	// name. It is always taken after the path locks.
	experiments *pathLocks

	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	now     func() time.Time

	reportMu   sync.RWMutex
	lastReport *Report
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithComposer replaces the default path composer.
func WithComposer(c *layout.Composer) Option {
	return func(s *Service) {
		if c != nil {
			s.composer = c
		}
	}
}

// WithArchive mirrors sidecars into a blob-backed archive.
func WithArchive(a *blob.Archive) Option {
	return func(s *Service) { s.archive = a }
}

// WithFingerprintCache lets registration reuse fingerprints computed by the
// upload watcher.
func WithFingerprintCache(c FingerprintCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the structured logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithReconcileWorkers bounds sweep concurrency.
func WithReconcileWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithSkipPaths excludes files from the sweep, such as an index database
// that lives inside the storage root.
func WithSkipPaths(paths ...string) Option {
	return func(s *Service) {
		for _, p := range paths {
			if abs, err := filepath.Abs(p); err == nil {
				s.skip[abs] = struct{}{}
			}
		}
	}
}

// NewService constructs a service over index rooted at the storage root,
// creating the root directory when missing.
func NewService(index domain.Index, root string, opts ...Option) (*Service, error) {
	if index == nil {
		return nil, errors.New("index is required")
	}
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, &domain.IOError{Op: "create storage root", Path: abs, Err: err}
	}
	s := &Service{
		index:       index,
		root:        abs,
		composer:    layout.Default(),
		locks:       newPathLocks(),
		experiments: newPathLocks(),
		skip:        make(map[string]struct{}),
		workers:     DefaultReconcileWorkers,
		logger:      noopLogger{},
		metrics:     noopMetrics{},
		tracer:      noopTracer{},
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute storage root.
func (s *Service) Root() string { return s.root }

// Index returns the metadata index.
func (s *Service) Index() domain.Index { return s.index }

// Composer returns the active path composer.
func (s *Service) Composer() *layout.Composer { return s.composer }

// Compose derives the storage paths for rec without side effects.
func (s *Service) Compose(rec domain.MetadataRecord) (layout.Paths, error) {
	if err := rec.Validate(); err != nil {
		return layout.Paths{}, err
	}
	return s.composer.Compose(rec)
}

// LastReport returns the most recent reconciliation report.
func (s *Service) LastReport() (Report, bool) {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	if s.lastReport == nil {
		return Report{}, false
	}
	return *s.lastReport, true
}

func (s *Service) setLastReport(r Report) {
	s.reportMu.Lock()
	s.lastReport = &r
	s.reportMu.Unlock()
}

// Health pings the index and returns the last sweep report, if any.
func (s *Service) Health(ctx context.Context) (Report, bool, error) {
	report, ok := s.LastReport()
	return report, ok, s.index.Ping(ctx)
}

func (s *Service) abs(rel string) string { return layout.Abs(s.root, rel) }
