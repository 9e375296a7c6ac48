// Package memory provides an in-memory implementation of the metadata index
// used for tests and ephemeral environments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cellrex/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain index interface.
var _ domain.Index = (*Store)(nil)

// Store keeps rows in maps guarded by a single RWMutex. Secondary indexes by
// path and fingerprint mirror the SQL backends' lookup paths.
type Store struct {
	mu            sync.RWMutex
	entries       map[string]domain.StorageEntry
	byPath        map[string]string
	byFingerprint map[domain.Fingerprint]map[string]struct{}
	settings      map[string]string
	closed        bool
	now           func() time.Time
}

// NewStore constructs an empty in-memory index.
func NewStore() *Store {
	return &Store{
		entries:       make(map[string]domain.StorageEntry),
		byPath:        make(map[string]string),
		byFingerprint: make(map[domain.Fingerprint]map[string]struct{}),
		settings:      make(map[string]string),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) checkOpen(op string) error {
	if s.closed {
		return &domain.IndexError{Op: op, Err: errClosed}
	}
	return nil
}

var errClosed = errors.New("memory index closed")

// Upsert inserts the entry or replaces the row stored at its path, keeping
// the existing row's id and creation time.
func (s *Store) Upsert(ctx context.Context, entry domain.StorageEntry) (domain.StorageEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.StorageEntry{}, &domain.IndexError{Op: "upsert", Err: err}
	}
	p, err := domain.CleanPath(entry.Path)
	if err != nil {
		return domain.StorageEntry{}, &domain.IndexError{Op: "upsert", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("upsert"); err != nil {
		return domain.StorageEntry{}, err
	}
	now := s.now()
	entry = entry.Clone()
	entry.Path = p
	if id, ok := s.byPath[p]; ok {
		existing := s.entries[id]
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
		s.unindexFingerprint(existing)
	} else {
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		} else if other, taken := s.entries[entry.ID]; taken && other.Path != p {
			return domain.StorageEntry{}, &domain.IndexError{Op: "upsert", Err: fmt.Errorf("id %s already bound to %s", entry.ID, other.Path)}
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
	}
	entry.UpdatedAt = now
	s.entries[entry.ID] = entry
	s.byPath[p] = entry.ID
	bucket := s.byFingerprint[entry.Fingerprint]
	if bucket == nil {
		bucket = make(map[string]struct{})
		s.byFingerprint[entry.Fingerprint] = bucket
	}
	bucket[entry.ID] = struct{}{}
	return entry.Clone(), nil
}

func (s *Store) unindexFingerprint(e domain.StorageEntry) {
	bucket := s.byFingerprint[e.Fingerprint]
	delete(bucket, e.ID)
	if len(bucket) == 0 {
		delete(s.byFingerprint, e.Fingerprint)
	}
}

// Get returns the row with the given id.
func (s *Store) Get(_ context.Context, id string) (domain.StorageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("get"); err != nil {
		return domain.StorageEntry{}, err
	}
	e, ok := s.entries[id]
	if !ok {
		return domain.StorageEntry{}, domain.ErrNotFound
	}
	return e.Clone(), nil
}

// GetByPath returns the row stored at path.
func (s *Store) GetByPath(_ context.Context, path string) (domain.StorageEntry, error) {
	p, err := domain.CleanPath(path)
	if err != nil {
		return domain.StorageEntry{}, domain.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("get by path"); err != nil {
		return domain.StorageEntry{}, err
	}
	id, ok := s.byPath[p]
	if !ok {
		return domain.StorageEntry{}, domain.ErrNotFound
	}
	return s.entries[id].Clone(), nil
}

// GetByFingerprint returns every row carrying fp, ordered by path.
func (s *Store) GetByFingerprint(_ context.Context, fp domain.Fingerprint) ([]domain.StorageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("get by fingerprint"); err != nil {
		return nil, err
	}
	out := make([]domain.StorageEntry, 0, len(s.byFingerprint[fp]))
	for id := range s.byFingerprint[fp] {
		out = append(out, s.entries[id].Clone())
	}
	sortByPath(out)
	return out, nil
}

// GetByExperiment returns every row of the named experiment, ordered by path.
func (s *Store) GetByExperiment(_ context.Context, name string) ([]domain.StorageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("get by experiment"); err != nil {
		return nil, err
	}
	var out []domain.StorageEntry
	for _, e := range s.entries {
		if e.ExperimentName == name {
			out = append(out, e.Clone())
		}
	}
	sortByPath(out)
	return out, nil
}

// Query evaluates q against every row.
func (s *Store) Query(_ context.Context, q domain.Query) ([]domain.StorageEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, &domain.IndexError{Op: "query", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("query"); err != nil {
		return nil, err
	}
	var out []domain.StorageEntry
	for _, e := range s.entries {
		if q.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sortByPath(out)
	return q.Page(out), nil
}

// Delete removes the row with the given id.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("delete"); err != nil {
		return err
	}
	e, ok := s.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(s.entries, id)
	delete(s.byPath, e.Path)
	s.unindexFingerprint(e)
	return nil
}

// Walk visits a path-ordered snapshot of the rows. Rows written during the
// walk are not visited; fn may call back into the store.
func (s *Store) Walk(ctx context.Context, fn func(domain.StorageEntry) error) error {
	s.mu.RLock()
	if err := s.checkOpen("walk"); err != nil {
		s.mu.RUnlock()
		return err
	}
	snapshot := make([]domain.StorageEntry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, e.Clone())
	}
	s.mu.RUnlock()
	sortByPath(snapshot)
	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Setting returns a persisted setting.
func (s *Store) Setting(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("setting"); err != nil {
		return "", false, err
	}
	v, ok := s.settings[key]
	return v, ok, nil
}

// PutSetting stores a setting, replacing any previous value.
func (s *Store) PutSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("put setting"); err != nil {
		return err
	}
	s.settings[key] = value
	return nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpen("ping")
}

// Close marks the store closed; later calls fail with an IndexError.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len reports the number of rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func sortByPath(entries []domain.StorageEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return strings.Compare(entries[i].Path, entries[j].Path) < 0
	})
}
