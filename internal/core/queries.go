package core

import (
	"context"
	"sort"

	"cellrex/pkg/domain"
)

// Get returns the entry with the given id.
func (s *Service) Get(ctx context.Context, id string) (entry domain.StorageEntry, err error) {
	ctx, end := s.instrument(ctx, opGet)
	defer func() { end(err) }()
	return s.index.Get(ctx, id)
}

// GetByPath returns the entry registered at a storage-relative path.
func (s *Service) GetByPath(ctx context.Context, path string) (entry domain.StorageEntry, err error) {
	ctx, end := s.instrument(ctx, opGetByPath)
	defer func() { end(err) }()
	return s.index.GetByPath(ctx, path)
}

// GetByFingerprint returns every entry carrying fp.
func (s *Service) GetByFingerprint(ctx context.Context, fp domain.Fingerprint) (entries []domain.StorageEntry, err error) {
	ctx, end := s.instrument(ctx, opGetByFingerprint)
	defer func() { end(err) }()
	return s.index.GetByFingerprint(ctx, fp)
}

// Query returns entries matching q ordered by path.
func (s *Service) Query(ctx context.Context, q domain.Query) (entries []domain.StorageEntry, err error) {
	ctx, end := s.instrument(ctx, opQuery)
	defer func() { end(err) }()
	return s.index.Query(ctx, q)
}

// Delete removes the index row only. The file and its sidecar stay on disk,
// so a later sweep with Restore enabled will index them again unless they
// are removed by hand.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	ctx, end := s.instrument(ctx, opDelete)
	defer func() { end(err) }()
	entry, err := s.index.Get(ctx, id)
	if err != nil {
		return err
	}
	unlock, err := s.locks.Lock(ctx, entry.Path)
	if err != nil {
		return err
	}
	defer unlock()
	if err := s.index.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("deleted index entry", "id", id, "path", entry.Path)
	return nil
}

// DuplicateGroup is a set of paths sharing one fingerprint.
type DuplicateGroup struct {
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	Paths       []string           `json:"paths"`
}

// Duplicates lists every fingerprint indexed at more than one path, ordered
// by fingerprint; paths within a group are ordered.
func (s *Service) Duplicates(ctx context.Context) (groups []DuplicateGroup, err error) {
	ctx, end := s.instrument(ctx, opDuplicates)
	defer func() { end(err) }()
	byFP := make(map[domain.Fingerprint][]string)
	if err := s.index.Walk(ctx, func(e domain.StorageEntry) error {
		byFP[e.Fingerprint] = append(byFP[e.Fingerprint], e.Path)
		return nil
	}); err != nil {
		return nil, err
	}
	groups = []DuplicateGroup{}
	for fp, paths := range byFP {
		if len(paths) < 2 {
			continue
		}
		sort.Strings(paths)
		groups = append(groups, DuplicateGroup{Fingerprint: fp, Paths: paths})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Fingerprint < groups[j].Fingerprint })
	return groups, nil
}
