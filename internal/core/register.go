package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cellrex/internal/fingerprint"
	"cellrex/internal/layout"
	"cellrex/internal/relocate"
	"cellrex/internal/sidecar"
	"cellrex/pkg/domain"
)

var errNotRegular = errors.New("not a regular file")

// Register places the source file at the path derived from rec, writes its
// sidecar and upserts its index row.
//
// Validation, composition and fingerprinting happen before any side effect.
// The critical section, keyed by the file and sidecar paths and by the
// experiment name, then covers the existing-row and experiment checks, the
// move, the sidecar write and the upsert. A file whose bytes differ from
// what is registered at the destination is never overwritten, and neither is
// a data file sitting at the sidecar path.
func (s *Service) Register(ctx context.Context, rec domain.MetadataRecord, source string) (out Outcome, err error) {
	ctx, end := s.instrument(ctx, opRegister)
	start := time.Now()
	defer func() {
		if err == nil {
			annotate(ctx, "status", string(out.Status))
			annotate(ctx, "path", out.Paths.File)
		}
		end(err)
		s.logRegistration(out, err, time.Since(start))
		if err == nil {
			if obs, ok := s.metrics.(OutcomeObserver); ok {
				obs.ObserveOutcome(ctx, out.Status)
			}
		}
	}()

	rec = rec.Clone()
	if rec.FileName == "" {
		rec.FileName = filepath.Base(source)
	}
	if err := rec.Validate(); err != nil {
		return Outcome{}, err
	}
	paths, err := s.composer.Compose(rec)
	if err != nil {
		return Outcome{}, err
	}
	// Lstat: a symlink would be hashed through its target but moved as a link.
	info, err := os.Lstat(source)
	if err != nil {
		return Outcome{}, &domain.IOError{Op: "stat source", Path: source, Err: err}
	}
	if !info.Mode().IsRegular() {
		return Outcome{}, &domain.IOError{Op: "stat source", Path: source, Err: errNotRegular}
	}
	fp, err := s.fingerprintSource(ctx, source, info)
	if err != nil {
		return Outcome{}, err
	}

	// The sidecar path is locked too: it is the data path of a file named
	// "<name>.json".
	unlock, err := s.locks.LockAll(ctx, paths.File, paths.Sidecar)
	if err != nil {
		return Outcome{}, &domain.IOError{Op: "lock", Path: paths.File, Err: err}
	}
	defer unlock()
	unlockExperiment, err := s.experiments.Lock(ctx, rec.ExperimentName())
	if err != nil {
		return Outcome{}, &domain.IOError{Op: "lock", Path: paths.File, Err: err}
	}
	defer unlockExperiment()

	out = Outcome{Paths: paths, Duplicates: []string{}}
	if conflict, err := s.sidecarConflict(ctx, paths); err != nil {
		return Outcome{}, err
	} else if conflict != nil {
		out.Status, out.Conflict = StatusConflict, conflict
		return out, nil
	}
	if out.Duplicates, err = s.duplicatePaths(ctx, fp, paths.File); err != nil {
		return Outcome{}, err
	}

	existing, err := s.index.GetByPath(ctx, paths.File)
	switch {
	case err == nil:
		return s.registerExisting(ctx, rec, source, fp, existing, out)
	case errors.Is(err, domain.ErrNotFound):
	default:
		return Outcome{}, err
	}

	if conflict, err := s.experimentConflict(ctx, rec, paths.File); err != nil {
		return Outcome{}, err
	} else if conflict != nil {
		out.Status, out.Conflict = StatusConflict, conflict
		return out, nil
	}
	out.Warnings = append(out.Warnings, s.precursorWarnings(ctx, rec)...)

	dst := s.abs(paths.File)
	adopted := false
	if _, statErr := os.Lstat(dst); statErr == nil {
		onDisk, _, err := fingerprint.File(ctx, dst)
		if err != nil {
			return Outcome{}, err
		}
		if onDisk != fp {
			out.Status = StatusConflict
			out.Conflict = &domain.ConflictError{
				Reason:              domain.ConflictUnindexedFile,
				Path:                paths.File,
				ExistingFingerprint: onDisk,
				Detail:              "an unindexed file with different content occupies the destination",
			}
			return out, nil
		}
		adopted = true
		out.Warnings = append(out.Warnings, "adopted unindexed file already present at destination")
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return Outcome{}, &domain.IOError{Op: "stat destination", Path: dst, Err: statErr}
	} else if err := relocate.Move(ctx, source, dst); err != nil {
		return Outcome{}, err
	}
	if !adopted && s.cache != nil {
		s.cache.Forget(source)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	entry, err := s.commit(ctx, domain.StorageEntry{}, rec, paths, fp)
	if err != nil {
		return Outcome{}, err
	}
	out.Status, out.Entry = StatusCreated, entry
	out.Warnings = append(out.Warnings, s.mirror(ctx, paths.Sidecar, rec, fp)...)
	return out, nil
}

// registerExisting handles a destination path that already has a row.
func (s *Service) registerExisting(ctx context.Context, rec domain.MetadataRecord, source string, fp domain.Fingerprint, existing domain.StorageEntry, out Outcome) (Outcome, error) {
	if existing.Fingerprint != fp {
		out.Status, out.Entry = StatusConflict, existing
		out.Conflict = &domain.ConflictError{
			Reason:              domain.ConflictPath,
			Path:                existing.Path,
			ExistingID:          existing.ID,
			ExistingPath:        existing.Path,
			ExistingFingerprint: existing.Fingerprint,
			Detail:              "different content is already registered at this path; remove the existing file and its entry first",
		}
		return out, nil
	}

	dst := s.abs(existing.Path)
	_, statErr := os.Lstat(dst)
	missing := errors.Is(statErr, fs.ErrNotExist)
	if statErr != nil && !missing {
		return Outcome{}, &domain.IOError{Op: "stat destination", Path: dst, Err: statErr}
	}
	if !missing && rec.SameContent(existing.Record) {
		out.Status, out.Entry = StatusUnchanged, existing
		return out, nil
	}

	out.Warnings = append(out.Warnings, s.precursorWarnings(ctx, rec)...)
	if missing {
		if err := relocate.Move(ctx, source, dst); err != nil {
			return Outcome{}, err
		}
		if s.cache != nil {
			s.cache.Forget(source)
		}
		out.Warnings = append(out.Warnings, "restored missing file at registered path")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = existing.Record.CreatedAt
	}
	entry, err := s.commit(ctx, existing, rec, out.Paths, fp)
	if err != nil {
		return Outcome{}, err
	}
	out.Status, out.Entry = StatusUpdated, entry
	out.Warnings = append(out.Warnings, s.mirror(ctx, out.Paths.Sidecar, rec, fp)...)
	return out, nil
}

// commit writes the sidecar after the file is in place, then upserts the row.
func (s *Service) commit(ctx context.Context, prev domain.StorageEntry, rec domain.MetadataRecord, paths layout.Paths, fp domain.Fingerprint) (domain.StorageEntry, error) {
	dst := s.abs(paths.File)
	info, err := os.Stat(dst)
	if err != nil {
		return domain.StorageEntry{}, &domain.IOError{Op: "stat destination", Path: dst, Err: err}
	}
	if err := sidecar.Write(s.abs(paths.Sidecar), rec); err != nil {
		return domain.StorageEntry{}, err
	}
	entry := domain.StorageEntry{
		ID:             prev.ID,
		Path:           paths.File,
		Fingerprint:    fp,
		Size:           info.Size(),
		ModTime:        info.ModTime().UTC(),
		FileType:       domain.FileTypeOf(paths.File),
		ExperimentName: rec.ExperimentName(),
		Record:         rec,
		Review:         rec.Review(),
		CreatedAt:      prev.CreatedAt,
	}
	return s.index.Upsert(ctx, entry)
}

// mirror copies the sidecar into the archive. Failures become warnings; the
// local sidecar is already durable.
func (s *Service) mirror(ctx context.Context, sidecarPath string, rec domain.MetadataRecord, fp domain.Fingerprint) []string {
	if !s.archive.Enabled() {
		return nil
	}
	doc, err := sidecar.Encode(rec)
	if err == nil {
		err = s.archive.Put(ctx, sidecarPath, doc, fp)
	}
	if err != nil {
		s.logger.Warn("sidecar archive failed", "path", sidecarPath, "error", err)
		return []string{fmt.Sprintf("sidecar archive failed: %v", err)}
	}
	return nil
}

func (s *Service) fingerprintSource(ctx context.Context, source string, info os.FileInfo) (domain.Fingerprint, error) {
	if s.cache != nil {
		if fp, ok := s.cache.Lookup(source, info.Size(), info.ModTime()); ok {
			s.logger.Debug("fingerprint cache hit", "source", source, "fingerprint", fp.Short())
			return fp, nil
		}
	}
	fp, _, err := fingerprint.File(ctx, source)
	return fp, err
}

func (s *Service) duplicatePaths(ctx context.Context, fp domain.Fingerprint, self string) ([]string, error) {
	rows, err := s.index.GetByFingerprint(ctx, fp)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, row := range rows {
		if row.Path != self {
			out = append(out, row.Path)
		}
	}
	return out, nil
}

// sidecarConflict reports a data file occupying the sidecar path: one that
// is indexed there, carries a sidecar of its own, or does not decode as a
// sidecar while the paired data file is absent.
func (s *Service) sidecarConflict(ctx context.Context, paths layout.Paths) (*domain.ConflictError, error) {
	conflict := &domain.ConflictError{
		Reason: domain.ConflictSidecarPath,
		Path:   paths.File,
		Detail: "a data file occupies the sidecar path " + paths.Sidecar,
	}
	row, err := s.index.GetByPath(ctx, paths.Sidecar)
	switch {
	case err == nil:
		conflict.ExistingID = row.ID
		conflict.ExistingPath = row.Path
		conflict.ExistingFingerprint = row.Fingerprint
		return conflict, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	abs := s.abs(paths.Sidecar)
	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.IOError{Op: "stat sidecar", Path: abs, Err: err}
	}
	conflict.ExistingPath = paths.Sidecar
	if !info.Mode().IsRegular() || exists(layout.SidecarPath(abs)) {
		return conflict, nil
	}
	if exists(s.abs(paths.File)) {
		// A damaged sidecar beside its data file is rewritten.
		return nil, nil
	}
	if _, err := sidecar.Read(abs); errors.Is(err, sidecar.ErrMalformed) {
		return conflict, nil
	}
	return nil, nil
}

// experimentConflict reports an experiment-name collision: rows already
// carry the derived name but belong to a different set of labs.
func (s *Service) experimentConflict(ctx context.Context, rec domain.MetadataRecord, path string) (*domain.ConflictError, error) {
	name := rec.ExperimentName()
	rows, err := s.index.GetByExperiment(ctx, name)
	if err != nil {
		return nil, err
	}
	want := labSet(rec.Labs)
	for _, row := range rows {
		if have := labSet(row.Record.Labs); have != want {
			return &domain.ConflictError{
				Reason:              domain.ConflictExperimentName,
				Path:                path,
				ExistingID:          row.ID,
				ExistingPath:        row.Path,
				ExistingFingerprint: row.Fingerprint,
				Detail:              fmt.Sprintf("experiment %s is already used by lab(s) %s", name, have),
			}, nil
		}
	}
	return nil, nil
}

func labSet(labs []string) string {
	seen := make(map[string]bool, len(labs))
	out := make([]string, 0, len(labs))
	for _, l := range labs {
		l = strings.TrimSpace(l)
		if l != "" && !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// precursorWarnings flags precursor links that cannot be resolved. Links
// are free text and never rejected.
func (s *Service) precursorWarnings(ctx context.Context, rec domain.MetadataRecord) []string {
	own := rec.ExperimentName()
	var warnings []string
	for _, p := range rec.PrecursorExperiments {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p == own {
			warnings = append(warnings, fmt.Sprintf("precursor %s names the record's own experiment", p))
			continue
		}
		rows, err := s.index.GetByExperiment(ctx, p)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("precursor %s could not be checked: %v", p, err))
			continue
		}
		if len(rows) == 0 {
			warnings = append(warnings, fmt.Sprintf("precursor %s is not an indexed experiment", p))
		}
	}
	return warnings
}

func (s *Service) logRegistration(out Outcome, err error, took time.Duration) {
	if err != nil {
		s.logger.Error("registration failed", "error", err, "duration", took)
		return
	}
	kv := []any{
		"status", out.Status,
		"path", out.Paths.File,
		"fingerprint", out.Entry.Fingerprint.Short(),
		"duration", took,
	}
	switch {
	case out.Conflict != nil:
		s.logger.Warn("registration conflict", append(kv, "reason", out.Conflict.Reason, "existing", out.Conflict.ExistingPath)...)
	case len(out.Duplicates) > 0:
		s.logger.Warn("registered duplicate content", append(kv, "duplicates", out.Duplicates)...)
	default:
		s.logger.Info("registered file", kv...)
	}
	for _, w := range out.Warnings {
		s.logger.Warn("registration warning", "path", out.Paths.File, "warning", w)
	}
}
