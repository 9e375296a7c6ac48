package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cellrex/internal/blob"
	"cellrex/internal/fingerprint"
	"cellrex/internal/layout"
	"cellrex/internal/relocate"
	"cellrex/internal/sidecar"
	"cellrex/pkg/domain"
)

// FindingKind classifies a reconciliation finding.
type FindingKind string

const (
	// FindingUnindexed: a file on disk has no row and none could be restored.
	FindingUnindexed FindingKind = "unindexed"
	// FindingRestored: a missing row was recreated from a sidecar or the archive.
	FindingRestored FindingKind = "restored"
	// FindingOrphaned: a row whose file is missing; the row is kept.
	FindingOrphaned FindingKind = "orphaned"
	// FindingStale: the file's bytes no longer match the stored fingerprint.
	FindingStale FindingKind = "stale"
	// FindingMissingSidecar: an indexed file has no well-formed sidecar.
	FindingMissingSidecar FindingKind = "missing-sidecar"
	// FindingOrphanedSidecar: a well-formed sidecar without its data file.
	FindingOrphanedSidecar FindingKind = "orphaned-sidecar"
	// FindingStaleTemp: a leftover relocation temp file.
	FindingStaleTemp FindingKind = "stale-temp"
)

// Finding is one discrepancy between the storage tree and the index.
type Finding struct {
	Kind        FindingKind        `json:"kind"`
	Path        string             `json:"path"`
	EntryID     string             `json:"entryId,omitempty"`
	Fingerprint domain.Fingerprint `json:"fingerprint,omitempty"`
	Actual      domain.Fingerprint `json:"actual,omitempty"`
	Detail      string             `json:"detail,omitempty"`
}

// ReconcileOptions tunes a sweep.
type ReconcileOptions struct {
	// Verify rehashes every file instead of only those whose sidecar is
	// missing or whose size or modification time changed.
	Verify bool
	// Restore recreates missing rows from sidecars or archived sidecars.
	Restore bool
}

// Report is the result of one sweep. Finding lists are sorted by path.
type Report struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Scanned    int       `json:"scanned"`
	Hashed     int       `json:"hashed"`

	Unindexed       []Finding `json:"unindexed"`
	Restored        []Finding `json:"restored"`
	Orphaned        []Finding `json:"orphaned"`
	Stale           []Finding `json:"stale"`
	MissingSidecars []Finding `json:"missingSidecars"`
	OrphanedSidecar []Finding `json:"orphanedSidecars"`
	StaleTemp       []Finding `json:"staleTemp"`
}

// Clean reports whether the sweep found nothing to flag. Restored rows do
// not count as problems.
func (r Report) Clean() bool {
	return len(r.Unindexed) == 0 && len(r.Orphaned) == 0 && len(r.Stale) == 0 &&
		len(r.MissingSidecars) == 0 && len(r.OrphanedSidecar) == 0 && len(r.StaleTemp) == 0
}

// Counts returns the number of findings per kind.
func (r Report) Counts() map[FindingKind]int {
	return map[FindingKind]int{
		FindingUnindexed:       len(r.Unindexed),
		FindingRestored:        len(r.Restored),
		FindingOrphaned:        len(r.Orphaned),
		FindingStale:           len(r.Stale),
		FindingMissingSidecar:  len(r.MissingSidecars),
		FindingOrphanedSidecar: len(r.OrphanedSidecar),
		FindingStaleTemp:       len(r.StaleTemp),
	}
}

func (r *Report) add(f Finding) {
	switch f.Kind {
	case FindingUnindexed:
		r.Unindexed = append(r.Unindexed, f)
	case FindingRestored:
		r.Restored = append(r.Restored, f)
	case FindingOrphaned:
		r.Orphaned = append(r.Orphaned, f)
	case FindingStale:
		r.Stale = append(r.Stale, f)
	case FindingMissingSidecar:
		r.MissingSidecars = append(r.MissingSidecars, f)
	case FindingOrphanedSidecar:
		r.OrphanedSidecar = append(r.OrphanedSidecar, f)
	case FindingStaleTemp:
		r.StaleTemp = append(r.StaleTemp, f)
	}
}

func (r *Report) sort() {
	for _, list := range [][]Finding{r.Unindexed, r.Restored, r.Orphaned, r.Stale, r.MissingSidecars, r.OrphanedSidecar, r.StaleTemp} {
		sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
	}
}

// sweep carries the mutable state of one Reconcile call.
type sweep struct {
	s    *Service
	opts ReconcileOptions

	mu     sync.Mutex
	report Report
	seen   map[string]struct{}
	temps  []dataFile
}

func (w *sweep) record(f Finding) {
	w.mu.Lock()
	w.report.add(f)
	w.mu.Unlock()
}

type dataFile struct {
	rel  string
	abs  string
	info fs.FileInfo
}

// Reconcile walks the storage tree against the index. It never deletes or
// modifies files or rows; with Restore set it only inserts rows missing for
// files that carry a sidecar. Rows are re-read right before they are judged
// so registrations completing mid-sweep are not misreported.
func (s *Service) Reconcile(ctx context.Context, opts ReconcileOptions) (report Report, err error) {
	ctx, end := s.instrument(ctx, opReconcile)
	defer func() { end(err) }()

	w := &sweep{s: s, opts: opts, seen: make(map[string]struct{})}
	w.report.StartedAt = s.now()

	files, err := w.scan(ctx)
	if err != nil {
		return Report{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, f := range files {
		g.Go(func() error { return w.checkFile(gctx, f) })
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	if err := s.index.Walk(ctx, func(e domain.StorageEntry) error {
		return w.checkRow(ctx, e)
	}); err != nil {
		return Report{}, err
	}
	w.checkTemps()

	w.report.FinishedAt = s.now()
	w.report.sort()
	s.setLastReport(w.report)
	s.logReport(w.report)
	if obs, ok := s.metrics.(ReportObserver); ok {
		obs.ObserveReport(ctx, w.report)
	}
	annotate(ctx, "scanned", strconv.Itoa(w.report.Scanned))
	annotate(ctx, "clean", strconv.FormatBool(w.report.Clean()))
	return w.report, nil
}

// scan walks the tree, classifying sidecars and temp files inline and
// returning the data files for the worker pool.
func (w *sweep) scan(ctx context.Context) ([]dataFile, error) {
	root := w.s.root
	var files []dataFile
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return &domain.IOError{Op: "walk", Path: p, Err: walkErr}
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if _, skip := w.s.skip[p]; skip {
			return nil
		}
		rel, err := layout.Rel(root, p)
		if err != nil {
			return &domain.IOError{Op: "walk", Path: p, Err: err}
		}
		name := d.Name()
		if relocate.IsTemp(name) {
			w.temps = append(w.temps, dataFile{rel: rel, abs: p})
			return nil
		}
		if isSidecarOnly, err := w.classifySidecar(p, rel); err != nil {
			return err
		} else if isSidecarOnly {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return &domain.IOError{Op: "stat", Path: p, Err: err}
		}
		files = append(files, dataFile{rel: rel, abs: p, info: info})
		w.seen[rel] = struct{}{}
		return nil
	})
	w.report.Scanned = len(files)
	return files, err
}

// classifySidecar decides whether p is a sidecar rather than a data file. A
// ".json" file is a data file when it has a sidecar of its own; otherwise it
// is a sidecar when its data file exists or when it decodes as one.
func (w *sweep) classifySidecar(p, rel string) (bool, error) {
	if !layout.IsSidecar(p) || exists(layout.SidecarPath(p)) {
		return false, nil
	}
	if exists(layout.DataPath(p)) {
		return true, nil
	}
	if _, err := sidecar.Read(p); err != nil {
		return false, nil
	}
	w.report.add(Finding{Kind: FindingOrphanedSidecar, Path: rel, Detail: "sidecar has no data file"})
	return true, nil
}

func sidecarProblem(err error) string {
	if errors.Is(err, sidecar.ErrMalformed) {
		return "malformed sidecar"
	}
	return "no sidecar"
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

func (w *sweep) hash(ctx context.Context, f dataFile) (domain.Fingerprint, error) {
	fp, _, err := fingerprint.File(ctx, f.abs)
	if err != nil {
		return "", err
	}
	w.mu.Lock()
	w.report.Hashed++
	w.mu.Unlock()
	return fp, nil
}

func (w *sweep) checkFile(ctx context.Context, f dataFile) error {
	row, err := w.s.index.GetByPath(ctx, f.rel)
	switch {
	case err == nil:
		return w.checkIndexed(ctx, f, row)
	case errors.Is(err, domain.ErrNotFound):
		return w.checkUnindexed(ctx, f)
	default:
		return err
	}
}

func (w *sweep) checkIndexed(ctx context.Context, f dataFile, row domain.StorageEntry) error {
	_, scErr := sidecar.Read(layout.SidecarPath(f.abs))
	wellFormed := scErr == nil
	if !wellFormed {
		w.record(Finding{Kind: FindingMissingSidecar, Path: f.rel, EntryID: row.ID, Detail: sidecarProblem(scErr)})
	}
	changed := f.info.Size() != row.Size || !f.info.ModTime().Equal(row.ModTime)
	if !w.opts.Verify && wellFormed && !changed {
		return nil
	}
	actual, err := w.hash(ctx, f)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if actual == row.Fingerprint {
		return nil
	}
	// A registration may have updated the row since it was read.
	fresh, err := w.s.index.GetByPath(ctx, f.rel)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if fresh.Fingerprint == actual {
		return nil
	}
	w.record(Finding{
		Kind:        FindingStale,
		Path:        f.rel,
		EntryID:     fresh.ID,
		Fingerprint: fresh.Fingerprint,
		Actual:      actual,
		Detail:      "file content differs from the registered fingerprint",
	})
	return nil
}

func (w *sweep) checkUnindexed(ctx context.Context, f dataFile) error {
	actual, err := w.hash(ctx, f)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	rec, source, detail := w.recoverRecord(ctx, f)
	if rec == nil || !w.opts.Restore {
		if rec != nil {
			detail = source + " available; restore disabled"
		}
		return w.flagUnindexed(ctx, f, actual, detail)
	}

	// Registration holds this lock between its row check and its upsert.
	unlock, err := w.s.locks.Lock(ctx, f.rel)
	if err != nil {
		return err
	}
	defer unlock()
	if _, err := w.s.index.GetByPath(ctx, f.rel); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	info, err := os.Stat(f.abs)
	if err != nil {
		return nil
	}
	stored, err := w.s.index.Upsert(ctx, domain.StorageEntry{
		Path:           f.rel,
		Fingerprint:    actual,
		Size:           info.Size(),
		ModTime:        info.ModTime().UTC(),
		FileType:       domain.FileTypeOf(f.rel),
		ExperimentName: rec.ExperimentName(),
		Record:         *rec,
		Review:         rec.Review(),
	})
	if err != nil {
		return err
	}
	w.record(Finding{Kind: FindingRestored, Path: f.rel, EntryID: stored.ID, Fingerprint: actual, Detail: "restored from " + source})
	return nil
}

// flagUnindexed reports f unless a registration indexed it meanwhile. The
// path lock waits out a registration that has moved the file but not yet
// upserted its row.
func (w *sweep) flagUnindexed(ctx context.Context, f dataFile, actual domain.Fingerprint, detail string) error {
	unlock, err := w.s.locks.Lock(ctx, f.rel)
	if err != nil {
		return err
	}
	defer unlock()
	if _, err := w.s.index.GetByPath(ctx, f.rel); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	w.record(Finding{Kind: FindingUnindexed, Path: f.rel, Actual: actual, Detail: detail})
	return nil
}

// recoverRecord loads the metadata for an unindexed file from its sidecar,
// falling back to the archive.
func (w *sweep) recoverRecord(ctx context.Context, f dataFile) (*domain.MetadataRecord, string, string) {
	rec, err := sidecar.Read(layout.SidecarPath(f.abs))
	if err == nil {
		return &rec, "sidecar", ""
	}
	detail := sidecarProblem(err)
	if !w.s.archive.Enabled() {
		return nil, "", detail
	}
	doc, _, aerr := w.s.archive.Get(ctx, layout.SidecarPath(f.rel))
	if aerr != nil {
		if !errors.Is(aerr, blob.ErrNotFound) {
			w.s.logger.Warn("archive lookup failed", "path", f.rel, "error", aerr)
		}
		return nil, "", detail
	}
	archived, derr := sidecar.Decode(doc)
	if derr != nil {
		return nil, "", fmt.Sprintf("%s; archived sidecar malformed", detail)
	}
	return &archived, "archive", ""
}

// checkTemps reports temp files still present once the sweep is done.
// In-flight moves and sidecar writes have renamed theirs away by then.
func (w *sweep) checkTemps() {
	for _, t := range w.temps {
		if exists(t.abs) {
			w.report.add(Finding{Kind: FindingStaleTemp, Path: t.rel, Detail: "leftover relocation temp file"})
		}
	}
}

// checkRow flags rows whose file was not seen by the scan and is still
// absent after a fresh stat and re-read.
func (w *sweep) checkRow(ctx context.Context, e domain.StorageEntry) error {
	if _, ok := w.seen[e.Path]; ok {
		return nil
	}
	if exists(w.s.abs(e.Path)) {
		return nil
	}
	fresh, err := w.s.index.GetByPath(ctx, e.Path)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if exists(w.s.abs(fresh.Path)) {
		return nil
	}
	w.record(Finding{
		Kind:        FindingOrphaned,
		Path:        fresh.Path,
		EntryID:     fresh.ID,
		Fingerprint: fresh.Fingerprint,
		Detail:      "indexed file is missing on disk",
	})
	return nil
}

func (s *Service) logReport(r Report) {
	for _, list := range [][]Finding{r.Unindexed, r.Orphaned, r.Stale, r.MissingSidecars, r.OrphanedSidecar, r.StaleTemp} {
		for _, f := range list {
			s.logger.Warn("reconcile finding", "kind", f.Kind, "path", f.Path, "detail", f.Detail)
		}
	}
	for _, f := range r.Restored {
		s.logger.Info("reconcile restored row", "path", f.Path, "id", f.EntryID)
	}
	s.logger.Info("reconcile finished",
		"scanned", r.Scanned,
		"hashed", r.Hashed,
		"unindexed", len(r.Unindexed),
		"restored", len(r.Restored),
		"orphaned", len(r.Orphaned),
		"stale", len(r.Stale),
		"duration", r.FinishedAt.Sub(r.StartedAt),
	)
}
