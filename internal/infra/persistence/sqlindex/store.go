// Package sqlindex implements domain.Index over database/sql. The sqlite and
// postgres packages open a connection and hand it over with their Dialect.
package sqlindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"cellrex/pkg/domain"
)

var _ domain.Index = (*Store)(nil)

const (
	entryColumns = `id, path, fingerprint, size, mod_time, file_type, experiment_name,
		species, origin, organ_type, cell_type, measured_on, review, record, created_at, updated_at`
	walkPageSize = 256
)

// Store is the SQL-backed metadata index.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New applies the dialect's schema to db and returns the index. The Store
// owns db from here on and closes it in Close.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	s := &Store{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	for _, stmt := range SplitStatements(dialect.DDL) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, &domain.IndexError{Op: "apply schema", Err: fmt.Errorf("%s: %w", dialect.Name, err)}
		}
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the SQL dialect in use.
func (s *Store) Dialect() Dialect { return s.dialect }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

// Upsert inserts the entry or replaces the row at its path in one statement.
// The existing id and creation time survive a replace.
func (s *Store) Upsert(ctx context.Context, entry domain.StorageEntry) (domain.StorageEntry, error) {
	p, err := domain.CleanPath(entry.Path)
	if err != nil {
		return domain.StorageEntry{}, &domain.IndexError{Op: "upsert", Err: err}
	}
	entry = entry.Clone()
	entry.Path = p
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := s.now()
	created := entry.CreatedAt
	if created.IsZero() {
		created = now
	}
	doc, err := json.Marshal(entry.Record)
	if err != nil {
		return domain.StorageEntry{}, &domain.IndexError{Op: "upsert", Err: fmt.Errorf("encode record: %w", err)}
	}
	r := entry.Record
	query := s.dialect.Rebind(`INSERT INTO entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			size = excluded.size,
			mod_time = excluded.mod_time,
			file_type = excluded.file_type,
			experiment_name = excluded.experiment_name,
			species = excluded.species,
			origin = excluded.origin,
			organ_type = excluded.organ_type,
			cell_type = excluded.cell_type,
			measured_on = excluded.measured_on,
			review = excluded.review,
			record = excluded.record,
			updated_at = excluded.updated_at
		RETURNING id, created_at, updated_at`)
	var id, createdAt, updatedAt string
	err = s.db.QueryRowContext(ctx, query,
		entry.ID, entry.Path, string(entry.Fingerprint), entry.Size, formatTime(entry.ModTime),
		entry.FileType, entry.ExperimentName, r.Species, r.Origin, r.OrganType, r.CellType,
		r.Date, string(entry.Review), string(doc), formatTime(created), formatTime(now),
	).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		return domain.StorageEntry{}, &domain.IndexError{Op: "upsert", Err: err}
	}
	entry.ID = id
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.StorageEntry{}, &domain.IndexError{Op: "upsert", Err: err}
	}
	if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.StorageEntry{}, &domain.IndexError{Op: "upsert", Err: err}
	}
	entry.ModTime = entry.ModTime.UTC()
	return entry, nil
}

// Get returns the row with the given id.
func (s *Store) Get(ctx context.Context, id string) (domain.StorageEntry, error) {
	return s.getOne(ctx, "get", `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
}

// GetByPath returns the row stored at path.
func (s *Store) GetByPath(ctx context.Context, path string) (domain.StorageEntry, error) {
	p, err := domain.CleanPath(path)
	if err != nil {
		return domain.StorageEntry{}, domain.ErrNotFound
	}
	return s.getOne(ctx, "get by path", `SELECT `+entryColumns+` FROM entries WHERE path = ?`, p)
}

func (s *Store) getOne(ctx context.Context, op, query string, args ...any) (domain.StorageEntry, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StorageEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.StorageEntry{}, &domain.IndexError{Op: op, Err: err}
	}
	return e, nil
}

// GetByFingerprint returns every row carrying fp, ordered by path.
func (s *Store) GetByFingerprint(ctx context.Context, fp domain.Fingerprint) ([]domain.StorageEntry, error) {
	return s.list(ctx, "get by fingerprint",
		`SELECT `+entryColumns+` FROM entries WHERE fingerprint = ? ORDER BY path`, string(fp))
}

// GetByExperiment returns every row of the named experiment, ordered by path.
func (s *Store) GetByExperiment(ctx context.Context, name string) ([]domain.StorageEntry, error) {
	return s.list(ctx, "get by experiment",
		`SELECT `+entryColumns+` FROM entries WHERE experiment_name = ? ORDER BY path`, name)
}

func (s *Store) list(ctx context.Context, op, query string, args ...any) ([]domain.StorageEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, &domain.IndexError{Op: op, Err: err}
	}
	defer func() { _ = rows.Close() }()
	out := []domain.StorageEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, &domain.IndexError{Op: op, Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.IndexError{Op: op, Err: err}
	}
	return out, nil
}

// Query narrows rows in SQL on the scalar columns, then applies the full
// Query.Matches predicate to what comes back. Paging happens in SQL only when
// no filter is left for the second stage.
func (s *Store) Query(ctx context.Context, q domain.Query) ([]domain.StorageEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, &domain.IndexError{Op: "query", Err: err}
	}
	where, args := pushdown(q)
	query := `SELECT ` + entryColumns + ` FROM entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY path`
	residual := needsResidual(q)
	if !residual {
		if q.Limit > 0 {
			query += ` LIMIT ?`
			args = append(args, q.Limit)
		} else if q.Offset > 0 {
			query += ` LIMIT ?`
			args = append(args, int64(1)<<62)
		}
		if q.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, q.Offset)
		}
	}
	candidates, err := s.list(ctx, "query", query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StorageEntry, 0, len(candidates))
	for _, e := range candidates {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	if residual {
		out = q.Page(out)
	}
	return out, nil
}

// pushdown translates the exact-match filters into parameterised predicates.
func pushdown(q domain.Query) ([]string, []any) {
	var where []string
	var args []any
	in := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		where = append(where, column+` IN (`+strings.TrimSuffix(strings.Repeat(`?, `, len(values)), `, `)+`)`)
		for _, v := range values {
			args = append(args, v)
		}
	}
	in("species", q.Species)
	in("origin", q.Origin)
	in("organ_type", q.OrganType)
	in("cell_type", q.CellType)
	if q.DateFrom != "" {
		where = append(where, `measured_on >= ?`)
		args = append(args, q.DateFrom)
	}
	if q.DateTo != "" {
		where = append(where, `measured_on <= ?`)
		args = append(args, q.DateTo)
	}
	if q.Review != "" {
		where = append(where, `review = ?`)
		args = append(args, string(q.Review))
	}
	if q.Fingerprint != "" {
		where = append(where, `fingerprint = ?`)
		args = append(args, string(q.Fingerprint))
	}
	if prefix := q.NormalizedPathPrefix(); prefix != "" {
		dir := prefix + "/"
		where = append(where, `(path = ? OR substr(path, 1, ?) = ?)`)
		args = append(args, prefix, utf8.RuneCountInString(dir), dir)
	}
	return where, args
}

// needsResidual reports whether q carries filters only Query.Matches can
// evaluate (list fields, influences, devices, experiment substring).
func needsResidual(q domain.Query) bool {
	return len(q.BrainRegion) > 0 || len(q.ProtocolNames) > 0 || len(q.Keywords) > 0 ||
		len(q.Experimenter) > 0 || len(q.Lab) > 0 || len(q.InfluenceFilters()) > 0 ||
		len(q.DeviceMEA) > 0 || len(q.ChipTypeMEA) > 0 ||
		len(q.DeviceMicroscope) > 0 || len(q.TaskMicroscope) > 0 ||
		q.ExperimentName != ""
}

// Delete removes the row with the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM entries WHERE id = ?`), id)
	if err != nil {
		return &domain.IndexError{Op: "delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &domain.IndexError{Op: "delete", Err: err}
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Walk pages through rows by path. Each page is fully read before fn runs so
// callbacks may use the index, and rows written mid-walk after the cursor are
// still visited.
func (s *Store) Walk(ctx context.Context, fn func(domain.StorageEntry) error) error {
	after := ""
	for {
		page, err := s.list(ctx, "walk",
			`SELECT `+entryColumns+` FROM entries WHERE path > ? ORDER BY path LIMIT ?`, after, walkPageSize)
		if err != nil {
			return err
		}
		for _, e := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		if len(page) < walkPageSize {
			return nil
		}
		after = page[len(page)-1].Path
	}
}

// Setting returns a persisted setting.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT value FROM settings WHERE key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &domain.IndexError{Op: "setting", Err: err}
	}
	return v, true, nil
}

// PutSetting stores a setting, replacing any previous value.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`),
		key, value)
	if err != nil {
		return &domain.IndexError{Op: "put setting", Err: err}
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &domain.IndexError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return &domain.IndexError{Op: "close", Err: err}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (domain.StorageEntry, error) {
	var e domain.StorageEntry
	var fp, review, modTime, createdAt, updatedAt string
	var species, origin, organType, cellType, measuredOn string
	var doc []byte
	if err := sc.Scan(&e.ID, &e.Path, &fp, &e.Size, &modTime, &e.FileType, &e.ExperimentName,
		&species, &origin, &organType, &cellType, &measuredOn, &review, &doc, &createdAt, &updatedAt); err != nil {
		return domain.StorageEntry{}, err
	}
	e.Fingerprint = domain.Fingerprint(fp)
	e.Review = domain.ReviewState(review)
	if err := json.Unmarshal(doc, &e.Record); err != nil {
		return domain.StorageEntry{}, fmt.Errorf("decode record of %s: %w", e.Path, err)
	}
	var err error
	if e.ModTime, err = parseTime(modTime); err != nil {
		return domain.StorageEntry{}, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.StorageEntry{}, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.StorageEntry{}, err
	}
	return e, nil
}
