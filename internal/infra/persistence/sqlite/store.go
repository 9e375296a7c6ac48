// Package sqlite provides the embedded SQLite metadata index, the default
// backend for single-host deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"cellrex/internal/infra/persistence/sqlindex"
	"cellrex/pkg/domain"
)

// DefaultPath is used when no index file is configured.
const DefaultPath = "./data/index/cellrex.db"

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=FULL",
	"PRAGMA busy_timeout=5000",
}

// Store is the SQLite-backed index. It embeds the shared SQL implementation.
type Store struct {
	*sqlindex.Store
	path string
}

// Open creates or opens the index file at path, applying WAL pragmas and the
// schema. The pool is limited to one connection so pragmas hold for every
// statement and writers never contend inside the process.
func Open(ctx context.Context, path string, opts ...sqlindex.Option) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, &domain.IndexError{Op: "open", Err: fmt.Errorf("create dirs: %w", err)}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &domain.IndexError{Op: "open", Err: fmt.Errorf("open sqlite: %w", err)}
	}
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, &domain.IndexError{Op: "open", Err: fmt.Errorf("%s: %w", p, err)}
		}
	}
	inner, err := sqlindex.New(ctx, db, sqlindex.SQLite(), opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the index file location.
func (s *Store) Path() string { return s.path }

// Files lists the index file and the companions SQLite may create next to
// it. The reconciliation sweep skips them when the index lives inside the
// storage root.
func Files(path string) []string {
	return []string{path, path + "-wal", path + "-shm", path + "-journal"}
}
