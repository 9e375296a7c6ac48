// Package postgres provides the optional Postgres metadata index for
// deployments that already operate a database server.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"cellrex/internal/infra/persistence/sqlindex"
	"cellrex/pkg/domain"
)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/cellrex?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is the Postgres-backed index. It embeds the shared SQL implementation.
type Store struct {
	*sqlindex.Store
}

// Open connects using dsn (falls back to DefaultDSN), verifies the
// connection and applies the schema.
func Open(ctx context.Context, dsn string, opts ...sqlindex.Option) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, &domain.IndexError{Op: "open", Err: fmt.Errorf("open postgres: %w", err)}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.IndexError{Op: "open", Err: fmt.Errorf("ping postgres: %w", err)}
	}
	inner, err := sqlindex.New(ctx, db, sqlindex.Postgres(), opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
