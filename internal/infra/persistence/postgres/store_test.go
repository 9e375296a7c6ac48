package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"

	"cellrex/internal/infra/persistence/indextest"
	"cellrex/internal/infra/persistence/postgres/testutil"
	"cellrex/pkg/domain"
)

func TestOpenAppliesSchema(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		if driverName != "pgx" {
			t.Fatalf("unexpected driver %s", driverName)
		}
		if dsn != DefaultDSN {
			t.Fatalf("expected default DSN, got %s", dsn)
		}
		return db, nil
	})
	defer restore()

	store, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = store.Close() }()
	var sawEntries, sawJSONB bool
	for _, stmt := range conn.Statements() {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS entries") {
			sawEntries = true
			sawJSONB = strings.Contains(stmt, "JSONB")
		}
	}
	if !sawEntries || !sawJSONB {
		t.Fatalf("expected postgres DDL to be applied, got execs: %v", conn.Statements())
	}
}

func TestOpenSurfacesFailures(t *testing.T) {
	cases := map[string]func(*testutil.StubConn){
		"ping": func(c *testutil.StubConn) { c.FailPing = true },
		"ddl":  func(c *testutil.StubConn) { c.FailExec = true },
	}
	for name, arrange := range cases {
		t.Run(name, func(t *testing.T) {
			db, conn := testutil.NewStubDB()
			arrange(conn)
			restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
			defer restore()
			_, err := Open(context.Background(), "postgres://stub")
			if !errors.Is(err, domain.ErrIndex) {
				t.Fatalf("expected ErrIndex, got %v", err)
			}
		})
	}

	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("boom") })
	defer restore()
	if _, err := Open(context.Background(), "postgres://stub"); !errors.Is(err, domain.ErrIndex) {
		t.Fatalf("expected ErrIndex on open failure, got %v", err)
	}
}

// TestStoreContract runs against a live server when CELLREX_TEST_POSTGRES_DSN is set.
func TestStoreContract(t *testing.T) {
	dsn := os.Getenv("CELLREX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CELLREX_TEST_POSTGRES_DSN not set")
	}
	indextest.Run(t, func(t *testing.T) domain.Index {
		ctx := context.Background()
		s, err := Open(ctx, dsn)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if _, err := s.DB().ExecContext(ctx, `TRUNCATE TABLE entries, settings`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
