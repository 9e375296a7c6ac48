package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"cellrex/internal/infra/persistence/indextest"
	"cellrex/pkg/domain"
)

func TestStoreContract(t *testing.T) {
	indextest.Run(t, func(t *testing.T) domain.Index {
		s, err := Open(context.Background(), filepath.Join(t.TempDir(), "index.db"))
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "index.db")
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	stored, err := s.Upsert(ctx, indextest.Entry("Mouse/a/rec.h5", indextest.FingerprintA, indextest.Record()))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.PutSetting(ctx, "layout.key_order", "species/origin"); err != nil {
		t.Fatalf("put setting: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	got, err := reopened.GetByPath(ctx, "Mouse/a/rec.h5")
	if err != nil {
		t.Fatalf("get by path: %v", err)
	}
	if got.ID != stored.ID || got.Fingerprint != indextest.FingerprintA {
		t.Fatalf("unexpected row after reopen: %+v", got)
	}
	v, ok, err := reopened.Setting(ctx, "layout.key_order")
	if err != nil || !ok || v != "species/origin" {
		t.Fatalf("setting lost across reopen: %q %v %v", v, ok, err)
	}
	if reopened.Path() != path {
		t.Fatalf("unexpected path %s", reopened.Path())
	}
}

func TestStoreUsesWAL(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	var mode string
	if err := s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Fatalf("expected WAL journal, got %s", mode)
	}
}

func TestFiles(t *testing.T) {
	got := Files("idx/cellrex.db")
	want := []string{"idx/cellrex.db", "idx/cellrex.db-wal", "idx/cellrex.db-shm", "idx/cellrex.db-journal"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Files()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
