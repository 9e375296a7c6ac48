package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cellrex/internal/infra/persistence/memory"
	"cellrex/internal/infra/persistence/sqlite"
	"cellrex/testutil"
)

func TestOpenIndexDrivers(t *testing.T) {
	ctx := context.Background()

	mem, err := OpenIndex(ctx, IndexConfig{Driver: StorageMemory})
	require.NoError(t, err)
	require.IsType(t, &memory.Store{}, mem)
	require.NoError(t, mem.Close())

	dbPath := filepath.Join(t.TempDir(), "index", "cellrex.db")
	lite, err := OpenIndex(ctx, IndexConfig{SQLitePath: dbPath})
	require.NoError(t, err)
	require.IsType(t, &sqlite.Store{}, lite)
	t.Cleanup(func() { _ = lite.Close() })
	require.FileExists(t, dbPath)

	_, err = OpenIndex(ctx, IndexConfig{Driver: "mongo"})
	require.ErrorContains(t, err, "unknown storage driver mongo")
}

func TestIndexFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellrex.db")
	require.Equal(t, sqlite.Files(path), IndexFiles(IndexConfig{Driver: StorageSQLite, SQLitePath: path}))
	require.Nil(t, IndexFiles(IndexConfig{Driver: StorageMemory}))
	require.Nil(t, IndexFiles(IndexConfig{Driver: StoragePostgres}))

	defaults := IndexFiles(IndexConfig{})
	require.Len(t, defaults, 4)
	require.True(t, filepath.IsAbs(defaults[0]))
	require.Equal(t, filepath.Base(sqlite.DefaultPath), filepath.Base(defaults[0]))
}

// The sqlite file sits inside the storage root; its files must never show
// up as unindexed data.
func TestServiceOverSQLiteInsideStorageRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cfg := IndexConfig{Driver: StorageSQLite, SQLitePath: filepath.Join(root, ".index", "cellrex.db")}
	index, err := OpenIndex(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	svc, err := NewService(index, root, WithSkipPaths(IndexFiles(cfg)...))
	require.NoError(t, err)
	src := testutil.WriteFile(t, t.TempDir(), "rec.h5", []byte("sqlite-backed"))
	out, err := svc.Register(ctx, testutil.MEARecord(), src)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, out.Status)

	report, err := svc.Reconcile(ctx, ReconcileOptions{Verify: true})
	require.NoError(t, err)
	require.True(t, report.Clean(), "%+v", report)
	require.Equal(t, 1, report.Scanned)
}

func TestNewServiceValidatesArguments(t *testing.T) {
	_, err := NewService(nil, t.TempDir())
	require.Error(t, err)
	_, err = NewService(memory.NewStore(), "")
	require.Error(t, err)

	root := filepath.Join(t.TempDir(), "nested", "storage")
	svc, err := NewService(memory.NewStore(), root, WithReconcileWorkers(0), WithComposer(nil))
	require.NoError(t, err)
	require.DirExists(t, root)
	require.Equal(t, DefaultReconcileWorkers, svc.workers)
	require.NotNil(t, svc.Composer())
}
