package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cellrex/internal/infra/persistence/memory"
	"cellrex/internal/sidecar"
	"cellrex/pkg/domain"
	"cellrex/testutil"
)

var fixedNow = time.Date(2024, 12, 3, 10, 0, 0, 0, time.UTC)

type harness struct {
	svc    *Service
	index  *memory.Store
	root   string
	upload string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	base := t.TempDir()
	index := memory.NewStore()
	t.Cleanup(func() { _ = index.Close() })
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	svc, err := NewService(index, filepath.Join(base, "storage"), opts...)
	require.NoError(t, err)
	upload := filepath.Join(base, "upload")
	require.NoError(t, os.MkdirAll(upload, 0o750))
	return &harness{svc: svc, index: index, root: svc.Root(), upload: upload}
}

// source writes data into a fresh upload subdirectory so repeated calls
// never collide.
func (h *harness) source(t *testing.T, name string, data []byte) string {
	t.Helper()
	dir, err := os.MkdirTemp(h.upload, "src-")
	require.NoError(t, err)
	return testutil.WriteFile(t, dir, name, data)
}

func (h *harness) register(t *testing.T, rec domain.MetadataRecord, data []byte) Outcome {
	t.Helper()
	out, err := h.svc.Register(context.Background(), rec, h.source(t, rec.FileName, data))
	require.NoError(t, err)
	return out
}

func (h *harness) abs(rel string) string { return h.svc.abs(rel) }

// placeUnindexed simulates a registration interrupted after the move: the
// file and its sidecar are on disk but no row exists.
func (h *harness) placeUnindexed(t *testing.T, rec domain.MetadataRecord, data []byte, withSidecar bool) string {
	t.Helper()
	paths, err := h.svc.Compose(rec)
	require.NoError(t, err)
	testutil.WriteFile(t, h.root, filepath.FromSlash(paths.File), data)
	if withSidecar {
		require.NoError(t, sidecar.Write(h.abs(paths.Sidecar), rec))
	}
	return paths.File
}

func readFile(t *testing.T, p string) []byte {
	t.Helper()
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	return data
}

func withSample(rec domain.MetadataRecord, id int) domain.MetadataRecord {
	rec.SampleID = domain.Int(id)
	return rec
}
