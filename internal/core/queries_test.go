package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"cellrex/internal/fingerprint"
	"cellrex/pkg/domain"
	"cellrex/testutil"
)

func TestQueryAndLookups(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mea := h.register(t, testutil.MEARecord(), []byte("mea"))
	scope := h.register(t, testutil.MicroscopeRecord(), []byte("scope"))

	got, err := h.svc.Get(ctx, mea.Entry.ID)
	require.NoError(t, err)
	require.Equal(t, mea.Entry.Path, got.Path)

	got, err = h.svc.GetByPath(ctx, scope.Entry.Path)
	require.NoError(t, err)
	require.Equal(t, scope.Entry.ID, got.ID)

	_, err = h.svc.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	rows, err := h.svc.Query(ctx, domain.Query{DeviceMicroscope: []string{"Axio"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, scope.Entry.ID, rows[0].ID)

	rows, err = h.svc.Query(ctx, domain.Query{Species: []string{"Mouse"}, Pharmacology: []string{"LSD"}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Less(t, rows[0].Path, rows[1].Path)

	_, err = h.svc.Query(ctx, domain.Query{DateFrom: "03.12.2024"})
	require.Error(t, err)
}

func TestDeleteRemovesRowOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	out := h.register(t, testutil.MEARecord(), []byte("keep me"))

	require.NoError(t, h.svc.Delete(ctx, out.Entry.ID))
	_, err := h.svc.Get(ctx, out.Entry.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.FileExists(t, h.abs(out.Paths.File))
	require.FileExists(t, h.abs(out.Paths.Sidecar))

	require.ErrorIs(t, h.svc.Delete(ctx, out.Entry.ID), domain.ErrNotFound)

	report := reconcile(t, h, ReconcileOptions{Restore: true})
	require.Len(t, report.Restored, 1, "a deleted row comes back while its sidecar remains")
	require.Zero(t, h.svc.locks.held())
}

func TestDuplicatesGroupsByFingerprint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	groups, err := h.svc.Duplicates(ctx)
	require.NoError(t, err)
	require.Empty(t, groups)

	shared := []byte("copied twice")
	a := h.register(t, withSample(testutil.MEARecord(), 1), shared)
	b := h.register(t, withSample(testutil.MEARecord(), 2), shared)
	h.register(t, withSample(testutil.MEARecord(), 3), []byte("unique"))

	groups, err = h.svc.Duplicates(ctx)
	require.NoError(t, err)
	require.Equal(t, []DuplicateGroup{{
		Fingerprint: fingerprint.Bytes(shared),
		Paths:       []string{a.Paths.File, b.Paths.File},
	}}, groups)
}
