package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"cellrex/internal/infra/persistence/memory"
	"cellrex/internal/layout"
	"cellrex/pkg/domain"
)

func TestEnsureLayoutFreezesKeyOrder(t *testing.T) {
	ctx := context.Background()
	index := memory.NewStore()

	require.NoError(t, EnsureLayout(ctx, index, layout.Default()))
	stored, ok, err := index.Setting(ctx, KeyOrderSetting)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, layout.Default().Signature(), stored)

	require.NoError(t, EnsureLayout(ctx, index, layout.Default()), "same order on restart")

	reordered, err := layout.New([]layout.Key{layout.KeyOrigin, layout.KeySpecies})
	require.NoError(t, err)
	err = EnsureLayout(ctx, index, reordered)
	require.ErrorIs(t, err, domain.ErrLayoutChanged)
	require.Contains(t, err.Error(), "origin/species")
}

func TestEnsureLayoutSurfacesIndexErrors(t *testing.T) {
	index := memory.NewStore()
	require.NoError(t, index.Close())
	err := EnsureLayout(context.Background(), index, layout.Default())
	require.ErrorIs(t, err, domain.ErrIndex)
}
