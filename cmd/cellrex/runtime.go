package main

import (
	"context"
	"errors"
	"fmt"

	"cellrex/internal/blob"
	"cellrex/internal/config"
	"cellrex/internal/core"
	"cellrex/pkg/domain"
)

// runtime bundles the index handle and the service built over it.
type runtime struct {
	index domain.Index
	svc   *core.Service
}

// openRuntime wires config into a running service: index, frozen layout,
// optional sidecar archive and the sweep's skip list.
func openRuntime(ctx context.Context, cfg config.Config, logger core.Logger, extra ...core.Option) (*runtime, error) {
	composer, err := cfg.Composer()
	if err != nil {
		return nil, err
	}
	indexCfg := cfg.IndexConfig()
	index, err := core.OpenIndex(ctx, indexCfg)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	fail := func(err error) (*runtime, error) {
		return nil, errors.Join(err, index.Close())
	}
	if err := core.EnsureLayout(ctx, index, composer); err != nil {
		return fail(err)
	}
	store, err := blob.Open(ctx, cfg.BlobConfig())
	if err != nil {
		return fail(fmt.Errorf("open archive: %w", err))
	}
	archive := blob.NewArchive(store)
	opts := []core.Option{
		core.WithComposer(composer),
		core.WithArchive(archive),
		core.WithLogger(logger),
		core.WithReconcileWorkers(cfg.Reconcile.Workers),
		core.WithSkipPaths(core.IndexFiles(indexCfg)...),
	}
	svc, err := core.NewService(index, cfg.StorageRoot, append(opts, extra...)...)
	if err != nil {
		return fail(err)
	}
	logger.Debug("runtime ready",
		"storage_root", svc.Root(),
		"index", indexCfg.Driver,
		"archive", archive.Driver(),
		"layout", composer.Signature(),
	)
	return &runtime{index: index, svc: svc}, nil
}

func (r *runtime) Close() error { return r.index.Close() }
