package core

import (
	"context"
	"fmt"
	"path/filepath"

	"cellrex/internal/infra/persistence/memory"
	"cellrex/internal/infra/persistence/postgres"
	"cellrex/internal/infra/persistence/sqlite"
	"cellrex/pkg/domain"
)

// StorageDriver identifies a concrete index implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// IndexConfig selects and configures the index backend. An empty driver
// selects sqlite.
type IndexConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenIndex opens the configured backend. The caller owns the returned
// handle and closes it on shutdown.
func OpenIndex(ctx context.Context, cfg IndexConfig) (domain.Index, error) {
	switch cfg.Driver {
	case "", StorageSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorageMemory:
		return memory.NewStore(), nil
	case StoragePostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// IndexFiles lists local files belonging to the index, for exclusion from
// the sweep. Only the sqlite backend keeps files.
func IndexFiles(cfg IndexConfig) []string {
	if cfg.Driver != "" && cfg.Driver != StorageSQLite {
		return nil
	}
	path := cfg.SQLitePath
	if path == "" {
		path = sqlite.DefaultPath
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return sqlite.Files(path)
}
