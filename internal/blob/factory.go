package blob

import (
	"context"
	"fmt"

	"cellrex/internal/infra/blob/fs"
	memorystore "cellrex/internal/infra/blob/memory"
)

// Config selects and configures an archive backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open constructs the Store named by cfg.Driver. DriverNone (or an empty
// driver) yields a nil Store and no error; callers treat that as "archive
// disabled".
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewFilesystem stores archived sidecars as files below root.
func NewFilesystem(root string) (Store, error) { return fs.New(root) }

// NewMemory keeps archived sidecars in process memory.
func NewMemory() Store { return memorystore.New() }
