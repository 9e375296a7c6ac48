// Package blob re-exports core blob abstractions and hosts the sidecar
// archive built on them.
package blob

import (
	"cellrex/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
	// DriverNone disables the archive.
	DriverNone Driver = "none"
)

var (
	// ErrNotFound indicates an absent key.
	ErrNotFound = core.ErrNotFound
	// ErrCorrupt indicates archived content that fails its etag check.
	ErrCorrupt = core.ErrCorrupt
)
