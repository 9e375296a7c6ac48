package domain

import "context"

// Index is the relational store holding one StorageEntry per registered
// file. Path is unique across rows; fingerprints may repeat. Lookups by path,
// fingerprint and experiment name must be served by secondary indexes.
//
// Get and GetByPath return ErrNotFound when no row exists. Backend failures
// are reported as *IndexError.
type Index interface {
	// Upsert inserts the entry or replaces the row stored at entry.Path.
	// An empty ID is assigned; the stored entry is returned.
	Upsert(ctx context.Context, entry StorageEntry) (StorageEntry, error)
	Get(ctx context.Context, id string) (StorageEntry, error)
	GetByPath(ctx context.Context, path string) (StorageEntry, error)
	GetByFingerprint(ctx context.Context, fp Fingerprint) ([]StorageEntry, error)
	GetByExperiment(ctx context.Context, experimentName string) ([]StorageEntry, error)
	// Query returns matching entries ordered by path.
	Query(ctx context.Context, q Query) ([]StorageEntry, error)
	// Delete removes the row only; files on disk are untouched.
	Delete(ctx context.Context, id string) error
	// Walk visits every row ordered by path until fn returns an error.
	Walk(ctx context.Context, fn func(StorageEntry) error) error
	Setting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
	Ping(ctx context.Context) error
	Close() error
}
