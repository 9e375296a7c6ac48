// Package upload pre-computes fingerprints for files dropped into the upload
// area so registration does not have to read large recordings twice.
package upload

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"github.com/allegro/bigcache/v3"

	"cellrex/pkg/domain"
)

// Cache defaults.
const (
	DefaultLifeWindow = 12 * time.Hour
	DefaultMaxEntries = 4096
	cacheShards       = 64
	cacheEntryBytes   = 128
	cacheHeaderBytes  = 16
)

// CacheConfig sizes the fingerprint cache.
type CacheConfig struct {
	// LifeWindow bounds how long an entry is kept without being refreshed.
	LifeWindow time.Duration
	// MaxEntries is the expected number of uploads within LifeWindow.
	MaxEntries int
	// HardMaxMB caps the memory used by the cache; 0 leaves it unbounded.
	HardMaxMB int
}

// Cache maps an absolute upload path to the fingerprint of its contents. An entry is
// only trusted while the file keeps the size and modification time it had
// when it was hashed. It implements core.FingerprintCache.
type Cache struct {
	cache *bigcache.BigCache
}

// NewCache builds an empty cache.
func NewCache(ctx context.Context, cfg CacheConfig) (*Cache, error) {
	if cfg.LifeWindow <= 0 {
		cfg.LifeWindow = DefaultLifeWindow
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	bc := bigcache.DefaultConfig(cfg.LifeWindow)
	bc.Shards = cacheShards
	bc.MaxEntriesInWindow = cfg.MaxEntries
	bc.MaxEntrySize = cacheEntryBytes
	bc.HardMaxCacheSize = cfg.HardMaxMB
	bc.CleanWindow = cfg.LifeWindow / 4
	bc.Verbose = false
	cache, err := bigcache.New(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("create fingerprint cache: %w", err)
	}
	return &Cache{cache: cache}, nil
}

// Put records fp for path at the given size and modification time.
func (c *Cache) Put(path string, size int64, modTime time.Time, fp domain.Fingerprint) error {
	buf := make([]byte, cacheHeaderBytes, cacheHeaderBytes+len(fp))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(size))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(modTime.UnixNano()))
	buf = append(buf, fp...)
	return c.cache.Set(key(path), buf)
}

// Lookup returns the cached fingerprint when size and modTime still match.
func (c *Cache) Lookup(path string, size int64, modTime time.Time) (domain.Fingerprint, bool) {
	buf, err := c.cache.Get(key(path))
	if err != nil || len(buf) <= cacheHeaderBytes {
		return "", false
	}
	if int64(binary.LittleEndian.Uint64(buf[0:8])) != size {
		return "", false
	}
	if int64(binary.LittleEndian.Uint64(buf[8:16])) != modTime.UnixNano() {
		return "", false
	}
	return domain.Fingerprint(buf[cacheHeaderBytes:]), true
}

// Forget drops the entry for path, if any.
func (c *Cache) Forget(path string) {
	_ = c.cache.Delete(key(path))
}

// Has reports whether path has an entry, regardless of its validity.
func (c *Cache) Has(path string) bool {
	_, err := c.cache.Get(key(path))
	return err == nil
}

// Len reports the number of cached entries.
func (c *Cache) Len() int { return c.cache.Len() }

// Close releases the cache's background cleaner.
func (c *Cache) Close() error { return c.cache.Close() }

// key makes relative and absolute spellings of one path share an entry.
func key(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
