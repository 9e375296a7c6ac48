package upload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cellrex/internal/fingerprint"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(context.Background(), CacheConfig{LifeWindow: time.Minute, MaxEntries: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheTrustsMatchingStatOnly(t *testing.T) {
	c := newTestCache(t)
	mtime := time.Date(2024, 12, 3, 10, 0, 0, 123, time.UTC)
	fp := fingerprint.Bytes([]byte("recording"))

	require.NoError(t, c.Put("/upload/rec.h5", 9, mtime, fp))
	got, ok := c.Lookup("/upload/rec.h5", 9, mtime)
	require.True(t, ok)
	require.Equal(t, fp, got)

	_, ok = c.Lookup("/upload/rec.h5", 10, mtime)
	require.False(t, ok, "size changed")
	_, ok = c.Lookup("/upload/rec.h5", 9, mtime.Add(time.Nanosecond))
	require.False(t, ok, "mtime changed")
	require.True(t, c.Has("/upload/rec.h5"), "stale entries stay until forgotten")

	c.Forget("/upload/rec.h5")
	require.False(t, c.Has("/upload/rec.h5"))
	_, ok = c.Lookup("/upload/rec.h5", 9, mtime)
	require.False(t, ok)
	c.Forget("/upload/rec.h5")
}

func TestCacheKeysAreAbsolute(t *testing.T) {
	c := newTestCache(t)
	wd, err := os.Getwd()
	require.NoError(t, err)
	mtime := time.Unix(1733220000, 0)
	fp := fingerprint.Bytes([]byte("x"))

	require.NoError(t, c.Put("rel/./rec.h5", 1, mtime, fp))
	got, ok := c.Lookup(filepath.Join(wd, "rel", "rec.h5"), 1, mtime)
	require.True(t, ok)
	require.Equal(t, fp, got)
	require.Equal(t, 1, c.Len())
}
