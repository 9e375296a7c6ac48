package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cellrex/internal/blob"
	"cellrex/internal/core"
	"cellrex/internal/layout"
	"cellrex/pkg/domain"
	"cellrex/testutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cellrex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, core.StorageSQLite, cfg.IndexConfig().Driver)
	require.Equal(t, blob.DriverNone, cfg.BlobConfig().Driver)

	composer, err := cfg.Composer()
	require.NoError(t, err)
	require.Equal(t, layout.DefaultKeyOrder, composer.KeyOrder())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	cfg, err = Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
storage_root: /srv/cellrex/storage
index:
  driver: postgres
  postgres_dsn: postgres://file
archive:
  driver: s3
  s3:
    bucket: sidecars
    region: eu-central-1
    path_style: true
layout:
  key_order: [species, origin, organType, cellType, experimentName, influenceGroups, sampleID, ageDIV, labDevice]
  vocabulary:
    species: [Mouse, Human]
upload:
  dir: /srv/cellrex/upload
  debounce: 2s
reconcile:
  workers: 8
  interval: 1h
log:
  level: debug
  format: json
`)
	t.Setenv("CELLREX_POSTGRES_DSN", "postgres://env")
	t.Setenv("CELLREX_ARCHIVE_S3_PREFIX", "lab/")
	t.Setenv("CELLREX_RECONCILE_VERIFY", "true")
	t.Setenv("CELLREX_METRICS_ADDR", "127.0.0.1:9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/srv/cellrex/storage", cfg.StorageRoot)
	require.Equal(t, core.IndexConfig{Driver: core.StoragePostgres, PostgresDSN: "postgres://env"}, cfg.IndexConfig())

	bc := cfg.BlobConfig()
	require.Equal(t, blob.DriverS3, bc.Driver)
	require.Equal(t, "sidecars", bc.S3.Bucket)
	require.Equal(t, "eu-central-1", bc.S3.Region)
	require.Equal(t, "lab/", bc.S3.Prefix)
	require.True(t, bc.S3.PathStyle)

	require.Equal(t, 2*time.Second, cfg.Upload.Debounce)
	require.True(t, cfg.Upload.Watch, "unset keys keep their defaults")
	require.Equal(t, 8, cfg.Reconcile.Workers)
	require.Equal(t, time.Hour, cfg.Reconcile.Interval)
	require.True(t, cfg.Reconcile.Verify)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)

	composer, err := cfg.Composer()
	require.NoError(t, err)
	require.Equal(t, layout.DefaultKeyOrder, composer.KeyOrder(), "ageDIV is an alias of age")
	rec := testutil.MEARecord()
	rec.Subject.Species = "Rat"
	_, err = composer.Compose(rec)
	require.ErrorIs(t, err, domain.ErrInvalidRecord)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "storage_rot: /typo\n"))
	require.ErrorContains(t, err, "storage_rot")
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("CELLREX_UPLOAD_WORKERS", "many")
	t.Setenv("CELLREX_UPLOAD_DEBOUNCE", "soon")
	_, err := Load("")
	require.ErrorContains(t, err, "CELLREX_UPLOAD_WORKERS")
	require.ErrorContains(t, err, "CELLREX_UPLOAD_DEBOUNCE")
}

func TestLayoutKeysFromEnv(t *testing.T) {
	t.Setenv("CELLREX_LAYOUT_KEYS", "species/experimentName, sampleID")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"species", "experimentName", "sampleID"}, cfg.Layout.KeyOrder)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.StorageRoot = " "
	cfg.Index.Driver = "postgres"
	cfg.Archive.Driver = "fs"
	cfg.Layout.KeyOrder = []string{"species", "colour"}
	cfg.Reconcile.Workers = -1
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"storage_root is required",
		"postgres_dsn is required",
		"fs_root is required",
		`unknown layout key "colour"`,
		"worker counts",
		"log level",
	} {
		require.ErrorContains(t, err, want)
	}

	cfg = Default()
	cfg.Index.Driver = "mongo"
	cfg.Archive.Driver = "tape"
	err = cfg.Validate()
	require.ErrorContains(t, err, `unknown index driver "mongo"`)
	require.ErrorContains(t, err, `unknown archive driver "tape"`)

	cfg = Default()
	cfg.Upload.Dir = filepath.Join(cfg.StorageRoot, "incoming")
	cfg.Archive.Driver = "fs"
	cfg.Archive.FSRoot = cfg.StorageRoot
	err = cfg.Validate()
	require.ErrorContains(t, err, "upload.dir must be outside")
	require.ErrorContains(t, err, "fs_root must be outside")

	cfg = Default()
	cfg.Archive.Driver = "s3"
	require.ErrorContains(t, cfg.Validate(), "bucket is required")
}

func TestCacheConfig(t *testing.T) {
	cfg := Default()
	cfg.Upload.CacheEntries = 10
	cfg.Upload.CacheTTL = time.Minute
	cc := cfg.CacheConfig()
	require.Equal(t, 10, cc.MaxEntries)
	require.Equal(t, time.Minute, cc.LifeWindow)
}
