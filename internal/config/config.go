// Package config loads cellrex settings from an optional YAML file and
// CELLREX_* environment overrides, then maps them onto the constructors of
// the index, archive, layout and logging packages.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cellrex/internal/blob"
	"cellrex/internal/core"
	"cellrex/internal/layout"
	"cellrex/internal/logging"
	"cellrex/internal/upload"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CELLREX_"

// Config is the full process configuration.
type Config struct {
	StorageRoot string          `yaml:"storage_root"`
	Index       IndexConfig     `yaml:"index"`
	Archive     ArchiveConfig   `yaml:"archive"`
	Layout      LayoutConfig    `yaml:"layout"`
	Upload      UploadConfig    `yaml:"upload"`
	Reconcile   ReconcileConfig `yaml:"reconcile"`
	Log         logging.Config  `yaml:"log"`
	Metrics     MetricsConfig   `yaml:"metrics"`
}

// IndexConfig selects the metadata index backend.
type IndexConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ArchiveConfig selects the optional sidecar archive.
type ArchiveConfig struct {
	Driver string   `yaml:"driver"`
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// S3Config mirrors blob.S3Config without the injected HTTP client.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	PathStyle       bool   `yaml:"path_style"`
}

// LayoutConfig fixes the path segment order. Changing KeyOrder after the
// first start is refused by core.EnsureLayout.
type LayoutConfig struct {
	KeyOrder   []string            `yaml:"key_order"`
	Vocabulary map[string][]string `yaml:"vocabulary"`
}

// UploadConfig controls the upload watcher and its fingerprint cache.
type UploadConfig struct {
	Dir          string        `yaml:"dir"`
	Watch        bool          `yaml:"watch"`
	Debounce     time.Duration `yaml:"debounce"`
	Workers      int           `yaml:"workers"`
	CacheEntries int           `yaml:"cache_entries"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// ReconcileConfig controls the sweep run by the server.
type ReconcileConfig struct {
	Workers   int           `yaml:"workers"`
	OnStartup bool          `yaml:"on_startup"`
	Restore   bool          `yaml:"restore"`
	Verify    bool          `yaml:"verify"`
	Interval  time.Duration `yaml:"interval"`
}

// MetricsConfig controls the HTTP listener of `cellrex serve`.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		StorageRoot: "./data/storage",
		Index:       IndexConfig{Driver: string(core.StorageSQLite)},
		Archive:     ArchiveConfig{Driver: string(blob.DriverNone)},
		Upload: UploadConfig{
			Dir:          "./data/upload",
			Watch:        true,
			Debounce:     upload.DefaultDebounce,
			Workers:      upload.DefaultWorkers,
			CacheEntries: upload.DefaultMaxEntries,
			CacheTTL:     upload.DefaultLifeWindow,
		},
		Reconcile: ReconcileConfig{
			Workers:   core.DefaultReconcileWorkers,
			OnStartup: true,
			Restore:   true,
		},
		Log:     logging.DefaultConfig(),
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode rejects unknown keys so typos do not silently fall back to defaults.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("STORAGE_ROOT", &c.StorageRoot)

	str("INDEX_DRIVER", &c.Index.Driver)
	str("SQLITE_PATH", &c.Index.SQLitePath)
	str("POSTGRES_DSN", &c.Index.PostgresDSN)

	str("ARCHIVE_DRIVER", &c.Archive.Driver)
	str("ARCHIVE_FS_ROOT", &c.Archive.FSRoot)
	str("ARCHIVE_S3_BUCKET", &c.Archive.S3.Bucket)
	str("ARCHIVE_S3_REGION", &c.Archive.S3.Region)
	str("ARCHIVE_S3_PREFIX", &c.Archive.S3.Prefix)
	str("ARCHIVE_S3_ENDPOINT", &c.Archive.S3.Endpoint)
	str("ARCHIVE_S3_ACCESS_KEY_ID", &c.Archive.S3.AccessKeyID)
	str("ARCHIVE_S3_SECRET_ACCESS_KEY", &c.Archive.S3.SecretAccessKey)
	str("ARCHIVE_S3_SESSION_TOKEN", &c.Archive.S3.SessionToken)
	boolean("ARCHIVE_S3_PATH_STYLE", &c.Archive.S3.PathStyle)

	if v, ok := lookup(EnvPrefix + "LAYOUT_KEYS"); ok {
		c.Layout.KeyOrder = splitList(v)
	}

	str("UPLOAD_DIR", &c.Upload.Dir)
	boolean("UPLOAD_WATCH", &c.Upload.Watch)
	duration("UPLOAD_DEBOUNCE", &c.Upload.Debounce)
	integer("UPLOAD_WORKERS", &c.Upload.Workers)

	integer("RECONCILE_WORKERS", &c.Reconcile.Workers)
	boolean("RECONCILE_ON_STARTUP", &c.Reconcile.OnStartup)
	boolean("RECONCILE_RESTORE", &c.Reconcile.Restore)
	boolean("RECONCILE_VERIFY", &c.Reconcile.Verify)
	duration("RECONCILE_INTERVAL", &c.Reconcile.Interval)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)

	str("METRICS_ADDR", &c.Metrics.Addr)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '/' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Validate reports every unusable setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StorageRoot) == "" {
		errs = append(errs, errors.New("storage_root is required"))
	}

	switch core.StorageDriver(c.Index.Driver) {
	case "", core.StorageSQLite, core.StorageMemory:
	case core.StoragePostgres:
		if c.Index.PostgresDSN == "" {
			errs = append(errs, errors.New("index.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown index driver %q", c.Index.Driver))
	}

	switch blob.Driver(c.Archive.Driver) {
	case "", blob.DriverNone, blob.DriverMemory:
	case blob.DriverFilesystem:
		if c.Archive.FSRoot == "" {
			errs = append(errs, errors.New("archive.fs_root is required for the fs driver"))
		}
	case blob.DriverS3:
		if c.Archive.S3.Bucket == "" {
			errs = append(errs, errors.New("archive.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive driver %q", c.Archive.Driver))
	}

	if _, err := c.Composer(); err != nil {
		errs = append(errs, fmt.Errorf("layout: %w", err))
	}
	if c.Upload.Watch && strings.TrimSpace(c.Upload.Dir) == "" {
		errs = append(errs, errors.New("upload.dir is required when watching uploads"))
	}
	if c.Upload.Watch && within(c.StorageRoot, c.Upload.Dir) {
		errs = append(errs, errors.New("upload.dir must be outside storage_root"))
	}
	if blob.Driver(c.Archive.Driver) == blob.DriverFilesystem && within(c.StorageRoot, c.Archive.FSRoot) {
		errs = append(errs, errors.New("archive.fs_root must be outside storage_root"))
	}
	if c.Upload.Workers < 0 || c.Reconcile.Workers < 0 {
		errs = append(errs, errors.New("worker counts must not be negative"))
	}
	if c.Reconcile.Interval < 0 {
		errs = append(errs, errors.New("reconcile.interval must not be negative"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// within reports whether p is root or lies below it.
func within(root, p string) bool {
	if strings.TrimSpace(root) == "" || strings.TrimSpace(p) == "" {
		return false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// IndexConfig converts to the core index settings.
func (c Config) IndexConfig() core.IndexConfig {
	return core.IndexConfig{
		Driver:      core.StorageDriver(c.Index.Driver),
		SQLitePath:  c.Index.SQLitePath,
		PostgresDSN: c.Index.PostgresDSN,
	}
}

// BlobConfig converts to the archive store settings.
func (c Config) BlobConfig() blob.Config {
	s3 := c.Archive.S3
	return blob.Config{
		Driver: blob.Driver(c.Archive.Driver),
		FSRoot: c.Archive.FSRoot,
		S3: blob.S3Config{
			Region:          s3.Region,
			Bucket:          s3.Bucket,
			Prefix:          s3.Prefix,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			SessionToken:    s3.SessionToken,
			PathStyle:       s3.PathStyle,
		},
	}
}

// CacheConfig converts to the upload cache settings.
func (c Config) CacheConfig() upload.CacheConfig {
	return upload.CacheConfig{LifeWindow: c.Upload.CacheTTL, MaxEntries: c.Upload.CacheEntries}
}

// Composer builds the path composer for the configured layout.
func (c Config) Composer() (*layout.Composer, error) {
	order := make([]layout.Key, 0, len(c.Layout.KeyOrder))
	for _, k := range c.Layout.KeyOrder {
		order = append(order, layout.Key(strings.TrimSpace(k)))
	}
	opts := make([]layout.Option, 0, len(c.Layout.Vocabulary))
	for key, values := range c.Layout.Vocabulary {
		opts = append(opts, layout.WithVocabulary(layout.Key(key), values...))
	}
	return layout.New(order, opts...)
}
