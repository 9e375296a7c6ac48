// Package logging builds the structured logger used by the cellrex binary.
// It adapts zap's SugaredLogger to the key/value Logger seam in core and
// optionally writes a rotated log file through lumberjack.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Encodings accepted by Config.Format.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config controls level, encoding and file rotation.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables a rotated log file in addition to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	// Quiet drops the stderr output when a file is configured.
	Quiet bool `yaml:"quiet"`
}

// DefaultConfig logs info and above to stderr in console form.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     FormatConsole,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

// Validate reports settings New would reject.
func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(levelOrDefault(c.Level)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	switch strings.ToLower(c.Format) {
	case "", FormatConsole, FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	if c.Quiet && c.File == "" {
		return fmt.Errorf("quiet logging requires a log file")
	}
	return nil
}

// Logger implements core.Logger on top of zap.
type Logger struct {
	zap   *zap.Logger
	sugar *zap.SugaredLogger
}

// Option adjusts New.
type Option func(*options)

type options struct {
	stderr zapcore.WriteSyncer
}

// WithOutput replaces stderr as the console destination.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.stderr = zapcore.AddSync(w) }
}

// New builds a Logger from cfg.
func New(cfg Config, opts ...Option) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{stderr: zapcore.Lock(os.Stderr)}
	for _, opt := range opts {
		opt(&o)
	}
	level, _ := zapcore.ParseLevel(levelOrDefault(cfg.Level))
	atom := zap.NewAtomicLevelAt(level)

	var cores []zapcore.Core
	if !cfg.Quiet {
		cores = append(cores, zapcore.NewCore(encoder(cfg.Format), o.stderr, atom))
	}
	if cfg.File != "" {
		w, err := fileWriter(cfg)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder(FormatJSON), w, atom))
	}

	z := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return FromZap(z), nil
}

// FromZap wraps an existing zap logger.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{zap: z, sugar: z.Sugar()}
}

// Nop discards everything.
func Nop() *Logger { return FromZap(zap.NewNop()) }

func levelOrDefault(level string) string {
	if strings.TrimSpace(level) == "" {
		return "info"
	}
	return strings.ToLower(level)
}

func encoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.EqualFold(format, FormatJSON) {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func fileWriter(cfg Config) (zapcore.WriteSyncer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}), nil
}

func (l *Logger) Debug(msg string, keysAndValues ...any) { l.sugar.Debugw(msg, keysAndValues...) }
func (l *Logger) Info(msg string, keysAndValues ...any)  { l.sugar.Infow(msg, keysAndValues...) }
func (l *Logger) Warn(msg string, keysAndValues ...any)  { l.sugar.Warnw(msg, keysAndValues...) }
func (l *Logger) Error(msg string, keysAndValues ...any) { l.sugar.Errorw(msg, keysAndValues...) }

// Named returns a child logger with a dotted name segment appended.
func (l *Logger) Named(name string) *Logger { return FromZap(l.zap.Named(name)) }

// With returns a child logger carrying the given fields.
func (l *Logger) With(keysAndValues ...any) *Logger {
	child := l.sugar.With(keysAndValues...)
	return &Logger{zap: child.Desugar(), sugar: child}
}

// Zap exposes the underlying logger.
func (l *Logger) Zap() *zap.Logger { return l.zap }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.zap.Sync() }
