// Package config loads the chronicle YAML configuration.
//
// Every field has a default, so an absent file or an empty document is a
// valid configuration. Unknown keys are rejected to catch typos.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultDatabase        = "chronicle.db"
	DefaultMaxOpsPerTx     = 10000
	DefaultMaxInvokeDepth  = 16
	DefaultSyncTimeout     = 10 * time.Second
	DefaultCacheSize       = 4096
	DefaultCheckpointEvery = 1000
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Config is the root of the configuration file.
//
//	database: ./chronicle.db
//	checkpoint:
//	  path: ./chronicle.ckpt
//	  every: 1000
//	engine:
//	  max_ops_per_tx: 10000
//	  max_invoke_depth: 16
//	  sync_timeout: 10s
//	  cache_size: 4096
//	log:
//	  level: info
//	  format: text
//	metrics:
//	  enabled: true
type Config struct {
	Database   string     `yaml:"database"`
	Checkpoint Checkpoint `yaml:"checkpoint"`
	Engine     Engine     `yaml:"engine"`
	Log        Log        `yaml:"log"`
	Metrics    Metrics    `yaml:"metrics"`
}

// Checkpoint configures index checkpoints. An empty path disables them.
type Checkpoint struct {
	Path  string `yaml:"path"`
	Every int    `yaml:"every"`
}

// Engine holds transaction applier limits.
type Engine struct {
	MaxOpsPerTx    int           `yaml:"max_ops_per_tx"`
	MaxInvokeDepth int           `yaml:"max_invoke_depth"`
	SyncTimeout    time.Duration `yaml:"sync_timeout"`
	CacheSize      int           `yaml:"cache_size"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Metrics toggles the Prometheus collectors.
type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database: DefaultDatabase,
		Checkpoint: Checkpoint{
			Every: DefaultCheckpointEvery,
		},
		Engine: Engine{
			MaxOpsPerTx:    DefaultMaxOpsPerTx,
			MaxInvokeDepth: DefaultMaxInvokeDepth,
			SyncTimeout:    DefaultSyncTimeout,
			CacheSize:      DefaultCacheSize,
		},
		Log: Log{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: Metrics{Enabled: true},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Database == "" {
		result = multierror.Append(result, fmt.Errorf("database: path is required"))
	}
	if err := c.Checkpoint.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Engine.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Log.Validate(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Validate checks the checkpoint section.
func (c Checkpoint) Validate() error {
	if c.Every < 0 {
		return fmt.Errorf("checkpoint.every: must be >= 0, got %d", c.Every)
	}
	return nil
}

// Validate checks the engine section.
func (e Engine) Validate() error {
	var result *multierror.Error
	if e.MaxOpsPerTx <= 0 {
		result = multierror.Append(result, fmt.Errorf("engine.max_ops_per_tx: must be > 0, got %d", e.MaxOpsPerTx))
	}
	if e.MaxInvokeDepth <= 0 {
		result = multierror.Append(result, fmt.Errorf("engine.max_invoke_depth: must be > 0, got %d", e.MaxInvokeDepth))
	}
	if e.SyncTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("engine.sync_timeout: must be > 0, got %s", e.SyncTimeout))
	}
	if e.CacheSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("engine.cache_size: must be > 0, got %d", e.CacheSize))
	}
	return result.ErrorOrNil()
}

// Validate checks the log section.
func (l Log) Validate() error {
	var result *multierror.Error
	if _, err := l.SlogLevel(); err != nil {
		result = multierror.Append(result, err)
	}
	switch l.Format {
	case "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("log.format: must be text or json, got %q", l.Format))
	}
	return result.ErrorOrNil()
}

// SlogLevel maps the level name to a slog.Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %q is not one of debug, info, warn, error", l.Level)
	}
	return level, nil
}
