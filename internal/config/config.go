// Package config loads ~/.wppsync/config.toml and the jobs file. Values
// from the file can be overridden with WPPSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WPPSYNC_"

// Media backends.
const (
	BackendDir = "dir"
	BackendS3  = "s3"
)

// Config represents the global ~/.wppsync/config.toml.
type Config struct {
	DefaultSession string      `toml:"default_session" env:"DEFAULT_SESSION"`
	LogLevel       string      `toml:"log_level" env:"LOG_LEVEL"`
	Sync           SyncConfig  `toml:"sync" envPrefix:"SYNC_"`
	Media          MediaConfig `toml:"media" envPrefix:"MEDIA_"`
}

// SyncConfig tunes history fetching.
type SyncConfig struct {
	BatchSize    int           `toml:"batch_size" env:"BATCH_SIZE"`
	MaxBatches   int           `toml:"max_batches" env:"MAX_BATCHES"`
	BatchDelay   time.Duration `toml:"batch_delay" env:"BATCH_DELAY"`
	MediaOnly    bool          `toml:"media_only" env:"MEDIA_ONLY"`
	FetchTimeout time.Duration `toml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	FetchRetries int           `toml:"fetch_retries" env:"FETCH_RETRIES"`
	// Concurrency is how many conversations sync at once.
	Concurrency int `toml:"concurrency" env:"CONCURRENCY"`
}

// MediaConfig tunes media acquisition and where files go.
type MediaConfig struct {
	Delay           time.Duration `toml:"delay" env:"DELAY"`
	DownloadTimeout time.Duration `toml:"download_timeout" env:"DOWNLOAD_TIMEOUT"`
	Backend         string        `toml:"backend" env:"BACKEND"`
	// OutputDir defaults to the session's output directory.
	OutputDir string   `toml:"output_dir" env:"OUTPUT_DIR"`
	S3        S3Config `toml:"s3" envPrefix:"S3_"`
}

// S3Config points the object sink at an S3 compatible bucket.
type S3Config struct {
	Endpoint  string `toml:"endpoint" env:"ENDPOINT"`
	Bucket    string `toml:"bucket" env:"BUCKET"`
	Prefix    string `toml:"prefix" env:"PREFIX"`
	AccessKey string `toml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `toml:"secret_key" env:"SECRET_KEY"`
	Region    string `toml:"region" env:"REGION"`
	UseSSL    bool   `toml:"use_ssl" env:"USE_SSL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Sync: SyncConfig{
			BatchSize:    50,
			MaxBatches:   20,
			BatchDelay:   400 * time.Millisecond,
			FetchTimeout: 30 * time.Second,
			FetchRetries: 3,
			Concurrency:  1,
		},
		Media: MediaConfig{
			Delay:           300 * time.Millisecond,
			DownloadTimeout: 60 * time.Second,
			Backend:         BackendDir,
			S3:              S3Config{UseSSL: true},
		},
	}
}

// Load reads config from the given path on top of the defaults. Returns
// nil and an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve is Load with a missing file treated as empty, followed by the
// environment overrides and validation.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Media.Backend {
	case BackendDir, "":
	case BackendS3:
		if c.Media.S3.Endpoint == "" || c.Media.S3.Bucket == "" {
			return fmt.Errorf("invalid config: media backend s3 needs endpoint and bucket")
		}
	default:
		return fmt.Errorf("invalid config: unknown media backend %q", c.Media.Backend)
	}
	if c.Sync.BatchSize < 0 || c.Sync.MaxBatches < 0 || c.Sync.Concurrency < 0 {
		return fmt.Errorf("invalid config: sync sizes must not be negative")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
