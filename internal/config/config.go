// Package config loads recorder configuration files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/roach88/recorder/internal/recorder"
	"github.com/roach88/recorder/internal/store"
)

// Load reads a YAML config file from fs. Keys absent from the file keep
// their defaults. Unknown keys are rejected so typos surface early.
func Load(fs afero.Fs, path string) (recorder.Config, error) {
	cfg := recorder.DefaultConfig()

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the recorder would otherwise silently replace.
func Validate(cfg recorder.Config) error {
	if _, err := store.ParseURL(cfg.DBURL); err != nil {
		return fmt.Errorf("db_url: %w", err)
	}
	if cfg.DBMaxRetries < 0 {
		return fmt.Errorf("db_max_retries must be non-negative, got %d", cfg.DBMaxRetries)
	}
	if cfg.CommitInterval < 0 {
		return fmt.Errorf("commit_interval must be non-negative, got %s", cfg.CommitInterval)
	}
	if cfg.KeepDays < 1 {
		return fmt.Errorf("keep_days must be at least 1, got %d", cfg.KeepDays)
	}
	if cfg.LockOverflowRatio <= 0 || cfg.LockOverflowRatio > 1 {
		return fmt.Errorf("lock_overflow_ratio must be in (0, 1], got %v", cfg.LockOverflowRatio)
	}
	return nil
}
