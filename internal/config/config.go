// Package config loads the daemon's persistent configuration from a TOML
// file, following the teacher's layered convention: defaults, then a
// config file, then command-line flags (applied by cmd/ctxkeeperd) take
// precedence over the file.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
)

// Config is the full set of daemon settings.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Watcher   WatcherConfig   `toml:"watcher"`
	Retention RetentionConfig `toml:"retention"`
}

// DatabaseConfig configures the SQLite backing store.
type DatabaseConfig struct {
	Path             string `toml:"path"`
	MaxSizeBytes     int64  `toml:"max_size_bytes"`
	QueryTimeoutSecs int    `toml:"query_timeout_secs"`
}

// WatcherConfig configures the change-watcher subsystem.
type WatcherConfig struct {
	MaxConcurrentPolls int64 `toml:"max_concurrent_polls"`
	DefaultTimeoutSecs int   `toml:"default_timeout_secs"`
	MaxTimeoutSecs     int   `toml:"max_timeout_secs"`
}

// RetentionConfig configures the compression engine's default pass.
type RetentionConfig struct {
	Enabled          bool     `toml:"enabled"`
	MaxAgeDays       int      `toml:"max_age_days"`
	PreserveCategories []string `toml:"preserve_categories"`
	MinGroupSize     int      `toml:"min_group_size"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Path:             "ctxkeeper.db",
			MaxSizeBytes:     4 << 30,
			QueryTimeoutSecs: 30,
		},
		Watcher: WatcherConfig{
			MaxConcurrentPolls: 64,
			DefaultTimeoutSecs: 30,
			MaxTimeoutSecs:     120,
		},
		Retention: RetentionConfig{
			Enabled:            false,
			MaxAgeDays:         90,
			PreserveCategories: []string{"decision"},
			MinGroupSize:       3,
		},
	}
}

// Load reads a TOML config file at path, merging it over Default(). A
// missing file is not an error; it simply yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errs.Ef(errs.Internal, err, "parse config file %q", path)
	}
	return cfg, nil
}

// QueryTimeout returns the configured query timeout as a duration.
func (c Config) QueryTimeout() time.Duration {
	return time.Duration(c.Database.QueryTimeoutSecs) * time.Second
}

// DefaultWatcherTimeout returns the default watcher poll timeout.
func (c Config) DefaultWatcherTimeout() time.Duration {
	return time.Duration(c.Watcher.DefaultTimeoutSecs) * time.Second
}

// MaxWatcherTimeout returns the longest watcher poll timeout a caller
// may request.
func (c Config) MaxWatcherTimeout() time.Duration {
	return time.Duration(c.Watcher.MaxTimeoutSecs) * time.Second
}
