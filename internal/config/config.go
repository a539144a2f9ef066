// Package config loads and validates gridcat configuration.
//
// Configuration is read from a .gridcat.yaml file, with environment
// variable overrides (GRIDCAT_*) taking highest priority.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the per-directory configuration file name.
const ConfigFileName = ".gridcat.yaml"

// Config represents the complete gridcat configuration.
type Config struct {
	Version int           `yaml:"version"`
	Catalog CatalogConfig `yaml:"catalog"`
	Roots   []string      `yaml:"roots"`
	Paths   PathsConfig   `yaml:"paths"`
	Scan    ScanConfig    `yaml:"scan"`
	Update  UpdateConfig  `yaml:"update"`
	Watch   WatchConfig   `yaml:"watch"`
	Logging LoggingConfig `yaml:"logging"`
}

// CatalogConfig configures the persistent catalog store.
type CatalogConfig struct {
	// Path is the SQLite catalog database file.
	Path string `yaml:"path"`

	// GCGrace is how long tombstoned files are retained before
	// garbage collection may purge them (e.g. "72h").
	GCGrace string `yaml:"gc_grace"`
}

// PathsConfig configures which paths to include and exclude.
type PathsConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// ScanConfig configures filesystem scanning.
type ScanConfig struct {
	// FollowSymlinks enables following symbolic links. Cycles are
	// detected and skipped regardless.
	FollowSymlinks bool `yaml:"follow_symlinks"`
}

// UpdateConfig configures the update pipeline.
type UpdateConfig struct {
	// Workers is the extraction worker pool size (default: NumCPU).
	Workers int `yaml:"workers"`

	// ExtractTimeout bounds a single file's metadata extraction
	// (e.g. "30s"). An extraction past this deadline is abandoned and
	// the file marked unparsable, retry-eligible.
	ExtractTimeout string `yaml:"extract_timeout"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	// Debounce is the event coalescing window (e.g. "2s").
	Debounce string `yaml:"debounce"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Catalog: CatalogConfig{
			Path:    defaultCatalogPath(),
			GCGrace: "72h",
		},
		Paths: PathsConfig{
			Include: []string{"**/*.nc"},
			Exclude: []string{"**/restart*/**", "**/.git/**"},
		},
		Update: UpdateConfig{
			Workers:        runtime.NumCPU(),
			ExtractTimeout: "30s",
		},
		Watch: WatchConfig{
			Debounce: "2s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaultCatalogPath returns the default catalog database location.
func defaultCatalogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".gridcat", "catalog.db")
	}
	return filepath.Join(home, ".gridcat", "catalog.db")
}

// Load reads configuration from dir/.gridcat.yaml, falling back to defaults
// for any unset field, then applies environment overrides.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overrides config values from GRIDCAT_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("GRIDCAT_CATALOG"); v != "" {
		c.Catalog.Path = v
	}
	if v := os.Getenv("GRIDCAT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Update.Workers = n
		}
	}
	if v := os.Getenv("GRIDCAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GRIDCAT_EXTRACT_TIMEOUT"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			c.Update.ExtractTimeout = v
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path must not be empty")
	}
	if c.Update.Workers < 0 {
		return fmt.Errorf("update.workers must be >= 0, got %d", c.Update.Workers)
	}
	if _, err := time.ParseDuration(c.Update.ExtractTimeout); err != nil {
		return fmt.Errorf("update.extract_timeout invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Catalog.GCGrace); err != nil {
		return fmt.Errorf("catalog.gc_grace invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
		return fmt.Errorf("watch.debounce invalid: %w", err)
	}
	return nil
}

// ExtractTimeout returns the parsed extraction timeout.
func (c *Config) ExtractTimeout() time.Duration {
	d, err := time.ParseDuration(c.Update.ExtractTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GCGrace returns the parsed tombstone grace period.
func (c *Config) GCGrace() time.Duration {
	d, err := time.ParseDuration(c.Catalog.GCGrace)
	if err != nil || d < 0 {
		return 72 * time.Hour
	}
	return d
}

// WatchDebounce returns the parsed watch debounce window.
func (c *Config) WatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// Workers returns the effective worker pool size.
func (c *Config) Workers() int {
	if c.Update.Workers <= 0 {
		return runtime.NumCPU()
	}
	return c.Update.Workers
}

// Save writes the configuration to dir/.gridcat.yaml.
func (c *Config) Save(dir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
