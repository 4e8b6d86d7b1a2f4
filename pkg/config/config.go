// Package config loads engine configuration from YAML with sane defaults
// for every field, so an empty file (or no file at all) yields a working
// engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"plancore/pkg/logging"
)

// Duration wraps time.Duration so YAML files can use human-readable
// values like "5s" or "250ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full engine configuration.
type Config struct {
	// DataDir is the root directory for plan storage.
	DataDir string `yaml:"data_dir"`

	Locking LockingConfig  `yaml:"locking"`
	Logging logging.Config `yaml:"logging"`
}

// LockingConfig tunes the lock manager defaults.
type LockingConfig struct {
	// AcquireTimeout bounds how long an operation waits for a contended
	// entity lock before giving up.
	AcquireTimeout Duration `yaml:"acquire_timeout"`

	// TTL bounds how long an acquired lock may be held before it expires
	// on its own. Zero means locks never expire.
	TTL Duration `yaml:"ttl"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Locking: LockingConfig{
			AcquireTimeout: Duration(5 * time.Second),
			TTL:            Duration(30 * time.Second),
		},
		Logging: logging.Config{
			Level:  logging.LevelInfo,
			Format: logging.FormatText,
		},
	}
}

// Load reads a YAML config file and applies it over the defaults. A
// missing file is not an error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.Locking.AcquireTimeout < 0 {
		return fmt.Errorf("locking.acquire_timeout cannot be negative")
	}
	if c.Locking.TTL < 0 {
		return fmt.Errorf("locking.ttl cannot be negative")
	}
	switch c.Logging.Format {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("logging.format must be %q or %q", logging.FormatText, logging.FormatJSON)
	}
	return nil
}
