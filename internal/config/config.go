package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultPageSize     = 50
	DefaultLogLevel     = "info"
)

// Config represents the global ~/.wxm/config.toml.
type Config struct {
	DefaultSession string     `toml:"default_session"`
	Sync           SyncConfig `toml:"sync"`
	Log            LogConfig  `toml:"log"`
}

type SyncConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	PageSize     int      `toml:"page_size"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration that reads and writes as "100ms" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Sync.PollInterval.Duration <= 0 {
		c.Sync.PollInterval.Duration = DefaultPollInterval
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = DefaultPageSize
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
// Unset fields are filled with defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
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
