// Package config loads the optional fimd configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"fimd/internal/filter"
	"fimd/internal/store"
)

// Config represents the optional fimd configuration file.
type Config struct {
	Store StoreConfig `toml:"store"`
	Scan  ScanConfig  `toml:"scan"`
}

// StoreConfig controls the on-disk entry database.
type StoreConfig struct {
	Path           *string `toml:"path"`
	CommitInterval *string `toml:"commit_interval"` // Go duration string
}

// ScanConfig controls what gets scanned and how hard.
type ScanConfig struct {
	Roots       []string `toml:"roots"`
	Workers     *int     `toml:"workers"`
	FilesPerSec *float64 `toml:"files_per_sec"`
	SHA256      *bool    `toml:"sha256"`
	Exclude     []string `toml:"exclude"`
	Include     []string `toml:"include"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "fimd", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFrom(path)
}

// LoadFrom reads an explicit config file path. A missing file yields a
// zero Config without error.
func LoadFrom(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultStorePath returns where the entry database lives when the config
// does not say: $XDG_STATE_HOME/fimd/fim.db.
func DefaultStorePath() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "fim.db"
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "fimd", "fim.db")
}

// StorePath resolves the database path, falling back to the default.
func (c Config) StorePath() string {
	if c.Store.Path != nil && *c.Store.Path != "" {
		return *c.Store.Path
	}
	return DefaultStorePath()
}

// CommitInterval resolves the transaction commit interval.
func (c Config) CommitInterval() (time.Duration, error) {
	if c.Store.CommitInterval == nil {
		return store.DefaultCommitInterval, nil
	}
	d, err := time.ParseDuration(*c.Store.CommitInterval)
	if err != nil {
		return 0, fmt.Errorf("commit_interval: %w", err)
	}
	return d, nil
}

// FilterChain builds the path filter from the include and exclude lists.
// Includes are added first so they carve exceptions out of the excludes.
func (c Config) FilterChain() (*filter.Chain, error) {
	chain := filter.NewChain()
	for _, p := range c.Scan.Include {
		if err := chain.AddInclude(p); err != nil {
			return nil, fmt.Errorf("include %q: %w", p, err)
		}
	}
	for _, p := range c.Scan.Exclude {
		if err := chain.AddExclude(p); err != nil {
			return nil, fmt.Errorf("exclude %q: %w", p, err)
		}
	}
	return chain, nil
}
