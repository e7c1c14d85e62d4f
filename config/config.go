// Package config loads the optional YAML file describing how a Db wires
// up its backing store, so a deployment can tune cache size without a
// code change.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/litedb/litedb"
	"github.com/litedb/litedb/internal/block"
)

// Config mirrors litedb.OpenOptions, expressed for YAML unmarshalling.
type Config struct {
	Path        string `yaml:"path"`
	Cache       string `yaml:"cache"`        // "direct", "lru", "lruk", or "memory"
	CachePages  int    `yaml:"cache_pages"`  // only meaningful for cache: lru/lruk
	CacheK      int    `yaml:"cache_k"`      // touches to admit, only meaningful for cache: lruk
	ReadOnly    bool   `yaml:"read_only"`
	DebugGuards bool   `yaml:"debug_guards"` // enable the write-reentrancy panic guard
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// CacheKind values a caller can compare Config.Cache against without
// importing the litedb package directly.
const (
	CacheDirect = "direct"
	CacheLRU    = "lru"
	CacheLRUK   = "lruk"
	CacheMemory = "memory"
)

// ToOpenOptions translates a parsed Config into litedb.OpenOptions, ready
// to pass to litedb.Open(c.Path, ...).
func (c Config) ToOpenOptions() litedb.OpenOptions {
	opts := litedb.OpenOptions{ReadOnly: c.ReadOnly, DebugGuards: c.DebugGuards}
	switch c.Cache {
	case CacheLRU:
		opts.Cache = litedb.CacheLRU
		if c.CachePages > 0 {
			opts.CachePages = c.CachePages
		} else {
			opts.CachePages = block.DefaultCachePages
		}
	case CacheLRUK:
		opts.Cache = litedb.CacheLRUK
		if c.CachePages > 0 {
			opts.CachePages = c.CachePages
		} else {
			opts.CachePages = block.DefaultCachePages
		}
		opts.CacheK = c.CacheK
	case CacheMemory:
		opts.Cache = litedb.CacheMemory
	default:
		opts.Cache = litedb.CacheDirect
	}
	return opts
}
