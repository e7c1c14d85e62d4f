package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/litedb/litedb"
)

func TestLoad_ParsesCacheSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "litedb.yaml")
	contents := "path: data.litedb\ncache: lru\ncache_pages: 256\nread_only: false\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path != "data.litedb" || cfg.Cache != "lru" || cfg.CachePages != 256 {
		t.Fatalf("Load = %+v, unexpected field values", cfg)
	}

	opts := cfg.ToOpenOptions()
	if opts.Cache != litedb.CacheLRU || opts.CachePages != 256 {
		t.Fatalf("ToOpenOptions = %+v", opts)
	}
}

func TestLoad_ParsesLRUKCacheSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "litedb.yaml")
	contents := "path: data.litedb\ncache: lruk\ncache_pages: 64\ncache_k: 3\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := cfg.ToOpenOptions()
	if opts.Cache != litedb.CacheLRUK || opts.CachePages != 64 || opts.CacheK != 3 {
		t.Fatalf("ToOpenOptions = %+v", opts)
	}
}

func TestLoad_ParsesDebugGuards(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "litedb.yaml")
	if err := os.WriteFile(path, []byte("path: data.litedb\ndebug_guards: true\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.DebugGuards {
		t.Fatal("expected DebugGuards to parse true")
	}
	if opts := cfg.ToOpenOptions(); !opts.DebugGuards {
		t.Fatalf("ToOpenOptions.DebugGuards = %v, want true", opts.DebugGuards)
	}
}

func TestLoad_MissingCacheDefaultsToDirect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "litedb.yaml")
	if err := os.WriteFile(path, []byte("path: data.litedb\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := cfg.ToOpenOptions()
	if opts.Cache != litedb.CacheDirect {
		t.Fatalf("expected default cache kind to be direct, got %v", opts.Cache)
	}
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
