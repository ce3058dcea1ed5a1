package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("expected defaults, got listen %q", cfg.Listen)
	}
}

func TestLoadConfigMissingExplicit(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestOpenCacheSQLite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aigate.yaml")
	data := "db_path: " + filepath.Join(dir, "aigate.db") + "\ncache:\n  backend: sqlite\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	c, err := openCache(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	if _, err := c.Stats(t.Context()); err != nil {
		t.Fatal(err)
	}
}
