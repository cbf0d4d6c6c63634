package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
database:
  driver: sqlite
  sqlite:
    path: etl.db
storage:
  source_root: ./trusted
  destination_root: ./client
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Storage.DestinationPrefix != DefaultDestinationPrefix {
		t.Fatalf("expected prefix %q, got %q", DefaultDestinationPrefix, cfg.Storage.DestinationPrefix)
	}
	if cfg.Logging.LogLevel != "info" {
		t.Fatalf("expected info log level, got %q", cfg.Logging.LogLevel)
	}
	if cfg.RunTimeout() != 300*time.Second {
		t.Fatalf("expected 300s timeout, got %v", cfg.RunTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.GetDSN() != "etl.db" {
		t.Fatalf("unexpected dsn %q", cfg.GetDSN())
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown driver":   func(c *Config) { c.Database.Driver = "oracle" },
		"missing source":   func(c *Config) { c.Storage.SourceRoot = "" },
		"missing dest":     func(c *Config) { c.Storage.DestinationRoot = "" },
		"negative timeout": func(c *Config) { c.Pipeline.RunTimeout = -1 },
		"mysql no host":    func(c *Config) { c.Database.Driver = "mysql" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Parse([]byte(sampleYAML))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ETL_RUN_TIMEOUT", "12")
	t.Setenv("ETL_DESTINATION_ROOT", "/tmp/out")
	t.Setenv("ETL_SQLITE_PATH", "/tmp/override.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RunTimeout() != 12*time.Second {
		t.Fatalf("expected 12s timeout, got %v", cfg.RunTimeout())
	}
	if cfg.Storage.DestinationRoot != "/tmp/out" {
		t.Fatalf("expected env destination root, got %q", cfg.Storage.DestinationRoot)
	}
	if cfg.GetDSN() != "/tmp/override.db" {
		t.Fatalf("expected env sqlite path, got %q", cfg.GetDSN())
	}
}

func TestLoadBadEnvTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ETL_RUN_TIMEOUT", "soon")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for non-numeric timeout")
	}
}
