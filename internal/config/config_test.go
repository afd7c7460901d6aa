package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
source:
  base_url: https://mirror.example.org
  user_agent: test-agent
  response_header_timeout_seconds: 5
work_dir: /tmp/work
input:
  paths_file: warc.paths.gz
  offset: 12
  limit: 6
output:
  dir: /tmp/out
  file_template: vi-%05d.jsonl
pipeline:
  batch_size: 3
  classify_workers: 2
  target_label: tha_Thai
  chunk_bytes: 1048576
classifier:
  languages: [vi, th, en]
  min_relative_distance: 0.25
storage:
  backend: local
  local_dir: /tmp/upload
logging:
  development: false
  level: debug
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source.BaseURL != "https://mirror.example.org" || cfg.Source.UserAgent != "test-agent" {
		t.Fatalf("expected source overrides, got %+v", cfg.Source)
	}
	if got := cfg.ResponseHeaderTimeout(); got != 5*time.Second {
		t.Fatalf("expected 5s header timeout, got %v", got)
	}
	if cfg.Input.Offset != 12 || cfg.Input.Limit != 6 {
		t.Fatalf("expected input window, got %+v", cfg.Input)
	}
	if cfg.Pipeline.BatchSize != 3 || cfg.Pipeline.TargetLabel != "tha_Thai" {
		t.Fatalf("expected pipeline overrides, got %+v", cfg.Pipeline)
	}
	if len(cfg.Classifier.Languages) != 3 || cfg.Classifier.MinRelativeDistance != 0.25 {
		t.Fatalf("expected classifier overrides, got %+v", cfg.Classifier)
	}
	if cfg.Storage.Backend != StorageLocal || cfg.Logging.Level != "debug" {
		t.Fatalf("expected storage and logging overrides")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", map[string]any{"input.paths_file": "paths.txt"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source.BaseURL != "https://data.commoncrawl.org" {
		t.Fatalf("unexpected base url %q", cfg.Source.BaseURL)
	}
	if cfg.Pipeline.BatchSize != 6 || cfg.Pipeline.TargetLabel != "vie_Latn" {
		t.Fatalf("unexpected pipeline defaults %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.ChunkBytes != 32<<20 {
		t.Fatalf("unexpected chunk size %d", cfg.Pipeline.ChunkBytes)
	}
	if cfg.Pipeline.ClassifyWorkers <= 0 {
		t.Fatalf("expected positive classify workers, got %d", cfg.Pipeline.ClassifyWorkers)
	}
	if cfg.Output.FileTemplate != "part-%06d.jsonl" || cfg.Storage.Backend != StorageNone {
		t.Fatalf("unexpected output/storage defaults")
	}
	if cfg.Extractor.DetectCharset {
		t.Fatalf("charset detection must be opt-in; payloads decode as UTF-8 by default")
	}
	if cfg.Extractor.MaxRecordBytes != 64<<20 {
		t.Fatalf("unexpected max record bytes %d", cfg.Extractor.MaxRecordBytes)
	}
}

func TestLoadOverridesBeatFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "input:\n  paths_file: a.txt\npipeline:\n  batch_size: 3\n")
	cfg, err := Load(path, map[string]any{"pipeline.batch_size": 9, "pipeline.target_label": "eng_Latn"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.BatchSize != 9 || cfg.Pipeline.TargetLabel != "eng_Latn" {
		t.Fatalf("expected flag overrides to win, got %+v", cfg.Pipeline)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("LANGFILTER_PIPELINE_BATCH_SIZE", "4")
	t.Setenv("LANGFILTER_INPUT_PATHS_FILE", "env.paths")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.BatchSize != 4 || cfg.Input.PathsFile != "env.paths" {
		t.Fatalf("expected env overrides, got batch=%d paths=%q", cfg.Pipeline.BatchSize, cfg.Input.PathsFile)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("", map[string]any{"input.paths_file": "p"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cases := map[string]func(*Config){
		"paths file":     func(c *Config) { c.Input.PathsFile = " " },
		"base url":       func(c *Config) { c.Source.BaseURL = "ftp://x" },
		"batch size":     func(c *Config) { c.Pipeline.BatchSize = 0 },
		"workers":        func(c *Config) { c.Pipeline.ClassifyWorkers = 0 },
		"target":         func(c *Config) { c.Pipeline.TargetLabel = "" },
		"chunk":          func(c *Config) { c.Pipeline.ChunkBytes = 0 },
		"offset":         func(c *Config) { c.Input.Offset = -1 },
		"distance":       func(c *Config) { c.Classifier.MinRelativeDistance = 1.5 },
		"backend":        func(c *Config) { c.Storage.Backend = "s3" },
		"local dir":      func(c *Config) { c.Storage.Backend = StorageLocal },
		"bucket":         func(c *Config) { c.Storage.Backend = StorageGCS },
		"pubsub":         func(c *Config) { c.PubSub.ProjectID = "p" },
		"server port":    func(c *Config) { c.Server.Enabled = true; c.Server.Port = 0 },
		"db conns":       func(c *Config) { c.DB.DSN = "postgres://x"; c.DB.MaxConns = 0 },
		"work dir":       func(c *Config) { c.WorkDir = "" },
		"output dir":     func(c *Config) { c.Output.Dir = "" },
		"file template":  func(c *Config) { c.Output.FileTemplate = "" },
		"header timeout": func(c *Config) { c.Source.ResponseHeaderTimeoutSeconds = 0 },
		"max record":     func(c *Config) { c.Extractor.MaxRecordBytes = 0 },
		"throttle":       func(c *Config) { c.Source.RequestsPerSecond = -1 },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		if strings.TrimSpace(err.Error()) == "" {
			t.Fatalf("%s: expected descriptive error", name)
		}
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}
}
