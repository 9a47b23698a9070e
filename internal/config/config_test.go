package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"samplib/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, _, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing config")
	}
	if cfg.Analysis.Workers != 2 {
		t.Fatalf("unexpected default workers: %d", cfg.Analysis.Workers)
	}
	if cfg.Analysis.EmbeddingDim != 512 {
		t.Fatalf("unexpected default embedding dim: %d", cfg.Analysis.EmbeddingDim)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[[sources]]
root = "` + dir + `"

[analysis]
workers = 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: exists=%v path=%s", exists, resolved)
	}
	if cfg.Analysis.Workers != 4 {
		t.Fatalf("workers not parsed: %d", cfg.Analysis.Workers)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].Root != dir {
		t.Fatalf("sources not normalized: %+v", cfg.Sources)
	}
	if cfg.DatabasePath() != filepath.Join(dir, "data", "library.db") {
		t.Fatalf("unexpected database path: %s", cfg.DatabasePath())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero workers", func(c *config.Config) { c.Analysis.Workers = 0 }},
		{"zero batch", func(c *config.Config) { c.Analysis.ClaimBatchSize = 0 }},
		{"empty model", func(c *config.Config) { c.Analysis.ModelID = "" }},
		{"bad format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"empty source root", func(c *config.Config) { c.Sources = []config.Source{{Root: "  "}} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected error when overwriting existing config")
	}
}
