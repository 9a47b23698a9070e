package testsupport

import (
	"path/filepath"
	"testing"

	"samplib/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.LogDir = filepath.Join(base, "logs")
	cfg.Analysis.Workers = 2
	cfg.Analysis.EmbeddingDim = 8
	cfg.Workflow.ScanIntervalSeconds = 1
	cfg.Workflow.QueuePollIntervalSeconds = 1
	cfg.Workflow.ErrorRetryIntervalSec = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithSource appends a source root to the test config.
func WithSource(root string) ConfigOption {
	return func(c *config.Config) {
		c.Sources = append(c.Sources, config.Source{Root: root})
	}
}

// WithEmbeddingDim overrides the embedding dimension.
func WithEmbeddingDim(dim int) ConfigOption {
	return func(c *config.Config) {
		c.Analysis.EmbeddingDim = dim
	}
}
