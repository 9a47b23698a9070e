package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	// DataDir holds the library database and the ANN index container.
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Source describes one watched sample library root.
type Source struct {
	// ID is optional; when empty a stable id is derived from the root path.
	ID   string `toml:"id"`
	Root string `toml:"root"`
}

// Analysis contains worker pool and model configuration.
type Analysis struct {
	Workers             int    `toml:"workers"`
	ClaimBatchSize      int    `toml:"claim_batch_size"`
	InferenceBatchSize  int    `toml:"inference_batch_size"`
	ClaimTimeoutSeconds int    `toml:"claim_timeout_seconds"`
	MaxAttempts         int    `toml:"max_attempts"`
	Backend             string `toml:"backend"`
	ModelID             string `toml:"model_id"`
	EmbeddingDim        int    `toml:"embedding_dim"`
	FeatureVersion      int    `toml:"feature_version"`
}

// Workflow contains daemon timing configuration.
type Workflow struct {
	ScanIntervalSeconds      int  `toml:"scan_interval_seconds"`
	QueuePollIntervalSeconds int  `toml:"queue_poll_interval_seconds"`
	ErrorRetryIntervalSec    int  `toml:"error_retry_interval_seconds"`
	Watch                    bool `toml:"watch"`
}

// Logging contains log output configuration.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for samplib.
type Config struct {
	Paths    `toml:"paths"`
	Sources  []Source `toml:"sources"`
	Analysis Analysis `toml:"analysis"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/samplib/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. When no file exists
// the defaults are returned with exists=false.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.DataDir, err = expandPath(c.DataDir); err != nil {
		return err
	}
	if c.LogDir, err = expandPath(c.LogDir); err != nil {
		return err
	}
	for i := range c.Sources {
		root, err := expandPath(c.Sources[i].Root)
		if err != nil {
			return err
		}
		c.Sources[i].Root = filepath.Clean(root)
	}
	return nil
}

// EnsureDirectories creates all configured directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the library database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "library.db")
}

// IndexPath returns the ANN container location.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, indexContainerName)
}

// LegacyIndexBase returns the base path of the legacy multi-file index layout.
func (c *Config) LegacyIndexBase() string {
	return filepath.Join(c.DataDir, legacyIndexDir, legacyIndexBasename)
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
