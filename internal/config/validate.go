package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSources(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateSources() error {
	seen := make(map[string]struct{}, len(c.Sources))
	for _, source := range c.Sources {
		if strings.TrimSpace(source.Root) == "" {
			return errors.New("sources entries require a root path")
		}
		if _, ok := seen[source.Root]; ok {
			return fmt.Errorf("duplicate source root %q", source.Root)
		}
		seen[source.Root] = struct{}{}
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	if c.Analysis.Workers < 1 {
		return errors.New("analysis.workers must be at least 1")
	}
	if c.Analysis.ClaimBatchSize < 1 {
		return errors.New("analysis.claim_batch_size must be at least 1")
	}
	if c.Analysis.InferenceBatchSize < 1 {
		return errors.New("analysis.inference_batch_size must be at least 1")
	}
	if c.Analysis.ClaimTimeoutSeconds < 1 {
		return errors.New("analysis.claim_timeout_seconds must be at least 1")
	}
	if c.Analysis.MaxAttempts < 1 {
		return errors.New("analysis.max_attempts must be at least 1")
	}
	if strings.TrimSpace(c.Analysis.ModelID) == "" {
		return errors.New("analysis.model_id must be set")
	}
	if c.Analysis.EmbeddingDim < 1 {
		return errors.New("analysis.embedding_dim must be at least 1")
	}
	if c.Analysis.FeatureVersion < 1 {
		return errors.New("analysis.feature_version must be at least 1")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.ScanIntervalSeconds < 1 {
		return errors.New("workflow.scan_interval_seconds must be at least 1")
	}
	if c.Workflow.QueuePollIntervalSeconds < 1 {
		return errors.New("workflow.queue_poll_interval_seconds must be at least 1")
	}
	if c.Workflow.ErrorRetryIntervalSec < 1 {
		return errors.New("workflow.error_retry_interval_seconds must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
