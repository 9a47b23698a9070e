package config

const (
	defaultDataDir = "~/.local/share/samplib"
	defaultLogDir  = "~/.local/share/samplib/logs"

	defaultLogFormat = "console"
	defaultLogLevel  = "info"

	defaultWorkers             = 2
	defaultClaimBatchSize      = 8
	defaultInferenceBatchSize  = 16
	defaultClaimTimeoutSeconds = 300
	defaultMaxAttempts         = 3

	defaultScanInterval      = 600
	defaultQueuePollInterval = 2
	defaultErrorRetry        = 10

	defaultBackend        = "hash"
	defaultModelID        = "clap_htsat_fused__sr48k__nfft1024__hop480__mel64__chunk10__repeatpad_v2"
	defaultEmbeddingDim   = 512
	defaultFeatureVersion = 1

	indexContainerName  = "similarity_hnsw.ann"
	legacyIndexDir      = "ann"
	legacyIndexBasename = "similarity_hnsw"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Analysis: Analysis{
			Workers:             defaultWorkers,
			ClaimBatchSize:      defaultClaimBatchSize,
			InferenceBatchSize:  defaultInferenceBatchSize,
			ClaimTimeoutSeconds: defaultClaimTimeoutSeconds,
			MaxAttempts:         defaultMaxAttempts,
			Backend:             defaultBackend,
			ModelID:             defaultModelID,
			EmbeddingDim:        defaultEmbeddingDim,
			FeatureVersion:      defaultFeatureVersion,
		},
		Workflow: Workflow{
			ScanIntervalSeconds:      defaultScanInterval,
			QueuePollIntervalSeconds: defaultQueuePollInterval,
			ErrorRetryIntervalSec:    defaultErrorRetry,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
