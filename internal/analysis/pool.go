package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"samplib/internal/catalog"
	"samplib/internal/config"
	"samplib/internal/ledger"
	"samplib/internal/logging"
	"samplib/internal/storage"
)

// Pool runs N workers against the job ledger. Each worker claims a batch,
// computes per-job results, and hands the batch to the finalizer channel.
type Pool struct {
	jobs      *ledger.Store
	samples   *catalog.Store
	decoder   Decoder
	features  FeatureExtractor
	embedder  Embedder
	results   chan<- Batch
	logger    *slog.Logger
	workers   int
	claimSize int
	inferMax  int
	pollEvery time.Duration
	retryWait time.Duration
}

// NewPool wires a worker pool. Results are delivered on the results channel
// in claim order per worker.
func NewPool(
	cfg *config.Config,
	jobs *ledger.Store,
	samples *catalog.Store,
	decoder Decoder,
	features FeatureExtractor,
	embedder Embedder,
	results chan<- Batch,
	logger *slog.Logger,
) *Pool {
	return &Pool{
		jobs:      jobs,
		samples:   samples,
		decoder:   decoder,
		features:  features,
		embedder:  embedder,
		results:   results,
		logger:    logging.WithComponent(logger, "analysis"),
		workers:   cfg.Analysis.Workers,
		claimSize: cfg.Analysis.ClaimBatchSize,
		inferMax:  cfg.Analysis.InferenceBatchSize,
		pollEvery: time.Duration(cfg.Workflow.QueuePollIntervalSeconds) * time.Second,
		retryWait: time.Duration(cfg.Workflow.ErrorRetryIntervalSec) * time.Second,
	}
}

// Run blocks until the context is canceled or a worker hits a fatal storage
// failure. Per-job errors never stop the pool.
func (p *Pool) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		group.Go(func() error {
			return p.runWorker(ctx, workerID)
		})
	}
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) runWorker(ctx context.Context, workerID string) error {
	logger := p.logger.With(logging.String(logging.FieldWorkerID, workerID))
	logger.Debug("worker started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		jobs, err := p.jobs.Claim(ctx, p.claimSize, workerID)
		if err != nil {
			if errors.Is(err, storage.ErrUnavailable) || ctx.Err() != nil {
				return err
			}
			logger.Warn("claim failed", logging.Error(err))
			if !sleepCtx(ctx, p.retryWait) {
				return ctx.Err()
			}
			continue
		}
		if len(jobs) == 0 {
			if !sleepCtx(ctx, p.pollEvery) {
				return ctx.Err()
			}
			continue
		}

		batch := p.process(ctx, workerID, jobs)
		select {
		case p.results <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// process computes every job in a claim. Embedding jobs are accumulated and
// run through the embedder in inference-sized chunks; feature jobs run
// inline. Failures stay attached to their job.
func (p *Pool) process(ctx context.Context, workerID string, jobs []*ledger.Job) Batch {
	batch := Batch{WorkerID: workerID, Results: make([]Result, 0, len(jobs))}

	type embedItem struct {
		index int
		clip  *Clip
	}
	var embedQueue []embedItem

	for _, job := range jobs {
		result := Result{Job: job}
		sample, clip, err := p.loadClip(ctx, job)
		result.Sample = sample
		if err != nil {
			result.Err = err
			batch.Results = append(batch.Results, result)
			continue
		}
		result.SourceHash = sample.Fingerprint.ContentHash

		switch job.Kind {
		case ledger.KindFeatures:
			vector, err := p.features.Extract(clip)
			if err != nil {
				result.Err = fmt.Errorf("extract features: %w", err)
			} else {
				result.Vector = vector
			}
			batch.Results = append(batch.Results, result)
		case ledger.KindEmbedding:
			batch.Results = append(batch.Results, result)
			embedQueue = append(embedQueue, embedItem{
				index: len(batch.Results) - 1,
				clip:  Preprocess(clip),
			})
		default:
			result.Err = fmt.Errorf("unknown job kind %q", job.Kind)
			batch.Results = append(batch.Results, result)
		}
	}

	for start := 0; start < len(embedQueue); start += p.inferMax {
		end := min(start+p.inferMax, len(embedQueue))
		chunk := embedQueue[start:end]
		clips := make([]*Clip, len(chunk))
		for i, item := range chunk {
			clips[i] = item.clip
		}
		vectors, err := p.embedder.EmbedBatch(ctx, clips)
		if err != nil || len(vectors) != len(chunk) {
			if err == nil {
				err = fmt.Errorf("embedder returned %d vectors for %d inputs", len(vectors), len(chunk))
			}
			for _, item := range chunk {
				batch.Results[item.index].Err = fmt.Errorf("embed: %w", err)
			}
			continue
		}
		for i, item := range chunk {
			batch.Results[item.index].Vector = vectors[i]
		}
	}
	return batch
}

// loadClip resolves the sample's absolute path through its source root and
// decodes it.
func (p *Pool) loadClip(ctx context.Context, job *ledger.Job) (*catalog.Sample, *Clip, error) {
	sample, err := p.samples.Get(ctx, job.SampleID)
	if err != nil {
		return nil, nil, fmt.Errorf("load sample: %w", err)
	}
	if sample == nil {
		return nil, nil, fmt.Errorf("sample %q not in catalog", job.SampleID)
	}
	if sample.Missing {
		// Finalizer tombstones these; decode would only fail anyway.
		return sample, nil, fmt.Errorf("sample %q is missing from disk", job.SampleID)
	}
	source, err := p.samples.GetSource(ctx, sample.SourceID)
	if err != nil {
		return sample, nil, fmt.Errorf("load source: %w", err)
	}
	if source == nil {
		return sample, nil, fmt.Errorf("source %q not registered", sample.SourceID)
	}
	path := filepath.Join(source.Root, filepath.FromSlash(sample.RelativePath))
	clip, err := p.decoder.Decode(ctx, path)
	if err != nil {
		return sample, nil, err
	}
	return sample, clip, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
