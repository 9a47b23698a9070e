// Package finalize commits worker batches: record upserts, job state
// transitions, and incremental ANN index updates. It is the single writer
// of the index container.
package finalize

import (
	"context"
	"fmt"
	"log/slog"

	"samplib/internal/analysis"
	"samplib/internal/annindex"
	"samplib/internal/catalog"
	"samplib/internal/config"
	"samplib/internal/ledger"
	"samplib/internal/logging"
	"samplib/internal/policy"
	"samplib/internal/records"
)

// Finalizer applies batch results to the record store, job ledger, and ANN
// index. Not safe for concurrent use; run exactly one.
type Finalizer struct {
	jobs       *ledger.Store
	samples    *catalog.Store
	recs       *records.Store
	index      *annindex.Index
	indexStore *annindex.Loader
	logger     *slog.Logger

	featVersion int
	modelID     string
	dim         int
}

// New wires a finalizer around the single mutable index instance.
func New(
	cfg *config.Config,
	jobs *ledger.Store,
	samples *catalog.Store,
	recs *records.Store,
	index *annindex.Index,
	indexStore *annindex.Loader,
	logger *slog.Logger,
) *Finalizer {
	return &Finalizer{
		jobs:        jobs,
		samples:     samples,
		recs:        recs,
		index:       index,
		indexStore:  indexStore,
		logger:      logging.WithComponent(logger, "finalize"),
		featVersion: cfg.Analysis.FeatureVersion,
		modelID:     cfg.Analysis.ModelID,
		dim:         cfg.Analysis.EmbeddingDim,
	}
}

// Run consumes batches until the channel closes or the context ends. A
// batch-level store failure is fatal: affected jobs stay claimed and are
// reclaimed by lease expiry after restart.
func (f *Finalizer) Run(ctx context.Context, batches <-chan analysis.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			if err := f.Finalize(ctx, batch); err != nil {
				return err
			}
		}
	}
}

// Finalize commits one batch. Per-result outcomes are independent; the
// index container is persisted once at the batch boundary when dirty.
func (f *Finalizer) Finalize(ctx context.Context, batch analysis.Batch) error {
	for i := range batch.Results {
		if err := f.finalizeResult(ctx, &batch.Results[i]); err != nil {
			return err
		}
	}
	if f.index.Dirty() {
		if err := f.indexStore.Persist(ctx, f.index); err != nil {
			return fmt.Errorf("persist ann index: %w", err)
		}
	}
	return nil
}

func (f *Finalizer) finalizeResult(ctx context.Context, result *analysis.Result) error {
	job := result.Job
	logger := f.logger.With(
		logging.String(logging.FieldSampleID, job.SampleID),
		logging.String(logging.FieldJobKind, string(job.Kind)))

	// Re-read the catalog: the sample may have changed or vanished between
	// claim and commit.
	sample, err := f.samples.Get(ctx, job.SampleID)
	if err != nil {
		return fmt.Errorf("finalize lookup: %w", err)
	}
	if sample == nil || sample.Missing {
		logger.Info("sample left library, tombstoning")
		return f.tombstone(ctx, job.SampleID)
	}

	if result.Err != nil {
		logger.Warn("job failed", logging.Error(result.Err))
		return f.jobs.Fail(ctx, job, result.Err)
	}

	// The staleness decision is the invalidation policy's, applied against
	// the fingerprint the vector was actually computed from.
	computed := policy.RecordState{
		Exists:     true,
		Version:    job.RequiredVersion,
		SourceHash: result.SourceHash,
	}
	required := policy.Requirement{
		Version:     f.requiredVersion(job.Kind),
		ContentHash: sample.Fingerprint.ContentHash,
	}
	if policy.NeedsRequeue(computed, required) {
		logger.Info("discarding stale result")
		return f.jobs.Release(ctx, job.ID)
	}

	switch job.Kind {
	case ledger.KindFeatures:
		err = f.recs.UpsertFeatures(ctx, &records.FeatureRecord{
			SampleID:    job.SampleID,
			FeatVersion: f.featVersion,
			SourceHash:  result.SourceHash,
			Vector:      result.Vector,
		})
	case ledger.KindEmbedding:
		err = f.recs.UpsertEmbedding(ctx, &records.EmbeddingRecord{
			SampleID:   job.SampleID,
			ModelID:    f.modelID,
			Dim:        f.dim,
			Dtype:      records.DtypeF32,
			L2Normed:   true,
			SourceHash: result.SourceHash,
			Vector:     result.Vector,
		})
		if err == nil {
			err = f.index.Upsert(job.SampleID, result.Vector)
		}
	default:
		return f.jobs.Fail(ctx, job, fmt.Errorf("unknown job kind %q", job.Kind))
	}
	if err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return f.jobs.Complete(ctx, job.ID)
}

// Tombstone removes every trace of a departed sample: records, index entry,
// and any runnable jobs. Exposed for hard rescans.
func (f *Finalizer) Tombstone(ctx context.Context, sampleID string) error {
	return f.tombstone(ctx, sampleID)
}

func (f *Finalizer) tombstone(ctx context.Context, sampleID string) error {
	if err := f.recs.Delete(ctx, sampleID); err != nil {
		return err
	}
	f.index.Delete(sampleID)
	if err := f.jobs.Discard(ctx, sampleID); err != nil {
		return err
	}
	return nil
}

func (f *Finalizer) requiredVersion(kind ledger.Kind) string {
	if kind == ledger.KindFeatures {
		return policy.FeatureVersion(f.featVersion)
	}
	return f.modelID
}
