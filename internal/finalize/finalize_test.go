package finalize_test

import (
	"context"
	"os"
	"testing"
	"time"

	"samplib/internal/analysis"
	"samplib/internal/annindex"
	"samplib/internal/catalog"
	"samplib/internal/config"
	"samplib/internal/finalize"
	"samplib/internal/ledger"
	"samplib/internal/records"
	"samplib/internal/storage"
	"samplib/internal/testsupport"
)

type fixture struct {
	cfg     *config.Config
	db      *storage.DB
	samples *catalog.Store
	jobs    *ledger.Store
	recs    *records.Store
	index   *annindex.Index
	loader  *annindex.Loader
	fin     *finalize.Finalizer
	source  *catalog.Source
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	samples := catalog.NewStore(db)
	jobs := ledger.NewStore(db, 5*time.Minute, cfg.Analysis.MaxAttempts)
	recs := records.NewStore(db)
	params := annindex.DefaultParams(cfg.Analysis.ModelID, cfg.Analysis.EmbeddingDim)
	index := annindex.New(params)
	loader := annindex.NewLoader(recs, annindex.NewMetaStore(db), cfg.IndexPath(), cfg.LegacyIndexBase(), params, nil)
	return &fixture{
		cfg:     cfg,
		db:      db,
		samples: samples,
		jobs:    jobs,
		recs:    recs,
		index:   index,
		loader:  loader,
		fin:     finalize.New(cfg, jobs, samples, recs, index, loader, nil),
		source:  testsupport.MustEnsureSource(t, samples, t.TempDir()),
	}
}

func (f *fixture) claimEmbeddingJob(t *testing.T, sampleID string) *ledger.Job {
	t.Helper()
	ctx := context.Background()
	if _, err := f.jobs.Enqueue(ctx, sampleID, ledger.KindEmbedding, f.cfg.Analysis.ModelID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := f.jobs.Claim(ctx, 1, "test-worker")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(claimed))
	}
	return claimed[0]
}

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot%dim] = 1
	return v
}

func TestFinalizeCommitsSuccessfulResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sampleID := testsupport.MustInsertSample(t, f.samples, f.source, "kick.wav")
	job := f.claimEmbeddingJob(t, sampleID)

	sample, err := f.samples.Get(ctx, sampleID)
	if err != nil || sample == nil {
		t.Fatalf("Get sample: %v %v", sample, err)
	}
	batch := analysis.Batch{WorkerID: "test-worker", Results: []analysis.Result{{
		Job:        job,
		Sample:     sample,
		Vector:     unit(f.cfg.Analysis.EmbeddingDim, 0),
		SourceHash: sample.Fingerprint.ContentHash,
	}}}
	if err := f.fin.Finalize(ctx, batch); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	rec, err := f.recs.GetEmbedding(ctx, sampleID)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if rec == nil || rec.ModelID != f.cfg.Analysis.ModelID {
		t.Fatalf("embedding record = %+v", rec)
	}
	stored, err := f.jobs.Get(ctx, sampleID, ledger.KindEmbedding)
	if err != nil {
		t.Fatalf("jobs.Get: %v", err)
	}
	if stored.Status != ledger.StatusDone {
		t.Fatalf("job status = %s, want done", stored.Status)
	}
	if !f.index.Contains(sampleID) {
		t.Fatal("sample missing from index")
	}
	if _, err := os.Stat(f.cfg.IndexPath()); err != nil {
		t.Fatalf("container not persisted at batch boundary: %v", err)
	}
	if f.index.Dirty() {
		t.Fatal("index still dirty after finalize")
	}
}

func TestFinalizeDiscardsStaleResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sampleID := testsupport.MustInsertSample(t, f.samples, f.source, "kick.wav")
	job := f.claimEmbeddingJob(t, sampleID)

	// The worker computed against the fingerprint at claim time; the file
	// changed before commit.
	staleHash := "stale-hash"
	batch := analysis.Batch{WorkerID: "test-worker", Results: []analysis.Result{{
		Job:        job,
		Vector:     unit(f.cfg.Analysis.EmbeddingDim, 0),
		SourceHash: staleHash,
	}}}
	if err := f.fin.Finalize(ctx, batch); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	rec, err := f.recs.GetEmbedding(ctx, sampleID)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if rec != nil {
		t.Fatal("stale result written to record store")
	}
	if f.index.Contains(sampleID) {
		t.Fatal("stale result inserted into index")
	}
	stored, err := f.jobs.Get(ctx, sampleID, ledger.KindEmbedding)
	if err != nil {
		t.Fatalf("jobs.Get: %v", err)
	}
	if stored.Status != ledger.StatusPending {
		t.Fatalf("job status = %s, want pending for re-run", stored.Status)
	}
	if stored.Attempts != 0 {
		t.Fatalf("attempts = %d, want discard not to burn a retry", stored.Attempts)
	}
}

func TestFinalizeTombstonesMissingSample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sampleID := testsupport.MustInsertSample(t, f.samples, f.source, "kick.wav")
	job := f.claimEmbeddingJob(t, sampleID)

	// Pre-existing record and index entry from an earlier run.
	vector := unit(f.cfg.Analysis.EmbeddingDim, 1)
	if err := f.recs.UpsertEmbedding(ctx, &records.EmbeddingRecord{
		SampleID: sampleID, ModelID: f.cfg.Analysis.ModelID,
		Dim: f.cfg.Analysis.EmbeddingDim, SourceHash: "h", Vector: vector,
	}); err != nil {
		t.Fatalf("UpsertEmbedding: %v", err)
	}
	if err := f.index.Upsert(sampleID, vector); err != nil {
		t.Fatalf("index.Upsert: %v", err)
	}

	if err := f.samples.SetMissing(ctx, sampleID, true); err != nil {
		t.Fatalf("SetMissing: %v", err)
	}

	sample, _ := f.samples.Get(ctx, sampleID)
	batch := analysis.Batch{WorkerID: "test-worker", Results: []analysis.Result{{
		Job:        job,
		Sample:     sample,
		Vector:     unit(f.cfg.Analysis.EmbeddingDim, 0),
		SourceHash: "h",
	}}}
	if err := f.fin.Finalize(ctx, batch); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	rec, err := f.recs.GetEmbedding(ctx, sampleID)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if rec != nil {
		t.Fatal("record survived tombstone")
	}
	if f.index.Contains(sampleID) {
		t.Fatal("index entry survived tombstone")
	}
	stored, err := f.jobs.Get(ctx, sampleID, ledger.KindEmbedding)
	if err != nil {
		t.Fatalf("jobs.Get: %v", err)
	}
	if stored != nil {
		t.Fatalf("job survived tombstone: %+v", stored)
	}
}

func TestFinalizeFailureRecordsJobFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sampleID := testsupport.MustInsertSample(t, f.samples, f.source, "kick.wav")
	job := f.claimEmbeddingJob(t, sampleID)

	batch := analysis.Batch{WorkerID: "test-worker", Results: []analysis.Result{{
		Job: job,
		Err: analysis.ErrDecode,
	}}}
	if err := f.fin.Finalize(ctx, batch); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	stored, err := f.jobs.Get(ctx, sampleID, ledger.KindEmbedding)
	if err != nil {
		t.Fatalf("jobs.Get: %v", err)
	}
	if stored.Status != ledger.StatusPending {
		t.Fatalf("job status = %s, want pending for retry", stored.Status)
	}
	if stored.LastError == "" {
		t.Fatal("failure cause not recorded")
	}
}
