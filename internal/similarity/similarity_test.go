package similarity_test

import (
	"context"
	"errors"
	"testing"

	"samplib/internal/annindex"
	"samplib/internal/catalog"
	"samplib/internal/records"
	"samplib/internal/similarity"
	"samplib/internal/testsupport"
)

func axisVector(dim, hot int, lean float32) []float32 {
	v := make([]float32, dim)
	v[hot%dim] = 1
	v[(hot+1)%dim] = lean
	return v
}

func TestNearestBySampleFromSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	samples := catalog.NewStore(db)
	source := testsupport.MustEnsureSource(t, samples, t.TempDir())
	recs := records.NewStore(db)
	ctx := context.Background()

	params := annindex.DefaultParams(cfg.Analysis.ModelID, cfg.Analysis.EmbeddingDim)
	idx := annindex.New(params)
	vectors := map[string][]float32{
		"kick.wav":  axisVector(params.Dim, 0, 0.1),
		"kick2.wav": axisVector(params.Dim, 0, 0.2),
		"hat.wav":   axisVector(params.Dim, 3, 0.1),
	}
	ids := map[string]string{}
	for name, v := range vectors {
		id := testsupport.MustInsertSample(t, samples, source, name)
		ids[name] = id
		if err := recs.UpsertEmbedding(ctx, &records.EmbeddingRecord{
			SampleID: id, ModelID: params.ModelID, Dim: params.Dim,
			SourceHash: "h", Vector: v,
		}); err != nil {
			t.Fatalf("UpsertEmbedding: %v", err)
		}
		if err := idx.Upsert(id, v); err != nil {
			t.Fatalf("idx.Upsert: %v", err)
		}
	}
	if err := idx.Save(cfg.IndexPath()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	searcher := similarity.NewSearcher(recs, cfg.IndexPath(), params)
	got, err := searcher.NearestBySample(ctx, ids["kick.wav"], 1)
	if err != nil {
		t.Fatalf("NearestBySample: %v", err)
	}
	if len(got) != 1 || got[0].SampleID != ids["kick2.wav"] {
		t.Fatalf("nearest to kick = %v, want kick2", got)
	}
}

func TestNearestFallsBackToLinearScanWithoutSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	samples := catalog.NewStore(db)
	source := testsupport.MustEnsureSource(t, samples, t.TempDir())
	recs := records.NewStore(db)
	ctx := context.Background()

	params := annindex.DefaultParams(cfg.Analysis.ModelID, cfg.Analysis.EmbeddingDim)
	var wantID string
	for i, name := range []string{"a.wav", "b.wav", "c.wav"} {
		id := testsupport.MustInsertSample(t, samples, source, name)
		if name == "b.wav" {
			wantID = id
		}
		if err := recs.UpsertEmbedding(ctx, &records.EmbeddingRecord{
			SampleID: id, ModelID: params.ModelID, Dim: params.Dim,
			SourceHash: "h", Vector: axisVector(params.Dim, i, 0),
		}); err != nil {
			t.Fatalf("UpsertEmbedding: %v", err)
		}
	}

	// No container file exists; the searcher must answer from the record
	// store directly.
	searcher := similarity.NewSearcher(recs, cfg.IndexPath(), params)
	got, err := searcher.NearestByVector(ctx, axisVector(params.Dim, 1, 0), 1)
	if err != nil {
		t.Fatalf("NearestByVector: %v", err)
	}
	if len(got) != 1 || got[0].SampleID != wantID {
		t.Fatalf("nearest = %v, want %s", got, wantID)
	}
}

func TestNearestUnknownSample(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	recs := records.NewStore(db)
	params := annindex.DefaultParams(cfg.Analysis.ModelID, cfg.Analysis.EmbeddingDim)

	searcher := similarity.NewSearcher(recs, cfg.IndexPath(), params)
	_, err := searcher.NearestBySample(context.Background(), "src::ghost.wav", 3)
	if !errors.Is(err, similarity.ErrNoEmbedding) {
		t.Fatalf("err = %v, want ErrNoEmbedding", err)
	}
}
