package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"samplib/internal/catalog"
	"samplib/internal/ledger"
	"samplib/internal/pipeline"
	"samplib/internal/records"
	"samplib/internal/testsupport"
)

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestPipelineAnalyzesSourceEndToEnd(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteWAV(t, filepath.Join(root, "kick.wav"), testsupport.Sine(60, 44100, 8820), 44100)
	testsupport.WriteWAV(t, filepath.Join(root, "hat.wav"), testsupport.Sine(6000, 44100, 4410), 44100)

	cfg := testsupport.NewConfig(t, testsupport.WithSource(root))
	db := testsupport.MustOpenDB(t, cfg)
	manager := pipeline.NewManager(cfg, db, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- manager.Run(ctx)
	}()

	recs := records.NewStore(db)
	waitFor(t, 30*time.Second, func() bool {
		embs, err := recs.ListEmbeddingsByModel(context.Background(), cfg.Analysis.ModelID)
		return err == nil && len(embs) == 2
	})
	waitFor(t, 10*time.Second, func() bool {
		progress, err := manager.Jobs().Progress(context.Background())
		return err == nil && progress.Remaining() == 0 && progress.Done == 4
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Both job kinds completed for both samples.
	embs, err := recs.ListEmbeddingsByModel(context.Background(), cfg.Analysis.ModelID)
	if err != nil {
		t.Fatalf("ListEmbeddingsByModel: %v", err)
	}
	for _, rec := range embs {
		if rec.Dim != cfg.Analysis.EmbeddingDim || len(rec.Vector) != rec.Dim {
			t.Fatalf("embedding record %s has dim %d, vector %d", rec.SampleID, rec.Dim, len(rec.Vector))
		}
		feat, err := recs.GetFeatures(context.Background(), rec.SampleID)
		if err != nil || feat == nil {
			t.Fatalf("feature record for %s: %+v %v", rec.SampleID, feat, err)
		}
	}
	if _, err := os.Stat(cfg.IndexPath()); err != nil {
		t.Fatalf("ann container not written: %v", err)
	}
}

func TestPipelineRequeuesChangedFileAndTombstonesRemoved(t *testing.T) {
	root := t.TempDir()
	kick := filepath.Join(root, "kick.wav")
	snare := filepath.Join(root, "snare.wav")
	testsupport.WriteWAV(t, kick, testsupport.Sine(60, 44100, 4410), 44100)
	testsupport.WriteWAV(t, snare, testsupport.Sine(200, 44100, 4410), 44100)

	cfg := testsupport.NewConfig(t, testsupport.WithSource(root))
	db := testsupport.MustOpenDB(t, cfg)
	manager := pipeline.NewManager(cfg, db, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- manager.Run(ctx)
	}()

	jobs := manager.Jobs()
	waitFor(t, 30*time.Second, func() bool {
		progress, err := jobs.Progress(context.Background())
		return err == nil && progress.Done == 4 && progress.Remaining() == 0
	})

	// Rewrite one file with different content and delete the other. The
	// mtime bump must land in a later second for the fingerprint to change.
	testsupport.WriteWAV(t, kick, testsupport.Sine(90, 44100, 8820), 44100)
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(kick, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := os.Remove(snare); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	manager.TriggerRescan()

	samples := manager.Samples()
	recs := records.NewStore(db)
	var snareID string
	waitFor(t, 30*time.Second, func() bool {
		rows, err := samples.ListBySource(context.Background(), firstSourceID(t, samples))
		if err != nil {
			return false
		}
		for rel, sample := range rows {
			if rel == "snare.wav" {
				snareID = sample.SampleID
				return sample.Missing
			}
		}
		return false
	})
	// Tombstoning clears the records; the done job row stays as history.
	waitFor(t, 30*time.Second, func() bool {
		rec, err := recs.GetEmbedding(context.Background(), snareID)
		return err == nil && rec == nil
	})
	job, err := jobs.Get(context.Background(), snareID, ledger.KindEmbedding)
	if err != nil {
		t.Fatalf("jobs.Get: %v", err)
	}
	if job != nil && job.Status != ledger.StatusDone {
		t.Fatalf("leftover job status = %s, want only done history", job.Status)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func firstSourceID(t *testing.T, samples *catalog.Store) string {
	t.Helper()
	sources, err := samples.ListSources(context.Background())
	if err != nil || len(sources) == 0 {
		t.Fatalf("ListSources: %v (%d sources)", err, len(sources))
	}
	return sources[0].ID
}
