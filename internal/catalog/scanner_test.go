package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"samplib/internal/catalog"
	"samplib/internal/logging"
	"samplib/internal/testsupport"
)

func newScanner(t *testing.T) (*catalog.Store, *catalog.Scanner, *catalog.Source, string) {
	t.Helper()
	root := t.TempDir()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	store := catalog.NewStore(db)
	source := testsupport.MustEnsureSource(t, store, root)
	return store, catalog.NewScanner(store, logging.NewNop()), source, root
}

func TestScanAddsNewFiles(t *testing.T) {
	_, scanner, source, root := newScanner(t)
	testsupport.WriteWAV(t, filepath.Join(root, "kick.wav"), testsupport.Sine(60, 8000, 256), 8000)
	testsupport.WriteWAV(t, filepath.Join(root, "perc", "snare.wav"), testsupport.Sine(200, 8000, 256), 8000)

	stats, err := scanner.Scan(context.Background(), source, catalog.ScanQuick)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(stats.Added) != 2 || len(stats.Changed) != 0 || len(stats.Removed) != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestScanSkipsUnchangedFingerprints(t *testing.T) {
	_, scanner, source, root := newScanner(t)
	testsupport.WriteWAV(t, filepath.Join(root, "a.wav"), testsupport.Sine(60, 8000, 128), 8000)

	if _, err := scanner.Scan(context.Background(), source, catalog.ScanQuick); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	// Two unseen files plus one unchanged existing record.
	testsupport.WriteWAV(t, filepath.Join(root, "b.wav"), testsupport.Sine(100, 8000, 128), 8000)
	testsupport.WriteWAV(t, filepath.Join(root, "c.wav"), testsupport.Sine(150, 8000, 128), 8000)

	stats, err := scanner.Scan(context.Background(), source, catalog.ScanQuick)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(stats.Added) != 2 {
		t.Fatalf("expected exactly 2 added, got %+v", stats)
	}
	if len(stats.Changed) != 0 {
		t.Fatalf("unchanged file reported as changed: %+v", stats)
	}
}

func TestScanDetectsContentChange(t *testing.T) {
	_, scanner, source, root := newScanner(t)
	path := filepath.Join(root, "a.wav")
	testsupport.WriteWAV(t, path, testsupport.Sine(60, 8000, 128), 8000)

	if _, err := scanner.Scan(context.Background(), source, catalog.ScanQuick); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	testsupport.WriteWAV(t, path, testsupport.Sine(90, 8000, 256), 8000)
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	stats, err := scanner.Scan(context.Background(), source, catalog.ScanQuick)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(stats.Changed) != 1 {
		t.Fatalf("expected 1 changed, got %+v", stats)
	}
}

func TestQuickScanMarksMissingHardScanPrunes(t *testing.T) {
	store, scanner, source, root := newScanner(t)
	path := filepath.Join(root, "gone.wav")
	testsupport.WriteWAV(t, path, testsupport.Sine(60, 8000, 128), 8000)

	if _, err := scanner.Scan(context.Background(), source, catalog.ScanQuick); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	stats, err := scanner.Scan(context.Background(), source, catalog.ScanQuick)
	if err != nil {
		t.Fatalf("quick rescan: %v", err)
	}
	if len(stats.Removed) != 1 {
		t.Fatalf("expected 1 removed, got %+v", stats)
	}

	sampleID := stats.Removed[0]
	sample, err := store.Get(context.Background(), sampleID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sample == nil || !sample.Missing {
		t.Fatalf("expected missing sample row to survive, got %+v", sample)
	}

	if _, err := scanner.Scan(context.Background(), source, catalog.ScanHard); err != nil {
		t.Fatalf("hard rescan: %v", err)
	}
	sample, err = store.Get(context.Background(), sampleID)
	if err != nil {
		t.Fatalf("Get after prune: %v", err)
	}
	if sample != nil {
		t.Fatalf("expected pruned row, got %+v", sample)
	}
}

func TestScanToleratesUnreadableSubdirectory(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	_, scanner, source, root := newScanner(t)
	testsupport.WriteWAV(t, filepath.Join(root, "ok.wav"), testsupport.Sine(60, 8000, 128), 8000)

	locked := filepath.Join(root, "locked")
	testsupport.WriteWAV(t, filepath.Join(locked, "hidden.wav"), testsupport.Sine(60, 8000, 128), 8000)
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	stats, err := scanner.Scan(context.Background(), source, catalog.ScanQuick)
	if err != nil {
		t.Fatalf("scan should tolerate unreadable dir: %v", err)
	}
	if len(stats.Added) != 1 {
		t.Fatalf("expected readable file to be catalogued, got %+v", stats)
	}
}

func TestSampleIDRoundTrip(t *testing.T) {
	id := catalog.SampleID("src_abc", "perc/snare.wav")
	sourceID, rel, ok := catalog.SplitSampleID(id)
	if !ok || sourceID != "src_abc" || rel != "perc/snare.wav" {
		t.Fatalf("unexpected split: %q %q %v", sourceID, rel, ok)
	}
	if _, _, ok := catalog.SplitSampleID("no-separator"); ok {
		t.Fatal("expected split failure")
	}
}
