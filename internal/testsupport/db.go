package testsupport

import (
	"context"
	"testing"

	"samplib/internal/catalog"
	"samplib/internal/config"
	"samplib/internal/storage"
)

// MustOpenDB opens the library database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *storage.DB {
	t.Helper()

	db, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// MustEnsureSource registers a source root for tests.
func MustEnsureSource(t testing.TB, store *catalog.Store, root string) *catalog.Source {
	t.Helper()

	source, err := store.EnsureSource(context.Background(), "", root)
	if err != nil {
		t.Fatalf("EnsureSource: %v", err)
	}
	return source
}

// MustInsertSample writes a catalog row for a relative path under the source
// and returns its sample id.
func MustInsertSample(t testing.TB, store *catalog.Store, source *catalog.Source, relPath string) string {
	t.Helper()

	sampleID := catalog.SampleID(source.ID, relPath)
	err := store.Upsert(context.Background(), &catalog.Sample{
		SampleID:     sampleID,
		SourceID:     source.ID,
		RelativePath: relPath,
		Fingerprint: catalog.Fingerprint{
			Size:        64,
			MtimeNs:     1,
			ContentHash: "test-hash",
		},
	})
	if err != nil {
		t.Fatalf("Upsert sample %s: %v", relPath, err)
	}
	return sampleID
}
