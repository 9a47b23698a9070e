package annindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"samplib/internal/logging"
	"samplib/internal/records"
)

// Loader resolves the current index on startup: load the container, fall
// back to the legacy layout, and rebuild from the record store when
// neither is usable.
type Loader struct {
	records    *records.Store
	meta       *MetaStore
	path       string
	legacyBase string
	params     Params
	logger     *slog.Logger
}

// NewLoader wires an index loader. path is the container file, legacyBase
// the basename prefix of the old three-file layout.
func NewLoader(recs *records.Store, meta *MetaStore, path, legacyBase string, params Params, logger *slog.Logger) *Loader {
	return &Loader{
		records:    recs,
		meta:       meta,
		path:       path,
		legacyBase: legacyBase,
		params:     params,
		logger:     logging.WithComponent(logger, "annindex"),
	}
}

// Open loads, migrates, or rebuilds the index and records the outcome in
// ann_index_meta. The returned index is dirty only when it needs an initial
// persist (migration or rebuild).
func (l *Loader) Open(ctx context.Context) (*Index, error) {
	idx, err := Load(l.path, l.params)
	switch {
	case err == nil:
		if meta, metaErr := l.meta.Get(ctx, l.params.ModelID); metaErr == nil && meta != nil && meta.Params == l.params {
			l.logger.Info("loaded ann container",
				logging.String("path", l.path),
				logging.Int("count", idx.Len()))
			return idx, nil
		}
		// Params drifted since the snapshot was written. The container
		// still decodes, so keep it and refresh meta.
		if err := l.writeMeta(ctx, idx, false); err != nil {
			return nil, err
		}
		return idx, nil
	case errors.Is(err, os.ErrNotExist):
		// No container yet. Fall through to legacy, then rebuild.
	case errors.Is(err, ErrCorrupt):
		l.logger.Warn("ann container unusable, attempting recovery",
			logging.String("path", l.path),
			logging.Error(err))
	default:
		return nil, fmt.Errorf("open ann container: %w", err)
	}

	if HasLegacy(l.legacyBase) {
		idx, err := l.migrateLegacy(ctx)
		if err == nil {
			return idx, nil
		}
		l.logger.Warn("legacy ann migration failed, rebuilding",
			logging.String("base", l.legacyBase),
			logging.Error(err))
	}
	return l.Rebuild(ctx)
}

// Rebuild constructs a fresh index from every stored embedding for the
// model and persists it.
func (l *Loader) Rebuild(ctx context.Context) (*Index, error) {
	recs, err := l.records.ListEmbeddingsByModel(ctx, l.params.ModelID)
	if err != nil {
		return nil, fmt.Errorf("rebuild ann index: %w", err)
	}
	idx := New(l.params)
	skipped := 0
	for _, rec := range recs {
		if len(rec.Vector) != l.params.Dim {
			skipped++
			continue
		}
		if err := idx.Upsert(rec.SampleID, rec.Vector); err != nil {
			return nil, err
		}
	}
	if err := l.persist(ctx, idx, false); err != nil {
		return nil, err
	}
	l.logger.Info("rebuilt ann index",
		logging.Int("count", idx.Len()),
		logging.Int("skipped", skipped))
	return idx, nil
}

// migrateLegacy loads the three-file layout and writes it back as a
// container. The legacy files are left in place for rollback.
func (l *Loader) migrateLegacy(ctx context.Context) (*Index, error) {
	idx, err := LoadLegacy(l.legacyBase, l.params)
	if err != nil {
		return nil, err
	}
	if err := l.persist(ctx, idx, true); err != nil {
		return nil, err
	}
	l.logger.Info("migrated legacy ann index",
		logging.String("base", l.legacyBase),
		logging.Int("count", idx.Len()))
	return idx, nil
}

// Persist writes the container snapshot and updates meta. Used by the
// finalizer at batch boundaries for dirty indexes.
func (l *Loader) Persist(ctx context.Context, idx *Index) error {
	migrated := false
	if meta, err := l.meta.Get(ctx, l.params.ModelID); err == nil && meta != nil {
		migrated = meta.MigratedFromLegacy
	}
	return l.persist(ctx, idx, migrated)
}

// Path returns the container file location.
func (l *Loader) Path() string {
	return l.path
}

func (l *Loader) persist(ctx context.Context, idx *Index, migrated bool) error {
	if err := idx.Save(l.path); err != nil {
		return err
	}
	return l.writeMeta(ctx, idx, migrated)
}

func (l *Loader) writeMeta(ctx context.Context, idx *Index, migrated bool) error {
	return l.meta.Upsert(ctx, &Meta{
		ModelID:            l.params.ModelID,
		IndexPath:          l.path,
		Count:              idx.Len(),
		Params:             l.params,
		MigratedFromLegacy: migrated,
	})
}
