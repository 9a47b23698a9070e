// Package pipeline wires the background machinery: the scan loop feeding
// the job ledger, the analysis worker pool, and the batch finalizer that
// owns the ANN index.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"samplib/internal/analysis"
	"samplib/internal/annindex"
	"samplib/internal/catalog"
	"samplib/internal/config"
	"samplib/internal/finalize"
	"samplib/internal/ledger"
	"samplib/internal/logging"
	"samplib/internal/policy"
	"samplib/internal/records"
	"samplib/internal/storage"
)

// Manager owns the long-running pipeline goroutines.
type Manager struct {
	cfg     *config.Config
	logger  *slog.Logger
	samples *catalog.Store
	scanner *catalog.Scanner
	jobs    *ledger.Store
	recs    *records.Store
	loader  *annindex.Loader

	rescan chan struct{}
}

// NewManager builds the pipeline over an open library database.
func NewManager(cfg *config.Config, db *storage.DB, logger *slog.Logger) *Manager {
	samples := catalog.NewStore(db)
	recs := records.NewStore(db)
	params := annindex.DefaultParams(cfg.Analysis.ModelID, cfg.Analysis.EmbeddingDim)
	return &Manager{
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "pipeline"),
		samples: samples,
		scanner: catalog.NewScanner(samples, logger),
		jobs: ledger.NewStore(db,
			time.Duration(cfg.Analysis.ClaimTimeoutSeconds)*time.Second,
			cfg.Analysis.MaxAttempts),
		recs:   recs,
		loader: annindex.NewLoader(recs, annindex.NewMetaStore(db), cfg.IndexPath(), cfg.LegacyIndexBase(), params, logger),
		rescan: make(chan struct{}, 1),
	}
}

// Run starts the scan loop, worker pool, and finalizer, and blocks until
// the context ends or a component fails fatally.
func (m *Manager) Run(ctx context.Context) error {
	reclaimed, err := m.jobs.ResetExpiredClaims(ctx)
	if err != nil {
		return fmt.Errorf("startup claim reset: %w", err)
	}
	if reclaimed > 0 {
		m.logger.Info("reclaimed stale jobs from previous run", logging.Int64("count", reclaimed))
	}

	index, err := m.loader.Open(ctx)
	if err != nil {
		return fmt.Errorf("open ann index: %w", err)
	}

	embedder, err := analysis.NewEmbedder(m.cfg)
	if err != nil {
		return err
	}
	extractor := analysis.NewTimeDomainExtractor(m.cfg.Analysis.FeatureVersion)
	decoder := analysis.NewWAVDecoder()

	results := make(chan analysis.Batch, m.cfg.Analysis.Workers)
	finalizer := finalize.New(m.cfg, m.jobs, m.samples, m.recs, index, m.loader, m.logger)
	pool := analysis.NewPool(m.cfg, m.jobs, m.samples, decoder, extractor, embedder, results, m.logger)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(results)
		return pool.Run(ctx)
	})
	group.Go(func() error {
		err := finalizer.Run(ctx, results)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		return m.scanLoop(ctx, finalizer)
	})
	if m.cfg.Workflow.Watch {
		group.Go(func() error {
			return m.watchLoop(ctx)
		})
	}

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// TriggerRescan requests an immediate scan pass. Coalesces with any pending
// request.
func (m *Manager) TriggerRescan() {
	select {
	case m.rescan <- struct{}{}:
	default:
	}
}

func (m *Manager) scanLoop(ctx context.Context, finalizer *finalize.Finalizer) error {
	interval := time.Duration(m.cfg.Workflow.ScanIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := m.ScanAll(ctx, catalog.ScanQuick, finalizer); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Error("initial scan failed", logging.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-m.rescan:
		}
		if err := m.ScanAll(ctx, catalog.ScanQuick, finalizer); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Error("scan failed", logging.Error(err))
		}
	}
}

// ScanAll scans every configured source and reconciles the ledger with the
// catalog. A nil finalizer skips tombstoning (used by the one-shot CLI,
// which has no index open).
func (m *Manager) ScanAll(ctx context.Context, mode catalog.ScanMode, finalizer *finalize.Finalizer) error {
	for _, src := range m.cfg.Sources {
		source, err := m.samples.EnsureSource(ctx, src.ID, src.Root)
		if err != nil {
			return err
		}
		stats, err := m.scanner.Scan(ctx, source, mode)
		if err != nil {
			if errors.Is(err, catalog.ErrInvalidRoot) {
				m.logger.Warn("skipping unreadable source",
					logging.String(logging.FieldSourceID, source.ID),
					logging.Error(err))
				continue
			}
			return err
		}
		m.logger.Info("scan complete",
			logging.String(logging.FieldSourceID, source.ID),
			logging.Int("total", stats.TotalFiles),
			logging.Int("added", len(stats.Added)),
			logging.Int("changed", len(stats.Changed)),
			logging.Int("removed", len(stats.Removed)),
			logging.Int("skipped", stats.Skipped))

		if err := m.reconcile(ctx, source, finalizer); err != nil {
			return err
		}
	}
	return nil
}

// reconcile walks the catalog for one source and lets the invalidation
// policy decide, per sample and kind, between keeping the stored record,
// enqueueing work, and tombstoning.
func (m *Manager) reconcile(ctx context.Context, source *catalog.Source, finalizer *finalize.Finalizer) error {
	rows, err := m.samples.ListBySource(ctx, source.ID)
	if err != nil {
		return err
	}
	enqueued := 0
	for _, sample := range rows {
		if sample.Missing {
			if finalizer != nil {
				if err := finalizer.Tombstone(ctx, sample.SampleID); err != nil {
					return err
				}
			}
			continue
		}
		n, err := m.enqueueNeeded(ctx, sample)
		if err != nil {
			return err
		}
		enqueued += n
	}
	if enqueued > 0 {
		m.logger.Info("enqueued analysis jobs",
			logging.String(logging.FieldSourceID, source.ID),
			logging.Int("count", enqueued))
	}
	return nil
}

func (m *Manager) enqueueNeeded(ctx context.Context, sample *catalog.Sample) (int, error) {
	enqueued := 0

	featRec, err := m.recs.GetFeatures(ctx, sample.SampleID)
	if err != nil {
		return 0, err
	}
	featRequired := policy.Requirement{
		Version:     policy.FeatureVersion(m.cfg.Analysis.FeatureVersion),
		ContentHash: sample.Fingerprint.ContentHash,
	}
	if policy.NeedsRequeue(policy.FeatureState(featRec), featRequired) {
		added, err := m.jobs.Enqueue(ctx, sample.SampleID, ledger.KindFeatures, featRequired.Version)
		if err != nil {
			return 0, err
		}
		if added {
			enqueued++
		}
	}

	embRec, err := m.recs.GetEmbedding(ctx, sample.SampleID)
	if err != nil {
		return 0, err
	}
	embRequired := policy.Requirement{
		Version:     m.cfg.Analysis.ModelID,
		ContentHash: sample.Fingerprint.ContentHash,
	}
	if policy.NeedsRequeue(policy.EmbeddingState(embRec), embRequired) {
		added, err := m.jobs.Enqueue(ctx, sample.SampleID, ledger.KindEmbedding, embRequired.Version)
		if err != nil {
			return 0, err
		}
		if added {
			enqueued++
		}
	}
	return enqueued, nil
}

// Jobs exposes the ledger for status reporting.
func (m *Manager) Jobs() *ledger.Store {
	return m.jobs
}

// Samples exposes the catalog store.
func (m *Manager) Samples() *catalog.Store {
	return m.samples
}

// IndexLoader exposes the ANN loader for rebuild and verify commands.
func (m *Manager) IndexLoader() *annindex.Loader {
	return m.loader
}
