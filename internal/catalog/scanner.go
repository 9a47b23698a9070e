package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"samplib/internal/fileutil"
	"samplib/internal/logging"
)

// ErrInvalidRoot indicates a source root is not a readable directory.
var ErrInvalidRoot = errors.New("source root is not a directory")

// Scanner walks source roots and diffs the listing against the catalog.
type Scanner struct {
	store  *Store
	logger *slog.Logger
}

// NewScanner constructs a change detector over the given store.
func NewScanner(store *Store, logger *slog.Logger) *Scanner {
	return &Scanner{store: store, logger: logging.WithComponent(logger, "scanner")}
}

// Scan walks one source and reconciles the catalog: new files are inserted,
// changed fingerprints updated, and files absent from disk are marked
// missing (quick) or pruned (hard). A single unreadable entry is logged and
// skipped, never aborting the scan.
func (s *Scanner) Scan(ctx context.Context, source *Source, mode ScanMode) (*ScanStats, error) {
	if source == nil {
		return nil, errors.New("source is nil")
	}
	info, err := os.Stat(source.Root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRoot, source.Root)
	}

	existing, err := s.store.ListBySource(ctx, source.ID)
	if err != nil {
		return nil, err
	}

	stats := &ScanStats{}
	err = s.walk(ctx, source.Root, func(path string) error {
		return s.syncFile(ctx, source, path, existing, stats)
	})
	if err != nil {
		return nil, err
	}

	// Rows left in existing were not seen on disk this pass.
	for _, leftover := range existing {
		switch mode {
		case ScanQuick:
			if leftover.Missing {
				continue
			}
			if err := s.store.SetMissing(ctx, leftover.SampleID, true); err != nil {
				return nil, err
			}
			stats.Removed = append(stats.Removed, leftover.SampleID)
		case ScanHard:
			if err := s.store.Remove(ctx, leftover.SampleID); err != nil {
				return nil, err
			}
			stats.Removed = append(stats.Removed, leftover.SampleID)
		}
	}
	return stats, nil
}

func (s *Scanner) walk(ctx context.Context, root string, visit func(path string) error) error {
	stack := []string{root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			if dir == root {
				return fmt.Errorf("read source root: %w", err)
			}
			s.logger.Warn("failed to read directory during scan",
				logging.String("dir", dir), logging.Error(err))
			continue
		}
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if entry.Type()&os.ModeSymlink != 0 {
				continue
			}
			if entry.IsDir() {
				stack = append(stack, path)
				continue
			}
			if !entry.Type().IsRegular() || !isAudioFile(path) {
				continue
			}
			if err := visit(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scanner) syncFile(ctx context.Context, source *Source, path string, existing map[string]*Sample, stats *ScanStats) error {
	stats.TotalFiles++

	relative, err := filepath.Rel(source.Root, path)
	if err != nil {
		return fmt.Errorf("relative path for %s: %w", path, err)
	}
	relative = filepath.ToSlash(relative)

	info, err := os.Stat(path)
	if err != nil {
		s.logger.Warn("failed to stat file during scan",
			logging.String("path", path), logging.Error(err))
		stats.Skipped++
		return nil
	}

	prior := existing[relative]
	delete(existing, relative)

	size := info.Size()
	mtimeNs := info.ModTime().UnixNano()

	// Unchanged size+mtime on a known, present row: skip without hashing.
	if prior != nil && !prior.Missing && prior.Fingerprint.Size == size && prior.Fingerprint.MtimeNs == mtimeNs {
		return nil
	}

	hash, err := fileutil.HashFile(path)
	if err != nil {
		s.logger.Warn("failed to hash file during scan",
			logging.String("path", path), logging.Error(err))
		stats.Skipped++
		if prior != nil {
			// Keep the stale row rather than marking it missing.
			existing[relative] = prior
		}
		return nil
	}

	sample := &Sample{
		SampleID:     SampleID(source.ID, relative),
		SourceID:     source.ID,
		RelativePath: relative,
		Fingerprint:  Fingerprint{Size: size, MtimeNs: mtimeNs, ContentHash: hash},
	}

	switch {
	case prior == nil:
		if err := s.store.Upsert(ctx, sample); err != nil {
			return err
		}
		stats.Added = append(stats.Added, sample.SampleID)
	case prior.Missing || !prior.Fingerprint.Equal(sample.Fingerprint):
		if err := s.store.Upsert(ctx, sample); err != nil {
			return err
		}
		stats.Changed = append(stats.Changed, sample.SampleID)
	}
	return nil
}

var audioExtensions = map[string]struct{}{
	".wav":  {},
	".aif":  {},
	".aiff": {},
	".flac": {},
}

func isAudioFile(path string) bool {
	_, ok := audioExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}
