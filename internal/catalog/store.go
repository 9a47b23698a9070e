package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"samplib/internal/storage"
)

// Store persists sources and samples in the shared library database.
type Store struct {
	db *storage.DB
}

// NewStore wraps the shared database handle.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// EnsureSource registers a source root, deriving an id when none is given.
func (s *Store) EnsureSource(ctx context.Context, id, root string) (*Source, error) {
	if id == "" {
		id = DeriveSourceID(root)
	}
	now := time.Now().UTC()
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO sources (id, root, created_at) VALUES (?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET root = excluded.root`,
		id, root, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("ensure source: %w", err)
	}
	return s.GetSource(ctx, id)
}

// GetSource fetches a source by id.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	row := s.db.Conn().QueryRowContext(ctx, `SELECT id, root, created_at FROM sources WHERE id = ?`, id)
	var src Source
	var createdRaw string
	if err := row.Scan(&src.ID, &src.Root, &createdRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get source: %w", err)
	}
	src.CreatedAt = parseTime(createdRaw)
	return &src, nil
}

// ListSources returns all registered sources.
func (s *Store) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT id, root, created_at FROM sources ORDER BY root`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		var src Source
		var createdRaw string
		if err := rows.Scan(&src.ID, &src.Root, &createdRaw); err != nil {
			return nil, err
		}
		src.CreatedAt = parseTime(createdRaw)
		sources = append(sources, &src)
	}
	return sources, rows.Err()
}

const sampleColumns = "sample_id, source_id, relative_path, size, mtime_ns, content_hash, missing, first_seen_at, last_seen_at"

// Get fetches one sample by id.
func (s *Store) Get(ctx context.Context, sampleID string) (*Sample, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+sampleColumns+` FROM samples WHERE sample_id = ?`, sampleID)
	sample, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sample: %w", err)
	}
	return sample, nil
}

// ListBySource returns all samples for a source keyed by relative path.
func (s *Store) ListBySource(ctx context.Context, sourceID string) (map[string]*Sample, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT `+sampleColumns+` FROM samples WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	samples := make(map[string]*Sample)
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples[sample.RelativePath] = sample
	}
	return samples, rows.Err()
}

// Upsert inserts or updates a sample row and clears its missing flag.
func (s *Store) Upsert(ctx context.Context, sample *Sample) error {
	if sample == nil {
		return errors.New("sample is nil")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO samples (sample_id, source_id, relative_path, size, mtime_ns, content_hash, missing, first_seen_at, last_seen_at)
         VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
         ON CONFLICT(sample_id) DO UPDATE SET
           size = excluded.size,
           mtime_ns = excluded.mtime_ns,
           content_hash = excluded.content_hash,
           missing = 0,
           last_seen_at = excluded.last_seen_at`,
		sample.SampleID,
		sample.SourceID,
		sample.RelativePath,
		sample.Fingerprint.Size,
		sample.Fingerprint.MtimeNs,
		sample.Fingerprint.ContentHash,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert sample: %w", err)
	}
	return nil
}

// SetMissing toggles the missing flag without deleting history.
func (s *Store) SetMissing(ctx context.Context, sampleID string, missing bool) error {
	flag := 0
	if missing {
		flag = 1
	}
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE samples SET missing = ?, last_seen_at = ? WHERE sample_id = ?`,
		flag, time.Now().UTC().Format(time.RFC3339Nano), sampleID)
	if err != nil {
		return fmt.Errorf("set missing: %w", err)
	}
	return nil
}

// Remove prunes a sample row entirely. Used only by hard rescans and
// explicit prunes; quick scans mark missing instead.
func (s *Store) Remove(ctx context.Context, sampleID string) error {
	_, err := s.db.Conn().ExecContext(ctx, `DELETE FROM samples WHERE sample_id = ?`, sampleID)
	if err != nil {
		return fmt.Errorf("remove sample: %w", err)
	}
	return nil
}

// CountBySource returns active and missing counts for a source.
func (s *Store) CountBySource(ctx context.Context, sourceID string) (active, missing int, err error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(1) FILTER (WHERE missing = 0), COUNT(1) FILTER (WHERE missing = 1)
         FROM samples WHERE source_id = ?`, sourceID)
	if err := row.Scan(&active, &missing); err != nil {
		return 0, 0, fmt.Errorf("count samples: %w", err)
	}
	return active, missing, nil
}

func scanSample(scanner interface{ Scan(dest ...any) error }) (*Sample, error) {
	var (
		sample   Sample
		missing  int64
		firstRaw string
		lastRaw  string
	)
	if err := scanner.Scan(
		&sample.SampleID,
		&sample.SourceID,
		&sample.RelativePath,
		&sample.Fingerprint.Size,
		&sample.Fingerprint.MtimeNs,
		&sample.Fingerprint.ContentHash,
		&missing,
		&firstRaw,
		&lastRaw,
	); err != nil {
		return nil, err
	}
	sample.Missing = missing != 0
	sample.FirstSeenAt = parseTime(firstRaw)
	sample.LastSeenAt = parseTime(lastRaw)
	return &sample, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
