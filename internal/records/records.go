// Package records persists versioned feature and embedding vectors per
// sample. Vector blobs are little-endian float32 arrays so files written by
// other tooling against the same database stay bit-compatible.
package records

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"samplib/internal/storage"
)

// DtypeF32 is the only vector dtype this store writes.
const DtypeF32 = "f32"

// FeatureRecord is a fixed-length engineered feature vector for one sample.
type FeatureRecord struct {
	SampleID    string
	FeatVersion int
	SourceHash  string
	Vector      []float32
	ComputedAt  time.Time
}

// EmbeddingRecord is a model embedding vector for one sample.
type EmbeddingRecord struct {
	SampleID   string
	ModelID    string
	Dim        int
	Dtype      string
	L2Normed   bool
	SourceHash string
	Vector     []float32
	ComputedAt time.Time
}

// Store reads and writes analysis records in the shared library database.
type Store struct {
	db *storage.DB
}

// NewStore wraps the shared database handle.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// UpsertFeatures writes a feature record, replacing any previous version.
func (s *Store) UpsertFeatures(ctx context.Context, rec *FeatureRecord) error {
	if rec == nil {
		return errors.New("feature record is nil")
	}
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO features (sample_id, feat_version, source_hash, vector, computed_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(sample_id) DO UPDATE SET
           feat_version = excluded.feat_version,
           source_hash = excluded.source_hash,
           vector = excluded.vector,
           computed_at = excluded.computed_at`,
		rec.SampleID, rec.FeatVersion, rec.SourceHash,
		EncodeVector(rec.Vector), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert features: %w", err)
	}
	return nil
}

// UpsertEmbedding writes an embedding record, replacing any previous version.
func (s *Store) UpsertEmbedding(ctx context.Context, rec *EmbeddingRecord) error {
	if rec == nil {
		return errors.New("embedding record is nil")
	}
	if rec.Dim != len(rec.Vector) {
		return fmt.Errorf("embedding dim %d does not match vector length %d", rec.Dim, len(rec.Vector))
	}
	dtype := rec.Dtype
	if dtype == "" {
		dtype = DtypeF32
	}
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO embeddings (sample_id, model_id, dim, dtype, l2_normed, source_hash, vector, computed_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(sample_id) DO UPDATE SET
           model_id = excluded.model_id,
           dim = excluded.dim,
           dtype = excluded.dtype,
           l2_normed = excluded.l2_normed,
           source_hash = excluded.source_hash,
           vector = excluded.vector,
           computed_at = excluded.computed_at`,
		rec.SampleID, rec.ModelID, rec.Dim, dtype, boolToInt(rec.L2Normed),
		rec.SourceHash, EncodeVector(rec.Vector), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// GetFeatures fetches one feature record, or nil when absent.
func (s *Store) GetFeatures(ctx context.Context, sampleID string) (*FeatureRecord, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT sample_id, feat_version, source_hash, vector, computed_at FROM features WHERE sample_id = ?`, sampleID)
	var (
		rec         FeatureRecord
		blob        []byte
		computedRaw string
	)
	if err := row.Scan(&rec.SampleID, &rec.FeatVersion, &rec.SourceHash, &blob, &computedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get features: %w", err)
	}
	rec.Vector = DecodeVector(blob)
	rec.ComputedAt = parseTime(computedRaw)
	return &rec, nil
}

// GetEmbedding fetches one embedding record, or nil when absent.
func (s *Store) GetEmbedding(ctx context.Context, sampleID string) (*EmbeddingRecord, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT sample_id, model_id, dim, dtype, l2_normed, source_hash, vector, computed_at
         FROM embeddings WHERE sample_id = ?`, sampleID)
	rec, err := scanEmbedding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	return rec, nil
}

// ListEmbeddingsByModel streams all embedding records for a model. Used by
// index rebuilds where the record store is the source of truth.
func (s *Store) ListEmbeddingsByModel(ctx context.Context, modelID string) ([]*EmbeddingRecord, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT sample_id, model_id, dim, dtype, l2_normed, source_hash, vector, computed_at
         FROM embeddings WHERE model_id = ? ORDER BY sample_id`, modelID)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var recs []*EmbeddingRecord
	for rows.Next() {
		rec, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Delete tombstones both record kinds for a sample.
func (s *Store) Delete(ctx context.Context, sampleID string) error {
	if _, err := s.db.Conn().ExecContext(ctx, `DELETE FROM features WHERE sample_id = ?`, sampleID); err != nil {
		return fmt.Errorf("delete features: %w", err)
	}
	if _, err := s.db.Conn().ExecContext(ctx, `DELETE FROM embeddings WHERE sample_id = ?`, sampleID); err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	return nil
}

func scanEmbedding(scanner interface{ Scan(dest ...any) error }) (*EmbeddingRecord, error) {
	var (
		rec         EmbeddingRecord
		normed      int64
		blob        []byte
		computedRaw string
	)
	if err := scanner.Scan(
		&rec.SampleID,
		&rec.ModelID,
		&rec.Dim,
		&rec.Dtype,
		&normed,
		&rec.SourceHash,
		&blob,
		&computedRaw,
	); err != nil {
		return nil, err
	}
	rec.L2Normed = normed != 0
	rec.Vector = DecodeVector(blob)
	rec.ComputedAt = parseTime(computedRaw)
	return &rec, nil
}

// EncodeVector converts a float32 slice to a little-endian byte blob.
func EncodeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, value := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(value))
	}
	return blob
}

// DecodeVector converts a little-endian byte blob back to a float32 slice.
func DecodeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
