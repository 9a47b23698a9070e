package annindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"samplib/internal/storage"
)

// Meta is the persisted bookkeeping row for one model's index snapshot.
type Meta struct {
	ModelID            string
	IndexPath          string
	Count              int
	Params             Params
	MigratedFromLegacy bool
	UpdatedAt          time.Time
}

// MetaStore reads and writes ann_index_meta rows.
type MetaStore struct {
	db *storage.DB
}

// NewMetaStore wraps the shared database handle.
func NewMetaStore(db *storage.DB) *MetaStore {
	return &MetaStore{db: db}
}

// Get returns the meta row for a model, or nil when absent.
func (s *MetaStore) Get(ctx context.Context, modelID string) (*Meta, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT model_id, index_path, count, params_json, migrated_from_legacy, updated_at
         FROM ann_index_meta WHERE model_id = ?`, modelID)
	var (
		meta       Meta
		paramsJSON string
		migrated   int64
		updatedAt  int64
	)
	if err := row.Scan(&meta.ModelID, &meta.IndexPath, &meta.Count, &paramsJSON, &migrated, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ann_index_meta: %w", err)
	}
	if err := json.Unmarshal([]byte(paramsJSON), &meta.Params); err != nil {
		return nil, fmt.Errorf("decode ann params: %w", err)
	}
	meta.MigratedFromLegacy = migrated != 0
	meta.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &meta, nil
}

// Upsert records the current snapshot state for a model's index.
func (s *MetaStore) Upsert(ctx context.Context, meta *Meta) error {
	paramsJSON, err := json.Marshal(meta.Params)
	if err != nil {
		return fmt.Errorf("encode ann params: %w", err)
	}
	_, err = s.db.Conn().ExecContext(ctx,
		`INSERT INTO ann_index_meta (model_id, index_path, count, params_json, migrated_from_legacy, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(model_id) DO UPDATE SET
           index_path = excluded.index_path,
           count = excluded.count,
           params_json = excluded.params_json,
           migrated_from_legacy = excluded.migrated_from_legacy,
           updated_at = excluded.updated_at`,
		meta.ModelID, meta.IndexPath, meta.Count, string(paramsJSON),
		boolToInt(meta.MigratedFromLegacy), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("update ann_index_meta: %w", err)
	}
	return nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
