// Package similarity serves nearest-neighbor queries from the last
// persisted index snapshot. It never touches the pipeline's in-memory
// index, so queries are safe while analysis is running.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"samplib/internal/annindex"
	"samplib/internal/records"
)

// ErrNoEmbedding means the queried sample has no stored embedding yet.
var ErrNoEmbedding = errors.New("no embedding recorded for sample")

// Searcher answers nearest queries against a container snapshot, falling
// back to a linear scan of the record store when no snapshot exists.
type Searcher struct {
	recs   *records.Store
	path   string
	params annindex.Params
}

// NewSearcher builds a read-only query layer over the container at path.
func NewSearcher(recs *records.Store, path string, params annindex.Params) *Searcher {
	return &Searcher{recs: recs, path: path, params: params}
}

// NearestBySample returns the k most similar samples to a stored sample,
// excluding the sample itself.
func (s *Searcher) NearestBySample(ctx context.Context, sampleID string, k int) ([]annindex.Neighbor, error) {
	rec, err := s.recs.GetEmbedding(ctx, sampleID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoEmbedding, sampleID)
	}
	return s.nearest(ctx, rec.Vector, k, sampleID)
}

// NearestByVector returns the k most similar samples to an arbitrary query
// vector.
func (s *Searcher) NearestByVector(ctx context.Context, vector []float32, k int) ([]annindex.Neighbor, error) {
	if len(vector) != s.params.Dim {
		return nil, fmt.Errorf("query dim %d, index dim %d", len(vector), s.params.Dim)
	}
	return s.nearest(ctx, vector, k, "")
}

func (s *Searcher) nearest(ctx context.Context, vector []float32, k int, skip string) ([]annindex.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}
	idx, err := annindex.Load(s.path, s.params)
	switch {
	case err == nil:
		return idx.Search(vector, k, skip)
	case errors.Is(err, os.ErrNotExist), errors.Is(err, annindex.ErrCorrupt):
		// No usable snapshot. The record store is the source of truth, so
		// answer from it directly.
		return s.linearScan(ctx, vector, k, skip)
	default:
		return nil, err
	}
}

func (s *Searcher) linearScan(ctx context.Context, vector []float32, k int, skip string) ([]annindex.Neighbor, error) {
	recs, err := s.recs.ListEmbeddingsByModel(ctx, s.params.ModelID)
	if err != nil {
		return nil, err
	}
	neighbors := make([]annindex.Neighbor, 0, len(recs))
	for _, rec := range recs {
		if rec.SampleID == skip || len(rec.Vector) != len(vector) {
			continue
		}
		neighbors = append(neighbors, annindex.Neighbor{
			SampleID: rec.SampleID,
			Distance: annindex.CosineDistance(vector, rec.Vector),
		})
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Distance < neighbors[j].Distance })
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}
