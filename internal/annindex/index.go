package annindex

import (
	"fmt"
	"sort"
)

// Params identifies an index build. A params change invalidates any
// persisted snapshot, forcing a rebuild from the record store.
type Params struct {
	ModelID        string `json:"model_id"`
	Metric         string `json:"metric"`
	Dim            int    `json:"dim"`
	MaxConnections int    `json:"max_nb_connection"`
	EfConstruction int    `json:"ef_construction"`
	EfSearch       int    `json:"ef_search"`
}

// DefaultParams returns the build parameters for a model and dimension.
func DefaultParams(modelID string, dim int) Params {
	return Params{
		ModelID:        modelID,
		Metric:         "cosine",
		Dim:            dim,
		MaxConnections: 16,
		EfConstruction: 200,
		EfSearch:       64,
	}
}

// Neighbor is one similarity search result. Lower distance is more similar.
type Neighbor struct {
	SampleID string
	Distance float32
}

// Index is the in-memory ANN index. It is not safe for concurrent use; the
// finalizer is the single writer and readers work from persisted snapshots.
type Index struct {
	params   Params
	graph    *graph
	idMap    []string
	idLookup map[string]int
	free     []int
	dirty    bool
}

// New creates an empty index.
func New(params Params) *Index {
	return &Index{
		params:   params,
		graph:    newGraph(params.Dim, params.MaxConnections),
		idLookup: make(map[string]int),
	}
}

// Params returns the build parameters the index was created with.
func (idx *Index) Params() Params {
	return idx.params
}

// Len reports the number of live samples in the index.
func (idx *Index) Len() int {
	return len(idx.idLookup)
}

// Dirty reports whether the in-memory state has diverged from the last
// persisted snapshot.
func (idx *Index) Dirty() bool {
	return idx.dirty
}

// Upsert inserts a sample's vector or replaces it in place. Replacement
// reuses the sample's slot so the id map stays a bijection.
func (idx *Index) Upsert(sampleID string, vector []float32) error {
	if len(vector) != idx.params.Dim {
		return fmt.Errorf("vector dim %d, index dim %d", len(vector), idx.params.Dim)
	}
	if id, ok := idx.idLookup[sampleID]; ok {
		idx.graph.remove(id)
		idx.graph.insertAt(id, vector, idx.params.EfConstruction)
		idx.dirty = true
		return nil
	}

	var id int
	if n := len(idx.free); n > 0 {
		id = idx.free[n-1]
		idx.free = idx.free[:n-1]
		idx.idMap[id] = sampleID
	} else {
		id = len(idx.idMap)
		idx.idMap = append(idx.idMap, sampleID)
	}
	idx.idLookup[sampleID] = id
	idx.graph.insertAt(id, vector, idx.params.EfConstruction)
	idx.dirty = true
	return nil
}

// Delete removes a sample from the index. Unknown ids are a no-op.
func (idx *Index) Delete(sampleID string) {
	id, ok := idx.idLookup[sampleID]
	if !ok {
		return
	}
	idx.graph.remove(id)
	idx.idMap[id] = ""
	delete(idx.idLookup, sampleID)
	idx.free = append(idx.free, id)
	idx.dirty = true
}

// Contains reports whether a sample is currently indexed.
func (idx *Index) Contains(sampleID string) bool {
	_, ok := idx.idLookup[sampleID]
	return ok
}

// Search returns up to k nearest neighbors for a query vector, excluding
// skipSampleID when non-empty.
func (idx *Index) Search(vector []float32, k int, skipSampleID string) ([]Neighbor, error) {
	if len(vector) != idx.params.Dim {
		return nil, fmt.Errorf("vector dim %d, index dim %d", len(vector), idx.params.Dim)
	}
	if k <= 0 || idx.Len() == 0 {
		return nil, nil
	}
	skip := -1
	if skipSampleID != "" {
		if id, ok := idx.idLookup[skipSampleID]; ok {
			skip = id
		}
	}
	ef := idx.params.EfSearch
	if ef < k+1 {
		ef = k + 1
	}
	candidates := idx.graph.searchInternal(vector, k, ef, skip)
	neighbors := make([]Neighbor, 0, len(candidates))
	for _, c := range candidates {
		sampleID := idx.idMap[c.id]
		if sampleID == "" {
			continue
		}
		neighbors = append(neighbors, Neighbor{SampleID: sampleID, Distance: c.distance})
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Distance < neighbors[j].Distance })
	return neighbors, nil
}

// SampleIDs returns all live sample ids in internal-id order.
func (idx *Index) SampleIDs() []string {
	ids := make([]string, 0, len(idx.idLookup))
	for _, sampleID := range idx.idMap {
		if sampleID != "" {
			ids = append(ids, sampleID)
		}
	}
	return ids
}

// Save persists the index as a single-file container and clears the dirty
// flag on success.
func (idx *Index) Save(path string) error {
	container := &Container{
		ModelID: idx.params.ModelID,
		Graph:   encodeGraph(idx.graph),
		Data:    encodeData(idx.graph),
		IDMap:   append([]string(nil), idx.idMap...),
	}
	if err := WriteContainer(path, container); err != nil {
		return fmt.Errorf("save ann container: %w", err)
	}
	idx.dirty = false
	return nil
}

// Load reads a container snapshot and rebuilds the in-memory index. A
// container written for a different model id is treated as absent.
func Load(path string, params Params) (*Index, error) {
	container, err := ReadContainer(path)
	if err != nil {
		return nil, err
	}
	if container.ModelID != params.ModelID {
		return nil, fmt.Errorf("%w: container model %q, want %q", ErrCorrupt, container.ModelID, params.ModelID)
	}
	return fromParts(container.Graph, container.Data, container.IDMap, params)
}

func fromParts(graphBytes, dataBytes []byte, idMap []string, params Params) (*Index, error) {
	g, err := decodeGraph(graphBytes, dataBytes, idMap, params.Dim, params.MaxConnections)
	if err != nil {
		return nil, err
	}
	idx := &Index{
		params:   params,
		graph:    g,
		idMap:    append([]string(nil), idMap...),
		idLookup: make(map[string]int, len(idMap)),
	}
	for id, sampleID := range idx.idMap {
		if sampleID == "" {
			idx.free = append(idx.free, id)
			continue
		}
		if _, dup := idx.idLookup[sampleID]; dup {
			return nil, fmt.Errorf("%w: duplicate sample id %q in id map", ErrCorrupt, sampleID)
		}
		idx.idLookup[sampleID] = id
	}
	return idx, nil
}
