package annindex

import (
	"encoding/json"
	"fmt"
	"os"
)

// Legacy layout: older releases wrote the graph and data dumps plus a JSON
// id map as three sibling files instead of one container. Migration loads
// them, writes a container, and leaves the originals untouched.

func legacyGraphPath(base string) string { return base + ".hnsw.graph" }
func legacyDataPath(base string) string  { return base + ".hnsw.data" }
func legacyIDMapPath(base string) string { return base + ".idmap.json" }

// HasLegacy reports whether all three legacy files exist under base.
func HasLegacy(base string) bool {
	for _, path := range []string{legacyGraphPath(base), legacyDataPath(base), legacyIDMapPath(base)} {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// LoadLegacy rebuilds an index from the legacy multi-file layout.
func LoadLegacy(base string, params Params) (*Index, error) {
	graphBytes, err := os.ReadFile(legacyGraphPath(base))
	if err != nil {
		return nil, fmt.Errorf("read legacy graph: %w", err)
	}
	dataBytes, err := os.ReadFile(legacyDataPath(base))
	if err != nil {
		return nil, fmt.Errorf("read legacy data: %w", err)
	}
	idMapBytes, err := os.ReadFile(legacyIDMapPath(base))
	if err != nil {
		return nil, fmt.Errorf("read legacy id map: %w", err)
	}
	var idMap []string
	if err := json.Unmarshal(idMapBytes, &idMap); err != nil {
		return nil, fmt.Errorf("%w: legacy id map: %v", ErrCorrupt, err)
	}
	idx, err := fromParts(graphBytes, dataBytes, idMap, params)
	if err != nil {
		return nil, err
	}
	idx.dirty = true
	return idx, nil
}

// WriteLegacy writes the legacy three-file layout. Only migration tests and
// the migrate command's dry-run fixtures use it.
func WriteLegacy(base string, idx *Index) error {
	idMapBytes, err := json.Marshal(idx.idMap)
	if err != nil {
		return fmt.Errorf("encode legacy id map: %w", err)
	}
	writes := []struct {
		path string
		data []byte
	}{
		{legacyGraphPath(base), encodeGraph(idx.graph)},
		{legacyDataPath(base), encodeData(idx.graph)},
		{legacyIDMapPath(base), idMapBytes},
	}
	for _, w := range writes {
		if err := os.WriteFile(w.path, w.data, 0o644); err != nil {
			return fmt.Errorf("write legacy file: %w", err)
		}
	}
	return nil
}
