package annindex

import (
	"bytes"
	"container/heap"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// graph is a navigable small-world proximity graph over dense node slots.
// Deleted slots keep their position (the id map records a hole) so internal
// ids stay stable across incremental updates; freed slots are reused first.
type graph struct {
	dim       int
	maxLinks  int
	vectors   [][]float32
	neighbors [][]int
	live      []bool
}

func newGraph(dim, maxLinks int) *graph {
	return &graph{dim: dim, maxLinks: maxLinks}
}

func (g *graph) len() int {
	return len(g.vectors)
}

func (g *graph) liveCount() int {
	count := 0
	for _, alive := range g.live {
		if alive {
			count++
		}
	}
	return count
}

// CosineDistance assumes inputs of equal dimension. Normalized vectors make
// this equivalent to 1 - dot.
func CosineDistance(a, b []float32) float32 {
	return cosineDistance(a, b)
}

func cosineDistance(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)))
}

// insertAt places a vector into slot id, linking it to its efSearch-nearest
// live nodes and pruning neighbor lists back to maxLinks.
func (g *graph) insertAt(id int, vector []float32, ef int) {
	for g.len() <= id {
		g.vectors = append(g.vectors, nil)
		g.neighbors = append(g.neighbors, nil)
		g.live = append(g.live, false)
	}
	g.vectors[id] = vector
	g.live[id] = true
	g.neighbors[id] = g.neighbors[id][:0]

	candidates := g.searchInternal(vector, g.maxLinks, ef, id)
	for _, c := range candidates {
		g.link(id, c.id)
		g.link(c.id, id)
	}
}

func (g *graph) remove(id int) {
	if id >= g.len() || !g.live[id] {
		return
	}
	g.live[id] = false
	g.vectors[id] = nil
	g.neighbors[id] = nil
	// Adjacency is kept symmetric here, but loaded dumps carry no such
	// guarantee; sweep every list so no edge can reach the freed slot.
	for peer := range g.neighbors {
		g.neighbors[peer] = deleteLink(g.neighbors[peer], id)
	}
}

func (g *graph) link(from, to int) {
	if from == to || !g.live[to] || hasLink(g.neighbors[from], to) {
		return
	}
	g.neighbors[from] = append(g.neighbors[from], to)
	if len(g.neighbors[from]) > g.maxLinks {
		g.pruneLinks(from)
	}
}

func hasLink(links []int, id int) bool {
	for _, existing := range links {
		if existing == id {
			return true
		}
	}
	return false
}

// pruneLinks keeps the maxLinks nearest neighbors of id. Every dropped link
// loses its reverse edge too, so adjacency stays symmetric and no list can
// hold an edge to a slot that later dies or is reused.
func (g *graph) pruneLinks(id int) {
	links := g.neighbors[id]
	kept := links[:0]
	for _, peer := range links {
		if peer < g.len() && g.live[peer] {
			kept = append(kept, peer)
		}
	}
	links = kept
	if len(links) > g.maxLinks {
		sort.Slice(links, func(i, j int) bool {
			return cosineDistance(g.vectors[id], g.vectors[links[i]]) <
				cosineDistance(g.vectors[id], g.vectors[links[j]])
		})
		for _, peer := range links[g.maxLinks:] {
			g.neighbors[peer] = deleteLink(g.neighbors[peer], id)
		}
		links = links[:g.maxLinks]
	}
	g.neighbors[id] = links
}

func deleteLink(links []int, id int) []int {
	for i, existing := range links {
		if existing == id {
			return append(links[:i], links[i+1:]...)
		}
	}
	return links
}

type candidate struct {
	id       int
	distance float32
}

// searchInternal runs a best-first beam search from an arbitrary live entry
// point and returns up to k nearest live nodes, excluding skip.
func (g *graph) searchInternal(query []float32, k, ef, skip int) []candidate {
	entry := -1
	for id, alive := range g.live {
		if alive && id != skip {
			entry = id
			break
		}
	}
	if entry < 0 {
		return nil
	}
	if ef < k {
		ef = k
	}

	visited := map[int]bool{entry: true}
	start := candidate{id: entry, distance: cosineDistance(query, g.vectors[entry])}
	frontier := &minCandidateHeap{start}
	results := &maxCandidateHeap{start}

	for frontier.Len() > 0 {
		current := heap.Pop(frontier).(candidate)
		if results.Len() >= ef && current.distance > (*results)[0].distance {
			break
		}
		for _, peer := range g.neighbors[current.id] {
			if visited[peer] || !g.live[peer] {
				continue
			}
			visited[peer] = true
			next := candidate{id: peer, distance: cosineDistance(query, g.vectors[peer])}
			if results.Len() < ef || next.distance < (*results)[0].distance {
				heap.Push(frontier, next)
				heap.Push(results, next)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	found := make([]candidate, 0, results.Len())
	for _, c := range *results {
		if c.id != skip {
			found = append(found, c)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].distance < found[j].distance })
	if len(found) > k {
		found = found[:k]
	}
	return found
}

type minCandidateHeap []candidate

func (h minCandidateHeap) Len() int           { return len(h) }
func (h minCandidateHeap) Less(i, j int) bool { return h[i].distance < h[j].distance }
func (h minCandidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minCandidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }

func (h *minCandidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

type maxCandidateHeap []candidate

func (h maxCandidateHeap) Len() int           { return len(h) }
func (h maxCandidateHeap) Less(i, j int) bool { return h[i].distance > h[j].distance }
func (h maxCandidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxCandidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }

func (h *maxCandidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

const graphDumpVersion = 1

// encodeGraph serializes adjacency lists: version u32, node count u32, then
// per node a neighbor count u32 followed by neighbor ids. Dead slots encode
// zero neighbors; liveness comes from the id map.
func encodeGraph(g *graph) []byte {
	var buf bytes.Buffer
	writeU32 := func(v uint32) {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], v)
		buf.Write(tmp[:])
	}
	writeU32(graphDumpVersion)
	writeU32(uint32(g.len()))
	for id := 0; id < g.len(); id++ {
		writeU32(uint32(len(g.neighbors[id])))
		for _, peer := range g.neighbors[id] {
			writeU32(uint32(peer))
		}
	}
	return buf.Bytes()
}

// encodeData serializes node vectors back to back as little-endian float32.
// Dead slots emit zero vectors to keep slot offsets addressable.
func encodeData(g *graph) []byte {
	buf := make([]byte, g.len()*g.dim*4)
	for id := 0; id < g.len(); id++ {
		if !g.live[id] {
			continue
		}
		base := id * g.dim * 4
		for i, value := range g.vectors[id] {
			binary.LittleEndian.PutUint32(buf[base+i*4:], math.Float32bits(value))
		}
	}
	return buf
}

// decodeGraph rebuilds a graph from its dumps. Liveness is taken from the
// id map: empty entries are holes left by deletes.
func decodeGraph(graphBytes, dataBytes []byte, idMap []string, dim, maxLinks int) (*graph, error) {
	if len(graphBytes) < 8 {
		return nil, fmt.Errorf("%w: graph dump truncated", ErrCorrupt)
	}
	version := binary.LittleEndian.Uint32(graphBytes[0:4])
	if version != graphDumpVersion {
		return nil, fmt.Errorf("%w: graph dump version %d", ErrCorrupt, version)
	}
	count := int(binary.LittleEndian.Uint32(graphBytes[4:8]))
	if count != len(idMap) {
		return nil, fmt.Errorf("%w: graph has %d nodes, id map has %d", ErrCorrupt, count, len(idMap))
	}
	if len(dataBytes) != count*dim*4 {
		return nil, fmt.Errorf("%w: data dump length %d for %d nodes", ErrCorrupt, len(dataBytes), count)
	}

	g := newGraph(dim, maxLinks)
	g.vectors = make([][]float32, count)
	g.neighbors = make([][]int, count)
	g.live = make([]bool, count)

	offset := 8
	for id := 0; id < count; id++ {
		if offset+4 > len(graphBytes) {
			return nil, fmt.Errorf("%w: graph dump truncated", ErrCorrupt)
		}
		linkCount := int(binary.LittleEndian.Uint32(graphBytes[offset:]))
		offset += 4
		if offset+linkCount*4 > len(graphBytes) {
			return nil, fmt.Errorf("%w: graph dump truncated", ErrCorrupt)
		}
		links := make([]int, 0, linkCount)
		for i := 0; i < linkCount; i++ {
			peer := int(binary.LittleEndian.Uint32(graphBytes[offset:]))
			offset += 4
			if peer >= count {
				return nil, fmt.Errorf("%w: neighbor id %d out of range", ErrCorrupt, peer)
			}
			links = append(links, peer)
		}
		g.neighbors[id] = links
	}

	for id := 0; id < count; id++ {
		if idMap[id] == "" {
			continue
		}
		g.live[id] = true
		vector := make([]float32, dim)
		base := id * dim * 4
		for i := range vector {
			vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(dataBytes[base+i*4:]))
		}
		g.vectors[id] = vector
	}

	// Dumps from other writers may carry one-way edges or edges into
	// holes; normalize so the mutation invariants hold from the first
	// update.
	for id := 0; id < count; id++ {
		if !g.live[id] {
			g.neighbors[id] = nil
			continue
		}
		links := g.neighbors[id][:0]
		for _, peer := range g.neighbors[id] {
			if peer != id && g.live[peer] {
				links = append(links, peer)
			}
		}
		g.neighbors[id] = links
	}
	for id := 0; id < count; id++ {
		for _, peer := range g.neighbors[id] {
			if !hasLink(g.neighbors[peer], id) {
				g.neighbors[peer] = append(g.neighbors[peer], id)
			}
		}
	}
	return g, nil
}
