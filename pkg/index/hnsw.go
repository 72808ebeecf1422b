// Package index provides an in-process approximate-nearest-neighbor index
// over memory embeddings.
//
// The index is a Hierarchical Navigable Small World (HNSW) graph: nodes are
// linked into layered proximity graphs, queries greedily descend from a
// sparse top layer to the dense bottom layer. Accuracy and speed are tuned
// with the construction parameters M / EfConstruction and the query-time
// parameter EfSearch.
//
// Distances are cosine distances (1 - cosine similarity) over unit-normalized
// vectors. All operations are safe for concurrent use; inserts and deletes
// take a structure-level write lock, queries a read lock.
package index

import (
	"container/heap"
	"errors"
	"math"
	"math/rand"
	"sync"

	"github.com/memvault/memvault-go/pkg/embedder"
)

// Sentinel errors returned by the index.
var (
	// ErrDimensionMismatch indicates a vector's dimension does not match
	// the vectors already indexed.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyVector indicates an insert with a nil or zero-length vector.
	ErrEmptyVector = errors.New("empty embedding vector")
)

// Config contains HNSW construction and query parameters.
type Config struct {
	// M is the maximum number of connections per node on the upper layers.
	// The bottom layer allows 2*M. Higher values improve recall but
	// increase memory usage. Defaults to 16.
	M int

	// EfConstruction is the candidate-list size during insertion.
	// Higher values improve graph quality but slow construction.
	// Defaults to 200.
	EfConstruction int

	// EfSearch is the default candidate-list size during queries.
	// Higher values trade latency for recall. Defaults to 50 and can be
	// overridden per query.
	EfSearch int

	// Seed seeds the level generator. Zero selects a fixed default so
	// graph shape is reproducible in tests.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 50
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	return c
}

// Meta is the filterable metadata attached to an indexed node.
type Meta struct {
	Namespace  string
	Category   string
	MemoryType string
	Importance float64
}

// Filter restricts KNN results by exact-match metadata predicates.
// Zero values mean "no restriction".
type Filter struct {
	Namespace     string
	Category      string
	MemoryType    string
	MinImportance float64
}

// Match reports whether m satisfies the filter.
func (f *Filter) Match(m Meta) bool {
	if f == nil {
		return true
	}
	if f.Namespace != "" && m.Namespace != f.Namespace {
		return false
	}
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.MemoryType != "" && m.MemoryType != f.MemoryType {
		return false
	}
	if f.MinImportance > 0 && m.Importance < f.MinImportance {
		return false
	}
	return true
}

// Neighbor is a KNN result: a node id and its cosine distance to the query.
type Neighbor struct {
	ID       int64
	Distance float64
}

// Item is a (id, vector, meta) triple used by Rebuild.
type Item struct {
	ID     int64
	Vector []float64
	Meta   Meta
}

// node is a graph vertex. Deleted nodes stay in the graph as tombstones so
// traversal connectivity is preserved; they are skipped in results and
// dropped on rebuild.
type node struct {
	id        int64
	vec       []float64
	meta      Meta
	level     int
	neighbors [][]int64 // neighbor ids per layer, 0..level
	deleted   bool
}

// graph is the mutable HNSW state, swapped atomically on rebuild.
type graph struct {
	nodes    map[int64]*node
	entryID  int64
	hasEntry bool
	maxLevel int
	dims     int
	live     int
	rng      *rand.Rand
	cfg      Config
}

// HNSW is the approximate-nearest-neighbor index.
type HNSW struct {
	mu sync.RWMutex
	g  *graph
}

// New creates an empty HNSW index.
func New(cfg Config) *HNSW {
	cfg = cfg.withDefaults()
	return &HNSW{g: newGraph(cfg)}
}

func newGraph(cfg Config) *graph {
	return &graph{
		nodes: make(map[int64]*node),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		cfg:   cfg,
	}
}

// Insert adds a node for id. Inserting an existing id replaces its vector and
// metadata and relinks the node.
func (h *HNSW) Insert(id int64, vec []float64, meta Meta) error {
	if len(vec) == 0 {
		return ErrEmptyVector
	}

	normalized := embedder.Normalize(append([]float64(nil), vec...))

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.g.insert(id, normalized, meta)
}

// Delete tombstones the node for id. Subsequent KNN calls never return it.
// Deleting an absent id is a no-op.
func (h *HNSW) Delete(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.g.nodes[id]
	if !ok || n.deleted {
		return
	}
	n.deleted = true
	h.g.live--
}

// Contains reports whether id is indexed and not deleted.
func (h *HNSW) Contains(id int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n, ok := h.g.nodes[id]
	return ok && !n.deleted
}

// Len returns the number of live (non-deleted) nodes.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.g.live
}

// KNN returns up to k neighbors of query, ascending by cosine distance,
// restricted to nodes matching filter. ef overrides the configured EfSearch
// when positive; larger values trade latency for recall. Filtering happens
// after traversal, so callers wanting k post-filter results should request a
// proportionally larger ef.
func (h *HNSW) KNN(query []float64, k int, filter *Filter, ef int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	g := h.g
	if g.live == 0 {
		return nil, nil
	}
	if len(query) != g.dims {
		return nil, ErrDimensionMismatch
	}

	normalized := embedder.Normalize(append([]float64(nil), query...))

	if ef < g.cfg.EfSearch {
		ef = g.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	// Greedy descent to layer 1, then a full search of the bottom layer.
	ep := g.entryID
	for level := g.maxLevel; level > 0; level-- {
		ep = g.greedyClosest(normalized, ep, level)
	}
	candidates := g.searchLayer(normalized, ep, ef, 0)

	neighbors := make([]Neighbor, 0, k)
	for _, c := range candidates {
		n := g.nodes[c.id]
		if n.deleted || !filter.Match(n.meta) {
			continue
		}
		neighbors = append(neighbors, Neighbor{ID: c.id, Distance: c.dist})
		if len(neighbors) == k {
			break
		}
	}

	return neighbors, nil
}

// Rebuild replaces the graph with one built from items.
//
// The new graph is constructed without holding the index lock, so queries
// keep running against the old graph until the final swap. Nodes inserted
// concurrently during the build are carried over at swap time. Items may
// use a different vector dimension than the current graph (embedding model
// changes force a full rebuild).
func (h *HNSW) Rebuild(items []Item) error {
	h.mu.RLock()
	cfg := h.g.cfg
	h.mu.RUnlock()

	fresh := newGraph(cfg)
	for _, it := range items {
		if len(it.Vector) == 0 {
			continue
		}
		normalized := embedder.Normalize(append([]float64(nil), it.Vector...))
		if err := fresh.insert(it.ID, normalized, it.Meta); err != nil {
			return err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Carry over live nodes added while the build ran.
	if fresh.dims == 0 || fresh.dims == h.g.dims {
		for id, n := range h.g.nodes {
			if n.deleted {
				continue
			}
			if _, ok := fresh.nodes[id]; ok {
				continue
			}
			if err := fresh.insert(id, n.vec, n.meta); err != nil {
				return err
			}
		}
	}

	h.g = fresh
	return nil
}

// insert links a node into the graph. vec must already be normalized.
func (g *graph) insert(id int64, vec []float64, meta Meta) error {
	if g.dims == 0 {
		g.dims = len(vec)
	} else if len(vec) != g.dims {
		return ErrDimensionMismatch
	}

	if existing, ok := g.nodes[id]; ok {
		if existing.deleted {
			existing.deleted = false
			g.live++
		}
		existing.vec = vec
		existing.meta = meta
		g.relink(existing)
		return nil
	}

	level := g.randomLevel()
	n := &node{
		id:        id,
		vec:       vec,
		meta:      meta,
		level:     level,
		neighbors: make([][]int64, level+1),
	}
	g.nodes[id] = n
	g.live++

	if !g.hasEntry {
		g.entryID = id
		g.hasEntry = true
		g.maxLevel = level
		return nil
	}

	g.link(n)

	if level > g.maxLevel {
		g.maxLevel = level
		g.entryID = id
	}

	return nil
}

// link connects n to its nearest neighbors on every layer it occupies.
func (g *graph) link(n *node) {
	ep := g.entryID
	for level := g.maxLevel; level > n.level; level-- {
		ep = g.greedyClosest(n.vec, ep, level)
	}

	top := n.level
	if top > g.maxLevel {
		top = g.maxLevel
	}

	for level := top; level >= 0; level-- {
		candidates := g.searchLayer(n.vec, ep, g.cfg.EfConstruction, level)

		maxConn := g.cfg.M
		if level == 0 {
			maxConn = 2 * g.cfg.M
		}

		count := 0
		for _, c := range candidates {
			if c.id == n.id {
				continue
			}
			n.neighbors[level] = append(n.neighbors[level], c.id)
			g.addLink(g.nodes[c.id], n.id, level, maxConn)
			count++
			if count == g.cfg.M {
				break
			}
		}

		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}
}

// relink rebuilds the outgoing links of an existing node after its vector
// changed. Stale inbound links resolve through distance-ordered traversal.
func (g *graph) relink(n *node) {
	for level := range n.neighbors {
		n.neighbors[level] = nil
	}
	if g.live > 1 {
		g.link(n)
	}
}

// addLink appends target to n's neighbor list at level, pruning to the
// maxConn closest when the list overflows.
func (g *graph) addLink(n *node, target int64, level, maxConn int) {
	if level > n.level {
		return
	}
	n.neighbors[level] = append(n.neighbors[level], target)
	if len(n.neighbors[level]) <= maxConn {
		return
	}

	// Keep the maxConn closest neighbors.
	type linkDist struct {
		id   int64
		dist float64
	}
	links := make([]linkDist, 0, len(n.neighbors[level]))
	for _, id := range n.neighbors[level] {
		other, ok := g.nodes[id]
		if !ok {
			continue
		}
		links = append(links, linkDist{id: id, dist: cosineDistance(n.vec, other.vec)})
	}
	for i := 1; i < len(links); i++ {
		for j := i; j > 0 && links[j].dist < links[j-1].dist; j-- {
			links[j], links[j-1] = links[j-1], links[j]
		}
	}
	if len(links) > maxConn {
		links = links[:maxConn]
	}
	pruned := make([]int64, len(links))
	for i, l := range links {
		pruned[i] = l.id
	}
	n.neighbors[level] = pruned
}

// greedyClosest walks level greedily from ep toward q, returning the id of
// the local minimum.
func (g *graph) greedyClosest(q []float64, ep int64, level int) int64 {
	current := ep
	currentDist := cosineDistance(q, g.nodes[current].vec)

	for {
		improved := false
		n := g.nodes[current]
		if level <= n.level {
			for _, nbID := range n.neighbors[level] {
				nb, ok := g.nodes[nbID]
				if !ok {
					continue
				}
				if d := cosineDistance(q, nb.vec); d < currentDist {
					current = nbID
					currentDist = d
					improved = true
				}
			}
		}
		if !improved {
			return current
		}
	}
}

// searchLayer performs a best-first search of one layer, returning up to ef
// candidates ascending by distance. Tombstoned nodes participate in
// traversal (connectivity) and appear in results; callers filter them.
func (g *graph) searchLayer(q []float64, ep int64, ef, level int) []scored {
	epDist := cosineDistance(q, g.nodes[ep].vec)

	visited := map[int64]bool{ep: true}
	candidates := &minDistHeap{{id: ep, dist: epDist}}
	results := &maxDistHeap{{id: ep, dist: epDist}}
	heap.Init(candidates)
	heap.Init(results)

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(scored)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}

		n := g.nodes[c.id]
		if level > n.level {
			continue
		}
		for _, nbID := range n.neighbors[level] {
			if visited[nbID] {
				continue
			}
			visited[nbID] = true

			nb, ok := g.nodes[nbID]
			if !ok {
				continue
			}
			d := cosineDistance(q, nb.vec)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, scored{id: nbID, dist: d})
				heap.Push(results, scored{id: nbID, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]scored, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(scored)
	}
	return out
}

// randomLevel draws a node level from the HNSW exponential distribution.
func (g *graph) randomLevel() int {
	mult := 1.0 / math.Log(float64(g.cfg.M))
	u := g.rng.Float64()
	for u == 0 {
		u = g.rng.Float64()
	}
	return int(math.Floor(-math.Log(u) * mult))
}

// cosineDistance computes 1 - dot(a, b) for unit-normalized vectors.
func cosineDistance(a, b []float64) float64 {
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1.0 - dot
}
