package coverage

import (
	"sync"
)

// MapSize is the size of the AFL-style edge bitmap shared with the target.
const MapSize = 64 << 10

// Edge identifies one slot of the bitmap.
type Edge uint32

// Registry is the global coverage state: every (edge, hit-count bucket) ever
// seen, per-edge generation counters, and the flip list of edges that are no
// longer worth chasing.
type Registry struct {
	mu       sync.RWMutex
	virgin   [MapSize]byte // bucket bits not yet seen, per edge
	edges    int           // edges with at least one bucket seen
	genCount map[Edge]uint32
	flipList map[Edge]struct{}

	flipLimit uint32
	novelty   *Novelty
}

func NewRegistry(novelty *Novelty, flipLimit uint32) *Registry {
	r := &Registry{
		genCount:  make(map[Edge]uint32),
		flipList:  make(map[Edge]struct{}),
		flipLimit: flipLimit,
		novelty:   novelty,
	}
	for i := range r.virgin {
		r.virgin[i] = 0xff
	}
	return r
}

// bucket maps a raw hit count to a single AFL hit-count class bit.
func bucket(hits byte) byte {
	switch {
	case hits == 0:
		return 0
	case hits == 1:
		return 1
	case hits == 2:
		return 2
	case hits == 3:
		return 4
	case hits <= 7:
		return 8
	case hits <= 15:
		return 16
	case hits <= 31:
		return 32
	case hits <= 127:
		return 64
	default:
		return 128
	}
}

// Classify returns the edges hit by trace, bucketed, without touching global state.
func Classify(trace []byte) map[Edge]byte {
	hits := make(map[Edge]byte)
	for i, raw := range trace {
		if raw != 0 {
			hits[Edge(i)] = bucket(raw)
		}
	}
	return hits
}

// EdgesOf lists the edges hit by trace in ascending order.
func EdgesOf(trace []byte) []Edge {
	var edges []Edge
	for i, raw := range trace {
		if raw != 0 {
			edges = append(edges, Edge(i))
		}
	}
	return edges
}

// Record merges a run's trace into the registry and returns the edges that
// showed a new bucket. Any novelty marks the Novelty flag.
func (r *Registry) Record(trace []byte) []Edge {
	var fresh []Edge

	r.mu.Lock()
	for i, raw := range trace {
		if raw == 0 || i >= MapSize {
			continue
		}
		b := bucket(raw)
		if r.virgin[i]&b == 0 {
			continue
		}
		if r.virgin[i] == 0xff {
			r.edges++
		}
		r.virgin[i] &^= b
		fresh = append(fresh, Edge(i))
	}
	r.mu.Unlock()

	if len(fresh) > 0 && r.novelty != nil {
		r.novelty.Mark()
	}
	return fresh
}

// HasNew reports whether trace would add coverage, without recording it.
func (r *Registry) HasNew(trace []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, raw := range trace {
		if raw != 0 && i < MapSize && r.virgin[i]&bucket(raw) != 0 {
			return true
		}
	}
	return false
}

// Edges is the number of distinct edges seen so far.
func (r *Registry) Edges() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.edges
}

// Bump increments the generation counter of each edge and moves edges over
// the flip limit onto the flip list.
func (r *Registry) Bump(edges []Edge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range edges {
		r.genCount[e]++
		if r.flipLimit > 0 && r.genCount[e] >= r.flipLimit {
			r.flipList[e] = struct{}{}
		}
	}
}

func (r *Registry) GenCount(e Edge) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.genCount[e]
}

func (r *Registry) Flipped(e Edge) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.flipList[e]
	return ok
}

// Exhausted reports the share of edges that are on the flip list, in [0, 1].
func (r *Registry) Exhausted(edges []Edge) float64 {
	if len(edges) == 0 {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	flipped := 0
	for _, e := range edges {
		if _, ok := r.flipList[e]; ok {
			flipped++
		}
	}
	return float64(flipped) / float64(len(edges))
}
