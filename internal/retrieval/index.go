package retrieval

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	"github.com/kalambet/rolechat/internal/chunker"
	"github.com/kalambet/rolechat/internal/roles"
)

// ErrDimensionMismatch is returned when vectors of different lengths meet.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Scored is a search hit.
type Scored struct {
	Chunk chunker.Chunk
	Score float32
}

// Index is an immutable, in-memory collection of one role's chunks and their
// vectors. It is safe for concurrent searches.
type Index struct {
	role    roles.Role
	model   string
	dim     int
	chunks  []chunker.Chunk
	vectors [][]float32
	norms   []float32
}

// Build constructs an index from parallel chunk and vector slices. Every
// chunk must carry role and every vector must have the same dimension.
func Build(role roles.Role, model string, chunks []chunker.Chunk, vectors [][]float32) (*Index, error) {
	if len(chunks) == 0 {
		return nil, errors.New("build index: no chunks")
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("build index: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if model == "" {
		return nil, errors.New("build index: embedding model identity is required")
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, errors.New("build index: empty vector")
	}
	idx := &Index{
		role:    role,
		model:   model,
		dim:     dim,
		chunks:  make([]chunker.Chunk, len(chunks)),
		vectors: make([][]float32, len(vectors)),
		norms:   make([]float32, len(vectors)),
	}
	for i := range chunks {
		if chunks[i].Role != role {
			return nil, fmt.Errorf("build index: chunk %s is tagged %q, want %q", chunks[i].ID, chunks[i].Role, role)
		}
		if len(vectors[i]) != dim {
			return nil, fmt.Errorf("build index: vector %d: %w: got %d, want %d", i, ErrDimensionMismatch, len(vectors[i]), dim)
		}
		idx.chunks[i] = chunks[i]
		idx.vectors[i] = append([]float32(nil), vectors[i]...)
		idx.norms[i] = norm(vectors[i])
	}
	return idx, nil
}

func (x *Index) Role() roles.Role { return x.role }

// Model returns the embedding model identity the vectors came from.
func (x *Index) Model() string { return x.model }

func (x *Index) Dimension() int { return x.dim }

func (x *Index) Len() int { return len(x.chunks) }

// Chunks returns a copy of the chunks in insertion order.
func (x *Index) Chunks() []chunker.Chunk {
	return append([]chunker.Chunk(nil), x.chunks...)
}

// Vector returns a copy of the i-th vector.
func (x *Index) Vector(i int) []float32 {
	return append([]float32(nil), x.vectors[i]...)
}

// hit holds a candidate during the scan phase of Search.
type hit struct {
	pos   int
	score float32
}

// hitHeap is a min-heap whose root is the weakest candidate: the lowest
// score, and among equal scores the latest inserted.
type hitHeap []hit

func (h hitHeap) Len() int { return len(h) }
func (h hitHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].pos > h[j].pos
}
func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)   { *h = append(*h, x.(hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Search returns the k chunks most similar to query by cosine similarity,
// best first. Equal scores keep insertion order. A k larger than the index
// returns every chunk.
func (x *Index) Search(query []float32, k int) ([]Scored, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("search: %w: query has %d, index has %d", ErrDimensionMismatch, len(query), x.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	if k > len(x.chunks) {
		k = len(x.chunks)
	}

	qNorm := norm(query)
	h := make(hitHeap, 0, k)
	for i, v := range x.vectors {
		c := hit{pos: i, score: cosine(query, v, qNorm, x.norms[i])}
		if h.Len() < k {
			heap.Push(&h, c)
			continue
		}
		// Later positions never displace an equal score.
		if c.score > h[0].score {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}

	sort.Slice(h, func(i, j int) bool {
		if h[i].score != h[j].score {
			return h[i].score > h[j].score
		}
		return h[i].pos < h[j].pos
	})

	out := make([]Scored, len(h))
	for i, c := range h {
		out[i] = Scored{Chunk: x.chunks[c.pos], Score: c.score}
	}
	return out, nil
}
