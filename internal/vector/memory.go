package vector

import (
	"fmt"
	"sort"
)

// Hit is a ranked entry: the caller's position for the vector and its similarity to the query.
type Hit struct {
	Pos   int
	Score float64
}

// MemoryIndex ranks a fixed set of vectors by cosine similarity using brute-force inner product
// over unit-normalized copies. It is built per query and holds nothing across requests.
type MemoryIndex struct {
	dimensions int
	positions  []int
	vectors    [][]float32
}

// NewMemoryIndex creates an index accepting vectors of the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{dimensions: dimensions}, nil
}

// Add stores a normalized copy of vec under pos. Vectors of the wrong dimension are
// rejected and Add reports false.
func (m *MemoryIndex) Add(pos int, vec []float32) bool {
	if len(vec) != m.dimensions {
		return false
	}
	m.positions = append(m.positions, pos)
	m.vectors = append(m.vectors, Normalize(vec))
	return true
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	return len(m.vectors)
}

// Search returns at most k hits by descending similarity. Ties keep insertion order.
func (m *MemoryIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if k <= 0 || len(m.vectors) == 0 {
		return nil, nil
	}
	q := Normalize(query)
	hits := make([]Hit, len(m.vectors))
	for i, vec := range m.vectors {
		hits[i] = Hit{Pos: m.positions[i], Score: InnerProduct(q, vec)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}
