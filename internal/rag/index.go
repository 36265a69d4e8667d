package rag

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dgallion1/docsplit/internal/chunkfile"
)

// ErrEmptyIndex is returned when searching an index with no chunks.
var ErrEmptyIndex = errors.New("index is empty")

// Hit is one retrieved chunk and its cosine similarity to the query.
type Hit struct {
	chunkfile.Entry
	Score float32 `json:"score"`
}

// Index is an in-memory exact cosine index over chunk entries. Vectors are
// unit length, so similarity is a dot product. Safe for concurrent use.
type Index struct {
	embedder Embedder

	mu      sync.RWMutex
	entries []chunkfile.Entry
	vectors [][]float32
	ids     map[string]int
	dim     int
}

// NewIndex returns an empty index that embeds with e.
func NewIndex(e Embedder) *Index {
	return &Index{embedder: e, ids: make(map[string]int)}
}

// Len returns the number of indexed chunks.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Add embeds entries and appends them. Chunk ids must be unique across the
// index; a batch is added completely or not at all.
func (x *Index) Add(ctx context.Context, entries []chunkfile.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	texts := make([]string, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.ChunkID == "" {
			return fmt.Errorf("chunk %d has no id", i)
		}
		if seen[e.ChunkID] {
			return fmt.Errorf("duplicate chunk id %q", e.ChunkID)
		}
		seen[e.ChunkID] = true
		texts[i] = e.Text
	}

	vecs, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(entries) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(entries))
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	dim := x.dim
	for i, v := range vecs {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) == 0 || len(v) != dim {
			return fmt.Errorf("chunk %s: vector has %d dimensions, want %d", entries[i].ChunkID, len(v), dim)
		}
		if _, ok := x.ids[entries[i].ChunkID]; ok {
			return fmt.Errorf("chunk %s is already indexed", entries[i].ChunkID)
		}
	}
	x.dim = dim
	for i, e := range entries {
		x.ids[e.ChunkID] = len(x.entries)
		x.entries = append(x.entries, e)
		x.vectors = append(x.vectors, vecs[i])
	}
	return nil
}

// Get returns the entry with the given chunk id.
func (x *Index) Get(chunkID string) (chunkfile.Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	i, ok := x.ids[chunkID]
	if !ok {
		return chunkfile.Entry{}, false
	}
	return x.entries[i], true
}

// Search returns up to topK chunks closest to query, best first. Hits scoring
// below threshold are left out, so the result may be empty.
func (x *Index) Search(ctx context.Context, query string, topK int, threshold float32) ([]Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}
	if x.Len() == 0 {
		return nil, ErrEmptyIndex
	}
	vecs, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vecs))
	}
	return x.nearest(vecs[0], topK, threshold)
}

func (x *Index) nearest(q []float32, topK int, threshold float32) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(q) != x.dim {
		return nil, fmt.Errorf("query vector has %d dimensions, index has %d", len(q), x.dim)
	}

	hits := make([]Hit, 0, len(x.entries))
	for i, v := range x.vectors {
		score := dot(q, v)
		if score < threshold {
			continue
		}
		hits = append(hits, Hit{Entry: x.entries[i], Score: score})
	}
	// Stable keeps document order among equal scores.
	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
