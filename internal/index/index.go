// Package index builds and queries the similarity index over a document's
// text chunks. An index is built once at ingestion, serialized to the object
// store, and treated as read-only by every conversation afterwards.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrNotFound means ingestion never completed for the document: no
	// index artifact exists. Distinguished from an index over an empty
	// document, which loads fine and returns no hits.
	ErrNotFound = errors.New("vector index not found")

	// ErrDimensionMismatch means the stored vectors and the embedding
	// model disagree on dimensionality. Searching such an index would
	// silently return garbage, so loading fails instead.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// DefaultTopK is the retrieval depth used when the caller does not choose one.
const DefaultTopK = 4

// Embedder is the capability the index needs: text in, vector out, with a
// stable dimension.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Hit is one retrieval result. Ordinal is the chunk's position in the
// original document, kept for citation.
type Hit struct {
	Ordinal int
	Text    string
	Score   float64
}

// Index holds chunk vectors and their source text. Immutable after Build.
type Index struct {
	dimension int
	vectors   [][]float32
	chunks    []string
}

// Build embeds every chunk and assembles the index. Chunk order is
// preserved, so building twice from the same chunks yields the same index.
func Build(ctx context.Context, chunks []string, embedder Embedder) (*Index, error) {
	x := &Index{dimension: embedder.Dimension()}
	if len(chunks) == 0 {
		return x, nil
	}

	vectors, err := embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, v := range vectors {
		if len(v) != x.dimension {
			return nil, fmt.Errorf("chunk %d: %w", i, ErrDimensionMismatch)
		}
	}

	x.vectors = vectors
	x.chunks = append([]string(nil), chunks...)
	return x, nil
}

// Len returns the number of indexed chunks.
func (x *Index) Len() int { return len(x.chunks) }

// Dimension returns the vector dimension the index was built with.
func (x *Index) Dimension() int { return x.dimension }

// Search returns the k nearest chunks to query by cosine similarity,
// ordered by non-increasing score with ties broken by ascending chunk
// ordinal. k <= 0 selects DefaultTopK; k beyond the chunk count is clamped.
func (x *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != x.dimension {
		return nil, fmt.Errorf("query has dimension %d, index has %d: %w",
			len(query), x.dimension, ErrDimensionMismatch)
	}
	if k <= 0 {
		k = DefaultTopK
	}
	if k > len(x.chunks) {
		k = len(x.chunks)
	}

	hits := make([]Hit, len(x.chunks))
	for i, v := range x.vectors {
		hits[i] = Hit{Ordinal: i, Text: x.chunks[i], Score: cosine(query, v)}
	}
	// Stable sort over ordinal-ordered hits: equal scores keep ascending
	// ordinal order.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	return hits[:k], nil
}

// cosine computes cosine similarity in float64 to limit accumulation error.
func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
