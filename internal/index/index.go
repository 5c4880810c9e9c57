// SPDX-License-Identifier: Apache-2.0

// Package index defines the corpus index contract: semantic nearest-neighbor
// search over pre-embedded passage chunks.
package index

import "context"

// Chunk is an indexed passage: a fragment of a document small enough to
// embed and retrieve independently.
type Chunk struct {
	ID           string
	DocumentName string
	Section      string
	Text         string
	Vector       []float32
}

// RetrievedChunk is a scored search result. Score is cosine similarity in
// [0, 1]; higher is more relevant. Results are ephemeral: consumed for
// formatting and citations, never persisted.
type RetrievedChunk struct {
	DocumentName string
	Section      string
	Text         string
	Score        float64
}

// Index is the vector-similarity primitive the retrieval engine relies on.
type Index interface {
	// Search returns at most limit chunks scoring at or above minScore,
	// ordered by descending similarity. When documentNames is non-empty the
	// search space is restricted to those documents; unknown names are
	// silently ignored.
	Search(ctx context.Context, vector []float32, limit int, minScore float64, documentNames []string) ([]RetrievedChunk, error)

	// DocumentNames returns the distinct names of all indexed documents.
	DocumentNames(ctx context.Context) ([]string, error)

	// Add inserts or replaces chunks.
	Add(ctx context.Context, chunks []Chunk) error

	Close() error
}
