// SPDX-License-Identifier: Apache-2.0

// Package embedding turns text into fixed-length vectors for similarity
// search. The same embedder is used at indexing time and at query time, so
// dimensions must stay consistent across both.
package embedding

import "context"

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
