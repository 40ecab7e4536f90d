// Package embedder defines the embedding-producer interface the chunk
// store's backfill flow depends on, plus an OpenAI-backed implementation.
package embedder

import "context"

// Embedder computes fixed-length embedding vectors for chunk content.
// Implementations must return vectors of exactly Dimensions() components.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the fixed vector length this producer emits.
	Dimensions() int
}
