// Package embedding provides the fixed-dimension vector provider
// contract, its local and remote implementations, and the shared LRU
// cache layered on top of any of them (spec §4.3).
//
// The interface shape follows gognee's embeddings.EmbeddingClient
// (pkg/embeddings/client.go), extended with Dimension() and Ready()
// since the memory engine must negotiate and report those out of band.
package embedding

import "context"

// Provider produces fixed-dimension vectors for text.
type Provider interface {
	// Dimension returns the vector length this provider produces. It
	// must be stable for the lifetime of the process.
	Dimension() int

	// Ready reports whether the provider can currently serve requests.
	Ready() bool

	// Embed produces a single embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch produces embeddings for multiple texts. The result
	// must equal the serial Embed result element-wise.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName identifies the underlying model for stats reporting.
	ModelName() string
}
