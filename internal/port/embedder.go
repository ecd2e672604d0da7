package port

import "context"

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension, or 0 if it is
	// not known until the first response.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}
