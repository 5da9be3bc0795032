package adapter

import (
	"context"

	"cloud.google.com/go/firestore"
)

// Embedder maps text to a fixed-dimension dense vector. Write and read paths must use the
// same Embedder configuration: vectors from different models are not comparable.
type Embedder interface {
	// Embed returns the embedding of text. Failures carry model.TagEmbedding.
	Embed(ctx context.Context, text string) (firestore.Vector32, error)

	// Model identifies the embedding model
	Model() string

	// Dimension is the length of every vector returned by Embed
	Dimension() int
}
