package adapter

import (
	"context"
	"slices"

	"cloud.google.com/go/firestore"
	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
)

// CachedEmbedder remembers embeddings of recently seen texts. The vector for a text is the
// one the wrapped Embedder returned, so write and read paths stay consistent.
type CachedEmbedder struct {
	embedder Embedder
	cache    *ristretto.Cache
}

// NewCachedEmbedder wraps embedder with a cache holding up to size vectors. Cost is counted in
// vectors, not bytes.
func NewCachedEmbedder(embedder Embedder, size int64) (*CachedEmbedder, error) {
	if size <= 0 {
		return nil, goerr.New("cache size must be positive", goerr.V("size", size))
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache")
	}

	return &CachedEmbedder{
		embedder: embedder,
		cache:    cache,
	}, nil
}

func (c *CachedEmbedder) Model() string {
	return c.embedder.Model()
}

func (c *CachedEmbedder) Dimension() int {
	return c.embedder.Dimension()
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) (firestore.Vector32, error) {
	key := c.embedder.Model() + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		return slices.Clone(v.(firestore.Vector32)), nil
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, slices.Clone(vec), 1)
	return vec, nil
}

// Wait blocks until pending cache writes are applied
func (c *CachedEmbedder) Wait() {
	c.cache.Wait()
}

// Close releases the cache
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
