package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/dgraph-io/ristretto"
)

// DefaultCacheSize is the default number of cached entries (spec §4.3:
// "default >= 1024 entries").
const DefaultCacheSize = 1024

// CachedProvider wraps an inner Provider with a process-local cache
// keyed by the SHA-256 of the input text. The cache is ristretto, which
// admits and evicts entries by estimated access frequency rather than
// by recency (it is not an LRU), and applies a Set asynchronously and
// may drop it, so repeated content can still reach the inner provider.
type CachedProvider struct {
	inner Provider
	cache *ristretto.Cache
}

// NewCachedProvider wraps inner with a cache bounded at maxEntries
// entries (DefaultCacheSize if maxEntries <= 0).
func NewCachedProvider(inner Provider, maxEntries int64) (*CachedProvider, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheSize
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *CachedProvider) Dimension() int    { return c.inner.Dimension() }
func (c *CachedProvider) Ready() bool       { return c.inner.Ready() }
func (c *CachedProvider) ModelName() string { return c.inner.ModelName() }

func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		return v.([]float32), nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, 1)
	return vec, nil
}

func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, t := range texts {
		if v, ok := c.cache.Get(cacheKey(t)); ok {
			out[i] = v.([]float32)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	embedded, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = embedded[j]
		c.cache.Set(cacheKey(missTexts[j]), embedded[j], 1)
	}
	return out, nil
}
