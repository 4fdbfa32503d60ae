// Package health assembles the Stats shape a backend reports and
// caches it briefly so repeated liveness probes (spec §4.11) don't
// each pay the backend's full stats query.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/hearthlabs/memoryd/internal/storage"
)

// Checker wraps a storage.Backend's GetStats behind a short TTL cache.
// A hand-rolled cache is used here rather than a third-party one
// (see DESIGN.md): the cached value is a single small struct refreshed
// at most once per window, which a generic entry-eviction cache like
// ristretto is not shaped for.
type Checker struct {
	backend storage.Backend
	ttl     time.Duration

	mu       sync.Mutex
	cached   storage.Stats
	cachedAt time.Time
	valid    bool
}

// NewChecker builds a Checker with the given cache TTL.
func NewChecker(backend storage.Backend, ttl time.Duration) *Checker {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Checker{backend: backend, ttl: ttl}
}

func (c *Checker) stats(ctx context.Context) (storage.Stats, error) {
	c.mu.Lock()
	if c.valid && time.Since(c.cachedAt) < c.ttl {
		stats := c.cached
		c.mu.Unlock()
		return stats, nil
	}
	c.mu.Unlock()

	stats, err := c.backend.GetStats(ctx)
	if err != nil {
		return storage.Stats{}, err
	}

	c.mu.Lock()
	c.cached = stats
	c.cachedAt = time.Now()
	c.valid = true
	c.mu.Unlock()

	return stats, nil
}

// Liveness returns a minimal health signal: whether the backend is
// reachable and reports itself healthy, without the full stats payload.
func (c *Checker) Liveness(ctx context.Context) (storage.Stats, error) {
	stats, err := c.stats(ctx)
	if err != nil {
		return storage.Stats{Healthy: false}, err
	}
	return storage.Stats{Backend: stats.Backend, Healthy: stats.Healthy}, nil
}

// Detailed returns the full cached stats payload, per the original's
// GET /api/health/detailed split from plain liveness.
func (c *Checker) Detailed(ctx context.Context) (storage.Stats, error) {
	return c.stats(ctx)
}
