package health

import (
	"context"
	"testing"
	"time"

	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/stretchr/testify/require"
)

type countingBackend struct {
	storage.Backend
	calls int
	stats storage.Stats
}

func (b *countingBackend) GetStats(ctx context.Context) (storage.Stats, error) {
	b.calls++
	return b.stats, nil
}

func TestCheckerCachesWithinTTL(t *testing.T) {
	backend := &countingBackend{stats: storage.Stats{Backend: "embedded", Healthy: true, TotalMemories: 3}}
	checker := NewChecker(backend, 50*time.Millisecond)

	_, err := checker.Detailed(context.Background())
	require.NoError(t, err)
	_, err = checker.Detailed(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, backend.calls)

	time.Sleep(60 * time.Millisecond)
	stats, err := checker.Detailed(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, backend.calls)
	require.Equal(t, int64(3), stats.TotalMemories)
}

func TestLivenessOmitsFullStats(t *testing.T) {
	backend := &countingBackend{stats: storage.Stats{Backend: "embedded", Healthy: true, TotalMemories: 99}}
	checker := NewChecker(backend, time.Second)

	stats, err := checker.Liveness(context.Background())
	require.NoError(t, err)
	require.True(t, stats.Healthy)
	require.Equal(t, int64(0), stats.TotalMemories)
}
