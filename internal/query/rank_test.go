package query

import (
	"testing"
	"time"

	"github.com/hearthlabs/memoryd/internal/model"
	"github.com/stretchr/testify/require"
)

func result(hash string, score float64, createdAt time.Time) model.MemoryQueryResult {
	return model.MemoryQueryResult{
		Memory:          model.Memory{ContentHash: hash, CreatedAt: createdAt},
		SimilarityScore: score,
	}
}

func TestRankOrdersByScoreThenTime(t *testing.T) {
	t1 := time.Now()
	t2 := t1.Add(time.Hour)
	rs := []model.MemoryQueryResult{
		result("aaa", 0.5, t1),
		result("bbb", 0.9, t1),
		result("ccc", 0.9, t2),
	}
	Rank(rs)
	require.Equal(t, "ccc", rs[0].Memory.ContentHash)
	require.Equal(t, "bbb", rs[1].Memory.ContentHash)
	require.Equal(t, "aaa", rs[2].Memory.ContentHash)
}

func TestRankTieBreaksByHashAscending(t *testing.T) {
	t1 := time.Now()
	rs := []model.MemoryQueryResult{
		result("zzz", 0.9, t1),
		result("aaa", 0.9, t1),
	}
	Rank(rs)
	require.Equal(t, "aaa", rs[0].Memory.ContentHash)
	require.Equal(t, "zzz", rs[1].Memory.ContentHash)
}

func TestFilterBySimilarityExactOnly(t *testing.T) {
	rs := []model.MemoryQueryResult{
		result("a", 1.0, time.Now()),
		result("b", 0.99, time.Now()),
	}
	out := FilterBySimilarity(rs, 1.0, 5)
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].Memory.ContentHash)
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	require.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}
