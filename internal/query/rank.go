package query

import (
	"math"
	"sort"

	"github.com/hearthlabs/memoryd/internal/model"
)

// CosineSimilarity computes cosine similarity between a and b, rescaled
// into [0,1] (spec §4.10). Mismatched lengths or zero vectors yield 0.
//
// Grounded on gognee's pkg/store/vector.go CosineSimilarity, extended
// with the [0,1] rescale the spec requires (that function returns the
// raw [-1,1] cosine).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (cos + 1) / 2
}

// Rank sorts results per invariant I7: similarity_score descending,
// ties broken by created_at descending, then content_hash ascending.
func Rank(results []model.MemoryQueryResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.SimilarityScore != b.SimilarityScore {
			return a.SimilarityScore > b.SimilarityScore
		}
		if !a.Memory.CreatedAt.Equal(b.Memory.CreatedAt) {
			return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
		}
		return a.Memory.ContentHash < b.Memory.ContentHash
	})
}

// FilterBySimilarity drops results below minSimilarity and truncates to
// n. If fewer than n survive the filter, the shorter list is returned
// (spec §4.10).
func FilterBySimilarity(results []model.MemoryQueryResult, minSimilarity float64, n int) []model.MemoryQueryResult {
	out := make([]model.MemoryQueryResult, 0, len(results))
	for _, r := range results {
		if r.SimilarityScore >= minSimilarity {
			out = append(out, r)
		}
	}
	Rank(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
