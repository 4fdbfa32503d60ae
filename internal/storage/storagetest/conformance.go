// Package storagetest holds the shared conformance suite every
// storage.Backend implementation runs against, so the invariants it
// covers (I1, I2 and I5-I7, spec §3) are asserted once instead of
// re-derived per backend.
package storagetest

import (
	"context"
	"testing"

	"github.com/hearthlabs/memoryd/internal/model"
	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/stretchr/testify/require"
)

// RunConformance exercises invariants I1, I2 and I5-I7, plus tag
// replacement and pagination, against any storage.Backend
// implementation. newBackend must return a fresh, empty backend for
// each call; RunConformance may call it multiple times.
func RunConformance(t *testing.T, newBackend func(t *testing.T) storage.Backend) {
	t.Helper()

	t.Run("I1_duplicate_store_is_noop", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		m, err := model.NewMemory("conformance duplicate content", nil, "note", nil)
		require.NoError(t, err)

		stored, _, err := b.Store(ctx, m)
		require.NoError(t, err)
		require.True(t, stored)

		m2, err := model.NewMemory("conformance duplicate content", nil, "note", nil)
		require.NoError(t, err)
		storedAgain, _, err := b.Store(ctx, m2)
		require.NoError(t, err)
		require.False(t, storedAgain)
	})

	t.Run("I2_timestamps_ordered", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		m, err := model.NewMemory("conformance timestamp content", nil, "note", nil)
		require.NoError(t, err)
		_, _, err = b.Store(ctx, m)
		require.NoError(t, err)

		page, err := b.List(ctx, 0, 10, storage.ListFilters{})
		require.NoError(t, err)
		require.NotEmpty(t, page.Records)
		for _, rec := range page.Records {
			require.False(t, rec.CreatedAt.After(rec.UpdatedAt))
		}
	})

	t.Run("I5_delete_removes_memory", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		m, err := model.NewMemory("conformance delete content", []string{"tofollow"}, "note", nil)
		require.NoError(t, err)
		_, _, err = b.Store(ctx, m)
		require.NoError(t, err)

		deleted, _, err := b.Delete(ctx, m.ContentHash)
		require.NoError(t, err)
		require.True(t, deleted)

		byTag, err := b.SearchByTag(ctx, []string{"tofollow"}, false)
		require.NoError(t, err)
		require.Empty(t, byTag)

		deletedAgain, _, err := b.Delete(ctx, m.ContentHash)
		require.NoError(t, err)
		require.False(t, deletedAgain)
	})

	t.Run("I6_tag_search_match_all_is_subset_of_match_any", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		m1, err := model.NewMemory("conformance tag content one", []string{"alpha", "beta"}, "note", nil)
		require.NoError(t, err)
		_, _, err = b.Store(ctx, m1)
		require.NoError(t, err)

		m2, err := model.NewMemory("conformance tag content two", []string{"alpha"}, "note", nil)
		require.NoError(t, err)
		_, _, err = b.Store(ctx, m2)
		require.NoError(t, err)

		all, err := b.SearchByTag(ctx, []string{"alpha", "beta"}, true)
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.Equal(t, m1.ContentHash, all[0].ContentHash)

		any, err := b.SearchByTag(ctx, []string{"alpha", "beta"}, false)
		require.NoError(t, err)
		require.Len(t, any, 2)
	})

	t.Run("I7_retrieval_sorted_by_similarity_descending", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		for _, content := range []string{"conformance ranking apples", "conformance ranking oranges", "unrelated distant sentence"} {
			m, err := model.NewMemory(content, nil, "note", nil)
			require.NoError(t, err)
			_, _, err = b.Store(ctx, m)
			require.NoError(t, err)
		}

		results, err := b.Retrieve(ctx, "conformance ranking apples", 3, 0)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		for i := 1; i < len(results); i++ {
			require.GreaterOrEqual(t, results[i-1].SimilarityScore, results[i].SimilarityScore)
		}
	})

	t.Run("update_metadata_replaces_tags_when_provided", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		m, err := model.NewMemory("conformance metadata content", []string{"old"}, "note", map[string]interface{}{"k": "v"})
		require.NoError(t, err)
		_, _, err = b.Store(ctx, m)
		require.NoError(t, err)

		err = b.UpdateMetadata(ctx, m.ContentHash, model.Metadata{"k2": "v2"}, []string{"new"}, true, "")
		require.NoError(t, err)

		byOld, err := b.SearchByTag(ctx, []string{"old"}, false)
		require.NoError(t, err)
		require.Empty(t, byOld)

		byNew, err := b.SearchByTag(ctx, []string{"new"}, false)
		require.NoError(t, err)
		require.Len(t, byNew, 1)
	})

	t.Run("list_paginates", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			m, err := model.NewMemory("conformance list content "+string(rune('a'+i)), nil, "note", nil)
			require.NoError(t, err)
			_, _, err = b.Store(ctx, m)
			require.NoError(t, err)
		}

		page, err := b.List(ctx, 0, 2, storage.ListFilters{})
		require.NoError(t, err)
		require.Len(t, page.Records, 2)
		require.Equal(t, 3, page.Total)
	})
}
