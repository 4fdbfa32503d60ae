package sqlitebackend

import (
	"context"
	"testing"

	"github.com/hearthlabs/memoryd/internal/embedding"
	"github.com/hearthlabs/memoryd/internal/engineerr"
	"github.com/hearthlabs/memoryd/internal/model"
	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/hearthlabs/memoryd/internal/storage/storagetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) (*Backend, *embedding.FakeProvider) {
	t.Helper()
	provider := embedding.NewFakeProvider(8)
	b, err := Open(Options{Path: ":memory:"}, provider, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() { b.Close() })
	return b, provider
}

func TestSQLiteBackendConformance(t *testing.T) {
	storagetest.RunConformance(t, func(t *testing.T) storage.Backend {
		b, _ := newTestBackend(t)
		return b
	})
}

func TestStoreThenRetrieveByHash(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	m, err := model.NewMemory("the sky is blue today", []string{"weather"}, "note", nil)
	require.NoError(t, err)

	stored, msg, err := b.Store(ctx, m)
	require.NoError(t, err)
	require.True(t, stored)
	require.Equal(t, "stored", msg)

	loaded, err := b.loadMemory(ctx, m.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, m.Content, loaded.Content)
	require.Equal(t, []string{"weather"}, loaded.Tags)
}

func TestStoreDuplicateIsNoOp(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	m, err := model.NewMemory("duplicate content", nil, "note", nil)
	require.NoError(t, err)

	stored, _, err := b.Store(ctx, m)
	require.NoError(t, err)
	require.True(t, stored)

	m2, err := model.NewMemory("duplicate content", nil, "note", nil)
	require.NoError(t, err)
	stored2, msg2, err := b.Store(ctx, m2)
	require.NoError(t, err)
	require.False(t, stored2)
	require.Equal(t, "duplicate", msg2)
}

func TestRetrieveRanksBySimilarity(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	for _, content := range []string{"cats are great pets", "dogs are loyal companions", "the stock market fell today"} {
		m, err := model.NewMemory(content, nil, "note", nil)
		require.NoError(t, err)
		_, _, err = b.Store(ctx, m)
		require.NoError(t, err)
	}

	results, err := b.Retrieve(ctx, "cats are great pets", 3, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "cats are great pets", results[0].Memory.Content)
	require.Contains(t, results[0].RelevanceReason, "vector:")
}

func TestSearchByTagMatchAll(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	m1, _ := model.NewMemory("first", []string{"a", "b"}, "note", nil)
	m2, _ := model.NewMemory("second", []string{"a"}, "note", nil)
	_, _, err := b.Store(ctx, m1)
	require.NoError(t, err)
	_, _, err = b.Store(ctx, m2)
	require.NoError(t, err)

	all, err := b.SearchByTag(ctx, []string{"a", "b"}, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "first", all[0].Content)

	any, err := b.SearchByTag(ctx, []string{"a", "b"}, false)
	require.NoError(t, err)
	require.Len(t, any, 2)
}

func TestDeleteRemovesMemoryTagsAndVector(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	m, err := model.NewMemory("to be deleted", []string{"x"}, "note", nil)
	require.NoError(t, err)
	_, _, err = b.Store(ctx, m)
	require.NoError(t, err)

	deleted, _, err := b.Delete(ctx, m.ContentHash)
	require.NoError(t, err)
	require.True(t, deleted)

	loaded, err := b.loadMemory(ctx, m.ContentHash)
	require.NoError(t, err)
	require.Nil(t, loaded)

	_, ok, err := b.vectors.get(ctx, m.ContentHash)
	require.NoError(t, err)
	require.False(t, ok)

	deletedAgain, _, err := b.Delete(ctx, m.ContentHash)
	require.NoError(t, err)
	require.False(t, deletedAgain)
}

func TestUpdateMetadataMergesAndReplacesTags(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	m, err := model.NewMemory("update me", []string{"old"}, "note", map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	_, _, err = b.Store(ctx, m)
	require.NoError(t, err)

	err = b.UpdateMetadata(ctx, m.ContentHash, model.Metadata{"k2": "v2"}, []string{"new"}, true, "")
	require.NoError(t, err)

	loaded, err := b.loadMemory(ctx, m.ContentHash)
	require.NoError(t, err)
	require.Equal(t, []string{"new"}, loaded.Tags)
	require.Equal(t, "v", loaded.Metadata["k"])
	require.Equal(t, "v2", loaded.Metadata["k2"])
}

func TestListPaginatesAndFilters(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m, err := model.NewMemory("item content unique text "+string(rune('a'+i)), nil, "note", nil)
		require.NoError(t, err)
		_, _, err = b.Store(ctx, m)
		require.NoError(t, err)
	}

	page, err := b.List(ctx, 0, 2, storage.ListFilters{})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, 5, page.Total)
}

func TestDimensionMismatchDegradesInsteadOfAborting(t *testing.T) {
	b, provider := newTestBackend(t)
	ctx := context.Background()

	m, err := model.NewMemory("mismatch content", []string{"x"}, "note", nil)
	require.NoError(t, err)
	_, _, err = b.Store(ctx, m)
	require.NoError(t, err)

	// Simulate the provider's dimension changing underneath already
	// stored vectors, spec §4.5 scenario S6.
	provider.Dim = provider.Dim + 1

	require.NoError(t, b.Initialize(ctx))

	stats, err := b.GetStats(ctx)
	require.NoError(t, err)
	require.False(t, stats.Healthy)
	require.Equal(t, string(engineerr.DimensionMismatch), stats.Details["error_kind"])

	byTag, err := b.SearchByTag(ctx, []string{"x"}, false)
	require.NoError(t, err)
	require.Len(t, byTag, 1)

	newMemory, err := model.NewMemory("written while degraded", nil, "note", nil)
	require.NoError(t, err)
	_, _, err = b.Store(ctx, newMemory)
	require.Error(t, err)
	require.Equal(t, engineerr.DimensionMismatch, engineerr.KindOf(err))
}

func TestGetStatsReflectsCounts(t *testing.T) {
	b, provider := newTestBackend(t)
	ctx := context.Background()

	m, err := model.NewMemory("stat content", []string{"tag1"}, "note", nil)
	require.NoError(t, err)
	_, _, err = b.Store(ctx, m)
	require.NoError(t, err)

	stats, err := b.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.TotalMemories)
	require.Equal(t, int64(1), stats.TotalTags)
	require.True(t, stats.Healthy)
	require.Equal(t, provider.Dim, stats.EmbeddingDimension)
}
