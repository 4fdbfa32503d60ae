package service

import (
	"context"
	"testing"
	"time"

	"github.com/hearthlabs/memoryd/internal/embedding"
	"github.com/hearthlabs/memoryd/internal/sqlitebackend"
	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	provider := embedding.NewFakeProvider(8)
	backend, err := sqlitebackend.Open(sqlitebackend.Options{Path: ":memory:"}, provider, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { backend.Close() })
	return New(backend, cfg, zerolog.Nop())
}

func TestStoreMemoryAppliesHostnameTag(t *testing.T) {
	svc := newTestService(t, Config{HostnameTaggingEnabled: true, Hostname: "test-host"})
	ctx := context.Background()

	result, err := svc.StoreMemory(ctx, "content needing a hostname tag", nil, "", nil, "", 0, "")
	require.NoError(t, err)
	require.True(t, result.Success)

	page, err := svc.List(ctx, 0, 10, storage.ListFilters{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	require.Contains(t, page.Results[0].Tags, "source:test-host")
}

func TestStoreMemoryRejectsEmptyContent(t *testing.T) {
	svc := newTestService(t, Config{})
	_, err := svc.StoreMemory(context.Background(), "   ", nil, "", nil, "", 0, "")
	require.Error(t, err)
}

func TestSearchByTagMatchAllIsSubsetOfMatchAny(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.StoreMemory(ctx, "alpha content", []string{"x", "y"}, "", nil, "", 0, "")
	require.NoError(t, err)
	_, err = svc.StoreMemory(ctx, "beta content", []string{"x"}, "", nil, "", 0, "")
	require.NoError(t, err)

	all, err := svc.SearchByTag(ctx, []string{"x", "y"}, true)
	require.NoError(t, err)
	require.Len(t, all.Results, 1)

	any, err := svc.SearchByTag(ctx, []string{"x", "y"}, false)
	require.NoError(t, err)
	require.Len(t, any.Results, 2)
}

func TestRetrieveMemoryReportsTiming(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.StoreMemory(ctx, "semantic content about rivers", nil, "", nil, "", 0, "")
	require.NoError(t, err)

	result, err := svc.RetrieveMemory(ctx, "rivers and streams", 5, 0)
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalFound)
	require.GreaterOrEqual(t, result.ProcessingTimeMs, int64(0))
}

func TestStoreMemoryPropagatesCallerCreatedAt(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	past := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	_, err := svc.StoreMemory(ctx, "backdated content", nil, "", nil, "",
		float64(past.Unix()), past.Format("2006-01-02T15:04:05.000000Z"))
	require.NoError(t, err)

	page, err := svc.List(ctx, 0, 10, storage.ListFilters{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	require.WithinDuration(t, past, page.Results[0].CreatedAt, time.Second)
}

func TestStoreMemoryDiscardsWildlyDisagreeingTimestamps(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	before := time.Now().UTC()
	past := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	_, err := svc.StoreMemory(ctx, "corrupt timestamp content", nil, "", nil, "",
		float64(past.Unix()), "2021-06-07T08:09:10.000000Z")
	require.NoError(t, err)

	page, err := svc.List(ctx, 0, 10, storage.ListFilters{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	require.True(t, page.Results[0].CreatedAt.After(before.Add(-time.Second)))
}

func TestDeleteMemoryReturnsNotFoundMessage(t *testing.T) {
	svc := newTestService(t, Config{})
	result, err := svc.DeleteMemory(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.False(t, result.Success)
}
