package federated

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hearthlabs/memoryd/internal/embedding"
	"github.com/hearthlabs/memoryd/internal/engineerr"
	"github.com/hearthlabs/memoryd/internal/httpapi"
	"github.com/hearthlabs/memoryd/internal/model"
	"github.com/hearthlabs/memoryd/internal/service"
	"github.com/hearthlabs/memoryd/internal/sqlitebackend"
	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/hearthlabs/memoryd/internal/storage/storagetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// newCoordinator stands up a real internal/httpapi router backed by a
// fresh in-memory sqlitebackend, so federated.Backend is exercised
// against the same handlers a live coordinator serves rather than a
// stub that re-encodes the client's own assumptions about the wire.
func newCoordinator(t *testing.T, authToken string) *httptest.Server {
	t.Helper()
	provider := embedding.NewFakeProvider(8)
	backend, err := sqlitebackend.Open(sqlitebackend.Options{Path: ":memory:"}, provider, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { backend.Close() })

	svc := service.New(backend, service.Config{}, zerolog.Nop())
	handler := httpapi.NewHandler(svc, httpapi.NewEventBroker(), zerolog.Nop())
	router := httpapi.NewRouter(handler, nil, zerolog.Nop(), authToken)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func newTestMemory(t *testing.T, content string) *model.Memory {
	t.Helper()
	m, err := model.NewMemory(content, nil, "note", nil)
	require.NoError(t, err)
	return m
}

func TestFederatedBackendConformance(t *testing.T) {
	storagetest.RunConformance(t, func(t *testing.T) storage.Backend {
		server := newCoordinator(t, "")
		backend, err := NewBackend(server.URL, "", 0, zerolog.Nop())
		require.NoError(t, err)
		return backend
	})
}

func TestStoreSendsBearerTokenAndRoundTripsThroughRealRouter(t *testing.T) {
	server := newCoordinator(t, "secret-token")
	backend, err := NewBackend(server.URL, "secret-token", 0, zerolog.Nop())
	require.NoError(t, err)

	m := newTestMemory(t, "hello federated world")
	stored, msg, err := backend.Store(context.Background(), m)
	require.NoError(t, err)
	require.True(t, stored)
	require.Equal(t, "stored", msg)
}

func TestMissingBearerTokenMapsToUnauthorized(t *testing.T) {
	server := newCoordinator(t, "secret-token")
	backend, err := NewBackend(server.URL, "", 0, zerolog.Nop())
	require.NoError(t, err)

	m := newTestMemory(t, "unauthorized case")
	_, _, err = backend.Store(context.Background(), m)
	require.Error(t, err)
	require.Equal(t, engineerr.Unauthorized, engineerr.KindOf(err))
}

func TestRetrieveCallsSearchRoute(t *testing.T) {
	server := newCoordinator(t, "")
	backend, err := NewBackend(server.URL, "", 0, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = backend.Store(ctx, newTestMemory(t, "rivers flow toward the sea"))
	require.NoError(t, err)

	results, err := backend.Retrieve(ctx, "rivers and streams", 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "rivers flow toward the sea", results[0].Memory.Content)
}

func TestSearchByTagCallsByTagRoute(t *testing.T) {
	server := newCoordinator(t, "")
	backend, err := NewBackend(server.URL, "", 0, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	m1, err := model.NewMemory("alpha memo", []string{"x", "y"}, "note", nil)
	require.NoError(t, err)
	_, _, err = backend.Store(ctx, m1)
	require.NoError(t, err)

	m2, err := model.NewMemory("beta memo", []string{"x"}, "note", nil)
	require.NoError(t, err)
	_, _, err = backend.Store(ctx, m2)
	require.NoError(t, err)

	all, err := backend.SearchByTag(ctx, []string{"x", "y"}, true)
	require.NoError(t, err)
	require.Len(t, all, 1)

	any, err := backend.SearchByTag(ctx, []string{"x", "y"}, false)
	require.NoError(t, err)
	require.Len(t, any, 2)
}

func TestSearchByTimeCallsByTimeRoute(t *testing.T) {
	server := newCoordinator(t, "")
	backend, err := NewBackend(server.URL, "", 0, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = backend.Store(ctx, newTestMemory(t, "time bound memory"))
	require.NoError(t, err)

	now := time.Now().UTC()
	results, err := backend.SearchByTime(ctx, storage.TimeRange{
		Start: now.AddDate(-1, 0, 0),
		End:   now.AddDate(1, 0, 0),
	}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchSimilarToCallsSimilarRoute(t *testing.T) {
	server := newCoordinator(t, "")
	backend, err := NewBackend(server.URL, "", 0, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	m1, err := model.NewMemory("cats are great pets", nil, "note", nil)
	require.NoError(t, err)
	_, _, err = backend.Store(ctx, m1)
	require.NoError(t, err)

	m2, err := model.NewMemory("dogs are loyal companions", nil, "note", nil)
	require.NoError(t, err)
	_, _, err = backend.Store(ctx, m2)
	require.NoError(t, err)

	results, err := backend.SearchSimilarTo(ctx, m1.ContentHash, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		require.NotEqual(t, m1.ContentHash, r.Memory.ContentHash)
	}
}

func TestListUsesPageBasedPagination(t *testing.T) {
	server := newCoordinator(t, "")
	backend, err := NewBackend(server.URL, "", 0, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := backend.Store(ctx, newTestMemory(t, "list item content "+string(rune('a'+i))))
		require.NoError(t, err)
	}

	page, err := backend.List(ctx, 0, 2, storage.ListFilters{})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, 5, page.Total)

	nextPage, err := backend.List(ctx, 2, 2, storage.ListFilters{})
	require.NoError(t, err)
	require.Len(t, nextPage.Records, 2)
}

func TestUnauthorizedResponseFromRealRouterMapsToUnauthorizedKind(t *testing.T) {
	server := newCoordinator(t, "secret-token")
	backend, err := NewBackend(server.URL, "wrong-token", 0, zerolog.Nop())
	require.NoError(t, err)

	err = backend.Initialize(context.Background())
	require.Error(t, err)
	require.Equal(t, engineerr.Unauthorized, engineerr.KindOf(err))
	_, _, err = backend.Store(context.Background(), newTestMemory(t, "gated content"))
	require.Error(t, err)
	require.Equal(t, engineerr.Unauthorized, engineerr.KindOf(err))
}
