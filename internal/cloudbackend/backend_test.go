package cloudbackend

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hearthlabs/memoryd/internal/embedding"
	"github.com/hearthlabs/memoryd/internal/model"
	"github.com/hearthlabs/memoryd/internal/query"
	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/hearthlabs/memoryd/internal/storage/storagetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type fakeVectorIndex struct {
	mu   sync.Mutex
	data map[string][]float32
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{data: map[string][]float32{}}
}

func (f *fakeVectorIndex) Upsert(ctx context.Context, contentHash string, embedding []float32, dimension int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[contentHash] = embedding
	return nil
}

func (f *fakeVectorIndex) Delete(ctx context.Context, contentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, contentHash)
	return nil
}

func (f *fakeVectorIndex) Get(ctx context.Context, contentHash string) ([]float32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[contentHash]
	return v, ok, nil
}

func (f *fakeVectorIndex) Query(ctx context.Context, embedding []float32, topK int, excludeHash string) ([]VectorMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []VectorMatch
	for hash, vec := range f.data {
		if hash == excludeHash {
			continue
		}
		matches = append(matches, VectorMatch{ContentHash: hash, Score: query.CosineSimilarity(embedding, vec)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func newTestCloudBackend(t *testing.T) (*Backend, *fakeVectorIndex) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(Schema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	vectors := newFakeVectorIndex()
	rel := NewSQLRelationalStore(db)
	provider := embedding.NewFakeProvider(8)
	backend := NewBackend(vectors, rel, nil, provider, nil, RetryOptions{}, 0, zerolog.Nop())
	return backend, vectors
}

func TestCloudBackendConformance(t *testing.T) {
	storagetest.RunConformance(t, func(t *testing.T) storage.Backend {
		backend, _ := newTestCloudBackend(t)
		return backend
	})
}

func TestCloudBackendStoreAndRetrieve(t *testing.T) {
	backend, _ := newTestCloudBackend(t)
	ctx := context.Background()

	m, err := model.NewMemory("cloud memory about oceans", []string{"nature"}, "note", nil)
	require.NoError(t, err)

	stored, msg, err := backend.Store(ctx, m)
	require.NoError(t, err)
	require.True(t, stored)
	require.Equal(t, "stored", msg)

	results, err := backend.Retrieve(ctx, "cloud memory about oceans", 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, m.Content, results[0].Memory.Content)
}

func TestCloudBackendDuplicateStoreIsNoOp(t *testing.T) {
	backend, _ := newTestCloudBackend(t)
	ctx := context.Background()

	m1, err := model.NewMemory("same content twice", nil, "note", nil)
	require.NoError(t, err)
	stored, _, err := backend.Store(ctx, m1)
	require.NoError(t, err)
	require.True(t, stored)

	m2, err := model.NewMemory("same content twice", nil, "note", nil)
	require.NoError(t, err)
	stored2, msg2, err := backend.Store(ctx, m2)
	require.NoError(t, err)
	require.False(t, stored2)
	require.Equal(t, "duplicate", msg2)
}

func TestCloudBackendDeleteRemovesVectorAndRow(t *testing.T) {
	backend, vectors := newTestCloudBackend(t)
	ctx := context.Background()

	m, err := model.NewMemory("to remove", []string{"x"}, "note", nil)
	require.NoError(t, err)
	_, _, err = backend.Store(ctx, m)
	require.NoError(t, err)

	deleted, _, err := backend.Delete(ctx, m.ContentHash)
	require.NoError(t, err)
	require.True(t, deleted)

	_, ok, err := vectors.Get(ctx, m.ContentHash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRetryOptionsWithDefaultsMatchesSpec(t *testing.T) {
	o := RetryOptions{}.withDefaults()
	require.Equal(t, uint64(3), o.MaxRetries)
	require.Equal(t, time.Second, o.BaseDelay)
}

func TestNewBackendUsesConfiguredContentThreshold(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(Schema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	vectors := newFakeVectorIndex()
	rel := NewSQLRelationalStore(db)
	provider := embedding.NewFakeProvider(8)
	backend := NewBackend(vectors, rel, nil, provider, nil, RetryOptions{}, 16, zerolog.Nop())

	m, err := model.NewMemory("this content is well over sixteen bytes long", nil, "note", nil)
	require.NoError(t, err)
	_, _, err = backend.Store(context.Background(), m)
	require.NoError(t, err)

	row, err := rel.GetMemory(context.Background(), m.ContentHash)
	require.NoError(t, err)
	require.True(t, row.LargeObject)
}

func TestNewBackendDefaultsContentThresholdWhenUnset(t *testing.T) {
	backend, _ := newTestCloudBackend(t)
	require.Equal(t, int64(DefaultInlineContentThreshold), backend.contentThreshold)
}

func TestCloudBackendListPagination(t *testing.T) {
	backend, _ := newTestCloudBackend(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m, err := model.NewMemory("cloud item "+string(rune('a'+i)), nil, "note", nil)
		require.NoError(t, err)
		_, _, err = backend.Store(ctx, m)
		require.NoError(t, err)
	}

	page, err := backend.List(ctx, 0, 2, storage.ListFilters{})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, 3, page.Total)
}
