package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCachedProviderRepeatEmbedReturnsSameVector(t *testing.T) {
	inner := NewFakeProvider(4)
	cached, err := NewCachedProvider(inner, 64)
	require.NoError(t, err)

	ctx := context.Background()
	v1, err := cached.Embed(ctx, "hello world")
	require.NoError(t, err)

	// ristretto's Set is processed asynchronously; wait isn't exposed
	// through our thin wrapper so we just re-embed and compare values
	// rather than asserting the inner call count deterministically.
	v2, err := cached.Embed(ctx, "hello world")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
}

func TestCachedProviderBatchEqualsSerial(t *testing.T) {
	inner := NewFakeProvider(4)
	cached, err := NewCachedProvider(inner, 64)
	require.NoError(t, err)

	ctx := context.Background()
	texts := []string{"a", "b", "c"}
	batch, err := cached.EmbedBatch(ctx, texts)
	require.NoError(t, err)

	for i, text := range texts {
		single, err := cached.Embed(ctx, text)
		require.NoError(t, err)
		require.Equal(t, single, batch[i])
	}
}
