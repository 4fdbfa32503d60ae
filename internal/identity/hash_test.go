package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestContentHashIndependentOfCallOrder(t *testing.T) {
	a := ContentHash([]byte("Fixed the race condition with a mutex"))
	b := ContentHash([]byte("Fixed the race condition with a mutex"))
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}

func TestContentHashChangesWithContent(t *testing.T) {
	a := ContentHash([]byte("hello world"))
	b := ContentHash([]byte("hello world "))
	require.NotEqual(t, a, b)
}

func TestContentHashUnicodeStable(t *testing.T) {
	a := ContentHash([]byte("fixed the bug \U0001F41B"))
	b := ContentHash([]byte("fixed the bug \U0001F41B"))
	require.Equal(t, a, b)
}

func TestISO8601RoundTrip(t *testing.T) {
	now := Now()
	iso := ToISO8601(now)
	require.Contains(t, iso, "Z")

	parsed, err := FromISO8601(iso)
	require.NoError(t, err)
	require.WithinDuration(t, now, parsed, time.Millisecond)
}
