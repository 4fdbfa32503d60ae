package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTimeQueryYesterday(t *testing.T) {
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	r, err := ParseTimeQuery("yesterday", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC), r.Start)
	require.Equal(t, time.Date(2026, 8, 5, 23, 59, 59, 0, time.UTC), r.End)
}

func TestParseTimeQueryRelativeAgo(t *testing.T) {
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	r, err := ParseTimeQuery("2 days ago", now)
	require.NoError(t, err)
	require.Equal(t, now.Add(-48*time.Hour), r.Start)
	require.Equal(t, now, r.End)
}

func TestParseTimeQueryUnparseable(t *testing.T) {
	_, err := ParseTimeQuery("whenever, man", time.Now())
	require.Error(t, err)
}

func TestParseTimeQueryRFC3339(t *testing.T) {
	r, err := ParseTimeQuery("2026-01-15T10:00:00Z", time.Now())
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), r.Start)
}

func TestParseTimeQueryDateOnlyIsDayGranularity(t *testing.T) {
	r, err := ParseTimeQuery("2026-01-15", time.Now())
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), r.Start)
	require.Equal(t, time.Date(2026, 1, 15, 23, 59, 59, 0, time.UTC), r.End)
}
