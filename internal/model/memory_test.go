package model

import (
	"testing"
	"time"

	"github.com/hearthlabs/memoryd/internal/identity"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryDefaultsTimestampsToNow(t *testing.T) {
	before := identity.Now()
	m, err := NewMemory("plain content", nil, "note", nil)
	require.NoError(t, err)
	require.WithinDuration(t, before, m.CreatedAt, time.Second)
	require.Equal(t, m.CreatedAt, m.UpdatedAt)
}

func TestNewMemoryRejectsEmptyContent(t *testing.T) {
	_, err := NewMemory("   ", nil, "note", nil)
	require.Error(t, err)
}

func TestNewMemoryPrefersEpochWhenTimestampsAgreeWithinTolerance(t *testing.T) {
	caller := time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)
	// Off by 400ms, within the 1s tolerance.
	iso := caller.Add(400 * time.Millisecond).Format("2006-01-02T15:04:05.000000Z")

	m, err := NewMemory("content", nil, "note", nil, WithCreatedAt(caller, iso))
	require.NoError(t, err)
	require.WithinDuration(t, caller, m.CreatedAt, time.Millisecond)
}

func TestNewMemoryRegeneratesISOOnModerateDrift(t *testing.T) {
	caller := time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)
	// Off by an hour: a timezone-style disagreement, not corruption.
	iso := caller.Add(time.Hour).Format("2006-01-02T15:04:05.000000Z")

	m, err := NewMemory("content", nil, "note", nil, WithCreatedAt(caller, iso))
	require.NoError(t, err)
	require.WithinDuration(t, caller, m.CreatedAt, time.Millisecond)
	require.Equal(t, identity.ToISO8601(caller), m.CreatedAtISO())
}

func TestNewMemoryFallsBackToNowOnLargeDrift(t *testing.T) {
	before := identity.Now()
	caller := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	iso := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02T15:04:05.000000Z")

	m, err := NewMemory("content", nil, "note", nil, WithCreatedAt(caller, iso))
	require.NoError(t, err)
	require.WithinDuration(t, before, m.CreatedAt, time.Second)
}

func TestNewMemoryAcceptsISOOnlyTimestamp(t *testing.T) {
	iso := "2022-03-04T05:06:07.000000Z"
	m, err := NewMemory("content", nil, "note", nil, WithCreatedAt(time.Time{}, iso))
	require.NoError(t, err)
	require.Equal(t, iso, m.CreatedAtISO())
}

func TestNewMemoryFallsBackToNowOnUnparsableISO(t *testing.T) {
	before := identity.Now()
	m, err := NewMemory("content", nil, "note", nil, WithCreatedAt(time.Time{}, "not-a-timestamp"))
	require.NoError(t, err)
	require.WithinDuration(t, before, m.CreatedAt, time.Second)
}
