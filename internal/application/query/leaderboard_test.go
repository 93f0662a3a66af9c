package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/guild-hub/guild-xp/internal/infrastructure/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCurve struct{ c experience.Curve }

func (f fixedCurve) Curve() experience.Curve { return f.c }

type mapCache struct {
	pages   map[string][]experience.RankedRecord
	puts    int
	failGet bool
}

func newMapCache() *mapCache {
	return &mapCache{pages: make(map[string][]experience.RankedRecord)}
}

func (m *mapCache) GetPage(_ context.Context, from, to int) ([]experience.RankedRecord, bool, error) {
	if m.failGet {
		return nil, false, errors.New("connection refused")
	}
	p, ok := m.pages[fmt.Sprintf("%d-%d", from, to)]
	return p, ok, nil
}

func (m *mapCache) PutPage(_ context.Context, from, to int, page []experience.RankedRecord) error {
	m.puts++
	m.pages[fmt.Sprintf("%d-%d", from, to)] = page
	return nil
}

// seededStore holds principals 1..25 with 10*id experience, so principal id has rank 26-id.
func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.NewStore()
	curve := experience.DefaultCurve()
	entries := make(map[shared.PrincipalID]experience.Progress)
	for i := 1; i <= 25; i++ {
		entries[shared.PrincipalID(i)] = experience.ProgressFor(curve, float64(i*10))
	}
	require.NoError(t, s.UpsertRecordsBatch(context.Background(), entries))
	return s
}

func newTestLeaderboard(t *testing.T, cache RankCache) *Leaderboard {
	return NewLeaderboard(seededStore(t), fixedCurve{experience.DefaultCurve()}, cache, nil)
}

func TestClampPageSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, ClampPageSize(0))
	assert.Equal(t, MinPageSize, ClampPageSize(1))
	assert.Equal(t, MinPageSize, ClampPageSize(-4))
	assert.Equal(t, 7, ClampPageSize(7))
	assert.Equal(t, MaxPageSize, ClampPageSize(500))
}

func TestLeaderboard_Top(t *testing.T) {
	ctx := context.Background()
	lb := newTestLeaderboard(t, nil)

	page, err := lb.Top(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	require.Len(t, page.Entries, DefaultPageSize)
	assert.Equal(t, shared.PrincipalID(25), page.Entries[0].PrincipalID)
	assert.Equal(t, 1, page.Entries[0].Rank)

	page, err = lb.Top(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, page.Entries, MaxPageSize)
}

func TestLeaderboard_AroundCentresOnMember(t *testing.T) {
	ctx := context.Background()
	lb := newTestLeaderboard(t, nil)

	// principal 15 has rank 11; low = 11 - ceil(5/2) = 8
	page, err := lb.Around(ctx, 15, 5)
	require.NoError(t, err)
	assert.Equal(t, 8, page.FromRank)
	assert.Equal(t, 12, page.ToRank)
	require.Len(t, page.Entries, 5)
	assert.Equal(t, 8, page.Entries[0].Rank)
	assert.Equal(t, 12, page.Entries[4].Rank)
}

func TestLeaderboard_AroundClampsAtTop(t *testing.T) {
	page, err := newTestLeaderboard(t, nil).Around(context.Background(), 25, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, page.FromRank)
	assert.Equal(t, 5, page.ToRank)
}

func TestLeaderboard_AroundUnrankedFallsBackToTop(t *testing.T) {
	page, err := newTestLeaderboard(t, nil).Around(context.Background(), 999, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, page.FromRank)
	require.Len(t, page.Entries, 5)
	assert.Equal(t, shared.PrincipalID(25), page.Entries[0].PrincipalID)
}

func TestLeaderboard_MemberInfo(t *testing.T) {
	ctx := context.Background()
	lb := newTestLeaderboard(t, nil)

	info, err := lb.MemberInfo(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 200.0, info.Experience)
	assert.Equal(t, 1, info.Level)
	require.NotNil(t, info.Rank)
	assert.Equal(t, 6, *info.Rank)
	assert.InDelta(t, 1.0/3.0, info.Progress, 1e-9)
	assert.Equal(t, 400.0, info.NextRequirement)
	assert.Equal(t, "200", info.Display)
}

func TestLeaderboard_MemberInfoUnknown(t *testing.T) {
	info, err := newTestLeaderboard(t, nil).MemberInfo(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, info.Rank)
	assert.Zero(t, info.Experience)
	assert.Zero(t, info.Level)
	assert.Equal(t, 100.0, info.NextRequirement)
}

func TestLeaderboard_ReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	lb := newTestLeaderboard(t, cache)

	first, err := lb.Top(ctx, 5)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, cache.puts)

	second, err := lb.Top(ctx, 5)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Entries, second.Entries)
	assert.Equal(t, 1, cache.puts)
}

func TestLeaderboard_CacheFailureFallsBackToStore(t *testing.T) {
	cache := newMapCache()
	cache.failGet = true

	page, err := newTestLeaderboard(t, cache).Top(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, page.Cached)
	assert.Len(t, page.Entries, 5)
}
