package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/guild-hub/guild-xp/internal/domain/autorole"
	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/rolescalar"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, guild shared.GuildID) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xp.sqlite")
	s, err := Open(path, guild)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ", 1)
	require.Error(t, err)
}

func TestClose_NilSafe(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
}

func TestStore_RecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 1)

	_, err := s.GetRecord(ctx, 10)
	assert.True(t, experience.IsRecordNotFound(err))

	require.NoError(t, s.UpsertRecord(ctx, 10, experience.Progress{Experience: 120.5, Level: 1}))
	require.NoError(t, s.UpsertRecord(ctx, 10, experience.Progress{Experience: 450, Level: 2}))

	rec, err := s.GetRecord(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, experience.Record{PrincipalID: 10, Experience: 450, Level: 2}, rec)

	n, err := s.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_GuildIsolation(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.sqlite")

	a, err := Open(path, 1)
	require.NoError(t, err)
	require.NoError(t, a.UpsertRecord(ctx, 10, experience.Progress{Experience: 100, Level: 1}))
	require.NoError(t, a.Close())

	b, err := Open(path, 2)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.GetRecord(ctx, 10)
	assert.True(t, experience.IsRecordNotFound(err))
}

func TestStore_BatchAndRanking(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 1)

	entries := map[shared.PrincipalID]experience.Progress{
		1: {Experience: 500, Level: 2},
		2: {Experience: 900, Level: 3},
		3: {Experience: 500, Level: 2},
		4: {Experience: 100, Level: 1},
	}
	require.NoError(t, s.UpsertRecordsBatch(ctx, entries))

	got, err := s.GetRecordsBatch(ctx, []shared.PrincipalID{1, 2, 99})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	top, err := s.GetRankedRange(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, shared.PrincipalID(2), top[0].PrincipalID)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, shared.PrincipalID(1), top[1].PrincipalID)
	assert.Equal(t, 2, top[2].Rank)

	r, err := s.GetRank(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Rank)

	_, err = s.GetRank(ctx, 99)
	assert.True(t, experience.IsRecordNotFound(err))
}

func TestStore_GetRecordsBatchChunks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 1)

	entries := make(map[shared.PrincipalID]experience.Progress, batchChunk+50)
	ids := make([]shared.PrincipalID, 0, batchChunk+50)
	for i := 1; i <= batchChunk+50; i++ {
		id := shared.PrincipalID(i)
		entries[id] = experience.Progress{Experience: float64(i)}
		ids = append(ids, id)
	}
	require.NoError(t, s.UpsertRecordsBatch(ctx, entries))

	got, err := s.GetRecordsBatch(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, got, batchChunk+50)
}

func TestStore_SettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 1)

	empty, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty.CurveScalar)
	assert.Nil(t, empty.AnnounceChannel)

	scalar, gainCap := 50.0, 200.0
	ch := shared.ChannelID(777)
	require.NoError(t, s.SaveSettings(ctx, experience.StoredSettings{
		CurveScalar:     &scalar,
		GainCap:         &gainCap,
		AnnounceChannel: &ch,
	}))

	loaded, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded.CurveScalar)
	assert.Equal(t, 50.0, *loaded.CurveScalar)
	assert.Nil(t, loaded.CurvePower)
	assert.Equal(t, 200.0, *loaded.GainCap)
	require.NotNil(t, loaded.AnnounceChannel)
	assert.Equal(t, ch, *loaded.AnnounceChannel)
}

func TestStore_ApplyCurveMigrationIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 1)

	require.NoError(t, s.UpsertRecord(ctx, 1, experience.Progress{Experience: 400, Level: 2}))

	scalar := 10.0
	require.NoError(t, s.ApplyCurveMigration(ctx,
		map[shared.PrincipalID]experience.Progress{1: {Experience: 400, Level: 6}},
		experience.StoredSettings{CurveScalar: &scalar},
	))

	rec, err := s.GetRecord(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Level)

	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10.0, *settings.CurveScalar)

	// a CHECK violation rolls back the whole migration
	other := 20.0
	err = s.ApplyCurveMigration(ctx,
		map[shared.PrincipalID]experience.Progress{1: {Experience: 400, Level: -1}},
		experience.StoredSettings{CurveScalar: &other},
	)
	require.Error(t, err)

	settings, err = s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10.0, *settings.CurveScalar)
}

func TestStore_ScanRecordsAllowsWrites(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 1)

	require.NoError(t, s.UpsertRecordsBatch(ctx, map[shared.PrincipalID]experience.Progress{
		1: {Experience: 10},
		2: {Experience: 20},
	}))

	var seen int
	err := s.ScanRecords(ctx, func(r experience.Record) error {
		seen++
		return s.UpsertRecord(ctx, r.PrincipalID, experience.Progress{Experience: r.Experience * 2})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)

	rec, err := s.GetRecord(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 40.0, rec.Experience)
}

func TestStore_ScalarRuleContract(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 1)

	require.NoError(t, s.CreateScalarRule(ctx, rolescalar.Rule{RoleID: 1, Scalar: 2}))
	assert.ErrorIs(t, s.CreateScalarRule(ctx, rolescalar.Rule{RoleID: 1, Scalar: 3}), shared.ErrScalarRuleExists)

	prio := 7
	require.NoError(t, s.UpdateScalarRule(ctx, 1, rolescalar.Patch{Priority: &prio}))
	rules, err := s.ListScalarRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []rolescalar.Rule{{RoleID: 1, Scalar: 2, Priority: 7}}, rules)

	assert.ErrorIs(t, s.UpdateScalarRule(ctx, 2, rolescalar.Patch{Priority: &prio}), shared.ErrScalarRuleNotFound)
	require.NoError(t, s.DeleteScalarRule(ctx, 1))
	assert.ErrorIs(t, s.DeleteScalarRule(ctx, 1), shared.ErrScalarRuleNotFound)
}

func TestStore_AutoroleContract(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 1)

	require.NoError(t, s.CreateAutoroleRule(ctx, autorole.Rule{RoleID: 5, AssignAt: 3, RemoveAt: 10}))
	assert.ErrorIs(t, s.CreateAutoroleRule(ctx, autorole.Rule{RoleID: 5, AssignAt: 1}), shared.ErrAutoroleExists)

	removeAt := 0
	require.NoError(t, s.UpdateAutoroleRule(ctx, 5, autorole.Patch{RemoveAt: &removeAt}))

	rules, err := s.ListAutoroleRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []autorole.Rule{{RoleID: 5, AssignAt: 3, RemoveAt: 0}}, rules)

	assert.ErrorIs(t, s.UpdateAutoroleRule(ctx, 6, autorole.Patch{RemoveAt: &removeAt}), shared.ErrAutoroleNotFound)
	require.NoError(t, s.DeleteAutoroleRule(ctx, 5))
	assert.ErrorIs(t, s.DeleteAutoroleRule(ctx, 5), shared.ErrAutoroleNotFound)
}
