package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/guild-hub/guild-xp/internal/domain/autorole"
	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/rolescalar"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to DATABASE_URL, migrates, and scopes the store to a
// fresh guild whose rows are removed on cleanup.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.URL = url
	conn, err := NewConnection(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, NewMigrator(conn).Migrate(ctx))

	guild := shared.GuildID(time.Now().UnixNano())
	t.Cleanup(func() {
		for _, table := range []string{"experience_records", "guild_settings", "role_scalars", "autoroles"} {
			_, _ = conn.Pool().Exec(ctx, "DELETE FROM "+table+" WHERE guild_id = $1", int64(guild))
		}
		conn.Close()
	})
	return NewStore(conn, guild)
}

func TestConfig_PoolConfigAppliesOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "postgres://xp:xp@localhost:5432/xp?sslmode=disable"
	cfg.MaxConns = 4

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(4), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)

	cfg.URL = "postgres://xp@localhost:notaport/xp"
	_, err = cfg.PoolConfig()
	assert.Error(t, err)
}

func TestMigrator_IsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := NewMigrator(s.conn)
	require.NoError(t, m.Migrate(ctx))

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, len(GetMigrations()))
	for _, m := range status {
		assert.True(t, m.IsApplied, "migration %d", m.Version)
	}
}

func TestStore_RecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

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

func TestStore_BatchUpsertAndDenseRank(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertRecordsBatch(ctx, map[shared.PrincipalID]experience.Progress{
		1: {Experience: 500, Level: 2},
		2: {Experience: 900, Level: 3},
		3: {Experience: 500, Level: 2},
		4: {Experience: 100, Level: 1},
	}))

	got, err := s.GetRecordsBatch(ctx, []shared.PrincipalID{1, 2, 99})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	top, err := s.GetRankedRange(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, shared.PrincipalID(2), top[0].PrincipalID)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, shared.PrincipalID(1), top[1].PrincipalID)
	assert.Equal(t, 2, top[1].Rank)
	assert.Equal(t, shared.PrincipalID(3), top[2].PrincipalID)
	assert.Equal(t, 2, top[2].Rank)

	r, err := s.GetRank(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Rank)

	_, err = s.GetRank(ctx, 99)
	assert.True(t, experience.IsRecordNotFound(err))
}

func TestStore_SettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	empty, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty.CurveScalar)

	scalar := 50.0
	ch := shared.ChannelID(777)
	require.NoError(t, s.SaveSettings(ctx, experience.StoredSettings{CurveScalar: &scalar, AnnounceChannel: &ch}))

	loaded, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded.CurveScalar)
	assert.Equal(t, 50.0, *loaded.CurveScalar)
	assert.Nil(t, loaded.CurvePower)
	require.NotNil(t, loaded.AnnounceChannel)
	assert.Equal(t, ch, *loaded.AnnounceChannel)
}

func TestStore_ApplyCurveMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertRecord(ctx, 1, experience.Progress{Experience: 400, Level: 2}))

	scalar := 10.0
	require.NoError(t, s.ApplyCurveMigration(ctx,
		map[shared.PrincipalID]experience.Progress{1: {Experience: 400, Level: 6}},
		experience.StoredSettings{CurveScalar: &scalar},
	))
	rec, err := s.GetRecord(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Level)

	// valid_level rejects the batch, so the settings write is rolled back too
	other := 20.0
	err = s.ApplyCurveMigration(ctx,
		map[shared.PrincipalID]experience.Progress{1: {Experience: 400, Level: -1}},
		experience.StoredSettings{CurveScalar: &other},
	)
	require.Error(t, err)

	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10.0, *settings.CurveScalar)
	rec, err = s.GetRecord(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Level)
}

func TestStore_ScanRecordsVisitsGuildRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertRecordsBatch(ctx, map[shared.PrincipalID]experience.Progress{
		1: {Experience: 10},
		2: {Experience: 20},
	}))

	seen := map[shared.PrincipalID]float64{}
	require.NoError(t, s.ScanRecords(ctx, func(r experience.Record) error {
		seen[r.PrincipalID] = r.Experience
		return nil
	}))
	assert.Equal(t, map[shared.PrincipalID]float64{1: 10, 2: 20}, seen)
}

func TestStore_RuleConflictsMapToDomainErrors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateScalarRule(ctx, rolescalar.Rule{RoleID: 1, Scalar: 2}))
	assert.ErrorIs(t, s.CreateScalarRule(ctx, rolescalar.Rule{RoleID: 1, Scalar: 3}), shared.ErrScalarRuleExists)

	prio := 7
	require.NoError(t, s.UpdateScalarRule(ctx, 1, rolescalar.Patch{Priority: &prio}))
	rules, err := s.ListScalarRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []rolescalar.Rule{{RoleID: 1, Scalar: 2, Priority: 7}}, rules)
	require.NoError(t, s.DeleteScalarRule(ctx, 1))
	assert.ErrorIs(t, s.DeleteScalarRule(ctx, 1), shared.ErrScalarRuleNotFound)

	require.NoError(t, s.CreateAutoroleRule(ctx, autorole.Rule{RoleID: 5, AssignAt: 3, RemoveAt: 10}))
	assert.ErrorIs(t, s.CreateAutoroleRule(ctx, autorole.Rule{RoleID: 5, AssignAt: 1}), shared.ErrAutoroleExists)
	assert.ErrorIs(t, s.DeleteAutoroleRule(ctx, 6), shared.ErrAutoroleNotFound)
}
