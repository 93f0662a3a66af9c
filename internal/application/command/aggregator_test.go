package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/rolescalar"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGuild shared.GuildID = 9001

type harness struct {
	agg      *Aggregator
	store    *fakeStore
	guild    *fakeGuild
	events   *recordingPublisher
	observer *countingObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    newFakeStore(),
		guild:    newFakeGuild(),
		events:   &recordingPublisher{},
		observer: &countingObserver{},
	}
	h.agg = NewAggregator(h.store, h.store, h.guild, h.events, DefaultAggregatorConfig(testGuild))
	h.agg.AddObserver(h.observer)
	require.NoError(t, h.agg.Load(context.Background()))
	return h
}

func (h *harness) record(t *testing.T, id shared.PrincipalID) experience.Record {
	t.Helper()
	rec, err := h.store.GetRecord(context.Background(), id)
	require.NoError(t, err)
	return rec
}

// ─────────────────────────────────────────────────────────────────────────────
// Load / settings
// ─────────────────────────────────────────────────────────────────────────────

func TestAggregator_LoadPersistsResolvedDefaults(t *testing.T) {
	h := newHarness(t)

	stored, err := h.store.LoadSettings(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored.CurveScalar)
	assert.Equal(t, 100.0, *stored.CurveScalar)
	require.NotNil(t, stored.GainCap)
	assert.Equal(t, 150.0, *stored.GainCap)
	assert.Equal(t, experience.DefaultSettings(), h.agg.Settings())
}

func TestAggregator_LoadKeepsStoredValues(t *testing.T) {
	store := newFakeStore()
	power := 3.0
	require.NoError(t, store.Store.SaveSettings(context.Background(), experience.StoredSettings{CurvePower: &power}))

	agg := NewAggregator(store, store, newFakeGuild(), &recordingPublisher{}, DefaultAggregatorConfig(testGuild))
	require.NoError(t, agg.Load(context.Background()))

	assert.Equal(t, experience.Curve{Scalar: 100, Power: 3}, agg.Curve())
}

func TestAggregator_SettingsMutations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.agg.SetReward(ctx, experience.ActionMessage, -5)
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, 50.0, h.agg.Settings().Rewards.Message)

	s, err := h.agg.SetReward(ctx, experience.ActionMessage, 20)
	require.NoError(t, err)
	assert.Equal(t, 20.0, s.Rewards.Message)

	_, err = h.agg.SetGainCap(ctx, -1)
	assert.True(t, shared.IsValidation(err))

	ch := shared.ChannelID(77)
	s, err = h.agg.SetAnnounceChannel(ctx, &ch)
	require.NoError(t, err)
	require.NotNil(t, s.AnnounceChannel)

	stored, _ := h.store.LoadSettings(ctx)
	assert.Equal(t, 20.0, *stored.MessageReward)
	assert.Equal(t, ch, *stored.AnnounceChannel)

	s, err = h.agg.SetAnnounceChannel(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, s.AnnounceChannel)
}

// ─────────────────────────────────────────────────────────────────────────────
// Buffered path
// ─────────────────────────────────────────────────────────────────────────────

func TestAggregator_AddExperienceIgnoresNonPositive(t *testing.T) {
	h := newHarness(t)

	h.agg.AddExperienceFromAction(1, 0)
	h.agg.AddExperienceFromAction(1, -10)

	assert.Equal(t, 0, h.agg.PendingCount())
}

func TestAggregator_FlushEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.agg.AddExperienceFromAction(42, 60)
	h.agg.AddExperienceFromAction(42, 60)

	res, err := h.agg.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, res.LevelUps)
	assert.NotEmpty(t, res.CycleID)

	rec := h.record(t, 42)
	assert.Equal(t, 120.0, rec.Experience)
	assert.Equal(t, 1, rec.Level)

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, shared.EventLevelUp, events[0].EventType())
	assert.Equal(t, 0, events[0].OldLevel)
	assert.Equal(t, 1, events[0].NewLevel)
	assert.Equal(t, res.CycleID, events[0].CorrelationID)
	assert.Equal(t, 1, h.observer.calls)
	assert.Equal(t, 0, h.agg.PendingCount())
}

func TestAggregator_FlushWithEmptyBufferDoesNothing(t *testing.T) {
	h := newHarness(t)

	res, err := h.agg.Flush(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.CycleID)
	assert.Equal(t, 0, h.store.batchWrites)
}

func TestAggregator_FlushCapsCoalescedGain(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 3; i++ {
		h.agg.AddExperienceFromAction(7, 100)
	}
	_, err := h.agg.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 150.0, h.record(t, 7).Experience)
}

func TestAggregator_FlushAppliesHighestPriorityScalar(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.store.CreateScalarRule(ctx, rolescalar.Rule{RoleID: 10, Scalar: 2, Priority: 1}))
	require.NoError(t, h.store.CreateScalarRule(ctx, rolescalar.Rule{RoleID: 20, Scalar: 3, Priority: 5}))
	h.guild.roles[5] = shared.NewRoleSet(10, 20)

	h.agg.AddExperienceFromAction(5, 50)
	_, err := h.agg.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, 150.0, h.record(t, 5).Experience)
}

func TestAggregator_FlushScalarAppliesAfterCap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.store.CreateScalarRule(ctx, rolescalar.Rule{RoleID: 10, Scalar: 2}))
	h.guild.roles[5] = shared.NewRoleSet(10)

	h.agg.AddExperienceFromAction(5, 400)
	_, err := h.agg.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, 300.0, h.record(t, 5).Experience)
}

func TestAggregator_FlushDropsDepartedAndUnresolvablePrincipals(t *testing.T) {
	h := newHarness(t)
	h.guild.missing[1] = true
	h.guild.broken[2] = true

	h.agg.AddExperienceFromAction(1, 50)
	h.agg.AddExperienceFromAction(2, 50)
	h.agg.AddExperienceFromAction(3, 50)

	res, err := h.agg.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Principals)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 2, res.Dropped)

	_, err = h.store.GetRecord(context.Background(), 1)
	assert.True(t, experience.IsRecordNotFound(err))
	assert.Equal(t, 50.0, h.record(t, 3).Experience)
}

func TestAggregator_FlushStoreFailureDropsCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.failBatchWrite = true

	h.agg.AddExperienceFromAction(1, 50)
	res, err := h.agg.Flush(ctx)
	require.Error(t, err)
	assert.True(t, shared.IsStore(err))
	assert.Equal(t, 1, res.Dropped)
	assert.Empty(t, h.events.Events())

	// the failed entries are not restored
	h.store.failBatchWrite = false
	assert.Equal(t, 0, h.agg.PendingCount())
	_, err = h.agg.Flush(ctx)
	require.NoError(t, err)
	_, err = h.store.GetRecord(ctx, 1)
	assert.True(t, experience.IsRecordNotFound(err))
}

func TestAggregator_FlushReadFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.store.failBatchRead = true

	h.agg.AddExperienceFromAction(1, 50)
	_, err := h.agg.Flush(context.Background())

	assert.True(t, shared.IsStore(err))
	assert.Equal(t, 0, h.store.batchWrites)
}

func TestAggregator_FlushUsesOneBatchWrite(t *testing.T) {
	h := newHarness(t)

	for id := shared.PrincipalID(1); id <= 50; id++ {
		h.agg.AddExperienceFromAction(id, 10)
	}
	_, err := h.agg.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, h.store.batchWrites)
	n, _ := h.store.CountRecords(context.Background())
	assert.Equal(t, 50, n)
}

func TestAggregator_FlushOnCanceledContextStillCommits(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.agg.AddExperienceFromAction(1, 50)
	_, err := h.agg.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, 50.0, h.record(t, 1).Experience)
}

func TestAggregator_ConcurrentAddsDuringFlushAreNotLost(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.agg.SetGainCap(ctx, 1e12)
	require.NoError(t, err)

	const writers, perWriter = 16, 250
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				h.agg.AddExperienceFromAction(1, 1)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

flushing:
	for {
		select {
		case <-done:
			break flushing
		default:
			_, err := h.agg.Flush(ctx)
			require.NoError(t, err)
		}
	}
	_, err = h.agg.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, float64(writers*perWriter), h.record(t, 1).Experience)
}

func TestAggregator_RecordActionUsesConfiguredReward(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.agg.RecordAction(1, experience.ActionReact))
	require.Error(t, h.agg.RecordAction(1, experience.ActionType("dance")))

	_, err := h.agg.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 35.0, h.record(t, 1).Experience)
}

// ─────────────────────────────────────────────────────────────────────────────
// Direct path
// ─────────────────────────────────────────────────────────────────────────────

func TestAggregator_AddExperienceDirectCapsPerCall(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rec, err := h.agg.AddExperienceDirect(ctx, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, 150.0, rec.Experience)

	rec, err = h.agg.AddExperienceDirect(ctx, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, 300.0, rec.Experience)
	assert.Equal(t, 1, rec.Level)
}

func TestAggregator_AddExperienceDirectIgnoresScalars(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.CreateScalarRule(ctx, rolescalar.Rule{RoleID: 10, Scalar: 3}))
	h.guild.roles[1] = shared.NewRoleSet(10)

	rec, err := h.agg.AddExperienceDirect(ctx, 1, 100)
	require.NoError(t, err)

	assert.Equal(t, 100.0, rec.Experience)
	assert.Equal(t, 0, h.guild.lookups)
}

func TestAggregator_AddExperienceDirectFiresOnlyOnLevelChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.agg.AddExperienceDirect(ctx, 1, 50)
	require.NoError(t, err)
	assert.Empty(t, h.events.Events())

	_, err = h.agg.AddExperienceDirect(ctx, 1, 50)
	require.NoError(t, err)

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, shared.EventLevelChanged, events[0].EventType())
	assert.Equal(t, shared.CauseAdminAdd, events[0].Cause)
	assert.Equal(t, 1, events[0].NewLevel)
}

func TestAggregator_AddExperienceDirectZeroIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.seed(1, 250)

	rec, err := h.agg.AddExperienceDirect(ctx, 1, 0)
	require.NoError(t, err)

	assert.Equal(t, 250.0, rec.Experience)
	assert.Equal(t, 0, h.store.upserts)
	assert.Empty(t, h.events.Events())
}

func TestAggregator_AddExperienceDirectRejectsNegative(t *testing.T) {
	h := newHarness(t)

	_, err := h.agg.AddExperienceDirect(context.Background(), 1, -1)
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, 0, h.store.upserts)
}

func TestAggregator_SetExperience(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.agg.SetExperience(ctx, 1, -5)
	assert.True(t, shared.IsValidation(err))

	rec, err := h.agg.SetExperience(ctx, 1, 950)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Level)

	// same level still fires
	_, err = h.agg.SetExperience(ctx, 1, 960)
	require.NoError(t, err)

	events := h.events.Events()
	require.Len(t, events, 2)
	assert.Equal(t, shared.CauseAdminSet, events[1].Cause)
	assert.Equal(t, 3, events[1].OldLevel)
	assert.Equal(t, 3, events[1].NewLevel)
}

func TestAggregator_SetExperienceCanLowerLevel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.seed(1, 2500)

	rec, err := h.agg.SetExperience(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Level)

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].Increased())
}

func TestAggregator_SetExperienceLevel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rec, err := h.agg.SetExperienceLevel(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 900.0, rec.Experience)
	assert.Equal(t, 3, rec.Level)

	_, err = h.agg.SetExperienceLevel(ctx, 1, -1)
	assert.True(t, shared.IsValidation(err))
}

func TestAggregator_AddExperienceLevels(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rec, err := h.agg.AddExperienceLevels(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 401.0, rec.Experience)
	assert.Equal(t, 2, rec.Level)

	rec, err = h.agg.AddExperienceLevels(ctx, 1, -5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Experience)
	assert.Equal(t, 0, rec.Level)
}

// ─────────────────────────────────────────────────────────────────────────────
// Curve migration
// ─────────────────────────────────────────────────────────────────────────────

func TestAggregator_UpdateLevelCurveMaintainLevel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.seed(1, 2500)

	scalar := 50.0
	res, err := h.agg.UpdateLevelCurve(ctx, &scalar, nil, true)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.Records)
	assert.Equal(t, 0, res.LevelsMoved)

	rec := h.record(t, 1)
	assert.InDelta(t, 1250.0, rec.Experience, 1e-6)
	assert.Equal(t, 5, rec.Level)
	assert.Empty(t, h.events.Events())

	stored, _ := h.store.LoadSettings(ctx)
	assert.Equal(t, 50.0, *stored.CurveScalar)
	assert.Equal(t, 50.0, h.agg.Curve().Scalar)
}

func TestAggregator_UpdateLevelCurveKeepExperience(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.seed(1, 2500)

	scalar := 50.0
	res, err := h.agg.UpdateLevelCurve(ctx, &scalar, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.LevelsMoved)

	rec := h.record(t, 1)
	assert.Equal(t, 2500.0, rec.Experience)
	assert.Equal(t, 7, rec.Level)

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, shared.CauseMigration, events[0].Cause)
	assert.Equal(t, 5, events[0].OldLevel)
	assert.Equal(t, 7, events[0].NewLevel)
}

func TestAggregator_UpdateLevelCurveNoop(t *testing.T) {
	h := newHarness(t)

	scalar := 100.0
	res, err := h.agg.UpdateLevelCurve(context.Background(), &scalar, nil, true)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	res, err = h.agg.UpdateLevelCurve(context.Background(), nil, nil, false)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 0, h.store.migrations)
}

func TestAggregator_UpdateLevelCurveRejectsInvalid(t *testing.T) {
	h := newHarness(t)

	power := 0.0
	_, err := h.agg.UpdateLevelCurve(context.Background(), nil, &power, true)
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, experience.DefaultCurve(), h.agg.Curve())
}

func TestAggregator_UpdateLevelCurveScanFailureKeepsCurve(t *testing.T) {
	h := newHarness(t)
	h.store.failScan = true

	scalar := 10.0
	_, err := h.agg.UpdateLevelCurve(context.Background(), &scalar, nil, false)
	assert.True(t, shared.IsStore(err))
	assert.Equal(t, experience.DefaultCurve(), h.agg.Curve())
}

func TestAggregator_FlushAfterMigrationUsesNewCurve(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	scalar := 10.0
	_, err := h.agg.UpdateLevelCurve(ctx, &scalar, nil, false)
	require.NoError(t, err)

	h.agg.AddExperienceFromAction(1, 90)
	_, err = h.agg.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, h.record(t, 1).Level)
}

func TestAggregator_FlushWaitsForInFlightMigration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.seed(2, 2500)
	started, release := h.store.blockScan()

	scalar := 10.0
	migrated := make(chan error, 1)
	go func() {
		_, err := h.agg.UpdateLevelCurve(ctx, &scalar, nil, false)
		migrated <- err
	}()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("migration never reached ScanRecords")
	}

	// the buffer stays open while the curve is being migrated
	h.agg.AddExperienceFromAction(1, 90)

	flushed := make(chan error, 1)
	go func() {
		_, err := h.agg.Flush(ctx)
		flushed <- err
	}()

	select {
	case err := <-flushed:
		t.Fatalf("flush finished during migration: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 0, h.store.batchWriteCount())

	release()
	require.NoError(t, <-migrated)
	select {
	case err := <-flushed:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("flush did not resume after migration")
	}

	// 90 XP is level 0 on the old curve and level 3 on scalar 10
	assert.Equal(t, 3, h.record(t, 1).Level)
	assert.Equal(t, 1, h.store.batchWriteCount())
}

func TestAggregator_UpdateLevelCurveWithSmallPowerCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.seed(1, 10_000)
	h.store.seed(2, 1e40)

	power := 0.1
	done := make(chan error, 1)
	go func() {
		_, err := h.agg.UpdateLevelCurve(ctx, nil, &power, false)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("curve migration did not return")
	}
	assert.Equal(t, experience.MaxLevel, h.record(t, 1).Level)
	assert.Equal(t, experience.MaxLevel, h.record(t, 2).Level)

	rec, err := h.agg.SetExperience(ctx, 3, 1e40)
	require.NoError(t, err)
	assert.Equal(t, experience.MaxLevel, rec.Level)

	_, err = h.agg.SetExperienceLevel(ctx, 3, experience.MaxLevel+1)
	assert.True(t, shared.IsValidation(err))
}
