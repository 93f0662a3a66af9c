package command

import (
	"context"
	"math"

	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DIRECT WRITES
// Synchronous, unscaled writes that bypass the buffer. They share curveMu with
// flushes, so a write racing an in-flight flush is last-write-wins.
// ══════════════════════════════════════════════════════════════════════════════

// AddExperienceDirect applies min(amount, GainCap) to principal immediately.
// No role scalar is applied. A zero amount returns the current record untouched.
func (a *Aggregator) AddExperienceDirect(ctx context.Context, principal shared.PrincipalID, amount float64) (experience.Record, error) {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return experience.Record{}, shared.Validationf("experience", "AddExperience", "amount must be a non-negative number, got %v", amount)
	}

	return a.direct(ctx, "AddExperience", principal, shared.CauseAdminAdd, false, func(rec experience.Record, s experience.Settings) (experience.Progress, bool) {
		if amount == 0 {
			return experience.Progress{}, false
		}
		gain := math.Min(amount, s.Rewards.GainCap)
		return experience.ProgressFor(s.Curve, rec.Experience+gain), true
	})
}

// AddExperienceLevels moves principal by levels (may be negative) relative to
// its fractional level. The resulting experience is Requirement(level+levels)+1
// so the principal lands just past the boundary; a target at or below zero
// resets to zero.
func (a *Aggregator) AddExperienceLevels(ctx context.Context, principal shared.PrincipalID, levels int) (experience.Record, error) {
	return a.direct(ctx, "AddLevels", principal, shared.CauseAdminAdd, true, func(rec experience.Record, s experience.Settings) (experience.Progress, bool) {
		target := math.Min(s.Curve.LevelFromExperience(rec.Experience)+float64(levels), experience.MaxLevel)
		xp := 0.0
		if target > 0 {
			xp = s.Curve.Requirement(target) + 1
		}
		return experience.ProgressFor(s.Curve, xp), true
	})
}

// SetExperience overwrites principal's experience and recomputes the level.
func (a *Aggregator) SetExperience(ctx context.Context, principal shared.PrincipalID, xp float64) (experience.Record, error) {
	if xp < 0 || math.IsNaN(xp) || math.IsInf(xp, 0) {
		return experience.Record{}, shared.Validationf("experience", "SetExperience", "experience must be a non-negative number, got %v", xp)
	}

	return a.direct(ctx, "SetExperience", principal, shared.CauseAdminSet, true, func(_ experience.Record, s experience.Settings) (experience.Progress, bool) {
		return experience.ProgressFor(s.Curve, xp), true
	})
}

// SetExperienceLevel sets principal's experience to exactly Requirement(level).
func (a *Aggregator) SetExperienceLevel(ctx context.Context, principal shared.PrincipalID, level int) (experience.Record, error) {
	if level < 0 || level > experience.MaxLevel {
		return experience.Record{}, shared.Validationf("experience", "SetLevel", "level must be between 0 and %d, got %d", experience.MaxLevel, level)
	}

	return a.direct(ctx, "SetLevel", principal, shared.CauseAdminSet, true, func(_ experience.Record, s experience.Settings) (experience.Progress, bool) {
		return experience.ProgressFor(s.Curve, s.Curve.Requirement(float64(level))), true
	})
}

// currentRecord returns the stored record or the implicit (0, 0) one.
func (a *Aggregator) currentRecord(ctx context.Context, principal shared.PrincipalID) (experience.Record, error) {
	rec, err := a.store.GetRecord(ctx, principal)
	if err == nil {
		return rec, nil
	}
	if experience.IsRecordNotFound(err) {
		return experience.NewRecord(principal), nil
	}
	return experience.Record{}, shared.StoreError("experience", "GetRecord", err)
}

// direct runs one synchronous write. compute derives the new progress from
// the current record under the curve lock; returning false skips the write.
// LevelChanged is published after the lock is released, always or only when
// the level moved.
func (a *Aggregator) direct(
	ctx context.Context,
	op string,
	principal shared.PrincipalID,
	cause shared.ChangeCause,
	always bool,
	compute func(experience.Record, experience.Settings) (experience.Progress, bool),
) (experience.Record, error) {
	before, after, written, err := a.directLocked(ctx, op, principal, compute)
	if err != nil {
		return experience.Record{}, err
	}
	if !written {
		return after, nil
	}

	a.notifyObservers(ctx)

	a.logger.Info("experience written",
		"op", op,
		"principal_id", after.PrincipalID,
		"experience", after.Experience,
		"old_level", before.Level,
		"new_level", after.Level,
	)

	if always || after.Level != before.Level {
		a.notifier.Publish(ctx, shared.NewLevelChangedEvent(a.guild, after.PrincipalID, before.Level, after.Level, after.Experience, cause))
	}
	return after, nil
}

func (a *Aggregator) directLocked(
	ctx context.Context,
	op string,
	principal shared.PrincipalID,
	compute func(experience.Record, experience.Settings) (experience.Progress, bool),
) (before, after experience.Record, written bool, err error) {
	a.curveMu.RLock()
	defer a.curveMu.RUnlock()

	before, err = a.currentRecord(ctx, principal)
	if err != nil {
		return before, before, false, err
	}

	p, ok := compute(before, a.Settings())
	if !ok {
		return before, before, false, nil
	}
	if err := a.store.UpsertRecord(ctx, principal, p); err != nil {
		return before, before, false, shared.StoreError("experience", op, err)
	}
	return before, before.Apply(p), true, nil
}
