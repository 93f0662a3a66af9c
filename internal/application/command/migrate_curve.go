package command

import (
	"context"
	"time"

	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURVE MIGRATION
// ══════════════════════════════════════════════════════════════════════════════

// CurveMigrationResult summarizes one migration.
type CurveMigrationResult struct {
	Changed       bool             `json:"changed"`
	Old           experience.Curve `json:"old"`
	New           experience.Curve `json:"new"`
	MaintainLevel bool             `json:"maintain_level"`
	Records       int              `json:"records"`
	LevelsMoved   int              `json:"levels_moved"`
	Duration      time.Duration    `json:"duration"`
}

type migratedRecord struct {
	oldLevel int
	progress experience.Progress
}

// UpdateLevelCurve replaces the curve and rewrites every record.
//
// With maintainLevel each principal keeps its fractional level and its
// experience is rescaled; otherwise experience is kept and levels are
// recomputed. Records and settings are committed in one transaction and no
// flush or direct write can run meanwhile.
func (a *Aggregator) UpdateLevelCurve(ctx context.Context, scalar, power *float64, maintainLevel bool) (CurveMigrationResult, error) {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	result, moved, err := a.migrateLocked(ctx, scalar, power, maintainLevel)
	if err != nil || !result.Changed {
		return result, err
	}

	a.notifyObservers(ctx)

	for _, event := range moved {
		a.notifier.Publish(ctx, event)
	}

	result.Duration = time.Since(start)
	a.logger.Info("level curve migrated",
		"old_curve", result.Old,
		"new_curve", result.New,
		"maintain_level", maintainLevel,
		"records", result.Records,
		"levels_moved", result.LevelsMoved,
		"duration", result.Duration,
	)
	return result, nil
}

// migrateLocked rewrites the records under the exclusive curve lock and
// returns the LevelChanged events to publish once it is released.
func (a *Aggregator) migrateLocked(ctx context.Context, scalar, power *float64, maintainLevel bool) (CurveMigrationResult, []shared.LevelEvent, error) {
	a.curveMu.Lock()
	defer a.curveMu.Unlock()

	current := a.Settings()
	next := current
	if scalar != nil {
		next.Curve.Scalar = *scalar
	}
	if power != nil {
		next.Curve.Power = *power
	}

	result := CurveMigrationResult{
		Old:           current.Curve,
		New:           next.Curve,
		MaintainLevel: maintainLevel,
	}
	if next.Curve.Equal(current.Curve) {
		return result, nil, nil
	}
	if err := next.Curve.Validate(); err != nil {
		return result, nil, err
	}
	result.Changed = true

	ctx, span := tracer.Start(ctx, "experience.migrate_curve")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("curve.old.scalar", current.Curve.Scalar),
		attribute.Float64("curve.old.power", current.Curve.Power),
		attribute.Float64("curve.new.scalar", next.Curve.Scalar),
		attribute.Float64("curve.new.power", next.Curve.Power),
		attribute.Bool("curve.maintain_level", maintainLevel),
	)

	migrated := make(map[shared.PrincipalID]migratedRecord)
	err := a.store.ScanRecords(ctx, func(rec experience.Record) error {
		xp := rec.Experience
		if maintainLevel {
			xp = next.Curve.Requirement(current.Curve.LevelFromExperience(xp))
		}
		migrated[rec.PrincipalID] = migratedRecord{
			oldLevel: rec.Level,
			progress: experience.ProgressFor(next.Curve, xp),
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ScanRecords")
		return result, nil, shared.StoreError("experience", "UpdateLevelCurve", err)
	}

	entries := make(map[shared.PrincipalID]experience.Progress, len(migrated))
	for id, m := range migrated {
		entries[id] = m.progress
	}
	if err := a.store.ApplyCurveMigration(ctx, entries, next.Stored()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ApplyCurveMigration")
		return result, nil, shared.StoreError("experience", "UpdateLevelCurve", err)
	}

	a.setSettings(next)
	result.Records = len(entries)

	var moved []shared.LevelEvent
	for id, m := range migrated {
		if m.progress.Level == m.oldLevel {
			continue
		}
		moved = append(moved, shared.NewLevelChangedEvent(a.guild, id, m.oldLevel, m.progress.Level, m.progress.Experience, shared.CauseMigration))
	}
	result.LevelsMoved = len(moved)
	span.SetAttributes(attribute.Int("curve.levels_moved", result.LevelsMoved))

	return result, moved, nil
}
