package command

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/rolescalar"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLUSH
// ══════════════════════════════════════════════════════════════════════════════

// FlushResult summarizes one flush cycle.
type FlushResult struct {
	CycleID    string        `json:"cycle_id"`
	Principals int           `json:"principals"`
	Written    int           `json:"written"`
	Dropped    int           `json:"dropped"`
	LevelUps   int           `json:"level_ups"`
	Duration   time.Duration `json:"duration"`
}

// Flush drains the pending buffer and commits it in a single batch write.
//
// The cycle runs detached from ctx cancellation so an interrupted caller
// never leaves a half-applied batch. On a store error the drained entries
// are dropped, not restored.
func (a *Aggregator) Flush(ctx context.Context) (FlushResult, error) {
	ctx = context.WithoutCancel(ctx)

	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.curveMu.RLock()
	defer a.curveMu.RUnlock()

	start := time.Now()
	drained := a.swapBuffer()
	if len(drained) == 0 {
		return FlushResult{}, nil
	}

	result := FlushResult{
		CycleID:    uuid.NewString(),
		Principals: len(drained),
	}
	log := a.logger.With("cycle_id", result.CycleID)

	ctx, span := tracer.Start(ctx, "experience.flush",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cycle.id", result.CycleID),
			attribute.Int("cycle.principals", len(drained)),
		),
	)
	defer span.End()

	fail := func(op string, err error) (FlushResult, error) {
		result.Dropped = len(drained)
		result.Duration = time.Since(start)
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
		log.Error("flush aborted, pending experience dropped",
			"op", op,
			"dropped", len(drained),
			"error", err,
		)
		return result, shared.StoreError("experience", "Flush", err)
	}

	ids := make([]shared.PrincipalID, 0, len(drained))
	for id := range drained {
		ids = append(ids, id)
	}

	stored, err := a.store.GetRecordsBatch(ctx, ids)
	if err != nil {
		return fail("GetRecordsBatch", err)
	}
	current := make(map[shared.PrincipalID]experience.Record, len(ids))
	for _, id := range ids {
		current[id] = experience.NewRecord(id)
	}
	for _, rec := range stored {
		current[rec.PrincipalID] = rec
	}

	rules, err := a.scalars.ListScalarRules(ctx)
	if err != nil {
		return fail("ListScalarRules", err)
	}

	scalars := a.resolveScalars(ctx, ids, rules, log)

	settings := a.Settings()
	entries := make(map[shared.PrincipalID]experience.Progress, len(scalars))
	for id, scalar := range scalars {
		raw := math.Min(drained[id], settings.Rewards.GainCap)
		rec := current[id]
		entries[id] = experience.ProgressFor(settings.Curve, rec.Experience+raw*scalar)
	}
	result.Dropped = len(drained) - len(entries)

	if len(entries) == 0 {
		result.Duration = time.Since(start)
		log.Info("flush finished with nothing to write", "dropped", result.Dropped)
		return result, nil
	}

	if err := a.store.UpsertRecordsBatch(ctx, entries); err != nil {
		return fail("UpsertRecordsBatch", err)
	}
	result.Written = len(entries)

	a.notifyObservers(ctx)

	for id, p := range entries {
		old := current[id].Level
		if p.Level == old {
			continue
		}
		result.LevelUps++
		event := shared.NewLevelUpEvent(a.guild, id, old, p.Level, p.Experience)
		event.BaseEvent = event.WithCorrelationID(result.CycleID)
		if a.config.AsyncLevelUps {
			a.notifier.PublishAsync(ctx, event)
		} else {
			a.notifier.Publish(ctx, event)
		}
	}

	result.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("cycle.written", result.Written),
		attribute.Int("cycle.level_ups", result.LevelUps),
	)
	log.Info("flush committed",
		"principals", result.Principals,
		"written", result.Written,
		"dropped", result.Dropped,
		"level_ups", result.LevelUps,
		"duration", result.Duration,
	)
	return result, nil
}

// resolveScalars looks up each principal's roles concurrently and returns
// the multiplier for every principal that could be resolved.
func (a *Aggregator) resolveScalars(ctx context.Context, ids []shared.PrincipalID, rules []rolescalar.Rule, log *slog.Logger) map[shared.PrincipalID]float64 {
	var (
		mu  sync.Mutex
		out = make(map[shared.PrincipalID]float64, len(ids))
	)

	var g errgroup.Group
	g.SetLimit(a.config.RoleLookupConcurrency)

	for _, id := range ids {
		g.Go(func() error {
			roles, err := a.roles.FetchRoles(ctx, id)
			if err != nil {
				if shared.IsNotFound(err) {
					log.Warn("principal left the guild, dropping pending experience", "principal_id", id)
				} else {
					log.Warn("role lookup failed, dropping pending experience", "principal_id", id, "error", err)
				}
				return nil
			}

			scalar := rolescalar.Resolve(rules, roles)
			mu.Lock()
			out[id] = scalar
			mu.Unlock()
			return nil
		})
	}

	// lookups never return errors; failures are per-principal drops
	_ = g.Wait()
	return out
}
