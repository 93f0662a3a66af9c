// Package jobs contains the scheduled jobs of the experience engine.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/guild-hub/guild-xp/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLUSH EXPERIENCE JOB
// ══════════════════════════════════════════════════════════════════════════════

// Flusher commits buffered experience.
type Flusher interface {
	Flush(ctx context.Context) (command.FlushResult, error)
}

// FlushExperienceJob drains the aggregator buffer on every tick.
type FlushExperienceJob struct {
	flusher Flusher
	logger  *slog.Logger

	last atomic.Pointer[command.FlushResult]
}

// NewFlushExperienceJob creates the flush job.
func NewFlushExperienceJob(flusher Flusher, logger *slog.Logger) *FlushExperienceJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlushExperienceJob{
		flusher: flusher,
		logger:  logger.With("job", "flush_experience"),
	}
}

// Name returns the job name.
func (j *FlushExperienceJob) Name() string {
	return "flush_experience"
}

// Description returns a human-readable description.
func (j *FlushExperienceJob) Description() string {
	return "Commits buffered experience gains in one batch write"
}

// Run executes one flush cycle.
func (j *FlushExperienceJob) Run(ctx context.Context) error {
	result, err := j.flusher.Flush(ctx)
	j.last.Store(&result)
	if err != nil {
		return fmt.Errorf("flush cycle %s: %w", result.CycleID, err)
	}

	if result.Principals > 0 {
		j.logger.Info("flush committed",
			"cycle_id", result.CycleID,
			"written", result.Written,
			"dropped", result.Dropped,
			"level_ups", result.LevelUps,
		)
	}
	return nil
}

// LastResult returns the most recent cycle summary, or nil before the first run.
func (j *FlushExperienceJob) LastResult() *command.FlushResult {
	return j.last.Load()
}
