package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/guild-hub/guild-xp/internal/domain/voice"
)

// ══════════════════════════════════════════════════════════════════════════════
// VOICE REWARDS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ActionRecorder buffers one reward-earning action.
type ActionRecorder interface {
	RecordAction(principal shared.PrincipalID, action experience.ActionType) error
}

// VoiceRewardsConfig contains configuration for the voice rewards job.
type VoiceRewardsConfig struct {
	// MinPresence is how long a principal must have been in voice before
	// the first minute is rewarded.
	MinPresence time.Duration
}

// DefaultVoiceRewardsConfig returns sensible defaults.
func DefaultVoiceRewardsConfig() VoiceRewardsConfig {
	return VoiceRewardsConfig{MinPresence: time.Minute}
}

// VoiceRewardsJob grants one voice-minute reward to everyone in voice.
type VoiceRewardsJob struct {
	presence voice.Presence
	recorder ActionRecorder
	config   VoiceRewardsConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewVoiceRewardsJob creates the voice rewards job.
func NewVoiceRewardsJob(presence voice.Presence, recorder ActionRecorder, config VoiceRewardsConfig, logger *slog.Logger) *VoiceRewardsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceRewardsJob{
		presence: presence,
		recorder: recorder,
		config:   config,
		logger:   logger.With("job", "voice_rewards"),
		now:      time.Now,
	}
}

// Name returns the job name.
func (j *VoiceRewardsJob) Name() string {
	return "voice_rewards"
}

// Description returns a human-readable description.
func (j *VoiceRewardsJob) Description() string {
	return "Buffers one voice-minute reward for every principal in voice"
}

// Run rewards every eligible session.
func (j *VoiceRewardsJob) Run(ctx context.Context) error {
	sessions, err := j.presence.Present(ctx)
	if err != nil {
		return fmt.Errorf("list voice sessions: %w", err)
	}

	cutoff := j.now().Add(-j.config.MinPresence)
	rewarded := 0
	for _, s := range sessions {
		if s.JoinedAt.After(cutoff) {
			continue
		}
		if err := j.recorder.RecordAction(s.Principal, experience.ActionVoiceMinute); err != nil {
			return fmt.Errorf("record voice minute: %w", err)
		}
		rewarded++
	}

	if rewarded > 0 {
		j.logger.Debug("voice minutes buffered", "present", len(sessions), "rewarded", rewarded)
	}
	return nil
}
