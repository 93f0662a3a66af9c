// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/guild"
	"github.com/guild-hub/guild-xp/internal/domain/rolescalar"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/guild-hub/guild-xp/internal/application/command")

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIENCE AGGREGATOR
// Buffers reward events, flushes them in batches, and owns every write path
// to experience records and guild settings for one guild.
// ══════════════════════════════════════════════════════════════════════════════

// LevelPublisher announces level transitions.
type LevelPublisher interface {
	Publish(ctx context.Context, event shared.LevelEvent)
	PublishAsync(ctx context.Context, event shared.LevelEvent)
}

// WriteObserver is told after records were written, e.g. to drop cached rankings.
type WriteObserver interface {
	RecordsChanged(ctx context.Context) error
}

// AggregatorConfig contains configuration for the Aggregator.
type AggregatorConfig struct {
	// Guild is the guild this instance serves.
	Guild shared.GuildID

	// Defaults fill settings fields that were never stored.
	Defaults experience.Settings

	// RoleLookupConcurrency bounds parallel role lookups during a flush.
	RoleLookupConcurrency int

	// AsyncLevelUps delivers flush level-ups on the notifier's worker pool.
	AsyncLevelUps bool

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultAggregatorConfig returns sensible defaults.
func DefaultAggregatorConfig(guildID shared.GuildID) AggregatorConfig {
	return AggregatorConfig{
		Guild:                 guildID,
		Defaults:              experience.DefaultSettings(),
		RoleLookupConcurrency: 8,
	}
}

// Aggregator is the experience engine for one guild.
type Aggregator struct {
	guild     shared.GuildID
	store     experience.Store
	scalars   rolescalar.Repository
	roles     guild.RoleLookup
	notifier  LevelPublisher
	observers []WriteObserver
	logger    *slog.Logger
	config    AggregatorConfig

	// bufMu guards pending; the swap in Flush is the only reader.
	bufMu   sync.Mutex
	pending map[shared.PrincipalID]float64

	// flushMu serializes flush cycles.
	flushMu sync.Mutex

	// curveMu is held exclusively by curve migration and shared by every other write path.
	curveMu sync.RWMutex

	settingsMu sync.RWMutex
	settings   experience.Settings
}

// NewAggregator creates an aggregator. Call Load before serving traffic.
func NewAggregator(
	store experience.Store,
	scalars rolescalar.Repository,
	roles guild.RoleLookup,
	notifier LevelPublisher,
	config AggregatorConfig,
) *Aggregator {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RoleLookupConcurrency <= 0 {
		config.RoleLookupConcurrency = 8
	}
	if config.Defaults.Validate() != nil {
		config.Defaults = experience.DefaultSettings()
	}

	return &Aggregator{
		guild:    config.Guild,
		store:    store,
		scalars:  scalars,
		roles:    roles,
		notifier: notifier,
		logger:   config.Logger.With("component", "aggregator", "guild_id", config.Guild),
		config:   config,
		pending:  make(map[shared.PrincipalID]float64),
		settings: config.Defaults,
	}
}

// AddObserver registers a WriteObserver.
func (a *Aggregator) AddObserver(o WriteObserver) {
	a.observers = append(a.observers, o)
}

// Load reads the stored settings, fills unset fields with defaults, and persists the result.
func (a *Aggregator) Load(ctx context.Context) error {
	a.curveMu.Lock()
	defer a.curveMu.Unlock()

	stored, err := a.store.LoadSettings(ctx)
	if err != nil {
		return shared.StoreError("experience", "LoadSettings", err)
	}

	resolved := stored.Resolve(a.config.Defaults)
	if err := resolved.Validate(); err != nil {
		return fmt.Errorf("stored settings invalid: %w", err)
	}
	if err := a.store.SaveSettings(ctx, resolved.Stored()); err != nil {
		return shared.StoreError("experience", "SaveSettings", err)
	}

	a.setSettings(resolved)
	a.logger.Info("guild settings loaded", "settings", resolved.String())
	return nil
}

// Settings returns a snapshot of the guild settings.
func (a *Aggregator) Settings() experience.Settings {
	a.settingsMu.RLock()
	defer a.settingsMu.RUnlock()

	s := a.settings
	if s.AnnounceChannel != nil {
		ch := *s.AnnounceChannel
		s.AnnounceChannel = &ch
	}
	return s
}

func (a *Aggregator) setSettings(s experience.Settings) {
	a.settingsMu.Lock()
	a.settings = s
	a.settingsMu.Unlock()
}

// Curve returns the current level curve.
func (a *Aggregator) Curve() experience.Curve {
	return a.Settings().Curve
}

// ─────────────────────────────────────────────────────────────────────────────
// Buffered path
// ─────────────────────────────────────────────────────────────────────────────

// AddExperienceFromAction adds amount to principal's pending total for the next flush.
// Amounts that are not positive finite numbers are ignored.
func (a *Aggregator) AddExperienceFromAction(principal shared.PrincipalID, amount float64) {
	if !(amount > 0) || math.IsInf(amount, 0) {
		return
	}

	a.bufMu.Lock()
	a.pending[principal] += amount
	a.bufMu.Unlock()
}

// RecordAction buffers the configured reward for action.
func (a *Aggregator) RecordAction(principal shared.PrincipalID, action experience.ActionType) error {
	amount, err := a.Settings().Rewards.AmountFor(action)
	if err != nil {
		return err
	}
	a.AddExperienceFromAction(principal, amount)
	return nil
}

// PendingCount returns how many principals are waiting for the next flush.
func (a *Aggregator) PendingCount() int {
	a.bufMu.Lock()
	defer a.bufMu.Unlock()
	return len(a.pending)
}

// swapBuffer hands the current buffer to the caller and installs an empty one.
func (a *Aggregator) swapBuffer() map[shared.PrincipalID]float64 {
	a.bufMu.Lock()
	defer a.bufMu.Unlock()

	drained := a.pending
	a.pending = make(map[shared.PrincipalID]float64, len(drained))
	return drained
}

// ─────────────────────────────────────────────────────────────────────────────
// Settings mutations
// ─────────────────────────────────────────────────────────────────────────────

// SetReward changes the base reward for one action.
func (a *Aggregator) SetReward(ctx context.Context, action experience.ActionType, amount float64) (experience.Settings, error) {
	return a.mutateSettings(ctx, "SetReward", func(s *experience.Settings) error {
		rewards, err := s.Rewards.WithAmount(action, amount)
		if err != nil {
			return err
		}
		s.Rewards = rewards
		return nil
	})
}

// SetGainCap changes the per-operation raw experience cap.
func (a *Aggregator) SetGainCap(ctx context.Context, gainCap float64) (experience.Settings, error) {
	return a.mutateSettings(ctx, "SetGainCap", func(s *experience.Settings) error {
		if gainCap < 0 || math.IsNaN(gainCap) || math.IsInf(gainCap, 0) {
			return shared.Validationf("experience", "SetGainCap", "gain cap must be a non-negative number, got %v", gainCap)
		}
		s.Rewards.GainCap = gainCap
		return nil
	})
}

// SetAnnounceChannel sets or clears (nil) the level-up announcement channel.
func (a *Aggregator) SetAnnounceChannel(ctx context.Context, channel *shared.ChannelID) (experience.Settings, error) {
	return a.mutateSettings(ctx, "SetAnnounceChannel", func(s *experience.Settings) error {
		if channel == nil {
			s.AnnounceChannel = nil
			return nil
		}
		ch := *channel
		s.AnnounceChannel = &ch
		return nil
	})
}

func (a *Aggregator) mutateSettings(ctx context.Context, op string, mutate func(*experience.Settings) error) (experience.Settings, error) {
	a.curveMu.RLock()
	defer a.curveMu.RUnlock()

	// settingsMu is held across the save so concurrent mutations cannot interleave.
	a.settingsMu.Lock()
	defer a.settingsMu.Unlock()

	next := a.settings
	if err := mutate(&next); err != nil {
		return a.settings, err
	}
	if err := a.store.SaveSettings(ctx, next.Stored()); err != nil {
		return a.settings, shared.StoreError("experience", op, err)
	}

	a.settings = next
	a.logger.Info("guild settings updated", "op", op, "settings", next.String())
	return next, nil
}

func (a *Aggregator) notifyObservers(ctx context.Context) {
	for _, o := range a.observers {
		if err := o.RecordsChanged(ctx); err != nil {
			a.logger.Warn("write observer failed", "error", err)
		}
	}
}
