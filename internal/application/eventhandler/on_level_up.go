package eventhandler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/guild"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// SettingsSource supplies the current guild settings.
type SettingsSource interface {
	Settings() experience.Settings
}

// LevelUpAnnouncer posts a message to the announce channel when a member levels up.
type LevelUpAnnouncer struct {
	settings  SettingsSource
	announcer guild.Announcer
	logger    *slog.Logger
}

// NewLevelUpAnnouncer creates the announcement listener.
func NewLevelUpAnnouncer(settings SettingsSource, announcer guild.Announcer, logger *slog.Logger) *LevelUpAnnouncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LevelUpAnnouncer{
		settings:  settings,
		announcer: announcer,
		logger:    logger.With("handler", "level_up_announcer"),
	}
}

// AnnouncementText renders the level-up message.
func AnnouncementText(event shared.LevelEvent) string {
	return fmt.Sprintf("<@%d> reached level %d (%s XP)",
		int64(event.Principal), event.NewLevel, experience.FormatQuantity(event.Experience))
}

// Handle announces upward level changes. Nothing is posted when no channel is set.
func (h *LevelUpAnnouncer) Handle(ctx context.Context, event shared.LevelEvent) error {
	if !event.Increased() {
		return nil
	}

	channel := h.settings.Settings().AnnounceChannel
	if channel == nil {
		return nil
	}

	if err := h.announcer.Announce(ctx, *channel, AnnouncementText(event)); err != nil {
		return fmt.Errorf("announce level up: %w", err)
	}
	return nil
}
