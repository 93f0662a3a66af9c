// Package eventhandler contains the listeners subscribed to level events.
// They run side effects against guild state and never touch experience records.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guild-hub/guild-xp/internal/domain/autorole"
	"github.com/guild-hub/guild-xp/internal/domain/guild"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// AUTOROLE SYNC
// Reconciles level-gated roles after any level change. Subscribed to both
// the level-up and level-changed channels.
// ═══════════════════════════════════════════════════════════════════════════

// AutoroleSync applies the autorole delta for the new level.
type AutoroleSync struct {
	rules   autorole.Repository
	lookup  guild.RoleLookup
	updater guild.RoleUpdater
	logger  *slog.Logger
}

// NewAutoroleSync creates the autorole listener.
func NewAutoroleSync(rules autorole.Repository, lookup guild.RoleLookup, updater guild.RoleUpdater, logger *slog.Logger) *AutoroleSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoroleSync{
		rules:   rules,
		lookup:  lookup,
		updater: updater,
		logger:  logger.With("handler", "autorole_sync"),
	}
}

// Handle computes and applies the role delta for event.NewLevel.
// A member who has left the guild is skipped.
func (h *AutoroleSync) Handle(ctx context.Context, event shared.LevelEvent) error {
	rules, err := h.rules.ListAutoroleRules(ctx)
	if err != nil {
		return fmt.Errorf("list autoroles: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}

	held, err := h.lookup.FetchRoles(ctx, event.Principal)
	if shared.IsNotFound(err) {
		h.logger.Debug("member left, skipping autorole sync", "principal", event.Principal)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch roles for %s: %w", event.Principal, err)
	}

	delta := autorole.ComputeDelta(rules, held, event.NewLevel)
	if delta.Empty() {
		return nil
	}

	if err := h.updater.ApplyRoleDelta(ctx, event.Principal, delta.Add, delta.Remove); err != nil {
		return fmt.Errorf("apply role delta for %s: %w", event.Principal, err)
	}

	h.logger.Info("autoroles synced",
		"principal", event.Principal,
		"level", event.NewLevel,
		"added", delta.Add,
		"removed", delta.Remove,
		"cause", event.Cause,
	)
	return nil
}
