package guildgw

import (
	"context"
	"log/slog"

	"github.com/guild-hub/guild-xp/internal/domain/guild"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// NoopState stands in for the gateway when none is configured. Every member
// holds no roles, role changes and announcements are logged and dropped.
type NoopState struct {
	logger *slog.Logger
}

var _ guild.State = (*NoopState)(nil)

// NewNoopState creates a NoopState.
func NewNoopState(logger *slog.Logger) *NoopState {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopState{logger: logger.With("component", "guildgw_noop")}
}

// FetchRoles returns an empty role set.
func (n *NoopState) FetchRoles(context.Context, shared.PrincipalID) (shared.RoleSet, error) {
	return shared.NewRoleSet(), nil
}

// ApplyRoleDelta logs the delta.
func (n *NoopState) ApplyRoleDelta(_ context.Context, principal shared.PrincipalID, add, remove []shared.RoleID) error {
	n.logger.Debug("role delta dropped", "principal", principal.String(), "add", len(add), "remove", len(remove))
	return nil
}

// Announce logs the message.
func (n *NoopState) Announce(_ context.Context, channel shared.ChannelID, text string) error {
	n.logger.Info("announcement dropped", "channel", channel.String(), "text", text)
	return nil
}
