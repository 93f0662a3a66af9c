// Package guild describes the guild-state capabilities the experience engine
// consumes from the front-end: role membership, role updates and channel posts.
package guild

import (
	"context"

	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// ErrMemberNotFound is returned when the principal is no longer in the guild.
var ErrMemberNotFound = shared.NewDomainError("guild", "FetchRoles", shared.ErrNotFound, "member not found")

// RoleLookup returns the roles a principal currently holds.
type RoleLookup interface {
	FetchRoles(ctx context.Context, principal shared.PrincipalID) (shared.RoleSet, error)
}

// RoleUpdater applies a role change as one logical update.
type RoleUpdater interface {
	ApplyRoleDelta(ctx context.Context, principal shared.PrincipalID, add, remove []shared.RoleID) error
}

// Announcer posts a message to a channel.
type Announcer interface {
	Announce(ctx context.Context, channel shared.ChannelID, text string) error
}

// State bundles every capability.
type State interface {
	RoleLookup
	RoleUpdater
	Announcer
}
