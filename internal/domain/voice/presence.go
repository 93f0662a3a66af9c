// Package voice tracks which principals are currently in a voice session.
package voice

import (
	"context"
	"time"

	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// Session is one principal's current voice presence.
type Session struct {
	Principal shared.PrincipalID `json:"principal_id"`
	JoinedAt  time.Time          `json:"joined_at"`
}

// Presence records voice joins and leaves.
type Presence interface {
	// Join marks the principal present. Joining twice keeps the first timestamp.
	Join(ctx context.Context, principal shared.PrincipalID, at time.Time) error

	// Leave removes the principal. Leaving when absent is not an error.
	Leave(ctx context.Context, principal shared.PrincipalID) error

	// Present lists everyone currently in voice.
	Present(ctx context.Context) ([]Session, error)
}
