package guildgw

import (
	"fmt"
	"strconv"

	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// Snowflakes travel as decimal strings so JavaScript front-ends keep full precision.

// MemberRolesDTO is the body of GET /guilds/{guild}/members/{member}/roles.
type MemberRolesDTO struct {
	MemberID string   `json:"member_id"`
	Roles    []string `json:"roles"`
}

// RoleDeltaDTO is the body of PATCH /guilds/{guild}/members/{member}/roles.
type RoleDeltaDTO struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
	Reason string   `json:"reason,omitempty"`
}

// MessageDTO is the body of POST /guilds/{guild}/channels/{channel}/messages.
type MessageDTO struct {
	Content string `json:"content"`
}

// APIErrorDTO represents an error response from the gateway.
type APIErrorDTO struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway status %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway status %d: %s", e.Status, e.Message)
}

// Unwrap lets errors.Is match ErrUnexpectedStatus.
func (e *APIErrorDTO) Unwrap() error {
	return ErrUnexpectedStatus
}

func roleSetFromDTO(dto MemberRolesDTO) (shared.RoleSet, error) {
	out := make(shared.RoleSet, len(dto.Roles))
	for _, raw := range dto.Roles {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("role id %q: %w", raw, err)
		}
		out[shared.RoleID(id)] = struct{}{}
	}
	return out, nil
}

func roleIDsToDTO(roles []shared.RoleID) []string {
	if len(roles) == 0 {
		return nil
	}
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = strconv.FormatInt(int64(r), 10)
	}
	return out
}
