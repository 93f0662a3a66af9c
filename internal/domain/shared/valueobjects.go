package shared

import (
	"fmt"
	"sort"
	"strconv"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identifiers
// ═══════════════════════════════════════════════════════════════════════════

// GuildID identifies the community instance a process serves.
type GuildID int64

// PrincipalID identifies a guild member.
type PrincipalID int64

// RoleID identifies a guild role.
type RoleID int64

// ChannelID identifies a text channel.
type ChannelID int64

// String implements fmt.Stringer.
func (id GuildID) String() string { return strconv.FormatInt(int64(id), 10) }

// String implements fmt.Stringer.
func (id PrincipalID) String() string { return strconv.FormatInt(int64(id), 10) }

// String implements fmt.Stringer.
func (id RoleID) String() string { return strconv.FormatInt(int64(id), 10) }

// String implements fmt.Stringer.
func (id ChannelID) String() string { return strconv.FormatInt(int64(id), 10) }

// Mention renders the principal the way chat front-ends expect it.
func (id PrincipalID) Mention() string { return fmt.Sprintf("<@%d>", id) }

// ParsePrincipalID parses a decimal principal id.
func ParsePrincipalID(s string) (PrincipalID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, Validationf("shared", "ParsePrincipalID", "invalid principal id %q", s)
	}
	return PrincipalID(v), nil
}

// ParseRoleID parses a decimal role id.
func ParseRoleID(s string) (RoleID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, Validationf("shared", "ParseRoleID", "invalid role id %q", s)
	}
	return RoleID(v), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Role sets
// ═══════════════════════════════════════════════════════════════════════════

// RoleSet is an unordered set of roles held by a principal.
type RoleSet map[RoleID]struct{}

// NewRoleSet builds a set from the given roles.
func NewRoleSet(roles ...RoleID) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// Has reports whether the role is in the set.
func (s RoleSet) Has(role RoleID) bool {
	_, ok := s[role]
	return ok
}

// Sorted returns the roles in ascending order.
func (s RoleSet) Sorted() []RoleID {
	out := make([]RoleID, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
