// Package autorole computes which level-gated roles a principal should hold.
package autorole

import (
	"context"
	"sort"

	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// Rule grants RoleID from AssignAt and takes it away again at RemoveAt.
// RemoveAt == 0 means the role is never removed. RemoveAt > AssignAt is
// expected but not enforced.
type Rule struct {
	RoleID   shared.RoleID `json:"role_id"`
	AssignAt int           `json:"assign_at"`
	RemoveAt int           `json:"remove_at"`
}

// Patch carries the optional fields of a modify operation.
type Patch struct {
	AssignAt *int `json:"assign_at,omitempty"`
	RemoveAt *int `json:"remove_at,omitempty"`
}

// Validate rejects negative levels.
func (r Rule) Validate() error {
	return validateLevels(&r.AssignAt, &r.RemoveAt)
}

// Validate rejects negative levels.
func (p Patch) Validate() error {
	return validateLevels(p.AssignAt, p.RemoveAt)
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.AssignAt == nil && p.RemoveAt == nil
}

func validateLevels(assignAt, removeAt *int) error {
	if assignAt != nil && *assignAt < 0 {
		return shared.Validationf("autorole", "Validate", "assign level cannot be negative, got %d", *assignAt)
	}
	if removeAt != nil && *removeAt < 0 {
		return shared.Validationf("autorole", "Validate", "remove level cannot be negative, got %d", *removeAt)
	}
	return nil
}

// Holds reports whether a principal at level should have the role.
func (r Rule) Holds(level int) bool {
	return r.AssignAt <= level && (r.RemoveAt > level || r.RemoveAt == 0)
}

// Lacks reports whether a principal at level should not have the role.
func (r Rule) Lacks(level int) bool {
	return r.AssignAt > level || (r.RemoveAt <= level && r.RemoveAt != 0)
}

// RolesToHold returns the roles a principal at level should have.
func RolesToHold(rules []Rule, level int) shared.RoleSet {
	out := make(shared.RoleSet)
	for _, r := range rules {
		if r.Holds(level) {
			out[r.RoleID] = struct{}{}
		}
	}
	return out
}

// RolesToLack returns the roles a principal at level should not have.
func RolesToLack(rules []Rule, level int) shared.RoleSet {
	out := make(shared.RoleSet)
	for _, r := range rules {
		if r.Lacks(level) {
			out[r.RoleID] = struct{}{}
		}
	}
	return out
}

// Delta is the role update needed to bring a principal in line with its level.
type Delta struct {
	Add    []shared.RoleID `json:"add"`
	Remove []shared.RoleID `json:"remove"`
}

// Empty reports whether nothing needs to change.
func (d Delta) Empty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// ComputeDelta returns hold(level) minus held, and lack(level) intersected with held.
func ComputeDelta(rules []Rule, held shared.RoleSet, level int) Delta {
	var d Delta
	for role := range RolesToHold(rules, level) {
		if !held.Has(role) {
			d.Add = append(d.Add, role)
		}
	}
	for role := range RolesToLack(rules, level) {
		if held.Has(role) {
			d.Remove = append(d.Remove, role)
		}
	}
	sort.Slice(d.Add, func(i, j int) bool { return d.Add[i] < d.Add[j] })
	sort.Slice(d.Remove, func(i, j int) bool { return d.Remove[i] < d.Remove[j] })
	return d
}

// Repository stores autorole rules.
type Repository interface {
	// ListAutoroleRules returns every rule.
	ListAutoroleRules(ctx context.Context) ([]Rule, error)

	// CreateAutoroleRule fails with a conflict error when the role already has a rule.
	CreateAutoroleRule(ctx context.Context, r Rule) error

	// UpdateAutoroleRule applies the non-nil fields and fails with a not-found error when absent.
	UpdateAutoroleRule(ctx context.Context, role shared.RoleID, p Patch) error

	// DeleteAutoroleRule fails with a not-found error when absent.
	DeleteAutoroleRule(ctx context.Context, role shared.RoleID) error
}
