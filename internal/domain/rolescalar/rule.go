// Package rolescalar resolves per-role experience multipliers.
package rolescalar

import (
	"context"
	"math"
	"sort"

	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// DefaultScalar applies when a principal holds no scalar-bearing role.
const DefaultScalar = 1.0

// Rule says principals holding RoleID earn experience at Scalar times the base rate.
// When several rules apply, the highest Priority wins outright.
type Rule struct {
	RoleID   shared.RoleID `json:"role_id"`
	Scalar   float64       `json:"scalar"`
	Priority int           `json:"priority"`
}

// Patch carries the optional fields of a modify operation.
type Patch struct {
	Scalar   *float64 `json:"scalar,omitempty"`
	Priority *int     `json:"priority,omitempty"`
}

// Validate rejects negative or non-finite scalars.
func (r Rule) Validate() error {
	return validateScalar(r.Scalar)
}

// Validate rejects negative or non-finite scalars.
func (p Patch) Validate() error {
	if p.Scalar == nil {
		return nil
	}
	return validateScalar(*p.Scalar)
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Scalar == nil && p.Priority == nil
}

func validateScalar(v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return shared.Validationf("rolescalar", "Validate", "scalar must be a non-negative number, got %v", v)
	}
	return nil
}

// Resolve returns the multiplier for a principal holding roles.
// Priority ties go to the larger scalar, then the lower role id.
func Resolve(rules []Rule, roles shared.RoleSet) float64 {
	matched := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if roles.Has(r.RoleID) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return DefaultScalar
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Scalar != b.Scalar {
			return a.Scalar > b.Scalar
		}
		return a.RoleID < b.RoleID
	})
	return matched[0].Scalar
}

// Repository stores scalar rules.
type Repository interface {
	// ListScalarRules returns every rule.
	ListScalarRules(ctx context.Context) ([]Rule, error)

	// CreateScalarRule fails with a conflict error when the role already has a rule.
	CreateScalarRule(ctx context.Context, r Rule) error

	// UpdateScalarRule applies the non-nil fields and fails with a not-found error when absent.
	UpdateScalarRule(ctx context.Context, role shared.RoleID, p Patch) error

	// DeleteScalarRule fails with a not-found error when absent.
	DeleteScalarRule(ctx context.Context, role shared.RoleID) error
}
