package command

import (
	"context"
	"log/slog"
	"sort"

	"github.com/guild-hub/guild-xp/internal/domain/autorole"
	"github.com/guild-hub/guild-xp/internal/domain/rolescalar"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RULE ADMINISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// RuleService manages role scalar and autorole rules.
type RuleService struct {
	scalars   rolescalar.Repository
	autoroles autorole.Repository
	logger    *slog.Logger
}

// NewRuleService creates a rule service.
func NewRuleService(scalars rolescalar.Repository, autoroles autorole.Repository, logger *slog.Logger) *RuleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleService{
		scalars:   scalars,
		autoroles: autoroles,
		logger:    logger.With("component", "rules"),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Role scalars
// ─────────────────────────────────────────────────────────────────────────────

// AssignScalar creates a scalar rule for role. It fails with a conflict
// error when the role already has one.
func (s *RuleService) AssignScalar(ctx context.Context, role shared.RoleID, scalar float64, priority int) (rolescalar.Rule, error) {
	rule := rolescalar.Rule{RoleID: role, Scalar: scalar, Priority: priority}
	if err := validateRole("rolescalar", "Assign", role); err != nil {
		return rule, err
	}
	if err := rule.Validate(); err != nil {
		return rule, err
	}

	if err := s.scalars.CreateScalarRule(ctx, rule); err != nil {
		return rule, ruleStoreError("rolescalar", "Assign", err)
	}

	s.logger.Info("scalar rule assigned", "role_id", role, "scalar", scalar, "priority", priority)
	return rule, nil
}

// ModifyScalar updates the provided fields of role's scalar rule.
func (s *RuleService) ModifyScalar(ctx context.Context, role shared.RoleID, patch rolescalar.Patch) error {
	if err := validateRole("rolescalar", "Modify", role); err != nil {
		return err
	}
	if patch.Empty() {
		return shared.Validationf("rolescalar", "Modify", "nothing to modify")
	}
	if err := patch.Validate(); err != nil {
		return err
	}

	if err := s.scalars.UpdateScalarRule(ctx, role, patch); err != nil {
		return ruleStoreError("rolescalar", "Modify", err)
	}

	s.logger.Info("scalar rule modified", "role_id", role)
	return nil
}

// RemoveScalar deletes role's scalar rule.
func (s *RuleService) RemoveScalar(ctx context.Context, role shared.RoleID) error {
	if err := s.scalars.DeleteScalarRule(ctx, role); err != nil {
		return ruleStoreError("rolescalar", "Remove", err)
	}

	s.logger.Info("scalar rule removed", "role_id", role)
	return nil
}

// ListScalars returns every scalar rule, highest priority first.
func (s *RuleService) ListScalars(ctx context.Context) ([]rolescalar.Rule, error) {
	rules, err := s.scalars.ListScalarRules(ctx)
	if err != nil {
		return nil, shared.StoreError("rolescalar", "List", err)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].RoleID < rules[j].RoleID
	})
	return rules, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Autoroles
// ─────────────────────────────────────────────────────────────────────────────

// CreateAutorole creates an autorole rule. It fails with a conflict error
// when the role already has one.
func (s *RuleService) CreateAutorole(ctx context.Context, role shared.RoleID, assignAt, removeAt int) (autorole.Rule, error) {
	rule := autorole.Rule{RoleID: role, AssignAt: assignAt, RemoveAt: removeAt}
	if err := validateRole("autorole", "Create", role); err != nil {
		return rule, err
	}
	if err := rule.Validate(); err != nil {
		return rule, err
	}

	if err := s.autoroles.CreateAutoroleRule(ctx, rule); err != nil {
		return rule, ruleStoreError("autorole", "Create", err)
	}

	s.logger.Info("autorole created", "role_id", role, "assign_at", assignAt, "remove_at", removeAt)
	return rule, nil
}

// ModifyAutorole updates the provided fields of role's autorole rule.
func (s *RuleService) ModifyAutorole(ctx context.Context, role shared.RoleID, patch autorole.Patch) error {
	if err := validateRole("autorole", "Modify", role); err != nil {
		return err
	}
	if patch.Empty() {
		return shared.Validationf("autorole", "Modify", "nothing to modify")
	}
	if err := patch.Validate(); err != nil {
		return err
	}

	if err := s.autoroles.UpdateAutoroleRule(ctx, role, patch); err != nil {
		return ruleStoreError("autorole", "Modify", err)
	}

	s.logger.Info("autorole modified", "role_id", role)
	return nil
}

// RemoveAutorole deletes role's autorole rule.
func (s *RuleService) RemoveAutorole(ctx context.Context, role shared.RoleID) error {
	if err := s.autoroles.DeleteAutoroleRule(ctx, role); err != nil {
		return ruleStoreError("autorole", "Remove", err)
	}

	s.logger.Info("autorole removed", "role_id", role)
	return nil
}

// ListAutoroles returns every autorole rule ordered by assign level.
func (s *RuleService) ListAutoroles(ctx context.Context) ([]autorole.Rule, error) {
	rules, err := s.autoroles.ListAutoroleRules(ctx)
	if err != nil {
		return nil, shared.StoreError("autorole", "List", err)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].AssignAt != rules[j].AssignAt {
			return rules[i].AssignAt < rules[j].AssignAt
		}
		return rules[i].RoleID < rules[j].RoleID
	})
	return rules, nil
}

func validateRole(domain, op string, role shared.RoleID) error {
	if role <= 0 {
		return shared.Validationf(domain, op, "invalid role id %d", role)
	}
	return nil
}

// ruleStoreError passes conflict and not-found kinds through and wraps
// everything else as a store failure.
func ruleStoreError(domain, op string, err error) error {
	if shared.IsConflict(err) || shared.IsNotFound(err) {
		return err
	}
	return shared.StoreError(domain, op, err)
}
