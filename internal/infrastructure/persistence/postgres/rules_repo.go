package postgres

import (
	"context"
	"fmt"

	"github.com/guild-hub/guild-xp/internal/domain/autorole"
	"github.com/guild-hub/guild-xp/internal/domain/rolescalar"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// ─────────────────────────────────────────────────────────────────────────────
// Role scalars
// ─────────────────────────────────────────────────────────────────────────────

// ListScalarRules implements rolescalar.Repository.
func (s *Store) ListScalarRules(ctx context.Context) ([]rolescalar.Rule, error) {
	rows, err := s.conn.Pool().Query(ctx, `
		SELECT role_id, scalar, priority FROM role_scalars
		WHERE guild_id = $1 ORDER BY role_id
	`, int64(s.guild))
	if err != nil {
		return nil, fmt.Errorf("failed to list scalar rules: %w", err)
	}
	defer rows.Close()

	var out []rolescalar.Rule
	for rows.Next() {
		var (
			role int64
			r    rolescalar.Rule
		)
		if err := rows.Scan(&role, &r.Scalar, &r.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan scalar rule: %w", err)
		}
		r.RoleID = shared.RoleID(role)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateScalarRule implements rolescalar.Repository.
func (s *Store) CreateScalarRule(ctx context.Context, r rolescalar.Rule) error {
	tag, err := s.conn.Pool().Exec(ctx, `
		INSERT INTO role_scalars (guild_id, role_id, scalar, priority)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, role_id) DO NOTHING
	`, int64(s.guild), int64(r.RoleID), r.Scalar, r.Priority)
	if err != nil {
		return fmt.Errorf("failed to create scalar rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrScalarRuleExists
	}
	return nil
}

// UpdateScalarRule implements rolescalar.Repository.
func (s *Store) UpdateScalarRule(ctx context.Context, role shared.RoleID, p rolescalar.Patch) error {
	tag, err := s.conn.Pool().Exec(ctx, `
		UPDATE role_scalars SET
			scalar = COALESCE($3::double precision, scalar),
			priority = COALESCE($4::integer, priority)
		WHERE guild_id = $1 AND role_id = $2
	`, int64(s.guild), int64(role), p.Scalar, p.Priority)
	if err != nil {
		return fmt.Errorf("failed to update scalar rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrScalarRuleNotFound
	}
	return nil
}

// DeleteScalarRule implements rolescalar.Repository.
func (s *Store) DeleteScalarRule(ctx context.Context, role shared.RoleID) error {
	tag, err := s.conn.Pool().Exec(ctx, `
		DELETE FROM role_scalars WHERE guild_id = $1 AND role_id = $2
	`, int64(s.guild), int64(role))
	if err != nil {
		return fmt.Errorf("failed to delete scalar rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrScalarRuleNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Autoroles
// ─────────────────────────────────────────────────────────────────────────────

// ListAutoroleRules implements autorole.Repository.
func (s *Store) ListAutoroleRules(ctx context.Context) ([]autorole.Rule, error) {
	rows, err := s.conn.Pool().Query(ctx, `
		SELECT role_id, assign_at, remove_at FROM autoroles
		WHERE guild_id = $1 ORDER BY role_id
	`, int64(s.guild))
	if err != nil {
		return nil, fmt.Errorf("failed to list autoroles: %w", err)
	}
	defer rows.Close()

	var out []autorole.Rule
	for rows.Next() {
		var (
			role int64
			r    autorole.Rule
		)
		if err := rows.Scan(&role, &r.AssignAt, &r.RemoveAt); err != nil {
			return nil, fmt.Errorf("failed to scan autorole: %w", err)
		}
		r.RoleID = shared.RoleID(role)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateAutoroleRule implements autorole.Repository.
func (s *Store) CreateAutoroleRule(ctx context.Context, r autorole.Rule) error {
	tag, err := s.conn.Pool().Exec(ctx, `
		INSERT INTO autoroles (guild_id, role_id, assign_at, remove_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, role_id) DO NOTHING
	`, int64(s.guild), int64(r.RoleID), r.AssignAt, r.RemoveAt)
	if err != nil {
		return fmt.Errorf("failed to create autorole: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAutoroleExists
	}
	return nil
}

// UpdateAutoroleRule implements autorole.Repository.
func (s *Store) UpdateAutoroleRule(ctx context.Context, role shared.RoleID, p autorole.Patch) error {
	tag, err := s.conn.Pool().Exec(ctx, `
		UPDATE autoroles SET
			assign_at = COALESCE($3::integer, assign_at),
			remove_at = COALESCE($4::integer, remove_at)
		WHERE guild_id = $1 AND role_id = $2
	`, int64(s.guild), int64(role), p.AssignAt, p.RemoveAt)
	if err != nil {
		return fmt.Errorf("failed to update autorole: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAutoroleNotFound
	}
	return nil
}

// DeleteAutoroleRule implements autorole.Repository.
func (s *Store) DeleteAutoroleRule(ctx context.Context, role shared.RoleID) error {
	tag, err := s.conn.Pool().Exec(ctx, `
		DELETE FROM autoroles WHERE guild_id = $1 AND role_id = $2
	`, int64(s.guild), int64(role))
	if err != nil {
		return fmt.Errorf("failed to delete autorole: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAutoroleNotFound
	}
	return nil
}
