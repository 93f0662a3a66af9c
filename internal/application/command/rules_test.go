package command

import (
	"context"
	"testing"

	"github.com/guild-hub/guild-xp/internal/domain/autorole"
	"github.com/guild-hub/guild-xp/internal/domain/rolescalar"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/guild-hub/guild-xp/internal/infrastructure/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuleService() *RuleService {
	store := memory.NewStore()
	return NewRuleService(store, store, nil)
}

func TestRuleService_ScalarLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newRuleService()

	_, err := svc.AssignScalar(ctx, 10, 2, 1)
	require.NoError(t, err)

	_, err = svc.AssignScalar(ctx, 10, 3, 1)
	assert.True(t, shared.IsConflict(err))

	scalar := 4.0
	require.NoError(t, svc.ModifyScalar(ctx, 10, rolescalar.Patch{Scalar: &scalar}))

	rules, err := svc.ListScalars(ctx)
	require.NoError(t, err)
	assert.Equal(t, []rolescalar.Rule{{RoleID: 10, Scalar: 4, Priority: 1}}, rules)

	require.NoError(t, svc.RemoveScalar(ctx, 10))
	assert.True(t, shared.IsNotFound(svc.RemoveScalar(ctx, 10)))
}

func TestRuleService_ScalarValidation(t *testing.T) {
	ctx := context.Background()
	svc := newRuleService()

	_, err := svc.AssignScalar(ctx, 10, -1, 0)
	assert.True(t, shared.IsValidation(err))

	_, err = svc.AssignScalar(ctx, 0, 1, 0)
	assert.True(t, shared.IsValidation(err))

	assert.True(t, shared.IsValidation(svc.ModifyScalar(ctx, 10, rolescalar.Patch{})))

	prio := 3
	assert.True(t, shared.IsNotFound(svc.ModifyScalar(ctx, 10, rolescalar.Patch{Priority: &prio})))
}

func TestRuleService_ListScalarsByPriority(t *testing.T) {
	ctx := context.Background()
	svc := newRuleService()

	_, _ = svc.AssignScalar(ctx, 1, 2, 1)
	_, _ = svc.AssignScalar(ctx, 2, 2, 9)
	_, _ = svc.AssignScalar(ctx, 3, 2, 5)

	rules, err := svc.ListScalars(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, shared.RoleID(2), rules[0].RoleID)
	assert.Equal(t, shared.RoleID(3), rules[1].RoleID)
}

func TestRuleService_AutoroleLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newRuleService()

	_, err := svc.CreateAutorole(ctx, 100, 5, 10)
	require.NoError(t, err)

	_, err = svc.CreateAutorole(ctx, 100, 1, 0)
	assert.True(t, shared.IsConflict(err))

	removeAt := 0
	require.NoError(t, svc.ModifyAutorole(ctx, 100, autorole.Patch{RemoveAt: &removeAt}))

	rules, err := svc.ListAutoroles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []autorole.Rule{{RoleID: 100, AssignAt: 5, RemoveAt: 0}}, rules)

	require.NoError(t, svc.RemoveAutorole(ctx, 100))
	assert.True(t, shared.IsNotFound(svc.RemoveAutorole(ctx, 100)))
	assert.True(t, shared.IsNotFound(svc.ModifyAutorole(ctx, 100, autorole.Patch{RemoveAt: &removeAt})))
}

func TestRuleService_AutoroleValidation(t *testing.T) {
	ctx := context.Background()
	svc := newRuleService()

	_, err := svc.CreateAutorole(ctx, 100, -1, 0)
	assert.True(t, shared.IsValidation(err))

	neg := -3
	assert.True(t, shared.IsValidation(svc.ModifyAutorole(ctx, 100, autorole.Patch{AssignAt: &neg})))
}
