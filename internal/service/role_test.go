package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/social-blog/internal/apperror"
	"github.com/sakif/social-blog/internal/model"
)

func TestEnsureRolesSeeded_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	before, err := env.db.Roles().List(ctx)
	require.NoError(t, err)

	require.NoError(t, env.roles.EnsureRolesSeeded(ctx))
	after, err := env.db.Roles().List(ctx)
	require.NoError(t, err)

	require.Len(t, after, len(DefaultRoles))
	assert.ElementsMatch(t, before, after, "reseeding must keep role IDs stable")

	defaults := 0
	for _, r := range after {
		if r.IsDefault {
			defaults++
			assert.Equal(t, "User", r.Name)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestEnsureRolesSeeded_StorageFailure(t *testing.T) {
	svc := NewRoleService(failingRoleRepo{}, newTestLogger())

	err := svc.EnsureRolesSeeded(context.Background())
	assert.True(t, errors.Is(err, errStorageDown), "got %v", err)
}

func TestRoleList_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.registerEmail(t, "boss", testAdminEmail)
	john := env.register(t, "john")

	roles, err := env.roles.List(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, roles, 3)

	_, err = env.roles.List(ctx, john)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = env.roles.List(ctx, nil)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestDefaultRoles_Permissions(t *testing.T) {
	byName := map[string]model.Permission{}
	for _, r := range DefaultRoles {
		byName[r.Name] = r.Permissions
	}
	assert.Equal(t, model.Permission(0x07), byName["User"])
	assert.Equal(t, model.Permission(0x0F), byName["Moderator"])
	assert.Equal(t, model.Permission(0xFF), byName["Administrator"])
}
