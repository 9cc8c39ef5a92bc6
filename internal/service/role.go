package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/social-blog/internal/authz"
	"github.com/sakif/social-blog/internal/model"
	"github.com/sakif/social-blog/internal/repository"
)

// DefaultRoles is the registry every deployment starts from. User is the
// default role handed to new accounts.
var DefaultRoles = []model.Role{
	{
		Name:        "User",
		IsDefault:   true,
		Permissions: model.PermFollow | model.PermComment | model.PermWriteArticles,
	},
	{
		Name:        "Moderator",
		Permissions: model.PermFollow | model.PermComment | model.PermWriteArticles | model.PermModerateComments,
	},
	{
		Name:        "Administrator",
		Permissions: model.PermAll,
	},
}

// RoleService owns the role registry.
type RoleService struct {
	roles  repository.RoleRepository
	logger *slog.Logger
}

func NewRoleService(roles repository.RoleRepository, logger *slog.Logger) *RoleService {
	return &RoleService{roles: roles, logger: logger}
}

// EnsureRolesSeeded upserts DefaultRoles. It is safe to call on every boot:
// existing roles keep their IDs and get their permissions reset, and any
// role outside the table loses its default flag.
func (s *RoleService) EnsureRolesSeeded(ctx context.Context) error {
	if err := s.roles.Seed(ctx, DefaultRoles); err != nil {
		s.logger.Error("failed to seed roles", slog.String("error", err.Error()))
		return fmt.Errorf("seeding roles: %w", err)
	}
	s.logger.Info("roles seeded", slog.Int("count", len(DefaultRoles)))
	return nil
}

// List returns every role for the admin role picker.
func (s *RoleService) List(ctx context.Context, actor *model.Principal) ([]model.Role, error) {
	if err := authz.Require(actor, authz.Admin()); err != nil {
		return nil, err
	}
	roles, err := s.roles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	if roles == nil {
		roles = []model.Role{}
	}
	return roles, nil
}
