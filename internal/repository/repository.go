// Package repository declares the storage contracts the service layer
// depends on. internal/repository/sqlite is the implementation.
package repository

import (
	"context"
	"time"

	"github.com/sakif/social-blog/internal/model"
)

// ListOptions is a LIMIT/OFFSET window over an ordered result set.
type ListOptions struct {
	Limit  int
	Offset int
}

// RoleRepository stores the role registry.
type RoleRepository interface {
	// Seed upserts roles by name in one transaction and clears IsDefault on
	// every role not in the list.
	Seed(ctx context.Context, roles []model.Role) error
	GetByID(ctx context.Context, id string) (*model.Role, error)
	GetByName(ctx context.Context, name string) (*model.Role, error)
	Default(ctx context.Context) (*model.Role, error)
	// ByPermissions returns the role whose mask equals perms exactly.
	ByPermissions(ctx context.Context, perms model.Permission) (*model.Role, error)
	List(ctx context.Context) ([]model.Role, error)
}

// UserRepository stores accounts. Unique collisions on email, username or
// GitHub ID come back as apperror.ErrDuplicate.
type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)

	UpdateProfile(ctx context.Context, id, name, location, aboutMe string) error
	UpdatePassword(ctx context.Context, id, hash string) error
	SetConfirmed(ctx context.Context, id string, confirmed bool) error
	// ChangeEmail moves id to newEmail unless another account holds it.
	// It returns apperror.ErrConflict in that case.
	ChangeEmail(ctx context.Context, id, newEmail, avatarHash string) error
	// UpdateAdmin writes every field an administrator may edit.
	UpdateAdmin(ctx context.Context, u *model.User) error
	LinkGitHub(ctx context.Context, id string, githubID int64) error
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}

// PostRepository stores posts. Every list is ordered newest first with the
// insertion sequence as tiebreak, and returns the total alongside the page.
type PostRepository interface {
	Create(ctx context.Context, p *model.Post) error
	GetByID(ctx context.Context, id string) (*model.PostView, error)
	UpdateBody(ctx context.Context, id, body, bodyHTML string) error
	ListAll(ctx context.Context, opts ListOptions) ([]model.PostView, int, error)
	ListByAuthor(ctx context.Context, authorID string, opts ListOptions) ([]model.PostView, int, error)
	// ListFollowed returns posts by every user followerID follows.
	ListFollowed(ctx context.Context, followerID string, opts ListOptions) ([]model.PostView, int, error)
}

// FollowRepository stores follow edges, one row per edge.
type FollowRepository interface {
	// Follow reports whether a new edge was created; an existing edge is
	// left untouched.
	Follow(ctx context.Context, followerID, followedID string, at time.Time) (bool, error)
	// Unfollow reports whether an edge was removed.
	Unfollow(ctx context.Context, followerID, followedID string) (bool, error)
	IsFollowing(ctx context.Context, followerID, followedID string) (bool, error)
	CountFollowers(ctx context.Context, userID string) (int, error)
	CountFollowed(ctx context.Context, userID string) (int, error)
	Followers(ctx context.Context, userID string, opts ListOptions) ([]model.FollowEdge, error)
	Followed(ctx context.Context, userID string, opts ListOptions) ([]model.FollowEdge, error)
}
