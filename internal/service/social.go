package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/social-blog/internal/apperror"
	"github.com/sakif/social-blog/internal/authz"
	"github.com/sakif/social-blog/internal/metrics"
	"github.com/sakif/social-blog/internal/model"
	"github.com/sakif/social-blog/internal/repository"
)

// MaxPerPage caps every paginated list.
const MaxPerPage = 100

// SocialService manages the follower graph.
type SocialService struct {
	users   repository.UserRepository
	follows repository.FollowRepository
	logger  *slog.Logger
	now     func() time.Time
}

func NewSocialService(users repository.UserRepository, follows repository.FollowRepository, logger *slog.Logger) *SocialService {
	return &SocialService{users: users, follows: follows, logger: logger, now: time.Now}
}

// Follow makes actor follow the user named targetUsername. Following
// someone already followed changes nothing. Following yourself is refused
// with SelfFollow whatever your role.
func (s *SocialService) Follow(ctx context.Context, actor *model.Principal, targetUsername string) error {
	if actor != nil && actor.User != nil && actor.User.Username == targetUsername {
		return apperror.SelfFollow()
	}
	if err := authz.Require(actor, authz.Permission(model.PermFollow)); err != nil {
		return err
	}
	target, err := s.users.GetByUsername(ctx, targetUsername)
	if err != nil {
		return err
	}
	if target.ID == actor.UserID() {
		return apperror.SelfFollow()
	}

	created, err := s.follows.Follow(ctx, actor.UserID(), target.ID, s.now().UTC())
	if err != nil {
		s.logger.Error("failed to follow",
			slog.String("follower", actor.UserID()),
			slog.String("followed", target.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("following %s: %w", targetUsername, err)
	}
	if created {
		metrics.FollowOpsTotal.WithLabelValues("follow").Inc()
		s.logger.Info("follow created",
			slog.String("follower", actor.UserID()),
			slog.String("followed", target.ID),
		)
	}
	return nil
}

// Unfollow removes the edge from actor to targetUsername, if any.
func (s *SocialService) Unfollow(ctx context.Context, actor *model.Principal, targetUsername string) error {
	if err := authz.Require(actor, authz.Permission(model.PermFollow)); err != nil {
		return err
	}
	target, err := s.users.GetByUsername(ctx, targetUsername)
	if err != nil {
		return err
	}

	removed, err := s.follows.Unfollow(ctx, actor.UserID(), target.ID)
	if err != nil {
		s.logger.Error("failed to unfollow",
			slog.String("follower", actor.UserID()),
			slog.String("followed", target.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("unfollowing %s: %w", targetUsername, err)
	}
	if removed {
		metrics.FollowOpsTotal.WithLabelValues("unfollow").Inc()
		s.logger.Info("follow removed",
			slog.String("follower", actor.UserID()),
			slog.String("followed", target.ID),
		)
	}
	return nil
}

// IsFollowing reports whether followerID follows followedID.
func (s *SocialService) IsFollowing(ctx context.Context, followerID, followedID string) (bool, error) {
	if followerID == "" || followedID == "" {
		return false, nil
	}
	return s.follows.IsFollowing(ctx, followerID, followedID)
}

// IsFollowedBy reports whether userID is followed by otherID.
func (s *SocialService) IsFollowedBy(ctx context.Context, userID, otherID string) (bool, error) {
	return s.IsFollowing(ctx, otherID, userID)
}

func (s *SocialService) FollowerCount(ctx context.Context, userID string) (int, error) {
	return s.follows.CountFollowers(ctx, userID)
}

func (s *SocialService) FollowedCount(ctx context.Context, userID string) (int, error) {
	return s.follows.CountFollowed(ctx, userID)
}

// Followers pages through the users following username, newest first.
func (s *SocialService) Followers(ctx context.Context, username string, page, perPage int) (model.Page[model.FollowEdge], error) {
	return s.edges(ctx, username, page, perPage, s.follows.CountFollowers, s.follows.Followers)
}

// Followed pages through the users username follows, newest first.
func (s *SocialService) Followed(ctx context.Context, username string, page, perPage int) (model.Page[model.FollowEdge], error) {
	return s.edges(ctx, username, page, perPage, s.follows.CountFollowed, s.follows.Followed)
}

func (s *SocialService) edges(
	ctx context.Context,
	username string,
	page, perPage int,
	count func(context.Context, string) (int, error),
	list func(context.Context, string, repository.ListOptions) ([]model.FollowEdge, error),
) (model.Page[model.FollowEdge], error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return model.Page[model.FollowEdge]{}, err
	}
	page, perPage = model.NormalizePage(page, perPage, MaxPerPage)

	total, err := count(ctx, u.ID)
	if err != nil {
		return model.Page[model.FollowEdge]{}, fmt.Errorf("counting edges: %w", err)
	}
	var items []model.FollowEdge
	if offset := model.Offset(page, perPage); offset < total {
		items, err = list(ctx, u.ID, repository.ListOptions{Limit: perPage, Offset: offset})
		if err != nil {
			return model.Page[model.FollowEdge]{}, fmt.Errorf("listing edges: %w", err)
		}
	}
	return model.NewPage(items, page, perPage, total), nil
}

// Profile is a user page as seen by a particular viewer.
type Profile struct {
	User         *model.User `json:"user"`
	Gravatar     string      `json:"gravatar"`
	Followers    int         `json:"followers"`
	Followed     int         `json:"followed"`
	IsFollowing  bool        `json:"isFollowing"`  // viewer follows user
	IsFollowedBy bool        `json:"isFollowedBy"` // user follows viewer
}

// Profile loads username with its follow counts and, for an authenticated
// viewer, the relationship in both directions. The email address is only
// shown to the user themselves and to administrators.
func (s *SocialService) Profile(ctx context.Context, viewer *model.Principal, username string) (*Profile, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	p := &Profile{User: u, Gravatar: u.Gravatar(256, true)}
	if p.Followers, err = s.follows.CountFollowers(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	if p.Followed, err = s.follows.CountFollowed(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}

	viewerID := viewer.UserID()
	if viewerID != "" && viewerID != u.ID {
		if p.IsFollowing, err = s.IsFollowing(ctx, viewerID, u.ID); err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		if p.IsFollowedBy, err = s.IsFollowedBy(ctx, viewerID, u.ID); err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
	}

	if viewerID != u.ID && !viewer.IsAdministrator() {
		shown := *u
		shown.Email = ""
		p.User = &shown
	}
	return p, nil
}
