package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/social-blog/internal/authz"
	"github.com/sakif/social-blog/internal/metrics"
	"github.com/sakif/social-blog/internal/model"
	"github.com/sakif/social-blog/internal/repository"
)

// Renderer turns a Markdown body into sanitized HTML.
type Renderer interface {
	Render(body string) (string, error)
}

// PostService handles posts and the feeds built from them.
type PostService struct {
	posts    repository.PostRepository
	users    repository.UserRepository
	renderer Renderer
	logger   *slog.Logger
	now      func() time.Time
}

func NewPostService(posts repository.PostRepository, users repository.UserRepository, renderer Renderer, logger *slog.Logger) *PostService {
	return &PostService{posts: posts, users: users, renderer: renderer, logger: logger, now: time.Now}
}

// Create publishes a post by actor. Requires WRITE_ARTICLES.
func (s *PostService) Create(ctx context.Context, actor *model.Principal, in PostInput) (*model.PostView, error) {
	if err := authz.Require(actor, authz.Permission(model.PermWriteArticles)); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	html, err := s.renderer.Render(in.Body)
	if err != nil {
		return nil, fmt.Errorf("rendering post: %w", err)
	}

	p := &model.Post{
		Body:      in.Body,
		BodyHTML:  html,
		AuthorID:  actor.UserID(),
		Timestamp: s.now().UTC(),
	}
	if err := s.posts.Create(ctx, p); err != nil {
		s.logger.Error("failed to create post",
			slog.String("author", p.AuthorID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating post: %w", err)
	}

	metrics.PostsTotal.WithLabelValues("create").Inc()
	s.logger.Info("post created", slog.String("id", p.ID), slog.String("author", p.AuthorID))
	return s.posts.GetByID(ctx, p.ID)
}

// Edit replaces the body of post id. Only the author or an administrator
// may edit; the timestamp stays put.
func (s *PostService) Edit(ctx context.Context, actor *model.Principal, id string, in PostInput) (*model.PostView, error) {
	view, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.Require(actor, authz.AuthorOrAdmin(&view.Post)); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	html, err := s.renderer.Render(in.Body)
	if err != nil {
		return nil, fmt.Errorf("rendering post: %w", err)
	}

	if err := s.posts.UpdateBody(ctx, id, in.Body, html); err != nil {
		s.logger.Error("failed to update post",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	metrics.PostsTotal.WithLabelValues("edit").Inc()
	s.logger.Info("post edited", slog.String("id", id), slog.String("editor", actor.UserID()))
	view.Body, view.BodyHTML = in.Body, html
	return view, nil
}

func (s *PostService) Get(ctx context.Context, id string) (*model.PostView, error) {
	return s.posts.GetByID(ctx, id)
}

// SelectFeed returns one page of the home feed. followedOnly narrows the
// feed to followed authors, and only for an authenticated actor; an
// anonymous caller always gets every post.
func (s *PostService) SelectFeed(ctx context.Context, actor *model.Principal, followedOnly bool, page, perPage int) (model.Page[model.PostView], error) {
	page, perPage = model.NormalizePage(page, perPage, MaxPerPage)
	opts := repository.ListOptions{Limit: perPage, Offset: model.Offset(page, perPage)}

	var (
		items []model.PostView
		total int
		err   error
	)
	if followedOnly && actor.UserID() != "" {
		items, total, err = s.posts.ListFollowed(ctx, actor.UserID(), opts)
	} else {
		items, total, err = s.posts.ListAll(ctx, opts)
	}
	if err != nil {
		return model.Page[model.PostView]{}, fmt.Errorf("selecting feed: %w", err)
	}
	return model.NewPage(items, page, perPage, total), nil
}

// UserPosts pages through one user's posts, newest first.
func (s *PostService) UserPosts(ctx context.Context, username string, page, perPage int) (model.Page[model.PostView], error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return model.Page[model.PostView]{}, err
	}
	page, perPage = model.NormalizePage(page, perPage, MaxPerPage)

	items, total, err := s.posts.ListByAuthor(ctx, u.ID, repository.ListOptions{
		Limit:  perPage,
		Offset: model.Offset(page, perPage),
	})
	if err != nil {
		return model.Page[model.PostView]{}, fmt.Errorf("listing posts: %w", err)
	}
	return model.NewPage(items, page, perPage, total), nil
}
