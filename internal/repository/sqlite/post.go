package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/social-blog/internal/apperror"
	"github.com/sakif/social-blog/internal/model"
	"github.com/sakif/social-blog/internal/repository"
)

var _ repository.PostRepository = (*PostStore)(nil)

// PostStore persists posts. Reads join the author so a feed page is one
// query, not one lookup per post.
type PostStore struct {
	conn *sql.DB
}

const postViewSelect = `
	SELECT p.id, p.body, p.body_html, p.author_id, p.ts, u.username, u.avatar_hash
	FROM posts p
	JOIN users u ON u.id = p.author_id`

const postOrder = ` ORDER BY p.ts DESC, p.seq DESC LIMIT ? OFFSET ?`

// Create inserts p, assigning ID and Timestamp when unset.
func (s *PostStore) Create(ctx context.Context, p *model.Post) error {
	if p.ID == "" {
		p.ID = xid.New().String()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO posts (id, body, body_html, author_id, ts) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Body, p.BodyHTML, p.AuthorID, toNanos(p.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating post: %w", err)
	}
	return nil
}

func (s *PostStore) GetByID(ctx context.Context, id string) (*model.PostView, error) {
	v, err := scanPostView(s.conn.QueryRowContext(ctx, postViewSelect+` WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("post", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting post %s: %w", id, err)
	}
	return v, nil
}

// UpdateBody replaces body and its rendered HTML together.
func (s *PostStore) UpdateBody(ctx context.Context, id, body, bodyHTML string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE posts SET body = ?, body_html = ? WHERE id = ?`, body, bodyHTML, id)
	if err != nil {
		return fmt.Errorf("sqlite: updating post %s: %w", id, err)
	}
	if err := updatedOne(res, "post", id); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return fmt.Errorf("sqlite: updating post %s: %w", id, err)
	}
	return nil
}

func (s *PostStore) ListAll(ctx context.Context, opts repository.ListOptions) ([]model.PostView, int, error) {
	return s.list(ctx, "all posts",
		`SELECT COUNT(*) FROM posts`, nil,
		postViewSelect+postOrder, nil, opts)
}

func (s *PostStore) ListByAuthor(ctx context.Context, authorID string, opts repository.ListOptions) ([]model.PostView, int, error) {
	return s.list(ctx, "posts by "+authorID,
		`SELECT COUNT(*) FROM posts WHERE author_id = ?`, []any{authorID},
		postViewSelect+` WHERE p.author_id = ?`+postOrder, []any{authorID}, opts)
}

// ListFollowed joins follows to posts on the author, so the posts of every
// followed user come back in one indexed query.
func (s *PostStore) ListFollowed(ctx context.Context, followerID string, opts repository.ListOptions) ([]model.PostView, int, error) {
	return s.list(ctx, "followed posts for "+followerID,
		`SELECT COUNT(*) FROM posts p
		 JOIN follows f ON f.followed_id = p.author_id
		 WHERE f.follower_id = ?`, []any{followerID},
		`SELECT p.id, p.body, p.body_html, p.author_id, p.ts, u.username, u.avatar_hash
		 FROM follows f
		 JOIN posts p ON p.author_id = f.followed_id
		 JOIN users u ON u.id = p.author_id
		 WHERE f.follower_id = ?`+postOrder, []any{followerID}, opts)
}

func (s *PostStore) list(ctx context.Context, what, countSQL string, countArgs []any,
	listSQL string, listArgs []any, opts repository.ListOptions,
) ([]model.PostView, int, error) {
	var total int
	if err := s.conn.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: counting %s: %w", what, err)
	}

	limit, offset := clampList(opts.Limit, opts.Offset)
	if offset >= total {
		return []model.PostView{}, total, nil
	}

	rows, err := s.conn.QueryContext(ctx, listSQL, append(listArgs, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: listing %s: %w", what, err)
	}
	defer rows.Close()

	views := make([]model.PostView, 0, limit)
	for rows.Next() {
		v, err := scanPostView(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlite: scanning post row: %w", err)
		}
		views = append(views, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlite: iterating %s: %w", what, err)
	}
	return views, total, nil
}

func scanPostView(row scanner) (*model.PostView, error) {
	var v model.PostView
	var ts int64
	err := row.Scan(&v.ID, &v.Body, &v.BodyHTML, &v.AuthorID, &ts,
		&v.Author.Username, &v.Author.AvatarHash)
	if err != nil {
		return nil, err
	}
	v.Timestamp = fromNanos(ts)
	v.Author.ID = v.AuthorID
	return &v, nil
}
