package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/social-blog/internal/model"
	"github.com/sakif/social-blog/internal/repository"
)

var _ repository.FollowRepository = (*FollowStore)(nil)

// FollowStore persists the follow graph.
//
// An edge is a single row, so "a follows b" and "b is followed by a" are the
// same fact and both sides change in the same statement.
type FollowStore struct {
	conn *sql.DB
}

// Follow inserts the edge unless it exists. An existing edge keeps its
// original timestamp.
func (s *FollowStore) Follow(ctx context.Context, followerID, followedID string, at time.Time) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO follows (follower_id, followed_id, ts) VALUES (?, ?, ?)
		 ON CONFLICT(follower_id, followed_id) DO NOTHING`,
		followerID, followedID, toNanos(at))
	if err != nil {
		return false, fmt.Errorf("sqlite: creating follow %s -> %s: %w", followerID, followedID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: creating follow %s -> %s: %w", followerID, followedID, err)
	}
	return n > 0, nil
}

func (s *FollowStore) Unfollow(ctx context.Context, followerID, followedID string) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = ? AND followed_id = ?`,
		followerID, followedID)
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting follow %s -> %s: %w", followerID, followedID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting follow %s -> %s: %w", followerID, followedID, err)
	}
	return n > 0, nil
}

func (s *FollowStore) IsFollowing(ctx context.Context, followerID, followedID string) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM follows WHERE follower_id = ? AND followed_id = ?`,
		followerID, followedID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking follow %s -> %s: %w", followerID, followedID, err)
	}
	return n > 0, nil
}

func (s *FollowStore) CountFollowers(ctx context.Context, userID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM follows WHERE followed_id = ?`, userID)
}

func (s *FollowStore) CountFollowed(ctx context.Context, userID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM follows WHERE follower_id = ?`, userID)
}

func (s *FollowStore) count(ctx context.Context, query, userID string) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting follows for %s: %w", userID, err)
	}
	return n, nil
}

// Followers lists the users following userID, newest edge first.
func (s *FollowStore) Followers(ctx context.Context, userID string, opts repository.ListOptions) ([]model.FollowEdge, error) {
	return s.edges(ctx,
		`SELECT u.id, u.username, u.avatar_hash, f.ts
		 FROM follows f JOIN users u ON u.id = f.follower_id
		 WHERE f.followed_id = ?
		 ORDER BY f.ts DESC, u.id
		 LIMIT ? OFFSET ?`, userID, opts)
}

// Followed lists the users userID follows, newest edge first.
func (s *FollowStore) Followed(ctx context.Context, userID string, opts repository.ListOptions) ([]model.FollowEdge, error) {
	return s.edges(ctx,
		`SELECT u.id, u.username, u.avatar_hash, f.ts
		 FROM follows f JOIN users u ON u.id = f.followed_id
		 WHERE f.follower_id = ?
		 ORDER BY f.ts DESC, u.id
		 LIMIT ? OFFSET ?`, userID, opts)
}

func (s *FollowStore) edges(ctx context.Context, query, userID string, opts repository.ListOptions) ([]model.FollowEdge, error) {
	limit, offset := clampList(opts.Limit, opts.Offset)
	rows, err := s.conn.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing follows for %s: %w", userID, err)
	}
	defer rows.Close()

	edges := make([]model.FollowEdge, 0, limit)
	for rows.Next() {
		var e model.FollowEdge
		var ts int64
		if err := rows.Scan(&e.UserID, &e.Username, &e.AvatarHash, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scanning follow row: %w", err)
		}
		e.Timestamp = fromNanos(ts)
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating follows for %s: %w", userID, err)
	}
	return edges, nil
}
