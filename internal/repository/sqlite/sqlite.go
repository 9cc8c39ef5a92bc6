// Package sqlite implements the repository interfaces on SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary needs
// no C toolchain. One *DB owns the connection pool; Roles, Users, Posts and
// Follows hand out stores that share it.
//
// Timestamps are stored as INTEGER unix nanoseconds. Feeds order by them and
// by an insertion sequence, and integers compare exactly where formatted
// datetimes would not.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/social-blog/internal/apperror"
)

// DB wraps the sql.DB connection pool.
type DB struct {
	conn *sql.DB
}

// New opens dbPath and runs migrations.
//
// dbPath examples:
//   - "data/blog.db"  file-based, persistent
//   - ":memory:"      in-memory, used by tests
//
// Pragmas are passed in the DSN so every pooled connection gets them, not
// just the first one. An in-memory database exists per connection, so the
// pool is pinned to a single connection for ":memory:".
func New(dbPath string) (*DB, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Roles() *RoleStore     { return &RoleStore{conn: db.conn} }
func (db *DB) Users() *UserStore     { return &UserStore{conn: db.conn} }
func (db *DB) Posts() *PostStore     { return &PostStore{conn: db.conn} }
func (db *DB) Follows() *FollowStore { return &FollowStore{conn: db.conn} }

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"roles", `
			CREATE TABLE IF NOT EXISTS roles (
				id          TEXT PRIMARY KEY,
				name        TEXT NOT NULL UNIQUE,
				is_default  INTEGER NOT NULL DEFAULT 0,
				permissions INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_roles_default ON roles(is_default);
		`},
		// github_id is nullable; SQLite's UNIQUE allows any number of NULLs.
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id            TEXT PRIMARY KEY,
				email         TEXT NOT NULL UNIQUE,
				username      TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL DEFAULT '',
				confirmed     INTEGER NOT NULL DEFAULT 0,
				role_id       TEXT REFERENCES roles(id) ON DELETE SET NULL,
				name          TEXT NOT NULL DEFAULT '',
				location      TEXT NOT NULL DEFAULT '',
				about_me      TEXT NOT NULL DEFAULT '',
				avatar_hash   TEXT NOT NULL DEFAULT '',
				github_id     INTEGER UNIQUE,
				member_since  INTEGER NOT NULL,
				last_seen     INTEGER NOT NULL
			);
		`},
		// seq is the insertion order; it breaks ties between posts that
		// share a timestamp. id is the public identifier.
		{"posts", `
			CREATE TABLE IF NOT EXISTS posts (
				seq       INTEGER PRIMARY KEY AUTOINCREMENT,
				id        TEXT NOT NULL UNIQUE,
				body      TEXT NOT NULL,
				body_html TEXT NOT NULL DEFAULT '',
				author_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				ts        INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_posts_ts ON posts(ts);
			CREATE INDEX IF NOT EXISTS idx_posts_author_ts ON posts(author_id, ts);
		`},
		// One row per edge. The follower's "followed" list and the
		// followee's "followers" list both read it.
		{"follows", `
			CREATE TABLE IF NOT EXISTS follows (
				follower_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				followed_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				ts          INTEGER NOT NULL,
				PRIMARY KEY (follower_id, followed_id),
				CHECK (follower_id <> followed_id)
			);
			CREATE INDEX IF NOT EXISTS idx_follows_followed ON follows(followed_id, ts);
		`},
	}

	for _, s := range stmts {
		if _, err := db.conn.Exec(s.sql); err != nil {
			return fmt.Errorf("creating %s table: %w", s.name, err)
		}
	}
	return nil
}

// uniqueViolation returns the "table.column" named by a UNIQUE constraint
// failure, or "" when err is something else.
func uniqueViolation(err error) string {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return ""
	}
	// Extended codes keep the primary code in the low byte.
	if se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return ""
	}
	// "... UNIQUE constraint failed: users.email (2067)"
	msg := se.Error()
	const marker = "UNIQUE constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	col, _, _ := strings.Cut(msg[i+len(marker):], " ")
	return col
}

// updatedOne turns a single-row UPDATE result into NotFound when no row
// matched. A failure to read the count is returned as is.
func updatedOne(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.NotFound(entity, id)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// clampList applies the default and maximum page window.
func clampList(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
