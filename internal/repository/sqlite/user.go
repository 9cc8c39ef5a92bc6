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

var _ repository.UserRepository = (*UserStore)(nil)

// UserStore persists accounts.
//
// Each update touches only the columns it owns, so a profile edit and a
// password change racing on the same user never overwrite each other.
type UserStore struct {
	conn *sql.DB
}

const userColumns = `id, email, username, password_hash, confirmed, role_id,
	name, location, about_me, avatar_hash, github_id, member_since, last_seen`

// Create inserts u, assigning an ID when it has none. MemberSince and
// LastSeen default to now.
func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = xid.New().String()
	}
	now := time.Now().UTC()
	if u.MemberSince.IsZero() {
		u.MemberSince = now
	}
	if u.LastSeen.IsZero() {
		u.LastSeen = u.MemberSince
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, u.PasswordHash, u.Confirmed, u.RoleID,
		u.Name, u.Location, u.AboutMe, u.AvatarHash, u.GitHubID,
		toNanos(u.MemberSince), toNanos(u.LastSeen),
	)
	if err != nil {
		if dup := duplicateUser(err, u); dup != nil {
			return dup
		}
		return fmt.Errorf("sqlite: creating user %s: %w", u.Username, err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	return s.getBy(ctx, "id", id)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getBy(ctx, "email", email)
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getBy(ctx, "username", username)
}

func (s *UserStore) GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	return s.getBy(ctx, "github_id", githubID)
}

// getBy is only called with the fixed column names above.
func (s *UserStore) getBy(ctx context.Context, column string, value any) (*model.User, error) {
	u, err := scanUser(s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", fmt.Sprint(value))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", column, err)
	}
	return u, nil
}

func (s *UserStore) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking username %s: %w", username, err)
	}
	return n > 0, nil
}

func (s *UserStore) UpdateProfile(ctx context.Context, id, name, location, aboutMe string) error {
	return s.exec(ctx, id, "updating profile",
		`UPDATE users SET name = ?, location = ?, about_me = ? WHERE id = ?`,
		name, location, aboutMe, id)
}

func (s *UserStore) UpdatePassword(ctx context.Context, id, hash string) error {
	return s.exec(ctx, id, "updating password",
		`UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
}

func (s *UserStore) SetConfirmed(ctx context.Context, id string, confirmed bool) error {
	return s.exec(ctx, id, "setting confirmed",
		`UPDATE users SET confirmed = ? WHERE id = ?`, confirmed, id)
}

func (s *UserStore) LinkGitHub(ctx context.Context, id string, githubID int64) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE users SET github_id = ? WHERE id = ?`, githubID, id)
	if err != nil {
		if uniqueViolation(err) == "users.github_id" {
			return apperror.Duplicate("github account", fmt.Sprint(githubID))
		}
		return fmt.Errorf("sqlite: linking github for user %s: %w", id, err)
	}
	return nil
}

func (s *UserStore) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, id, "touching last_seen",
		`UPDATE users SET last_seen = ? WHERE id = ?`, toNanos(at), id)
}

// ChangeEmail is one conditional UPDATE: the NOT EXISTS guard and the UNIQUE
// index together make the check-and-write atomic.
//
// Zero rows affected means either the user is gone or the address is taken;
// a follow-up read tells the two apart.
func (s *UserStore) ChangeEmail(ctx context.Context, id, newEmail, avatarHash string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET email = ?, avatar_hash = ?
		 WHERE id = ?
		   AND NOT EXISTS (SELECT 1 FROM users WHERE email = ? AND id <> ?)`,
		newEmail, avatarHash, id, newEmail, id)
	if err != nil {
		if uniqueViolation(err) == "users.email" {
			return emailConflict(newEmail)
		}
		return fmt.Errorf("sqlite: changing email for user %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: changing email for user %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return emailConflict(newEmail)
}

func emailConflict(email string) error {
	return apperror.Conflict("email", email)
}

// UpdateAdmin writes the administrator-editable fields of u.
func (s *UserStore) UpdateAdmin(ctx context.Context, u *model.User) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET email = ?, username = ?, confirmed = ?, role_id = ?,
		   name = ?, location = ?, about_me = ?, avatar_hash = ?
		 WHERE id = ?`,
		u.Email, u.Username, u.Confirmed, u.RoleID,
		u.Name, u.Location, u.AboutMe, u.AvatarHash, u.ID)
	if err != nil {
		if dup := duplicateUser(err, u); dup != nil {
			return dup
		}
		return fmt.Errorf("sqlite: admin update of user %s: %w", u.ID, err)
	}
	if err := updatedOne(res, "user", u.ID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return fmt.Errorf("sqlite: admin update of user %s: %w", u.ID, err)
	}
	return nil
}

func (s *UserStore) exec(ctx context.Context, id, what, query string, args ...any) error {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: %s for user %s: %w", what, id, err)
	}
	if err := updatedOne(res, "user", id); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return fmt.Errorf("sqlite: %s for user %s: %w", what, id, err)
	}
	return nil
}

// duplicateUser maps a UNIQUE violation on users to apperror.ErrDuplicate.
func duplicateUser(err error, u *model.User) error {
	switch uniqueViolation(err) {
	case "users.email":
		return apperror.Duplicate("email", u.Email)
	case "users.username":
		return apperror.Duplicate("username", u.Username)
	case "users.github_id":
		return apperror.Duplicate("github account", fmt.Sprint(derefInt64(u.GitHubID)))
	}
	return nil
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func scanUser(row scanner) (*model.User, error) {
	var (
		u        model.User
		roleID   sql.NullString
		githubID sql.NullInt64
		since    int64
		lastSeen int64
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Confirmed, &roleID,
		&u.Name, &u.Location, &u.AboutMe, &u.AvatarHash, &githubID,
		&since, &lastSeen,
	)
	if err != nil {
		return nil, err
	}
	if roleID.Valid {
		u.RoleID = &roleID.String
	}
	if githubID.Valid {
		u.GitHubID = &githubID.Int64
	}
	u.MemberSince = fromNanos(since)
	u.LastSeen = fromNanos(lastSeen)
	return &u, nil
}
