package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/social-blog/internal/apperror"
	"github.com/sakif/social-blog/internal/model"
	"github.com/sakif/social-blog/internal/repository"
)

var _ repository.RoleRepository = (*RoleStore)(nil)

// RoleStore persists roles.
type RoleStore struct {
	conn *sql.DB
}

const roleColumns = `id, name, is_default, permissions`

// Seed upserts each role by name and clears is_default on every role outside
// the list, all in one transaction. A failure rolls back the whole seed.
func (s *RoleStore) Seed(ctx context.Context, roles []model.Role) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning role seed: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	names := make([]any, 0, len(roles))
	for _, r := range roles {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO roles (id, name, is_default, permissions)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET
			   is_default  = excluded.is_default,
			   permissions = excluded.permissions`,
			xid.New().String(), r.Name, r.IsDefault, int(r.Permissions),
		)
		if err != nil {
			return fmt.Errorf("sqlite: upserting role %s: %w", r.Name, err)
		}
		names = append(names, r.Name)
	}

	if len(names) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
		_, err = tx.ExecContext(ctx,
			`UPDATE roles SET is_default = 0 WHERE name NOT IN (`+placeholders+`)`,
			names...,
		)
		if err != nil {
			return fmt.Errorf("sqlite: clearing stale default roles: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing role seed: %w", err)
	}
	return nil
}

func (s *RoleStore) GetByID(ctx context.Context, id string) (*model.Role, error) {
	r, err := scanRole(s.conn.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("role", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting role %s: %w", id, err)
	}
	return r, nil
}

func (s *RoleStore) GetByName(ctx context.Context, name string) (*model.Role, error) {
	r, err := scanRole(s.conn.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("role", name)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting role %s: %w", name, err)
	}
	return r, nil
}

// Default returns the role flagged is_default.
func (s *RoleStore) Default(ctx context.Context) (*model.Role, error) {
	r, err := scanRole(s.conn.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE is_default = 1 ORDER BY name LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("role", "default")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting default role: %w", err)
	}
	return r, nil
}

func (s *RoleStore) ByPermissions(ctx context.Context, perms model.Permission) (*model.Role, error) {
	r, err := scanRole(s.conn.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE permissions = ? ORDER BY name LIMIT 1`, int(perms)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("role", fmt.Sprintf("permissions=%#x", int(perms)))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting role by permissions: %w", err)
	}
	return r, nil
}

// List returns every role, weakest first.
func (s *RoleStore) List(ctx context.Context) ([]model.Role, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM roles ORDER BY permissions, name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing roles: %w", err)
	}
	defer rows.Close()

	var roles []model.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning role row: %w", err)
		}
		roles = append(roles, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating roles: %w", err)
	}
	return roles, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRole(row scanner) (*model.Role, error) {
	var r model.Role
	var perms int
	if err := row.Scan(&r.ID, &r.Name, &r.IsDefault, &perms); err != nil {
		return nil, err
	}
	r.Permissions = model.Permission(perms)
	return &r, nil
}
