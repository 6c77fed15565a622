package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// UpsertUser creates or refreshes a user record. Account management is
// owned by another service; this table is a local read model consumed
// for authorization and diff attribution.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO users (id, name, is_admin) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, is_admin = excluded.is_admin`),
		u.ID, u.Name, u.IsAdmin)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

// UserExists reports whether a user id is known.
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, s.db.Rebind(
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = ?)`), id)
	if err != nil {
		return false, fmt.Errorf("user exists %s: %w", id, err)
	}
	return ok, nil
}

// IsAdmin reports whether a user has the admin flag. Unknown users are
// not admins.
func (s *Store) IsAdmin(ctx context.Context, id string) (bool, error) {
	var admin bool
	err := s.db.GetContext(ctx, &admin, s.db.Rebind(
		`SELECT COALESCE((SELECT is_admin FROM users WHERE id = ?), FALSE)`), id)
	if err != nil {
		return false, fmt.Errorf("is admin %s: %w", id, err)
	}
	return admin, nil
}

// UsersByIDs returns the users matching ids, keyed by id. Unknown ids
// are simply absent from the result.
func (s *Store) UsersByIDs(ctx context.Context, ids []string) (map[string]User, error) {
	users := make(map[string]User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	query, args, err := sqlx.In(`SELECT id, name, is_admin FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("users by ids: %w", err)
	}
	var rows []User
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("users by ids: %w", err)
	}
	for _, u := range rows {
		users[u.ID] = u
	}
	return users, nil
}
