// internal/store/users.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/tiltboard/tiltboard/internal/model"
	"github.com/tiltboard/tiltboard/internal/pagination"
)

const userColumns = "id, email, name, role, notify_pref, password_hash, created_at, updated_at"

// CreateUser inserts a new account and fills in its ID and timestamps.
// Emails are unique; a collision returns ErrDuplicateEmail.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	id, err := s.insertID(ctx,
		`INSERT INTO users (email, name, role, notify_pref, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		strings.ToLower(u.Email), u.Name, u.Role, u.NotifyPref, u.PasswordHash, now, now)
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateEmail
		}
		return err
	}
	u.ID = id
	u.Email = strings.ToLower(u.Email)
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// GetUser fetches an account by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail fetches an account by email (case-insensitive).
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`,
		strings.ToLower(email))
	return scanUser(row)
}

// UpdateUserRole changes an account's role.
func (s *Store) UpdateUserRole(ctx context.Context, id int64, role model.Role) error {
	return s.touchUser(ctx, id, `role = ?`, role)
}

// UpdateUserName changes an account's display name.
func (s *Store) UpdateUserName(ctx context.Context, id int64, name string) error {
	return s.touchUser(ctx, id, `name = ?`, name)
}

// UpdateUserNotifyPref changes an account's notification preference.
func (s *Store) UpdateUserNotifyPref(ctx context.Context, id int64, pref model.NotifyPref) error {
	return s.touchUser(ctx, id, `notify_pref = ?`, pref)
}

// SetUserPassword stores a new password hash for the account.
func (s *Store) SetUserPassword(ctx context.Context, id int64, hash string) error {
	return s.touchUser(ctx, id, `password_hash = ?`, hash)
}

func (s *Store) touchUser(ctx context.Context, id int64, set string, val any) error {
	res, err := s.exec(ctx,
		`UPDATE users SET `+set+`, updated_at = ? WHERE id = ?`,
		val, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// ListUsers returns a page of accounts ordered by name and sets the page total.
func (s *Store) ListUsers(ctx context.Context, page *pagination.Page) ([]model.User, error) {
	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, err
	}
	page.SetTotal(total)

	rows, err := s.query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY name, id LIMIT ? OFFSET ?`,
		page.Limit(), page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]model.User, 0, page.Limit())
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.NotifyPref,
			&u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.NotifyPref,
		&u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// isDuplicate sniffs unique-constraint violations across the three drivers.
func isDuplicate(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") || // postgres
		strings.Contains(msg, "Duplicate entry") // mysql
}

// isForeignKey sniffs foreign-key violations across the three drivers.
func isForeignKey(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "FOREIGN KEY constraint failed") || // sqlite
		strings.Contains(msg, "violates foreign key constraint") || // postgres
		strings.Contains(msg, "foreign key constraint fails") // mysql
}

// oneRow converts a zero-row UPDATE or DELETE into ErrNotFound.
func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
