// internal/store/machines.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tiltboard/tiltboard/internal/model"
	"github.com/tiltboard/tiltboard/internal/pagination"
)

const machineColumns = "id, name, manufacturer, location, status, created_at, updated_at"

// CreateMachine inserts a machine and fills in its ID and timestamps.
func (s *Store) CreateMachine(ctx context.Context, m *model.Machine) error {
	now := time.Now().UTC()
	if m.Status == "" {
		m.Status = model.MachineActive
	}
	id, err := s.insertID(ctx,
		`INSERT INTO machines (name, manufacturer, location, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.Name, m.Manufacturer, m.Location, m.Status, now, now)
	if err != nil {
		return err
	}
	m.ID = id
	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

// GetMachine fetches a machine by ID.
func (s *Store) GetMachine(ctx context.Context, id int64) (*model.Machine, error) {
	row := s.queryRow(ctx, `SELECT `+machineColumns+` FROM machines WHERE id = ?`, id)
	var m model.Machine
	err := row.Scan(&m.ID, &m.Name, &m.Manufacturer, &m.Location, &m.Status,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMachine saves name, manufacturer, location, and status.
func (s *Store) UpdateMachine(ctx context.Context, m *model.Machine) error {
	m.UpdatedAt = time.Now().UTC()
	res, err := s.exec(ctx,
		`UPDATE machines SET name = ?, manufacturer = ?, location = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		m.Name, m.Manufacturer, m.Location, m.Status, m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// DeleteMachine removes a machine and its subscriptions. Issues reference
// machines, so machines with issues cannot be deleted by the database.
func (s *Store) DeleteMachine(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, `DELETE FROM machine_subscriptions WHERE machine_id = ?`, id); err != nil {
		return err
	}
	res, err := s.exec(ctx, `DELETE FROM machines WHERE id = ?`, id)
	if err != nil {
		if isForeignKey(err) {
			return ErrReferenced
		}
		return err
	}
	return oneRow(res)
}

// ListMachines returns a page of machines, optionally filtered by status,
// ordered by name.
func (s *Store) ListMachines(ctx context.Context, status *model.MachineStatus, page *pagination.Page) ([]model.Machine, error) {
	where := ""
	var args []any
	if status != nil {
		where = ` WHERE status = ?`
		args = append(args, *status)
	}

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM machines`+where, args...).Scan(&total); err != nil {
		return nil, err
	}
	page.SetTotal(total)

	rows, err := s.query(ctx,
		`SELECT `+machineColumns+` FROM machines`+where+` ORDER BY name, id LIMIT ? OFFSET ?`,
		append(args, page.Limit(), page.Offset())...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	machines := make([]model.Machine, 0, page.Limit())
	for rows.Next() {
		var m model.Machine
		if err := rows.Scan(&m.ID, &m.Name, &m.Manufacturer, &m.Location, &m.Status,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

// Subscribe registers a user for issue notifications on a machine.
// Subscribing twice is a no-op.
func (s *Store) Subscribe(ctx context.Context, userID, machineID int64) error {
	_, err := s.exec(ctx,
		`INSERT INTO machine_subscriptions (user_id, machine_id, created_at) VALUES (?, ?, ?)`,
		userID, machineID, time.Now().UTC())
	if err != nil && isDuplicate(err) {
		return nil
	}
	return err
}

// Unsubscribe removes a user's subscription to a machine.
func (s *Store) Unsubscribe(ctx context.Context, userID, machineID int64) error {
	_, err := s.exec(ctx,
		`DELETE FROM machine_subscriptions WHERE user_id = ? AND machine_id = ?`,
		userID, machineID)
	return err
}

// MachineSubscribers returns the users subscribed to a machine. The
// notifier filters them by notification preference.
func (s *Store) MachineSubscribers(ctx context.Context, machineID int64) ([]model.User, error) {
	rows, err := s.query(ctx,
		`SELECT `+prefixed(userColumns, "u.")+`
		 FROM users u
		 JOIN machine_subscriptions ms ON ms.user_id = u.id
		 WHERE ms.machine_id = ?
		 ORDER BY u.id`,
		machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
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

// IsSubscribed reports whether the user is subscribed to the machine.
func (s *Store) IsSubscribed(ctx context.Context, userID, machineID int64) (bool, error) {
	var n int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM machine_subscriptions WHERE user_id = ? AND machine_id = ?`,
		userID, machineID).Scan(&n)
	return n > 0, err
}
