// internal/store/issues.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tiltboard/tiltboard/internal/model"
	"github.com/tiltboard/tiltboard/internal/pagination"
)

const issueColumns = "id, machine_id, title, description, severity, status, reporter_id, assignee_id, created_at, updated_at"

// IssueFilter narrows ListIssues. Nil fields match everything.
type IssueFilter struct {
	MachineID  *int64
	Status     *model.IssueStatus
	AssigneeID *int64
}

func (f IssueFilter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.MachineID != nil {
		clauses = append(clauses, "machine_id = ?")
		args = append(args, *f.MachineID)
	}
	if f.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, *f.Status)
	}
	if f.AssigneeID != nil {
		clauses = append(clauses, "assignee_id = ?")
		args = append(args, *f.AssigneeID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

// CreateIssue inserts an issue and fills in its ID, status, and timestamps.
// New issues always start open.
func (s *Store) CreateIssue(ctx context.Context, is *model.Issue) error {
	now := time.Now().UTC()
	is.Status = model.IssueOpen
	id, err := s.insertID(ctx,
		`INSERT INTO issues (machine_id, title, description, severity, status, reporter_id, assignee_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		is.MachineID, is.Title, is.Description, is.Severity, is.Status,
		is.ReporterID, is.AssigneeID, now, now)
	if err != nil {
		return err
	}
	is.ID = id
	is.CreatedAt = now
	is.UpdatedAt = now
	return nil
}

// GetIssue fetches an issue by ID.
func (s *Store) GetIssue(ctx context.Context, id int64) (*model.Issue, error) {
	row := s.queryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	var is model.Issue
	err := row.Scan(&is.ID, &is.MachineID, &is.Title, &is.Description, &is.Severity,
		&is.Status, &is.ReporterID, &is.AssigneeID, &is.CreatedAt, &is.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &is, nil
}

// UpdateIssue saves title, description, and severity.
func (s *Store) UpdateIssue(ctx context.Context, is *model.Issue) error {
	is.UpdatedAt = time.Now().UTC()
	res, err := s.exec(ctx,
		`UPDATE issues SET title = ?, description = ?, severity = ?, updated_at = ?
		 WHERE id = ?`,
		is.Title, is.Description, is.Severity, is.UpdatedAt, is.ID)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// SetIssueStatus moves an issue to the given workflow state.
func (s *Store) SetIssueStatus(ctx context.Context, id int64, status model.IssueStatus) error {
	res, err := s.exec(ctx,
		`UPDATE issues SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// AssignIssue sets or clears (nil) the assignee.
func (s *Store) AssignIssue(ctx context.Context, id int64, assigneeID *int64) error {
	res, err := s.exec(ctx,
		`UPDATE issues SET assignee_id = ?, updated_at = ? WHERE id = ?`,
		assigneeID, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// ListIssues returns a filtered page of issues, newest first.
func (s *Store) ListIssues(ctx context.Context, f IssueFilter, page *pagination.Page) ([]model.Issue, error) {
	where, args := f.where()

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM issues`+where, args...).Scan(&total); err != nil {
		return nil, err
	}
	page.SetTotal(total)

	rows, err := s.query(ctx,
		`SELECT `+issueColumns+` FROM issues`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, page.Limit(), page.Offset())...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	issues := make([]model.Issue, 0, page.Limit())
	for rows.Next() {
		var is model.Issue
		if err := rows.Scan(&is.ID, &is.MachineID, &is.Title, &is.Description, &is.Severity,
			&is.Status, &is.ReporterID, &is.AssigneeID, &is.CreatedAt, &is.UpdatedAt); err != nil {
			return nil, err
		}
		issues = append(issues, is)
	}
	return issues, rows.Err()
}

// OpenIssueCount reports how many issues on the machine are not terminal.
// Used when deciding whether a machine can leave in_repair.
func (s *Store) OpenIssueCount(ctx context.Context, machineID int64) (int, error) {
	var n int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM issues WHERE machine_id = ? AND status IN (?, ?)`,
		machineID, model.IssueOpen, model.IssueInProgress).Scan(&n)
	return n, err
}
