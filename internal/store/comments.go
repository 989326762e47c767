// internal/store/comments.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tiltboard/tiltboard/internal/model"
)

const commentColumns = "id, issue_id, author_id, body, created_at"

// CreateComment inserts a comment and fills in its ID and timestamp.
func (s *Store) CreateComment(ctx context.Context, c *model.Comment) error {
	now := time.Now().UTC()
	id, err := s.insertID(ctx,
		`INSERT INTO comments (issue_id, author_id, body, created_at) VALUES (?, ?, ?, ?)`,
		c.IssueID, c.AuthorID, c.Body, now)
	if err != nil {
		return err
	}
	c.ID = id
	c.CreatedAt = now
	return nil
}

// GetComment fetches a comment by ID.
func (s *Store) GetComment(ctx context.Context, id int64) (*model.Comment, error) {
	row := s.queryRow(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id)
	var c model.Comment
	err := row.Scan(&c.ID, &c.IssueID, &c.AuthorID, &c.Body, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListComments returns every comment on an issue, oldest first.
func (s *Store) ListComments(ctx context.Context, issueID int64) ([]model.Comment, error) {
	rows, err := s.query(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE issue_id = ? ORDER BY created_at, id`,
		issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []model.Comment
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.IssueID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// DeleteComment removes a comment.
func (s *Store) DeleteComment(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}
