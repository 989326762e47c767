// internal/store/schema.go
package store

import (
	"context"
	"fmt"
	"strings"
)

// EnsureSchema creates tables and indexes when they do not exist. It is
// idempotent and runs once at startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			// MySQL has no CREATE INDEX IF NOT EXISTS; a re-run reports
			// a duplicate key name, which is the idempotent outcome.
			if s.driver == "mysql" && strings.Contains(err.Error(), "Duplicate key name") {
				continue
			}
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

// schemaStatements returns the DDL for the given dialect. The schemas are
// kept deliberately parallel; only key/auto-increment syntax differs.
func schemaStatements(driver string) []string {
	var idCol, timeCol string
	switch driver {
	case "postgres":
		idCol = "BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY"
		timeCol = "TIMESTAMPTZ"
	case "mysql":
		idCol = "BIGINT AUTO_INCREMENT PRIMARY KEY"
		timeCol = "DATETIME(6)"
	default: // sqlite
		idCol = "INTEGER PRIMARY KEY AUTOINCREMENT"
		timeCol = "TIMESTAMP"
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id            %s,
			email         VARCHAR(254) NOT NULL UNIQUE,
			name          VARCHAR(200) NOT NULL,
			role          VARCHAR(16)  NOT NULL DEFAULT 'player',
			notify_pref   VARCHAR(16)  NOT NULL DEFAULT 'assigned',
			password_hash VARCHAR(256) NOT NULL DEFAULT '',
			created_at    %s NOT NULL,
			updated_at    %s NOT NULL
		)`, idCol, timeCol, timeCol),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS machines (
			id           %s,
			name         VARCHAR(200) NOT NULL,
			manufacturer VARCHAR(200) NOT NULL DEFAULT '',
			location     VARCHAR(200) NOT NULL DEFAULT '',
			status       VARCHAR(16)  NOT NULL DEFAULT 'active',
			created_at   %s NOT NULL,
			updated_at   %s NOT NULL
		)`, idCol, timeCol, timeCol),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS issues (
			id          %s,
			machine_id  BIGINT NOT NULL REFERENCES machines(id),
			title       VARCHAR(200) NOT NULL,
			description TEXT NOT NULL,
			severity    VARCHAR(16) NOT NULL,
			status      VARCHAR(16) NOT NULL DEFAULT 'open',
			reporter_id BIGINT NOT NULL REFERENCES users(id),
			assignee_id BIGINT REFERENCES users(id),
			created_at  %s NOT NULL,
			updated_at  %s NOT NULL
		)`, idCol, timeCol, timeCol),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS comments (
			id         %s,
			issue_id   BIGINT NOT NULL REFERENCES issues(id),
			author_id  BIGINT NOT NULL REFERENCES users(id),
			body       TEXT NOT NULL,
			created_at %s NOT NULL
		)`, idCol, timeCol),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS machine_subscriptions (
			user_id    BIGINT NOT NULL REFERENCES users(id),
			machine_id BIGINT NOT NULL REFERENCES machines(id),
			created_at %s NOT NULL,
			PRIMARY KEY (user_id, machine_id)
		)`, timeCol),

		indexDDL(driver, "idx_issues_machine", "issues (machine_id)"),
		indexDDL(driver, "idx_issues_status", "issues (status)"),
		indexDDL(driver, "idx_issues_assignee", "issues (assignee_id)"),
		indexDDL(driver, "idx_comments_issue", "comments (issue_id)"),
	}
}

// indexDDL builds a CREATE INDEX statement. MySQL does not accept
// IF NOT EXISTS here; EnsureSchema tolerates the duplicate instead.
func indexDDL(driver, name, target string) string {
	if driver == "mysql" {
		return fmt.Sprintf("CREATE INDEX %s ON %s", name, target)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s", name, target)
}
