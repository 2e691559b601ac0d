package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hyperengineering/issuesync/internal/types"
	"github.com/oklog/ulid/v2"
)

const issueColumns = `id, project_id, remote_id, issue_key, issue_type, summary, description,
	priority, status, assignee_account_id, remote_created, remote_updated, last_synced_at`

// scanIssue scans a row into a RemoteIssue.
func scanIssue(scanner interface{ Scan(...any) error }) (*types.RemoteIssue, error) {
	var issue types.RemoteIssue
	var priority, remoteCreated, remoteUpdated sql.NullString
	var lastSynced string

	err := scanner.Scan(
		&issue.ID,
		&issue.ProjectID,
		&issue.RemoteID,
		&issue.Key,
		&issue.IssueType,
		&issue.Summary,
		&issue.Description,
		&priority,
		&issue.Status,
		&issue.AssigneeAccountID,
		&remoteCreated,
		&remoteUpdated,
		&lastSynced,
	)
	if err != nil {
		return nil, err
	}

	if priority.Valid {
		p := types.Priority(priority.String)
		issue.Priority = &p
	}
	issue.RemoteCreated = parseTimePtr(remoteCreated)
	issue.RemoteUpdated = parseTimePtr(remoteUpdated)
	issue.LastSyncedAt = parseTime(lastSynced)
	return &issue, nil
}

func priorityValue(p *types.Priority) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

func (s *SQLiteStore) getIssueWhere(ctx context.Context, column, value string) (*types.RemoteIssue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM remote_issues WHERE `+column+` = ?`, value)

	issue, err := scanIssue(row)
	if err != nil {
		if noRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan issue: %w", err)
	}
	return issue, nil
}

// GetIssue returns a mirror row by its local ID.
func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*types.RemoteIssue, error) {
	return s.getIssueWhere(ctx, "id", id)
}

// GetIssueByRemoteID returns a mirror row by the tracker's immutable issue ID.
func (s *SQLiteStore) GetIssueByRemoteID(ctx context.Context, remoteID string) (*types.RemoteIssue, error) {
	return s.getIssueWhere(ctx, "remote_id", remoteID)
}

// GetIssueByKey returns a mirror row by its human-readable key.
func (s *SQLiteStore) GetIssueByKey(ctx context.Context, key string) (*types.RemoteIssue, error) {
	return s.getIssueWhere(ctx, "issue_key", key)
}

// InsertIssue adds a new mirror row, assigning a local ID when none is set.
func (s *SQLiteStore) InsertIssue(ctx context.Context, issue *types.RemoteIssue) error {
	if issue.ID == "" {
		issue.ID = ulid.Make().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remote_issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, issue.ID, issue.ProjectID, issue.RemoteID, issue.Key, issue.IssueType, issue.Summary,
		issue.Description, priorityValue(issue.Priority), issue.Status, issue.AssigneeAccountID,
		formatTimePtr(issue.RemoteCreated), formatTimePtr(issue.RemoteUpdated), formatTime(issue.LastSyncedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert issue %s: %w", issue.Key, ErrConflict)
		}
		return fmt.Errorf("insert issue %s: %w", issue.Key, err)
	}
	return nil
}

// UpdateIssue overwrites a mirror row's synced content in place, matched by local ID.
func (s *SQLiteStore) UpdateIssue(ctx context.Context, issue *types.RemoteIssue) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE remote_issues
		SET issue_key = ?, issue_type = ?, summary = ?, description = ?, priority = ?, status = ?,
		    assignee_account_id = ?, remote_created = ?, remote_updated = ?, last_synced_at = ?
		WHERE id = ?
	`, issue.Key, issue.IssueType, issue.Summary, issue.Description, priorityValue(issue.Priority),
		issue.Status, issue.AssigneeAccountID, formatTimePtr(issue.RemoteCreated),
		formatTimePtr(issue.RemoteUpdated), formatTime(issue.LastSyncedAt), issue.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update issue %s: %w", issue.Key, ErrConflict)
		}
		return fmt.Errorf("update issue %s: %w", issue.Key, err)
	}
	return checkAffected(result)
}

// DeleteIssue removes a mirror row by key. Linked tasks keep their row with the link cleared.
func (s *SQLiteStore) DeleteIssue(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM remote_issues WHERE issue_key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	return checkAffected(result)
}

// ListIssues returns a project's mirror rows, most recently updated first.
func (s *SQLiteStore) ListIssues(ctx context.Context, projectID string) ([]types.RemoteIssue, error) {
	return s.queryIssues(ctx, `
		SELECT `+issueColumns+` FROM remote_issues
		WHERE project_id = ?
		ORDER BY remote_updated DESC, issue_key ASC
	`, projectID)
}

// ListIssuesByAssignee returns a project's mirror rows assigned to accountID.
func (s *SQLiteStore) ListIssuesByAssignee(ctx context.Context, projectID, accountID string) ([]types.RemoteIssue, error) {
	return s.queryIssues(ctx, `
		SELECT `+issueColumns+` FROM remote_issues
		WHERE project_id = ? AND assignee_account_id = ?
		ORDER BY remote_updated DESC, issue_key ASC
	`, projectID, accountID)
}

func (s *SQLiteStore) queryIssues(ctx context.Context, query string, args ...any) ([]types.RemoteIssue, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	issues := []types.RemoteIssue{}
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, *issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return issues, nil
}
