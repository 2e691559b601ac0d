package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperengineering/issuesync/internal/status"
	"github.com/hyperengineering/issuesync/internal/types"
	"github.com/oklog/ulid/v2"
)

const taskColumns = `id, project_id, title, description, status, priority, assignee_id,
	remote_issue_id, requirement_id, completed_at, created_at, updated_at`

func scanTask(scanner interface{ Scan(...any) error }) (*types.LocalTask, error) {
	var task types.LocalTask
	var taskStatus, createdAt, updatedAt string
	var priority, assigneeID, remoteIssueID, requirementID, completedAt sql.NullString

	err := scanner.Scan(
		&task.ID,
		&task.ProjectID,
		&task.Title,
		&task.Description,
		&taskStatus,
		&priority,
		&assigneeID,
		&remoteIssueID,
		&requirementID,
		&completedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = status.Status(taskStatus)
	if priority.Valid {
		p := types.Priority(priority.String)
		task.Priority = &p
	}
	task.AssigneeID = stringPtr(assigneeID)
	task.RemoteIssueID = stringPtr(remoteIssueID)
	task.RequirementID = stringPtr(requirementID)
	task.CompletedAt = parseTimePtr(completedAt)
	task.CreatedAt = parseTime(createdAt)
	task.UpdatedAt = parseTime(updatedAt)
	return &task, nil
}

// CreateTask inserts a local task, assigning an ID and timestamps.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *types.LocalTask) error {
	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = ulid.Make().String()
	}
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.ProjectID, task.Title, task.Description, string(task.Status),
		priorityValue(task.Priority), nullStringPtr(task.AssigneeID), nullStringPtr(task.RemoteIssueID),
		nullStringPtr(task.RequirementID), formatTimePtr(task.CompletedAt),
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask returns a local task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*types.LocalTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM local_tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if err != nil {
		if noRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return task, nil
}

// SaveTask overwrites the mutable fields of an existing task.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *types.LocalTask) error {
	task.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE local_tasks
		SET title = ?, description = ?, status = ?, priority = ?, assignee_id = ?,
		    remote_issue_id = ?, requirement_id = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, task.Title, task.Description, string(task.Status), priorityValue(task.Priority),
		nullStringPtr(task.AssigneeID), nullStringPtr(task.RemoteIssueID), nullStringPtr(task.RequirementID),
		formatTimePtr(task.CompletedAt), formatTime(task.UpdatedAt), task.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return checkAffected(result)
}

// ListTasks returns a project's tasks in creation order.
func (s *SQLiteStore) ListTasks(ctx context.Context, projectID string) ([]types.LocalTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM local_tasks
		WHERE project_id = ?
		ORDER BY created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []types.LocalTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tasks, nil
}
