// Package tasks manages locally authored work items and their forward-only
// status progression.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/issuesync/internal/status"
	"github.com/hyperengineering/issuesync/internal/store"
	"github.com/hyperengineering/issuesync/internal/types"
)

// ErrInvalidPriority is returned for a priority outside the closed scale.
var ErrInvalidPriority = errors.New(`invalid priority; accepted values are "highest", "high", "medium", "low", "lowest"`)

// ErrWrongProject is returned when a referenced record belongs to another project.
var ErrWrongProject = errors.New("referenced record belongs to another project")

// Service implements task operations.
type Service struct {
	tasks  store.TaskStore
	mirror store.MirrorReader
	dir    store.Directory
	now    func() time.Time
}

// New creates a Service.
func New(tasks store.TaskStore, mirror store.MirrorReader, dir store.Directory) *Service {
	return &Service{
		tasks:  tasks,
		mirror: mirror,
		dir:    dir,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create authors a task in projectID. Status defaults to todo; a task
// created as done is stamped complete.
func (s *Service) Create(ctx context.Context, projectID string, req types.CreateTaskRequest) (*types.LocalTask, error) {
	st := status.Todo
	if strings.TrimSpace(req.Status) != "" {
		var err error
		if st, err = status.Normalize(req.Status); err != nil {
			return nil, err
		}
	}

	task := &types.LocalTask{
		ProjectID:     projectID,
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		AssigneeID:    req.AssigneeID,
		RequirementID: req.RequirementID,
	}
	if req.Priority != "" {
		if task.Priority = types.ParsePriority(req.Priority); task.Priority == nil {
			return nil, ErrInvalidPriority
		}
	}
	if req.RequirementID != nil {
		requirement, err := s.dir.GetRequirement(ctx, *req.RequirementID)
		if err != nil {
			return nil, fmt.Errorf("requirement %s: %w", *req.RequirementID, err)
		}
		if requirement.ProjectID != projectID {
			return nil, ErrWrongProject
		}
	}
	if req.AssigneeID != nil {
		if _, err := s.dir.GetUser(ctx, *req.AssigneeID); err != nil {
			return nil, fmt.Errorf("assignee %s: %w", *req.AssigneeID, err)
		}
	}

	task.ApplyStatus(st, s.now())
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	slog.Info("task created",
		"component", "tasks",
		"action", "create",
		"task_id", task.ID,
		"project_id", projectID,
	)
	return task, nil
}

// Get returns a task by ID.
func (s *Service) Get(ctx context.Context, taskID string) (*types.LocalTask, error) {
	return s.tasks.GetTask(ctx, taskID)
}

// ListByProject returns a project's tasks.
func (s *Service) ListByProject(ctx context.Context, projectID string) ([]types.LocalTask, error) {
	return s.tasks.ListTasks(ctx, projectID)
}

// UpdateStatus moves a task forward. Free text is normalized first and a
// backwards move fails with status.ErrInvalidTransition. Re-submitting the
// current status succeeds without changing the completion time.
func (s *Service) UpdateStatus(ctx context.Context, taskID, raw string) (*types.LocalTask, error) {
	next, err := status.Normalize(raw)
	if err != nil {
		return nil, err
	}
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := status.GuardForwardOnly(task.Status, next); err != nil {
		return nil, err
	}
	return s.save(ctx, task, next, "update_status")
}

// AdminSetStatus sets any status, including backwards moves. Leaving done
// clears the completion time.
func (s *Service) AdminSetStatus(ctx context.Context, taskID, raw string) (*types.LocalTask, error) {
	next, err := status.Normalize(raw)
	if err != nil {
		return nil, err
	}
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return s.save(ctx, task, next, "admin_set_status")
}

// LinkRemoteIssue links a task to a mirrored issue of the same project.
func (s *Service) LinkRemoteIssue(ctx context.Context, taskID, issueKey string) (*types.LocalTask, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	issue, err := s.mirror.GetIssueByKey(ctx, issueKey)
	if err != nil {
		return nil, fmt.Errorf("issue %s: %w", issueKey, err)
	}
	if issue.ProjectID != task.ProjectID {
		return nil, ErrWrongProject
	}

	task.RemoteIssueID = &issue.ID
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Service) save(ctx context.Context, task *types.LocalTask, next status.Status, action string) (*types.LocalTask, error) {
	from := task.Status
	task.ApplyStatus(next, s.now())
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	if from != next {
		slog.Info("task status changed",
			"component", "tasks",
			"action", action,
			"task_id", task.ID,
			"from", from,
			"to", next,
		)
	}
	return task, nil
}
