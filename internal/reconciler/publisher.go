package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hyperengineering/issuesync/internal/status"
	"github.com/hyperengineering/issuesync/internal/store"
	"github.com/hyperengineering/issuesync/internal/telemetry"
	"github.com/hyperengineering/issuesync/internal/tracker"
	"github.com/hyperengineering/issuesync/internal/types"
)

var (
	// ErrAlreadyPublished is returned when a task is already linked to a tracker issue.
	ErrAlreadyPublished = errors.New("task is already linked to a tracker issue")
	// ErrNoTransition is returned when the tracker workflow offers no
	// transition into the requested status.
	ErrNoTransition = errors.New("no tracker transition leads to the requested status")
)

// Publisher writes local changes through to the tracker and refreshes the
// affected mirror rows.
type Publisher struct {
	creds  Credentials
	mirror store.MirrorStore
	tasks  store.TaskStore
	dir    store.Directory
	now    func() time.Time
	tracer trace.Tracer
}

// NewPublisher creates a Publisher.
func NewPublisher(creds Credentials, mirror store.MirrorStore, tasks store.TaskStore, dir store.Directory) *Publisher {
	return &Publisher{
		creds:  creds,
		mirror: mirror,
		tasks:  tasks,
		dir:    dir,
		now:    func() time.Time { return time.Now().UTC() },
		tracer: telemetry.Tracer(scopeName),
	}
}

// Publish creates a tracker issue for a local task, moves it to the task's
// status, mirrors it, and links the task to the mirror row.
func (p *Publisher) Publish(ctx context.Context, taskID string) (*types.RemoteIssue, error) {
	ctx, span := p.tracer.Start(ctx, "reconciler.publish",
		trace.WithAttributes(attribute.String("issuesync.task_id", taskID)),
	)
	defer span.End()

	task, err := p.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.RemoteIssueID != nil {
		return nil, ErrAlreadyPublished
	}

	client, cfg, err := p.creds.Client(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}

	in := tracker.IssueInput{
		ProjectKey:  cfg.ProjectKey,
		Summary:     task.Title,
		Description: task.Description,
	}
	if task.Priority != nil {
		in.Priority = task.Priority.TrackerName()
	}
	if task.AssigneeID != nil {
		in.AssigneeID = p.resolveAccount(ctx, client, *task.AssigneeID)
	}

	created, err := client.CreateIssue(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("create tracker issue: %w", err)
	}

	if task.Status != status.Todo {
		if err := transitionTo(ctx, client, created.Key, task.Status); err != nil {
			slog.Warn("published issue left in initial status",
				"component", "reconciler",
				"action", "publish",
				"issue", created.Key,
				"status", task.Status,
				"error", err,
			)
		}
	}

	row, err := p.refresh(ctx, client, task.ProjectID, created.Key)
	if err != nil {
		return nil, err
	}

	task.RemoteIssueID = &row.ID
	if err := p.tasks.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("link task: %w", err)
	}

	slog.Info("task published",
		"component", "reconciler",
		"action", "publish",
		"task_id", task.ID,
		"issue", row.Key,
	)
	return row, nil
}

// PushStatus moves a linked task's tracker issue to the task's status.
// Unlinked tasks are left alone.
func (p *Publisher) PushStatus(ctx context.Context, task *types.LocalTask) error {
	if task.RemoteIssueID == nil {
		return nil
	}
	row, err := p.mirror.GetIssue(ctx, *task.RemoteIssueID)
	if err != nil {
		return fmt.Errorf("load linked issue: %w", err)
	}
	current, err := status.FromRemote(row.Status)
	if err == nil && current == task.Status {
		return nil
	}

	client, _, err := p.creds.Client(ctx, row.ProjectID)
	if err != nil {
		return err
	}
	if err := transitionTo(ctx, client, row.Key, task.Status); err != nil {
		return err
	}
	_, err = p.refresh(ctx, client, row.ProjectID, row.Key)
	return err
}

// UpdateIssue sends a partial update for a mirrored issue and refreshes its row.
func (p *Publisher) UpdateIssue(ctx context.Context, key string, u tracker.IssueUpdate) (*types.RemoteIssue, error) {
	row, client, err := p.clientFor(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := client.UpdateIssue(ctx, key, u); err != nil {
		return nil, err
	}
	return p.refresh(ctx, client, row.ProjectID, key)
}

// LinkIssues links two issues of the same tracker.
func (p *Publisher) LinkIssues(ctx context.Context, fromKey, toKey, linkType string) error {
	_, client, err := p.clientFor(ctx, fromKey)
	if err != nil {
		return err
	}
	return client.LinkIssues(ctx, fromKey, toKey, linkType)
}

// MoveToSprint places a mirrored issue in a sprint.
func (p *Publisher) MoveToSprint(ctx context.Context, key string, sprintID int) error {
	_, client, err := p.clientFor(ctx, key)
	if err != nil {
		return err
	}
	return client.MoveToSprint(ctx, key, sprintID)
}

// MoveToBacklog returns a mirrored issue to the backlog.
func (p *Publisher) MoveToBacklog(ctx context.Context, key string) error {
	_, client, err := p.clientFor(ctx, key)
	if err != nil {
		return err
	}
	return client.MoveToBacklog(ctx, key)
}

// DeleteIssue deletes the tracker issue and its mirror row.
func (p *Publisher) DeleteIssue(ctx context.Context, key string) error {
	_, client, err := p.clientFor(ctx, key)
	if err != nil {
		return err
	}
	if err := client.DeleteIssue(ctx, key); err != nil {
		return err
	}
	if err := p.mirror.DeleteIssue(ctx, key); err != nil {
		return fmt.Errorf("delete mirror row: %w", err)
	}
	slog.Info("issue deleted",
		"component", "reconciler",
		"action", "delete",
		"issue", key,
	)
	return nil
}

func (p *Publisher) clientFor(ctx context.Context, key string) (*types.RemoteIssue, tracker.API, error) {
	row, err := p.mirror.GetIssueByKey(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	client, _, err := p.creds.Client(ctx, row.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return row, client, nil
}

// refresh re-reads an issue from the tracker and upserts its mirror row.
func (p *Publisher) refresh(ctx context.Context, client tracker.API, projectID, key string) (*types.RemoteIssue, error) {
	issue, err := client.GetIssue(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reload issue %s: %w", key, err)
	}
	row, err := ToMirror(projectID, issue, p.now())
	if err != nil {
		return nil, err
	}

	existing, err := p.mirror.GetIssueByRemoteID(ctx, row.RemoteID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		err = p.mirror.InsertIssue(ctx, row)
	case err == nil && existing.ProjectID != projectID:
		err = ErrForeignIssue
	case err == nil:
		row.ID = existing.ID
		err = p.mirror.UpdateIssue(ctx, row)
	}
	if err != nil {
		return nil, fmt.Errorf("mirror issue %s: %w", key, err)
	}
	return row, nil
}

// resolveAccount maps a platform user to a tracker account: the linked
// account when set, otherwise the first tracker match on the user's email.
func (p *Publisher) resolveAccount(ctx context.Context, client tracker.API, userID string) string {
	user, err := p.dir.GetUser(ctx, userID)
	if err != nil {
		return ""
	}
	if user.RemoteAccountID != "" {
		return user.RemoteAccountID
	}
	if user.Email == "" {
		return ""
	}
	id, ok, err := client.SearchAccount(ctx, user.Email)
	if err != nil || !ok {
		return ""
	}
	return id
}

// transitionTo applies the first workflow transition whose target status
// normalizes to want.
func transitionTo(ctx context.Context, client tracker.API, key string, want status.Status) error {
	transitions, err := client.ListTransitions(ctx, key)
	if err != nil {
		return fmt.Errorf("list transitions: %w", err)
	}
	for _, t := range transitions {
		if s, err := status.FromRemote(t.To.Name); err == nil && s == want {
			return client.ApplyTransition(ctx, key, t.ID)
		}
	}
	return fmt.Errorf("%w: %s on %s", ErrNoTransition, want, key)
}
