// Package reconciler pulls a project's issues from the tracker into the
// local mirror and pushes local tasks back out.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/hyperengineering/issuesync/internal/store"
	"github.com/hyperengineering/issuesync/internal/telemetry"
	"github.com/hyperengineering/issuesync/internal/tracker"
	"github.com/hyperengineering/issuesync/internal/types"
	"github.com/hyperengineering/issuesync/internal/vault"
)

const scopeName = "github.com/hyperengineering/issuesync/reconciler"

// ErrForeignIssue is reported for a tracker issue that is already mirrored
// under a different project, which happens when two projects point at the
// same tracker board.
var ErrForeignIssue = errors.New("mirrored under another project")

// Credentials resolves a project's tracker client and records sync state.
// *vault.Vault implements it.
type Credentials interface {
	Client(ctx context.Context, projectID string) (tracker.API, *types.IntegrationConfig, error)
	MarkSyncStatus(ctx context.Context, projectID string, status types.SyncStatus, lastSync *time.Time) error
}

// Reconciler runs sync operations.
type Reconciler struct {
	creds  Credentials
	mirror store.MirrorStore
	now    func() time.Time

	flight singleflight.Group
	tracer trace.Tracer
	runs   metric.Int64Counter
	rows   metric.Int64Counter
}

// New creates a Reconciler using the global telemetry providers.
func New(creds Credentials, mirror store.MirrorStore) *Reconciler {
	m := telemetry.Meter(scopeName)
	runs, _ := m.Int64Counter("issuesync.sync.runs",
		metric.WithDescription("Sync runs by final status"),
	)
	rows, _ := m.Int64Counter("issuesync.sync.issues",
		metric.WithDescription("Mirrored issues processed by result"),
	)
	return &Reconciler{
		creds:  creds,
		mirror: mirror,
		now:    func() time.Time { return time.Now().UTC() },
		tracer: telemetry.Tracer(scopeName),
		runs:   runs,
		rows:   rows,
	}
}

// Sync mirrors every issue of the project's tracker board.
//
// It returns vault.ErrNotConfigured when the project has no integration.
// Tracker connectivity failures are not errors: the outcome carries
// status "failed" and the message. Per-issue failures are counted and
// listed without stopping the run.
//
// Concurrent calls for the same project share one run and its outcome.
// The shared run executes under the first caller's ctx. Status writes
// ignore its cancellation so a run never stays marked "syncing".
func (r *Reconciler) Sync(ctx context.Context, projectID string) (*types.SyncOutcome, error) {
	v, err, shared := r.flight.Do(projectID, func() (any, error) {
		return r.sync(ctx, projectID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("joined in-flight sync",
			"component", "reconciler",
			"action", "sync",
			"project_id", projectID,
		)
	}
	out := *v.(*types.SyncOutcome)
	out.Errors = slices.Clone(out.Errors)
	return &out, nil
}

func (r *Reconciler) sync(ctx context.Context, projectID string) (*types.SyncOutcome, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.sync",
		trace.WithAttributes(attribute.String("issuesync.project_id", projectID)),
	)
	defer span.End()

	out := &types.SyncOutcome{ProjectID: projectID, Errors: []string{}}

	client, cfg, err := r.creds.Client(ctx, projectID)
	if errors.Is(err, vault.ErrNotConfigured) {
		return nil, err
	}

	if markErr := r.creds.MarkSyncStatus(ctx, projectID, types.SyncRunning, nil); markErr != nil {
		span.RecordError(markErr)
		return nil, fmt.Errorf("mark syncing: %w", markErr)
	}

	var issues []tracker.Issue
	if err == nil {
		issues, err = client.ListProjectIssues(ctx, cfg.ProjectKey)
	}
	if err != nil {
		return r.fail(ctx, span, out, err)
	}

	out.Total = len(issues)
	for i := range issues {
		created, err := r.apply(ctx, projectID, &issues[i])
		switch {
		case err != nil:
			out.FailedIssues++
			out.Errors = append(out.Errors, fmt.Sprintf("issue %s: %v", issueLabel(&issues[i]), err))
			slog.Warn("failed to mirror issue",
				"component", "reconciler",
				"action", "sync",
				"project_id", projectID,
				"issue", issueLabel(&issues[i]),
				"error", err,
			)
		case created:
			out.NewIssues++
		default:
			out.UpdatedIssues++
		}
	}

	now := r.now()
	if err := r.creds.MarkSyncStatus(context.WithoutCancel(ctx), projectID, types.SyncSuccess, &now); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("mark success: %w", err)
	}
	out.Status = types.SyncSuccess
	out.Timestamp = now

	r.record(ctx, out)
	span.SetAttributes(
		attribute.Int("issuesync.sync.total", out.Total),
		attribute.Int("issuesync.sync.failed", out.FailedIssues),
	)
	slog.Info("sync completed",
		"component", "reconciler",
		"action", "sync",
		"project_id", projectID,
		"total", out.Total,
		"new", out.NewIssues,
		"updated", out.UpdatedIssues,
		"failed", out.FailedIssues,
	)
	return out, nil
}

// fail records a run that could not list issues. The outcome is returned
// without an error.
func (r *Reconciler) fail(ctx context.Context, span trace.Span, out *types.SyncOutcome, cause error) (*types.SyncOutcome, error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, "sync failed")

	if err := r.creds.MarkSyncStatus(context.WithoutCancel(ctx), out.ProjectID, types.SyncFailed, nil); err != nil {
		return nil, fmt.Errorf("mark failed: %w", err)
	}
	out.Status = types.SyncFailed
	out.Timestamp = r.now()
	out.Errors = append(out.Errors, cause.Error())

	r.record(ctx, out)
	slog.Error("sync failed",
		"component", "reconciler",
		"action", "sync",
		"project_id", out.ProjectID,
		"error", cause,
	)
	return out, nil
}

// apply upserts one tracker issue into the mirror, keyed by the tracker's
// immutable issue ID. It reports whether a new row was created. A row
// already mirrored for another project is left alone.
func (r *Reconciler) apply(ctx context.Context, projectID string, issue *tracker.Issue) (bool, error) {
	row, err := ToMirror(projectID, issue, r.now())
	if err != nil {
		return false, err
	}

	existing, err := r.mirror.GetIssueByRemoteID(ctx, row.RemoteID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := r.mirror.InsertIssue(ctx, row); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	}
	if existing.ProjectID != projectID {
		return false, ErrForeignIssue
	}

	row.ID = existing.ID
	if err := r.mirror.UpdateIssue(ctx, row); err != nil {
		return false, err
	}
	return false, nil
}

func (r *Reconciler) record(ctx context.Context, out *types.SyncOutcome) {
	r.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(out.Status))))
	if out.NewIssues > 0 {
		r.rows.Add(ctx, int64(out.NewIssues), metric.WithAttributes(attribute.String("result", "new")))
	}
	if out.UpdatedIssues > 0 {
		r.rows.Add(ctx, int64(out.UpdatedIssues), metric.WithAttributes(attribute.String("result", "updated")))
	}
	if out.FailedIssues > 0 {
		r.rows.Add(ctx, int64(out.FailedIssues), metric.WithAttributes(attribute.String("result", "failed")))
	}
}

// ToMirror converts a tracker issue into a mirror row. Unknown priority
// names become nil; missing identifiers and malformed timestamps are errors.
func ToMirror(projectID string, issue *tracker.Issue, syncedAt time.Time) (*types.RemoteIssue, error) {
	if issue.ID == "" || issue.Key == "" {
		return nil, errors.New("tracker issue is missing its id or key")
	}
	created, err := tracker.ParseTimestamp(issue.Fields.Created)
	if err != nil {
		return nil, fmt.Errorf("created: %w", err)
	}
	updated, err := tracker.ParseTimestamp(issue.Fields.Updated)
	if err != nil {
		return nil, fmt.Errorf("updated: %w", err)
	}

	return &types.RemoteIssue{
		ProjectID:         projectID,
		RemoteID:          issue.ID,
		Key:               issue.Key,
		IssueType:         issue.TypeName(),
		Summary:           issue.Fields.Summary,
		Description:       tracker.FlattenADF(issue.Fields.Description),
		Priority:          types.ParsePriority(issue.PriorityName()),
		Status:            issue.StatusName(),
		AssigneeAccountID: issue.AssigneeID(),
		RemoteCreated:     created,
		RemoteUpdated:     updated,
		LastSyncedAt:      syncedAt,
	}, nil
}

func issueLabel(issue *tracker.Issue) string {
	if issue.Key != "" {
		return issue.Key
	}
	if issue.ID != "" {
		return "id " + issue.ID
	}
	return "(unidentified)"
}
