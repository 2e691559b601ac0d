package store

import (
	"context"
	"time"

	"github.com/hyperengineering/issuesync/internal/types"
)

// ConfigStore persists per-project integration configs.
type ConfigStore interface {
	GetConfig(ctx context.Context, projectID string) (*types.IntegrationConfig, error)
	CreateConfig(ctx context.Context, cfg *types.IntegrationConfig) error
	SaveConfig(ctx context.Context, cfg *types.IntegrationConfig) error
	DeleteConfig(ctx context.Context, projectID string) error
	ListConfigs(ctx context.Context) ([]types.IntegrationConfig, error)
	SetSyncStatus(ctx context.Context, projectID string, status types.SyncStatus, lastSync *time.Time) error
}

// MirrorReader reads the local mirror of remote issues.
type MirrorReader interface {
	GetIssueByRemoteID(ctx context.Context, remoteID string) (*types.RemoteIssue, error)
	GetIssueByKey(ctx context.Context, key string) (*types.RemoteIssue, error)
	GetIssue(ctx context.Context, id string) (*types.RemoteIssue, error)
	ListIssues(ctx context.Context, projectID string) ([]types.RemoteIssue, error)
	ListIssuesByAssignee(ctx context.Context, projectID, accountID string) ([]types.RemoteIssue, error)
}

// MirrorStore reads and writes the local mirror. Each write is its own
// atomic unit; no transaction spans a sync run.
type MirrorStore interface {
	MirrorReader
	InsertIssue(ctx context.Context, issue *types.RemoteIssue) error
	UpdateIssue(ctx context.Context, issue *types.RemoteIssue) error
	DeleteIssue(ctx context.Context, key string) error
}

// TaskStore persists locally authored tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *types.LocalTask) error
	GetTask(ctx context.Context, id string) (*types.LocalTask, error)
	SaveTask(ctx context.Context, task *types.LocalTask) error
	ListTasks(ctx context.Context, projectID string) ([]types.LocalTask, error)
}

// Directory is the lookup contract for users, groups, projects and requirements.
type Directory interface {
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetProject(ctx context.Context, id string) (*types.Project, error)
	GetGroup(ctx context.Context, id string) (*types.Group, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	ListMembers(ctx context.Context, groupID string) ([]types.User, error)
	GetRequirement(ctx context.Context, id string) (*types.Requirement, error)
}

// Stats are aggregate counts for the health endpoint.
type Stats struct {
	Integrations   int64
	MirroredIssues int64
	LocalTasks     int64
	SchemaVersion  int64
}

// Store is the full persistence contract implemented by SQLiteStore.
type Store interface {
	ConfigStore
	MirrorStore
	TaskStore
	Directory
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}
