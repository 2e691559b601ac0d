package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperengineering/issuesync/internal/status"
	"github.com/hyperengineering/issuesync/internal/store"
	"github.com/hyperengineering/issuesync/internal/types"
)

func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(st.PutUser(ctx, types.User{ID: "stu", Role: types.RoleStudent}))
	must(st.PutGroup(ctx, types.Group{ID: "g1"}, []string{"stu"}))
	must(st.PutProject(ctx, types.Project{ID: "p1", GroupID: "g1"}))
	must(st.PutProject(ctx, types.Project{ID: "p2", GroupID: "g1"}))
	must(st.PutRequirement(ctx, types.Requirement{ID: "r1", ProjectID: "p1", Title: "Login"}))
	must(st.PutRequirement(ctx, types.Requirement{ID: "r2", ProjectID: "p2", Title: "Other"}))
	must(st.InsertIssue(ctx, &types.RemoteIssue{ProjectID: "p1", RemoteID: "1", Key: "ABC-1", LastSyncedAt: time.Now()}))
	must(st.InsertIssue(ctx, &types.RemoteIssue{ProjectID: "p2", RemoteID: "2", Key: "XYZ-1", LastSyncedAt: time.Now()}))

	return New(st, st, st), st
}

func ptr(s string) *string { return &s }

func TestCreate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, "p1", types.CreateTaskRequest{
		Title: "  Build login ", Priority: "High", AssigneeID: ptr("stu"), RequirementID: ptr("r1"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if task.Status != status.Todo || task.CompletedAt != nil || task.Title != "Build login" {
		t.Errorf("Create() = %+v", task)
	}
	if task.Priority == nil || *task.Priority != types.PriorityHigh {
		t.Errorf("Priority = %v", task.Priority)
	}

	done, err := svc.Create(ctx, "p1", types.CreateTaskRequest{Title: "Already shipped", Status: "Completed"})
	if err != nil {
		t.Fatalf("Create(done) error = %v", err)
	}
	if done.Status != status.Done || done.CompletedAt == nil {
		t.Errorf("Create(done) = %+v", done)
	}
}

func TestCreate_Rejects(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     types.CreateTaskRequest
		wantErr error
	}{
		{"bad status", types.CreateTaskRequest{Title: "x", Status: "waiting"}, status.ErrInvalidStatus},
		{"bad priority", types.CreateTaskRequest{Title: "x", Priority: "urgent"}, ErrInvalidPriority},
		{"foreign requirement", types.CreateTaskRequest{Title: "x", RequirementID: ptr("r2")}, ErrWrongProject},
		{"missing requirement", types.CreateTaskRequest{Title: "x", RequirementID: ptr("nope")}, store.ErrNotFound},
		{"unknown assignee", types.CreateTaskRequest{Title: "x", AssigneeID: ptr("ghost")}, store.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, "p1", tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpdateStatus_ForwardOnly(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	task, _ := svc.Create(ctx, "p1", types.CreateTaskRequest{Title: "Work"})

	// Given: a todo task
	// When: it moves forward with free text
	got, err := svc.UpdateStatus(ctx, task.ID, "In Progress")
	if err != nil {
		t.Fatalf("UpdateStatus(in progress) error = %v", err)
	}
	if got.Status != status.InProgress || got.CompletedAt != nil {
		t.Errorf("after in progress: %+v", got)
	}

	// When: it is completed
	got, err = svc.UpdateStatus(ctx, task.ID, "done")
	if err != nil {
		t.Fatalf("UpdateStatus(done) error = %v", err)
	}
	stamp := got.CompletedAt
	if stamp == nil {
		t.Fatal("CompletedAt not set on done")
	}

	// Then: re-submitting done keeps the original stamp
	svc.now = func() time.Time { return stamp.Add(time.Hour) }
	again, err := svc.UpdateStatus(ctx, task.ID, "DONE")
	if err != nil {
		t.Fatalf("idempotent UpdateStatus() error = %v", err)
	}
	if !again.CompletedAt.Equal(*stamp) {
		t.Errorf("CompletedAt changed from %v to %v", stamp, again.CompletedAt)
	}

	// And: moving backwards fails with the fixed message
	_, err = svc.UpdateStatus(ctx, task.ID, "todo")
	if !errors.Is(err, status.ErrInvalidTransition) {
		t.Fatalf("backwards UpdateStatus() error = %v", err)
	}
	if err.Error() != "Invalid status transition. Tasks cannot move backwards." {
		t.Errorf("message = %q", err.Error())
	}
	persisted, _ := st.GetTask(ctx, task.ID)
	if persisted.Status != status.Done {
		t.Errorf("status after rejected move = %q", persisted.Status)
	}

	if _, err := svc.UpdateStatus(ctx, task.ID, "   "); !errors.Is(err, status.ErrInvalidStatus) {
		t.Errorf("UpdateStatus(blank) error = %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "missing", "done"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateStatus(missing) error = %v", err)
	}
}

func TestAdminSetStatus_ClearsCompletion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, _ := svc.Create(ctx, "p1", types.CreateTaskRequest{Title: "Work", Status: "done"})

	got, err := svc.AdminSetStatus(ctx, task.ID, "to do")
	if err != nil {
		t.Fatalf("AdminSetStatus() error = %v", err)
	}
	if got.Status != status.Todo || got.CompletedAt != nil {
		t.Errorf("AdminSetStatus() = %+v", got)
	}
}

func TestLinkRemoteIssue(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, _ := svc.Create(ctx, "p1", types.CreateTaskRequest{Title: "Work"})

	got, err := svc.LinkRemoteIssue(ctx, task.ID, "ABC-1")
	if err != nil {
		t.Fatalf("LinkRemoteIssue() error = %v", err)
	}
	if got.RemoteIssueID == nil {
		t.Fatal("RemoteIssueID not set")
	}

	if _, err := svc.LinkRemoteIssue(ctx, task.ID, "XYZ-1"); !errors.Is(err, ErrWrongProject) {
		t.Errorf("cross-project link error = %v, want ErrWrongProject", err)
	}
	if _, err := svc.LinkRemoteIssue(ctx, task.ID, "ABC-404"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown key error = %v, want ErrNotFound", err)
	}

	list, err := svc.ListByProject(ctx, "p1")
	if err != nil || len(list) != 1 {
		t.Errorf("ListByProject() = %v, %v", list, err)
	}
}
