// Package access enforces who may read and change a project's mirrored issues.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperengineering/issuesync/internal/store"
	"github.com/hyperengineering/issuesync/internal/types"
)

// ErrAccessDenied is returned when the caller may not see the requested content.
var ErrAccessDenied = errors.New("access denied")

// Relationship is a caller's standing towards one project.
type Relationship int

const (
	None Relationship = iota
	Member
	Leader
	Lecturer
	Admin
)

func (r Relationship) String() string {
	switch r {
	case Member:
		return "member"
	case Leader:
		return "leader"
	case Lecturer:
		return "lecturer"
	case Admin:
		return "admin"
	default:
		return "none"
	}
}

// SeesAll reports whether the relationship grants every issue of the project.
func (r Relationship) SeesAll() bool {
	return r == Admin || r == Lecturer || r == Leader
}

// CanManage reports whether the relationship may change the project's
// integration and tracker issues. Lecturers have read access only.
func (r Relationship) CanManage() bool {
	return r == Admin || r == Leader
}

// CanAuthor reports whether the relationship may author local tasks.
func (r Relationship) CanAuthor() bool {
	return r == Admin || r == Leader || r == Member
}

// Reader serves mirrored issues filtered by the caller's relationship.
type Reader struct {
	dir    store.Directory
	mirror store.MirrorReader
}

// NewReader creates a Reader.
func NewReader(dir store.Directory, mirror store.MirrorReader) *Reader {
	return &Reader{dir: dir, mirror: mirror}
}

// Resolve returns the caller's user record and relationship to projectID.
// Unknown callers and projects resolve to None with ErrAccessDenied.
func (r *Reader) Resolve(ctx context.Context, callerID, projectID string) (*types.User, Relationship, error) {
	user, err := r.dir.GetUser(ctx, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, None, ErrAccessDenied
		}
		return nil, None, fmt.Errorf("load caller: %w", err)
	}
	if user.Role == types.RoleAdmin {
		return user, Admin, nil
	}

	project, err := r.dir.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return user, None, ErrAccessDenied
		}
		return nil, None, fmt.Errorf("load project: %w", err)
	}
	group, err := r.dir.GetGroup(ctx, project.GroupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return user, None, ErrAccessDenied
		}
		return nil, None, fmt.Errorf("load group: %w", err)
	}

	switch {
	case user.Role == types.RoleLecturer && group.LecturerID == user.ID:
		return user, Lecturer, nil
	case user.Role == types.RoleStudent && group.LeaderID == user.ID:
		return user, Leader, nil
	}

	member, err := r.dir.IsMember(ctx, group.ID, user.ID)
	if err != nil {
		return nil, None, fmt.Errorf("check membership: %w", err)
	}
	if member {
		return user, Member, nil
	}
	return user, None, ErrAccessDenied
}

// ListVisible returns the project's mirrored issues the caller may see.
// Ordinary members see only issues assigned to their linked tracker
// account; without a linked account they see none.
func (r *Reader) ListVisible(ctx context.Context, callerID, projectID string) ([]types.RemoteIssue, error) {
	user, rel, err := r.Resolve(ctx, callerID, projectID)
	if err != nil {
		return nil, err
	}
	if rel.SeesAll() {
		return r.mirror.ListIssues(ctx, projectID)
	}
	if user.RemoteAccountID == "" {
		return []types.RemoteIssue{}, nil
	}
	return r.mirror.ListIssuesByAssignee(ctx, projectID, user.RemoteAccountID)
}

// GetVisible returns one mirrored issue by key. A member asking for an
// issue not assigned to them gets ErrAccessDenied even though it exists.
// Unknown keys are also ErrAccessDenied for everyone but platform admins,
// so the answer does not reveal which keys are mirrored.
func (r *Reader) GetVisible(ctx context.Context, callerID, issueKey string) (*types.RemoteIssue, error) {
	issue, err := r.mirror.GetIssueByKey(ctx, issueKey)
	if errors.Is(err, store.ErrNotFound) {
		admin, adminErr := r.IsAdmin(ctx, callerID)
		if adminErr != nil {
			return nil, adminErr
		}
		if !admin {
			return nil, ErrAccessDenied
		}
	}
	if err != nil {
		return nil, err
	}

	user, rel, err := r.Resolve(ctx, callerID, issue.ProjectID)
	if err != nil {
		return nil, err
	}
	if rel.SeesAll() {
		return issue, nil
	}
	if user.RemoteAccountID == "" || issue.AssigneeAccountID != user.RemoteAccountID {
		return nil, ErrAccessDenied
	}
	return issue, nil
}

// Authorize checks that the caller's relationship to projectID satisfies allowed.
func (r *Reader) Authorize(ctx context.Context, callerID, projectID string, allowed func(Relationship) bool) (Relationship, error) {
	_, rel, err := r.Resolve(ctx, callerID, projectID)
	if err != nil {
		return rel, err
	}
	if !allowed(rel) {
		return rel, ErrAccessDenied
	}
	return rel, nil
}

// IsAdmin reports whether callerID is a platform admin.
func (r *Reader) IsAdmin(ctx context.Context, callerID string) (bool, error) {
	user, err := r.dir.GetUser(ctx, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.Role == types.RoleAdmin, nil
}
