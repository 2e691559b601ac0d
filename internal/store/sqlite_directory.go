package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hyperengineering/issuesync/internal/types"
)

// GetUser returns a platform user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*types.User, error) {
	var u types.User
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, remote_account_id FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Name, &u.Email, &role, &u.RemoteAccountID)
	if err != nil {
		if noRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = types.Role(role)
	return &u, nil
}

// GetProject returns a project by ID.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*types.Project, error) {
	var p types.Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, name FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.GroupID, &p.Name)
	if err != nil {
		if noRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return &p, nil
}

// GetGroup returns a student group by ID.
func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*types.Group, error) {
	var g types.Group
	var lecturerID, leaderID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, lecturer_id, leader_id FROM student_groups WHERE id = ?
	`, id).Scan(&g.ID, &g.Name, &lecturerID, &leaderID)
	if err != nil {
		if noRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan group: %w", err)
	}
	g.LecturerID = lecturerID.String
	g.LeaderID = leaderID.String
	return &g, nil
}

// IsMember reports whether userID belongs to groupID.
func (s *SQLiteStore) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?
	`, groupID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return n > 0, nil
}

// ListMembers returns the users in a group ordered by name.
func (s *SQLiteStore) ListMembers(ctx context.Context, groupID string) ([]types.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, u.role, u.remote_account_id
		FROM group_members m JOIN users u ON u.id = m.user_id
		WHERE m.group_id = ?
		ORDER BY u.name, u.id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	users := []types.User{}
	for rows.Next() {
		var u types.User
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &role, &u.RemoteAccountID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		u.Role = types.Role(role)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return users, nil
}

// GetRequirement returns a requirement by ID.
func (s *SQLiteStore) GetRequirement(ctx context.Context, id string) (*types.Requirement, error) {
	var r types.Requirement
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title FROM requirements WHERE id = ?
	`, id).Scan(&r.ID, &r.ProjectID, &r.Title)
	if err != nil {
		if noRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan requirement: %w", err)
	}
	return &r, nil
}

// The Put* methods upsert directory records. The directory is owned by the
// wider platform; these exist for seeding and tests.

// PutUser inserts or replaces a user.
func (s *SQLiteStore) PutUser(ctx context.Context, u types.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role, remote_account_id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, email = excluded.email,
			role = excluded.role, remote_account_id = excluded.remote_account_id
	`, u.ID, u.Name, u.Email, string(u.Role), u.RemoteAccountID)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

// PutGroup inserts or replaces a group and sets its member list.
func (s *SQLiteStore) PutGroup(ctx context.Context, g types.Group, memberIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO student_groups (id, name, lecturer_id, leader_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, lecturer_id = excluded.lecturer_id, leader_id = excluded.leader_id
	`, g.ID, g.Name, nullString(g.LecturerID), nullString(g.LeaderID))
	if err != nil {
		return fmt.Errorf("upsert group %s: %w", g.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, g.ID); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	for _, id := range memberIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, user_id) VALUES (?, ?)
		`, g.ID, id); err != nil {
			return fmt.Errorf("add member %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PutProject inserts or replaces a project.
func (s *SQLiteStore) PutProject(ctx context.Context, p types.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, group_id, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET group_id = excluded.group_id, name = excluded.name
	`, p.ID, p.GroupID, p.Name)
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", p.ID, err)
	}
	return nil
}

// PutRequirement inserts or replaces a requirement.
func (s *SQLiteStore) PutRequirement(ctx context.Context, r types.Requirement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requirements (id, project_id, title) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET project_id = excluded.project_id, title = excluded.title
	`, r.ID, r.ProjectID, r.Title)
	if err != nil {
		return fmt.Errorf("upsert requirement %s: %w", r.ID, err)
	}
	return nil
}
