package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hyperengineering/issuesync/internal/store"
	"github.com/hyperengineering/issuesync/internal/types"
	"github.com/hyperengineering/issuesync/internal/validation"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Seed the local copy of the platform directory",
	Long:  "Users, groups, projects and requirements are owned by the wider platform. These commands load them for standalone deployments.",
}

var directoryImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Upsert users, groups, projects and requirements from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDirectoryImport,
}

func init() {
	directoryCmd.AddCommand(directoryImportCmd)
}

// directoryFile is the import document.
type directoryFile struct {
	Users []struct {
		ID              string `yaml:"id"`
		Name            string `yaml:"name"`
		Email           string `yaml:"email"`
		Role            string `yaml:"role"`
		RemoteAccountID string `yaml:"remote_account_id"`
	} `yaml:"users"`
	Groups []struct {
		ID         string   `yaml:"id"`
		Name       string   `yaml:"name"`
		LecturerID string   `yaml:"lecturer_id"`
		LeaderID   string   `yaml:"leader_id"`
		Members    []string `yaml:"members"`
	} `yaml:"groups"`
	Projects []struct {
		ID      string `yaml:"id"`
		GroupID string `yaml:"group_id"`
		Name    string `yaml:"name"`
	} `yaml:"projects"`
	Requirements []struct {
		ID        string `yaml:"id"`
		ProjectID string `yaml:"project_id"`
		Title     string `yaml:"title"`
	} `yaml:"requirements"`
}

var roleNames = []string{string(types.RoleAdmin), string(types.RoleLecturer), string(types.RoleStudent)}

// validate reports every problem in the document, prefixed with its location.
func (d *directoryFile) validate() []string {
	var problems []string
	add := func(where string, errs ...*validation.ValidationError) {
		for _, e := range errs {
			if e != nil {
				problems = append(problems, fmt.Sprintf("%s: %s %s", where, e.Field, e.Message))
			}
		}
	}
	for i, u := range d.Users {
		where := fmt.Sprintf("users[%d]", i)
		add(where,
			validation.ValidateRequired("id", u.ID),
			validation.ValidateRequired("name", u.Name),
			validation.ValidateEmail("email", u.Email),
			validation.ValidateEnum("role", u.Role, roleNames),
		)
	}
	for i, g := range d.Groups {
		add(fmt.Sprintf("groups[%d]", i),
			validation.ValidateRequired("id", g.ID),
			validation.ValidateRequired("name", g.Name),
		)
	}
	for i, p := range d.Projects {
		add(fmt.Sprintf("projects[%d]", i),
			validation.ValidateRequired("id", p.ID),
			validation.ValidateRequired("group_id", p.GroupID),
			validation.ValidateRequired("name", p.Name),
		)
	}
	for i, r := range d.Requirements {
		add(fmt.Sprintf("requirements[%d]", i),
			validation.ValidateRequired("id", r.ID),
			validation.ValidateRequired("project_id", r.ProjectID),
			validation.ValidateRequired("title", r.Title),
			validation.ValidateText("title", r.Title, validation.MaxTitleLength),
		)
	}
	return problems
}

// directoryWriter is the subset of *store.SQLiteStore the import needs.
type directoryWriter interface {
	PutUser(ctx context.Context, u types.User) error
	PutGroup(ctx context.Context, g types.Group, memberIDs []string) error
	PutProject(ctx context.Context, p types.Project) error
	PutRequirement(ctx context.Context, r types.Requirement) error
}

var _ directoryWriter = (*store.SQLiteStore)(nil)

// importDirectory writes the document in dependency order: users, groups,
// projects, requirements.
func importDirectory(ctx context.Context, w directoryWriter, d *directoryFile) error {
	for _, u := range d.Users {
		if err := w.PutUser(ctx, types.User{
			ID: u.ID, Name: u.Name, Email: u.Email,
			Role: types.Role(u.Role), RemoteAccountID: u.RemoteAccountID,
		}); err != nil {
			return err
		}
	}
	for _, g := range d.Groups {
		group := types.Group{ID: g.ID, Name: g.Name, LecturerID: g.LecturerID, LeaderID: g.LeaderID}
		if err := w.PutGroup(ctx, group, g.Members); err != nil {
			return err
		}
	}
	for _, p := range d.Projects {
		if err := w.PutProject(ctx, types.Project{ID: p.ID, GroupID: p.GroupID, Name: p.Name}); err != nil {
			return err
		}
	}
	for _, r := range d.Requirements {
		if err := w.PutRequirement(ctx, types.Requirement{ID: r.ID, ProjectID: r.ProjectID, Title: r.Title}); err != nil {
			return err
		}
	}
	return nil
}

func runDirectoryImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read directory file: %w", err)
	}

	var doc directoryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse directory file: %w", err)
	}
	if problems := doc.validate(); len(problems) > 0 {
		return fmt.Errorf("invalid directory file:\n  %s", strings.Join(problems, "\n  "))
	}

	ctx := cmd.Context()
	a, err := loadApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if err := importDirectory(ctx, a.store, &doc); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d users, %d groups, %d projects, %d requirements.\n",
		len(doc.Users), len(doc.Groups), len(doc.Projects), len(doc.Requirements))
	return nil
}
