package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperengineering/issuesync/internal/config"
	"github.com/hyperengineering/issuesync/internal/secret"
	"github.com/hyperengineering/issuesync/internal/store"
	"github.com/hyperengineering/issuesync/internal/tracker/trackertest"
	"github.com/hyperengineering/issuesync/internal/types"
	"github.com/hyperengineering/issuesync/internal/vault"
)

var cliMasterKey = bytes.Repeat([]byte{9}, 32)

// cliEnv points the config at a temp database and the vault at an
// in-memory tracker.
type cliEnv struct {
	dbPath string
	fake   *trackertest.Fake
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := &cliEnv{dbPath: filepath.Join(dir, "cli.db"), fake: trackertest.New()}
	env.fake.AddProject("ABC", "Capstone Board")

	t.Setenv("ISSUESYNC_CONFIG_PATH", filepath.Join(dir, "absent.yaml"))
	t.Setenv("ISSUESYNC_DB_PATH", env.dbPath)
	t.Setenv("ISSUESYNC_DEV_MODE", "true")
	t.Setenv("ISSUESYNC_MASTER_KEY", base64.StdEncoding.EncodeToString(cliMasterKey))
	t.Setenv("ISSUESYNC_API_KEY", "cli-test-key")
	t.Setenv("ISSUESYNC_LOG_LEVEL", "error")
	t.Setenv("ISSUESYNC_TELEMETRY_ENABLED", "false")
	t.Setenv("ISSUESYNC_SNAPSHOT_BUCKET", "")

	prevFactory := newClientFactory
	newClientFactory = func(config.TrackerConfig) vault.ClientFactory { return env.fake.Factory() }
	prevLogger := slog.Default()
	t.Cleanup(func() {
		newClientFactory = prevFactory
		slog.SetDefault(prevLogger)
	})
	return env
}

// seed writes the directory and, when configure is set, an integration for p1.
func (e *cliEnv) seed(t *testing.T, configure bool) {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLiteStore(ctx, e.dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if err := st.PutUser(ctx, types.User{ID: "lead", Name: "Leader", Email: "lead@uni.edu", Role: types.RoleStudent}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutGroup(ctx, types.Group{ID: "g1", Name: "Team", LeaderID: "lead"}, []string{"lead"}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutProject(ctx, types.Project{ID: "p1", GroupID: "g1", Name: "Capstone"}); err != nil {
		t.Fatal(err)
	}
	if !configure {
		return
	}

	sealer, err := secret.NewSealer(cliMasterKey, secret.TrackerTokenPurpose)
	if err != nil {
		t.Fatal(err)
	}
	v := vault.New(st, sealer, e.fake.Factory())
	if _, err := v.Configure(ctx, "p1", types.IntegrationRequest{
		BaseURL:    "https://team.atlassian.net",
		Email:      "lead@uni.edu",
		APIToken:   "ATATT-cli-token",
		ProjectKey: "ABC",
	}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
}

// executeCmd runs the root command with captured output, resetting
// package-level flag variables first so values do not leak between tests.
func executeCmd(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	jsonOutput = false
	backupDirOverride = ""
	backupInterval = 0
	backupKeep = 7

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)
	return outBuf.String(), errBuf.String(), err
}

func TestIntegrationList_Empty(t *testing.T) {
	newCLIEnv(t)

	stdout, _, err := executeCmd(t, "integration", "list")
	if err != nil {
		t.Fatalf("integration list error = %v", err)
	}
	if !strings.Contains(stdout, "No integrations configured.") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestIntegrationList_JSON(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, true)

	stdout, _, err := executeCmd(t, "integration", "list", "--json")
	if err != nil {
		t.Fatalf("integration list error = %v", err)
	}
	if strings.Contains(stdout, "ATATT-cli-token") {
		t.Fatal("list output leaks the API token")
	}

	var body struct {
		Integrations []types.IntegrationView `json:"integrations"`
		Total        int                     `json:"total"`
	}
	if err := json.Unmarshal([]byte(stdout), &body); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, stdout)
	}
	if body.Total != 1 || body.Integrations[0].ProjectKey != "ABC" {
		t.Errorf("body = %+v", body)
	}
}

func TestIntegrationList_Table(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, true)

	stdout, _, err := executeCmd(t, "integration", "list")
	if err != nil {
		t.Fatalf("integration list error = %v", err)
	}
	for _, want := range []string{"PROJECT", "p1", "ABC", "https://team.atlassian.net", "pending"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("table missing %q:\n%s", want, stdout)
		}
	}
}

func TestIntegrationTest(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, true)

	stdout, _, err := executeCmd(t, "integration", "test", "p1")
	if err != nil {
		t.Fatalf("integration test error = %v", err)
	}
	if !strings.Contains(stdout, "Connection successful.") || !strings.Contains(stdout, "Capstone Board") {
		t.Errorf("stdout = %q", stdout)
	}

	// Given: the tracker now rejects the stored credentials
	env.fake.Reject = true
	// When: the connection is tested again
	_, _, err = executeCmd(t, "integration", "test", "p1")
	// Then: the command fails
	if err == nil {
		t.Error("expected an error for a rejected connection")
	}
}

func TestIntegrationTest_NotConfigured(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, false)

	_, _, err := executeCmd(t, "integration", "test", "p1")
	if !errors.Is(err, vault.ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}

func TestSync(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, true)
	env.fake.SetIssues(
		trackertest.Issue("10001", "ABC-1", "Login page", "In Progress", "Medium", "", "2026-02-02T10:00:00.000+0000"),
		trackertest.Issue("10002", "ABC-2", "Database schema", "To Do", "High", "", "2026-02-01T10:00:00.000+0000"),
	)

	stdout, _, err := executeCmd(t, "sync", "p1", "--json")
	if err != nil {
		t.Fatalf("sync error = %v", err)
	}
	var out types.SyncOutcome
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, stdout)
	}
	if out.Status != types.SyncSuccess || out.Total != 2 || out.NewIssues != 2 {
		t.Errorf("outcome = %+v", out)
	}

	// A second run refreshes the existing rows instead of inserting.
	stdout, _, err = executeCmd(t, "sync", "p1")
	if err != nil {
		t.Fatalf("second sync error = %v", err)
	}
	if !strings.Contains(stdout, "New:      0") || !strings.Contains(stdout, "Updated:  2") {
		t.Errorf("second run output = %q", stdout)
	}
}

func TestSync_TrackerFailure(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, true)
	env.fake.ListErr = errors.New("boom")

	stdout, _, err := executeCmd(t, "sync", "p1")
	if err == nil {
		t.Fatal("expected an error for a failed sync")
	}
	if !strings.Contains(stdout, "Status:   failed") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestSync_NotConfigured(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, false)

	_, _, err := executeCmd(t, "sync", "p1")
	if !errors.Is(err, vault.ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}

func TestSync_RequiresProjectArg(t *testing.T) {
	newCLIEnv(t)
	if _, _, err := executeCmd(t, "sync"); err == nil {
		t.Error("expected an argument error")
	}
}

func TestBackup_Local(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, false)
	dir := filepath.Join(t.TempDir(), "out")

	stdout, _, err := executeCmd(t, "backup", "--dir", dir, "--json")
	if err != nil {
		t.Fatalf("backup error = %v", err)
	}

	var body struct {
		Path      string `json:"path"`
		Object    string `json:"object"`
		Uploaded  bool   `json:"uploaded"`
		SizeBytes int64  `json:"size_bytes"`
		URL       string `json:"url"`
	}
	if err := json.Unmarshal([]byte(stdout), &body); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, stdout)
	}
	if body.Uploaded || body.URL != "" {
		t.Errorf("local backup reported upload: %+v", body)
	}
	if filepath.Dir(body.Path) != dir {
		t.Errorf("path = %q, want inside %q", body.Path, dir)
	}
	if !strings.HasPrefix(body.Object, "backups/") {
		t.Errorf("object = %q", body.Object)
	}
	info, err := os.Stat(body.Path)
	if err != nil {
		t.Fatalf("backup file: %v", err)
	}
	if info.Size() == 0 || info.Size() != body.SizeBytes {
		t.Errorf("size = %d, reported %d", info.Size(), body.SizeBytes)
	}

	// The copy is a usable database with the seeded directory.
	copyStore, err := store.NewSQLiteStore(context.Background(), body.Path)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer copyStore.Close()
	if _, err := copyStore.GetProject(context.Background(), "p1"); err != nil {
		t.Errorf("backup is missing project p1: %v", err)
	}
}

func TestBackup_DefaultDir(t *testing.T) {
	env := newCLIEnv(t)

	stdout, _, err := executeCmd(t, "backup")
	if err != nil {
		t.Fatalf("backup error = %v", err)
	}
	want := filepath.Join(filepath.Dir(env.dbPath), "backups")
	if !strings.Contains(stdout, want) {
		t.Errorf("stdout = %q, want path under %s", stdout, want)
	}
	if !strings.Contains(stdout, "Uploaded: false") {
		t.Errorf("stdout = %q", stdout)
	}
}

const directoryYAML = `
users:
  - id: lec
    name: Dr Lecturer
    email: lec@uni.edu
    role: lecturer
  - id: stu
    name: Student
    email: stu@uni.edu
    role: student
    remote_account_id: acc-stu
groups:
  - id: g2
    name: Team Two
    lecturer_id: lec
    leader_id: stu
    members: [stu]
projects:
  - id: p2
    group_id: g2
    name: Second Project
requirements:
  - id: r1
    project_id: p2
    title: Users can log in
`

func TestDirectoryImport(t *testing.T) {
	env := newCLIEnv(t)
	path := filepath.Join(t.TempDir(), "directory.yaml")
	if err := os.WriteFile(path, []byte(directoryYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := executeCmd(t, "directory", "import", path)
	if err != nil {
		t.Fatalf("directory import error = %v", err)
	}
	if !strings.Contains(stdout, "Imported 2 users, 1 groups, 1 projects, 1 requirements.") {
		t.Errorf("stdout = %q", stdout)
	}

	ctx := context.Background()
	st, err := store.NewSQLiteStore(ctx, env.dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	u, err := st.GetUser(ctx, "stu")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.RemoteAccountID != "acc-stu" || u.Role != types.RoleStudent {
		t.Errorf("user = %+v", u)
	}
	member, err := st.IsMember(ctx, "g2", "stu")
	if err != nil || !member {
		t.Errorf("IsMember(g2, stu) = %v, %v", member, err)
	}
	req, err := st.GetRequirement(ctx, "r1")
	if err != nil || req.ProjectID != "p2" {
		t.Errorf("GetRequirement() = %+v, %v", req, err)
	}
}

func TestDirectoryImport_Invalid(t *testing.T) {
	newCLIEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	bad := `
users:
  - id: x
    name: X
    email: not-an-email
    role: superuser
projects:
  - id: p9
    name: Orphan
`
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}

	_, _, err := executeCmd(t, "directory", "import", path)
	if err == nil {
		t.Fatal("expected a validation error")
	}
	for _, want := range []string{"users[0]: email", "users[0]: role", "projects[0]: group_id"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestDirectoryImport_MissingFile(t *testing.T) {
	newCLIEnv(t)
	if _, _, err := executeCmd(t, "directory", "import", filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected a read error")
	}
}

func TestNewSealer(t *testing.T) {
	t.Setenv("ISSUESYNC_DEV_MODE", "true")

	// Given: dev mode without a master key
	s, err := newSealer(&config.Config{})
	// Then: an ephemeral sealer still round-trips
	if err != nil {
		t.Fatalf("newSealer() error = %v", err)
	}
	ct, err := s.Encrypt("x")
	if err != nil {
		t.Fatal(err)
	}
	if got, err := s.Decrypt(ct); err != nil || got != "x" {
		t.Errorf("Decrypt() = %q, %v", got, err)
	}

	t.Setenv("ISSUESYNC_DEV_MODE", "false")
	if _, err := newSealer(&config.Config{Vault: config.VaultConfig{MasterKey: "short"}}); err == nil {
		t.Error("short master key accepted outside dev mode")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.in); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
