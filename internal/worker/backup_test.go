package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/issuesync/internal/snapshot"
)

// mockSource implements snapshot.Source by writing a small file.
type mockSource struct {
	mu       sync.Mutex
	calls    int
	err      error
	duration time.Duration
}

func (m *mockSource) BackupTo(ctx context.Context, destPath string) error {
	m.mu.Lock()
	m.calls++
	err := m.err
	duration := m.duration
	m.mu.Unlock()

	// Runs to completion once started, like VACUUM INTO.
	if duration > 0 {
		time.Sleep(duration)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("sqlite"), 0o600)
}

func (m *mockSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// tickingClock returns one second later on each call so every backup gets a
// distinct file name.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func runFor(t *testing.T, w *BackupWorker, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(d)
	cancel()
	<-done
}

func TestBackupWorker_BacksUpOnStart(t *testing.T) {
	src := &mockSource{}
	dir := t.TempDir()
	w := NewBackupWorker(src, &snapshot.NoopUploader{}, dir, time.Hour, 0)
	w.now = tickingClock()

	runFor(t, w, 50*time.Millisecond)

	if src.Calls() < 1 {
		t.Fatalf("expected a backup on start, got %d calls", src.Calls())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("backup files = %d, want 1", len(entries))
	}
}

func TestBackupWorker_BacksUpOnInterval(t *testing.T) {
	src := &mockSource{}
	w := NewBackupWorker(src, &snapshot.NoopUploader{}, t.TempDir(), 50*time.Millisecond, 0)
	w.now = tickingClock()

	runFor(t, w, 150*time.Millisecond)

	if calls := src.Calls(); calls < 3 {
		t.Errorf("expected at least 3 backups (initial + 2 intervals), got %d", calls)
	}
}

func TestBackupWorker_ContinuesAfterErrors(t *testing.T) {
	src := &mockSource{err: errors.New("disk full")}
	w := NewBackupWorker(src, &snapshot.NoopUploader{}, t.TempDir(), 50*time.Millisecond, 0)
	w.now = tickingClock()

	runFor(t, w, 120*time.Millisecond)

	if calls := src.Calls(); calls < 2 {
		t.Errorf("expected repeated attempts despite errors, got %d", calls)
	}
}

func TestBackupWorker_StopsOnContextCancel(t *testing.T) {
	w := NewBackupWorker(&mockSource{}, &snapshot.NoopUploader{}, t.TempDir(), time.Hour, 0)
	w.now = tickingClock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}

func TestBackupWorker_CompletesInProgressOnShutdown(t *testing.T) {
	src := &mockSource{duration: 100 * time.Millisecond}
	w := NewBackupWorker(src, &snapshot.NoopUploader{}, t.TempDir(), time.Hour, 0)
	w.now = tickingClock()

	start := time.Now()
	runFor(t, w, 30*time.Millisecond)

	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("worker did not wait for the in-progress backup, elapsed %v", elapsed)
	}
}

func TestBackupWorker_PrunesOldCopies(t *testing.T) {
	dir := t.TempDir()
	w := NewBackupWorker(&mockSource{}, &snapshot.NoopUploader{}, dir, time.Hour, 2)
	w.now = tickingClock()

	// Given: a stray non-backup file that must survive pruning
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	// When: four backups are taken
	for i := 0; i < 4; i++ {
		w.backup(context.Background())
	}

	// Then: only the two newest .db files remain
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var dbs []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".db" {
			dbs = append(dbs, e.Name())
		}
	}
	want := []string{"20260301T120003Z.db", "20260301T120004Z.db"}
	if len(dbs) != 2 || dbs[0] != want[0] || dbs[1] != want[1] {
		t.Errorf("remaining backups = %v, want %v", dbs, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Errorf("non-backup file removed: %v", err)
	}
}
