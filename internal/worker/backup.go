// Package worker holds the optional background loops of the server process.
package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hyperengineering/issuesync/internal/snapshot"
)

// BackupWorker takes a database backup on start and then once per interval.
// It never touches the tracker.
type BackupWorker struct {
	src      snapshot.Source
	uploader snapshot.Uploader
	dir      string
	interval time.Duration
	keep     int
	now      func() time.Time
}

// NewBackupWorker creates a worker writing local copies into dir. When keep
// is positive, only the newest keep local copies are retained.
func NewBackupWorker(src snapshot.Source, uploader snapshot.Uploader, dir string, interval time.Duration, keep int) *BackupWorker {
	return &BackupWorker{
		src:      src,
		uploader: uploader,
		dir:      dir,
		interval: interval,
		keep:     keep,
		now:      time.Now,
	}
}

// Run starts the worker loop. A backup already in progress when ctx is
// cancelled runs to completion.
func (w *BackupWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.backup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.backup(ctx)
		}
	}
}

// backup takes one backup and prunes old local copies. Errors are logged.
func (w *BackupWorker) backup(ctx context.Context) {
	if _, err := snapshot.Backup(ctx, w.src, w.uploader, w.dir, w.now()); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("backup failed",
			"component", "worker",
			"action", "backup_failed",
			"error", err,
		)
		return
	}
	if w.keep > 0 {
		w.prune()
	}
}

// prune removes the oldest local copies beyond keep. Backup file names sort
// chronologically.
func (w *BackupWorker) prune() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Warn("list backups failed", "component", "worker", "action", "prune", "error", err)
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= w.keep {
		return
	}
	sort.Strings(names)

	for _, name := range names[:len(names)-w.keep] {
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil {
			slog.Warn("remove old backup failed",
				"component", "worker",
				"action", "prune",
				"file", name,
				"error", err,
			)
			continue
		}
		slog.Debug("old backup removed", "component", "worker", "action", "prune", "file", name)
	}
}
