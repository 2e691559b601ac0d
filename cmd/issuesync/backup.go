package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hyperengineering/issuesync/internal/snapshot"
	"github.com/spf13/cobra"
)

var backupDirOverride string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a consistent copy of the database and upload it if storage is configured",
	Args:  cobra.NoArgs,
	RunE:  runBackup,
}

func init() {
	backupCmd.Flags().StringVar(&backupDirOverride, "dir", "",
		"Local directory for the backup (default: backups/ beside the database)")
	backupCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	uploader, err := snapshot.NewUploader(a.cfg.Snapshot)
	if err != nil {
		return err
	}

	dir := backupDirOverride
	if dir == "" {
		dir = backupDir(a.cfg)
	}

	res, err := snapshot.Backup(ctx, a.store, uploader, dir, time.Now())
	if err != nil {
		return err
	}

	var sizeBytes int64
	if info, statErr := os.Stat(res.LocalPath); statErr == nil {
		sizeBytes = info.Size()
	}

	var url string
	var expires time.Time
	if res.Uploaded {
		url, expires, err = uploader.PresignedURL(ctx, res.ObjectName)
		if err != nil {
			// The upload itself succeeded; a missing link is not fatal.
			slog.Warn("presign backup url failed", "object", res.ObjectName, "error", err)
		}
	}

	if jsonOutput {
		body := map[string]any{
			"path":       res.LocalPath,
			"object":     res.ObjectName,
			"uploaded":   res.Uploaded,
			"size_bytes": sizeBytes,
		}
		if url != "" {
			body["url"] = url
			body["url_expires"] = expires
		}
		return printJSON(cmd.OutOrStdout(), body)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Path:     %s\n", res.LocalPath)
	fmt.Fprintf(out, "Size:     %s\n", formatSize(sizeBytes))
	fmt.Fprintf(out, "Uploaded: %t\n", res.Uploaded)
	if url != "" {
		fmt.Fprintf(out, "URL:      %s\n", url)
		fmt.Fprintf(out, "Expires:  %s\n", expires.UTC().Format(time.RFC3339))
	}
	return nil
}
