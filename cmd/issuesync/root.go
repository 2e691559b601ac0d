package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/issuesync/internal/api"
	"github.com/hyperengineering/issuesync/internal/config"
	"github.com/hyperengineering/issuesync/internal/snapshot"
	"github.com/hyperengineering/issuesync/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	backupInterval time.Duration
	backupKeep     int
)

var rootCmd = &cobra.Command{
	Use:          "issuesync",
	Short:        "issuesync - issue tracker integration engine",
	Long:         "Serves the integration API. Subcommands run one-off operations against the same database.",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Version = Version
	rootCmd.Flags().DurationVar(&backupInterval, "backup-interval", 0,
		"Take a database backup on this interval while serving (0 disables)")
	rootCmd.Flags().IntVar(&backupKeep, "backup-keep", 7,
		"Local backup copies to retain when --backup-interval is set (0 keeps all)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(integrationCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(directoryCmd)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogger(os.Stdout, cfg.Log)
	slog.Info("configuration loaded", "level", cfg.Log.Level, "dev_mode", cfg.DevMode())

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	handler := api.NewHandler(a.services, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	if backupInterval > 0 {
		uploader, err := snapshot.NewUploader(cfg.Snapshot)
		if err != nil {
			a.Close(ctx)
			return err
		}
		w := worker.NewBackupWorker(a.store, uploader, backupDir(cfg), backupInterval, backupKeep)
		startWorker(ctx, &wg, "backup", w.Run)
	}

	go func() {
		slog.Info("server starting", "address", addr, "version", Version)
		// ErrServerClosed is the expected error after Shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// Drain in-flight requests before workers and the store go away.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	wg.Wait()
	a.Close(shutdownCtx)

	slog.Info("shutdown complete")
	return nil
}

// setupLogger installs the default slog logger for the given settings.
func setupLogger(w io.Writer, cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
