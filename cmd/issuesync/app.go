package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hyperengineering/issuesync/internal/access"
	"github.com/hyperengineering/issuesync/internal/api"
	"github.com/hyperengineering/issuesync/internal/config"
	"github.com/hyperengineering/issuesync/internal/reconciler"
	"github.com/hyperengineering/issuesync/internal/secret"
	"github.com/hyperengineering/issuesync/internal/store"
	"github.com/hyperengineering/issuesync/internal/tasks"
	"github.com/hyperengineering/issuesync/internal/telemetry"
	"github.com/hyperengineering/issuesync/internal/tracker"
	"github.com/hyperengineering/issuesync/internal/vault"
)

// newClientFactory builds the vault's tracker client factory. Tests swap it
// for an in-memory fake.
var newClientFactory = func(cfg config.TrackerConfig) vault.ClientFactory {
	return func(baseURL, email, apiToken string) tracker.API {
		return tracker.NewClient(baseURL, email, apiToken,
			tracker.WithTimeout(time.Duration(cfg.Timeout)),
			tracker.WithUserAgent(cfg.UserAgent),
		)
	}
}

// app is the wired set of components shared by the server and the CLI
// subcommands.
type app struct {
	cfg       *config.Config
	store     *store.SQLiteStore
	services  api.Services
	telemetry *telemetry.Providers
}

// openApp initializes telemetry, opens the store, and wires the domain services.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	providers, err := telemetry.Init(ctx, telemetry.Options{
		Enabled:        cfg.Telemetry.Enabled,
		Stdout:         cfg.Telemetry.Stdout,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ExportInterval: time.Duration(cfg.Telemetry.ExportInterval),
		ServiceName:    "issuesync",
		Version:        Version,
	})
	if err != nil {
		return nil, err
	}

	sealer, err := newSealer(cfg)
	if err != nil {
		providers.Shutdown(ctx)
		return nil, err
	}

	db, err := store.NewSQLiteStore(ctx, cfg.Database.Path)
	if err != nil {
		providers.Shutdown(ctx)
		return nil, err
	}

	v := vault.New(db, sealer, newClientFactory(cfg.Tracker))
	return &app{
		cfg:   cfg,
		store: db,
		services: api.Services{
			Store:      db,
			Vault:      v,
			Reconciler: reconciler.New(v, db),
			Publisher:  reconciler.NewPublisher(v, db, db, db),
			Reader:     access.NewReader(db, db),
			Tasks:      tasks.New(db, db, db),
		},
		telemetry: providers,
	}, nil
}

// Close flushes telemetry and closes the store.
func (a *app) Close(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}
}

// newSealer builds the token sealer. Dev mode without a master key gets a
// random per-process key, so tokens stored in that run cannot be read later.
func newSealer(cfg *config.Config) (*secret.Sealer, error) {
	if cfg.Vault.MasterKey == "" && cfg.DevMode() {
		key := make([]byte, secret.MinMasterKeyLength)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate dev master key: %w", err)
		}
		slog.Warn("no master key configured; using an ephemeral key for this process")
		return secret.NewSealer(key, secret.TrackerTokenPurpose)
	}
	s, err := secret.NewSealerFromString(cfg.Vault.MasterKey, secret.TrackerTokenPurpose)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	return s, nil
}

// backupDir is where local backup copies are written: a backups directory
// beside the database file.
func backupDir(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.Database.Path), "backups")
}

// loadApp is the CLI entry: load config, log to stderr, open the app.
func loadApp(ctx context.Context, errOut io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogger(errOut, cfg.Log)
	return openApp(ctx, cfg)
}
