// Package vault owns the per-project tracker credentials: it validates them
// against the tracker before persisting, keeps the API token sealed at rest,
// and hands out short-lived clients built from the decrypted token.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/issuesync/internal/secret"
	"github.com/hyperengineering/issuesync/internal/store"
	"github.com/hyperengineering/issuesync/internal/tracker"
	"github.com/hyperengineering/issuesync/internal/types"
)

var (
	// ErrNotConfigured is returned when a project has no integration.
	ErrNotConfigured = errors.New("no tracker integration is configured for this project")
	// ErrAlreadyConfigured is returned by Configure when a config exists; use Update instead.
	ErrAlreadyConfigured = errors.New("tracker integration already configured for this project; use update")
	// ErrConnectionFailed is returned when supplied credentials cannot reach the tracker.
	ErrConnectionFailed = errors.New("cannot connect to tracker with the supplied credentials")
)

// ClientFactory builds a tracker client from plaintext credentials.
type ClientFactory func(baseURL, email, apiToken string) tracker.API

// Vault manages integration configs.
type Vault struct {
	store     store.ConfigStore
	enc       secret.Encrypter
	newClient ClientFactory
}

// New creates a Vault. enc must be scoped to secret.TrackerTokenPurpose.
func New(st store.ConfigStore, enc secret.Encrypter, newClient ClientFactory) *Vault {
	return &Vault{store: st, enc: enc, newClient: newClient}
}

// Configure validates and stores a new integration for projectID. It fails
// if one already exists, if the tracker rejects the credentials, or if the
// project key does not resolve. Nothing is persisted on failure.
func (v *Vault) Configure(ctx context.Context, projectID string, req types.IntegrationRequest) (*types.IntegrationView, error) {
	if _, err := v.store.GetConfig(ctx, projectID); err == nil {
		return nil, ErrAlreadyConfigured
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load config: %w", err)
	}

	baseURL := types.NormalizeBaseURL(req.BaseURL)
	if err := v.verify(ctx, baseURL, req.Email, req.APIToken, req.ProjectKey); err != nil {
		return nil, err
	}

	sealed, err := v.enc.Encrypt(req.APIToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt token: %w", err)
	}

	cfg := &types.IntegrationConfig{
		ProjectID:      projectID,
		BaseURL:        baseURL,
		Email:          req.Email,
		EncryptedToken: sealed,
		ProjectKey:     req.ProjectKey,
		SyncStatus:     types.SyncPending,
	}
	if err := v.store.CreateConfig(ctx, cfg); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrAlreadyConfigured
		}
		return nil, fmt.Errorf("save config: %w", err)
	}

	slog.Info("integration configured",
		"component", "vault",
		"action", "configure",
		"project_id", projectID,
		"project_key", cfg.ProjectKey,
	)

	view := cfg.View()
	return &view, nil
}

// Update replaces the credentials of an existing integration after
// re-validating them. Empty request fields keep their stored values.
func (v *Vault) Update(ctx context.Context, projectID string, req types.IntegrationRequest) (*types.IntegrationView, error) {
	cfg, err := v.load(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if req.BaseURL != "" {
		cfg.BaseURL = types.NormalizeBaseURL(req.BaseURL)
	}
	if req.Email != "" {
		cfg.Email = req.Email
	}
	if req.ProjectKey != "" {
		cfg.ProjectKey = req.ProjectKey
	}

	token := req.APIToken
	if token == "" {
		if token, err = v.enc.Decrypt(cfg.EncryptedToken); err != nil {
			return nil, fmt.Errorf("decrypt stored token: %w", err)
		}
	}

	if err := v.verify(ctx, cfg.BaseURL, cfg.Email, token, cfg.ProjectKey); err != nil {
		return nil, err
	}

	if cfg.EncryptedToken, err = v.enc.Encrypt(token); err != nil {
		return nil, fmt.Errorf("encrypt token: %w", err)
	}
	if err := v.store.SaveConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("save config: %w", err)
	}

	slog.Info("integration updated",
		"component", "vault",
		"action", "update",
		"project_id", projectID,
	)

	view := cfg.View()
	return &view, nil
}

// Get returns the token-free view of a project's integration.
func (v *Vault) Get(ctx context.Context, projectID string) (*types.IntegrationView, error) {
	cfg, err := v.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	view := cfg.View()
	return &view, nil
}

// Delete removes a project's integration. Mirrored issues are kept.
func (v *Vault) Delete(ctx context.Context, projectID string) error {
	if err := v.store.DeleteConfig(ctx, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotConfigured
		}
		return fmt.Errorf("delete config: %w", err)
	}
	slog.Info("integration deleted",
		"component", "vault",
		"action", "delete",
		"project_id", projectID,
	)
	return nil
}

// ListAll returns every integration as token-free views.
func (v *Vault) ListAll(ctx context.Context) ([]types.IntegrationView, error) {
	configs, err := v.store.ListConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	views := make([]types.IntegrationView, 0, len(configs))
	for i := range configs {
		views = append(views, configs[i].View())
	}
	return views, nil
}

// TestStoredConnection checks the stored credentials against the tracker.
// Connectivity problems are reported in the result; only a missing config
// or a local failure returns an error.
func (v *Vault) TestStoredConnection(ctx context.Context, projectID string) (*types.ConnectionReport, error) {
	client, cfg, err := v.Client(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if !client.TestConnection(ctx) {
		return &types.ConnectionReport{
			Connected: false,
			Message:   "Authentication with the tracker failed. Check the base URL, email and API token.",
		}, nil
	}

	project, err := client.GetProject(ctx, cfg.ProjectKey)
	if err != nil {
		return &types.ConnectionReport{
			Connected: false,
			Message:   fmt.Sprintf("Connected, but project %q could not be loaded: %v", cfg.ProjectKey, err),
		}, nil
	}

	return &types.ConnectionReport{
		Connected:   true,
		Message:     "Connection successful.",
		ProjectName: project.Name,
		ProjectKey:  project.Key,
	}, nil
}

// Client returns a tracker client for the project's stored credentials
// together with the config it was built from. The plaintext token lives only
// inside the returned client.
func (v *Vault) Client(ctx context.Context, projectID string) (tracker.API, *types.IntegrationConfig, error) {
	cfg, err := v.load(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	token, err := v.enc.Decrypt(cfg.EncryptedToken)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt stored token: %w", err)
	}
	return v.newClient(cfg.BaseURL, cfg.Email, token), cfg, nil
}

// MarkSyncStatus records the state of a sync run. lastSync may be nil to
// leave the previous timestamp in place.
func (v *Vault) MarkSyncStatus(ctx context.Context, projectID string, status types.SyncStatus, lastSync *time.Time) error {
	if err := v.store.SetSyncStatus(ctx, projectID, status, lastSync); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotConfigured
		}
		return fmt.Errorf("set sync status: %w", err)
	}
	return nil
}

func (v *Vault) load(ctx context.Context, projectID string) (*types.IntegrationConfig, error) {
	cfg, err := v.store.GetConfig(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// verify checks credentials and project key against the tracker.
func (v *Vault) verify(ctx context.Context, baseURL, email, token, projectKey string) error {
	client := v.newClient(baseURL, email, token)
	if !client.TestConnection(ctx) {
		slog.Warn("tracker rejected credentials",
			"component", "vault",
			"action", "verify",
			"base_url", baseURL,
		)
		return ErrConnectionFailed
	}
	if _, err := client.GetProject(ctx, projectKey); err != nil {
		return fmt.Errorf("%w: project %q: %w", ErrConnectionFailed, projectKey, err)
	}
	return nil
}
