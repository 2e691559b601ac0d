package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperengineering/issuesync/internal/types"
)

const configColumns = `project_id, base_url, email, encrypted_token, project_key,
	last_sync, sync_status, created_at, updated_at`

func scanConfig(scanner interface{ Scan(...any) error }) (*types.IntegrationConfig, error) {
	var cfg types.IntegrationConfig
	var lastSync sql.NullString
	var syncStatus, createdAt, updatedAt string

	err := scanner.Scan(
		&cfg.ProjectID,
		&cfg.BaseURL,
		&cfg.Email,
		&cfg.EncryptedToken,
		&cfg.ProjectKey,
		&lastSync,
		&syncStatus,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.SyncStatus = types.SyncStatus(syncStatus)
	cfg.LastSync = parseTimePtr(lastSync)
	cfg.CreatedAt = parseTime(createdAt)
	cfg.UpdatedAt = parseTime(updatedAt)
	return &cfg, nil
}

// GetConfig returns the integration config for a project.
func (s *SQLiteStore) GetConfig(ctx context.Context, projectID string) (*types.IntegrationConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM integration_configs WHERE project_id = ?`, projectID)

	cfg, err := scanConfig(row)
	if err != nil {
		if noRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan config: %w", err)
	}
	return cfg, nil
}

// CreateConfig inserts a new config. A project holds at most one config;
// a second insert returns ErrAlreadyExists.
func (s *SQLiteStore) CreateConfig(ctx context.Context, cfg *types.IntegrationConfig) error {
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	if cfg.SyncStatus == "" {
		cfg.SyncStatus = types.SyncPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integration_configs (`+configColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cfg.ProjectID, cfg.BaseURL, cfg.Email, cfg.EncryptedToken, cfg.ProjectKey,
		formatTimePtr(cfg.LastSync), string(cfg.SyncStatus),
		formatTime(cfg.CreatedAt), formatTime(cfg.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert config: %w", err)
	}
	return nil
}

// SaveConfig overwrites the credential fields of an existing config.
// Sync bookkeeping is left to SetSyncStatus.
func (s *SQLiteStore) SaveConfig(ctx context.Context, cfg *types.IntegrationConfig) error {
	cfg.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE integration_configs
		SET base_url = ?, email = ?, encrypted_token = ?, project_key = ?, updated_at = ?
		WHERE project_id = ?
	`, cfg.BaseURL, cfg.Email, cfg.EncryptedToken, cfg.ProjectKey, formatTime(cfg.UpdatedAt), cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	return checkAffected(result)
}

// DeleteConfig removes a project's config. Mirrored issues are kept.
func (s *SQLiteStore) DeleteConfig(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM integration_configs WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	return checkAffected(result)
}

// ListConfigs returns every config ordered by project ID.
func (s *SQLiteStore) ListConfigs(ctx context.Context) ([]types.IntegrationConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+configColumns+` FROM integration_configs ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("query configs: %w", err)
	}
	defer rows.Close()

	configs := []types.IntegrationConfig{}
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return configs, nil
}

// SetSyncStatus records the state of a sync run. A nil lastSync leaves the
// stored timestamp unchanged.
func (s *SQLiteStore) SetSyncStatus(ctx context.Context, projectID string, status types.SyncStatus, lastSync *time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE integration_configs
		SET sync_status = ?, last_sync = COALESCE(?, last_sync)
		WHERE project_id = ?
	`, string(status), formatTimePtr(lastSync), projectID)
	if err != nil {
		return fmt.Errorf("update sync status: %w", err)
	}
	return checkAffected(result)
}
