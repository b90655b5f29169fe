package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hearth-home/hearth-backend-go/internal/database/models"
	"github.com/hearth-home/hearth-backend-go/internal/database/repositories"
)

// ConfigRepository implements repositories.ConfigRepository.
type ConfigRepository struct {
	db *sqlx.DB
}

// NewConfigRepository creates a new ConfigRepository.
func NewConfigRepository(db *sqlx.DB) repositories.ConfigRepository {
	return &ConfigRepository{db: db}
}

// Get retrieves a configuration value by key.
func (r *ConfigRepository) Get(ctx context.Context, key string) (*models.SystemConfig, error) {
	cfg := &models.SystemConfig{}
	err := r.db.GetContext(ctx, cfg, `
		SELECT key, value, description, updated_at FROM system_config WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("config key not found: %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	return cfg, nil
}

// Set creates or updates a configuration value.
func (r *ConfigRepository) Set(ctx context.Context, cfg *models.SystemConfig) error {
	cfg.UpdatedAt = time.Now()
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO system_config (key, value, description, updated_at)
		VALUES (:key, :value, :description, :updated_at)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			description = excluded.description,
			updated_at = excluded.updated_at`, cfg)
	if err != nil {
		return fmt.Errorf("failed to set config: %w", err)
	}
	return nil
}

// Delete removes a configuration key.
func (r *ConfigRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM system_config WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}
	return nil
}
