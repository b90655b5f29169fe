package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hearth-home/hearth-backend-go/internal/database/models"
	"github.com/hearth-home/hearth-backend-go/internal/database/repositories"
)

// EntityRepository implements repositories.EntityRepository.
type EntityRepository struct {
	db *sqlx.DB
}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository(db *sqlx.DB) repositories.EntityRepository {
	return &EntityRepository{db: db}
}

func (r *EntityRepository) GetAll(ctx context.Context) ([]*models.EntityRow, error) {
	entities := []*models.EntityRow{}
	err := r.db.SelectContext(ctx, &entities, `
		SELECT id, type, friendly_name, source, state, attributes, available, last_updated
		FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	return entities, nil
}

func (r *EntityRepository) Get(ctx context.Context, id string) (*models.EntityRow, error) {
	entity := &models.EntityRow{}
	err := r.db.GetContext(ctx, entity, `
		SELECT id, type, friendly_name, source, state, attributes, available, last_updated
		FROM entities WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

func (r *EntityRepository) Upsert(ctx context.Context, entity *models.EntityRow) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO entities (id, type, friendly_name, source, state, attributes, available, last_updated)
		VALUES (:id, :type, :friendly_name, :source, :state, :attributes, :available, :last_updated)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			friendly_name = excluded.friendly_name,
			state = excluded.state,
			attributes = excluded.attributes,
			available = excluded.available,
			last_updated = excluded.last_updated`, entity)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

func (r *EntityRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return nil
}

func (r *EntityRepository) DeleteBySource(ctx context.Context, source string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE source = ?`, source)
	if err != nil {
		return fmt.Errorf("failed to delete entities for source %s: %w", source, err)
	}
	return nil
}
