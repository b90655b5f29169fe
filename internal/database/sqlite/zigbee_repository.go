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

// ZigbeeDeviceRepository implements repositories.ZigbeeDeviceRepository.
type ZigbeeDeviceRepository struct {
	db *sqlx.DB
}

// NewZigbeeDeviceRepository creates a new ZigbeeDeviceRepository.
func NewZigbeeDeviceRepository(db *sqlx.DB) repositories.ZigbeeDeviceRepository {
	return &ZigbeeDeviceRepository{db: db}
}

// GetAll returns every paired device row.
func (r *ZigbeeDeviceRepository) GetAll(ctx context.Context) ([]*models.ZigbeeDevice, error) {
	devices := []*models.ZigbeeDevice{}
	err := r.db.SelectContext(ctx, &devices, `
		SELECT ieee, nwk, manufacturer, model, name, power_source, last_seen, created_at
		FROM zigbee_devices ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list zigbee devices: %w", err)
	}
	return devices, nil
}

// Get returns one device by IEEE address.
func (r *ZigbeeDeviceRepository) Get(ctx context.Context, ieee string) (*models.ZigbeeDevice, error) {
	device := &models.ZigbeeDevice{}
	err := r.db.GetContext(ctx, device, `
		SELECT ieee, nwk, manufacturer, model, name, power_source, last_seen, created_at
		FROM zigbee_devices WHERE ieee = ?`, ieee)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("zigbee device not found: %s", ieee)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get zigbee device: %w", err)
	}
	return device, nil
}

// Upsert creates or updates a device row.
func (r *ZigbeeDeviceRepository) Upsert(ctx context.Context, device *models.ZigbeeDevice) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO zigbee_devices (ieee, nwk, manufacturer, model, name, power_source, last_seen, created_at)
		VALUES (:ieee, :nwk, :manufacturer, :model, :name, :power_source, :last_seen, :created_at)
		ON CONFLICT(ieee) DO UPDATE SET
			nwk = excluded.nwk,
			manufacturer = excluded.manufacturer,
			model = excluded.model,
			name = excluded.name,
			power_source = excluded.power_source,
			last_seen = excluded.last_seen`, device)
	if err != nil {
		return fmt.Errorf("failed to upsert zigbee device: %w", err)
	}
	return nil
}

// Delete removes a device row.
func (r *ZigbeeDeviceRepository) Delete(ctx context.Context, ieee string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM zigbee_devices WHERE ieee = ?`, ieee)
	if err != nil {
		return fmt.Errorf("failed to delete zigbee device: %w", err)
	}
	return nil
}

// TouchLastSeen bumps last_seen to now.
func (r *ZigbeeDeviceRepository) TouchLastSeen(ctx context.Context, ieee string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE zigbee_devices SET last_seen = ? WHERE ieee = ?`, time.Now(), ieee)
	if err != nil {
		return fmt.Errorf("failed to update last_seen: %w", err)
	}
	return nil
}

// ZigbeeGroupRepository implements repositories.ZigbeeGroupRepository.
type ZigbeeGroupRepository struct {
	db *sqlx.DB
}

// NewZigbeeGroupRepository creates a new ZigbeeGroupRepository.
func NewZigbeeGroupRepository(db *sqlx.DB) repositories.ZigbeeGroupRepository {
	return &ZigbeeGroupRepository{db: db}
}

func (r *ZigbeeGroupRepository) GetAll(ctx context.Context) ([]*models.ZigbeeGroup, error) {
	groups := []*models.ZigbeeGroup{}
	err := r.db.SelectContext(ctx, &groups, `
		SELECT group_id, name, created_at FROM zigbee_groups ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list zigbee groups: %w", err)
	}
	return groups, nil
}

func (r *ZigbeeGroupRepository) GetMembers(ctx context.Context, groupID uint16) ([]*models.ZigbeeGroupMember, error) {
	members := []*models.ZigbeeGroupMember{}
	err := r.db.SelectContext(ctx, &members, `
		SELECT group_id, ieee, endpoint_id FROM zigbee_group_members WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	return members, nil
}

func (r *ZigbeeGroupRepository) Create(ctx context.Context, group *models.ZigbeeGroup) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO zigbee_groups (group_id, name, created_at)
		VALUES (:group_id, :name, :created_at)`, group)
	if err != nil {
		return fmt.Errorf("failed to create zigbee group: %w", err)
	}
	return nil
}

func (r *ZigbeeGroupRepository) Delete(ctx context.Context, groupID uint16) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM zigbee_group_members WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("failed to delete group members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM zigbee_groups WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return tx.Commit()
}

func (r *ZigbeeGroupRepository) AddMember(ctx context.Context, member *models.ZigbeeGroupMember) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO zigbee_group_members (group_id, ieee, endpoint_id)
		VALUES (:group_id, :ieee, :endpoint_id)
		ON CONFLICT(group_id, ieee, endpoint_id) DO NOTHING`, member)
	if err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}

func (r *ZigbeeGroupRepository) RemoveMember(ctx context.Context, groupID uint16, ieee string, endpointID uint8) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM zigbee_group_members WHERE group_id = ? AND ieee = ? AND endpoint_id = ?`,
		groupID, ieee, endpointID)
	if err != nil {
		return fmt.Errorf("failed to remove group member: %w", err)
	}
	return nil
}
