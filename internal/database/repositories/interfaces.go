package repositories

import (
	"context"

	"github.com/hearth-home/hearth-backend-go/internal/database/models"
)

// ZigbeeDeviceRepository persists the gateway's device map.
type ZigbeeDeviceRepository interface {
	GetAll(ctx context.Context) ([]*models.ZigbeeDevice, error)
	Get(ctx context.Context, ieee string) (*models.ZigbeeDevice, error)
	Upsert(ctx context.Context, device *models.ZigbeeDevice) error
	Delete(ctx context.Context, ieee string) error
	TouchLastSeen(ctx context.Context, ieee string) error
}

// ZigbeeGroupRepository persists groups and their members.
type ZigbeeGroupRepository interface {
	GetAll(ctx context.Context) ([]*models.ZigbeeGroup, error)
	GetMembers(ctx context.Context, groupID uint16) ([]*models.ZigbeeGroupMember, error)
	Create(ctx context.Context, group *models.ZigbeeGroup) error
	Delete(ctx context.Context, groupID uint16) error
	AddMember(ctx context.Context, member *models.ZigbeeGroupMember) error
	RemoveMember(ctx context.Context, groupID uint16, ieee string, endpointID uint8) error
}

// EntityRepository persists unified entities.
type EntityRepository interface {
	GetAll(ctx context.Context) ([]*models.EntityRow, error)
	Get(ctx context.Context, id string) (*models.EntityRow, error)
	Upsert(ctx context.Context, entity *models.EntityRow) error
	Delete(ctx context.Context, id string) error
	DeleteBySource(ctx context.Context, source string) error
}

// ConfigRepository persists key/value configuration.
type ConfigRepository interface {
	Get(ctx context.Context, key string) (*models.SystemConfig, error)
	Set(ctx context.Context, cfg *models.SystemConfig) error
	Delete(ctx context.Context, key string) error
}
