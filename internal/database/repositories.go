package database

import (
	"github.com/jmoiron/sqlx"

	"github.com/hearth-home/hearth-backend-go/internal/database/repositories"
	"github.com/hearth-home/hearth-backend-go/internal/database/sqlite"
)

// Repositories holds all repository instances.
type Repositories struct {
	Config       repositories.ConfigRepository
	Entity       repositories.EntityRepository
	ZigbeeDevice repositories.ZigbeeDeviceRepository
	ZigbeeGroup  repositories.ZigbeeGroupRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sqlx.DB) *Repositories {
	return &Repositories{
		Config:       sqlite.NewConfigRepository(db),
		Entity:       sqlite.NewEntityRepository(db),
		ZigbeeDevice: sqlite.NewZigbeeDeviceRepository(db),
		ZigbeeGroup:  sqlite.NewZigbeeGroupRepository(db),
	}
}
