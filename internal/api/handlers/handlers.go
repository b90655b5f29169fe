package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/config"
	"github.com/hearth-home/hearth-backend-go/internal/core/backup"
	"github.com/hearth-home/hearth-backend-go/internal/core/entities"
	"github.com/hearth-home/hearth-backend-go/internal/core/system"
	"github.com/hearth-home/hearth-backend-go/internal/database/repositories"
	"github.com/hearth-home/hearth-backend-go/internal/websocket"
	"github.com/hearth-home/hearth-backend-go/internal/zigbee"
)

// Handlers carries the service dependencies the route handlers need.
type Handlers struct {
	cfg      *config.Config
	entities *entities.Service
	zigbee   *zigbee.Gateway
	hub      *websocket.Hub
	system   *system.Service
	backup   *backup.Service
	settings repositories.ConfigRepository
	log      *logrus.Logger
}

func New(cfg *config.Config, ent *entities.Service, gw *zigbee.Gateway, hub *websocket.Hub, sys *system.Service, bak *backup.Service, settings repositories.ConfigRepository, log *logrus.Logger) *Handlers {
	return &Handlers{
		cfg:      cfg,
		entities: ent,
		zigbee:   gw,
		hub:      hub,
		system:   sys,
		backup:   bak,
		settings: settings,
		log:      log,
	}
}
