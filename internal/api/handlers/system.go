package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearth-home/hearth-backend-go/pkg/utils"
)

// GetHealth is the liveness probe, unauthenticated.
// GET /health
func (h *Handlers) GetHealth(c *gin.Context) {
	status := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"entities":  len(h.entities.All()),
	}
	if h.hub != nil {
		status["websocket_clients"] = h.hub.GetClientCount()
	}
	c.JSON(http.StatusOK, status)
}

// GetSystemInfo returns host metrics.
// GET /api/system/info
func (h *Handlers) GetSystemInfo(c *gin.Context) {
	utils.SendSuccess(c, h.system.GetInfo(c.Request.Context()))
}

// GetWebSocketStats reports hub counters.
// GET /api/websocket/stats
func (h *Handlers) GetWebSocketStats(c *gin.Context) {
	utils.SendSuccess(c, h.hub.GetStats())
}

// ListBackups returns the snapshots on disk.
// GET /api/backups
func (h *Handlers) ListBackups(c *gin.Context) {
	backups, err := h.backup.List()
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to list backups: "+err.Error())
		return
	}
	utils.SendSuccess(c, backups)
}

// CreateBackup takes a snapshot now.
// POST /api/backups
func (h *Handlers) CreateBackup(c *gin.Context) {
	info, err := h.backup.Create()
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Backup failed: "+err.Error())
		return
	}
	utils.SendCreated(c, info)
}
