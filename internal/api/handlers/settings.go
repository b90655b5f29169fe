package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hearth-home/hearth-backend-go/internal/database/models"
	"github.com/hearth-home/hearth-backend-go/pkg/utils"
)

type settingRequest struct {
	Value       string `json:"value" binding:"required"`
	Description string `json:"description"`
}

// GetSetting returns one persisted key/value setting.
// GET /api/settings/:key
func (h *Handlers) GetSetting(c *gin.Context) {
	setting, err := h.settings.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		utils.SendError(c, http.StatusNotFound, "Setting not found: "+c.Param("key"))
		return
	}
	utils.SendSuccess(c, setting)
}

// SetSetting creates or updates a setting.
// PUT /api/settings/:key
func (h *Handlers) SetSetting(c *gin.Context) {
	var req settingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	setting := &models.SystemConfig{
		Key:         c.Param("key"),
		Value:       req.Value,
		Description: req.Description,
	}
	if err := h.settings.Set(c.Request.Context(), setting); err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to save setting: "+err.Error())
		return
	}
	utils.SendSuccess(c, setting)
}

// DeleteSetting removes a setting.
// DELETE /api/settings/:key
func (h *Handlers) DeleteSetting(c *gin.Context) {
	if err := h.settings.Delete(c.Request.Context(), c.Param("key")); err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to delete setting: "+err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}
