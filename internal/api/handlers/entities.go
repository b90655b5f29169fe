package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hearth-home/hearth-backend-go/internal/core/types"
	"github.com/hearth-home/hearth-backend-go/pkg/utils"
)

// GetEntities returns the registry, optionally filtered by source or type.
// GET /api/entities?source=shelly&type=switch
func (h *Handlers) GetEntities(c *gin.Context) {
	var list []*types.Entity
	if source := c.Query("source"); source != "" {
		list = h.entities.BySource(types.Source(source))
	} else {
		list = h.entities.All()
	}

	if entityType := c.Query("type"); entityType != "" {
		filtered := list[:0]
		for _, e := range list {
			if string(e.Type) == entityType {
				filtered = append(filtered, e)
			}
		}
		list = filtered
	}

	utils.SendSuccess(c, list)
}

// GetEntity returns one entity by ID.
// GET /api/entities/:id
func (h *Handlers) GetEntity(c *gin.Context) {
	entity, ok := h.entities.Get(c.Param("id"))
	if !ok {
		utils.SendError(c, http.StatusNotFound, "Entity not found")
		return
	}
	utils.SendSuccess(c, entity)
}

// ControlEntity executes a control action against an entity. The body
// is a ControlAction; the entity ID comes from the URL.
// POST /api/entities/:id/action
func (h *Handlers) ControlEntity(c *gin.Context) {
	var action types.ControlAction
	if err := c.ShouldBindJSON(&action); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid action payload: "+err.Error())
		return
	}
	action.EntityID = c.Param("id")
	if action.Action == "" {
		utils.SendError(c, http.StatusBadRequest, "Action is required")
		return
	}
	if _, ok := h.entities.Get(action.EntityID); !ok {
		utils.SendError(c, http.StatusNotFound, "Entity not found")
		return
	}

	result, err := h.entities.ExecuteAction(c.Request.Context(), action)
	if err != nil {
		h.log.WithError(err).WithField("entity_id", action.EntityID).Error("Control action failed")
		utils.SendError(c, http.StatusBadGateway, "Adapter error: "+err.Error())
		return
	}

	if !result.Success {
		status := http.StatusBadRequest
		if result.Error != nil && result.Error.Code == "unknown_entity" {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"success": false, "data": result})
		return
	}

	utils.SendSuccess(c, result)
}

// GetAdapters reports the registered adapters and their health.
// GET /api/adapters
func (h *Handlers) GetAdapters(c *gin.Context) {
	type adapterInfo struct {
		ID        string `json:"id"`
		Source    string `json:"source"`
		Connected bool   `json:"connected"`
		Entities  int    `json:"entities"`
	}

	var out []adapterInfo
	for _, a := range h.entities.Adapters() {
		out = append(out, adapterInfo{
			ID:        a.GetID(),
			Source:    string(a.GetSourceType()),
			Connected: a.IsConnected(),
			Entities:  len(h.entities.BySource(a.GetSourceType())),
		})
	}
	utils.SendSuccess(c, out)
}
