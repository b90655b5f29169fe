package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearth-home/hearth-backend-go/internal/zigbee"
	"github.com/hearth-home/hearth-backend-go/pkg/utils"
)

type zigbeeDeviceView struct {
	IEEE         string    `json:"ieee"`
	NWK          uint16    `json:"nwk"`
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	Available    bool      `json:"available"`
	LastSeen     time.Time `json:"last_seen"`
	Endpoints    []int     `json:"endpoints"`
}

func deviceView(d *zigbee.Device) zigbeeDeviceView {
	view := zigbeeDeviceView{
		IEEE:         d.IEEE,
		NWK:          d.NWK,
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
		Available:    d.Available(),
		LastSeen:     d.LastSeen(),
	}
	for _, pool := range d.Pools() {
		view.Endpoints = append(view.Endpoints, int(pool.EndpointID))
	}
	return view
}

// GetZigbeeDevices lists the paired devices.
// GET /api/zigbee/devices
func (h *Handlers) GetZigbeeDevices(c *gin.Context) {
	if h.zigbee == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Zigbee is not enabled")
		return
	}
	views := []zigbeeDeviceView{}
	for _, d := range h.zigbee.Devices() {
		views = append(views, deviceView(d))
	}
	utils.SendSuccess(c, views)
}

// GetZigbeeDevice returns one paired device by IEEE address.
// GET /api/zigbee/devices/:ieee
func (h *Handlers) GetZigbeeDevice(c *gin.Context) {
	if h.zigbee == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Zigbee is not enabled")
		return
	}
	device, ok := h.zigbee.GetDevice(c.Param("ieee"))
	if !ok {
		utils.SendError(c, http.StatusNotFound, "Device not found")
		return
	}
	utils.SendSuccess(c, deviceView(device))
}

// RemoveZigbeeDevice unpairs a device from the network.
// DELETE /api/zigbee/devices/:ieee
func (h *Handlers) RemoveZigbeeDevice(c *gin.Context) {
	if h.zigbee == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Zigbee is not enabled")
		return
	}
	if err := h.zigbee.RemoveDevice(c.Request.Context(), c.Param("ieee")); err != nil {
		utils.SendError(c, http.StatusNotFound, err.Error())
		return
	}
	utils.SendSuccess(c, gin.H{"removed": c.Param("ieee")})
}

// PermitJoin opens the network for new devices.
// POST /api/zigbee/permit_join?duration=60
func (h *Handlers) PermitJoin(c *gin.Context) {
	if h.zigbee == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Zigbee is not enabled")
		return
	}
	seconds := 60
	if raw := c.Query("duration"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > 254 {
			utils.SendError(c, http.StatusBadRequest, "Duration must be 0-254 seconds")
			return
		}
		seconds = parsed
	}
	if err := h.zigbee.PermitJoin(c.Request.Context(), time.Duration(seconds)*time.Second); err != nil {
		utils.SendError(c, http.StatusBadGateway, "Permit join failed: "+err.Error())
		return
	}
	utils.SendSuccess(c, gin.H{"permit_join": seconds})
}

// GetZigbeeGroups lists the multicast groups.
// GET /api/zigbee/groups
func (h *Handlers) GetZigbeeGroups(c *gin.Context) {
	if h.zigbee == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Zigbee is not enabled")
		return
	}
	utils.SendSuccess(c, h.zigbee.Groups())
}

type groupRequest struct {
	Name    string               `json:"name"`
	Members []zigbee.GroupMember `json:"members"`
}

// CreateZigbeeGroup creates a group with the given members.
// POST /api/zigbee/groups
func (h *Handlers) CreateZigbeeGroup(c *gin.Context) {
	if h.zigbee == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Zigbee is not enabled")
		return
	}
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid group payload: "+err.Error())
		return
	}
	if req.Name == "" {
		utils.SendError(c, http.StatusBadRequest, "Group name is required")
		return
	}
	group, err := h.zigbee.CreateGroup(c.Request.Context(), req.Name, req.Members)
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to create group: "+err.Error())
		return
	}
	utils.SendCreated(c, group)
}

// DeleteZigbeeGroup removes a group.
// DELETE /api/zigbee/groups/:id
func (h *Handlers) DeleteZigbeeGroup(c *gin.Context) {
	if h.zigbee == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Zigbee is not enabled")
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 16)
	if err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid group ID")
		return
	}
	if err := h.zigbee.RemoveGroup(c.Request.Context(), uint16(id)); err != nil {
		utils.SendError(c, http.StatusNotFound, err.Error())
		return
	}
	utils.SendSuccess(c, gin.H{"removed": id})
}

// UpdateZigbeeGroupMembers adds or removes members on a group.
// POST /api/zigbee/groups/:id/members  body: {"add": [...], "remove": [...]}
func (h *Handlers) UpdateZigbeeGroupMembers(c *gin.Context) {
	if h.zigbee == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Zigbee is not enabled")
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 16)
	if err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid group ID")
		return
	}
	var req struct {
		Add    []zigbee.GroupMember `json:"add"`
		Remove []zigbee.GroupMember `json:"remove"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid members payload: "+err.Error())
		return
	}
	if len(req.Add) > 0 {
		if err := h.zigbee.AddGroupMembers(c.Request.Context(), uint16(id), req.Add); err != nil {
			utils.SendError(c, http.StatusNotFound, err.Error())
			return
		}
	}
	if len(req.Remove) > 0 {
		if err := h.zigbee.RemoveGroupMembers(c.Request.Context(), uint16(id), req.Remove); err != nil {
			utils.SendError(c, http.StatusNotFound, err.Error())
			return
		}
	}
	utils.SendSuccess(c, gin.H{"group_id": id})
}

type bindRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// BindZigbeeDevices binds matching clusters between two devices.
// POST /api/zigbee/bind
func (h *Handlers) BindZigbeeDevices(c *gin.Context) {
	h.bindOrUnbind(c, true)
}

// UnbindZigbeeDevices removes bindings between two devices.
// POST /api/zigbee/unbind
func (h *Handlers) UnbindZigbeeDevices(c *gin.Context) {
	h.bindOrUnbind(c, false)
}

func (h *Handlers) bindOrUnbind(c *gin.Context, bind bool) {
	if h.zigbee == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Zigbee is not enabled")
		return
	}
	var req bindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid bind payload: "+err.Error())
		return
	}
	if req.Source == "" || req.Target == "" {
		utils.SendError(c, http.StatusBadRequest, "Source and target IEEE addresses are required")
		return
	}

	var errs []error
	if bind {
		errs = h.zigbee.BindDevices(c.Request.Context(), req.Source, req.Target)
	} else {
		errs = h.zigbee.UnbindDevices(c.Request.Context(), req.Source, req.Target)
	}

	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Error())
	}
	utils.SendSuccess(c, gin.H{
		"source": req.Source,
		"target": req.Target,
		"errors": messages,
	})
}
