package shelly

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/core/coordinator"
	"github.com/hearth-home/hearth-backend-go/internal/core/types"
)

// boundDevice pairs a discovered device with its RPC client.
type boundDevice struct {
	device *Device
	client *Client
}

// snapshot is one coordinator cycle over every bound device.
type snapshot struct {
	statuses map[string]*Status // device id -> status
}

// Adapter maps Shelly devices onto the unified entity model.
type Adapter struct {
	log          *logrus.Logger
	coord        *coordinator.Coordinator
	discovery    bool
	staticHosts  []string
	password     string
	pollInterval time.Duration

	mu        sync.RWMutex
	devices   map[string]*boundDevice
	lastKnown map[string]*Status
	connected bool
	startTime time.Time
	lastSync  *time.Time
	metrics   types.AdapterMetrics
}

// Config carries the adapter settings from the main config file.
type Config struct {
	Enabled          bool     `mapstructure:"enabled"`
	DiscoveryEnabled bool     `mapstructure:"discovery_enabled"`
	Hosts            []string `mapstructure:"hosts"`
	Password         string   `mapstructure:"password"`
	PollInterval     int      `mapstructure:"poll_interval"`
}

// NewAdapter builds the adapter; devices attach during Connect.
func NewAdapter(cfg Config, log *logrus.Logger) *Adapter {
	interval := time.Duration(cfg.PollInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	a := &Adapter{
		log:          log,
		discovery:    cfg.DiscoveryEnabled,
		staticHosts:  cfg.Hosts,
		password:     cfg.Password,
		pollInterval: interval,
		devices:      make(map[string]*boundDevice),
		lastKnown:    make(map[string]*Status),
		startTime:    time.Now(),
	}
	a.coord = coordinator.New("shelly", interval, a.fetch, log)
	return a
}

// Coordinator exposes the polling coordinator for entity listeners.
func (a *Adapter) Coordinator() *coordinator.Coordinator { return a.coord }

func (a *Adapter) GetID() string               { return "shelly" }
func (a *Adapter) GetSourceType() types.Source { return types.SourceShelly }
func (a *Adapter) GetName() string             { return "Shelly" }
func (a *Adapter) GetVersion() string          { return "1.0.0" }

// Connect discovers devices, binds clients, and starts polling.
func (a *Adapter) Connect(ctx context.Context) error {
	for _, host := range a.staticHosts {
		client := NewClient(host, a.password, a.log)
		info, err := client.GetDeviceInfo(ctx)
		if err != nil {
			a.log.WithError(err).WithField("host", host).Warn("shelly device unreachable, skipping")
			continue
		}
		info.IP = host
		a.addDevice(info, client)
	}

	if a.discovery {
		found, err := Discover(ctx, a.log)
		if err != nil {
			a.log.WithError(err).Warn("shelly discovery failed")
		}
		for _, dev := range found {
			addr := fmt.Sprintf("%s:%d", dev.IP, dev.Port)
			client := NewClient(addr, a.password, a.log)
			if info, err := client.GetDeviceInfo(ctx); err == nil {
				info.IP = dev.IP
				info.Port = dev.Port
				dev = info
			}
			a.addDevice(dev, client)
		}
	}

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	a.coord.Start(ctx)
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.coord.Stop()
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}

// addDevice registers a device, keeping the earlier binding when the
// same id shows up twice (static host + discovery).
func (a *Adapter) addDevice(dev *Device, client *Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.devices[dev.ID]; exists {
		return
	}
	a.devices[dev.ID] = &boundDevice{device: dev, client: client}
	a.log.WithFields(logrus.Fields{
		"device": dev.ID,
		"model":  dev.Model,
		"ip":     dev.IP,
	}).Info("shelly device registered")
}

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *Adapter) GetStatus() string {
	if a.IsConnected() {
		return "connected"
	}
	return "disconnected"
}

func (a *Adapter) GetLastSyncTime() *time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastSync
}

func (a *Adapter) GetSupportedEntityTypes() []types.EntityType {
	return []types.EntityType{
		types.EntityTypeSwitch,
		types.EntityTypeCover,
		types.EntityTypeSensor,
	}
}

func (a *Adapter) SupportsRealtime() bool { return false }

func (a *Adapter) GetHealth() *types.AdapterHealth {
	health := &types.AdapterHealth{
		IsHealthy:       a.IsConnected(),
		LastHealthCheck: time.Now(),
	}
	if err := a.coord.LastError(); err != nil {
		health.IsHealthy = false
		health.Issues = append(health.Issues, err.Error())
	}
	return health
}

func (a *Adapter) GetMetrics() *types.AdapterMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m := a.metrics
	m.Uptime = time.Since(a.startTime)
	m.LastSync = a.lastSync
	return &m
}

// fetch polls every bound device. Individual device failures drop that
// device from the snapshot (its entities go unavailable) without
// failing the whole cycle; the cycle fails only when no device
// answered.
func (a *Adapter) fetch(ctx context.Context) (interface{}, error) {
	a.mu.RLock()
	bound := make(map[string]*boundDevice, len(a.devices))
	for id, b := range a.devices {
		bound[id] = b
	}
	a.mu.RUnlock()

	snap := &snapshot{statuses: make(map[string]*Status)}
	var failures int
	for id, b := range bound {
		status, err := b.client.GetStatus(ctx)
		if err != nil {
			a.log.WithError(err).WithField("device", id).Warn("shelly status poll failed")
			failures++
			continue
		}
		snap.statuses[id] = status
	}
	if len(bound) > 0 && failures == len(bound) {
		return nil, fmt.Errorf("all %d shelly devices unreachable", failures)
	}

	now := time.Now()
	a.mu.Lock()
	for id, status := range snap.statuses {
		a.lastKnown[id] = status
	}
	a.lastSync = &now
	a.mu.Unlock()
	return snap, nil
}

// coverEntityState maps a Gen2 cover state string. Transitional states
// are preserved so the UI can show movement.
func coverEntityState(state string) types.EntityState {
	switch state {
	case "open":
		return types.StateOpen
	case "closed":
		return types.StateClosed
	case "opening":
		return types.StateOpening
	case "closing":
		return types.StateClosing
	case "stopped", "calibrating":
		return types.StateOpen
	default:
		return types.StateUnknown
	}
}

// SyncEntities maps the latest snapshot to entities. Devices missing
// from the snapshot are reported unavailable.
func (a *Adapter) SyncEntities(ctx context.Context) ([]*types.Entity, error) {
	raw, ok := a.coord.Data()
	if !ok {
		a.coord.Refresh(ctx)
		raw, ok = a.coord.Data()
		if !ok {
			return nil, fmt.Errorf("no shelly data: %w", a.coord.LastError())
		}
	}
	snap := raw.(*snapshot)

	a.mu.RLock()
	ids := make([]string, 0, len(a.devices))
	for id := range a.devices {
		ids = append(ids, id)
	}
	a.mu.RUnlock()
	sort.Strings(ids)

	var entities []*types.Entity
	for _, devID := range ids {
		status, online := snap.statuses[devID]
		if !online {
			// Keep the last-known component layout so entities go
			// unavailable instead of vanishing.
			a.mu.RLock()
			status = a.lastKnown[devID]
			a.mu.RUnlock()
			if status == nil {
				continue
			}
		}
		for _, sw := range status.Switches {
			entities = append(entities, a.switchEntity(devID, sw, online)...)
		}
		for _, cv := range status.Covers {
			entities = append(entities, a.coverEntity(devID, cv, online))
		}
	}

	a.mu.Lock()
	a.metrics.EntitiesManaged = len(entities)
	a.mu.Unlock()
	return entities, nil
}

func (a *Adapter) switchEntity(devID string, sw SwitchStatus, online bool) []*types.Entity {
	state := types.StateOff
	if sw.Output {
		state = types.StateOn
	}
	entity := &types.Entity{
		ID:           fmt.Sprintf("switch.%s_%d", sanitizeID(devID), sw.ID),
		Type:         types.EntityTypeSwitch,
		FriendlyName: fmt.Sprintf("%s Switch %d", devID, sw.ID),
		State:        state,
		Available:    online,
		Attributes:   map[string]interface{}{},
		Metadata:     a.metadata(devID, sw.ID),
	}
	out := []*types.Entity{entity}

	if sw.APower != nil {
		entity.Capabilities = append(entity.Capabilities, types.CapabilityPower)
		entity.Attributes["power_w"] = *sw.APower
		out = append(out, &types.Entity{
			ID:           fmt.Sprintf("sensor.%s_%d_power", sanitizeID(devID), sw.ID),
			Type:         types.EntityTypeSensor,
			FriendlyName: fmt.Sprintf("%s Power", devID),
			State:        types.StateActive,
			Unit:         "W",
			Available:    online,
			Capabilities: []types.Capability{types.CapabilityPower},
			Attributes:   map[string]interface{}{"value": *sw.APower, "unit": "W"},
			Metadata:     a.metadata(devID, sw.ID),
		})
	}
	return out
}

func (a *Adapter) coverEntity(devID string, cv CoverStatus, online bool) *types.Entity {
	entity := &types.Entity{
		ID:           fmt.Sprintf("cover.%s_%d", sanitizeID(devID), cv.ID),
		Type:         types.EntityTypeCover,
		FriendlyName: fmt.Sprintf("%s Cover %d", devID, cv.ID),
		State:        coverEntityState(cv.State),
		Available:    online,
		Capabilities: []types.Capability{types.CapabilityPosition},
		Attributes:   map[string]interface{}{},
		Metadata:     a.metadata(devID, cv.ID),
	}
	if cv.CurrentPos != nil {
		entity.Attributes["current_position"] = *cv.CurrentPos
	}
	return entity
}

func (a *Adapter) metadata(devID string, component int) *types.Metadata {
	return &types.Metadata{
		Source:         types.SourceShelly,
		SourceEntityID: fmt.Sprintf("%s:%d", devID, component),
		LastSynced:     time.Now(),
	}
}

func sanitizeID(id string) string {
	return strings.ReplaceAll(strings.ToLower(id), "-", "_")
}

// ExecuteAction routes a control action to the owning device.
func (a *Adapter) ExecuteAction(ctx context.Context, action types.ControlAction) (*types.ControlResult, error) {
	start := time.Now()
	a.mu.Lock()
	a.metrics.ActionsExecuted++
	a.mu.Unlock()

	devID, component, err := a.resolveTarget(action.EntityID)
	if err != nil {
		return a.failResult(action, start, "unknown_entity", err.Error()), nil
	}

	a.mu.RLock()
	bound := a.devices[devID]
	a.mu.RUnlock()
	if bound == nil {
		return a.failResult(action, start, "unknown_device", fmt.Sprintf("no shelly device %s", devID)), nil
	}

	var newState types.EntityState
	switch action.Action {
	case "turn_on":
		err = bound.client.SetSwitch(ctx, component, true)
		newState = types.StateOn
	case "turn_off":
		err = bound.client.SetSwitch(ctx, component, false)
		newState = types.StateOff
	case "open_cover":
		err = bound.client.OpenCover(ctx, component)
		newState = types.StateOpening
	case "close_cover":
		err = bound.client.CloseCover(ctx, component)
		newState = types.StateClosing
	case "stop_cover":
		err = bound.client.StopCover(ctx, component)
		newState = types.StateOpen
	case "set_position":
		pos, ok := positionParam(action.Parameters)
		if !ok {
			return a.failResult(action, start, "invalid_parameters", "set_position requires a position 0-100"), nil
		}
		err = bound.client.SetCoverPosition(ctx, component, pos)
		if pos == 0 {
			newState = types.StateClosing
		} else {
			newState = types.StateOpening
		}
	default:
		return a.failResult(action, start, "unsupported_action", fmt.Sprintf("action %s not supported", action.Action)), nil
	}

	if err != nil {
		a.mu.Lock()
		a.metrics.FailedActions++
		a.mu.Unlock()
		return nil, fmt.Errorf("shelly action %s on %s failed: %w", action.Action, action.EntityID, err)
	}

	a.mu.Lock()
	a.metrics.SuccessfulActions++
	a.mu.Unlock()
	a.coord.Refresh(ctx)
	return &types.ControlResult{
		Success:     true,
		EntityID:    action.EntityID,
		Action:      action.Action,
		NewState:    newState,
		ProcessedAt: time.Now(),
		Duration:    time.Since(start),
	}, nil
}

// resolveTarget splits "switch.shellyplus1pm_abc_0" into device id and
// component index by matching registered devices.
func (a *Adapter) resolveTarget(entityID string) (string, int, error) {
	dot := strings.Index(entityID, ".")
	if dot < 0 {
		return "", 0, fmt.Errorf("malformed entity id: %s", entityID)
	}
	rest := entityID[dot+1:]
	rest = strings.TrimSuffix(rest, "_power")

	us := strings.LastIndex(rest, "_")
	if us < 0 {
		return "", 0, fmt.Errorf("malformed entity id: %s", entityID)
	}
	var component int
	if _, err := fmt.Sscanf(rest[us+1:], "%d", &component); err != nil {
		return "", 0, fmt.Errorf("malformed entity id: %s", entityID)
	}
	normalized := rest[:us]

	a.mu.RLock()
	defer a.mu.RUnlock()
	for id := range a.devices {
		if sanitizeID(id) == normalized {
			return id, component, nil
		}
	}
	return "", 0, fmt.Errorf("no shelly device for entity %s", entityID)
}

func positionParam(params map[string]interface{}) (int, bool) {
	raw, ok := params["position"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func (a *Adapter) failResult(action types.ControlAction, start time.Time, code, msg string) *types.ControlResult {
	a.mu.Lock()
	a.metrics.FailedActions++
	a.mu.Unlock()
	return &types.ControlResult{
		Success:  false,
		EntityID: action.EntityID,
		Action:   action.Action,
		Error: &types.ControlError{
			Code:      code,
			Message:   msg,
			Source:    "shelly",
			EntityID:  action.EntityID,
			Timestamp: time.Now(),
		},
		ProcessedAt: time.Now(),
		Duration:    time.Since(start),
	}
}
