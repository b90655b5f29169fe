// Package zha maps the Zigbee gateway's devices onto the unified
// entity model. Unlike the polling adapters it is event driven:
// channel listeners push attribute reports into a state cache and
// SyncEntities renders the cache.
package zha

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/core/types"
	"github.com/hearth-home/hearth-backend-go/internal/zigbee"
)

// OnOff cluster command IDs.
const (
	cmdOff    uint8 = 0x00
	cmdOn     uint8 = 0x01
	cmdToggle uint8 = 0x02
)

// target resolves an entity ID back to its radio address.
type target struct {
	ieee     string
	endpoint uint8
	cluster  uint16
}

// Adapter bridges the gateway to the entity service.
type Adapter struct {
	gateway *zigbee.Gateway
	log     *logrus.Logger

	mu        sync.RWMutex
	states    map[string]interface{} // entity id -> latest attribute value
	units     map[string]string      // entity id -> unit from the cluster
	targets   map[string]target
	hooked    map[*zigbee.Device]bool
	connected bool
	startTime time.Time
	lastSync  *time.Time
	metrics   types.AdapterMetrics
}

func NewAdapter(gateway *zigbee.Gateway, log *logrus.Logger) *Adapter {
	a := &Adapter{
		gateway:   gateway,
		log:       log,
		states:    make(map[string]interface{}),
		units:     make(map[string]string),
		targets:   make(map[string]target),
		hooked:    make(map[*zigbee.Device]bool),
		startTime: time.Now(),
	}
	gateway.OnDeviceChange(func(device *zigbee.Device, joined bool) {
		if joined {
			a.hookDevice(device)
		}
	})
	return a
}

func (a *Adapter) GetID() string               { return "zha" }
func (a *Adapter) GetSourceType() types.Source { return types.SourceZigbee }
func (a *Adapter) GetName() string             { return "Zigbee" }
func (a *Adapter) GetVersion() string          { return "1.0.0" }

// Connect hooks listeners onto every device the gateway already knows.
// Later joins arrive through the device-change listener.
func (a *Adapter) Connect(ctx context.Context) error {
	for _, device := range a.gateway.Devices() {
		a.hookDevice(device)
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
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
		types.EntityTypeSensor,
		types.EntityTypeBinarySensor,
	}
}

func (a *Adapter) SupportsRealtime() bool { return true }

func (a *Adapter) GetHealth() *types.AdapterHealth {
	devices := a.gateway.Devices()
	unavailable := 0
	for _, d := range devices {
		if !d.Available() {
			unavailable++
		}
	}
	health := &types.AdapterHealth{
		IsHealthy:       a.IsConnected(),
		LastHealthCheck: time.Now(),
	}
	if unavailable > 0 {
		health.Issues = append(health.Issues,
			fmt.Sprintf("%d of %d devices unavailable", unavailable, len(devices)))
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

// hookDevice attaches an attribute listener to every cluster channel
// we render as an entity. Keyed by device pointer so a rejoined device
// (a fresh Device) is hooked again.
func (a *Adapter) hookDevice(device *zigbee.Device) {
	a.mu.Lock()
	if a.hooked[device] {
		a.mu.Unlock()
		return
	}
	a.hooked[device] = true
	a.mu.Unlock()

	for _, pool := range device.Pools() {
		for clusterID, channel := range pool.Channels {
			entityID, ok := entityIDFor(device.IEEE, pool.EndpointID, clusterID)
			if !ok {
				continue
			}
			a.mu.Lock()
			a.targets[entityID] = target{ieee: device.IEEE, endpoint: pool.EndpointID, cluster: clusterID}
			if metering, isMetering := channel.(*zigbee.MeteringChannel); isMetering {
				a.units[entityID] = metering.Unit()
			}
			a.mu.Unlock()

			a.gateway.RegisterEntityRef(device.IEEE, zigbee.EntityReference{
				EntityID: entityID,
				Endpoint: pool.EndpointID,
				Cluster:  clusterID,
			})

			id := entityID
			channel.AddListener(func(attr uint16, value interface{}) {
				a.handleReport(id, attr, value)
			})
		}
	}
}

// handleReport stores the primary attribute of the entity's cluster.
func (a *Adapter) handleReport(entityID string, attr uint16, value interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tgt := a.targets[entityID]
	if attr != primaryAttribute(tgt.cluster) {
		return
	}
	a.states[entityID] = value
}

// entityIDFor decides whether a cluster becomes an entity and names it.
func entityIDFor(ieee string, endpoint uint8, cluster uint16) (string, bool) {
	base := fmt.Sprintf("%s_%d", sanitizeIEEE(ieee), endpoint)
	switch cluster {
	case zigbee.ClusterOnOff:
		return "switch.zb_" + base, true
	case zigbee.ClusterTemperature:
		return "sensor.zb_" + base + "_temperature", true
	case zigbee.ClusterHumidity:
		return "sensor.zb_" + base + "_humidity", true
	case zigbee.ClusterOccupancy:
		return "binary_sensor.zb_" + base + "_occupancy", true
	case zigbee.ClusterMetering:
		return "sensor.zb_" + base + "_power", true
	case zigbee.ClusterPowerConfig:
		return "sensor.zb_" + base + "_battery", true
	default:
		return "", false
	}
}

// primaryAttribute is the measured-value attribute of each rendered
// cluster.
func primaryAttribute(cluster uint16) uint16 {
	switch cluster {
	case zigbee.ClusterMetering:
		return zigbee.AttrMeteringInstantDemand
	case zigbee.ClusterPowerConfig:
		return 0x0021 // battery percentage remaining
	default:
		return 0x0000
	}
}

func sanitizeIEEE(ieee string) string {
	return strings.ToLower(strings.ReplaceAll(ieee, ":", ""))
}

// SyncEntities renders the current device set and state cache.
func (a *Adapter) SyncEntities(ctx context.Context) ([]*types.Entity, error) {
	var entities []*types.Entity
	for _, device := range a.gateway.Devices() {
		available := device.Available()
		for _, pool := range device.Pools() {
			for clusterID := range pool.Channels {
				entityID, ok := entityIDFor(device.IEEE, pool.EndpointID, clusterID)
				if !ok {
					continue
				}
				entities = append(entities, a.buildEntity(device, entityID, pool.EndpointID, clusterID, available))
			}
		}
	}

	now := time.Now()
	a.mu.Lock()
	a.lastSync = &now
	a.metrics.EntitiesManaged = len(entities)
	a.mu.Unlock()
	return entities, nil
}

func (a *Adapter) buildEntity(device *zigbee.Device, entityID string, endpoint uint8, cluster uint16, available bool) *types.Entity {
	a.mu.RLock()
	raw, seen := a.states[entityID]
	unit := a.units[entityID]
	a.mu.RUnlock()

	entity := &types.Entity{
		ID:         entityID,
		Available:  available,
		State:      types.StateUnknown,
		Attributes: map[string]interface{}{},
		Metadata: &types.Metadata{
			Source:         types.SourceZigbee,
			SourceEntityID: fmt.Sprintf("%s:%d:%d", device.IEEE, endpoint, cluster),
			LastSynced:     time.Now(),
		},
	}
	name := device.Model
	if name == "" {
		name = device.IEEE
	}

	switch cluster {
	case zigbee.ClusterOnOff:
		entity.Type = types.EntityTypeSwitch
		entity.FriendlyName = name
		if seen {
			if on, ok := toBool(raw); ok {
				entity.State = types.StateOff
				if on {
					entity.State = types.StateOn
				}
			}
		}
	case zigbee.ClusterTemperature:
		entity.Type = types.EntityTypeSensor
		entity.FriendlyName = name + " Temperature"
		entity.Unit = "°C"
		entity.Capabilities = []types.Capability{types.CapabilityTemperature}
		a.scaledSensor(entity, raw, seen, 100)
	case zigbee.ClusterHumidity:
		entity.Type = types.EntityTypeSensor
		entity.FriendlyName = name + " Humidity"
		entity.Unit = "%"
		entity.Capabilities = []types.Capability{types.CapabilityHumidity}
		a.scaledSensor(entity, raw, seen, 100)
	case zigbee.ClusterOccupancy:
		entity.Type = types.EntityTypeBinarySensor
		entity.FriendlyName = name + " Occupancy"
		entity.Capabilities = []types.Capability{types.CapabilityMotion}
		if seen {
			if occupied, ok := toBool(raw); ok {
				entity.State = types.StateOff
				if occupied {
					entity.State = types.StateOn
				}
			}
		}
	case zigbee.ClusterMetering:
		entity.Type = types.EntityTypeSensor
		entity.FriendlyName = name + " Power"
		entity.Unit = unit
		entity.Capabilities = []types.Capability{types.CapabilityPower}
		if seen {
			if v, ok := raw.(float64); ok {
				entity.State = types.StateActive
				entity.Attributes["value"] = v
			}
		}
	case zigbee.ClusterPowerConfig:
		entity.Type = types.EntityTypeSensor
		entity.FriendlyName = name + " Battery"
		entity.Unit = "%"
		// 0x0021 reports half-percent units.
		a.scaledSensor(entity, raw, seen, 2)
	}

	if !available {
		entity.State = types.StateUnavailable
	}
	return entity
}

func (a *Adapter) scaledSensor(entity *types.Entity, raw interface{}, seen bool, divisor float64) {
	if !seen {
		return
	}
	if v, ok := toFloat(raw); ok {
		entity.State = types.StateActive
		entity.Attributes["value"] = v / divisor
	}
}

// ExecuteAction sends OnOff commands to switch entities.
func (a *Adapter) ExecuteAction(ctx context.Context, action types.ControlAction) (*types.ControlResult, error) {
	start := time.Now()
	a.mu.Lock()
	a.metrics.ActionsExecuted++
	tgt, known := a.targets[action.EntityID]
	a.mu.Unlock()

	if !known {
		return a.failResult(action, start, "unknown_entity", fmt.Sprintf("no zigbee entity %s", action.EntityID)), nil
	}
	if tgt.cluster != zigbee.ClusterOnOff {
		return a.failResult(action, start, "unsupported_action", fmt.Sprintf("entity %s is not controllable", action.EntityID)), nil
	}

	var command uint8
	var newState types.EntityState
	switch action.Action {
	case "turn_on":
		command, newState = cmdOn, types.StateOn
	case "turn_off":
		command, newState = cmdOff, types.StateOff
	case "toggle":
		command, newState = cmdToggle, types.StateUnknown
	default:
		return a.failResult(action, start, "unsupported_action", fmt.Sprintf("action %s not supported", action.Action)), nil
	}

	if err := a.gateway.SendCommand(ctx, tgt.ieee, tgt.endpoint, tgt.cluster, command); err != nil {
		a.mu.Lock()
		a.metrics.FailedActions++
		a.mu.Unlock()
		return nil, fmt.Errorf("zigbee command failed for %s: %w", action.EntityID, err)
	}

	a.mu.Lock()
	a.metrics.SuccessfulActions++
	if newState == types.StateOn || newState == types.StateOff {
		a.states[action.EntityID] = newState == types.StateOn
	}
	a.mu.Unlock()

	return &types.ControlResult{
		Success:     true,
		EntityID:    action.EntityID,
		Action:      action.Action,
		NewState:    newState,
		ProcessedAt: time.Now(),
		Duration:    time.Since(start),
	}, nil
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
			Source:    "zha",
			EntityID:  action.EntityID,
			Timestamp: time.Now(),
		},
		ProcessedAt: time.Now(),
		Duration:    time.Since(start),
	}
}

func toBool(v interface{}) (bool, bool) {
	switch n := v.(type) {
	case bool:
		return n, true
	case uint8:
		return n&0x01 != 0, true
	case int:
		return n&0x01 != 0, true
	case uint16:
		return n&0x01 != 0, true
	default:
		return false, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}
