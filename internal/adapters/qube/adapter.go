package qube

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/core/coordinator"
	"github.com/hearth-home/hearth-backend-go/internal/core/types"
)

// Heat pump register map. Temperatures are scaled by 0.1 °C, energy by
// 0.1 kWh.
const (
	regOutsideTemp  uint16 = 1000
	regFlowTemp     uint16 = 1001
	regReturnTemp   uint16 = 1002
	regCompressor   uint16 = 1010
	regWorkingHours uint16 = 2000
	regEnergyTotal  uint16 = 2002
)

// Data is one coordinator snapshot of the heat pump.
type Data struct {
	OutsideTemp  float64
	FlowTemp     float64
	ReturnTemp   float64
	CompressorOn bool
	WorkingHours float64
	EnergyTotal  float64
	SGReady      SGReadyMode
}

// Adapter exposes a Qube heat pump over the unified entity model.
type Adapter struct {
	hub     *Hub
	sgready *SGReadySelect
	coord   *coordinator.Coordinator
	guard   *coordinator.MonotonicGuard
	log     *logrus.Logger

	mu        sync.RWMutex
	connected bool
	startTime time.Time
	lastSync  *time.Time
	metrics   types.AdapterMetrics
}

// NewAdapter creates the adapter; polling starts with Connect.
func NewAdapter(hub *Hub, pollInterval time.Duration, log *logrus.Logger) *Adapter {
	a := &Adapter{
		hub:       hub,
		sgready:   NewSGReadySelect(hub),
		guard:     coordinator.NewMonotonicGuard(),
		log:       log,
		startTime: time.Now(),
	}
	a.coord = coordinator.New("qube", pollInterval, a.fetch, log)
	return a
}

// Coordinator exposes the polling coordinator for entity listeners.
func (a *Adapter) Coordinator() *coordinator.Coordinator { return a.coord }

func (a *Adapter) GetID() string               { return "qube_heatpump" }
func (a *Adapter) GetSourceType() types.Source { return types.SourceQube }
func (a *Adapter) GetName() string             { return "Qube Heat Pump" }
func (a *Adapter) GetVersion() string          { return "1.0.0" }

func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.hub.Connect(); err != nil {
		return err
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
	return a.hub.Close()
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
		types.EntityTypeSensor,
		types.EntityTypeBinarySensor,
		types.EntityTypeSelect,
	}
}

func (a *Adapter) SupportsRealtime() bool { return false }

func (a *Adapter) GetHealth() *types.AdapterHealth {
	return &types.AdapterHealth{
		IsHealthy:       a.IsConnected() && a.coord.LastError() == nil,
		LastHealthCheck: time.Now(),
	}
}

func (a *Adapter) GetMetrics() *types.AdapterMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m := a.metrics
	m.Uptime = time.Since(a.startTime)
	m.LastSync = a.lastSync
	return &m
}

// fetch reads one full register snapshot. Total-increasing values run
// through the monotonic guard so a glitched read never moves a counter
// backward.
func (a *Adapter) fetch(ctx context.Context) (interface{}, error) {
	if err := a.hub.Connect(); err != nil {
		return nil, err
	}

	data := &Data{}

	raw, err := a.hub.ReadHolding(regOutsideTemp)
	if err != nil {
		return nil, err
	}
	data.OutsideTemp = scaleTemp(raw)

	if raw, err = a.hub.ReadHolding(regFlowTemp); err != nil {
		return nil, err
	}
	data.FlowTemp = scaleTemp(raw)

	if raw, err = a.hub.ReadHolding(regReturnTemp); err != nil {
		return nil, err
	}
	data.ReturnTemp = scaleTemp(raw)

	if raw, err = a.hub.ReadHolding(regCompressor); err != nil {
		return nil, err
	}
	data.CompressorOn = raw != 0

	hours, err := a.hub.ReadHoldingUint32(regWorkingHours)
	if err != nil {
		return nil, err
	}
	data.WorkingHours = a.guard.Apply("working_hours", float64(hours))

	energy, err := a.hub.ReadHoldingUint32(regEnergyTotal)
	if err != nil {
		return nil, err
	}
	data.EnergyTotal = a.guard.Apply("energy_total", float64(energy)*0.1)

	mode, err := a.sgready.Mode()
	if err != nil {
		return nil, err
	}
	data.SGReady = mode

	now := time.Now()
	a.mu.Lock()
	a.lastSync = &now
	a.mu.Unlock()

	return data, nil
}

// scaleTemp converts a signed 0.1 °C register.
func scaleTemp(raw uint16) float64 {
	return float64(int16(raw)) / 10.0
}

// SyncEntities maps the latest snapshot to entities.
func (a *Adapter) SyncEntities(ctx context.Context) ([]*types.Entity, error) {
	raw, ok := a.coord.Data()
	if !ok {
		a.coord.Refresh(ctx)
		raw, ok = a.coord.Data()
		if !ok {
			return nil, fmt.Errorf("no heat pump data: %w", a.coord.LastError())
		}
	}
	data := raw.(*Data)

	entities := []*types.Entity{
		a.sensor("qube_outside_temperature", "Outside Temperature", data.OutsideTemp, "°C", types.CapabilityTemperature),
		a.sensor("qube_flow_temperature", "Flow Temperature", data.FlowTemp, "°C", types.CapabilityTemperature),
		a.sensor("qube_return_temperature", "Return Temperature", data.ReturnTemp, "°C", types.CapabilityTemperature),
		a.sensor("qube_working_hours", "Working Hours", data.WorkingHours, "h"),
		a.sensor("qube_energy_total", "Total Energy", data.EnergyTotal, "kWh", types.CapabilityEnergy),
	}

	compressor := &types.Entity{
		ID:           "binary_sensor.qube_compressor",
		Type:         types.EntityTypeBinarySensor,
		FriendlyName: "Compressor",
		State:        types.StateOff,
		Available:    true,
		Attributes:   map[string]interface{}{},
		Metadata:     a.metadata("compressor"),
	}
	if data.CompressorOn {
		compressor.State = types.StateOn
	}
	entities = append(entities, compressor)

	options := make([]interface{}, 0, len(SGReadyModes))
	for _, m := range SGReadyModes {
		options = append(options, string(m))
	}
	entities = append(entities, &types.Entity{
		ID:           "select.qube_sg_ready",
		Type:         types.EntityTypeSelect,
		FriendlyName: "SG-Ready Mode",
		State:        types.EntityState(data.SGReady),
		Available:    true,
		Attributes:   map[string]interface{}{"options": options},
		Metadata:     a.metadata("sg_ready"),
	})

	a.mu.Lock()
	a.metrics.EntitiesManaged = len(entities)
	a.mu.Unlock()
	return entities, nil
}

func (a *Adapter) sensor(id, name string, value float64, unit string, caps ...types.Capability) *types.Entity {
	return &types.Entity{
		ID:           "sensor." + id,
		Type:         types.EntityTypeSensor,
		FriendlyName: name,
		State:        types.StateActive,
		Unit:         unit,
		Available:    true,
		Capabilities: caps,
		Attributes:   map[string]interface{}{"value": value, "unit": unit},
		Metadata:     a.metadata(id),
	}
}

func (a *Adapter) metadata(sourceID string) *types.Metadata {
	return &types.Metadata{
		Source:         types.SourceQube,
		SourceEntityID: sourceID,
		LastSynced:     time.Now(),
	}
}

// ExecuteAction handles select_option on the SG-Ready entity.
func (a *Adapter) ExecuteAction(ctx context.Context, action types.ControlAction) (*types.ControlResult, error) {
	start := time.Now()
	a.mu.Lock()
	a.metrics.ActionsExecuted++
	a.mu.Unlock()

	fail := func(code, msg string) (*types.ControlResult, error) {
		a.mu.Lock()
		a.metrics.FailedActions++
		a.mu.Unlock()
		return &types.ControlResult{
			Success:     false,
			EntityID:    action.EntityID,
			Action:      action.Action,
			Error:       &types.ControlError{Code: code, Message: msg, Source: "qube", EntityID: action.EntityID, Timestamp: time.Now()},
			ProcessedAt: time.Now(),
			Duration:    time.Since(start),
		}, nil
	}

	if action.EntityID != "select.qube_sg_ready" || action.Action != "select_option" {
		return fail("unsupported_action", fmt.Sprintf("action %s not supported for %s", action.Action, action.EntityID))
	}

	option, _ := action.Parameters["option"].(string)
	mode := SGReadyMode(option)
	if _, ok := sgReadyRelays[mode]; !ok {
		return fail("invalid_option", fmt.Sprintf("unknown sg-ready mode: %s", option))
	}

	if err := a.sgready.SetMode(mode); err != nil {
		a.mu.Lock()
		a.metrics.FailedActions++
		a.mu.Unlock()
		return nil, err
	}

	a.mu.Lock()
	a.metrics.SuccessfulActions++
	a.mu.Unlock()
	return &types.ControlResult{
		Success:     true,
		EntityID:    action.EntityID,
		Action:      action.Action,
		NewState:    types.EntityState(mode),
		ProcessedAt: time.Now(),
		Duration:    time.Since(start),
	}, nil
}
