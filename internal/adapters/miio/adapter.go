package miio

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/core/coordinator"
	"github.com/hearth-home/hearth-backend-go/internal/core/types"
)

// getProp order matters: the device answers positionally.
var pollProps = []string{"power", "mode", "temp_dec", "humidity", "aqi"}

var fanModes = []string{"auto", "silent", "favorite"}

// DeviceConfig is one configured miio device.
type DeviceConfig struct {
	Name  string `mapstructure:"name"`
	Host  string `mapstructure:"host"`
	Token string `mapstructure:"token"`
	Model string `mapstructure:"model"`
}

// Config carries the adapter settings from the main config file.
type Config struct {
	Enabled      bool           `mapstructure:"enabled"`
	PollInterval int            `mapstructure:"poll_interval"`
	Devices      []DeviceConfig `mapstructure:"devices"`
}

// DeviceState is the decoded get_prop answer for one device.
type DeviceState struct {
	PowerOn     bool
	Mode        string
	Temperature float64
	Humidity    float64
	AQI         float64
}

type boundDevice struct {
	cfg       DeviceConfig
	commander Commander
}

type snapshot struct {
	states map[string]*DeviceState // device name -> state
}

// Adapter maps Xiaomi miio devices onto the unified entity model.
type Adapter struct {
	log   *logrus.Logger
	coord *coordinator.Coordinator

	mu        sync.RWMutex
	devices   map[string]*boundDevice
	lastKnown map[string]*DeviceState
	connected bool
	startTime time.Time
	lastSync  *time.Time
	metrics   types.AdapterMetrics
}

// NewAdapter binds the configured devices. Unreachable devices stay
// bound; they surface as unavailable until a poll succeeds.
func NewAdapter(cfg Config, log *logrus.Logger) (*Adapter, error) {
	interval := time.Duration(cfg.PollInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	a := &Adapter{
		log:       log,
		devices:   make(map[string]*boundDevice),
		lastKnown: make(map[string]*DeviceState),
		startTime: time.Now(),
	}
	for _, dc := range cfg.Devices {
		client, err := NewClient(dc.Host, dc.Token, log)
		if err != nil {
			return nil, fmt.Errorf("miio device %s: %w", dc.Name, err)
		}
		a.devices[dc.Name] = &boundDevice{cfg: dc, commander: client}
	}
	a.coord = coordinator.New("miio", interval, a.fetch, log)
	return a, nil
}

// bind attaches a commander directly, for tests.
func (a *Adapter) bind(name string, cfg DeviceConfig, cmd Commander) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.devices[name] = &boundDevice{cfg: cfg, commander: cmd}
}

// Coordinator exposes the polling coordinator for entity listeners.
func (a *Adapter) Coordinator() *coordinator.Coordinator { return a.coord }

func (a *Adapter) GetID() string               { return "miio" }
func (a *Adapter) GetSourceType() types.Source { return types.SourceMiio }
func (a *Adapter) GetName() string             { return "Xiaomi Miio" }
func (a *Adapter) GetVersion() string          { return "1.0.0" }

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	a.coord.Start(ctx)
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.coord.Stop()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	for _, b := range a.devices {
		_ = b.commander.Close()
	}
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
		types.EntityTypeSelect,
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

// fetch polls every device with one get_prop call.
func (a *Adapter) fetch(ctx context.Context) (interface{}, error) {
	a.mu.RLock()
	bound := make(map[string]*boundDevice, len(a.devices))
	for name, b := range a.devices {
		bound[name] = b
	}
	a.mu.RUnlock()

	snap := &snapshot{states: make(map[string]*DeviceState)}
	var failures int
	for name, b := range bound {
		state, err := pollDevice(ctx, b.commander)
		if err != nil {
			a.log.WithError(err).WithField("device", name).Warn("miio poll failed")
			failures++
			continue
		}
		snap.states[name] = state
	}
	if len(bound) > 0 && failures == len(bound) {
		return nil, fmt.Errorf("all %d miio devices unreachable", failures)
	}

	now := time.Now()
	a.mu.Lock()
	for name, state := range snap.states {
		a.lastKnown[name] = state
	}
	a.lastSync = &now
	a.mu.Unlock()
	return snap, nil
}

// pollDevice issues get_prop and decodes the positional answer.
func pollDevice(ctx context.Context, cmd Commander) (*DeviceState, error) {
	raw, err := cmd.Send(ctx, "get_prop", pollProps)
	if err != nil {
		return nil, err
	}
	var values []interface{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("failed to decode get_prop result: %w", err)
	}
	if len(values) != len(pollProps) {
		return nil, fmt.Errorf("get_prop returned %d values, want %d", len(values), len(pollProps))
	}

	state := &DeviceState{}
	for i, prop := range pollProps {
		switch prop {
		case "power":
			s, _ := values[i].(string)
			state.PowerOn = s == "on"
		case "mode":
			state.Mode, _ = values[i].(string)
		case "temp_dec":
			if v, ok := values[i].(float64); ok {
				state.Temperature = v / 10.0
			}
		case "humidity":
			state.Humidity, _ = values[i].(float64)
		case "aqi":
			state.AQI, _ = values[i].(float64)
		}
	}
	return state, nil
}

// SyncEntities maps the latest snapshot to entities.
func (a *Adapter) SyncEntities(ctx context.Context) ([]*types.Entity, error) {
	raw, ok := a.coord.Data()
	if !ok {
		a.coord.Refresh(ctx)
		raw, ok = a.coord.Data()
		if !ok {
			return nil, fmt.Errorf("no miio data: %w", a.coord.LastError())
		}
	}
	snap := raw.(*snapshot)

	a.mu.RLock()
	names := make([]string, 0, len(a.devices))
	for name := range a.devices {
		names = append(names, name)
	}
	a.mu.RUnlock()
	sort.Strings(names)

	var entities []*types.Entity
	for _, name := range names {
		state, online := snap.states[name]
		if !online {
			a.mu.RLock()
			state = a.lastKnown[name]
			a.mu.RUnlock()
			if state == nil {
				state = &DeviceState{Mode: "unknown"}
			}
		}
		entities = append(entities, a.deviceEntities(name, state, online)...)
	}

	a.mu.Lock()
	a.metrics.EntitiesManaged = len(entities)
	a.mu.Unlock()
	return entities, nil
}

func (a *Adapter) deviceEntities(name string, state *DeviceState, online bool) []*types.Entity {
	slug := sanitizeName(name)
	powerState := types.StateOff
	if state.PowerOn {
		powerState = types.StateOn
	}

	options := make([]interface{}, 0, len(fanModes))
	for _, m := range fanModes {
		options = append(options, m)
	}

	return []*types.Entity{
		{
			ID:           fmt.Sprintf("switch.%s_power", slug),
			Type:         types.EntityTypeSwitch,
			FriendlyName: name + " Power",
			State:        powerState,
			Available:    online,
			Attributes:   map[string]interface{}{},
			Metadata:     a.metadata(name),
		},
		{
			ID:           fmt.Sprintf("select.%s_mode", slug),
			Type:         types.EntityTypeSelect,
			FriendlyName: name + " Mode",
			State:        types.EntityState(state.Mode),
			Available:    online,
			Attributes:   map[string]interface{}{"options": options},
			Metadata:     a.metadata(name),
		},
		{
			ID:           fmt.Sprintf("sensor.%s_temperature", slug),
			Type:         types.EntityTypeSensor,
			FriendlyName: name + " Temperature",
			State:        types.StateActive,
			Unit:         "°C",
			Available:    online,
			Capabilities: []types.Capability{types.CapabilityTemperature},
			Attributes:   map[string]interface{}{"value": state.Temperature, "unit": "°C"},
			Metadata:     a.metadata(name),
		},
		{
			ID:           fmt.Sprintf("sensor.%s_humidity", slug),
			Type:         types.EntityTypeSensor,
			FriendlyName: name + " Humidity",
			State:        types.StateActive,
			Unit:         "%",
			Available:    online,
			Capabilities: []types.Capability{types.CapabilityHumidity},
			Attributes:   map[string]interface{}{"value": state.Humidity, "unit": "%"},
			Metadata:     a.metadata(name),
		},
		{
			ID:           fmt.Sprintf("sensor.%s_aqi", slug),
			Type:         types.EntityTypeSensor,
			FriendlyName: name + " Air Quality",
			State:        types.StateActive,
			Unit:         "µg/m³",
			Available:    online,
			Attributes:   map[string]interface{}{"value": state.AQI, "unit": "µg/m³"},
			Metadata:     a.metadata(name),
		},
	}
}

func (a *Adapter) metadata(name string) *types.Metadata {
	return &types.Metadata{
		Source:         types.SourceMiio,
		SourceEntityID: name,
		LastSynced:     time.Now(),
	}
}

func sanitizeName(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "_")
	slug = strings.ReplaceAll(slug, "-", "_")
	return slug
}

// ExecuteAction routes power and mode commands to the owning device.
func (a *Adapter) ExecuteAction(ctx context.Context, action types.ControlAction) (*types.ControlResult, error) {
	start := time.Now()
	a.mu.Lock()
	a.metrics.ActionsExecuted++
	a.mu.Unlock()

	name, ok := a.resolveTarget(action.EntityID)
	if !ok {
		return a.failResult(action, start, "unknown_entity", fmt.Sprintf("no miio device for entity %s", action.EntityID)), nil
	}
	a.mu.RLock()
	bound := a.devices[name]
	a.mu.RUnlock()

	var (
		err      error
		newState types.EntityState
	)
	switch action.Action {
	case "turn_on":
		_, err = bound.commander.Send(ctx, "set_power", []string{"on"})
		newState = types.StateOn
	case "turn_off":
		_, err = bound.commander.Send(ctx, "set_power", []string{"off"})
		newState = types.StateOff
	case "select_option":
		mode, _ := action.Parameters["option"].(string)
		if !validMode(mode) {
			return a.failResult(action, start, "invalid_option", fmt.Sprintf("unknown mode: %s", mode)), nil
		}
		_, err = bound.commander.Send(ctx, "set_mode", []string{mode})
		newState = types.EntityState(mode)
	default:
		return a.failResult(action, start, "unsupported_action", fmt.Sprintf("action %s not supported", action.Action)), nil
	}

	if err != nil {
		a.mu.Lock()
		a.metrics.FailedActions++
		a.mu.Unlock()
		return nil, fmt.Errorf("miio action %s on %s failed: %w", action.Action, action.EntityID, err)
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

func validMode(mode string) bool {
	for _, m := range fanModes {
		if m == mode {
			return true
		}
	}
	return false
}

// resolveTarget matches an entity id back to its configured device.
func (a *Adapter) resolveTarget(entityID string) (string, bool) {
	dot := strings.Index(entityID, ".")
	if dot < 0 {
		return "", false
	}
	rest := entityID[dot+1:]

	a.mu.RLock()
	defer a.mu.RUnlock()
	for name := range a.devices {
		if strings.HasPrefix(rest, sanitizeName(name)+"_") {
			return name, true
		}
	}
	return "", false
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
			Source:    "miio",
			EntityID:  action.EntityID,
			Timestamp: time.Now(),
		},
		ProcessedAt: time.Now(),
		Duration:    time.Since(start),
	}
}
