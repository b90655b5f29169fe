package types

import (
	"time"
)

// Source identifies which adapter an entity came from.
type Source string

const (
	SourceZigbee Source = "zigbee"
	SourceShelly Source = "shelly"
	SourceMiio   Source = "miio"
	SourceQube   Source = "qube"
	SourceHearth Source = "hearth"
)

// EntityType represents the type/domain of an entity.
type EntityType string

const (
	EntityTypeLight        EntityType = "light"
	EntityTypeSwitch       EntityType = "switch"
	EntityTypeSensor       EntityType = "sensor"
	EntityTypeBinarySensor EntityType = "binary_sensor"
	EntityTypeCover        EntityType = "cover"
	EntityTypeClimate      EntityType = "climate"
	EntityTypeSelect       EntityType = "select"
	EntityTypeDevice       EntityType = "device"
	EntityTypeGeneric      EntityType = "generic"
)

// EntityState represents the possible states of an entity.
type EntityState string

const (
	StateOn          EntityState = "on"
	StateOff         EntityState = "off"
	StateOpen        EntityState = "open"
	StateClosed      EntityState = "closed"
	StateOpening     EntityState = "opening"
	StateClosing     EntityState = "closing"
	StateIdle        EntityState = "idle"
	StateActive      EntityState = "active"
	StateUnavailable EntityState = "unavailable"
	StateUnknown     EntityState = "unknown"
)

// Capability represents capabilities that entities can support.
type Capability string

const (
	CapabilityDimmable     Capability = "dimmable"
	CapabilityColorable    Capability = "colorable"
	CapabilityTemperature  Capability = "temperature"
	CapabilityHumidity     Capability = "humidity"
	CapabilityPosition     Capability = "position"
	CapabilityPower        Capability = "power"
	CapabilityEnergy       Capability = "energy"
	CapabilityMotion       Capability = "motion"
	CapabilityBattery      Capability = "battery"
	CapabilityConnectivity Capability = "connectivity"
)

// Metadata carries source-specific tracking information for an entity.
type Metadata struct {
	Source         Source                 `json:"source"`
	SourceEntityID string                 `json:"source_entity_id"`
	SourceDeviceID *string                `json:"source_device_id,omitempty"`
	SourceData     map[string]interface{} `json:"source_data,omitempty"`
	LastSynced     time.Time              `json:"last_synced"`
	SyncErrors     []string               `json:"sync_errors,omitempty"`
}

// Context identifies who or what caused a state change or action.
type Context struct {
	ID          string    `json:"id"`
	UserID      *string   `json:"user_id,omitempty"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description,omitempty"`
}

// ControlError reports a failed control action.
type ControlError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	EntityID  string    `json:"entity_id"`
	Timestamp time.Time `json:"timestamp"`
	Retryable bool      `json:"retryable"`
}

// ControlAction represents a control command addressed to an entity.
type ControlAction struct {
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	EntityID   string                 `json:"entity_id"`
	Context    *Context               `json:"context,omitempty"`
}

// ControlResult represents the outcome of a control action.
type ControlResult struct {
	Success     bool                   `json:"success"`
	EntityID    string                 `json:"entity_id"`
	Action      string                 `json:"action"`
	NewState    EntityState            `json:"new_state,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	Error       *ControlError          `json:"error,omitempty"`
	ProcessedAt time.Time              `json:"processed_at"`
	Duration    time.Duration          `json:"duration"`
}
