package types

import (
	"encoding/json"
	"time"
)

// Entity is the user-visible representation of one device capability.
// It is a plain struct; behavior that depends on the backing source
// (control execution, restore, polling) lives in capability objects the
// owning adapter attaches, not in a type hierarchy.
type Entity struct {
	ID           string                 `json:"id"`
	Type         EntityType             `json:"type"`
	FriendlyName string                 `json:"friendly_name"`
	Icon         string                 `json:"icon,omitempty"`
	State        EntityState            `json:"state"`
	Attributes   map[string]interface{} `json:"attributes"`
	LastUpdated  time.Time              `json:"last_updated"`
	Capabilities []Capability           `json:"capabilities"`
	Unit         string                 `json:"unit,omitempty"`
	DeviceID     *string                `json:"device_id,omitempty"`
	Metadata     *Metadata              `json:"metadata"`
	Available    bool                   `json:"available"`
}

// GetSource returns the adapter source recorded in metadata.
func (e *Entity) GetSource() Source {
	if e.Metadata != nil {
		return e.Metadata.Source
	}
	return SourceHearth
}

// HasCapability reports whether the entity supports the capability.
func (e *Entity) HasCapability(capability Capability) bool {
	for _, c := range e.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// AvailableActions lists the control actions the entity accepts.
func (e *Entity) AvailableActions() []string {
	switch e.Type {
	case EntityTypeLight:
		actions := []string{"turn_on", "turn_off", "toggle"}
		if e.HasCapability(CapabilityDimmable) {
			actions = append(actions, "set_brightness")
		}
		return actions
	case EntityTypeSwitch:
		return []string{"turn_on", "turn_off", "toggle"}
	case EntityTypeCover:
		actions := []string{"open", "close", "stop"}
		if e.HasCapability(CapabilityPosition) {
			actions = append(actions, "set_position")
		}
		return actions
	case EntityTypeSelect:
		return []string{"select_option"}
	case EntityTypeClimate:
		return []string{"set_temperature", "set_mode"}
	default:
		return nil
	}
}

// CanControl reports whether the entity currently accepts actions.
func (e *Entity) CanControl() bool {
	return e.Available && len(e.AvailableActions()) > 0
}

// ToJSON serializes the entity.
func (e *Entity) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// StateChange is the payload broadcast when an entity changes state.
type StateChange struct {
	EntityID   string                 `json:"entity_id"`
	OldState   EntityState            `json:"old_state"`
	NewState   EntityState            `json:"new_state"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Source     Source                 `json:"source"`
}
