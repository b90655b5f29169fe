package websocket

import (
	"encoding/json"
	"time"

	"github.com/hearth-home/hearth-backend-go/internal/core/types"
)

// Message types pushed to connected clients.
const (
	MessageTypeEntityStateChanged = "entity_state_changed"
	MessageTypeDeviceAvailability = "device_availability"
	MessageTypeDeviceJoined       = "zigbee_device_joined"
	MessageTypeDeviceLeft         = "zigbee_device_left"
	MessageTypeAdapterStatus      = "adapter_status"
	MessageTypeSystemStatus       = "system_status"
	MessageTypeConnection         = "connection"
	MessageTypeHeartbeat          = "heartbeat"
)

// Message is the envelope for every frame on the wire.
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToJSON stamps and serializes the message.
func (m Message) ToJSON() []byte {
	m.Timestamp = time.Now().UTC()
	data, _ := json.Marshal(m)
	return data
}

// StateChangeMessage builds the frame for an entity state transition.
func StateChangeMessage(change types.StateChange) Message {
	return Message{
		Type: MessageTypeEntityStateChanged,
		Data: map[string]interface{}{
			"entity_id": change.EntityID,
			"old_state": string(change.OldState),
			"new_state": string(change.NewState),
			"source":    string(change.Source),
		},
	}
}

// AvailabilityMessage builds the frame for a device availability flip.
func AvailabilityMessage(source types.Source, deviceID string, available bool) Message {
	return Message{
		Type: MessageTypeDeviceAvailability,
		Data: map[string]interface{}{
			"source":    string(source),
			"device_id": deviceID,
			"available": available,
		},
	}
}

// DeviceJoinedMessage and DeviceLeftMessage cover Zigbee membership
// events.
func DeviceJoinedMessage(ieee, manufacturer, model string) Message {
	return Message{
		Type: MessageTypeDeviceJoined,
		Data: map[string]interface{}{
			"ieee":         ieee,
			"manufacturer": manufacturer,
			"model":        model,
		},
	}
}

func DeviceLeftMessage(ieee string) Message {
	return Message{
		Type: MessageTypeDeviceLeft,
		Data: map[string]interface{}{"ieee": ieee},
	}
}

// AdapterStatusMessage reports an adapter connection transition.
func AdapterStatusMessage(adapterID, status string) Message {
	return Message{
		Type: MessageTypeAdapterStatus,
		Data: map[string]interface{}{
			"adapter_id": adapterID,
			"status":     status,
		},
	}
}
