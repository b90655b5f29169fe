package websocket

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth-backend-go/internal/core/types"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestClient(hub *Hub) *Client {
	return &Client{
		ID:      "test-client",
		send:    make(chan []byte, 16),
		hub:     hub,
		logger:  hub.logger,
		sources: make(map[types.Source]bool),
	}
}

func TestStateChangeMessage(t *testing.T) {
	msg := StateChangeMessage(types.StateChange{
		EntityID: "switch.kitchen",
		OldState: types.StateOff,
		NewState: types.StateOn,
		Source:   types.SourceShelly,
	})
	raw := msg.ToJSON()

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, MessageTypeEntityStateChanged, decoded.Type)
	assert.Equal(t, "switch.kitchen", decoded.Data["entity_id"])
	assert.Equal(t, "on", decoded.Data["new_state"])
	assert.Equal(t, "shelly", decoded.Data["source"])
	assert.False(t, decoded.Timestamp.IsZero())
}

func TestSourceSubscriptionFilter(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient(hub)

	shellyFrame := StateChangeMessage(types.StateChange{
		EntityID: "switch.a", NewState: types.StateOn, Source: types.SourceShelly,
	}).ToJSON()
	zigbeeFrame := AvailabilityMessage(types.SourceZigbee, "00:11:22", false).ToJSON()
	heartbeat := Message{Type: MessageTypeHeartbeat, Data: map[string]interface{}{}}.ToJSON()

	// No subscriptions: everything passes.
	assert.True(t, client.wantsMessage(shellyFrame))
	assert.True(t, client.wantsMessage(zigbeeFrame))

	client.subscribe(types.SourceZigbee)
	assert.False(t, client.wantsMessage(shellyFrame))
	assert.True(t, client.wantsMessage(zigbeeFrame))
	// Frames without a source are never filtered.
	assert.True(t, client.wantsMessage(heartbeat))

	client.unsubscribe(types.SourceZigbee)
	assert.True(t, client.wantsMessage(shellyFrame))
}

func TestHubBroadcastDelivery(t *testing.T) {
	hub := NewHub(testLogger())
	all := newTestClient(hub)
	zigbeeOnly := newTestClient(hub)
	zigbeeOnly.subscribe(types.SourceZigbee)

	hub.registerClient(all)
	hub.registerClient(zigbeeOnly)
	assert.Equal(t, 2, hub.GetClientCount())

	// Drain the welcome frames.
	<-all.send
	<-zigbeeOnly.send

	frame := StateChangeMessage(types.StateChange{
		EntityID: "switch.a", NewState: types.StateOn, Source: types.SourceShelly,
	}).ToJSON()
	hub.broadcastMessage(frame)

	assert.Len(t, all.send, 1)
	assert.Len(t, zigbeeOnly.send, 0)
}

func TestSlowConsumerDropped(t *testing.T) {
	hub := NewHub(testLogger())
	slow := &Client{
		ID:      "slow",
		send:    make(chan []byte), // unbuffered, never read
		hub:     hub,
		logger:  hub.logger,
		sources: make(map[types.Source]bool),
	}
	hub.mu.Lock()
	hub.clients[slow] = true
	hub.mu.Unlock()

	hub.broadcastMessage([]byte(`{"type":"system_status","data":{}}`))
	assert.Equal(t, 0, hub.GetClientCount())
}

func TestHubStats(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient(hub)
	hub.registerClient(client)
	hub.broadcastMessage([]byte(`{"type":"system_status","data":{}}`))

	stats := hub.GetStats()
	assert.Equal(t, 1, stats.ConnectedClients)
	assert.Equal(t, int64(1), stats.TotalConnections)
	assert.Equal(t, int64(1), stats.MessagesSent)
}
