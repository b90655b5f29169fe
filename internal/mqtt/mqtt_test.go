package mqtt

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth-backend-go/internal/core/types"
)

// fakeBroker records publishes in memory.
type fakeBroker struct {
	published map[string][]byte
	retained  map[string][]byte
	subs      map[string]Handler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		published: make(map[string][]byte),
		retained:  make(map[string][]byte),
		subs:      make(map[string]Handler),
	}
}

func (f *fakeBroker) Subscribe(topic string, cb Handler) error {
	f.subs[topic] = cb
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	delete(f.subs, topic)
	return nil
}

func (f *fakeBroker) Publish(topic string, payload []byte) error {
	f.published[topic] = payload
	return nil
}

func (f *fakeBroker) PublishRetained(topic string, payload []byte) error {
	f.retained[topic] = payload
	return nil
}

func (f *fakeBroker) Close() {}

// fakeMessage satisfies the paho Message interface.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testEntity() *types.Entity {
	return &types.Entity{
		ID:           "switch.kitchen_plug",
		Type:         types.EntityTypeSwitch,
		FriendlyName: "Kitchen Plug",
		State:        types.StateOn,
		Available:    true,
		Attributes:   map[string]interface{}{"power_w": 4.2},
		Metadata: &types.Metadata{
			Source:         types.SourceShelly,
			SourceEntityID: "shellyplug-1:0",
		},
	}
}

func TestPublishEntityEmitsDiscoveryAndState(t *testing.T) {
	broker := newFakeBroker()
	p := NewPublisher(broker, nil, Options{}, testLogger())

	require.NoError(t, p.PublishEntity(testEntity()))

	discovery := broker.retained["homeassistant/switch/hearth/switch_kitchen_plug/config"]
	require.NotNil(t, discovery, "retained discovery config missing")

	var config map[string]interface{}
	require.NoError(t, json.Unmarshal(discovery, &config))
	assert.Equal(t, "Kitchen Plug", config["name"])
	assert.Equal(t, "hearth_switch_kitchen_plug", config["unique_id"])
	assert.Equal(t, "hearth/shelly/switch.kitchen_plug/state", config["state_topic"])
	assert.Equal(t, "hearth/shelly/switch.kitchen_plug/set", config["command_topic"])

	state := broker.published["hearth/shelly/switch.kitchen_plug/state"]
	require.NotNil(t, state)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(state, &payload))
	assert.Equal(t, "on", payload["state"])
	assert.Equal(t, true, payload["available"])
}

func TestSensorDiscoveryHasNoCommandTopic(t *testing.T) {
	broker := newFakeBroker()
	p := NewPublisher(broker, nil, Options{}, testLogger())

	sensor := testEntity()
	sensor.ID = "sensor.outside_temp"
	sensor.Type = types.EntityTypeSensor
	sensor.Unit = "°C"
	require.NoError(t, p.PublishEntity(sensor))

	discovery := broker.retained["homeassistant/sensor/hearth/sensor_outside_temp/config"]
	require.NotNil(t, discovery)

	var config map[string]interface{}
	require.NoError(t, json.Unmarshal(discovery, &config))
	_, hasCommand := config["command_topic"]
	assert.False(t, hasCommand)
	assert.Equal(t, "°C", config["unit_of_measurement"])
}

func TestPublishChange(t *testing.T) {
	broker := newFakeBroker()
	p := NewPublisher(broker, nil, Options{}, testLogger())

	require.NoError(t, p.PublishChange(types.StateChange{
		EntityID: "switch.kitchen_plug",
		OldState: types.StateOff,
		NewState: types.StateOn,
		Source:   types.SourceShelly,
	}))

	state := broker.published["hearth/shelly/switch.kitchen_plug/state"]
	require.NotNil(t, state)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(state, &payload))
	assert.Equal(t, "on", payload["state"])
	assert.Equal(t, "off", payload["old_state"])
}

func TestCommandTopicRoutesAction(t *testing.T) {
	broker := newFakeBroker()
	var got types.ControlAction
	p := NewPublisher(broker, func(_ context.Context, action types.ControlAction) (*types.ControlResult, error) {
		got = action
		return &types.ControlResult{Success: true}, nil
	}, Options{}, testLogger())
	require.NoError(t, p.Start())

	handler := broker.subs["hearth/+/+/set"]
	require.NotNil(t, handler)

	// Bare payload.
	handler(nil, &fakeMessage{
		topic:   "hearth/shelly/switch.kitchen_plug/set",
		payload: []byte("on"),
	})
	assert.Equal(t, "turn_on", got.Action)
	assert.Equal(t, "switch.kitchen_plug", got.EntityID)

	// JSON payload.
	handler(nil, &fakeMessage{
		topic:   "hearth/qube/select.qube_sg_ready/set",
		payload: []byte(`{"action":"select_option","parameters":{"option":"Max"}}`),
	})
	assert.Equal(t, "select_option", got.Action)
	assert.Equal(t, "select.qube_sg_ready", got.EntityID)
	assert.Equal(t, "Max", got.Parameters["option"])
}

func TestStartStopStatusTopic(t *testing.T) {
	broker := newFakeBroker()
	p := NewPublisher(broker, nil, Options{}, testLogger())

	require.NoError(t, p.Start())
	assert.Equal(t, []byte("online"), broker.retained["hearth/status"])

	p.Stop()
	assert.Equal(t, []byte("offline"), broker.retained["hearth/status"])
}

func TestCustomBaseTopic(t *testing.T) {
	broker := newFakeBroker()
	p := NewPublisher(broker, nil, Options{BaseTopic: "home", DiscoveryPrefix: "ha"}, testLogger())

	require.NoError(t, p.Start())
	assert.Equal(t, []byte("online"), broker.retained["home/status"])
	_, subscribed := broker.subs["home/+/+/set"]
	assert.True(t, subscribed)

	require.NoError(t, p.PublishEntity(testEntity()))
	assert.NotNil(t, broker.retained["ha/switch/hearth/switch_kitchen_plug/config"])
	assert.NotNil(t, broker.published["home/shelly/switch.kitchen_plug/state"])
}
