package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/core/types"
)

const (
	defaultBaseTopic       = "hearth"
	defaultDiscoveryPrefix = "homeassistant"
)

// ActionFunc executes a control action coming in over a command topic.
type ActionFunc func(ctx context.Context, action types.ControlAction) (*types.ControlResult, error)

// Options tunes the topic layout. Zero values fall back to the
// defaults.
type Options struct {
	BaseTopic       string
	DiscoveryPrefix string
}

// Publisher mirrors the entity model onto the broker: retained
// discovery configs in the Home Assistant convention, per-entity state
// topics, and a command topic routed back to the entity service.
type Publisher struct {
	client          ClientAPI
	execute         ActionFunc
	baseTopic       string
	discoveryPrefix string
	log             *logrus.Entry
}

func NewPublisher(client ClientAPI, execute ActionFunc, opts Options, log *logrus.Logger) *Publisher {
	if opts.BaseTopic == "" {
		opts.BaseTopic = defaultBaseTopic
	}
	if opts.DiscoveryPrefix == "" {
		opts.DiscoveryPrefix = defaultDiscoveryPrefix
	}
	return &Publisher{
		client:          client,
		execute:         execute,
		baseTopic:       opts.BaseTopic,
		discoveryPrefix: opts.DiscoveryPrefix,
		log:             log.WithField("component", "mqtt_publisher"),
	}
}

// Start announces the bridge online and subscribes the command topic.
func (p *Publisher) Start() error {
	if err := p.client.PublishRetained(p.statusTopic(), []byte("online")); err != nil {
		return fmt.Errorf("failed to publish online status: %w", err)
	}
	return p.client.Subscribe(p.baseTopic+"/+/+/set", p.handleCommand)
}

// Stop announces the bridge offline.
func (p *Publisher) Stop() {
	if err := p.client.PublishRetained(p.statusTopic(), []byte("offline")); err != nil {
		p.log.WithError(err).Warn("failed to publish offline status")
	}
	p.client.Close()
}

func (p *Publisher) statusTopic() string {
	return p.baseTopic + "/status"
}

func (p *Publisher) stateTopic(e *types.Entity) string {
	return fmt.Sprintf("%s/%s/%s/state", p.baseTopic, e.GetSource(), e.ID)
}

func (p *Publisher) commandTopic(e *types.Entity) string {
	return fmt.Sprintf("%s/%s/%s/set", p.baseTopic, e.GetSource(), e.ID)
}

// PublishEntity emits the retained discovery config and the current
// state for one entity.
func (p *Publisher) PublishEntity(e *types.Entity) error {
	if err := p.publishDiscovery(e); err != nil {
		return err
	}
	return p.PublishState(e)
}

// PublishState emits the entity's state payload.
func (p *Publisher) PublishState(e *types.Entity) error {
	payload, err := json.Marshal(map[string]interface{}{
		"state":      string(e.State),
		"attributes": e.Attributes,
		"available":  e.Available,
	})
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", e.ID, err)
	}
	return p.client.Publish(p.stateTopic(e), payload)
}

// PublishChange emits a state transition as observed by the entity
// service.
func (p *Publisher) PublishChange(change types.StateChange) error {
	payload, err := json.Marshal(map[string]interface{}{
		"state":      string(change.NewState),
		"old_state":  string(change.OldState),
		"attributes": change.Attributes,
	})
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s/%s/state", p.baseTopic, change.Source, change.EntityID)
	return p.client.Publish(topic, payload)
}

// publishDiscovery emits the retained Home Assistant discovery config.
func (p *Publisher) publishDiscovery(e *types.Entity) error {
	objectID := strings.ReplaceAll(e.ID, ".", "_")
	config := map[string]interface{}{
		"name":                e.FriendlyName,
		"unique_id":           "hearth_" + objectID,
		"state_topic":         p.stateTopic(e),
		"value_template":      "{{ value_json.state }}",
		"availability_topic":  p.statusTopic(),
		"payload_available":   "online",
		"payload_unavailable": "offline",
		"device": map[string]interface{}{
			"identifiers":  []string{"hearth_" + string(e.GetSource())},
			"name":         "Hearth " + string(e.GetSource()),
			"manufacturer": "Hearth",
		},
	}
	if e.Unit != "" {
		config["unit_of_measurement"] = e.Unit
	}
	if e.CanControl() {
		config["command_topic"] = p.commandTopic(e)
	}

	payload, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode discovery config for %s: %w", e.ID, err)
	}
	topic := fmt.Sprintf("%s/%s/hearth/%s/config", p.discoveryPrefix, e.Type, objectID)
	return p.client.PublishRetained(topic, payload)
}

// RemoveEntity clears the retained discovery config.
func (p *Publisher) RemoveEntity(e *types.Entity) error {
	objectID := strings.ReplaceAll(e.ID, ".", "_")
	topic := fmt.Sprintf("%s/%s/hearth/%s/config", p.discoveryPrefix, e.Type, objectID)
	return p.client.PublishRetained(topic, nil)
}

// handleCommand parses hearth/<source>/<entity_id>/set frames.
func (p *Publisher) handleCommand(_ paho.Client, msg paho.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) != 4 {
		p.log.WithField("topic", msg.Topic()).Warn("malformed command topic")
		return
	}
	entityID := parts[2]

	action := types.ControlAction{EntityID: entityID}
	if err := json.Unmarshal(msg.Payload(), &action); err != nil {
		// Bare payloads like "on"/"off" map straight to actions.
		switch string(msg.Payload()) {
		case "on", "ON":
			action.Action = "turn_on"
		case "off", "OFF":
			action.Action = "turn_off"
		default:
			p.log.WithField("topic", msg.Topic()).Warn("unparseable command payload")
			return
		}
	}
	action.EntityID = entityID

	result, err := p.execute(context.Background(), action)
	if err != nil {
		p.log.WithError(err).WithField("entity", entityID).Error("mqtt command failed")
		return
	}
	if result != nil && !result.Success && result.Error != nil {
		p.log.WithFields(logrus.Fields{
			"entity": entityID,
			"code":   result.Error.Code,
		}).Warn("mqtt command rejected")
	}
}
