package zigbee

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ChannelStatus tracks a channel through its lifecycle.
type ChannelStatus int

const (
	ChannelCreated ChannelStatus = iota
	ChannelConfigured
	ChannelInitialized
)

func (s ChannelStatus) String() string {
	switch s {
	case ChannelConfigured:
		return "configured"
	case ChannelInitialized:
		return "initialized"
	default:
		return "created"
	}
}

// AttributeListener receives attribute updates from a channel.
type AttributeListener func(attr uint16, value interface{})

// ChannelHandler is one cluster listener on one endpoint. Configure
// runs once after join, Initialize runs after configure and again when
// a device comes back from unavailable.
type ChannelHandler interface {
	ClusterID() uint16
	Name() string
	Status() ChannelStatus
	Configure(ctx context.Context) error
	Initialize(ctx context.Context, fromCache bool) error
	HandleAttributeUpdate(attr uint16, value interface{})
	AddListener(listener AttributeListener)
}

// Channel is the default ChannelHandler: it binds its cluster to the
// coordinator and configures reporting for every reportable attribute
// in the cluster definition.
type Channel struct {
	radio    Radio
	ieee     string
	endpoint uint8
	def      ClusterDef
	log      *logrus.Entry

	mu        sync.RWMutex
	status    ChannelStatus
	listeners []AttributeListener
}

// NewChannel creates a plain channel for a cluster definition.
func NewChannel(radio Radio, ieee string, endpoint uint8, def ClusterDef, log *logrus.Logger) *Channel {
	return &Channel{
		radio:    radio,
		ieee:     ieee,
		endpoint: endpoint,
		def:      def,
		log: log.WithFields(logrus.Fields{
			"ieee":     ieee,
			"endpoint": endpoint,
			"cluster":  def.Name,
		}),
	}
}

func (c *Channel) ClusterID() uint16 { return c.def.ID }
func (c *Channel) Name() string      { return c.def.Name }

func (c *Channel) Status() ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Configure binds the cluster to the coordinator exactly once and
// issues one reporting configuration per reportable attribute.
func (c *Channel) Configure(ctx context.Context) error {
	if err := c.radio.BindCoordinator(ctx, c.ieee, c.endpoint, c.def.ID); err != nil {
		return fmt.Errorf("failed to bind cluster %s: %w", c.def.Name, err)
	}

	for _, report := range c.def.Reports {
		if err := c.radio.ConfigureReporting(ctx, c.ieee, c.endpoint, c.def.ID, report); err != nil {
			return fmt.Errorf("failed to configure reporting for attr 0x%04x on %s: %w",
				report.AttributeID, c.def.Name, err)
		}
	}

	c.mu.Lock()
	c.status = ChannelConfigured
	c.mu.Unlock()

	c.log.Debug("channel configured")
	return nil
}

// Initialize marks the channel ready. fromCache skips any network
// round trips; concrete channels that need fresh attributes override.
func (c *Channel) Initialize(ctx context.Context, fromCache bool) error {
	c.mu.Lock()
	c.status = ChannelInitialized
	c.mu.Unlock()
	return nil
}

// HandleAttributeUpdate dispatches a raw attribute report to listeners.
func (c *Channel) HandleAttributeUpdate(attr uint16, value interface{}) {
	c.dispatch(attr, value)
}

func (c *Channel) dispatch(attr uint16, value interface{}) {
	c.mu.RLock()
	listeners := make([]AttributeListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, listener := range listeners {
		listener(attr, value)
	}
}

// AddListener registers an entity-side listener.
func (c *Channel) AddListener(listener AttributeListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, listener)
	c.mu.Unlock()
}

// newChannelForCluster resolves the handler implementation for a
// cluster. Resolution is a plain switch over the registry entry, done
// when the device's channel pools are built.
func newChannelForCluster(radio Radio, ieee string, endpoint uint8, def ClusterDef, log *logrus.Logger) ChannelHandler {
	switch def.ID {
	case ClusterMetering:
		return NewMeteringChannel(radio, ieee, endpoint, def, log)
	default:
		return NewChannel(radio, ieee, endpoint, def, log)
	}
}
