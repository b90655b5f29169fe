package zigbee

import (
	"context"
	"time"
)

// Cluster IDs the gateway cares about. Protocol encoding and radio I/O
// belong to the radio stack behind the Radio interface.
const (
	ClusterBasic         uint16 = 0x0000
	ClusterPowerConfig   uint16 = 0x0001
	ClusterIdentify      uint16 = 0x0003
	ClusterGroups        uint16 = 0x0004
	ClusterOnOff         uint16 = 0x0006
	ClusterLevelControl  uint16 = 0x0008
	ClusterOTA           uint16 = 0x0019
	ClusterTemperature   uint16 = 0x0402
	ClusterHumidity      uint16 = 0x0405
	ClusterOccupancy     uint16 = 0x0406
	ClusterColorControl  uint16 = 0x0300
	ClusterMetering      uint16 = 0x0702
	ClusterElectrical    uint16 = 0x0b04
)

// Metering cluster attributes (Zigbee Smart Energy).
const (
	AttrMeteringUnitOfMeasure     uint16 = 0x0300
	AttrMeteringMultiplier        uint16 = 0x0301
	AttrMeteringDivisor           uint16 = 0x0302
	AttrMeteringDemandFormatting  uint16 = 0x0303
	AttrMeteringInstantDemand     uint16 = 0x0400
)

// Basic cluster attributes.
const (
	AttrBasicZCLVersion   uint16 = 0x0000
	AttrBasicManufacturer uint16 = 0x0004
	AttrBasicModel        uint16 = 0x0005
	AttrBasicPowerSource  uint16 = 0x0007
)

// PowerSource distinguishes mains from battery devices for availability
// thresholds.
type PowerSource string

const (
	PowerSourceMains   PowerSource = "mains"
	PowerSourceBattery PowerSource = "battery"
)

// ReportConfig describes attribute reporting for one attribute.
type ReportConfig struct {
	AttributeID      uint16
	MinInterval      uint16 // seconds
	MaxInterval      uint16 // seconds
	ReportableChange int
}

// RadioEndpoint describes one application endpoint on a device as
// enumerated by the radio stack.
type RadioEndpoint struct {
	ID             uint8
	InputClusters  []uint16
	OutputClusters []uint16
}

// RadioDevice is the radio stack's view of a joined device.
type RadioDevice struct {
	IEEE         string
	NWK          uint16
	Manufacturer string
	Model        string
	PowerSource  PowerSource
	Endpoints    []RadioEndpoint
	LastSeen     time.Time
}

// BindTarget addresses one endpoint of one device for ZDO binding.
type BindTarget struct {
	IEEE     string
	Endpoint uint8
}

// RadioEvent is pushed by the radio stack when the network changes.
type RadioEvent struct {
	Type      RadioEventType
	Device    *RadioDevice
	Endpoint  uint8
	Cluster   uint16
	Attribute uint16
	Value     interface{}
}

type RadioEventType int

const (
	EventDeviceJoined RadioEventType = iota
	EventDeviceLeft
	EventAttributeReport
)

// Radio is the boundary to the external Zigbee stack. Implementations
// wrap a real coordinator; tests use an in-memory double.
type Radio interface {
	Start(ctx context.Context) error
	Stop() error

	// Devices returns the radio's current view of the network.
	Devices() []*RadioDevice

	// ReadAttributes issues a ZCL read on one cluster of one endpoint.
	ReadAttributes(ctx context.Context, ieee string, endpoint uint8, cluster uint16, attrs []uint16) (map[uint16]interface{}, error)

	// WriteAttribute issues a ZCL write.
	WriteAttribute(ctx context.Context, ieee string, endpoint uint8, cluster uint16, attr uint16, value interface{}) error

	// Command sends a ZCL cluster command (on/off, level, etc.).
	Command(ctx context.Context, ieee string, endpoint uint8, cluster uint16, command uint8, args ...interface{}) error

	// BindCoordinator binds a device cluster to the coordinator so
	// attribute reports reach us.
	BindCoordinator(ctx context.Context, ieee string, endpoint uint8, cluster uint16) error

	// ConfigureReporting configures attribute reporting on a bound cluster.
	ConfigureReporting(ctx context.Context, ieee string, endpoint uint8, cluster uint16, cfg ReportConfig) error

	// Bind and Unbind issue ZDO Bind_req/Unbind_req between two devices.
	Bind(ctx context.Context, src, dst BindTarget, cluster uint16) error
	Unbind(ctx context.Context, src, dst BindTarget, cluster uint16) error

	// AddGroupMember and RemoveGroupMember manage multicast membership.
	AddGroupMember(ctx context.Context, ieee string, endpoint uint8, groupID uint16) error
	RemoveGroupMember(ctx context.Context, ieee string, endpoint uint8, groupID uint16) error

	// PermitJoin opens the network for joining.
	PermitJoin(ctx context.Context, duration time.Duration) error

	// RemoveDevice asks the device to leave the network.
	RemoveDevice(ctx context.Context, ieee string) error

	// SetEventHandler registers the single consumer of radio events.
	SetEventHandler(handler func(RadioEvent))
}
