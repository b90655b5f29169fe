package zigbee

// ClusterDef declares how the gateway handles one cluster: its name,
// the attributes it reports, and which channel implementation listens
// to it. The registry is resolved once at startup; nothing registers
// itself at runtime.
type ClusterDef struct {
	ID      uint16
	Name    string
	Reports []ReportConfig
}

// ClusterRegistry maps cluster IDs to their definitions.
type ClusterRegistry struct {
	defs   map[uint16]ClusterDef
	quirks map[string]Quirk
}

// NewClusterRegistry builds the default registry.
func NewClusterRegistry() *ClusterRegistry {
	r := &ClusterRegistry{
		defs:   make(map[uint16]ClusterDef),
		quirks: make(map[string]Quirk),
	}
	for _, def := range defaultClusterDefs {
		r.defs[def.ID] = def
	}
	return r
}

// Get returns the definition for a cluster ID.
func (r *ClusterRegistry) Get(id uint16) (ClusterDef, bool) {
	def, ok := r.defs[id]
	return def, ok
}

// All returns every registered definition.
func (r *ClusterRegistry) All() []ClusterDef {
	defs := make([]ClusterDef, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	return defs
}

// Reporting intervals follow the usual min/max/change triples: fast
// minimums for user-facing state, slow maximums as a keepalive.
var defaultClusterDefs = []ClusterDef{
	{
		ID:   ClusterOnOff,
		Name: "on_off",
		Reports: []ReportConfig{
			{AttributeID: 0x0000, MinInterval: 0, MaxInterval: 900, ReportableChange: 1},
		},
	},
	{
		ID:   ClusterLevelControl,
		Name: "level",
		Reports: []ReportConfig{
			{AttributeID: 0x0000, MinInterval: 1, MaxInterval: 900, ReportableChange: 1},
		},
	},
	{
		ID:   ClusterPowerConfig,
		Name: "power",
		Reports: []ReportConfig{
			{AttributeID: 0x0020, MinInterval: 3600, MaxInterval: 43200, ReportableChange: 1}, // battery voltage
			{AttributeID: 0x0021, MinInterval: 3600, MaxInterval: 43200, ReportableChange: 1}, // battery percent
		},
	},
	{
		ID:   ClusterTemperature,
		Name: "temperature",
		Reports: []ReportConfig{
			{AttributeID: 0x0000, MinInterval: 30, MaxInterval: 900, ReportableChange: 25},
		},
	},
	{
		ID:   ClusterHumidity,
		Name: "humidity",
		Reports: []ReportConfig{
			{AttributeID: 0x0000, MinInterval: 30, MaxInterval: 900, ReportableChange: 50},
		},
	},
	{
		ID:   ClusterOccupancy,
		Name: "occupancy",
		Reports: []ReportConfig{
			{AttributeID: 0x0000, MinInterval: 0, MaxInterval: 900, ReportableChange: 1},
		},
	},
	{
		ID:   ClusterMetering,
		Name: "smartenergy_metering",
		Reports: []ReportConfig{
			{AttributeID: AttrMeteringInstantDemand, MinInterval: 30, MaxInterval: 900, ReportableChange: 1},
		},
	},
	{
		ID:   ClusterElectrical,
		Name: "electrical_measurement",
		Reports: []ReportConfig{
			{AttributeID: 0x050b, MinInterval: 30, MaxInterval: 900, ReportableChange: 1}, // active power
		},
	},
	{
		ID:   ClusterColorControl,
		Name: "light_color",
		Reports: []ReportConfig{
			{AttributeID: 0x0007, MinInterval: 1, MaxInterval: 900, ReportableChange: 1}, // color temperature
		},
	},
}

// bindableClusters are the clusters direct device-to-device binding
// walks when matching two devices.
var bindableClusters = []uint16{
	ClusterOnOff,
	ClusterLevelControl,
	ClusterColorControl,
}
