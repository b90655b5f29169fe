package zigbee

// GroupMember is one (device, endpoint) pair inside a multicast group.
type GroupMember struct {
	IEEE     string `json:"ieee"`
	Endpoint uint8  `json:"endpoint"`
}

// Group is a Zigbee multicast group mirrored between the radio network
// and our storage.
type Group struct {
	ID      uint16        `json:"id"`
	Name    string        `json:"name"`
	Members []GroupMember `json:"members"`
}

// HasMember reports whether the pair is already in the group.
func (g *Group) HasMember(ieee string, endpoint uint8) bool {
	for _, m := range g.Members {
		if m.IEEE == ieee && m.Endpoint == endpoint {
			return true
		}
	}
	return false
}
