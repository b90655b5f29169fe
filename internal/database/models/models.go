package models

import (
	"database/sql"
	"time"
)

// ZigbeeDevice is the persisted row for a paired Zigbee device. The
// gateway restores its device map from these rows at startup.
type ZigbeeDevice struct {
	IEEE         string         `db:"ieee" json:"ieee"`
	NWK          uint16         `db:"nwk" json:"nwk"`
	Manufacturer string         `db:"manufacturer" json:"manufacturer"`
	Model        string         `db:"model" json:"model"`
	Name         sql.NullString `db:"name" json:"name,omitempty"`
	PowerSource  string         `db:"power_source" json:"power_source"`
	LastSeen     time.Time      `db:"last_seen" json:"last_seen"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// ZigbeeGroup is the persisted row for a Zigbee multicast group.
type ZigbeeGroup struct {
	GroupID   uint16    `db:"group_id" json:"group_id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ZigbeeGroupMember records one (device, endpoint) pair inside a group.
type ZigbeeGroupMember struct {
	GroupID    uint16 `db:"group_id" json:"group_id"`
	IEEE       string `db:"ieee" json:"ieee"`
	EndpointID uint8  `db:"endpoint_id" json:"endpoint_id"`
}

// EntityRow is the persisted shape of a unified entity.
type EntityRow struct {
	ID           string    `db:"id" json:"id"`
	Type         string    `db:"type" json:"type"`
	FriendlyName string    `db:"friendly_name" json:"friendly_name"`
	Source       string    `db:"source" json:"source"`
	State        string    `db:"state" json:"state"`
	Attributes   string    `db:"attributes" json:"attributes"` // JSON blob
	Available    bool      `db:"available" json:"available"`
	LastUpdated  time.Time `db:"last_updated" json:"last_updated"`
}

// SystemConfig is a key/value configuration row.
type SystemConfig struct {
	Key         string    `db:"key" json:"key"`
	Value       string    `db:"value" json:"value"`
	Description string    `db:"description" json:"description"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
