package types

import (
	"context"
	"time"
)

// Adapter defines the interface that all source adapters implement.
// Each adapter wraps one vendor client and maps its devices onto the
// unified entity model.
type Adapter interface {
	// Identification
	GetID() string
	GetSourceType() Source
	GetName() string
	GetVersion() string

	// Connection management
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	GetStatus() string

	// Control routing
	ExecuteAction(ctx context.Context, action ControlAction) (*ControlResult, error)

	// Synchronization
	SyncEntities(ctx context.Context) ([]*Entity, error)
	GetLastSyncTime() *time.Time

	// Capabilities
	GetSupportedEntityTypes() []EntityType
	SupportsRealtime() bool

	// Health and monitoring
	GetHealth() *AdapterHealth
	GetMetrics() *AdapterMetrics
}

// AdapterHealth represents the health status of an adapter.
type AdapterHealth struct {
	IsHealthy       bool          `json:"is_healthy"`
	LastHealthCheck time.Time     `json:"last_health_check"`
	Issues          []string      `json:"issues,omitempty"`
	ResponseTime    time.Duration `json:"response_time"`
}

// AdapterMetrics represents performance metrics for an adapter.
type AdapterMetrics struct {
	EntitiesManaged   int           `json:"entities_managed"`
	ActionsExecuted   int64         `json:"actions_executed"`
	SuccessfulActions int64         `json:"successful_actions"`
	FailedActions     int64         `json:"failed_actions"`
	LastSync          *time.Time    `json:"last_sync,omitempty"`
	SyncErrors        int           `json:"sync_errors"`
	Uptime            time.Duration `json:"uptime"`
}
