package llmtools

import (
	"context"
	"fmt"
	"time"

	"github.com/hearth-home/hearth-backend-go/internal/core/entities"
	"github.com/hearth-home/hearth-backend-go/internal/core/types"
	"github.com/hearth-home/hearth-backend-go/internal/zigbee"
)

// BuildHearthAPI exposes entity queries and control as tools.
func BuildHearthAPI(service *entities.Service) *API {
	api := NewAPI("hearth", "Query and control smart home entities")

	api.Register(&Tool{
		Name:        "get_entities",
		Description: "List entities, optionally filtered by source (zigbee, shelly, miio, qube)",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"source": map[string]interface{}{"type": "string"},
			},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			if source, ok := args["source"].(string); ok && source != "" {
				return service.BySource(types.Source(source)), nil
			}
			return service.All(), nil
		},
	})

	api.Register(&Tool{
		Name:        "get_entity",
		Description: "Get one entity by id",
		Parameters: map[string]interface{}{
			"type":     "object",
			"required": []string{"entity_id"},
			"properties": map[string]interface{}{
				"entity_id": map[string]interface{}{"type": "string"},
			},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			id, _ := args["entity_id"].(string)
			entity, ok := service.Get(id)
			if !ok {
				return nil, fmt.Errorf("entity not found: %s", id)
			}
			return entity, nil
		},
	})

	api.Register(&Tool{
		Name:        "control_entity",
		Description: "Execute an action on an entity (turn_on, turn_off, open_cover, set_position, select_option, ...)",
		Parameters: map[string]interface{}{
			"type":     "object",
			"required": []string{"entity_id", "action"},
			"properties": map[string]interface{}{
				"entity_id":  map[string]interface{}{"type": "string"},
				"action":     map[string]interface{}{"type": "string"},
				"parameters": map[string]interface{}{"type": "object"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			action := types.ControlAction{}
			action.EntityID, _ = args["entity_id"].(string)
			action.Action, _ = args["action"].(string)
			if params, ok := args["parameters"].(map[string]interface{}); ok {
				action.Parameters = params
			}
			return service.ExecuteAction(ctx, action)
		},
	})

	return api
}

// BuildZigbeeAPI exposes Zigbee network management as tools.
func BuildZigbeeAPI(gateway *zigbee.Gateway) *API {
	api := NewAPI("zigbee", "Manage the Zigbee network")

	api.Register(&Tool{
		Name:        "list_devices",
		Description: "List paired Zigbee devices with availability",
		Parameters:  map[string]interface{}{"type": "object"},
		Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			devices := gateway.Devices()
			out := make([]map[string]interface{}, 0, len(devices))
			for _, d := range devices {
				out = append(out, map[string]interface{}{
					"ieee":         d.IEEE,
					"manufacturer": d.Manufacturer,
					"model":        d.Model,
					"available":    d.Available(),
					"last_seen":    d.LastSeen(),
				})
			}
			return out, nil
		},
	})

	api.Register(&Tool{
		Name:        "permit_join",
		Description: "Open the network for new devices (seconds, default 60)",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"duration": map[string]interface{}{"type": "number"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			seconds := 60.0
			if v, ok := args["duration"].(float64); ok && v > 0 {
				seconds = v
			}
			if err := gateway.PermitJoin(ctx, time.Duration(seconds)*time.Second); err != nil {
				return nil, err
			}
			return map[string]interface{}{"permitted_for_seconds": seconds}, nil
		},
	})

	api.Register(&Tool{
		Name:        "bind_devices",
		Description: "Bind matching clusters of two devices so they talk directly",
		Parameters: map[string]interface{}{
			"type":     "object",
			"required": []string{"source_ieee", "target_ieee"},
			"properties": map[string]interface{}{
				"source_ieee": map[string]interface{}{"type": "string"},
				"target_ieee": map[string]interface{}{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			src, _ := args["source_ieee"].(string)
			dst, _ := args["target_ieee"].(string)
			errs := gateway.BindDevices(ctx, src, dst)
			if len(errs) > 0 {
				return nil, fmt.Errorf("bind finished with %d errors, first: %v", len(errs), errs[0])
			}
			return map[string]interface{}{"bound": true}, nil
		},
	})

	return api
}
