package shelly

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth-backend-go/internal/core/types"
)

// fakeDevice serves the Gen2 RPC endpoint of one simulated device.
type fakeDevice struct {
	mu       sync.Mutex
	id       string
	model    string
	switches map[int]bool
	coverPos int
	covState string
	calls    []string
	fail     bool
}

func newFakeDevice(id, model string) *fakeDevice {
	return &fakeDevice{
		id:       id,
		model:    model,
		switches: map[int]bool{0: false},
		coverPos: 40,
		covState: "stopped",
	}
}

func (f *fakeDevice) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}

		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.calls = append(f.calls, req.Method)

		var result interface{}
		switch req.Method {
		case "Shelly.GetDeviceInfo":
			result = map[string]interface{}{
				"id": f.id, "mac": "AA:BB:CC", "model": f.model, "gen": 2,
			}
		case "Shelly.GetStatus":
			pos := f.coverPos
			result = map[string]interface{}{
				"switch:0": map[string]interface{}{
					"id": 0, "output": f.switches[0], "apower": 12.5,
				},
				"cover:0": map[string]interface{}{
					"id": 0, "state": f.covState, "current_pos": pos,
				},
				"sys": map[string]interface{}{"uptime": 123},
			}
		case "Switch.Set":
			params := req.Params.(map[string]interface{})
			f.switches[int(params["id"].(float64))] = params["on"].(bool)
			result = map[string]interface{}{"was_on": false}
		case "Cover.Open":
			f.covState = "opening"
			result = map[string]interface{}{}
		case "Cover.Close":
			f.covState = "closing"
			result = map[string]interface{}{}
		case "Cover.Stop":
			f.covState = "stopped"
			result = map[string]interface{}{}
		case "Cover.GoToPosition":
			params := req.Params.(map[string]interface{})
			f.coverPos = int(params["pos"].(float64))
			result = map[string]interface{}{}
		default:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(rpcResponse{
				ID:    req.ID,
				Error: &rpcError{Code: -32601, Message: "method not found"},
			})
			return
		}

		raw, _ := json.Marshal(result)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rpcResponse{ID: req.ID, Result: raw})
	}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func startDevice(t *testing.T, dev *fakeDevice) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", dev.handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, NewClient(strings.TrimPrefix(srv.URL, "http://"), "", testLogger())
}

func TestClientGetDeviceInfo(t *testing.T) {
	dev := newFakeDevice("shellyplus1pm-a8032ab12c44", "SNSW-001P16EU")
	_, client := startDevice(t, dev)

	info, err := client.GetDeviceInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "shellyplus1pm-a8032ab12c44", info.ID)
	assert.Equal(t, 2, info.Generation)
}

func TestClientGetStatusSplitsComponents(t *testing.T) {
	dev := newFakeDevice("shellyplus2pm-1", "SNSW-102P16EU")
	dev.switches[0] = true
	_, client := startDevice(t, dev)

	status, err := client.GetStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Switches, 1)
	require.Len(t, status.Covers, 1)
	assert.True(t, status.Switches[0].Output)
	require.NotNil(t, status.Switches[0].APower)
	assert.InDelta(t, 12.5, *status.Switches[0].APower, 0.001)
	assert.Equal(t, "stopped", status.Covers[0].State)
	require.NotNil(t, status.Covers[0].CurrentPos)
	assert.Equal(t, 40, *status.Covers[0].CurrentPos)
}

func TestClientRPCError(t *testing.T) {
	dev := newFakeDevice("shelly-x", "X")
	_, client := startDevice(t, dev)

	err := client.Call(context.Background(), "No.Such.Method", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestCoverStateMapping(t *testing.T) {
	cases := []struct {
		raw  string
		want types.EntityState
	}{
		{"open", types.StateOpen},
		{"closed", types.StateClosed},
		{"opening", types.StateOpening},
		{"closing", types.StateClosing},
		{"stopped", types.StateOpen},
		{"calibrating", types.StateOpen},
		{"garbage", types.StateUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, coverEntityState(tc.raw), "state %q", tc.raw)
	}
}

func newTestAdapter(t *testing.T, dev *fakeDevice) *Adapter {
	t.Helper()
	_, client := startDevice(t, dev)
	a := NewAdapter(Config{PollInterval: 3600}, testLogger())
	a.addDevice(&Device{ID: dev.id, Model: dev.model, Generation: 2}, client)
	return a
}

func TestSyncEntitiesMapsComponents(t *testing.T) {
	dev := newFakeDevice("shellyplus2pm-abc", "SNSW-102P16EU")
	dev.switches[0] = true
	a := newTestAdapter(t, dev)

	entities, err := a.SyncEntities(context.Background())
	require.NoError(t, err)

	byID := make(map[string]*types.Entity)
	for _, e := range entities {
		byID[e.ID] = e
	}

	sw := byID["switch.shellyplus2pm_abc_0"]
	require.NotNil(t, sw)
	assert.Equal(t, types.StateOn, sw.State)
	assert.True(t, sw.Available)

	power := byID["sensor.shellyplus2pm_abc_0_power"]
	require.NotNil(t, power)
	assert.Equal(t, "W", power.Unit)

	cover := byID["cover.shellyplus2pm_abc_0"]
	require.NotNil(t, cover)
	assert.Equal(t, types.StateOpen, cover.State)
	assert.Equal(t, 40, cover.Attributes["current_position"])
}

func TestExecuteActionSwitch(t *testing.T) {
	dev := newFakeDevice("shellyplus1pm-x1", "SNSW-001P16EU")
	a := newTestAdapter(t, dev)

	result, err := a.ExecuteAction(context.Background(), types.ControlAction{
		EntityID: "switch.shellyplus1pm_x1_0",
		Action:   "turn_on",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, types.StateOn, result.NewState)
	assert.True(t, dev.switches[0])
}

func TestExecuteActionCover(t *testing.T) {
	dev := newFakeDevice("shellyplus2pm-x2", "SNSW-102P16EU")
	a := newTestAdapter(t, dev)

	result, err := a.ExecuteAction(context.Background(), types.ControlAction{
		EntityID: "cover.shellyplus2pm_x2_0",
		Action:   "set_position",
		Parameters: map[string]interface{}{
			"position": float64(75),
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 75, dev.coverPos)

	result, err = a.ExecuteAction(context.Background(), types.ControlAction{
		EntityID: "cover.shellyplus2pm_x2_0",
		Action:   "set_position",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "invalid_parameters", result.Error.Code)
}

func TestExecuteActionUnknownDevice(t *testing.T) {
	dev := newFakeDevice("shellyplus1pm-x3", "SNSW-001P16EU")
	a := newTestAdapter(t, dev)

	result, err := a.ExecuteAction(context.Background(), types.ControlAction{
		EntityID: "switch.nosuchdevice_0",
		Action:   "turn_on",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestDeviceFailureMarksEntitiesUnavailable(t *testing.T) {
	dev := newFakeDevice("shellyplus1pm-x4", "SNSW-001P16EU")
	a := newTestAdapter(t, dev)

	_, err := a.SyncEntities(context.Background())
	require.NoError(t, err)

	// Poll again with the device down: the cycle fails and the cached
	// snapshot is retained.
	dev.mu.Lock()
	dev.fail = true
	dev.mu.Unlock()

	a.coord.Refresh(context.Background())
	assert.Error(t, a.coord.LastError())
	_, ok := a.coord.Data()
	assert.True(t, ok, "cached snapshot survives a failed cycle")
}

func TestSetCoverPositionRange(t *testing.T) {
	dev := newFakeDevice("shellyplus2pm-x5", "SNSW-102P16EU")
	_, client := startDevice(t, dev)

	err := client.SetCoverPosition(context.Background(), 0, 150)
	require.Error(t, err)
	assert.Equal(t, 40, dev.coverPos)
}
