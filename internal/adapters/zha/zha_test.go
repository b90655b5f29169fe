package zha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth-backend-go/internal/core/types"
	"github.com/hearth-home/hearth-backend-go/internal/database/models"
	"github.com/hearth-home/hearth-backend-go/internal/zigbee"
)

type fakeRadio struct {
	mu       sync.Mutex
	devices  []*zigbee.RadioDevice
	handler  func(zigbee.RadioEvent)
	commands []string // "ieee/ep/cluster/cmd"
	cmdErr   error
}

func (f *fakeRadio) Start(ctx context.Context) error { return nil }
func (f *fakeRadio) Stop() error                     { return nil }

func (f *fakeRadio) Devices() []*zigbee.RadioDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices
}

func (f *fakeRadio) ReadAttributes(ctx context.Context, ieee string, endpoint uint8, cluster uint16, attrs []uint16) (map[uint16]interface{}, error) {
	return map[uint16]interface{}{}, nil
}

func (f *fakeRadio) WriteAttribute(ctx context.Context, ieee string, endpoint uint8, cluster uint16, attr uint16, value interface{}) error {
	return nil
}

func (f *fakeRadio) Command(ctx context.Context, ieee string, endpoint uint8, cluster uint16, command uint8, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmdErr != nil {
		return f.cmdErr
	}
	f.commands = append(f.commands, fmt.Sprintf("%s/%d/0x%04x/0x%02x", ieee, endpoint, cluster, command))
	return nil
}

func (f *fakeRadio) BindCoordinator(ctx context.Context, ieee string, endpoint uint8, cluster uint16) error {
	return nil
}

func (f *fakeRadio) ConfigureReporting(ctx context.Context, ieee string, endpoint uint8, cluster uint16, cfg zigbee.ReportConfig) error {
	return nil
}

func (f *fakeRadio) Bind(ctx context.Context, src, dst zigbee.BindTarget, cluster uint16) error {
	return nil
}

func (f *fakeRadio) Unbind(ctx context.Context, src, dst zigbee.BindTarget, cluster uint16) error {
	return nil
}

func (f *fakeRadio) AddGroupMember(ctx context.Context, ieee string, endpoint uint8, groupID uint16) error {
	return nil
}

func (f *fakeRadio) RemoveGroupMember(ctx context.Context, ieee string, endpoint uint8, groupID uint16) error {
	return nil
}

func (f *fakeRadio) PermitJoin(ctx context.Context, duration time.Duration) error { return nil }
func (f *fakeRadio) RemoveDevice(ctx context.Context, ieee string) error          { return nil }

func (f *fakeRadio) SetEventHandler(handler func(zigbee.RadioEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeRadio) report(ieee string, endpoint uint8, cluster, attr uint16, value interface{}) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	handler(zigbee.RadioEvent{
		Type:      zigbee.EventAttributeReport,
		Device:    &zigbee.RadioDevice{IEEE: ieee},
		Endpoint:  endpoint,
		Cluster:   cluster,
		Attribute: attr,
		Value:     value,
	})
}

type nopDeviceRepo struct{}

func (nopDeviceRepo) GetAll(ctx context.Context) ([]*models.ZigbeeDevice, error) { return nil, nil }
func (nopDeviceRepo) Get(ctx context.Context, ieee string) (*models.ZigbeeDevice, error) {
	return nil, errors.New("not found")
}
func (nopDeviceRepo) Upsert(ctx context.Context, device *models.ZigbeeDevice) error { return nil }
func (nopDeviceRepo) Delete(ctx context.Context, ieee string) error                 { return nil }
func (nopDeviceRepo) TouchLastSeen(ctx context.Context, ieee string) error          { return nil }

type nopGroupRepo struct{}

func (nopGroupRepo) GetAll(ctx context.Context) ([]*models.ZigbeeGroup, error) { return nil, nil }
func (nopGroupRepo) GetMembers(ctx context.Context, groupID uint16) ([]*models.ZigbeeGroupMember, error) {
	return nil, nil
}
func (nopGroupRepo) Create(ctx context.Context, group *models.ZigbeeGroup) error { return nil }
func (nopGroupRepo) Delete(ctx context.Context, groupID uint16) error            { return nil }
func (nopGroupRepo) AddMember(ctx context.Context, member *models.ZigbeeGroupMember) error {
	return nil
}
func (nopGroupRepo) RemoveMember(ctx context.Context, groupID uint16, ieee string, endpointID uint8) error {
	return nil
}

const testIEEE = "00:11:22:33:44:55:66:77"

func testSetup(t *testing.T) (*Adapter, *fakeRadio, *zigbee.Gateway) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	radio := &fakeRadio{
		devices: []*zigbee.RadioDevice{{
			IEEE:        testIEEE,
			NWK:         0x1a2b,
			Model:       "lumi.plug",
			PowerSource: zigbee.PowerSourceMains,
			LastSeen:    time.Now(),
			Endpoints: []zigbee.RadioEndpoint{{
				ID:            1,
				InputClusters: []uint16{zigbee.ClusterOnOff, zigbee.ClusterTemperature},
			}},
		}},
	}

	gw := zigbee.NewGateway(radio, zigbee.NewClusterRegistry(), nopDeviceRepo{}, nopGroupRepo{}, log)
	require.NoError(t, gw.Start(context.Background()))
	t.Cleanup(func() { gw.Stop() })

	adapter := NewAdapter(gw, log)
	require.NoError(t, adapter.Connect(context.Background()))

	// Devices are unavailable until the first availability tick.
	device, ok := gw.GetDevice(testIEEE)
	require.True(t, ok)
	device.CheckAvailability(context.Background())
	require.True(t, device.Available())

	return adapter, radio, gw
}

func TestSyncEntitiesRendersClusters(t *testing.T) {
	adapter, _, _ := testSetup(t)

	entities, err := adapter.SyncEntities(context.Background())
	require.NoError(t, err)

	byID := map[string]*types.Entity{}
	for _, e := range entities {
		byID[e.ID] = e
	}

	sw, ok := byID["switch.zb_0011223344556677_1"]
	require.True(t, ok, "switch entity missing, got %v", byID)
	assert.Equal(t, types.EntityTypeSwitch, sw.Type)
	assert.Equal(t, types.StateUnknown, sw.State)
	assert.True(t, sw.Available)

	temp, ok := byID["sensor.zb_0011223344556677_1_temperature"]
	require.True(t, ok)
	assert.Equal(t, "°C", temp.Unit)
}

func TestAttributeReportUpdatesState(t *testing.T) {
	adapter, radio, _ := testSetup(t)

	radio.report(testIEEE, 1, zigbee.ClusterOnOff, 0x0000, true)
	radio.report(testIEEE, 1, zigbee.ClusterTemperature, 0x0000, int16(2150))

	entities, err := adapter.SyncEntities(context.Background())
	require.NoError(t, err)

	byID := map[string]*types.Entity{}
	for _, e := range entities {
		byID[e.ID] = e
	}

	assert.Equal(t, types.StateOn, byID["switch.zb_0011223344556677_1"].State)

	temp := byID["sensor.zb_0011223344556677_1_temperature"]
	assert.Equal(t, types.StateActive, temp.State)
	assert.InDelta(t, 21.5, temp.Attributes["value"], 0.001)
}

func TestExecuteActionOnOff(t *testing.T) {
	adapter, radio, _ := testSetup(t)

	result, err := adapter.ExecuteAction(context.Background(), types.ControlAction{
		EntityID: "switch.zb_0011223344556677_1",
		Action:   "turn_on",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, types.StateOn, result.NewState)

	radio.mu.Lock()
	commands := append([]string(nil), radio.commands...)
	radio.mu.Unlock()
	require.Len(t, commands, 1)
	assert.Equal(t, fmt.Sprintf("%s/1/0x0006/0x01", testIEEE), commands[0])
}

func TestExecuteActionOnSensorRejected(t *testing.T) {
	adapter, _, _ := testSetup(t)

	result, err := adapter.ExecuteAction(context.Background(), types.ControlAction{
		EntityID: "sensor.zb_0011223344556677_1_temperature",
		Action:   "turn_on",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.False(t, result.Success)
	assert.Equal(t, "unsupported_action", result.Error.Code)
}

func TestExecuteActionUnknownEntity(t *testing.T) {
	adapter, _, _ := testSetup(t)

	result, err := adapter.ExecuteAction(context.Background(), types.ControlAction{
		EntityID: "switch.zb_deadbeef_1",
		Action:   "turn_on",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Equal(t, "unknown_entity", result.Error.Code)
}

func TestExecuteActionRadioFailure(t *testing.T) {
	adapter, radio, _ := testSetup(t)
	radio.mu.Lock()
	radio.cmdErr = errors.New("radio timeout")
	radio.mu.Unlock()

	result, err := adapter.ExecuteAction(context.Background(), types.ControlAction{
		EntityID: "switch.zb_0011223344556677_1",
		Action:   "turn_off",
	})
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestUnavailableDeviceEntitiesUnavailable(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	// LUMI devices past the mains timeout go unavailable without a
	// liveness probe.
	radio := &fakeRadio{
		devices: []*zigbee.RadioDevice{{
			IEEE:         testIEEE,
			Manufacturer: "LUMI",
			Model:        "lumi.plug",
			PowerSource:  zigbee.PowerSourceMains,
			LastSeen:     time.Now().Add(-3 * time.Hour),
			Endpoints: []zigbee.RadioEndpoint{{
				ID:            1,
				InputClusters: []uint16{zigbee.ClusterOnOff},
			}},
		}},
	}
	gw := zigbee.NewGateway(radio, zigbee.NewClusterRegistry(), nopDeviceRepo{}, nopGroupRepo{}, log)
	require.NoError(t, gw.Start(context.Background()))
	t.Cleanup(func() { gw.Stop() })

	adapter := NewAdapter(gw, log)
	require.NoError(t, adapter.Connect(context.Background()))

	device, ok := gw.GetDevice(testIEEE)
	require.True(t, ok)
	device.CheckAvailability(context.Background())
	require.False(t, device.Available())

	entities, err := adapter.SyncEntities(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, entities)
	for _, e := range entities {
		assert.False(t, e.Available)
		assert.Equal(t, types.StateUnavailable, e.State)
	}
}
