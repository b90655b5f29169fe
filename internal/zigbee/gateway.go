package zigbee

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/database/models"
	"github.com/hearth-home/hearth-backend-go/internal/database/repositories"
)

// Group IDs 0 and 1 are reserved; allocation starts at 2.
const firstGroupID uint16 = 2

// EntityReference links a gateway device to one unified entity so
// removals can clean the entity registry.
type EntityReference struct {
	EntityID string
	Endpoint uint8
	Cluster  uint16
}

// Gateway owns the device map, the group map, and entity references
// for one radio. It is created per config entry; there is no shared
// global state.
type Gateway struct {
	radio    Radio
	registry *ClusterRegistry
	devices  repositories.ZigbeeDeviceRepository
	groups   repositories.ZigbeeGroupRepository
	log      *logrus.Logger

	mu         sync.RWMutex
	deviceMap  map[string]*Device
	groupMap   map[uint16]*Group
	entityRefs map[string][]EntityReference

	deviceListeners []func(*Device, bool) // device, joined
	stop            chan struct{}
	wg              sync.WaitGroup
}

// NewGateway wires a gateway over a radio and its repositories.
func NewGateway(radio Radio, registry *ClusterRegistry, devices repositories.ZigbeeDeviceRepository, groups repositories.ZigbeeGroupRepository, log *logrus.Logger) *Gateway {
	gw := &Gateway{
		radio:      radio,
		registry:   registry,
		devices:    devices,
		groups:     groups,
		log:        log,
		deviceMap:  make(map[string]*Device),
		groupMap:   make(map[uint16]*Group),
		entityRefs: make(map[string][]EntityReference),
		stop:       make(chan struct{}),
	}
	radio.SetEventHandler(gw.handleRadioEvent)
	return gw
}

// Start restores devices and groups from storage, starts the radio,
// and begins the availability loop.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.restore(ctx); err != nil {
		return fmt.Errorf("failed to restore gateway state: %w", err)
	}

	if err := g.radio.Start(ctx); err != nil {
		return fmt.Errorf("failed to start radio: %w", err)
	}

	// Fold in anything the radio knows that storage does not.
	for _, rd := range g.radio.Devices() {
		if _, known := g.GetDevice(rd.IEEE); !known {
			g.addDevice(ctx, rd)
		}
	}

	g.wg.Add(1)
	go g.availabilityLoop()

	g.log.WithField("devices", len(g.deviceMap)).Info("zigbee gateway started")
	return nil
}

// Stop shuts down the availability loop and the radio.
func (g *Gateway) Stop() error {
	close(g.stop)
	g.wg.Wait()
	return g.radio.Stop()
}

// OnDeviceChange registers a listener for joins and leaves.
func (g *Gateway) OnDeviceChange(listener func(device *Device, joined bool)) {
	g.mu.Lock()
	g.deviceListeners = append(g.deviceListeners, listener)
	g.mu.Unlock()
}

// GetDevice returns a device by IEEE address.
func (g *Gateway) GetDevice(ieee string) (*Device, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.deviceMap[ieee]
	return d, ok
}

// Devices returns a snapshot of all devices.
func (g *Gateway) Devices() []*Device {
	g.mu.RLock()
	defer g.mu.RUnlock()
	devices := make([]*Device, 0, len(g.deviceMap))
	for _, d := range g.deviceMap {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].IEEE < devices[j].IEEE })
	return devices
}

// Groups returns a snapshot of all groups.
func (g *Gateway) Groups() []*Group {
	g.mu.RLock()
	defer g.mu.RUnlock()
	groups := make([]*Group, 0, len(g.groupMap))
	for _, grp := range g.groupMap {
		groups = append(groups, grp)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// RegisterEntityRef records an entity binding for cleanup on removal.
func (g *Gateway) RegisterEntityRef(ieee string, ref EntityReference) {
	g.mu.Lock()
	g.entityRefs[ieee] = append(g.entityRefs[ieee], ref)
	g.mu.Unlock()
}

// EntityRefs returns the entity bindings for a device.
func (g *Gateway) EntityRefs(ieee string) []EntityReference {
	g.mu.RLock()
	defer g.mu.RUnlock()
	refs := make([]EntityReference, len(g.entityRefs[ieee]))
	copy(refs, g.entityRefs[ieee])
	return refs
}

// PermitJoin opens the network for new devices.
func (g *Gateway) PermitJoin(ctx context.Context, duration time.Duration) error {
	return g.radio.PermitJoin(ctx, duration)
}

// SendCommand issues a ZCL cluster command to a paired device. Used by
// the entity layer for on/off and level control.
func (g *Gateway) SendCommand(ctx context.Context, ieee string, endpoint uint8, cluster uint16, command uint8, args ...interface{}) error {
	device, ok := g.GetDevice(ieee)
	if !ok {
		return fmt.Errorf("unknown device: %s", ieee)
	}
	if err := g.radio.Command(ctx, ieee, endpoint, cluster, command, args...); err != nil {
		return err
	}
	device.Seen()
	return nil
}

// RemoveDevice asks a device to leave and drops all local state.
func (g *Gateway) RemoveDevice(ctx context.Context, ieee string) error {
	device, ok := g.GetDevice(ieee)
	if !ok {
		return fmt.Errorf("unknown device: %s", ieee)
	}

	if err := g.radio.RemoveDevice(ctx, ieee); err != nil {
		g.log.WithError(err).WithField("ieee", ieee).Warn("leave request failed, removing anyway")
	}

	g.dropDevice(ctx, device)
	return nil
}

// CreateGroup allocates the lowest unused group id >= 2, persists the
// group, and fans out member adds concurrently. Per-member failures
// are logged and tolerated.
func (g *Gateway) CreateGroup(ctx context.Context, name string, members []GroupMember) (*Group, error) {
	g.mu.Lock()
	groupID := firstGroupID
	for {
		if _, used := g.groupMap[groupID]; !used {
			break
		}
		groupID++
	}
	group := &Group{ID: groupID, Name: name}
	g.groupMap[groupID] = group
	g.mu.Unlock()

	if err := g.groups.Create(ctx, &models.ZigbeeGroup{
		GroupID:   groupID,
		Name:      name,
		CreatedAt: time.Now(),
	}); err != nil {
		g.mu.Lock()
		delete(g.groupMap, groupID)
		g.mu.Unlock()
		return nil, err
	}

	g.fanOutGroupOp(ctx, group, members, true)
	return group, nil
}

// RemoveGroup mirrors removal to the radio network and cleans storage.
func (g *Gateway) RemoveGroup(ctx context.Context, groupID uint16) error {
	g.mu.Lock()
	group, ok := g.groupMap[groupID]
	if ok {
		delete(g.groupMap, groupID)
	}
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown group: %d", groupID)
	}

	g.fanOutGroupOp(ctx, group, group.Members, false)
	return g.groups.Delete(ctx, groupID)
}

// AddGroupMembers adds members to an existing group.
func (g *Gateway) AddGroupMembers(ctx context.Context, groupID uint16, members []GroupMember) error {
	g.mu.RLock()
	group, ok := g.groupMap[groupID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown group: %d", groupID)
	}
	g.fanOutGroupOp(ctx, group, members, true)
	return nil
}

// RemoveGroupMembers removes members from an existing group.
func (g *Gateway) RemoveGroupMembers(ctx context.Context, groupID uint16, members []GroupMember) error {
	g.mu.RLock()
	group, ok := g.groupMap[groupID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown group: %d", groupID)
	}

	var wg sync.WaitGroup
	for _, member := range members {
		wg.Add(1)
		go func(m GroupMember) {
			defer wg.Done()
			if err := g.radio.RemoveGroupMember(ctx, m.IEEE, m.Endpoint, groupID); err != nil {
				g.log.WithError(err).WithFields(logrus.Fields{
					"group": groupID, "ieee": m.IEEE,
				}).Error("failed to remove group member")
				return
			}
			g.groups.RemoveMember(ctx, groupID, m.IEEE, m.Endpoint)
			g.mu.Lock()
			for i, existing := range group.Members {
				if existing.IEEE == m.IEEE && existing.Endpoint == m.Endpoint {
					group.Members = append(group.Members[:i], group.Members[i+1:]...)
					break
				}
			}
			g.mu.Unlock()
		}(member)
	}
	wg.Wait()
	return nil
}

// fanOutGroupOp issues per-member radio calls concurrently.
func (g *Gateway) fanOutGroupOp(ctx context.Context, group *Group, members []GroupMember, add bool) {
	var wg sync.WaitGroup
	for _, member := range members {
		wg.Add(1)
		go func(m GroupMember) {
			defer wg.Done()
			var err error
			if add {
				err = g.radio.AddGroupMember(ctx, m.IEEE, m.Endpoint, group.ID)
			} else {
				err = g.radio.RemoveGroupMember(ctx, m.IEEE, m.Endpoint, group.ID)
			}
			if err != nil {
				g.log.WithError(err).WithFields(logrus.Fields{
					"group": group.ID, "ieee": m.IEEE, "endpoint": m.Endpoint, "add": add,
				}).Error("group membership call failed")
				return
			}
			if add {
				g.groups.AddMember(ctx, &models.ZigbeeGroupMember{
					GroupID: group.ID, IEEE: m.IEEE, EndpointID: m.Endpoint,
				})
				g.mu.Lock()
				if !group.HasMember(m.IEEE, m.Endpoint) {
					group.Members = append(group.Members, m)
				}
				g.mu.Unlock()
			}
		}(member)
	}
	wg.Wait()
}

// BindDevices walks the bindable clusters both devices implement and
// issues ZDO Bind_req calls concurrently. Per-cluster failures are
// collected and logged; partial success is tolerated.
func (g *Gateway) BindDevices(ctx context.Context, srcIEEE, dstIEEE string) []error {
	return g.bindOp(ctx, srcIEEE, dstIEEE, true)
}

// UnbindDevices mirrors BindDevices with Unbind_req.
func (g *Gateway) UnbindDevices(ctx context.Context, srcIEEE, dstIEEE string) []error {
	return g.bindOp(ctx, srcIEEE, dstIEEE, false)
}

func (g *Gateway) bindOp(ctx context.Context, srcIEEE, dstIEEE string, bind bool) []error {
	src, srcOK := g.GetDevice(srcIEEE)
	dst, dstOK := g.GetDevice(dstIEEE)
	if !srcOK || !dstOK {
		return []error{fmt.Errorf("unknown device pair: %s -> %s", srcIEEE, dstIEEE)}
	}

	type pair struct {
		srcEp, dstEp uint8
		cluster      uint16
	}
	var pairs []pair
	for _, cluster := range bindableClusters {
		for _, srcPool := range src.Pools() {
			if _, ok := srcPool.Channels[cluster]; !ok {
				continue
			}
			for _, dstPool := range dst.Pools() {
				if _, ok := dstPool.Channels[cluster]; ok {
					pairs = append(pairs, pair{srcPool.EndpointID, dstPool.EndpointID, cluster})
				}
			}
		}
	}

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, p := range pairs {
		wg.Add(1)
		go func(p pair) {
			defer wg.Done()
			srcTarget := BindTarget{IEEE: srcIEEE, Endpoint: p.srcEp}
			dstTarget := BindTarget{IEEE: dstIEEE, Endpoint: p.dstEp}
			var err error
			if bind {
				err = g.radio.Bind(ctx, srcTarget, dstTarget, p.cluster)
			} else {
				err = g.radio.Unbind(ctx, srcTarget, dstTarget, p.cluster)
			}
			if err != nil {
				g.log.WithError(err).WithFields(logrus.Fields{
					"src": srcIEEE, "dst": dstIEEE, "cluster": p.cluster, "bind": bind,
				}).Error("zdo bind request failed")
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return errs
}

// restore rebuilds the device and group maps from storage.
func (g *Gateway) restore(ctx context.Context) error {
	rows, err := g.devices.GetAll(ctx)
	if err != nil {
		return err
	}

	radioView := make(map[string]*RadioDevice)
	for _, rd := range g.radio.Devices() {
		radioView[rd.IEEE] = rd
	}

	for _, row := range rows {
		rd, ok := radioView[row.IEEE]
		if !ok {
			// Stored but unknown to the radio: keep a shell so the
			// availability loop reports it unavailable.
			rd = &RadioDevice{
				IEEE:         row.IEEE,
				NWK:          row.NWK,
				Manufacturer: row.Manufacturer,
				Model:        row.Model,
				PowerSource:  PowerSource(row.PowerSource),
				LastSeen:     row.LastSeen,
			}
		} else {
			rd.LastSeen = row.LastSeen
		}
		device := NewDevice(g.radio, rd, g.registry, g.log)
		device.setReinitHook(func(ctx context.Context) { device.Initialize(ctx, false) })
		g.mu.Lock()
		g.deviceMap[device.IEEE] = device
		g.mu.Unlock()
	}

	groupRows, err := g.groups.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, row := range groupRows {
		group := &Group{ID: row.GroupID, Name: row.Name}
		members, err := g.groups.GetMembers(ctx, row.GroupID)
		if err != nil {
			return err
		}
		for _, m := range members {
			group.Members = append(group.Members, GroupMember{IEEE: m.IEEE, Endpoint: m.EndpointID})
		}
		g.mu.Lock()
		g.groupMap[group.ID] = group
		g.mu.Unlock()
	}

	return nil
}

// addDevice handles a newly joined device.
func (g *Gateway) addDevice(ctx context.Context, rd *RadioDevice) {
	device := NewDevice(g.radio, rd, g.registry, g.log)
	device.setReinitHook(func(ctx context.Context) { device.Initialize(ctx, false) })

	g.mu.Lock()
	g.deviceMap[device.IEEE] = device
	listeners := make([]func(*Device, bool), len(g.deviceListeners))
	copy(listeners, g.deviceListeners)
	g.mu.Unlock()

	if err := device.Configure(ctx); err != nil {
		g.log.WithError(err).WithField("ieee", device.IEEE).Error("device configuration failed")
	}

	if err := g.devices.Upsert(ctx, &models.ZigbeeDevice{
		IEEE:         device.IEEE,
		NWK:          device.NWK,
		Manufacturer: device.Manufacturer,
		Model:        device.Model,
		Name:         sql.NullString{},
		PowerSource:  string(device.PowerSource),
		LastSeen:     device.LastSeen(),
		CreatedAt:    time.Now(),
	}); err != nil {
		g.log.WithError(err).WithField("ieee", device.IEEE).Error("failed to persist device")
	}

	for _, listener := range listeners {
		listener(device, true)
	}
}

// dropDevice removes a device and its entity references.
func (g *Gateway) dropDevice(ctx context.Context, device *Device) {
	g.mu.Lock()
	delete(g.deviceMap, device.IEEE)
	delete(g.entityRefs, device.IEEE)
	listeners := make([]func(*Device, bool), len(g.deviceListeners))
	copy(listeners, g.deviceListeners)
	g.mu.Unlock()

	if err := g.devices.Delete(ctx, device.IEEE); err != nil {
		g.log.WithError(err).WithField("ieee", device.IEEE).Error("failed to delete device row")
	}

	for _, listener := range listeners {
		listener(device, false)
	}
}

// handleRadioEvent consumes joins, leaves, and attribute reports.
func (g *Gateway) handleRadioEvent(event RadioEvent) {
	ctx := context.Background()
	switch event.Type {
	case EventDeviceJoined:
		g.log.WithField("ieee", event.Device.IEEE).Info("device joined")
		g.addDevice(ctx, event.Device)

	case EventDeviceLeft:
		if device, ok := g.GetDevice(event.Device.IEEE); ok {
			g.log.WithField("ieee", device.IEEE).Info("device left")
			g.dropDevice(ctx, device)
		}

	case EventAttributeReport:
		device, ok := g.GetDevice(event.Device.IEEE)
		if !ok {
			return
		}
		device.Seen()
		g.devices.TouchLastSeen(ctx, device.IEEE)
		if ch, ok := device.Channel(event.Endpoint, event.Cluster); ok {
			ch.HandleAttributeUpdate(event.Attribute, event.Value)
		}
	}
}

// availabilityLoop ticks each device's availability check on a
// jittered interval.
func (g *Gateway) availabilityLoop() {
	defer g.wg.Done()

	jitterRange := availabilityTickMax - availabilityTickMin
	timer := time.NewTimer(availabilityTickMin + time.Duration(rand.Int63n(int64(jitterRange))))
	defer timer.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			for _, device := range g.Devices() {
				device.CheckAvailability(ctx)
			}
			cancel()
			timer.Reset(availabilityTickMin + time.Duration(rand.Int63n(int64(jitterRange))))
		}
	}
}
