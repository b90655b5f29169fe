package zigbee

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Availability tuning. Battery devices sleep for long stretches, so
// their timeout is much wider than for mains-powered ones.
const (
	mainsTimeout        = 2 * time.Hour
	batteryTimeout      = 6 * time.Hour
	checkinGracePeriods = 2

	// Checks are jittered inside this window so a large network does
	// not probe every device on the same tick.
	availabilityTickMin = 60 * time.Second
	availabilityTickMax = 90 * time.Second
)

// Manufacturers whose devices never answer a liveness read. They go
// straight to unavailable once the timeout passes.
const manufacturerLumi = "LUMI"

// DeviceStatus tracks a device through its lifecycle.
type DeviceStatus int

const (
	DeviceCreated DeviceStatus = iota
	DeviceInitialized
)

// EndpointPool groups the channels of one endpoint.
type EndpointPool struct {
	EndpointID uint8
	Channels   map[uint16]ChannelHandler
}

// Device wraps one radio device: identification, endpoint channel
// pools, and the availability state machine.
type Device struct {
	radio Radio
	log   *logrus.Entry

	IEEE         string
	NWK          uint16
	Manufacturer string
	Model        string
	PowerSource  PowerSource

	// From the model quirk, if one is registered.
	passiveCheckin  bool
	timeoutOverride time.Duration

	mu          sync.RWMutex
	status      DeviceStatus
	lastSeen    time.Time
	available   bool
	checkinMiss int
	pools       []*EndpointPool

	availabilityListeners []func(available bool)
	reinitHook            func(ctx context.Context)
}

// NewDevice builds a Device and its channel pools from the radio view.
// Channels are resolved against the registry here, once.
func NewDevice(radio Radio, rd *RadioDevice, registry *ClusterRegistry, log *logrus.Logger) *Device {
	d := &Device{
		radio:        radio,
		IEEE:         rd.IEEE,
		NWK:          rd.NWK,
		Manufacturer: rd.Manufacturer,
		Model:        rd.Model,
		PowerSource:  rd.PowerSource,
		lastSeen:     rd.LastSeen,
		log: log.WithFields(logrus.Fields{
			"ieee":  rd.IEEE,
			"model": rd.Model,
		}),
	}
	if d.lastSeen.IsZero() {
		d.lastSeen = time.Now()
	}

	if q, ok := registry.Quirk(rd.Model); ok {
		d.passiveCheckin = q.PassiveCheckin
		d.timeoutOverride = q.AvailabilityTimeout
	}

	for _, ep := range rd.Endpoints {
		pool := &EndpointPool{EndpointID: ep.ID, Channels: make(map[uint16]ChannelHandler)}
		for _, cluster := range ep.InputClusters {
			if def, ok := registry.Get(cluster); ok {
				pool.Channels[cluster] = newChannelForCluster(radio, rd.IEEE, ep.ID, def, log)
			}
		}
		if len(pool.Channels) > 0 {
			d.pools = append(d.pools, pool)
		}
	}

	return d
}

// Status returns the lifecycle status.
func (d *Device) Status() DeviceStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Available reports the current availability.
func (d *Device) Available() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.available
}

// LastSeen returns the last time the device was heard from.
func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// Seen records radio traffic from the device.
func (d *Device) Seen() {
	d.mu.Lock()
	d.lastSeen = time.Now()
	d.mu.Unlock()
}

// Pools returns the endpoint channel pools.
func (d *Device) Pools() []*EndpointPool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pools
}

// Channel finds a channel handler by endpoint and cluster.
func (d *Device) Channel(endpoint uint8, cluster uint16) (ChannelHandler, bool) {
	for _, pool := range d.Pools() {
		if pool.EndpointID == endpoint {
			ch, ok := pool.Channels[cluster]
			return ch, ok
		}
	}
	return nil, false
}

// OnAvailabilityChange registers a listener for availability flips.
func (d *Device) OnAvailabilityChange(listener func(available bool)) {
	d.mu.Lock()
	d.availabilityListeners = append(d.availabilityListeners, listener)
	d.mu.Unlock()
}

// setReinitHook installs the gateway's re-initialization dispatch. It
// runs before availability listeners observe a recovery, so entities
// never read stale attribute caches.
func (d *Device) setReinitHook(hook func(ctx context.Context)) {
	d.mu.Lock()
	d.reinitHook = hook
	d.mu.Unlock()
}

// Configure runs Configure then Initialize on every channel.
func (d *Device) Configure(ctx context.Context) error {
	for _, pool := range d.Pools() {
		for _, ch := range pool.Channels {
			if err := ch.Configure(ctx); err != nil {
				return err
			}
			if err := ch.Initialize(ctx, false); err != nil {
				return err
			}
		}
	}

	d.mu.Lock()
	d.status = DeviceInitialized
	d.available = true
	d.mu.Unlock()

	d.log.Info("device configured and initialized")
	return nil
}

// Initialize re-runs channel initialization, optionally from cache.
func (d *Device) Initialize(ctx context.Context, fromCache bool) error {
	for _, pool := range d.Pools() {
		for _, ch := range pool.Channels {
			if err := ch.Initialize(ctx, fromCache); err != nil {
				return err
			}
		}
	}
	d.mu.Lock()
	d.status = DeviceInitialized
	d.mu.Unlock()
	return nil
}

// availabilityTimeout picks the timeout for the device's power source,
// unless a quirk overrides it.
func (d *Device) availabilityTimeout() time.Duration {
	if d.timeoutOverride > 0 {
		return d.timeoutOverride
	}
	if d.PowerSource == PowerSourceBattery {
		return batteryTimeout
	}
	return mainsTimeout
}

// CheckAvailability runs one tick of the availability state machine:
//
//	unseen -> available -> missed-checkin(1..N) -> unavailable
//
// A device recently heard from is available and its miss counter
// resets. Past the timeout the device gets up to checkinGracePeriods
// liveness probes (a basic-cluster attribute read) before it is marked
// unavailable. Devices that never answer probes (LUMI, or a
// passive-checkin quirk) and devices with no configured channel pools
// skip the probes.
func (d *Device) CheckAvailability(ctx context.Context) {
	d.mu.Lock()
	elapsed := time.Since(d.lastSeen)
	timeout := d.availabilityTimeout()

	if elapsed < timeout {
		d.checkinMiss = 0
		d.markAvailableLocked(ctx, true)
		d.mu.Unlock()
		return
	}

	if d.Manufacturer == manufacturerLumi || d.passiveCheckin || len(d.pools) == 0 {
		d.markAvailableLocked(ctx, false)
		d.mu.Unlock()
		return
	}

	if d.checkinMiss >= checkinGracePeriods {
		d.markAvailableLocked(ctx, false)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	// Liveness probe outside the lock; the read can take seconds.
	endpoint := d.Pools()[0].EndpointID
	_, err := d.radio.ReadAttributes(ctx, d.IEEE, endpoint, ClusterBasic, []uint16{AttrBasicZCLVersion})

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.checkinMiss++
		d.log.WithError(err).WithField("misses", d.checkinMiss).Debug("liveness probe failed")
		if d.checkinMiss >= checkinGracePeriods {
			d.markAvailableLocked(ctx, false)
		}
		return
	}

	d.checkinMiss = 0
	d.lastSeen = time.Now()
	d.markAvailableLocked(ctx, true)
}

// markAvailableLocked applies an availability transition. Must be
// called with d.mu held; listeners run with the lock released.
func (d *Device) markAvailableLocked(ctx context.Context, available bool) {
	if d.available == available {
		return
	}
	wasAvailable := d.available
	d.available = available
	reinit := d.reinitHook
	listeners := make([]func(bool), len(d.availabilityListeners))
	copy(listeners, d.availabilityListeners)

	d.mu.Unlock()
	defer d.mu.Lock()

	if available && !wasAvailable {
		d.log.Info("device became available")
		// Refresh stale attribute caches before entities see the flip.
		if reinit != nil {
			reinit(ctx)
		}
	} else {
		d.log.Warn("device became unavailable")
	}

	for _, listener := range listeners {
		listener(available)
	}
}
