package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/pkg/errors"
)

// FetchFunc pulls one round of data from a vendor client.
type FetchFunc func(ctx context.Context) (interface{}, error)

// Listener observes coordinator updates. On a failed refresh data is
// nil and ok is false; entities backed by the coordinator render
// unavailable but polling continues.
type Listener func(data interface{}, ok bool)

// Coordinator runs a periodic fetch and fans the result out to
// listeners. Only one fetch is ever in flight; a tick that arrives
// while the previous fetch is still running is skipped.
type Coordinator struct {
	name     string
	interval time.Duration
	fetch    FetchFunc
	log      *logrus.Entry

	mu        sync.RWMutex
	listeners []Listener
	lastData  interface{}
	lastOK    bool
	lastErr   error

	fetching sync.Mutex
	inFlight bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a coordinator. It does not start polling until Start.
func New(name string, interval time.Duration, fetch FetchFunc, log *logrus.Logger) *Coordinator {
	return &Coordinator{
		name:     name,
		interval: interval,
		fetch:    fetch,
		log:      log.WithField("coordinator", name),
		stop:     make(chan struct{}),
	}
}

// AddListener registers a listener. If data is already present the
// listener is called immediately with the cached result.
func (c *Coordinator) AddListener(listener Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, listener)
	data, ok := c.lastData, c.lastOK
	c.mu.Unlock()

	if data != nil || ok {
		listener(data, ok)
	}
}

// Data returns the last successful fetch result.
func (c *Coordinator) Data() (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastData, c.lastOK
}

// LastError returns the error from the most recent failed refresh.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Start performs an initial refresh then begins periodic polling.
func (c *Coordinator) Start(ctx context.Context) {
	c.Refresh(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.Refresh(ctx)
			}
		}
	}()
}

// Stop halts polling and waits for the loop to exit.
func (c *Coordinator) Stop() {
	close(c.stop)
	c.wg.Wait()
}

// Refresh runs one fetch cycle. It returns immediately if a fetch is
// already in flight.
func (c *Coordinator) Refresh(ctx context.Context) {
	c.fetching.Lock()
	if c.inFlight {
		c.fetching.Unlock()
		c.log.Debug("refresh skipped, previous fetch still running")
		return
	}
	c.inFlight = true
	c.fetching.Unlock()

	defer func() {
		c.fetching.Lock()
		c.inFlight = false
		c.fetching.Unlock()
	}()

	data, err := c.fetch(ctx)
	if err != nil {
		c.log.WithError(err).Warn("refresh failed")
		c.mu.Lock()
		c.lastOK = false
		c.lastErr = errors.UpdateFailed(err)
		listeners := c.snapshotListenersLocked()
		c.mu.Unlock()
		for _, l := range listeners {
			l(nil, false)
		}
		return
	}

	c.mu.Lock()
	c.lastData = data
	c.lastOK = true
	c.lastErr = nil
	listeners := c.snapshotListenersLocked()
	c.mu.Unlock()

	for _, l := range listeners {
		l(data, true)
	}
}

func (c *Coordinator) snapshotListenersLocked() []Listener {
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	return listeners
}

// MonotonicGuard keeps total-increasing values from moving backward.
// Registers occasionally glitch to a lower value; the cached value
// wins until a genuinely higher one arrives.
type MonotonicGuard struct {
	mu     sync.Mutex
	cached map[string]float64
}

// NewMonotonicGuard creates an empty guard.
func NewMonotonicGuard() *MonotonicGuard {
	return &MonotonicGuard{cached: make(map[string]float64)}
}

// Apply returns the value to expose for key: the new value if it is
// not lower than the cache, the cached value otherwise.
func (g *MonotonicGuard) Apply(key string, value float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cached, ok := g.cached[key]; ok && value < cached {
		return cached
	}
	g.cached[key] = value
	return value
}

// Reset forgets the cached value for key.
func (g *MonotonicGuard) Reset(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cached, key)
}
