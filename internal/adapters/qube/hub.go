package qube

import (
	"fmt"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"github.com/sirupsen/logrus"
)

// Connection backoff cap. The hub doubles the wait after each failed
// connect and resets it after a success.
const maxBackoff = 60 * time.Second

// RegisterClient is the slice of the Modbus client the hub needs.
// Tests substitute an in-memory implementation.
type RegisterClient interface {
	Open() error
	Close() error
	ReadRegister(addr uint16, regType modbus.RegType) (uint16, error)
	ReadUint32(addr uint16, regType modbus.RegType) (uint32, error)
	WriteCoil(addr uint16, value bool) error
	ReadCoil(addr uint16) (bool, error)
}

// modbusClient adapts simonvetter/modbus to RegisterClient.
type modbusClient struct {
	*modbus.ModbusClient
}

func (c *modbusClient) ReadRegister(addr uint16, regType modbus.RegType) (uint16, error) {
	return c.ModbusClient.ReadRegister(addr, regType)
}

func (c *modbusClient) ReadUint32(addr uint16, regType modbus.RegType) (uint32, error) {
	return c.ModbusClient.ReadUint32(addr, regType)
}

func (c *modbusClient) ReadCoil(addr uint16) (bool, error) {
	return c.ModbusClient.ReadCoil(addr)
}

// Hub owns the Modbus connection to the heat pump. Register reads get
// a one-step fallback address retry; some firmware revisions shift the
// map by one.
type Hub struct {
	client RegisterClient
	log    *logrus.Entry

	mu        sync.Mutex
	connected bool
	backoff   time.Duration
	nextTry   time.Time
}

// NewHub builds a hub over a TCP Modbus connection.
func NewHub(host string, port int, unitID uint8, log *logrus.Logger) (*Hub, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create modbus client: %w", err)
	}
	if err := client.SetUnitId(unitID); err != nil {
		return nil, fmt.Errorf("failed to set unit id: %w", err)
	}
	return NewHubWithClient(&modbusClient{client}, log), nil
}

// NewHubWithClient wires a hub over any RegisterClient.
func NewHubWithClient(client RegisterClient, log *logrus.Logger) *Hub {
	return &Hub{
		client: client,
		log:    log.WithField("component", "qube_hub"),
	}
}

// Connect opens the Modbus connection, honoring the current backoff
// window. A failure doubles the backoff up to the cap; a success
// resets it to zero.
func (h *Hub) Connect() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connected {
		return nil
	}
	if wait := time.Until(h.nextTry); wait > 0 {
		return fmt.Errorf("connect suppressed, retry in %s", wait.Round(time.Second))
	}

	if err := h.client.Open(); err != nil {
		h.applyBackoffLocked()
		return fmt.Errorf("failed to connect to heat pump: %w", err)
	}

	h.connected = true
	h.backoff = 0
	h.nextTry = time.Time{}
	h.log.Info("connected to heat pump")
	return nil
}

func (h *Hub) applyBackoffLocked() {
	if h.backoff == 0 {
		h.backoff = time.Second
	} else {
		h.backoff *= 2
	}
	if h.backoff > maxBackoff {
		h.backoff = maxBackoff
	}
	h.nextTry = time.Now().Add(h.backoff)
	h.log.WithField("backoff", h.backoff).Warn("connect failed, backing off")
}

// Backoff returns the current backoff interval.
func (h *Hub) Backoff() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.backoff
}

// Connected reports the connection state.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Close shuts the connection down.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected {
		return nil
	}
	h.connected = false
	return h.client.Close()
}

// markDisconnected flags the connection lost so the next Connect
// re-opens it.
func (h *Hub) markDisconnected() {
	h.mu.Lock()
	h.connected = false
	h.mu.Unlock()
}

// ReadHolding reads one holding register with a one-step fallback
// address retry.
func (h *Hub) ReadHolding(addr uint16) (uint16, error) {
	value, err := h.client.ReadRegister(addr, modbus.HOLDING_REGISTER)
	if err == nil {
		return value, nil
	}
	h.log.WithError(err).WithField("addr", addr).Debug("register read failed, trying fallback address")

	value, fallbackErr := h.client.ReadRegister(addr+1, modbus.HOLDING_REGISTER)
	if fallbackErr != nil {
		h.markDisconnected()
		return 0, fmt.Errorf("failed to read register %d (and fallback %d): %w", addr, addr+1, err)
	}
	return value, nil
}

// ReadHoldingUint32 reads a 32-bit holding register pair with the same
// fallback.
func (h *Hub) ReadHoldingUint32(addr uint16) (uint32, error) {
	value, err := h.client.ReadUint32(addr, modbus.HOLDING_REGISTER)
	if err == nil {
		return value, nil
	}

	value, fallbackErr := h.client.ReadUint32(addr+1, modbus.HOLDING_REGISTER)
	if fallbackErr != nil {
		h.markDisconnected()
		return 0, fmt.Errorf("failed to read register %d (and fallback %d): %w", addr, addr+1, err)
	}
	return value, nil
}

// WriteCoil writes one relay coil.
func (h *Hub) WriteCoil(addr uint16, value bool) error {
	if err := h.client.WriteCoil(addr, value); err != nil {
		h.markDisconnected()
		return fmt.Errorf("failed to write coil %d: %w", addr, err)
	}
	return nil
}

// ReadCoil reads one relay coil.
func (h *Hub) ReadCoil(addr uint16) (bool, error) {
	value, err := h.client.ReadCoil(addr)
	if err != nil {
		h.markDisconnected()
		return false, fmt.Errorf("failed to read coil %d: %w", addr, err)
	}
	return value, nil
}
