package miio

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	miioPort       = 54321
	requestTimeout = 5 * time.Second
)

// Commander abstracts the miio transport so the adapter can be tested
// without a device on the network.
type Commander interface {
	Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	Close() error
}

type rpcReply struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client speaks the miio UDP protocol to one device. The handshake
// learns the device id and clock stamp; every request carries a stamp
// advanced by the elapsed wall time since.
type Client struct {
	addr   string
	cipher *cipherPair
	log    *logrus.Entry

	mu        sync.Mutex
	conn      net.Conn
	deviceID  uint32
	stamp     uint32
	stampTime time.Time
	seqID     int
}

// NewClient creates a client for host using the device's hex token.
func NewClient(host, hexToken string, log *logrus.Logger) (*Client, error) {
	token, err := hex.DecodeString(hexToken)
	if err != nil {
		return nil, fmt.Errorf("invalid miio token: %w", err)
	}
	cip, err := newCipherPair(token)
	if err != nil {
		return nil, err
	}
	return &Client{
		addr:   fmt.Sprintf("%s:%d", host, miioPort),
		cipher: cip,
		log:    log.WithField("component", "miio_client"),
	}, nil
}

// handshakeLocked dials and sends a hello probe to learn device id and
// stamp.
func (c *Client) handshakeLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.addr, err)
	}

	deadline := time.Now().Add(requestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(helloPacket()); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send hello: %w", err)
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return fmt.Errorf("no hello reply from %s: %w", c.addr, err)
	}
	reply, err := decodePacket(c.cipher, buf[:n])
	if err != nil {
		conn.Close()
		return fmt.Errorf("bad hello reply: %w", err)
	}

	c.conn = conn
	c.deviceID = reply.DeviceID
	c.stamp = reply.Stamp
	c.stampTime = time.Now()
	c.log.WithField("device_id", c.deviceID).Debug("miio handshake complete")
	return nil
}

// Send issues one miio RPC and waits for the matching reply.
func (c *Client) Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.handshakeLocked(ctx); err != nil {
		return nil, err
	}

	c.seqID++
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":     c.seqID,
		"method": method,
		"params": params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode miio request: %w", err)
	}

	stamp := c.stamp + uint32(time.Since(c.stampTime)/time.Second)
	raw, err := encodePacket(c.cipher, &packet{
		DeviceID: c.deviceID,
		Stamp:    stamp,
		Payload:  payload,
	})
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(requestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(raw); err != nil {
		c.resetLocked()
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	buf := make([]byte, 4096)
	n, err := c.conn.Read(buf)
	if err != nil {
		c.resetLocked()
		return nil, fmt.Errorf("no reply to %s: %w", method, err)
	}
	reply, err := decodePacket(c.cipher, buf[:n])
	if err != nil {
		return nil, fmt.Errorf("bad reply to %s: %w", method, err)
	}

	var resp rpcReply
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode %s reply: %w", method, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("miio error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

func (c *Client) resetLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close shuts the UDP socket down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	return nil
}
