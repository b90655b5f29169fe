package shelly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	shellyServiceType = "_shelly._tcp"
	shellyDomain      = "local."
	httpTimeout       = 10 * time.Second
	discoveryTimeout  = 30 * time.Second
	rpcUsername       = "admin"
)

// Device is a discovered Shelly device.
type Device struct {
	ID         string    `json:"id"`
	MAC        string    `json:"mac"`
	Model      string    `json:"model"`
	Generation int       `json:"generation"`
	Name       string    `json:"name"`
	IP         string    `json:"ip"`
	Port       int       `json:"port"`
	AuthNeeded bool      `json:"auth_needed"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// SwitchStatus is one switch:N component of a Gen2 status response.
type SwitchStatus struct {
	ID     int      `json:"id"`
	Output bool     `json:"output"`
	APower *float64 `json:"apower,omitempty"`
	AEnergy *struct {
		Total float64 `json:"total"`
	} `json:"aenergy,omitempty"`
}

// CoverStatus is one cover:N component. State is one of open, closed,
// opening, closing, stopped, calibrating.
type CoverStatus struct {
	ID         int    `json:"id"`
	State      string `json:"state"`
	CurrentPos *int   `json:"current_pos,omitempty"`
}

// Status is a parsed Shelly.GetStatus response.
type Status struct {
	Switches []SwitchStatus
	Covers   []CoverStatus
}

type rpcRequest struct {
	ID     int         `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client speaks the Gen2 RPC protocol to one device over HTTP.
type Client struct {
	baseURL    string
	password   string
	httpClient *http.Client
	log        *logrus.Entry

	mu    sync.Mutex
	seqID int
}

// NewClient creates a client for the device at addr (host or host:port).
func NewClient(addr, password string, log *logrus.Logger) *Client {
	if !strings.Contains(addr, ":") {
		addr += ":80"
	}
	return &Client{
		baseURL:    fmt.Sprintf("http://%s/rpc", addr),
		password:   password,
		httpClient: &http.Client{Timeout: httpTimeout},
		log:        log.WithField("component", "shelly_client"),
	}
}

// Call performs one RPC round trip, decoding the result into out when
// out is non-nil.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	c.mu.Lock()
	c.seqID++
	id := c.seqID
	c.mu.Unlock()

	body, err := json.Marshal(rpcRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.password != "" {
		req.SetBasicAuth(rpcUsername, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("rpc call %s failed: authentication required", method)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc call %s failed: status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc call %s failed: %w", method, rpcResp.Error)
	}
	if out != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// GetDeviceInfo calls Shelly.GetDeviceInfo.
func (c *Client) GetDeviceInfo(ctx context.Context) (*Device, error) {
	var info struct {
		ID         string `json:"id"`
		MAC        string `json:"mac"`
		Model      string `json:"model"`
		Generation int    `json:"gen"`
		Name       string `json:"name"`
		AuthEnable bool   `json:"auth_en"`
	}
	if err := c.Call(ctx, "Shelly.GetDeviceInfo", nil, &info); err != nil {
		return nil, err
	}
	return &Device{
		ID:         info.ID,
		MAC:        info.MAC,
		Model:      info.Model,
		Generation: info.Generation,
		Name:       info.Name,
		AuthNeeded: info.AuthEnable,
	}, nil
}

// GetStatus calls Shelly.GetStatus and splits the component keys.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	var raw map[string]json.RawMessage
	if err := c.Call(ctx, "Shelly.GetStatus", nil, &raw); err != nil {
		return nil, err
	}

	status := &Status{}
	for key, value := range raw {
		switch {
		case strings.HasPrefix(key, "switch:"):
			var sw SwitchStatus
			if err := json.Unmarshal(value, &sw); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", key, err)
			}
			status.Switches = append(status.Switches, sw)
		case strings.HasPrefix(key, "cover:"):
			var cv CoverStatus
			if err := json.Unmarshal(value, &cv); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", key, err)
			}
			status.Covers = append(status.Covers, cv)
		}
	}
	return status, nil
}

// SetSwitch calls Switch.Set on component id.
func (c *Client) SetSwitch(ctx context.Context, id int, on bool) error {
	return c.Call(ctx, "Switch.Set", map[string]interface{}{"id": id, "on": on}, nil)
}

// OpenCover, CloseCover, StopCover and SetCoverPosition drive one
// cover component.
func (c *Client) OpenCover(ctx context.Context, id int) error {
	return c.Call(ctx, "Cover.Open", map[string]interface{}{"id": id}, nil)
}

func (c *Client) CloseCover(ctx context.Context, id int) error {
	return c.Call(ctx, "Cover.Close", map[string]interface{}{"id": id}, nil)
}

func (c *Client) StopCover(ctx context.Context, id int) error {
	return c.Call(ctx, "Cover.Stop", map[string]interface{}{"id": id}, nil)
}

func (c *Client) SetCoverPosition(ctx context.Context, id, pos int) error {
	if pos < 0 || pos > 100 {
		return fmt.Errorf("cover position out of range: %d", pos)
	}
	return c.Call(ctx, "Cover.GoToPosition", map[string]interface{}{"id": id, "pos": pos}, nil)
}

// Discover browses mDNS for Shelly devices until the timeout elapses.
func Discover(ctx context.Context, log *logrus.Logger) ([]*Device, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 10)
	browseCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	go func() {
		if err := resolver.Browse(browseCtx, shellyServiceType, shellyDomain, entries); err != nil {
			log.WithError(err).Error("mdns browse failed")
			close(entries)
		}
	}()

	var devices []*Device
	now := time.Now()
	for entry := range entries {
		if len(entry.AddrIPv4) == 0 {
			continue
		}
		if !strings.Contains(strings.ToLower(entry.Instance), "shelly") {
			continue
		}
		devices = append(devices, &Device{
			ID:        strings.ToLower(entry.Instance),
			Name:      entry.Instance,
			IP:        entry.AddrIPv4[0].String(),
			Port:      entry.Port,
			FirstSeen: now,
			LastSeen:  now,
		})
	}
	return devices, nil
}
