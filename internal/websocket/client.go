package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/core/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is the middleman between one websocket connection and the
// hub. Clients may subscribe to a subset of sources; with no
// subscription they receive everything.
type Client struct {
	ID          string
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time

	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *logrus.Logger

	mu      sync.RWMutex
	sources map[types.Source]bool
}

// HandleWebSocket upgrades the request and attaches the client to the
// hub.
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.WithError(err).Error("failed to upgrade websocket connection")
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.Header.Get("User-Agent"),
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, 256),
		hub:         hub,
		logger:      hub.logger,
		sources:     make(map[types.Source]bool),
	}

	client.hub.register <- client
	go client.writePump()
	go client.readPump()
}

// HandleWebSocketGin adapts HandleWebSocket for the gin router.
func HandleWebSocketGin(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		HandleWebSocket(hub, c.Writer, c.Request)
	}
}

// wantsMessage filters broadcast frames against the client's source
// subscriptions.
func (c *Client) wantsMessage(raw []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.sources) == 0 {
		return true
	}

	var msg struct {
		Data struct {
			Source string `json:"source"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Data.Source == "" {
		return true
	}
	return c.sources[types.Source(msg.Data.Source)]
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("websocket connection error")
			}
			break
		}
		c.handleMessage(message)

		c.hub.mu.Lock()
		c.hub.stats.MessagesReceived++
		c.hub.mu.Unlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush queued frames into the same write.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.WithError(err).Error("failed to unmarshal websocket message")
		return
	}

	switch msg.Type {
	case "subscribe_source":
		if source, ok := msg.Data["source"].(string); ok {
			c.subscribe(types.Source(source))
		}
	case "unsubscribe_source":
		if source, ok := msg.Data["source"].(string); ok {
			c.unsubscribe(types.Source(source))
		}
	case "ping":
		pong := Message{Type: "pong", Data: map[string]interface{}{}}
		c.send <- pong.ToJSON()
	default:
		c.logger.WithField("message_type", msg.Type).Warn("unknown websocket message type")
	}
}

func (c *Client) subscribe(source types.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[source] = true
}

func (c *Client) unsubscribe(source types.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sources, source)
}
