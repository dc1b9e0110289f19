package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/0xmhha/chainsync/pkg/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// subscribeRequest is the client->server message used to change which
// event types a connection receives.
type subscribeRequest struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Types  []string `json:"types"`
}

// Client wraps one WebSocket connection with its own read/write pumps
// and a per-connection subscription set.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	mu     sync.RWMutex
	wanted map[events.EventType]bool
}

// NewClient wraps conn for hub. The caller registers it with the hub and
// starts ReadPump/WritePump in their own goroutines.
func NewClient(hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 64),
		logger: logger,
		wanted: map[events.EventType]bool{
			events.EventTypeBlock:    true,
			events.EventTypeReorg:    true,
			events.EventTypeFinalize: true,
		},
	}
}

// IsSubscribed reports whether this client currently wants events of t.
func (c *Client) IsSubscribed(t events.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wanted[t]
}

func eventTypeByName(name string) (events.EventType, bool) {
	switch name {
	case "block":
		return events.EventTypeBlock, true
	case "reorg":
		return events.EventTypeReorg, true
	case "finalize":
		return events.EventTypeFinalize, true
	default:
		return 0, false
	}
}

// ReadPump reads subscribe/unsubscribe control messages off the socket
// until it errors or closes, then unregisters the client.
func (c *Client) ReadPump() {
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
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.logger.Debug("ignoring malformed websocket control message", zap.Error(err))
			continue
		}
		c.applySubscription(req)
	}
}

func (c *Client) applySubscription(req subscribeRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch req.Action {
	case "subscribe":
		for _, name := range req.Types {
			if t, ok := eventTypeByName(name); ok {
				c.wanted[t] = true
			}
		}
	case "unsubscribe":
		for _, name := range req.Types {
			if t, ok := eventTypeByName(name); ok {
				delete(c.wanted, t)
			}
		}
	}
}

// WritePump drains send onto the socket, pinging on idle, until send is
// closed by the hub or a write fails.
func (c *Client) WritePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
