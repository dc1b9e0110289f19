// Package websocket fans the synchronization core's events out to
// WebSocket clients. It is a reference sink, not a query surface: a
// client subscribes to one or more event types and receives the raw
// BlockEvent/ReorgEvent/FinalizeEvent JSON as they are emitted.
package websocket

import (
	"encoding/json"
	"sync"

	"github.com/0xmhha/chainsync/pkg/events"
	"go.uber.org/zap"
)

// Hub maintains the set of active clients and fans out events to the
// ones subscribed to a given event's type.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan events.Event

	logger *zap.Logger
}

// NewHub creates a new Hub. Call Run in a goroutine to start it.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan events.Event, 256),
		logger:     logger,
	}
}

// Run processes register/unregister/broadcast until stopped.
func (h *Hub) Run() {
	for {
		select {
		case client, ok := <-h.register:
			if !ok {
				return
			}
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client registered", zap.Int("totalClients", len(h.clients)))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client unregistered", zap.Int("totalClients", len(h.clients)))

		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// wireEvent is the envelope written to the socket.
type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (h *Hub) broadcastEvent(event events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event for websocket fanout", zap.Error(err))
		return
	}

	message, err := json.Marshal(wireEvent{Type: event.Type().String(), Payload: payload})
	if err != nil {
		h.logger.Error("failed to marshal websocket envelope", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients {
		if !client.IsSubscribed(event.Type()) {
			continue
		}
		select {
		case client.send <- message:
			sent++
		default:
			h.logger.Warn("websocket client send buffer full, dropping client")
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
	h.logger.Debug("event broadcast to websocket clients",
		zap.String("type", event.Type().String()),
		zap.Int("recipients", sent))
}

// Broadcast queues event for fanout, dropping it if the broadcast
// channel is saturated rather than blocking the caller (the pipeline's
// sink path).
func (h *Hub) Broadcast(event events.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("websocket broadcast channel full, dropping event")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every client connection.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.logger.Info("websocket hub stopped")
}
