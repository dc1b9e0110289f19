package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/0xmhha/chainsync/pkg/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades HTTP connections to WebSocket and wires them into a
// Hub, and subscribes that Hub to an events.EventBus so every emitted
// event is fanned out to connected clients.
type Server struct {
	hub    *Hub
	bus    *events.EventBus
	subID  events.SubscriptionID
	logger *zap.Logger
}

// NewServer starts a Hub and, if bus is non-nil, subscribes it to every
// event type so connected clients receive live fanout.
func NewServer(bus *events.EventBus, logger *zap.Logger) *Server {
	hub := NewHub(logger)
	go hub.Run()

	s := &Server{hub: hub, bus: bus, logger: logger}

	if bus != nil {
		s.subID = events.SubscriptionID("websocket-fanout")
		sub := bus.Subscribe(s.subID, []events.EventType{
			events.EventTypeBlock,
			events.EventTypeReorg,
			events.EventTypeFinalize,
		}, 256)
		go s.pump(sub)
	}

	return s
}

func (s *Server) pump(sub *events.Subscription) {
	for event := range sub.Channel {
		s.hub.Broadcast(event)
	}
}

// ServeHTTP upgrades the request and registers the resulting client with
// the hub.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(s.hub, conn, s.logger)
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()

	s.logger.Info("websocket client connected", zap.String("remoteAddr", r.RemoteAddr))
}

// Hub returns the underlying hub.
func (s *Server) Hub() *Hub { return s.hub }

// Stop tears down the hub and unsubscribes from the event bus.
func (s *Server) Stop() {
	if s.bus != nil {
		s.bus.Unsubscribe(s.subID)
	}
	s.hub.Stop()
}
