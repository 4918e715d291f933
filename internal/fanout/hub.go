// Package fanout implements the Thing/Property Fan-out Hub described in
// spec.md §4.5: a broadcast hub that pushes connected-state and
// property-change events to every subscribed UI WebSocket client, with
// per-sink back-pressure isolation so one slow client cannot block the
// rest.
//
// Grounded on the teacher's internal/websocket/hub.go (register/
// unregister/broadcast channels, one goroutine per Hub, slow-client
// eviction) generalized to the single-tenant shape of
// _examples/original_source/src/things_socket.rs (one sink set, no
// per-org scoping, a tagged JSON envelope keyed by messageType).
package fanout

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webthingsio/gateway/internal/logger"
	"github.com/webthingsio/gateway/internal/wire"
)

const sendBuffer = 256

// sink is one subscribed UI connection.
type sink struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is the fan-out singleton: exactly one per gateway process, per
// spec.md's "Global singletons" design note.
type Hub struct {
	mu    sync.RWMutex
	sinks map[*sink]bool

	broadcast  chan []byte
	register   chan *sink
	unregister chan *sink

	nats NATSPublisher
}

// NATSPublisher is the narrow interface the optional secondary fan-out
// sink needs; nil when NATS is not configured.
type NATSPublisher interface {
	Publish(subject string, data []byte) error
}

// NewHub returns a Hub with its background loop not yet started; call
// Run in its own goroutine.
func NewHub(nats NATSPublisher) *Hub {
	return &Hub{
		sinks:      make(map[*sink]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *sink),
		unregister: make(chan *sink),
		nats:       nats,
	}
}

// Run drains the register/unregister/broadcast channels until the
// process exits. It is the single writer to h.sinks.
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.sinks[s] = true
			h.mu.Unlock()

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.sinks[s]; ok {
				delete(h.sinks, s)
				close(s.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			var stale []*sink
			for s := range h.sinks {
				select {
				case s.send <- message:
				default:
					stale = append(stale, s)
				}
			}
			h.mu.RUnlock()

			if len(stale) == 0 {
				continue
			}
			h.mu.Lock()
			for _, s := range stale {
				if _, ok := h.sinks[s]; ok {
					delete(h.sinks, s)
					close(s.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Subscribe upgrades conn into a registered sink and spawns its write
// pump. Call from the HTTP handler that accepted the WebSocket upgrade.
func (h *Hub) Subscribe(conn *websocket.Conn) {
	s := &sink{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- s
	go h.writePump(s)
}

func (h *Hub) writePump(s *sink) {
	defer s.conn.Close()
	for message := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.unregister <- s
			return
		}
	}
}

// SinkCount returns the number of currently subscribed UI clients.
func (h *Hub) SinkCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

func (h *Hub) publish(deviceID string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Fanout().Error().Err(err).Msg("marshal fan-out frame")
		return
	}
	h.broadcast <- payload
	if h.nats != nil {
		if err := h.nats.Publish("gateway.events."+deviceID, payload); err != nil {
			logger.Fanout().Warn().Err(err).Str("deviceId", deviceID).Msg("nats publish failed")
		}
	}
}

// PublishConnected broadcasts a connected event for deviceID.
func (h *Hub) PublishConnected(deviceID string, connected bool) {
	h.publish(deviceID, wire.NewConnectedEvent(deviceID, connected))
}

// PublishPropertyStatus broadcasts a propertyStatus event for deviceID.
func (h *Hub) PublishPropertyStatus(deviceID, propertyName string, value json.RawMessage) {
	h.publish(deviceID, wire.NewPropertyStatusEvent(deviceID, propertyName, value))
}
