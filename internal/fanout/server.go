package fanout

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/webthingsio/gateway/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server binds the fan-out WebSocket port that UI clients subscribe to;
// it is one of the two upstream ports the Demultiplexer forwards to.
type Server struct {
	hub    *Hub
	server *http.Server
}

// NewServer builds a Server bound to port, backed by hub.
func NewServer(port int, hub *Hub) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Fanout().Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		hub.Subscribe(conn)
	})
	return &Server{hub: hub, server: &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", port), Handler: mux}}
}

// ListenAndServe blocks serving fan-out subscribers.
func (s *Server) ListenAndServe() error {
	logger.Fanout().Info().Str("addr", s.server.Addr).Msg("fan-out hub starting")
	return s.server.ListenAndServe()
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.server.Close()
}
