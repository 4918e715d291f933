package ipc

import (
	"fmt"
	"net/http"

	"github.com/webthingsio/gateway/internal/config"
	"github.com/webthingsio/gateway/internal/logger"
	"github.com/webthingsio/gateway/internal/wire"
)

// Listener binds the add-on-facing WebSocket port (spec.md §4.3, default
// 9500) and spawns one Session per accepted connection.
type Listener struct {
	server  *http.Server
	version string
	profile wire.UserProfile
	fanout  FanoutPublisher
	manager ManagerNotifier
}

// NewListener builds a Listener bound to port, ready to
// hand each connecting add-on its filesystem paths and the gateway's
// version.
func NewListener(port int, version string, paths config.Paths, fanout FanoutPublisher, manager ManagerNotifier) *Listener {
	l := &Listener{
		version: version,
		profile: wire.UserProfile{
			AddonsDir: paths.Addons,
			BaseDir:   paths.Base,
			ConfigDir: paths.Config,
			DataDir:   paths.Data,
			GatewayDir: paths.Gateway,
			LogDir:    paths.Log,
			MediaDir:  paths.Media,
		},
		fanout:  fanout,
		manager: manager,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleConnect)
	l.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	return l
}

func (l *Listener) handleConnect(w http.ResponseWriter, r *http.Request) {
	session, err := Accept(w, r, l.version, l.profile, l.fanout, l.manager)
	if err != nil {
		logger.IPC().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	go session.Run()
}

// ListenAndServe blocks serving IPC connections until the listener is
// shut down or fails.
func (l *Listener) ListenAndServe() error {
	logger.IPC().Info().Str("addr", l.server.Addr).Msg("IPC listener starting")
	return l.server.ListenAndServe()
}

// Close shuts the listener down.
func (l *Listener) Close() error {
	return l.server.Close()
}
