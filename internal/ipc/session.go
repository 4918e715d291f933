// Package ipc implements the IPC Listener and Session described in
// spec.md §4.3: the WebSocket server add-on child processes dial back
// into, and the per-connection state machine that turns their
// notifications into Catalog mutations and Fan-out events.
//
// Grounded on _examples/original_source/src/addon_socket.rs (bind,
// accept, one actor per connection) and src/addon_instance.rs (the
// on_msg match arms), transposed onto gorilla/websocket the way the
// teacher's internal/websocket/hub.go and agent_hub.go drive a
// per-client read loop.
package ipc

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/webthingsio/gateway/internal/catalog"
	"github.com/webthingsio/gateway/internal/logger"
	"github.com/webthingsio/gateway/internal/wire"
)

// FanoutPublisher is the narrow interface a Session needs from the
// Fan-out Hub, kept separate so this package does not import fanout
// directly.
type FanoutPublisher interface {
	PublishConnected(deviceID string, connected bool)
	PublishPropertyStatus(deviceID, propertyName string, value json.RawMessage)
}

// ManagerNotifier is the narrow interface a Session needs from the
// Add-on Manager: reporting that a plugin has registered or stopped.
type ManagerNotifier interface {
	AddonStarted(id string, session *Session)
	AddonStopped(id string)
}

// Session is the per-connection state machine: Unregistered until the
// first PluginRegisterRequest, Registered thereafter. It is only ever
// mutated by the single goroutine running Run, per spec.md's
// single-reader invariant — the mutex guards only the fields read from
// other goroutines (PluginID, registered, and the catalog's adapter set
// for REST/Manager lookups).
type Session struct {
	conn    *websocket.Conn
	fanout  FanoutPublisher
	manager ManagerNotifier
	profile wire.UserProfile
	version string

	mu         sync.RWMutex
	pluginID   string
	registered bool
	catalog    *catalog.Session

	writeMu sync.Mutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Accept upgrades an incoming HTTP request to a WebSocket connection and
// returns a new Unregistered Session for it.
func Accept(w http.ResponseWriter, r *http.Request, gatewayVersion string, profile wire.UserProfile, fanout FanoutPublisher, manager ManagerNotifier) (*Session, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Session{
		conn:    conn,
		fanout:  fanout,
		manager: manager,
		profile: profile,
		version: gatewayVersion,
		catalog: catalog.NewSession(),
	}, nil
}

// PluginID returns the registered add-on id, or "" if still Unregistered.
func (s *Session) PluginID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pluginID
}

// Run drives the ingest loop over the read half of the socket until the
// connection closes, then notifies the Add-on Manager.
func (s *Session) Run() {
	defer s.close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(data)
	}
}

func (s *Session) close() {
	s.conn.Close()
	id := s.PluginID()
	if id != "" && s.manager != nil {
		s.manager.AddonStopped(id)
	}
}

func (s *Session) handleFrame(data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.IPC().Warn().Err(err).Msg("malformed IPC frame")
		return
	}

	s.mu.RLock()
	registered := s.registered
	s.mu.RUnlock()

	if !registered {
		if env.MessageType != wire.TypePluginRegisterRequest {
			logger.IPC().Warn().Str("messageType", string(env.MessageType)).Msg("dropping message on unregistered session")
			return
		}
		s.handleRegister(env.Data)
		return
	}

	switch env.MessageType {
	case wire.TypeAdapterAddedNotification:
		s.handleAdapterAdded(env.Data)
	case wire.TypeDeviceAddedNotification:
		s.handleDeviceAdded(env.Data)
	case wire.TypeDevicePropertyChangedNotif:
		s.handlePropertyChanged(env.Data)
	case wire.TypeDeviceConnectedStateNotif:
		s.handleConnectedState(env.Data)
	default:
		// Any other known message is accepted and ignored (spec.md §4.3).
	}
}

func (s *Session) handleRegister(raw json.RawMessage) {
	var data wire.PluginRegisterRequestData
	if err := json.Unmarshal(raw, &data); err != nil || data.PluginID == "" {
		logger.IPC().Warn().Err(err).Msg("malformed PluginRegisterRequest")
		return
	}

	s.mu.Lock()
	s.pluginID = data.PluginID
	s.registered = true
	s.mu.Unlock()

	if s.manager != nil {
		s.manager.AddonStarted(data.PluginID, s)
	}

	response := wire.NewPluginRegisterResponse(s.version, data.PluginID, s.profile)
	s.send(response)
	logger.IPC().Info().Str("id", data.PluginID).Msg("add-on registered")
}

func (s *Session) send(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.IPC().Error().Err(err).Msg("marshal outbound IPC frame")
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		logger.IPC().Warn().Err(err).Msg("write outbound IPC frame")
	}
}

func (s *Session) handleAdapterAdded(raw json.RawMessage) {
	var data wire.AdapterAddedNotificationData
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.IPC().Warn().Err(err).Msg("malformed AdapterAddedNotification")
		return
	}
	s.mu.Lock()
	s.catalog.AddAdapter(data.AdapterID)
	s.mu.Unlock()
}

func (s *Session) handleDeviceAdded(raw json.RawMessage) {
	var data wire.DeviceAddedNotificationData
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.IPC().Warn().Err(err).Msg("malformed DeviceAddedNotification")
		return
	}
	adapter, err := s.catalog.Adapter(data.AdapterID)
	if err != nil {
		logger.IPC().Error().Err(err).Msg("DeviceAddedNotification for unknown adapter")
		return
	}
	adapter.AddDevice(data.Device)
	if s.fanout != nil {
		s.fanout.PublishConnected(data.Device.ID, true)
	}
}

func (s *Session) handlePropertyChanged(raw json.RawMessage) {
	var data wire.DevicePropertyChangedNotificationData
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.IPC().Warn().Err(err).Msg("malformed DevicePropertyChangedNotification")
		return
	}
	adapter, err := s.catalog.Adapter(data.AdapterID)
	if err != nil {
		logger.IPC().Error().Err(err).Msg("DevicePropertyChangedNotification for unknown adapter")
		return
	}
	device, err := adapter.Device(data.DeviceID)
	if err != nil {
		logger.IPC().Error().Err(err).Msg("DevicePropertyChangedNotification for unknown device")
		return
	}
	changed, err := device.UpdateProperty(data.Property)
	if err != nil {
		logger.IPC().Error().Err(err).Msg("DevicePropertyChangedNotification property error")
		return
	}
	if changed && s.fanout != nil {
		s.fanout.PublishPropertyStatus(data.DeviceID, data.Property.Name, data.Property.Value)
	}
}

func (s *Session) handleConnectedState(raw json.RawMessage) {
	var data wire.DeviceConnectedStateNotificationData
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.IPC().Warn().Err(err).Msg("malformed DeviceConnectedStateNotification")
		return
	}
	adapter, err := s.catalog.Adapter(data.AdapterID)
	if err != nil {
		logger.IPC().Error().Err(err).Msg("DeviceConnectedStateNotification for unknown adapter")
		return
	}
	device, err := adapter.Device(data.DeviceID)
	if err != nil {
		logger.IPC().Error().Err(err).Msg("DeviceConnectedStateNotification for unknown device")
		return
	}
	device.SetConnectedState(data.Connected)
	if s.fanout != nil {
		s.fanout.PublishConnected(data.DeviceID, data.Connected)
	}
}

// Devices returns every device currently known to this session's
// catalog, across all of its adapters, for Manager.GetDevices-style
// aggregation.
func (s *Session) Devices() map[string]*catalog.Device {
	s.mu.RLock()
	adapters := s.catalog.Adapters()
	s.mu.RUnlock()

	out := make(map[string]*catalog.Device)
	for _, adapter := range adapters {
		for id, device := range adapter.Devices() {
			out[id] = device
		}
	}
	return out
}
