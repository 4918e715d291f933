// Package wire defines the JSON message shapes exchanged over the two
// WebSocket surfaces described in spec.md §4.3 and §4.5: the IPC protocol
// spoken between the gateway and an add-on, and the fan-out events pushed
// to UI clients. Field names and tags follow the webthings IPC schema
// referenced by the original implementation (_examples/original_source).
package wire

import "encoding/json"

// MessageType is the discriminator carried by every IPC frame's
// "messageType" field.
type MessageType string

const (
	TypePluginRegisterRequest          MessageType = "pluginRegisterRequest"
	TypePluginRegisterResponse         MessageType = "pluginRegisterResponse"
	TypeAdapterAddedNotification       MessageType = "adapterAddedNotification"
	TypeDeviceAddedNotification        MessageType = "deviceAddedNotification"
	TypeDevicePropertyChangedNotif     MessageType = "devicePropertyChangedNotification"
	TypeDeviceConnectedStateNotif      MessageType = "deviceConnectedStateNotification"
)

// Envelope is the common shape every inbound IPC frame has, enough to
// dispatch on MessageType before unmarshalling the full payload.
type Envelope struct {
	MessageType MessageType     `json:"messageType"`
	Data        json.RawMessage `json:"data"`
}

// PluginRegisterRequestData is sent once by an add-on immediately after
// connecting.
type PluginRegisterRequestData struct {
	PluginID string `json:"pluginId"`
}

// Preferences mirrors the localization block of PluginRegisterResponse.
type Preferences struct {
	Language string `json:"language"`
	Units    Units  `json:"units"`
}

// Units carries the gateway's configured unit preferences.
type Units struct {
	Temperature string `json:"temperature"`
}

// UserProfile carries the seven filesystem paths an add-on needs.
type UserProfile struct {
	AddonsDir string `json:"addonsDir"`
	BaseDir   string `json:"baseDir"`
	ConfigDir string `json:"configDir"`
	DataDir   string `json:"dataDir"`
	GatewayDir string `json:"gatewayDir"`
	LogDir    string `json:"logDir"`
	MediaDir  string `json:"mediaDir"`
}

// PluginRegisterResponseData is the single reply sent back on successful
// registration.
type PluginRegisterResponseData struct {
	GatewayVersion string      `json:"gatewayVersion"`
	PluginID       string      `json:"pluginId"`
	Preferences    Preferences `json:"preferences"`
	UserProfile    UserProfile `json:"userProfile"`
}

// PluginRegisterResponse wraps PluginRegisterResponseData with its
// messageType discriminator, ready to marshal onto the wire.
type PluginRegisterResponse struct {
	MessageType MessageType                 `json:"messageType"`
	Data        PluginRegisterResponseData `json:"data"`
}

// NewPluginRegisterResponse builds the single response frame a Session
// sends on successful registration (spec.md §4.3).
func NewPluginRegisterResponse(gatewayVersion, pluginID string, profile UserProfile) PluginRegisterResponse {
	return PluginRegisterResponse{
		MessageType: TypePluginRegisterResponse,
		Data: PluginRegisterResponseData{
			GatewayVersion: gatewayVersion,
			PluginID:       pluginID,
			Preferences: Preferences{
				Language: "en-US",
				Units:    Units{Temperature: "degree celsius"},
			},
			UserProfile: profile,
		},
	}
}

// AdapterAddedNotificationData announces a new adapter under this
// session.
type AdapterAddedNotificationData struct {
	AdapterID string `json:"adapterId"`
}

// Device is the full device description reported by an add-on, per the
// webthings IPC schema.
type Device struct {
	ID                  string                    `json:"id"`
	Context             string                    `json:"@context,omitempty"`
	Type                []string                  `json:"@type,omitempty"`
	Title               string                    `json:"title,omitempty"`
	Description         string                    `json:"description,omitempty"`
	BaseHref            string                    `json:"baseHref,omitempty"`
	Pin                 json.RawMessage           `json:"pin,omitempty"`
	CredentialsRequired bool                      `json:"credentialsRequired,omitempty"`
	Links               json.RawMessage           `json:"links,omitempty"`
	Properties          map[string]Property       `json:"properties,omitempty"`
}

// Property is a single device property description and its current
// value.
type Property struct {
	Name  string          `json:"name,omitempty"`
	Type  string          `json:"type,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// DeviceAddedNotificationData announces a new or replaced device under an
// adapter.
type DeviceAddedNotificationData struct {
	AdapterID string `json:"adapterId"`
	Device    Device `json:"device"`
}

// DevicePropertyChangedNotificationData reports a property value or
// metadata update for an existing device.
type DevicePropertyChangedNotificationData struct {
	AdapterID string   `json:"adapterId"`
	DeviceID  string   `json:"deviceId"`
	Property  Property `json:"property"`
}

// DeviceConnectedStateNotificationData reports a change in a device's
// connected flag.
type DeviceConnectedStateNotificationData struct {
	AdapterID string `json:"adapterId"`
	DeviceID  string `json:"deviceId"`
	Connected bool   `json:"connected"`
}

// FanoutMessageType is the discriminator carried by frames pushed to UI
// WebSocket clients (spec.md §4.5).
type FanoutMessageType string

const (
	FanoutConnected      FanoutMessageType = "connected"
	FanoutPropertyStatus FanoutMessageType = "propertyStatus"
)

// ConnectedEvent is broadcast whenever a device's connected flag changes.
type ConnectedEvent struct {
	ID          string            `json:"id"`
	Data        bool              `json:"data"`
	MessageType FanoutMessageType `json:"messageType"`
}

// NewConnectedEvent builds a connected fan-out frame for deviceID.
func NewConnectedEvent(deviceID string, connected bool) ConnectedEvent {
	return ConnectedEvent{ID: deviceID, Data: connected, MessageType: FanoutConnected}
}

// PropertyStatusEvent is broadcast whenever a property's value changes.
type PropertyStatusEvent struct {
	ID          string                     `json:"id"`
	Data        map[string]json.RawMessage `json:"data"`
	MessageType FanoutMessageType          `json:"messageType"`
}

// NewPropertyStatusEvent builds a propertyStatus fan-out frame carrying a
// single property name/value pair, matching the wire shape produced by
// the original gateway (one event per changed property).
func NewPropertyStatusEvent(deviceID, propertyName string, value json.RawMessage) PropertyStatusEvent {
	return PropertyStatusEvent{
		ID:          deviceID,
		Data:        map[string]json.RawMessage{propertyName: value},
		MessageType: FanoutPropertyStatus,
	}
}
