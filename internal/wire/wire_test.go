package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPluginRegisterResponseDefaults(t *testing.T) {
	resp := NewPluginRegisterResponse("1.2.3", "mock", UserProfile{AddonsDir: "/base/addons"})

	assert.Equal(t, TypePluginRegisterResponse, resp.MessageType)
	assert.Equal(t, "1.2.3", resp.Data.GatewayVersion)
	assert.Equal(t, "mock", resp.Data.PluginID)
	assert.Equal(t, "en-US", resp.Data.Preferences.Language)
	assert.Equal(t, "degree celsius", resp.Data.Preferences.Units.Temperature)
	assert.Equal(t, "/base/addons", resp.Data.UserProfile.AddonsDir)
}

func TestConnectedEventShape(t *testing.T) {
	event := NewConnectedEvent("d", true)

	payload, err := json.Marshal(event)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"d","data":true,"messageType":"connected"}`, string(payload))
}

func TestPropertyStatusEventShape(t *testing.T) {
	value, _ := json.Marshal(7)
	event := NewPropertyStatusEvent("d", "p", value)

	payload, err := json.Marshal(event)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"d","data":{"p":7},"messageType":"propertyStatus"}`, string(payload))
}

func TestEnvelopeDispatchesOnMessageType(t *testing.T) {
	raw := []byte(`{"messageType":"pluginRegisterRequest","data":{"pluginId":"mock"}}`)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, TypePluginRegisterRequest, env.MessageType)

	var data PluginRegisterRequestData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "mock", data.PluginID)
}
