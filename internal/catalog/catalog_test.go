package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webthingsio/gateway/internal/apperr"
	"github.com/webthingsio/gateway/internal/wire"
)

func deviceWithProperty(id, propName string, value int) wire.Device {
	raw, _ := json.Marshal(value)
	return wire.Device{
		ID: id,
		Properties: map[string]wire.Property{
			propName: {Name: propName, Type: "integer", Value: raw},
		},
	}
}

func TestAddDeviceSetsConnectedTrue(t *testing.T) {
	adapter := NewAdapter("a")
	device := adapter.AddDevice(deviceWithProperty("d", "p", 0))

	_, connected := device.Snapshot()
	assert.True(t, connected)
}

func TestUpdatePropertyUnknownDeviceIsNotFound(t *testing.T) {
	adapter := NewAdapter("a")
	_, err := adapter.Device("missing")

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestUpdatePropertyOverwritesEvenWhenUnchanged(t *testing.T) {
	adapter := NewAdapter("a")
	device := adapter.AddDevice(deviceWithProperty("d", "p", 7))

	raw, _ := json.Marshal(7)
	changed, err := device.UpdateProperty(wire.Property{Name: "p", Type: "number", Value: raw})
	require.NoError(t, err)
	assert.False(t, changed, "identical value should not be reported as changed")

	description, _ := device.Snapshot()
	assert.JSONEq(t, "7", string(description.Properties["p"].Value))
	assert.Equal(t, "number", description.Properties["p"].Type, "metadata must be overwritten even when the value is unchanged")
}

func TestUpdatePropertyReportsChangeOnDifferentValue(t *testing.T) {
	adapter := NewAdapter("a")
	device := adapter.AddDevice(deviceWithProperty("d", "p", 7))

	raw, _ := json.Marshal(8)
	changed, err := device.UpdateProperty(wire.Property{Name: "p", Type: "integer", Value: raw})
	require.NoError(t, err)
	assert.True(t, changed)

	description, _ := device.Snapshot()
	assert.JSONEq(t, "8", string(description.Properties["p"].Value))
}

func TestUpdatePropertyUnknownNameIsNotFound(t *testing.T) {
	adapter := NewAdapter("a")
	device := adapter.AddDevice(deviceWithProperty("d", "p", 0))

	_, err := device.UpdateProperty(wire.Property{Name: "other", Value: json.RawMessage("1")})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestSetConnectedStateFollowsLastValue(t *testing.T) {
	adapter := NewAdapter("a")
	device := adapter.AddDevice(deviceWithProperty("d", "p", 0))

	device.SetConnectedState(false)
	_, connected := device.Snapshot()
	assert.False(t, connected)

	device.SetConnectedState(true)
	_, connected = device.Snapshot()
	assert.True(t, connected)
}

func TestSessionAdapterLookup(t *testing.T) {
	session := NewSession()
	session.AddAdapter("a")

	adapter, err := session.Adapter("a")
	require.NoError(t, err)
	assert.Equal(t, "a", adapter.ID())

	_, err = session.Adapter("missing")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}
