// Package catalog implements the in-memory, live view of adapters,
// devices, and properties reported by all currently registered add-on
// sessions (spec.md §3's Catalog). It is mutated exclusively by the IPC
// Session goroutine that owns a given session's adapters, and read
// cross-goroutine by REST handlers through Manager.GetDevices-style
// snapshot calls, so every exported Adapter and Device method takes and
// releases its own lock. Session is not locked: its owner guards reads
// of it from other goroutines.
//
// Grounded on _examples/original_source/src/adapter.rs and
// src/device.rs: one Adapter per AdapterAddedNotification, one Device
// per DeviceAddedNotification, property overwrite semantics from
// Device.update_property.
package catalog

import (
	"encoding/json"
	"sync"

	"github.com/webthingsio/gateway/internal/apperr"
	"github.com/webthingsio/gateway/internal/wire"
)

// Device is the live, mutable record of one add-on-reported device.
type Device struct {
	mu          sync.RWMutex
	description wire.Device
	connected   bool
}

// newDevice seeds a Device from its initial description. Per spec.md
// §3, connected is true immediately after DeviceAddedNotification.
func newDevice(description wire.Device) *Device {
	return &Device{description: description, connected: true}
}

// Snapshot returns a copy of the device's current description and
// connected flag, safe to read after the call returns.
func (d *Device) Snapshot() (wire.Device, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.description, d.connected
}

// SetConnectedState updates the connected flag.
func (d *Device) SetConnectedState(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
}

// UpdateProperty locates the named property and overwrites it
// unconditionally, reporting whether the value (as opposed to metadata)
// changed so the caller can decide whether to fan out a propertyStatus
// event. The overwrite happens even when changed is false, to pick up
// metadata updates (spec.md §4.3).
func (d *Device) UpdateProperty(prop wire.Property) (changed bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prop.Name == "" {
		return false, apperr.Protocol("property has no name")
	}
	if d.description.Properties == nil {
		return false, apperr.NotFound("device %s has no properties", d.description.ID)
	}
	existing, ok := d.description.Properties[prop.Name]
	if !ok {
		return false, apperr.NotFound("device %s has no property called %s", d.description.ID, prop.Name)
	}

	changed = !jsonEqual(existing.Value, prop.Value)
	d.description.Properties[prop.Name] = prop
	return changed, nil
}

func jsonEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return string(a) == string(b)
	}
	normA, _ := json.Marshal(av)
	normB, _ := json.Marshal(bv)
	return string(normA) == string(normB)
}

// Adapter is the live record of one add-on-reported adapter: an id and
// its devices.
type Adapter struct {
	mu      sync.RWMutex
	id      string
	devices map[string]*Device
}

// NewAdapter creates an empty adapter with the given id.
func NewAdapter(id string) *Adapter {
	return &Adapter{id: id, devices: make(map[string]*Device)}
}

// AddDevice inserts or replaces the device identified by description.ID.
func (a *Adapter) AddDevice(description wire.Device) *Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	device := newDevice(description)
	a.devices[description.ID] = device
	return device
}

// Device returns the device with the given id, or a NotFound error.
func (a *Adapter) Device(id string) (*Device, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	device, ok := a.devices[id]
	if !ok {
		return nil, apperr.NotFound("device %s does not exist in adapter %s", id, a.id)
	}
	return device, nil
}

// Devices returns every device currently registered under this adapter.
func (a *Adapter) Devices() map[string]*Device {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]*Device, len(a.devices))
	for id, d := range a.devices {
		out[id] = d
	}
	return out
}

// ID returns the adapter's id.
func (a *Adapter) ID() string { return a.id }

// Session is the live, per-connection collection of adapters owned by
// one registered IPC session (spec.md §3's IPC Session). It is not
// itself locked: a Session is only ever mutated by the single goroutine
// reading that connection's inbound frames, per spec.md's single-reader
// invariant.
type Session struct {
	adapters map[string]*Adapter
}

// NewSession returns an empty Session.
func NewSession() *Session {
	return &Session{adapters: make(map[string]*Adapter)}
}

// AddAdapter inserts or replaces the adapter identified by id.
func (s *Session) AddAdapter(id string) *Adapter {
	adapter := NewAdapter(id)
	s.adapters[id] = adapter
	return adapter
}

// Adapter returns the adapter with the given id, or a NotFound error.
func (s *Session) Adapter(id string) (*Adapter, error) {
	adapter, ok := s.adapters[id]
	if !ok {
		return nil, apperr.NotFound("no adapter with id %s found", id)
	}
	return adapter, nil
}

// Adapters returns every adapter currently owned by this session.
func (s *Session) Adapters() map[string]*Adapter {
	out := make(map[string]*Adapter, len(s.adapters))
	for id, a := range s.adapters {
		out[id] = a
	}
	return out
}
