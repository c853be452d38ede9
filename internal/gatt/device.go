package gatt

import "sync"

// Device is one remote peer known to a session. It is created on the first
// connect or pair attempt and lives until session teardown; disconnecting
// only clears the connection id, so the attribute cache survives reconnects.
type Device struct {
	address Address

	mu            sync.Mutex
	connID        int
	cache         *AttributeCache
	prepared      PreparedWrite
	notifications *NotificationRegistry
	discovery     map[DiscoveryKind]DiscoveryState
}

func newDevice(addr Address) *Device {
	d := &Device{
		address:       addr,
		cache:         newAttributeCache(),
		notifications: newNotificationRegistry(),
		discovery:     make(map[DiscoveryKind]DiscoveryState, 4),
	}
	for _, k := range []DiscoveryKind{DiscoverServices, DiscoverIncludedServices, DiscoverCharacteristics, DiscoverDescriptors} {
		d.discovery[k] = DiscoveryState{Phase: PhaseIdle, Scope: -1}
	}
	return d
}

func (d *Device) Address() Address {
	return d.address
}

// ConnID returns the current connection id, 0 when not connected.
func (d *Device) ConnID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connID
}

// Snapshot is a point-in-time copy of a device's cached attributes.
type Snapshot struct {
	Address         Address
	ConnID          int
	Services        []Service
	Characteristics []Characteristic
	Descriptors     []Descriptor
	Subscriptions   []Subscription
}

// Snapshot copies the device state under its lock.
func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		Address:         d.address,
		ConnID:          d.connID,
		Services:        d.cache.Services(),
		Characteristics: d.cache.Characteristics(),
		Descriptors:     d.cache.Descriptors(),
		Subscriptions:   d.notifications.List(),
	}
}

// ServiceOf returns the cached service owning characteristic ch in s.
func (s Snapshot) ServiceOf(ch Characteristic) Service {
	return s.Services[ch.Service]
}

// CharacteristicOf returns the cached characteristic owning descriptor desc in s.
func (s Snapshot) CharacteristicOf(desc Descriptor) Characteristic {
	return s.Characteristics[desc.Characteristic]
}

// withLock runs fn with the device lock held.
func (d *Device) withLock(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}
