package gatt

import (
	"github.com/cornelk/hashmap"
)

// Registry owns the devices known to a session, indexed by address and by
// active connection id.
type Registry struct {
	byAddress *hashmap.Map[string, *Device]
	byConn    *hashmap.Map[int, *Device]
}

func NewRegistry() *Registry {
	return &Registry{
		byAddress: hashmap.New[string, *Device](),
		byConn:    hashmap.New[int, *Device](),
	}
}

// GetOrCreate returns the device for addr, creating it on first use.
func (r *Registry) GetOrCreate(addr Address) *Device {
	if d, ok := r.byAddress.Get(addr.key()); ok {
		return d
	}
	d, _ := r.byAddress.GetOrInsert(addr.key(), newDevice(addr))
	return d
}

func (r *Registry) FindByAddress(addr Address) (*Device, bool) {
	return r.byAddress.Get(addr.key())
}

// FindByConnection resolves the device currently holding connID.
func (r *Registry) FindByConnection(connID int) (*Device, bool) {
	if connID <= 0 {
		return nil, false
	}
	d, ok := r.byConn.Get(connID)
	if !ok || d.ConnID() != connID {
		return nil, false
	}
	return d, true
}

// Bind records connID as d's active connection.
func (r *Registry) Bind(d *Device, connID int) {
	var prev int
	d.withLock(func() {
		prev = d.connID
		d.connID = connID
	})
	if prev > 0 && prev != connID {
		r.byConn.Del(prev)
	}
	r.byConn.Set(connID, d)
}

// Unbind clears d's connection and returns the id it held.
func (r *Registry) Unbind(d *Device) int {
	var prev int
	d.withLock(func() {
		prev = d.connID
		d.connID = 0
	})
	if prev > 0 {
		if cur, ok := r.byConn.Get(prev); ok && cur == d {
			r.byConn.Del(prev)
		}
	}
	return prev
}

func (r *Registry) Len() int {
	return r.byAddress.Len()
}

// Devices returns every known device in no particular order.
func (r *Registry) Devices() []*Device {
	out := make([]*Device, 0, r.byAddress.Len())
	r.byAddress.Range(func(_ string, d *Device) bool {
		out = append(out, d)
		return true
	})
	return out
}

// Clear releases every device. Only safe once the stack has stopped calling back.
func (r *Registry) Clear() {
	r.byAddress.Range(func(k string, _ *Device) bool {
		r.byAddress.Del(k)
		return true
	})
	r.byConn.Range(func(k int, _ *Device) bool {
		r.byConn.Del(k)
		return true
	})
}
