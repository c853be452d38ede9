package gatt

import (
	"fmt"

	"github.com/go-ble/ble"
)

// AttributeCache holds the services, characteristics and descriptors
// discovered on one device. Each table is append-only and deduplicated by
// full identity, so an index never changes once assigned.
//
// AttributeCache is not safe for concurrent use; Device guards it.
type AttributeCache struct {
	services        []Service
	characteristics []Characteristic
	descriptors     []Descriptor
}

func newAttributeCache() *AttributeCache {
	return &AttributeCache{}
}

// RecordService returns the index of id, appending it when first seen.
func (c *AttributeCache) RecordService(id ServiceID) int {
	if i, ok := c.FindService(id); ok {
		return i
	}
	i := len(c.services)
	c.services = append(c.services, Service{Index: i, ID: id})
	return i
}

// RecordCharacteristic returns the index of id within svc, appending it when
// first seen. Properties of an existing entry are refreshed. The owning
// service must already be cached.
func (c *AttributeCache) RecordCharacteristic(svc ServiceID, id CharacteristicID, props ble.Property) (int, error) {
	si, ok := c.FindService(svc)
	if !ok {
		return -1, fmt.Errorf("%w: characteristic %s owner service %s not cached", ErrOutOfRange, id, svc)
	}
	if i, ok := c.findCharacteristic(si, id); ok {
		c.characteristics[i].Properties = props
		return i, nil
	}
	i := len(c.characteristics)
	c.characteristics = append(c.characteristics, Characteristic{Index: i, Service: si, ID: id, Properties: props})
	return i, nil
}

// RecordDescriptor returns the index of id within (svc, char), appending it
// when first seen. The owning characteristic must already be cached.
func (c *AttributeCache) RecordDescriptor(svc ServiceID, char CharacteristicID, id DescriptorID) (int, error) {
	ci, ok := c.FindCharacteristic(svc, char)
	if !ok {
		return -1, fmt.Errorf("%w: descriptor %s owner characteristic %s not cached", ErrOutOfRange, id, char)
	}
	if i, ok := c.findDescriptor(ci, id); ok {
		return i, nil
	}
	i := len(c.descriptors)
	c.descriptors = append(c.descriptors, Descriptor{Index: i, Characteristic: ci, ID: id})
	return i, nil
}

func (c *AttributeCache) FindService(id ServiceID) (int, bool) {
	for i := range c.services {
		if c.services[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func (c *AttributeCache) FindCharacteristic(svc ServiceID, id CharacteristicID) (int, bool) {
	si, ok := c.FindService(svc)
	if !ok {
		return -1, false
	}
	return c.findCharacteristic(si, id)
}

func (c *AttributeCache) FindDescriptor(svc ServiceID, char CharacteristicID, id DescriptorID) (int, bool) {
	ci, ok := c.FindCharacteristic(svc, char)
	if !ok {
		return -1, false
	}
	return c.findDescriptor(ci, id)
}

func (c *AttributeCache) findCharacteristic(svc int, id CharacteristicID) (int, bool) {
	for i := range c.characteristics {
		if c.characteristics[i].Service == svc && c.characteristics[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func (c *AttributeCache) findDescriptor(char int, id DescriptorID) (int, bool) {
	for i := range c.descriptors {
		if c.descriptors[i].Characteristic == char && c.descriptors[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func (c *AttributeCache) Service(i int) (Service, error) {
	if i < 0 || i >= len(c.services) {
		return Service{}, outOfRange(KindService, i, len(c.services))
	}
	return c.services[i], nil
}

func (c *AttributeCache) Characteristic(i int) (Characteristic, error) {
	if i < 0 || i >= len(c.characteristics) {
		return Characteristic{}, outOfRange(KindCharacteristic, i, len(c.characteristics))
	}
	return c.characteristics[i], nil
}

func (c *AttributeCache) Descriptor(i int) (Descriptor, error) {
	if i < 0 || i >= len(c.descriptors) {
		return Descriptor{}, outOfRange(KindDescriptor, i, len(c.descriptors))
	}
	return c.descriptors[i], nil
}

// CharacteristicRef resolves index i to the wire identities a primitive needs.
func (c *AttributeCache) CharacteristicRef(i int) (ServiceID, CharacteristicID, error) {
	ch, err := c.Characteristic(i)
	if err != nil {
		return ServiceID{}, CharacteristicID{}, err
	}
	return c.services[ch.Service].ID, ch.ID, nil
}

// DescriptorRef resolves index i to the wire identities a primitive needs.
func (c *AttributeCache) DescriptorRef(i int) (ServiceID, CharacteristicID, DescriptorID, error) {
	d, err := c.Descriptor(i)
	if err != nil {
		return ServiceID{}, CharacteristicID{}, DescriptorID{}, err
	}
	ch := c.characteristics[d.Characteristic]
	return c.services[ch.Service].ID, ch.ID, d.ID, nil
}

// Counts returns the number of cached services, characteristics and descriptors.
func (c *AttributeCache) Counts() (services, characteristics, descriptors int) {
	return len(c.services), len(c.characteristics), len(c.descriptors)
}

// Services returns a copy of the service table.
func (c *AttributeCache) Services() []Service {
	return append([]Service(nil), c.services...)
}

// Characteristics returns a copy of the characteristic table.
func (c *AttributeCache) Characteristics() []Characteristic {
	return append([]Characteristic(nil), c.characteristics...)
}

// Descriptors returns a copy of the descriptor table.
func (c *AttributeCache) Descriptors() []Descriptor {
	return append([]Descriptor(nil), c.descriptors...)
}

// outOfRange matches both ErrOutOfRange and ErrInvalidArgument: an index
// past the cache is a bad argument to any request scoped by it.
func outOfRange(kind AttributeKind, i, count int) error {
	if count == 0 {
		return fmt.Errorf("%w: %w: %s %d requested but none discovered", ErrInvalidArgument, ErrOutOfRange, kind, i)
	}
	return fmt.Errorf("%w: %w: %s %d not in [0, %d)", ErrInvalidArgument, ErrOutOfRange, kind, i, count)
}
