package gatt

import (
	"fmt"

	"github.com/go-ble/ble"
)

// ServiceID identifies a service on the wire. Two services with the same UUID
// are told apart by Instance.
type ServiceID struct {
	UUID     UUID
	Instance uint8
	Primary  bool
}

func (id ServiceID) String() string {
	kind := "secondary"
	if id.Primary {
		kind = "primary"
	}
	return fmt.Sprintf("%s#%d(%s)", id.UUID, id.Instance, kind)
}

// CharacteristicID identifies a characteristic within its owning service.
type CharacteristicID struct {
	UUID     UUID
	Instance uint8
}

func (id CharacteristicID) String() string {
	return fmt.Sprintf("%s#%d", id.UUID, id.Instance)
}

// DescriptorID identifies a descriptor within its owning characteristic.
type DescriptorID struct {
	UUID UUID
}

func (id DescriptorID) String() string {
	return id.UUID.String()
}

// AttributeKind distinguishes the three cached attribute tables.
type AttributeKind int

const (
	KindService AttributeKind = iota
	KindCharacteristic
	KindDescriptor
)

func (k AttributeKind) String() string {
	switch k {
	case KindService:
		return "service"
	case KindCharacteristic:
		return "characteristic"
	case KindDescriptor:
		return "descriptor"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Service is a cached service entry.
type Service struct {
	Index int
	ID    ServiceID
}

// Characteristic is a cached characteristic entry. Service is the index of the
// owning service in the same cache.
type Characteristic struct {
	Index      int
	Service    int
	ID         CharacteristicID
	Properties ble.Property
}

// Descriptor is a cached descriptor entry. Characteristic is the index of the
// owning characteristic in the same cache.
type Descriptor struct {
	Index          int
	Characteristic int
	ID             DescriptorID
}

// PropertyNames renders a characteristic property bitmask as names, in bit order.
func PropertyNames(p ble.Property) []string {
	names := []struct {
		bit  ble.Property
		name string
	}{
		{ble.CharBroadcast, "broadcast"},
		{ble.CharRead, "read"},
		{ble.CharWriteNR, "write-without-response"},
		{ble.CharWrite, "write"},
		{ble.CharNotify, "notify"},
		{ble.CharIndicate, "indicate"},
		{ble.CharSignedWrite, "authenticated-signed-writes"},
		{ble.CharExtended, "extended-properties"},
	}

	var out []string
	for _, n := range names {
		if p&n.bit != 0 {
			out = append(out, n.name)
		}
	}
	return out
}
