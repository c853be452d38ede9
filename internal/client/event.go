package client

import (
	"time"

	"github.com/srg/gattc/internal/gatt"
)

// EventKind names a session callback.
type EventKind string

const (
	EventEnabled               EventKind = "enabled"
	EventAdapter               EventKind = "adapter"
	EventScan                  EventKind = "scan"
	EventConnected             EventKind = "connected"
	EventDisconnected          EventKind = "disconnected"
	EventBond                  EventKind = "bond"
	EventServiceFound          EventKind = "service_found"
	EventServicesFinished      EventKind = "services_finished"
	EventIncludedFinished      EventKind = "included_finished"
	EventCharacteristicFound   EventKind = "characteristic_found"
	EventCharacteristicsDone   EventKind = "characteristics_finished"
	EventDescriptorFound       EventKind = "descriptor_found"
	EventDescriptorsDone       EventKind = "descriptors_finished"
	EventCharacteristicRead    EventKind = "characteristic_read"
	EventCharacteristicWritten EventKind = "characteristic_written"
	EventDescriptorRead        EventKind = "descriptor_read"
	EventDescriptorWritten     EventKind = "descriptor_written"
	EventRegistration          EventKind = "registration"
	EventNotification          EventKind = "notification"
	EventRSSI                  EventKind = "rssi"
)

// Event is one session callback, flattened. Only the fields meaningful for
// Kind are set. The integer CBOR keys keep recorded logs compact.
type Event struct {
	Kind       EventKind      `cbor:"1,keyasint" json:"kind"`
	Time       time.Time      `cbor:"2,keyasint" json:"time"`
	Address    gatt.Address   `cbor:"3,keyasint" json:"address"`
	ConnID     int            `cbor:"4,keyasint,omitempty" json:"conn_id,omitempty"`
	Index      int            `cbor:"5,keyasint,omitempty" json:"index,omitempty"`
	UUID       gatt.UUID      `cbor:"6,keyasint" json:"uuid"`
	Owner      gatt.UUID      `cbor:"7,keyasint" json:"owner"`
	Primary    bool           `cbor:"8,keyasint,omitempty" json:"primary,omitempty"`
	Properties int            `cbor:"9,keyasint,omitempty" json:"properties,omitempty"`
	Value      []byte         `cbor:"10,keyasint,omitempty" json:"value,omitempty"`
	ValueType  int            `cbor:"11,keyasint,omitempty" json:"value_type,omitempty"`
	Registered bool           `cbor:"12,keyasint,omitempty" json:"registered,omitempty"`
	Indication bool           `cbor:"13,keyasint,omitempty" json:"indication,omitempty"`
	RSSI       int            `cbor:"14,keyasint,omitempty" json:"rssi,omitempty"`
	Bond       gatt.BondState `cbor:"15,keyasint,omitempty" json:"bond,omitempty"`
	Enabled    bool           `cbor:"16,keyasint,omitempty" json:"enabled,omitempty"`
	Status     gatt.Status    `cbor:"17,keyasint,omitempty" json:"status,omitempty"`
}

// OK reports whether the event carries a successful status.
func (e Event) OK() bool {
	return e.Status.OK()
}
