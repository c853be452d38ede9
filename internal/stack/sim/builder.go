package sim

import (
	"encoding/hex"

	"github.com/go-ble/ble"
	"github.com/srg/gattc/internal/gatt"
)

// PeripheralBuilder builds a PeripheralSpec fluently.
type PeripheralBuilder struct {
	spec PeripheralSpec
}

// NewPeripheral starts a peripheral at addr.
func NewPeripheral(addr string) *PeripheralBuilder {
	return &PeripheralBuilder{spec: PeripheralSpec{Address: addr, RSSI: -55}}
}

func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.spec.Name = name
	return b
}

func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.spec.RSSI = rssi
	return b
}

// WithService adds a primary service.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.spec.Services = append(b.spec.Services, ServiceSpec{UUID: uuid})
	return b
}

// WithSecondaryService adds a service reachable only through includes.
func (b *PeripheralBuilder) WithSecondaryService(uuid string) *PeripheralBuilder {
	b.spec.Services = append(b.spec.Services, ServiceSpec{UUID: uuid, Secondary: true})
	return b
}

// WithInclude makes the last added service include the service uuid.
func (b *PeripheralBuilder) WithInclude(uuid string) *PeripheralBuilder {
	svc := b.lastService("WithInclude")
	svc.Includes = append(svc.Includes, uuid)
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
func (b *PeripheralBuilder) WithCharacteristic(uuid string, props ble.Property, value []byte) *PeripheralBuilder {
	svc := b.lastService("WithCharacteristic")
	svc.Characteristics = append(svc.Characteristics, CharacteristicSpec{
		UUID:       uuid,
		Properties: gatt.PropertyNames(props),
		Value:      hex.EncodeToString(value),
	})
	return b
}

// WithDescriptor adds a descriptor to the last added characteristic.
func (b *PeripheralBuilder) WithDescriptor(uuid string, value []byte) *PeripheralBuilder {
	svc := b.lastService("WithDescriptor")
	if len(svc.Characteristics) == 0 {
		panic("WithDescriptor: no characteristic added yet, call WithCharacteristic first")
	}
	ch := &svc.Characteristics[len(svc.Characteristics)-1]
	ch.Descriptors = append(ch.Descriptors, DescriptorSpec{UUID: uuid, Value: hex.EncodeToString(value)})
	return b
}

// Build returns the spec.
func (b *PeripheralBuilder) Build() PeripheralSpec {
	return b.spec
}

func (b *PeripheralBuilder) lastService(caller string) *ServiceSpec {
	if len(b.spec.Services) == 0 {
		panic(caller + ": no service added yet, call WithService first")
	}
	return &b.spec.Services[len(b.spec.Services)-1]
}

// HeartRateMonitor is the peripheral used by tests and the demo backend: a
// heart rate service with a notifying measurement, a readable body sensor
// location and a writable control point, plus battery and device info.
func HeartRateMonitor(addr string) PeripheralSpec {
	return NewPeripheral(addr).
		WithName("Sim HRM").
		WithRSSI(-48).
		WithService("180d").
		WithInclude("180a").
		WithCharacteristic("2a37", ble.CharNotify, []byte{0x00, 0x48}).
		WithDescriptor("2902", []byte{0x00, 0x00}).
		WithCharacteristic("2a38", ble.CharRead, []byte{0x01}).
		WithCharacteristic("2a39", ble.CharWrite, nil).
		WithService("180f").
		WithCharacteristic("2a19", ble.CharRead|ble.CharNotify, []byte{0x64}).
		WithDescriptor("2902", []byte{0x00, 0x00}).
		WithSecondaryService("180a").
		WithCharacteristic("2a29", ble.CharRead, []byte("gattc")).
		WithService("6e400001-b5a3-f393-e0a9-e50e24dcca9e").
		WithCharacteristic("6e400002-b5a3-f393-e0a9-e50e24dcca9e", ble.CharWrite|ble.CharWriteNR, nil).
		WithCharacteristic("6e400003-b5a3-f393-e0a9-e50e24dcca9e", ble.CharNotify, nil).
		WithDescriptor("2902", []byte{0x00, 0x00}).
		Build()
}
