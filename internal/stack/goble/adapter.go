package goble

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
)

// Conn is the part of ble.Client the backend drives.
type Conn interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverIncludedServices(filter []ble.UUID, s *ble.Service) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ReadDescriptor(d *ble.Descriptor) ([]byte, error)
	WriteDescriptor(d *ble.Descriptor, value []byte) error
	ReadRSSI() int
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// Adapter is the local controller: it scans and dials.
type Adapter interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, addr ble.Addr) (Conn, error)
	Stop() error
}

// DeviceFactory opens the platform HCI device. It is a variable so tests
// and alternative platforms can replace it.
var DeviceFactory = openDevice

type deviceAdapter struct {
	dev ble.Device
}

// NewAdapter opens the platform device through DeviceFactory.
func NewAdapter() (Adapter, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("open BLE device: %w", err)
	}
	return &deviceAdapter{dev: dev}, nil
}

func (a *deviceAdapter) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return a.dev.Scan(ctx, allowDup, h)
}

func (a *deviceAdapter) Dial(ctx context.Context, addr ble.Addr) (Conn, error) {
	cln, err := a.dev.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return cln, nil
}

func (a *deviceAdapter) Stop() error {
	return a.dev.Stop()
}
