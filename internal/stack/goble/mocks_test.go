package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return m.Called(ctx, allowDup, h).Error(0)
}

func (m *mockAdapter) Dial(ctx context.Context, addr ble.Addr) (Conn, error) {
	args := m.Called(ctx, addr)
	c, _ := args.Get(0).(Conn)
	return c, args.Error(1)
}

func (m *mockAdapter) Stop() error {
	return m.Called().Error(0)
}

type mockConn struct {
	mock.Mock
	disconnected chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{disconnected: make(chan struct{})}
}

func (m *mockConn) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	s, _ := args.Get(0).([]*ble.Service)
	return s, args.Error(1)
}

func (m *mockConn) DiscoverIncludedServices(filter []ble.UUID, s *ble.Service) ([]*ble.Service, error) {
	args := m.Called(filter, s)
	out, _ := args.Get(0).([]*ble.Service)
	return out, args.Error(1)
}

func (m *mockConn) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	out, _ := args.Get(0).([]*ble.Characteristic)
	return out, args.Error(1)
}

func (m *mockConn) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	out, _ := args.Get(0).([]*ble.Descriptor)
	return out, args.Error(1)
}

func (m *mockConn) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (m *mockConn) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *mockConn) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	args := m.Called(d)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (m *mockConn) WriteDescriptor(d *ble.Descriptor, value []byte) error {
	return m.Called(d, value).Error(0)
}

func (m *mockConn) ReadRSSI() int {
	return m.Called().Int(0)
}

func (m *mockConn) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *mockConn) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *mockConn) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *mockConn) Disconnected() <-chan struct{} {
	return m.disconnected
}

// fakeAdvertisement is a fixed ble.Advertisement.
type fakeAdvertisement struct {
	addr        string
	name        string
	rssi        int
	services    []ble.UUID
	manufData   []byte
	serviceData []ble.ServiceData
	txPower     int
	connectable bool
}

func (a fakeAdvertisement) LocalName() string              { return a.name }
func (a fakeAdvertisement) ManufacturerData() []byte       { return a.manufData }
func (a fakeAdvertisement) ServiceData() []ble.ServiceData { return a.serviceData }
func (a fakeAdvertisement) Services() []ble.UUID           { return a.services }
func (a fakeAdvertisement) OverflowService() []ble.UUID    { return nil }
func (a fakeAdvertisement) TxPowerLevel() int              { return a.txPower }
func (a fakeAdvertisement) Connectable() bool              { return a.connectable }
func (a fakeAdvertisement) SolicitedService() []ble.UUID   { return nil }
func (a fakeAdvertisement) RSSI() int                      { return a.rssi }
func (a fakeAdvertisement) Addr() ble.Addr                 { return ble.NewAddr(a.addr) }
