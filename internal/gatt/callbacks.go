package gatt

import "github.com/go-ble/ble"

// Callbacks is the application-facing callback surface. Every field is
// optional; a nil field means the application is not interested.
//
// Callbacks run on the stack's goroutine with no session lock held, so they
// may call back into the Session.
type Callbacks struct {
	Enabled             func()
	AdapterStateChanged func(enabled bool)
	ScanResult          func(addr Address, rssi int, adv []byte)

	Connected        func(addr Address, connID int, status Status)
	Disconnected     func(addr Address, connID int, status Status)
	BondStateChanged func(addr Address, state BondState, status Status)

	ServiceFound                     func(connID, index int, uuid UUID, primary bool)
	ServiceDiscoveryFinished         func(connID int, status Status)
	IncludedServiceDiscoveryFinished func(connID int, status Status)
	CharacteristicFound              func(connID, index int, uuid UUID, props ble.Property)
	CharacteristicDiscoveryFinished  func(connID int, status Status)
	DescriptorFound                  func(connID, index int, uuid, charUUID UUID)
	DescriptorDiscoveryFinished      func(connID int, status Status)

	CharacteristicRead    func(connID, index int, value []byte, valueType int, status Status)
	CharacteristicWritten func(connID, index int, status Status)
	DescriptorRead        func(connID, index int, value []byte, valueType int, status Status)
	DescriptorWritten     func(connID, index int, status Status)

	NotificationRegistrationChanged func(connID, index int, registered bool, status Status)
	NotificationReceived            func(connID, index int, value []byte, indication bool)

	RemoteRSSI func(connID, rssi int, status Status)
}
