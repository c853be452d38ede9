package gatt

import "github.com/go-ble/ble"

// Stack is the adapter-level interface of the underlying Bluetooth stack.
// Every primitive returns a synchronous Status and may later complete through
// the StackHandler passed to Init.
type Stack interface {
	Init(h StackHandler) Status
	Enable() Status
	Disable() Status
	Cleanup()

	CreateBond(addr Address) Status
	CancelBond(addr Address) Status
	RemoveBond(addr Address) Status

	// Gatt returns the GATT client sub-interface, or nil when the stack has none.
	Gatt() GattClient
}

// GattClient is the GATT client sub-interface of the stack.
//
// Iterative getters take the identity of the item returned last as start;
// a nil start asks for the first item.
type GattClient interface {
	Init(h StackHandler) Status

	RegisterClient(app UUID) Status
	UnregisterClient(clientIf int) Status
	Scan(clientIf int, start bool) Status

	Connect(clientIf int, addr Address, direct bool) Status
	Disconnect(clientIf int, addr Address, connID int) Status

	SearchService(connID int, filter *UUID) Status
	GetIncludedService(connID int, svc ServiceID, start *ServiceID) Status
	GetCharacteristic(connID int, svc ServiceID, start *CharacteristicID) Status
	GetDescriptor(connID int, svc ServiceID, char CharacteristicID, start *DescriptorID) Status

	ReadCharacteristic(connID int, svc ServiceID, char CharacteristicID, auth AuthReq) Status
	WriteCharacteristic(connID int, svc ServiceID, char CharacteristicID, wt WriteType, auth AuthReq, value []byte) Status
	ReadDescriptor(connID int, svc ServiceID, char CharacteristicID, desc DescriptorID, auth AuthReq) Status
	WriteDescriptor(connID int, svc ServiceID, char CharacteristicID, desc DescriptorID, wt WriteType, auth AuthReq, value []byte) Status
	ExecuteWrite(connID int, execute bool) Status

	RegisterForNotification(clientIf int, addr Address, svc ServiceID, char CharacteristicID) Status
	DeregisterForNotification(clientIf int, addr Address, svc ServiceID, char CharacteristicID) Status

	ReadRemoteRSSI(clientIf int, addr Address) Status
}

// ReadParams carries a read completion. Desc is zero for characteristic reads.
type ReadParams struct {
	Service   ServiceID
	Char      CharacteristicID
	Desc      DescriptorID
	Value     []byte
	ValueType int
}

// WriteParams carries a write completion. Desc is zero for characteristic writes.
type WriteParams struct {
	Service ServiceID
	Char    CharacteristicID
	Desc    DescriptorID
}

// NotifyParams carries an incoming notification or indication.
type NotifyParams struct {
	Address  Address
	Service  ServiceID
	Char     CharacteristicID
	Value    []byte
	IsNotify bool
}

// StackHandler is the callback table the stack drives from its own goroutine.
// Session implements it.
type StackHandler interface {
	ThreadEvent(evt ThreadEvent)
	AdapterStateChanged(on bool)
	BondStateChanged(status Status, addr Address, state BondState)

	RegisterClientResult(status Status, clientIf int, app UUID)
	ScanResult(addr Address, rssi int, adv []byte)
	ConnectResult(connID int, status Status, clientIf int, addr Address)
	DisconnectResult(connID int, status Status, clientIf int, addr Address)

	SearchResult(connID int, svc ServiceID)
	SearchComplete(connID int, status Status)
	IncludedServiceResult(connID int, status Status, svc ServiceID, incl ServiceID)
	CharacteristicResult(connID int, status Status, svc ServiceID, char CharacteristicID, props ble.Property)
	DescriptorResult(connID int, status Status, svc ServiceID, char CharacteristicID, desc DescriptorID)

	NotificationRegistration(connID int, registered bool, status Status, svc ServiceID, char CharacteristicID)
	Notify(connID int, p NotifyParams)

	ReadCharacteristicResult(connID int, status Status, p ReadParams)
	WriteCharacteristicResult(connID int, status Status, p WriteParams)
	ReadDescriptorResult(connID int, status Status, p ReadParams)
	WriteDescriptorResult(connID int, status Status, p WriteParams)
	ExecuteWriteResult(connID int, status Status)

	RemoteRSSIResult(clientIf int, addr Address, rssi int, status Status)
}
