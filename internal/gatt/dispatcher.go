package gatt

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Op is an attribute operation code accepted by Do.
type Op int

const (
	OpReadCharacteristic Op = iota
	OpReadDescriptor
	OpWriteCharacteristicCommand
	OpWriteCharacteristicRequest
	OpWriteCharacteristicPrepare
	OpWriteDescriptorCommand
	OpWriteDescriptorRequest
	OpWriteDescriptorPrepare
	// OpExecuteWrite commits the prepared write; index 0 cancels it.
	OpExecuteWrite
)

func (op Op) String() string {
	switch op {
	case OpReadCharacteristic:
		return "read characteristic"
	case OpReadDescriptor:
		return "read descriptor"
	case OpWriteCharacteristicCommand, OpWriteCharacteristicRequest, OpWriteCharacteristicPrepare:
		return "write characteristic"
	case OpWriteDescriptorCommand, OpWriteDescriptorRequest, OpWriteDescriptorPrepare:
		return "write descriptor"
	case OpExecuteWrite:
		return "execute write"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Connect opens a direct connection to addr, creating the device record on
// first use. The connection id arrives with Callbacks.Connected.
func (s *Session) Connect(addr Address) error {
	g, clientIf, err := s.ready()
	if err != nil {
		return err
	}
	if err := checkAddress(addr); err != nil {
		return err
	}

	s.registry.GetOrCreate(addr)
	s.logger.WithField("address", addr).Debug("Connecting")
	return stackError("connect", g.Connect(clientIf, addr, true))
}

// Disconnect closes the connection to a known device. A device with no
// active connection is still forwarded so the stack can cancel a pending
// connect.
func (s *Session) Disconnect(addr Address) error {
	g, clientIf, err := s.ready()
	if err != nil {
		return err
	}
	if err := checkAddress(addr); err != nil {
		return err
	}

	d, ok := s.registry.FindByAddress(addr)
	if !ok {
		return fmt.Errorf("%w: unknown device %s", ErrInvalidArgument, addr)
	}
	return stackError("disconnect", g.Disconnect(clientIf, addr, d.ConnID()))
}

// DiscoverServices starts service discovery on connID, optionally limited
// to one service UUID.
func (s *Session) DiscoverServices(connID int, filter *UUID) error {
	g, _, err := s.ready()
	if err != nil {
		return err
	}
	d, err := s.connected(connID)
	if err != nil {
		return err
	}

	if err := s.beginDiscovery(d, DiscoverServices, -1); err != nil {
		return err
	}
	return s.issueFirst(d, DiscoverServices, "search service", func() Status {
		return g.SearchService(connID, filter)
	})
}

// DiscoverIncludedServices walks the services included by cached service svc.
func (s *Session) DiscoverIncludedServices(connID, svc int) error {
	g, _, err := s.ready()
	if err != nil {
		return err
	}
	if err := checkIndex(KindService, svc); err != nil {
		return err
	}
	d, err := s.connected(connID)
	if err != nil {
		return err
	}

	var id ServiceID
	if err := s.locked(d, func() error {
		sv, err := d.cache.Service(svc)
		if err != nil {
			return err
		}
		id = sv.ID
		return d.beginDiscovery(DiscoverIncludedServices, svc)
	}); err != nil {
		return err
	}
	return s.issueFirst(d, DiscoverIncludedServices, "get included service", func() Status {
		return g.GetIncludedService(connID, id, nil)
	})
}

// DiscoverCharacteristics walks the characteristics of cached service svc.
func (s *Session) DiscoverCharacteristics(connID, svc int) error {
	g, _, err := s.ready()
	if err != nil {
		return err
	}
	if err := checkIndex(KindService, svc); err != nil {
		return err
	}
	d, err := s.connected(connID)
	if err != nil {
		return err
	}

	var id ServiceID
	if err := s.locked(d, func() error {
		sv, err := d.cache.Service(svc)
		if err != nil {
			return err
		}
		id = sv.ID
		return d.beginDiscovery(DiscoverCharacteristics, svc)
	}); err != nil {
		return err
	}
	return s.issueFirst(d, DiscoverCharacteristics, "get characteristic", func() Status {
		return g.GetCharacteristic(connID, id, nil)
	})
}

// DiscoverDescriptors walks the descriptors of cached characteristic char.
func (s *Session) DiscoverDescriptors(connID, char int) error {
	g, _, err := s.ready()
	if err != nil {
		return err
	}
	if err := checkIndex(KindCharacteristic, char); err != nil {
		return err
	}
	d, err := s.connected(connID)
	if err != nil {
		return err
	}

	var (
		svcID  ServiceID
		charID CharacteristicID
	)
	if err := s.locked(d, func() error {
		var err error
		if svcID, charID, err = d.cache.CharacteristicRef(char); err != nil {
			return err
		}
		return d.beginDiscovery(DiscoverDescriptors, char)
	}); err != nil {
		return err
	}
	return s.issueFirst(d, DiscoverDescriptors, "get descriptor", func() Status {
		return g.GetDescriptor(connID, svcID, charID, nil)
	})
}

func (s *Session) ReadCharacteristic(connID, index int, auth AuthReq) error {
	return s.Do(OpReadCharacteristic, connID, index, auth, nil)
}

func (s *Session) ReadDescriptor(connID, index int, auth AuthReq) error {
	return s.Do(OpReadDescriptor, connID, index, auth, nil)
}

// WriteCharacteristic writes value to characteristic index. WritePrepare
// stages the value and arms the prepared-write slot for ExecuteWrite.
func (s *Session) WriteCharacteristic(connID, index int, wt WriteType, auth AuthReq, value []byte) error {
	switch wt {
	case WriteCommand:
		return s.Do(OpWriteCharacteristicCommand, connID, index, auth, value)
	case WriteRequest:
		return s.Do(OpWriteCharacteristicRequest, connID, index, auth, value)
	case WritePrepare:
		return s.Do(OpWriteCharacteristicPrepare, connID, index, auth, value)
	default:
		return fmt.Errorf("%w: write type %d", ErrInvalidArgument, int(wt))
	}
}

// WriteDescriptor writes value to descriptor index; see WriteCharacteristic.
func (s *Session) WriteDescriptor(connID, index int, wt WriteType, auth AuthReq, value []byte) error {
	switch wt {
	case WriteCommand:
		return s.Do(OpWriteDescriptorCommand, connID, index, auth, value)
	case WriteRequest:
		return s.Do(OpWriteDescriptorRequest, connID, index, auth, value)
	case WritePrepare:
		return s.Do(OpWriteDescriptorPrepare, connID, index, auth, value)
	default:
		return fmt.Errorf("%w: write type %d", ErrInvalidArgument, int(wt))
	}
}

// ExecuteWrite commits (commit=true) or cancels the prepared write on connID.
// Cancelling clears the prepared-write slot before the request is issued.
func (s *Session) ExecuteWrite(connID int, commit bool) error {
	index := 0
	if commit {
		index = 1
	}
	return s.Do(OpExecuteWrite, connID, index, AuthNone, nil)
}

// Do issues attribute operation op against the cached attribute index on
// connID. Operation codes with no primitive fail with ErrUnsupported.
func (s *Session) Do(op Op, connID, index int, auth AuthReq, value []byte) error {
	g, _, err := s.ready()
	if err != nil {
		return err
	}
	if index < 0 {
		return fmt.Errorf("%w: negative index %d", ErrInvalidArgument, index)
	}
	d, err := s.connected(connID)
	if err != nil {
		return err
	}

	var issue func() Status
	if err := s.locked(d, func() error {
		var err error
		issue, err = s.prepareOp(d, g, op, connID, index, auth, value)
		return err
	}); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"op":      op.String(),
		"conn_id": connID,
		"index":   index,
	}).Debug("Issuing attribute operation")
	return stackError(op.String(), issue())
}

// prepareOp validates op against d's cache and returns the primitive call.
// Caller holds d.mu; the returned func runs without it.
func (s *Session) prepareOp(d *Device, g GattClient, op Op, connID, index int, auth AuthReq, value []byte) (func() Status, error) {
	switch op {
	case OpReadCharacteristic:
		svc, char, err := d.cache.CharacteristicRef(index)
		if err != nil {
			return nil, err
		}
		return func() Status { return g.ReadCharacteristic(connID, svc, char, auth) }, nil

	case OpReadDescriptor:
		svc, char, desc, err := d.cache.DescriptorRef(index)
		if err != nil {
			return nil, err
		}
		return func() Status { return g.ReadDescriptor(connID, svc, char, desc, auth) }, nil

	case OpWriteCharacteristicCommand, OpWriteCharacteristicRequest, OpWriteCharacteristicPrepare:
		svc, char, err := d.cache.CharacteristicRef(index)
		if err != nil {
			return nil, err
		}
		wt := WriteType(op - OpWriteCharacteristicCommand + 1)
		if wt == WritePrepare {
			d.prepared.set(KindCharacteristic, index)
		}
		return func() Status { return g.WriteCharacteristic(connID, svc, char, wt, auth, value) }, nil

	case OpWriteDescriptorCommand, OpWriteDescriptorRequest, OpWriteDescriptorPrepare:
		svc, char, desc, err := d.cache.DescriptorRef(index)
		if err != nil {
			return nil, err
		}
		wt := WriteType(op - OpWriteDescriptorCommand + 1)
		if wt == WritePrepare {
			d.prepared.set(KindDescriptor, index)
		}
		return func() Status { return g.WriteDescriptor(connID, svc, char, desc, wt, auth, value) }, nil

	case OpExecuteWrite:
		commit := index != 0
		if !commit {
			d.prepared.clear()
		}
		return func() Status { return g.ExecuteWrite(connID, commit) }, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, op)
	}
}

// RegisterNotification asks the stack to deliver notifications for
// characteristic index. The subscription is recorded on confirmation.
func (s *Session) RegisterNotification(connID, index int) error {
	return s.notificationOp(connID, index, true)
}

// UnregisterNotification cancels a notification registration.
func (s *Session) UnregisterNotification(connID, index int) error {
	return s.notificationOp(connID, index, false)
}

func (s *Session) notificationOp(connID, index int, register bool) error {
	g, clientIf, err := s.ready()
	if err != nil {
		return err
	}
	if err := checkIndex(KindCharacteristic, index); err != nil {
		return err
	}
	d, err := s.connected(connID)
	if err != nil {
		return err
	}

	var (
		svc  ServiceID
		char CharacteristicID
	)
	if err := s.locked(d, func() error {
		var err error
		svc, char, err = d.cache.CharacteristicRef(index)
		return err
	}); err != nil {
		return err
	}

	if register {
		return stackError("register notification", g.RegisterForNotification(clientIf, d.address, svc, char))
	}
	return stackError("deregister notification", g.DeregisterForNotification(clientIf, d.address, svc, char))
}

// ReadRemoteRSSI requests the signal strength of the device on connID.
func (s *Session) ReadRemoteRSSI(connID int) error {
	g, clientIf, err := s.ready()
	if err != nil {
		return err
	}
	d, err := s.connected(connID)
	if err != nil {
		return err
	}
	return stackError("read remote rssi", g.ReadRemoteRSSI(clientIf, d.address))
}

// StartScan starts an LE scan. Starting an active scan is a no-op.
func (s *Session) StartScan() error {
	return s.scan(true)
}

// StopScan stops an LE scan. Stopping an idle scanner is a no-op.
func (s *Session) StopScan() error {
	return s.scan(false)
}

func (s *Session) scan(start bool) error {
	g, clientIf, err := s.ready()
	if err != nil {
		return err
	}
	if s.scanning.Load() == start {
		return nil
	}
	if st := g.Scan(clientIf, start); !st.OK() {
		return stackError("scan", st)
	}
	s.scanning.Store(start)
	return nil
}

type bondOp int

const (
	bondCreate bondOp = iota
	bondCancel
	bondRemove
)

// Pair starts bonding with addr.
func (s *Session) Pair(addr Address) error {
	return s.bond(addr, bondCreate)
}

// CancelPairing aborts an ongoing bonding procedure with addr.
func (s *Session) CancelPairing(addr Address) error {
	return s.bond(addr, bondCancel)
}

// RemoveBond deletes the bond with addr.
func (s *Session) RemoveBond(addr Address) error {
	return s.bond(addr, bondRemove)
}

func (s *Session) bond(addr Address, op bondOp) error {
	if err := s.bondReady(); err != nil {
		return err
	}
	if err := checkAddress(addr); err != nil {
		return err
	}

	s.registry.GetOrCreate(addr)
	switch op {
	case bondCreate:
		return stackError("create bond", s.stack.CreateBond(addr))
	case bondCancel:
		return stackError("cancel bond", s.stack.CancelBond(addr))
	default:
		return stackError("remove bond", s.stack.RemoveBond(addr))
	}
}

// beginDiscovery marks kind as requested on d.
func (s *Session) beginDiscovery(d *Device, kind DiscoveryKind, scope int) error {
	return s.locked(d, func() error {
		return d.beginDiscovery(kind, scope)
	})
}

// issueFirst sends the first request of a discovery sequence and rolls the
// sequence back to idle when the stack refuses it.
func (s *Session) issueFirst(d *Device, kind DiscoveryKind, op string, issue func() Status) error {
	st := issue()
	if st.OK() {
		return nil
	}
	d.withLock(func() {
		d.abortDiscovery(kind)
	})
	s.logger.WithFields(logrus.Fields{
		"address": d.address,
		"kind":    kind.String(),
		"status":  st.String(),
	}).Warn("Discovery request rejected by stack")
	return stackError(op, st)
}

func (s *Session) locked(d *Device, fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn()
}
