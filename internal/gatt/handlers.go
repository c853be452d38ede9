package gatt

import (
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// This file holds the StackHandler side of Session. Handlers run on the
// stack's goroutine. Each one updates device state under the device lock,
// releases it, then issues any follow-up primitive and invokes callbacks.

func (s *Session) ThreadEvent(evt ThreadEvent) {
	s.logger.WithField("event", evt.String()).Debug("Stack thread event")

	switch evt {
	case ThreadAssociated:
		s.associated.Store(true)
		if g := s.stack.Gatt(); g != nil {
			if st := g.Init(s); st.OK() {
				s.gatt.Store(&gattRef{g})
			} else {
				s.logger.WithField("status", st.String()).Error("GATT interface initialization failed")
			}
		} else {
			s.logger.Warn("Stack has no GATT interface")
		}
		if st := s.stack.Enable(); !st.OK() {
			s.logger.WithField("status", st.String()).Error("Adapter enable failed")
			s.stack.Cleanup()
		}

	case ThreadDisassociated:
		s.gatt.Store(nil)
		s.adapterOn.Store(false)
		s.scanning.Store(false)
		s.clientIf.Store(0)
		s.associated.Store(false)
	}
}

func (s *Session) AdapterStateChanged(on bool) {
	s.adapterOn.Store(on)
	if cb := s.callbacks().AdapterStateChanged; cb != nil {
		cb(on)
	}

	if !on {
		s.clientIf.Store(0)
		s.scanning.Store(false)
		s.stack.Cleanup()
		return
	}
	if s.closing.Load() {
		return
	}

	g := s.gattClient()
	if g == nil {
		s.logger.Warn("Adapter on but GATT interface unavailable")
		return
	}
	if st := g.RegisterClient(s.appUUID); !st.OK() {
		s.logger.WithField("status", st.String()).Error("GATT client registration failed, disabling adapter")
		s.stack.Disable()
	}
}

func (s *Session) BondStateChanged(status Status, addr Address, state BondState) {
	if !state.Valid() {
		s.logger.WithFields(logrus.Fields{"address": addr, "state": int(state)}).Debug("Unknown bond state dropped")
		return
	}
	if _, ok := s.registry.FindByAddress(addr); !ok {
		s.logger.WithField("address", addr).Debug("Bond state for unknown device dropped")
		return
	}
	if cb := s.callbacks().BondStateChanged; cb != nil {
		cb(addr, state, status)
	}
}

func (s *Session) RegisterClientResult(status Status, clientIf int, app UUID) {
	if app != s.appUUID {
		s.logger.WithField("app_uuid", app.String()).Debug("Registration for foreign application dropped")
		return
	}
	if !status.OK() {
		s.logger.WithField("status", status.String()).Error("GATT client registration rejected")
		return
	}

	s.clientIf.Store(int32(clientIf))
	s.logger.WithField("client_if", clientIf).Debug("GATT client registered")
	if cb := s.callbacks().Enabled; cb != nil {
		cb()
	}
}

func (s *Session) ScanResult(addr Address, rssi int, adv []byte) {
	if cb := s.callbacks().ScanResult; cb != nil {
		cb(addr, rssi, adv)
	}
}

func (s *Session) ConnectResult(connID int, status Status, clientIf int, addr Address) {
	d, ok := s.registry.FindByAddress(addr)
	if !ok {
		s.logger.WithField("address", addr).Debug("Connect completion for unknown device dropped")
		return
	}
	if status.OK() && connID > 0 {
		s.registry.Bind(d, connID)
	}

	s.logger.WithFields(logrus.Fields{
		"address": addr,
		"conn_id": connID,
		"status":  status.String(),
	}).Debug("Connect completed")
	if cb := s.callbacks().Connected; cb != nil {
		cb(addr, connID, status)
	}
}

func (s *Session) DisconnectResult(connID int, status Status, clientIf int, addr Address) {
	d, ok := s.registry.FindByAddress(addr)
	if !ok {
		s.logger.WithField("address", addr).Debug("Disconnect completion for unknown device dropped")
		return
	}
	s.registry.Unbind(d)

	// Sequences cut by the link loss would otherwise stay requested forever,
	// since their completions can no longer be routed by connection id.
	var cut []DiscoveryKind
	d.withLock(func() {
		d.prepared.clear()
		for _, k := range []DiscoveryKind{DiscoverServices, DiscoverIncludedServices, DiscoverCharacteristics, DiscoverDescriptors} {
			if d.finishDiscovery(k, StatusRemoteDeviceDown) {
				cut = append(cut, k)
			}
		}
	})
	for _, k := range cut {
		s.discoveryFinished(connID, k, StatusRemoteDeviceDown)
	}

	if cb := s.callbacks().Disconnected; cb != nil {
		cb(addr, connID, status)
	}
}

func (s *Session) SearchResult(connID int, svc ServiceID) {
	d, ok := s.route(connID, "search result")
	if !ok {
		return
	}

	var index int
	d.withLock(func() {
		index = d.cache.RecordService(svc)
	})
	if cb := s.callbacks().ServiceFound; cb != nil {
		cb(connID, index, svc.UUID, svc.Primary)
	}
}

func (s *Session) SearchComplete(connID int, status Status) {
	d, ok := s.route(connID, "search complete")
	if !ok {
		return
	}
	s.finish(d, connID, DiscoverServices, status)
}

func (s *Session) IncludedServiceResult(connID int, status Status, svc ServiceID, incl ServiceID) {
	d, ok := s.route(connID, "included service result")
	if !ok {
		return
	}
	if !status.OK() {
		s.finish(d, connID, DiscoverIncludedServices, status)
		return
	}

	var (
		index   int
		running bool
	)
	d.withLock(func() {
		index = d.cache.RecordService(incl)
		running = d.discoveryRunning(DiscoverIncludedServices)
	})
	if cb := s.callbacks().ServiceFound; cb != nil {
		cb(connID, index, incl.UUID, incl.Primary)
	}

	if running {
		s.next(d, connID, DiscoverIncludedServices, func(g GattClient) Status {
			return g.GetIncludedService(connID, svc, &incl)
		})
	}
}

func (s *Session) CharacteristicResult(connID int, status Status, svc ServiceID, char CharacteristicID, props ble.Property) {
	d, ok := s.route(connID, "characteristic result")
	if !ok {
		return
	}
	if !status.OK() {
		s.finish(d, connID, DiscoverCharacteristics, status)
		return
	}

	var (
		index   int
		running bool
		err     error
	)
	d.withLock(func() {
		index, err = d.cache.RecordCharacteristic(svc, char, props)
		running = d.discoveryRunning(DiscoverCharacteristics)
	})
	if err != nil {
		s.logger.WithError(err).WithField("conn_id", connID).Warn("Orphan characteristic dropped")
	} else if cb := s.callbacks().CharacteristicFound; cb != nil {
		cb(connID, index, char.UUID, props)
	}

	if running {
		s.next(d, connID, DiscoverCharacteristics, func(g GattClient) Status {
			return g.GetCharacteristic(connID, svc, &char)
		})
	}
}

func (s *Session) DescriptorResult(connID int, status Status, svc ServiceID, char CharacteristicID, desc DescriptorID) {
	d, ok := s.route(connID, "descriptor result")
	if !ok {
		return
	}
	if !status.OK() {
		s.finish(d, connID, DiscoverDescriptors, status)
		return
	}

	var (
		index   int
		running bool
		err     error
	)
	d.withLock(func() {
		index, err = d.cache.RecordDescriptor(svc, char, desc)
		running = d.discoveryRunning(DiscoverDescriptors)
	})
	if err != nil {
		s.logger.WithError(err).WithField("conn_id", connID).Warn("Orphan descriptor dropped")
	} else if cb := s.callbacks().DescriptorFound; cb != nil {
		cb(connID, index, desc.UUID, char.UUID)
	}

	if running {
		s.next(d, connID, DiscoverDescriptors, func(g GattClient) Status {
			return g.GetDescriptor(connID, svc, char, &desc)
		})
	}
}

func (s *Session) NotificationRegistration(connID int, registered bool, status Status, svc ServiceID, char CharacteristicID) {
	d, ok := s.route(connID, "notification registration")
	if !ok {
		return
	}

	index := -1
	d.withLock(func() {
		i, found := d.cache.FindCharacteristic(svc, char)
		if !found {
			return
		}
		index = i
		if !status.OK() {
			return
		}
		if registered {
			d.notifications.Add(i, char.UUID)
		} else {
			d.notifications.Remove(i)
		}
	})
	if cb := s.callbacks().NotificationRegistrationChanged; cb != nil {
		cb(connID, index, registered, status)
	}
}

func (s *Session) Notify(connID int, p NotifyParams) {
	d, ok := s.route(connID, "notification")
	if !ok {
		return
	}

	index := -1
	d.withLock(func() {
		if i, found := d.cache.FindCharacteristic(p.Service, p.Char); found {
			index = i
		}
	})
	if index < 0 {
		s.logger.WithFields(logrus.Fields{
			"conn_id":        connID,
			"characteristic": p.Char.String(),
		}).Warn("Notification for uncached characteristic dropped")
		return
	}
	if cb := s.callbacks().NotificationReceived; cb != nil {
		cb(connID, index, p.Value, !p.IsNotify)
	}
}

func (s *Session) ReadCharacteristicResult(connID int, status Status, p ReadParams) {
	d, ok := s.route(connID, "read characteristic")
	if !ok {
		return
	}
	index := s.resolveCharacteristic(d, p.Service, p.Char)
	if cb := s.callbacks().CharacteristicRead; cb != nil {
		cb(connID, index, p.Value, p.ValueType, status)
	}
}

func (s *Session) WriteCharacteristicResult(connID int, status Status, p WriteParams) {
	d, ok := s.route(connID, "write characteristic")
	if !ok {
		return
	}
	index := s.resolveCharacteristic(d, p.Service, p.Char)
	if cb := s.callbacks().CharacteristicWritten; cb != nil {
		cb(connID, index, status)
	}
}

func (s *Session) ReadDescriptorResult(connID int, status Status, p ReadParams) {
	d, ok := s.route(connID, "read descriptor")
	if !ok {
		return
	}
	index := s.resolveDescriptor(d, p.Service, p.Char, p.Desc)
	if cb := s.callbacks().DescriptorRead; cb != nil {
		cb(connID, index, p.Value, p.ValueType, status)
	}
}

func (s *Session) WriteDescriptorResult(connID int, status Status, p WriteParams) {
	d, ok := s.route(connID, "write descriptor")
	if !ok {
		return
	}
	index := s.resolveDescriptor(d, p.Service, p.Char, p.Desc)
	if cb := s.callbacks().DescriptorWritten; cb != nil {
		cb(connID, index, status)
	}
}

func (s *Session) ExecuteWriteResult(connID int, status Status) {
	d, ok := s.route(connID, "execute write")
	if !ok {
		return
	}

	var slot PreparedWrite
	d.withLock(func() {
		slot = d.prepared.take()
	})
	if !slot.Active {
		return
	}

	cbs := s.callbacks()
	switch slot.Kind {
	case KindCharacteristic:
		if cbs.CharacteristicWritten != nil {
			cbs.CharacteristicWritten(connID, slot.Index, status)
		}
	case KindDescriptor:
		if cbs.DescriptorWritten != nil {
			cbs.DescriptorWritten(connID, slot.Index, status)
		}
	}
}

func (s *Session) RemoteRSSIResult(clientIf int, addr Address, rssi int, status Status) {
	connID := -1
	if status.OK() {
		if d, ok := s.registry.FindByAddress(addr); ok {
			connID = d.ConnID()
		}
	}
	if cb := s.callbacks().RemoteRSSI; cb != nil {
		cb(connID, rssi, status)
	}
}

// route resolves the device of a connection-keyed completion. Unknown ids
// are dropped silently: the link may already be gone.
func (s *Session) route(connID int, what string) (*Device, bool) {
	d, ok := s.registry.FindByConnection(connID)
	if !ok {
		s.logger.WithFields(logrus.Fields{"conn_id": connID, "op": what}).Debug("Completion for unknown connection dropped")
	}
	return d, ok
}

// next issues the follow-up request of an iterative discovery and finalizes
// the sequence when it cannot be issued.
func (s *Session) next(d *Device, connID int, kind DiscoveryKind, issue func(GattClient) Status) {
	g := s.gattClient()
	st := StatusNotReady
	if g != nil && !s.closing.Load() {
		st = issue(g)
	}
	if st.OK() {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"conn_id": connID,
		"kind":    kind.String(),
		"status":  st.String(),
	}).Warn("Next discovery request failed")
	s.finish(d, connID, kind, st)
}

// finish finalizes kind on d and fires its finished callback once.
func (s *Session) finish(d *Device, connID int, kind DiscoveryKind, status Status) {
	var fire bool
	d.withLock(func() {
		fire = d.finishDiscovery(kind, status)
	})
	if !fire {
		s.logger.WithFields(logrus.Fields{"conn_id": connID, "kind": kind.String()}).Debug("Terminal status for idle discovery dropped")
		return
	}
	s.discoveryFinished(connID, kind, status)
}

func (s *Session) discoveryFinished(connID int, kind DiscoveryKind, status Status) {
	s.logger.WithFields(logrus.Fields{
		"conn_id": connID,
		"kind":    kind.String(),
		"status":  status.String(),
	}).Debug("Discovery finished")

	cbs := s.callbacks()
	var cb func(int, Status)
	switch kind {
	case DiscoverServices:
		cb = cbs.ServiceDiscoveryFinished
	case DiscoverIncludedServices:
		cb = cbs.IncludedServiceDiscoveryFinished
	case DiscoverCharacteristics:
		cb = cbs.CharacteristicDiscoveryFinished
	case DiscoverDescriptors:
		cb = cbs.DescriptorDiscoveryFinished
	}
	if cb != nil {
		cb(connID, status)
	}
}

func (s *Session) resolveCharacteristic(d *Device, svc ServiceID, char CharacteristicID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, _ := d.cache.FindCharacteristic(svc, char)
	return i
}

func (s *Session) resolveDescriptor(d *Device, svc ServiceID, char CharacteristicID, desc DescriptorID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, _ := d.cache.FindDescriptor(svc, char, desc)
	return i
}
