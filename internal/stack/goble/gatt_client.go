package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/groutine"
)

// attAttributeNotFound is reported when a request names an attribute the
// link has not discovered.
const attAttributeNotFound gatt.Status = 0x0a

// gattClient is the GATT sub-interface view of Stack.
type gattClient Stack

func (c *gattClient) stack() *Stack { return (*Stack)(c) }

func (c *gattClient) Init(gatt.StackHandler) gatt.Status {
	return gatt.StatusSuccess
}

// RegisterClient hands out a single client interface; go-ble has no notion
// of multiple GATT applications.
func (c *gattClient) RegisterClient(app gatt.UUID) gatt.Status {
	s := c.stack()
	s.mu.Lock()
	if !s.adapterOn {
		s.mu.Unlock()
		return gatt.StatusNotReady
	}
	s.clientIf = 1
	s.mu.Unlock()

	s.post(func(h gatt.StackHandler) { h.RegisterClientResult(gatt.StatusSuccess, 1, app) })
	return gatt.StatusSuccess
}

func (c *gattClient) UnregisterClient(clientIf int) gatt.Status {
	s := c.stack()
	s.mu.Lock()
	defer s.mu.Unlock()
	if clientIf != s.clientIf {
		return gatt.StatusInvalidParam
	}
	s.clientIf = 0
	return gatt.StatusSuccess
}

func (c *gattClient) Scan(clientIf int, start bool) gatt.Status {
	s := c.stack()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scanCancel != nil {
		s.scanCancel()
		s.scanCancel = nil
	}
	if !start {
		return gatt.StatusSuccess
	}
	if s.adapter == nil {
		return gatt.StatusNotReady
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.scanCancel = cancel
	adapter := s.adapter

	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		err := adapter.Scan(ctx, true, func(a ble.Advertisement) {
			addr, err := fromBLEAddr(a.Addr())
			if err != nil {
				s.logger.WithError(err).Debug("Skipping advertisement without a MAC address")
				return
			}
			rssi, data := a.RSSI(), advertisementData(a)
			s.post(func(h gatt.StackHandler) { h.ScanResult(addr, rssi, data) })
		})
		if err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Warn("Scan stopped")
		}
	})
	return gatt.StatusSuccess
}

func (c *gattClient) Connect(clientIf int, addr gatt.Address, direct bool) gatt.Status {
	s := c.stack()
	s.mu.Lock()
	if !s.adapterOn || s.adapter == nil {
		s.mu.Unlock()
		return gatt.StatusNotReady
	}
	if l := s.linkByAddr(addr); l != nil {
		connID := l.connID
		s.mu.Unlock()
		s.post(func(h gatt.StackHandler) { h.ConnectResult(connID, gatt.StatusSuccess, clientIf, addr) })
		return gatt.StatusSuccess
	}
	adapter := s.adapter
	s.mu.Unlock()

	return s.do(func(ctx context.Context) {
		s.logger.WithField("address", addr.String()).Debug("Dialing BLE device...")

		dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
		conn, err := adapter.Dial(dialCtx, bleAddr(addr))
		cancel()
		if err != nil {
			st := NormalizeError(err)
			s.logger.WithFields(logrus.Fields{"address": addr.String(), "error": err}).Warn("Failed to dial BLE device")
			s.post(func(h gatt.StackHandler) { h.ConnectResult(0, st, clientIf, addr) })
			return
		}

		s.mu.Lock()
		s.nextConn++
		l := newLink(ctx, s.nextConn, addr, conn)
		s.links[l.connID] = l
		s.mu.Unlock()

		c.monitor(l, clientIf)
		s.post(func(h gatt.StackHandler) { h.ConnectResult(l.connID, gatt.StatusSuccess, clientIf, addr) })
	})
}

// monitor reports a link loss the platform signals on its own.
func (c *gattClient) monitor(l *link, clientIf int) {
	watch, ok := l.conn.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		c.stack().logger.Debug("Client does not report disconnection, link loss will go unnoticed")
		return
	}
	groutine.Go(l.ctx, "goble-link-monitor", func(ctx context.Context) {
		select {
		case <-watch.Disconnected():
			c.drop(l, clientIf, gatt.StatusRemoteDeviceDown)
		case <-ctx.Done():
		}
	})
}

func (c *gattClient) drop(l *link, clientIf int, status gatt.Status) {
	s := c.stack()
	s.mu.Lock()
	current, ok := s.links[l.connID]
	if ok && current == l {
		delete(s.links, l.connID)
	}
	s.mu.Unlock()
	if !ok || current != l {
		return
	}

	l.close()
	s.logger.WithFields(logrus.Fields{"address": l.addr.String(), "conn_id": l.connID}).Warn("Link lost")
	s.post(func(h gatt.StackHandler) { h.DisconnectResult(l.connID, status, clientIf, l.addr) })
}

func (c *gattClient) Disconnect(clientIf int, addr gatt.Address, connID int) gatt.Status {
	s := c.stack()
	s.mu.Lock()
	l := s.linkByAddr(addr)
	if l == nil {
		s.mu.Unlock()
		return gatt.StatusFail
	}
	delete(s.links, l.connID)
	s.mu.Unlock()
	l.close()

	return s.do(func(context.Context) {
		if err := l.conn.CancelConnection(); err != nil {
			s.logger.WithError(err).WithField("address", addr.String()).Warn("Cancel connection failed")
		}
		s.post(func(h gatt.StackHandler) { h.DisconnectResult(l.connID, gatt.StatusSuccess, clientIf, addr) })
	})
}

// onLink queues fn for the worker with the link for connID.
func (c *gattClient) onLink(connID int, fn func(l *link)) gatt.Status {
	s := c.stack()
	l, ok := s.link(connID)
	if !ok {
		return gatt.StatusInvalidParam
	}
	return s.do(func(context.Context) { fn(l) })
}

func (c *gattClient) SearchService(connID int, filter *gatt.UUID) gatt.Status {
	s := c.stack()
	return c.onLink(connID, func(l *link) {
		var f []ble.UUID
		if filter != nil {
			f = []ble.UUID{filter.BLE()}
		}
		svcs, err := l.conn.DiscoverServices(f)
		if err != nil {
			st := NormalizeError(err)
			s.post(func(h gatt.StackHandler) { h.SearchComplete(connID, st) })
			return
		}
		for _, id := range l.upsertServices(svcs, true) {
			id := id
			s.post(func(h gatt.StackHandler) { h.SearchResult(connID, id) })
		}
		s.post(func(h gatt.StackHandler) { h.SearchComplete(connID, gatt.StatusSuccess) })
	})
}

func (c *gattClient) GetIncludedService(connID int, svc gatt.ServiceID, start *gatt.ServiceID) gatt.Status {
	s := c.stack()
	return c.onLink(connID, func(l *link) {
		var (
			next   gatt.ServiceID
			status = gatt.StatusDone
		)
		defer func() {
			s.post(func(h gatt.StackHandler) { h.IncludedServiceResult(connID, status, svc, next) })
		}()

		n := l.service(svc)
		if n == nil {
			status = attAttributeNotFound
			return
		}
		if !n.includedKnown {
			incs, err := l.conn.DiscoverIncludedServices(nil, n.svc)
			if st := NormalizeError(err); st == gatt.StatusUnsupported {
				s.logger.WithField("service", svc.String()).Debug("Included service discovery not supported, reporting none")
				incs = nil
			} else if !st.OK() {
				status = st
				return
			}
			n.included = l.upsertServices(incs, false)
			n.includedKnown = true
		}
		if i := nextIndex(len(n.included), func(i int) bool { return start != nil && n.included[i] == *start }, start != nil); i >= 0 {
			next, status = n.included[i], gatt.StatusSuccess
		}
	})
}

func (c *gattClient) GetCharacteristic(connID int, svc gatt.ServiceID, start *gatt.CharacteristicID) gatt.Status {
	s := c.stack()
	return c.onLink(connID, func(l *link) {
		var (
			next   gatt.CharacteristicID
			props  ble.Property
			status = gatt.StatusDone
		)
		defer func() {
			s.post(func(h gatt.StackHandler) { h.CharacteristicResult(connID, status, svc, next, props) })
		}()

		n := l.service(svc)
		if n == nil {
			status = attAttributeNotFound
			return
		}
		if !n.charsKnown {
			chars, err := l.conn.DiscoverCharacteristics(nil, n.svc)
			if err != nil {
				status = NormalizeError(err)
				return
			}
			n.setCharacteristics(chars)
		}
		if i := nextIndex(len(n.chars), func(i int) bool { return start != nil && n.chars[i].id == *start }, start != nil); i >= 0 {
			next, props, status = n.chars[i].id, n.chars[i].ch.Property, gatt.StatusSuccess
		}
	})
}

func (c *gattClient) GetDescriptor(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, start *gatt.DescriptorID) gatt.Status {
	s := c.stack()
	return c.onLink(connID, func(l *link) {
		var (
			next   gatt.DescriptorID
			status = gatt.StatusDone
		)
		defer func() {
			s.post(func(h gatt.StackHandler) { h.DescriptorResult(connID, status, svc, char, next) })
		}()

		n := l.characteristic(svc, char)
		if n == nil {
			status = attAttributeNotFound
			return
		}
		if !n.descsKnown {
			descs, err := l.conn.DiscoverDescriptors(nil, n.ch)
			if err != nil {
				status = NormalizeError(err)
				return
			}
			n.setDescriptors(descs)
		}
		if i := nextIndex(len(n.descs), func(i int) bool { return start != nil && n.descs[i].id == *start }, start != nil); i >= 0 {
			next, status = n.descs[i].id, gatt.StatusSuccess
		}
	})
}

func (c *gattClient) ReadCharacteristic(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, auth gatt.AuthReq) gatt.Status {
	s := c.stack()
	return c.onLink(connID, func(l *link) {
		params := gatt.ReadParams{Service: svc, Char: char}
		status := attAttributeNotFound
		if n := l.characteristic(svc, char); n != nil {
			v, err := l.conn.ReadCharacteristic(n.ch)
			params.Value, status = v, NormalizeError(err)
		}
		s.post(func(h gatt.StackHandler) { h.ReadCharacteristicResult(connID, status, params) })
	})
}

// WriteCharacteristic supports commands and requests; go-ble exposes no
// prepare/execute queue.
func (c *gattClient) WriteCharacteristic(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, wt gatt.WriteType, auth gatt.AuthReq, value []byte) gatt.Status {
	if wt == gatt.WritePrepare {
		return gatt.StatusUnsupported
	}
	value = append([]byte(nil), value...)
	s := c.stack()
	return c.onLink(connID, func(l *link) {
		status := attAttributeNotFound
		if n := l.characteristic(svc, char); n != nil {
			status = NormalizeError(l.conn.WriteCharacteristic(n.ch, value, wt == gatt.WriteCommand))
		}
		s.post(func(h gatt.StackHandler) {
			h.WriteCharacteristicResult(connID, status, gatt.WriteParams{Service: svc, Char: char})
		})
	})
}

func (c *gattClient) ReadDescriptor(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, desc gatt.DescriptorID, auth gatt.AuthReq) gatt.Status {
	s := c.stack()
	return c.onLink(connID, func(l *link) {
		params := gatt.ReadParams{Service: svc, Char: char, Desc: desc}
		status := attAttributeNotFound
		if n := l.descriptor(svc, char, desc); n != nil {
			v, err := l.conn.ReadDescriptor(n.d)
			params.Value, status = v, NormalizeError(err)
		}
		s.post(func(h gatt.StackHandler) { h.ReadDescriptorResult(connID, status, params) })
	})
}

func (c *gattClient) WriteDescriptor(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, desc gatt.DescriptorID, wt gatt.WriteType, auth gatt.AuthReq, value []byte) gatt.Status {
	if wt == gatt.WritePrepare {
		return gatt.StatusUnsupported
	}
	value = append([]byte(nil), value...)
	s := c.stack()
	return c.onLink(connID, func(l *link) {
		status := attAttributeNotFound
		if n := l.descriptor(svc, char, desc); n != nil {
			status = NormalizeError(l.conn.WriteDescriptor(n.d, value))
		}
		s.post(func(h gatt.StackHandler) {
			h.WriteDescriptorResult(connID, status, gatt.WriteParams{Service: svc, Char: char, Desc: desc})
		})
	})
}

func (c *gattClient) ExecuteWrite(int, bool) gatt.Status {
	return gatt.StatusUnsupported
}

func (c *gattClient) RegisterForNotification(clientIf int, addr gatt.Address, svc gatt.ServiceID, char gatt.CharacteristicID) gatt.Status {
	return c.subscription(addr, svc, char, true)
}

func (c *gattClient) DeregisterForNotification(clientIf int, addr gatt.Address, svc gatt.ServiceID, char gatt.CharacteristicID) gatt.Status {
	return c.subscription(addr, svc, char, false)
}

// subscription subscribes for notifications, falling back to indications
// when the characteristic only indicates.
func (c *gattClient) subscription(addr gatt.Address, svc gatt.ServiceID, char gatt.CharacteristicID, register bool) gatt.Status {
	s := c.stack()
	s.mu.Lock()
	l := s.linkByAddr(addr)
	s.mu.Unlock()
	if l == nil {
		return gatt.StatusInvalidParam
	}
	connID := l.connID

	return s.do(func(context.Context) {
		status := attAttributeNotFound
		if n := l.characteristic(svc, char); n != nil {
			ind := n.ch.Property&ble.CharNotify == 0 && n.ch.Property&ble.CharIndicate != 0
			if register {
				status = NormalizeError(l.conn.Subscribe(n.ch, ind, func(v []byte) {
					params := gatt.NotifyParams{
						Address:  addr,
						Service:  svc,
						Char:     char,
						Value:    append([]byte(nil), v...),
						IsNotify: !ind,
					}
					s.post(func(h gatt.StackHandler) { h.Notify(connID, params) })
				}))
				if status.OK() {
					l.subs[n.ch] = ind
				}
			} else {
				status = NormalizeError(l.conn.Unsubscribe(n.ch, ind))
				delete(l.subs, n.ch)
			}
		}
		s.post(func(h gatt.StackHandler) { h.NotificationRegistration(connID, register, status, svc, char) })
	})
}

func (c *gattClient) ReadRemoteRSSI(clientIf int, addr gatt.Address) gatt.Status {
	s := c.stack()
	s.mu.Lock()
	l := s.linkByAddr(addr)
	s.mu.Unlock()
	if l == nil {
		s.post(func(h gatt.StackHandler) { h.RemoteRSSIResult(clientIf, addr, 0, gatt.StatusRemoteDeviceDown) })
		return gatt.StatusSuccess
	}
	return s.do(func(context.Context) {
		rssi := l.conn.ReadRSSI()
		s.post(func(h gatt.StackHandler) { h.RemoteRSSIResult(clientIf, addr, rssi, gatt.StatusSuccess) })
	})
}
