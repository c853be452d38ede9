package sim

import (
	"context"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/groutine"
)

// gattClient is the GATT sub-interface view of Stack.
type gattClient Stack

func (c *gattClient) stack() *Stack { return (*Stack)(c) }

func (c *gattClient) Init(gatt.StackHandler) gatt.Status {
	return gatt.StatusSuccess
}

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

	ctx, cancel := context.WithCancel(context.Background())
	s.scanCancel = cancel
	peripherals := append([]*peripheral(nil), s.peripherals...)
	interval := s.scanInterval

	groutine.Go(ctx, "sim-scan", func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			for _, p := range peripherals {
				p := p
				s.post(func(h gatt.StackHandler) { h.ScanResult(p.addr, p.rssi, p.advertisement()) })
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
	return gatt.StatusSuccess
}

func (c *gattClient) Connect(clientIf int, addr gatt.Address, direct bool) gatt.Status {
	s := c.stack()
	s.mu.Lock()
	if !s.adapterOn {
		s.mu.Unlock()
		return gatt.StatusNotReady
	}
	p := s.peripheral(addr)
	if p == nil {
		s.mu.Unlock()
		s.post(func(h gatt.StackHandler) { h.ConnectResult(0, gatt.StatusRemoteDeviceDown, clientIf, addr) })
		return gatt.StatusSuccess
	}
	l := s.linkByAddr(addr)
	if l == nil {
		s.nextConn++
		l = &link{connID: s.nextConn, periph: p, subs: make(map[*characteristic]bool)}
		s.links[l.connID] = l
	}
	connID := l.connID
	s.mu.Unlock()

	s.post(func(h gatt.StackHandler) { h.ConnectResult(connID, gatt.StatusSuccess, clientIf, addr) })
	return gatt.StatusSuccess
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

	s.post(func(h gatt.StackHandler) { h.DisconnectResult(l.connID, gatt.StatusSuccess, clientIf, addr) })
	return gatt.StatusSuccess
}

// withLink runs fn on the link for connID with the stack lock held.
func (c *gattClient) withLink(connID int, fn func(l *link) gatt.Status) gatt.Status {
	s := c.stack()
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[connID]
	if !ok {
		return gatt.StatusInvalidParam
	}
	return fn(l)
}

func (c *gattClient) SearchService(connID int, filter *gatt.UUID) gatt.Status {
	var found []gatt.ServiceID
	st := c.withLink(connID, func(l *link) gatt.Status {
		for _, svc := range l.periph.services {
			if !svc.exposed || (filter != nil && svc.id.UUID != *filter) {
				continue
			}
			found = append(found, svc.id)
		}
		return gatt.StatusSuccess
	})
	if !st.OK() {
		return st
	}

	s := c.stack()
	for _, id := range found {
		id := id
		s.post(func(h gatt.StackHandler) { h.SearchResult(connID, id) })
	}
	s.post(func(h gatt.StackHandler) { h.SearchComplete(connID, gatt.StatusSuccess) })
	return gatt.StatusSuccess
}

func (c *gattClient) GetIncludedService(connID int, svc gatt.ServiceID, start *gatt.ServiceID) gatt.Status {
	var (
		next   gatt.ServiceID
		status = gatt.StatusDone
	)
	st := c.withLink(connID, func(l *link) gatt.Status {
		sv := l.periph.service(svc)
		if sv == nil {
			status = attAttributeNotFound
			return gatt.StatusSuccess
		}
		if i := nextIndex(len(sv.includes), func(i int) bool { return start != nil && sv.includes[i] == *start }, start != nil); i >= 0 {
			next, status = sv.includes[i], gatt.StatusSuccess
		}
		return gatt.StatusSuccess
	})
	if !st.OK() {
		return st
	}
	c.stack().post(func(h gatt.StackHandler) { h.IncludedServiceResult(connID, status, svc, next) })
	return gatt.StatusSuccess
}

func (c *gattClient) GetCharacteristic(connID int, svc gatt.ServiceID, start *gatt.CharacteristicID) gatt.Status {
	var (
		next   gatt.CharacteristicID
		props  ble.Property
		status = gatt.StatusDone
	)
	st := c.withLink(connID, func(l *link) gatt.Status {
		sv := l.periph.service(svc)
		if sv == nil {
			status = attAttributeNotFound
			return gatt.StatusSuccess
		}
		if i := nextIndex(len(sv.chars), func(i int) bool { return start != nil && sv.chars[i].id == *start }, start != nil); i >= 0 {
			next, props, status = sv.chars[i].id, sv.chars[i].props, gatt.StatusSuccess
		}
		return gatt.StatusSuccess
	})
	if !st.OK() {
		return st
	}
	c.stack().post(func(h gatt.StackHandler) { h.CharacteristicResult(connID, status, svc, next, props) })
	return gatt.StatusSuccess
}

func (c *gattClient) GetDescriptor(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, start *gatt.DescriptorID) gatt.Status {
	var (
		next   gatt.DescriptorID
		status = gatt.StatusDone
	)
	st := c.withLink(connID, func(l *link) gatt.Status {
		ch := l.periph.characteristic(svc, char)
		if ch == nil {
			status = attAttributeNotFound
			return gatt.StatusSuccess
		}
		if i := nextIndex(len(ch.descs), func(i int) bool { return start != nil && ch.descs[i].id == *start }, start != nil); i >= 0 {
			next, status = ch.descs[i].id, gatt.StatusSuccess
		}
		return gatt.StatusSuccess
	})
	if !st.OK() {
		return st
	}
	c.stack().post(func(h gatt.StackHandler) { h.DescriptorResult(connID, status, svc, char, next) })
	return gatt.StatusSuccess
}

// nextIndex returns the index following the item matching isStart, or 0 when
// there is no start; -1 when the list is exhausted.
func nextIndex(n int, isStart func(int) bool, hasStart bool) int {
	if !hasStart {
		if n == 0 {
			return -1
		}
		return 0
	}
	for i := 0; i < n; i++ {
		if isStart(i) {
			if i+1 < n {
				return i + 1
			}
			return -1
		}
	}
	return -1
}

func (c *gattClient) ReadCharacteristic(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, auth gatt.AuthReq) gatt.Status {
	params := gatt.ReadParams{Service: svc, Char: char}
	status := gatt.StatusSuccess
	st := c.withLink(connID, func(l *link) gatt.Status {
		ch := l.periph.characteristic(svc, char)
		switch {
		case ch == nil:
			status = attAttributeNotFound
		case ch.props&ble.CharRead == 0:
			status = attReadNotPermitted
		default:
			params.Value = append([]byte(nil), ch.value...)
		}
		return gatt.StatusSuccess
	})
	if !st.OK() {
		return st
	}
	c.stack().post(func(h gatt.StackHandler) { h.ReadCharacteristicResult(connID, status, params) })
	return gatt.StatusSuccess
}

func (c *gattClient) WriteCharacteristic(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, wt gatt.WriteType, auth gatt.AuthReq, value []byte) gatt.Status {
	value = append([]byte(nil), value...)
	status := gatt.StatusSuccess
	st := c.withLink(connID, func(l *link) gatt.Status {
		ch := l.periph.characteristic(svc, char)
		switch {
		case ch == nil:
			status = attAttributeNotFound
		case ch.props&(ble.CharWrite|ble.CharWriteNR) == 0:
			status = attWriteNotPermitted
		case wt == gatt.WritePrepare:
			l.prepared = append(l.prepared, preparedWrite{apply: func() { ch.value = value }})
		default:
			ch.value = value
		}
		return gatt.StatusSuccess
	})
	if !st.OK() {
		return st
	}
	c.stack().post(func(h gatt.StackHandler) {
		h.WriteCharacteristicResult(connID, status, gatt.WriteParams{Service: svc, Char: char})
	})
	return gatt.StatusSuccess
}

func (c *gattClient) ReadDescriptor(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, desc gatt.DescriptorID, auth gatt.AuthReq) gatt.Status {
	params := gatt.ReadParams{Service: svc, Char: char, Desc: desc}
	status := gatt.StatusSuccess
	st := c.withLink(connID, func(l *link) gatt.Status {
		d := l.periph.descriptor(svc, char, desc)
		if d == nil {
			status = attAttributeNotFound
			return gatt.StatusSuccess
		}
		params.Value = append([]byte(nil), d.value...)
		return gatt.StatusSuccess
	})
	if !st.OK() {
		return st
	}
	c.stack().post(func(h gatt.StackHandler) { h.ReadDescriptorResult(connID, status, params) })
	return gatt.StatusSuccess
}

func (c *gattClient) WriteDescriptor(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, desc gatt.DescriptorID, wt gatt.WriteType, auth gatt.AuthReq, value []byte) gatt.Status {
	value = append([]byte(nil), value...)
	status := gatt.StatusSuccess
	st := c.withLink(connID, func(l *link) gatt.Status {
		d := l.periph.descriptor(svc, char, desc)
		switch {
		case d == nil:
			status = attAttributeNotFound
		case wt == gatt.WritePrepare:
			l.prepared = append(l.prepared, preparedWrite{apply: func() { d.value = value }})
		default:
			d.value = value
		}
		return gatt.StatusSuccess
	})
	if !st.OK() {
		return st
	}
	c.stack().post(func(h gatt.StackHandler) {
		h.WriteDescriptorResult(connID, status, gatt.WriteParams{Service: svc, Char: char, Desc: desc})
	})
	return gatt.StatusSuccess
}

func (c *gattClient) ExecuteWrite(connID int, execute bool) gatt.Status {
	st := c.withLink(connID, func(l *link) gatt.Status {
		if execute {
			for _, w := range l.prepared {
				w.apply()
			}
		}
		l.prepared = nil
		return gatt.StatusSuccess
	})
	if !st.OK() {
		return st
	}
	c.stack().post(func(h gatt.StackHandler) { h.ExecuteWriteResult(connID, gatt.StatusSuccess) })
	return gatt.StatusSuccess
}

func (c *gattClient) RegisterForNotification(clientIf int, addr gatt.Address, svc gatt.ServiceID, char gatt.CharacteristicID) gatt.Status {
	return c.subscription(addr, svc, char, true)
}

func (c *gattClient) DeregisterForNotification(clientIf int, addr gatt.Address, svc gatt.ServiceID, char gatt.CharacteristicID) gatt.Status {
	return c.subscription(addr, svc, char, false)
}

func (c *gattClient) subscription(addr gatt.Address, svc gatt.ServiceID, char gatt.CharacteristicID, register bool) gatt.Status {
	s := c.stack()
	s.mu.Lock()
	l := s.linkByAddr(addr)
	if l == nil {
		s.mu.Unlock()
		return gatt.StatusInvalidParam
	}
	status := gatt.StatusSuccess
	ch := l.periph.characteristic(svc, char)
	switch {
	case ch == nil:
		status = attAttributeNotFound
	case ch.props&(ble.CharNotify|ble.CharIndicate) == 0:
		status = attRequestNotSupport
	case register:
		l.subs[ch] = true
	default:
		delete(l.subs, ch)
	}
	connID := l.connID
	s.mu.Unlock()

	s.post(func(h gatt.StackHandler) { h.NotificationRegistration(connID, register, status, svc, char) })
	return gatt.StatusSuccess
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
	s.post(func(h gatt.StackHandler) { h.RemoteRSSIResult(clientIf, addr, l.periph.rssi, gatt.StatusSuccess) })
	return gatt.StatusSuccess
}
