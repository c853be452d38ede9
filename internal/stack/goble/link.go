package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/gattc/internal/gatt"
)

// link is one live connection. Its attribute tree is only touched from the
// worker goroutine.
type link struct {
	connID int
	addr   gatt.Address
	conn   Conn

	ctx    context.Context
	cancel context.CancelFunc

	services []*serviceNode
	subs     map[*ble.Characteristic]bool
}

type serviceNode struct {
	id            gatt.ServiceID
	svc           *ble.Service
	included      []gatt.ServiceID
	includedKnown bool
	chars         []*charNode
	charsKnown    bool
}

type charNode struct {
	id         gatt.CharacteristicID
	ch         *ble.Characteristic
	descs      []*descNode
	descsKnown bool
}

type descNode struct {
	id gatt.DescriptorID
	d  *ble.Descriptor
}

func newLink(parent context.Context, connID int, addr gatt.Address, conn Conn) *link {
	ctx, cancel := context.WithCancel(parent)
	return &link{
		connID: connID,
		addr:   addr,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[*ble.Characteristic]bool),
	}
}

func (l *link) close() {
	l.cancel()
}

func (l *link) service(id gatt.ServiceID) *serviceNode {
	for _, n := range l.services {
		if n.id == id {
			return n
		}
	}
	return nil
}

func (l *link) characteristic(svc gatt.ServiceID, id gatt.CharacteristicID) *charNode {
	n := l.service(svc)
	if n == nil {
		return nil
	}
	for _, c := range n.chars {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (l *link) descriptor(svc gatt.ServiceID, char gatt.CharacteristicID, id gatt.DescriptorID) *descNode {
	c := l.characteristic(svc, char)
	if c == nil {
		return nil
	}
	for _, d := range c.descs {
		if d.id == id {
			return d
		}
	}
	return nil
}

// upsertServices records go-ble services and returns their identities.
// Instance numbers count repeats of a UUID in discovery order.
func (l *link) upsertServices(svcs []*ble.Service, primary bool) []gatt.ServiceID {
	seen := make(map[gatt.UUID]uint8)
	ids := make([]gatt.ServiceID, 0, len(svcs))
	for _, s := range svcs {
		u := gatt.FromBLE(s.UUID)
		id := gatt.ServiceID{UUID: u, Instance: seen[u], Primary: primary}
		seen[u]++
		ids = append(ids, id)

		if n := l.service(id); n != nil {
			n.svc = s
			continue
		}
		l.services = append(l.services, &serviceNode{id: id, svc: s})
	}
	return ids
}

func (n *serviceNode) setCharacteristics(chars []*ble.Characteristic) {
	seen := make(map[gatt.UUID]uint8)
	n.chars = n.chars[:0]
	for _, c := range chars {
		u := gatt.FromBLE(c.UUID)
		n.chars = append(n.chars, &charNode{id: gatt.CharacteristicID{UUID: u, Instance: seen[u]}, ch: c})
		seen[u]++
	}
	n.charsKnown = true
}

func (n *charNode) setDescriptors(descs []*ble.Descriptor) {
	n.descs = n.descs[:0]
	for _, d := range descs {
		n.descs = append(n.descs, &descNode{id: gatt.DescriptorID{UUID: gatt.FromBLE(d.UUID)}, d: d})
	}
	n.descsKnown = true
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
