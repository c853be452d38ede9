// Package client layers blocking, context-bounded helpers over gatt.Session.
// Every session callback is republished as an Event to any number of
// subscribers; the helpers subscribe, issue one request and wait for the
// matching completion.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/gatt"
)

// DefaultEventBuffer is the per-subscriber channel capacity used by helpers.
const DefaultEventBuffer = 64

var cccdUUID = gatt.UUID16(0x2902)

// Client owns a session and fans its callbacks out as Events.
type Client struct {
	session *gatt.Session
	logger  *logrus.Logger

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool

	dropped atomic.Uint64
}

// New creates a client over stack. opts are passed to gatt.NewSession after
// the client's own logger option.
func New(stack gatt.Stack, logger *logrus.Logger, opts ...gatt.Option) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	all := append([]gatt.Option{gatt.WithLogger(logger)}, opts...)
	return &Client{
		session: gatt.NewSession(stack, all...),
		logger:  logger,
		subs:    make(map[int]chan Event),
	}
}

// Session exposes the underlying session for non-blocking use.
func (c *Client) Session() *gatt.Session {
	return c.session
}

// Dropped reports how many events were discarded because a subscriber fell behind.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Subscription is one consumer of the client's event stream.
type Subscription struct {
	C <-chan Event

	id     int
	client *Client
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.client.unsubscribe(s.id)
}

// Events subscribes to every event published from now on. A subscriber
// that does not keep up loses events rather than stalling the stack.
func (c *Client) Events(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	ch := make(chan Event, buffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return &Subscription{C: ch, id: -1, client: c}
	}
	c.nextID++
	c.subs[c.nextID] = ch
	return &Subscription{C: ch, id: c.nextID, client: c}
}

func (c *Client) unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[id]; ok {
		delete(c.subs, id)
		close(ch)
	}
}

func (c *Client) publish(ev Event) {
	ev.Time = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.dropped.Add(1)
			c.logger.WithFields(logrus.Fields{"subscriber": id, "event": ev.Kind}).Warn("Event dropped, subscriber is behind")
		}
	}
}

func (c *Client) callbacks() gatt.Callbacks {
	return gatt.Callbacks{
		Enabled: func() { c.publish(Event{Kind: EventEnabled}) },
		AdapterStateChanged: func(on bool) {
			c.publish(Event{Kind: EventAdapter, Enabled: on})
		},
		ScanResult: func(addr gatt.Address, rssi int, adv []byte) {
			c.publish(Event{Kind: EventScan, Address: addr, RSSI: rssi, Value: adv})
		},
		Connected: func(addr gatt.Address, connID int, st gatt.Status) {
			c.publish(Event{Kind: EventConnected, Address: addr, ConnID: connID, Status: st})
		},
		Disconnected: func(addr gatt.Address, connID int, st gatt.Status) {
			c.publish(Event{Kind: EventDisconnected, Address: addr, ConnID: connID, Status: st})
		},
		BondStateChanged: func(addr gatt.Address, state gatt.BondState, st gatt.Status) {
			c.publish(Event{Kind: EventBond, Address: addr, Bond: state, Status: st})
		},
		ServiceFound: func(connID, index int, uuid gatt.UUID, primary bool) {
			c.publish(Event{Kind: EventServiceFound, ConnID: connID, Index: index, UUID: uuid, Primary: primary})
		},
		ServiceDiscoveryFinished: func(connID int, st gatt.Status) {
			c.publish(Event{Kind: EventServicesFinished, ConnID: connID, Status: st})
		},
		IncludedServiceDiscoveryFinished: func(connID int, st gatt.Status) {
			c.publish(Event{Kind: EventIncludedFinished, ConnID: connID, Status: st})
		},
		CharacteristicFound: func(connID, index int, uuid gatt.UUID, props ble.Property) {
			c.publish(Event{Kind: EventCharacteristicFound, ConnID: connID, Index: index, UUID: uuid, Properties: int(props)})
		},
		CharacteristicDiscoveryFinished: func(connID int, st gatt.Status) {
			c.publish(Event{Kind: EventCharacteristicsDone, ConnID: connID, Status: st})
		},
		DescriptorFound: func(connID, index int, uuid, charUUID gatt.UUID) {
			c.publish(Event{Kind: EventDescriptorFound, ConnID: connID, Index: index, UUID: uuid, Owner: charUUID})
		},
		DescriptorDiscoveryFinished: func(connID int, st gatt.Status) {
			c.publish(Event{Kind: EventDescriptorsDone, ConnID: connID, Status: st})
		},
		CharacteristicRead: func(connID, index int, value []byte, valueType int, st gatt.Status) {
			c.publish(Event{Kind: EventCharacteristicRead, ConnID: connID, Index: index, Value: value, ValueType: valueType, Status: st})
		},
		CharacteristicWritten: func(connID, index int, st gatt.Status) {
			c.publish(Event{Kind: EventCharacteristicWritten, ConnID: connID, Index: index, Status: st})
		},
		DescriptorRead: func(connID, index int, value []byte, valueType int, st gatt.Status) {
			c.publish(Event{Kind: EventDescriptorRead, ConnID: connID, Index: index, Value: value, ValueType: valueType, Status: st})
		},
		DescriptorWritten: func(connID, index int, st gatt.Status) {
			c.publish(Event{Kind: EventDescriptorWritten, ConnID: connID, Index: index, Status: st})
		},
		NotificationRegistrationChanged: func(connID, index int, registered bool, st gatt.Status) {
			c.publish(Event{Kind: EventRegistration, ConnID: connID, Index: index, Registered: registered, Status: st})
		},
		NotificationReceived: func(connID, index int, value []byte, indication bool) {
			c.publish(Event{Kind: EventNotification, ConnID: connID, Index: index, Value: value, Indication: indication})
		},
		RemoteRSSI: func(connID, rssi int, st gatt.Status) {
			c.publish(Event{Kind: EventRSSI, ConnID: connID, RSSI: rssi, Status: st})
		},
	}
}

// await issues req and blocks until an event satisfying match arrives.
func (c *Client) await(ctx context.Context, op string, req func() error, match func(Event) bool) (Event, error) {
	sub := c.Events(DefaultEventBuffer)
	defer sub.Close()

	if err := req(); err != nil {
		return Event{}, fmt.Errorf("%s: %w", op, err)
	}
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return Event{}, fmt.Errorf("%s: %w", op, ErrClosed)
			}
			if match(ev) {
				return ev, nil
			}
		case <-ctx.Done():
			return Event{}, fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
}

// Start enables the session and waits until it is ready.
func (c *Client) Start(ctx context.Context) error {
	_, err := c.await(ctx, "start", func() error {
		return c.session.Enable(c.callbacks())
	}, func(ev Event) bool {
		return ev.Kind == EventEnabled
	})
	return err
}

// Connect opens a link to addr and returns its connection id.
func (c *Client) Connect(ctx context.Context, addr gatt.Address) (int, error) {
	ev, err := c.await(ctx, "connect", func() error {
		return c.session.Connect(addr)
	}, func(ev Event) bool {
		return ev.Kind == EventConnected && ev.Address == addr
	})
	if err != nil {
		return 0, err
	}
	if err := statusErr("connect", ev.Status); err != nil {
		return 0, err
	}
	c.logger.WithFields(logrus.Fields{"address": addr.String(), "conn_id": ev.ConnID}).Info("Connected")
	return ev.ConnID, nil
}

// Disconnect closes the link to addr.
func (c *Client) Disconnect(ctx context.Context, addr gatt.Address) error {
	ev, err := c.await(ctx, "disconnect", func() error {
		return c.session.Disconnect(addr)
	}, func(ev Event) bool {
		return ev.Kind == EventDisconnected && ev.Address == addr
	})
	if err != nil {
		return err
	}
	return statusErr("disconnect", ev.Status)
}

func (c *Client) discover(ctx context.Context, op string, done EventKind, connID int, req func() error) error {
	ev, err := c.await(ctx, op, req, func(ev Event) bool {
		return ev.Kind == done && ev.ConnID == connID
	})
	if err != nil {
		return err
	}
	if !ev.Status.Completed() {
		return &StatusError{Op: op, Status: ev.Status}
	}
	return nil
}

// DiscoverServices runs primary service discovery, optionally filtered.
func (c *Client) DiscoverServices(ctx context.Context, connID int, filter *gatt.UUID) error {
	return c.discover(ctx, "discover services", EventServicesFinished, connID, func() error {
		return c.session.DiscoverServices(connID, filter)
	})
}

// DiscoverIncludedServices lists the services included by cached service svc.
func (c *Client) DiscoverIncludedServices(ctx context.Context, connID, svc int) error {
	return c.discover(ctx, "discover included services", EventIncludedFinished, connID, func() error {
		return c.session.DiscoverIncludedServices(connID, svc)
	})
}

// DiscoverCharacteristics lists the characteristics of cached service svc.
func (c *Client) DiscoverCharacteristics(ctx context.Context, connID, svc int) error {
	return c.discover(ctx, "discover characteristics", EventCharacteristicsDone, connID, func() error {
		return c.session.DiscoverCharacteristics(connID, svc)
	})
}

// DiscoverDescriptors lists the descriptors of cached characteristic char.
func (c *Client) DiscoverDescriptors(ctx context.Context, connID, char int) error {
	return c.discover(ctx, "discover descriptors", EventDescriptorsDone, connID, func() error {
		return c.session.DiscoverDescriptors(connID, char)
	})
}

// DiscoverAll walks the whole attribute tree: services, their included
// services, every characteristic and every descriptor.
func (c *Client) DiscoverAll(ctx context.Context, connID int) (gatt.Snapshot, error) {
	if err := c.DiscoverServices(ctx, connID, nil); err != nil {
		return gatt.Snapshot{}, err
	}
	snap, err := c.session.Snapshot(connID)
	if err != nil {
		return gatt.Snapshot{}, err
	}
	for _, svc := range snap.Services {
		if err := c.DiscoverIncludedServices(ctx, connID, svc.Index); err != nil {
			return gatt.Snapshot{}, err
		}
	}

	// Included services may have extended the cache.
	if snap, err = c.session.Snapshot(connID); err != nil {
		return gatt.Snapshot{}, err
	}
	for _, svc := range snap.Services {
		if err := c.DiscoverCharacteristics(ctx, connID, svc.Index); err != nil {
			return gatt.Snapshot{}, err
		}
	}

	if snap, err = c.session.Snapshot(connID); err != nil {
		return gatt.Snapshot{}, err
	}
	for _, ch := range snap.Characteristics {
		if err := c.DiscoverDescriptors(ctx, connID, ch.Index); err != nil {
			return gatt.Snapshot{}, err
		}
	}
	return c.session.Snapshot(connID)
}

// ReadCharacteristic reads cached characteristic index.
func (c *Client) ReadCharacteristic(ctx context.Context, connID, index int) ([]byte, error) {
	return c.read(ctx, "read characteristic", EventCharacteristicRead, connID, index, func() error {
		return c.session.ReadCharacteristic(connID, index, gatt.AuthNone)
	})
}

// ReadDescriptor reads cached descriptor index.
func (c *Client) ReadDescriptor(ctx context.Context, connID, index int) ([]byte, error) {
	return c.read(ctx, "read descriptor", EventDescriptorRead, connID, index, func() error {
		return c.session.ReadDescriptor(connID, index, gatt.AuthNone)
	})
}

func (c *Client) read(ctx context.Context, op string, kind EventKind, connID, index int, req func() error) ([]byte, error) {
	ev, err := c.await(ctx, op, req, func(ev Event) bool {
		return ev.Kind == kind && ev.ConnID == connID && (ev.Index == index || ev.Index < 0)
	})
	if err != nil {
		return nil, err
	}
	if err := statusErr(op, ev.Status); err != nil {
		return nil, err
	}
	return ev.Value, nil
}

// WriteCharacteristic writes value to cached characteristic index. A
// WritePrepare only queues the value; ExecuteWrite commits it.
func (c *Client) WriteCharacteristic(ctx context.Context, connID, index int, wt gatt.WriteType, value []byte) error {
	return c.write(ctx, "write characteristic", EventCharacteristicWritten, connID, index, func() error {
		return c.session.WriteCharacteristic(connID, index, wt, gatt.AuthNone, value)
	})
}

// WriteDescriptor writes value to cached descriptor index.
func (c *Client) WriteDescriptor(ctx context.Context, connID, index int, wt gatt.WriteType, value []byte) error {
	return c.write(ctx, "write descriptor", EventDescriptorWritten, connID, index, func() error {
		return c.session.WriteDescriptor(connID, index, wt, gatt.AuthNone, value)
	})
}

func (c *Client) write(ctx context.Context, op string, kind EventKind, connID, index int, req func() error) error {
	ev, err := c.await(ctx, op, req, func(ev Event) bool {
		return ev.Kind == kind && ev.ConnID == connID && (ev.Index == index || ev.Index < 0)
	})
	if err != nil {
		return err
	}
	return statusErr(op, ev.Status)
}

// ExecuteWrite commits or discards the prepared write on connID. Committing
// waits for the completion of the prepared attribute; discarding returns as
// soon as the request is accepted.
func (c *Client) ExecuteWrite(ctx context.Context, connID int, commit bool) error {
	if !commit {
		return c.session.ExecuteWrite(connID, false)
	}
	slot, err := c.session.PreparedWriteState(connID)
	if err != nil {
		return fmt.Errorf("execute write: %w", err)
	}
	if !slot.Active {
		return fmt.Errorf("execute write: %w: nothing prepared", gatt.ErrNotReady)
	}
	kind := EventCharacteristicWritten
	if slot.Kind == gatt.KindDescriptor {
		kind = EventDescriptorWritten
	}
	return c.write(ctx, "execute write", kind, connID, slot.Index, func() error {
		return c.session.ExecuteWrite(connID, true)
	})
}

// Subscribe registers for notifications from characteristic index and,
// when its configuration descriptor is cached, enables them on the peer.
func (c *Client) Subscribe(ctx context.Context, connID, index int) error {
	if err := c.registration(ctx, connID, index, true); err != nil {
		return err
	}
	return c.configure(ctx, connID, index, true)
}

// Unsubscribe reverses Subscribe.
func (c *Client) Unsubscribe(ctx context.Context, connID, index int) error {
	if err := c.configure(ctx, connID, index, false); err != nil {
		return err
	}
	return c.registration(ctx, connID, index, false)
}

func (c *Client) registration(ctx context.Context, connID, index int, register bool) error {
	op := "register notification"
	req := func() error { return c.session.RegisterNotification(connID, index) }
	if !register {
		op = "unregister notification"
		req = func() error { return c.session.UnregisterNotification(connID, index) }
	}
	ev, err := c.await(ctx, op, req, func(ev Event) bool {
		return ev.Kind == EventRegistration && ev.ConnID == connID && (ev.Index == index || ev.Index < 0)
	})
	if err != nil {
		return err
	}
	return statusErr(op, ev.Status)
}

// configure writes the client characteristic configuration descriptor.
func (c *Client) configure(ctx context.Context, connID, index int, enable bool) error {
	snap, err := c.session.Snapshot(connID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(snap.Characteristics) {
		return fmt.Errorf("%w: characteristic %d", gatt.ErrOutOfRange, index)
	}

	value := []byte{0x00, 0x00}
	if enable {
		props := snap.Characteristics[index].Properties
		switch {
		case props&ble.CharNotify != 0:
			value[0] = 0x01
		case props&ble.CharIndicate != 0:
			value[0] = 0x02
		}
	}
	for _, d := range snap.Descriptors {
		if d.Characteristic == index && d.ID.UUID == cccdUUID {
			return c.WriteDescriptor(ctx, connID, d.Index, gatt.WriteRequest, value)
		}
	}
	return nil
}

// ReadRSSI reads the signal strength of the link on connID.
func (c *Client) ReadRSSI(ctx context.Context, connID int) (int, error) {
	ev, err := c.await(ctx, "read rssi", func() error {
		return c.session.ReadRemoteRSSI(connID)
	}, func(ev Event) bool {
		return ev.Kind == EventRSSI && (ev.ConnID == connID || !ev.Status.OK())
	})
	if err != nil {
		return 0, err
	}
	if err := statusErr("read rssi", ev.Status); err != nil {
		return 0, err
	}
	return ev.RSSI, nil
}

// Pair bonds with addr and waits for the bond to settle.
func (c *Client) Pair(ctx context.Context, addr gatt.Address) (gatt.BondState, error) {
	return c.bond(ctx, "pair", addr, func() error { return c.session.Pair(addr) })
}

// Unpair removes the bond with addr.
func (c *Client) Unpair(ctx context.Context, addr gatt.Address) (gatt.BondState, error) {
	return c.bond(ctx, "unpair", addr, func() error { return c.session.RemoveBond(addr) })
}

func (c *Client) bond(ctx context.Context, op string, addr gatt.Address, req func() error) (gatt.BondState, error) {
	ev, err := c.await(ctx, op, req, func(ev Event) bool {
		return ev.Kind == EventBond && ev.Address == addr && ev.Bond != gatt.BondBonding
	})
	if err != nil {
		return gatt.BondNone, err
	}
	return ev.Bond, statusErr(op, ev.Status)
}

// Scan reports advertisements to fn until ctx ends. A deadline or
// cancellation is the normal way to stop and is not an error.
func (c *Client) Scan(ctx context.Context, fn func(Event)) error {
	sub := c.Events(DefaultEventBuffer * 4)
	defer sub.Close()

	if err := c.session.StartScan(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	defer func() {
		if err := c.session.StopScan(); err != nil {
			c.logger.WithError(err).Debug("Stop scan failed")
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if ev.Kind == EventScan {
				fn(ev)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Close tears the session down and closes every subscription.
func (c *Client) Close(ctx context.Context) error {
	err := c.session.Close(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	return err
}
