// Package bridge exposes a GATT characteristic pair as a raw pseudo-terminal:
// bytes written to the tty go to the peripheral's write characteristic in
// ChunkSize pieces, and notifications come back out of the tty.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/client"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/groutine"
	"github.com/srg/gattc/pkg/config"
)

// Nordic UART service, the usual serial-over-GATT layout.
var (
	UARTService = gatt.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	uartRX      = gatt.MustParseUUID("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	uartTX      = gatt.MustParseUUID("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
)

var (
	ErrNoEndpoints  = errors.New("no writable and notifying characteristic pair")
	ErrDisconnected = errors.New("peripheral disconnected")
)

// Endpoints are the cache indices the bridge moves bytes through.
type Endpoints struct {
	Write     int
	Notify    int
	WriteType gatt.WriteType
}

// Resolve picks the characteristic pair to bridge from a discovered
// snapshot. With svc nil the Nordic UART service wins, then the first
// service that has both a writable and a notifying characteristic.
func Resolve(snap gatt.Snapshot, svc *gatt.UUID) (Endpoints, error) {
	if svc == nil {
		if ep, err := resolveIn(snap, UARTService); err == nil {
			return ep, nil
		}
		for _, s := range snap.Services {
			if ep, err := resolveIn(snap, s.ID.UUID); err == nil {
				return ep, nil
			}
		}
		return Endpoints{}, ErrNoEndpoints
	}
	return resolveIn(snap, *svc)
}

func resolveIn(snap gatt.Snapshot, svc gatt.UUID) (Endpoints, error) {
	ep := Endpoints{Write: -1, Notify: -1}
	for _, ch := range snap.Characteristics {
		if snap.ServiceOf(ch).ID.UUID != svc {
			continue
		}
		writable := ch.Properties&(ble.CharWrite|ble.CharWriteNR) != 0
		notifies := ch.Properties&(ble.CharNotify|ble.CharIndicate) != 0

		// the UART roles are fixed by UUID
		switch {
		case ch.ID.UUID == uartRX && writable:
			ep.Write, ep.WriteType = ch.Index, writeType(ch.Properties)
			continue
		case ch.ID.UUID == uartTX && notifies:
			ep.Notify = ch.Index
			continue
		}
		if writable && ep.Write < 0 {
			ep.Write, ep.WriteType = ch.Index, writeType(ch.Properties)
		}
		if notifies && ep.Notify < 0 {
			ep.Notify = ch.Index
		}
	}
	if ep.Write < 0 || ep.Notify < 0 {
		return Endpoints{}, fmt.Errorf("%w in service %s", ErrNoEndpoints, svc)
	}
	return ep, nil
}

func writeType(p ble.Property) gatt.WriteType {
	if p&ble.CharWriteNR != 0 {
		return gatt.WriteCommand
	}
	return gatt.WriteRequest
}

// Stats counts bytes moved in each direction.
type Stats struct {
	Sent       uint64 // tty → peripheral
	Received   uint64 // peripheral → tty
	DroppedIn  uint64
	DroppedOut uint64
}

// Bridge owns the pty for one connection.
type Bridge struct {
	client *client.Client
	connID int
	ep     Endpoints
	chunk  int
	logger *logrus.Logger
	port   *port

	sent     atomic.Uint64
	received atomic.Uint64
}

// Open creates the pty. Call Run to start moving bytes.
func Open(c *client.Client, connID int, ep Endpoints, cfg config.BridgeConfig, logger *logrus.Logger) (*Bridge, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.ChunkSize <= 0 || cfg.ReadBuffer <= 0 || cfg.WriteBuffer <= 0 {
		return nil, fmt.Errorf("%w: bridge buffer sizes must be positive", gatt.ErrInvalidArgument)
	}

	p, err := openPort(cfg.ReadBuffer, cfg.WriteBuffer, logger)
	if err != nil {
		return nil, err
	}
	return &Bridge{
		client: c,
		connID: connID,
		ep:     ep,
		chunk:  cfg.ChunkSize,
		logger: logger,
		port:   p,
	}, nil
}

// TTYName is the slave device path, e.g. /dev/pts/4.
func (b *Bridge) TTYName() string {
	return b.port.name
}

// Run subscribes to the notify characteristic and pumps bytes until ctx
// ends (nil), the link drops (ErrDisconnected) or a write fails.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.Events(client.DefaultEventBuffer * 4)
	defer sub.Close()

	if err := b.client.Subscribe(ctx, b.connID, b.ep.Notify); err != nil {
		return fmt.Errorf("subscribe %d: %w", b.ep.Notify, err)
	}
	b.logger.WithFields(logrus.Fields{
		"tty":     b.TTYName(),
		"conn_id": b.connID,
		"write":   b.ep.Write,
		"notify":  b.ep.Notify,
	}).Info("Bridge running")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	uplink := make(chan error, 1)
	groutine.Go(runCtx, "bridge-uplink", func(ctx context.Context) {
		uplink <- b.pumpUp(ctx)
	})

	err := b.pumpDown(ctx, sub, uplink)
	if !errors.Is(err, ErrDisconnected) {
		unsubCtx, unsubCancel := context.WithTimeout(context.Background(), time.Second)
		if uerr := b.client.Unsubscribe(unsubCtx, b.connID, b.ep.Notify); uerr != nil {
			b.logger.WithError(uerr).Debug("Bridge unsubscribe failed")
		}
		unsubCancel()
	}
	return err
}

// pumpDown copies notifications into the pty.
func (b *Bridge) pumpDown(ctx context.Context, sub *client.Subscription, uplink <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-uplink:
			return err
		case ev, ok := <-sub.C:
			if !ok {
				return client.ErrClosed
			}
			switch {
			case ev.Kind == client.EventDisconnected && ev.ConnID == b.connID:
				return ErrDisconnected
			case ev.Kind == client.EventNotification && ev.ConnID == b.connID && ev.Index == b.ep.Notify:
				n, _ := b.port.Write(ev.Value)
				b.received.Add(uint64(n))
			}
		}
	}
}

// pumpUp sends tty input to the peripheral one chunk at a time.
func (b *Bridge) pumpUp(ctx context.Context) error {
	buf := make([]byte, b.chunk)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.port.ready:
		}

		for {
			n, err := b.port.Read(buf)
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			if err := b.client.WriteCharacteristic(ctx, b.connID, b.ep.Write, b.ep.WriteType, buf[:n]); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("write %d: %w", b.ep.Write, err)
			}
			b.sent.Add(uint64(n))
		}
	}
}

func (b *Bridge) Stats() Stats {
	return Stats{
		Sent:       b.sent.Load(),
		Received:   b.received.Load(),
		DroppedIn:  b.port.droppedIn.Load(),
		DroppedOut: b.port.droppedOut.Load(),
	}
}

// Close releases the pty. Run must have returned.
func (b *Bridge) Close() error {
	return b.port.Close()
}
