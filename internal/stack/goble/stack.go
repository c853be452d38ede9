// Package goble implements gatt.Stack over github.com/go-ble/ble.
//
// go-ble is synchronous: every GATT operation blocks until the peer answers.
// The stack runs those calls on one worker goroutine, in request order, and
// delivers completions on a second goroutine, so primitives return
// immediately and callbacks never wait behind radio traffic.
package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/groutine"
)

// DefaultConnectTimeout bounds a single Dial.
const DefaultConnectTimeout = 15 * time.Second

// Stack is a gatt.Stack backed by a go-ble device.
type Stack struct {
	logger         *logrus.Logger
	open           func() (Adapter, error)
	connectTimeout time.Duration

	mu         sync.Mutex
	adapter    Adapter
	handler    gatt.StackHandler
	work       *groutine.Queue
	events     *groutine.Queue
	ctx        context.Context
	cancel     context.CancelFunc
	adapterOn  bool
	clientIf   int
	nextConn   int
	links      map[int]*link
	scanCancel context.CancelFunc
	detached   bool
}

// Option configures a Stack.
type Option func(*Stack)

// WithConnectTimeout bounds each connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Stack) {
		s.connectTimeout = d
	}
}

// WithAdapter replaces the platform device, mainly for tests.
func WithAdapter(open func() (Adapter, error)) Option {
	return func(s *Stack) {
		s.open = open
	}
}

// New creates a stack. The platform device is opened on Enable.
func New(logger *logrus.Logger, opts ...Option) *Stack {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Stack{
		logger:         logger,
		open:           NewAdapter,
		connectTimeout: DefaultConnectTimeout,
		links:          make(map[int]*link),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// post queues a completion for the callback goroutine.
func (s *Stack) post(fn func(h gatt.StackHandler)) {
	s.mu.Lock()
	h, q := s.handler, s.events
	s.mu.Unlock()
	if h == nil || q == nil {
		return
	}
	q.Post(func() { fn(h) })
}

// do queues a blocking go-ble call for the worker goroutine.
func (s *Stack) do(fn func(ctx context.Context)) gatt.Status {
	s.mu.Lock()
	q, ctx := s.work, s.ctx
	s.mu.Unlock()
	if q == nil {
		return gatt.StatusNotReady
	}
	if !q.Post(func() { fn(ctx) }) {
		return gatt.StatusNotReady
	}
	return gatt.StatusSuccess
}

func (s *Stack) Init(h gatt.StackHandler) gatt.Status {
	s.mu.Lock()
	if s.events != nil {
		s.mu.Unlock()
		return gatt.StatusDone
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.handler = h
	s.ctx, s.cancel = ctx, cancel
	s.events = groutine.NewQueue(ctx, "goble-callbacks")
	s.work = groutine.NewQueue(ctx, "goble-worker")
	s.detached = false
	s.mu.Unlock()

	s.post(func(h gatt.StackHandler) { h.ThreadEvent(gatt.ThreadAssociated) })
	return gatt.StatusSuccess
}

// Enable opens the platform device. The adapter-on event follows from the
// callback goroutine.
func (s *Stack) Enable() gatt.Status {
	return s.do(func(context.Context) {
		adapter, err := s.open()
		if err != nil {
			s.logger.WithError(err).Error("Failed to open BLE device")
			s.post(func(h gatt.StackHandler) { h.AdapterStateChanged(false) })
			return
		}

		s.mu.Lock()
		s.adapter = adapter
		s.adapterOn = true
		s.mu.Unlock()

		s.logger.Debug("BLE device opened")
		s.post(func(h gatt.StackHandler) { h.AdapterStateChanged(true) })
	})
}

// Disable closes every link and the device.
func (s *Stack) Disable() gatt.Status {
	s.mu.Lock()
	if !s.adapterOn {
		s.mu.Unlock()
		return gatt.StatusNotReady
	}
	s.adapterOn = false
	if s.scanCancel != nil {
		s.scanCancel()
		s.scanCancel = nil
	}
	links := s.links
	s.links = make(map[int]*link)
	adapter, clientIf := s.adapter, s.clientIf
	s.adapter = nil
	s.mu.Unlock()

	return s.do(func(context.Context) {
		for _, l := range links {
			l.close()
			if err := l.conn.CancelConnection(); err != nil {
				s.logger.WithError(err).WithField("address", l.addr.String()).Warn("Cancel connection failed during disable")
			}
			l := l
			s.post(func(h gatt.StackHandler) {
				h.DisconnectResult(l.connID, gatt.StatusSuccess, clientIf, l.addr)
			})
		}
		if adapter != nil {
			if err := adapter.Stop(); err != nil {
				s.logger.WithError(err).Warn("Failed to stop BLE device")
			}
		}
		s.post(func(h gatt.StackHandler) { h.AdapterStateChanged(false) })
	})
}

// Cleanup acknowledges teardown and stops both goroutines.
func (s *Stack) Cleanup() {
	s.mu.Lock()
	if s.detached || s.events == nil {
		s.mu.Unlock()
		return
	}
	s.detached = true
	events, work, cancel := s.events, s.work, s.cancel
	s.work = nil
	s.mu.Unlock()

	work.Close()
	s.post(func(h gatt.StackHandler) {
		h.ThreadEvent(gatt.ThreadDisassociated)

		s.mu.Lock()
		s.events = nil
		s.handler = nil
		s.mu.Unlock()
	})
	events.Close()
	groutine.Go(context.Background(), "goble-cleanup", func(context.Context) {
		<-work.Done()
		<-events.Done()
		cancel()
	})
}

// Bonding is managed by the platform (BlueZ agent or CoreBluetooth) and is
// not reachable through go-ble.
func (s *Stack) CreateBond(gatt.Address) gatt.Status { return gatt.StatusUnsupported }
func (s *Stack) CancelBond(gatt.Address) gatt.Status { return gatt.StatusUnsupported }
func (s *Stack) RemoveBond(gatt.Address) gatt.Status { return gatt.StatusUnsupported }

func (s *Stack) Gatt() gatt.GattClient {
	return (*gattClient)(s)
}

func (s *Stack) linkByAddr(addr gatt.Address) *link {
	for _, l := range s.links {
		if l.addr == addr {
			return l
		}
	}
	return nil
}

func (s *Stack) link(connID int) (*link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[connID]
	return l, ok
}

func bleAddr(addr gatt.Address) ble.Addr {
	return ble.NewAddr(strings.ToLower(addr.String()))
}

func fromBLEAddr(a ble.Addr) (gatt.Address, error) {
	if a == nil {
		return gatt.Address{}, fmt.Errorf("%w: nil address", gatt.ErrInvalidArgument)
	}
	return gatt.ParseAddress(a.String())
}
