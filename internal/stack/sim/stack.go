// Package sim implements gatt.Stack over simulated peripherals described by
// a Profile. Completions are delivered asynchronously, in order, on one
// named goroutine, the way a hardware stack delivers them on its own thread.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/groutine"
)

// ATT error codes reported in completion statuses.
const (
	attReadNotPermitted  gatt.Status = 0x02
	attWriteNotPermitted gatt.Status = 0x03
	attRequestNotSupport gatt.Status = 0x06
	attAttributeNotFound gatt.Status = 0x0a
)

// DefaultScanInterval is how often an active scan re-reports every peripheral.
const DefaultScanInterval = 500 * time.Millisecond

type link struct {
	connID   int
	periph   *peripheral
	prepared []preparedWrite
	subs     map[*characteristic]bool
}

type preparedWrite struct {
	apply func()
}

// Stack is a simulated gatt.Stack.
type Stack struct {
	logger       *logrus.Logger
	scanInterval time.Duration

	mu          sync.Mutex
	peripherals []*peripheral
	handler     gatt.StackHandler
	queue       *groutine.Queue
	cancel      context.CancelFunc
	adapterOn   bool
	clientIf    int
	nextConn    int
	links       map[int]*link
	scanCancel  context.CancelFunc
	bonds       map[gatt.Address]gatt.BondState
	detached    bool
}

// Option configures a simulated stack.
type Option func(*Stack)

// WithScanInterval sets how often an active scan repeats its results.
func WithScanInterval(d time.Duration) Option {
	return func(s *Stack) {
		s.scanInterval = d
	}
}

// New builds a simulated stack from profile.
func New(profile *Profile, logger *logrus.Logger, opts ...Option) (*Stack, error) {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Stack{
		logger:       logger,
		scanInterval: DefaultScanInterval,
		links:        make(map[int]*link),
		bonds:        make(map[gatt.Address]gatt.BondState),
	}
	for _, opt := range opts {
		opt(s)
	}
	if profile != nil {
		for _, ps := range profile.Peripherals {
			p, err := ps.resolve()
			if err != nil {
				return nil, err
			}
			s.peripherals = append(s.peripherals, p)
		}
	}
	return s, nil
}

// post queues a completion for the callback goroutine.
func (s *Stack) post(fn func(h gatt.StackHandler)) {
	s.mu.Lock()
	h, q := s.handler, s.queue
	s.mu.Unlock()
	if h == nil || q == nil {
		return
	}
	q.Post(func() { fn(h) })
}

func (s *Stack) peripheral(addr gatt.Address) *peripheral {
	for _, p := range s.peripherals {
		if p.addr == addr {
			return p
		}
	}
	return nil
}

// linkByAddr is called with s.mu held.
func (s *Stack) linkByAddr(addr gatt.Address) *link {
	for _, l := range s.links {
		if l.periph.addr == addr {
			return l
		}
	}
	return nil
}

func (s *Stack) Init(h gatt.StackHandler) gatt.Status {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return gatt.StatusDone
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.handler = h
	s.queue = groutine.NewQueue(ctx, "sim-callbacks")
	s.cancel = cancel
	s.detached = false
	s.mu.Unlock()

	s.post(func(h gatt.StackHandler) { h.ThreadEvent(gatt.ThreadAssociated) })
	return gatt.StatusSuccess
}

func (s *Stack) Enable() gatt.Status {
	s.mu.Lock()
	s.adapterOn = true
	s.mu.Unlock()

	s.post(func(h gatt.StackHandler) { h.AdapterStateChanged(true) })
	return gatt.StatusSuccess
}

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
	clientIf := s.clientIf
	s.mu.Unlock()

	for _, l := range links {
		l := l
		s.post(func(h gatt.StackHandler) {
			h.DisconnectResult(l.connID, gatt.StatusSuccess, clientIf, l.periph.addr)
		})
	}
	s.post(func(h gatt.StackHandler) { h.AdapterStateChanged(false) })
	return gatt.StatusSuccess
}

// Cleanup acknowledges teardown and stops the callback goroutine.
func (s *Stack) Cleanup() {
	s.mu.Lock()
	if s.detached || s.queue == nil {
		s.mu.Unlock()
		return
	}
	s.detached = true
	q, cancel := s.queue, s.cancel
	s.mu.Unlock()

	s.post(func(h gatt.StackHandler) {
		h.ThreadEvent(gatt.ThreadDisassociated)

		s.mu.Lock()
		s.queue = nil
		s.handler = nil
		s.mu.Unlock()
	})
	q.Close()
	groutine.Go(context.Background(), "sim-cleanup", func(context.Context) {
		<-q.Done()
		cancel()
	})
}

func (s *Stack) CreateBond(addr gatt.Address) gatt.Status {
	s.mu.Lock()
	p := s.peripheral(addr)
	if p == nil {
		s.mu.Unlock()
		s.post(func(h gatt.StackHandler) { h.BondStateChanged(gatt.StatusFail, addr, gatt.BondNone) })
		return gatt.StatusSuccess
	}
	s.bonds[addr] = gatt.BondBonded
	s.mu.Unlock()

	s.post(func(h gatt.StackHandler) { h.BondStateChanged(gatt.StatusSuccess, addr, gatt.BondBonding) })
	s.post(func(h gatt.StackHandler) { h.BondStateChanged(gatt.StatusSuccess, addr, gatt.BondBonded) })
	return gatt.StatusSuccess
}

func (s *Stack) CancelBond(addr gatt.Address) gatt.Status {
	return s.dropBond(addr)
}

func (s *Stack) RemoveBond(addr gatt.Address) gatt.Status {
	return s.dropBond(addr)
}

func (s *Stack) dropBond(addr gatt.Address) gatt.Status {
	s.mu.Lock()
	_, bonded := s.bonds[addr]
	delete(s.bonds, addr)
	s.mu.Unlock()
	if !bonded {
		return gatt.StatusFail
	}
	s.post(func(h gatt.StackHandler) { h.BondStateChanged(gatt.StatusSuccess, addr, gatt.BondNone) })
	return gatt.StatusSuccess
}

// BondState reports the simulated bond with addr.
func (s *Stack) BondState(addr gatt.Address) gatt.BondState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bonds[addr]
}

func (s *Stack) Gatt() gatt.GattClient {
	return (*gattClient)(s)
}

// Notify pushes a value change from the peripheral at addr. Subscribed
// links receive a notification (or indication); the stored value is
// updated either way.
func (s *Stack) Notify(addr gatt.Address, svc, char gatt.UUID, value []byte) error {
	s.mu.Lock()
	p := s.peripheral(addr)
	if p == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: unknown peripheral %s", gatt.ErrInvalidArgument, addr)
	}
	sv, ch := p.findCharacteristic(svc, char)
	if ch == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: characteristic %s/%s", gatt.ErrInvalidArgument, svc, char)
	}
	ch.value = append([]byte(nil), value...)

	l := s.linkByAddr(addr)
	deliver := l != nil && l.subs[ch]
	var connID int
	if l != nil {
		connID = l.connID
	}
	params := gatt.NotifyParams{
		Address:  addr,
		Service:  sv.id,
		Char:     ch.id,
		Value:    append([]byte(nil), value...),
		IsNotify: ch.props&ble.CharNotify != 0,
	}
	s.mu.Unlock()

	if deliver {
		s.post(func(h gatt.StackHandler) { h.Notify(connID, params) })
	}
	return nil
}

// Value returns the stored value of a characteristic, for inspecting writes.
func (s *Stack) Value(addr gatt.Address, svc, char gatt.UUID) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.peripheral(addr)
	if p == nil {
		return nil, false
	}
	_, ch := p.findCharacteristic(svc, char)
	if ch == nil {
		return nil, false
	}
	return append([]byte(nil), ch.value...), true
}

// DropLink simulates the peripheral at addr going out of range.
func (s *Stack) DropLink(addr gatt.Address) {
	s.mu.Lock()
	l := s.linkByAddr(addr)
	if l != nil {
		delete(s.links, l.connID)
	}
	clientIf := s.clientIf
	s.mu.Unlock()

	if l != nil {
		s.post(func(h gatt.StackHandler) {
			h.DisconnectResult(l.connID, gatt.StatusRemoteDeviceDown, clientIf, addr)
		})
	}
}
