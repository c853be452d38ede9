package gatt

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// teardownPollInterval is how often WaitTeardown checks for the stack's
// disassociation acknowledgment.
const teardownPollInterval = 10 * time.Millisecond

// Session is the GATT client session. It is live from Enable until the stack
// acknowledges teardown, and it is the StackHandler handed to the stack.
type Session struct {
	stack    Stack
	logger   *logrus.Logger
	appUUID  UUID
	registry *Registry

	cbs  atomic.Pointer[Callbacks]
	gatt atomic.Pointer[gattRef]

	associated atomic.Bool
	adapterOn  atomic.Bool
	scanning   atomic.Bool
	closing    atomic.Bool
	clientIf   atomic.Int32
}

type gattRef struct {
	GattClient
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. A nil logger discards output.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithAppUUID sets the application UUID used to register the GATT client.
func WithAppUUID(app UUID) Option {
	return func(s *Session) {
		s.appUUID = app
	}
}

// NewSession creates a session over stack. Nothing is sent to the stack until Enable.
func NewSession(stack Stack, opts ...Option) *Session {
	s := &Session{
		stack:    stack,
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
		s.logger.SetOutput(io.Discard)
	}
	if s.appUUID.IsZero() {
		s.appUUID = NewAppUUID()
	}
	s.cbs.Store(&Callbacks{})
	return s
}

// Registry exposes the session's device registry.
func (s *Session) Registry() *Registry {
	return s.registry
}

// AppUUID is the identifier the session registers its GATT client under.
func (s *Session) AppUUID() UUID {
	return s.appUUID
}

// Enable installs cbs and initializes the stack. The session becomes ready
// once the stack has associated its thread, powered the adapter and
// confirmed client registration, which is signalled by cbs.Enabled.
func (s *Session) Enable(cbs Callbacks) error {
	if s.stack == nil {
		return fmt.Errorf("%w: no stack", ErrNotReady)
	}

	s.cbs.Store(&cbs)
	s.closing.Store(false)

	if st := s.stack.Init(s); !st.OK() && st != StatusDone {
		return stackError("init", st)
	}
	s.logger.WithField("app_uuid", s.appUUID.String()).Debug("Stack initialized")
	return nil
}

// Disable stops issuing new requests, unregisters the GATT client and
// powers the adapter down. Use WaitTeardown to wait for the stack to finish.
func (s *Session) Disable() error {
	if !s.adapterOn.Load() {
		return fmt.Errorf("%w: adapter is off", ErrNotReady)
	}

	s.closing.Store(true)
	s.scanning.Store(false)

	clientIf := int(s.clientIf.Swap(0))
	if g := s.gattClient(); g != nil && clientIf != 0 {
		if st := g.UnregisterClient(clientIf); !st.OK() {
			return stackError("unregister client", st)
		}
	}
	if st := s.stack.Disable(); !st.OK() {
		return stackError("disable", st)
	}
	return nil
}

// WaitTeardown polls until the stack acknowledges teardown, then releases
// every cached device. Callbacks may still arrive until it returns.
func (s *Session) WaitTeardown(ctx context.Context) error {
	ticker := time.NewTicker(teardownPollInterval)
	defer ticker.Stop()

	for s.associated.Load() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for stack teardown: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	s.registry.Clear()
	s.logger.Debug("Session torn down")
	return nil
}

// Close disables the session when the adapter is on and waits for teardown.
// A stack that associated but never powered the adapter is cleaned up
// directly, since no adapter-off event will come to do it.
func (s *Session) Close(ctx context.Context) error {
	switch {
	case s.adapterOn.Load():
		if err := s.Disable(); err != nil {
			return err
		}
	case s.associated.Load():
		s.closing.Store(true)
		s.stack.Cleanup()
	}
	return s.WaitTeardown(ctx)
}

// Ready reports whether the session can issue GATT requests.
func (s *Session) Ready() bool {
	_, _, err := s.ready()
	return err == nil
}

// Scanning reports whether an LE scan is active.
func (s *Session) Scanning() bool {
	return s.scanning.Load()
}

// Snapshot returns the cached attributes of the device on connID.
func (s *Session) Snapshot(connID int) (Snapshot, error) {
	d, err := s.connected(connID)
	if err != nil {
		return Snapshot{}, err
	}
	return d.Snapshot(), nil
}

// DiscoveryState reports the state of one discovery sequence on connID.
func (s *Session) DiscoveryState(connID int, kind DiscoveryKind) (DiscoveryState, error) {
	d, err := s.connected(connID)
	if err != nil {
		return DiscoveryState{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.discovery[kind], nil
}

// PreparedWriteState reports the prepared-write slot of the device on connID.
func (s *Session) PreparedWriteState(connID int) (PreparedWrite, error) {
	d, err := s.connected(connID)
	if err != nil {
		return PreparedWrite{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prepared, nil
}

// Subscriptions lists confirmed notification registrations on connID.
func (s *Session) Subscriptions(connID int) ([]Subscription, error) {
	d, err := s.connected(connID)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notifications.List(), nil
}

func (s *Session) callbacks() *Callbacks {
	return s.cbs.Load()
}

func (s *Session) gattClient() GattClient {
	if ref := s.gatt.Load(); ref != nil {
		return ref.GattClient
	}
	return nil
}

// ready checks that GATT requests may be issued and returns the client and its id.
func (s *Session) ready() (GattClient, int, error) {
	if s.closing.Load() {
		return nil, 0, fmt.Errorf("%w: session is shutting down", ErrNotReady)
	}
	g := s.gattClient()
	if g == nil {
		return nil, 0, fmt.Errorf("%w: gatt interface not initialized", ErrNotReady)
	}
	if !s.adapterOn.Load() {
		return nil, 0, fmt.Errorf("%w: adapter is off", ErrNotReady)
	}
	clientIf := int(s.clientIf.Load())
	if clientIf == 0 {
		return nil, 0, fmt.Errorf("%w: gatt client not registered", ErrNotReady)
	}
	return g, clientIf, nil
}

// bondReady checks the adapter-level readiness bond operations need.
func (s *Session) bondReady() error {
	if s.closing.Load() {
		return fmt.Errorf("%w: session is shutting down", ErrNotReady)
	}
	if !s.associated.Load() {
		return fmt.Errorf("%w: stack not initialized", ErrNotReady)
	}
	if !s.adapterOn.Load() {
		return fmt.Errorf("%w: adapter is off", ErrNotReady)
	}
	return nil
}

// connected resolves connID to its device.
func (s *Session) connected(connID int) (*Device, error) {
	if connID <= 0 {
		return nil, fmt.Errorf("%w: connection id %d", ErrInvalidArgument, connID)
	}
	d, ok := s.registry.FindByConnection(connID)
	if !ok {
		return nil, fmt.Errorf("%w: no device on connection %d", ErrInvalidArgument, connID)
	}
	return d, nil
}

func checkIndex(kind AttributeKind, index int) error {
	if index < 0 {
		return fmt.Errorf("%w: negative %s index %d", ErrInvalidArgument, kind, index)
	}
	return nil
}

func checkAddress(addr Address) error {
	if addr.IsZero() {
		return fmt.Errorf("%w: zero address", ErrInvalidArgument)
	}
	return nil
}
