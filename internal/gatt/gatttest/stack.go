// Package gatttest provides a scripted in-memory gatt.Stack for tests.
//
// The fake never calls back on its own: tests drive completions through the
// handler captured by Init (see Stack.Handler and the Boot/Connect helpers),
// which makes every interleaving deterministic.
package gatttest

import (
	"sync"

	"github.com/srg/gattc/internal/gatt"
)

// Call is one recorded primitive invocation.
type Call struct {
	Op        string
	ClientIf  int
	ConnID    int
	Address   gatt.Address
	Filter    *gatt.UUID
	Service   gatt.ServiceID
	Char      gatt.CharacteristicID
	Desc      gatt.DescriptorID
	Start     any
	WriteType gatt.WriteType
	Auth      gatt.AuthReq
	Value     []byte
	Flag      bool
}

// Stack is a recording fake implementing gatt.Stack and gatt.GattClient.
type Stack struct {
	mu       sync.Mutex
	handler  gatt.StackHandler
	calls    []Call
	statuses map[string]gatt.Status
	noGatt   bool

	// OnCall, when set, runs after a call is recorded and before its status
	// is returned. It runs without the fake's lock held.
	OnCall func(c Call)
}

// New returns a fake whose primitives all succeed.
func New() *Stack {
	return &Stack{statuses: make(map[string]gatt.Status)}
}

// WithoutGatt makes Gatt() return nil.
func (f *Stack) WithoutGatt() *Stack {
	f.noGatt = true
	return f
}

// SetStatus makes primitive op return st from now on.
func (f *Stack) SetStatus(op string, st gatt.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[op] = st
}

// Handler returns the handler captured by Init.
func (f *Stack) Handler() gatt.StackHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

// Calls returns a copy of every recorded call.
func (f *Stack) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls to op.
func (f *Stack) CallsTo(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of recorded calls to op.
func (f *Stack) Count(op string) int {
	return len(f.CallsTo(op))
}

// Reset forgets recorded calls.
func (f *Stack) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Stack) record(c Call) gatt.Status {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	st := f.statuses[c.Op]
	hook := f.OnCall
	f.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return st
}

func (f *Stack) Init(h gatt.StackHandler) gatt.Status {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return f.record(Call{Op: "init"})
}

func (f *Stack) Enable() gatt.Status  { return f.record(Call{Op: "enable"}) }
func (f *Stack) Disable() gatt.Status { return f.record(Call{Op: "disable"}) }
func (f *Stack) Cleanup()             { f.record(Call{Op: "cleanup"}) }

func (f *Stack) CreateBond(addr gatt.Address) gatt.Status {
	return f.record(Call{Op: "create_bond", Address: addr})
}

func (f *Stack) CancelBond(addr gatt.Address) gatt.Status {
	return f.record(Call{Op: "cancel_bond", Address: addr})
}

func (f *Stack) RemoveBond(addr gatt.Address) gatt.Status {
	return f.record(Call{Op: "remove_bond", Address: addr})
}

func (f *Stack) Gatt() gatt.GattClient {
	if f.noGatt {
		return nil
	}
	return (*client)(f)
}

// client is the GATT sub-interface view of the fake.
type client Stack

func (c *client) fake() *Stack { return (*Stack)(c) }

func (c *client) Init(h gatt.StackHandler) gatt.Status {
	return c.fake().record(Call{Op: "gatt_init"})
}

func (c *client) RegisterClient(app gatt.UUID) gatt.Status {
	return c.fake().record(Call{Op: "register_client", Start: app})
}

func (c *client) UnregisterClient(clientIf int) gatt.Status {
	return c.fake().record(Call{Op: "unregister_client", ClientIf: clientIf})
}

func (c *client) Scan(clientIf int, start bool) gatt.Status {
	return c.fake().record(Call{Op: "scan", ClientIf: clientIf, Flag: start})
}

func (c *client) Connect(clientIf int, addr gatt.Address, direct bool) gatt.Status {
	return c.fake().record(Call{Op: "connect", ClientIf: clientIf, Address: addr, Flag: direct})
}

func (c *client) Disconnect(clientIf int, addr gatt.Address, connID int) gatt.Status {
	return c.fake().record(Call{Op: "disconnect", ClientIf: clientIf, Address: addr, ConnID: connID})
}

func (c *client) SearchService(connID int, filter *gatt.UUID) gatt.Status {
	return c.fake().record(Call{Op: "search_service", ConnID: connID, Filter: filter})
}

func (c *client) GetIncludedService(connID int, svc gatt.ServiceID, start *gatt.ServiceID) gatt.Status {
	call := Call{Op: "get_included_service", ConnID: connID, Service: svc}
	if start != nil {
		call.Start = *start
	}
	return c.fake().record(call)
}

func (c *client) GetCharacteristic(connID int, svc gatt.ServiceID, start *gatt.CharacteristicID) gatt.Status {
	call := Call{Op: "get_characteristic", ConnID: connID, Service: svc}
	if start != nil {
		call.Start = *start
	}
	return c.fake().record(call)
}

func (c *client) GetDescriptor(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, start *gatt.DescriptorID) gatt.Status {
	call := Call{Op: "get_descriptor", ConnID: connID, Service: svc, Char: char}
	if start != nil {
		call.Start = *start
	}
	return c.fake().record(call)
}

func (c *client) ReadCharacteristic(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, auth gatt.AuthReq) gatt.Status {
	return c.fake().record(Call{Op: "read_characteristic", ConnID: connID, Service: svc, Char: char, Auth: auth})
}

func (c *client) WriteCharacteristic(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, wt gatt.WriteType, auth gatt.AuthReq, value []byte) gatt.Status {
	return c.fake().record(Call{Op: "write_characteristic", ConnID: connID, Service: svc, Char: char, WriteType: wt, Auth: auth, Value: value})
}

func (c *client) ReadDescriptor(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, desc gatt.DescriptorID, auth gatt.AuthReq) gatt.Status {
	return c.fake().record(Call{Op: "read_descriptor", ConnID: connID, Service: svc, Char: char, Desc: desc, Auth: auth})
}

func (c *client) WriteDescriptor(connID int, svc gatt.ServiceID, char gatt.CharacteristicID, desc gatt.DescriptorID, wt gatt.WriteType, auth gatt.AuthReq, value []byte) gatt.Status {
	return c.fake().record(Call{Op: "write_descriptor", ConnID: connID, Service: svc, Char: char, Desc: desc, WriteType: wt, Auth: auth, Value: value})
}

func (c *client) ExecuteWrite(connID int, execute bool) gatt.Status {
	return c.fake().record(Call{Op: "execute_write", ConnID: connID, Flag: execute})
}

func (c *client) RegisterForNotification(clientIf int, addr gatt.Address, svc gatt.ServiceID, char gatt.CharacteristicID) gatt.Status {
	return c.fake().record(Call{Op: "register_notification", ClientIf: clientIf, Address: addr, Service: svc, Char: char})
}

func (c *client) DeregisterForNotification(clientIf int, addr gatt.Address, svc gatt.ServiceID, char gatt.CharacteristicID) gatt.Status {
	return c.fake().record(Call{Op: "deregister_notification", ClientIf: clientIf, Address: addr, Service: svc, Char: char})
}

func (c *client) ReadRemoteRSSI(clientIf int, addr gatt.Address) gatt.Status {
	return c.fake().record(Call{Op: "read_remote_rssi", ClientIf: clientIf, Address: addr})
}
