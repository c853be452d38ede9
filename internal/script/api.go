package script

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/srg/gattc/internal/client"
	"github.com/srg/gattc/internal/gatt"
)

// anyEvent subscribes a handler to every event kind.
const anyEvent = "*"

func (e *Engine) registerAPI() {
	L := e.state
	L.NewTable()

	e.function("connect", e.luaConnect)
	e.function("disconnect", e.luaDisconnect)
	e.function("discover", e.luaDiscover)
	e.function("services", e.luaServices)
	e.function("characteristics", e.luaCharacteristics)
	e.function("descriptors", e.luaDescriptors)
	e.function("find", e.luaFind)
	e.function("read", e.luaRead)
	e.function("read_descriptor", e.luaReadDescriptor)
	e.function("write", e.luaWrite)
	e.function("write_descriptor", e.luaWriteDescriptor)
	e.function("execute", e.luaExecute)
	e.function("subscribe", e.luaSubscribe)
	e.function("unsubscribe", e.luaUnsubscribe)
	e.function("rssi", e.luaRSSI)
	e.function("on", e.luaOn)
	e.function("wait", e.luaWait)
	e.function("hex", luaHex)
	e.function("unhex", luaUnhex)

	L.SetGlobal("gatt")
}

// function adds fn under name to the table on top of the stack.
func (e *Engine) function(name string, fn lua.LuaGoFunction) {
	L := e.state
	L.PushString(name)
	L.PushGoFunction(func(L *lua.State) int {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(*lua.LuaError); ok {
					panic(r)
				}
				L.RaiseError(fmt.Sprintf("gatt.%s: %v", name, r))
			}
		}()
		return fn(L)
	})
	L.SetTable(-3)
}

func raise(L *lua.State, format string, args ...any) int {
	L.RaiseError(fmt.Sprintf(format, args...))
	return 0
}

func checkInt(L *lua.State, i int) (int, bool) {
	if !L.IsNumber(i) {
		return 0, false
	}
	return L.ToInteger(i), true
}

func checkString(L *lua.State, i int) (string, bool) {
	if !L.IsString(i) {
		return "", false
	}
	return L.ToString(i), true
}

// connIndex reads the (connID, index) pair most gatt.* calls take.
func connIndex(L *lua.State) (int, int, bool) {
	connID, ok := checkInt(L, 1)
	if !ok {
		return 0, 0, false
	}
	index, ok := checkInt(L, 2)
	if !ok {
		return 0, 0, false
	}
	return connID, index, true
}

func (e *Engine) luaConnect(L *lua.State) int {
	s, ok := checkString(L, 1)
	if !ok {
		return raise(L, "gatt.connect(address) expects an address string")
	}
	addr, err := gatt.ParseAddress(s)
	if err != nil {
		return raise(L, "gatt.connect: %v", err)
	}

	ctx, cancel := e.opContext()
	defer cancel()
	connID, err := e.client.Connect(ctx, addr)
	if err != nil {
		return raise(L, "gatt.connect %s: %v", addr, err)
	}
	L.PushInteger(int64(connID))
	return 1
}

func (e *Engine) luaDisconnect(L *lua.State) int {
	s, ok := checkString(L, 1)
	if !ok {
		return raise(L, "gatt.disconnect(address) expects an address string")
	}
	addr, err := gatt.ParseAddress(s)
	if err != nil {
		return raise(L, "gatt.disconnect: %v", err)
	}

	ctx, cancel := e.opContext()
	defer cancel()
	if err := e.client.Disconnect(ctx, addr); err != nil {
		return raise(L, "gatt.disconnect %s: %v", addr, err)
	}
	return 0
}

// luaDiscover walks the whole attribute tree and returns the three counts.
func (e *Engine) luaDiscover(L *lua.State) int {
	connID, ok := checkInt(L, 1)
	if !ok {
		return raise(L, "gatt.discover(conn) expects a connection id")
	}

	ctx, cancel := e.opContext()
	defer cancel()
	snap, err := e.client.DiscoverAll(ctx, connID)
	if err != nil {
		return raise(L, "gatt.discover: %v", err)
	}
	L.PushInteger(int64(len(snap.Services)))
	L.PushInteger(int64(len(snap.Characteristics)))
	L.PushInteger(int64(len(snap.Descriptors)))
	return 3
}

func (e *Engine) snapshot(L *lua.State, fn string) (gatt.Snapshot, bool) {
	connID, ok := checkInt(L, 1)
	if !ok {
		raise(L, "gatt.%s(conn) expects a connection id", fn)
		return gatt.Snapshot{}, false
	}
	snap, err := e.client.Session().Snapshot(connID)
	if err != nil {
		raise(L, "gatt.%s: %v", fn, err)
		return gatt.Snapshot{}, false
	}
	return snap, true
}

func (e *Engine) luaServices(L *lua.State) int {
	snap, ok := e.snapshot(L, "services")
	if !ok {
		return 0
	}
	L.NewTable()
	for i, svc := range snap.Services {
		L.PushInteger(int64(i + 1))
		L.NewTable()
		setInt(L, "index", svc.Index)
		setString(L, "uuid", svc.ID.UUID.String())
		setInt(L, "instance", int(svc.ID.Instance))
		setBool(L, "primary", svc.ID.Primary)
		L.SetTable(-3)
	}
	return 1
}

func (e *Engine) luaCharacteristics(L *lua.State) int {
	snap, ok := e.snapshot(L, "characteristics")
	if !ok {
		return 0
	}
	L.NewTable()
	for i, ch := range snap.Characteristics {
		L.PushInteger(int64(i + 1))
		L.NewTable()
		setInt(L, "index", ch.Index)
		setString(L, "uuid", ch.ID.UUID.String())
		setInt(L, "service", ch.Service)
		setString(L, "service_uuid", snap.ServiceOf(ch).ID.UUID.String())
		setString(L, "properties", strings.Join(gatt.PropertyNames(ch.Properties), ","))
		L.SetTable(-3)
	}
	return 1
}

func (e *Engine) luaDescriptors(L *lua.State) int {
	snap, ok := e.snapshot(L, "descriptors")
	if !ok {
		return 0
	}
	L.NewTable()
	for i, d := range snap.Descriptors {
		L.PushInteger(int64(i + 1))
		L.NewTable()
		setInt(L, "index", d.Index)
		setString(L, "uuid", d.ID.UUID.String())
		setInt(L, "characteristic", d.Characteristic)
		L.SetTable(-3)
	}
	return 1
}

// luaFind returns the cache index of the first characteristic with the
// given UUID, optionally restricted to a service UUID, or nil.
func (e *Engine) luaFind(L *lua.State) int {
	snap, ok := e.snapshot(L, "find")
	if !ok {
		return 0
	}
	s, ok := checkString(L, 2)
	if !ok {
		return raise(L, "gatt.find(conn, uuid [, service]) expects a characteristic uuid")
	}
	want, err := gatt.ParseUUID(s)
	if err != nil {
		return raise(L, "gatt.find: %v", err)
	}
	var svcFilter *gatt.UUID
	if L.GetTop() >= 3 && !L.IsNil(3) {
		s, _ := checkString(L, 3)
		u, err := gatt.ParseUUID(s)
		if err != nil {
			return raise(L, "gatt.find: %v", err)
		}
		svcFilter = &u
	}

	for _, ch := range snap.Characteristics {
		if ch.ID.UUID != want {
			continue
		}
		if svcFilter != nil && snap.ServiceOf(ch).ID.UUID != *svcFilter {
			continue
		}
		L.PushInteger(int64(ch.Index))
		return 1
	}
	L.PushNil()
	return 1
}

func (e *Engine) luaRead(L *lua.State) int {
	return e.read(L, "read", e.client.ReadCharacteristic)
}

func (e *Engine) luaReadDescriptor(L *lua.State) int {
	return e.read(L, "read_descriptor", e.client.ReadDescriptor)
}

func (e *Engine) read(L *lua.State, fn string, op func(ctx context.Context, connID, index int) ([]byte, error)) int {
	connID, index, ok := connIndex(L)
	if !ok {
		return raise(L, "gatt.%s(conn, index) expects two integers", fn)
	}
	ctx, cancel := e.opContext()
	defer cancel()
	value, err := op(ctx, connID, index)
	if err != nil {
		return raise(L, "gatt.%s %d: %v", fn, index, err)
	}
	L.PushString(string(value))
	return 1
}

func (e *Engine) luaWrite(L *lua.State) int {
	return e.write(L, "write", e.client.WriteCharacteristic)
}

func (e *Engine) luaWriteDescriptor(L *lua.State) int {
	return e.write(L, "write_descriptor", e.client.WriteDescriptor)
}

func (e *Engine) write(L *lua.State, fn string, op func(ctx context.Context, connID, index int, wt gatt.WriteType, value []byte) error) int {
	connID, index, ok := connIndex(L)
	if !ok {
		return raise(L, "gatt.%s(conn, index, data [, mode]) expects two integers", fn)
	}
	data, ok := checkString(L, 3)
	if !ok {
		return raise(L, "gatt.%s: data must be a string", fn)
	}
	mode := ""
	if L.GetTop() >= 4 && !L.IsNil(4) {
		mode, _ = checkString(L, 4)
	}
	wt, err := gatt.ParseWriteType(mode)
	if err != nil {
		return raise(L, "gatt.%s: %v", fn, err)
	}

	ctx, cancel := e.opContext()
	defer cancel()
	if err := op(ctx, connID, index, wt, []byte(data)); err != nil {
		return raise(L, "gatt.%s %d: %v", fn, index, err)
	}
	return 0
}

func (e *Engine) luaExecute(L *lua.State) int {
	connID, ok := checkInt(L, 1)
	if !ok {
		return raise(L, "gatt.execute(conn, commit) expects a connection id")
	}
	commit := L.ToBoolean(2)

	ctx, cancel := e.opContext()
	defer cancel()
	if err := e.client.ExecuteWrite(ctx, connID, commit); err != nil {
		return raise(L, "gatt.execute: %v", err)
	}
	return 0
}

func (e *Engine) luaSubscribe(L *lua.State) int {
	return e.registration(L, "subscribe", e.client.Subscribe)
}

func (e *Engine) luaUnsubscribe(L *lua.State) int {
	return e.registration(L, "unsubscribe", e.client.Unsubscribe)
}

func (e *Engine) registration(L *lua.State, fn string, op func(ctx context.Context, connID, index int) error) int {
	connID, index, ok := connIndex(L)
	if !ok {
		return raise(L, "gatt.%s(conn, index) expects two integers", fn)
	}
	ctx, cancel := e.opContext()
	defer cancel()
	if err := op(ctx, connID, index); err != nil {
		return raise(L, "gatt.%s %d: %v", fn, index, err)
	}
	return 0
}

func (e *Engine) luaRSSI(L *lua.State) int {
	connID, ok := checkInt(L, 1)
	if !ok {
		return raise(L, "gatt.rssi(conn) expects a connection id")
	}
	ctx, cancel := e.opContext()
	defer cancel()
	rssi, err := e.client.ReadRSSI(ctx, connID)
	if err != nil {
		return raise(L, "gatt.rssi: %v", err)
	}
	L.PushInteger(int64(rssi))
	return 1
}

// luaOn registers fn for an event kind ("notification", "disconnected", ...
// or "*"). Handlers run from gatt.wait.
func (e *Engine) luaOn(L *lua.State) int {
	kind, ok := checkString(L, 1)
	if !ok || !L.IsFunction(2) {
		return raise(L, "gatt.on(kind, fn) expects an event kind and a function")
	}
	L.PushValue(2)
	ref := L.Ref(lua.LUA_REGISTRYINDEX)

	if e.events == nil {
		e.events = e.client.Events(client.DefaultEventBuffer * 4)
	}
	k := client.EventKind(kind)
	e.handlers[k] = append(e.handlers[k], ref)
	return 0
}

// luaWait pumps events into registered handlers for ms milliseconds and
// returns how many events it dispatched.
func (e *Engine) luaWait(L *lua.State) int {
	ms, ok := checkInt(L, 1)
	if !ok || ms < 0 {
		return raise(L, "gatt.wait(ms) expects a non-negative duration")
	}

	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	var events <-chan client.Event
	if e.events != nil {
		events = e.events.C
	}

	dispatched := 0
	for {
		select {
		case <-timer.C:
			L.PushInteger(int64(dispatched))
			return 1
		case <-ctx.Done():
			return raise(L, "gatt.wait: %v", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return raise(L, "gatt.wait: %v", client.ErrClosed)
			}
			if e.dispatch(L, ev) {
				dispatched++
			}
		}
	}
}

// dispatch calls every handler for ev. A failing handler is logged and
// does not stop the others.
func (e *Engine) dispatch(L *lua.State, ev client.Event) bool {
	refs := append(append([]int(nil), e.handlers[ev.Kind]...), e.handlers[anyEvent]...)
	if len(refs) == 0 {
		return false
	}
	for _, ref := range refs {
		top := L.GetTop()
		L.RawGeti(lua.LUA_REGISTRYINDEX, ref)
		pushEvent(L, ev)
		if err := L.Call(1, 0); err != nil {
			e.logger.WithError(err).WithField("event", ev.Kind).Warn("Lua event handler failed")
			L.SetTop(top)
		}
	}
	return true
}

func pushEvent(L *lua.State, ev client.Event) {
	L.NewTable()
	setString(L, "kind", string(ev.Kind))
	setString(L, "address", ev.Address.String())
	setInt(L, "conn_id", ev.ConnID)
	setInt(L, "index", ev.Index)
	setString(L, "status", ev.Status.String())
	switch ev.Kind {
	case client.EventNotification:
		setString(L, "value", string(ev.Value))
		setBool(L, "indication", ev.Indication)
		setString(L, "uuid", ev.UUID.String())
	case client.EventCharacteristicRead, client.EventDescriptorRead:
		setString(L, "value", string(ev.Value))
	case client.EventRegistration:
		setBool(L, "registered", ev.Registered)
	case client.EventRSSI, client.EventScan:
		setInt(L, "rssi", ev.RSSI)
	case client.EventBond:
		setString(L, "bond", ev.Bond.String())
	}
}

func setString(L *lua.State, key, v string) {
	L.PushString(v)
	L.SetField(-2, key)
}

func setInt(L *lua.State, key string, v int) {
	L.PushInteger(int64(v))
	L.SetField(-2, key)
}

func setBool(L *lua.State, key string, v bool) {
	L.PushBoolean(v)
	L.SetField(-2, key)
}

func luaHex(L *lua.State) int {
	s, ok := checkString(L, 1)
	if !ok {
		return raise(L, "gatt.hex(data) expects a string")
	}
	L.PushString(hex.EncodeToString([]byte(s)))
	return 1
}

func luaUnhex(L *lua.State) int {
	s, ok := checkString(L, 1)
	if !ok {
		return raise(L, "gatt.unhex(text) expects a string")
	}
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return raise(L, "gatt.unhex: %v", err)
	}
	L.PushString(string(b))
	return 1
}
