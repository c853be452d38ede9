package script_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/srg/gattc/internal/client"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/script"
	"github.com/srg/gattc/internal/stack/sim"
	"github.com/stretchr/testify/suite"
)

var hrm = gatt.MustParseAddress("AA:BB:CC:DD:EE:FF")

type EngineTestSuite struct {
	suite.Suite

	stack  *sim.Stack
	client *client.Client
	engine *script.Engine
	out    *syncBuffer
	ctx    context.Context
	cancel context.CancelFunc
}

// syncBuffer guards print output written from the script goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (suite *EngineTestSuite) SetupTest() {
	var err error
	suite.stack, err = sim.New(&sim.Profile{Peripherals: []sim.PeripheralSpec{sim.HeartRateMonitor(hrm.String())}}, nil)
	suite.Require().NoError(err)

	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), 5*time.Second)
	suite.client = client.New(suite.stack, nil)
	suite.Require().NoError(suite.client.Start(suite.ctx))

	suite.out = &syncBuffer{}
	suite.engine = script.New(suite.client, nil, suite.out, script.WithTimeout(2*time.Second))
}

func (suite *EngineTestSuite) TearDownTest() {
	suite.engine.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	suite.NoError(suite.client.Close(ctx))
	suite.cancel()
}

func (suite *EngineTestSuite) TestDiscoverAndRead() {
	// GOAL: Verify a script can connect, walk the attribute tree and read a value
	//
	// TEST SCENARIO: connect → discover → find 2a29 → read → printed output matches the profile

	err := suite.engine.Run(suite.ctx, `
local conn = gatt.connect("AA:BB:CC:DD:EE:FF")
local s, c, d = gatt.discover(conn)
print(s, c, d)
local idx = gatt.find(conn, "2a29")
print(idx, gatt.read(conn, idx))
print(gatt.find(conn, "2a19", "180d"))
`, "discover.lua")
	suite.Require().NoError(err)
	suite.Equal("4\t7\t3\n6\tgattc\nnil\n", suite.out.String(), "MUST print counts, the manufacturer name and a nil miss")
}

func (suite *EngineTestSuite) TestWriteAndListCharacteristics() {
	// GOAL: Verify writes reach the peripheral and the characteristic listing carries properties
	//
	// TEST SCENARIO: discover → write control point → list characteristics → simulated value updated

	err := suite.engine.Run(suite.ctx, `
local conn = gatt.connect("AA:BB:CC:DD:EE:FF")
gatt.discover(conn)
gatt.write(conn, gatt.find(conn, "2a39"), gatt.unhex("01"))
for _, ch in ipairs(gatt.characteristics(conn)) do
  if ch.uuid == "2a37" then print(ch.service_uuid, ch.properties) end
end
`, "write.lua")
	suite.Require().NoError(err)
	suite.Equal("180d\tnotify\n", suite.out.String())

	value, ok := suite.stack.Value(hrm, gatt.UUID16(0x180d), gatt.UUID16(0x2a39))
	suite.Require().True(ok)
	suite.Equal([]byte{0x01}, value, "MUST store the written value")
}

func (suite *EngineTestSuite) TestNotificationsReachHandlers() {
	// GOAL: Verify gatt.on handlers run from gatt.wait with notification payloads
	//
	// TEST SCENARIO: subscribe battery level → simulator notifies → handler prints hex payload

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = suite.stack.Notify(hrm, gatt.UUID16(0x180f), gatt.UUID16(0x2a19), []byte{0x42})
			}
		}
	}()

	err := suite.engine.Run(suite.ctx, `
local conn = gatt.connect("AA:BB:CC:DD:EE:FF")
gatt.discover(conn)
local seen = 0
gatt.on("notification", function(ev)
  seen = seen + 1
  if seen == 1 then print("battery", gatt.hex(ev.value), ev.indication) end
end)
gatt.subscribe(conn, gatt.find(conn, "2a19"))
gatt.wait(300)
gatt.unsubscribe(conn, gatt.find(conn, "2a19"))
assert(seen > 0, "no notifications")
`, "notify.lua")
	suite.Require().NoError(err)
	suite.Equal("battery\t42\tfalse\n", suite.out.String())
}

func (suite *EngineTestSuite) TestErrorsCarryLine() {
	// GOAL: Verify script failures surface as *script.Error with location and message
	//
	// TEST SCENARIO: error() at line 2 → *script.Error with Line 2; failing gatt.read → message names the call

	err := suite.engine.Run(suite.ctx, "local x = 1\nerror(\"boom\")\n", "bad.lua")
	suite.Require().Error(err)

	var scriptErr *script.Error
	suite.Require().True(errors.As(err, &scriptErr), "MUST return *script.Error")
	suite.Equal(2, scriptErr.Line)
	suite.Equal("boom", scriptErr.Message)
	suite.Equal("bad.lua", scriptErr.Source)

	err = suite.engine.Run(suite.ctx, "gatt.read(99, 0)", "read.lua")
	suite.Require().True(errors.As(err, &scriptErr), "MUST return *script.Error")
	suite.Contains(scriptErr.Message, "gatt.read", "MUST name the failing call")

	suite.Error(suite.engine.Run(suite.ctx, "this is not lua", "syntax.lua"))
	suite.Error(suite.engine.Run(suite.ctx, "  ", "empty.lua"))

	// the state stays usable after an error
	suite.NoError(suite.engine.Run(suite.ctx, `print(gatt.hex("ok"))`, "after.lua"))
	suite.Equal("6f6b\n", suite.out.String())
}

func (suite *EngineTestSuite) TestRunFile() {
	path := filepath.Join(suite.T().TempDir(), "rssi.lua")
	suite.Require().NoError(os.WriteFile(path, []byte(`
local conn = gatt.connect("AA:BB:CC:DD:EE:FF")
print(gatt.rssi(conn))
`), 0o600))

	suite.Require().NoError(suite.engine.RunFile(suite.ctx, path))
	suite.Equal("-48\n", suite.out.String())

	suite.Error(suite.engine.RunFile(suite.ctx, filepath.Join(suite.T().TempDir(), "missing.lua")))
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
