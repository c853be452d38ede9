package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/srg/gattc/internal/client"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/stack/sim"
	"github.com/srg/gattc/internal/testutils"
	"github.com/srg/gattc/pkg/config"
	"github.com/stretchr/testify/suite"
)

type ShellTestSuite struct {
	suite.Suite

	stack  *sim.Stack
	sess   *session
	sh     *shell
	out    *syncBuffer
	events *client.Subscription
	stop   func()
}

func (s *ShellTestSuite) SetupTest() {
	color.NoColor = true

	var err error
	logger := testutils.NewLogger(nil)
	s.stack, err = sim.New(&sim.Profile{Peripherals: []sim.PeripheralSpec{sim.HeartRateMonitor(testAddress)}}, logger)
	s.Require().NoError(err)

	cfg := config.DefaultConfig()
	s.sess = &session{cfg: cfg, logger: logger, client: client.New(s.stack, logger)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Require().NoError(s.sess.client.Start(ctx))

	s.out = &syncBuffer{}
	s.sh = newShell(s.sess, s.out)
	s.events = s.sess.client.Events(client.DefaultEventBuffer)
	s.stop = s.sh.watch(context.Background())
}

func (s *ShellTestSuite) TearDownTest() {
	s.stop()
	s.events.Close()
	s.sess.close()
}

// run executes a line that MUST succeed.
func (s *ShellTestSuite) run(line string) {
	quit, err := s.sh.execute(line)
	s.Require().NoError(err, "%q MUST succeed", line)
	s.Require().False(quit)
}

// waitFor returns the next event of kind.
func (s *ShellTestSuite) waitFor(kind client.EventKind) client.Event {
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.events.C:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			s.FailNow("timed out waiting for event", "kind %s", kind)
		}
	}
}

func (s *ShellTestSuite) TestAsyncDiscoveryAndRead() {
	// GOAL: Verify console commands queue requests and results arrive as events
	//
	// TEST SCENARIO: connect → search → chars → read and raw do → events carry the values; list prints the cache

	s.run("connect " + testAddress)
	connected := s.waitFor(client.EventConnected)
	s.Equal(1, connected.ConnID)

	s.run("search 1")
	s.True(s.waitFor(client.EventServicesFinished).Status.Completed())

	s.run("chars 1 1")
	s.waitFor(client.EventCharacteristicsDone)

	s.run("read 1 0")
	read := s.waitFor(client.EventCharacteristicRead)
	s.Equal([]byte{0x64}, read.Value, "battery level MUST be the first characteristic of the battery service")

	s.run("do 0 1 0")
	s.Equal([]byte{0x64}, s.waitFor(client.EventCharacteristicRead).Value, "raw op 0 MUST read a characteristic")

	s.run("list 1")
	s.Eventually(func() bool {
		return strings.Contains(s.out.String(), "[0] characteristic 2a19 (Battery Level)  read,notify")
	}, time.Second, 10*time.Millisecond, "list MUST print the cached tree")
	s.Eventually(func() bool {
		return strings.Contains(s.out.String(), "characteristic_read")
	}, time.Second, 10*time.Millisecond, "event lines MUST be printed asynchronously")
}

func (s *ShellTestSuite) TestNotificationsAndWrites() {
	// GOAL: Verify reg, write and exec drive the session
	//
	// TEST SCENARIO: register battery notifications → notify arrives; prepared write → exec commit → value stored

	s.run("connect " + testAddress)
	s.waitFor(client.EventConnected)
	s.run("search 1")
	s.waitFor(client.EventServicesFinished)
	s.run("chars 1 0")
	s.waitFor(client.EventCharacteristicsDone)
	s.run("chars 1 1")
	s.waitFor(client.EventCharacteristicsDone)

	// 180d holds 2a37, 2a38, 2a39 at 0..2; 2a19 follows at 3.
	s.run("reg 1 3")
	s.True(s.waitFor(client.EventRegistration).Registered)
	s.Require().NoError(s.stack.Notify(gatt.MustParseAddress(testAddress), gatt.UUID16(0x180f), gatt.UUID16(0x2a19), []byte{0x10}))
	s.Equal([]byte{0x10}, s.waitFor(client.EventNotification).Value)

	s.run("write 1 2 0a0b prepare")
	s.waitFor(client.EventCharacteristicWritten)
	s.run("exec 1 commit")
	s.waitFor(client.EventCharacteristicWritten)
	v, _ := s.stack.Value(gatt.MustParseAddress(testAddress), gatt.UUID16(0x180d), gatt.UUID16(0x2a39))
	s.Equal([]byte{0x0a, 0x0b}, v)

	s.run("unreg 1 3")
	s.False(s.waitFor(client.EventRegistration).Registered)
}

func (s *ShellTestSuite) TestCommandErrors() {
	// GOAL: Verify the console rejects malformed lines without leaving
	//
	// TEST SCENARIO: unknown command, missing args, bad numbers, not connected → errors; blank and comment lines ignored; quit leaves

	for _, line := range []string{"bogus", "read 1", "read x 0", "scan sideways", "exec 1 maybe", "connect nope"} {
		quit, err := s.sh.execute(line)
		s.Error(err, "%q MUST fail", line)
		s.False(quit)
	}

	_, err := s.sh.execute("read 7 0")
	s.Error(err, "read on an unknown connection MUST fail synchronously")

	for _, line := range []string{"", "   ", "# comment"} {
		quit, err := s.sh.execute(line)
		s.NoError(err)
		s.False(quit)
	}

	s.run("help")
	s.run("status")
	s.Contains(s.out.String(), "connect <addr>")
	s.Contains(s.out.String(), "ready=true")

	for _, line := range []string{"quit", "exit", "q"} {
		quit, err := s.sh.execute(line)
		s.NoError(err)
		s.True(quit, "%q MUST end the console", line)
	}
}

func TestShellTestSuite(t *testing.T) {
	suite.Run(t, new(ShellTestSuite))
}
