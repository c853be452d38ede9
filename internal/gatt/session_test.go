package gatt_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/gatt/gatttest"
	"github.com/stretchr/testify/suite"
)

var (
	peer        = gatt.MustParseAddress("AA:BB:CC:DD:EE:FF")
	heartRate   = gatttest.PrimaryService(gatt.UUID16(0x180d))
	battery     = gatttest.PrimaryService(gatt.UUID16(0x180f))
	measurement = gatt.CharacteristicID{UUID: gatt.UUID16(0x2a37)}
	location    = gatt.CharacteristicID{UUID: gatt.UUID16(0x2a38)}
	control     = gatt.CharacteristicID{UUID: gatt.UUID16(0x2a39)}
	level       = gatt.CharacteristicID{UUID: gatt.UUID16(0x2a19)}
	cccd        = gatt.DescriptorID{UUID: gatt.UUID16(0x2902)}
)

// events records application callbacks as compact strings.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, fmt.Sprintf(format, args...))
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

func (e *events) count(prefix string) int {
	n := 0
	for _, l := range e.all() {
		if len(l) >= len(prefix) && l[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (e *events) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = nil
}

func (e *events) callbacks() gatt.Callbacks {
	return gatt.Callbacks{
		Enabled:             func() { e.add("enabled") },
		AdapterStateChanged: func(on bool) { e.add("adapter %v", on) },
		ScanResult:          func(a gatt.Address, rssi int, _ []byte) { e.add("scan %s %d", a, rssi) },
		Connected:           func(a gatt.Address, id int, st gatt.Status) { e.add("connected %s %d %d", a, id, st) },
		Disconnected:        func(a gatt.Address, id int, st gatt.Status) { e.add("disconnected %s %d %d", a, id, st) },
		BondStateChanged:    func(a gatt.Address, b gatt.BondState, st gatt.Status) { e.add("bond %s %s %d", a, b, st) },
		ServiceFound: func(id, i int, u gatt.UUID, primary bool) {
			e.add("service_found %d %d %s %v", id, i, u, primary)
		},
		ServiceDiscoveryFinished: func(id int, st gatt.Status) { e.add("services_finished %d %d", id, st) },
		IncludedServiceDiscoveryFinished: func(id int, st gatt.Status) {
			e.add("included_finished %d %d", id, st)
		},
		CharacteristicFound: func(id, i int, u gatt.UUID, p ble.Property) {
			e.add("char_found %d %d %s 0x%02x", id, i, u, int(p))
		},
		CharacteristicDiscoveryFinished: func(id int, st gatt.Status) { e.add("chars_finished %d %d", id, st) },
		DescriptorFound: func(id, i int, u, owner gatt.UUID) {
			e.add("desc_found %d %d %s %s", id, i, u, owner)
		},
		DescriptorDiscoveryFinished: func(id int, st gatt.Status) { e.add("descs_finished %d %d", id, st) },
		CharacteristicRead: func(id, i int, v []byte, _ int, st gatt.Status) {
			e.add("char_read %d %d %x %d", id, i, v, st)
		},
		CharacteristicWritten: func(id, i int, st gatt.Status) { e.add("char_written %d %d %d", id, i, st) },
		DescriptorRead: func(id, i int, v []byte, _ int, st gatt.Status) {
			e.add("desc_read %d %d %x %d", id, i, v, st)
		},
		DescriptorWritten: func(id, i int, st gatt.Status) { e.add("desc_written %d %d %d", id, i, st) },
		NotificationRegistrationChanged: func(id, i int, reg bool, st gatt.Status) {
			e.add("registration %d %d %v %d", id, i, reg, st)
		},
		NotificationReceived: func(id, i int, v []byte, ind bool) { e.add("notify %d %d %x %v", id, i, v, ind) },
		RemoteRSSI:           func(id, rssi int, st gatt.Status) { e.add("rssi %d %d %d", id, rssi, st) },
	}
}

type SessionTestSuite struct {
	suite.Suite

	stack   *gatttest.Stack
	session *gatt.Session
	events  *events
}

func (suite *SessionTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	suite.stack = gatttest.New()
	suite.events = &events{}
	suite.session = gatt.NewSession(suite.stack, gatt.WithLogger(logger))
	suite.Require().NoError(gatttest.Boot(suite.stack, suite.session, suite.events.callbacks()))
	suite.events.reset()
	suite.stack.Reset()
}

func (suite *SessionTestSuite) handler() gatt.StackHandler {
	return suite.stack.Handler()
}

// connectWithProfile connects peer on connID and seeds its cache with
// heart rate (measurement, location, control) and battery (level).
func (suite *SessionTestSuite) connectWithProfile(connID int) {
	suite.Require().NoError(gatttest.Connect(suite.stack, suite.session, peer, connID))

	h := suite.handler()
	suite.Require().NoError(suite.session.DiscoverServices(connID, nil))
	h.SearchResult(connID, heartRate)
	h.SearchResult(connID, battery)
	h.SearchComplete(connID, gatt.StatusSuccess)

	suite.Require().NoError(suite.session.DiscoverCharacteristics(connID, 0))
	h.CharacteristicResult(connID, gatt.StatusSuccess, heartRate, measurement, ble.CharNotify)
	h.CharacteristicResult(connID, gatt.StatusSuccess, heartRate, location, ble.CharRead)
	h.CharacteristicResult(connID, gatt.StatusSuccess, heartRate, control, ble.CharWrite)
	h.CharacteristicResult(connID, gatt.StatusDone, heartRate, gatt.CharacteristicID{}, 0)

	suite.Require().NoError(suite.session.DiscoverCharacteristics(connID, 1))
	h.CharacteristicResult(connID, gatt.StatusSuccess, battery, level, ble.CharRead|ble.CharNotify)
	h.CharacteristicResult(connID, gatt.StatusDone, battery, gatt.CharacteristicID{}, 0)

	suite.stack.Reset()
}

func (suite *SessionTestSuite) TestLifecycle() {
	// GOAL: Verify the enable sequence ends with a registered client and the Enabled callback
	//
	// TEST SCENARIO: Enable → thread associated → adapter on → client registered → Enabled fires once

	suite.Run("boot sequence", func() {
		st := gatttest.New()
		ev := &events{}
		s := gatt.NewSession(st)

		suite.Require().NoError(s.Enable(ev.callbacks()))
		suite.Assert().False(s.Ready(), "MUST NOT be ready before the stack associates")

		st.Handler().ThreadEvent(gatt.ThreadAssociated)
		suite.Assert().Equal(1, st.Count("gatt_init"), "MUST init the GATT interface on association")
		suite.Assert().Equal(1, st.Count("enable"), "MUST enable the adapter on association")

		st.Handler().AdapterStateChanged(true)
		reg := st.CallsTo("register_client")
		suite.Require().Len(reg, 1, "MUST register the client when the adapter turns on")
		suite.Assert().Equal(s.AppUUID(), reg[0].Start)

		st.Handler().RegisterClientResult(gatt.StatusSuccess, 4, s.AppUUID())
		suite.Assert().True(s.Ready())
		suite.Assert().Equal([]string{"adapter true", "enabled"}, ev.all())
	})

	suite.Run("registration failure disables adapter", func() {
		st := gatttest.New()
		s := gatt.NewSession(st)
		st.SetStatus("register_client", gatt.StatusFail)

		suite.Require().NoError(s.Enable(gatt.Callbacks{}))
		st.Handler().ThreadEvent(gatt.ThreadAssociated)
		st.Handler().AdapterStateChanged(true)

		suite.Assert().Equal(1, st.Count("disable"), "MUST disable the adapter when registration fails")
		suite.Assert().False(s.Ready())
	})

	suite.Run("init failure surfaces stack error", func() {
		st := gatttest.New()
		st.SetStatus("init", gatt.StatusNotReady)

		err := gatt.NewSession(st).Enable(gatt.Callbacks{})

		suite.Assert().ErrorIs(err, gatt.ErrStack)
		suite.Assert().Equal(gatt.StatusNotReady, gatt.StatusOf(err))
	})

	suite.Run("teardown waits for disassociation", func() {
		suite.Require().NoError(gatttest.Connect(suite.stack, suite.session, peer, 3))
		suite.Require().NoError(suite.session.Disable())

		suite.Assert().Len(suite.stack.CallsTo("unregister_client"), 1)
		suite.Assert().Equal(1, suite.stack.Count("disable"))
		suite.Assert().ErrorIs(suite.session.Connect(peer), gatt.ErrNotReady, "MUST stop issuing requests once disabled")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		suite.Assert().ErrorIs(suite.session.WaitTeardown(ctx), context.DeadlineExceeded, "MUST keep waiting while the stack is associated")
		suite.Assert().Equal(1, suite.session.Registry().Len(), "MUST keep devices until teardown is acknowledged")

		go func() {
			time.Sleep(20 * time.Millisecond)
			suite.handler().AdapterStateChanged(false)
			suite.handler().ThreadEvent(gatt.ThreadDisassociated)
		}()
		ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
		defer cancel2()
		suite.Require().NoError(suite.session.WaitTeardown(ctx2))
		suite.Assert().Equal(0, suite.session.Registry().Len(), "MUST release devices after teardown")
	})
}

func (suite *SessionTestSuite) TestCloseWithoutAdapter() {
	// GOAL: Verify Close tears down a stack whose adapter never powered on
	//
	// TEST SCENARIO: Enable → thread associated → adapter stays off → Close → Cleanup issued → disassociation ends the wait

	st := gatttest.New()
	s := gatt.NewSession(st)
	suite.Require().NoError(s.Enable(gatt.Callbacks{}))
	st.Handler().ThreadEvent(gatt.ThreadAssociated)
	st.Reset()

	st.OnCall = func(c gatttest.Call) {
		if c.Op == "cleanup" {
			go st.Handler().ThreadEvent(gatt.ThreadDisassociated)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	suite.Require().NoError(s.Close(ctx), "MUST NOT wait for an adapter-off event that never comes")
	suite.Assert().Equal(1, st.Count("cleanup"), "MUST clean the stack up directly")
	suite.Assert().Zero(st.Count("disable"), "MUST NOT disable an adapter that is off")
	suite.Assert().ErrorIs(s.Connect(peer), gatt.ErrNotReady)
}

func (suite *SessionTestSuite) TestReadiness() {
	// GOAL: Verify every operation reports NotReady before the client is registered
	//
	// TEST SCENARIO: Fresh session without boot → operations called → ErrNotReady, no primitives issued

	st := gatttest.New()
	s := gatt.NewSession(st)

	suite.Assert().ErrorIs(s.Connect(peer), gatt.ErrNotReady)
	suite.Assert().ErrorIs(s.DiscoverServices(1, nil), gatt.ErrNotReady)
	suite.Assert().ErrorIs(s.ReadCharacteristic(1, 0, gatt.AuthNone), gatt.ErrNotReady)
	suite.Assert().ErrorIs(s.StartScan(), gatt.ErrNotReady)
	suite.Assert().ErrorIs(s.Pair(peer), gatt.ErrNotReady)
	suite.Assert().Empty(st.Calls(), "MUST NOT reach the stack when not ready")
}

func (suite *SessionTestSuite) TestArgumentValidation() {
	// GOAL: Verify argument shape and existence errors are returned before any primitive
	//
	// TEST SCENARIO: Bad addresses, connection ids and indices → typed errors → no stack calls

	suite.connectWithProfile(5)

	suite.Run("zero address", func() {
		suite.Assert().ErrorIs(suite.session.Connect(gatt.Address{}), gatt.ErrInvalidArgument)
		suite.Assert().ErrorIs(suite.session.Pair(gatt.Address{}), gatt.ErrInvalidArgument)
	})

	suite.Run("non-positive connection ids", func() {
		for _, id := range []int{0, -1} {
			suite.Assert().ErrorIs(suite.session.DiscoverServices(id, nil), gatt.ErrInvalidArgument, "conn id %d", id)
			suite.Assert().ErrorIs(suite.session.ReadCharacteristic(id, 0, gatt.AuthNone), gatt.ErrInvalidArgument, "conn id %d", id)
			suite.Assert().ErrorIs(suite.session.ReadRemoteRSSI(id), gatt.ErrInvalidArgument, "conn id %d", id)
		}
	})

	suite.Run("unknown connection and address", func() {
		suite.Assert().ErrorIs(suite.session.ReadCharacteristic(42, 0, gatt.AuthNone), gatt.ErrInvalidArgument)
		suite.Assert().ErrorIs(suite.session.Disconnect(gatt.MustParseAddress("01:02:03:04:05:06")), gatt.ErrInvalidArgument)
	})

	suite.Run("index bounds", func() {
		suite.Assert().ErrorIs(suite.session.ReadCharacteristic(5, 99, gatt.AuthNone), gatt.ErrOutOfRange, "MUST reject index 99 of 4")
		suite.Assert().ErrorIs(suite.session.ReadCharacteristic(5, -1, gatt.AuthNone), gatt.ErrInvalidArgument)
		suite.Assert().ErrorIs(suite.session.ReadDescriptor(5, 0, gatt.AuthNone), gatt.ErrOutOfRange, "MUST reject descriptors before discovery")
		suite.Assert().ErrorIs(suite.session.RegisterNotification(5, 10), gatt.ErrOutOfRange)
	})

	suite.Run("discovery scope out of range", func() {
		for name, err := range map[string]error{
			"included":        suite.session.DiscoverIncludedServices(5, 2),
			"characteristics": suite.session.DiscoverCharacteristics(5, 2),
			"descriptors":     suite.session.DiscoverDescriptors(5, 4),
		} {
			suite.Assert().ErrorIs(err, gatt.ErrInvalidArgument, "%s MUST reject an uncached scope as an invalid argument", name)
			suite.Assert().ErrorIs(err, gatt.ErrOutOfRange, "%s MUST still report the index as out of range", name)
		}
		for _, kind := range []gatt.DiscoveryKind{gatt.DiscoverIncludedServices, gatt.DiscoverCharacteristics, gatt.DiscoverDescriptors} {
			st, err := suite.session.DiscoveryState(5, kind)
			suite.Require().NoError(err)
			suite.Assert().NotEqual(gatt.PhaseRequested, st.Phase, "%s MUST NOT be left requested after a rejected start", kind)
		}
	})

	suite.Run("unmapped operation", func() {
		suite.Assert().ErrorIs(suite.session.Do(gatt.Op(42), 5, 0, gatt.AuthNone, nil), gatt.ErrUnsupported)
	})

	suite.Assert().Empty(suite.stack.Calls(), "MUST NOT issue primitives for rejected requests")
}

func (suite *SessionTestSuite) TestConnectDiscoverScenario() {
	// GOAL: Verify the connect → discover services flow assigns indices and fires callbacks in order
	//
	// TEST SCENARIO: connect AA:BB:CC:DD:EE:FF → completion(7, 0) → discover → U1, U2 found → finished(0)

	u1 := gatttest.PrimaryService(gatt.UUID16(0x1800))
	u2 := gatttest.PrimaryService(gatt.UUID16(0x1801))

	suite.Require().NoError(suite.session.Connect(peer))
	connects := suite.stack.CallsTo("connect")
	suite.Require().Len(connects, 1, "MUST issue exactly one connect")
	suite.Assert().Equal(peer, connects[0].Address)
	suite.Assert().True(connects[0].Flag, "MUST request a direct connection")

	suite.handler().ConnectResult(7, gatt.StatusSuccess, gatttest.ClientIf, peer)
	suite.Require().NoError(suite.session.DiscoverServices(7, nil))
	suite.handler().SearchResult(7, u1)
	suite.handler().SearchResult(7, u2)
	suite.handler().SearchComplete(7, gatt.StatusSuccess)

	suite.Assert().Equal([]string{
		"connected AA:BB:CC:DD:EE:FF 7 0",
		"service_found 7 0 1800 true",
		"service_found 7 1 1801 true",
		"services_finished 7 0",
	}, suite.events.all())

	snap, err := suite.session.Snapshot(7)
	suite.Require().NoError(err)
	suite.Assert().Len(snap.Services, 2)

	state, err := suite.session.DiscoveryState(7, gatt.DiscoverServices)
	suite.Require().NoError(err)
	suite.Assert().Equal(gatt.PhaseFinished, state.Phase, "MUST record the finished transition")
}

func (suite *SessionTestSuite) TestCharacteristicChaining() {
	// GOAL: Verify iterative characteristic discovery requests the next item from the last one returned
	//
	// TEST SCENARIO: discover chars of service 0 → each result triggers get_characteristic(start=last) → end status finalizes once

	suite.Require().NoError(gatttest.Connect(suite.stack, suite.session, peer, 7))
	h := suite.handler()
	suite.Require().NoError(suite.session.DiscoverServices(7, nil))
	h.SearchResult(7, heartRate)
	h.SearchComplete(7, gatt.StatusSuccess)

	suite.Require().NoError(suite.session.DiscoverCharacteristics(7, 0))
	h.CharacteristicResult(7, gatt.StatusSuccess, heartRate, measurement, ble.CharNotify)
	h.CharacteristicResult(7, gatt.StatusSuccess, heartRate, location, ble.CharRead)
	h.CharacteristicResult(7, gatt.StatusDone, heartRate, gatt.CharacteristicID{}, 0)
	h.CharacteristicResult(7, gatt.StatusDone, heartRate, gatt.CharacteristicID{}, 0)

	calls := suite.stack.CallsTo("get_characteristic")
	suite.Require().Len(calls, 3)
	suite.Assert().Nil(calls[0].Start, "MUST start from the first characteristic")
	suite.Assert().Equal(measurement, calls[1].Start)
	suite.Assert().Equal(location, calls[2].Start)

	suite.Assert().Equal(1, suite.events.count("chars_finished"), "MUST finish exactly once")
	suite.Assert().Contains(suite.events.all(), "char_found 7 0 2a37 0x10")
	suite.Assert().Contains(suite.events.all(), "char_found 7 1 2a38 0x02")

	suite.Run("rediscovery keeps indices", func() {
		suite.Require().NoError(suite.session.DiscoverCharacteristics(7, 0))
		h.CharacteristicResult(7, gatt.StatusSuccess, heartRate, measurement, ble.CharNotify)
		h.CharacteristicResult(7, gatt.StatusSuccess, heartRate, location, ble.CharRead)
		h.CharacteristicResult(7, gatt.StatusSuccess, heartRate, control, ble.CharWrite)
		h.CharacteristicResult(7, gatt.StatusDone, heartRate, gatt.CharacteristicID{}, 0)

		snap, err := suite.session.Snapshot(7)
		suite.Require().NoError(err)
		suite.Require().Len(snap.Characteristics, 3)
		suite.Assert().Equal(location, snap.Characteristics[1].ID, "MUST keep index 1 for a rediscovered characteristic")
		suite.Assert().Equal(control, snap.Characteristics[2].ID, "MUST append new characteristics")
	})
}

func (suite *SessionTestSuite) TestDiscoveryFailures() {
	// GOAL: Verify discovery never gets stuck and rejects overlapping starts
	//
	// TEST SCENARIO: concurrent start → AlreadyInProgress; failing next request → one finished callback; failing first request → idle

	suite.Require().NoError(gatttest.Connect(suite.stack, suite.session, peer, 7))
	h := suite.handler()

	suite.Run("overlapping start", func() {
		suite.Require().NoError(suite.session.DiscoverServices(7, nil))
		suite.Assert().ErrorIs(suite.session.DiscoverServices(7, nil), gatt.ErrAlreadyInProgress)
		suite.Assert().Equal(1, suite.stack.Count("search_service"), "MUST NOT interleave discovery requests")

		h.SearchResult(7, heartRate)
		h.SearchComplete(7, gatt.StatusSuccess)
		suite.Assert().NoError(suite.session.DiscoverServices(7, nil), "MUST accept a new run after finishing")
		h.SearchComplete(7, gatt.StatusSuccess)
	})

	suite.Run("mid-chain failure", func() {
		suite.Require().NoError(suite.session.DiscoverCharacteristics(7, 0))
		suite.stack.SetStatus("get_characteristic", gatt.StatusBusy)
		h.CharacteristicResult(7, gatt.StatusSuccess, heartRate, measurement, ble.CharNotify)

		suite.Assert().Contains(suite.events.all(), "chars_finished 7 4", "MUST finish with the failing status")
		suite.Assert().Equal(1, suite.events.count("chars_finished"))

		state, err := suite.session.DiscoveryState(7, gatt.DiscoverCharacteristics)
		suite.Require().NoError(err)
		suite.Assert().Equal(gatt.PhaseFinished, state.Phase, "MUST NOT stay requested")
		suite.Assert().Equal(gatt.StatusBusy, state.Status)
	})

	suite.Run("rejected first request", func() {
		err := suite.session.DiscoverCharacteristics(7, 0)

		suite.Assert().ErrorIs(err, gatt.ErrStack)
		suite.Assert().Equal(gatt.StatusBusy, gatt.StatusOf(err))
		state, serr := suite.session.DiscoveryState(7, gatt.DiscoverCharacteristics)
		suite.Require().NoError(serr)
		suite.Assert().Equal(gatt.PhaseIdle, state.Phase, "MUST roll back to idle")
		suite.stack.SetStatus("get_characteristic", gatt.StatusSuccess)
	})

	suite.Run("disconnect finalizes running discovery", func() {
		suite.Require().NoError(suite.session.DiscoverCharacteristics(7, 0))
		h.DisconnectResult(7, gatt.StatusSuccess, gatttest.ClientIf, peer)

		suite.Assert().Contains(suite.events.all(), fmt.Sprintf("chars_finished 7 %d", int(gatt.StatusRemoteDeviceDown)))
		suite.Assert().Contains(suite.events.all(), "disconnected AA:BB:CC:DD:EE:FF 7 0")

		// reconnect on a new id; the cache survives and a new run is accepted
		h.ConnectResult(8, gatt.StatusSuccess, gatttest.ClientIf, peer)
		snap, err := suite.session.Snapshot(8)
		suite.Require().NoError(err)
		suite.Assert().Len(snap.Services, 1, "MUST keep the cache across reconnects")
		suite.Assert().NoError(suite.session.DiscoverCharacteristics(8, 0))
	})
}

func (suite *SessionTestSuite) TestIncludedServices() {
	// GOAL: Verify included services are recorded through the service table without ending top-level discovery
	//
	// TEST SCENARIO: included discovery on service 0 → one included found → next requested → end status → included finished only

	suite.connectWithProfile(7)
	h := suite.handler()
	incl := gatt.ServiceID{UUID: gatt.UUID16(0x1805)}

	suite.Require().NoError(suite.session.DiscoverIncludedServices(7, 0))
	h.IncludedServiceResult(7, gatt.StatusSuccess, heartRate, incl)
	h.IncludedServiceResult(7, gatt.StatusDone, heartRate, gatt.ServiceID{})

	calls := suite.stack.CallsTo("get_included_service")
	suite.Require().Len(calls, 2)
	suite.Assert().Equal(incl, calls[1].Start)
	suite.Assert().Contains(suite.events.all(), "service_found 7 2 1805 false")
	suite.Assert().Equal(1, suite.events.count("included_finished"))
	suite.Assert().Equal(1, suite.events.count("services_finished"), "MUST NOT fire another top-level finished")
}

func (suite *SessionTestSuite) TestDescriptors() {
	// GOAL: Verify descriptor discovery, reads and writes route by resolved index
	//
	// TEST SCENARIO: discover descriptors of char 0 → cccd found → write request → completion reports index 0

	suite.connectWithProfile(7)
	h := suite.handler()

	suite.Require().NoError(suite.session.DiscoverDescriptors(7, 0))
	h.DescriptorResult(7, gatt.StatusSuccess, heartRate, measurement, cccd)
	h.DescriptorResult(7, gatt.StatusDone, heartRate, measurement, gatt.DescriptorID{})

	suite.Assert().Contains(suite.events.all(), "desc_found 7 0 2902 2a37")
	suite.Assert().Contains(suite.events.all(), fmt.Sprintf("descs_finished 7 %d", int(gatt.StatusDone)))

	suite.Require().NoError(suite.session.WriteDescriptor(7, 0, gatt.WriteRequest, gatt.AuthNone, []byte{0x01, 0x00}))
	writes := suite.stack.CallsTo("write_descriptor")
	suite.Require().Len(writes, 1)
	suite.Assert().Equal(cccd, writes[0].Desc)
	suite.Assert().Equal(measurement, writes[0].Char)
	suite.Assert().Equal(gatt.WriteRequest, writes[0].WriteType)

	h.WriteDescriptorResult(7, gatt.StatusSuccess, gatt.WriteParams{Service: heartRate, Char: measurement, Desc: cccd})
	h.ReadDescriptorResult(7, gatt.StatusSuccess, gatt.ReadParams{Service: heartRate, Char: measurement, Desc: cccd, Value: []byte{1, 0}})
	suite.Assert().Contains(suite.events.all(), "desc_written 7 0 0")
	suite.Assert().Contains(suite.events.all(), "desc_read 7 0 0100 0")
}

func (suite *SessionTestSuite) TestReadWriteRouting() {
	// GOAL: Verify read/write completions resolve the characteristic index from the reported identity
	//
	// TEST SCENARIO: read char 1 → completion carries identity → index 1 reported; unknown identity → -1

	suite.connectWithProfile(7)
	h := suite.handler()

	suite.Require().NoError(suite.session.ReadCharacteristic(7, 1, gatt.AuthMITM))
	reads := suite.stack.CallsTo("read_characteristic")
	suite.Require().Len(reads, 1)
	suite.Assert().Equal(location, reads[0].Char)
	suite.Assert().Equal(gatt.AuthMITM, reads[0].Auth)

	h.ReadCharacteristicResult(7, gatt.StatusSuccess, gatt.ReadParams{Service: heartRate, Char: location, Value: []byte{0x02}})
	h.ReadCharacteristicResult(7, gatt.StatusSuccess, gatt.ReadParams{Service: heartRate, Char: gatt.CharacteristicID{UUID: gatt.UUID16(0xffff)}})
	h.WriteCharacteristicResult(7, 0x85, gatt.WriteParams{Service: battery, Char: level})
	h.ReadCharacteristicResult(99, gatt.StatusSuccess, gatt.ReadParams{Service: heartRate, Char: location})

	suite.Assert().Equal([]string{
		"char_read 7 1 02 0",
		"char_read 7 -1  0",
		"char_written 7 3 133",
	}, suite.events.all()[len(suite.events.all())-3:], "MUST resolve indices and drop unknown connections")

	suite.Run("write types", func() {
		suite.stack.Reset()
		suite.Require().NoError(suite.session.WriteCharacteristic(7, 2, gatt.WriteCommand, gatt.AuthNone, []byte("a")))
		suite.Require().NoError(suite.session.WriteCharacteristic(7, 2, gatt.WriteRequest, gatt.AuthNone, []byte("b")))
		suite.Assert().ErrorIs(suite.session.WriteCharacteristic(7, 2, gatt.WriteType(9), gatt.AuthNone, nil), gatt.ErrInvalidArgument)

		writes := suite.stack.CallsTo("write_characteristic")
		suite.Require().Len(writes, 2)
		suite.Assert().Equal(gatt.WriteCommand, writes[0].WriteType)
		suite.Assert().Equal(gatt.WriteRequest, writes[1].WriteType)
		suite.Assert().Equal(control, writes[1].Char)
	})

	suite.Run("stack rejection", func() {
		suite.stack.SetStatus("read_characteristic", gatt.StatusBusy)
		err := suite.session.ReadCharacteristic(7, 0, gatt.AuthNone)

		suite.Assert().ErrorIs(err, gatt.ErrStack)
		suite.Assert().ErrorIs(err, &gatt.StackError{Status: gatt.StatusBusy})
		suite.Assert().Equal(1, suite.stack.Count("read_characteristic"), "MUST NOT retry")
	})
}

func (suite *SessionTestSuite) TestPreparedWrite() {
	// GOAL: Verify the single-slot prepared write routes the execute completion to the prepared index
	//
	// TEST SCENARIO: prepare char 2 → execute commit → completion → exactly one char_written for 2 → slot inactive

	suite.connectWithProfile(7)
	h := suite.handler()

	suite.Run("commit", func() {
		suite.Require().NoError(suite.session.WriteCharacteristic(7, 2, gatt.WritePrepare, gatt.AuthNone, []byte{0xAA}))
		slot, err := suite.session.PreparedWriteState(7)
		suite.Require().NoError(err)
		suite.Assert().Equal(gatt.PreparedWrite{Active: true, Kind: gatt.KindCharacteristic, Index: 2}, slot)

		suite.Require().NoError(suite.session.ExecuteWrite(7, true))
		exec := suite.stack.CallsTo("execute_write")
		suite.Require().Len(exec, 1)
		suite.Assert().True(exec[0].Flag)

		h.ExecuteWriteResult(7, gatt.StatusSuccess)
		h.ExecuteWriteResult(7, gatt.StatusSuccess)

		suite.Assert().Equal(1, suite.events.count("char_written"), "MUST deliver exactly one write completion")
		suite.Assert().Contains(suite.events.all(), "char_written 7 2 0")
		slot, err = suite.session.PreparedWriteState(7)
		suite.Require().NoError(err)
		suite.Assert().False(slot.Active, "MUST clear the slot after execute completion")
	})

	suite.Run("cancel clears before the stack answers", func() {
		suite.Require().NoError(suite.session.WriteCharacteristic(7, 1, gatt.WritePrepare, gatt.AuthNone, []byte{0x01}))
		suite.Require().NoError(suite.session.ExecuteWrite(7, false))

		slot, err := suite.session.PreparedWriteState(7)
		suite.Require().NoError(err)
		suite.Assert().False(slot.Active)

		before := suite.events.count("char_written")
		h.ExecuteWriteResult(7, gatt.StatusSuccess)
		suite.Assert().Equal(before, suite.events.count("char_written"), "MUST NOT route a cancelled write")
	})

	suite.Run("second prepare overwrites", func() {
		suite.Require().NoError(suite.session.WriteCharacteristic(7, 1, gatt.WritePrepare, gatt.AuthNone, []byte{0x01}))
		suite.Require().NoError(suite.session.Do(gatt.OpWriteCharacteristicPrepare, 7, 3, gatt.AuthNone, []byte{0x02}))
		suite.Require().NoError(suite.session.ExecuteWrite(7, true))

		before := suite.events.count("char_written")
		h.ExecuteWriteResult(7, gatt.StatusSuccess)

		suite.Assert().Equal(before+1, suite.events.count("char_written"))
		suite.Assert().Equal("char_written 7 3 0", suite.events.all()[len(suite.events.all())-1], "MUST route to the latest prepared target")
	})
}

func (suite *SessionTestSuite) TestNotifications() {
	// GOAL: Verify notification registration and delivery use the resolved characteristic index
	//
	// TEST SCENARIO: register char 3 → confirmation → notification for char 3 identity → reported as index 3

	suite.connectWithProfile(7)
	h := suite.handler()

	suite.Require().NoError(suite.session.RegisterNotification(7, 3))
	regs := suite.stack.CallsTo("register_notification")
	suite.Require().Len(regs, 1)
	suite.Assert().Equal(peer, regs[0].Address)
	suite.Assert().Equal(level, regs[0].Char)

	subs, err := suite.session.Subscriptions(7)
	suite.Require().NoError(err)
	suite.Assert().Empty(subs, "MUST NOT record the subscription before confirmation")

	h.NotificationRegistration(7, true, gatt.StatusSuccess, battery, level)
	h.Notify(7, gatt.NotifyParams{Address: peer, Service: battery, Char: level, Value: []byte{0x64}, IsNotify: true})
	h.Notify(7, gatt.NotifyParams{Address: peer, Service: battery, Char: gatt.CharacteristicID{UUID: gatt.UUID16(0xffff)}, Value: []byte{0x01}})

	suite.Assert().Contains(suite.events.all(), "registration 7 3 true 0")
	suite.Assert().Contains(suite.events.all(), "notify 7 3 64 false", "MUST report the notifying characteristic's index")
	suite.Assert().Equal(1, suite.events.count("notify"), "MUST drop notifications for uncached characteristics")

	subs, err = suite.session.Subscriptions(7)
	suite.Require().NoError(err)
	suite.Require().Len(subs, 1)
	suite.Assert().Equal(3, subs[0].Characteristic)

	suite.Run("unresolved registration reports -1", func() {
		h.NotificationRegistration(7, true, gatt.StatusSuccess, battery, gatt.CharacteristicID{UUID: gatt.UUID16(0xfffe)})
		suite.Assert().Contains(suite.events.all(), "registration 7 -1 true 0")
	})

	suite.Run("unregister", func() {
		suite.Require().NoError(suite.session.UnregisterNotification(7, 3))
		h.NotificationRegistration(7, false, gatt.StatusSuccess, battery, level)

		subs, err := suite.session.Subscriptions(7)
		suite.Require().NoError(err)
		suite.Assert().Empty(subs)
	})
}

func (suite *SessionTestSuite) TestRSSIAndBonding() {
	// GOAL: Verify RSSI and bond callbacks follow their routing rules
	//
	// TEST SCENARIO: RSSI success resolves conn id, failure reports -1; bond events only for known devices

	suite.Require().NoError(gatttest.Connect(suite.stack, suite.session, peer, 7))
	h := suite.handler()

	suite.Require().NoError(suite.session.ReadRemoteRSSI(7))
	h.RemoteRSSIResult(gatttest.ClientIf, peer, -42, gatt.StatusSuccess)
	h.RemoteRSSIResult(gatttest.ClientIf, peer, 0, gatt.StatusFail)
	suite.Assert().Contains(suite.events.all(), "rssi 7 -42 0")
	suite.Assert().Contains(suite.events.all(), "rssi -1 0 1")

	stranger := gatt.MustParseAddress("01:02:03:04:05:06")
	h.BondStateChanged(gatt.StatusSuccess, stranger, gatt.BondBonded)
	suite.Assert().Zero(suite.events.count("bond"), "MUST drop bond events for unknown devices")

	suite.Require().NoError(suite.session.Pair(stranger))
	suite.Assert().Len(suite.stack.CallsTo("create_bond"), 1)
	h.BondStateChanged(gatt.StatusSuccess, stranger, gatt.BondBonding)
	h.BondStateChanged(gatt.StatusSuccess, stranger, gatt.BondState(9))
	suite.Assert().Equal([]string{"bond 01:02:03:04:05:06 bonding 0"}, suite.events.all()[len(suite.events.all())-1:])
	suite.Assert().Equal(1, suite.events.count("bond"), "MUST drop unknown bond states")

	suite.Require().NoError(suite.session.CancelPairing(stranger))
	suite.Require().NoError(suite.session.RemoveBond(peer))
	suite.Assert().Len(suite.stack.CallsTo("cancel_bond"), 1)
	suite.Assert().Len(suite.stack.CallsTo("remove_bond"), 1)
}

func (suite *SessionTestSuite) TestScan() {
	// GOAL: Verify scan start/stop tracks state and skips redundant primitives
	//
	// TEST SCENARIO: start twice → one primitive; results delivered; stop → one primitive

	suite.Require().NoError(suite.session.StartScan())
	suite.Require().NoError(suite.session.StartScan())
	suite.Assert().True(suite.session.Scanning())
	suite.Assert().Equal(1, suite.stack.Count("scan"), "MUST NOT restart an active scan")

	suite.handler().ScanResult(peer, -60, []byte{0x02, 0x01, 0x06})
	suite.Assert().Contains(suite.events.all(), "scan AA:BB:CC:DD:EE:FF -60")

	suite.Require().NoError(suite.session.StopScan())
	suite.Assert().False(suite.session.Scanning())
	suite.Assert().Equal(2, suite.stack.Count("scan"))

	suite.stack.SetStatus("scan", gatt.StatusBusy)
	suite.Assert().ErrorIs(suite.session.StartScan(), gatt.ErrStack)
	suite.Assert().False(suite.session.Scanning(), "MUST NOT flip state when the stack refuses")
}

func (suite *SessionTestSuite) TestReentrantCallbacks() {
	// GOAL: Verify callbacks can call back into the session from a synchronous stack
	//
	// TEST SCENARIO: stack answers search_service inline → finished callback starts characteristic discovery → no deadlock

	st := gatttest.New()
	s := gatt.NewSession(st)
	st.OnCall = func(c gatttest.Call) {
		if c.Op == "search_service" {
			st.Handler().SearchResult(c.ConnID, heartRate)
			st.Handler().SearchComplete(c.ConnID, gatt.StatusSuccess)
		}
	}

	done := make(chan error, 1)
	cbs := gatt.Callbacks{
		ServiceDiscoveryFinished: func(connID int, _ gatt.Status) {
			done <- s.DiscoverCharacteristics(connID, 0)
		},
	}
	suite.Require().NoError(gatttest.Boot(st, s, cbs))
	suite.Require().NoError(gatttest.Connect(st, s, peer, 2))
	suite.Require().NoError(s.DiscoverServices(2, nil))

	select {
	case err := <-done:
		suite.Assert().NoError(err, "MUST accept requests issued from inside a callback")
	case <-time.After(time.Second):
		suite.Fail("callback never ran")
	}
	suite.Assert().Equal(1, st.Count("get_characteristic"))
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
