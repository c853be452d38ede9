package sim_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/stack/sim"
	"github.com/stretchr/testify/suite"
)

var hrm = gatt.MustParseAddress("AA:BB:CC:DD:EE:FF")

type SimStackTestSuite struct {
	suite.Suite

	stack   *sim.Stack
	session *gatt.Session
	events  chan string
}

func (suite *SimStackTestSuite) SetupTest() {
	var err error
	suite.stack, err = sim.New(&sim.Profile{Peripherals: []sim.PeripheralSpec{sim.HeartRateMonitor(hrm.String())}}, nil,
		sim.WithScanInterval(10*time.Millisecond))
	suite.Require().NoError(err)

	suite.events = make(chan string, 256)
	suite.session = gatt.NewSession(suite.stack)
	suite.Require().NoError(suite.session.Enable(gatt.Callbacks{
		Enabled:   func() { suite.events <- "enabled" },
		Connected: func(_ gatt.Address, id int, st gatt.Status) { suite.events <- "connected" },
		ServiceDiscoveryFinished: func(int, gatt.Status) {
			suite.events <- "services"
		},
		CharacteristicDiscoveryFinished: func(_ int, st gatt.Status) {
			suite.events <- "chars " + st.String()
		},
		CharacteristicWritten: func(_ int, i int, st gatt.Status) { suite.events <- "written " + st.String() },
		NotificationRegistrationChanged: func(_ int, i int, reg bool, st gatt.Status) {
			suite.events <- "registered " + st.String()
		},
		NotificationReceived: func(_ int, i int, v []byte, _ bool) { suite.events <- "notify " + string(v) },
		ScanResult:           func(gatt.Address, int, []byte) { suite.events <- "scan" },
		BondStateChanged:     func(_ gatt.Address, b gatt.BondState, _ gatt.Status) { suite.events <- "bond " + b.String() },
	}))
	suite.await("enabled")
}

func (suite *SimStackTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	suite.NoError(suite.session.Close(ctx), "MUST tear down cleanly")
}

func (suite *SimStackTestSuite) await(want string) {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-suite.events:
			if got == want {
				return
			}
		case <-deadline:
			suite.FailNow("timed out waiting for " + want)
		}
	}
}

func (suite *SimStackTestSuite) connectAndDiscover() int {
	suite.Require().NoError(suite.session.Connect(hrm))
	suite.await("connected")
	d, ok := suite.session.Registry().FindByAddress(hrm)
	suite.Require().True(ok)
	connID := d.ConnID()

	suite.Require().NoError(suite.session.DiscoverServices(connID, nil))
	suite.await("services")
	for i := 0; i < 3; i++ {
		suite.Require().NoError(suite.session.DiscoverCharacteristics(connID, i))
		suite.await("chars done")
	}
	return connID
}

func (suite *SimStackTestSuite) TestDiscoveryAgainstSimulatedPeripheral() {
	// GOAL: Verify a full discovery walk against the simulated heart rate monitor
	//
	// TEST SCENARIO: connect → discover services → characteristics of each → cache matches the profile

	connID := suite.connectAndDiscover()

	snap, err := suite.session.Snapshot(connID)
	suite.Require().NoError(err)
	suite.Assert().Len(snap.Services, 3, "MUST only report primary services in a search")
	suite.Assert().Len(snap.Characteristics, 6)
	suite.Assert().Equal(gatt.UUID16(0x2a19), snap.Characteristics[3].ID.UUID)
	suite.Assert().Equal(ble.CharRead|ble.CharNotify, snap.Characteristics[3].Properties)
}

func (suite *SimStackTestSuite) TestPreparedWriteCommitsOnExecute() {
	// GOAL: Verify the simulated peripheral applies prepared values only on execute
	//
	// TEST SCENARIO: prepare write to control point → value unchanged → execute → value applied

	connID := suite.connectAndDiscover()

	suite.Require().NoError(suite.session.WriteCharacteristic(connID, 2, gatt.WritePrepare, gatt.AuthNone, []byte("go")))
	suite.await("written success")
	v, _ := suite.stack.Value(hrm, gatt.UUID16(0x180d), gatt.UUID16(0x2a39))
	suite.Assert().Empty(v, "MUST NOT apply a prepared value before execute")

	suite.Require().NoError(suite.session.ExecuteWrite(connID, true))
	suite.await("written success")
	v, _ = suite.stack.Value(hrm, gatt.UUID16(0x180d), gatt.UUID16(0x2a39))
	suite.Assert().Equal([]byte("go"), v)
}

func (suite *SimStackTestSuite) TestNotifications() {
	// GOAL: Verify subscribed characteristics receive pushed values
	//
	// TEST SCENARIO: register battery level → push value → notification delivered

	connID := suite.connectAndDiscover()

	suite.Require().NoError(suite.session.RegisterNotification(connID, 3))
	suite.await("registered success")
	suite.Require().NoError(suite.stack.Notify(hrm, gatt.UUID16(0x180f), gatt.UUID16(0x2a19), []byte("Z")))
	suite.await("notify Z")
}

func (suite *SimStackTestSuite) TestScanAndBond() {
	// GOAL: Verify scanning repeats results and bonding walks bonding → bonded
	//
	// TEST SCENARIO: start scan → results arrive → pair → bonding and bonded events

	suite.Require().NoError(suite.session.StartScan())
	suite.await("scan")
	suite.await("scan")
	suite.Require().NoError(suite.session.StopScan())

	suite.Require().NoError(suite.session.Pair(hrm))
	suite.await("bond bonding")
	suite.await("bond bonded")
	suite.Assert().Equal(gatt.BondBonded, suite.stack.BondState(hrm))
}

func TestSimStackTestSuite(t *testing.T) {
	suite.Run(t, new(SimStackTestSuite))
}
