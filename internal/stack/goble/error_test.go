package goble

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-ble/ble"
	"github.com/srg/gattc/internal/gatt"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want gatt.Status
	}{
		{name: "nil", err: nil, want: gatt.StatusSuccess},
		{name: "att error keeps code", err: fmt.Errorf("read: %w", ble.ATTError(0x05)), want: gatt.Status(0x05)},
		{name: "deadline", err: context.DeadlineExceeded, want: gatt.StatusBusy},
		{name: "bluetooth off", err: errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), want: gatt.StatusNotReady},
		{name: "not connected", err: errors.New("Device Not Connected"), want: gatt.StatusRemoteDeviceDown},
		{name: "not implemented", err: errors.New("not implemented"), want: gatt.StatusUnsupported},
		{name: "auth", err: errors.New("insufficient authentication"), want: gatt.StatusAuthFailure},
		{name: "other", err: errors.New("boom"), want: gatt.StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeError(tt.err))
		})
	}
}

func TestAdvertisementData(t *testing.T) {
	data := advertisementData(fakeAdvertisement{
		name:        "Tag",
		services:    []ble.UUID{ble.UUID16(0x180f)},
		manufData:   []byte{0x59, 0x00},
		serviceData: []ble.ServiceData{{UUID: ble.UUID16(0x180f), Data: []byte{0x64}}},
		txPower:     -8,
		connectable: true,
	})

	adv, err := gatt.ParseAdvData(data)
	assert.NoError(t, err)
	assert.Equal(t, gatt.AdvData{
		Flags:            0x06,
		Name:             "Tag",
		Services:         []gatt.UUID{gatt.UUID16(0x180f)},
		HasTxPower:       true,
		TxPower:          -8,
		ServiceData:      []gatt.ServiceData{{UUID: gatt.UUID16(0x180f), Data: []byte{0x64}}},
		ManufacturerData: []byte{0x59, 0x00},
	}, adv)
}

func TestNextIndex(t *testing.T) {
	ids := []string{"a", "b"}
	is := func(s string) func(int) bool { return func(i int) bool { return ids[i] == s } }

	assert.Equal(t, 0, nextIndex(2, nil, false))
	assert.Equal(t, -1, nextIndex(0, nil, false))
	assert.Equal(t, 1, nextIndex(2, is("a"), true))
	assert.Equal(t, -1, nextIndex(2, is("b"), true))
}
