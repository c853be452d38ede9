package goble

import (
	"context"
	"errors"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/gattc/internal/gatt"
)

// NormalizeError maps go-ble errors onto completion statuses. ATT protocol
// errors keep their wire code; everything else is classified by message,
// since go-ble reports most failures as plain strings.
func NormalizeError(err error) gatt.Status {
	if err == nil {
		return gatt.StatusSuccess
	}

	var attErr ble.ATTError
	if errors.As(err, &attErr) {
		return gatt.Status(attErr)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return gatt.StatusBusy
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return gatt.StatusNotReady
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return gatt.StatusNotReady
	case containsIgnoreCase(msg, "not connected"), containsIgnoreCase(msg, "disconnected"):
		return gatt.StatusRemoteDeviceDown
	case containsIgnoreCase(msg, "not implemented"), containsIgnoreCase(msg, "not supported"):
		return gatt.StatusUnsupported
	case containsIgnoreCase(msg, "authentication"), containsIgnoreCase(msg, "encryption"):
		return gatt.StatusAuthFailure
	default:
		return gatt.StatusFail
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
