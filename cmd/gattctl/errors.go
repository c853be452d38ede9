package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/gattc/internal/bridge"
	"github.com/srg/gattc/internal/client"
	"github.com/srg/gattc/internal/gatt"
)

var (
	// ErrConnectionLost is returned when the link drops mid-command.
	ErrConnectionLost = errors.New("connection lost")
	// ErrNotFound is returned when a UUID does not resolve in the cache.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguous is returned when a UUID resolves in more than one service.
	ErrAmbiguous = errors.New("ambiguous")
)

// FormatUserError turns an error chain into a one-line message with a hint
// where one helps.
func FormatUserError(err error) string {
	var statusErr *client.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%v (timed out; is the peripheral in range and advertising?)", err)
	case errors.Is(err, gatt.ErrNotReady):
		return fmt.Sprintf("%v (adapter not ready; is Bluetooth powered on?)", err)
	case errors.Is(err, ErrAmbiguous):
		return fmt.Sprintf("%v (pass --service to choose)", err)
	case errors.Is(err, bridge.ErrNoEndpoints):
		return fmt.Sprintf("%v (pass --service with a writable and notifying characteristic)", err)
	case errors.Is(err, ErrConnectionLost), errors.Is(err, bridge.ErrDisconnected):
		return fmt.Sprintf("%v (peripheral went away)", err)
	case errors.As(err, &statusErr):
		return fmt.Sprintf("%s failed: %s", statusErr.Op, statusHint(statusErr.Status))
	default:
		return err.Error()
	}
}

// statusHint renders a completion status. Completion statuses are raw
// stack or ATT codes, so the number is always shown.
func statusHint(st gatt.Status) string {
	text := fmt.Sprintf("%s (0x%02x)", st, int(st))
	switch st {
	case gatt.StatusUnsupported:
		return text + "; not supported by this backend"
	case gatt.StatusAuthFailure, gatt.StatusAuthRejected:
		return text + "; pair first: gattctl pair <address>"
	case gatt.StatusRemoteDeviceDown:
		return text + "; peripheral went away"
	default:
		return text
	}
}
