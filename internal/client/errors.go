package client

import (
	"errors"
	"fmt"

	"github.com/srg/gattc/internal/gatt"
)

// ErrClosed is returned by helpers once the client has been closed.
var ErrClosed = errors.New("client closed")

// StatusError reports a completion that arrived with a failure status.
type StatusError struct {
	Op     string
	Status gatt.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Status)
}

// Is matches any *StatusError when target has a zero Status, otherwise it
// compares Status.
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return t.Status == gatt.StatusSuccess || t.Status == e.Status
}

func statusErr(op string, st gatt.Status) error {
	if st.OK() {
		return nil
	}
	return &StatusError{Op: op, Status: st}
}
