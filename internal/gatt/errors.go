package gatt

import (
	"errors"
	"fmt"
)

// Validation errors, returned synchronously before any primitive is issued.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotReady          = errors.New("gatt client not ready")
	ErrAlreadyInProgress = errors.New("discovery already in progress")
	ErrUnsupported       = errors.New("unsupported operation")
	ErrOutOfRange        = errors.New("attribute index out of range")
)

// ErrStack matches any *StackError through errors.Is.
var ErrStack = &StackError{}

// StackError reports a non-success synchronous status from a stack primitive.
type StackError struct {
	Op     string
	Status Status
}

func (e *StackError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op == "" {
		return fmt.Sprintf("stack error: %s", e.Status)
	}
	return fmt.Sprintf("stack error: %s: %s", e.Op, e.Status)
}

// Is matches any *StackError when target carries no Op and a zero Status,
// otherwise it compares Status.
func (e *StackError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*StackError)
	if !ok {
		return false
	}
	if t.Op == "" && t.Status == StatusSuccess {
		return true
	}
	return e.Status == t.Status
}

// StatusOf extracts the stack status from err, or StatusSuccess when err is
// not a StackError.
func StatusOf(err error) Status {
	var serr *StackError
	if errors.As(err, &serr) {
		return serr.Status
	}
	return StatusSuccess
}

func stackError(op string, status Status) error {
	if status.OK() {
		return nil
	}
	return &StackError{Op: op, Status: status}
}
