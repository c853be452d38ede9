package gatt

import "fmt"

// Status is the status code returned synchronously by stack primitives and
// carried by stack completions. Values above StatusAuthRejected are passed
// through untouched (ATT/GATT error codes, for instance).
type Status int

const (
	StatusSuccess Status = iota
	StatusFail
	StatusNotReady
	StatusNoMemory
	StatusBusy
	StatusDone
	StatusUnsupported
	StatusInvalidParam
	StatusUnhandled
	StatusAuthFailure
	StatusRemoteDeviceDown
	StatusAuthRejected
)

var statusNames = map[Status]string{
	StatusSuccess:          "success",
	StatusFail:             "fail",
	StatusNotReady:         "not ready",
	StatusNoMemory:         "no memory",
	StatusBusy:             "busy",
	StatusDone:             "done",
	StatusUnsupported:      "unsupported",
	StatusInvalidParam:     "invalid parameter",
	StatusUnhandled:        "unhandled",
	StatusAuthFailure:      "authentication failure",
	StatusRemoteDeviceDown: "remote device down",
	StatusAuthRejected:     "authentication rejected",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(0x%02x)", int(s))
}

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool {
	return s == StatusSuccess
}

// Completed reports whether s ends an iterative discovery normally. Stacks
// signal the end of a characteristic or descriptor list either with success
// or with StatusDone.
func (s Status) Completed() bool {
	return s == StatusSuccess || s == StatusDone
}

// BondState is the bonding lifecycle state of a remote device.
type BondState int

const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

// Valid reports whether b is one of the known states.
func (b BondState) Valid() bool {
	return b >= BondNone && b <= BondBonded
}

func (b BondState) String() string {
	switch b {
	case BondNone:
		return "none"
	case BondBonding:
		return "bonding"
	case BondBonded:
		return "bonded"
	default:
		return fmt.Sprintf("bond(%d)", int(b))
	}
}

// ThreadEvent is the stack's execution-context lifecycle notification.
type ThreadEvent int

const (
	ThreadAssociated ThreadEvent = iota
	ThreadDisassociated
)

func (e ThreadEvent) String() string {
	if e == ThreadAssociated {
		return "associated"
	}
	return "disassociated"
}

// WriteType selects write semantics for characteristic and descriptor writes.
type WriteType int

const (
	// WriteCommand is a write without response.
	WriteCommand WriteType = iota + 1
	// WriteRequest is an acknowledged write.
	WriteRequest
	// WritePrepare stages a value for a later ExecuteWrite.
	WritePrepare
)

func (w WriteType) String() string {
	switch w {
	case WriteCommand:
		return "command"
	case WriteRequest:
		return "request"
	case WritePrepare:
		return "prepare"
	default:
		return fmt.Sprintf("write(%d)", int(w))
	}
}

// ParseWriteType maps "command", "request" and "prepare" to a WriteType.
func ParseWriteType(s string) (WriteType, error) {
	switch s {
	case "command", "cmd", "no-response":
		return WriteCommand, nil
	case "request", "req", "":
		return WriteRequest, nil
	case "prepare", "prep":
		return WritePrepare, nil
	default:
		return 0, fmt.Errorf("%w: unknown write type %q", ErrInvalidArgument, s)
	}
}

// AuthReq is the authentication requirement passed through to the stack.
type AuthReq int

const (
	AuthNone AuthReq = iota
	AuthNoMITM
	AuthMITM
	AuthSignedNoMITM
	AuthSignedMITM
)
