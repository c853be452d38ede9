package gatt

import "fmt"

// DiscoveryKind selects one of the discovery sequences tracked per device.
type DiscoveryKind int

const (
	DiscoverServices DiscoveryKind = iota
	DiscoverIncludedServices
	DiscoverCharacteristics
	DiscoverDescriptors
)

func (k DiscoveryKind) String() string {
	switch k {
	case DiscoverServices:
		return "services"
	case DiscoverIncludedServices:
		return "included-services"
	case DiscoverCharacteristics:
		return "characteristics"
	case DiscoverDescriptors:
		return "descriptors"
	default:
		return fmt.Sprintf("discovery(%d)", int(k))
	}
}

// DiscoveryPhase is the state of one (device, kind) discovery sequence.
type DiscoveryPhase int

const (
	PhaseIdle DiscoveryPhase = iota
	PhaseRequested
	PhaseFinished
)

func (p DiscoveryPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRequested:
		return "requested"
	case PhaseFinished:
		return "finished"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// DiscoveryState is a snapshot of one discovery sequence. Scope is the
// service index (included services, characteristics) or characteristic
// index (descriptors) the sequence walks; it is -1 for services.
type DiscoveryState struct {
	Phase  DiscoveryPhase
	Status Status
	Scope  int
}

// begin moves kind to Requested. Caller holds d.mu.
func (d *Device) beginDiscovery(kind DiscoveryKind, scope int) error {
	st := d.discovery[kind]
	if st.Phase == PhaseRequested {
		return fmt.Errorf("%w: %s on %s", ErrAlreadyInProgress, kind, d.address)
	}
	d.discovery[kind] = DiscoveryState{Phase: PhaseRequested, Scope: scope}
	return nil
}

// abortDiscovery returns kind to Idle after the first request could not be issued.
// Caller holds d.mu.
func (d *Device) abortDiscovery(kind DiscoveryKind) {
	d.discovery[kind] = DiscoveryState{Phase: PhaseIdle, Scope: -1}
}

// finishDiscovery records the terminal status and reports whether the
// sequence was running, so the finished callback fires exactly once.
// Caller holds d.mu.
func (d *Device) finishDiscovery(kind DiscoveryKind, status Status) bool {
	st := d.discovery[kind]
	if st.Phase != PhaseRequested {
		return false
	}
	d.discovery[kind] = DiscoveryState{Phase: PhaseFinished, Status: status, Scope: st.Scope}
	return true
}

// discoveryRunning reports whether kind is Requested. Caller holds d.mu.
func (d *Device) discoveryRunning(kind DiscoveryKind) bool {
	return d.discovery[kind].Phase == PhaseRequested
}
