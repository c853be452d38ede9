package gatt

// PreparedWrite is the single prepared-write slot of a device. A second
// prepare before execute overwrites the slot; there is no queue.
type PreparedWrite struct {
	Active bool
	Kind   AttributeKind
	Index  int
}

func (p *PreparedWrite) set(kind AttributeKind, index int) {
	*p = PreparedWrite{Active: true, Kind: kind, Index: index}
}

// take returns the slot and clears it.
func (p *PreparedWrite) take() PreparedWrite {
	out := *p
	*p = PreparedWrite{}
	return out
}

func (p *PreparedWrite) clear() {
	*p = PreparedWrite{}
}
