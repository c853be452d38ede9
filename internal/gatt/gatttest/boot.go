package gatttest

import "github.com/srg/gattc/internal/gatt"

// ClientIf is the client id Boot registers.
const ClientIf = 1

// Boot enables s over f and drives the stack through thread association,
// adapter power-on and client registration, leaving s ready.
func Boot(f *Stack, s *gatt.Session, cbs gatt.Callbacks) error {
	if err := s.Enable(cbs); err != nil {
		return err
	}
	h := f.Handler()
	h.ThreadEvent(gatt.ThreadAssociated)
	h.AdapterStateChanged(true)
	h.RegisterClientResult(gatt.StatusSuccess, ClientIf, s.AppUUID())
	return nil
}

// Connect issues s.Connect(addr) and completes it with connID.
func Connect(f *Stack, s *gatt.Session, addr gatt.Address, connID int) error {
	if err := s.Connect(addr); err != nil {
		return err
	}
	f.Handler().ConnectResult(connID, gatt.StatusSuccess, ClientIf, addr)
	return nil
}

// PrimaryService is a shorthand for a primary service identity.
func PrimaryService(uuid gatt.UUID) gatt.ServiceID {
	return gatt.ServiceID{UUID: uuid, Primary: true}
}
