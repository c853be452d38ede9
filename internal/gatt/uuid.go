package gatt

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
)

// UUID is a 128-bit attribute type in canonical (big-endian) byte order.
// 16- and 32-bit Bluetooth SIG UUIDs are stored expanded over the base UUID.
type UUID [16]byte

// baseUUID is 00000000-0000-1000-8000-00805F9B34FB.
var baseUUID = UUID(uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb"))

// UUID16 expands a 16-bit SIG-assigned UUID.
func UUID16(v uint16) UUID {
	return UUID32(uint32(v))
}

// UUID32 expands a 32-bit SIG-assigned UUID.
func UUID32(v uint32) UUID {
	u := baseUUID
	binary.BigEndian.PutUint32(u[0:4], v)
	return u
}

// NewAppUUID returns a random application identifier used to register a GATT client.
func NewAppUUID() UUID {
	return UUID(uuid.New())
}

// ParseUUID accepts the short hex forms ("180d", "0x180D", "0000180d") and the
// full dashed or undashed 128-bit form.
func ParseUUID(s string) (UUID, error) {
	clean := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	switch len(clean) {
	case 4, 8:
		u, err := ble.Parse(clean)
		if err != nil {
			return UUID{}, fmt.Errorf("%w: malformed uuid %q: %v", ErrInvalidArgument, s, err)
		}
		return FromBLE(u), nil
	default:
		u, err := uuid.Parse(clean)
		if err != nil {
			return UUID{}, fmt.Errorf("%w: malformed uuid %q: %v", ErrInvalidArgument, s, err)
		}
		return UUID(u), nil
	}
}

// MustParseUUID is like ParseUUID but panics on error.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// FromBLE converts a go-ble UUID (little-endian, 2, 4 or 16 bytes) into canonical form.
func FromBLE(u ble.UUID) UUID {
	switch len(u) {
	case 2:
		return UUID16(binary.LittleEndian.Uint16(u))
	case 4:
		return UUID32(binary.LittleEndian.Uint32(u))
	case 16:
		var out UUID
		copy(out[:], ble.Reverse(u))
		return out
	default:
		return UUID{}
	}
}

// BLE converts to the go-ble representation, using the short form for SIG UUIDs.
func (u UUID) BLE() ble.UUID {
	if v, ok := u.Short(); ok {
		return ble.UUID16(v)
	}
	return ble.UUID(ble.Reverse(u[:]))
}

// Short returns the 16-bit alias when u is a SIG UUID built on the base UUID.
func (u UUID) Short() (uint16, bool) {
	if u[0] != 0 || u[1] != 0 || [12]byte(u[4:]) != [12]byte(baseUUID[4:]) {
		return 0, false
	}
	return binary.BigEndian.Uint16(u[2:4]), true
}

// IsZero reports whether u is the nil UUID.
func (u UUID) IsZero() bool {
	return u == UUID{}
}

// String renders SIG UUIDs in their 4-digit form and everything else in the
// dashed 128-bit form.
func (u UUID) String() string {
	if v, ok := u.Short(); ok {
		return fmt.Sprintf("%04x", v)
	}
	return uuid.UUID(u).String()
}

// MarshalText renders the UUID as String does.
func (u UUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText parses any form accepted by ParseUUID.
func (u *UUID) UnmarshalText(text []byte) error {
	parsed, err := ParseUUID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
