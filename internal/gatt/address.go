package gatt

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 6-byte Bluetooth device address in display order
// (Address[0] is the most significant octet, "AA" in "AA:BB:CC:DD:EE:FF").
type Address [6]byte

// ParseAddress parses "AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff" or "aabbccddeeff".
func ParseAddress(s string) (Address, error) {
	var a Address

	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != 2*len(a) {
		return a, fmt.Errorf("%w: malformed address %q", ErrInvalidArgument, s)
	}
	if _, err := hex.Decode(a[:], []byte(clean)); err != nil {
		return a, fmt.Errorf("%w: malformed address %q: %v", ErrInvalidArgument, s, err)
	}
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the address is all zeroes, which is never a valid peer.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// key is the registry map key; cornelk/hashmap only hashes scalar and string keys.
func (a Address) key() string {
	return string(a[:])
}

// MarshalText renders the address in its colon form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses any form accepted by ParseAddress.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
