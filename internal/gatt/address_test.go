package gatt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Address
		wantErr bool
	}{
		{name: "colon separated", input: "AA:BB:CC:DD:EE:FF", want: Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}},
		{name: "lower case dashes", input: "aa-bb-cc-dd-ee-01", want: Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}},
		{name: "bare hex", input: "112233445566", want: Address{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}},
		{name: "too short", input: "AA:BB:CC", wantErr: true},
		{name: "not hex", input: "ZZ:BB:CC:DD:EE:FF", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidArgument), "MUST classify malformed address as invalid argument")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddress_String(t *testing.T) {
	a := MustParseAddress("aa:bb:cc:dd:ee:ff")

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", a.String())
	assert.False(t, a.IsZero())
	assert.True(t, Address{}.IsZero())
}
