// Package eventlog records client events as a CBOR stream and replays them.
package eventlog

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/srg/gattc/internal/client"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(fmt.Sprintf("eventlog: encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic(fmt.Sprintf("eventlog: decoder mode: %v", err))
	}
}

// Encode marshals one event.
func Encode(ev client.Event) ([]byte, error) {
	return encMode.Marshal(ev)
}

// Decode unmarshals one event.
func Decode(data []byte) (client.Event, error) {
	var ev client.Event
	if err := decMode.Unmarshal(data, &ev); err != nil {
		return client.Event{}, err
	}
	return ev, nil
}

// NewEncoder returns a stream encoder writing to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
