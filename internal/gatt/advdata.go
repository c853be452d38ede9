package gatt

import (
	"encoding/binary"
	"fmt"
)

// AD structure types understood by AdvData.
const (
	adFlags         = 0x01
	adIncomplete16  = 0x02
	adComplete16    = 0x03
	adIncomplete128 = 0x06
	adComplete128   = 0x07
	adShortName     = 0x08
	adCompleteName  = 0x09
	adTxPower       = 0x0a
	adServiceData16 = 0x16
	adManufacturer  = 0xff
)

// ServiceData is one 16-bit service data AD structure.
type ServiceData struct {
	UUID UUID
	Data []byte
}

// AdvData is the decoded form of an advertising payload, the byte blob
// carried by the ScanResult callback.
type AdvData struct {
	Flags            byte
	Name             string
	Services         []UUID
	HasTxPower       bool
	TxPower          int8
	ServiceData      []ServiceData
	ManufacturerData []byte
}

// Bytes encodes a as a sequence of length-type-value AD structures.
func (a AdvData) Bytes() []byte {
	var out []byte
	put := func(typ byte, data []byte) {
		out = append(out, byte(len(data)+1), typ)
		out = append(out, data...)
	}

	if a.Flags != 0 {
		put(adFlags, []byte{a.Flags})
	}
	if a.Name != "" {
		put(adCompleteName, []byte(a.Name))
	}

	var short, long []byte
	for _, u := range a.Services {
		if v, ok := u.Short(); ok {
			short = binary.LittleEndian.AppendUint16(short, v)
			continue
		}
		long = append(long, u.BLE()...)
	}
	if len(short) > 0 {
		put(adComplete16, short)
	}
	if len(long) > 0 {
		put(adComplete128, long)
	}

	if a.HasTxPower {
		put(adTxPower, []byte{byte(a.TxPower)})
	}
	for _, sd := range a.ServiceData {
		v, ok := sd.UUID.Short()
		if !ok {
			continue
		}
		put(adServiceData16, append(binary.LittleEndian.AppendUint16(nil, v), sd.Data...))
	}
	if len(a.ManufacturerData) > 0 {
		put(adManufacturer, a.ManufacturerData)
	}
	return out
}

// ParseAdvData decodes an advertising payload. Unknown AD types are
// skipped and a zero length ends the payload.
func ParseAdvData(b []byte) (AdvData, error) {
	var a AdvData
	for i := 0; i < len(b); {
		n := int(b[i])
		if n == 0 {
			break
		}
		if i+1+n > len(b) {
			return a, fmt.Errorf("%w: AD structure at %d overruns payload", ErrInvalidArgument, i)
		}
		typ, data := b[i+1], b[i+2:i+1+n]
		i += 1 + n

		switch typ {
		case adFlags:
			if len(data) > 0 {
				a.Flags = data[0]
			}
		case adShortName, adCompleteName:
			a.Name = string(data)
		case adIncomplete16, adComplete16:
			for j := 0; j+2 <= len(data); j += 2 {
				a.Services = append(a.Services, UUID16(binary.LittleEndian.Uint16(data[j:])))
			}
		case adIncomplete128, adComplete128:
			for j := 0; j+16 <= len(data); j += 16 {
				a.Services = append(a.Services, FromBLE(data[j:j+16]))
			}
		case adTxPower:
			if len(data) > 0 {
				a.HasTxPower, a.TxPower = true, int8(data[0])
			}
		case adServiceData16:
			if len(data) >= 2 {
				a.ServiceData = append(a.ServiceData, ServiceData{
					UUID: UUID16(binary.LittleEndian.Uint16(data)),
					Data: append([]byte(nil), data[2:]...),
				})
			}
		case adManufacturer:
			a.ManufacturerData = append([]byte(nil), data...)
		}
	}
	return a, nil
}
