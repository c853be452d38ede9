package sim

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/srg/gattc/internal/gatt"
	"gopkg.in/yaml.v3"
)

// Profile describes the peripherals a simulated stack exposes.
type Profile struct {
	Peripherals []PeripheralSpec `yaml:"peripherals"`
}

// PeripheralSpec is one simulated remote device.
type PeripheralSpec struct {
	Address  string        `yaml:"address"`
	Name     string        `yaml:"name,omitempty"`
	RSSI     int           `yaml:"rssi,omitempty" default:"-55"`
	Services []ServiceSpec `yaml:"services"`
}

// ServiceSpec is a simulated service. Secondary services are only reachable
// through the Includes list of another service.
type ServiceSpec struct {
	UUID            string               `yaml:"uuid"`
	Secondary       bool                 `yaml:"secondary,omitempty"`
	Includes        []string             `yaml:"includes,omitempty"`
	Characteristics []CharacteristicSpec `yaml:"characteristics,omitempty"`
}

// CharacteristicSpec is a simulated characteristic; Value is hex encoded.
type CharacteristicSpec struct {
	UUID        string           `yaml:"uuid"`
	Properties  []string         `yaml:"properties,omitempty"`
	Value       string           `yaml:"value,omitempty"`
	Descriptors []DescriptorSpec `yaml:"descriptors,omitempty"`
}

// DescriptorSpec is a simulated descriptor; Value is hex encoded.
type DescriptorSpec struct {
	UUID  string `yaml:"uuid"`
	Value string `yaml:"value,omitempty"`
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes a YAML profile and applies defaults.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	for i := range p.Peripherals {
		if p.Peripherals[i].RSSI == 0 {
			defaults.SetDefaults(&p.Peripherals[i])
		}
	}
	return &p, nil
}

var propertyByName = map[string]ble.Property{
	"broadcast":                   ble.CharBroadcast,
	"read":                        ble.CharRead,
	"write-without-response":      ble.CharWriteNR,
	"write":                       ble.CharWrite,
	"notify":                      ble.CharNotify,
	"indicate":                    ble.CharIndicate,
	"authenticated-signed-writes": ble.CharSignedWrite,
	"extended-properties":         ble.CharExtended,
}

func parseProperties(names []string) (ble.Property, error) {
	var p ble.Property
	for _, n := range names {
		bit, ok := propertyByName[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown characteristic property %q", n)
		}
		p |= bit
	}
	return p, nil
}

func parseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(s)
	if clean == "" {
		return nil, nil
	}
	return hex.DecodeString(clean)
}

type peripheral struct {
	addr     gatt.Address
	name     string
	rssi     int
	services []*service
}

type service struct {
	id       gatt.ServiceID
	exposed  bool
	includes []gatt.ServiceID
	chars    []*characteristic
}

type characteristic struct {
	id    gatt.CharacteristicID
	props ble.Property
	value []byte
	descs []*descriptor
}

type descriptor struct {
	id    gatt.DescriptorID
	value []byte
}

// resolve turns the textual spec into wire identities, numbering duplicate
// UUIDs with increasing instance ids.
func (ps PeripheralSpec) resolve() (*peripheral, error) {
	addr, err := gatt.ParseAddress(ps.Address)
	if err != nil {
		return nil, err
	}
	p := &peripheral{addr: addr, name: ps.Name, rssi: ps.RSSI}

	svcInstances := map[gatt.UUID]uint8{}
	byUUID := map[gatt.UUID]gatt.ServiceID{}
	for _, ss := range ps.Services {
		u, err := gatt.ParseUUID(ss.UUID)
		if err != nil {
			return nil, fmt.Errorf("peripheral %s: %w", ps.Address, err)
		}
		svc := &service{
			id:      gatt.ServiceID{UUID: u, Instance: svcInstances[u], Primary: !ss.Secondary},
			exposed: !ss.Secondary,
		}
		svcInstances[u]++
		if _, ok := byUUID[u]; !ok {
			byUUID[u] = svc.id
		}

		charInstances := map[gatt.UUID]uint8{}
		for _, cs := range ss.Characteristics {
			cu, err := gatt.ParseUUID(cs.UUID)
			if err != nil {
				return nil, fmt.Errorf("service %s: %w", ss.UUID, err)
			}
			props, err := parseProperties(cs.Properties)
			if err != nil {
				return nil, fmt.Errorf("characteristic %s: %w", cs.UUID, err)
			}
			value, err := parseHex(cs.Value)
			if err != nil {
				return nil, fmt.Errorf("characteristic %s value: %w", cs.UUID, err)
			}
			ch := &characteristic{
				id:    gatt.CharacteristicID{UUID: cu, Instance: charInstances[cu]},
				props: props,
				value: value,
			}
			charInstances[cu]++

			for _, ds := range cs.Descriptors {
				du, err := gatt.ParseUUID(ds.UUID)
				if err != nil {
					return nil, fmt.Errorf("characteristic %s: %w", cs.UUID, err)
				}
				dv, err := parseHex(ds.Value)
				if err != nil {
					return nil, fmt.Errorf("descriptor %s value: %w", ds.UUID, err)
				}
				ch.descs = append(ch.descs, &descriptor{id: gatt.DescriptorID{UUID: du}, value: dv})
			}
			svc.chars = append(svc.chars, ch)
		}
		p.services = append(p.services, svc)
	}

	// includes reference services by UUID, so resolve them last
	for i, ss := range ps.Services {
		for _, inc := range ss.Includes {
			u, err := gatt.ParseUUID(inc)
			if err != nil {
				return nil, fmt.Errorf("service %s include: %w", ss.UUID, err)
			}
			id, ok := byUUID[u]
			if !ok {
				return nil, fmt.Errorf("service %s includes unknown service %s", ss.UUID, inc)
			}
			p.services[i].includes = append(p.services[i].includes, id)
		}
	}
	return p, nil
}

func (p *peripheral) service(id gatt.ServiceID) *service {
	for _, s := range p.services {
		if s.id == id {
			return s
		}
	}
	return nil
}

func (p *peripheral) characteristic(svc gatt.ServiceID, id gatt.CharacteristicID) *characteristic {
	s := p.service(svc)
	if s == nil {
		return nil
	}
	for _, c := range s.chars {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (p *peripheral) descriptor(svc gatt.ServiceID, char gatt.CharacteristicID, id gatt.DescriptorID) *descriptor {
	c := p.characteristic(svc, char)
	if c == nil {
		return nil
	}
	for _, d := range c.descs {
		if d.id == id {
			return d
		}
	}
	return nil
}

// findCharacteristic looks a characteristic up by UUIDs, first instance wins.
func (p *peripheral) findCharacteristic(svc, char gatt.UUID) (*service, *characteristic) {
	for _, s := range p.services {
		if s.id.UUID != svc {
			continue
		}
		for _, c := range s.chars {
			if c.id.UUID == char {
				return s, c
			}
		}
	}
	return nil, nil
}

// advertisement encodes the flags, complete local name and 16-bit service
// list AD structures.
func (p *peripheral) advertisement() []byte {
	adv := gatt.AdvData{Flags: 0x06, Name: p.name}
	for _, s := range p.services {
		if _, ok := s.id.UUID.Short(); ok && s.exposed {
			adv.Services = append(adv.Services, s.id.UUID)
		}
	}
	return adv.Bytes()
}
