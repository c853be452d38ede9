package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/go-ble/ble"
	"github.com/srg/gattc/internal/bledb"
	"github.com/srg/gattc/internal/client"
	"github.com/srg/gattc/internal/gatt"
)

var (
	addrColor  = color.New(color.FgCyan)
	kindColor  = color.New(color.FgYellow)
	valueColor = color.New(color.FgGreen)
	errColor   = color.New(color.FgRed)
	dimColor   = color.New(color.Faint)
)

// printer renders command output as a table (human) or JSON lines.
type printer struct {
	w    io.Writer
	json bool
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, json: format == "json"}
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// emit writes v as one JSON line.
func (p *printer) emit(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errColor.Fprintf(p.w, "encode: %v\n", err)
		return
	}
	fmt.Fprintln(p.w, string(data))
}

// event prints one session event.
func (p *printer) event(ev client.Event) {
	if p.json {
		p.emit(ev)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", dimColor.Sprint(ev.Time.Format("15:04:05.000")), kindColor.Sprintf("%-24s", ev.Kind))
	if !ev.Address.IsZero() {
		fmt.Fprintf(&b, " %s", addrColor.Sprint(ev.Address))
	}
	if ev.ConnID != 0 {
		fmt.Fprintf(&b, " conn=%d", ev.ConnID)
	}
	switch ev.Kind {
	case client.EventServiceFound, client.EventCharacteristicFound, client.EventDescriptorFound,
		client.EventCharacteristicRead, client.EventCharacteristicWritten, client.EventDescriptorRead,
		client.EventDescriptorWritten, client.EventRegistration, client.EventNotification:
		fmt.Fprintf(&b, " idx=%d", ev.Index)
	}
	if !ev.UUID.IsZero() {
		fmt.Fprintf(&b, " uuid=%s", ev.UUID)
	}
	switch ev.Kind {
	case client.EventServiceFound:
		fmt.Fprintf(&b, " primary=%t", ev.Primary)
	case client.EventCharacteristicFound:
		fmt.Fprintf(&b, " props=%s", strings.Join(gatt.PropertyNames(ble.Property(ev.Properties)), ","))
	case client.EventRegistration:
		fmt.Fprintf(&b, " registered=%t", ev.Registered)
	case client.EventNotification:
		if ev.Indication {
			b.WriteString(" indication")
		}
	case client.EventRSSI:
		fmt.Fprintf(&b, " rssi=%d", ev.RSSI)
	case client.EventBond:
		fmt.Fprintf(&b, " bond=%s", ev.Bond)
	case client.EventAdapter:
		fmt.Fprintf(&b, " on=%t", ev.Enabled)
	}
	if len(ev.Value) > 0 {
		fmt.Fprintf(&b, " value=%s", valueColor.Sprint(hex.EncodeToString(ev.Value)))
	}
	if ev.Status != gatt.StatusSuccess {
		fmt.Fprintf(&b, " status=%s", errColor.Sprint(ev.Status))
	}
	fmt.Fprintln(p.w, b.String())
}

// scanRecord is the JSON form of one discovered peripheral.
type scanRecord struct {
	Address          gatt.Address      `json:"address"`
	RSSI             int               `json:"rssi"`
	Name             string            `json:"name,omitempty"`
	Services         []gatt.UUID       `json:"services,omitempty"`
	TxPower          *int8             `json:"tx_power,omitempty"`
	ManufacturerData string            `json:"manufacturer_data,omitempty"`
	ServiceData      map[string]string `json:"service_data,omitempty"`
	Seen             time.Time         `json:"seen"`
}

func newScanRecord(ev client.Event, adv gatt.AdvData) scanRecord {
	rec := scanRecord{Address: ev.Address, RSSI: ev.RSSI, Name: adv.Name, Services: adv.Services, Seen: ev.Time}
	if adv.HasTxPower {
		tx := adv.TxPower
		rec.TxPower = &tx
	}
	if len(adv.ManufacturerData) > 0 {
		rec.ManufacturerData = hex.EncodeToString(adv.ManufacturerData)
	}
	for _, sd := range adv.ServiceData {
		if rec.ServiceData == nil {
			rec.ServiceData = make(map[string]string)
		}
		rec.ServiceData[sd.UUID.String()] = hex.EncodeToString(sd.Data)
	}
	return rec
}

// device prints one scan result line.
func (p *printer) device(rec scanRecord) {
	if p.json {
		p.emit(rec)
		return
	}
	name := rec.Name
	if name == "" {
		name = dimColor.Sprint("(unnamed)")
	}
	p.printf("%s %4d dBm  %s", addrColor.Sprint(rec.Address), rec.RSSI, name)
	if len(rec.Services) > 0 {
		labels := make([]string, len(rec.Services))
		for i, u := range rec.Services {
			labels[i] = bledb.Label(u, gatt.KindService)
		}
		p.printf("  [%s]", strings.Join(labels, ", "))
	}
	if len(rec.ManufacturerData) >= 4 {
		if raw, err := hex.DecodeString(rec.ManufacturerData[:4]); err == nil {
			company := uint16(raw[0]) | uint16(raw[1])<<8
			if name := bledb.LookupCompany(company); name != "" {
				p.printf("  %s", dimColor.Sprint(name))
			}
		}
	}
	p.printf("\n")
}

// treeNode is the JSON form of the attribute tree.
type treeNode struct {
	Index      int         `json:"index"`
	UUID       gatt.UUID   `json:"uuid"`
	Name       string      `json:"name,omitempty"`
	Primary    *bool       `json:"primary,omitempty"`
	Properties []string    `json:"properties,omitempty"`
	Value      string      `json:"value,omitempty"`
	Children   []*treeNode `json:"children,omitempty"`
}

// tree prints the cached attribute tree. values holds read results by
// characteristic index.
func (p *printer) tree(snap gatt.Snapshot, values map[int][]byte) {
	services := make([]*treeNode, len(snap.Services))
	for i, svc := range snap.Services {
		primary := svc.ID.Primary
		services[i] = &treeNode{Index: svc.Index, UUID: svc.ID.UUID, Name: bledb.LookupService(svc.ID.UUID), Primary: &primary}
	}
	chars := make([]*treeNode, len(snap.Characteristics))
	for i, ch := range snap.Characteristics {
		n := &treeNode{
			Index:      ch.Index,
			UUID:       ch.ID.UUID,
			Name:       bledb.LookupCharacteristic(ch.ID.UUID),
			Properties: gatt.PropertyNames(ch.Properties),
		}
		if v, ok := values[ch.Index]; ok {
			n.Value = hex.EncodeToString(v)
		}
		chars[i] = n
		services[ch.Service].Children = append(services[ch.Service].Children, n)
	}
	for _, d := range snap.Descriptors {
		chars[d.Characteristic].Children = append(chars[d.Characteristic].Children,
			&treeNode{Index: d.Index, UUID: d.ID.UUID, Name: bledb.LookupDescriptor(d.ID.UUID)})
	}

	if p.json {
		p.emit(struct {
			Address  gatt.Address `json:"address"`
			ConnID   int          `json:"conn_id"`
			Services []*treeNode  `json:"services"`
		}{snap.Address, snap.ConnID, services})
		return
	}

	p.printf("%s (conn %d)\n", addrColor.Sprint(snap.Address), snap.ConnID)
	for _, svc := range services {
		kind := "primary"
		if !*svc.Primary {
			kind = "secondary"
		}
		p.printf("  [%d] service %s %s\n", svc.Index, label(svc), dimColor.Sprint(kind))
		for _, ch := range svc.Children {
			p.printf("    [%d] characteristic %s  %s", ch.Index, label(ch), strings.Join(ch.Properties, ","))
			if ch.Value != "" {
				p.printf("  = %s", valueColor.Sprint(ch.Value))
			}
			p.printf("\n")
			for _, d := range ch.Children {
				p.printf("      [%d] descriptor %s\n", d.Index, label(d))
			}
		}
	}
}

func label(n *treeNode) string {
	if n.Name == "" {
		return n.UUID.String()
	}
	return fmt.Sprintf("%s (%s)", n.UUID, n.Name)
}

// value prints a read result as hex or raw bytes.
func (p *printer) value(uuid gatt.UUID, data []byte, asHex bool) {
	if p.json {
		p.emit(struct {
			UUID  gatt.UUID `json:"uuid"`
			Value string    `json:"value"`
		}{uuid, hex.EncodeToString(data)})
		return
	}
	if asHex {
		p.printf("%s\n", hex.EncodeToString(data))
		return
	}
	_, _ = p.w.Write(data)
	p.printf("\n")
}
