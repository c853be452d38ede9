package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/gattc/internal/gatt"
)

// txPowerAbsent is what go-ble reports when no TX power level was advertised.
const txPowerAbsent = 127

// advertisementData re-encodes the fields go-ble decoded from an
// advertisement into AD structures. Connectable advertisers get the
// general-discoverable flags.
func advertisementData(a ble.Advertisement) []byte {
	adv := gatt.AdvData{
		Name:             a.LocalName(),
		ManufacturerData: a.ManufacturerData(),
	}
	if a.Connectable() {
		adv.Flags = 0x06
	}
	for _, u := range a.Services() {
		adv.Services = append(adv.Services, gatt.FromBLE(u))
	}
	if tx := a.TxPowerLevel(); tx != txPowerAbsent {
		adv.HasTxPower, adv.TxPower = true, int8(tx)
	}
	for _, sd := range a.ServiceData() {
		adv.ServiceData = append(adv.ServiceData, gatt.ServiceData{UUID: gatt.FromBLE(sd.UUID), Data: sd.Data})
	}
	return adv.Bytes()
}
