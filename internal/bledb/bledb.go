// Package bledb names well-known Bluetooth SIG attributes and company
// identifiers for display. It covers the assigned numbers a GATT client
// meets most often; unknown values return "".
package bledb

import (
	"github.com/srg/gattc/internal/gatt"
)

var services = map[uint16]string{
	0x1800: "Generic Access",
	0x1801: "Generic Attribute",
	0x1802: "Immediate Alert",
	0x1803: "Link Loss",
	0x1804: "Tx Power",
	0x1805: "Current Time",
	0x1809: "Health Thermometer",
	0x180a: "Device Information",
	0x180d: "Heart Rate",
	0x180f: "Battery Service",
	0x1810: "Blood Pressure",
	0x1812: "Human Interface Device",
	0x1814: "Running Speed and Cadence",
	0x1816: "Cycling Speed and Cadence",
	0x1818: "Cycling Power",
	0x1819: "Location and Navigation",
	0x181a: "Environmental Sensing",
	0x181c: "User Data",
	0x181d: "Weight Scale",
	0x1826: "Fitness Machine",
	0xfe59: "Nordic DFU",
}

var characteristics = map[uint16]string{
	0x2a00: "Device Name",
	0x2a01: "Appearance",
	0x2a04: "Peripheral Preferred Connection Parameters",
	0x2a05: "Service Changed",
	0x2a06: "Alert Level",
	0x2a07: "Tx Power Level",
	0x2a19: "Battery Level",
	0x2a1c: "Temperature Measurement",
	0x2a23: "System ID",
	0x2a24: "Model Number String",
	0x2a25: "Serial Number String",
	0x2a26: "Firmware Revision String",
	0x2a27: "Hardware Revision String",
	0x2a28: "Software Revision String",
	0x2a29: "Manufacturer Name String",
	0x2a2b: "Current Time",
	0x2a35: "Blood Pressure Measurement",
	0x2a37: "Heart Rate Measurement",
	0x2a38: "Body Sensor Location",
	0x2a39: "Heart Rate Control Point",
	0x2a4d: "Report",
	0x2a50: "PnP ID",
	0x2a53: "RSC Measurement",
	0x2a5b: "CSC Measurement",
	0x2a63: "Cycling Power Measurement",
	0x2a6d: "Pressure",
	0x2a6e: "Temperature",
	0x2a6f: "Humidity",
	0x2a9d: "Weight Measurement",
	0x2acd: "Treadmill Data",
	0x2ad2: "Indoor Bike Data",
}

var descriptors = map[uint16]string{
	0x2900: "Characteristic Extended Properties",
	0x2901: "Characteristic User Descriptor",
	0x2902: "Client Characteristic Configuration",
	0x2903: "Server Characteristic Configuration",
	0x2904: "Characteristic Presentation Format",
	0x2905: "Characteristic Aggregate Format",
	0x2906: "Valid Range",
	0x2908: "Report Reference",
}

// vendor 128-bit attributes that show up without a SIG alias
var vendor = map[gatt.UUID]string{
	gatt.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e"): "Nordic UART Service",
	gatt.MustParseUUID("6e400002-b5a3-f393-e0a9-e50e24dcca9e"): "Nordic UART RX",
	gatt.MustParseUUID("6e400003-b5a3-f393-e0a9-e50e24dcca9e"): "Nordic UART TX",
}

var companies = map[uint16]string{
	0x0000: "Ericsson",
	0x0002: "Intel",
	0x0006: "Microsoft",
	0x000d: "Texas Instruments",
	0x000f: "Broadcom",
	0x004c: "Apple",
	0x0059: "Nordic Semiconductor",
	0x0075: "Samsung Electronics",
	0x0087: "Garmin International",
	0x00e0: "Google",
	0x0131: "Cypress Semiconductor",
	0x02e5: "Espressif",
}

// DataVersion labels the assigned-numbers snapshot these tables follow.
const DataVersion = "assigned-numbers-2024"

func lookup(table map[uint16]string, u gatt.UUID) string {
	if short, ok := u.Short(); ok {
		return table[short]
	}
	return vendor[u]
}

func LookupService(u gatt.UUID) string {
	return lookup(services, u)
}

func LookupCharacteristic(u gatt.UUID) string {
	return lookup(characteristics, u)
}

func LookupDescriptor(u gatt.UUID) string {
	return lookup(descriptors, u)
}

// LookupCompany names a manufacturer-data company identifier.
func LookupCompany(id uint16) string {
	return companies[id]
}

// Label renders u with its name when known, e.g. "180d (Heart Rate)".
func Label(u gatt.UUID, kind gatt.AttributeKind) string {
	var name string
	switch kind {
	case gatt.KindService:
		name = LookupService(u)
	case gatt.KindCharacteristic:
		name = LookupCharacteristic(u)
	case gatt.KindDescriptor:
		name = LookupDescriptor(u)
	}
	if name == "" {
		return u.String()
	}
	return u.String() + " (" + name + ")"
}
