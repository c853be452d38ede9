//go:build !linux && !darwin

package goble

import (
	"errors"
	"runtime"

	"github.com/go-ble/ble"
)

func openDevice() (ble.Device, error) {
	return nil, errors.New("no BLE backend for " + runtime.GOOS)
}
