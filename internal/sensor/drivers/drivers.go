// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package drivers implements the sensor readers on top of the board, the
// periph.io I2C and SPI buses, serial ports and the kernel one-wire driver.
package drivers

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/ffutop/modbus-iomodule/internal/sensor"
)

// hexResponse formats raw bus bytes the way operators see them.
func hexResponse(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

func canceled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

var (
	_ sensor.AnalogReader   = (*Analog)(nil)
	_ sensor.PulseReader    = (*Pulse)(nil)
	_ sensor.I2CReader      = (*I2C)(nil)
	_ sensor.ProbeTransport = (*I2C)(nil)
	_ sensor.SPIReader      = (*SPI)(nil)
	_ sensor.UARTReader     = (*UART)(nil)
	_ sensor.OneWireReader  = (*OneWire)(nil)
)
