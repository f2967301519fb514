// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package drivers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ffutop/modbus-iomodule/internal/sensor"
)

const (
	DefaultWirePath = "/sys/bus/w1/devices"
	// wireFamilyPrefix is the DS18B20 family code used when a device id is
	// given without one.
	wireFamilyPrefix = "28-"
)

// OneWire reads temperature sensors exposed by the kernel w1 driver.
type OneWire struct {
	BasePath string
}

func NewOneWire(basePath string) *OneWire {
	if basePath == "" {
		basePath = DefaultWirePath
	}
	return &OneWire{BasePath: basePath}
}

// devicePath returns the temperature file of id. Ids without a family code
// are taken as the hex serial of a DS18B20, with or without a 0x prefix.
func (w1 *OneWire) devicePath(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if !strings.Contains(id, "-") {
		serial, err := strconv.ParseUint(strings.TrimPrefix(id, "0x"), 16, 48)
		if err != nil {
			return "", errors.Wrapf(err, "invalid one-wire device id %q", id)
		}
		id = fmt.Sprintf("%s%012x", wireFamilyPrefix, serial)
	}
	return filepath.Join(w1.BasePath, id, "temperature"), nil
}

func (w1 *OneWire) ReadOneWire(ctx context.Context, p sensor.OneWireParams) (sensor.Reading, error) {
	if err := canceled(ctx); err != nil {
		return sensor.Reading{}, err
	}
	path, err := w1.devicePath(p.DeviceID)
	if err != nil {
		return sensor.Reading{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return sensor.Reading{}, errors.Wrapf(err, "failed reading one-wire device %s", p.DeviceID)
	}
	text := strings.TrimSpace(string(raw))
	milliCelsius, err := strconv.ParseInt(text, 10, 32)
	if err != nil {
		return sensor.Reading{}, errors.Wrapf(err, "failed converting %q to milli-degrees for device %s", text, p.DeviceID)
	}
	return sensor.Reading{Value: float64(milliCelsius) / 1000}, nil
}
