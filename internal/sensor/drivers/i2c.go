// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package drivers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"github.com/ffutop/modbus-iomodule/internal/sensor"
)

// I2C reads register sensors and talks to command/response probes on I2C
// buses. Buses are opened through i2creg on first use; the bus name "" is the
// first bus the host registered.
type I2C struct {
	mu      sync.Mutex
	buses   map[string]i2c.Bus
	closers []i2c.BusCloser
}

func NewI2C() *I2C {
	return &I2C{buses: make(map[string]i2c.Bus)}
}

// Attach registers an already open bus under name. The caller keeps
// ownership of it.
func (d *I2C) Attach(name string, bus i2c.Bus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buses[name] = bus
}

func (d *I2C) bus(name string) (i2c.Bus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.buses[name]; ok {
		return b, nil
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	slog.Info("Opened I2C bus", "bus", b.String())
	d.buses[name] = b
	d.closers = append(d.closers, b)
	return b, nil
}

func (d *I2C) ReadI2C(ctx context.Context, p sensor.I2CParams) (sensor.Reading, error) {
	if err := canceled(ctx); err != nil {
		return sensor.Reading{}, err
	}
	b, err := d.bus(p.Bus)
	if err != nil {
		return sensor.Reading{}, err
	}

	dev := &i2c.Dev{Bus: b, Addr: p.Address}
	var w []byte
	if p.Register != sensor.DirectRead {
		w = []byte{byte(p.Register)}
	}
	buf := make([]byte, p.Payload.Length)
	if err := dev.Tx(w, buf); err != nil {
		return sensor.Reading{}, fmt.Errorf("i2c 0x%02X: %w", p.Address, err)
	}
	v, err := p.Payload.Decode(buf)
	if err != nil {
		return sensor.Reading{}, err
	}
	return sensor.Reading{Value: v, Response: hexResponse(buf)}, nil
}

// Close closes the buses opened by d.
func (d *I2C) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c.Close())
	}
	d.closers = nil
	clear(d.buses)
	return errors.Join(errs...)
}
