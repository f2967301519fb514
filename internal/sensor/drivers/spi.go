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

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/ffutop/modbus-iomodule/internal/sensor"
)

const defaultSPISpeed = physic.MegaHertz

// SPI reads sensors on SPI ports opened through spireg. A port can only be
// connected once, so the speed of the first sensor read on a port applies
// to every sensor sharing it.
type SPI struct {
	mu      sync.Mutex
	conns   map[string]spi.Conn
	closers []spi.PortCloser
}

func NewSPI() *SPI {
	return &SPI{conns: make(map[string]spi.Conn)}
}

// Attach connects an already open port under name. The caller keeps
// ownership of it.
func (d *SPI) Attach(name string, port spi.Port, speedHz int64) error {
	c, err := connect(port, speedHz)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[name] = c
	return nil
}

func connect(port spi.Port, speedHz int64) (spi.Conn, error) {
	speed := defaultSPISpeed
	if speedHz > 0 {
		speed = physic.Frequency(speedHz) * physic.Hertz
	}
	c, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("connect spi port %s: %w", port, err)
	}
	return c, nil
}

func (d *SPI) conn(name string, speedHz int64) (spi.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.conns[name]; ok {
		return c, nil
	}
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", name, err)
	}
	c, err := connect(port, speedHz)
	if err != nil {
		port.Close()
		return nil, err
	}
	slog.Info("Opened SPI port", "port", port.String(), "speed", speedHz)
	d.conns[name] = c
	d.closers = append(d.closers, port)
	return c, nil
}

func (d *SPI) ReadSPI(ctx context.Context, p sensor.SPIParams) (sensor.Reading, error) {
	if err := canceled(ctx); err != nil {
		return sensor.Reading{}, err
	}
	c, err := d.conn(p.Port, p.SpeedHz)
	if err != nil {
		return sensor.Reading{}, err
	}

	w := make([]byte, p.Payload.Length)
	r := make([]byte, p.Payload.Length)
	if err := c.Tx(w, r); err != nil {
		return sensor.Reading{}, fmt.Errorf("spi %s: %w", p.Port, err)
	}
	v, err := p.Payload.Decode(r)
	if err != nil {
		return sensor.Reading{}, err
	}
	return sensor.Reading{Value: v, Response: hexResponse(r)}, nil
}

// Close closes the ports opened by d.
func (d *SPI) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c.Close())
	}
	d.closers = nil
	clear(d.conns)
	return errors.Join(errs...)
}
