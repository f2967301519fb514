// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"

	"github.com/ffutop/modbus-iomodule/internal/iostate"
)

const maxClientsLimit = 32

var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the settings the module cannot start without. Sensor
// entries and the table size are checked when the table is loaded, so a
// bad sensor disables only itself.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Loop.Interval <= 0 {
		add("loop.interval must be positive, got %v", c.Loop.Interval)
	}
	if c.Loop.ReadTimeout <= 0 {
		add("loop.read_timeout must be positive, got %v", c.Loop.ReadTimeout)
	}

	if c.Modbus.Address == "" {
		add("modbus.address is empty")
	}
	switch c.Modbus.Framing {
	case "tcp", "rtu-over-tcp":
	default:
		add("unknown modbus.framing %q", c.Modbus.Framing)
	}
	if c.Modbus.MaxClients < 1 || c.Modbus.MaxClients > maxClientsLimit {
		add("modbus.max_clients must be within 1-%d, got %d", maxClientsLimit, c.Modbus.MaxClients)
	}
	if _, err := ParseUnitIDs(c.Modbus.UnitIDs); err != nil {
		add("modbus.unit_ids: %v", err)
	}

	switch c.Board.Type {
	case "", "sim", "rpio", "mcp23017":
	default:
		add("unknown board.type %q", c.Board.Type)
	}

	if len(c.IO.Inputs) > iostate.DigitalInputs {
		add("io.inputs lists %d channels, the module has %d", len(c.IO.Inputs), iostate.DigitalInputs)
	}
	if len(c.IO.Outputs) > iostate.DigitalOutputs {
		add("io.outputs lists %d channels, the module has %d", len(c.IO.Outputs), iostate.DigitalOutputs)
	}
	if c.IO.Resolution > 16 {
		add("io.resolution %d exceeds 16 bits", c.IO.Resolution)
	}

	switch c.Persistence.Type {
	case "", "memory":
	case "file", "mmap":
		if c.Persistence.Path == "" {
			add("persistence.path is required for %s persistence", c.Persistence.Type)
		}
	default:
		add("unknown persistence.type %q", c.Persistence.Type)
	}
	return errors.Join(errs...)
}
