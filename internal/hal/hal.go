// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package hal binds the I/O model to real or simulated hardware.
package hal

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-iomodule/internal/config"
	"github.com/ffutop/modbus-iomodule/internal/iostate"
)

// Board is the hardware the module runs on.
type Board interface {
	iostate.Pins
	// PulseCount returns the number of rising edges seen on pin since
	// counting started. Counting starts on the first call.
	PulseCount(pin int) (uint64, error)
	// SetIndicator drives the connected-client indicator.
	SetIndicator(on bool) error
	Close() error
}

// Open creates the board selected by cfg.
func Open(cfg config.BoardConfig) (Board, error) {
	switch cfg.Type {
	case "", "sim":
		slog.Info("Using simulated board")
		return NewSim(), nil
	case "rpio":
		slog.Info("Using Raspberry Pi GPIO board", "inputs", cfg.InputPins, "outputs", cfg.OutputPins)
		return OpenRPIO(cfg)
	case "mcp23017":
		slog.Info("Using MCP23017 expander board", "bus", cfg.MCP.Bus, "addr", cfg.MCP.Address)
		return OpenMCP23017(cfg)
	default:
		return nil, fmt.Errorf("unknown board type %q", cfg.Type)
	}
}

func checkIndex(kind string, index, n int) error {
	if index < 0 || index >= n {
		return fmt.Errorf("%s %d: %w", kind, index, iostate.ErrIndexOutOfRange)
	}
	return nil
}
