// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package hal

import (
	"fmt"

	"github.com/racerxdl/go-mcp23017"

	"github.com/ffutop/modbus-iomodule/internal/config"
	"github.com/ffutop/modbus-iomodule/internal/iostate"
)

// MCP23017 maps the digital channels onto an I2C port expander:
// inputs on GPA0-7, outputs on GPB0-7. It has no ADC, pulse counter or
// indicator.
type MCP23017 struct {
	device *mcp23017.Device
}

const mcpOutputBase = 8

func OpenMCP23017(cfg config.BoardConfig) (*MCP23017, error) {
	device, err := mcp23017.Open(uint8(cfg.MCP.Bus), uint8(cfg.MCP.Address))
	if err != nil {
		return nil, fmt.Errorf("failed to open mcp23017: %w", err)
	}
	for i := 0; i < iostate.DigitalInputs; i++ {
		if err := device.PinMode(uint8(i), mcp23017.INPUT); err != nil {
			device.Close()
			return nil, fmt.Errorf("failed to configure input %d: %w", i, err)
		}
	}
	for i := 0; i < iostate.DigitalOutputs; i++ {
		if err := device.PinMode(uint8(mcpOutputBase+i), mcp23017.OUTPUT); err != nil {
			device.Close()
			return nil, fmt.Errorf("failed to configure output %d: %w", i, err)
		}
	}
	return &MCP23017{device: device}, nil
}

func (b *MCP23017) ReadInput(index int) (bool, error) {
	if err := checkIndex("input", index, iostate.DigitalInputs); err != nil {
		return false, err
	}
	level, err := b.device.DigitalRead(uint8(index))
	if err != nil {
		return false, err
	}
	return bool(level), nil
}

func (b *MCP23017) WriteOutput(index int, level bool) error {
	if err := checkIndex("output", index, iostate.DigitalOutputs); err != nil {
		return err
	}
	return b.device.DigitalWrite(uint8(mcpOutputBase+index), mcp23017.PinLevel(level))
}

func (b *MCP23017) SetPullup(index int, enabled bool) error {
	if err := checkIndex("input", index, iostate.DigitalInputs); err != nil {
		return err
	}
	return b.device.SetPullUp(uint8(index), enabled)
}

func (b *MCP23017) ReadADC(int) (uint16, error) {
	return 0, iostate.ErrNotWired
}

func (b *MCP23017) PulseCount(int) (uint64, error) {
	return 0, iostate.ErrNotWired
}

func (b *MCP23017) SetIndicator(bool) error {
	return iostate.ErrNotWired
}

func (b *MCP23017) Close() error {
	for i := 0; i < iostate.DigitalOutputs; i++ {
		b.device.DigitalWrite(uint8(mcpOutputBase+i), mcp23017.PinLevel(false))
	}
	return b.device.Close()
}
