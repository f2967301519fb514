// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrAddressOutOfRange = errors.New("address range out of bounds")
	ErrInvalidValue      = errors.New("invalid value")
)

// Layout sizes the tables of a DataModel. Addresses are 0-based.
type Layout struct {
	Coils          int
	DiscreteInputs int
	InputRegisters int
	// ReservedCoils are holes in the coil table. Requests touching them
	// fail with ErrAddressOutOfRange.
	ReservedCoils []Range
}

// Range is the half-open address range [Start, End).
type Range struct {
	Start, End int
}

func (r Range) overlaps(start, end int) bool {
	return start < r.End && r.Start < end
}

// DataModel is the register image one connected master reads and writes.
// It is owned by the control loop and is not safe for concurrent use.
type DataModel struct {
	// 0x Coils (Read/Write). Stored as 1 (ON) or 0 (OFF).
	Coils []byte
	// 1x Discrete Inputs (Read Only). Stored as 1 (ON) or 0 (OFF).
	DiscreteInputs []byte
	// 3x Input Registers (Read Only).
	InputRegisters []uint16

	// written marks coils set by a master since the last TakeWrittenCoil
	// or ClearWritten, whatever value was written.
	written  []bool
	reserved []Range
}

// NewDataModel creates a new model initialized to zero.
func NewDataModel(layout Layout) *DataModel {
	return &DataModel{
		Coils:          make([]byte, layout.Coils),
		DiscreteInputs: make([]byte, layout.DiscreteInputs),
		InputRegisters: make([]uint16, layout.InputRegisters),
		written:        make([]bool, layout.Coils),
		reserved:       layout.ReservedCoils,
	}
}

// Reset zeroes every table.
func (m *DataModel) Reset() {
	clear(m.Coils)
	clear(m.DiscreteInputs)
	clear(m.InputRegisters)
	clear(m.written)
}

// Coil returns the state of a single coil.
func (m *DataModel) Coil(address int) (bool, error) {
	if address < 0 || address >= len(m.Coils) {
		return false, fmt.Errorf("coil %d: %w", address, ErrAddressOutOfRange)
	}
	return m.Coils[address] != 0, nil
}

// TakeWrittenCoil reports the coil value and whether a master wrote the coil
// since the previous call. The write mark is cleared.
func (m *DataModel) TakeWrittenCoil(address int) (on, written bool) {
	if address < 0 || address >= len(m.Coils) {
		return false, false
	}
	written = m.written[address]
	m.written[address] = false
	return m.Coils[address] != 0, written
}

// ClearWritten drops every pending write mark.
func (m *DataModel) ClearWritten() {
	clear(m.written)
}

// SetCoil stores a coil value on behalf of the server side. It does not
// count as a master write.
func (m *DataModel) SetCoil(address int, on bool) error {
	if address < 0 || address >= len(m.Coils) {
		return fmt.Errorf("coil %d: %w", address, ErrAddressOutOfRange)
	}
	m.Coils[address] = boolByte(on)
	return nil
}

func (m *DataModel) SetDiscreteInput(address int, on bool) error {
	if address < 0 || address >= len(m.DiscreteInputs) {
		return fmt.Errorf("discrete input %d: %w", address, ErrAddressOutOfRange)
	}
	m.DiscreteInputs[address] = boolByte(on)
	return nil
}

func (m *DataModel) SetInputRegister(address int, value uint16) error {
	if address < 0 || address >= len(m.InputRegisters) {
		return fmt.Errorf("input register %d: %w", address, ErrAddressOutOfRange)
	}
	m.InputRegisters[address] = value
	return nil
}

// ReadCoils reads a range of coils and returns them as packed bytes (Modbus format).
func (m *DataModel) ReadCoils(address, quantity uint16) ([]byte, error) {
	if err := m.validateCoils(address, quantity); err != nil {
		return nil, err
	}
	return packBits(m.Coils[address : int(address)+int(quantity)]), nil
}

// WriteSingleCoil writes a single coil. value must be 0xFF00 (ON) or 0x0000 (OFF).
func (m *DataModel) WriteSingleCoil(address uint16, value uint16) error {
	if err := m.validateCoils(address, 1); err != nil {
		return err
	}

	switch value {
	case 0xFF00:
		m.Coils[address] = 1
	case 0x0000:
		m.Coils[address] = 0
	default:
		return fmt.Errorf("coil value 0x%04X: %w", value, ErrInvalidValue)
	}
	m.written[address] = true
	return nil
}

// WriteMultipleCoils writes a range of coils from packed bytes.
func (m *DataModel) WriteMultipleCoils(address, quantity uint16, data []byte) error {
	if err := m.validateCoils(address, quantity); err != nil {
		return err
	}

	expectedBytes := (int(quantity) + 7) / 8
	if len(data) < expectedBytes {
		return fmt.Errorf("insufficient data length: %w", ErrInvalidValue)
	}

	for i := 0; i < int(quantity); i++ {
		byteIdx := i / 8
		bitIdx := uint(i % 8)
		m.Coils[int(address)+i] = (data[byteIdx] >> bitIdx) & 1
		m.written[int(address)+i] = true
	}
	return nil
}

// ReadDiscreteInputs reads a range of discrete inputs and returns them as packed bytes.
func (m *DataModel) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	if err := validateRange(address, quantity, len(m.DiscreteInputs)); err != nil {
		return nil, err
	}
	return packBits(m.DiscreteInputs[address : int(address)+int(quantity)]), nil
}

// ReadInputRegisters reads a range of input registers and returns them as BigEndian bytes.
func (m *DataModel) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	if err := validateRange(address, quantity, len(m.InputRegisters)); err != nil {
		return nil, err
	}

	result := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:], m.InputRegisters[int(address)+i])
	}
	return result, nil
}

func packBits(bits []byte) []byte {
	result := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b != 0 {
			result[i/8] |= 1 << uint(i%8)
		}
	}
	return result
}

func (m *DataModel) validateCoils(address, quantity uint16) error {
	if err := validateRange(address, quantity, len(m.Coils)); err != nil {
		return err
	}
	end := int(address) + int(quantity)
	for _, r := range m.reserved {
		if r.overlaps(int(address), end) {
			return fmt.Errorf("range %d+%d touches reserved coils %d-%d: %w", address, quantity, r.Start, r.End-1, ErrAddressOutOfRange)
		}
	}
	return nil
}

func validateRange(address, quantity uint16, size int) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0: %w", ErrInvalidValue)
	}
	if int(address)+int(quantity) > size {
		return fmt.Errorf("range %d+%d exceeds %d: %w", address, quantity, size, ErrAddressOutOfRange)
	}
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
