// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"
	"io"

	"github.com/ffutop/modbus-iomodule/modbus"
)

// ErrUnsupportedFunction is returned when a request header cannot be sized.
// The stream position is lost after it, so callers drop the connection.
var ErrUnsupportedFunction = errors.New("modbus: unsupported function code")

// CalculateRequestLength returns the expected total length of the Request RTU ADU based on the header.
func CalculateRequestLength(funcCode byte, header []byte) (int, error) {
	switch funcCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		// Fixed 8 bytes: [SlaveID, Func, Addr(2), Val(2), CRC(2)]
		return 8, nil
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		// Req: [SlaveID, Func, Addr(2), Quant(2), ByteCount(1), Data(N), CRC(2)]
		if len(header) < HeaderSize {
			return 0, fmt.Errorf("need %d bytes to determine length for 0x%02X, got %d", HeaderSize, funcCode, len(header))
		}
		byteCount := int(header[6])
		return HeaderSize + byteCount + 2, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", ErrUnsupportedFunction, funcCode)
	}
}

// ReadRequest reads exactly one request ADU from r into buf and returns the
// filled prefix. buf must hold at least MaxSize bytes. The CRC is not checked.
func ReadRequest(r io.Reader, buf []byte) ([]byte, error) {
	if len(buf) < MaxSize {
		return nil, fmt.Errorf("modbus: buffer of %d bytes is smaller than %d", len(buf), MaxSize)
	}
	// A short single-register request is 8 bytes, so the 7-byte header
	// never reads past the end of a frame.
	if _, err := io.ReadFull(r, buf[:HeaderSize]); err != nil {
		return nil, err
	}
	expected, err := CalculateRequestLength(buf[1], buf[:HeaderSize])
	if err != nil {
		return nil, err
	}
	if expected > MaxSize {
		return nil, fmt.Errorf("modbus: request length %d exceeds %d", expected, MaxSize)
	}
	if _, err := io.ReadFull(r, buf[HeaderSize:expected]); err != nil {
		return nil, err
	}
	return buf[:expected], nil
}
