// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package localslave

import (
	"encoding/binary"
	"errors"

	"github.com/ffutop/modbus-iomodule/internal/local-slave/model"
	"github.com/ffutop/modbus-iomodule/modbus"
)

// LocalSlave implements the Modbus protocol logic on top of a DataModel.
// Only the tables the I/O module exposes are served; holding register
// functions answer with an illegal function exception.
type LocalSlave struct {
	model *model.DataModel
}

// NewLocalSlave creates a new LocalSlave.
func NewLocalSlave(m *model.DataModel) *LocalSlave {
	return &LocalSlave{model: m}
}

// Model returns the register image served by s.
func (s *LocalSlave) Model() *model.DataModel {
	return s.model
}

// Process executes the Modbus Function Code against the memory model.
func (s *LocalSlave) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return s.handleReadBits(req, s.model.ReadCoils)
	case modbus.FuncCodeReadDiscreteInputs:
		return s.handleReadBits(req, s.model.ReadDiscreteInputs)
	case modbus.FuncCodeReadInputRegisters:
		return s.handleReadInputRegisters(req)
	case modbus.FuncCodeWriteSingleCoil:
		return s.handleWriteSingleCoil(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return s.handleWriteMultipleCoils(req)
	default:
		return req.Exception(modbus.ExceptionCodeIllegalFunction)
	}
}

func (s *LocalSlave) handleReadBits(req modbus.ProtocolDataUnit, read func(address, quantity uint16) ([]byte, error)) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return req.Exception(modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > 2000 {
		return req.Exception(modbus.ExceptionCodeIllegalDataValue)
	}

	data, err := read(address, quantity)
	if err != nil {
		return req.Exception(exceptionCode(err))
	}

	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func (s *LocalSlave) handleReadInputRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return req.Exception(modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > 125 {
		return req.Exception(modbus.ExceptionCodeIllegalDataValue)
	}

	data, err := s.model.ReadInputRegisters(address, quantity)
	if err != nil {
		return req.Exception(exceptionCode(err))
	}

	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func (s *LocalSlave) handleWriteSingleCoil(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return req.Exception(modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if err := s.model.WriteSingleCoil(address, value); err != nil {
		return req.Exception(exceptionCode(err))
	}

	return req // Echo request
}

func (s *LocalSlave) handleWriteMultipleCoils(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return req.Exception(modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > 1968 {
		return req.Exception(modbus.ExceptionCodeIllegalDataValue)
	}

	if len(req.Data)-5 != int(byteCount) || int(byteCount) != (int(quantity)+7)/8 {
		return req.Exception(modbus.ExceptionCodeIllegalDataValue)
	}

	if err := s.model.WriteMultipleCoils(address, quantity, req.Data[5:]); err != nil {
		return req.Exception(exceptionCode(err))
	}

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func exceptionCode(err error) byte {
	if errors.Is(err, model.ErrAddressOutOfRange) {
		return modbus.ExceptionCodeIllegalDataAddress
	}
	return modbus.ExceptionCodeIllegalDataValue
}
