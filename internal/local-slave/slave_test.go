// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package localslave

import (
	"bytes"
	"testing"

	"github.com/ffutop/modbus-iomodule/internal/local-slave/model"
	"github.com/ffutop/modbus-iomodule/modbus"
)

func TestLocalSlave_Process(t *testing.T) {
	m := model.NewDataModel(model.Layout{Coils: 108, DiscreteInputs: 8, InputRegisters: 19})
	m.SetDiscreteInput(0, true)
	m.SetDiscreteInput(7, true)
	m.SetInputRegister(1, 1650)
	s := NewLocalSlave(m)

	tests := []struct {
		name string
		req  modbus.ProtocolDataUnit
		want modbus.ProtocolDataUnit
	}{
		{
			"ReadDiscreteInputs",
			modbus.ProtocolDataUnit{FunctionCode: 0x02, Data: []byte{0x00, 0x00, 0x00, 0x08}},
			modbus.ProtocolDataUnit{FunctionCode: 0x02, Data: []byte{0x01, 0x81}},
		},
		{
			"ReadInputRegisters",
			modbus.ProtocolDataUnit{FunctionCode: 0x04, Data: []byte{0x00, 0x01, 0x00, 0x01}},
			modbus.ProtocolDataUnit{FunctionCode: 0x04, Data: []byte{0x02, 0x06, 0x72}},
		},
		{
			"WriteSingleCoil",
			modbus.ProtocolDataUnit{FunctionCode: 0x05, Data: []byte{0x00, 0x64, 0xFF, 0x00}},
			modbus.ProtocolDataUnit{FunctionCode: 0x05, Data: []byte{0x00, 0x64, 0xFF, 0x00}},
		},
		{
			"WriteSingleCoil_BadValue",
			modbus.ProtocolDataUnit{FunctionCode: 0x05, Data: []byte{0x00, 0x01, 0x12, 0x34}},
			modbus.ProtocolDataUnit{FunctionCode: 0x85, Data: []byte{0x03}},
		},
		{
			"WriteMultipleCoils",
			modbus.ProtocolDataUnit{FunctionCode: 0x0F, Data: []byte{0x00, 0x00, 0x00, 0x08, 0x01, 0x05}},
			modbus.ProtocolDataUnit{FunctionCode: 0x0F, Data: []byte{0x00, 0x00, 0x00, 0x08}},
		},
		{
			"WriteMultipleCoils_ByteCountMismatch",
			modbus.ProtocolDataUnit{FunctionCode: 0x0F, Data: []byte{0x00, 0x00, 0x00, 0x08, 0x02, 0x05, 0x00}},
			modbus.ProtocolDataUnit{FunctionCode: 0x8F, Data: []byte{0x03}},
		},
		{
			"ReadCoils_OutOfRange",
			modbus.ProtocolDataUnit{FunctionCode: 0x01, Data: []byte{0x00, 0x6A, 0x00, 0x04}},
			modbus.ProtocolDataUnit{FunctionCode: 0x81, Data: []byte{0x02}},
		},
		{
			"ReadHoldingRegisters_Unsupported",
			modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x01}},
			modbus.ProtocolDataUnit{FunctionCode: 0x83, Data: []byte{0x01}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Process(tt.req)
			if got.FunctionCode != tt.want.FunctionCode || !bytes.Equal(got.Data, tt.want.Data) {
				t.Errorf("Process() = %v, want %v", got, tt.want)
			}
		})
	}

	if on, _ := m.Coil(100); !on {
		t.Error("coil 100 should be set by WriteSingleCoil")
	}
	got, _ := m.ReadCoils(0, 8)
	if got[0] != 0x05 {
		t.Errorf("coils 0-7 = %08b, want 00000101", got[0])
	}
}
