// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-iomodule/internal/calibration"
	"github.com/ffutop/modbus-iomodule/internal/iostate"
	"github.com/ffutop/modbus-iomodule/internal/sensor"
)

// directReadRegister is the register value that selects a direct I2C read
// in sensor files.
const directReadRegister = 0xFF

// ModelConfig returns the I/O model configuration. Channels not listed keep
// their zero configuration.
func (c *IOConfig) ModelConfig() iostate.Config {
	cfg := iostate.Config{
		VRefMillivolts: c.VRefMillivolts,
		Resolution:     c.Resolution,
	}
	for i, in := range c.Inputs {
		if i >= iostate.DigitalInputs {
			break
		}
		cfg.Inputs[i] = iostate.InputConfig{Pullup: in.Pullup, Invert: in.Invert, Latch: in.Latch}
	}
	for i, out := range c.Outputs {
		if i >= iostate.DigitalOutputs {
			break
		}
		cfg.Outputs[i] = iostate.OutputConfig{Invert: out.Invert, Initial: out.Initial}
	}
	return cfg
}

func fixupSensor(s *SensorConfig) {
	if s.Calibration.Method == "" || s.Calibration.Method == "linear" {
		if s.Calibration.Scale == 0 {
			if s.Calibration.Method != "" {
				slog.Warn("Linear calibration without scale, using 1", "sensor", s.Name)
			}
			s.Calibration.Scale = 1
		}
	}
	if (s.Type == "i2c" || s.Type == "spi") && s.DataLength == 0 {
		s.DataLength = 2
	}
}

// Calibration converts the configured calibration.
func (c *CalibrationConfig) Calibration() (calibration.Calibration, error) {
	method, err := calibration.ParseMethod(c.Method)
	if err != nil {
		return calibration.Calibration{}, err
	}
	cal := calibration.Calibration{
		Method: method,
		Offset: c.Offset,
		Scale:  c.Scale,
		Expr:   c.Expression,
	}
	if err := calibration.Validate(cal); err != nil {
		return calibration.Calibration{}, err
	}
	return cal, nil
}

// Record converts s to a sensor table record.
func (s *SensorConfig) Record() (sensor.Record, error) {
	kind, err := sensor.ParseKind(s.Type)
	if err != nil {
		return sensor.Record{}, err
	}
	params, err := s.params(kind)
	if err != nil {
		return sensor.Record{}, err
	}
	cal, err := s.Calibration.Calibration()
	if err != nil {
		return sensor.Record{}, err
	}
	return sensor.Record{
		Name:           s.Name,
		Enabled:        s.IsEnabled(),
		Params:         params,
		Calibration:    cal,
		SampleInterval: s.Interval,
		Register:       s.ModbusRegister,
	}, nil
}

func (s *SensorConfig) payload() (sensor.Payload, error) {
	format, err := sensor.ParseFormat(s.DataFormat)
	if err != nil {
		return sensor.Payload{}, err
	}
	return sensor.Payload{Offset: s.DataOffset, Length: s.DataLength, Format: format}, nil
}

func (s *SensorConfig) params(kind sensor.Kind) (sensor.Params, error) {
	switch kind {
	case sensor.Analog:
		return sensor.AnalogParams{Channel: s.Channel}, nil
	case sensor.I2C:
		payload, err := s.payload()
		if err != nil {
			return nil, err
		}
		register := sensor.DirectRead
		if s.Register != nil && *s.Register != directReadRegister {
			register = *s.Register
		}
		return sensor.I2CParams{Bus: s.Bus, Address: uint16(s.Address), Register: register, Payload: payload}, nil
	case sensor.SPI:
		payload, err := s.payload()
		if err != nil {
			return nil, err
		}
		return sensor.SPIParams{Port: s.Port, SpeedHz: s.SpeedHz, Payload: payload}, nil
	case sensor.UART:
		return sensor.UARTParams{Port: s.Port, BaudRate: s.BaudRate, Request: s.Request}, nil
	case sensor.OneWire:
		return sensor.OneWireParams{DeviceID: s.DeviceID}, nil
	case sensor.PulseCounter:
		return sensor.PulseCounterParams{Pin: s.Pin}, nil
	case sensor.AsyncProbe:
		return sensor.AsyncProbeParams{Bus: s.Bus, Address: uint16(s.Address), Command: s.Command}, nil
	default:
		return nil, fmt.Errorf("%w: %v", sensor.ErrUnsupportedProtocol, kind)
	}
}

// Records converts the sensor table. A sensor that cannot be converted is
// kept as a disabled record without parameters so table indexes stay
// stable, and reported in the returned errors.
func Records(sensors []SensorConfig) ([]sensor.Record, []error) {
	records := make([]sensor.Record, 0, len(sensors))
	var errs []error
	for i := range sensors {
		r, err := sensors[i].Record()
		if err != nil {
			errs = append(errs, fmt.Errorf("sensor %d (%s): %w", i, sensors[i].Name, err))
			r = sensor.Record{Name: sensors[i].Name}
		}
		records = append(records, r)
	}
	return records, errs
}

// FromRecord converts a record back to its configuration form.
func FromRecord(r sensor.Record) SensorConfig {
	enabled := r.Enabled
	s := SensorConfig{
		Name:           r.Name,
		Type:           r.Kind().String(),
		Enabled:        &enabled,
		Interval:       r.SampleInterval,
		ModbusRegister: r.Register,
		Calibration: CalibrationConfig{
			Method:     r.Calibration.Method.String(),
			Offset:     r.Calibration.Offset,
			Scale:      r.Calibration.Scale,
			Expression: r.Calibration.Expr,
		},
	}
	switch p := r.Params.(type) {
	case sensor.AnalogParams:
		s.Channel = p.Channel
	case sensor.I2CParams:
		s.Bus = p.Bus
		s.Address = int(p.Address)
		register := p.Register
		if register == sensor.DirectRead {
			register = directReadRegister
		}
		s.Register = &register
		s.setPayload(p.Payload)
	case sensor.SPIParams:
		s.Port = p.Port
		s.SpeedHz = p.SpeedHz
		s.setPayload(p.Payload)
	case sensor.UARTParams:
		s.Port = p.Port
		s.BaudRate = p.BaudRate
		s.Request = p.Request
	case sensor.OneWireParams:
		s.DeviceID = p.DeviceID
	case sensor.PulseCounterParams:
		s.Pin = p.Pin
	case sensor.AsyncProbeParams:
		s.Bus = p.Bus
		s.Address = int(p.Address)
		s.Command = p.Command
	}
	return s
}

func (s *SensorConfig) setPayload(p sensor.Payload) {
	s.DataOffset = p.Offset
	s.DataLength = p.Length
	s.DataFormat = p.Format.String()
}

// SaveRecords converts records and writes them to the store. Records
// without parameters keep the entry they were loaded from.
func (s *SensorStore) SaveRecords(records []sensor.Record) error {
	sensors := make([]SensorConfig, len(records))
	for i, r := range records {
		if r.Params == nil && i < len(s.loaded) {
			sensors[i] = s.loaded[i]
			continue
		}
		sensors[i] = FromRecord(r)
	}
	if err := s.SaveSensors(sensors); err != nil {
		return err
	}
	s.loaded = sensors
	return nil
}
