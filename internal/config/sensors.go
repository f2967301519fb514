// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SensorConfig describes one entry of the sensor table. Which of the
// protocol fields apply depends on Type.
type SensorConfig struct {
	Name     string        `mapstructure:"name" yaml:"name"`
	Type     string        `mapstructure:"type" yaml:"type"` // analog, i2c, spi, uart, onewire, pulse, ezo
	Enabled  *bool         `mapstructure:"enabled" yaml:"enabled,omitempty"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval,omitempty"`
	// ModbusRegister maps the calibrated value to an input register (3-18).
	ModbusRegister int `mapstructure:"modbus_register" yaml:"modbus_register,omitempty"`

	Channel  int    `mapstructure:"channel" yaml:"channel,omitempty"`     // analog
	Bus      string `mapstructure:"bus" yaml:"bus,omitempty"`             // i2c, ezo
	Address  int    `mapstructure:"address" yaml:"address,omitempty"`     // i2c, ezo
	Register *int   `mapstructure:"register" yaml:"register,omitempty"`   // i2c; unset, -1 or 255 reads directly
	Port     string `mapstructure:"port" yaml:"port,omitempty"`           // spi, uart
	SpeedHz  int64  `mapstructure:"speed_hz" yaml:"speed_hz,omitempty"`   // spi
	BaudRate int    `mapstructure:"baud_rate" yaml:"baud_rate,omitempty"` // uart
	Request  string `mapstructure:"request" yaml:"request,omitempty"`     // uart
	Command  string `mapstructure:"command" yaml:"command,omitempty"`     // ezo
	DeviceID string `mapstructure:"device_id" yaml:"device_id,omitempty"` // onewire
	Pin      int    `mapstructure:"pin" yaml:"pin,omitempty"`             // pulse

	DataOffset int    `mapstructure:"data_offset" yaml:"data_offset,omitempty"`
	DataLength int    `mapstructure:"data_length" yaml:"data_length,omitempty"`
	DataFormat string `mapstructure:"data_format" yaml:"data_format,omitempty"`

	Calibration CalibrationConfig `mapstructure:"calibration" yaml:"calibration"`
}

type CalibrationConfig struct {
	Method     string  `mapstructure:"method" yaml:"method"` // linear, polynomial, expression
	Offset     float64 `mapstructure:"offset" yaml:"offset,omitempty"`
	Scale      float64 `mapstructure:"scale" yaml:"scale,omitempty"`
	Expression string  `mapstructure:"expression" yaml:"expression,omitempty"`
}

// IsEnabled reports whether the sensor is scheduled. Sensors are enabled
// unless configured otherwise.
func (s *SensorConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type sensorFile struct {
	Sensors []SensorConfig `yaml:"sensors"`
}

// LoadSensorFile reads a sensor table. Unknown keys are rejected.
func LoadSensorFile(path string) ([]SensorConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sensor file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var f sensorFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse sensor file %s: %w", path, err)
	}
	return f.Sensors, nil
}

// SensorStore writes the sensor table back to its file.
type SensorStore struct {
	Path string

	loaded []SensorConfig
}

// NewSensorStore returns a store for path holding the table loaded from it.
func NewSensorStore(path string, loaded []SensorConfig) *SensorStore {
	return &SensorStore{Path: path, loaded: loaded}
}

// SaveSensors replaces the file with sensors. The file is written next to
// the old one and renamed over it.
func (s *SensorStore) SaveSensors(sensors []SensorConfig) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(sensorFile{Sensors: sensors}); err != nil {
		return fmt.Errorf("failed to encode sensors: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode sensors: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".sensors-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to save sensors: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save sensors: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save sensors: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save sensors: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("failed to save sensors: %w", err)
	}
	slog.Info("Saved sensor table", "path", s.Path, "sensors", len(sensors))
	return nil
}
