// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/ffutop/modbus-iomodule/internal/calibration"
	"github.com/ffutop/modbus-iomodule/internal/sensor"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleConfig = `
log:
  level: debug
loop:
  interval: 20ms
modbus:
  address: "127.0.0.1:1502"
  framing: RTU-over-TCP
  max_clients: 2
  unit_ids: "1,255"
io:
  inputs:
    - {pullup: true, latch: true}
    - {invert: true}
  outputs:
    - {initial: true}
persistence:
  type: file
  path: /var/lib/iomodule/state.bin
sensors:
  - name: temp
    type: onewire
    device_id: 28-000005e2fdc3
    modbus_register: 3
  - name: ph
    type: ezo
    bus: "1"
    address: 0x63
    calibration:
      method: polynomial
      expression: "x*1.02 - 0.1"
`

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", sampleConfig)

	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Loop.Interval != 20*time.Millisecond || cfg.Loop.ReadTimeout != 200*time.Millisecond {
		t.Errorf("loop = %+v", cfg.Loop)
	}
	if cfg.Modbus.Framing != "rtu-over-tcp" || cfg.Modbus.MaxClients != 2 || cfg.Modbus.WriteTimeout != time.Second {
		t.Errorf("modbus = %+v", cfg.Modbus)
	}
	if cfg.Board.Type != "sim" || cfg.Board.IndicatorPin != -1 {
		t.Errorf("board = %+v", cfg.Board)
	}

	model := cfg.IO.ModelConfig()
	if !model.Inputs[0].Pullup || !model.Inputs[0].Latch || !model.Inputs[1].Invert || !model.Outputs[0].Initial {
		t.Errorf("model config = %+v", model)
	}
	if model.VRefMillivolts != 3300 || model.Resolution != 12 {
		t.Errorf("analog defaults = %d mV / %d bit", model.VRefMillivolts, model.Resolution)
	}

	if len(cfg.Sensors) != 2 {
		t.Fatalf("got %d sensors", len(cfg.Sensors))
	}
	if cfg.Sensors[0].Calibration.Scale != 1 {
		t.Errorf("default linear scale = %v, want 1", cfg.Sensors[0].Calibration.Scale)
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", sampleConfig)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	if err := fs.Parse([]string{"--modbus.address", "127.0.0.1:2502", "-v", "warn"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path, fs)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Modbus.Address != "127.0.0.1:2502" || cfg.Log.Level != "warn" {
		t.Errorf("flags not applied: address=%s level=%s", cfg.Modbus.Address, cfg.Log.Level)
	}
	if cfg.Modbus.MaxClients != 2 {
		t.Errorf("unset flag overrode the file: max_clients=%d", cfg.Modbus.MaxClients)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Loop:        LoopConfig{Interval: 10 * time.Millisecond, ReadTimeout: time.Second},
			Modbus:      ModbusConfig{Address: ":502", Framing: "tcp", MaxClients: 4},
			Persistence: PersistenceConfig{Type: "memory"},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero interval", func(c *Config) { c.Loop.Interval = 0 }, false},
		{"framing", func(c *Config) { c.Modbus.Framing = "ascii" }, false},
		{"no clients", func(c *Config) { c.Modbus.MaxClients = 0 }, false},
		{"unit ids", func(c *Config) { c.Modbus.UnitIDs = "1-300" }, false},
		{"file without path", func(c *Config) { c.Persistence.Type = "file" }, false},
		{"sql", func(c *Config) { c.Persistence.Type = "sql" }, false},
		{"board", func(c *Config) { c.Board.Type = "arduino" }, false},
		{"too many inputs", func(c *Config) { c.IO.Inputs = make([]InputConfig, 9) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v does not wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestParseUnitIDs(t *testing.T) {
	tests := []struct {
		input string
		want  []byte
		ok    bool
	}{
		{"1", []byte{1}, true},
		{"1, 255", []byte{1, 255}, true},
		{"5-7,9", []byte{5, 6, 7, 9}, true},
		{"", nil, true},
		{"7-5", nil, false},
		{"256", nil, false},
		{"a", nil, false},
		{"1-2-3", nil, false},
	}
	for _, tt := range tests {
		got, err := ParseUnitIDs(tt.input)
		if (err == nil) != tt.ok {
			t.Errorf("ParseUnitIDs(%q) error = %v", tt.input, err)
			continue
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseUnitIDs(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSensorConfig_Record(t *testing.T) {
	reg := 0xFF
	tests := []struct {
		name string
		in   SensorConfig
		want sensor.Params
	}{
		{"analog", SensorConfig{Type: "analog", Channel: 2}, sensor.AnalogParams{Channel: 2}},
		{"i2c direct", SensorConfig{Type: "i2c", Address: 0x40, Register: &reg, DataLength: 2},
			sensor.I2CParams{Address: 0x40, Register: sensor.DirectRead, Payload: sensor.Payload{Length: 2}}},
		{"spi", SensorConfig{Type: "spi", Port: "0", DataLength: 4, DataFormat: "float32"},
			sensor.SPIParams{Port: "0", Payload: sensor.Payload{Length: 4, Format: sensor.FormatFloat32}}},
		{"uart", SensorConfig{Type: "uart", Port: "/dev/ttyS0", BaudRate: 9600}, sensor.UARTParams{Port: "/dev/ttyS0", BaudRate: 9600}},
		{"pulse", SensorConfig{Type: "pulse", Pin: 17}, sensor.PulseCounterParams{Pin: 17}},
		{"ezo", SensorConfig{Type: "ezo", Bus: "1", Address: 0x63}, sensor.AsyncProbeParams{Bus: "1", Address: 0x63}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Calibration.Scale = 1
			r, err := tt.in.Record()
			if err != nil {
				t.Fatalf("Record failed: %v", err)
			}
			if !reflect.DeepEqual(r.Params, tt.want) {
				t.Errorf("params = %#v, want %#v", r.Params, tt.want)
			}
			if !r.Enabled {
				t.Error("sensor disabled by default")
			}
		})
	}

	bad := SensorConfig{Type: "analog", Calibration: CalibrationConfig{Method: "expression", Expression: "sqrt("}}
	if _, err := bad.Record(); !errors.Is(err, calibration.ErrInvalidCalibration) {
		t.Errorf("expected ErrInvalidCalibration, got %v", err)
	}
	unknown := SensorConfig{Type: "can"}
	if _, err := unknown.Record(); !errors.Is(err, sensor.ErrUnsupportedProtocol) {
		t.Errorf("expected ErrUnsupportedProtocol, got %v", err)
	}
}

func TestSensorFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sensors.yaml", `
sensors:
  - name: flow
    type: pulse
    pin: 17
    interval: 5s
  - name: broken
    type: can
  - name: level
    type: i2c
    address: 0x48
    register: 0
    data_format: int16_be
    modbus_register: 4
`)
	sensors, err := LoadSensorFile(path)
	if err != nil {
		t.Fatalf("LoadSensorFile failed: %v", err)
	}
	for i := range sensors {
		fixupSensor(&sensors[i])
	}
	records, errs := Records(sensors)
	if len(records) != 3 || len(errs) != 1 {
		t.Fatalf("got %d records and %d errors", len(records), len(errs))
	}
	if records[0].SampleInterval != 5*time.Second {
		t.Errorf("interval = %v", records[0].SampleInterval)
	}

	records[2].Calibration = calibration.Calibration{Method: calibration.Linear, Scale: 0.1, Offset: -2}
	store := NewSensorStore(path, sensors)
	if err := store.SaveRecords(records); err != nil {
		t.Fatalf("SaveRecords failed: %v", err)
	}

	saved, err := LoadSensorFile(path)
	if err != nil {
		t.Fatalf("reloading saved file failed: %v", err)
	}
	if saved[1].Type != "can" {
		t.Errorf("unparsed entry not preserved: %+v", saved[1])
	}
	r, err := saved[2].Record()
	if err != nil {
		t.Fatalf("saved entry invalid: %v", err)
	}
	if r.Calibration != records[2].Calibration || !reflect.DeepEqual(r.Params, records[2].Params) || r.Register != 4 {
		t.Errorf("saved record = %+v, want %+v", r, records[2])
	}
}

func TestLoadSensorFile_UnknownField(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sensors.yaml", "sensors:\n  - name: a\n    type: analog\n    chanel: 1\n")
	if _, err := LoadSensorFile(path); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}
