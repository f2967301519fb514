// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Loop        LoopConfig        `mapstructure:"loop"`
	Modbus      ModbusConfig      `mapstructure:"modbus"`
	Board       BoardConfig       `mapstructure:"board"`
	IO          IOConfig          `mapstructure:"io"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Buses       BusConfig         `mapstructure:"buses"`

	// SensorsFile, if set, holds the sensor table instead of Sensors and
	// receives calibration changes made at runtime.
	SensorsFile string         `mapstructure:"sensors_file"`
	Sensors     []SensorConfig `mapstructure:"sensors"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// LoopConfig defines the control loop timing
type LoopConfig struct {
	Interval    time.Duration `mapstructure:"interval"`     // Period of one control cycle
	ReadTimeout time.Duration `mapstructure:"read_timeout"` // Bound of one sensor read
}

// ModbusConfig defines the listening endpoint
type ModbusConfig struct {
	Address      string        `mapstructure:"address"`       // e.g. "0.0.0.0:502"
	Framing      string        `mapstructure:"framing"`       // "tcp", "rtu-over-tcp"
	MaxClients   int           `mapstructure:"max_clients"`   // Simultaneous clients
	UnitIDs      string        `mapstructure:"unit_ids"`      // Accepted unit ids: "1", "1,255", "1-10"; empty accepts all
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // Bound of one response write
}

// BoardConfig selects the hardware behind the I/O channels
type BoardConfig struct {
	Type         string    `mapstructure:"type"`          // "sim", "rpio", "mcp23017"
	InputPins    []int     `mapstructure:"input_pins"`    // BCM pins of DI 0-7 (rpio)
	OutputPins   []int     `mapstructure:"output_pins"`   // BCM pins of DO 0-7 (rpio)
	IndicatorPin int       `mapstructure:"indicator_pin"` // Client connected indicator, -1 for none (rpio)
	ADC          ADCConfig `mapstructure:"adc"`
	MCP          MCPConfig `mapstructure:"mcp"`
}

// ADCConfig defines the MCP3208 converter on SPI0 (rpio)
type ADCConfig struct {
	Enabled    bool  `mapstructure:"enabled"`
	ChipSelect int   `mapstructure:"chip_select"`
	SpeedHz    int   `mapstructure:"speed_hz"`
	Channels   []int `mapstructure:"channels"` // Converter channel of AI 0-2
}

// MCPConfig addresses the MCP23017 expander
type MCPConfig struct {
	Bus     int `mapstructure:"bus"`
	Address int `mapstructure:"address"` // 0-7, added to 0x20
}

// IOConfig defines the behaviour of the I/O channels
type IOConfig struct {
	Inputs         []InputConfig  `mapstructure:"inputs"`
	Outputs        []OutputConfig `mapstructure:"outputs"`
	VRefMillivolts uint32         `mapstructure:"vref_mv"`
	Resolution     uint           `mapstructure:"resolution"` // ADC bits
}

type InputConfig struct {
	Pullup bool `mapstructure:"pullup"`
	Invert bool `mapstructure:"invert"`
	Latch  bool `mapstructure:"latch"`
}

type OutputConfig struct {
	Invert  bool `mapstructure:"invert"`
	Initial bool `mapstructure:"initial"` // Logical state at power up
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// BusConfig defines sensor bus locations
type BusConfig struct {
	OneWirePath string `mapstructure:"onewire_path"` // sysfs w1 devices directory
}

// Flags registers the command line overrides of the configuration on fs.
func Flags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.StringP("modbus.address", "A", "", "Modbus listen address.")
	fs.String("modbus.framing", "", "Modbus framing (tcp, rtu-over-tcp).")
	fs.IntP("modbus.max_clients", "C", 0, "Maximum number of simultaneous clients.")
	fs.String("board.type", "", "Board type (sim, rpio, mcp23017).")
	fs.StringP("log.level", "v", "", "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log.file", "L", "", "Log file name ('-' for logging to STDOUT only).")
}

// LoadConfig loads configuration from file, environment and fs. A missing
// configuration file is only an error when one was named explicitly.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/iomodule/")
		v.AddConfigPath("$HOME/.iomodule")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("IOMODULE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		// Only flags given on the command line override the file.
		var bindErr error
		fs.Visit(func(f *pflag.Flag) {
			if f.Name != "config" {
				bindErr = errors.Join(bindErr, v.BindPFlag(f.Name, f))
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind pflags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Warn("No config file found, using defaults")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.SensorsFile != "" {
		sensors, err := LoadSensorFile(config.SensorsFile)
		if err != nil {
			return nil, err
		}
		config.Sensors = sensors
	}

	fixup(&config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("loop.interval", 10*time.Millisecond)
	v.SetDefault("loop.read_timeout", 200*time.Millisecond)
	v.SetDefault("modbus.address", "0.0.0.0:502")
	v.SetDefault("modbus.framing", "tcp")
	v.SetDefault("modbus.max_clients", 4)
	v.SetDefault("modbus.write_timeout", time.Second)
	v.SetDefault("board.type", "sim")
	v.SetDefault("board.indicator_pin", -1)
	v.SetDefault("board.adc.speed_hz", 1000000)
	v.SetDefault("board.adc.channels", []int{0, 1, 2})
	v.SetDefault("board.mcp.bus", 1)
	v.SetDefault("io.vref_mv", 3300)
	v.SetDefault("io.resolution", 12)
	v.SetDefault("persistence.type", "memory")
	v.SetDefault("buses.onewire_path", "/sys/bus/w1/devices")
}

func fixup(c *Config) {
	c.Modbus.Framing = strings.ToLower(c.Modbus.Framing)
	c.Persistence.Type = strings.ToLower(c.Persistence.Type)
	c.Board.Type = strings.ToLower(c.Board.Type)
	for i := range c.Sensors {
		fixupSensor(&c.Sensors[i])
	}
}
