// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package sensor schedules reads of the attached sensors, calibrates the
// results and keeps the last good value of each.
package sensor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ffutop/modbus-iomodule/internal/calibration"
)

const (
	MaxSensors = 16

	DefaultSampleInterval = time.Second
	DefaultReadTimeout    = 200 * time.Millisecond

	// ProbeIssueInterval is the minimum time between read commands sent to
	// an async probe; ProbeResponseWait is how long the probe needs to answer.
	ProbeIssueInterval = 5 * time.Second
	ProbeResponseWait  = time.Second
	ProbeReadCommand   = "R"

	// Input registers 0-2 carry the analog inputs; sensors map after them.
	FirstMappedRegister = 3
	LastMappedRegister  = FirstMappedRegister + MaxSensors - 1
)

var (
	ErrProtocolRead        = errors.New("sensor read failed")
	ErrInvalidIndex        = errors.New("invalid sensor index")
	ErrUnsupportedProtocol = errors.New("unsupported sensor protocol")
	ErrTableFull           = errors.New("sensor table full")
	ErrNotAsyncProbe       = errors.New("sensor is not an async probe")
	ErrInvalidParams       = errors.New("invalid sensor parameters")
)

type Kind int

const (
	Analog Kind = iota
	I2C
	SPI
	UART
	OneWire
	PulseCounter
	AsyncProbe
)

var kindNames = [...]string{
	Analog:       "analog",
	I2C:          "i2c",
	SPI:          "spi",
	UART:         "uart",
	OneWire:      "onewire",
	PulseCounter: "pulse",
	AsyncProbe:   "ezo",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, name)
}

// Params holds the protocol specific settings of a sensor. The set of
// implementations is closed: one per Kind.
type Params interface {
	Kind() Kind
	validate() error
}

type AnalogParams struct {
	Channel int
}

// I2CParams reads Payload.Length bytes from Address, after writing Register
// first unless it is DirectRead.
type I2CParams struct {
	Bus      string
	Address  uint16
	Register int
	Payload  Payload
}

const DirectRead = -1

type SPIParams struct {
	Port    string
	SpeedHz int64
	Payload Payload
}

// UARTParams reads one line from Port. Request, if set, is written first.
type UARTParams struct {
	Port     string
	BaudRate int
	Request  string
}

type OneWireParams struct {
	DeviceID string
}

type PulseCounterParams struct {
	Pin int
}

// AsyncProbeParams addresses a command/response probe. Command replaces the
// periodic read command when set.
type AsyncProbeParams struct {
	Bus     string
	Address uint16
	Command string
}

func (AnalogParams) Kind() Kind       { return Analog }
func (I2CParams) Kind() Kind          { return I2C }
func (SPIParams) Kind() Kind          { return SPI }
func (UARTParams) Kind() Kind         { return UART }
func (OneWireParams) Kind() Kind      { return OneWire }
func (PulseCounterParams) Kind() Kind { return PulseCounter }
func (AsyncProbeParams) Kind() Kind   { return AsyncProbe }

func (p AnalogParams) validate() error {
	if p.Channel < 0 {
		return fmt.Errorf("%w: analog channel %d", ErrInvalidParams, p.Channel)
	}
	return nil
}

func (p I2CParams) validate() error {
	if p.Address > 0x7F {
		return fmt.Errorf("%w: i2c address 0x%X", ErrInvalidParams, p.Address)
	}
	if p.Register != DirectRead && (p.Register < 0 || p.Register > 0xFF) {
		return fmt.Errorf("%w: i2c register %d", ErrInvalidParams, p.Register)
	}
	return p.Payload.validate()
}

func (p SPIParams) validate() error {
	if p.SpeedHz < 0 {
		return fmt.Errorf("%w: spi speed %d", ErrInvalidParams, p.SpeedHz)
	}
	return p.Payload.validate()
}

func (p UARTParams) validate() error {
	if p.Port == "" {
		return fmt.Errorf("%w: uart port missing", ErrInvalidParams)
	}
	if p.BaudRate <= 0 {
		return fmt.Errorf("%w: uart baud rate %d", ErrInvalidParams, p.BaudRate)
	}
	return nil
}

func (p OneWireParams) validate() error {
	if p.DeviceID == "" {
		return fmt.Errorf("%w: one-wire device id missing", ErrInvalidParams)
	}
	return nil
}

func (p PulseCounterParams) validate() error {
	if p.Pin < 0 {
		return fmt.Errorf("%w: pulse pin %d", ErrInvalidParams, p.Pin)
	}
	return nil
}

func (p AsyncProbeParams) validate() error {
	if p.Address == 0 || p.Address > 0x7F {
		return fmt.Errorf("%w: probe address 0x%X", ErrInvalidParams, p.Address)
	}
	return nil
}

// Record is one entry of the sensor table. Its index in the table is its identity.
type Record struct {
	Name           string
	Enabled        bool
	Params         Params
	Calibration    calibration.Calibration
	SampleInterval time.Duration
	// Register is the input register the calibrated value is mapped to,
	// or 0 for none.
	Register int

	LastSample      time.Time
	RawValue        float64
	CalibratedValue float64
	Response        string
	HasValue        bool

	CommandPending  bool
	LastCommandSent time.Time

	LastError string

	lastAttempt    time.Time
	pendingCommand string
}

// Kind returns the protocol of r, or -1 if it has no parameters.
func (r *Record) Kind() Kind {
	if r.Params == nil {
		return -1
	}
	return r.Params.Kind()
}

func (r *Record) interval() time.Duration {
	if r.SampleInterval <= 0 {
		return DefaultSampleInterval
	}
	return r.SampleInterval
}

// Validate checks the static configuration of r.
func (r *Record) Validate() error {
	if r.Params == nil {
		return fmt.Errorf("%w: no protocol parameters", ErrUnsupportedProtocol)
	}
	if err := r.Params.validate(); err != nil {
		return err
	}
	if err := calibration.Validate(r.Calibration); err != nil {
		return err
	}
	if r.Register != 0 && (r.Register < FirstMappedRegister || r.Register > LastMappedRegister) {
		return fmt.Errorf("%w: register %d outside %d-%d", ErrInvalidParams, r.Register, FirstMappedRegister, LastMappedRegister)
	}
	return nil
}
