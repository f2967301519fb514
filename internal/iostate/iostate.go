// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package iostate holds the canonical state of the module's digital and
// analog channels. The control loop is its only writer.
package iostate

import (
	"errors"
	"fmt"
	"log/slog"
)

const (
	DigitalInputs  = 8
	DigitalOutputs = 8
	AnalogInputs   = 3

	DefaultVRefMillivolts = 3300
	DefaultResolution     = 12
)

var (
	ErrIndexOutOfRange = errors.New("channel index out of range")
	// ErrNotWired is returned by Pins implementations for capabilities the
	// board does not have.
	ErrNotWired = errors.New("capability not wired on this board")
)

// Pins is the hardware capability the model samples and drives.
type Pins interface {
	ReadInput(index int) (bool, error)
	WriteOutput(index int, level bool) error
	SetPullup(index int, enabled bool) error
	ReadADC(channel int) (uint16, error)
}

// Observer is notified after canonical output or latch state changes.
type Observer interface {
	OnOutputChange(index int, state bool)
	OnLatchChange(index int, latched bool)
}

type DigitalChannel struct {
	Raw           bool
	Logical       bool
	LatchEnabled  bool
	Latched       bool
	InvertEnabled bool
	PullupEnabled bool
}

type AnalogChannel struct {
	RawCode    uint16
	Millivolts uint16
}

// InputConfig is the per-input behaviour set at configuration time.
type InputConfig struct {
	Pullup bool
	Invert bool
	Latch  bool
}

// OutputConfig is the per-output behaviour set at configuration time.
type OutputConfig struct {
	Invert  bool
	Initial bool
}

type Config struct {
	Inputs  [DigitalInputs]InputConfig
	Outputs [DigitalOutputs]OutputConfig

	// Zero values select DefaultVRefMillivolts and DefaultResolution.
	VRefMillivolts uint32
	Resolution     uint
}

// Model is the canonical I/O state.
type Model struct {
	pins     Pins
	observer Observer

	inputs  [DigitalInputs]DigitalChannel
	outputs [DigitalOutputs]DigitalChannel
	analog  [AnalogInputs]AnalogChannel

	vref    uint32
	maxCode uint32
}

// NewModel applies cfg to the hardware and drives every output to its
// initial state.
func NewModel(pins Pins, cfg Config) *Model {
	m := &Model{
		pins: pins,
		vref: cfg.VRefMillivolts,
	}
	if m.vref == 0 {
		m.vref = DefaultVRefMillivolts
	}
	res := cfg.Resolution
	if res == 0 {
		res = DefaultResolution
	}
	m.maxCode = 1<<res - 1

	for i, in := range cfg.Inputs {
		m.ConfigureInput(i, in)
	}
	for i, out := range cfg.Outputs {
		ch := &m.outputs[i]
		ch.InvertEnabled = out.Invert
		ch.Logical = out.Initial
		ch.Raw = out.Initial != out.Invert
		m.drive(i)
	}
	return m
}

// SetObserver installs o. A nil o removes the observer.
func (m *Model) SetObserver(o Observer) {
	m.observer = o
}

// ConfigureInput changes pullup, inversion and latching of one input.
// Turning latching off discards a held latch.
func (m *Model) ConfigureInput(index int, cfg InputConfig) error {
	if index < 0 || index >= DigitalInputs {
		return fmt.Errorf("input %d: %w", index, ErrIndexOutOfRange)
	}
	ch := &m.inputs[index]
	ch.InvertEnabled = cfg.Invert
	if err := m.pins.SetPullup(index, cfg.Pullup); err != nil && !errors.Is(err, ErrNotWired) {
		slog.Warn("Failed to set input pullup", "input", index, "err", err)
	}
	ch.PullupEnabled = cfg.Pullup

	wasLatched := ch.Latched
	ch.LatchEnabled = cfg.Latch
	if !cfg.Latch {
		ch.Latched = false
	}
	m.derive(ch)
	if wasLatched != ch.Latched {
		m.notifyLatch(index, ch.Latched)
	}
	return nil
}

// SampleDigitalInputs reads every input and recomputes its logical state.
// A failed read keeps the previous raw level.
func (m *Model) SampleDigitalInputs() {
	for i := range m.inputs {
		ch := &m.inputs[i]
		level, err := m.pins.ReadInput(i)
		if err != nil {
			slog.Debug("Failed to read input, holding previous level", "input", i, "err", err)
		} else {
			ch.Raw = level
		}

		if ch.LatchEnabled && !ch.Latched && ch.Raw != ch.InvertEnabled {
			ch.Latched = true
			m.notifyLatch(i, true)
		}
		m.derive(ch)
	}
}

// SampleAnalogInputs reads every ADC channel and converts it to millivolts.
// A failed read keeps the previous values.
func (m *Model) SampleAnalogInputs() {
	for i := range m.analog {
		code, err := m.pins.ReadADC(i)
		if err != nil {
			if !errors.Is(err, ErrNotWired) {
				slog.Debug("Failed to read ADC, holding previous value", "channel", i, "err", err)
			}
			continue
		}
		if uint32(code) > m.maxCode {
			code = uint16(m.maxCode)
		}
		m.analog[i] = AnalogChannel{
			RawCode:    code,
			Millivolts: uint16(uint32(code) * m.vref / m.maxCode),
		}
	}
}

// SetOutput sets the logical state of one output and drives the pin.
func (m *Model) SetOutput(index int, state bool) error {
	if index < 0 || index >= DigitalOutputs {
		return fmt.Errorf("output %d: %w", index, ErrIndexOutOfRange)
	}
	ch := &m.outputs[index]
	changed := ch.Logical != state
	ch.Logical = state
	ch.Raw = state != ch.InvertEnabled
	m.drive(index)
	if changed && m.observer != nil {
		m.observer.OnOutputChange(index, state)
	}
	return nil
}

// ResetLatch clears the latch of one input. If the input is still active
// the next sample latches it again.
func (m *Model) ResetLatch(index int) error {
	if index < 0 || index >= DigitalInputs {
		return fmt.Errorf("input %d: %w", index, ErrIndexOutOfRange)
	}
	ch := &m.inputs[index]
	wasLatched := ch.Latched
	ch.Latched = false
	m.derive(ch)
	if wasLatched {
		m.notifyLatch(index, false)
	}
	return nil
}

func (m *Model) ResetAllLatches() {
	for i := range m.inputs {
		m.ResetLatch(i)
	}
}

// Restore applies retained output and latch states, e.g. after a restart.
// Latches are only restored on inputs that have latching enabled.
// Observers are not notified.
func (m *Model) Restore(outputs [DigitalOutputs]bool, latches [DigitalInputs]bool) {
	for i, state := range outputs {
		ch := &m.outputs[i]
		ch.Logical = state
		ch.Raw = state != ch.InvertEnabled
		m.drive(i)
	}
	for i, latched := range latches {
		ch := &m.inputs[i]
		if ch.LatchEnabled {
			ch.Latched = latched
			m.derive(ch)
		}
	}
}

func (m *Model) Input(index int) (DigitalChannel, error) {
	if index < 0 || index >= DigitalInputs {
		return DigitalChannel{}, fmt.Errorf("input %d: %w", index, ErrIndexOutOfRange)
	}
	return m.inputs[index], nil
}

func (m *Model) Output(index int) (DigitalChannel, error) {
	if index < 0 || index >= DigitalOutputs {
		return DigitalChannel{}, fmt.Errorf("output %d: %w", index, ErrIndexOutOfRange)
	}
	return m.outputs[index], nil
}

func (m *Model) Analog(index int) (AnalogChannel, error) {
	if index < 0 || index >= AnalogInputs {
		return AnalogChannel{}, fmt.Errorf("analog %d: %w", index, ErrIndexOutOfRange)
	}
	return m.analog[index], nil
}

func (m *Model) Inputs() [DigitalInputs]DigitalChannel {
	return m.inputs
}

func (m *Model) Outputs() [DigitalOutputs]DigitalChannel {
	return m.outputs
}

func (m *Model) AnalogChannels() [AnalogInputs]AnalogChannel {
	return m.analog
}

// InputStates returns the logical state of every input.
func (m *Model) InputStates() (states [DigitalInputs]bool) {
	for i, ch := range m.inputs {
		states[i] = ch.Logical
	}
	return
}

// OutputStates returns the logical state of every output.
func (m *Model) OutputStates() (states [DigitalOutputs]bool) {
	for i, ch := range m.outputs {
		states[i] = ch.Logical
	}
	return
}

// Millivolts returns the converted value of every analog channel.
func (m *Model) Millivolts() (mv [AnalogInputs]uint16) {
	for i, ch := range m.analog {
		mv[i] = ch.Millivolts
	}
	return
}

func (m *Model) derive(ch *DigitalChannel) {
	if ch.LatchEnabled {
		ch.Logical = ch.Latched
	} else {
		ch.Logical = ch.Raw != ch.InvertEnabled
	}
}

func (m *Model) drive(index int) {
	if err := m.pins.WriteOutput(index, m.outputs[index].Raw); err != nil {
		slog.Warn("Failed to drive output", "output", index, "err", err)
	}
}

func (m *Model) notifyLatch(index int, latched bool) {
	if m.observer != nil {
		m.observer.OnLatchChange(index, latched)
	}
}
