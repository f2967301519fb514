// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package hal

import (
	"sync"

	"github.com/ffutop/modbus-iomodule/internal/iostate"
)

// Sim is an in-memory board. Tests and bench setups drive its inputs
// directly and observe its outputs.
type Sim struct {
	mu        sync.Mutex
	inputs    [iostate.DigitalInputs]bool
	pullups   [iostate.DigitalInputs]bool
	outputs   [iostate.DigitalOutputs]bool
	adc       [iostate.AnalogInputs]uint16
	pulses    map[int]uint64
	indicator bool
}

func NewSim() *Sim {
	return &Sim{pulses: make(map[int]uint64)}
}

func (s *Sim) ReadInput(index int) (bool, error) {
	if err := checkIndex("input", index, iostate.DigitalInputs); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs[index], nil
}

func (s *Sim) WriteOutput(index int, level bool) error {
	if err := checkIndex("output", index, iostate.DigitalOutputs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[index] = level
	return nil
}

func (s *Sim) SetPullup(index int, enabled bool) error {
	if err := checkIndex("input", index, iostate.DigitalInputs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pullups[index] = enabled
	return nil
}

func (s *Sim) ReadADC(channel int) (uint16, error) {
	if err := checkIndex("analog", channel, iostate.AnalogInputs); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adc[channel], nil
}

func (s *Sim) PulseCount(pin int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulses[pin], nil
}

func (s *Sim) SetIndicator(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicator = on
	return nil
}

func (s *Sim) Close() error { return nil }

// SetInput sets the physical level of an input.
func (s *Sim) SetInput(index int, level bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[index] = level
}

// OutputLevel returns the physical level last driven on an output.
func (s *Sim) OutputLevel(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[index]
}

func (s *Sim) Pullup(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pullups[index]
}

func (s *Sim) SetADC(channel int, code uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adc[channel] = code
}

func (s *Sim) AddPulses(pin int, n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulses[pin] += n
}

func (s *Sim) Indicator() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indicator
}
