// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package hal

import (
	"errors"
	"testing"

	"github.com/ffutop/modbus-iomodule/internal/config"
	"github.com/ffutop/modbus-iomodule/internal/iostate"
)

func TestOpen_Sim(t *testing.T) {
	for _, kind := range []string{"", "sim"} {
		b, err := Open(config.BoardConfig{Type: kind})
		if err != nil {
			t.Fatalf("Open(%q): %v", kind, err)
		}
		if _, ok := b.(*Sim); !ok {
			t.Errorf("Open(%q) = %T, want *Sim", kind, b)
		}
	}
	if _, err := Open(config.BoardConfig{Type: "arduino"}); err == nil {
		t.Error("expected error for unknown board type")
	}
}

func TestSim_DrivesModel(t *testing.T) {
	sim := NewSim()
	var cfg iostate.Config
	cfg.Inputs[0].Pullup = true
	cfg.Outputs[3].Invert = true
	m := iostate.NewModel(sim, cfg)

	if !sim.Pullup(0) {
		t.Error("pullup not applied to sim")
	}
	if !sim.OutputLevel(3) {
		t.Error("inverted output should idle high")
	}

	sim.SetInput(6, true)
	sim.SetADC(2, 4095)
	m.SampleDigitalInputs()
	m.SampleAnalogInputs()
	if !m.InputStates()[6] {
		t.Error("input 6 not sampled")
	}
	if m.Millivolts()[2] != 3300 {
		t.Errorf("analog 2 = %d mV", m.Millivolts()[2])
	}

	m.SetOutput(3, true)
	if sim.OutputLevel(3) {
		t.Error("inverted output on should drive low")
	}
}

func TestSim_Bounds(t *testing.T) {
	sim := NewSim()
	if _, err := sim.ReadInput(8); !errors.Is(err, iostate.ErrIndexOutOfRange) {
		t.Errorf("ReadInput(8) error = %v", err)
	}
	if err := sim.WriteOutput(-1, true); !errors.Is(err, iostate.ErrIndexOutOfRange) {
		t.Errorf("WriteOutput(-1) error = %v", err)
	}
	if _, err := sim.ReadADC(3); !errors.Is(err, iostate.ErrIndexOutOfRange) {
		t.Errorf("ReadADC(3) error = %v", err)
	}
}

func TestSim_PulsesAndIndicator(t *testing.T) {
	sim := NewSim()
	sim.AddPulses(17, 5)
	sim.AddPulses(17, 2)
	if n, _ := sim.PulseCount(17); n != 7 {
		t.Errorf("PulseCount = %d, want 7", n)
	}
	sim.SetIndicator(true)
	if !sim.Indicator() {
		t.Error("indicator not set")
	}
}
