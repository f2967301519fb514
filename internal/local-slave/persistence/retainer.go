// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"log/slog"

	"github.com/ffutop/modbus-iomodule/internal/iostate"
)

// Retainer observes the I/O model and writes every output and latch change
// through to storage.
type Retainer struct {
	storage Storage
	state   *State
}

func NewRetainer(storage Storage, state *State) *Retainer {
	return &Retainer{storage: storage, state: state}
}

// Snapshot returns the retained states. ok is false if nothing was retained yet.
func (r *Retainer) Snapshot() (outputs [iostate.DigitalOutputs]bool, latches [iostate.DigitalInputs]bool, ok bool) {
	if !r.state.Valid() {
		return outputs, latches, false
	}
	for i := range outputs {
		outputs[i] = r.state.Outputs[i] != 0
	}
	for i := range latches {
		latches[i] = r.state.Latches[i] != 0
	}
	return outputs, latches, true
}

// Seed records the current model state, so a fresh medium holds a valid image.
func (r *Retainer) Seed(m *iostate.Model) {
	for i, on := range m.OutputStates() {
		r.state.Outputs[i] = boolByte(on)
	}
	for i, in := range m.Inputs() {
		r.state.Latches[i] = boolByte(in.Latched)
	}
	r.save()
}

// Attach restores the retained states into m, records the result and
// starts observing m. It reports whether anything was restored.
func (r *Retainer) Attach(m *iostate.Model) bool {
	outputs, latches, ok := r.Snapshot()
	if ok {
		m.Restore(outputs, latches)
		slog.Info("Restored retained I/O state", "outputs", outputs, "latches", latches)
	}
	r.Seed(m)
	m.SetObserver(r)
	return ok
}

func (r *Retainer) OnOutputChange(index int, state bool) {
	r.state.Outputs[index] = boolByte(state)
	r.save()
}

func (r *Retainer) OnLatchChange(index int, latched bool) {
	r.state.Latches[index] = boolByte(latched)
	r.save()
}

func (r *Retainer) Close() error {
	return r.storage.Close()
}

func (r *Retainer) save() {
	if err := r.storage.Save(r.state); err != nil {
		slog.Error("Failed to persist I/O state", "err", err)
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
