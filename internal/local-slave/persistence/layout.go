// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"bytes"

	"github.com/ffutop/modbus-iomodule/internal/iostate"
)

// magic marks a region that has been written at least once. A fresh or
// foreign file never restores state.
var magic = []byte("IOM1")

const (
	sizeHeader  = 4
	sizeOutputs = iostate.DigitalOutputs
	sizeLatches = iostate.DigitalInputs
	totalSize   = sizeHeader + sizeOutputs + sizeLatches

	offsetHeader  = 0
	offsetOutputs = offsetHeader + sizeHeader
	offsetLatches = offsetOutputs + sizeOutputs
)

// State is the retained output and latch image. Each byte is 1 (ON) or 0 (OFF).
type State struct {
	header  []byte
	Outputs []byte
	Latches []byte
}

// mapBytesToState constructs a State backed by the provided data slice,
// so writes land directly in the storage buffer.
func mapBytesToState(data []byte) *State {
	return &State{
		header:  data[offsetHeader : offsetHeader+sizeHeader],
		Outputs: data[offsetOutputs : offsetOutputs+sizeOutputs],
		Latches: data[offsetLatches : offsetLatches+sizeLatches],
	}
}

// Valid reports whether the state was written by a previous run.
func (s *State) Valid() bool {
	return bytes.Equal(s.header, magic)
}

func (s *State) stamp() {
	copy(s.header, magic)
}
