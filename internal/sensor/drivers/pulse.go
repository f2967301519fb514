// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package drivers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ffutop/modbus-iomodule/internal/sensor"
)

// PulseSource counts rising edges per pin.
type PulseSource interface {
	PulseCount(pin int) (uint64, error)
}

// Pulse reports the pulses counted on a pin since its previous read.
type Pulse struct {
	src  PulseSource
	last map[int]uint64
}

func NewPulse(src PulseSource) *Pulse {
	return &Pulse{src: src, last: make(map[int]uint64)}
}

func (d *Pulse) ReadPulses(ctx context.Context, p sensor.PulseCounterParams) (sensor.Reading, error) {
	if err := canceled(ctx); err != nil {
		return sensor.Reading{}, err
	}
	count, err := d.src.PulseCount(p.Pin)
	if err != nil {
		return sensor.Reading{}, fmt.Errorf("pulse pin %d: %w", p.Pin, err)
	}
	delta := count - d.last[p.Pin]
	if count < d.last[p.Pin] {
		// counter restarted
		delta = count
	}
	d.last[p.Pin] = count
	return sensor.Reading{Value: float64(delta), Response: strconv.FormatUint(delta, 10)}, nil
}
