// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package drivers

import (
	"context"
	"fmt"

	"github.com/ffutop/modbus-iomodule/internal/iostate"
	"github.com/ffutop/modbus-iomodule/internal/sensor"
)

// AnalogSource exposes the analog channels sampled by the I/O model.
type AnalogSource interface {
	Analog(index int) (iostate.AnalogChannel, error)
}

// Analog reports the millivolts of an analog input as sampled earlier in the
// same control cycle, so the channel is not converted twice.
type Analog struct {
	src AnalogSource
}

func NewAnalog(src AnalogSource) *Analog {
	return &Analog{src: src}
}

func (a *Analog) ReadAnalog(ctx context.Context, p sensor.AnalogParams) (sensor.Reading, error) {
	if err := canceled(ctx); err != nil {
		return sensor.Reading{}, err
	}
	ch, err := a.src.Analog(p.Channel)
	if err != nil {
		return sensor.Reading{}, fmt.Errorf("analog channel %d: %w", p.Channel, err)
	}
	return sensor.Reading{Value: float64(ch.Millivolts)}, nil
}
