// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-iomodule/internal/fieldbus"
	"github.com/ffutop/modbus-iomodule/internal/iostate"
	"github.com/ffutop/modbus-iomodule/internal/sensor"
)

// Snapshot is a copy of the module state taken at the end of a cycle.
type Snapshot struct {
	Time    time.Time
	Inputs  [iostate.DigitalInputs]iostate.DigitalChannel
	Outputs [iostate.DigitalOutputs]iostate.DigitalChannel
	Analog  [iostate.AnalogInputs]iostate.AnalogChannel
	Sensors []sensor.Record
	Clients []fieldbus.Client
}

func (c *Core) publish(now time.Time) {
	c.snapshot.Store(&Snapshot{
		Time:    now,
		Inputs:  c.model.Inputs(),
		Outputs: c.model.Outputs(),
		Analog:  c.model.AnalogChannels(),
		Sensors: c.sensors.Records(),
		Clients: c.bus.Clients(),
	})
}

// Snapshot returns the state as of the last completed cycle. It is safe to
// call from any goroutine.
func (c *Core) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// LogValue summarizes s for structured logs.
func (s *Snapshot) LogValue() slog.Value {
	var inputs, outputs, latched [iostate.DigitalInputs]bool
	for i, ch := range s.Inputs {
		inputs[i] = ch.Logical
		latched[i] = ch.Latched
	}
	for i, ch := range s.Outputs {
		outputs[i] = ch.Logical
	}
	var mv [iostate.AnalogInputs]uint16
	for i, ch := range s.Analog {
		mv[i] = ch.Millivolts
	}
	attrs := []slog.Attr{
		slog.Any("inputs", inputs),
		slog.Any("latched", latched),
		slog.Any("outputs", outputs),
		slog.Any("analog_mv", mv),
		slog.Int("clients", len(s.Clients)),
	}
	for i, r := range s.Sensors {
		if !r.Enabled {
			continue
		}
		attrs = append(attrs, slog.Group(fmt.Sprintf("sensor%d", i),
			slog.String("name", r.Name),
			slog.Float64("value", r.CalibratedValue),
			slog.String("response", r.Response),
			slog.String("err", r.LastError),
		))
	}
	return slog.GroupValue(attrs...)
}
