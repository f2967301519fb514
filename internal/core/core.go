// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package core runs the control loop of the I/O module. Every cycle samples
// the inputs, advances the sensor pipeline and synchronizes the Modbus
// clients, in that order, on a single goroutine.
package core

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ffutop/modbus-iomodule/internal/calibration"
	"github.com/ffutop/modbus-iomodule/internal/fieldbus"
	"github.com/ffutop/modbus-iomodule/internal/iostate"
	"github.com/ffutop/modbus-iomodule/internal/sensor"
)

const (
	DefaultInterval = 10 * time.Millisecond

	requestQueueSize = 16
)

var ErrStopped = errors.New("control loop stopped")

// SensorStore persists the sensor table after runtime changes.
type SensorStore interface {
	SaveRecords(records []sensor.Record) error
}

type Options struct {
	Interval time.Duration
	// Store, if set, receives the sensor table after every calibration change.
	Store SensorStore
}

type request struct {
	fn     func(ctx context.Context, now time.Time) error
	result chan error
}

// Core owns the canonical state. Other goroutines change it only through
// Do and the entry points built on it, which run at the start of the next
// cycle.
type Core struct {
	model    *iostate.Model
	sensors  *sensor.Pipeline
	bus      *fieldbus.Engine
	store    SensorStore
	interval time.Duration

	requests chan request
	stopped  chan struct{}
	snapshot atomic.Pointer[Snapshot]
}

func New(model *iostate.Model, sensors *sensor.Pipeline, bus *fieldbus.Engine, opts Options) *Core {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	c := &Core{
		model:    model,
		sensors:  sensors,
		bus:      bus,
		store:    opts.Store,
		interval: opts.Interval,
		requests: make(chan request, requestQueueSize),
		stopped:  make(chan struct{}),
	}
	c.publish(time.Time{})
	return c
}

// Tick runs one control cycle.
func (c *Core) Tick(ctx context.Context, now time.Time) {
	c.drain(ctx, now)

	c.model.SampleDigitalInputs()
	c.model.SampleAnalogInputs()
	c.sensors.Tick(ctx, now)
	c.bus.AcceptNewClients()
	c.bus.PollExistingClients()

	c.publish(now)
}

// Run ticks every interval until ctx is done, then disconnects every client.
func (c *Core) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	slog.Info("Control loop started", "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			close(c.stopped)
			c.bus.StopAllClients()
			c.failPending()
			slog.Info("Control loop stopped")
			return
		case now := <-ticker.C:
			start := time.Now()
			c.Tick(ctx, now)
			if took := time.Since(start); took > c.interval {
				slog.Debug("Control cycle overran", "took", took, "interval", c.interval)
			}
		}
	}
}

// Do queues fn to run on the loop goroutine before the next cycle and
// waits for its result.
func (c *Core) Do(ctx context.Context, fn func(ctx context.Context, now time.Time) error) error {
	req := request{fn: fn, result: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-c.stopped:
		select {
		case err := <-req.result:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Core) drain(ctx context.Context, now time.Time) {
	for {
		select {
		case req := <-c.requests:
			req.result <- req.fn(ctx, now)
		default:
			return
		}
	}
}

func (c *Core) failPending() {
	for {
		select {
		case req := <-c.requests:
			req.result <- ErrStopped
		default:
			return
		}
	}
}

func (c *Core) SetOutput(ctx context.Context, index int, state bool) error {
	return c.Do(ctx, func(context.Context, time.Time) error {
		return c.model.SetOutput(index, state)
	})
}

func (c *Core) ResetLatch(ctx context.Context, index int) error {
	return c.Do(ctx, func(context.Context, time.Time) error {
		return c.model.ResetLatch(index)
	})
}

func (c *Core) ResetAllLatches(ctx context.Context) error {
	return c.Do(ctx, func(context.Context, time.Time) error {
		c.model.ResetAllLatches()
		return nil
	})
}

func (c *Core) EnableSensor(ctx context.Context, index int, enabled bool) error {
	return c.Do(ctx, func(context.Context, time.Time) error {
		return c.sensors.Enable(index, enabled)
	})
}

// SetCalibration replaces the calibration of a sensor and saves the table.
// A failed save is logged; the new calibration stays in effect.
func (c *Core) SetCalibration(ctx context.Context, index int, cal calibration.Calibration) error {
	return c.Do(ctx, func(context.Context, time.Time) error {
		if err := c.sensors.SetCalibration(index, cal); err != nil {
			return err
		}
		if c.store != nil {
			if err := c.store.SaveRecords(c.sensors.Records()); err != nil {
				slog.Error("Failed to save sensor table", "sensor", index, "err", err)
			}
		}
		return nil
	})
}

func (c *Core) SendProbeCommand(ctx context.Context, index int, cmd string) error {
	return c.Do(ctx, func(ctx context.Context, now time.Time) error {
		return c.sensors.SendProbeCommand(ctx, index, cmd, now)
	})
}

// TestSensor reads one sensor immediately and returns its record.
func (c *Core) TestSensor(ctx context.Context, index int) (sensor.Record, error) {
	records := make(chan sensor.Record, 1)
	err := c.Do(ctx, func(ctx context.Context, now time.Time) error {
		r, err := c.sensors.TestRead(ctx, index, now)
		records <- r
		return err
	})
	select {
	case r := <-records:
		return r, err
	default:
		// the caller gave up, or the loop stopped, before the read ran
		return sensor.Record{}, err
	}
}

// RestartServer drops every client and reopens the Modbus endpoint.
func (c *Core) RestartServer(ctx context.Context) error {
	return c.Do(ctx, func(context.Context, time.Time) error {
		return c.bus.RestartServer()
	})
}
