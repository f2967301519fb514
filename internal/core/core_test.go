// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package core

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ffutop/modbus-iomodule/internal/calibration"
	"github.com/ffutop/modbus-iomodule/internal/fieldbus"
	"github.com/ffutop/modbus-iomodule/internal/hal"
	"github.com/ffutop/modbus-iomodule/internal/iostate"
	"github.com/ffutop/modbus-iomodule/internal/sensor"
	"github.com/ffutop/modbus-iomodule/modbus"
	"github.com/ffutop/modbus-iomodule/transport"
)

type queuedConn struct {
	pending []*transport.Frame
	replies []modbus.ProtocolDataUnit
}

func (c *queuedConn) Next() (*transport.Frame, bool) {
	if len(c.pending) == 0 {
		return nil, false
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	return f, true
}

func (c *queuedConn) Reply(_ *transport.Frame, pdu modbus.ProtocolDataUnit) error {
	c.replies = append(c.replies, pdu)
	return nil
}

func (c *queuedConn) Connected() bool    { return true }
func (c *queuedConn) RemoteAddr() string { return "queued" }
func (c *queuedConn) Close() error       { return nil }

type oneShotListener struct {
	conn transport.Conn
}

func (l *oneShotListener) Listen() error { return nil }
func (l *oneShotListener) Accept() (transport.Conn, bool) {
	c := l.conn
	l.conn = nil
	return c, c != nil
}
func (l *oneShotListener) Addr() string { return "test" }
func (l *oneShotListener) Close() error { return nil }

type boardAnalog struct {
	board *hal.Sim
}

func (a boardAnalog) ReadAnalog(_ context.Context, p sensor.AnalogParams) (sensor.Reading, error) {
	code, err := a.board.ReadADC(p.Channel)
	return sensor.Reading{Value: float64(code)}, err
}

type recordingStore struct {
	saved [][]sensor.Record
}

func (s *recordingStore) SaveRecords(records []sensor.Record) error {
	s.saved = append(s.saved, records)
	return nil
}

type rig struct {
	board *hal.Sim
	conn  *queuedConn
	core  *Core
	store *recordingStore
}

func newRig(t *testing.T) *rig {
	t.Helper()
	board := hal.NewSim()
	model := iostate.NewModel(board, iostate.Config{})

	pipeline := sensor.NewPipeline(sensor.Readers{Analog: boardAnalog{board}}, 0)
	err := pipeline.Load([]sensor.Record{{
		Name:        "level",
		Enabled:     true,
		Params:      sensor.AnalogParams{Channel: 0},
		Calibration: calibration.Identity(),
		Register:    3,
	}})
	if err != nil {
		t.Fatal(err)
	}

	conn := &queuedConn{}
	bus := fieldbus.NewEngine(&oneShotListener{conn: conn}, model, fieldbus.Options{Sensors: pipeline, Indicator: board})
	store := &recordingStore{}
	return &rig{
		board: board,
		conn:  conn,
		core:  New(model, pipeline, bus, Options{Interval: time.Millisecond, Store: store}),
		store: store,
	}
}

func pdu(fc byte, data ...byte) *transport.Frame {
	return &transport.Frame{SlaveID: 1, Pdu: modbus.ProtocolDataUnit{FunctionCode: fc, Data: data}}
}

func TestTick_ClientsSeeSameCycleSamples(t *testing.T) {
	r := newRig(t)
	r.board.SetInput(2, true)
	r.board.SetADC(0, 1234)
	r.conn.pending = []*transport.Frame{
		pdu(modbus.FuncCodeReadDiscreteInputs, 0x00, 0x00, 0x00, 0x08),
		pdu(modbus.FuncCodeReadInputRegisters, 0x00, 0x03, 0x00, 0x01),
	}

	r.core.Tick(context.Background(), time.Now())

	if len(r.conn.replies) != 2 {
		t.Fatalf("got %d replies", len(r.conn.replies))
	}
	if got := r.conn.replies[0].Data; !bytes.Equal(got, []byte{0x01, 0x04}) {
		t.Errorf("discrete inputs % X", got)
	}
	// 1234.00 in 0.01 units saturates at 32767
	if got := r.conn.replies[1].Data; !bytes.Equal(got, []byte{0x02, 0x7F, 0xFF}) {
		t.Errorf("sensor register % X", got)
	}

	snap := r.core.Snapshot()
	if !snap.Inputs[2].Logical || len(snap.Clients) != 1 || snap.Sensors[0].RawValue != 1234 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func runCore(t *testing.T, c *Core) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	return func() {
		stop()
		<-done
	}
}

func TestEntryPoints(t *testing.T) {
	r := newRig(t)
	stop := runCore(t, r.core)
	defer stop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.core.SetOutput(ctx, 5, true); err != nil {
		t.Fatalf("SetOutput failed: %v", err)
	}
	if !r.board.OutputLevel(5) {
		t.Error("output not driven")
	}
	if err := r.core.SetOutput(ctx, 8, true); !errors.Is(err, iostate.ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := r.core.ResetLatch(ctx, 9); !errors.Is(err, iostate.ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := r.core.ResetAllLatches(ctx); err != nil {
		t.Errorf("ResetAllLatches failed: %v", err)
	}

	r.board.SetADC(0, 50)
	rec, err := r.core.TestSensor(ctx, 0)
	if err != nil || rec.RawValue != 50 {
		t.Fatalf("TestSensor = %+v, %v", rec, err)
	}

	cal := calibration.Calibration{Method: calibration.Linear, Scale: 2, Offset: 1}
	if err := r.core.SetCalibration(ctx, 0, cal); err != nil {
		t.Fatalf("SetCalibration failed: %v", err)
	}
	// wait for the cycle that applied the calibration to publish
	if err := r.core.Do(ctx, func(context.Context, time.Time) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if len(r.store.saved) != 1 || r.store.saved[0][0].Calibration != cal {
		t.Fatalf("sensor table not saved: %+v", r.store.saved)
	}
	if got := r.core.Snapshot().Sensors[0].Calibration; got != cal {
		t.Errorf("snapshot calibration = %+v", got)
	}

	if err := r.core.SendProbeCommand(ctx, 0, "R"); !errors.Is(err, sensor.ErrNotAsyncProbe) {
		t.Errorf("expected ErrNotAsyncProbe, got %v", err)
	}
	if err := r.core.EnableSensor(ctx, 0, false); err != nil {
		t.Errorf("EnableSensor failed: %v", err)
	}
	if err := r.core.EnableSensor(ctx, 4, true); !errors.Is(err, sensor.ErrInvalidIndex) {
		t.Errorf("expected ErrInvalidIndex, got %v", err)
	}
}

func TestDo_AfterStop(t *testing.T) {
	r := newRig(t)
	stop := runCore(t, r.core)
	stop()

	if err := r.core.SetOutput(context.Background(), 0, true); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestTestSensor_CallerGivesUp(t *testing.T) {
	r := newRig(t)
	r.board.SetADC(0, 77)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	rec, err := r.core.TestSensor(ctx, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// The queued read still runs on the next cycle; the returned record
	// must not change under the caller.
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.core.Tick(context.Background(), time.Now())
	}()
	if rec.Name != "" || rec.RawValue != 0 {
		t.Errorf("abandoned TestSensor returned %+v", rec)
	}
	<-done

	if got := r.core.Snapshot().Sensors[0].RawValue; got != 77 {
		t.Errorf("raw value after the cycle = %v, want 77", got)
	}
}
