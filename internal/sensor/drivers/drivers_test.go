// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package drivers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grid-x/serial"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/spi/spitest"

	"github.com/ffutop/modbus-iomodule/internal/hal"
	"github.com/ffutop/modbus-iomodule/internal/iostate"
	"github.com/ffutop/modbus-iomodule/internal/sensor"
)

func TestAnalog(t *testing.T) {
	board := hal.NewSim()
	board.SetADC(1, 4095)
	m := iostate.NewModel(board, iostate.Config{})
	m.SampleAnalogInputs()

	got, err := NewAnalog(m).ReadAnalog(context.Background(), sensor.AnalogParams{Channel: 1})
	if err != nil {
		t.Fatalf("ReadAnalog failed: %v", err)
	}
	if got.Value != 3300 {
		t.Errorf("got %v mV, want 3300", got.Value)
	}
	if _, err := NewAnalog(m).ReadAnalog(context.Background(), sensor.AnalogParams{Channel: 3}); !errors.Is(err, iostate.ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestPulse_Delta(t *testing.T) {
	board := hal.NewSim()
	d := NewPulse(board)
	p := sensor.PulseCounterParams{Pin: 17}

	board.AddPulses(17, 5)
	if got, _ := d.ReadPulses(context.Background(), p); got.Value != 5 {
		t.Fatalf("first read = %v, want 5", got.Value)
	}
	board.AddPulses(17, 3)
	if got, _ := d.ReadPulses(context.Background(), p); got.Value != 3 || got.Response != "3" {
		t.Fatalf("second read = %+v, want 3", got)
	}
	if got, _ := d.ReadPulses(context.Background(), p); got.Value != 0 {
		t.Fatalf("idle read = %v, want 0", got.Value)
	}
}

func TestI2C_RegisterRead(t *testing.T) {
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x48, W: []byte{0x00}, R: []byte{0x01, 0x90}},
		{Addr: 0x40, R: []byte{0xAA, 0x12, 0x34}},
	}}
	d := NewI2C()
	d.Attach("test", bus)
	ctx := context.Background()

	got, err := d.ReadI2C(ctx, sensor.I2CParams{
		Bus: "test", Address: 0x48, Register: 0x00,
		Payload: sensor.Payload{Length: 2, Format: sensor.FormatInt16BE},
	})
	if err != nil {
		t.Fatalf("ReadI2C failed: %v", err)
	}
	if got.Value != 400 || got.Response != "0190" {
		t.Errorf("got %+v, want 400 / 0190", got)
	}

	got, err = d.ReadI2C(ctx, sensor.I2CParams{
		Bus: "test", Address: 0x40, Register: sensor.DirectRead,
		Payload: sensor.Payload{Offset: 1, Length: 3, Format: sensor.FormatUint16LE},
	})
	if err != nil {
		t.Fatalf("direct ReadI2C failed: %v", err)
	}
	if got.Value != 0x3412 || got.Response != "AA1234" {
		t.Errorf("got %+v, want 0x3412 / AA1234", got)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("unconsumed bus operations: %v", err)
	}
}

func ezoReply(status byte, text string) []byte {
	buf := make([]byte, ezoReplySize)
	buf[0] = status
	copy(buf[1:], text)
	return buf
}

func TestEZO(t *testing.T) {
	probe := sensor.AsyncProbeParams{Bus: "test", Address: 0x63}
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x63, W: []byte("R")},
		{Addr: 0x63, R: ezoReply(ezoSuccess, "7.02")},
		{Addr: 0x63, W: []byte("Cal,foo")},
		{Addr: 0x63, R: ezoReply(ezoSyntaxError, "")},
		{Addr: 0x63, R: ezoReply(ezoPending, "")},
	}}
	d := NewI2C()
	d.Attach("test", bus)
	ctx := context.Background()

	if err := d.SendCommand(ctx, probe, "R"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	reply, err := d.ReceiveReply(ctx, probe)
	if err != nil || reply != "7.02" {
		t.Fatalf("ReceiveReply = %q, %v", reply, err)
	}

	if err := d.SendCommand(ctx, probe, "Cal,foo"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if _, err := d.ReceiveReply(ctx, probe); !errors.Is(err, ErrProbeSyntax) {
		t.Fatalf("expected ErrProbeSyntax, got %v", err)
	}
	if _, err := d.ReceiveReply(ctx, probe); !errors.Is(err, ErrProbePending) {
		t.Fatalf("expected ErrProbePending, got %v", err)
	}
}

func TestSPI(t *testing.T) {
	port := &spitest.Playback{Playback: conntest.Playback{Ops: []conntest.IO{
		{W: []byte{0, 0, 0, 0}, R: []byte{0x41, 0xA4, 0x00, 0x00}},
	}}}
	d := NewSPI()
	if err := d.Attach("test", port, 500000); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	got, err := d.ReadSPI(context.Background(), sensor.SPIParams{
		Port:    "test",
		Payload: sensor.Payload{Length: 4, Format: sensor.FormatFloat32},
	})
	if err != nil {
		t.Fatalf("ReadSPI failed: %v", err)
	}
	if got.Value != 20.5 || got.Response != "41A40000" {
		t.Errorf("got %+v, want 20.5 / 41A40000", got)
	}
}

type fakeSerial struct {
	in     *strings.Reader
	out    bytes.Buffer
	closed bool
}

func (f *fakeSerial) Read(b []byte) (int, error)  { return f.in.Read(b) }
func (f *fakeSerial) Write(b []byte) (int, error) { return f.out.Write(b) }
func (f *fakeSerial) Close() error {
	f.closed = true
	return nil
}

func TestUART(t *testing.T) {
	port := &fakeSerial{in: strings.NewReader("T=21.5C\r\nignored\n")}
	var opened *serial.Config
	d := NewUART()
	d.open = func(c *serial.Config) (io.ReadWriteCloser, error) {
		opened = c
		return port, nil
	}
	defer d.Close()

	got, err := d.ReadUART(context.Background(), sensor.UARTParams{Port: "/dev/ttyS1", BaudRate: 9600, Request: "READ"})
	if err != nil {
		t.Fatalf("ReadUART failed: %v", err)
	}
	if got.Value != 21.5 || got.Response != "T=21.5C" {
		t.Errorf("got %+v", got)
	}
	if port.out.String() != "READ\r\n" {
		t.Errorf("request written as %q", port.out.String())
	}
	if opened == nil || opened.BaudRate != 9600 || opened.Address != "/dev/ttyS1" {
		t.Errorf("port opened with %+v", opened)
	}
}

func TestUART_NoReply(t *testing.T) {
	port := &fakeSerial{in: strings.NewReader("")}
	d := NewUART()
	d.open = func(*serial.Config) (io.ReadWriteCloser, error) { return port, nil }
	defer d.Close()

	if _, err := d.ReadUART(context.Background(), sensor.UARTParams{Port: "/dev/ttyS1", BaudRate: 9600}); err == nil {
		t.Fatal("expected an error for an empty reply")
	}
	if !port.closed {
		t.Error("port not closed after a read error")
	}
}

// slowSerial yields one byte per delay and never ends the line.
type slowSerial struct {
	delay  time.Duration
	closed bool
}

func (s *slowSerial) Read(b []byte) (int, error) {
	time.Sleep(s.delay)
	b[0] = '7'
	return 1, nil
}
func (s *slowSerial) Write(b []byte) (int, error) { return len(b), nil }
func (s *slowSerial) Close() error {
	s.closed = true
	return nil
}

func TestUART_DeadlineBoundsRead(t *testing.T) {
	port := &slowSerial{delay: 20 * time.Millisecond}
	d := NewUART()
	d.open = func(*serial.Config) (io.ReadWriteCloser, error) { return port, nil }
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := d.ReadUART(ctx, sensor.UARTParams{Port: "/dev/ttyS1", BaudRate: 9600})
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ReadUART err = %v, want deadline exceeded", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("ReadUART took %v with a 60ms deadline", elapsed)
	}
	if !port.closed {
		t.Error("port not closed after an interrupted line")
	}
}

func TestOneWire(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "28-000005e2fdc3")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "temperature"), []byte("21437\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w1 := NewOneWire(base)

	for _, id := range []string{"28-000005e2fdc3", "0x5e2fdc3", "5E2FDC3"} {
		got, err := w1.ReadOneWire(context.Background(), sensor.OneWireParams{DeviceID: id})
		if err != nil {
			t.Fatalf("ReadOneWire(%s) failed: %v", id, err)
		}
		if got.Value != 21.437 {
			t.Errorf("ReadOneWire(%s) = %v, want 21.437", id, got.Value)
		}
	}
	if _, err := w1.ReadOneWire(context.Background(), sensor.OneWireParams{DeviceID: "28-ffffffffffff"}); err == nil {
		t.Error("expected an error for a missing device")
	}
}
