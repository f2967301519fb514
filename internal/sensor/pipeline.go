// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/ffutop/modbus-iomodule/internal/calibration"
)

// Reading is the result of one successful synchronous read.
type Reading struct {
	Value float64
	// Response is the device output as shown to operators, e.g. the raw
	// bytes in hex. Empty means the formatted value is used.
	Response string
}

type AnalogReader interface {
	ReadAnalog(ctx context.Context, p AnalogParams) (Reading, error)
}

type I2CReader interface {
	ReadI2C(ctx context.Context, p I2CParams) (Reading, error)
}

type SPIReader interface {
	ReadSPI(ctx context.Context, p SPIParams) (Reading, error)
}

type UARTReader interface {
	ReadUART(ctx context.Context, p UARTParams) (Reading, error)
}

type OneWireReader interface {
	ReadOneWire(ctx context.Context, p OneWireParams) (Reading, error)
}

type PulseReader interface {
	ReadPulses(ctx context.Context, p PulseCounterParams) (Reading, error)
}

// ProbeTransport talks to command/response probes. Neither call may wait
// for the probe to finish processing.
type ProbeTransport interface {
	SendCommand(ctx context.Context, p AsyncProbeParams, cmd string) error
	ReceiveReply(ctx context.Context, p AsyncProbeParams) (string, error)
}

// Readers holds one reader per protocol. A nil reader makes sensors of that
// kind unsupported.
type Readers struct {
	Analog  AnalogReader
	I2C     I2CReader
	SPI     SPIReader
	UART    UARTReader
	OneWire OneWireReader
	Pulse   PulseReader
	Probe   ProbeTransport
}

func (rd *Readers) supports(k Kind) bool {
	switch k {
	case Analog:
		return rd.Analog != nil
	case I2C:
		return rd.I2C != nil
	case SPI:
		return rd.SPI != nil
	case UART:
		return rd.UART != nil
	case OneWire:
		return rd.OneWire != nil
	case PulseCounter:
		return rd.Pulse != nil
	case AsyncProbe:
		return rd.Probe != nil
	default:
		return false
	}
}

func (rd *Readers) read(ctx context.Context, params Params) (Reading, error) {
	switch p := params.(type) {
	case AnalogParams:
		return rd.Analog.ReadAnalog(ctx, p)
	case I2CParams:
		return rd.I2C.ReadI2C(ctx, p)
	case SPIParams:
		return rd.SPI.ReadSPI(ctx, p)
	case UARTParams:
		return rd.UART.ReadUART(ctx, p)
	case OneWireParams:
		return rd.OneWire.ReadOneWire(ctx, p)
	case PulseCounterParams:
		return rd.Pulse.ReadPulses(ctx, p)
	default:
		return Reading{}, fmt.Errorf("%w: %v is not read synchronously", ErrUnsupportedProtocol, params.Kind())
	}
}

// Pipeline owns the sensor table. Like the I/O model it is driven by the
// control loop and is not safe for concurrent use.
type Pipeline struct {
	readers     Readers
	readTimeout time.Duration
	records     []Record
}

func NewPipeline(readers Readers, readTimeout time.Duration) *Pipeline {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Pipeline{
		readers:     readers,
		readTimeout: readTimeout,
		records:     make([]Record, 0, MaxSensors),
	}
}

// Load replaces the sensor table. Records beyond MaxSensors are dropped and
// records that fail validation are kept disabled; both are reported in the
// returned error.
func (p *Pipeline) Load(records []Record) error {
	var errs []error
	if len(records) > MaxSensors {
		errs = append(errs, fmt.Errorf("%w: %d records, ignoring %d", ErrTableFull, len(records), len(records)-MaxSensors))
		records = records[:MaxSensors]
	}

	p.records = p.records[:0]
	for _, r := range records {
		if err := p.admit(&r); err != nil {
			errs = append(errs, fmt.Errorf("sensor %d (%s): %w", len(p.records), r.Name, err))
		}
		p.records = append(p.records, r)
	}
	return errors.Join(errs...)
}

// Add appends a record and returns its index.
func (p *Pipeline) Add(r Record) (int, error) {
	if len(p.records) >= MaxSensors {
		return -1, ErrTableFull
	}
	if err := p.admit(&r); err != nil {
		return -1, err
	}
	p.records = append(p.records, r)
	return len(p.records) - 1, nil
}

// admit validates r against the table and resets its runtime state. An
// invalid r is disabled.
func (p *Pipeline) admit(r *Record) error {
	*r = Record{
		Name:           r.Name,
		Enabled:        r.Enabled,
		Params:         r.Params,
		Calibration:    r.Calibration,
		SampleInterval: r.SampleInterval,
		Register:       r.Register,
	}
	err := p.check(r, len(p.records))
	if err != nil {
		r.Enabled = false
		r.LastError = err.Error()
	}
	return err
}

func (p *Pipeline) check(r *Record, index int) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if !p.readers.supports(r.Kind()) {
		return fmt.Errorf("%w: no %v reader", ErrUnsupportedProtocol, r.Kind())
	}
	if r.Register != 0 {
		for i := range p.records {
			if i != index && p.records[i].Register == r.Register {
				return fmt.Errorf("%w: register %d already mapped by sensor %d", ErrInvalidParams, r.Register, i)
			}
		}
	}
	return nil
}

// Len returns the number of records in the table.
func (p *Pipeline) Len() int {
	return len(p.records)
}

// Record returns a copy of one record.
func (p *Pipeline) Record(index int) (Record, error) {
	if index < 0 || index >= len(p.records) {
		return Record{}, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	return p.records[index], nil
}

// Records returns a copy of the table.
func (p *Pipeline) Records() []Record {
	return append([]Record(nil), p.records...)
}

// Enable turns scheduling of one sensor on or off. A sensor that fails
// validation cannot be enabled.
func (p *Pipeline) Enable(index int, enabled bool) error {
	r, err := p.at(index)
	if err != nil {
		return err
	}
	if enabled {
		if err := p.check(r, index); err != nil {
			return err
		}
		r.LastError = ""
	}
	r.Enabled = enabled
	return nil
}

// SetCalibration replaces the calibration of one sensor and recomputes its
// calibrated value from the stored raw value.
func (p *Pipeline) SetCalibration(index int, cal calibration.Calibration) error {
	r, err := p.at(index)
	if err != nil {
		return err
	}
	if err := calibration.Validate(cal); err != nil {
		return err
	}
	r.Calibration = cal
	if r.HasValue {
		r.CalibratedValue = calibration.Apply(r.RawValue, cal)
	}
	return nil
}

// SendProbeCommand sends cmd to an async probe. The reply is collected by
// Tick once the probe had time to answer.
func (p *Pipeline) SendProbeCommand(ctx context.Context, index int, cmd string, now time.Time) error {
	r, err := p.at(index)
	if err != nil {
		return err
	}
	params, ok := r.Params.(AsyncProbeParams)
	if !ok {
		return fmt.Errorf("%w: sensor %d is %v", ErrNotAsyncProbe, index, r.Kind())
	}
	if p.readers.Probe == nil {
		return fmt.Errorf("%w: no probe transport", ErrUnsupportedProtocol)
	}

	ctx, cancel := context.WithTimeout(ctx, p.readTimeout)
	defer cancel()
	if err := p.readers.Probe.SendCommand(ctx, params, cmd); err != nil {
		p.fail(r, err)
		return fmt.Errorf("%w: %v", ErrProtocolRead, err)
	}
	r.CommandPending = true
	r.LastCommandSent = now
	r.pendingCommand = cmd
	slog.Info("Sent probe command", "sensor", r.Name, "cmd", cmd)
	return nil
}

// TestRead reads one synchronous sensor immediately, enabled or not.
func (p *Pipeline) TestRead(ctx context.Context, index int, now time.Time) (Record, error) {
	r, err := p.at(index)
	if err != nil {
		return Record{}, err
	}
	if r.Kind() == AsyncProbe {
		return *r, fmt.Errorf("%w: async probes answer through SendProbeCommand", ErrUnsupportedProtocol)
	}
	if err := p.check(r, index); err != nil {
		return *r, err
	}
	err = p.sample(ctx, r, now)
	return *r, err
}

// Tick samples every enabled sensor that is due and advances async probes.
func (p *Pipeline) Tick(ctx context.Context, now time.Time) {
	for i := range p.records {
		r := &p.records[i]
		if !r.Enabled {
			continue
		}
		if r.Kind() == AsyncProbe {
			p.stepProbe(ctx, r, now)
			continue
		}
		if !r.lastAttempt.IsZero() && now.Sub(r.lastAttempt) < r.interval() {
			continue
		}
		p.sample(ctx, r, now)
	}
}

func (p *Pipeline) sample(ctx context.Context, r *Record, now time.Time) error {
	r.lastAttempt = now

	ctx, cancel := context.WithTimeout(ctx, p.readTimeout)
	defer cancel()
	reading, err := p.readers.read(ctx, r.Params)
	if err != nil {
		p.fail(r, err)
		return fmt.Errorf("%w: %v", ErrProtocolRead, err)
	}
	p.store(r, reading.Value, reading.Response, now)
	return nil
}

func (p *Pipeline) stepProbe(ctx context.Context, r *Record, now time.Time) {
	params := r.Params.(AsyncProbeParams)

	if !r.CommandPending {
		if !r.LastCommandSent.IsZero() && now.Sub(r.LastCommandSent) < ProbeIssueInterval {
			return
		}
		cmd := params.Command
		if cmd == "" {
			cmd = ProbeReadCommand
		}
		sctx, cancel := context.WithTimeout(ctx, p.readTimeout)
		err := p.readers.Probe.SendCommand(sctx, params, cmd)
		cancel()
		// A failed send still starts the issue interval, so a missing
		// probe is retried at the normal pace.
		r.LastCommandSent = now
		if err != nil {
			p.fail(r, err)
			return
		}
		r.CommandPending = true
		r.pendingCommand = cmd
		return
	}

	if now.Sub(r.LastCommandSent) < ProbeResponseWait {
		return
	}
	r.CommandPending = false
	cmd := r.pendingCommand
	r.pendingCommand = ""

	rctx, cancel := context.WithTimeout(ctx, p.readTimeout)
	reply, err := p.readers.Probe.ReceiveReply(rctx, params)
	cancel()
	if err != nil {
		p.fail(r, err)
		return
	}
	value, ok := ParseReply(reply)
	if !ok {
		r.Response = reply
		if isReadCommand(cmd, params) {
			p.fail(r, fmt.Errorf("reply %q carries no reading", reply))
		}
		return
	}
	p.store(r, value, reply, now)
}

func isReadCommand(cmd string, params AsyncProbeParams) bool {
	return cmd == ProbeReadCommand || cmd == params.Command
}

func (p *Pipeline) store(r *Record, raw float64, response string, now time.Time) {
	r.RawValue = raw
	r.CalibratedValue = calibration.Apply(raw, r.Calibration)
	if response == "" {
		response = strconv.FormatFloat(r.CalibratedValue, 'f', 3, 64)
	}
	r.Response = response
	r.HasValue = true
	r.LastSample = now
	r.LastError = ""
}

func (p *Pipeline) fail(r *Record, err error) {
	r.LastError = err.Error()
	slog.Warn("Sensor read failed, holding last value", "sensor", r.Name, "kind", r.Kind(), "err", err)
}

func (p *Pipeline) at(index int) (*Record, error) {
	if index < 0 || index >= len(p.records) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	return &p.records[index], nil
}

// InputRegisters returns the mapped sensor values as 0.01 fixed point,
// indexed by register - FirstMappedRegister. Unmapped registers and sensors
// without a value read 0.
func (p *Pipeline) InputRegisters() (regs [MaxSensors]uint16) {
	for i := range p.records {
		r := &p.records[i]
		if !r.Enabled || !r.HasValue || r.Register == 0 {
			continue
		}
		regs[r.Register-FirstMappedRegister] = uint16(FixedPoint(r.CalibratedValue))
	}
	return
}

// FixedPoint scales v by 100 and saturates it to the int16 range.
func FixedPoint(v float64) int16 {
	v = math.Round(v * 100)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
