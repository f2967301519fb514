// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package fieldbus keeps every connected Modbus master in step with the
// canonical I/O state. Each client gets its own register image; once per
// control cycle the engine pulls what the client wrote, applies it to the
// canonical state and pushes the canonical state back.
package fieldbus

import (
	"log/slog"

	"github.com/ffutop/modbus-iomodule/internal/iostate"
	localslave "github.com/ffutop/modbus-iomodule/internal/local-slave"
	"github.com/ffutop/modbus-iomodule/internal/local-slave/model"
	"github.com/ffutop/modbus-iomodule/internal/sensor"
	"github.com/ffutop/modbus-iomodule/modbus"
	"github.com/ffutop/modbus-iomodule/transport"
)

const DefaultMaxClients = 4

// Register map of a client image.
const (
	// Coils 0-7 mirror the digital outputs.
	OutputCoil = 0
	// Writing 1 to coil 100+i resets the latch of input i. Coils 8-99 are
	// not mapped and answer illegal data address.
	LatchResetCoil = 100
	// Input registers 0-2 carry the analog inputs in millivolts.
	AnalogRegister = 0
)

// Layout sizes the image of one client.
var Layout = model.Layout{
	Coils:          LatchResetCoil + iostate.DigitalInputs,
	ReservedCoils:  []model.Range{{Start: OutputCoil + iostate.DigitalOutputs, End: LatchResetCoil}},
	DiscreteInputs: iostate.DigitalInputs,
	InputRegisters: sensor.LastMappedRegister + 1,
}

// IO is the canonical state clients are synchronized with.
type IO interface {
	InputStates() [iostate.DigitalInputs]bool
	OutputStates() [iostate.DigitalOutputs]bool
	Millivolts() [iostate.AnalogInputs]uint16
	SetOutput(index int, state bool) error
	ResetLatch(index int) error
}

// SensorRegisters provides the sensor values mapped after the analog inputs.
type SensorRegisters interface {
	InputRegisters() [sensor.MaxSensors]uint16
}

// Indicator shows whether any client is connected.
type Indicator interface {
	SetIndicator(on bool) error
}

type Options struct {
	MaxClients int
	// UnitIDs lists the unit ids served; requests for other ids are
	// answered with a gateway target exception. Empty serves every id.
	UnitIDs   []byte
	Sensors   SensorRegisters
	Indicator Indicator
}

type client struct {
	conn  transport.Conn
	slave *localslave.LocalSlave
}

// Engine owns the client slots. It is driven by the control loop and is
// not safe for concurrent use.
type Engine struct {
	listener  transport.Listener
	io        IO
	sensors   SensorRegisters
	indicator Indicator
	unitIDs   map[byte]bool

	slots     []*client
	connected int
}

func NewEngine(listener transport.Listener, io IO, opts Options) *Engine {
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	e := &Engine{
		listener:  listener,
		io:        io,
		sensors:   opts.Sensors,
		indicator: opts.Indicator,
		slots:     make([]*client, opts.MaxClients),
	}
	if len(opts.UnitIDs) > 0 {
		e.unitIDs = make(map[byte]bool, len(opts.UnitIDs))
		for _, id := range opts.UnitIDs {
			e.unitIDs[id] = true
		}
	}
	return e
}

// Start opens the listening endpoint.
func (e *Engine) Start() error {
	if err := e.listener.Listen(); err != nil {
		return err
	}
	slog.Info("Modbus server listening", "addr", e.listener.Addr(), "max_clients", len(e.slots))
	return nil
}

// Sync runs one synchronization cycle.
func (e *Engine) Sync() {
	e.AcceptNewClients()
	e.PollExistingClients()
}

// AcceptNewClients admits at most one waiting connection. Without a free
// slot the connection is closed.
func (e *Engine) AcceptNewClients() {
	conn, ok := e.listener.Accept()
	if !ok {
		return
	}

	i := e.freeSlot()
	if i < 0 {
		slog.Warn("Rejecting client, all slots in use", "remote", conn.RemoteAddr(), "max_clients", len(e.slots))
		conn.Close()
		return
	}

	c := &client{
		conn:  conn,
		slave: localslave.NewLocalSlave(model.NewDataModel(Layout)),
	}
	e.slots[i] = c
	e.push(c)
	e.setConnected(e.connected + 1)
	slog.Info("Client connected", "slot", i, "remote", conn.RemoteAddr(), "clients", e.connected)
}

func (e *Engine) freeSlot() int {
	for i, c := range e.slots {
		if c == nil {
			return i
		}
	}
	return -1
}

// PollExistingClients synchronizes every live client in ascending slot
// order and answers its pending requests. Dead clients are disconnected.
func (e *Engine) PollExistingClients() {
	for i, c := range e.slots {
		if c == nil {
			continue
		}
		if !c.conn.Connected() {
			e.DisconnectClient(i)
			continue
		}
		e.UpdateClientRegisters(i)
		e.serve(i, c)
	}
}

func (e *Engine) serve(i int, c *client) {
	for {
		req, ok := c.conn.Next()
		if !ok {
			return
		}
		var resp modbus.ProtocolDataUnit
		if e.unitIDs != nil && !e.unitIDs[req.SlaveID] {
			resp = req.Pdu.Exception(modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond)
		} else {
			resp = c.slave.Process(req.Pdu)
		}
		slog.Debug("Served request", "slot", i, "unit", req.SlaveID, "req", req.Pdu, "resp", resp)
		if err := c.conn.Reply(req, resp); err != nil {
			slog.Warn("Failed to reply, dropping client", "slot", i, "err", err)
			e.DisconnectClient(i)
			return
		}
	}
}

// UpdateClientRegisters reconciles one client image with the canonical
// state: client writes are applied first, then the canonical state is
// copied back into the image.
func (e *Engine) UpdateClientRegisters(i int) {
	if i < 0 || i >= len(e.slots) || e.slots[i] == nil {
		return
	}
	c := e.slots[i]
	e.pull(i, c)
	e.push(c)
}

func (e *Engine) pull(i int, c *client) {
	m := c.slave.Model()
	for ch := 0; ch < iostate.DigitalOutputs; ch++ {
		on, written := m.TakeWrittenCoil(OutputCoil + ch)
		if !written {
			continue
		}
		if err := e.io.SetOutput(ch, on); err != nil {
			slog.Warn("Failed to apply client output", "slot", i, "output", ch, "err", err)
			continue
		}
		slog.Debug("Client set output", "slot", i, "output", ch, "state", on)
	}
	for ch := 0; ch < iostate.DigitalInputs; ch++ {
		if reset, _ := m.Coil(LatchResetCoil + ch); reset {
			if err := e.io.ResetLatch(ch); err != nil {
				slog.Warn("Failed to reset latch", "slot", i, "input", ch, "err", err)
				continue
			}
			slog.Debug("Client reset latch", "slot", i, "input", ch)
		}
	}
}

func (e *Engine) push(c *client) {
	m := c.slave.Model()
	for ch, on := range e.io.InputStates() {
		m.SetDiscreteInput(ch, on)
	}
	for ch, on := range e.io.OutputStates() {
		m.SetCoil(OutputCoil+ch, on)
	}
	m.ClearWritten()
	for ch := 0; ch < iostate.DigitalInputs; ch++ {
		m.SetCoil(LatchResetCoil+ch, false)
	}
	for ch, mv := range e.io.Millivolts() {
		m.SetInputRegister(AnalogRegister+ch, mv)
	}
	if e.sensors != nil {
		for k, v := range e.sensors.InputRegisters() {
			m.SetInputRegister(sensor.FirstMappedRegister+k, v)
		}
	}
}

// DisconnectClient closes the client in slot i and frees the slot.
func (e *Engine) DisconnectClient(i int) {
	if i < 0 || i >= len(e.slots) || e.slots[i] == nil {
		return
	}
	c := e.slots[i]
	e.slots[i] = nil
	if err := c.conn.Close(); err != nil {
		slog.Debug("Error closing client", "slot", i, "err", err)
	}
	e.setConnected(e.connected - 1)
	slog.Info("Client disconnected", "slot", i, "remote", c.conn.RemoteAddr(), "clients", e.connected)
}

// StopAllClients disconnects every client and closes the endpoint.
func (e *Engine) StopAllClients() {
	for i := range e.slots {
		e.DisconnectClient(i)
	}
	if err := e.listener.Close(); err != nil {
		slog.Warn("Error closing listener", "err", err)
	}
}

// RestartServer drops every client and reopens the endpoint.
func (e *Engine) RestartServer() error {
	slog.Info("Restarting Modbus server")
	e.StopAllClients()
	return e.Start()
}

func (e *Engine) ConnectedCount() int {
	return e.connected
}

// Client describes one occupied slot.
type Client struct {
	Slot       int
	RemoteAddr string
}

// Clients lists the occupied slots in ascending order.
func (e *Engine) Clients() []Client {
	var clients []Client
	for i, c := range e.slots {
		if c != nil {
			clients = append(clients, Client{Slot: i, RemoteAddr: c.conn.RemoteAddr()})
		}
	}
	return clients
}

func (e *Engine) setConnected(n int) {
	was := e.connected > 0
	e.connected = n
	if now := n > 0; now != was && e.indicator != nil {
		if err := e.indicator.SetIndicator(now); err != nil {
			slog.Warn("Failed to drive client indicator", "err", err)
		}
	}
}
