// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"errors"
	"io"

	"github.com/ffutop/modbus-iomodule/modbus"
)

// ErrInvalidFrame marks a frame that was read completely but cannot be served
// (bad CRC, foreign protocol id). The stream stays in sync, so the connection
// is kept and the frame is dropped.
var ErrInvalidFrame = errors.New("modbus: invalid frame")

// Frame is a decoded request with the addressing needed to answer it.
// TransactionID and ProtocolID are only meaningful for MBAP framing.
type Frame struct {
	TransactionID uint16
	ProtocolID    uint16
	SlaveID       byte
	Pdu           modbus.ProtocolDataUnit
}

// Framer converts between a byte stream and request frames.
type Framer interface {
	Name() string
	// ReadFrame blocks until one whole request has been read from r.
	ReadFrame(r io.Reader) (*Frame, error)
	// EncodeResponse wraps pdu in the envelope of req.
	EncodeResponse(req *Frame, pdu modbus.ProtocolDataUnit) ([]byte, error)
}

// Conn is one connected Modbus master as seen from the control loop.
// None of its methods block on the network.
type Conn interface {
	// Next returns the oldest request not yet served, if any.
	Next() (*Frame, bool)
	Reply(req *Frame, pdu modbus.ProtocolDataUnit) error
	Connected() bool
	RemoteAddr() string
	Close() error
}

// Listener is the listening endpoint polled by the control loop.
type Listener interface {
	// Listen opens the endpoint. Calling it on an open listener is a no-op.
	Listen() error
	// Accept returns a connection waiting to be admitted, if any.
	Accept() (Conn, bool)
	Addr() string
	Close() error
}
