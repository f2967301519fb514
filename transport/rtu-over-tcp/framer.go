// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"fmt"
	"io"
	"time"

	"github.com/ffutop/modbus-iomodule/modbus"
	"github.com/ffutop/modbus-iomodule/modbus/rtu"
	"github.com/ffutop/modbus-iomodule/transport"
)

// Framer reads RTU frames carried raw over a TCP stream.
//
// RTU has no length field, so the frame size comes from the function code.
// Requests whose size cannot be derived end the connection, since the
// stream position is lost.
type Framer struct{}

func (Framer) Name() string { return "rtu-over-tcp" }

func (Framer) ReadFrame(r io.Reader) (*transport.Frame, error) {
	buf := make([]byte, rtu.MaxSize)
	raw, err := rtu.ReadRequest(r, buf)
	if err != nil {
		return nil, err
	}
	adu, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrInvalidFrame, err)
	}
	return &transport.Frame{SlaveID: adu.SlaveID, Pdu: adu.Pdu}, nil
}

func (Framer) EncodeResponse(req *transport.Frame, pdu modbus.ProtocolDataUnit) ([]byte, error) {
	adu := &ApplicationDataUnit{SlaveID: req.SlaveID, Pdu: pdu}
	return adu.Encode()
}

// NewListener creates an RTU over TCP listener on address.
func NewListener(address string, writeTimeout time.Duration) *transport.StreamListener {
	return transport.NewStreamListener(address, Framer{}, writeTimeout)
}
