// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/ffutop/modbus-iomodule/modbus"
	"github.com/ffutop/modbus-iomodule/transport"
)

// Framer reads and writes Modbus TCP (MBAP) frames.
type Framer struct{}

func (Framer) Name() string { return "tcp" }

// ReadFrame reads the MBAP header, then exactly the body it announces.
// A length outside 2..254 leaves the stream unusable and is returned as a
// plain error so the connection gets dropped.
func (Framer) ReadFrame(r io.Reader) (*transport.Frame, error) {
	var header [tcpHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(header[4:]))
	if length < 2 || length > tcpMaxSize-6 {
		return nil, fmt.Errorf("modbus: mbap length %d out of range", length)
	}

	raw := make([]byte, 6+length)
	copy(raw, header[:])
	if _, err := io.ReadFull(r, raw[tcpHeaderSize:]); err != nil {
		return nil, err
	}
	adu, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrInvalidFrame, err)
	}
	if adu.ProtocolID != 0 {
		return nil, fmt.Errorf("%w: protocol id %d", transport.ErrInvalidFrame, adu.ProtocolID)
	}
	return &transport.Frame{
		TransactionID: adu.TransactionID,
		ProtocolID:    adu.ProtocolID,
		SlaveID:       adu.SlaveID,
		Pdu:           adu.Pdu,
	}, nil
}

func (Framer) EncodeResponse(req *transport.Frame, pdu modbus.ProtocolDataUnit) ([]byte, error) {
	adu := &ApplicationDataUnit{
		TransactionID: req.TransactionID,
		ProtocolID:    req.ProtocolID,
		SlaveID:       req.SlaveID,
		Pdu:           pdu,
	}
	return adu.Encode()
}

// NewListener creates a Modbus TCP listener on address.
func NewListener(address string, writeTimeout time.Duration) *transport.StreamListener {
	return transport.NewStreamListener(address, Framer{}, writeTimeout)
}
