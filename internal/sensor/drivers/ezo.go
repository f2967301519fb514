// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package drivers

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"

	"github.com/ffutop/modbus-iomodule/internal/sensor"
)

// Status codes leading an EZO reply.
const (
	ezoSuccess     = 1
	ezoSyntaxError = 2
	ezoPending     = 254
	ezoNoData      = 255

	ezoReplySize = 32
)

var (
	ErrProbeSyntax  = errors.New("probe rejected command")
	ErrProbePending = errors.New("probe still processing")
	ErrProbeNoData  = errors.New("probe has no data")
)

// SendCommand writes cmd to the probe. It does not wait for the result.
func (d *I2C) SendCommand(ctx context.Context, p sensor.AsyncProbeParams, cmd string) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	b, err := d.bus(p.Bus)
	if err != nil {
		return err
	}
	dev := &i2c.Dev{Bus: b, Addr: p.Address}
	if err := dev.Tx([]byte(cmd), nil); err != nil {
		return fmt.Errorf("probe 0x%02X: send %q: %w", p.Address, cmd, err)
	}
	return nil
}

// ReceiveReply reads the answer to the last command.
func (d *I2C) ReceiveReply(ctx context.Context, p sensor.AsyncProbeParams) (string, error) {
	if err := canceled(ctx); err != nil {
		return "", err
	}
	b, err := d.bus(p.Bus)
	if err != nil {
		return "", err
	}
	dev := &i2c.Dev{Bus: b, Addr: p.Address}
	buf := make([]byte, ezoReplySize)
	if err := dev.Tx(nil, buf); err != nil {
		return "", fmt.Errorf("probe 0x%02X: receive: %w", p.Address, err)
	}

	switch buf[0] {
	case ezoSuccess:
	case ezoSyntaxError:
		return "", fmt.Errorf("probe 0x%02X: %w", p.Address, ErrProbeSyntax)
	case ezoPending:
		return "", fmt.Errorf("probe 0x%02X: %w", p.Address, ErrProbePending)
	case ezoNoData:
		return "", fmt.Errorf("probe 0x%02X: %w", p.Address, ErrProbeNoData)
	default:
		return "", fmt.Errorf("probe 0x%02X: unknown status %d", p.Address, buf[0])
	}

	reply := buf[1:]
	if i := bytes.IndexByte(reply, 0); i >= 0 {
		reply = reply[:i]
	}
	return string(reply), nil
}
