// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Format is the encoding of the value inside a bus payload.
type Format int

const (
	FormatUint16LE Format = iota
	FormatUint8
	FormatUint16BE
	FormatInt16BE
	FormatUint32BE
	FormatUint32LE
	FormatFloat32
)

var formatNames = [...]string{
	FormatUint16LE: "uint16_le",
	FormatUint8:    "uint8",
	FormatUint16BE: "uint16_be",
	FormatInt16BE:  "int16_be",
	FormatUint32BE: "uint32_be",
	FormatUint32LE: "uint32_le",
	FormatFloat32:  "float32",
}

var formatSizes = [...]int{
	FormatUint16LE: 2,
	FormatUint8:    1,
	FormatUint16BE: 2,
	FormatInt16BE:  2,
	FormatUint32BE: 4,
	FormatUint32LE: 4,
	FormatFloat32:  4,
}

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("format(%d)", int(f))
	}
	return formatNames[f]
}

// Size returns the number of bytes the format occupies.
func (f Format) Size() int {
	if f < 0 || int(f) >= len(formatSizes) {
		return 0
	}
	return formatSizes[f]
}

// ParseFormat accepts the names returned by Format.String. An empty name
// selects uint16_le.
func ParseFormat(name string) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return FormatUint16LE, nil
	}
	for f, n := range formatNames {
		if n == name {
			return Format(f), nil
		}
	}
	return 0, fmt.Errorf("%w: data format %q", ErrInvalidParams, name)
}

// MaxPayload is the largest transfer a bus sensor may request.
const MaxPayload = 16

// Payload locates a value inside the bytes read from a bus device.
type Payload struct {
	Offset int
	Length int
	Format Format
}

func (p Payload) validate() error {
	if p.Length < 1 || p.Length > MaxPayload {
		return fmt.Errorf("%w: data length %d outside 1-%d", ErrInvalidParams, p.Length, MaxPayload)
	}
	if p.Format.Size() == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidParams, p.Format)
	}
	if p.Offset < 0 || p.Offset+p.Format.Size() > p.Length {
		return fmt.Errorf("%w: %v at offset %d does not fit %d bytes", ErrInvalidParams, p.Format, p.Offset, p.Length)
	}
	return nil
}

// Decode extracts the value from data.
func (p Payload) Decode(data []byte) (float64, error) {
	size := p.Format.Size()
	if size == 0 || p.Offset < 0 || p.Offset+size > len(data) {
		return 0, fmt.Errorf("%w: %v at offset %d in %d bytes", ErrProtocolRead, p.Format, p.Offset, len(data))
	}
	b := data[p.Offset : p.Offset+size]
	switch p.Format {
	case FormatUint8:
		return float64(b[0]), nil
	case FormatUint16BE:
		return float64(binary.BigEndian.Uint16(b)), nil
	case FormatUint16LE:
		return float64(binary.LittleEndian.Uint16(b)), nil
	case FormatInt16BE:
		return float64(int16(binary.BigEndian.Uint16(b))), nil
	case FormatUint32BE:
		return float64(binary.BigEndian.Uint32(b)), nil
	case FormatUint32LE:
		return float64(binary.LittleEndian.Uint32(b)), nil
	default:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	}
}
