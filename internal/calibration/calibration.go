// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package calibration converts raw sensor readings to engineering units.
package calibration

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidCalibration = errors.New("invalid calibration")

type Method int

const (
	Linear Method = iota
	Polynomial
	Expression
)

func (m Method) String() string {
	switch m {
	case Linear:
		return "linear"
	case Polynomial:
		return "polynomial"
	case Expression:
		return "expression"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseMethod accepts the names returned by Method.String, case-insensitively.
// An empty name selects Linear.
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "linear":
		return Linear, nil
	case "polynomial":
		return Polynomial, nil
	case "expression":
		return Expression, nil
	default:
		return 0, fmt.Errorf("%w: unknown method %q", ErrInvalidCalibration, name)
	}
}

// Calibration maps a raw reading to a calibrated value. Linear uses Offset
// and Scale; Polynomial and Expression evaluate Expr with x bound to the raw
// reading. The two share one evaluator.
type Calibration struct {
	Method Method
	Offset float64
	Scale  float64
	Expr   string
}

// Identity returns the calibration that leaves readings unchanged.
func Identity() Calibration {
	return Calibration{Method: Linear, Scale: 1}
}

// Apply returns the calibrated value of raw.
func Apply(raw float64, cal Calibration) float64 {
	switch cal.Method {
	case Polynomial, Expression:
		return Evaluate(cal.Expr, raw)
	default:
		return raw*cal.Scale + cal.Offset
	}
}

// Validate rejects calibrations that cannot be applied as written.
func Validate(cal Calibration) error {
	switch cal.Method {
	case Linear:
		return nil
	case Polynomial, Expression:
		if err := Check(cal.Expr); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCalibration, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown method %d", ErrInvalidCalibration, int(cal.Method))
	}
}
