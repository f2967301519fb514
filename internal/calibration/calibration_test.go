// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package calibration

import (
	"errors"
	"math"
	"testing"
)

func TestApply_Identity(t *testing.T) {
	for _, x := range []float64{0, 1, -1, 3.14159, 1e9, -273.15, math.SmallestNonzeroFloat64} {
		if got := Apply(x, Calibration{Method: Linear, Offset: 0, Scale: 1}); got != x {
			t.Errorf("linear identity(%v) = %v", x, got)
		}
		if got := Apply(x, Calibration{Method: Expression, Expr: "x"}); got != x {
			t.Errorf("expression identity(%v) = %v", x, got)
		}
		if got := Apply(x, Calibration{Method: Expression}); got != x {
			t.Errorf("empty expression(%v) = %v", x, got)
		}
	}
}

func TestApply_Linear(t *testing.T) {
	got := Apply(1000, Calibration{Method: Linear, Scale: 0.1, Offset: -40})
	if math.Abs(got-60) > 1e-9 {
		t.Errorf("Apply() = %v, want 60", got)
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		x    float64
		want float64
	}{
		{"2 + 3 * 4", 0, 14},
		{"sqrt(16)", 0, 4},
		{"pow(2,3)", 0, 8},
		{"pow( 2 , 3 )", 0, 8},
		{"10 / 0", 0, 10},
		{"(2 + 3) * 4", 0, 20},
		{"-x", 5, -5},
		{"--x", 5, 5},
		{"+x * 2", 2.5, 5},
		{"2 - 3 - 4", 0, -5},
		{"8 / 2 / 2", 0, 2},
		{"log(1000)", 0, 3},
		{"ln(1)", 0, 0},
		{"0.5*x*x + 2*x + 1", 2, 7},
		{"1.5e2 + x", 0, 150},
		{"x / (x - x)", 7, 7},
		{"3 * 4 )", 0, 12},
		{"  x  ", 1.25, 1.25},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got := Evaluate(tt.expr, tt.x)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Evaluate(%q, %v) = %v, want %v", tt.expr, tt.x, got, tt.want)
			}
		})
	}
}

func TestEvaluate_SyntaxErrorReturnsRaw(t *testing.T) {
	for _, expr := range []string{"2 +", "sqrt 4", "foo(1)", "pow(2)", "(((x", "*3"} {
		if got := Evaluate(expr, 42); got != 42 {
			t.Errorf("Evaluate(%q) = %v, want raw value 42", expr, got)
		}
	}
}

func TestEvaluate_DeepNesting(t *testing.T) {
	expr := ""
	for i := 0; i < 1000; i++ {
		expr += "("
	}
	if got := Evaluate(expr+"1", 9); got != 9 {
		t.Errorf("deeply nested expression = %v, want raw value", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cal     Calibration
		wantErr bool
	}{
		{"Linear", Calibration{Method: Linear, Scale: 2}, false},
		{"Polynomial", Calibration{Method: Polynomial, Expr: "0.01*x*x + 0.5*x - 3"}, false},
		{"Expression", Calibration{Method: Expression, Expr: "sqrt(x) * pow(x, 0.5)"}, false},
		{"Empty", Calibration{Method: Expression}, false},
		{"Malformed", Calibration{Method: Expression, Expr: "2 + * 3"}, true},
		{"Trailing", Calibration{Method: Polynomial, Expr: "x + 1 )"}, true},
		{"UnknownIdent", Calibration{Method: Expression, Expr: "y + 1"}, true},
		{"UnknownMethod", Calibration{Method: Method(9)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cal)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCalibration) {
				t.Errorf("error %v does not wrap ErrInvalidCalibration", err)
			}
		})
	}
}

func TestParseMethod(t *testing.T) {
	for _, m := range []Method{Linear, Polynomial, Expression} {
		got, err := ParseMethod(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMethod(%q) = %v, %v", m.String(), got, err)
		}
	}
	if got, err := ParseMethod(""); err != nil || got != Linear {
		t.Errorf("ParseMethod(\"\") = %v, %v", got, err)
	}
	if _, err := ParseMethod("spline"); !errors.Is(err, ErrInvalidCalibration) {
		t.Errorf("expected ErrInvalidCalibration, got %v", err)
	}
}

func BenchmarkEvaluate(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Evaluate("0.01*x*x + 0.5*x - sqrt(pow(x, 2)) / 3", float64(i))
	}
}
