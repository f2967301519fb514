// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package calibration

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
)

// Grammar:
//
//	expr    := term {('+'|'-') term}
//	term    := unary {('*'|'/') unary}
//	unary   := '-' unary | '+' unary | primary
//	primary := number | 'x' | '(' expr ')'
//	         | 'sqrt' '(' expr ')' | 'log' '(' expr ')' | 'ln' '(' expr ')'
//	         | 'pow' '(' expr ',' expr ')'
//
// log is base 10, ln is natural.

var errSyntax = errors.New("syntax error")

// maxDepth bounds recursion on hostile input such as "((((...".
const maxDepth = 64

// parser evaluates while it parses. It lives on the caller's stack.
type parser struct {
	src   string
	pos   int
	x     float64
	depth int
	err   error
	// quiet suppresses warnings when only checking syntax.
	quiet bool
}

// Evaluate computes expr with x bound to the given value. An empty
// expression returns x. Division by zero yields the left operand and
// trailing input is ignored; both are logged. On a syntax error x is
// returned unchanged.
func Evaluate(expr string, x float64) float64 {
	p := parser{src: expr, x: x}
	p.skipSpace()
	if p.pos == len(p.src) {
		return x
	}
	v := p.parseExpr()
	if p.err != nil {
		slog.Warn("Calibration expression rejected, using raw value", "expr", expr, "err", p.err)
		return x
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		slog.Warn("Ignoring trailing characters in calibration expression", "expr", expr, "pos", p.pos)
	}
	return v
}

// Check reports syntax errors and trailing input in expr.
func Check(expr string) error {
	p := parser{src: expr, quiet: true}
	p.skipSpace()
	if p.pos == len(p.src) {
		return nil
	}
	p.parseExpr()
	if p.err != nil {
		return p.err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return fmt.Errorf("%w: unexpected %q at %d", errSyntax, p.src[p.pos], p.pos)
	}
	return nil
}

func (p *parser) parseExpr() float64 {
	v := p.parseTerm()
	for p.err == nil {
		p.skipSpace()
		switch p.peek() {
		case '+':
			p.pos++
			v += p.parseTerm()
		case '-':
			p.pos++
			v -= p.parseTerm()
		default:
			return v
		}
	}
	return v
}

func (p *parser) parseTerm() float64 {
	v := p.parseUnary()
	for p.err == nil {
		p.skipSpace()
		switch p.peek() {
		case '*':
			p.pos++
			v *= p.parseUnary()
		case '/':
			p.pos++
			d := p.parseUnary()
			if d == 0 {
				if !p.quiet && p.err == nil {
					slog.Warn("Division by zero in calibration expression, keeping left operand", "expr", p.src)
				}
				continue
			}
			v /= d
		default:
			return v
		}
	}
	return v
}

func (p *parser) parseUnary() float64 {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		p.fail("expression nested too deeply")
		return 0
	}

	p.skipSpace()
	switch p.peek() {
	case '-':
		p.pos++
		return -p.parseUnary()
	case '+':
		p.pos++
		return p.parseUnary()
	default:
		return p.parsePrimary()
	}
}

func (p *parser) parsePrimary() float64 {
	p.skipSpace()
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		v := p.parseExpr()
		p.expect(')')
		return v
	case isDigit(c) || c == '.':
		return p.parseNumber()
	case isLetter(c):
		start := p.pos
		for p.pos < len(p.src) && isLetter(p.src[p.pos]) {
			p.pos++
		}
		return p.parseIdent(p.src[start:p.pos])
	case c == 0:
		p.fail("unexpected end of expression")
	default:
		p.fail(fmt.Sprintf("unexpected %q", c))
	}
	return 0
}

func (p *parser) parseIdent(name string) float64 {
	switch name {
	case "x", "X":
		return p.x
	case "sqrt":
		return math.Sqrt(p.parseCall())
	case "log":
		return math.Log10(p.parseCall())
	case "ln":
		return math.Log(p.parseCall())
	case "pow":
		p.skipSpace()
		p.expect('(')
		base := p.parseExpr()
		p.skipSpace()
		p.expect(',')
		exp := p.parseExpr()
		p.skipSpace()
		p.expect(')')
		return math.Pow(base, exp)
	default:
		p.fail(fmt.Sprintf("unknown identifier %q", name))
		return 0
	}
}

func (p *parser) parseCall() float64 {
	p.skipSpace()
	p.expect('(')
	v := p.parseExpr()
	p.skipSpace()
	p.expect(')')
	return v
}

func (p *parser) parseNumber() float64 {
	start := p.pos
	for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
		p.pos++
	}
	// exponent, only if digits follow
	if p.pos < len(p.src) && (p.src[p.pos] == 'e' || p.src[p.pos] == 'E') {
		q := p.pos + 1
		if q < len(p.src) && (p.src[q] == '+' || p.src[q] == '-') {
			q++
		}
		if q < len(p.src) && isDigit(p.src[q]) {
			for q < len(p.src) && isDigit(p.src[q]) {
				q++
			}
			p.pos = q
		}
	}
	v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		p.fail(fmt.Sprintf("bad number %q", p.src[start:p.pos]))
		return 0
	}
	return v
}

func (p *parser) expect(c byte) {
	if p.err != nil {
		return
	}
	if p.peek() != c {
		p.fail(fmt.Sprintf("expected %q", c))
		return
	}
	p.pos++
}

func (p *parser) fail(msg string) {
	if p.err == nil {
		p.err = fmt.Errorf("%w at %d: %s", errSyntax, p.pos, msg)
	}
}

func (p *parser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
