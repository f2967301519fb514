// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ffutop/modbus-iomodule/modbus"
)

const (
	acceptBacklog = 4
	frameBacklog  = 8
	acceptBackoff = 50 * time.Millisecond
)

// StreamListener serves a framing over TCP. Blocking socket calls run on
// per-listener and per-connection goroutines which hand their results to
// the control loop through channels.
type StreamListener struct {
	address      string
	framer       Framer
	writeTimeout time.Duration

	mu      sync.Mutex
	ln      net.Listener
	pending chan net.Conn
	done    chan struct{}
}

// NewStreamListener creates a listener for address. It does not bind until Listen.
func NewStreamListener(address string, framer Framer, writeTimeout time.Duration) *StreamListener {
	return &StreamListener{
		address:      address,
		framer:       framer,
		writeTimeout: writeTimeout,
	}
}

func (l *StreamListener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.address, err)
	}
	l.ln = ln
	l.pending = make(chan net.Conn, acceptBacklog)
	l.done = make(chan struct{})
	go acceptLoop(ln, l.pending, l.done)

	slog.Info("Modbus server listening", "framing", l.framer.Name(), "addr", ln.Addr().String())
	return nil
}

func acceptLoop(ln net.Listener, pending chan<- net.Conn, done <-chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("Failed to accept connection", "err", err)
			select {
			case <-done:
				return
			case <-time.After(acceptBackoff):
			}
			continue
		}
		select {
		case pending <- conn:
		case <-done:
			conn.Close()
			return
		}
	}
}

func (l *StreamListener) Accept() (Conn, bool) {
	l.mu.Lock()
	pending := l.pending
	l.mu.Unlock()

	if pending == nil {
		return nil, false
	}
	select {
	case conn := <-pending:
		return newStreamConn(conn, l.framer, l.writeTimeout), true
	default:
		return nil, false
	}
}

// Addr returns the bound address once listening, the configured one otherwise.
func (l *StreamListener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return l.ln.Addr().String()
	}
	return l.address
}

// Close stops listening and drops connections that were never admitted.
// The listener can be opened again with Listen.
func (l *StreamListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln == nil {
		return nil
	}
	close(l.done)
	err := l.ln.Close()
drain:
	for {
		select {
		case conn := <-l.pending:
			conn.Close()
		default:
			break drain
		}
	}
	l.ln, l.pending, l.done = nil, nil, nil
	return err
}

type streamConn struct {
	conn         net.Conn
	framer       Framer
	writeTimeout time.Duration

	frames    chan *Frame
	done      chan struct{}
	alive     atomic.Bool
	closeOnce sync.Once
}

func newStreamConn(conn net.Conn, framer Framer, writeTimeout time.Duration) *streamConn {
	c := &streamConn{
		conn:         conn,
		framer:       framer,
		writeTimeout: writeTimeout,
		frames:       make(chan *Frame, frameBacklog),
		done:         make(chan struct{}),
	}
	c.alive.Store(true)
	go c.readLoop()
	return c
}

func (c *streamConn) readLoop() {
	defer c.alive.Store(false)

	for {
		frame, err := c.framer.ReadFrame(c.conn)
		if err != nil {
			if errors.Is(err, ErrInvalidFrame) {
				slog.Warn("Dropping invalid frame", "addr", c.RemoteAddr(), "framing", c.framer.Name(), "err", err)
				continue
			}
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				slog.Info("Client disconnected", "addr", c.RemoteAddr())
			default:
				slog.Warn("Connection read error", "addr", c.RemoteAddr(), "err", err)
			}
			return
		}
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

func (c *streamConn) Next() (*Frame, bool) {
	select {
	case frame := <-c.frames:
		return frame, true
	default:
		return nil, false
	}
}

func (c *streamConn) Reply(req *Frame, pdu modbus.ProtocolDataUnit) error {
	raw, err := c.framer.EncodeResponse(req, pdu)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(raw); err != nil {
		c.alive.Store(false)
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

func (c *streamConn) Connected() bool {
	return c.alive.Load()
}

func (c *streamConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.alive.Store(false)
		err = c.conn.Close()
	})
	return err
}
