// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package drivers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/modbus-iomodule/internal/sensor"
)

const (
	// Default timeout
	serialTimeout     = 150 * time.Millisecond
	serialIdleTimeout = 60 * time.Second

	maxLineLength = 64
)

var ErrNoReply = errors.New("no reply before timeout")

type openFunc func(*serial.Config) (io.ReadWriteCloser, error)

func openSerial(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(c)
}

// serialPort has configuration and I/O controller.
type serialPort struct {
	// Serial port configuration.
	serial.Config

	IdleTimeout time.Duration

	open openFunc

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port         io.ReadWriteCloser
	lastActivity time.Time
	closeTimer   *time.Timer
}

// connect connects to the serial port if it is not connected. Caller must hold the mutex.
func (sp *serialPort) connect(ctx context.Context) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	if sp.port == nil {
		port, err := sp.open(&sp.Config)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", sp.Config.Address, err)
		}
		sp.port = port
	}
	return nil
}

func (sp *serialPort) Close() (err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.closeTimer != nil {
		sp.closeTimer.Stop()
	}
	return sp.close()
}

// close closes the serial port if it is connected. Caller must hold the mutex.
func (sp *serialPort) close() (err error) {
	if sp.port != nil {
		err = sp.port.Close()
		sp.port = nil
	}
	return
}

// readLine writes request, if any, and reads one line of reply.
func (sp *serialPort) readLine(ctx context.Context, request string) (string, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if err := sp.connect(ctx); err != nil {
		return "", err
	}
	sp.lastActivity = time.Now()
	sp.startCloseTimer()

	if request != "" {
		if _, err := io.WriteString(sp.port, request+"\r\n"); err != nil {
			sp.close()
			return "", fmt.Errorf("write %s: %w", sp.Address, err)
		}
	}

	var line []byte
	b := make([]byte, 1)
	for len(line) < maxLineLength {
		// A trickling device must not hold the loop past ctx.
		if err := ctx.Err(); err != nil {
			sp.close()
			return "", fmt.Errorf("read %s: %w", sp.Address, err)
		}
		n, err := sp.port.Read(b)
		if n == 1 {
			if b[0] == '\n' {
				break
			}
			line = append(line, b[0])
			continue
		}
		if err != nil {
			if len(line) > 0 {
				break
			}
			sp.close()
			return "", fmt.Errorf("read %s: %w", sp.Address, err)
		}
		// zero bytes without error: the port timed out
		if len(line) > 0 {
			break
		}
		return "", fmt.Errorf("read %s: %w", sp.Address, ErrNoReply)
	}
	return string(bytes.TrimSpace(line)), nil
}

func (sp *serialPort) startCloseTimer() {
	if sp.IdleTimeout <= 0 {
		return
	}
	if sp.closeTimer == nil {
		sp.closeTimer = time.AfterFunc(sp.IdleTimeout, sp.closeIdle)
	} else {
		sp.closeTimer.Reset(sp.IdleTimeout)
	}
}

// closeIdle closes the connection if last activity is passed behind IdleTimeout.
func (sp *serialPort) closeIdle() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.IdleTimeout <= 0 {
		return
	}

	if idle := time.Since(sp.lastActivity); idle >= sp.IdleTimeout && sp.port != nil {
		slog.Debug("Closing idle serial port", "port", sp.Address, "idle", idle)
		sp.close()
	}
}

// UART reads line oriented serial sensors. Ports are opened on first use and
// closed again after a minute without reads.
type UART struct {
	mu    sync.Mutex
	ports map[string]*serialPort
	open  openFunc
}

func NewUART() *UART {
	return &UART{ports: make(map[string]*serialPort), open: openSerial}
}

func (d *UART) port(p sensor.UARTParams) *serialPort {
	d.mu.Lock()
	defer d.mu.Unlock()

	sp, ok := d.ports[p.Port]
	if !ok {
		sp = &serialPort{
			Config: serial.Config{
				Address:  p.Port,
				BaudRate: p.BaudRate,
				DataBits: 8,
				StopBits: 1,
				Parity:   "N",
				Timeout:  serialTimeout,
			},
			IdleTimeout: serialIdleTimeout,
			open:        d.open,
		}
		d.ports[p.Port] = sp
	} else if sp.BaudRate != p.BaudRate {
		slog.Warn("Serial port shared with a different baud rate, keeping the first", "port", p.Port, "baud", sp.BaudRate, "requested", p.BaudRate)
	}
	return sp
}

func (d *UART) ReadUART(ctx context.Context, p sensor.UARTParams) (sensor.Reading, error) {
	line, err := d.port(p).readLine(ctx, p.Request)
	if err != nil {
		return sensor.Reading{}, err
	}
	v, err := sensor.ParseNumeric(line)
	if err != nil {
		return sensor.Reading{}, err
	}
	return sensor.Reading{Value: v, Response: line}, nil
}

// Close closes every open port.
func (d *UART) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, sp := range d.ports {
		errs = append(errs, sp.Close())
	}
	return errors.Join(errs...)
}
