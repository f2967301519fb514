// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package hal

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/ffutop/modbus-iomodule/internal/config"
	"github.com/ffutop/modbus-iomodule/internal/iostate"
)

const pulsePollInterval = time.Millisecond

// RPIO drives Raspberry Pi GPIO through /dev/gpiomem. Analog inputs are read
// from an MCP3208 on SPI0 when configured.
type RPIO struct {
	inputs    []rpio.Pin
	outputs   []rpio.Pin
	indicator *rpio.Pin

	adc        bool
	adcChannel []int

	mu       sync.Mutex
	counters map[int]*atomic.Uint64
	polling  bool
	done     chan struct{}
	wg       sync.WaitGroup
}

func OpenRPIO(cfg config.BoardConfig) (*RPIO, error) {
	if len(cfg.InputPins) != iostate.DigitalInputs || len(cfg.OutputPins) != iostate.DigitalOutputs {
		return nil, fmt.Errorf("rpio board needs %d input and %d output pins, got %d and %d",
			iostate.DigitalInputs, iostate.DigitalOutputs, len(cfg.InputPins), len(cfg.OutputPins))
	}
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open gpio: %w", err)
	}

	b := &RPIO{
		counters: make(map[int]*atomic.Uint64),
		done:     make(chan struct{}),
	}
	for _, n := range cfg.InputPins {
		pin := rpio.Pin(n)
		pin.Input()
		b.inputs = append(b.inputs, pin)
	}
	for _, n := range cfg.OutputPins {
		pin := rpio.Pin(n)
		pin.Output()
		b.outputs = append(b.outputs, pin)
	}
	if cfg.IndicatorPin >= 0 {
		pin := rpio.Pin(cfg.IndicatorPin)
		pin.Output()
		pin.Low()
		b.indicator = &pin
	}

	if cfg.ADC.Enabled {
		if err := rpio.SpiBegin(rpio.Spi0); err != nil {
			rpio.Close()
			return nil, fmt.Errorf("failed to begin spi0 for adc: %w", err)
		}
		rpio.SpiChipSelect(uint8(cfg.ADC.ChipSelect))
		rpio.SpiSpeed(cfg.ADC.SpeedHz)
		b.adc = true
		b.adcChannel = cfg.ADC.Channels
	}
	return b, nil
}

func (b *RPIO) ReadInput(index int) (bool, error) {
	if err := checkIndex("input", index, len(b.inputs)); err != nil {
		return false, err
	}
	return b.inputs[index].Read() == rpio.High, nil
}

func (b *RPIO) WriteOutput(index int, level bool) error {
	if err := checkIndex("output", index, len(b.outputs)); err != nil {
		return err
	}
	if level {
		b.outputs[index].High()
	} else {
		b.outputs[index].Low()
	}
	return nil
}

func (b *RPIO) SetPullup(index int, enabled bool) error {
	if err := checkIndex("input", index, len(b.inputs)); err != nil {
		return err
	}
	if enabled {
		b.inputs[index].PullUp()
	} else {
		b.inputs[index].PullOff()
	}
	return nil
}

// ReadADC performs one single-ended MCP3208 conversion.
func (b *RPIO) ReadADC(channel int) (uint16, error) {
	if !b.adc {
		return 0, iostate.ErrNotWired
	}
	if err := checkIndex("analog", channel, len(b.adcChannel)); err != nil {
		return 0, err
	}
	ch := b.adcChannel[channel]
	buf := []byte{0x06 | byte(ch>>2), byte(ch&0x03) << 6, 0}
	rpio.SpiExchange(buf)
	return uint16(buf[1]&0x0F)<<8 | uint16(buf[2]), nil
}

func (b *RPIO) PulseCount(pin int) (uint64, error) {
	if pin < 0 || pin > 53 {
		return 0, fmt.Errorf("gpio %d out of range", pin)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	counter, ok := b.counters[pin]
	if !ok {
		p := rpio.Pin(pin)
		p.Input()
		p.Detect(rpio.RiseEdge)
		counter = new(atomic.Uint64)
		b.counters[pin] = counter
		if !b.polling {
			b.polling = true
			b.wg.Add(1)
			go b.pollEdges()
		}
	}
	return counter.Load(), nil
}

// pollEdges samples the edge detect status of every counted pin. Reading
// the status clears it, so pulses faster than the poll interval merge.
func (b *RPIO) pollEdges() {
	defer b.wg.Done()
	ticker := time.NewTicker(pulsePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
		}
		b.mu.Lock()
		for pin, counter := range b.counters {
			if rpio.Pin(pin).EdgeDetected() {
				counter.Add(1)
			}
		}
		b.mu.Unlock()
	}
}

func (b *RPIO) SetIndicator(on bool) error {
	if b.indicator == nil {
		return iostate.ErrNotWired
	}
	if on {
		b.indicator.High()
	} else {
		b.indicator.Low()
	}
	return nil
}

func (b *RPIO) Close() error {
	close(b.done)
	b.wg.Wait()

	for pin := range b.counters {
		rpio.Pin(pin).Detect(rpio.NoEdge)
	}
	for _, out := range b.outputs {
		out.Low()
	}
	if b.indicator != nil {
		b.indicator.Low()
	}
	if b.adc {
		rpio.SpiEnd(rpio.Spi0)
	}
	return rpio.Close()
}
