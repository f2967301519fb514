// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hubertat/servicemaker"
	"github.com/spf13/pflag"
	"periph.io/x/host/v3"

	"github.com/ffutop/modbus-iomodule/internal/config"
	"github.com/ffutop/modbus-iomodule/internal/core"
	"github.com/ffutop/modbus-iomodule/internal/fieldbus"
	"github.com/ffutop/modbus-iomodule/internal/hal"
	"github.com/ffutop/modbus-iomodule/internal/iostate"
	"github.com/ffutop/modbus-iomodule/internal/local-slave/persistence"
	"github.com/ffutop/modbus-iomodule/internal/sensor"
	"github.com/ffutop/modbus-iomodule/internal/sensor/drivers"
	"github.com/ffutop/modbus-iomodule/transport"
	rtuovertcp "github.com/ffutop/modbus-iomodule/transport/rtu-over-tcp"
	"github.com/ffutop/modbus-iomodule/transport/tcp"
)

var service = servicemaker.ServiceMaker{
	User:               "iomodule",
	UserGroups:         []string{"gpio", "i2c", "spi", "dialout"},
	ServicePath:        "/etc/systemd/system/iomodule.service",
	ServiceDescription: "Modbus I/O module: digital and analog I/O plus sensors over Modbus TCP",
	ExecDir:            "/srv/iomodule",
	ExecName:           "modbus-iomodule",
}

func main() {
	config.Flags(pflag.CommandLine)
	install := pflag.Bool("install", false, "Install the systemd service and exit.")
	pflag.Parse()

	if *install {
		if err := service.InstallService(); err != nil {
			fmt.Printf("Failed to install service: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Service installed.")
		return
	}

	// Load Configuration
	configFile, _ := pflag.CommandLine.GetString("config")
	cfg, err := config.LoadConfig(configFile, pflag.CommandLine)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting Modbus I/O module...")

	if _, err := host.Init(); err != nil {
		slog.Warn("Failed to initialize host drivers, I2C and SPI sensors unavailable", "err", err)
	}

	board, err := hal.Open(cfg.Board)
	if err != nil {
		slog.Error("Failed to open board", "err", err)
		os.Exit(1)
	}
	defer board.Close()

	model := iostate.NewModel(board, cfg.IO.ModelConfig())

	storage, state, err := persistence.Open(cfg.Persistence)
	if err != nil {
		slog.Error("Failed to open persistence", "err", err)
		os.Exit(1)
	}
	retainer := persistence.NewRetainer(storage, state)
	defer retainer.Close()
	retainer.Attach(model)

	pipeline, closeSensors := setupSensors(cfg, model, board)
	defer closeSensors()

	unitIDs, _ := config.ParseUnitIDs(cfg.Modbus.UnitIDs)
	bus := fieldbus.NewEngine(newListener(cfg.Modbus), model, fieldbus.Options{
		MaxClients: cfg.Modbus.MaxClients,
		UnitIDs:    unitIDs,
		Sensors:    pipeline,
		Indicator:  board,
	})
	if err := bus.Start(); err != nil {
		slog.Error("Failed to start Modbus server", "addr", cfg.Modbus.Address, "err", err)
		os.Exit(1)
	}

	opts := core.Options{Interval: cfg.Loop.Interval}
	if cfg.SensorsFile != "" {
		opts.Store = config.NewSensorStore(cfg.SensorsFile, cfg.Sensors)
	}
	loop := core.New(model, pipeline, bus, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			if err := loop.RestartServer(ctx); err != nil {
				slog.Error("Failed to restart Modbus server", "err", err)
			}
			continue
		case syscall.SIGUSR1:
			slog.Info("Status", "state", loop.Snapshot())
			continue
		}
		break
	}

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()
	slog.Info("Goodbye.")
}

func newListener(cfg config.ModbusConfig) transport.Listener {
	switch cfg.Framing {
	case "rtu-over-tcp":
		return rtuovertcp.NewListener(cfg.Address, cfg.WriteTimeout)
	default:
		return tcp.NewListener(cfg.Address, cfg.WriteTimeout)
	}
}

// setupSensors builds the sensor pipeline with a reader for every protocol
// and loads the configured table. Sensors that fail to load stay disabled.
func setupSensors(cfg *config.Config, model *iostate.Model, board hal.Board) (*sensor.Pipeline, func()) {
	i2c := drivers.NewI2C()
	spi := drivers.NewSPI()
	uart := drivers.NewUART()

	pipeline := sensor.NewPipeline(sensor.Readers{
		Analog:  drivers.NewAnalog(model),
		I2C:     i2c,
		SPI:     spi,
		UART:    uart,
		OneWire: drivers.NewOneWire(cfg.Buses.OneWirePath),
		Pulse:   drivers.NewPulse(board),
		Probe:   i2c,
	}, cfg.Loop.ReadTimeout)

	records, errs := config.Records(cfg.Sensors)
	for _, err := range errs {
		slog.Warn("Invalid sensor configuration", "err", err)
	}
	if err := pipeline.Load(records); err != nil {
		slog.Warn("Some sensors are disabled", "err", err)
	}
	slog.Info("Sensor table loaded", "sensors", pipeline.Len())

	return pipeline, func() {
		for _, c := range []interface{ Close() error }{i2c, spi, uart} {
			if err := c.Close(); err != nil {
				slog.Warn("Error closing sensor bus", "err", err)
			}
		}
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
