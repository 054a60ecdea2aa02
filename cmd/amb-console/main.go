// Command amb-console is an interactive console for one AMB front end.
//
// It opens an FEMC session on a node and exposes the band power, bias,
// IV sweep and first-LO tuning operations as console commands. With the
// loopback backend a simulated front end answers every register, so the
// console is fully usable without hardware.
//
// Usage:
//
//	amb-console [flags]
//
// Flags:
//
//	-config string   Station configuration file (YAML)
//	-backend string  Bus backend: socketcan, loopback (default from config)
//	-iface string    SocketCAN interface name (default from config)
//	-node uint       Node address to attach to (default 0x13)
//	-band int        Band selected at startup (default 6)
//	-log string      Write the CBOR protocol event log to this file
//
// Examples:
//
//	# Drive real hardware on can0
//	amb-console -backend socketcan -iface can0 -node 0x13
//
//	# Explore the command set against the simulated front end
//	amb-console -backend loopback -log /tmp/amb-events.cbor
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/amb-protocol/amb-go/cmd/amb-console/interactive"
	"github.com/amb-protocol/amb-go/pkg/config"
	"github.com/amb-protocol/amb-go/pkg/device"
	"github.com/amb-protocol/amb-go/pkg/examples"
	amblog "github.com/amb-protocol/amb-go/pkg/log"
	"github.com/amb-protocol/amb-go/pkg/transport"
)

func main() {
	var (
		configFile = flag.String("config", "", "Station configuration file (YAML)")
		backend    = flag.String("backend", "", "Bus backend: socketcan, loopback")
		iface      = flag.String("iface", "", "SocketCAN interface name")
		nodeAddr   = flag.Uint("node", 0x13, "Node address to attach to")
		band       = flag.Int("band", 6, "Band selected at startup")
		logFile    = flag.String("log", "", "Write the CBOR protocol event log to this file")
	)
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *backend != "" {
		cfg.Bus.Backend = *backend
	}
	if *iface != "" {
		cfg.Bus.Interface = *iface
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *band < 1 || *band > 10 {
		log.Fatalf("Band %d out of range 1..10", *band)
	}

	logger, closeLog, err := openLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}
	defer closeLog()

	bus, err := openBus(cfg, logger, uint8(*nodeAddr))
	if err != nil {
		log.Fatalf("Failed to open bus: %v", err)
	}
	defer bus.Close()

	node := device.NewNode(bus, uint8(*nodeAddr), device.WithLogger(logger),
		device.WithTimeouts(cfg.Bus.SendTimeout.Std(), cfg.Bus.ReceiveTimeout.Std()))

	console, err := interactive.New(node, cfg, *band, logger)
	if err != nil {
		log.Fatalf("Failed to start console: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	console.Run(ctx, cancel)
}

// openBus builds the configured transport. The loopback backend carries a
// simulated front end at the target address.
func openBus(cfg config.Config, logger amblog.Logger, addr uint8) (transport.Bus, error) {
	switch cfg.Bus.Backend {
	case config.BackendSocketCAN:
		return transport.DialSocketCAN(cfg.Bus.Interface, transport.WithSocketCANLogger(logger))
	case config.BackendLoopback:
		bus := transport.NewLoopback(transport.WithLoopbackLogger(logger))
		examples.NewFrontEnd().Attach(bus, addr)
		return bus, nil
	}
	return nil, fmt.Errorf("unknown bus backend %q", cfg.Bus.Backend)
}

func openLogger(cfg config.LogConfig) (amblog.Logger, func(), error) {
	if cfg.File == "" {
		return nil, func() {}, nil
	}
	fl, err := amblog.NewFileLogger(cfg.File)
	if err != nil {
		return nil, nil, err
	}
	return fl, func() { fl.Close() }, nil
}
