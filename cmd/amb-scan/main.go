// Command amb-scan probes an AMB bus and reports what it finds.
//
// It enumerates the nodes on the bus and, per node, can open an FEMC
// session to read firmware versions, scan the electronic serial numbers
// and query the AMBSI health monitors.
//
// Usage:
//
//	amb-scan [flags]
//
// Flags:
//
//	-config string   Station configuration file (YAML)
//	-backend string  Bus backend: socketcan, loopback (default from config)
//	-iface string    SocketCAN interface name (default from config)
//	-node uint       Probe only this node address (default: all found)
//	-versions        Read FEMC, FPGA and AMBSI firmware versions
//	-esn             Scan and list electronic serial numbers
//	-ambsi           Read the AMBSI health monitors
//	-log string      Write the CBOR protocol event log to this file
//
// Examples:
//
//	# List the nodes on can0
//	amb-scan -backend socketcan -iface can0
//
//	# Full report for node 0x13 using a station config
//	amb-scan -config /etc/amb/station.yaml -node 0x13 -versions -esn -ambsi
//
//	# Exercise the tool against the built-in simulated front end
//	amb-scan -backend loopback -versions -esn
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/amb-protocol/amb-go/pkg/config"
	"github.com/amb-protocol/amb-go/pkg/device"
	"github.com/amb-protocol/amb-go/pkg/examples"
	"github.com/amb-protocol/amb-go/pkg/femc"
	amblog "github.com/amb-protocol/amb-go/pkg/log"
	"github.com/amb-protocol/amb-go/pkg/transport"
)

func main() {
	var (
		configFile = flag.String("config", "", "Station configuration file (YAML)")
		backend    = flag.String("backend", "", "Bus backend: socketcan, loopback")
		iface      = flag.String("iface", "", "SocketCAN interface name")
		nodeAddr   = flag.Uint("node", 0, "Probe only this node address")
		versions   = flag.Bool("versions", false, "Read FEMC, FPGA and AMBSI firmware versions")
		esn        = flag.Bool("esn", false, "Scan and list electronic serial numbers")
		ambsi      = flag.Bool("ambsi", false, "Read the AMBSI health monitors")
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

	logger, closeLog, err := openLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}
	defer closeLog()

	bus, err := openBus(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open bus: %v", err)
	}
	defer bus.Close()

	probe := device.NewNode(bus, 0, device.WithLogger(logger),
		device.WithTimeouts(cfg.Bus.SendTimeout.Std(), cfg.Bus.ReceiveTimeout.Std()))
	nodes, err := probe.FindNodes()
	if err != nil {
		log.Fatalf("Node discovery failed: %v", err)
	}
	if len(nodes) == 0 {
		fmt.Println("No nodes found.")
		os.Exit(1)
	}

	for _, found := range nodes {
		if *nodeAddr != 0 && uint(found.Address) != *nodeAddr {
			continue
		}
		fmt.Printf("Node %#02x  serial %X\n", found.Address, found.SerialNum)

		node := device.NewNode(bus, found.Address, device.WithLogger(logger),
			device.WithTimeouts(cfg.Bus.SendTimeout.Std(), cfg.Bus.ReceiveTimeout.Std()))
		report(node, *versions, *esn, *ambsi)
	}
}

// report prints the requested detail sections for one node.
func report(node *device.Node, versions, esn, ambsi bool) {
	if ambsi {
		if rev, ok := node.AMBSIProtocolRev(); ok {
			fmt.Printf("  AMBSI protocol:   %s\n", rev)
		}
		if rev, ok := node.AMBSISoftwareRev(); ok {
			fmt.Printf("  AMBSI software:   %s\n", rev)
		}
		if numErr, lastErr, ok := node.AMBSIErrors(); ok {
			fmt.Printf("  AMBSI errors:     %d (last %#02x)\n", numErr, lastErr)
		}
		if n, ok := node.AMBSINumTransactions(); ok {
			fmt.Printf("  AMBSI trans:      %d\n", n)
		}
		if temp, ok := node.AMBSITemperature(); ok {
			fmt.Printf("  AMBSI temp:       %.1f C\n", temp)
		}
	}

	if !versions && !esn {
		return
	}
	mod := femc.New(node, femc.PortFEMCModule)
	if !mod.InitSession() {
		fmt.Println("  No FEMC module behind this node.")
		return
	}
	if versions {
		fmt.Printf("  FEMC firmware:    %s\n", mod.FemcVersion())
		fmt.Printf("  FPGA firmware:    %s\n", mod.FpgaVersion())
		fmt.Printf("  AMBSI firmware:   %s\n", mod.AmbsiVersion())
	}
	if esn {
		list := mod.EsnList(true)
		fmt.Printf("  ESNs found:       %d\n", len(list))
		for _, e := range list {
			fmt.Printf("    %X\n", e)
		}
	}
}

// openBus builds the configured transport. The loopback backend carries a
// simulated front end at address 0x13 so the tool has something to find.
func openBus(cfg config.Config, logger amblog.Logger) (transport.Bus, error) {
	switch cfg.Bus.Backend {
	case config.BackendSocketCAN:
		return transport.DialSocketCAN(cfg.Bus.Interface, transport.WithSocketCANLogger(logger))
	case config.BackendLoopback:
		bus := transport.NewLoopback(transport.WithLoopbackLogger(logger))
		examples.NewFrontEnd().Attach(bus, 0x13)
		return bus, nil
	}
	return nil, fmt.Errorf("unknown bus backend %q", cfg.Bus.Backend)
}

// openLogger builds the CBOR event logger from the log configuration. The
// returned close function is safe to call when no file logger was opened.
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
