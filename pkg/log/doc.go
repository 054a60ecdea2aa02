// Package log provides structured protocol logging for the AMB stack.
//
// This package defines the Logger interface and Event types for capturing
// bus-level and device-level events: frames on the wire, session and lock
// state changes, and recoverable faults. It is separate from operational
// logging (slog) - protocol capture provides a machine-readable event trace
// for debugging lock-acquisition runs and flaky bus telemetry.
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	dev := device.New(bus, 0x13, device.WithLogger(log.NewSlogAdapter(slog.Default())))
//
//	// For production capture: write to binary file
//	fl, _ := log.NewFileLogger("/var/log/amb/frontend.alog")
//
//	// Both: use MultiLogger
//	log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// Log files use CBOR encoding with .alog extension; Reader streams them back
// with optional filtering.
package log
