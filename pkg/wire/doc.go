// Package wire implements the AMB message codec.
//
// It defines the core frame and message types exchanged on an AMB
// instrumentation CAN bus, the mapping between (node address, relative CAN
// address) pairs and 29-bit extended arbitration identifiers, and the
// big-endian scalar packing rules used for monitor and command payloads.
//
// Everything in this package is pure computation; no bus I/O happens here.
package wire
