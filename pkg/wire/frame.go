package wire

import (
	"errors"
	"fmt"
)

// MaxPayload is the largest payload a classical CAN frame can carry.
const MaxPayload = 8

// ErrPayloadTooLong indicates a frame payload longer than 8 bytes.
var ErrPayloadTooLong = errors.New("wire: payload exceeds 8 bytes")

// Frame is a single CAN frame as seen by the AMB protocol: a 29-bit extended
// arbitration identifier and a 0-8 byte payload. An empty payload addressed
// to a monitor point is a monitor request; a non-empty payload is a command.
//
// Frames are transient. They are built immediately before a send and consumed
// immediately after a receive; nothing in this module stores them.
type Frame struct {
	ArbitrationID uint32
	Data          []byte
}

// Validate returns an error if the frame cannot be put on the wire.
func (f Frame) Validate() error {
	if len(f.Data) > MaxPayload {
		return ErrPayloadTooLong
	}
	return nil
}

// BusNode identifies one device found during bus discovery: its node address
// and the 8-byte electronic serial number it reported. BusNodes are produced
// only by discovery and are valid for the lifetime of that discovery call.
type BusNode struct {
	Address   uint8
	SerialNum []byte
}

// String formats the node as "addr: serial-hex" for diagnostics.
func (n BusNode) String() string {
	return fmt.Sprintf("%02X: %X", n.Address, n.SerialNum)
}

// Message is one element of a batch sequence. A non-empty Data means a
// command to be sent; an empty Data means a monitor request whose response
// is written back into Data in place. Timestamp is filled by the executor
// (nanoseconds since the Unix epoch) when the message completes.
type Message struct {
	RCA       uint32
	Data      []byte
	Timestamp uint64
}

// IsMonitor reports whether the message is a monitor request.
func (m *Message) IsMonitor() bool {
	return len(m.Data) == 0
}
