package log

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// TraceID identifies the device session that produced the event (UUID).
	TraceID string `cbor:"2,keyasint"`

	// Direction indicates frame flow relative to this host.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// NodeAddr is the bus node the event concerns, when known.
	NodeAddr *uint8 `cbor:"6,keyasint,omitempty"`

	// RCA is the relative CAN address the event concerns, when known.
	RCA *uint32 `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"8,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"9,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"10,keyasint,omitempty"`
}

// Direction indicates the direction of frame flow.
type Direction uint8

const (
	// DirectionIn indicates a frame received from the bus.
	DirectionIn Direction = 0
	// DirectionOut indicates a frame sent to the bus.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the raw bus layer (frames).
	LayerTransport Layer = 0
	// LayerDevice is the node/module device layer.
	LayerDevice Layer = 1
	// LayerSubsystem is the cartridge/LO subsystem layer.
	LayerSubsystem Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerDevice:
		return "DEVICE"
	case LayerSubsystem:
		return "SUBSYSTEM"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates a frame on the wire.
	CategoryFrame Category = 0
	// CategoryState indicates a session/lock state change.
	CategoryState Category = 1
	// CategoryError indicates a recoverable fault.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures one frame on the wire.
type FrameEvent struct {
	// ArbitrationID is the 29-bit extended CAN identifier.
	ArbitrationID uint32 `cbor:"1,keyasint"`

	// Data is the 0-8 byte payload.
	Data []byte `cbor:"2,keyasint"`
}

// StateChangeEvent captures a session or lock state transition.
type StateChangeEvent struct {
	// Entity names what changed, e.g. "session", "pll-lock", "fe-mode".
	Entity string `cbor:"1,keyasint"`

	OldState string `cbor:"2,keyasint"`
	NewState string `cbor:"3,keyasint"`

	// Reason optionally explains the transition.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData captures a recoverable fault.
type ErrorEventData struct {
	Message string `cbor:"1,keyasint"`

	// Context describes what was being attempted.
	Context string `cbor:"2,keyasint,omitempty"`
}

// NewTraceID returns a fresh session trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// NewFrameEvent builds a frame event with the current timestamp.
func NewFrameEvent(traceID string, dir Direction, arbID uint32, data []byte) Event {
	d := make([]byte, len(data))
	copy(d, data)
	ev := Event{
		Timestamp: time.Now(),
		TraceID:   traceID,
		Direction: dir,
		Layer:     LayerTransport,
		Category:  CategoryFrame,
		Frame:     &FrameEvent{ArbitrationID: arbID, Data: d},
	}
	return ev
}

// NewStateEvent builds a state-change event with the current timestamp.
func NewStateEvent(traceID string, layer Layer, entity, oldState, newState, reason string) Event {
	return Event{
		Timestamp:   time.Now(),
		TraceID:     traceID,
		Layer:       layer,
		Category:    CategoryState,
		StateChange: &StateChangeEvent{Entity: entity, OldState: oldState, NewState: newState, Reason: reason},
	}
}

// NewErrorEvent builds an error event with the current timestamp.
func NewErrorEvent(traceID string, layer Layer, message, context string) Event {
	return Event{
		Timestamp: time.Now(),
		TraceID:   traceID,
		Layer:     layer,
		Category:  CategoryError,
		Error:     &ErrorEventData{Message: message, Context: context},
	}
}
