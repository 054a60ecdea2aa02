package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/amb-protocol/amb-go/pkg/wire"
)

// Default timeouts. Deployments override these per bus: a direct adapter
// answers within a couple of milliseconds, a serial bridge can need two
// hundred.
const (
	DefaultSendTimeout    = 2 * time.Millisecond
	DefaultReceiveTimeout = 2 * time.Millisecond
)

var (
	// ErrClosed indicates the bus has been shut down.
	ErrClosed = errors.New("transport: bus closed")

	// ErrBatchUnsupported is returned by ExecuteBatch when the backend has
	// no native batch path; callers fall back to per-message exchanges.
	ErrBatchUnsupported = errors.New("transport: batch execution not supported")
)

// Bus is the capability contract every transport backend implements.
//
// Bus embeds sync.Locker: the mutex serializes request/response pairs on the
// shared medium and must be held by the caller from request send through
// matching response receive (or full timeout). Send, Receive and Enumerate
// do not themselves acquire it.
type Bus interface {
	sync.Locker

	// Send transmits a single frame. Success means the frame was accepted
	// by the transport, not that any node acted on it.
	Send(frame wire.Frame, timeout time.Duration) error

	// Receive waits up to timeout for the next frame. It reports false on
	// timeout; a timed-out monitor is an absence, not an error.
	Receive(timeout time.Duration) (wire.Frame, bool)

	// Enumerate broadcasts a node-discovery request and collects replies
	// until timeout elapses with no further response.
	Enumerate(timeout time.Duration) ([]wire.BusNode, error)

	// Close releases the underlying adapter. Further calls fail or report
	// absence.
	Close() error
}

// BatchBus is an optional Bus upgrade for backends that can run a whole
// message sequence natively. Monitor responses are written into the messages
// in place. Backends without a native path return ErrBatchUnsupported and
// the device layer falls back to per-message exchanges under one lock hold.
type BatchBus interface {
	Bus

	ExecuteBatch(nodeAddr uint8, sequence []*wire.Message, timeout time.Duration) error
}
