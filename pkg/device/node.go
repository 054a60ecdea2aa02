package device

import (
	"errors"
	"time"

	"github.com/amb-protocol/amb-go/pkg/log"
	"github.com/amb-protocol/amb-go/pkg/transport"
	"github.com/amb-protocol/amb-go/pkg/wire"
)

// Node addresses one device on the bus. The bus is shared, not owned; Shutdown
// releases this Node's reference but leaves the bus open for other devices.
type Node struct {
	bus  transport.Bus
	addr uint8

	sendTimeout time.Duration
	recvTimeout time.Duration

	traceID string
	logger  log.Logger
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithLogger attaches a protocol logger to the node.
func WithLogger(l log.Logger) NodeOption {
	return func(n *Node) { n.logger = log.OrNoop(l) }
}

// WithTimeouts overrides the send and receive timeouts used on every
// exchange. Zero values keep the transport defaults.
func WithTimeouts(send, receive time.Duration) NodeOption {
	return func(n *Node) {
		if send > 0 {
			n.sendTimeout = send
		}
		if receive > 0 {
			n.recvTimeout = receive
		}
	}
}

// NewNode binds a bus to the given node address.
func NewNode(bus transport.Bus, addr uint8, opts ...NodeOption) *Node {
	n := &Node{
		bus:         bus,
		addr:        addr,
		sendTimeout: transport.DefaultSendTimeout,
		recvTimeout: transport.DefaultReceiveTimeout,
		traceID:     log.NewTraceID(),
		logger:      log.NoopLogger{},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Address returns the node address on the bus.
func (n *Node) Address() uint8 {
	return n.addr
}

// SetTimeouts adjusts the per-exchange timeouts at runtime. Zero values keep
// the current settings.
func (n *Node) SetTimeouts(send, receive time.Duration) {
	if send > 0 {
		n.sendTimeout = send
	}
	if receive > 0 {
		n.recvTimeout = receive
	}
}

// Shutdown releases the bus reference. Further calls report failure or
// absence. The bus itself stays open.
func (n *Node) Shutdown() {
	n.bus = nil
}

// Command sends data to the given RCA. It is fire-and-forget: true means the
// transport accepted the frame, not that the node acted on it.
func (n *Node) Command(rca uint32, data []byte) bool {
	if n.bus == nil || len(data) == 0 {
		return false
	}
	frame := wire.Frame{ArbitrationID: wire.ArbitrationID(n.addr, rca), Data: data}

	n.bus.Lock()
	err := n.bus.Send(frame, n.sendTimeout)
	n.bus.Unlock()
	if err != nil {
		n.logger.Log(log.NewErrorEvent(n.traceID, log.LayerDevice, err.Error(), "command"))
		return false
	}
	return true
}

// Monitor requests the value at the given RCA and waits for the response.
// Absence (timeout, shutdown) reports false, never an error.
//
// Stale frames queued from a previously timed-out monitor are drained before
// the request goes out, so a late reply is never mistaken for the current one.
func (n *Node) Monitor(rca uint32) ([]byte, bool) {
	if n.bus == nil {
		return nil, false
	}
	n.bus.Lock()
	defer n.bus.Unlock()
	return n.monitorLocked(rca)
}

// FindNodes broadcasts a discovery request and returns every node that
// answered with its serial number.
func (n *Node) FindNodes() ([]wire.BusNode, error) {
	if n.bus == nil {
		return nil, transport.ErrClosed
	}
	n.bus.Lock()
	defer n.bus.Unlock()
	return n.bus.Enumerate(n.recvTimeout)
}

// RunSequence executes the message list against this node atomically with
// respect to other bus users: commands are sent as-is, monitor responses are
// written into the messages in place, input order preserved. The mutated
// sequence is returned for convenience.
//
// A transport with a native batch path runs the whole list in one call;
// otherwise each message is exchanged individually under a single lock hold.
func (n *Node) RunSequence(sequence []*wire.Message) []*wire.Message {
	if n.bus == nil {
		return sequence
	}
	n.bus.Lock()
	defer n.bus.Unlock()

	if bb, ok := n.bus.(transport.BatchBus); ok {
		err := bb.ExecuteBatch(n.addr, sequence, n.recvTimeout)
		if err == nil {
			return sequence
		}
		if !errors.Is(err, transport.ErrBatchUnsupported) {
			n.logger.Log(log.NewErrorEvent(n.traceID, log.LayerDevice, err.Error(), "batch"))
			return sequence
		}
	}

	for _, msg := range sequence {
		if msg.IsMonitor() {
			if data, ok := n.monitorLocked(msg.RCA); ok {
				msg.Data = data
			}
		} else {
			n.commandLocked(msg.RCA, msg.Data)
		}
		msg.Timestamp = uint64(time.Now().UnixNano())
	}
	return sequence
}

func (n *Node) commandLocked(rca uint32, data []byte) {
	frame := wire.Frame{ArbitrationID: wire.ArbitrationID(n.addr, rca), Data: data}
	if err := n.bus.Send(frame, n.sendTimeout); err != nil {
		n.logger.Log(log.NewErrorEvent(n.traceID, log.LayerDevice, err.Error(), "command"))
	}
}

func (n *Node) monitorLocked(rca uint32) ([]byte, bool) {
	arbID := wire.ArbitrationID(n.addr, rca)
	n.drainLocked()
	if err := n.bus.Send(wire.Frame{ArbitrationID: arbID}, n.sendTimeout); err != nil {
		n.logger.Log(log.NewErrorEvent(n.traceID, log.LayerDevice, err.Error(), "monitor"))
		return nil, false
	}
	for {
		f, ok := n.bus.Receive(n.recvTimeout)
		if !ok {
			return nil, false
		}
		if f.ArbitrationID == arbID {
			return f.Data, true
		}
		// A frame for another identifier is leftover traffic; skip it.
	}
}

// drainLocked discards queued frames until the bus goes quiet.
func (n *Node) drainLocked() {
	for {
		if _, ok := n.bus.Receive(n.recvTimeout); !ok {
			return
		}
	}
}
