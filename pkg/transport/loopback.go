package transport

import (
	"sort"
	"sync"
	"time"

	"github.com/amb-protocol/amb-go/pkg/log"
	"github.com/amb-protocol/amb-go/pkg/wire"
)

// Responder simulates the firmware side of one bus node. It is invoked for
// every frame addressed to the node: data is nil for a monitor request and
// the reply payload is returned, or non-nil for a command (the returned
// payload is ignored). Returning false means the node stays silent, which a
// caller observes as a receive timeout.
type Responder func(rca uint32, data []byte) ([]byte, bool)

type loopNode struct {
	serial  []byte
	respond Responder
}

// Loopback is an in-memory Bus backed by scripted responder nodes. It is
// synchronous: a monitor response is queued during Send and nothing ever
// arrives later, so Receive on an empty queue reports absence immediately
// instead of sleeping out its timeout.
type Loopback struct {
	lockMu sync.Mutex // bus exclusion lock handed to callers

	mu      sync.Mutex // guards state below
	nodes   map[uint8]*loopNode
	queue   []wire.Frame
	closed  bool
	noBatch bool

	traceID string
	logger  log.Logger
}

// LoopbackOption configures a Loopback.
type LoopbackOption func(*Loopback)

// WithLoopbackLogger attaches a protocol logger to the bus.
func WithLoopbackLogger(l log.Logger) LoopbackOption {
	return func(b *Loopback) { b.logger = log.OrNoop(l) }
}

// WithoutBatch disables the native batch path so ExecuteBatch returns
// ErrBatchUnsupported. Used to exercise the per-message fallback.
func WithoutBatch() LoopbackOption {
	return func(b *Loopback) { b.noBatch = true }
}

// NewLoopback creates an empty loopback bus. Attach nodes with AddNode.
func NewLoopback(opts ...LoopbackOption) *Loopback {
	b := &Loopback{
		nodes:   make(map[uint8]*loopNode),
		traceID: log.NewTraceID(),
		logger:  log.NoopLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddNode attaches a simulated node at the given address. serial is the
// 8-byte electronic serial number reported during discovery.
func (b *Loopback) AddNode(addr uint8, serial []byte, respond Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[addr] = &loopNode{serial: serial, respond: respond}
}

// RemoveNode detaches the simulated node at the given address.
func (b *Loopback) RemoveNode(addr uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.nodes, addr)
}

// Lock acquires the bus exclusion lock.
func (b *Loopback) Lock() { b.lockMu.Lock() }

// Unlock releases the bus exclusion lock.
func (b *Loopback) Unlock() { b.lockMu.Unlock() }

// Send delivers the frame to the addressed node. Frames addressed to nodes
// that do not exist are dropped silently, as on a real bus.
func (b *Loopback) Send(frame wire.Frame, timeout time.Duration) error {
	if err := frame.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	b.logger.Log(log.NewFrameEvent(b.traceID, log.DirectionOut, frame.ArbitrationID, frame.Data))

	// Discovery broadcast: every node replies with its serial number.
	if frame.ArbitrationID == wire.BaseArbitrationID && len(frame.Data) == 0 {
		for _, addr := range b.sortedAddrs() {
			b.queue = append(b.queue, wire.Frame{
				ArbitrationID: wire.ArbitrationID(addr, 0),
				Data:          b.nodes[addr].serial,
			})
		}
		return nil
	}

	nodeAddr, rca, ok := wire.SplitArbitrationID(frame.ArbitrationID)
	if !ok {
		return nil
	}
	n, ok := b.nodes[nodeAddr]
	if !ok {
		return nil
	}

	if len(frame.Data) == 0 {
		if reply, ok := n.respond(rca, nil); ok {
			b.queue = append(b.queue, wire.Frame{ArbitrationID: frame.ArbitrationID, Data: reply})
		}
		return nil
	}

	n.respond(rca, frame.Data)
	return nil
}

// Receive pops the next queued frame. An empty queue is a timeout.
func (b *Loopback) Receive(timeout time.Duration) (wire.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.queue) == 0 {
		return wire.Frame{}, false
	}
	f := b.queue[0]
	b.queue = b.queue[1:]
	b.logger.Log(log.NewFrameEvent(b.traceID, log.DirectionIn, f.ArbitrationID, f.Data))
	return f, true
}

// Enumerate broadcasts a discovery request and collects the replies.
func (b *Loopback) Enumerate(timeout time.Duration) ([]wire.BusNode, error) {
	if err := b.Send(wire.Frame{ArbitrationID: wire.BaseArbitrationID}, timeout); err != nil {
		return nil, err
	}
	var nodes []wire.BusNode
	for {
		f, ok := b.Receive(timeout)
		if !ok {
			return nodes, nil
		}
		addr, _, ok := wire.SplitArbitrationID(f.ArbitrationID)
		if !ok {
			continue
		}
		nodes = append(nodes, wire.BusNode{Address: addr, SerialNum: f.Data})
	}
}

// ExecuteBatch runs the sequence directly against the addressed responder,
// filling in monitor responses and completion timestamps in place.
func (b *Loopback) ExecuteBatch(nodeAddr uint8, sequence []*wire.Message, timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.noBatch {
		return ErrBatchUnsupported
	}
	n, ok := b.nodes[nodeAddr]
	if !ok {
		return nil
	}
	for _, msg := range sequence {
		if msg.IsMonitor() {
			if reply, ok := n.respond(msg.RCA, nil); ok {
				msg.Data = reply
			}
		} else {
			n.respond(msg.RCA, msg.Data)
		}
		msg.Timestamp = uint64(time.Now().UnixNano())
	}
	return nil
}

// Close shuts the bus down and drops any queued frames.
func (b *Loopback) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.queue = nil
	return nil
}

func (b *Loopback) sortedAddrs() []uint8 {
	addrs := make([]uint8, 0, len(b.nodes))
	for addr := range b.nodes {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Compile-time interface satisfaction checks.
var (
	_ Bus      = (*Loopback)(nil)
	_ BatchBus = (*Loopback)(nil)
)
