//go:build linux

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/amb-protocol/amb-go/pkg/log"
	"github.com/amb-protocol/amb-go/pkg/wire"
)

// canFrameSize is the length of the classical Linux can_frame structure.
const canFrameSize = 16

// SocketCAN is a Bus over a Linux SocketCAN interface (e.g. "can0").
// Timeouts map to SO_SNDTIMEO/SO_RCVTIMEO on the raw socket.
type SocketCAN struct {
	lockMu sync.Mutex // bus exclusion lock handed to callers

	mu     sync.Mutex // guards fd state and timeout setup
	fd     int
	closed bool

	traceID string
	logger  log.Logger
}

// SocketCANOption configures a SocketCAN bus.
type SocketCANOption func(*SocketCAN)

// WithSocketCANLogger attaches a protocol logger to the bus.
func WithSocketCANLogger(l log.Logger) SocketCANOption {
	return func(b *SocketCAN) { b.logger = log.OrNoop(l) }
}

// DialSocketCAN opens a raw CAN socket bound to the named interface.
func DialSocketCAN(iface string, opts ...SocketCANOption) (*SocketCAN, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("transport: socket: %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: interface %q: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: bind %q: %w", iface, err)
	}

	b := &SocketCAN{
		fd:      fd,
		traceID: log.NewTraceID(),
		logger:  log.NoopLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Lock acquires the bus exclusion lock.
func (b *SocketCAN) Lock() { b.lockMu.Lock() }

// Unlock releases the bus exclusion lock.
func (b *SocketCAN) Unlock() { b.lockMu.Unlock() }

// Send writes one frame using the Linux can_frame binary layout.
func (b *SocketCAN) Send(frame wire.Frame, timeout time.Duration) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(b.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
		return fmt.Errorf("transport: set send timeout: %w", err)
	}

	buf := marshalCANFrame(frame)
	n, err := unix.Write(b.fd, buf)
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	if n != len(buf) {
		return errors.New("transport: short write")
	}
	b.logger.Log(log.NewFrameEvent(b.traceID, log.DirectionOut, frame.ArbitrationID, frame.Data))
	return nil
}

// Receive reads one frame, reporting false when the receive timeout expires.
func (b *SocketCAN) Receive(timeout time.Duration) (wire.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return wire.Frame{}, false
	}
	if timeout <= 0 {
		timeout = DefaultReceiveTimeout
	}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(b.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return wire.Frame{}, false
	}

	buf := make([]byte, canFrameSize)
	n, err := unix.Read(b.fd, buf)
	if err != nil || n != canFrameSize {
		return wire.Frame{}, false
	}
	f, ok := unmarshalCANFrame(buf)
	if !ok {
		return wire.Frame{}, false
	}
	b.logger.Log(log.NewFrameEvent(b.traceID, log.DirectionIn, f.ArbitrationID, f.Data))
	return f, true
}

// Enumerate broadcasts the discovery request and collects replies until the
// bus goes quiet for one receive timeout.
func (b *SocketCAN) Enumerate(timeout time.Duration) ([]wire.BusNode, error) {
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

// Close releases the raw socket.
func (b *SocketCAN) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return unix.Close(b.fd)
}

// marshalCANFrame encodes to the classical can_frame layout: little-endian
// identifier with the EFF flag set (AMB identifiers are always extended),
// one length byte, two padding bytes, then eight data bytes.
func marshalCANFrame(f wire.Frame) []byte {
	buf := make([]byte, canFrameSize)
	binary.LittleEndian.PutUint32(buf[0:4], f.ArbitrationID|unix.CAN_EFF_FLAG)
	buf[4] = uint8(len(f.Data))
	copy(buf[8:], f.Data)
	return buf
}

func unmarshalCANFrame(buf []byte) (wire.Frame, bool) {
	if len(buf) < canFrameSize {
		return wire.Frame{}, false
	}
	id := binary.LittleEndian.Uint32(buf[0:4])
	if id&unix.CAN_ERR_FLAG != 0 {
		return wire.Frame{}, false
	}
	length := int(buf[4])
	if length > wire.MaxPayload {
		return wire.Frame{}, false
	}
	data := make([]byte, length)
	copy(data, buf[8:8+length])
	return wire.Frame{ArbitrationID: id & unix.CAN_EFF_MASK, Data: data}, true
}

// Compile-time interface satisfaction check.
var _ Bus = (*SocketCAN)(nil)
