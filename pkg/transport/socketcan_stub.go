//go:build !linux

package transport

import "errors"

// ErrSocketCANUnsupported is returned on platforms without SocketCAN.
var ErrSocketCANUnsupported = errors.New("transport: socketcan requires linux")

// DialSocketCAN is unavailable on this platform.
func DialSocketCAN(iface string, opts ...SocketCANOption) (Bus, error) {
	return nil, ErrSocketCANUnsupported
}

// SocketCANOption configures a SocketCAN bus; unused on this platform.
type SocketCANOption func(any)

// WithSocketCANLogger is accepted for API compatibility; unused on this platform.
func WithSocketCANLogger(l any) SocketCANOption {
	return func(any) {}
}
