package wire

import (
	"encoding/binary"
	"math"
)

// Scalar packing for AMB payloads. All multi-byte values are big-endian.
//
// The At variants write into an existing buffer at a byte offset, growing the
// buffer with zero bytes as needed; they never shrink it. The Unpack variants
// report false when the buffer is too short, which is how a timed-out monitor
// (no response at all) surfaces to typed getters.

// PackBool encodes a bool as a single byte, 0 or 1.
func PackBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// PackU8 encodes an unsigned byte.
func PackU8(v uint8) []byte {
	return []byte{v}
}

// PackU16 encodes a 16-bit unsigned integer, big-endian.
func PackU16(v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return b[:]
}

// PackU32 encodes a 32-bit unsigned integer, big-endian.
func PackU32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// PackFloat encodes an IEEE-754 single-precision float, big-endian.
func PackFloat(v float32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(v))
	return b[:]
}

// PackU8At writes v at the given offset, zero-extending buf as needed.
func PackU8At(v uint8, buf []byte, offset int) []byte {
	buf = grow(buf, offset+1)
	buf[offset] = v
	return buf
}

// PackBoolAt writes a 0/1 byte at the given offset, zero-extending buf as needed.
func PackBoolAt(v bool, buf []byte, offset int) []byte {
	if v {
		return PackU8At(1, buf, offset)
	}
	return PackU8At(0, buf, offset)
}

// PackU16At writes v big-endian at the given offset, zero-extending buf as needed.
func PackU16At(v uint16, buf []byte, offset int) []byte {
	buf = grow(buf, offset+2)
	binary.BigEndian.PutUint16(buf[offset:], v)
	return buf
}

// PackU32At writes v big-endian at the given offset, zero-extending buf as needed.
func PackU32At(v uint32, buf []byte, offset int) []byte {
	buf = grow(buf, offset+4)
	binary.BigEndian.PutUint32(buf[offset:], v)
	return buf
}

// PackFloatAt writes v big-endian at the given offset, zero-extending buf as needed.
func PackFloatAt(v float32, buf []byte, offset int) []byte {
	buf = grow(buf, offset+4)
	binary.BigEndian.PutUint32(buf[offset:], math.Float32bits(v))
	return buf
}

func grow(buf []byte, size int) []byte {
	for len(buf) < size {
		buf = append(buf, 0)
	}
	return buf
}

// UnpackBool decodes a byte at the given offset as a bool.
func UnpackBool(data []byte, offset int) (bool, bool) {
	v, ok := UnpackU8(data, offset)
	return v != 0, ok
}

// UnpackU8 decodes an unsigned byte at the given offset.
func UnpackU8(data []byte, offset int) (uint8, bool) {
	if len(data) < offset+1 {
		return 0, false
	}
	return data[offset], true
}

// UnpackU16 decodes a big-endian 16-bit unsigned integer at the given offset.
func UnpackU16(data []byte, offset int) (uint16, bool) {
	if len(data) < offset+2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(data[offset:]), true
}

// UnpackU32 decodes a big-endian 32-bit unsigned integer at the given offset.
func UnpackU32(data []byte, offset int) (uint32, bool) {
	if len(data) < offset+4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data[offset:]), true
}

// UnpackFloat decodes a big-endian IEEE-754 single float at the given offset.
func UnpackFloat(data []byte, offset int) (float32, bool) {
	bits, ok := UnpackU32(data, offset)
	if !ok {
		return 0, false
	}
	return math.Float32frombits(bits), true
}

// UnpackStatusByte extracts the trailing status byte from a monitor response
// whose value portion is expectedLen bytes. It reports false when the
// response is absent or not exactly one byte longer than the value.
func UnpackStatusByte(data []byte, expectedLen int) (byte, bool) {
	if len(data) != expectedLen+1 {
		return 0, false
	}
	return data[expectedLen], true
}
