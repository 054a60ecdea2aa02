package wire

import (
	"bytes"
	"math"
	"testing"
)

func TestU16RoundTrip(t *testing.T) {
	for _, v := range []uint16{0, 1, 0x7FFF, 0x8000, 0xFFFF} {
		got, ok := UnpackU16(PackU16(v), 0)
		if !ok || got != v {
			t.Errorf("U16 round trip %d = %d, ok=%v", v, got, ok)
		}
	}
}

func TestU32RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0x7FFFFFFF, 0x80000000, 0xFFFFFFFF} {
		got, ok := UnpackU32(PackU32(v), 0)
		if !ok || got != v {
			t.Errorf("U32 round trip %d = %d, ok=%v", v, got, ok)
		}
	}
}

func TestFloatRoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 0.25, -0.25, math.MaxFloat32, math.SmallestNonzeroFloat32}
	for _, v := range values {
		got, ok := UnpackFloat(PackFloat(v), 0)
		if !ok || got != v {
			t.Errorf("Float round trip %g = %g, ok=%v", v, got, ok)
		}
	}
}

func TestBoolRoundTrip(t *testing.T) {
	for _, v := range []bool{true, false} {
		got, ok := UnpackBool(PackBool(v), 0)
		if !ok || got != v {
			t.Errorf("Bool round trip %v = %v, ok=%v", v, got, ok)
		}
	}
}

func TestPackBigEndian(t *testing.T) {
	if got := PackU16(0x1234); !bytes.Equal(got, []byte{0x12, 0x34}) {
		t.Errorf("PackU16 = % X", got)
	}
	if got := PackU32(0x12345678); !bytes.Equal(got, []byte{0x12, 0x34, 0x56, 0x78}) {
		t.Errorf("PackU32 = % X", got)
	}
}

func TestPackAtZeroExtends(t *testing.T) {
	// Packing past the end of a short buffer grows it with zeros.
	buf := PackU16At(0xBEEF, []byte{0xAA}, 3)
	want := []byte{0xAA, 0, 0, 0xBE, 0xEF}
	if !bytes.Equal(buf, want) {
		t.Errorf("PackU16At = % X, want % X", buf, want)
	}

	// Packing inside an existing buffer must not shrink it.
	buf = PackU8At(7, []byte{1, 2, 3, 4}, 1)
	want = []byte{1, 7, 3, 4}
	if !bytes.Equal(buf, want) {
		t.Errorf("PackU8At = % X, want % X", buf, want)
	}
}

func TestUnpackShortBuffer(t *testing.T) {
	if _, ok := UnpackU16([]byte{1}, 0); ok {
		t.Error("UnpackU16 of 1 byte should not be ok")
	}
	if _, ok := UnpackFloat([]byte{1, 2, 3}, 0); ok {
		t.Error("UnpackFloat of 3 bytes should not be ok")
	}
	if _, ok := UnpackU8(nil, 0); ok {
		t.Error("UnpackU8 of nil should not be ok")
	}
	if _, ok := UnpackU32([]byte{1, 2, 3, 4}, 1); ok {
		t.Error("UnpackU32 at offset 1 of 4 bytes should not be ok")
	}
}

func TestUnpackStatusByte(t *testing.T) {
	if status, ok := UnpackStatusByte([]byte{1, 2, 3, 4, 0xFE}, 4); !ok || status != 0xFE {
		t.Errorf("UnpackStatusByte = %#x, ok=%v", status, ok)
	}
	if _, ok := UnpackStatusByte([]byte{1, 2}, 4); ok {
		t.Error("UnpackStatusByte with wrong length should not be ok")
	}
	if _, ok := UnpackStatusByte(nil, 0); ok {
		t.Error("UnpackStatusByte of nil should not be ok")
	}
}
