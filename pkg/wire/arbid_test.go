package wire

import (
	"testing"
)

func TestArbitrationIDRoundTrip(t *testing.T) {
	nodes := []uint8{0, 1, 0x13, 255}
	rcas := []uint32{0, 1, 0x20001, 0x3FFFF}

	for _, node := range nodes {
		for _, rca := range rcas {
			arbID := ArbitrationID(node, rca)
			gotNode, gotRCA, ok := SplitArbitrationID(arbID)
			if !ok {
				t.Fatalf("SplitArbitrationID(%#x) not ok", arbID)
			}
			if gotNode != node || gotRCA != rca {
				t.Errorf("round trip (%d, %#x) = (%d, %#x)", node, rca, gotNode, gotRCA)
			}
		}
	}
}

func TestArbitrationIDLayout(t *testing.T) {
	// Node 0 occupies the first 18-bit window above the base.
	if got := ArbitrationID(0, 0); got != BaseArbitrationID+0x40000 {
		t.Errorf("ArbitrationID(0, 0) = %#x, want %#x", got, BaseArbitrationID+0x40000)
	}
	if got := ArbitrationID(0x12, 0x20001); got != BaseArbitrationID+0x13*0x40000+0x20001 {
		t.Errorf("ArbitrationID(0x12, 0x20001) = %#x", got)
	}
}

func TestSplitArbitrationIDRejects(t *testing.T) {
	tests := []struct {
		name  string
		arbID uint32
	}{
		{"below base", BaseArbitrationID - 1},
		{"broadcast", BaseArbitrationID},
		{"broadcast window", BaseArbitrationID + 0x3FFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, ok := SplitArbitrationID(tt.arbID); ok {
				t.Errorf("SplitArbitrationID(%#x) ok, want rejection", tt.arbID)
			}
		})
	}
}
