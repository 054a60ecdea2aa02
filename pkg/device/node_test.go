package device

import (
	"bytes"
	"testing"

	"github.com/amb-protocol/amb-go/pkg/transport"
	"github.com/amb-protocol/amb-go/pkg/wire"
)

func newTestNode(t *testing.T, opts ...transport.LoopbackOption) (*Node, map[uint32][]byte, *transport.Loopback) {
	t.Helper()
	bus := transport.NewLoopback(opts...)
	t.Cleanup(func() { bus.Close() })

	regs := make(map[uint32][]byte)
	bus.AddNode(0x13, []byte{1, 2, 3, 4, 5, 6, 7, 8}, func(rca uint32, data []byte) ([]byte, bool) {
		if data == nil {
			reply, ok := regs[rca]
			return reply, ok
		}
		regs[rca] = append([]byte(nil), data...)
		return nil, true
	})
	return NewNode(bus, 0x13), regs, bus
}

func TestNodeCommandMonitor(t *testing.T) {
	node, regs, _ := newTestNode(t)

	if !node.Command(0x10800, []byte{0x07, 0xFF}) {
		t.Fatal("command failed")
	}
	if !bytes.Equal(regs[0x10800], []byte{0x07, 0xFF}) {
		t.Errorf("register = % X", regs[0x10800])
	}

	regs[0x0800] = []byte{0x01, 0x02}
	data, ok := node.Monitor(0x0800)
	if !ok {
		t.Fatal("monitor reported absence")
	}
	if !bytes.Equal(data, []byte{0x01, 0x02}) {
		t.Errorf("monitor = % X", data)
	}

	// Unmapped RCA is an absence, not an error.
	if _, ok := node.Monitor(0xBEEF); ok {
		t.Error("unmapped RCA should be absent")
	}

	// Empty payload is not a valid command.
	if node.Command(0x10800, nil) {
		t.Error("empty command should fail")
	}
}

func TestNodeMonitorDrainsStaleFrames(t *testing.T) {
	node, regs, bus := newTestNode(t)
	regs[0x0800] = []byte{0xAA}
	regs[0x0801] = []byte{0xBB}

	// Queue a stale reply by sending a monitor request directly on the bus
	// without consuming the response.
	bus.Send(wire.Frame{ArbitrationID: wire.ArbitrationID(0x13, 0x0800)}, 0)

	data, ok := node.Monitor(0x0801)
	if !ok {
		t.Fatal("monitor reported absence")
	}
	if !bytes.Equal(data, []byte{0xBB}) {
		t.Errorf("got stale frame payload % X", data)
	}
}

func TestNodeFindNodes(t *testing.T) {
	node, _, _ := newTestNode(t)

	nodes, err := node.FindNodes()
	if err != nil {
		t.Fatalf("FindNodes failed: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Address != 0x13 {
		t.Fatalf("nodes = %v", nodes)
	}
}

func TestNodeRunSequence(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []transport.LoopbackOption
	}{
		{"native batch", nil},
		{"per-message fallback", []transport.LoopbackOption{transport.WithoutBatch()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			node, regs, _ := newTestNode(t, tc.opts...)
			regs[0x0010] = wire.PackFloat(0.25)

			seq := node.RunSequence([]*wire.Message{
				{RCA: 0x10008, Data: wire.PackFloat(1.0)},
				{RCA: 0x0010},
			})
			if !bytes.Equal(regs[0x10008], wire.PackFloat(1.0)) {
				t.Errorf("command not delivered: % X", regs[0x10008])
			}
			if got, _ := wire.UnpackFloat(seq[1].Data, 0); got != 0.25 {
				t.Errorf("monitor result = %g", got)
			}
			if seq[0].Timestamp == 0 || seq[1].Timestamp == 0 {
				t.Error("timestamps not filled")
			}
		})
	}
}

func TestNodeShutdown(t *testing.T) {
	node, _, _ := newTestNode(t)
	node.Shutdown()

	if node.Command(0x10800, []byte{1}) {
		t.Error("command after shutdown should fail")
	}
	if _, ok := node.Monitor(0x0800); ok {
		t.Error("monitor after shutdown should be absent")
	}
	if _, err := node.FindNodes(); err == nil {
		t.Error("FindNodes after shutdown should error")
	}
}

func TestAMBSIMonitors(t *testing.T) {
	node, regs, _ := newTestNode(t)

	regs[rcaAMBSIProtocolRev] = []byte{1, 0, 1}
	regs[rcaAMBSISoftwareRev] = []byte{2, 5, 0}
	regs[rcaAMBSIErrors] = []byte{3, 0, 0, 7}
	regs[rcaAMBSINumTrans] = []byte{0x00, 0x01, 0x00, 0x02}

	if rev, ok := node.AMBSIProtocolRev(); !ok || rev != "1.0.1" {
		t.Errorf("protocol rev = %q, %v", rev, ok)
	}
	if rev, ok := node.AMBSISoftwareRev(); !ok || rev != "2.5.0" {
		t.Errorf("software rev = %q, %v", rev, ok)
	}
	if num, last, ok := node.AMBSIErrors(); !ok || num != 3 || last != 7 {
		t.Errorf("errors = %d, %d, %v", num, last, ok)
	}
	if n, ok := node.AMBSINumTransactions(); !ok || n != 0x10002 {
		t.Errorf("num transactions = %#x, %v", n, ok)
	}
}

func TestAMBSITemperature(t *testing.T) {
	node, regs, _ := newTestNode(t)

	tests := []struct {
		data []byte
		want float32
	}{
		{[]byte{50, 0}, 25.0},    // 25.0 C
		{[]byte{51, 0}, 25.5},    // half-degree bit
		{[]byte{20, 0xFF}, -11.0}, // negative flag
		{[]byte{21, 0xFF}, -10.5},
	}
	for _, tc := range tests {
		regs[rcaAMBSITemperature] = tc.data
		got, ok := node.AMBSITemperature()
		if !ok || got != tc.want {
			t.Errorf("temperature(% X) = %g, %v, want %g", tc.data, got, ok, tc.want)
		}
	}

	delete(regs, rcaAMBSITemperature)
	if _, ok := node.AMBSITemperature(); ok {
		t.Error("absent temperature should report false")
	}
}
