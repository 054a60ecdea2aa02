package femc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amb-protocol/amb-go/pkg/device"
	"github.com/amb-protocol/amb-go/pkg/transport"
	"github.com/amb-protocol/amb-go/pkg/wire"
)

// countingBus wraps a Bus and counts traffic, to verify the no-op policy
// really performs zero bus I/O.
type countingBus struct {
	transport.Bus
	mu       sync.Mutex
	sends    int
	receives int
}

func (b *countingBus) Send(f wire.Frame, timeout time.Duration) error {
	b.mu.Lock()
	b.sends++
	b.mu.Unlock()
	return b.Bus.Send(f, timeout)
}

func (b *countingBus) Receive(timeout time.Duration) (wire.Frame, bool) {
	b.mu.Lock()
	b.receives++
	b.mu.Unlock()
	return b.Bus.Receive(timeout)
}

func (b *countingBus) traffic() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sends + b.receives
}

// femcRegs builds a responder backed by a register map, pre-loaded with a
// setup code so InitSession succeeds.
func femcRegs(setupCode byte) (map[uint32][]byte, transport.Responder) {
	regs := map[uint32][]byte{
		rcaSetupInfo: {setupCode},
	}
	return regs, func(rca uint32, data []byte) ([]byte, bool) {
		if data == nil {
			reply, ok := regs[rca]
			return reply, ok
		}
		regs[rca] = append([]byte(nil), data...)
		return nil, true
	}
}

func newSessionDevice(t *testing.T, port Port) (*Device, map[uint32][]byte) {
	t.Helper()
	bus := transport.NewLoopback()
	t.Cleanup(func() { bus.Close() })

	regs, respond := femcRegs(0x00)
	bus.AddNode(0x13, nil, respond)

	d := New(device.NewNode(bus, 0x13), port, WithESNScanSettle(0))
	require.True(t, d.InitSession(), "session should initialize")
	return d, regs
}

func TestInitSessionAcceptance(t *testing.T) {
	tests := []struct {
		name  string
		reply []byte
		want  bool
	}{
		{"code 0x00", []byte{0x00}, true},
		{"code 0x05", []byte{0x05}, true},
		{"other code", []byte{0x01}, false},
		{"two bytes", []byte{0x00, 0x00}, false},
		{"absent", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bus := transport.NewLoopback()
			defer bus.Close()
			bus.AddNode(0x13, nil, func(rca uint32, data []byte) ([]byte, bool) {
				if rca == rcaSetupInfo && data == nil && tc.reply != nil {
					return tc.reply, true
				}
				return nil, false
			})

			d := New(device.NewNode(bus, 0x13), PortBand6)
			assert.Equal(t, tc.want, d.InitSession())
			assert.Equal(t, tc.want, d.SessionActive())
		})
	}
}

func TestUninitializedNoOp(t *testing.T) {
	inner := transport.NewLoopback()
	defer inner.Close()
	regs, respond := femcRegs(0x00)
	inner.AddNode(0x13, nil, respond)
	bus := &countingBus{Bus: inner}

	d := New(device.NewNode(bus, 0x13), PortBand3)

	assert.False(t, d.Command(0x0008, wire.PackFloat(1.0)))
	_, ok := d.Monitor(0x0008)
	assert.False(t, ok)
	assert.Equal(t, "0.0.0", d.FemcVersion())
	assert.Empty(t, d.EsnList(false))
	d.RunSequence([]*wire.Message{{RCA: 0x0008}})
	assert.Zero(t, bus.traffic(), "uninitialized device must not touch the bus")

	require.True(t, d.InitSession())
	assert.True(t, d.Command(0x0008, wire.PackFloat(1.0)))
	assert.Contains(t, regs, uint32(0x2008), "port 3 offset not applied")
}

func TestPortOffset(t *testing.T) {
	d, regs := newSessionDevice(t, PortBand6)

	require.True(t, d.Command(0x0008, wire.PackFloat(2.5)))
	assert.Contains(t, regs, uint32(0x5008))

	regs[0x5010] = wire.PackFloat(0.5)
	data, ok := d.Monitor(0x0010)
	require.True(t, ok)
	v, _ := wire.UnpackFloat(data, 0)
	assert.Equal(t, float32(0.5), v)
}

func TestPortZeroNoOffset(t *testing.T) {
	d, regs := newSessionDevice(t, PortFEMCModule)

	require.True(t, d.Command(0x1000, []byte{0x01}))
	assert.Contains(t, regs, uint32(0x1000))
}

func TestRunSequenceOffsetsRCAs(t *testing.T) {
	d, regs := newSessionDevice(t, PortBand2)
	regs[0x1010] = wire.PackFloat(1.25)

	seq := d.RunSequence([]*wire.Message{
		{RCA: 0x10008, Data: wire.PackFloat(3.0)},
		{RCA: 0x0010},
	})
	assert.Contains(t, regs, uint32(0x11008))
	v, ok := wire.UnpackFloat(seq[1].Data, 0)
	require.True(t, ok)
	assert.Equal(t, float32(1.25), v)
}

func TestVersionsAndModeGate(t *testing.T) {
	d, regs := newSessionDevice(t, PortFEMCModule)

	regs[rcaVersionInfo] = []byte{3, 6, 2}
	regs[rcaAMBSIVersionInfo] = []byte{1, 2, 3}
	assert.Equal(t, "3.6.2", d.FemcVersion())
	assert.Equal(t, "1.2.3", d.AmbsiVersion())

	assert.True(t, d.IsFemcVersionAtLeast("3.6.2"))
	assert.True(t, d.IsFemcVersionAtLeast("3.5.9"))
	assert.False(t, d.IsFemcVersionAtLeast("3.6.3"))

	// Simulate is refused on firmware below 3.6.3.
	assert.False(t, d.SetMode(ModeSimulate))
	assert.NotContains(t, regs, uint32(rcaSetFEMode))

	regs[rcaVersionInfo] = []byte{3, 6, 3}
	assert.True(t, d.SetMode(ModeSimulate))
	assert.Equal(t, []byte{0x03}, regs[rcaSetFEMode])

	// Newer major version satisfies an older requirement.
	regs[rcaVersionInfo] = []byte{4, 0, 0}
	assert.True(t, d.IsFemcVersionAtLeast("3.6.3"))

	assert.True(t, d.SetMode(ModeOperational))
	assert.Equal(t, []byte{0x00}, regs[rcaSetFEMode])

	regs[rcaGetFEMode] = []byte{0x02}
	mode, ok := d.GetMode()
	require.True(t, ok)
	assert.Equal(t, ModeMaintenance, mode)
}

func TestEsnEnumeration(t *testing.T) {
	bus := transport.NewLoopback()
	defer bus.Close()

	esns := [][]byte{
		{0x01, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0xC5},
		{0x01, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x9A},
	}
	next := 0
	scanned := false
	bus.AddNode(0x13, nil, func(rca uint32, data []byte) ([]byte, bool) {
		switch rca {
		case rcaSetupInfo:
			return []byte{0x05}, true
		case rcaSetReadESN:
			scanned = true
			return nil, true
		case rcaESNsFound:
			return []byte{byte(len(esns))}, true
		case rcaNextESN:
			if next >= len(esns) {
				return nil, false
			}
			esn := esns[next]
			next++
			return esn, true
		}
		return nil, false
	})

	d := New(device.NewNode(bus, 0x13), PortFEMCModule, WithESNScanSettle(0))
	require.True(t, d.InitSession())

	got := d.EsnList(true)
	assert.True(t, scanned)
	assert.Equal(t, esns, got)

	next = 0
	s := d.EsnString()
	assert.Equal(t, "01 22 33 44 55 66 77 C5\n01 AA BB CC DD EE FF 9A\n", s)
}

func TestBandPower(t *testing.T) {
	d, regs := newSessionDevice(t, PortFEMCModule)

	require.True(t, d.SetBandPower(6, true))
	assert.Equal(t, []byte{0x01}, regs[uint32(rcaSetCartPower)+5<<4])

	assert.False(t, d.SetBandPower(0, true))
	assert.False(t, d.SetBandPower(11, true))

	d.SetAllBandsOff()
	for band := 1; band <= 10; band++ {
		assert.Equal(t, []byte{0x00}, regs[uint32(rcaSetCartPower)+uint32(band-1)<<4])
	}

	regs[rcaNumBandsPowered] = []byte{0x00}
	n, ok := d.NumBandsPowered()
	require.True(t, ok)
	assert.Equal(t, uint8(0), n)

	regs[uint32(rcaGetCartPower)+5<<4] = []byte{0x01}
	on, ok := d.BandPower(6)
	require.True(t, ok)
	assert.True(t, on)
}

func TestShutdownInvalidatesSession(t *testing.T) {
	d, _ := newSessionDevice(t, PortBand6)
	require.True(t, d.SessionActive())

	d.Shutdown()
	assert.False(t, d.SessionActive())
	assert.False(t, d.Command(0x0008, []byte{1}))
	_, ok := d.Monitor(0x0008)
	assert.False(t, ok)
}
