package examples

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amb-protocol/amb-go/pkg/cca"
	"github.com/amb-protocol/amb-go/pkg/device"
	"github.com/amb-protocol/amb-go/pkg/femc"
	"github.com/amb-protocol/amb-go/pkg/lo"
	"github.com/amb-protocol/amb-go/pkg/transport"
)

func newFrontEndNode(t *testing.T) (*device.Node, *FrontEnd) {
	t.Helper()
	bus := transport.NewLoopback()
	t.Cleanup(func() { bus.Close() })

	fe := NewFrontEnd()
	fe.Attach(bus, 0x13)
	return device.NewNode(bus, 0x13), fe
}

func TestFrontEndDiscoveryAndSession(t *testing.T) {
	node, _ := newFrontEndNode(t)

	found, err := node.FindNodes()
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, uint8(0x13), found[0].Address)

	mod := femc.New(node, femc.PortFEMCModule)
	require.True(t, mod.InitSession())
	assert.Equal(t, "3.6.5", mod.FemcVersion())
	assert.True(t, mod.IsFemcVersionAtLeast("3.6.3"))

	rev, ok := node.AMBSIProtocolRev()
	require.True(t, ok)
	assert.Equal(t, "1.0.1", rev)

	temp, ok := node.AMBSITemperature()
	require.True(t, ok)
	assert.Equal(t, float32(25.0), temp)
}

func TestFrontEndModeAndESNs(t *testing.T) {
	node, _ := newFrontEndNode(t)
	mod := femc.New(node, femc.PortFEMCModule, femc.WithESNScanSettle(0))
	require.True(t, mod.InitSession())

	require.True(t, mod.SetMode(femc.ModeTroubleshooting))
	mode, ok := mod.GetMode()
	require.True(t, ok)
	assert.Equal(t, femc.ModeTroubleshooting, mode)

	esns := mod.EsnList(true)
	require.Len(t, esns, 2)
	assert.NotEqual(t, esns[0], esns[1])
}

func TestFrontEndBandPower(t *testing.T) {
	node, _ := newFrontEndNode(t)
	mod := femc.New(node, femc.PortFEMCModule)
	require.True(t, mod.InitSession())

	require.True(t, mod.SetBandPower(6, true))
	on, ok := mod.BandPower(6)
	require.True(t, ok)
	assert.True(t, on)

	n, ok := mod.NumBandsPowered()
	require.True(t, ok)
	assert.Equal(t, uint8(1), n)

	mod.SetAllBandsOff()
	n, ok = mod.NumBandsPowered()
	require.True(t, ok)
	assert.Zero(t, n)
}

func TestFrontEndIVCurve(t *testing.T) {
	node, _ := newFrontEndNode(t)
	cart := cca.New(node, 6)
	require.True(t, cart.Module().InitSession())

	points, err := cart.IVCurve(0, 1, -4.0, 4.0, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, points)

	// The toy junction is monotonic and odd, so the sweep must be too.
	for i := 1; i < len(points); i++ {
		assert.Greater(t, points[i].VjSet, points[i-1].VjSet)
		assert.GreaterOrEqual(t, points[i].IjRead, points[i-1].IjRead)
	}
	first, last := points[0], points[len(points)-1]
	assert.InDelta(t, float64(-last.IjRead), float64(first.IjRead), 1e-4)
}

func TestFrontEndLockPLL(t *testing.T) {
	node, _ := newFrontEndNode(t)

	search := lo.DefaultLockSearchParams()
	search.Settle = 0
	osc := lo.New(node, 6, lo.WithLockSearchParams(search))
	require.True(t, osc.Module().InitSession())
	osc.SetYTOLimits(14.0, 17.5)

	tuning, err := osc.LockPLL(283.5, 3)
	require.NoError(t, err)
	assert.InDelta(t, 15.75, tuning.YTOFreq, 1e-9)

	info := osc.LockInfo()
	assert.True(t, info.IsLocked)

	cv, err := osc.AdjustPLL(0)
	require.NoError(t, err)
	assert.LessOrEqual(t, cv, 0.25)
	assert.GreaterOrEqual(t, cv, -0.25)
}
