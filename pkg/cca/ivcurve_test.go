package cca

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amb-protocol/amb-go/pkg/device"
	"github.com/amb-protocol/amb-go/pkg/femc"
	"github.com/amb-protocol/amb-go/pkg/transport"
	"github.com/amb-protocol/amb-go/pkg/wire"
)

// newSweepCCA builds a cartridge whose mixer echoes the last commanded
// junction voltage and reports twice that value as junction current.
func newSweepCCA(t *testing.T, band int) *Device {
	t.Helper()
	bus := transport.NewLoopback()
	t.Cleanup(func() { bus.Close() })

	var lastVj float32
	bus.AddNode(0x13, nil, func(rca uint32, data []byte) ([]byte, bool) {
		switch rca {
		case 0x20001:
			return []byte{0x00}, true
		case cmdOffset + rcaSISVoltage:
			if v, ok := wire.UnpackFloat(data, 0); ok {
				lastVj = v
			}
			return nil, true
		case rcaSISVoltage:
			return wire.PackFloat(lastVj), true
		case rcaSISCurrent:
			return wire.PackFloat(2 * lastVj), true
		}
		return nil, false
	})

	d := New(device.NewNode(bus, 0x13), band, WithPort(femc.PortBand1))
	require.True(t, d.Module().InitSession())
	return d
}

func TestIVCurveMergeCrossingZero(t *testing.T) {
	d := newSweepCCA(t, 6)

	points, err := d.IVCurve(0, 1, -1.0, 1.0, 0.5)
	require.NoError(t, err)
	require.Len(t, points, 4)

	wantSet := []float32{-1.0, -0.5, 0.5, 1.0}
	for i, p := range points {
		assert.Equal(t, wantSet[i], p.VjSet, "point %d", i)
		assert.Equal(t, p.VjSet, p.VjRead, "point %d readback", i)
		assert.Equal(t, 2*p.VjSet, p.IjRead, "point %d current", i)
	}
	for i := 1; i < len(points); i++ {
		assert.GreaterOrEqual(t, points[i].VjSet, points[i-1].VjSet)
	}
}

func TestIVCurveNegativeOnlyRange(t *testing.T) {
	d := newSweepCCA(t, 6)

	points, err := d.IVCurve(0, 1, -3.0, -1.0, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, points)
	assert.Equal(t, float32(-3.0), points[0].VjSet)
	for i := 1; i < len(points); i++ {
		assert.Greater(t, points[i].VjSet, points[i-1].VjSet)
	}
}

func TestIVCurvePositiveOnlyRange(t *testing.T) {
	d := newSweepCCA(t, 6)

	points, err := d.IVCurve(0, 1, 1.0, 3.0, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, points)
	assert.Equal(t, float32(3.0), points[len(points)-1].VjSet)
	for i := 1; i < len(points); i++ {
		assert.Greater(t, points[i].VjSet, points[i-1].VjSet)
	}
}

func TestIVCurveSwappedBoundsAndNegativeStep(t *testing.T) {
	d := newSweepCCA(t, 6)

	points, err := d.IVCurve(0, 1, 1.0, -1.0, -0.5)
	require.NoError(t, err)
	require.Len(t, points, 4)
	assert.Equal(t, float32(-1.0), points[0].VjSet)
	assert.Equal(t, float32(1.0), points[3].VjSet)
}

func TestIVCurveRangeGuards(t *testing.T) {
	d := newSweepCCA(t, 6)

	_, err := d.IVCurve(0, 1, 1.0, 1.0, 0.1)
	assert.ErrorIs(t, err, ErrZeroWidthRange)

	_, err = d.IVCurve(0, 1, -0.1, 0.1, 0.5)
	assert.ErrorIs(t, err, ErrRangeTooNarrow)
}

func TestIVCurveSecondMixerGuard(t *testing.T) {
	d := newSweepCCA(t, 9)

	_, err := d.IVCurve(0, 2, -1.0, 1.0, 0.5)
	assert.ErrorIs(t, err, ErrNoSIS2)
}

func TestIVCurveDefaults(t *testing.T) {
	tests := []struct {
		band    int
		wantMax float32
		ok      bool
	}{
		{1, 0, false},
		{2, 0, false},
		{3, 12.0, true},
		{4, 6.5, true},
		{5, 3.0, true},
		{6, 12.0, true},
		{7, 3.0, true},
		{10, 3.0, true},
	}
	for _, tc := range tests {
		low, high, step, ok := IVCurveDefaults(tc.band)
		assert.Equal(t, tc.ok, ok, "band %d", tc.band)
		if !tc.ok {
			continue
		}
		assert.Equal(t, -tc.wantMax, low, "band %d", tc.band)
		assert.Equal(t, tc.wantMax, high, "band %d", tc.band)
		assert.InDelta(t, 2*tc.wantMax/400, step, 1e-6, "band %d", tc.band)
	}
}

func TestIVCurveBandDefaultsSelected(t *testing.T) {
	d := newSweepCCA(t, 5)

	points, err := d.IVCurve(0, 1, 0, 0, 0)
	require.NoError(t, err)
	// 401 nominal points; the two sub-sweeps exclude zero itself.
	assert.InDelta(t, 400, len(points), 2)
	assert.Equal(t, float32(-3.0), points[0].VjSet)
	assert.Equal(t, float32(3.0), points[len(points)-1].VjSet)
}
