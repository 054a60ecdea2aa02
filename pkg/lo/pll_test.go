package lo

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amb-protocol/amb-go/pkg/device"
	"github.com/amb-protocol/amb-go/pkg/femc"
	"github.com/amb-protocol/amb-go/pkg/transport"
	"github.com/amb-protocol/amb-go/pkg/wire"
)

// simPLL models a lockable oscillator: the loop locks whenever the commanded
// coarse tune is within lockRange counts of lockCenter, and the correction
// voltage falls linearly with tune distance from the center.
type simPLL struct {
	mu         sync.Mutex
	tune       int
	lockCenter int
	lockRange  int
	cvSlope    float64 // V per count of (tune - lockCenter)

	// corrVOverride, when set, pins the correction voltage regardless of
	// the tune.
	corrVOverride func(tune int) float64
}

func (s *simPLL) locked() bool {
	return abs(s.tune-s.lockCenter) <= s.lockRange
}

func (s *simPLL) corrV() float64 {
	if s.corrVOverride != nil {
		return s.corrVOverride(s.tune)
	}
	return s.cvSlope * float64(s.tune-s.lockCenter)
}

func (s *simPLL) respond(rca uint32, data []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data != nil {
		if rca == cmdOffset+rcaYTOCoarseTune {
			if v, ok := wire.UnpackU16(data, 0); ok {
				s.tune = int(v)
			}
		}
		return nil, true
	}

	switch rca {
	case 0x20001:
		return []byte{0x00}, true
	case rcaYTOCoarseTune:
		return wire.PackU16(uint16(s.tune)), true
	case rcaPLLLockDetectVoltage:
		if s.locked() {
			return wire.PackFloat(5.0), true
		}
		return wire.PackFloat(0.0), true
	case rcaPLLRefTotalPower, rcaPLLIFTotalPower:
		return wire.PackFloat(1.0), true
	case rcaPLLCorrectionVoltage:
		return wire.PackFloat(float32(s.corrV())), true
	case rcaPLLUnlockDetectLatch:
		return wire.PackBool(false), true
	case rcaPLLAssemblyTemp, rcaPLLNullLoopIntegrator:
		return []byte{0x00, 0x00, 0x00, 0x00}, true
	}
	return nil, false
}

// newSimLO wires a simPLL behind an LO device with no settling waits. The
// YTO window maps one count per 1/1000 GHz so tune estimates are easy to
// compute: band 6 at 18*x GHz puts the YTO at x GHz.
func newSimLO(t *testing.T, sim *simPLL) *Device {
	t.Helper()
	bus := transport.NewLoopback()
	t.Cleanup(func() { bus.Close() })
	bus.AddNode(0x13, nil, sim.respond)

	search := DefaultLockSearchParams()
	search.Settle = 0
	d := New(device.NewNode(bus, 0x13), 6,
		WithPort(femc.PortBand1),
		WithLockSearchParams(search),
	)
	require.True(t, d.Module().InitSession())
	d.SetYTOLimits(0, 4.095)
	return d
}

func TestLockPLLAlreadyLocked(t *testing.T) {
	// Estimate 2000, lock center 2000: locked on first try, AdjustPLL(0)
	// just confirms the correction voltage is already near zero.
	sim := &simPLL{tune: 0, lockCenter: 2000, lockRange: 10, cvSlope: -0.05}
	d := newSimLO(t, sim)

	tuning, err := d.LockPLL(36.0, 3)
	require.NoError(t, err)
	assert.Equal(t, uint16(2000), tuning.CoarseTune)
	assert.Equal(t, 2000, sim.tune)
}

func TestLockPLLSearchZeroCrossing(t *testing.T) {
	// Lock center 12 counts above the estimate: the estimate itself is
	// unlocked, candidates at +5..+20 lock, and the fitted zero crossing
	// lands on the center.
	sim := &simPLL{lockCenter: 2012, lockRange: 10, cvSlope: -0.05}
	d := newSimLO(t, sim)

	tuning, err := d.LockPLL(36.0, 3)
	require.NoError(t, err)
	assert.Equal(t, uint16(2000), tuning.CoarseTune)
	// Integer truncation in the zero-crossing solve can land one count
	// short of the center; either way the loop must end up locked.
	assert.InDelta(t, 2012, sim.tune, 1)
	assert.True(t, sim.locked())
}

func TestLockPLLSearchMidpointFallback(t *testing.T) {
	// Flat correction voltage: the slope fit is not credible and the
	// search takes the midpoint of the first and last locked candidates.
	sim := &simPLL{
		lockCenter:    2012,
		lockRange:     10,
		corrVOverride: func(int) float64 { return 0.0 },
	}
	d := newSimLO(t, sim)

	_, err := d.LockPLL(36.0, 3)
	require.NoError(t, err)
	// Locked candidates were 2005 and 2020; their midpoint locks too.
	assert.Equal(t, 2012, sim.tune)
}

func TestLockPLLSingleSample(t *testing.T) {
	// Only the candidate at +20 locks.
	sim := &simPLL{lockCenter: 2020, lockRange: 0, cvSlope: -0.05}
	d := newSimLO(t, sim)

	tuning, err := d.LockPLL(36.0, 3)
	require.NoError(t, err)
	assert.Equal(t, uint16(2000), tuning.CoarseTune)
	assert.Equal(t, 2020, sim.tune)
}

func TestLockPLLFailure(t *testing.T) {
	// Lock center far outside the search span: no candidate locks.
	sim := &simPLL{lockCenter: 2500, lockRange: 10, cvSlope: -0.05}
	d := newSimLO(t, sim)

	_, err := d.LockPLL(36.0, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
}

func TestLockPLLConfigError(t *testing.T) {
	sim := &simPLL{lockCenter: 2000, lockRange: 10}
	d := newSimLO(t, sim)
	d.SetYTOLimits(0, 0)

	_, err := d.LockPLL(36.0, 3)
	assert.ErrorIs(t, err, ErrYTOWindowUnset)
}

func TestAdjustPLLConverges(t *testing.T) {
	// Start 6 counts below the center: correction voltage starts at
	// +0.30 V, outside the 0.25 V window, and walking up converges.
	sim := &simPLL{tune: 1994, lockCenter: 2000, lockRange: 10, cvSlope: -0.05}
	d := newSimLO(t, sim)

	cv, err := d.AdjustPLL(0)
	require.NoError(t, err)
	assert.LessOrEqual(t, cv, 0.25)
	assert.GreaterOrEqual(t, cv, -0.25)
}

func TestAdjustPLLNotLocked(t *testing.T) {
	sim := &simPLL{tune: 3000, lockCenter: 2000, lockRange: 10, cvSlope: -0.05}
	d := newSimLO(t, sim)

	_, err := d.AdjustPLL(0)
	assert.ErrorIs(t, err, ErrNotLocked)
}

func TestAdjustPLLRetriesExhausted(t *testing.T) {
	// Correction voltage pinned far outside the window: the search must
	// terminate at its iteration bound, not hang.
	sim := &simPLL{
		tune:          2000,
		lockCenter:    2000,
		lockRange:     4095,
		corrVOverride: func(int) float64 { return 5.0 },
	}
	d := newSimLO(t, sim)

	_, err := d.AdjustPLL(0)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestAdjustPLLOscillation(t *testing.T) {
	// Correction voltage flips sign with each one-count step, so the tune
	// dithers between two values and the rolling history repeats.
	start := 2000
	sim := &simPLL{
		tune:       start,
		lockCenter: 2000,
		lockRange:  4095,
	}
	sim.corrVOverride = func(tune int) float64 {
		if tune <= start {
			return 1.0
		}
		return -1.0
	}
	d := newSimLO(t, sim)

	_, err := d.AdjustPLL(0)
	assert.ErrorIs(t, err, ErrOscillation)
}

func TestAdjustPLLDiverges(t *testing.T) {
	// Constant positive correction voltage walks the tune upward past the
	// travel bound when the retry budget is larger than the distance cap.
	sim := &simPLL{
		tune:          2000,
		lockCenter:    2000,
		lockRange:     4095,
		corrVOverride: func(int) float64 { return 5.0 },
	}
	bus := transport.NewLoopback()
	t.Cleanup(func() { bus.Close() })
	bus.AddNode(0x13, nil, sim.respond)

	search := DefaultLockSearchParams()
	search.Settle = 0
	d := New(device.NewNode(bus, 0x13), 6,
		WithPort(femc.PortBand1),
		WithLockSearchParams(search),
		WithAdjustParams(AdjustParams{Window: 0.25, MaxRetries: 100, MaxDistance: 20}),
	)
	require.True(t, d.Module().InitSession())
	d.SetYTOLimits(0, 4.095)

	_, err := d.AdjustPLL(0)
	assert.ErrorIs(t, err, ErrSearchDiverged)
	assert.LessOrEqual(t, abs(sim.tune-2000), 21)
}

func TestAdjustPLLLockLost(t *testing.T) {
	// Narrow lock range: the walk toward the correction target steps out
	// of the locked region and the final verification fails.
	sim := &simPLL{tune: 2000, lockCenter: 2000, lockRange: 2}
	sim.corrVOverride = func(tune int) float64 {
		if abs(tune-2000) > 2 {
			return 0.0
		}
		return 5.0
	}
	d := newSimLO(t, sim)

	_, err := d.AdjustPLL(0)
	assert.ErrorIs(t, err, ErrLockLost)
}
