package lo

import (
	"errors"
	"time"
)

var (
	// ErrLockFailed indicates the lock search found no tune where the PLL
	// locks, or the final verification read the loop unlocked.
	ErrLockFailed = errors.New("lo: PLL failed to lock")

	// ErrNotLocked indicates AdjustPLL was called with the loop unlocked.
	ErrNotLocked = errors.New("lo: PLL is not locked")

	// ErrLockLost indicates the loop came unlocked during the adjustment.
	ErrLockLost = errors.New("lo: PLL lost lock while adjusting")

	// ErrOscillation indicates the adjustment dithered between the same
	// tune values without converging.
	ErrOscillation = errors.New("lo: adjustment oscillating")

	// ErrRetriesExhausted indicates the adjustment hit its iteration bound
	// before the correction voltage entered the acceptance window.
	ErrRetriesExhausted = errors.New("lo: adjustment retries exhausted")

	// ErrSearchDiverged indicates the adjustment wandered too far from its
	// starting tune.
	ErrSearchDiverged = errors.New("lo: adjustment strayed too far from start")

	// ErrBadStartTune indicates the coarse tune read back at the start of
	// the adjustment was outside the valid range.
	ErrBadStartTune = errors.New("lo: starting coarse tune out of range")
)

// LockSearchParams is the geometry of the lockPLL candidate search. The
// defaults are empirically tuned against real hardware; change them only
// with hardware validation.
type LockSearchParams struct {
	Points         int           // candidate tunes to evaluate
	Interval       int           // counts between candidates
	SlopeThreshold float64       // V/count; at or below this the fit is believed
	Settle         time.Duration // electrical settling wait after each write
}

// DefaultLockSearchParams returns the standard search geometry: 9 points
// spaced 5 counts apart, a -0.001 V/count slope threshold and 100 ms
// settling.
func DefaultLockSearchParams() LockSearchParams {
	return LockSearchParams{
		Points:         9,
		Interval:       5,
		SlopeThreshold: -0.001,
		Settle:         100 * time.Millisecond,
	}
}

// AdjustParams bounds the AdjustPLL hill climb.
type AdjustParams struct {
	Window      float64 // acceptable volts of error from the target
	MaxRetries  int     // iteration bound
	MaxDistance int     // counts the search may stray from its start
}

// DefaultAdjustParams returns the standard bounds: a 0.25 V window, 50
// iterations and 50 counts of travel.
func DefaultAdjustParams() AdjustParams {
	return AdjustParams{Window: 0.25, MaxRetries: 50, MaxDistance: 50}
}

// LockPLL tunes to the given sky frequency and acquires phase lock.
//
// After the coarse estimate is written, an already-locked loop just has its
// correction voltage zeroed. Otherwise candidate tunes around the estimate
// are evaluated: for each one the loop integrator is zeroed, the tune
// written, the integrator reactivated, and the lock state sampled after
// settling. Retained (locked) samples resolve to a final tune either by a
// linear fit of correction voltage against tune, solved for the
// zero crossing, or by their midpoint when the fitted slope is not credibly
// negative. Success is the final verification reading a locked loop.
func (d *Device) LockPLL(freqGHz float64, coldMult int) (Tuning, error) {
	tuning, err := d.SetLOFrequency(freqGHz, coldMult)
	if err != nil {
		return Tuning{}, err
	}

	if d.LockInfo().IsLocked {
		d.AdjustPLL(0)
	} else {
		d.searchLock(int(tuning.CoarseTune))
	}

	if !d.LockInfo().IsLocked {
		return Tuning{}, ErrLockFailed
	}
	return tuning, nil
}

// lockSample is one retained candidate: a tune where the loop locked, and
// the correction voltage observed there.
type lockSample struct {
	coarseTune int
	corrV      float64
}

// searchLock evaluates candidate tunes around the estimate and re-tunes to
// the resolved lock point. The final lock state is left for the caller to
// verify.
func (d *Device) searchLock(estimate int) {
	var samples []lockSample
	for i := 0; i < d.search.Points; i++ {
		offset := d.search.Interval * (i - d.search.Points/2)
		tryTune := clampTune(estimate + offset)

		// Zero the integrator while slewing so the loop does not fight
		// the tune change.
		d.SetNullLoopIntegrator(true)
		d.SetYTOCoarseTune(tryTune)
		d.sleep()
		d.SetNullLoopIntegrator(false)
		d.sleep()

		pll := d.PLL()
		if pll.IsLocked {
			tune := int(pll.CoarseTune)
			if tune == 0 {
				// Readback absent; trust the commanded value.
				tune = tryTune
			}
			samples = append(samples, lockSample{coarseTune: tune, corrV: float64(pll.CorrV)})
		}
	}

	switch len(samples) {
	case 0:
		// Nothing locked; the caller's verification will fail.
	case 1:
		d.SetYTOCoarseTune(samples[0].coarseTune)
		d.sleep()
		d.AdjustPLL(0)
	default:
		first, last := samples[0], samples[len(samples)-1]
		var tuneZero int
		slope := (last.corrV - first.corrV) / float64(last.coarseTune-first.coarseTune)
		if slope <= d.search.SlopeThreshold {
			tuneZero = int(-first.corrV/slope) + first.coarseTune
		} else {
			// A flat or rising fit means the correction voltage is not
			// tracking the tune, as on a simulated bus. Take the midpoint.
			tuneZero = (first.coarseTune + last.coarseTune) / 2
		}
		d.SetYTOCoarseTune(tuneZero)
		d.sleep()
		d.ClearUnlockDetect()
	}
}

// AdjustPLL walks the coarse tune one count at a time until the correction
// voltage is within the acceptance window of targetCV. The search is bounded
// by AdjustParams; every bound violation is a distinct error and the caller
// may retry with different parameters. The loop must already be locked and
// must still be locked at the end.
func (d *Device) AdjustPLL(targetCV float64) (float64, error) {
	info := d.LockInfo()
	if !info.IsLocked {
		return 0, ErrNotLocked
	}

	startTune := int(d.YTO().CoarseTune)
	if startTune < 0 || startTune > 4095 {
		return 0, ErrBadStartTune
	}
	d.SetYTOCoarseTune(startTune)

	history := []int{startTune}
	tryTune := startTune
	retries := d.adjust.MaxRetries

	var searchErr error
	for {
		info = d.LockInfo()
		corrV := float64(info.CorrV)

		if corrV >= targetCV-d.adjust.Window && corrV <= targetCV+d.adjust.Window {
			break
		}
		if len(history) == 5 && history[0] == history[2] && history[2] == history[4] {
			searchErr = ErrOscillation
			break
		}
		retries--
		if retries <= 0 {
			searchErr = ErrRetriesExhausted
			break
		}

		if corrV > targetCV {
			tryTune++
		} else {
			tryTune--
		}
		if abs(tryTune-startTune) > d.adjust.MaxDistance {
			searchErr = ErrSearchDiverged
			break
		}
		if tryTune >= 0 && tryTune <= 4095 {
			d.SetYTOCoarseTune(tryTune)
		}
		history = append(history, tryTune)
		if len(history) > 5 {
			history = history[len(history)-5:]
		}
	}

	info = d.LockInfo()
	if !info.IsLocked {
		return float64(info.CorrV), ErrLockLost
	}
	d.ClearUnlockDetect()
	return float64(info.CorrV), searchErr
}

func (d *Device) sleep() {
	if d.search.Settle > 0 {
		time.Sleep(d.search.Settle)
	}
}

func clampTune(tune int) int {
	if tune < 0 {
		return 0
	}
	if tune > 4095 {
		return 4095
	}
	return tune
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
