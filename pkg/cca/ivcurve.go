package cca

import (
	"errors"
	"time"

	"github.com/amb-protocol/amb-go/pkg/wire"
)

var (
	// ErrZeroWidthRange indicates a sweep range whose bounds are equal.
	ErrZeroWidthRange = errors.New("cca: sweep range has zero width")

	// ErrRangeTooNarrow indicates a sweep range smaller than one step.
	ErrRangeTooNarrow = errors.New("cca: sweep range smaller than one step")
)

// sweepSettle is how long the mixer needs after slewing to the first sweep
// point before the batched sweep starts.
const sweepSettle = 10 * time.Millisecond

// ivCurvePoints is the default sweep resolution.
const ivCurvePoints = 401

// IVPoint is one point of an IV curve: the commanded junction voltage and the
// voltage and current read back at that setting.
type IVPoint struct {
	VjSet  float32
	VjRead float32
	IjRead float32
}

// IVCurveDefaults returns the band's default sweep range and step. ok is
// false for bands without SIS mixers.
func IVCurveDefaults(band int) (vjLow, vjHigh, vjStep float32, ok bool) {
	var vjMax float32
	switch band {
	case 4:
		vjMax = 6.5
	case 3, 6:
		vjMax = 12.0
	case 5, 7, 8, 9, 10:
		vjMax = 3.0
	default:
		return 0, 0, 0, false
	}
	return -vjMax, vjMax, 2 * vjMax / (ivCurvePoints - 1), true
}

// IVCurve sweeps the SIS junction voltage across [vjLow, vjHigh] and records
// the voltage and current read at each step. Passing zero for all three range
// arguments selects the band's defaults.
//
// The sweep always moves toward zero volts: a range crossing zero is split
// into a negative and a positive sub-sweep, each executed as one batched
// sequence, and the positive half is reversed on merge so the result is
// monotonically increasing in set voltage.
func (d *Device) IVCurve(pol, sis int, vjLow, vjHigh, vjStep float32) ([]IVPoint, error) {
	if !HasSIS(d.band) {
		return nil, ErrNoSIS
	}
	if sis == 2 && !HasSIS2(d.band) {
		return nil, ErrNoSIS2
	}
	pol, sis = d.coercePolDevice(pol, sis)

	if vjLow == 0 && vjHigh == 0 && vjStep == 0 {
		vjLow, vjHigh, vjStep, _ = IVCurveDefaults(d.band)
	}
	if vjHigh < vjLow {
		vjLow, vjHigh = vjHigh, vjLow
	}
	if vjStep < 0 {
		vjStep = -vjStep
	}

	vjRange := vjHigh - vjLow
	if vjRange == 0 {
		return nil, ErrZeroWidthRange
	}
	if vjRange < vjStep {
		return nil, ErrRangeTooNarrow
	}

	offset := subsysOffset(pol, sis)
	crossing := vjLow < 0 && vjHigh > 0

	var points []IVPoint

	// Negative bound toward zero.
	if vjLow < 0 {
		end := vjHigh
		if crossing {
			end = 0
		}
		seq := d.runSweep(offset, float64(vjLow), float64(end), float64(vjStep))
		points = append(points, parseSweep(seq)...)
	}

	// Positive bound toward zero, reversed on merge.
	if vjHigh > 0 {
		end := vjLow
		if crossing {
			end = 0
		}
		seq := d.runSweep(offset, float64(vjHigh), float64(end), -float64(vjStep))
		down := parseSweep(seq)
		for i := len(down) - 1; i >= 0; i-- {
			points = append(points, down[i])
		}
	}
	return points, nil
}

// runSweep slews to the first point, builds the set/read/read triples for one
// monotonic sub-sweep and executes them as a single batch.
func (d *Device) runSweep(offset uint32, from, to, step float64) []*wire.Message {
	d.mod.Command(cmdOffset+rcaSISVoltage+offset, wire.PackFloat(float32(from)))
	time.Sleep(sweepSettle)

	var seq []*wire.Message
	vj := from
	for {
		seq = append(seq,
			&wire.Message{RCA: cmdOffset + rcaSISVoltage + offset, Data: wire.PackFloat(float32(vj))},
			&wire.Message{RCA: rcaSISVoltage + offset},
			&wire.Message{RCA: rcaSISCurrent + offset},
		)
		vj += step
		if step < 0 {
			if vj <= to {
				break
			}
		} else {
			if vj >= to {
				break
			}
		}
	}
	return d.mod.RunSequence(seq)
}

// parseSweep decodes the executed triples. Monitor messages whose response
// never arrived decode as zero.
func parseSweep(seq []*wire.Message) []IVPoint {
	points := make([]IVPoint, 0, len(seq)/3)
	for i := 0; i+2 < len(seq); i += 3 {
		set, _ := wire.UnpackFloat(seq[i].Data, 0)
		read, _ := wire.UnpackFloat(seq[i+1].Data, 0)
		current, _ := wire.UnpackFloat(seq[i+2].Data, 0)
		points = append(points, IVPoint{VjSet: set, VjRead: read, IjRead: current})
	}
	return points
}
