package cca

import (
	"errors"

	"github.com/amb-protocol/amb-go/pkg/device"
	"github.com/amb-protocol/amb-go/pkg/femc"
	"github.com/amb-protocol/amb-go/pkg/log"
	"github.com/amb-protocol/amb-go/pkg/wire"
)

// Subsystem addressing within a cartridge's RCA window.
const (
	cmdOffset         = 0x10000
	pol1Offset        = 0x0400
	device2Offset     = 0x0080
	lnaStageOffset    = 0x0004
	cartridgeTempStep = 0x0010

	rcaCartridgeTemp    = 0x0880
	rcaSISVoltage       = 0x0008
	rcaSISCurrent       = 0x0010
	rcaSISOpenLoop      = 0x0018
	rcaSISMagnetVoltage = 0x0020
	rcaSISMagnetCurrent = 0x0030
	rcaLNAEnable        = 0x0058
	rcaLNADrainVoltage  = 0x0040
	rcaLNADrainCurrent  = 0x0041
	rcaLNAGateVoltage   = 0x0042
	rcaLNALEDEnable     = 0x0100
	rcaSISHeaterEnable  = 0x0180
	rcaSISHeaterCurrent = 0x01C0
)

var (
	// ErrNoSIS indicates the band has no SIS mixer at all (bands 1 and 2).
	ErrNoSIS = errors.New("cca: band has no SIS mixer")

	// ErrNoSIS2 indicates the band has no second SIS mixer.
	ErrNoSIS2 = errors.New("cca: band has no second SIS mixer")

	// ErrBadStage indicates an LNA stage outside the band's stage count.
	ErrBadStage = errors.New("cca: LNA stage out of range for band")
)

// HasSIS reports whether the band has SIS mixers. Bands 1 and 2 are purely
// HEMT receivers.
func HasSIS(band int) bool {
	return band >= 3
}

// HasSIS2 reports whether the band has a second SIS mixer per polarization.
func HasSIS2(band int) bool {
	return band >= 3 && band <= 8
}

// Device is the cold cartridge assembly of one receiver band.
type Device struct {
	mod  *femc.Device
	band int
}

// Option configures a Device.
type Option func(*config)

type config struct {
	port     femc.Port
	femcOpts []femc.Option
}

// WithPort overrides which FEMC port the cartridge is connected to. The
// default is the port matching the band number.
func WithPort(port femc.Port) Option {
	return func(c *config) { c.port = port }
}

// WithLogger attaches a protocol logger to the device.
func WithLogger(l log.Logger) Option {
	return func(c *config) { c.femcOpts = append(c.femcOpts, femc.WithLogger(l)) }
}

// New wraps a node as the cold cartridge of the given band. The underlying
// module session must be initialized via Module().InitSession before use.
func New(node *device.Node, band int, opts ...Option) *Device {
	c := config{port: femc.Port(band)}
	for _, opt := range opts {
		opt(&c)
	}
	return &Device{
		mod:  femc.New(node, c.port, c.femcOpts...),
		band: band,
	}
}

// Module returns the underlying FEMC module device, for session control and
// module-scoped operations.
func (d *Device) Module() *femc.Device {
	return d.mod
}

// Band returns the receiver band number.
func (d *Device) Band() int {
	return d.band
}

// Shutdown invalidates the module session.
func (d *Device) Shutdown() {
	d.mod.Shutdown()
}

// coercePolDevice clamps pol into {0,1} and the sub-device index into {1,2},
// forcing device 1 on bands without a second mixer/LNA pairing.
func (d *Device) coercePolDevice(pol, dev int) (int, int) {
	if pol < 0 {
		pol = 0
	} else if pol > 1 {
		pol = 1
	}
	if dev < 1 {
		dev = 1
	} else if dev > 2 {
		dev = 2
	}
	if !HasSIS2(d.band) {
		dev = 1
	}
	return pol, dev
}

func subsysOffset(pol, dev int) uint32 {
	return uint32(pol)*pol1Offset + uint32(dev-1)*device2Offset
}

// monitorFloat reads a float monitor point, substituting zero on absence.
func (d *Device) monitorFloat(rca uint32) float32 {
	data, ok := d.mod.Monitor(rca)
	if !ok {
		return 0
	}
	v, _ := wire.UnpackFloat(data, 0)
	return v
}

// monitorBool reads a bool monitor point, substituting false on absence.
func (d *Device) monitorBool(rca uint32) bool {
	data, ok := d.mod.Monitor(rca)
	if !ok {
		return false
	}
	v, _ := wire.UnpackBool(data, 0)
	return v
}

// SetSISVoltage sets the SIS junction voltage in mV.
func (d *Device) SetSISVoltage(pol, sis int, vj float32) bool {
	pol, sis = d.coercePolDevice(pol, sis)
	return d.mod.Command(cmdOffset+rcaSISVoltage+subsysOffset(pol, sis), wire.PackFloat(vj))
}

// SetSISMagnetCurrent sets the SIS magnet current in mA.
func (d *Device) SetSISMagnetCurrent(pol, sis int, imag float32) bool {
	pol, sis = d.coercePolDevice(pol, sis)
	return d.mod.Command(cmdOffset+rcaSISMagnetCurrent+subsysOffset(pol, sis), wire.PackFloat(imag))
}

// SetSISOpenLoop sets or clears the SIS open-loop control bit.
func (d *Device) SetSISOpenLoop(openLoop bool) bool {
	return d.mod.Command(cmdOffset+rcaSISOpenLoop, wire.PackBool(openLoop))
}

// SISOpenLoop reads the SIS open-loop configuration.
func (d *Device) SISOpenLoop() bool {
	return d.monitorBool(rcaSISOpenLoop)
}

// SetSISHeater switches the SIS heater on or off.
func (d *Device) SetSISHeater(enable bool) bool {
	return d.mod.Command(cmdOffset+rcaSISHeaterEnable, wire.PackBool(enable))
}

// SISHeaterCurrent reads the SIS heater current in mA.
func (d *Device) SISHeaterCurrent() float32 {
	return d.monitorFloat(rcaSISHeaterCurrent)
}

// SISBias is one SIS mixer's monitor readings. Vj and Ij are averaged over
// Averaging samples.
type SISBias struct {
	Vj        float32 // junction voltage, mV
	Ij        float32 // junction current, mA
	Vmag      float32 // magnet voltage, V
	Imag      float32 // magnet current, mA
	Averaging int
}

// SIS reads one mixer's bias monitor points. averaging values below 1 are
// treated as 1. Bands without SIS mixers report ErrNoSIS.
func (d *Device) SIS(pol, sis, averaging int) (SISBias, error) {
	if !HasSIS(d.band) {
		return SISBias{}, ErrNoSIS
	}
	pol, sis = d.coercePolDevice(pol, sis)
	if averaging < 1 {
		averaging = 1
	}
	offset := subsysOffset(pol, sis)

	var sumVj, sumIj float32
	for i := 0; i < averaging; i++ {
		sumVj += d.monitorFloat(rcaSISVoltage + offset)
		sumIj += d.monitorFloat(rcaSISCurrent + offset)
	}
	return SISBias{
		Vj:        sumVj / float32(averaging),
		Ij:        sumIj / float32(averaging),
		Vmag:      d.monitorFloat(rcaSISMagnetVoltage + offset),
		Imag:      d.monitorFloat(rcaSISMagnetCurrent + offset),
		Averaging: averaging,
	}, nil
}

// SISSettings are the commanded set values, read back from the command RCAs.
type SISSettings struct {
	Vj   float32 // junction voltage setting, mV
	Imag float32 // magnet current setting, mA
}

// SISSettings reads back the commanded SIS voltage and magnet current.
func (d *Device) SISSettings(pol, sis int) (SISSettings, error) {
	if !HasSIS(d.band) {
		return SISSettings{}, ErrNoSIS
	}
	pol, sis = d.coercePolDevice(pol, sis)
	offset := subsysOffset(pol, sis)
	return SISSettings{
		Vj:   d.monitorFloat(cmdOffset + rcaSISVoltage + offset),
		Imag: d.monitorFloat(cmdOffset + rcaSISMagnetCurrent + offset),
	}, nil
}

// SetLNAEnable enables or disables LNA devices. pol -1 selects both
// polarizations, lna -1 both LNA devices.
func (d *Device) SetLNAEnable(enable bool, pol, lna int) bool {
	bothPols := pol < 0
	bothLNAs := lna < 0
	pol, lna = d.coercePolDevice(pol, lna)
	data := wire.PackBool(enable)

	ok := true
	for p := 0; p <= 1; p++ {
		if p != pol && !bothPols {
			continue
		}
		for l := 1; l <= 2; l++ {
			if l != lna && !bothLNAs {
				continue
			}
			ok = d.mod.Command(cmdOffset+rcaLNAEnable+subsysOffset(p, l), data) && ok
		}
	}
	return ok
}

// lnaStageAddress maps a 1-based stage onto its RCA offset, remapping stages
// 4 to 6 onto the second LNA device for bands that present six stages through
// one device pairing (bands 1 and 2).
func (d *Device) lnaStageAddress(pol, lna, stage int) (uint32, error) {
	pol, lna = d.coercePolDevice(pol, lna)
	switch {
	case stage >= 1 && stage <= 3:
		return subsysOffset(pol, lna) + uint32(stage-1)*lnaStageOffset, nil
	case stage >= 4 && stage <= 6 && (d.band == 1 || d.band == 2):
		return subsysOffset(pol, lna) + device2Offset + uint32(stage-4)*lnaStageOffset, nil
	}
	return 0, ErrBadStage
}

// SetLNADrainVoltage sets one LNA stage's drain voltage.
func (d *Device) SetLNADrainVoltage(pol, lna, stage int, vd float32) bool {
	offset, err := d.lnaStageAddress(pol, lna, stage)
	if err != nil {
		return false
	}
	return d.mod.Command(cmdOffset+rcaLNADrainVoltage+offset, wire.PackFloat(vd))
}

// SetLNADrainCurrent sets one LNA stage's drain current.
func (d *Device) SetLNADrainCurrent(pol, lna, stage int, id float32) bool {
	offset, err := d.lnaStageAddress(pol, lna, stage)
	if err != nil {
		return false
	}
	return d.mod.Command(cmdOffset+rcaLNADrainCurrent+offset, wire.PackFloat(id))
}

// SetLNALEDEnable switches one polarization's LNA LED.
func (d *Device) SetLNALEDEnable(pol int, enable bool) bool {
	pol, _ = d.coercePolDevice(pol, 1)
	return d.mod.Command(cmdOffset+rcaLNALEDEnable+uint32(pol)*pol1Offset, wire.PackBool(enable))
}

// LNALEDEnable reads one polarization's LNA LED state.
func (d *Device) LNALEDEnable(pol int) bool {
	pol, _ = d.coercePolDevice(pol, 1)
	return d.monitorBool(rcaLNALEDEnable + uint32(pol)*pol1Offset)
}

// LNAStage is one amplifier stage's bias readings.
type LNAStage struct {
	VD float32 // drain voltage, V
	ID float32 // drain current, mA
	VG float32 // gate voltage, V
}

// LNABias is one LNA device's monitor readings. Stages holds three entries,
// or six for bands 1 and 2 where the second device's stages are presented as
// stages 4 to 6.
type LNABias struct {
	Enable bool
	Stages []LNAStage
}

// LNA reads one LNA device's bias monitor points.
func (d *Device) LNA(pol, lna int) LNABias {
	pol, lna = d.coercePolDevice(pol, lna)
	offset := subsysOffset(pol, lna)
	sixStage := d.band == 1 || d.band == 2

	bias := LNABias{Enable: d.monitorBool(rcaLNAEnable + offset)}
	numStages := 3
	if sixStage {
		numStages = 6
	}
	for stage := 0; stage < numStages; stage++ {
		at := offset + uint32(stage%3)*lnaStageOffset
		if stage >= 3 {
			at += device2Offset
		}
		bias.Stages = append(bias.Stages, LNAStage{
			VD: d.monitorFloat(rcaLNADrainVoltage + at),
			ID: d.monitorFloat(rcaLNADrainCurrent + at),
			VG: d.monitorFloat(rcaLNAGateVoltage + at),
		})
	}
	return bias
}

// CartridgeTemps reads the six cartridge temperature sensors in Kelvin.
// Sensors that do not answer read as zero.
func (d *Device) CartridgeTemps() [6]float32 {
	var temps [6]float32
	for i := range temps {
		temps[i] = d.monitorFloat(rcaCartridgeTemp + uint32(i)*cartridgeTempStep)
	}
	return temps
}
