package lo

import (
	"errors"

	"github.com/amb-protocol/amb-go/pkg/device"
	"github.com/amb-protocol/amb-go/pkg/femc"
	"github.com/amb-protocol/amb-go/pkg/log"
	"github.com/amb-protocol/amb-go/pkg/wire"
)

// Subsystem addressing within a local oscillator's RCA window.
const (
	cmdOffset  = 0x10000
	pol1Offset = 0x0004

	rcaYTOCoarseTune = 0x0800

	rcaPhotomixerEnable  = 0x0810
	rcaPhotomixerVoltage = 0x0814
	rcaPhotomixerCurrent = 0x0818

	rcaPLLLockDetectVoltage   = 0x0820
	rcaPLLCorrectionVoltage   = 0x0821
	rcaPLLAssemblyTemp        = 0x0822
	rcaPLLYTOHeaterCurrent    = 0x0823
	rcaPLLRefTotalPower       = 0x0824
	rcaPLLIFTotalPower        = 0x0825
	rcaPLLUnlockDetectLatch   = 0x0827
	rcaPLLClearUnlockDetect   = 0x0828
	rcaPLLLoopBandwidthSelect = 0x0829
	rcaPLLLockSidebandSelect  = 0x082A
	rcaPLLNullLoopIntegrator  = 0x082B

	rcaAMCGateAVoltage      = 0x0830
	rcaAMCDrainAVoltage     = 0x0831
	rcaAMCDrainACurrent     = 0x0832
	rcaAMCGateBVoltage      = 0x0833
	rcaAMCDrainBVoltage     = 0x0834
	rcaAMCDrainBCurrent     = 0x0835
	rcaAMCMultiplierDCounts = 0x0836
	rcaAMCGateEVoltage      = 0x0837
	rcaAMCDrainEVoltage     = 0x0838
	rcaAMCDrainECurrent     = 0x0839
	rcaAMCMultiplierDAmps   = 0x083A
	rcaAMCSupplyVoltage5V   = 0x083B

	rcaPAGateVoltage       = 0x0840
	rcaPADrainVoltage      = 0x0841
	rcaPADrainCurrent      = 0x0842
	rcaPASupplyVoltage3V   = 0x0848
	rcaPASupplyVoltage5V   = 0x084C
	rcaPAHasTeledyneChip   = 0x0850
	rcaPATeledyneCollector = 0x0851
)

// lockDetectThreshold is the raw lock detect voltage above which the lock
// detect bit is considered asserted.
const lockDetectThreshold = 3.0

// totalPowerThreshold is the minimum magnitude of the reference and IF total
// power detector voltages for a believable lock.
const totalPowerThreshold = 0.5

// Loop bandwidth selections for SelectLoopBW.
const (
	LoopBWDefault = -1 // use the band's default
	LoopBWNormal  = 0  // 7.5 MHz/V
	LoopBWAlt     = 1  // 15 MHz/V
)

// Lock sideband selections for SelectLockSideband.
const (
	LockBelowRef = 0
	LockAboveRef = 1
)

// PA bias limits from the WCA bias equation.
const (
	paDrainControlMax = 2.5
	paGateVoltageMin  = -0.84
	paGateVoltageMax  = 0.15
)

var (
	// ErrInvalidFrequency indicates a zero frequency or multiplier.
	ErrInvalidFrequency = errors.New("lo: frequency and multiplier must be nonzero")

	// ErrYTOWindowUnset indicates SetYTOLimits has not been called with a
	// valid window.
	ErrYTOWindowUnset = errors.New("lo: YTO frequency window not configured")

	// ErrNotBand7 indicates a Teledyne PA operation on a band other than 7.
	ErrNotBand7 = errors.New("lo: Teledyne PA config is only supported on band 7")
)

// Device is the local oscillator assembly of one receiver band.
type Device struct {
	mod  *femc.Device
	band int

	ytoLowGHz  float64
	ytoHighGHz float64

	search LockSearchParams
	adjust AdjustParams

	traceID string
	logger  log.Logger
}

// Option configures a Device.
type Option func(*Device, *config)

type config struct {
	port     femc.Port
	femcOpts []femc.Option
}

// WithPort overrides which FEMC port the assembly is connected to. The
// default is the port matching the band number.
func WithPort(port femc.Port) Option {
	return func(_ *Device, c *config) { c.port = port }
}

// WithLogger attaches a protocol logger to the device.
func WithLogger(l log.Logger) Option {
	return func(d *Device, c *config) {
		d.logger = log.OrNoop(l)
		c.femcOpts = append(c.femcOpts, femc.WithLogger(l))
	}
}

// WithLockSearchParams overrides the lock search geometry.
func WithLockSearchParams(p LockSearchParams) Option {
	return func(d *Device, _ *config) { d.search = p }
}

// WithAdjustParams overrides the correction-voltage search bounds.
func WithAdjustParams(p AdjustParams) Option {
	return func(d *Device, _ *config) { d.adjust = p }
}

// New wraps a node as the local oscillator of the given band. The underlying
// module session must be initialized via Module().InitSession before use.
func New(node *device.Node, band int, opts ...Option) *Device {
	d := &Device{
		band:    band,
		search:  DefaultLockSearchParams(),
		adjust:  DefaultAdjustParams(),
		traceID: log.NewTraceID(),
		logger:  log.NoopLogger{},
	}
	c := config{port: femc.Port(band)}
	for _, opt := range opts {
		opt(d, &c)
	}
	d.mod = femc.New(node, c.port, c.femcOpts...)
	return d
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

// SetYTOLimits configures the YTO frequency window in GHz. The window maps
// linearly onto the 12-bit coarse tune range.
func (d *Device) SetYTOLimits(lowGHz, highGHz float64) {
	d.ytoLowGHz = lowGHz
	d.ytoHighGHz = highGHz
}

// Tuning is the resolved frequency plan of a tune or lock operation.
type Tuning struct {
	OutputFreq float64 // WCA output frequency, GHz
	YTOFreq    float64 // YTO tuning frequency, GHz
	CoarseTune uint16
}

// SetLOFrequency tunes to the given sky frequency: the YTO frequency is the
// output frequency divided by the band's warm multiplication factor, clamped
// into the configured window and converted linearly to a coarse tune count.
// Configuration errors are reported before any bus I/O happens.
func (d *Device) SetLOFrequency(freqGHz float64, coldMult int) (Tuning, error) {
	tuning, err := d.planTuning(freqGHz, coldMult)
	if err != nil {
		return Tuning{}, err
	}
	d.SetYTOCoarseTune(int(tuning.CoarseTune))
	return tuning, nil
}

// planTuning computes the tuning triple without touching the bus.
func (d *Device) planTuning(freqGHz float64, coldMult int) (Tuning, error) {
	if freqGHz == 0 || coldMult == 0 {
		return Tuning{}, ErrInvalidFrequency
	}
	warmMult := WarmMultiplier(d.band)
	if warmMult == 0 {
		return Tuning{}, ErrInvalidFrequency
	}
	if d.ytoHighGHz <= d.ytoLowGHz {
		return Tuning{}, ErrYTOWindowUnset
	}
	outputFreq := freqGHz / float64(coldMult)
	ytoFreq := outputFreq / float64(warmMult)
	if ytoFreq < d.ytoLowGHz {
		ytoFreq = d.ytoLowGHz
	} else if ytoFreq > d.ytoHighGHz {
		ytoFreq = d.ytoHighGHz
	}
	coarse := int((ytoFreq - d.ytoLowGHz) / (d.ytoHighGHz - d.ytoLowGHz) * 4095)
	return Tuning{OutputFreq: outputFreq, YTOFreq: ytoFreq, CoarseTune: uint16(coarse)}, nil
}

// SetYTOCoarseTune writes the coarse tune count, clamped into [0, 4095].
func (d *Device) SetYTOCoarseTune(coarseTune int) bool {
	if coarseTune < 0 {
		coarseTune = 0
	} else if coarseTune > 4095 {
		coarseTune = 4095
	}
	return d.mod.Command(cmdOffset+rcaYTOCoarseTune, wire.PackU16(uint16(coarseTune)))
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

// monitorU8 reads a byte monitor point, substituting zero on absence.
func (d *Device) monitorU8(rca uint32) uint8 {
	data, ok := d.mod.Monitor(rca)
	if !ok {
		return 0
	}
	v, _ := wire.UnpackU8(data, 0)
	return v
}

// monitorU16 reads a 16-bit monitor point, reporting ok false on absence.
func (d *Device) monitorU16(rca uint32) (uint16, bool) {
	data, ok := d.mod.Monitor(rca)
	if !ok {
		return 0, false
	}
	return wire.UnpackU16(data, 0)
}

// LockInfo is the PLL lock state.
type LockInfo struct {
	LockDetect     bool    // raw lock detect voltage above threshold
	UnlockDetected bool    // latched unlock detect bit
	RefTP          float32 // reference total power detector voltage
	IFTP           float32 // IF total power detector voltage
	CorrV          float32 // correction voltage
	IsLocked       bool
}

// LockInfo reads the PLL lock state. A lock is believed only when the lock
// detect voltage is above threshold and both total power detectors see
// signal.
func (d *Device) LockInfo() LockInfo {
	info := LockInfo{
		LockDetect:     d.monitorFloat(rcaPLLLockDetectVoltage) >= lockDetectThreshold,
		UnlockDetected: d.monitorBool(rcaPLLUnlockDetectLatch),
		RefTP:          d.monitorFloat(rcaPLLRefTotalPower),
		IFTP:           d.monitorFloat(rcaPLLIFTotalPower),
		CorrV:          d.monitorFloat(rcaPLLCorrectionVoltage),
	}
	info.IsLocked = info.LockDetect &&
		abs32(info.RefTP) >= totalPowerThreshold &&
		abs32(info.IFTP) >= totalPowerThreshold
	return info
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// PLLInfo extends LockInfo with the tune and assembly readings.
type PLLInfo struct {
	LockInfo
	CoarseTune     uint16
	Temperature    float32
	NullIntegrator bool
}

// PLL reads the full PLL monitor set.
func (d *Device) PLL() PLLInfo {
	coarse, _ := d.monitorU16(rcaYTOCoarseTune)
	return PLLInfo{
		LockInfo:       d.LockInfo(),
		CoarseTune:     coarse,
		Temperature:    d.monitorFloat(rcaPLLAssemblyTemp),
		NullIntegrator: d.monitorBool(rcaPLLNullLoopIntegrator),
	}
}

// PLLConfig is the PLL configuration.
type PLLConfig struct {
	LockSB   uint8 // 0 below reference, 1 above
	LoopBW   uint8 // 0 normal, 1 alternate
	WarmMult int
	ColdMult int
}

// PLLConfig reads the PLL configuration, combining monitor points with the
// band's multiplier table entries.
func (d *Device) PLLConfig() PLLConfig {
	return PLLConfig{
		LockSB:   d.monitorU8(rcaPLLLockSidebandSelect),
		LoopBW:   d.monitorU8(rcaPLLLoopBandwidthSelect),
		WarmMult: WarmMultiplier(d.band),
		ColdMult: ColdMultiplier(d.band),
	}
}

// YTO is the tunable oscillator state.
type YTO struct {
	CoarseTune uint16
	LowGHz     float64
	HighGHz    float64
}

// YTO reads the oscillator's coarse tune and reports the configured window.
func (d *Device) YTO() YTO {
	coarse, _ := d.monitorU16(rcaYTOCoarseTune)
	return YTO{CoarseTune: coarse, LowGHz: d.ytoLowGHz, HighGHz: d.ytoHighGHz}
}

// SetNullLoopIntegrator zeroes (true) or activates (false) the PLL loop
// integrator.
func (d *Device) SetNullLoopIntegrator(enable bool) bool {
	return d.mod.Command(cmdOffset+rcaPLLNullLoopIntegrator, wire.PackBool(enable))
}

// ClearUnlockDetect clears the latched unlock detect bit.
func (d *Device) ClearUnlockDetect() bool {
	return d.mod.Command(cmdOffset+rcaPLLClearUnlockDetect, wire.PackBool(true))
}

// SelectLoopBW selects the loop bandwidth. LoopBWDefault and any
// unrecognized value pick the band's default.
func (d *Device) SelectLoopBW(selection int) bool {
	var value uint8
	switch selection {
	case LoopBWNormal:
		value = 0
	case LoopBWAlt:
		value = 1
	default:
		value = defaultLoopBW[d.band]
	}
	return d.mod.Command(cmdOffset+rcaPLLLoopBandwidthSelect, wire.PackU8(value))
}

// SelectLockSideband selects locking below or above the reference.
func (d *Device) SelectLockSideband(selection int) bool {
	if selection != LockBelowRef && selection != LockAboveRef {
		return false
	}
	return d.mod.Command(cmdOffset+rcaPLLLockSidebandSelect, wire.PackU8(uint8(selection)))
}

// SetPhotomixerEnable switches the photomixer on or off.
func (d *Device) SetPhotomixerEnable(enable bool) bool {
	return d.mod.Command(cmdOffset+rcaPhotomixerEnable, wire.PackBool(enable))
}

// Photomixer is the photomixer monitor set.
type Photomixer struct {
	Enabled bool
	Voltage float32
	Current float32 // mA
}

// Photomixer reads the photomixer monitor points.
func (d *Device) Photomixer() Photomixer {
	return Photomixer{
		Enabled: d.monitorBool(rcaPhotomixerEnable),
		Voltage: d.monitorFloat(rcaPhotomixerVoltage),
		Current: d.monitorFloat(rcaPhotomixerCurrent),
	}
}

// AMC is the active multiplier chain monitor set.
type AMC struct {
	VGA, VDA, IDA float32
	VGB, VDB, IDB float32
	VGE, VDE, IDE float32
	MultDCounts   uint8
	MultDCurrent  float32
	Supply5V      float32
}

// AMC reads the active multiplier chain monitor points.
func (d *Device) AMC() AMC {
	return AMC{
		VGA:          d.monitorFloat(rcaAMCGateAVoltage),
		VDA:          d.monitorFloat(rcaAMCDrainAVoltage),
		IDA:          d.monitorFloat(rcaAMCDrainACurrent),
		VGB:          d.monitorFloat(rcaAMCGateBVoltage),
		VDB:          d.monitorFloat(rcaAMCDrainBVoltage),
		IDB:          d.monitorFloat(rcaAMCDrainBCurrent),
		VGE:          d.monitorFloat(rcaAMCGateEVoltage),
		VDE:          d.monitorFloat(rcaAMCDrainEVoltage),
		IDE:          d.monitorFloat(rcaAMCDrainECurrent),
		MultDCounts:  d.monitorU8(rcaAMCMultiplierDCounts),
		MultDCurrent: d.monitorFloat(rcaAMCMultiplierDAmps),
		Supply5V:     d.monitorFloat(rcaAMCSupplyVoltage5V),
	}
}

// PA is the power amplifier monitor set, mapped to polarizations.
type PA struct {
	VGp0, VGp1 float32
	VDp0, VDp1 float32
	IDp0, IDp1 float32 // mA
	Supply3V   float32
	Supply5V   float32
}

// PA reads the power amplifier monitor points for both polarizations.
func (d *Device) PA() PA {
	return PA{
		VGp0:     d.monitorFloat(rcaPAGateVoltage),
		VGp1:     d.monitorFloat(rcaPAGateVoltage + pol1Offset),
		VDp0:     d.monitorFloat(rcaPADrainVoltage),
		VDp1:     d.monitorFloat(rcaPADrainVoltage + pol1Offset),
		IDp0:     d.monitorFloat(rcaPADrainCurrent),
		IDp1:     d.monitorFloat(rcaPADrainCurrent + pol1Offset),
		Supply3V: d.monitorFloat(rcaPASupplyVoltage3V),
		Supply5V: d.monitorFloat(rcaPASupplyVoltage5V),
	}
}

func polOffset(pol int) uint32 {
	if pol == 1 {
		return pol1Offset
	}
	return 0
}

// SetPADrainControl sets one polarization's PA drain control voltage,
// clamped into [0, 2.5].
func (d *Device) SetPADrainControl(pol int, drainControl float64) bool {
	if pol < 0 || pol > 1 {
		return false
	}
	if drainControl < 0 {
		drainControl = 0
	} else if drainControl > paDrainControlMax {
		drainControl = paDrainControlMax
	}
	return d.mod.Command(cmdOffset+rcaPADrainVoltage+polOffset(pol), wire.PackFloat(float32(drainControl)))
}

// SetPAGateVoltage sets one polarization's PA gate voltage, clamped into
// [-0.84, 0.15].
func (d *Device) SetPAGateVoltage(pol int, gateVoltage float64) bool {
	if pol < 0 || pol > 1 {
		return false
	}
	if gateVoltage < paGateVoltageMin {
		gateVoltage = paGateVoltageMin
	} else if gateVoltage > paGateVoltageMax {
		gateVoltage = paGateVoltageMax
	}
	return d.mod.Command(cmdOffset+rcaPAGateVoltage+polOffset(pol), wire.PackFloat(float32(gateVoltage)))
}

// SetTeledynePAConfig configures the band 7 Teledyne PA chips: whether they
// are present and the collector digital pot setting per polarization,
// clamped into [0, 255].
func (d *Device) SetTeledynePAConfig(hasTeledyne bool, collectorP0, collectorP1 int) error {
	if d.band != 7 {
		return ErrNotBand7
	}
	clamp := func(v int) uint8 {
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return uint8(v)
	}
	d.mod.Command(cmdOffset+rcaPAHasTeledyneChip, wire.PackBool(hasTeledyne))
	d.mod.Command(cmdOffset+rcaPATeledyneCollector, wire.PackU8(clamp(collectorP0)))
	d.mod.Command(cmdOffset+rcaPATeledyneCollector+pol1Offset, wire.PackU8(clamp(collectorP1)))
	return nil
}

// TeledynePA is the band 7 Teledyne PA configuration.
type TeledynePA struct {
	HasTeledyne bool
	CollectorP0 uint8
	CollectorP1 uint8
}

// TeledynePA reads the Teledyne PA configuration.
func (d *Device) TeledynePA() TeledynePA {
	return TeledynePA{
		HasTeledyne: d.monitorBool(rcaPAHasTeledyneChip),
		CollectorP0: d.monitorU8(rcaPATeledyneCollector),
		CollectorP1: d.monitorU8(rcaPATeledyneCollector + pol1Offset),
	}
}

// YTOHeaterCurrent reads the YTO heater current in mA.
func (d *Device) YTOHeaterCurrent() float32 {
	return d.monitorFloat(rcaPLLYTOHeaterCurrent)
}
