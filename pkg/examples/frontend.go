package examples

import (
	"sync"

	"github.com/amb-protocol/amb-go/pkg/transport"
	"github.com/amb-protocol/amb-go/pkg/wire"
)

// Register geometry shared with the client packages. The simulator decodes
// raw RCAs itself, so the splits are spelled out here rather than imported.
const (
	cmdOffset  = 0x10000
	portShift  = 12
	baseMask   = 0x0FFF
	blockMask  = 0x007F

	regSISVoltage       = 0x08
	regSISCurrent       = 0x10
	regSISMagnetVoltage = 0x20
	regSISMagnetCurrent = 0x30

	baseCartridgeTemp = 0x0880
	cartridgeTempStep = 0x0010

	baseYTOCoarseTune       = 0x0800
	basePLLLockDetect       = 0x0820
	basePLLCorrectionV      = 0x0821
	basePLLAssemblyTemp     = 0x0822
	basePLLYTOHeaterCurrent = 0x0823
	basePLLRefTotalPower    = 0x0824
	basePLLIFTotalPower     = 0x0825
	basePLLUnlockLatch      = 0x0827
	basePLLClearUnlock      = 0x0828
	basePLLNullIntegrator   = 0x082B
)

// Default lock behavior of a simulated band: the loop locks within lockRange
// counts of a center that settles lockOffset counts above the first coarse
// tune commanded, and the correction voltage falls cvSlope volts per count
// away from the center.
const (
	defaultLockOffset = 12
	defaultLockRange  = 25
	defaultCVSlope    = -0.02

	// A tune jump farther than this from the current lock center is taken
	// as a retune to a new frequency and re-centers the lockable region.
	recenterThreshold = 200
)

// bandSim is one simulated cartridge: its bias registers and its first LO.
type bandSim struct {
	regs map[uint32][]byte // commanded values keyed by subsystem base RCA

	tune           int
	lockCenter     int
	centered       bool
	integratorNull bool
}

func newBandSim() *bandSim {
	return &bandSim{regs: make(map[uint32][]byte)}
}

func (b *bandSim) locked() bool {
	return b.centered && abs(b.tune-b.lockCenter) <= defaultLockRange
}

func (b *bandSim) corrV() float32 {
	if !b.centered {
		return 0
	}
	return float32(defaultCVSlope * float64(b.tune-b.lockCenter))
}

// FrontEnd simulates a front end behind one AMBSI node. Attach it to a
// loopback bus and every register the client stack touches answers.
type FrontEnd struct {
	mu sync.Mutex

	serial   []byte
	esns     [][]byte
	esnNext  int
	mode     byte
	numTrans uint32

	bandPower [10]bool
	bands     map[int]*bandSim
}

// FrontEndOption configures a simulated front end.
type FrontEndOption func(*FrontEnd)

// WithSerial sets the 8-byte serial the node reports during discovery.
func WithSerial(serial []byte) FrontEndOption {
	return func(f *FrontEnd) { f.serial = append([]byte(nil), serial...) }
}

// WithESNs sets the electronic serial numbers the module reports.
func WithESNs(esns ...[]byte) FrontEndOption {
	return func(f *FrontEnd) {
		f.esns = nil
		for _, esn := range esns {
			f.esns = append(f.esns, append([]byte(nil), esn...))
		}
	}
}

// NewFrontEnd builds a simulated front end with ten cold cartridges.
func NewFrontEnd(opts ...FrontEndOption) *FrontEnd {
	f := &FrontEnd{
		serial: []byte{0xA5, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x5A},
		esns: [][]byte{
			{0x10, 0x27, 0x3A, 0x00, 0x00, 0x00, 0x00, 0xC1},
			{0x10, 0x27, 0x3A, 0x00, 0x00, 0x00, 0x01, 0xC2},
		},
		bands: make(map[int]*bandSim),
	}
	for band := 1; band <= 10; band++ {
		f.bands[band] = newBandSim()
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Attach registers the front end on the loopback bus at the given address.
func (f *FrontEnd) Attach(bus *transport.Loopback, addr uint8) {
	bus.AddNode(addr, f.serial, f.Respond)
}

// Respond implements transport.Responder.
func (f *FrontEnd) Respond(rca uint32, data []byte) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.numTrans++

	if rca >= 0x30000 {
		return f.ambsi(rca, data)
	}
	if rca >= 0x20000 {
		return f.module(rca, data)
	}

	isCmd := rca >= cmdOffset
	base := rca & (baseMask | uint32(0xF)<<portShift)
	port := int(base>>portShift) + 1
	base &= baseMask

	switch {
	case port == 11:
		return f.powerDist(base, isCmd, data)
	case port >= 1 && port <= 10:
		return f.band(f.bands[port], base, isCmd, data)
	}
	return nil, false
}

func (f *FrontEnd) ambsi(rca uint32, data []byte) ([]byte, bool) {
	if data != nil {
		return nil, false
	}
	switch rca {
	case 0x30000: // protocol revision
		return []byte{0x01, 0x00, 0x01}, true
	case 0x30001: // error status
		return []byte{0x00, 0x00, 0x00, 0x00}, true
	case 0x30002:
		return wire.PackU32(f.numTrans), true
	case 0x30003: // DS1820 at 25 C
		return []byte{0x32, 0x00, 0x00, 0x00}, true
	case 0x30004: // software revision
		return []byte{0x01, 0x02, 0x03}, true
	}
	return nil, false
}

func (f *FrontEnd) module(rca uint32, data []byte) ([]byte, bool) {
	if data != nil {
		switch rca {
		case 0x2100E:
			if len(data) == 1 {
				f.mode = data[0]
			}
			return nil, true
		case 0x2100F:
			f.esnNext = 0
			return nil, true
		}
		return nil, false
	}

	switch rca {
	case 0x20000: // AMBSI firmware as seen by the module
		return []byte{0x01, 0x02, 0x03}, true
	case 0x20001: // setup probe
		return []byte{0x00}, true
	case 0x20002: // FEMC firmware
		return []byte{0x03, 0x06, 0x05}, true
	case 0x20007: // console comm time
		return []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, true
	case 0x20008: // FPGA
		return []byte{0x02, 0x08, 0x01}, true
	case 0x2000A:
		return []byte{byte(len(f.esns))}, true
	case 0x2000B:
		if f.esnNext >= len(f.esns) {
			return make([]byte, 8), true
		}
		esn := f.esns[f.esnNext]
		f.esnNext++
		return esn, true
	case 0x2000C:
		return []byte{0x00, 0x00}, true
	case 0x2000D:
		return []byte{0x00, 0x00}, true
	case 0x2000E:
		return []byte{f.mode}, true
	}
	return nil, false
}

// powerDist answers the power distribution module: per-band enables at
// 0x00C + (band-1)<<4 and the powered-band count at 0x0A0.
func (f *FrontEnd) powerDist(base uint32, isCmd bool, data []byte) ([]byte, bool) {
	if base == 0x0A0 && !isCmd {
		var n uint8
		for _, on := range f.bandPower {
			if on {
				n++
			}
		}
		return []byte{n}, true
	}
	if base&0xF != 0xC {
		return nil, false
	}
	band := int(base>>4) + 1
	if band < 1 || band > 10 {
		return nil, false
	}
	if isCmd {
		if v, ok := wire.UnpackBool(data, 0); ok {
			f.bandPower[band-1] = v
		}
		return nil, true
	}
	return wire.PackBool(f.bandPower[band-1]), true
}

func (f *FrontEnd) band(b *bandSim, base uint32, isCmd bool, data []byte) ([]byte, bool) {
	if base >= baseYTOCoarseTune {
		return f.lo(b, base, isCmd, data)
	}
	return f.bias(b, base, isCmd, data)
}

// bias answers the cold cartridge registers. Commanded values are stored by
// base RCA; readbacks echo them, and the junction current follows the
// commanded junction voltage through a toy IV response.
func (f *FrontEnd) bias(b *bandSim, base uint32, isCmd bool, data []byte) ([]byte, bool) {
	if isCmd {
		b.regs[base] = append([]byte(nil), data...)
		return nil, true
	}

	switch base & blockMask {
	case regSISCurrent:
		vjBase := base&^uint32(blockMask) | regSISVoltage
		vj, _ := wire.UnpackFloat(b.regs[vjBase], 0)
		return wire.PackFloat(junctionCurrent(vj)), true
	case regSISVoltage, regSISMagnetCurrent:
		if stored, ok := b.regs[base]; ok {
			return append([]byte(nil), stored...), true
		}
		return wire.PackFloat(0), true
	case regSISMagnetVoltage:
		imag, _ := wire.UnpackFloat(b.regs[base&^uint32(blockMask)|regSISMagnetCurrent], 0)
		return wire.PackFloat(imag * 0.1), true
	}

	if base >= baseCartridgeTemp && base < baseCartridgeTemp+6*cartridgeTempStep &&
		(base-baseCartridgeTemp)%cartridgeTempStep == 0 {
		sensor := (base - baseCartridgeTemp) / cartridgeTempStep
		return wire.PackFloat(4.2 + 0.3*float32(sensor)), true
	}

	if stored, ok := b.regs[base]; ok {
		return append([]byte(nil), stored...), true
	}
	return wire.PackFloat(0), true
}

// junctionCurrent is a toy SIS IV response in the client's bias units: a
// shallow subgap slope with a steep branch past a 2.8 mV gap.
func junctionCurrent(vj float32) float32 {
	const gap = 2.8
	if vj > gap {
		return 0.05*gap + 0.8*(vj-gap)
	}
	if vj < -gap {
		return -0.05*gap + 0.8*(vj+gap)
	}
	return 0.05 * vj
}

func (f *FrontEnd) lo(b *bandSim, base uint32, isCmd bool, data []byte) ([]byte, bool) {
	if isCmd {
		switch base {
		case baseYTOCoarseTune:
			if v, ok := wire.UnpackU16(data, 0); ok {
				b.tune = int(v)
				// The first tune of a session, and any large retune,
				// recenters the lockable region near the new estimate.
				if !b.centered || abs(b.tune-b.lockCenter) > recenterThreshold {
					b.lockCenter = b.tune + defaultLockOffset
					b.centered = true
				}
			}
			return nil, true
		case basePLLNullIntegrator:
			if v, ok := wire.UnpackBool(data, 0); ok {
				b.integratorNull = v
			}
			return nil, true
		case basePLLClearUnlock:
			return nil, true
		}
		b.regs[base] = append([]byte(nil), data...)
		return nil, true
	}

	switch base {
	case baseYTOCoarseTune:
		return wire.PackU16(uint16(b.tune)), true
	case basePLLLockDetect:
		if b.locked() && !b.integratorNull {
			return wire.PackFloat(4.8), true
		}
		return wire.PackFloat(0.1), true
	case basePLLCorrectionV:
		return wire.PackFloat(b.corrV()), true
	case basePLLRefTotalPower:
		return wire.PackFloat(1.2), true
	case basePLLIFTotalPower:
		return wire.PackFloat(-1.1), true
	case basePLLAssemblyTemp:
		return wire.PackFloat(22.5), true
	case basePLLYTOHeaterCurrent:
		return wire.PackFloat(150.0), true
	case basePLLUnlockLatch:
		return wire.PackBool(false), true
	}

	if stored, ok := b.regs[base]; ok {
		return append([]byte(nil), stored...), true
	}
	return wire.PackFloat(0), true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
