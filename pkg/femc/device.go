package femc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amb-protocol/amb-go/pkg/device"
	"github.com/amb-protocol/amb-go/pkg/log"
	"github.com/amb-protocol/amb-go/pkg/wire"
)

// Port selects which sub-controller behind the FEMC module a device talks to.
type Port uint8

const (
	PortFEMCModule Port = 0
	PortBand1      Port = 1
	PortBand2      Port = 2
	PortBand3      Port = 3
	PortBand4      Port = 4
	PortBand5      Port = 5
	PortBand6      Port = 6
	PortBand7      Port = 7
	PortBand8      Port = 8
	PortBand9      Port = 9
	PortBand10     Port = 10
	PortPowerDist  Port = 11
	PortIFSwitch   Port = 12
	PortCryostat   Port = 13
	PortLPR        Port = 14
	PortFETIM      Port = 15
)

// Mode is the FEMC operating mode, written to the module as a single byte.
type Mode uint8

const (
	ModeOperational     Mode = 0
	ModeTroubleshooting Mode = 1
	ModeMaintenance     Mode = 2
	ModeSimulate        Mode = 3
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeOperational:
		return "operational"
	case ModeTroubleshooting:
		return "troubleshooting"
	case ModeMaintenance:
		return "maintenance"
	case ModeSimulate:
		return "simulate"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Module-scoped RCAs. These address the FEMC module itself and are never
// shifted by the port offset.
const (
	rcaAMBSIVersionInfo = 0x20000
	rcaSetupInfo        = 0x20001 // session identity probe
	rcaVersionInfo      = 0x20002
	rcaPPCommTime       = 0x20007
	rcaFPGAVersionInfo  = 0x20008
	rcaESNsFound        = 0x2000A
	rcaNextESN          = 0x2000B
	rcaErrorsNumber     = 0x2000C
	rcaNextError        = 0x2000D
	rcaGetFEMode        = 0x2000E

	rcaSetFEMode  = 0x2100E
	rcaSetReadESN = 0x2100F

	rcaSetCartPower      = 0x1A00C
	rcaGetCartPower      = 0x0A00C
	rcaNumBandsPowered   = 0x0A0A0
)

// simulateMinVersion is the oldest module firmware that honors ModeSimulate.
const simulateMinVersion = "3.6.3"

// defaultESNScanSettle is how long the module needs to rescan its 1-wire bus
// after a SET_READ_ESN command.
const defaultESNScanSettle = 200 * time.Millisecond

// Device is one FEMC module port. Several Devices may wrap the same Node with
// different ports; each carries its own session state.
type Device struct {
	node *device.Node
	port Port

	sessionActive bool

	esnScanSettle time.Duration
	traceID       string
	logger        log.Logger
}

// Option configures a Device.
type Option func(*Device)

// WithLogger attaches a protocol logger to the device.
func WithLogger(l log.Logger) Option {
	return func(d *Device) { d.logger = log.OrNoop(l) }
}

// WithESNScanSettle overrides the wait after triggering an ESN rescan.
func WithESNScanSettle(settle time.Duration) Option {
	return func(d *Device) { d.esnScanSettle = settle }
}

// New wraps a node as an FEMC module device on the given port. The device
// starts uninitialized; call InitSession before use.
func New(node *device.Node, port Port, opts ...Option) *Device {
	d := &Device{
		node:          node,
		port:          port,
		esnScanSettle: defaultESNScanSettle,
		traceID:       log.NewTraceID(),
		logger:        log.NoopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Node returns the underlying bus node.
func (d *Device) Node() *device.Node {
	return d.node
}

// Port returns the configured port.
func (d *Device) Port() Port {
	return d.port
}

// SetPort changes the port. Out-of-range values are ignored.
func (d *Device) SetPort(port Port) {
	if port <= PortFETIM {
		d.port = port
	}
}

// InitSession probes the module identity monitor point and marks the session
// active if the reply is one of the accepted setup codes. Any other reply,
// or none at all, leaves the device uninitialized.
func (d *Device) InitSession() bool {
	d.sessionActive = false
	if d.node == nil {
		return false
	}
	data, ok := d.node.Monitor(rcaSetupInfo)
	if !ok || len(data) != 1 {
		return false
	}
	if data[0] != 0x00 && data[0] != 0x05 {
		return false
	}
	d.sessionActive = true
	d.logger.Log(log.NewStateEvent(d.traceID, log.LayerDevice, "session", "uninitialized", "active", ""))
	return true
}

// SessionActive reports whether session initialization has succeeded.
func (d *Device) SessionActive() bool {
	return d.sessionActive
}

// Shutdown invalidates the session and releases the node reference. The node
// itself stays usable by other devices.
func (d *Device) Shutdown() {
	if d.sessionActive {
		d.logger.Log(log.NewStateEvent(d.traceID, log.LayerDevice, "session", "active", "uninitialized", "shutdown"))
	}
	d.sessionActive = false
	d.node = nil
}

// portOffset shifts an RCA into the address window of the configured port.
// Port 0 addresses the module itself and carries no offset.
func (d *Device) portOffset() uint32 {
	if d.port == PortFEMCModule {
		return 0
	}
	return uint32(d.port-1) << 12
}

// Command sends a port-scoped command. It no-ops until the session is active.
func (d *Device) Command(rca uint32, data []byte) bool {
	return d.moduleCommand(rca+d.portOffset(), data)
}

// Monitor issues a port-scoped monitor request. It reports absence until the
// session is active.
func (d *Device) Monitor(rca uint32) ([]byte, bool) {
	return d.moduleMonitor(rca + d.portOffset())
}

// RunSequence shifts every message RCA into the port's window and executes
// the batch against the node. It no-ops until the session is active.
func (d *Device) RunSequence(sequence []*wire.Message) []*wire.Message {
	if !d.sessionActive || d.node == nil {
		return sequence
	}
	offset := d.portOffset()
	for _, msg := range sequence {
		msg.RCA += offset
	}
	return d.node.RunSequence(sequence)
}

// moduleCommand sends a command without the port offset, for RCAs that
// address the FEMC module itself.
func (d *Device) moduleCommand(rca uint32, data []byte) bool {
	if !d.sessionActive || d.node == nil {
		return false
	}
	return d.node.Command(rca, data)
}

// moduleMonitor issues a monitor request without the port offset.
func (d *Device) moduleMonitor(rca uint32) ([]byte, bool) {
	if !d.sessionActive || d.node == nil {
		return nil, false
	}
	return d.node.Monitor(rca)
}

// FemcVersion returns the module firmware version, "0.0.0" when unavailable.
func (d *Device) FemcVersion() string {
	return d.versionString(rcaVersionInfo)
}

// AmbsiVersion returns the interface board firmware version as reported by
// the module, "0.0.0" when unavailable.
func (d *Device) AmbsiVersion() string {
	return d.versionString(rcaAMBSIVersionInfo)
}

// FpgaVersion returns the module FPGA version, "0.0.0" when unavailable.
func (d *Device) FpgaVersion() string {
	return d.versionString(rcaFPGAVersionInfo)
}

func (d *Device) versionString(rca uint32) string {
	data, ok := d.moduleMonitor(rca)
	if !ok || len(data) < 3 {
		return "0.0.0"
	}
	return fmt.Sprintf("%d.%d.%d", data[0], data[1], data[2])
}

// IsFemcVersionAtLeast reports whether the module firmware version is at
// least need, given as "major.minor.patch".
func (d *Device) IsFemcVersionAtLeast(need string) bool {
	data, ok := d.moduleMonitor(rcaVersionInfo)
	if !ok || len(data) < 3 {
		return false
	}
	parts := strings.SplitN(need, ".", 3)
	for i := range parts {
		want, err := strconv.Atoi(parts[i])
		if err != nil {
			return false
		}
		have := int(data[i])
		if have != want {
			return have > want
		}
	}
	return true
}

// SetMode sets the module operating mode. ModeSimulate is refused unless the
// firmware is recent enough to honor it, since older firmware would silently
// ignore the write.
func (d *Device) SetMode(mode Mode) bool {
	if mode > ModeSimulate {
		return false
	}
	if mode == ModeSimulate && !d.IsFemcVersionAtLeast(simulateMinVersion) {
		return false
	}
	return d.moduleCommand(rcaSetFEMode, wire.PackU8(uint8(mode)))
}

// GetMode reads the module operating mode.
func (d *Device) GetMode() (Mode, bool) {
	data, ok := d.moduleMonitor(rcaGetFEMode)
	if !ok || len(data) < 1 {
		return 0, false
	}
	return Mode(data[0]), true
}

// EsnList returns the electronic serial numbers of the devices the module has
// found on its 1-wire bus. With reload set it first triggers a rescan and
// waits out the scan settle time. Enumeration is shortest effort: it stops
// early on the first failed monitor.
func (d *Device) EsnList(reload bool) [][]byte {
	if reload {
		if d.moduleCommand(rcaSetReadESN, []byte{0x01}) {
			time.Sleep(d.esnScanSettle)
		}
	}
	data, ok := d.moduleMonitor(rcaESNsFound)
	if !ok || len(data) < 1 {
		return nil
	}
	var esns [][]byte
	for i := 0; i < int(data[0]); i++ {
		esn, ok := d.moduleMonitor(rcaNextESN)
		if !ok {
			break
		}
		esns = append(esns, esn)
	}
	return esns
}

// EsnString formats the ESN list as one hex line per serial number.
func (d *Device) EsnString() string {
	var sb strings.Builder
	for _, esn := range d.EsnList(false) {
		for i, b := range esn {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%02X", b)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// SetBandPower powers one cartridge band on or off.
func (d *Device) SetBandPower(band int, enable bool) bool {
	if band < int(PortBand1) || band > int(PortBand10) {
		return false
	}
	rca := uint32(rcaSetCartPower) + uint32(band-1)<<4
	return d.moduleCommand(rca, wire.PackBool(enable))
}

// SetAllBandsOff powers down all ten possible bands.
func (d *Device) SetAllBandsOff() {
	for band := int(PortBand1); band <= int(PortBand10); band++ {
		d.SetBandPower(band, false)
	}
}

// BandPower reads the power state of one cartridge band.
func (d *Device) BandPower(band int) (bool, bool) {
	if band < int(PortBand1) || band > int(PortBand10) {
		return false, false
	}
	rca := uint32(rcaGetCartPower) + uint32(band-1)<<4
	data, ok := d.moduleMonitor(rca)
	if !ok {
		return false, false
	}
	return wire.UnpackBool(data, 0)
}

// NumBandsPowered reads how many bands are currently powered.
func (d *Device) NumBandsPowered() (uint8, bool) {
	data, ok := d.moduleMonitor(rcaNumBandsPowered)
	if !ok {
		return 0, false
	}
	return wire.UnpackU8(data, 0)
}

// NumErrors reads the depth of the module error queue.
func (d *Device) NumErrors() (uint16, bool) {
	data, ok := d.moduleMonitor(rcaErrorsNumber)
	if !ok {
		return 0, false
	}
	return wire.UnpackU16(data, 0)
}

// NextError pops the next entry off the module error queue.
func (d *Device) NextError() ([]byte, bool) {
	return d.moduleMonitor(rcaNextError)
}

// PPCommTime requests the module's fastest-possible 8-byte response, used to
// gauge parallel-port round-trip time during troubleshooting.
func (d *Device) PPCommTime() ([]byte, bool) {
	return d.moduleMonitor(rcaPPCommTime)
}
