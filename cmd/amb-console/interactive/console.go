// Package interactive provides the interactive command loop for the AMB
// console.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/amb-protocol/amb-go/pkg/cca"
	"github.com/amb-protocol/amb-go/pkg/config"
	"github.com/amb-protocol/amb-go/pkg/device"
	"github.com/amb-protocol/amb-go/pkg/femc"
	"github.com/amb-protocol/amb-go/pkg/lo"
	amblog "github.com/amb-protocol/amb-go/pkg/log"
)

// Console drives one front end from a readline loop. It keeps a module
// session plus the bias and LO devices for the currently selected band.
type Console struct {
	node   *device.Node
	cfg    config.Config
	logger amblog.Logger
	rl     *readline.Instance

	mod  *femc.Device
	band int
	cart *cca.Device
	osc  *lo.Device
}

// New creates the console and selects the startup band. The session is not
// opened until the first command that needs it.
func New(node *device.Node, cfg config.Config, band int, logger amblog.Logger) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "amb> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := &Console{
		node:   node,
		cfg:    cfg,
		logger: logger,
		rl:     rl,
		mod:    femc.New(node, femc.PortFEMCModule, femc.WithLogger(logger)),
	}
	c.selectBand(band)
	return c, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// selectBand rebuilds the per-band devices, applying the station config's
// port override and YTO window when one is present.
func (c *Console) selectBand(band int) {
	c.band = band

	port := femc.Port(band)
	bandCfg, haveCfg := c.cfg.FindBand(c.node.Address(), band)
	if haveCfg && bandCfg.Port != 0 {
		port = femc.Port(bandCfg.Port)
	}

	c.cart = cca.New(c.node, band, cca.WithPort(port), cca.WithLogger(c.logger))
	c.osc = lo.New(c.node, band, lo.WithPort(port), lo.WithLogger(c.logger))
	if haveCfg && bandCfg.YTOHighGHz > bandCfg.YTOLowGHz {
		c.osc.SetYTOLimits(bandCfg.YTOLowGHz, bandCfg.YTOHighGHz)
	}

	// Session state lives per device; carry an open session over.
	if c.mod.SessionActive() {
		c.cart.Module().InitSession()
		c.osc.Module().InitSession()
	}
}

// ensureSession opens the module session on first use.
func (c *Console) ensureSession() bool {
	if c.mod.SessionActive() {
		return true
	}
	if !c.mod.InitSession() {
		fmt.Fprintln(c.Stdout(), "No FEMC module behind this node.")
		return false
	}
	c.cart.Module().InitSession()
	c.osc.Module().InitSession()
	return true
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	fmt.Fprintf(c.Stdout(), "Attached to node %#02x, band %d. Type 'help' for commands.\n",
		c.node.Address(), c.band)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "nodes":
			c.cmdNodes()

		case "session":
			c.cmdSession()

		case "mode":
			c.cmdMode(args)

		case "esn":
			c.cmdESN()

		case "ambsi":
			c.cmdAMBSI()

		case "band":
			c.cmdBand(args)

		case "power":
			c.cmdPower(args)

		case "bands":
			c.cmdBands()

		case "yto":
			c.cmdYTO(args)

		case "tune":
			c.cmdTune(args)

		case "lock":
			c.cmdLock(args)

		case "adjust":
			c.cmdAdjust(args)

		case "lockinfo", "li":
			c.cmdLockInfo()

		case "pll":
			c.cmdPLL()

		case "pa":
			c.cmdPA()

		case "amc":
			c.cmdAMC()

		case "pm", "photomixer":
			c.cmdPhotomixer(args)

		case "sis":
			c.cmdSIS(args)

		case "sisset":
			c.cmdSISSet(args)

		case "lna":
			c.cmdLNA(args)

		case "iv":
			c.cmdIV(args)

		case "temps":
			c.cmdTemps()

		case "quit", "exit", "q":
			fmt.Fprintln(c.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.Stdout(), `
AMB Console Commands:
  Module:
    nodes                - List nodes on the bus
    session              - Open the FEMC session and show versions
    mode [name]          - Show or set the FEMC mode
    esn                  - Scan and list electronic serial numbers
    ambsi                - Read the AMBSI health monitors
    power <band> on|off  - Switch a band's cartridge power
    bands                - Show which bands are powered

  Band selection:
    band <n>             - Select the band to operate on

  First LO:
    yto <low> <high>     - Set the YTO window, GHz
    tune <freq> [mult]   - Tune to a sky frequency, GHz
    lock <freq> [mult]   - Tune and acquire phase lock
    adjust [volts]       - Walk the correction voltage to a target
    lockinfo             - Show the PLL lock state
    pll                  - Show the full PLL monitor set
    pa                   - Show the power amplifier monitors
    amc                  - Show the multiplier chain monitors
    pm [on|off]          - Show or switch the photomixer

  Cold cartridge:
    sis [pol] [sis]      - Read SIS mixer bias
    sisset <p> <s> <mV>  - Set SIS junction voltage
    lna [pol] [lna]      - Read LNA bias
    iv [low high step]   - Sweep an IV curve (defaults per band)
    temps                - Read the cartridge temperature sensors

  General:
    help                 - Show this help
    quit                 - Exit`)
}

func (c *Console) cmdNodes() {
	nodes, err := c.node.FindNodes()
	if err != nil {
		fmt.Fprintf(c.Stdout(), "Discovery failed: %v\n", err)
		return
	}
	for _, n := range nodes {
		fmt.Fprintf(c.Stdout(), "  node %#02x  serial %X\n", n.Address, n.SerialNum)
	}
	if len(nodes) == 0 {
		fmt.Fprintln(c.Stdout(), "  no nodes found")
	}
}

func (c *Console) cmdSession() {
	if !c.ensureSession() {
		return
	}
	fmt.Fprintf(c.Stdout(), "Session open. FEMC %s, FPGA %s, AMBSI %s\n",
		c.mod.FemcVersion(), c.mod.FpgaVersion(), c.mod.AmbsiVersion())
}

func (c *Console) cmdMode(args []string) {
	if !c.ensureSession() {
		return
	}
	if len(args) == 0 {
		mode, ok := c.mod.GetMode()
		if !ok {
			fmt.Fprintln(c.Stdout(), "Mode not readable.")
			return
		}
		fmt.Fprintf(c.Stdout(), "Mode: %s\n", mode)
		return
	}

	var mode femc.Mode
	switch strings.ToLower(args[0]) {
	case "operational", "op":
		mode = femc.ModeOperational
	case "troubleshooting", "ts":
		mode = femc.ModeTroubleshooting
	case "maintenance", "maint":
		mode = femc.ModeMaintenance
	case "simulate", "sim":
		mode = femc.ModeSimulate
	default:
		fmt.Fprintf(c.Stdout(), "Unknown mode %q\n", args[0])
		return
	}
	if !c.mod.SetMode(mode) {
		fmt.Fprintln(c.Stdout(), "Mode change rejected.")
		return
	}
	fmt.Fprintf(c.Stdout(), "Mode set to %s\n", mode)
}

func (c *Console) cmdESN() {
	if !c.ensureSession() {
		return
	}
	esns := c.mod.EsnList(true)
	for _, esn := range esns {
		fmt.Fprintf(c.Stdout(), "  %X\n", esn)
	}
	fmt.Fprintf(c.Stdout(), "%d ESN(s) found\n", len(esns))
}

func (c *Console) cmdAMBSI() {
	if rev, ok := c.node.AMBSIProtocolRev(); ok {
		fmt.Fprintf(c.Stdout(), "  protocol:     %s\n", rev)
	}
	if rev, ok := c.node.AMBSISoftwareRev(); ok {
		fmt.Fprintf(c.Stdout(), "  software:     %s\n", rev)
	}
	if numErr, lastErr, ok := c.node.AMBSIErrors(); ok {
		fmt.Fprintf(c.Stdout(), "  errors:       %d (last %#02x)\n", numErr, lastErr)
	}
	if n, ok := c.node.AMBSINumTransactions(); ok {
		fmt.Fprintf(c.Stdout(), "  transactions: %d\n", n)
	}
	if temp, ok := c.node.AMBSITemperature(); ok {
		fmt.Fprintf(c.Stdout(), "  temperature:  %.1f C\n", temp)
	}
}

func (c *Console) cmdBand(args []string) {
	if len(args) != 1 {
		fmt.Fprintf(c.Stdout(), "Band %d selected.\n", c.band)
		return
	}
	band, err := strconv.Atoi(args[0])
	if err != nil || band < 1 || band > 10 {
		fmt.Fprintln(c.Stdout(), "Usage: band <1..10>")
		return
	}
	c.selectBand(band)
	fmt.Fprintf(c.Stdout(), "Band %d selected.\n", band)
}

func (c *Console) cmdPower(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.Stdout(), "Usage: power <band> on|off")
		return
	}
	band, err := strconv.Atoi(args[0])
	if err != nil || band < 1 || band > 10 {
		fmt.Fprintln(c.Stdout(), "Usage: power <1..10> on|off")
		return
	}
	enable := strings.EqualFold(args[1], "on")
	if !enable && !strings.EqualFold(args[1], "off") {
		fmt.Fprintln(c.Stdout(), "Usage: power <band> on|off")
		return
	}
	if !c.ensureSession() {
		return
	}
	if !c.mod.SetBandPower(band, enable) {
		fmt.Fprintln(c.Stdout(), "Power command rejected.")
		return
	}
	fmt.Fprintf(c.Stdout(), "Band %d power %s\n", band, args[1])
}

func (c *Console) cmdBands() {
	if !c.ensureSession() {
		return
	}
	for band := 1; band <= 10; band++ {
		on, ok := c.mod.BandPower(band)
		if !ok {
			continue
		}
		state := "off"
		if on {
			state = "on"
		}
		fmt.Fprintf(c.Stdout(), "  band %2d: %s\n", band, state)
	}
	if n, ok := c.mod.NumBandsPowered(); ok {
		fmt.Fprintf(c.Stdout(), "  %d band(s) powered\n", n)
	}
}

func (c *Console) cmdYTO(args []string) {
	if len(args) != 2 {
		yto := c.osc.YTO()
		fmt.Fprintf(c.Stdout(), "YTO window %.3f..%.3f GHz, coarse tune %d\n",
			yto.LowGHz, yto.HighGHz, yto.CoarseTune)
		return
	}
	low, err1 := strconv.ParseFloat(args[0], 64)
	high, err2 := strconv.ParseFloat(args[1], 64)
	if err1 != nil || err2 != nil || high <= low {
		fmt.Fprintln(c.Stdout(), "Usage: yto <lowGHz> <highGHz>")
		return
	}
	c.osc.SetYTOLimits(low, high)
	fmt.Fprintf(c.Stdout(), "YTO window set to %.3f..%.3f GHz\n", low, high)
}

// parseFreq reads the <freqGHz> [coldMult] argument pair shared by tune and
// lock, defaulting the multiplier from the band table.
func (c *Console) parseFreq(args []string) (float64, int, bool) {
	if len(args) < 1 || len(args) > 2 {
		return 0, 0, false
	}
	freq, err := strconv.ParseFloat(args[0], 64)
	if err != nil || freq <= 0 {
		return 0, 0, false
	}
	mult := lo.ColdMultiplier(c.band)
	if len(args) == 2 {
		mult, err = strconv.Atoi(args[1])
		if err != nil || mult < 1 {
			return 0, 0, false
		}
	}
	return freq, mult, true
}

func (c *Console) cmdTune(args []string) {
	freq, mult, ok := c.parseFreq(args)
	if !ok {
		fmt.Fprintln(c.Stdout(), "Usage: tune <freqGHz> [coldMult]")
		return
	}
	if !c.ensureSession() {
		return
	}
	tuning, err := c.osc.SetLOFrequency(freq, mult)
	if err != nil {
		fmt.Fprintf(c.Stdout(), "Tune failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.Stdout(), "LO %.3f GHz, YTO %.3f GHz, coarse tune %d\n",
		tuning.OutputFreq, tuning.YTOFreq, tuning.CoarseTune)
}

func (c *Console) cmdLock(args []string) {
	freq, mult, ok := c.parseFreq(args)
	if !ok {
		fmt.Fprintln(c.Stdout(), "Usage: lock <freqGHz> [coldMult]")
		return
	}
	if !c.ensureSession() {
		return
	}
	tuning, err := c.osc.LockPLL(freq, mult)
	if err != nil {
		fmt.Fprintf(c.Stdout(), "Lock failed: %v\n", err)
		return
	}
	info := c.osc.LockInfo()
	fmt.Fprintf(c.Stdout(), "Locked at LO %.3f GHz (YTO %.3f GHz), correction %.3f V\n",
		tuning.OutputFreq, tuning.YTOFreq, info.CorrV)
}

func (c *Console) cmdAdjust(args []string) {
	target := 0.0
	if len(args) == 1 {
		var err error
		target, err = strconv.ParseFloat(args[0], 64)
		if err != nil {
			fmt.Fprintln(c.Stdout(), "Usage: adjust [targetVolts]")
			return
		}
	}
	if !c.ensureSession() {
		return
	}
	cv, err := c.osc.AdjustPLL(target)
	if err != nil {
		fmt.Fprintf(c.Stdout(), "Adjust failed: %v (correction %.3f V)\n", err, cv)
		return
	}
	fmt.Fprintf(c.Stdout(), "Correction voltage %.3f V\n", cv)
}

func (c *Console) cmdLockInfo() {
	if !c.ensureSession() {
		return
	}
	info := c.osc.LockInfo()
	fmt.Fprintf(c.Stdout(), "  locked:      %v\n", info.IsLocked)
	fmt.Fprintf(c.Stdout(), "  lock detect: %v\n", info.LockDetect)
	fmt.Fprintf(c.Stdout(), "  unlock latch:%v\n", info.UnlockDetected)
	fmt.Fprintf(c.Stdout(), "  ref power:   %.3f V\n", info.RefTP)
	fmt.Fprintf(c.Stdout(), "  IF power:    %.3f V\n", info.IFTP)
	fmt.Fprintf(c.Stdout(), "  correction:  %.3f V\n", info.CorrV)
}

func (c *Console) cmdPLL() {
	if !c.ensureSession() {
		return
	}
	pll := c.osc.PLL()
	cfg := c.osc.PLLConfig()
	fmt.Fprintf(c.Stdout(), "  locked:      %v (correction %.3f V)\n", pll.IsLocked, pll.CorrV)
	fmt.Fprintf(c.Stdout(), "  coarse tune: %d\n", pll.CoarseTune)
	fmt.Fprintf(c.Stdout(), "  temperature: %.1f C\n", pll.Temperature)
	fmt.Fprintf(c.Stdout(), "  integrator:  nulled=%v\n", pll.NullIntegrator)
	fmt.Fprintf(c.Stdout(), "  sideband:    %d, loop BW: %d\n", cfg.LockSB, cfg.LoopBW)
	fmt.Fprintf(c.Stdout(), "  multipliers: warm %d, cold %d\n", cfg.WarmMult, cfg.ColdMult)
}

func (c *Console) cmdPA() {
	if !c.ensureSession() {
		return
	}
	pa := c.osc.PA()
	fmt.Fprintf(c.Stdout(), "  pol0: VG %.3f V, VD %.3f V, ID %.3f mA\n", pa.VGp0, pa.VDp0, pa.IDp0)
	fmt.Fprintf(c.Stdout(), "  pol1: VG %.3f V, VD %.3f V, ID %.3f mA\n", pa.VGp1, pa.VDp1, pa.IDp1)
	fmt.Fprintf(c.Stdout(), "  supplies: %.2f V, %.2f V\n", pa.Supply3V, pa.Supply5V)
}

func (c *Console) cmdAMC() {
	if !c.ensureSession() {
		return
	}
	amc := c.osc.AMC()
	fmt.Fprintf(c.Stdout(), "  A: VG %.3f V, VD %.3f V, ID %.3f mA\n", amc.VGA, amc.VDA, amc.IDA)
	fmt.Fprintf(c.Stdout(), "  B: VG %.3f V, VD %.3f V, ID %.3f mA\n", amc.VGB, amc.VDB, amc.IDB)
	fmt.Fprintf(c.Stdout(), "  E: VG %.3f V, VD %.3f V, ID %.3f mA\n", amc.VGE, amc.VDE, amc.IDE)
	fmt.Fprintf(c.Stdout(), "  D: counts %d, current %.3f A, 5V %.2f V\n",
		amc.MultDCounts, amc.MultDCurrent, amc.Supply5V)
}

func (c *Console) cmdPhotomixer(args []string) {
	if !c.ensureSession() {
		return
	}
	if len(args) == 1 {
		enable := strings.EqualFold(args[0], "on")
		if !enable && !strings.EqualFold(args[0], "off") {
			fmt.Fprintln(c.Stdout(), "Usage: pm [on|off]")
			return
		}
		c.osc.SetPhotomixerEnable(enable)
	}
	pm := c.osc.Photomixer()
	fmt.Fprintf(c.Stdout(), "  enabled: %v, %.3f V, %.3f mA\n", pm.Enabled, pm.Voltage, pm.Current)
}

// parsePolDevice reads the optional [pol] [device] arguments used by the
// bias read commands.
func parsePolDevice(args []string) (pol, dev int, ok bool) {
	pol, dev = 0, 1
	if len(args) > 2 {
		return 0, 0, false
	}
	var err error
	if len(args) >= 1 {
		if pol, err = strconv.Atoi(args[0]); err != nil {
			return 0, 0, false
		}
	}
	if len(args) == 2 {
		if dev, err = strconv.Atoi(args[1]); err != nil {
			return 0, 0, false
		}
	}
	return pol, dev, true
}

func (c *Console) cmdSIS(args []string) {
	pol, sis, ok := parsePolDevice(args)
	if !ok {
		fmt.Fprintln(c.Stdout(), "Usage: sis [pol] [sis]")
		return
	}
	if !c.ensureSession() {
		return
	}
	bias, err := c.cart.SIS(pol, sis, 8)
	if err != nil {
		fmt.Fprintf(c.Stdout(), "SIS read failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.Stdout(), "  Vj %.3f mV, Ij %.3f mA (avg %d)\n", bias.Vj, bias.Ij, bias.Averaging)
	fmt.Fprintf(c.Stdout(), "  magnet %.3f V, %.3f mA\n", bias.Vmag, bias.Imag)
}

func (c *Console) cmdSISSet(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(c.Stdout(), "Usage: sisset <pol> <sis> <mV>")
		return
	}
	pol, err1 := strconv.Atoi(args[0])
	sis, err2 := strconv.Atoi(args[1])
	vj, err3 := strconv.ParseFloat(args[2], 32)
	if err1 != nil || err2 != nil || err3 != nil {
		fmt.Fprintln(c.Stdout(), "Usage: sisset <pol> <sis> <mV>")
		return
	}
	if !c.ensureSession() {
		return
	}
	if !c.cart.SetSISVoltage(pol, sis, float32(vj)) {
		fmt.Fprintln(c.Stdout(), "SIS voltage command rejected.")
		return
	}
	fmt.Fprintf(c.Stdout(), "SIS %d/%d junction voltage set to %.3f mV\n", pol, sis, vj)
}

func (c *Console) cmdLNA(args []string) {
	pol, lna, ok := parsePolDevice(args)
	if !ok {
		fmt.Fprintln(c.Stdout(), "Usage: lna [pol] [lna]")
		return
	}
	if !c.ensureSession() {
		return
	}
	bias := c.cart.LNA(pol, lna)
	fmt.Fprintf(c.Stdout(), "  enabled: %v\n", bias.Enable)
	for i, stage := range bias.Stages {
		fmt.Fprintf(c.Stdout(), "  stage %d: VD %.3f V, ID %.3f mA, VG %.3f V\n",
			i+1, stage.VD, stage.ID, stage.VG)
	}
}

func (c *Console) cmdIV(args []string) {
	var low, high, step float64
	switch len(args) {
	case 0:
	case 3:
		var err1, err2, err3 error
		low, err1 = strconv.ParseFloat(args[0], 32)
		high, err2 = strconv.ParseFloat(args[1], 32)
		step, err3 = strconv.ParseFloat(args[2], 32)
		if err1 != nil || err2 != nil || err3 != nil {
			fmt.Fprintln(c.Stdout(), "Usage: iv [lowMV highMV stepMV]")
			return
		}
	default:
		fmt.Fprintln(c.Stdout(), "Usage: iv [lowMV highMV stepMV]")
		return
	}
	if !c.ensureSession() {
		return
	}

	points, err := c.cart.IVCurve(0, 1, float32(low), float32(high), float32(step))
	if err != nil {
		fmt.Fprintf(c.Stdout(), "IV sweep failed: %v\n", err)
		return
	}
	if len(points) == 0 {
		fmt.Fprintln(c.Stdout(), "Sweep produced no points.")
		return
	}
	fmt.Fprintf(c.Stdout(), "%d points, %.3f..%.3f mV\n",
		len(points), points[0].VjSet, points[len(points)-1].VjSet)

	// Print a decimated view so long sweeps stay readable.
	stride := len(points) / 10
	if stride < 1 {
		stride = 1
	}
	for i := 0; i < len(points); i += stride {
		p := points[i]
		fmt.Fprintf(c.Stdout(), "  Vj %8.3f mV  read %8.3f mV  Ij %8.3f mA\n",
			p.VjSet, p.VjRead, p.IjRead)
	}
}

func (c *Console) cmdTemps() {
	if !c.ensureSession() {
		return
	}
	temps := c.cart.CartridgeTemps()
	for i, temp := range temps {
		fmt.Fprintf(c.Stdout(), "  sensor %d: %.2f K\n", i, temp)
	}
}
