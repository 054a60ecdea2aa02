// Package lo controls a local oscillator assembly behind an FEMC module
// port: YTO coarse tuning, the phase-locked loop with its lock-acquisition
// and correction-voltage adjustment searches, and the photomixer, multiplier
// chain and power amplifier subsystems.
//
// The lock searches treat every intermediate monitor round-trip as
// independently fallible: a missing reading counts as "not locked" or zero
// and the search carries on, degrading gracefully under flaky telemetry
// instead of aborting.
package lo
