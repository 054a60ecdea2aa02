// Package femc implements the module layer: an FEMC (front-end monitor and
// control) module multiplexes up to fifteen ports behind one bus node, one
// per receiver band or front-end subsystem.
//
// A Device is created uninitialized. InitSession probes the module's identity
// monitor point; until that succeeds every command and monitor through the
// device silently no-ops, so a missing or unresponsive module behaves as an
// inert placeholder rather than an error source.
package femc
