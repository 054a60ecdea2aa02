// Package examples provides a simulated front end for the loopback bus.
// It answers the module, bias and LO registers well enough to exercise the
// full client stack without hardware: sessions open, bands power up, junctions
// sweep and the first LO locks. The tools use it for their demo mode and the
// integration tests use it as their fixture.
package examples
