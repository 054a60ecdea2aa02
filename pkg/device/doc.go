// Package device implements the node layer of the AMB control stack: a Node
// binds a transport.Bus to one node address and exposes raw command, monitor
// and batch-sequence operations addressed by relative CAN address (RCA).
//
// Several devices may share one Bus; the Node serializes its exchanges with
// the bus exclusion lock so a monitor request and its response, or a whole
// batch sequence, run without interleaving.
package device
