package wire

// BaseArbitrationID is the arbitration identifier base for all AMB traffic.
// A broadcast frame sent at exactly this identifier with an empty payload is
// the node-discovery request; every node replies with its serial number at
// its own node identifier.
const BaseArbitrationID uint32 = 0x20000000

// MaxRCA is the largest relative CAN address a node exposes. Each node owns
// an 18-bit address window above the base identifier.
const MaxRCA uint32 = 1<<18 - 1

// ArbitrationID composes the bus-level arbitration identifier for a relative
// CAN address on the given node. Node address 0 maps to the first window
// above the base, so the broadcast identifier is never produced.
func ArbitrationID(nodeAddr uint8, rca uint32) uint32 {
	return BaseArbitrationID + (uint32(nodeAddr)+1)<<18 + (rca & MaxRCA)
}

// SplitArbitrationID recovers the node address and relative CAN address from
// an arbitration identifier. It reports false for the broadcast identifier
// and for identifiers outside the AMB window.
func SplitArbitrationID(arbID uint32) (nodeAddr uint8, rca uint32, ok bool) {
	if arbID < BaseArbitrationID {
		return 0, 0, false
	}
	rel := arbID - BaseArbitrationID
	node := rel >> 18
	if node == 0 || node > 256 {
		return 0, 0, false
	}
	return uint8(node - 1), rel & MaxRCA, true
}
