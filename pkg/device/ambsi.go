package device

import "fmt"

// Standard AMBSI monitor points implemented by every node's interface board,
// independent of the module behind it.
const (
	rcaAMBSIProtocolRev = 0x30000
	rcaAMBSIErrors      = 0x30001
	rcaAMBSINumTrans    = 0x30002
	rcaAMBSITemperature = 0x30003
	rcaAMBSISoftwareRev = 0x30004
)

// AMBSIProtocolRev returns the interface board protocol revision as
// "major.minor.patch".
func (n *Node) AMBSIProtocolRev() (string, bool) {
	return n.revisionString(rcaAMBSIProtocolRev)
}

// AMBSISoftwareRev returns the interface board firmware revision as
// "major.minor.patch".
func (n *Node) AMBSISoftwareRev() (string, bool) {
	return n.revisionString(rcaAMBSISoftwareRev)
}

func (n *Node) revisionString(rca uint32) (string, bool) {
	data, ok := n.Monitor(rca)
	if !ok || len(data) < 3 {
		return "", false
	}
	return fmt.Sprintf("%d.%d.%d", data[0], data[1], data[2]), true
}

// AMBSIErrors returns the error counter and the most recent error code.
func (n *Node) AMBSIErrors() (numErrors uint8, lastError uint8, ok bool) {
	data, found := n.Monitor(rcaAMBSIErrors)
	if !found || len(data) < 4 {
		return 0, 0, false
	}
	return data[0], data[3], true
}

// AMBSINumTransactions returns the count of CAN transactions the interface
// board has handled since power-up.
func (n *Node) AMBSINumTransactions() (uint32, bool) {
	data, ok := n.Monitor(rcaAMBSINumTrans)
	if !ok || len(data) < 4 {
		return 0, false
	}
	v := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	return v, true
}

// AMBSITemperature returns the interface board temperature in degrees C,
// decoded from the DS1820 sensor's half-degree format: byte 0 holds the
// magnitude in half degrees, byte 1 is nonzero for negative readings.
func (n *Node) AMBSITemperature() (float32, bool) {
	data, ok := n.Monitor(rcaAMBSITemperature)
	if !ok || len(data) < 2 {
		return 0, false
	}
	temp := float32(data[0] >> 1)
	if data[1] != 0 {
		temp = -temp - 1
	}
	if data[0]&0x01 != 0 {
		temp += 0.5
	}
	return temp, true
}
