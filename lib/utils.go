package lib

import "github.com/google/netstack/tcpip/seqnum"

// seqDiff returns the signed 32-bit distance from b to a. Negative means a is
// behind b, tolerating wraparound within the 2^31 range.
func seqDiff(a, b seqnum.Value) int32 {
	return int32(uint32(a) - uint32(b))
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
