package lib

import (
	"testing"

	"github.com/google/netstack/tcpip/seqnum"
)

func TestSeqDiff(t *testing.T) {
	// Test cases around the wraparound boundary
	testCases := []struct {
		seq1     seqnum.Value
		seq2     seqnum.Value
		expected int32
	}{
		{seq1: 10, seq2: 5, expected: 5},                   // Direct comparison
		{seq1: 5, seq2: 10, expected: -5},                  // Direct comparison
		{seq1: 5, seq2: 4294967295, expected: 6},           // Wrap-around case
		{seq1: 4294967295, seq2: 5, expected: -6},          // Inverse wrap-around case
		{seq1: 2147483647, seq2: 2147483646, expected: 1},  // Close to the sign boundary
		{seq1: 2147483646, seq2: 2147483647, expected: -1}, // Close to the sign boundary
		{seq1: 0, seq2: 4294967295, expected: 1},           // Full wrap-around
		{seq1: 4294967295, seq2: 0, expected: -1},          // Full wrap-around
		{seq1: 77, seq2: 77, expected: 0},                  // Equal
	}

	for _, tc := range testCases {
		result := seqDiff(tc.seq1, tc.seq2)
		if result != tc.expected {
			t.Errorf("For (%d, %d), expected %d, but got %d", tc.seq1, tc.seq2, tc.expected, result)
		}
	}
}
