package lib

import (
	"bytes"
	"testing"
)

func TestPacketMarshalUnmarshal(t *testing.T) {
	InitPool(0, 0, false, 0)

	testCases := []struct {
		name    string
		seq     uint32
		ack     uint32
		flags   uint8
		window  uint32
		payload []byte
	}{
		{name: "pure ack", seq: 100, ack: 200, flags: ACKFlag, window: 65535},
		{name: "syn", seq: 0, ack: 0, flags: SYNFlag, window: 1 << 18},
		{name: "data", seq: 4294967290, ack: 17, flags: ACKFlag | PSHFlag, window: 512, payload: []byte("hello, world")},
		{name: "odd length payload", seq: 1, ack: 1, flags: ACKFlag, window: 9, payload: []byte{0xde, 0xad, 0xbe}},
	}

	for _, tc := range testCases {
		pkt, err := NewPacket(tc.seq, tc.ack, tc.flags, tc.window, tc.payload)
		if err != nil {
			t.Fatalf("%s: NewPacket failed: %v", tc.name, err)
		}

		buffer := make([]byte, MaxPacketSize)
		n, err := pkt.Marshal(buffer)
		if err != nil {
			t.Fatalf("%s: Marshal failed: %v", tc.name, err)
		}
		if n != HeaderLength+len(tc.payload) {
			t.Errorf("%s: expected frame length %d, got %d", tc.name, HeaderLength+len(tc.payload), n)
		}

		// A correctly checksummed segment sums to zero after complement.
		if !VerifyChecksum(buffer[:n]) {
			t.Errorf("%s: checksum verification failed on freshly encoded segment", tc.name)
		}
		if CalculateChecksum(buffer[:n]) != 0 {
			t.Errorf("%s: ones-complement sum of encoded segment is not 0xFFFF", tc.name)
		}

		decoded := &Packet{}
		if err := decoded.Unmarshal(buffer[:n]); err != nil {
			t.Fatalf("%s: Unmarshal failed: %v", tc.name, err)
		}
		if decoded.SequenceNumber != tc.seq || decoded.AcknowledgmentNum != tc.ack {
			t.Errorf("%s: seq/ack mismatch: got %d/%d want %d/%d",
				tc.name, decoded.SequenceNumber, decoded.AcknowledgmentNum, tc.seq, tc.ack)
		}
		if decoded.Flags != tc.flags {
			t.Errorf("%s: flags mismatch: got %#x want %#x", tc.name, decoded.Flags, tc.flags)
		}
		if decoded.WindowSize != tc.window {
			t.Errorf("%s: window mismatch: got %d want %d", tc.name, decoded.WindowSize, tc.window)
		}
		if !bytes.Equal(decoded.Payload, tc.payload) {
			t.Errorf("%s: payload mismatch: got %q want %q", tc.name, decoded.Payload, tc.payload)
		}

		pkt.ReturnChunk()
		decoded.ReturnChunk()
	}
}

func TestVerifyChecksumRejectsCorruption(t *testing.T) {
	InitPool(0, 0, false, 0)

	pkt, err := NewPacket(42, 43, ACKFlag, 1000, []byte("some payload bytes"))
	if err != nil {
		t.Fatal(err)
	}
	defer pkt.ReturnChunk()

	buffer := make([]byte, MaxPacketSize)
	n, err := pkt.Marshal(buffer)
	if err != nil {
		t.Fatal(err)
	}

	for _, offset := range []int{0, 5, 8, 12, HeaderLength, n - 1} {
		corrupted := make([]byte, n)
		copy(corrupted, buffer[:n])
		corrupted[offset] ^= 0xff
		if VerifyChecksum(corrupted) {
			t.Errorf("corruption at offset %d not detected", offset)
		}
	}
}

func TestUnmarshalRejectsShortDatagram(t *testing.T) {
	for _, size := range []int{0, 1, HeaderLength - 1} {
		p := &Packet{}
		if err := p.Unmarshal(make([]byte, size)); err == nil {
			t.Errorf("datagram of %d bytes was not rejected", size)
		}
	}
}

func TestUnmarshalRejectsLengthMismatch(t *testing.T) {
	InitPool(0, 0, false, 0)

	pkt, err := NewPacket(1, 2, ACKFlag, 10, []byte("abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	defer pkt.ReturnChunk()

	buffer := make([]byte, MaxPacketSize)
	n, err := pkt.Marshal(buffer)
	if err != nil {
		t.Fatal(err)
	}

	// Truncating the payload contradicts the declared length.
	p := &Packet{}
	if err := p.Unmarshal(buffer[:n-2]); err == nil {
		t.Error("truncated datagram was not rejected")
	}
}
