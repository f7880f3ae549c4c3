package lib

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/google/netstack/tcpip/seqnum"
)

// Packet represents one segment on the wire: a fixed 20-byte header followed
// by Length bytes of payload.
//
// Header layout (all multi-byte fields in network byte order):
//
//	offset 0  seq      (4B)
//	offset 4  ack      (4B)
//	offset 8  flags    (1B)
//	offset 9  reserved (1B)
//	offset 10 checksum (2B)
//	offset 12 length   (4B)
//	offset 16 window   (4B)
type Packet struct {
	SequenceNumber    uint32 // SequenceNumber of the first payload byte (or the SYN/FIN octet)
	AcknowledgmentNum uint32 // next byte expected from the peer (cumulative)
	Flags             uint8
	Checksum          uint16
	WindowSize        uint32 // advertised free receive-buffer space in bytes
	Payload           []byte
	chunk             *rp.Element // memory chunk backing Payload, nil for pure control segments
}

// Marshal lays the packet out into buffer and patches the checksum in last.
// It returns the number of bytes written.
func (p *Packet) Marshal(buffer []byte) (int, error) {
	frameLength := HeaderLength + len(p.Payload)
	if frameLength > len(buffer) {
		return 0, fmt.Errorf("buffer size (%d) is too small to hold the frame (%d)", len(buffer), frameLength)
	}

	frame := buffer[:frameLength]
	binary.BigEndian.PutUint32(frame[0:4], p.SequenceNumber)
	binary.BigEndian.PutUint32(frame[4:8], p.AcknowledgmentNum)
	frame[8] = p.Flags
	frame[9] = 0 // reserved
	// leave frame[10:12] (checksum) as all zero for now
	binary.BigEndian.PutUint16(frame[10:12], 0)
	binary.BigEndian.PutUint32(frame[12:16], uint32(len(p.Payload)))
	binary.BigEndian.PutUint32(frame[16:20], p.WindowSize)

	if len(p.Payload) > 0 {
		copy(frame[HeaderLength:], p.Payload)
	}

	p.Checksum = CalculateChecksum(frame)
	binary.BigEndian.PutUint16(frame[10:12], p.Checksum)

	return frameLength, nil
}

// Unmarshal converts a received datagram to a Packet, converting multi-byte
// fields to host order. The payload is copied into a pool chunk owned by the
// packet; callers must eventually ReturnChunk unless ownership is handed off.
func (p *Packet) Unmarshal(data []byte) error {
	if len(data) < HeaderLength {
		return fmt.Errorf("the length(%d) of data is too short to be unmarshalled", len(data))
	}

	p.SequenceNumber = binary.BigEndian.Uint32(data[0:4])
	p.AcknowledgmentNum = binary.BigEndian.Uint32(data[4:8])
	p.Flags = data[8]
	p.Checksum = binary.BigEndian.Uint16(data[10:12])
	length := binary.BigEndian.Uint32(data[12:16])
	p.WindowSize = binary.BigEndian.Uint32(data[16:20])

	if int(length) != len(data)-HeaderLength {
		return fmt.Errorf("declared payload length(%d) does not match datagram(%d)", length, len(data)-HeaderLength)
	}

	if length > 0 {
		if err := p.CopyToPayload(data[HeaderLength:]); err != nil {
			return fmt.Errorf("packet unmarshal: error copying packet payload - %s", err)
		}
	} else {
		p.Payload = nil
	}

	return nil
}

// NewPacket builds an outgoing segment. The payload, if any, is copied into a
// pool chunk so the caller's buffer may be reused immediately.
func NewPacket(seqNum, ackNum uint32, flags uint8, windowSize uint32, data []byte) (*Packet, error) {
	newPacket := &Packet{
		SequenceNumber:    seqNum,
		AcknowledgmentNum: ackNum,
		Flags:             flags,
		WindowSize:        windowSize,
	}
	if len(data) > 0 {
		if err := newPacket.CopyToPayload(data); err != nil {
			return nil, err
		}
	}
	return newPacket, nil
}

func (p *Packet) CopyToPayload(src []byte) error {
	p.chunk = Pool.GetElement()
	if p.chunk == nil {
		return fmt.Errorf("p.CopyToPayload: got a nil chunk")
	}
	if err := p.chunk.Data.(*Payload).Copy(src); err != nil {
		p.ReturnChunk()
		return fmt.Errorf("packet.CopyToPayload: %s", err)
	}
	p.Payload = p.chunk.Data.(*Payload).GetSlice()
	return nil
}

// takeChunk hands chunk ownership to the caller, detaching it from the packet.
func (p *Packet) takeChunk() *rp.Element {
	chunk := p.chunk
	p.chunk = nil
	return chunk
}

// ReturnChunk gives the payload chunk back to the pool.
func (p *Packet) ReturnChunk() {
	if p.chunk != nil {
		Pool.ReturnElement(p.chunk)
		p.chunk = nil
		p.Payload = nil
	}
}

// CalculateChecksum computes the 16-bit ones-complement sum over buffer.
func CalculateChecksum(buffer []byte) uint16 {
	var cksum uint32 = 0

	// Process 16-bit words (2 bytes each)
	for i := 0; i < len(buffer)-1; i += 2 {
		word := binary.BigEndian.Uint16(buffer[i : i+2])
		cksum += uint32(word)
	}

	// Handle remaining odd byte, if any
	if len(buffer)%2 != 0 {
		cksum += uint32(buffer[len(buffer)-1]) << 8
	}

	// Fold 32-bit sum to 16 bits
	cksum = (cksum >> 16) + (cksum & 0xffff)
	cksum += (cksum >> 16)

	return ^uint16(cksum)
}

// VerifyChecksum sums the whole datagram, checksum field included. A correct
// segment folds to 0xFFFF, so the complemented sum is zero.
func VerifyChecksum(data []byte) bool {
	if len(data) < HeaderLength {
		return false
	}
	return CalculateChecksum(data) == 0
}

// GenerateISN picks a random initial send sequence number.
func GenerateISN() (seqnum.Value, error) {
	var isn uint32
	if err := binary.Read(rand.Reader, binary.BigEndian, &isn); err != nil {
		return 0, err
	}
	return seqnum.Value(isn), nil
}
