package lib

import (
	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/google/btree"
	"github.com/google/netstack/tcpip/seqnum"
)

// oooSegment is a future-sequence payload parked until the gap before it is
// filled. Entries order by sequence number so the drain walks ascending.
type oooSegment struct {
	seq     seqnum.Value
	payload []byte
	chunk   *rp.Element
}

func (s *oooSegment) Less(than btree.Item) bool {
	return seqDiff(s.seq, than.(*oooSegment).seq) < 0
}

func (s *oooSegment) returnChunk() {
	if s.chunk != nil {
		Pool.ReturnElement(s.chunk)
		s.chunk = nil
		s.payload = nil
	}
}

// handleData places an incoming payload relative to rcvNxt: append and drain
// when expected, park when early, acknowledge and drop when stale. Every path
// answers with a pure ACK carrying the current window.
func (c *Connection) handleData(p *Packet) {
	seq := seqnum.Value(p.SequenceNumber)
	diff := seqDiff(seq, c.rcvNxt)

	switch {
	case diff == 0:
		if c.windowSize() < uint32(len(p.Payload)) {
			// No room: drop, but still report the (zero) window.
			p.ReturnChunk()
			c.sendAck()
			return
		}
		c.inBuffer = append(c.inBuffer, p.Payload...)
		c.rcvNxt = c.rcvNxt.Add(seqnum.Size(len(p.Payload)))
		p.ReturnChunk()
		c.drainOutOfOrder()
		c.sendAck()

	case diff > 0:
		// Future segment: park it. The ACK still reports rcvNxt, which is
		// what drives the peer's duplicate-ACK counter.
		c.insertOutOfOrder(seq, p)
		c.sendAck()

	default:
		// Stale or duplicate: discard but re-acknowledge.
		p.ReturnChunk()
		c.sendAck()
	}
}

// insertOutOfOrder takes over the packet's payload chunk. A re-received
// sequence number replaces the parked entry.
func (c *Connection) insertOutOfOrder(seq seqnum.Value, p *Packet) {
	item := &oooSegment{
		seq:     seq,
		payload: p.Payload,
		chunk:   p.takeChunk(),
	}
	if old := c.oooBuffer.ReplaceOrInsert(item); old != nil {
		old.(*oooSegment).returnChunk()
	}
}

// drainOutOfOrder merges every parked segment that now lines up with rcvNxt.
// Entries wholly behind rcvNxt are dropped; partially covered ones are merged
// without their already-delivered prefix.
func (c *Connection) drainOutOfOrder() {
	for c.oooBuffer.Len() > 0 {
		item := c.oooBuffer.Min().(*oooSegment)
		diff := seqDiff(item.seq, c.rcvNxt)

		if diff > 0 {
			break // gap not filled yet
		}

		if diff == 0 {
			if c.windowSize() < uint32(len(item.payload)) {
				break
			}
			c.inBuffer = append(c.inBuffer, item.payload...)
			c.rcvNxt = c.rcvNxt.Add(seqnum.Size(len(item.payload)))
			c.oooBuffer.DeleteMin()
			item.returnChunk()
			continue
		}

		// diff < 0: the entry starts behind rcvNxt.
		endDiff := seqDiff(item.seq.Add(seqnum.Size(len(item.payload))), c.rcvNxt)
		if endDiff <= 0 {
			c.oooBuffer.DeleteMin()
			item.returnChunk()
			continue
		}
		overlap := uint32(item.seq.Size(c.rcvNxt))
		remaining := item.payload[overlap:]
		c.inBuffer = append(c.inBuffer, remaining...)
		c.rcvNxt = c.rcvNxt.Add(seqnum.Size(len(remaining)))
		c.oooBuffer.DeleteMin()
		item.returnChunk()
	}
}

// windowSize is the free receive-buffer space advertised to the peer. The
// partial-overlap merge path can briefly run the buffer past capacity, so
// clamp instead of wrapping.
func (c *Connection) windowSize() uint32 {
	if len(c.inBuffer) >= int(c.config.MaxRwnd) {
		return 0
	}
	return c.config.MaxRwnd - uint32(len(c.inBuffer))
}
