package lib

import (
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/google/netstack/tcpip/seqnum"
)

// SendSegment is one queued, not-yet-acknowledged data segment. Seq is fixed
// at creation and reused verbatim on every retransmission.
type SendSegment struct {
	Seq          seqnum.Value
	Len          uint32
	Payload      []byte
	LastSendTime time.Time
	Retries      int
	chunk        *rp.Element
}

func newSendSegment(seq seqnum.Value, data []byte) (*SendSegment, error) {
	seg := &SendSegment{
		Seq: seq,
		Len: uint32(len(data)),
	}
	seg.chunk = Pool.GetElement()
	if seg.chunk == nil {
		return nil, ErrPoolExhausted
	}
	if err := seg.chunk.Data.(*Payload).Copy(data); err != nil {
		Pool.ReturnElement(seg.chunk)
		return nil, err
	}
	seg.Payload = seg.chunk.Data.(*Payload).GetSlice()
	return seg, nil
}

func (s *SendSegment) returnChunk() {
	if s.chunk != nil {
		Pool.ReturnElement(s.chunk)
		s.chunk = nil
		s.Payload = nil
	}
}

// tryEnqueue admits data into the send window. The whole payload must fit the
// effective window min(cwnd, rwnd) minus the bytes already in flight; callers
// split anything larger than one MSS themselves.
func (c *Connection) tryEnqueue(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if len(data) > c.config.MSS {
		return false
	}

	inFlight := uint32(c.sndUna.Size(c.sndNxt))
	win := minUint32(c.config.CwndBytes, c.rwnd)
	if inFlight >= win {
		return false
	}
	if win-inFlight < uint32(len(data)) {
		return false
	}

	seg, err := newSendSegment(c.sndNxt, data)
	if err != nil {
		c.log().WithField("err", err).Warn("send refused, payload pool exhausted")
		return false
	}

	c.sendQueue = append(c.sendQueue, seg)
	c.sndNxt = c.sndNxt.Add(seqnum.Size(seg.Len))
	c.transmitSegment(seg)
	seg.LastSendTime = time.Now()
	return true
}

// handleAck advances the send window on a cumulative ACK and counts duplicate
// pure ACKs toward fast retransmit.
func (c *Connection) handleAck(p *Packet) {
	ack := seqnum.Value(p.AcknowledgmentNum)

	if c.sndUna.LessThan(ack) {
		// Cumulative acknowledgement: drop every segment fully covered by ack.
		// An ack between segment boundaries leaves the front segment queued.
		for len(c.sendQueue) > 0 {
			head := c.sendQueue[0]
			endSeq := head.Seq.Add(seqnum.Size(head.Len))
			if !endSeq.LessThanEq(ack) {
				break
			}
			head.returnChunk()
			c.sendQueue = c.sendQueue[1:]
		}
		c.sndUna = ack
		c.dupAckCount = 0
		return
	}

	if ack == c.sndUna && len(p.Payload) == 0 {
		c.dupAckCount++
		if c.dupAckCount >= c.config.MaxDupAcks {
			if len(c.sendQueue) > 0 {
				seg := c.sendQueue[0]
				if seg.Seq == c.sndUna {
					c.log().WithField("seq", uint32(seg.Seq)).Debug("fast retransmit")
					c.transmitSegment(seg)
				}
			}
			// Cleared right after firing so a fourth duplicate does not
			// trigger a back-to-back retransmission storm.
			c.dupAckCount = 0
		}
	}
}

// checkTimeout retransmits every queued segment whose RTO has elapsed.
func (c *Connection) checkTimeout() {
	now := time.Now()
	for _, seg := range c.sendQueue {
		if now.Sub(seg.LastSendTime) >= c.config.RTO {
			c.log().WithField("seq", uint32(seg.Seq)).WithField("len", seg.Len).Debug("timeout, retransmitting")
			c.transmitSegment(seg)
			seg.LastSendTime = now
			seg.Retries++
		}
	}
}
