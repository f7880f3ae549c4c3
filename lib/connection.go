package lib

import (
	"io"
	"time"

	"github.com/google/btree"
	"github.com/google/netstack/tcpip/seqnum"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Muraqwq/simple-tcp-file-transport/config"
)

// ConnectionConfig carries the per-connection engine knobs.
type ConnectionConfig struct {
	MSS        int           // maximum payload bytes per segment
	MaxRwnd    uint32        // receive buffer capacity
	CwndBytes  uint32        // fixed in-flight cap
	RTO        time.Duration // retransmission timeout
	MaxDupAcks int           // duplicate ACK threshold for fast retransmit
	TimeWait   time.Duration // linger before TIME_WAIT collapses to CLOSED
}

func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		MSS:        DefaultMSS,
		MaxRwnd:    DefaultMaxRwnd,
		CwndBytes:  DefaultCwndBytes,
		RTO:        DefaultRTO,
		MaxDupAcks: DefaultMaxDupAcks,
		TimeWait:   DefaultTimeWait,
	}
}

// NewConnectionConfig derives the engine knobs from an application Config.
func NewConnectionConfig(conf *config.Config) *ConnectionConfig {
	return &ConnectionConfig{
		MSS:        conf.PreferredMSS,
		MaxRwnd:    uint32(conf.MaxRwnd),
		CwndBytes:  uint32(conf.CwndBytes),
		RTO:        time.Duration(conf.RtoMs) * time.Millisecond,
		MaxDupAcks: conf.MaxDupAcks,
		TimeWait:   time.Duration(conf.TimeWaitMs) * time.Millisecond,
	}
}

// Connection is a single reliable byte-stream endpoint over a datagram port.
//
// A Connection is owned by exactly one caller: Send, Receive, Close, Reset and
// Update must be invoked from the same goroutine. None of them block; Update
// is the only entry point that moves the protocol forward, so the owner must
// call it in a loop.
type Connection struct {
	config *ConnectionConfig
	port   DatagramPort
	state  State
	bound  bool

	peerIP   string
	peerPort int

	iss seqnum.Value // initial send sequence
	irs seqnum.Value // initial receive sequence

	sndUna seqnum.Value // oldest unacknowledged sequence number
	sndNxt seqnum.Value // next sequence to assign
	rcvNxt seqnum.Value // next in-order byte expected from the peer

	rwnd        uint32 // peer's last-advertised free receive space
	dupAckCount int

	sendQueue []*SendSegment
	inBuffer  []byte
	oooBuffer *btree.BTree

	finReceived      bool
	timeWaitDeadline time.Time

	sendBuf [MaxPacketSize]byte
	recvBuf [MaxPacketSize]byte
}

// NewConnection wires a connection to its datagram port. The port is switched
// to non-blocking mode; the engine polls it from Update.
func NewConnection(port DatagramPort, conf *ConnectionConfig) *Connection {
	if conf == nil {
		conf = DefaultConnectionConfig()
	}
	InitPool(DefaultPoolSize, conf.MSS, false, 0)
	port.SetNonBlocking(true)

	return &Connection{
		config:    conf,
		port:      port,
		state:     StateClosed,
		rwnd:      conf.MaxRwnd,
		oooBuffer: btree.New(2),
	}
}

func (c *Connection) log() *log.Entry {
	return log.WithFields(log.Fields{
		"peer":  c.peerIP,
		"port":  c.peerPort,
		"state": c.state,
	})
}

func (c *Connection) setState(s State) {
	if s == c.state {
		return
	}
	c.log().WithField("next", s).Debug("state transition")
	c.state = s
}

// Bind attaches the connection to a local port and starts listening.
func (c *Connection) Bind(port int) error {
	if err := c.port.Bind(port); err != nil {
		return err
	}
	c.bound = true
	c.setState(StateListen)
	c.log().WithField("local", port).Info("listening")
	return nil
}

// Connect starts the handshake toward ip:port. It does not block: the
// connection is usable once Update has driven the state to ESTABLISHED.
func (c *Connection) Connect(ip string, port int) error {
	if !c.bound {
		if err := c.port.Bind(0); err != nil {
			return err
		}
		c.bound = true
	}

	c.peerIP = ip
	c.peerPort = port

	iss, err := GenerateISN()
	if err != nil {
		return errors.Wrap(err, "generating initial sequence number")
	}
	c.iss = iss
	c.sndUna = iss
	c.sndNxt = iss

	c.sendControl(SYNFlag)
	c.sndNxt = c.sndNxt.Add(1) // SYN consumes one sequence number
	c.setState(StateSynSent)
	return nil
}

// Send queues data for transmission. It reports false when the payload does
// not fit the current window; the caller retries after driving Update.
func (c *Connection) Send(data []byte) bool {
	if c.state != StateEstablished && c.state != StateCloseWait {
		return false
	}
	return c.tryEnqueue(data)
}

// Receive copies buffered in-order bytes out of the connection. It returns
// (0, nil) when no data is pending and (0, io.EOF) once the peer's FIN has
// been consumed and the buffer is drained.
func (c *Connection) Receive(buf []byte) (int, error) {
	if len(c.inBuffer) == 0 {
		if c.finReceived {
			return 0, io.EOF
		}
		return 0, nil
	}

	oldWindow := c.windowSize()
	n := copy(buf, c.inBuffer)
	c.inBuffer = c.inBuffer[n:]
	if len(c.inBuffer) == 0 {
		c.inBuffer = nil
	}
	newWindow := c.windowSize()

	// Window-update ACKs, simplified silly-window avoidance: speak up when
	// the window reopens or once a full packet of space has been freed.
	if (oldWindow == 0 && newWindow > 0) || newWindow-oldWindow >= MaxPacketSize {
		c.sendAck()
	}

	return n, nil
}

// Update drives the engine: drain the datagram port, dispatch every valid
// segment to the state machine, then run the retransmission clock. It is the
// sole re-entry point and never blocks.
func (c *Connection) Update() {
	for {
		n, srcIP, srcPort, err := c.port.RecvFrom(c.recvBuf[:])
		if err != nil || n <= 0 {
			if err != nil && !errors.Is(err, ErrWouldBlock) {
				c.log().WithField("err", err).Debug("datagram port read error")
			}
			break
		}
		if n < HeaderLength {
			continue
		}
		if !VerifyChecksum(c.recvBuf[:n]) {
			c.log().Debug("checksum verification failed, dropping segment")
			continue
		}

		packet := &Packet{}
		if err := packet.Unmarshal(c.recvBuf[:n]); err != nil {
			c.log().WithField("err", err).Debug("malformed segment dropped")
			continue
		}
		c.processPacket(packet, srcIP, srcPort)
	}

	c.checkTimeout()

	if c.state == StateTimeWait && !c.timeWaitDeadline.IsZero() && !time.Now().Before(c.timeWaitDeadline) {
		c.timeWaitDeadline = time.Time{}
		c.setState(StateClosed)
		c.log().Info("connection closed")
	}
}

// Close initiates the graceful shutdown for the current role: active close
// from ESTABLISHED, passive close from CLOSE_WAIT.
func (c *Connection) Close() {
	switch c.state {
	case StateEstablished:
		c.sendControl(FINFlag | ACKFlag)
		c.sndNxt = c.sndNxt.Add(1) // FIN consumes one sequence number
		c.setState(StateFinWait1)
	case StateCloseWait:
		c.sendControl(FINFlag | ACKFlag)
		c.sndNxt = c.sndNxt.Add(1)
		c.setState(StateLastAck)
	case StateListen, StateSynSent:
		c.setState(StateClosed)
	}
}

// IsSendComplete reports whether every submitted byte has been acknowledged.
func (c *Connection) IsSendComplete() bool {
	return len(c.sendQueue) == 0
}

func (c *Connection) GetState() State {
	return c.state
}

// MSS is the largest payload Send accepts in one call.
func (c *Connection) MSS() int {
	return c.config.MSS
}

// Reset returns a server connection to LISTEN for the next client: buffers,
// queues and sequence state are cleared, the advertised window restored.
func (c *Connection) Reset() {
	for _, seg := range c.sendQueue {
		seg.returnChunk()
	}
	c.sendQueue = nil

	for c.oooBuffer.Len() > 0 {
		c.oooBuffer.DeleteMin().(*oooSegment).returnChunk()
	}

	c.inBuffer = nil
	c.iss, c.irs = 0, 0
	c.sndUna, c.sndNxt, c.rcvNxt = 0, 0, 0
	c.rwnd = c.config.MaxRwnd
	c.dupAckCount = 0
	c.finReceived = false
	c.timeWaitDeadline = time.Time{}
	c.peerIP = ""
	c.peerPort = 0
	c.setState(StateListen)
}

// processPacket is the state machine dispatch for one validated segment.
func (c *Connection) processPacket(p *Packet, srcIP string, srcPort int) {
	defer p.ReturnChunk() // ownership transfers explicitly where needed

	if p.Flags&RSTFlag != 0 {
		c.log().Debug("RST segment dropped")
		return
	}

	seq := seqnum.Value(p.SequenceNumber)
	ack := seqnum.Value(p.AcknowledgmentNum)

	switch c.state {
	case StateClosed:
		// ignore

	case StateListen:
		if p.Flags&SYNFlag == 0 {
			return
		}
		c.peerIP = srcIP
		c.peerPort = srcPort
		c.irs = seq
		c.rcvNxt = seq.Add(1)

		iss, err := GenerateISN()
		if err != nil {
			c.log().WithField("err", err).Error("cannot generate initial sequence number")
			return
		}
		c.iss = iss
		c.sndUna = iss
		c.sndNxt = iss
		c.sendControl(SYNFlag | ACKFlag)
		c.sndNxt = c.sndNxt.Add(1)
		c.setState(StateSynRcvd)

	case StateSynSent:
		// No simultaneous open: a bare SYN is ignored.
		if p.Flags&(SYNFlag|ACKFlag) != SYNFlag|ACKFlag {
			return
		}
		c.irs = seq
		c.rcvNxt = seq.Add(1)
		c.sndUna = ack
		c.rwnd = p.WindowSize
		c.sendAck()
		c.setState(StateEstablished)
		c.log().Info("connection established")

	case StateSynRcvd:
		if p.Flags&ACKFlag == 0 || p.Flags&SYNFlag != 0 {
			return
		}
		c.sndUna = ack
		c.rwnd = p.WindowSize
		c.setState(StateEstablished)
		c.log().Info("connection established")

	case StateEstablished:
		c.handleAck(p)
		c.rwnd = p.WindowSize

		if len(p.Payload) > 0 {
			c.handleData(p)
			return
		}

		if p.Flags&FINFlag != 0 {
			c.consumePeerFin(seq)
			c.sendAck()
			c.setState(StateCloseWait)
		}

	case StateFinWait1:
		if p.Flags&FINFlag != 0 {
			c.consumePeerFin(seq)
			c.sendAck()
			if ack == c.sndNxt {
				// Peer both acknowledged our FIN and sent its own.
				c.enterTimeWait()
			} else {
				c.setState(StateClosing)
			}
			return
		}
		if p.Flags&ACKFlag != 0 && ack == c.sndNxt {
			c.sndUna = ack
			c.setState(StateFinWait2)
		}

	case StateFinWait2:
		if p.Flags&FINFlag != 0 {
			c.consumePeerFin(seq)
			c.sendAck()
			c.enterTimeWait()
		}

	case StateClosing:
		if p.Flags&ACKFlag != 0 && ack == c.sndNxt {
			c.sndUna = ack
			c.enterTimeWait()
		}

	case StateTimeWait:
		// The peer retransmits its FIN when our final ACK got lost.
		if p.Flags&FINFlag != 0 {
			c.sendAck()
		}

	case StateCloseWait:
		// The passive side may still be sending; keep the window moving.
		c.handleAck(p)
		c.rwnd = p.WindowSize
		if p.Flags&FINFlag != 0 {
			c.sendAck()
		}

	case StateLastAck:
		if p.Flags&ACKFlag != 0 && ack == c.sndNxt {
			c.sndUna = ack
			c.setState(StateClosed)
			c.log().Info("connection closed")
		}
	}
}

// consumePeerFin advances rcvNxt over the peer's FIN octet and flags the EOF
// for Receive.
func (c *Connection) consumePeerFin(seq seqnum.Value) {
	if seq == c.rcvNxt {
		c.rcvNxt = c.rcvNxt.Add(1)
	}
	c.finReceived = true
}

func (c *Connection) enterTimeWait() {
	c.setState(StateTimeWait)
	c.timeWaitDeadline = time.Now().Add(c.config.TimeWait)
}

// sendControl emits a zero-payload segment at the current send position.
func (c *Connection) sendControl(flags uint8) {
	pkt := Packet{
		SequenceNumber:    uint32(c.sndNxt),
		AcknowledgmentNum: uint32(c.rcvNxt),
		Flags:             flags,
		WindowSize:        c.windowSize(),
	}
	c.transmit(&pkt)
}

// sendAck emits a pure ACK reporting rcvNxt and the current free window.
func (c *Connection) sendAck() {
	c.sendControl(ACKFlag)
}

// transmitSegment puts a queued data segment on the wire with its original
// sequence number, always carrying the latest ACK and window.
func (c *Connection) transmitSegment(seg *SendSegment) {
	pkt := Packet{
		SequenceNumber:    uint32(seg.Seq),
		AcknowledgmentNum: uint32(c.rcvNxt),
		Flags:             ACKFlag,
		WindowSize:        c.windowSize(),
		Payload:           seg.Payload,
	}
	c.transmit(&pkt)
}

func (c *Connection) transmit(pkt *Packet) {
	n, err := pkt.Marshal(c.sendBuf[:])
	if err != nil {
		c.log().WithField("err", err).Error("cannot marshal segment")
		return
	}
	if _, err := c.port.SendTo(c.sendBuf[:n], c.peerIP, c.peerPort); err != nil {
		// Transient substrate failures are non-fatal; the RTO path retries
		// data segments on a later tick.
		c.log().WithField("err", err).Debug("datagram send failed")
	}
}
