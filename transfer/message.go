// Package transfer implements the file-transfer application on top of the
// reliable byte-stream connection: a small opcode+length framing, an upload
// and a download flow, and the single-connection server loop.
package transfer

import (
	"encoding/binary"
	"io"
	"runtime"

	"github.com/pkg/errors"

	"github.com/Muraqwq/simple-tcp-file-transport/lib"
)

// Operation codes
const (
	OpMsg         uint8 = 0 // plain text message
	OpUploadReq   uint8 = 1 // upload request, payload = "filename|filesize"
	OpData        uint8 = 2 // file data chunk
	OpEnd         uint8 = 3 // end of transfer, payload = byte count on the confirmation
	OpAck         uint8 = 4 // application-level acknowledgement
	OpDownloadReq uint8 = 5 // download request, payload = filename
	OpError       uint8 = 6 // error report, payload = message
	OpFileInfo    uint8 = 7 // download preamble, payload = file size
)

// AppHeaderSize is the frame header: opCode(1) + payload length(4, big endian).
const AppHeaderSize = 5

// MessageHandler consumes one complete application frame. The payload slice
// is only valid for the duration of the call.
type MessageHandler func(op uint8, payload []byte)

func encodeMessage(op uint8, payload []byte) []byte {
	frame := make([]byte, AppHeaderSize+len(payload))
	frame[0] = op
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(payload)))
	copy(frame[AppHeaderSize:], payload)
	return frame
}

// decodeFrames invokes handler for every complete frame at the front of buf
// and returns how many bytes were consumed. Partial trailing frames stay.
func decodeFrames(buf []byte, handler MessageHandler) int {
	consumed := 0
	for len(buf) >= AppHeaderSize {
		length := binary.BigEndian.Uint32(buf[1:5])
		total := AppHeaderSize + int(length)
		if len(buf) < total {
			break // half a frame, wait for more bytes
		}
		handler(buf[0], buf[AppHeaderSize:total])
		buf = buf[total:]
		consumed += total
	}
	return consumed
}

// Messenger frames application messages onto a connection's byte stream and
// reassembles frames out of it, coping with coalesced and split messages.
type Messenger struct {
	conn  *lib.Connection
	rxBuf []byte
	tmp   []byte
}

func NewMessenger(conn *lib.Connection) *Messenger {
	return &Messenger{
		conn: conn,
		tmp:  make([]byte, 2*lib.MaxPacketSize),
	}
}

func (m *Messenger) Conn() *lib.Connection {
	return m.conn
}

// Send frames op+payload and pumps the engine until the whole frame has been
// admitted to the send window. Frames larger than one segment are split; the
// stream has no message boundaries, so the receiver cannot tell.
func (m *Messenger) Send(op uint8, payload []byte) error {
	frame := encodeMessage(op, payload)
	for len(frame) > 0 {
		chunk := frame
		if len(chunk) > m.conn.MSS() {
			chunk = frame[:m.conn.MSS()]
		}
		for !m.conn.Send(chunk) {
			m.conn.Update()
			if s := m.conn.GetState(); s != lib.StateEstablished && s != lib.StateCloseWait {
				return errors.Errorf("connection no longer writable in state %s", s)
			}
			runtime.Gosched()
		}
		frame = frame[len(chunk):]
	}
	return nil
}

// Poll drives one engine tick, drains newly delivered bytes and dispatches
// every complete frame. It reports false once the peer's end of stream has
// been consumed.
func (m *Messenger) Poll(handler MessageHandler) bool {
	m.conn.Update()

	n, err := m.conn.Receive(m.tmp)
	if err == io.EOF {
		return false
	}
	if n > 0 {
		m.rxBuf = append(m.rxBuf, m.tmp[:n]...)
		if consumed := decodeFrames(m.rxBuf, handler); consumed > 0 {
			m.rxBuf = append(m.rxBuf[:0], m.rxBuf[consumed:]...)
		}
	}
	return true
}
