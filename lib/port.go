package lib

import (
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

// ErrWouldBlock reports that no datagram is available on a non-blocking read.
var ErrWouldBlock = errors.New("datagram port: operation would block")

// DatagramPort is the unreliable substrate the engine runs over: best-effort
// send and receive of opaque byte payloads to and from (ip, port) pairs.
type DatagramPort interface {
	// Bind attaches the port to a local UDP port. Port 0 picks an ephemeral one.
	Bind(port int) error
	// SendTo transmits one datagram to the given peer.
	SendTo(p []byte, ip string, port int) (int, error)
	// RecvFrom receives one datagram. In non-blocking mode it returns
	// ErrWouldBlock when nothing is pending instead of suspending.
	RecvFrom(p []byte) (int, string, int, error)
	// SetNonBlocking toggles non-blocking reads. The engine requires it on.
	SetNonBlocking(nonBlocking bool)
	Close() error
}

// UDPPort is the production DatagramPort over a kernel UDP socket.
type UDPPort struct {
	conn        *net.UDPConn
	nonBlocking bool
	tos         int
}

// NewUDPPort creates an unbound port. A non-zero tos marks outgoing datagrams
// with the given DSCP/TOS byte once the socket is bound.
func NewUDPPort(tos int) *UDPPort {
	return &UDPPort{tos: tos}
}

func (u *UDPPort) Bind(port int) error {
	addr, err := net.ResolveUDPAddr("udp4", ":"+strconv.Itoa(port))
	if err != nil {
		return errors.Wrap(err, "resolving local UDP address")
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return errors.Wrapf(err, "binding UDP port %d", port)
	}
	u.conn = conn

	if u.tos > 0 {
		if err := ipv4.NewPacketConn(conn).SetTOS(u.tos); err != nil {
			conn.Close()
			u.conn = nil
			return errors.Wrapf(err, "setting TOS 0x%02x", u.tos)
		}
	}
	return nil
}

// LocalPort reports the bound UDP port, 0 when unbound.
func (u *UDPPort) LocalPort() int {
	if u.conn == nil {
		return 0
	}
	return u.conn.LocalAddr().(*net.UDPAddr).Port
}

func (u *UDPPort) SendTo(p []byte, ip string, port int) (int, error) {
	if u.conn == nil {
		return 0, errors.New("datagram port: not bound")
	}
	dst := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	if dst.IP == nil {
		return 0, errors.Errorf("datagram port: bad peer address %q", ip)
	}
	return u.conn.WriteToUDP(p, dst)
}

func (u *UDPPort) RecvFrom(p []byte) (int, string, int, error) {
	if u.conn == nil {
		return 0, "", 0, errors.New("datagram port: not bound")
	}
	if u.nonBlocking {
		// A deadline a moment ahead turns the blocking read into a short poll:
		// a datagram already queued is returned, an empty socket reports
		// ErrWouldBlock once the deadline passes. A deadline already in the
		// past would fail the read before the socket is looked at.
		u.conn.SetReadDeadline(time.Now().Add(100 * time.Microsecond))
	} else {
		u.conn.SetReadDeadline(time.Time{})
	}

	n, addr, err := u.conn.ReadFromUDP(p)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return 0, "", 0, ErrWouldBlock
		}
		return 0, "", 0, err
	}
	return n, addr.IP.String(), addr.Port, nil
}

func (u *UDPPort) SetNonBlocking(nonBlocking bool) {
	u.nonBlocking = nonBlocking
}

func (u *UDPPort) Close() error {
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}
