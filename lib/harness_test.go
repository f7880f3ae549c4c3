package lib

// In-memory datagram ports wired back to back. Deterministic substitute for
// UDP in the state-machine tests: tests may reorder, duplicate or drop queued
// datagrams directly, or install a send hook.

type memDatagram struct {
	data []byte
	ip   string
	port int
}

type memPort struct {
	localIP   string
	localPort int
	peer      *memPort
	queue     []memDatagram

	// sendHook sees every outgoing datagram; returning false drops it.
	sendHook func(p []byte) bool
}

func newMemPair() (*memPort, *memPort) {
	a := &memPort{localIP: "127.0.0.1", localPort: 34567}
	b := &memPort{localIP: "127.0.0.1", localPort: 9}
	a.peer = b
	b.peer = a
	return a, b
}

func (m *memPort) Bind(port int) error {
	if port != 0 {
		m.localPort = port
	}
	return nil
}

func (m *memPort) SendTo(p []byte, ip string, port int) (int, error) {
	if m.sendHook != nil && !m.sendHook(p) {
		return len(p), nil // swallowed by the impairment hook
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	m.peer.queue = append(m.peer.queue, memDatagram{data: buf, ip: m.localIP, port: m.localPort})
	return len(p), nil
}

func (m *memPort) RecvFrom(p []byte) (int, string, int, error) {
	if len(m.queue) == 0 {
		return 0, "", 0, ErrWouldBlock
	}
	d := m.queue[0]
	m.queue = m.queue[1:]
	n := copy(p, d.data)
	return n, d.ip, d.port, nil
}

func (m *memPort) SetNonBlocking(nonBlocking bool) {}

func (m *memPort) Close() error { return nil }

// isData reports whether an encoded datagram carries payload bytes.
func isData(p []byte) bool {
	return len(p) > HeaderLength
}

// drive runs both endpoints' ticks a fixed number of rounds.
func drive(a, b *Connection, rounds int) {
	for i := 0; i < rounds; i++ {
		a.Update()
		b.Update()
	}
}

// established returns a freshly connected client/server pair over memory
// ports, plus the ports for queue manipulation.
func established(clientConf, serverConf *ConnectionConfig) (*Connection, *Connection, *memPort, *memPort) {
	cp, sp := newMemPair()
	client := NewConnection(cp, clientConf)
	server := NewConnection(sp, serverConf)
	server.Bind(9)
	client.Connect("127.0.0.1", 9)
	drive(client, server, 4)
	return client, server, cp, sp
}
