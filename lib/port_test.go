package lib

import (
	"bytes"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestUDPPortLoopback(t *testing.T) {
	a := NewUDPPort(0)
	b := NewUDPPort(0)

	if err := a.Bind(0); err != nil {
		t.Fatalf("bind a: %v", err)
	}
	defer a.Close()
	if err := b.Bind(0); err != nil {
		t.Fatalf("bind b: %v", err)
	}
	defer b.Close()

	a.SetNonBlocking(true)
	b.SetNonBlocking(true)

	// Nothing pending: a non-blocking read must not suspend.
	buf := make([]byte, 64)
	if _, _, _, err := b.RecvFrom(buf); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("empty RecvFrom = %v, want ErrWouldBlock", err)
	}

	msg := []byte("datagram payload")
	var (
		n    int
		ip   string
		port int
		err  error
	)
	// Loopback is reliable in practice; the retry loop guards the rare case.
	for attempt := 0; attempt < 5; attempt++ {
		if _, err = a.SendTo(msg, "127.0.0.1", b.LocalPort()); err != nil {
			t.Fatalf("SendTo: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
		n, ip, port, err = b.RecvFrom(buf)
		if err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("RecvFrom: %v", err)
	}
	if !bytes.Equal(buf[:n], msg) {
		t.Fatalf("received %q, want %q", buf[:n], msg)
	}
	if ip != "127.0.0.1" {
		t.Errorf("source ip = %q, want 127.0.0.1", ip)
	}
	if port != a.LocalPort() {
		t.Errorf("source port = %d, want %d", port, a.LocalPort())
	}
}
