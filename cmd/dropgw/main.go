// dropgw is a UDP impairment gateway for soak-testing the transport: it sits
// between a client and the server and randomly drops, duplicates or reorders
// the datagrams flowing through it. Point the client at the gateway and the
// gateway at the real server:
//
//	dropgw -port 8901 -target 127.0.0.1:8080 -droprate 0.1 -duprate 0.05 -reorderrate 0.05
package main

import (
	"flag"
	"math/rand"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	gatewayPort int
	targetAddr  string
	dropRate    float64
	dupRate     float64
	reorderRate float64
	seed        int64
)

func init() {
	flag.IntVar(&gatewayPort, "port", 8901, "Gateway port number")
	flag.StringVar(&targetAddr, "target", "127.0.0.1:8080", "Target server address")
	flag.Float64Var(&dropRate, "droprate", 0.1, "Packet drop rate (0.0-1.0)")
	flag.Float64Var(&dupRate, "duprate", 0.0, "Packet duplication rate (0.0-1.0)")
	flag.Float64Var(&reorderRate, "reorderrate", 0.0, "Packet reordering rate (0.0-1.0)")
	flag.Int64Var(&seed, "seed", 1, "Impairment RNG seed")
	flag.Parse()
}

// impairer applies the configured impairments to one direction of traffic.
type impairer struct {
	rng       *rand.Rand
	direction string
	held      []byte
}

// apply hands zero or more datagrams to forward for the given input datagram.
func (im *impairer) apply(p []byte, forward func([]byte)) {
	if im.rng.Float64() < dropRate {
		log.WithFields(log.Fields{"dir": im.direction, "size": len(p)}).Debug("dropped")
		return
	}

	if im.held == nil && im.rng.Float64() < reorderRate {
		// Hold this datagram back until the next one passes.
		im.held = append([]byte{}, p...)
		log.WithFields(log.Fields{"dir": im.direction, "size": len(p)}).Debug("held for reordering")
		return
	}

	forward(p)
	if im.rng.Float64() < dupRate {
		log.WithFields(log.Fields{"dir": im.direction, "size": len(p)}).Debug("duplicated")
		forward(p)
	}

	if im.held != nil {
		forward(im.held)
		im.held = nil
	}
}

func main() {
	target, err := net.ResolveUDPAddr("udp4", targetAddr)
	if err != nil {
		log.Fatalf("Bad target address: %v", err)
	}

	gwConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: gatewayPort})
	if err != nil {
		log.Fatalf("Gateway error listening on port %d: %v", gatewayPort, err)
	}
	defer gwConn.Close()

	upConn, err := net.DialUDP("udp4", nil, target)
	if err != nil {
		log.Fatalf("Gateway error dialing target %s: %v", targetAddr, err)
	}
	defer upConn.Close()

	log.Printf("UDP gateway started on port %d -> %s (drop %.1f%%, dup %.1f%%, reorder %.1f%%)",
		gatewayPort, targetAddr, dropRate*100, dupRate*100, reorderRate*100)

	var (
		mu         sync.Mutex
		clientAddr *net.UDPAddr
	)

	// Downstream: target -> last seen client.
	go func() {
		im := &impairer{rng: rand.New(rand.NewSource(seed + 1)), direction: "down"}
		buf := make([]byte, 64*1024)
		for {
			n, err := upConn.Read(buf)
			if err != nil {
				log.Printf("Gateway downstream read error: %v", err)
				return
			}
			mu.Lock()
			dst := clientAddr
			mu.Unlock()
			if dst == nil {
				continue
			}
			im.apply(buf[:n], func(p []byte) {
				if _, err := gwConn.WriteToUDP(p, dst); err != nil {
					log.Printf("Gateway downstream write error: %v", err)
				}
			})
		}
	}()

	// Upstream: client -> target. One client at a time, matching the
	// one-connection-per-endpoint transport.
	im := &impairer{rng: rand.New(rand.NewSource(seed)), direction: "up"}
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := gwConn.ReadFromUDP(buf)
		if err != nil {
			log.Printf("Gateway upstream read error: %v", err)
			return
		}
		mu.Lock()
		clientAddr = addr
		mu.Unlock()
		im.apply(buf[:n], func(p []byte) {
			if _, err := upConn.Write(p); err != nil {
				log.Printf("Gateway upstream write error: %v", err)
			}
		})
	}
}
