// segdump decodes transport segments out of captured UDP traffic, either live
// from an interface or from a pcap file. Handy when a transfer misbehaves and
// the wire is the only witness.
//
//	segdump -r trace.pcap -port 8080
//	segdump -i lo -port 8080
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/Muraqwq/simple-tcp-file-transport/lib"
)

var (
	pcapFile string
	iface    string
	port     int
)

func init() {
	flag.StringVar(&pcapFile, "r", "", "read packets from a pcap file")
	flag.StringVar(&iface, "i", "", "capture live from this interface")
	flag.IntVar(&port, "port", 0, "only show segments to or from this UDP port (0 = any)")
	flag.Parse()
}

func main() {
	if (pcapFile == "") == (iface == "") {
		fmt.Fprintln(os.Stderr, "specify exactly one of -r <file> or -i <interface>")
		os.Exit(1)
	}

	var (
		handle *pcap.Handle
		err    error
	)
	if pcapFile != "" {
		handle, err = pcap.OpenOffline(pcapFile)
	} else {
		handle, err = pcap.OpenLive(iface, 65535, true, pcap.BlockForever)
	}
	if err != nil {
		log.Fatal("Error opening capture:", err)
	}
	defer handle.Close()

	if err := handle.SetBPFFilter("udp"); err != nil {
		log.Fatal("Error setting capture filter:", err)
	}

	lib.InitPool(64, lib.DefaultMSS, false, 0)

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range source.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if port != 0 && int(udp.SrcPort) != port && int(udp.DstPort) != port {
			continue
		}

		payload := udp.Payload
		if len(payload) < lib.HeaderLength {
			continue
		}

		checksumState := "ok"
		if !lib.VerifyChecksum(payload) {
			checksumState = "BAD"
		}

		seg := &lib.Packet{}
		if err := seg.Unmarshal(payload); err != nil {
			fmt.Printf("%v  %s -> %s  malformed segment: %v\n",
				packet.Metadata().Timestamp.Format("15:04:05.000000"), udp.SrcPort, udp.DstPort, err)
			continue
		}

		fmt.Printf("%v  %s -> %s  [%s] seq=%d ack=%d len=%d win=%d cksum=%s\n",
			packet.Metadata().Timestamp.Format("15:04:05.000000"),
			udp.SrcPort, udp.DstPort,
			lib.FlagsString(seg.Flags),
			seg.SequenceNumber, seg.AcknowledgmentNum,
			len(seg.Payload), seg.WindowSize,
			checksumState)
		seg.ReturnChunk()
	}
}
