package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"Go2NetQoS/internal/engine/protocol"
	"Go2NetQoS/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

func main() {
	count := flag.Int("n", 5, "Number of packets to print")
	inPort := flag.Uint("in-port", 1, "Switch port to report for every packet")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/pcapana [-n 5] <path_to_pcap_file>")
		os.Exit(1)
	}
	handle, err := pcap.OpenOffline(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer handle.Close()

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())

	i := 0
	for packet := range packetSource.Packets() {
		p, err := protocol.FromGoPacket(packet, uint32(*inPort), packet.Metadata().Timestamp)
		if err != nil {
			fmt.Println("Parse error:", err)
			continue
		}
		i++
		key := model.KeyFor(p)
		src, dst := p.Ports()
		fmt.Printf("[%s] %-45s sport=%d dport=%d len=%d payload=%d\n",
			p.Timestamp.Format("15:04:05.000"), key, src, dst, p.Length, len(p.Payload))
		if i >= *count {
			break
		}
	}
}
