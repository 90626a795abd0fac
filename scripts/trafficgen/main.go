package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"sort"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	clientMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	serverMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// profile describes one kind of conversation: where it goes and what its
// packets look like.
type profile struct {
	label   string
	proto   layers.IPProtocol
	dstPort func(r *rand.Rand) uint16
	size    func(r *rand.Rand) int
	gap     time.Duration
	payload func(r *rand.Rand, i int) []byte
	packets int
	ackOnly bool
}

func fixed(p uint16) func(*rand.Rand) uint16 { return func(*rand.Rand) uint16 { return p } }

func between(lo, hi int) func(*rand.Rand) int {
	return func(r *rand.Rand) int { return lo + r.Intn(hi-lo+1) }
}

func text(lines ...string) func(*rand.Rand, int) []byte {
	return func(_ *rand.Rand, i int) []byte {
		if i < len(lines) {
			return []byte(lines[i])
		}
		return nil
	}
}

var profiles = []profile{
	{label: "DNS", proto: layers.IPProtocolUDP, dstPort: fixed(53), size: between(40, 90), gap: 20 * time.Millisecond, packets: 2},
	{label: "Browsing", proto: layers.IPProtocolTCP, dstPort: fixed(80), size: between(200, 900), gap: 15 * time.Millisecond, packets: 12,
		payload: text("GET /index.html HTTP/1.1\r\nHost: example.org\r\nUser-Agent: trafficgen\r\n\r\n")},
	{label: "SSH", proto: layers.IPProtocolTCP, dstPort: fixed(22), size: between(60, 200), gap: 120 * time.Millisecond, packets: 20,
		payload: text("SSH-2.0-OpenSSH_9.6\r\n")},
	{label: "Email", proto: layers.IPProtocolTCP, dstPort: fixed(25), size: between(80, 600), gap: 40 * time.Millisecond, packets: 8,
		payload: text("EHLO client.example.org\r\n", "MAIL FROM:<a@example.org>\r\n")},
	{label: "Gaming", proto: layers.IPProtocolUDP, dstPort: func(r *rand.Rand) uint16 { return uint16(27015 + r.Intn(16)) }, size: between(60, 180), gap: 16 * time.Millisecond, packets: 60},
	{label: "VOIP", proto: layers.IPProtocolUDP, dstPort: func(r *rand.Rand) uint16 { return uint16(16384 + 2*r.Intn(8000)) }, size: between(172, 214), gap: 20 * time.Millisecond, packets: 100},
	{label: "Video-Streaming", proto: layers.IPProtocolUDP, dstPort: func(r *rand.Rand) uint16 { return uint16(40000 + r.Intn(1000)) }, size: between(1100, 1200), gap: 2 * time.Millisecond, packets: 300},
	{label: "File-Transfer", proto: layers.IPProtocolTCP, dstPort: func(r *rand.Rand) uint16 { return uint16(45000 + r.Intn(1000)) }, size: between(1400, 1500), gap: 500 * time.Microsecond, packets: 400},
	{label: "Chat", proto: layers.IPProtocolTCP, dstPort: func(r *rand.Rand) uint16 { return uint16(50000 + r.Intn(1000)) }, size: between(54, 64), gap: 800 * time.Millisecond, packets: 10, ackOnly: true},
	{label: "ICMP", proto: layers.IPProtocolICMPv4, size: between(98, 98), gap: time.Second, packets: 4},
}

func main() {
	outputFile := flag.String("o", "traffic.pcap", "Output pcap file path")
	flows := flag.Int("flows", 200, "Number of conversations to generate")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	r := rand.New(rand.NewSource(*seed))
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	type record struct {
		ts   time.Time
		data []byte
	}
	var records []record
	counts := make(map[string]int)

	log.Printf("Generating %d conversations into %s...", *flows, *outputFile)
	for n := 0; n < *flows; n++ {
		p := profiles[r.Intn(len(profiles))]
		client := net.IP{10, 0, byte(r.Intn(256)), byte(1 + r.Intn(254))}
		server := net.IP{172, 16, byte(r.Intn(256)), byte(1 + r.Intn(254))}
		srcPort := uint16(1024 + r.Intn(64000-1024))
		var dstPort uint16
		if p.dstPort != nil {
			dstPort = p.dstPort(r)
		}
		ts := start.Add(time.Duration(r.Int63n(int64(time.Minute))))

		for i := 0; i < p.packets; i++ {
			frame, err := buildFrame(r, p, i, client, server, srcPort, dstPort)
			if err != nil {
				log.Fatalf("Failed to serialize layers: %v", err)
			}
			records = append(records, record{ts: ts, data: frame})
			ts = ts.Add(p.gap/2 + time.Duration(r.Int63n(int64(p.gap))))
		}
		counts[p.label]++
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ts.Before(records[j].ts) })
	for _, rec := range records {
		ci := gopacket.CaptureInfo{Timestamp: rec.ts, CaptureLength: len(rec.data), Length: len(rec.data)}
		if err := pcapWriter.WritePacket(ci, rec.data); err != nil {
			log.Fatalf("Failed to write packet: %v", err)
		}
	}

	log.Printf("Successfully generated %d packets into %s.", len(records), *outputFile)
	for _, p := range profiles {
		fmt.Printf("%-16s %d flows\n", p.label, counts[p.label])
	}
}

// buildFrame serializes packet i of a conversation, padding the payload so
// the frame has the profile's size.
func buildFrame(r *rand.Rand, p profile, i int, client, server net.IP, srcPort, dstPort uint16) ([]byte, error) {
	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Flags: layers.IPv4DontFragment, Protocol: p.proto, SrcIP: client, DstIP: server}

	var payload []byte
	if p.payload != nil {
		payload = p.payload(r, i)
	}
	size := p.size(r)

	var transport gopacket.SerializableLayer
	header := 14 + 20
	switch p.proto {
	case layers.IPProtocolTCP:
		tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), Seq: r.Uint32(), Window: 64240, ACK: true}
		if p.ackOnly {
			payload = nil
			size = header + 20
		} else {
			tcp.PSH = true
		}
		tcp.SetNetworkLayerForChecksum(ip)
		transport = tcp
		header += 20
	case layers.IPProtocolUDP:
		udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
		udp.SetNetworkLayerForChecksum(ip)
		transport = udp
		header += 8
	default:
		transport = &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: uint16(srcPort), Seq: uint16(i)}
		header += 8
	}
	if pad := size - header - len(payload); pad > 0 {
		filler := make([]byte, pad)
		r.Read(filler)
		payload = append(payload, filler...)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, transport, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
