package protocol

import (
	"errors"
	"net/netip"
	"time"

	"Go2NetQoS/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrMalformedFrame is returned when a frame does not even carry a readable
// Ethernet header.
var ErrMalformedFrame = errors.New("malformed ethernet frame")

var decodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

// ParsePacket decodes a raw Ethernet frame received on inPort. A zero ts
// leaves the timestamp unset so that the tracker stamps it on arrival.
func ParsePacket(frame []byte, inPort uint32, ts time.Time) (*model.Packet, error) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, decodeOptions)
	return FromGoPacket(packet, inPort, ts)
}

// FromGoPacket converts an already decoded gopacket packet. Headers that are
// missing or fail to decode are left nil; only a missing Ethernet header is
// an error.
func FromGoPacket(packet gopacket.Packet, inPort uint32, ts time.Time) (*model.Packet, error) {
	eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return nil, ErrMalformedFrame
	}

	p := &model.Packet{
		Timestamp: ts,
		InPort:    inPort,
		Length:    len(packet.Data()),
		SrcMAC:    eth.SrcMAC,
		DstMAC:    eth.DstMAC,
	}
	if meta := packet.Metadata(); meta != nil && meta.Length > 0 {
		p.Length = meta.Length
	}

	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		p.Network = &model.NetworkHeader{
			SrcIP:       addr(ip.SrcIP),
			DstIP:       addr(ip.DstIP),
			Protocol:    uint8(ip.Protocol),
			TTL:         ip.TTL,
			TotalLength: ip.Length,
			Flags:       uint8(ip.Flags),
		}
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		p.Network = &model.NetworkHeader{
			SrcIP:       addr(ip.SrcIP),
			DstIP:       addr(ip.DstIP),
			Protocol:    uint8(ip.NextHeader),
			TTL:         ip.HopLimit,
			TotalLength: ip.Length + 40,
		}
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		p.TCP = &model.TCPHeader{
			SrcPort: uint16(tcp.SrcPort),
			DstPort: uint16(tcp.DstPort),
			Flags:   tcpFlags(tcp),
			Window:  tcp.Window,
		}
		p.Payload = tcp.Payload
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		p.UDP = &model.UDPHeader{
			SrcPort: uint16(udp.SrcPort),
			DstPort: uint16(udp.DstPort),
			Length:  udp.Length,
		}
		p.Payload = udp.Payload
	}
	return p, nil
}

func addr(ip []byte) netip.Addr {
	a, _ := netip.AddrFromSlice(ip)
	return a.Unmap()
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var flags uint8
	set := func(on bool, bit uint8) {
		if on {
			flags |= bit
		}
	}
	set(tcp.FIN, model.TCPFlagFIN)
	set(tcp.SYN, model.TCPFlagSYN)
	set(tcp.RST, model.TCPFlagRST)
	set(tcp.PSH, model.TCPFlagPSH)
	set(tcp.ACK, model.TCPFlagACK)
	set(tcp.URG, model.TCPFlagURG)
	return flags
}
