package model

import (
	"net"
	"net/netip"
	"time"
)

// IP protocol numbers the classifiers care about.
const (
	ProtoICMP   uint8 = 1
	ProtoTCP    uint8 = 6
	ProtoUDP    uint8 = 17
	ProtoICMPv6 uint8 = 58
)

// TCP flag bits as carried in the TCP header.
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagPSH uint8 = 0x08
	TCPFlagACK uint8 = 0x10
	TCPFlagURG uint8 = 0x20
)

// FiveTuple represents the 5-tuple of a network packet.
type FiveTuple struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// NetworkHeader holds the network-layer fields of a decoded packet.
type NetworkHeader struct {
	SrcIP       netip.Addr
	DstIP       netip.Addr
	Protocol    uint8
	TTL         uint8
	TotalLength uint16
	Flags       uint8
}

// TCPHeader holds the transport fields of a TCP segment.
type TCPHeader struct {
	SrcPort uint16
	DstPort uint16
	Flags   uint8
	Window  uint16
}

// UDPHeader holds the transport fields of a UDP datagram.
type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
	Length  uint16
}

// Packet is a packet as delivered by the dataplane, already decoded.
// Header pointers are nil when the corresponding layer is absent.
type Packet struct {
	Timestamp time.Time
	InPort    uint32
	Length    int
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr
	Network   *NetworkHeader
	TCP       *TCPHeader
	UDP       *UDPHeader
	Payload   []byte
}

// Ports returns the transport ports of the packet, or zeros when there is no
// TCP or UDP header.
func (p *Packet) Ports() (src, dst uint16) {
	switch {
	case p.TCP != nil:
		return p.TCP.SrcPort, p.TCP.DstPort
	case p.UDP != nil:
		return p.UDP.SrcPort, p.UDP.DstPort
	}
	return 0, 0
}

// FiveTuple returns the 5-tuple of the packet. ok is false for non-IP packets.
func (p *Packet) FiveTuple() (ft FiveTuple, ok bool) {
	if p.Network == nil {
		return FiveTuple{}, false
	}
	src, dst := p.Ports()
	return FiveTuple{
		SrcIP:    p.Network.SrcIP,
		DstIP:    p.Network.DstIP,
		SrcPort:  src,
		DstPort:  dst,
		Protocol: p.Network.Protocol,
	}, true
}
