package protocol

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"Go2NetQoS/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xaa}
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func TestParsePacket_IPv4TCP(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Flags:    layers.IPv4DontFragment,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 80, PSH: true, ACK: true, Window: 14600}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	payload := []byte("GET / HTTP/1.1\r\nHost: example.org\r\n\r\n")
	frame := serialize(t, eth, ip, tcp, gopacket.Payload(payload))
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	p, err := ParsePacket(frame, 3, ts)
	require.NoError(t, err)

	assert.Equal(t, ts, p.Timestamp)
	assert.Equal(t, uint32(3), p.InPort)
	assert.Equal(t, len(frame), p.Length)
	assert.Equal(t, srcMAC, p.SrcMAC)
	require.NotNil(t, p.Network)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), p.Network.SrcIP)
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), p.Network.DstIP)
	assert.Equal(t, model.ProtoTCP, p.Network.Protocol)
	assert.Equal(t, uint8(64), p.Network.TTL)
	assert.Equal(t, uint16(len(frame)-14), p.Network.TotalLength)
	assert.Equal(t, uint8(layers.IPv4DontFragment), p.Network.Flags)
	require.NotNil(t, p.TCP)
	assert.Equal(t, uint16(40000), p.TCP.SrcPort)
	assert.Equal(t, uint16(80), p.TCP.DstPort)
	assert.Equal(t, model.TCPFlagPSH|model.TCPFlagACK, p.TCP.Flags)
	assert.Equal(t, uint16(14600), p.TCP.Window)
	assert.Nil(t, p.UDP)
	assert.Equal(t, payload, p.Payload)
}

func TestParsePacket_IPv6UDP(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv6}
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   32,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP("2001:db8::1"),
		DstIP:      net.ParseIP("2001:db8::53"),
	}
	udp := &layers.UDP{SrcPort: 51000, DstPort: 5004}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	frame := serialize(t, eth, ip, udp, gopacket.Payload(make([]byte, 160)))

	p, err := ParsePacket(frame, 1, time.Time{})
	require.NoError(t, err)

	assert.True(t, p.Timestamp.IsZero())
	require.NotNil(t, p.Network)
	assert.Equal(t, netip.MustParseAddr("2001:db8::53"), p.Network.DstIP)
	assert.Equal(t, model.ProtoUDP, p.Network.Protocol)
	assert.Equal(t, uint8(32), p.Network.TTL)
	require.NotNil(t, p.UDP)
	assert.Equal(t, uint16(5004), p.UDP.DstPort)
	assert.Equal(t, uint16(168), p.UDP.Length)
	assert.Len(t, p.Payload, 160)
}

func TestParsePacket_NonIPKeepsLinkLayer(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 0, 0, 2},
	}
	frame := serialize(t, eth, arp)

	p, err := ParsePacket(frame, 1, time.Time{})
	require.NoError(t, err)

	assert.Nil(t, p.Network)
	assert.Nil(t, p.TCP)
	assert.Nil(t, p.UDP)
	key := model.KeyFor(p)
	assert.True(t, key.IsLinkLayer())
}

func TestParsePacket_Truncated(t *testing.T) {
	_, err := ParsePacket([]byte{0x00, 0x11, 0x22}, 1, time.Time{})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
