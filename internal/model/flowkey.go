package model

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// FlowKey identifies a flow independently of packet direction. IP traffic is
// keyed by its canonical 5-tuple; everything else by the unordered pair of
// link-layer addresses.
type FlowKey struct {
	AddrA    netip.Addr
	AddrB    netip.Addr
	PortA    uint16
	PortB    uint16
	Protocol uint8
	MACA     string
	MACB     string
}

// KeyFor derives the flow key of a packet.
func KeyFor(p *Packet) FlowKey {
	if ft, ok := p.FiveTuple(); ok {
		return KeyFromFiveTuple(ft)
	}
	a, b := p.SrcMAC.String(), p.DstMAC.String()
	if b < a {
		a, b = b, a
	}
	return FlowKey{MACA: a, MACB: b}
}

// KeyFromFiveTuple orders the two endpoints so that both directions of a
// conversation produce the same key.
func KeyFromFiveTuple(ft FiveTuple) FlowKey {
	a := netip.AddrPortFrom(ft.SrcIP, ft.SrcPort)
	b := netip.AddrPortFrom(ft.DstIP, ft.DstPort)
	if b.Compare(a) < 0 {
		a, b = b, a
	}
	return FlowKey{
		AddrA:    a.Addr(),
		AddrB:    b.Addr(),
		PortA:    a.Port(),
		PortB:    b.Port(),
		Protocol: ft.Protocol,
	}
}

// IsLinkLayer reports whether the key fell back to the link-layer pair.
func (k FlowKey) IsLinkLayer() bool {
	return !k.AddrA.IsValid()
}

// String renders the key, e.g. "6/10.0.0.1:40000<->10.0.0.2:80".
func (k FlowKey) String() string {
	if k.IsLinkLayer() {
		return fmt.Sprintf("eth/%s<->%s", k.MACA, k.MACB)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d/", k.Protocol)
	sb.WriteString(netip.AddrPortFrom(k.AddrA, k.PortA).String())
	sb.WriteString("<->")
	sb.WriteString(netip.AddrPortFrom(k.AddrB, k.PortB).String())
	return sb.String()
}

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// Hash32 returns an FNV-1a hash of the key, stable across both directions.
// It runs on every packet, so it hashes the key fields in place instead of
// the rendered string.
func (k FlowKey) Hash32() uint32 {
	h := uint32(fnvOffset32)
	if k.IsLinkLayer() {
		for i := 0; i < len(k.MACA); i++ {
			h = (h ^ uint32(k.MACA[i])) * fnvPrime32
		}
		h = (h ^ '|') * fnvPrime32
		for i := 0; i < len(k.MACB); i++ {
			h = (h ^ uint32(k.MACB[i])) * fnvPrime32
		}
		return h
	}

	var buf [37]byte
	a, b := k.AddrA.As16(), k.AddrB.As16()
	copy(buf[0:16], a[:])
	copy(buf[16:32], b[:])
	buf[32] = byte(k.PortA >> 8)
	buf[33] = byte(k.PortA)
	buf[34] = byte(k.PortB >> 8)
	buf[35] = byte(k.PortB)
	buf[36] = k.Protocol
	for _, c := range buf {
		h = (h ^ uint32(c)) * fnvPrime32
	}
	return h
}

// ParseFlowKey parses the form produced by FlowKey.String.
func ParseFlowKey(s string) (FlowKey, error) {
	proto, pair, ok := strings.Cut(s, "/")
	if !ok {
		return FlowKey{}, fmt.Errorf("invalid flow key %q: missing protocol", s)
	}
	a, b, ok := strings.Cut(pair, "<->")
	if !ok {
		return FlowKey{}, fmt.Errorf("invalid flow key %q: missing endpoint separator", s)
	}
	if proto == "eth" {
		return FlowKey{MACA: a, MACB: b}, nil
	}

	n, err := strconv.ParseUint(proto, 10, 8)
	if err != nil {
		return FlowKey{}, fmt.Errorf("invalid flow key %q: %w", s, err)
	}
	apA, err := netip.ParseAddrPort(a)
	if err != nil {
		return FlowKey{}, fmt.Errorf("invalid flow key %q: %w", s, err)
	}
	apB, err := netip.ParseAddrPort(b)
	if err != nil {
		return FlowKey{}, fmt.Errorf("invalid flow key %q: %w", s, err)
	}
	return KeyFromFiveTuple(FiveTuple{
		SrcIP:    apA.Addr(),
		DstIP:    apB.Addr(),
		SrcPort:  apA.Port(),
		DstPort:  apB.Port(),
		Protocol: uint8(n),
	}), nil
}
