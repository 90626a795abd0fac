package rule

import (
	"bytes"

	"Go2NetQoS/internal/model"
)

// signature is a literal byte pattern that identifies an unencrypted protocol.
type signature struct {
	pattern    []byte
	class      model.TrafficClass
	confidence float64
}

// Signatures are tried in order; the first pattern found in the payload wins.
var signatures = []signature{
	{[]byte("GET "), model.ClassBrowsing, 0.9},
	{[]byte("POST "), model.ClassBrowsing, 0.9},
	{[]byte("HTTP/"), model.ClassBrowsing, 0.9},
	{[]byte("Host:"), model.ClassBrowsing, 0.9},
	{[]byte("User-Agent:"), model.ClassBrowsing, 0.9},
	{[]byte("Content-Type:"), model.ClassBrowsing, 0.9},
	{[]byte("SSH-"), model.ClassSSH, 0.8},
	{[]byte("EHLO "), model.ClassEmail, 0.75},
	{[]byte("HELO "), model.ClassEmail, 0.75},
	{[]byte("MAIL FROM:"), model.ClassEmail, 0.75},
	{[]byte("USER "), model.ClassFileTransfer, 0.75},
	{[]byte("RETR "), model.ClassFileTransfer, 0.75},
	{[]byte("STOR "), model.ClassFileTransfer, 0.75},
}

// SignatureStage scans the payload for known protocol markers. Encrypted
// payloads practically never match.
func SignatureStage(payload []byte) model.Classification {
	if len(payload) > 0 {
		for _, sig := range signatures {
			if bytes.Contains(payload, sig.pattern) {
				return model.Classification{Class: sig.class, Confidence: sig.confidence, Method: model.MethodDPI}
			}
		}
	}
	return noMatch(model.MethodDPI)
}

// portRule matches when either transport port falls in [lo, hi].
type portRule struct {
	lo, hi     uint16
	class      model.TrafficClass
	confidence float64
}

func port(p uint16, class model.TrafficClass, confidence float64) portRule {
	return portRule{p, p, class, confidence}
}

// portTable is evaluated top to bottom; more specific services come before
// the wide dynamic ranges.
var portTable = []portRule{
	port(53, model.ClassDNS, 0.9),
	port(80, model.ClassBrowsing, 0.8),
	port(443, model.ClassBrowsing, 0.8),
	port(8080, model.ClassBrowsing, 0.8),
	port(8443, model.ClassBrowsing, 0.8),
	port(22, model.ClassSSH, 0.7),
	port(25, model.ClassEmail, 0.6),
	port(110, model.ClassEmail, 0.6),
	port(143, model.ClassEmail, 0.6),
	port(465, model.ClassEmail, 0.6),
	port(587, model.ClassEmail, 0.6),
	port(993, model.ClassEmail, 0.6),
	port(995, model.ClassEmail, 0.6),
	port(20, model.ClassFileTransfer, 0.6),
	port(21, model.ClassFileTransfer, 0.6),
	{27015, 27030, model.ClassGaming, 0.8},
	{16384, 32768, model.ClassVOIP, 0.6},
}

func (r portRule) matches(p uint16) bool {
	return p >= r.lo && p <= r.hi
}

// PortStage looks the (source, destination) port pair up in the static port table.
func PortStage(fv model.FeatureVector) model.Classification {
	src := uint16(fv.Get(model.FeatureSrcPort))
	dst := uint16(fv.Get(model.FeatureDstPort))
	if src == 0 && dst == 0 {
		return noMatch(model.MethodPort)
	}
	for _, r := range portTable {
		if r.matches(dst) || r.matches(src) {
			return model.Classification{Class: r.class, Confidence: r.confidence, Method: model.MethodPort}
		}
	}
	return noMatch(model.MethodPort)
}

// Statistical thresholds on derived flow features.
const (
	bulkMinAvgSize    = 1200
	bulkMinByteRate   = 500000
	streamMinAvgSize  = 1000
	streamMinByteRate = 100000
	smallPacketMax    = 64
)

// StatisticalStage classifies from flow statistics and header shapes.
func StatisticalStage(fv model.FeatureVector) model.Classification {
	avgSize := fv.Get(model.FeatureAvgPacketSize)
	byteRate := fv.Get(model.FeatureByteRate)
	proto := uint8(fv.Get(model.FeatureIPProto))
	hit := func(class model.TrafficClass, confidence float64) model.Classification {
		return model.Classification{Class: class, Confidence: confidence, Method: model.MethodStatistical}
	}

	switch {
	case avgSize > bulkMinAvgSize && byteRate > bulkMinByteRate:
		return hit(model.ClassFileTransfer, 0.6)
	case avgSize > streamMinAvgSize && byteRate > streamMinByteRate:
		return hit(model.ClassVideoStreaming, 0.6)
	case proto == model.ProtoICMP || proto == model.ProtoICMPv6:
		return hit(model.ClassICMP, 0.8)
	case fv.Get(model.FeaturePacketLength) > 0 && fv.Get(model.FeaturePacketLength) <= smallPacketMax:
		return hit(model.ClassChat, 0.5)
	case proto == model.ProtoTCP && uint8(fv.Get(model.FeatureTCPFlags)) == model.TCPFlagACK:
		return hit(model.ClassChat, 0.5)
	}
	return noMatch(model.MethodStatistical)
}

// ProtocolFallback classifies from the transport protocol alone. It always
// produces a result.
func ProtocolFallback(fv model.FeatureVector) model.Classification {
	fallback := func(class model.TrafficClass, confidence float64) model.Classification {
		return model.Classification{Class: class, Confidence: confidence, Method: model.MethodProtocolFallback}
	}
	switch uint8(fv.Get(model.FeatureIPProto)) {
	case model.ProtoTCP:
		return fallback(model.ClassTCPGeneric, 0.3)
	case model.ProtoUDP:
		return fallback(model.ClassUDPGeneric, 0.2)
	case model.ProtoICMP, model.ProtoICMPv6:
		return fallback(model.ClassICMP, 0.3)
	}
	return fallback(model.ClassUnknown, 0.1)
}

func noMatch(method model.Method) model.Classification {
	return model.Classification{Class: model.ClassUnknown, Confidence: 0, Method: method}
}
