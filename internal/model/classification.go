package model

// TrafficClass is a semantic traffic category. The set is closed at any given
// build but new classes can be added without touching the classifiers'
// interfaces.
type TrafficClass string

const (
	ClassDNS            TrafficClass = "DNS"
	ClassBrowsing       TrafficClass = "Browsing"
	ClassSSH            TrafficClass = "SSH"
	ClassEmail          TrafficClass = "Email"
	ClassFileTransfer   TrafficClass = "File-Transfer"
	ClassVOIP           TrafficClass = "VOIP"
	ClassVideoStreaming TrafficClass = "Video-Streaming"
	ClassAudioStreaming TrafficClass = "Audio-Streaming"
	ClassChat           TrafficClass = "Chat"
	ClassGaming         TrafficClass = "Gaming"
	ClassP2P            TrafficClass = "P2P"
	ClassBulk           TrafficClass = "Bulk"
	ClassICMP           TrafficClass = "ICMP"
	ClassTCPGeneric     TrafficClass = "TCP-Generic"
	ClassUDPGeneric     TrafficClass = "UDP-Generic"
	ClassUnknown        TrafficClass = "Unknown"
)

// Method tags the stage or strategy that produced a classification.
type Method string

const (
	MethodDPI              Method = "DPI"
	MethodPort             Method = "Port"
	MethodStatistical      Method = "Statistical"
	MethodProtocolFallback Method = "Protocol-fallback"
	MethodModel            Method = "Model"
	MethodModelFallback    Method = "Model-fallback"
)

// Classification is the immutable result of classifying one packet.
type Classification struct {
	Class      TrafficClass `json:"class"`
	Confidence float64      `json:"confidence"`
	Method     Method       `json:"method"`
}

// Mode selects the classification strategy.
type Mode string

const (
	ModeRule  Mode = "rule"
	ModeModel Mode = "model"
)

// Classifier is implemented by every classification strategy. payload is the
// raw packet payload; strategies that do not inspect payloads ignore it.
type Classifier interface {
	Classify(fv FeatureVector, payload []byte) Classification
	Mode() Mode
}
