package model

// Feature indexes into a FeatureVector. The order is part of the schema and
// must not change once models have been trained against it.
type Feature int

const (
	FeaturePacketLength Feature = iota
	FeatureInPort
	FeatureIPProto
	FeatureIPTTL
	FeatureIPLen
	FeatureIPFlags
	FeatureSrcPort
	FeatureDstPort
	FeatureTCPWindow
	FeatureTCPFlags
	FeatureTCPFin
	FeatureTCPSyn
	FeatureTCPRst
	FeatureTCPPsh
	FeatureTCPAck
	FeatureTCPUrg
	FeatureUDPLen
	FeatureInterArrivalTime
	FeatureFlowDuration
	FeatureFlowPacketCount
	FeatureFlowByteCount
	FeatureAvgInterArrival
	FeatureStdInterArrival
	FeatureAvgPacketSize
	FeatureStdPacketSize
	FeaturePacketRate
	FeatureByteRate

	NumFeatures
)

var featureNames = [NumFeatures]string{
	FeaturePacketLength:     "packet_length",
	FeatureInPort:           "in_port",
	FeatureIPProto:          "ip_proto",
	FeatureIPTTL:            "ip_ttl",
	FeatureIPLen:            "ip_len",
	FeatureIPFlags:          "ip_flags",
	FeatureSrcPort:          "src_port",
	FeatureDstPort:          "dst_port",
	FeatureTCPWindow:        "tcp_window",
	FeatureTCPFlags:         "tcp_flags",
	FeatureTCPFin:           "tcp_fin",
	FeatureTCPSyn:           "tcp_syn",
	FeatureTCPRst:           "tcp_rst",
	FeatureTCPPsh:           "tcp_psh",
	FeatureTCPAck:           "tcp_ack",
	FeatureTCPUrg:           "tcp_urg",
	FeatureUDPLen:           "udp_len",
	FeatureInterArrivalTime: "inter_arrival_time",
	FeatureFlowDuration:     "flow_duration",
	FeatureFlowPacketCount:  "flow_packet_count",
	FeatureFlowByteCount:    "flow_byte_count",
	FeatureAvgInterArrival:  "avg_inter_arrival",
	FeatureStdInterArrival:  "std_inter_arrival",
	FeatureAvgPacketSize:    "avg_packet_size",
	FeatureStdPacketSize:    "std_packet_size",
	FeaturePacketRate:       "packet_rate",
	FeatureByteRate:         "byte_rate",
}

var featureIndex = func() map[string]Feature {
	m := make(map[string]Feature, NumFeatures)
	for i, name := range featureNames {
		m[name] = Feature(i)
	}
	return m
}()

// String returns the schema name of the feature.
func (f Feature) String() string {
	if f < 0 || f >= NumFeatures {
		return "unknown"
	}
	return featureNames[f]
}

// FeatureNames returns the schema in index order.
func FeatureNames() []string {
	names := make([]string, NumFeatures)
	copy(names, featureNames[:])
	return names
}

// LookupFeature resolves a schema name.
func LookupFeature(name string) (Feature, bool) {
	f, ok := featureIndex[name]
	return f, ok
}

// FeatureVector is a complete, fixed-schema set of numeric features. It is a
// value type: every copy is independent, so a vector handed to a classifier
// can never be changed behind its back.
type FeatureVector [NumFeatures]float64

// Get returns the value of a feature.
func (v FeatureVector) Get(f Feature) float64 {
	return v[f]
}

// Lookup returns the value of a feature by schema name. Unknown names yield 0
// and false.
func (v FeatureVector) Lookup(name string) (float64, bool) {
	f, ok := featureIndex[name]
	if !ok {
		return 0, false
	}
	return v[f], true
}

// Map renders the vector as name -> value, mostly for logging and the API.
func (v FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, NumFeatures)
	for i, name := range featureNames {
		m[name] = v[i]
	}
	return m
}
