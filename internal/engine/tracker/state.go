package tracker

import (
	"time"
)

// FlowState holds the running aggregates of one flow. It is owned by the
// tracker and only touched under its shard lock.
type FlowState struct {
	PacketCount   uint64
	ByteCount     uint64
	StartTime     time.Time
	LastSeen      time.Time
	InterArrivals *Window
	PacketSizes   *Window
}

func newFlowState(now time.Time, windowSize int) *FlowState {
	return &FlowState{
		StartTime:     now,
		LastSeen:      now,
		InterArrivals: NewWindow(windowSize),
		PacketSizes:   NewWindow(windowSize),
	}
}

// Stats are the values derived from a FlowState at a given instant.
type Stats struct {
	Duration        float64 `json:"duration"`
	AvgInterArrival float64 `json:"avg_inter_arrival"`
	StdInterArrival float64 `json:"std_inter_arrival"`
	AvgPacketSize   float64 `json:"avg_packet_size"`
	StdPacketSize   float64 `json:"std_packet_size"`
	PacketRate      float64 `json:"packet_rate"`
	ByteRate        float64 `json:"byte_rate"`
}

// Derive computes the read-time statistics of the flow as of now.
func (s *FlowState) Derive(now time.Time) Stats {
	var st Stats
	st.Duration = now.Sub(s.StartTime).Seconds()
	if st.Duration > 0 {
		st.PacketRate = float64(s.PacketCount) / st.Duration
		st.ByteRate = float64(s.ByteCount) / st.Duration
	} else {
		st.Duration = 0
	}
	st.AvgInterArrival, st.StdInterArrival = s.InterArrivals.MeanStd()
	st.AvgPacketSize, st.StdPacketSize = s.PacketSizes.MeanStd()
	return st
}

// FlowSnapshot is a point-in-time copy of one flow, safe to hand out and to
// serialize.
type FlowSnapshot struct {
	Key         string    `json:"key"`
	PacketCount uint64    `json:"packet_count"`
	ByteCount   uint64    `json:"byte_count"`
	StartTime   time.Time `json:"start_time"`
	LastSeen    time.Time `json:"last_seen"`
	Stats       Stats     `json:"stats"`
}
