package model

import "time"

// Decision is what the core hands back to the dataplane for one packet.
type Decision struct {
	Timestamp      time.Time
	Key            FlowKey
	InPort         uint32
	Mode           Mode
	Classification Classification
	Priority       int
}
