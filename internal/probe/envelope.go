package probe

import (
	"errors"
	"fmt"
	"math"
	"time"

	"Go2NetQoS/internal/model"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// The envelopes below are plain protobuf messages, hand-encoded with
// protowire so that no generated code is needed:
//
//	message PacketIn {
//	  uint32 in_port = 1;
//	  google.protobuf.Timestamp timestamp = 2;
//	  bytes frame = 3;
//	}
//
//	message Decision {
//	  string flow_key = 1;
//	  uint32 in_port = 2;
//	  string mode = 3;
//	  string class = 4;
//	  string method = 5;
//	  double confidence = 6;
//	  int32 priority = 7;
//	  google.protobuf.Timestamp timestamp = 8;
//	}

// ErrEnvelope is returned for messages that are not valid envelopes.
var ErrEnvelope = errors.New("malformed envelope")

// PacketIn is a raw frame as reported by the dataplane.
type PacketIn struct {
	InPort    uint32
	Timestamp time.Time
	Frame     []byte
}

// DecisionEvent is the wire form of a model.Decision.
type DecisionEvent struct {
	FlowKey    string
	InPort     uint32
	Mode       string
	Class      string
	Method     string
	Confidence float64
	Priority   int32
	Timestamp  time.Time
}

// NewDecisionEvent flattens a decision for publishing.
func NewDecisionEvent(d *model.Decision) DecisionEvent {
	return DecisionEvent{
		FlowKey:    d.Key.String(),
		InPort:     d.InPort,
		Mode:       string(d.Mode),
		Class:      string(d.Classification.Class),
		Method:     string(d.Classification.Method),
		Confidence: d.Classification.Confidence,
		Priority:   int32(d.Priority),
		Timestamp:  d.Timestamp,
	}
}

// MarshalPacketIn encodes a packet-in envelope.
func MarshalPacketIn(p PacketIn) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.InPort))
	b, err := appendTimestamp(b, 2, p.Timestamp)
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Frame)
	return b, nil
}

// UnmarshalPacketIn decodes a packet-in envelope. Unknown fields are skipped.
func UnmarshalPacketIn(data []byte) (PacketIn, error) {
	var p PacketIn
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			p.InPort = uint32(v)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			ts, n, err := consumeTimestamp(b)
			p.Timestamp = ts
			return n, err
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			p.Frame = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return p, err
}

// MarshalDecision encodes a decision envelope.
func MarshalDecision(d DecisionEvent) ([]byte, error) {
	var b []byte
	b = appendString(b, 1, d.FlowKey)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.InPort))
	b = appendString(b, 3, d.Mode)
	b = appendString(b, 4, d.Class)
	b = appendString(b, 5, d.Method)
	b = protowire.AppendTag(b, 6, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(d.Confidence))
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(d.Priority)))
	return appendTimestamp(b, 8, d.Timestamp)
}

// UnmarshalDecision decodes a decision envelope.
func UnmarshalDecision(data []byte) (DecisionEvent, error) {
	var d DecisionEvent
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case typ == protowire.BytesType && num >= 1 && num <= 5 && num != 2:
			v, n := protowire.ConsumeString(b)
			switch num {
			case 1:
				d.FlowKey = v
			case 3:
				d.Mode = v
			case 4:
				d.Class = v
			case 5:
				d.Method = v
			}
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			d.InPort = uint32(v)
			return n, nil
		case num == 6 && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			d.Confidence = math.Float64frombits(v)
			return n, nil
		case num == 7 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			d.Priority = int32(v)
			return n, nil
		case num == 8 && typ == protowire.BytesType:
			ts, n, err := consumeTimestamp(b)
			d.Timestamp = ts
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return d, err
}

// walk iterates over the fields of a message. field returns how many bytes
// of the value it consumed, or a negative protowire error code.
func walk(data []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrEnvelope, protowire.ParseError(n))
		}
		data = data[n:]
		m, err := field(num, typ, data)
		if err != nil {
			return fmt.Errorf("%w: field %d: %w", ErrEnvelope, num, err)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrEnvelope, num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendTimestamp(b []byte, num protowire.Number, ts time.Time) ([]byte, error) {
	if ts.IsZero() {
		return b, nil
	}
	raw, err := proto.Marshal(timestamppb.New(ts))
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, raw), nil
}

func consumeTimestamp(b []byte) (time.Time, int, error) {
	raw, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return time.Time{}, n, nil
	}
	var ts timestamppb.Timestamp
	if err := proto.Unmarshal(raw, &ts); err != nil {
		return time.Time{}, n, err
	}
	if err := ts.CheckValid(); err != nil {
		return time.Time{}, n, err
	}
	return ts.AsTime(), n, nil
}
