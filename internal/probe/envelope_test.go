package probe

import (
	"net/netip"
	"testing"
	"time"

	"Go2NetQoS/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestPacketInEnvelope(t *testing.T) {
	in := PacketIn{
		InPort:    12,
		Timestamp: time.Date(2025, 4, 2, 10, 0, 0, 123456000, time.UTC),
		Frame:     []byte{0xde, 0xad, 0xbe, 0xef},
	}

	data, err := MarshalPacketIn(in)
	require.NoError(t, err)
	got, err := UnmarshalPacketIn(data)
	require.NoError(t, err)

	assert.Equal(t, in.InPort, got.InPort)
	assert.True(t, in.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, in.Frame, got.Frame)
}

func TestUnmarshalPacketIn_SkipsUnknownFields(t *testing.T) {
	data, err := MarshalPacketIn(PacketIn{InPort: 3, Frame: []byte{1, 2, 3}})
	require.NoError(t, err)
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendString(data, "added by a newer probe")

	got, err := UnmarshalPacketIn(data)
	require.NoError(t, err)

	assert.Equal(t, uint32(3), got.InPort)
	assert.True(t, got.Timestamp.IsZero())
}

func TestUnmarshalPacketIn_Truncated(t *testing.T) {
	data, err := MarshalPacketIn(PacketIn{InPort: 3, Frame: make([]byte, 64)})
	require.NoError(t, err)

	_, err = UnmarshalPacketIn(data[:len(data)-10])
	assert.ErrorIs(t, err, ErrEnvelope)
}

func TestDecisionEnvelope(t *testing.T) {
	p := &model.Packet{Network: &model.NetworkHeader{
		SrcIP:    netip.MustParseAddr("10.0.0.2"),
		DstIP:    netip.MustParseAddr("10.0.0.1"),
		Protocol: model.ProtoUDP,
	}, UDP: &model.UDPHeader{SrcPort: 53, DstPort: 51000}}
	d := &model.Decision{
		Timestamp:      time.Date(2025, 4, 2, 10, 0, 1, 0, time.UTC),
		Key:            model.KeyFor(p),
		InPort:         2,
		Mode:           model.ModeRule,
		Classification: model.Classification{Class: model.ClassDNS, Confidence: 0.9, Method: model.MethodPort},
		Priority:       3450,
	}

	data, err := MarshalDecision(NewDecisionEvent(d))
	require.NoError(t, err)
	got, err := UnmarshalDecision(data)
	require.NoError(t, err)

	assert.Equal(t, "17/10.0.0.1:51000<->10.0.0.2:53", got.FlowKey)
	assert.Equal(t, "DNS", got.Class)
	assert.Equal(t, "Port", got.Method)
	assert.Equal(t, "rule", got.Mode)
	assert.Equal(t, 0.9, got.Confidence)
	assert.Equal(t, int32(3450), got.Priority)
	assert.Equal(t, uint32(2), got.InPort)
	assert.True(t, d.Timestamp.Equal(got.Timestamp))
}
