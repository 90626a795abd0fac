package tracker

import (
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"Go2NetQoS/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func tcpPacket(ts time.Time, length int, srcPort uint16, flags uint8) *model.Packet {
	return &model.Packet{
		Timestamp: ts,
		InPort:    2,
		Length:    length,
		Network: &model.NetworkHeader{
			SrcIP:       netip.MustParseAddr("10.0.0.1"),
			DstIP:       netip.MustParseAddr("10.0.0.2"),
			Protocol:    model.ProtoTCP,
			TTL:         64,
			TotalLength: uint16(length - 14),
		},
		TCP: &model.TCPHeader{SrcPort: srcPort, DstPort: 443, Flags: flags, Window: 14600},
	}
}

func TestObserve_FirstPacketInterArrivalIsZero(t *testing.T) {
	tr := New(Options{})
	p := tcpPacket(t0, 100, 40000, model.TCPFlagSYN)

	fv := tr.Observe(model.KeyFor(p), p)

	assert.Equal(t, 0.0, fv.Get(model.FeatureInterArrivalTime))
	assert.Equal(t, 1.0, fv.Get(model.FeatureFlowPacketCount))
	assert.Equal(t, 100.0, fv.Get(model.FeatureFlowByteCount))
	assert.Equal(t, 0.0, fv.Get(model.FeatureFlowDuration))
	assert.Equal(t, 0.0, fv.Get(model.FeaturePacketRate))
	assert.Equal(t, 0.0, fv.Get(model.FeatureByteRate))
	// A single sample has no meaningful mean or spread.
	assert.Equal(t, 0.0, fv.Get(model.FeatureAvgPacketSize))
	assert.Equal(t, 0.0, fv.Get(model.FeatureStdPacketSize))
}

func TestObserve_PacketAttributes(t *testing.T) {
	tr := New(Options{})
	p := tcpPacket(t0, 100, 40000, model.TCPFlagSYN|model.TCPFlagACK)

	fv := tr.Observe(model.KeyFor(p), p)

	assert.Equal(t, 100.0, fv.Get(model.FeaturePacketLength))
	assert.Equal(t, 2.0, fv.Get(model.FeatureInPort))
	assert.Equal(t, 6.0, fv.Get(model.FeatureIPProto))
	assert.Equal(t, 64.0, fv.Get(model.FeatureIPTTL))
	assert.Equal(t, 40000.0, fv.Get(model.FeatureSrcPort))
	assert.Equal(t, 443.0, fv.Get(model.FeatureDstPort))
	assert.Equal(t, 14600.0, fv.Get(model.FeatureTCPWindow))
	assert.Equal(t, 18.0, fv.Get(model.FeatureTCPFlags))
	assert.Equal(t, 1.0, fv.Get(model.FeatureTCPSyn))
	assert.Equal(t, 1.0, fv.Get(model.FeatureTCPAck))
	assert.Equal(t, 0.0, fv.Get(model.FeatureTCPFin))
	assert.Equal(t, 0.0, fv.Get(model.FeatureUDPLen))
}

func TestObserve_NoTransportHeaderDefaultsToZero(t *testing.T) {
	tr := New(Options{})
	p := &model.Packet{
		Timestamp: t0,
		Length:    60,
		Network: &model.NetworkHeader{
			SrcIP:    netip.MustParseAddr("10.0.0.1"),
			DstIP:    netip.MustParseAddr("10.0.0.2"),
			Protocol: model.ProtoICMP,
		},
	}

	fv := tr.Observe(model.KeyFor(p), p)

	names := model.FeatureNames()
	require.Len(t, names, int(model.NumFeatures))
	for _, name := range names {
		_, ok := fv.Lookup(name)
		assert.True(t, ok, name)
	}
	assert.Equal(t, 0.0, fv.Get(model.FeatureSrcPort))
	assert.Equal(t, 0.0, fv.Get(model.FeatureDstPort))
	assert.Equal(t, 0.0, fv.Get(model.FeatureTCPFlags))
	assert.Equal(t, 1.0, fv.Get(model.FeatureIPProto))
}

func TestObserve_DerivedStatistics(t *testing.T) {
	tr := New(Options{})
	var fv model.FeatureVector
	for i := 0; i < 4; i++ {
		p := tcpPacket(t0.Add(time.Duration(i)*500*time.Millisecond), 1000+100*i, 40000, model.TCPFlagACK)
		fv = tr.Observe(model.KeyFor(p), p)
	}

	assert.InDelta(t, 0.5, fv.Get(model.FeatureInterArrivalTime), 1e-9)
	assert.InDelta(t, 1.5, fv.Get(model.FeatureFlowDuration), 1e-9)
	assert.InDelta(t, 1150.0, fv.Get(model.FeatureAvgPacketSize), 1e-9)
	assert.InDelta(t, 111.803398875, fv.Get(model.FeatureStdPacketSize), 1e-6)
	assert.InDelta(t, 4/1.5, fv.Get(model.FeaturePacketRate), 1e-9)
	assert.InDelta(t, 4600/1.5, fv.Get(model.FeatureByteRate), 1e-9)
	// Samples are 0, 0.5, 0.5, 0.5.
	assert.InDelta(t, 0.375, fv.Get(model.FeatureAvgInterArrival), 1e-9)
}

func TestObserve_OutOfOrderTimestampNeverNegative(t *testing.T) {
	tr := New(Options{})
	p1 := tcpPacket(t0.Add(time.Second), 100, 40000, 0)
	p2 := tcpPacket(t0, 100, 40000, 0)

	tr.Observe(model.KeyFor(p1), p1)
	fv := tr.Observe(model.KeyFor(p2), p2)

	assert.Equal(t, 0.0, fv.Get(model.FeatureInterArrivalTime))
	assert.GreaterOrEqual(t, fv.Get(model.FeatureFlowDuration), 0.0)
}

func TestObserve_CountersMonotonic(t *testing.T) {
	tr := New(Options{})
	var lastPackets, lastBytes float64
	for i := 0; i < 50; i++ {
		p := tcpPacket(t0.Add(time.Duration(i)*time.Millisecond), 60+i, 40000, 0)
		fv := tr.Observe(model.KeyFor(p), p)
		assert.GreaterOrEqual(t, fv.Get(model.FeatureFlowPacketCount), lastPackets)
		assert.GreaterOrEqual(t, fv.Get(model.FeatureFlowByteCount), lastBytes)
		lastPackets = fv.Get(model.FeatureFlowPacketCount)
		lastBytes = fv.Get(model.FeatureFlowByteCount)
	}
	assert.Equal(t, 50.0, lastPackets)
}

func TestObserve_ConcurrentSameKeyLosesNoUpdates(t *testing.T) {
	tr := New(Options{NumShards: 8})
	p := tcpPacket(time.Time{}, 100, 40000, 0)
	key := model.KeyFor(p)

	const goroutines, perGoroutine = 16, 200
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				tr.Observe(key, p)
			}
		}()
	}
	wg.Wait()

	snap, ok := tr.Get(key)
	require.True(t, ok)
	assert.Equal(t, uint64(goroutines*perGoroutine), snap.PacketCount)
	assert.Equal(t, uint64(goroutines*perGoroutine*100), snap.ByteCount)
}

func TestTracker_LRUBoundsMemory(t *testing.T) {
	tr := New(Options{NumShards: 1, MaxFlows: 10})
	for i := 0; i < 25; i++ {
		p := tcpPacket(t0, 100, uint16(30000+i), 0)
		tr.Observe(model.KeyFor(p), p)
	}

	assert.Equal(t, 10, tr.Len())
	lru, ttl := tr.Evictions()
	assert.Equal(t, uint64(15), lru)
	assert.Equal(t, uint64(0), ttl)

	// The oldest flows were the ones dropped.
	_, ok := tr.Get(model.KeyFor(tcpPacket(t0, 100, 30000, 0)))
	assert.False(t, ok)
	_, ok = tr.Get(model.KeyFor(tcpPacket(t0, 100, 30024, 0)))
	assert.True(t, ok)
}

func TestTracker_MaxFlowsBoundsWholeTable(t *testing.T) {
	// Default shard count, far more shards than flows allowed.
	tr := New(Options{MaxFlows: 10})
	for i := 0; i < 2000; i++ {
		p := tcpPacket(t0.Add(time.Duration(i)*time.Millisecond), 100, uint16(20000+i), 0)
		tr.Observe(model.KeyFor(p), p)
		require.LessOrEqual(t, tr.Len(), 10)
	}

	assert.Equal(t, 10, tr.Len())
	lru, _ := tr.Evictions()
	assert.Equal(t, uint64(1990), lru)
	// The newest flow always survives its own insertion.
	_, ok := tr.Get(model.KeyFor(tcpPacket(t0, 100, 21999, 0)))
	assert.True(t, ok)
}

func TestTracker_MaxFlowsFillsBeforeEvicting(t *testing.T) {
	tr := New(Options{NumShards: 64, MaxFlows: 100})
	for i := 0; i < 100; i++ {
		p := tcpPacket(t0, 100, uint16(20000+i), 0)
		tr.Observe(model.KeyFor(p), p)
	}

	assert.Equal(t, 100, tr.Len())
	lru, _ := tr.Evictions()
	assert.Equal(t, uint64(0), lru)
}

func TestTracker_MaxFlowsHoldsUnderConcurrency(t *testing.T) {
	tr := New(Options{NumShards: 16, MaxFlows: 50})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				p := tcpPacket(t0, 100, uint16(g*1000+i+1), 0)
				tr.Observe(model.KeyFor(p), p)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 50, tr.Len())
	lru, _ := tr.Evictions()
	assert.Equal(t, uint64(8*500-50), lru)

	tr.Reset()
	p := tcpPacket(t0, 100, 1, 0)
	tr.Observe(model.KeyFor(p), p)
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_SweepRemovesIdleFlows(t *testing.T) {
	tr := New(Options{NumShards: 4, IdleTimeout: time.Minute})
	for i := 0; i < 5; i++ {
		p := tcpPacket(t0, 100, uint16(30000+i), 0)
		tr.Observe(model.KeyFor(p), p)
	}
	fresh := tcpPacket(t0.Add(90*time.Second), 100, 31000, 0)
	tr.Observe(model.KeyFor(fresh), fresh)

	removed := tr.Sweep(t0.Add(2 * time.Minute))

	assert.Equal(t, 5, removed)
	assert.Equal(t, 1, tr.Len())
	_, ttl := tr.Evictions()
	assert.Equal(t, uint64(5), ttl)
}

func TestTracker_SweepDisabledWithoutTimeout(t *testing.T) {
	tr := New(Options{})
	p := tcpPacket(t0, 100, 40000, 0)
	tr.Observe(model.KeyFor(p), p)

	assert.Equal(t, 0, tr.Sweep(t0.Add(24*time.Hour)))
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_SnapshotAndReset(t *testing.T) {
	tr := New(Options{NumShards: 16})
	for i := 0; i < 3; i++ {
		p := tcpPacket(t0.Add(time.Duration(i)*time.Second), 100, uint16(30000+i), 0)
		tr.Observe(model.KeyFor(p), p)
	}

	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, fmt.Sprintf("6/10.0.0.1:%d<->10.0.0.2:443", 30002), snap[0].Key)

	tr.Reset()
	assert.Equal(t, 0, tr.Len())
}

func TestWindow_RingOverwritesOldest(t *testing.T) {
	w := NewWindow(3)
	mean, std := w.MeanStd()
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 0.0, std)

	for _, v := range []float64{100, 1, 2, 3} {
		w.Push(v)
	}
	assert.Equal(t, 3, w.Len())
	mean, _ = w.MeanStd()
	assert.InDelta(t, 2.0, mean, 1e-9)
}
