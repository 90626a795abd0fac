package tracker

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"Go2NetQoS/internal/model"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	defaultShardCount = 256
	defaultWindowSize = 1024
	defaultMaxFlows   = 1 << 18
)

// Options configures a Tracker.
type Options struct {
	WindowSize  int
	NumShards   uint32
	MaxFlows    int
	IdleTimeout time.Duration
	// Now is used for packets that carry no timestamp. Defaults to time.Now.
	Now func() time.Time
}

// shard is a part of the flow table with its own LRU and mutex. Holding the
// mutex serializes all updates to the flows it contains. The LRU only
// orders flows by recency; the table-wide bound is enforced by Tracker.
type shard struct {
	mu    sync.Mutex
	flows *simplelru.LRU[model.FlowKey, *FlowState]
}

// Tracker maintains per-flow running aggregates and turns each observed
// packet into a FeatureVector. Flows live in a sharded table so that
// packets of different flows are processed in parallel, while packets of the
// same flow are serialized by their shard lock. At most MaxFlows flows are
// held across all shards.
type Tracker struct {
	shards      []*shard
	shardCount  uint32
	windowSize  int
	maxFlows    int64
	idleTimeout time.Duration
	now         func() time.Time

	// flows counts held flows plus slots reserved by inserts in progress.
	flows      atomic.Int64
	nextVictim atomic.Uint32

	lruEvictions atomic.Uint64
	ttlEvictions atomic.Uint64
}

// New creates a tracker. Zero-valued options fall back to defaults.
func New(opts Options) *Tracker {
	if opts.NumShards == 0 || opts.NumShards >= 32768 {
		opts.NumShards = defaultShardCount
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = defaultWindowSize
	}
	if opts.MaxFlows <= 0 {
		opts.MaxFlows = defaultMaxFlows
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	t := &Tracker{
		shards:      make([]*shard, opts.NumShards),
		shardCount:  opts.NumShards,
		windowSize:  opts.WindowSize,
		maxFlows:    int64(opts.MaxFlows),
		idleTimeout: opts.IdleTimeout,
		now:         opts.Now,
	}
	for i := range t.shards {
		// Sized so that a shard never evicts on its own. NewLRU only fails
		// for a non-positive size.
		lru, _ := simplelru.NewLRU[model.FlowKey, *FlowState](opts.MaxFlows, nil)
		t.shards[i] = &shard{flows: lru}
	}
	return t
}

// getShard returns the appropriate shard for a given key.
func (t *Tracker) getShard(key model.FlowKey) *shard {
	return t.shards[key.Hash32()%t.shardCount]
}

// Observe records a packet against its flow and returns the feature vector
// for that packet. The first packet of a flow creates its state.
func (t *Tracker) Observe(key model.FlowKey, p *model.Packet) model.FeatureVector {
	now := p.Timestamp
	if now.IsZero() {
		now = t.now()
	}

	var fv model.FeatureVector
	packetFeatures(p, &fv)

	s := t.getShard(key)
	s.mu.Lock()
	state, ok := s.flows.Get(key)
	if !ok {
		state = t.admit(s, key, now)
	}

	interArrival := now.Sub(state.LastSeen).Seconds()
	if interArrival < 0 {
		interArrival = 0
	}
	state.PacketCount++
	state.ByteCount += uint64(max(p.Length, 0))
	state.InterArrivals.Push(interArrival)
	state.PacketSizes.Push(float64(p.Length))
	if now.After(state.LastSeen) {
		state.LastSeen = now
	}

	stats := state.Derive(now)
	fv[model.FeatureFlowPacketCount] = float64(state.PacketCount)
	fv[model.FeatureFlowByteCount] = float64(state.ByteCount)
	s.mu.Unlock()

	fv[model.FeatureInterArrivalTime] = interArrival
	fv[model.FeatureFlowDuration] = stats.Duration
	fv[model.FeatureAvgInterArrival] = stats.AvgInterArrival
	fv[model.FeatureStdInterArrival] = stats.StdInterArrival
	fv[model.FeatureAvgPacketSize] = stats.AvgPacketSize
	fv[model.FeatureStdPacketSize] = stats.StdPacketSize
	fv[model.FeaturePacketRate] = stats.PacketRate
	fv[model.FeatureByteRate] = stats.ByteRate
	return fv
}

// admit creates the state of a new flow in s, evicting a least recently
// used flow when the table is full. s.mu is held on entry and on return,
// but is released while another shard gives up a flow, so that no
// goroutine ever holds two shard locks.
func (t *Tracker) admit(s *shard, key model.FlowKey, now time.Time) *FlowState {
	for {
		n := t.flows.Load()
		if n < t.maxFlows {
			if t.flows.CompareAndSwap(n, n+1) {
				break
			}
			continue
		}
		if _, _, ok := s.flows.RemoveOldest(); ok {
			t.flows.Add(-1)
			t.lruEvictions.Add(1)
			continue
		}

		s.mu.Unlock()
		t.evictElsewhere()
		s.mu.Lock()
		// Another packet of the flow may have created it meanwhile.
		if state, ok := s.flows.Get(key); ok {
			return state
		}
	}

	state := newFlowState(now, t.windowSize)
	s.flows.Add(key, state)
	return state
}

// evictElsewhere removes the least recently used flow of the first
// non-empty shard, starting from a rotating position.
func (t *Tracker) evictElsewhere() {
	start := t.nextVictim.Add(1)
	for i := uint32(0); i < t.shardCount; i++ {
		s := t.shards[(start+i)%t.shardCount]
		s.mu.Lock()
		_, _, ok := s.flows.RemoveOldest()
		s.mu.Unlock()
		if ok {
			t.flows.Add(-1)
			t.lruEvictions.Add(1)
			return
		}
	}
}

// packetFeatures fills the instantaneous packet attributes. Absent headers
// leave their features at 0.
func packetFeatures(p *model.Packet, fv *model.FeatureVector) {
	fv[model.FeaturePacketLength] = float64(p.Length)
	fv[model.FeatureInPort] = float64(p.InPort)

	if n := p.Network; n != nil {
		fv[model.FeatureIPProto] = float64(n.Protocol)
		fv[model.FeatureIPTTL] = float64(n.TTL)
		fv[model.FeatureIPLen] = float64(n.TotalLength)
		fv[model.FeatureIPFlags] = float64(n.Flags)
	}

	if tcp := p.TCP; tcp != nil {
		fv[model.FeatureSrcPort] = float64(tcp.SrcPort)
		fv[model.FeatureDstPort] = float64(tcp.DstPort)
		fv[model.FeatureTCPWindow] = float64(tcp.Window)
		fv[model.FeatureTCPFlags] = float64(tcp.Flags)
		fv[model.FeatureTCPFin] = flagBit(tcp.Flags, model.TCPFlagFIN)
		fv[model.FeatureTCPSyn] = flagBit(tcp.Flags, model.TCPFlagSYN)
		fv[model.FeatureTCPRst] = flagBit(tcp.Flags, model.TCPFlagRST)
		fv[model.FeatureTCPPsh] = flagBit(tcp.Flags, model.TCPFlagPSH)
		fv[model.FeatureTCPAck] = flagBit(tcp.Flags, model.TCPFlagACK)
		fv[model.FeatureTCPUrg] = flagBit(tcp.Flags, model.TCPFlagURG)
	} else if udp := p.UDP; udp != nil {
		fv[model.FeatureSrcPort] = float64(udp.SrcPort)
		fv[model.FeatureDstPort] = float64(udp.DstPort)
		fv[model.FeatureUDPLen] = float64(udp.Length)
	}
}

func flagBit(flags, bit uint8) float64 {
	if flags&bit != 0 {
		return 1
	}
	return 0
}

// Sweep removes flows idle for longer than the configured idle timeout and
// returns how many were removed. It is a no-op when no timeout is set.
// Shards are scanned from their least recently used end, so a sweep stops
// early in each shard at the first flow that is still active.
func (t *Tracker) Sweep(now time.Time) int {
	if t.idleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-t.idleTimeout)
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for {
			_, state, ok := s.flows.GetOldest()
			if !ok || !state.LastSeen.Before(cutoff) {
				break
			}
			s.flows.RemoveOldest()
			removed++
		}
		s.mu.Unlock()
	}
	t.flows.Add(-int64(removed))
	t.ttlEvictions.Add(uint64(removed))
	return removed
}

// Len returns the total number of flows currently tracked.
func (t *Tracker) Len() int {
	count := 0
	for _, s := range t.shards {
		s.mu.Lock()
		count += s.flows.Len()
		s.mu.Unlock()
	}
	return count
}

// Evictions returns how many flows have been dropped for capacity (lru) and
// for idleness (ttl) since the tracker was created.
func (t *Tracker) Evictions() (lru, ttl uint64) {
	return t.lruEvictions.Load(), t.ttlEvictions.Load()
}

// Get returns a snapshot of one flow without refreshing its recency.
func (t *Tracker) Get(key model.FlowKey) (FlowSnapshot, bool) {
	s := t.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.flows.Peek(key)
	if !ok {
		return FlowSnapshot{}, false
	}
	return snapshotOf(key, state, state.LastSeen), true
}

// Snapshot returns a copy of every tracked flow, most recently seen first.
func (t *Tracker) Snapshot() []FlowSnapshot {
	var wg sync.WaitGroup
	parts := make([][]FlowSnapshot, len(t.shards))
	wg.Add(len(t.shards))
	for i, s := range t.shards {
		go func(i int, s *shard) {
			defer wg.Done()
			s.mu.Lock()
			defer s.mu.Unlock()
			keys := s.flows.Keys()
			out := make([]FlowSnapshot, 0, len(keys))
			for _, key := range keys {
				if state, ok := s.flows.Peek(key); ok {
					out = append(out, snapshotOf(key, state, state.LastSeen))
				}
			}
			parts[i] = out
		}(i, s)
	}
	wg.Wait()

	var all []FlowSnapshot
	for _, part := range parts {
		all = append(all, part...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastSeen.After(all[j].LastSeen)
	})
	return all
}

// Reset drops all flow state.
func (t *Tracker) Reset() {
	for _, s := range t.shards {
		s.mu.Lock()
		t.flows.Add(-int64(s.flows.Len()))
		s.flows.Purge()
		s.mu.Unlock()
	}
}

func snapshotOf(key model.FlowKey, state *FlowState, at time.Time) FlowSnapshot {
	return FlowSnapshot{
		Key:         key.String(),
		PacketCount: state.PacketCount,
		ByteCount:   state.ByteCount,
		StartTime:   state.StartTime,
		LastSeen:    state.LastSeen,
		Stats:       state.Derive(at),
	}
}
