package manager

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/engine/decisionlog"
	"Go2NetQoS/internal/engine/orchestrator"
	"Go2NetQoS/internal/metrics"
	"Go2NetQoS/internal/model"
	"Go2NetQoS/internal/snapshot"

	"go.uber.org/zap"
)

// maxPending bounds the decisions buffered per writer between two flushes.
const maxPending = 1 << 16

// Options carries the collaborators of a Manager that are not built from
// the configuration.
type Options struct {
	Writers []model.Writer
	Sinks   []model.DecisionSink
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// PacketClock ages idle flows on packet time only. Replays set it so
	// that a capture ages flows the way the live traffic did; live streams
	// leave it unset and sweep against the later of packet and wall time.
	PacketClock bool
}

// Stats is a point-in-time view of the manager's counters.
type Stats struct {
	Mode           model.Mode                    `json:"mode"`
	Processed      uint64                        `json:"processed"`
	Dropped        uint64                        `json:"dropped"`
	Errors         uint64                        `json:"errors"`
	PendingDropped uint64                        `json:"pending_dropped"`
	TrackedFlows   int                           `json:"tracked_flows"`
	ByClass        map[model.TrafficClass]uint64 `json:"by_class"`
	ByMethod       map[model.Method]uint64       `json:"by_method"`
}

// writerState buffers decisions for one writer until its next flush.
type writerState struct {
	writer  model.Writer
	mu      sync.Mutex
	pending []*model.Decision
}

// Manager runs the classification pipeline: a pool of workers that turn
// packets into decisions, plus the tickers that flush decision logs, sweep
// idle flows and snapshot the flow table.
type Manager struct {
	orch    *orchestrator.Orchestrator
	mode    model.Mode
	writers []*writerState
	sinks   []model.DecisionSink
	logger  *zap.Logger
	metrics *metrics.Metrics

	// Worker pool. The dispatcher routes each packet to the queue of the
	// worker that owns its flow, so packets of one flow stay in order.
	packetChannel chan *model.Packet
	inputMu       sync.RWMutex
	stopped       bool
	queues        []chan *model.Packet
	numWorkers    int
	reportEvery   uint64
	dispatchWg    sync.WaitGroup
	workerWg      sync.WaitGroup

	sweepInterval    time.Duration
	packetClock      bool
	snapshots        *snapshot.Writer
	snapshotInterval time.Duration
	done             chan struct{}
	tickerWg         sync.WaitGroup
	stopOnce         sync.Once

	processed      atomic.Uint64
	dropped        atomic.Uint64
	failed         atomic.Uint64
	pendingDropped atomic.Uint64
	watermark      atomic.Int64
	lastLRU        atomic.Uint64

	countsMu sync.Mutex
	byClass  map[model.TrafficClass]uint64
	byMethod map[model.Method]uint64
}

// NewManager creates a Manager that classifies with the strategy selected
// by cfg.Classifier.Mode.
func NewManager(cfg *config.Config, orch *orchestrator.Orchestrator, opts Options) (*Manager, error) {
	mode := model.Mode(cfg.Classifier.Mode)
	if _, ok := orch.Strategy(mode); !ok {
		return nil, fmt.Errorf("%w: %q", orchestrator.ErrUnknownMode, mode)
	}
	if cfg.Manager.NumWorkers <= 0 {
		return nil, errors.New("manager.num_workers must be positive")
	}

	sweep, err := cfg.Tracker.SweepIntervalDuration()
	if err != nil {
		return nil, err
	}

	var snaps *snapshot.Writer
	var snapInterval time.Duration
	if cfg.Snapshot.Enabled {
		snapInterval, err = time.ParseDuration(cfg.Snapshot.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid snapshot interval: %w", err)
		}
		snaps = snapshot.NewWriter(cfg.Snapshot.RootPath)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		orch:             orch,
		mode:             mode,
		sinks:            opts.Sinks,
		logger:           logger,
		metrics:          opts.Metrics,
		packetChannel:    make(chan *model.Packet, cfg.Manager.SizeOfPacketChannel),
		queues:           make([]chan *model.Packet, cfg.Manager.NumWorkers),
		numWorkers:       cfg.Manager.NumWorkers,
		reportEvery:      uint64(cfg.Manager.ReportEvery),
		sweepInterval:    sweep,
		packetClock:      opts.PacketClock,
		snapshots:        snaps,
		snapshotInterval: snapInterval,
		done:             make(chan struct{}),
		byClass:          make(map[model.TrafficClass]uint64),
		byMethod:         make(map[model.Method]uint64),
	}
	queueSize := cfg.Manager.SizeOfPacketChannel / cfg.Manager.NumWorkers
	for i := range m.queues {
		m.queues[i] = make(chan *model.Packet, queueSize)
	}
	for _, w := range opts.Writers {
		m.writers = append(m.writers, &writerState{writer: w})
	}
	return m, nil
}

// Start launches the dispatcher, the workers and the background tickers.
func (m *Manager) Start() {
	for _, ws := range m.writers {
		m.tickerWg.Add(1)
		go m.runFlusher(ws)
		m.logger.Info("Started flusher for a decision writer", zap.Duration("interval", ws.writer.GetInterval()))
	}

	if m.sweepInterval > 0 {
		m.tickerWg.Add(1)
		go m.runSweeper()
		m.logger.Info("Started idle-flow sweeper", zap.Duration("interval", m.sweepInterval))
	}

	if m.snapshots != nil && m.snapshotInterval > 0 {
		m.tickerWg.Add(1)
		go m.runSnapshotter()
		m.logger.Info("Started flow-table snapshotter", zap.Duration("interval", m.snapshotInterval))
	}

	m.workerWg.Add(m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		go m.worker(m.queues[i])
	}
	m.dispatchWg.Add(1)
	go m.dispatch()
	m.logger.Info(fmt.Sprintf("Manager started with %d workers.", m.numWorkers), zap.String("mode", string(m.mode)))
}

// Input returns the packet channel. Sends block when the pipeline is full,
// which is what an offline replay wants. The caller owns the send side and
// must not send once it has called Stop; concurrent producers use Submit.
func (m *Manager) Input() chan<- *model.Packet {
	return m.packetChannel
}

// Submit enqueues a packet without blocking and reports whether it was
// accepted. Live consumers use it so that a slow pipeline sheds load
// instead of stalling the transport.
func (m *Manager) Submit(p *model.Packet) bool {
	m.inputMu.RLock()
	defer m.inputMu.RUnlock()
	if m.stopped {
		return false
	}
	select {
	case m.packetChannel <- p:
		return true
	default:
		m.dropped.Add(1)
		if m.metrics != nil {
			m.metrics.DroppedPackets.Inc()
		}
		return false
	}
}

// Stop drains every queued packet, flushes the writers one last time and
// closes writers and sinks. Later calls are no-ops, and Submit rejects
// packets once Stop has begun.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Info("Manager stopping...")
		m.inputMu.Lock()
		m.stopped = true
		close(m.packetChannel)
		m.inputMu.Unlock()

		m.logger.Info("Waiting for workers to finish...")
		m.dispatchWg.Wait()
		m.workerWg.Wait()

		close(m.done)
		m.logger.Info("Waiting for flushers, sweeper and snapshotter to finish...")
		m.tickerWg.Wait()

		for _, sink := range m.sinks {
			if err := sink.Close(); err != nil {
				m.logger.Warn("Error closing decision sink", zap.Error(err))
			}
		}
		m.logger.Info("Manager stopped.", zap.Uint64("processed", m.processed.Load()), zap.Uint64("dropped", m.dropped.Load()))
	})
}

func (m *Manager) dispatch() {
	defer m.dispatchWg.Done()
	defer func() {
		for _, q := range m.queues {
			close(q)
		}
	}()
	for p := range m.packetChannel {
		key := model.KeyFor(p)
		m.queues[key.Hash32()%uint32(m.numWorkers)] <- p
	}
}

func (m *Manager) worker(queue <-chan *model.Packet) {
	defer m.workerWg.Done()
	for p := range queue {
		m.process(p)
	}
}

// process classifies one packet and hands the decision to sinks and writers.
func (m *Manager) process(p *model.Packet) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	m.advanceWatermark(p.Timestamp)

	key := model.KeyFor(p)
	result, prio, err := m.orch.Decide(key, p, m.mode)
	if err != nil {
		m.failed.Add(1)
		m.logger.Warn("Failed to classify packet", zap.Stringer("flow", key), zap.Error(err))
		return
	}

	d := &model.Decision{
		Timestamp:      p.Timestamp,
		Key:            key,
		InPort:         p.InPort,
		Mode:           m.mode,
		Classification: result,
		Priority:       prio,
	}
	m.record(d)

	for _, sink := range m.sinks {
		if err := sink.Publish(d); err != nil {
			m.logger.Warn("Failed to publish decision", zap.Stringer("flow", key), zap.Error(err))
		}
	}
	for _, ws := range m.writers {
		ws.mu.Lock()
		if len(ws.pending) < maxPending {
			ws.pending = append(ws.pending, d)
		} else {
			m.pendingDropped.Add(1)
		}
		ws.mu.Unlock()
	}

	n := m.processed.Add(1)
	if m.reportEvery > 0 && n%m.reportEvery == 0 {
		m.logger.Info(fmt.Sprintf("Processed %d packets", n),
			zap.Stringer("flow", key),
			zap.String("class", string(result.Class)),
			zap.String("method", string(result.Method)),
			zap.Float64("confidence", result.Confidence),
			zap.Int("priority", prio),
			zap.Int("tracked_flows", m.orch.Tracker().Len()),
		)
	}
}

func (m *Manager) record(d *model.Decision) {
	m.countsMu.Lock()
	m.byClass[d.Classification.Class]++
	m.byMethod[d.Classification.Method]++
	m.countsMu.Unlock()
}

// advanceWatermark keeps the latest packet time seen. Idle flows are swept
// against it so that a replayed capture ages flows on capture time.
func (m *Manager) advanceWatermark(ts time.Time) {
	nanos := ts.UnixNano()
	for {
		cur := m.watermark.Load()
		if nanos <= cur || m.watermark.CompareAndSwap(cur, nanos) {
			return
		}
	}
}

// runFlusher periodically hands buffered decisions to one writer.
func (m *Manager) runFlusher(ws *writerState) {
	defer m.tickerWg.Done()
	interval := ws.writer.GetInterval()
	if interval <= 0 {
		m.logger.Warn("Invalid interval for writer, flusher will not run.", zap.Duration("interval", interval))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.flush(ws)
		case <-m.done:
			m.flush(ws)
			if err := ws.writer.Close(); err != nil {
				m.logger.Warn("Error closing decision writer", zap.Error(err))
			}
			return
		}
	}
}

func (m *Manager) flush(ws *writerState) {
	ws.mu.Lock()
	batch := ws.pending
	ws.pending = nil
	ws.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	timestamp := time.Now().Format(decisionlog.TimestampLayout)
	if err := ws.writer.Write(batch, timestamp); err != nil {
		m.logger.Error("Error writing decisions", zap.String("timestamp", timestamp), zap.Int("count", len(batch)), zap.Error(err))
	}
}

func (m *Manager) runSweeper() {
	defer m.tickerWg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			m.logger.Info("Sweeper shutting down.")
			return
		}
	}
}

// sweep evicts idle flows and refreshes the flow-table metrics.
func (m *Manager) sweep() int {
	now := m.sweepClock(time.Now())
	tr := m.orch.Tracker()
	removed := tr.Sweep(now)
	if removed > 0 {
		m.logger.Debug("Swept idle flows", zap.Int("removed", removed), zap.Time("watermark", now))
	}

	if m.metrics != nil {
		m.metrics.TrackedFlows.Set(float64(tr.Len()))
		m.metrics.FlowEvictions.WithLabelValues("idle").Add(float64(removed))
		lru, _ := tr.Evictions()
		if prev := m.lastLRU.Swap(lru); lru > prev {
			m.metrics.FlowEvictions.WithLabelValues("capacity").Add(float64(lru - prev))
		}
	}
	return removed
}

// sweepClock returns the time idle flows are aged against: the newest
// packet time seen, never earlier than wall time on a live stream.
func (m *Manager) sweepClock(wall time.Time) time.Time {
	w := m.watermark.Load()
	if w == 0 {
		return wall
	}
	mark := time.Unix(0, w)
	if !m.packetClock && wall.After(mark) {
		return wall
	}
	return mark
}

func (m *Manager) runSnapshotter() {
	defer m.tickerWg.Done()
	ticker := time.NewTicker(m.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.takeSnapshot()
		case <-m.done:
			m.takeSnapshot()
			return
		}
	}
}

func (m *Manager) takeSnapshot() {
	timestamp := time.Now().Format(decisionlog.TimestampLayout)
	flows := m.orch.Tracker().Snapshot()
	if err := m.snapshots.Write(flows, timestamp); err != nil {
		m.logger.Error("Error writing flow-table snapshot", zap.String("timestamp", timestamp), zap.Error(err))
		return
	}
	m.logger.Info("Completed flow-table snapshot", zap.String("timestamp", timestamp), zap.Int("flows", len(flows)))
}

// Mode returns the classification mode the manager runs.
func (m *Manager) Mode() model.Mode { return m.mode }

// Orchestrator exposes the decision core, e.g. for on-demand classification.
func (m *Manager) Orchestrator() *orchestrator.Orchestrator { return m.orch }

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	s := Stats{
		Mode:           m.mode,
		Processed:      m.processed.Load(),
		Dropped:        m.dropped.Load(),
		Errors:         m.failed.Load(),
		PendingDropped: m.pendingDropped.Load(),
		TrackedFlows:   m.orch.Tracker().Len(),
		ByClass:        make(map[model.TrafficClass]uint64),
		ByMethod:       make(map[model.Method]uint64),
	}
	m.countsMu.Lock()
	for k, v := range m.byClass {
		s.ByClass[k] = v
	}
	for k, v := range m.byMethod {
		s.ByMethod[k] = v
	}
	m.countsMu.Unlock()
	return s
}
