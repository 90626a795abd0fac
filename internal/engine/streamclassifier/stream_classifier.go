package streamclassifier

import (
	"Go2NetQoS/internal/engine/manager"
	"Go2NetQoS/internal/engine/protocol"
	"Go2NetQoS/internal/metrics"
	"Go2NetQoS/internal/probe"

	"go.uber.org/zap"
)

// Source delivers packet-in envelopes to a handler until it is closed.
type Source interface {
	Start(handler probe.PacketHandler) error
	Close()
}

// StreamClassifier consumes packet-in events from the dataplane and feeds
// them to a Manager.
type StreamClassifier struct {
	source  Source
	manager *manager.Manager
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewStreamClassifier wires a packet source to a manager. m may be nil.
func NewStreamClassifier(source Source, mgr *manager.Manager, m *metrics.Metrics, logger *zap.Logger) *StreamClassifier {
	return &StreamClassifier{source: source, manager: mgr, metrics: m, logger: logger}
}

// Start starts the manager and then begins consuming events.
func (sc *StreamClassifier) Start() error {
	sc.manager.Start()
	if err := sc.source.Start(sc.handlePacketIn); err != nil {
		sc.manager.Stop()
		return err
	}
	sc.logger.Info("StreamClassifier started.")
	return nil
}

// Stop closes the source first so that no event reaches a stopped manager,
// then drains the manager.
func (sc *StreamClassifier) Stop() {
	sc.logger.Info("StreamClassifier stopping...")
	sc.source.Close()
	sc.manager.Stop()
	sc.logger.Info("StreamClassifier stopped.")
}

// handlePacketIn decodes the frame and submits it without blocking the
// transport callback.
func (sc *StreamClassifier) handlePacketIn(in probe.PacketIn) {
	p, err := protocol.ParsePacket(in.Frame, in.InPort, in.Timestamp)
	if err != nil {
		if sc.metrics != nil {
			sc.metrics.DecodeErrors.Inc()
		}
		sc.logger.Debug("Dropping undecodable frame", zap.Uint32("in_port", in.InPort), zap.Error(err))
		return
	}
	sc.manager.Submit(p)
}
