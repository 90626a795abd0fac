package api

import (
	"context"
	"errors"
	"time"

	"Go2NetQoS/internal/engine/manager"
	"Go2NetQoS/internal/engine/orchestrator"
	"Go2NetQoS/internal/engine/protocol"
	"Go2NetQoS/internal/engine/tracker"
	"Go2NetQoS/internal/model"
	"Go2NetQoS/internal/query"

	"go.uber.org/zap"
)

// ErrNoQuerier is returned by decision-log queries when no ClickHouse
// writer is configured.
var ErrNoQuerier = errors.New("decision log queries need an enabled clickhouse writer")

// ClassifyRequest asks for an on-demand decision for one raw frame.
type ClassifyRequest struct {
	Frame     []byte    `json:"frame"`
	InPort    uint32    `json:"in_port"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Mode      string    `json:"mode,omitempty"`
}

// ClassifyResponse is the decision for a ClassifyRequest.
type ClassifyResponse struct {
	FlowKey    string  `json:"flow_key"`
	Mode       string  `json:"mode"`
	Class      string  `json:"class"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	Priority   int     `json:"priority"`
}

// Service is the transport-independent query surface shared by the HTTP
// and gRPC servers.
type Service struct {
	mgr     *manager.Manager
	querier query.Querier
	logger  *zap.Logger
}

// NewService creates a Service. querier may be nil.
func NewService(mgr *manager.Manager, querier query.Querier, logger *zap.Logger) *Service {
	return &Service{mgr: mgr, querier: querier, logger: logger}
}

// Classify decodes the frame and runs it through the decision core. The
// flow state is updated as for any other packet. Mode defaults to the mode
// the pipeline runs in.
func (s *Service) Classify(req ClassifyRequest) (ClassifyResponse, error) {
	p, err := protocol.ParsePacket(req.Frame, req.InPort, req.Timestamp)
	if err != nil {
		return ClassifyResponse{}, err
	}
	mode := s.mgr.Mode()
	if req.Mode != "" {
		mode = model.Mode(req.Mode)
	}

	key := model.KeyFor(p)
	result, prio, err := s.mgr.Orchestrator().Decide(key, p, mode)
	if err != nil {
		return ClassifyResponse{}, err
	}
	return ClassifyResponse{
		FlowKey:    key.String(),
		Mode:       string(mode),
		Class:      string(result.Class),
		Method:     string(result.Method),
		Confidence: result.Confidence,
		Priority:   prio,
	}, nil
}

// Stats returns the pipeline counters.
func (s *Service) Stats() manager.Stats {
	return s.mgr.Stats()
}

// Flows returns up to limit tracked flows, most recently seen first. A
// non-positive limit returns every flow.
func (s *Service) Flows(limit int) []tracker.FlowSnapshot {
	flows := s.mgr.Orchestrator().Tracker().Snapshot()
	if limit > 0 && len(flows) > limit {
		flows = flows[:limit]
	}
	return flows
}

// Flow looks one flow up by its string key.
func (s *Service) Flow(key string) (tracker.FlowSnapshot, bool, error) {
	k, err := model.ParseFlowKey(key)
	if err != nil {
		return tracker.FlowSnapshot{}, false, err
	}
	snap, ok := s.mgr.Orchestrator().Tracker().Get(k)
	return snap, ok, nil
}

// SummarizeDecisions aggregates the decision log per traffic class.
func (s *Service) SummarizeDecisions(ctx context.Context, req query.SummaryRequest) ([]query.ClassSummary, error) {
	if s.querier == nil {
		return nil, ErrNoQuerier
	}
	return s.querier.SummarizeDecisions(ctx, req)
}

// TraceFlow returns the classification history of one flow.
func (s *Service) TraceFlow(ctx context.Context, key string) (*query.FlowTrace, error) {
	if s.querier == nil {
		return nil, ErrNoQuerier
	}
	return s.querier.TraceFlow(ctx, key)
}

// isBadRequest reports whether err was caused by the caller's input.
func isBadRequest(err error) bool {
	return errors.Is(err, protocol.ErrMalformedFrame) || errors.Is(err, orchestrator.ErrUnknownMode)
}
