package main

import (
	"fmt"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/engine/decisionlog"
	"Go2NetQoS/internal/engine/manager"
	"Go2NetQoS/internal/engine/orchestrator"
	"Go2NetQoS/internal/factory"
	"Go2NetQoS/internal/logging"
	"Go2NetQoS/internal/metrics"
	"Go2NetQoS/internal/model"
	"Go2NetQoS/internal/probe"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// pipeline bundles everything a command needs to classify packets.
type pipeline struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	orch     *orchestrator.Orchestrator
	manager  *manager.Manager
}

// loadConfig reads the configuration and builds the process logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(rootFlags.config)
	if err != nil {
		return nil, nil, err
	}
	if rootFlags.logLevel != "" {
		cfg.Log.Level = rootFlags.logLevel
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Configuration loaded successfully.", zap.String("path", rootFlags.config))
	return cfg, logger, nil
}

// newPipeline builds the decision core and a manager around it. Decisions
// are published back to NATS when publish is set and NATS is enabled.
// packetClock ages idle flows on packet time, as replays need.
func newPipeline(cfg *config.Config, logger *zap.Logger, publish, packetClock bool) (*pipeline, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	orch, err := orchestrator.NewFromConfig(cfg, factory.Deps{Logger: logger, Metrics: met})
	if err != nil {
		return nil, err
	}

	var sinks []model.DecisionSink
	if publish && cfg.NATS.Enabled {
		pub, err := probe.NewPublisher(cfg.NATS.URL, cfg.NATS.DecisionSubject, logger)
		if err != nil {
			orch.Close()
			return nil, fmt.Errorf("failed to create decision publisher: %w", err)
		}
		sinks = append(sinks, pub)
	}

	mgr, err := manager.NewManager(cfg, orch, manager.Options{
		Writers:     decisionlog.CreateWriters(cfg.DecisionLog, logger),
		Sinks:       sinks,
		Logger:      logger,
		Metrics:     met,
		PacketClock: packetClock,
	})
	if err != nil {
		orch.Close()
		return nil, err
	}

	return &pipeline{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  met,
		orch:     orch,
		manager:  mgr,
	}, nil
}

// close releases the classification strategies. The manager must already
// be stopped.
func (p *pipeline) close() {
	if err := p.orch.Close(); err != nil {
		p.logger.Warn("Error closing classifiers", zap.Error(err))
	}
}
