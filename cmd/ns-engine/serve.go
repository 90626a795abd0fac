package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetQoS/internal/api"
	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/engine/streamclassifier"
	"Go2NetQoS/internal/probe"
	"Go2NetQoS/internal/query"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Classify live packet-in events and serve the query APIs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	p, err := newPipeline(cfg, logger, true, false)
	if err != nil {
		return err
	}
	defer p.close()

	// Without NATS the pipeline only serves on-demand classification.
	var stream *streamclassifier.StreamClassifier
	if cfg.NATS.Enabled {
		sub, err := probe.NewSubscriber(cfg.NATS.URL, cfg.NATS.PacketSubject, logger)
		if err != nil {
			return err
		}
		stream = streamclassifier.NewStreamClassifier(sub, p.manager, p.metrics, logger)
		if err := stream.Start(); err != nil {
			return err
		}
		defer stream.Stop()
	} else {
		logger.Info("NATS is disabled, only on-demand classification is available.")
		p.manager.Start()
		defer p.manager.Stop()
	}

	querier := newQuerier(cfg, logger)
	if querier != nil {
		defer querier.Close()
	}
	service := api.NewService(p.manager, querier, logger)

	httpServer := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: api.NewRouter(service, p.registry, logger),
	}
	grpcServer := grpc.NewServer()
	api.RegisterClassifierServer(grpcServer, api.NewGRPCServer(service, logger))
	lis, err := net.Listen("tcp", cfg.API.GRPCListenAddr)
	if err != nil {
		return err
	}

	g, errCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("API server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("gRPC API server starting", zap.String("addr", cfg.API.GRPCListenAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-errCtx.Done()
		logger.Info("Shutting down API servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("Shutdown signal received, draining the pipeline...")
	return err
}

// newQuerier connects to the first enabled ClickHouse decision writer.
// Decision-log queries are unavailable without one.
func newQuerier(cfg *config.Config, logger *zap.Logger) query.Querier {
	for _, def := range cfg.DecisionLog.Writers {
		if !def.Enabled || def.Type != "clickhouse" {
			continue
		}
		q, err := query.NewClickHouseQuerier(def.ClickHouse)
		if err != nil {
			logger.Warn("Failed to create decision querier", zap.Error(err))
			return nil
		}
		logger.Info("Decision-log queries enabled.", zap.String("host", def.ClickHouse.Host))
		return q
	}
	return nil
}
