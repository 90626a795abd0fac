package decisionlog

import (
	"time"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/model"

	"go.uber.org/zap"
)

// TimestampLayout names flushes, both as directory names and as the
// timestamp argument of model.Writer.Write.
const TimestampLayout = "2006-01-02_15-04-05"

// CreateWriters builds every enabled decision-log writer. Writers that
// cannot be created are logged and skipped.
func CreateWriters(cfg config.DecisionLogConfig, logger *zap.Logger) []model.Writer {
	writers := make([]model.Writer, 0, len(cfg.Writers))
	for _, def := range cfg.Writers {
		if !def.Enabled {
			continue
		}

		interval, err := time.ParseDuration(def.FlushInterval)
		if err != nil {
			logger.Warn("Invalid flush_interval for writer, skipping.", zap.String("type", def.Type), zap.Error(err))
			continue
		}

		var writer model.Writer
		switch def.Type {
		case "text":
			writer = NewTextWriter(def.Text.RootPath, interval, logger)
		case "clickhouse":
			writer, err = NewClickHouseWriter(def.ClickHouse, interval, logger)
			if err != nil {
				logger.Warn("Failed to create writer, skipping.", zap.String("type", def.Type), zap.Error(err))
				continue
			}
		default:
			logger.Warn("Unknown writer type in config, skipping.", zap.String("type", def.Type))
			continue
		}
		writers = append(writers, writer)
	}
	return writers
}
