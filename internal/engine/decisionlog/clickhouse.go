package decisionlog

import (
	"context"
	"fmt"
	"time"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// TableName is the ClickHouse table holding classification decisions.
const TableName = "qos_decisions"

const createTableStatement = `
CREATE TABLE IF NOT EXISTS qos_decisions (
    Timestamp   DateTime64(3),
    FlushTime   DateTime,
    FlowKey     String,
    AddrA       Nullable(String),
    AddrB       Nullable(String),
    PortA       Nullable(UInt16),
    PortB       Nullable(UInt16),
    Protocol    Nullable(UInt8),
    InPort      UInt32,
    Mode        LowCardinality(String),
    Class       LowCardinality(String),
    Method      LowCardinality(String),
    Confidence  Float64,
    Priority    UInt16
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Class, Timestamp);
`

// ClickHouseWriter implements model.Writer for ClickHouse.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
	logger   *zap.Logger
}

// NewClickHouseWriter connects to ClickHouse and makes sure the decision
// table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration, logger *zap.Logger) (*ClickHouseWriter, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.Info("Successfully connected to ClickHouse and ensured table exists.", zap.String("table", TableName))

	return &ClickHouseWriter{conn: conn, interval: interval, logger: logger}, nil
}

// Connect opens and pings a ClickHouse connection.
func Connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// GetInterval returns the configured flush interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

// Write inserts one batch of decisions.
func (w *ClickHouseWriter) Write(batch []*model.Decision, timestamp string) error {
	if len(batch) == 0 {
		return nil
	}

	ctx := context.Background()
	insert, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+TableName)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	flushTime, _ := time.Parse(TimestampLayout, timestamp)
	for _, d := range batch {
		if err := insert.Append(row(d, flushTime)...); err != nil {
			return fmt.Errorf("failed to append decision to batch: %w", err)
		}
	}
	if err := insert.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.logger.Info("Wrote decisions to ClickHouse", zap.Int("count", len(batch)))
	return nil
}

// row lays out one decision in table column order. Endpoint columns are
// NULL for link-layer flows.
func row(d *model.Decision, flushTime time.Time) []any {
	var addrA, addrB, portA, portB, proto any
	if k := d.Key; !k.IsLinkLayer() {
		addrA, addrB = k.AddrA.String(), k.AddrB.String()
		portA, portB, proto = k.PortA, k.PortB, k.Protocol
	}
	return []any{
		d.Timestamp,
		flushTime,
		d.Key.String(),
		addrA,
		addrB,
		portA,
		portB,
		proto,
		d.InPort,
		string(d.Mode),
		string(d.Classification.Class),
		string(d.Classification.Method),
		d.Classification.Confidence,
		uint16(d.Priority),
	}
}

func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
