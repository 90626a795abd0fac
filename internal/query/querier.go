package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/engine/decisionlog"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// SummaryRequest filters a decision summary. Zero values mean no filter.
type SummaryRequest struct {
	Since time.Time
	Until time.Time
	Mode  string
}

// ClassSummary aggregates the decisions made for one traffic class.
type ClassSummary struct {
	Class         string  `json:"class"`
	Decisions     uint64  `json:"decisions"`
	Flows         uint64  `json:"flows"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgPriority   float64 `json:"avg_priority"`
}

// FlowTrace describes how one flow was classified over its lifetime.
type FlowTrace struct {
	FlowKey   string            `json:"flow_key"`
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
	Decisions uint64            `json:"decisions"`
	Classes   map[string]uint64 `json:"classes"`
	Latest    string            `json:"latest_class"`
	Priority  uint16            `json:"latest_priority"`
}

// Querier reads the decision log back.
type Querier interface {
	SummarizeDecisions(ctx context.Context, req SummaryRequest) ([]ClassSummary, error)
	TraceFlow(ctx context.Context, flowKey string) (*FlowTrace, error)
	Close() error
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := decisionlog.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

// buildSummaryQuery returns the aggregation statement and its arguments.
func buildSummaryQuery(req SummaryRequest) (string, []any) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT
			Class,
			count() AS Decisions,
			uniqExact(FlowKey) AS Flows,
			avg(Confidence) AS AvgConfidence,
			avg(Priority) AS AvgPriority
		FROM ` + decisionlog.TableName)

	var whereClauses []string
	var args []any

	if !req.Since.IsZero() {
		whereClauses = append(whereClauses, "Timestamp >= ?")
		args = append(args, req.Since)
	}
	if !req.Until.IsZero() {
		whereClauses = append(whereClauses, "Timestamp <= ?")
		args = append(args, req.Until)
	}
	if req.Mode != "" {
		whereClauses = append(whereClauses, "Mode = ?")
		args = append(args, req.Mode)
	}

	if len(whereClauses) > 0 {
		queryBuilder.WriteString(" WHERE " + strings.Join(whereClauses, " AND "))
	}
	queryBuilder.WriteString(`
		GROUP BY Class
		ORDER BY Decisions DESC
	`)
	return queryBuilder.String(), args
}

// SummarizeDecisions counts decisions per traffic class.
func (q *clickhouseQuerier) SummarizeDecisions(ctx context.Context, req SummaryRequest) ([]ClassSummary, error) {
	query, args := buildSummaryQuery(req)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var summaries []ClassSummary
	for rows.Next() {
		var s ClassSummary
		if err := rows.Scan(&s.Class, &s.Decisions, &s.Flows, &s.AvgConfidence, &s.AvgPriority); err != nil {
			return nil, fmt.Errorf("failed to scan summary result: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

const traceQuery = `
	SELECT
		min(Timestamp) AS FirstSeen,
		max(Timestamp) AS LastSeen,
		count() AS Decisions,
		argMax(Class, Timestamp) AS LatestClass,
		argMax(Priority, Timestamp) AS LatestPriority
	FROM ` + decisionlog.TableName + `
	WHERE FlowKey = ?
`

const traceClassesQuery = `
	SELECT Class, count() FROM ` + decisionlog.TableName + `
	WHERE FlowKey = ?
	GROUP BY Class
`

// TraceFlow reports the classification history of one flow, keyed by its
// canonical string form.
func (q *clickhouseQuerier) TraceFlow(ctx context.Context, flowKey string) (*FlowTrace, error) {
	result := FlowTrace{FlowKey: flowKey, Classes: make(map[string]uint64)}

	row := q.conn.QueryRow(ctx, traceQuery, flowKey)
	if err := row.Scan(&result.FirstSeen, &result.LastSeen, &result.Decisions, &result.Latest, &result.Priority); err != nil {
		return nil, fmt.Errorf("failed to scan flow trace result: %w", err)
	}
	if result.Decisions == 0 {
		return nil, fmt.Errorf("no decisions recorded for flow %s", flowKey)
	}

	rows, err := q.conn.Query(ctx, traceClassesQuery, flowKey)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var class string
		var count uint64
		if err := rows.Scan(&class, &count); err != nil {
			return nil, fmt.Errorf("failed to scan class count: %w", err)
		}
		result.Classes[class] = count
	}
	return &result, rows.Err()
}

func (q *clickhouseQuerier) Close() error {
	return q.conn.Close()
}
