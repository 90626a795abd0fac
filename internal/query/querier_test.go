package query

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildSummaryQuery(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	query, args := buildSummaryQuery(SummaryRequest{Since: since, Mode: "model"})

	assert.Contains(t, query, "FROM qos_decisions WHERE Timestamp >= ? AND Mode = ?")
	assert.Contains(t, query, "GROUP BY Class")
	assert.Equal(t, []any{since, "model"}, args)
}

func TestBuildSummaryQuery_NoFilters(t *testing.T) {
	query, args := buildSummaryQuery(SummaryRequest{})

	assert.False(t, strings.Contains(query, "WHERE"))
	assert.Empty(t, args)
}
