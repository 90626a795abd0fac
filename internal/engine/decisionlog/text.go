package decisionlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"Go2NetQoS/internal/model"

	"go.uber.org/zap"
)

const textFileName = "decisions.txt"

// TextWriter appends decision batches to a plain text file per flush.
type TextWriter struct {
	rootPath string
	interval time.Duration
	logger   *zap.Logger
}

// NewTextWriter creates a text decision log rooted at rootPath.
func NewTextWriter(rootPath string, interval time.Duration, logger *zap.Logger) model.Writer {
	return &TextWriter{rootPath: rootPath, interval: interval, logger: logger}
}

func (w *TextWriter) GetInterval() time.Duration {
	return w.interval
}

// Write stores one line per decision in <root>/<timestamp>/decisions.txt:
// time, flow key, ingress port, mode, class, method, confidence, priority.
func (w *TextWriter) Write(batch []*model.Decision, timestamp string) error {
	if len(batch) == 0 {
		return nil
	}
	dir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create decision log directory: %w", err)
	}

	filePath := filepath.Join(dir, textFileName)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open decision log '%s': %w", filePath, err)
	}
	defer file.Close()

	out := bufio.NewWriter(file)
	for _, d := range batch {
		line := fmt.Sprintf("%s %s %d %s %s %s %s %d\n",
			d.Timestamp.UTC().Format(time.RFC3339Nano),
			d.Key,
			d.InPort,
			d.Mode,
			d.Classification.Class,
			d.Classification.Method,
			strconv.FormatFloat(d.Classification.Confidence, 'f', 3, 64),
			d.Priority,
		)
		if _, err := out.WriteString(line); err != nil {
			return fmt.Errorf("failed to write decision: %w", err)
		}
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("failed to flush decision log: %w", err)
	}

	w.logger.Info("Wrote decisions to text log", zap.Int("count", len(batch)), zap.String("path", filePath))
	return nil
}

func (w *TextWriter) Close() error { return nil }
