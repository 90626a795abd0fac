package snapshot

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"Go2NetQoS/internal/engine/tracker"
)

const (
	defaultFlowsPerPart = 4096
	summaryFileName     = "summary.json"
)

// SummaryData holds the metadata for a snapshot.
type SummaryData struct {
	TotalFlows   int    `json:"total_flows"`
	TotalPackets uint64 `json:"total_packets"`
	TotalBytes   uint64 `json:"total_bytes"`
	Parts        int    `json:"parts"`
	Timestamp    string `json:"timestamp"`
}

// Writer handles writing flow-table snapshots to disk.
type Writer struct {
	rootPath     string
	flowsPerPart int
}

// NewWriter creates a new snapshot writer rooted at rootPath.
func NewWriter(rootPath string) *Writer {
	return &Writer{rootPath: rootPath, flowsPerPart: defaultFlowsPerPart}
}

// Write serializes flows into a timestamped directory: gob-encoded
// part_N.dat files plus a summary.json. Nothing is written for an empty
// flow table.
func (w *Writer) Write(flows []tracker.FlowSnapshot, timestamp string) error {
	if len(flows) == 0 {
		return nil
	}

	// 1. Create timestamped directory
	snapshotDir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	// 2. Write the flows in fixed-size parts
	summary := SummaryData{
		TotalFlows: len(flows),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for start := 0; start < len(flows); start += w.flowsPerPart {
		part := flows[start:min(start+w.flowsPerPart, len(flows))]
		for _, f := range part {
			summary.TotalPackets += f.PacketCount
			summary.TotalBytes += f.ByteCount
		}
		filePath := filepath.Join(snapshotDir, fmt.Sprintf("part_%d.dat", summary.Parts))
		if err := writeGob(filePath, part); err != nil {
			return err
		}
		summary.Parts++
	}

	// 3. Write summary file
	summaryFile, err := os.Create(filepath.Join(snapshotDir, summaryFileName))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

func writeGob(filePath string, flows []tracker.FlowSnapshot) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", filePath, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(flows); err != nil {
		return fmt.Errorf("failed to encode flows to gob for file '%s': %w", filePath, err)
	}
	return nil
}

// Load reads back a snapshot directory written by Writer.
func Load(snapshotDir string) (*SummaryData, []tracker.FlowSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(snapshotDir, summaryFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read summary: %w", err)
	}
	var summary SummaryData
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, nil, fmt.Errorf("failed to decode summary: %w", err)
	}

	flows := make([]tracker.FlowSnapshot, 0, summary.TotalFlows)
	for i := 0; i < summary.Parts; i++ {
		filePath := filepath.Join(snapshotDir, fmt.Sprintf("part_%d.dat", i))
		file, err := os.Open(filePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open snapshot part: %w", err)
		}
		var part []tracker.FlowSnapshot
		err = gob.NewDecoder(file).Decode(&part)
		file.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode snapshot part '%s': %w", filePath, err)
		}
		flows = append(flows, part...)
	}
	return &summary, flows, nil
}

// Latest returns the most recent snapshot directory under rootPath.
// Directory names are timestamps, so lexical order is chronological.
func Latest(rootPath string) (string, error) {
	entries, err := os.ReadDir(rootPath)
	if err != nil {
		return "", err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("no snapshots under %s", rootPath)
	}
	sort.Strings(dirs)
	return filepath.Join(rootPath, dirs[len(dirs)-1]), nil
}
