package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Go2NetQoS/internal/engine/tracker"
)

func sampleFlows(n int) []tracker.FlowSnapshot {
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	flows := make([]tracker.FlowSnapshot, n)
	for i := range flows {
		flows[i] = tracker.FlowSnapshot{
			Key:         fmt.Sprintf("17/10.0.0.1:%d<->10.0.0.53:53", 40000+i),
			PacketCount: 2,
			ByteCount:   180,
			StartTime:   start,
			LastSeen:    start.Add(time.Second),
			Stats:       tracker.Stats{Duration: 1, AvgPacketSize: 90},
		}
	}
	return flows
}

func TestWriter_WriteSnapshot(t *testing.T) {
	tmpDir := t.TempDir()
	writer := NewWriter(tmpDir)
	writer.flowsPerPart = 2

	if err := writer.Write(sampleFlows(5), "2025-05-01_00-00-01"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	snapshotDir := filepath.Join(tmpDir, "2025-05-01_00-00-01")
	for _, name := range []string{"part_0.dat", "part_1.dat", "part_2.dat", "summary.json"} {
		if _, err := os.Stat(filepath.Join(snapshotDir, name)); err != nil {
			t.Fatalf("%s was not created: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(snapshotDir, "part_3.dat")); !os.IsNotExist(err) {
		t.Fatalf("part_3.dat should not have been created")
	}

	summaryBytes, err := os.ReadFile(filepath.Join(snapshotDir, "summary.json"))
	if err != nil {
		t.Fatalf("Failed to read summary.json: %v", err)
	}
	var summary SummaryData
	if err := json.Unmarshal(summaryBytes, &summary); err != nil {
		t.Fatalf("Failed to unmarshal summary.json: %v", err)
	}
	if summary.TotalFlows != 5 || summary.Parts != 3 {
		t.Errorf("Expected 5 flows in 3 parts, got %d in %d", summary.TotalFlows, summary.Parts)
	}
	if summary.TotalPackets != 10 || summary.TotalBytes != 900 {
		t.Errorf("Unexpected totals: %d packets, %d bytes", summary.TotalPackets, summary.TotalBytes)
	}

	_, flows, err := Load(snapshotDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(flows) != 5 {
		t.Fatalf("Expected 5 flows back, got %d", len(flows))
	}
	if flows[4].Key != "17/10.0.0.1:40004<->10.0.0.53:53" || flows[4].Stats.AvgPacketSize != 90 {
		t.Errorf("Decoded flow does not match. Got: %+v", flows[4])
	}
}

func TestWriter_EmptyTableWritesNothing(t *testing.T) {
	tmpDir := t.TempDir()
	if err := NewWriter(tmpDir).Write(nil, "2025-05-01_00-00-01"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 0 {
		t.Fatalf("Expected no snapshot directory, found %d entries", len(entries))
	}
}

func TestLatest(t *testing.T) {
	tmpDir := t.TempDir()
	writer := NewWriter(tmpDir)
	for _, ts := range []string{"2025-05-01_00-00-01", "2025-05-01_00-01-01", "2025-04-30_23-59-59"} {
		if err := writer.Write(sampleFlows(1), ts); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	dir, err := Latest(tmpDir)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if filepath.Base(dir) != "2025-05-01_00-01-01" {
		t.Errorf("Expected the newest snapshot, got %s", dir)
	}
}
