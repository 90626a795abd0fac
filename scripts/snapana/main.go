package main

import (
	"fmt"
	"log"
	"os"
	"sort"

	"Go2NetQoS/internal/snapshot"

	"github.com/olekukonko/tablewriter"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/snapana/main.go <snapshot_dir | snapshot_root> [top_n]")
		os.Exit(1)
	}
	dir := os.Args[1]
	topN := 20
	if len(os.Args) > 2 {
		if _, err := fmt.Sscanf(os.Args[2], "%d", &topN); err != nil {
			log.Fatalf("Invalid top_n: %v", err)
		}
	}

	// A root directory holds one timestamped directory per snapshot.
	if _, err := os.Stat(dir + "/summary.json"); err != nil {
		latest, err := snapshot.Latest(dir)
		if err != nil {
			log.Fatalf("Unable to find a snapshot: %v", err)
		}
		dir = latest
	}

	summary, flows, err := snapshot.Load(dir)
	if err != nil {
		log.Fatalf("Failed to load snapshot: %v", err)
	}

	fmt.Printf("Snapshot %s: %d flows, %d packets, %d bytes in %d parts\n\n",
		summary.Timestamp, summary.TotalFlows, summary.TotalPackets, summary.TotalBytes, summary.Parts)

	sort.Slice(flows, func(i, j int) bool { return flows[i].ByteCount > flows[j].ByteCount })
	if len(flows) > topN {
		flows = flows[:topN]
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeader([]string{"Flow", "Packets", "Bytes", "Avg Size", "Pkt/s"})
	for _, f := range flows {
		table.Append([]string{
			f.Key,
			fmt.Sprint(f.PacketCount),
			fmt.Sprint(f.ByteCount),
			fmt.Sprintf("%.1f", f.Stats.AvgPacketSize),
			fmt.Sprintf("%.1f", f.Stats.PacketRate),
		})
	}
	table.Render()
}
