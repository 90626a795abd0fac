package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"Go2NetQoS/internal/engine/manager"
	"Go2NetQoS/internal/model"
	"Go2NetQoS/pkg/pcap"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var replayFlags struct {
	inPort  uint32
	mode    string
	publish bool
}

var replayCmd = &cobra.Command{
	Use:   "replay <capture> [<capture>...]",
	Short: "Classify pcap or pcapng captures offline",
	Long: `'replay' feeds every packet of the given captures through the
classification pipeline in capture order and prints a per-class summary.
Idle flows are aged on capture time, so a replay classifies the same way as
the live traffic it was recorded from.
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		if replayFlags.mode != "" {
			cfg.Classifier.Mode = replayFlags.mode
		}

		p, err := newPipeline(cfg, logger, replayFlags.publish, true)
		if err != nil {
			return err
		}
		defer p.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p.manager.Start()
		readErr := replay(ctx, p.manager, args, logger)
		p.manager.Stop()

		printSummary(p.manager.Stats())
		return readErr
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().Uint32Var(&replayFlags.inPort, "in-port", 1, "Switch port the captured packets are reported on")
	replayCmd.Flags().StringVar(&replayFlags.mode, "mode", "", "Override the configured classification mode (rule or model)")
	replayCmd.Flags().BoolVar(&replayFlags.publish, "publish", false, "Also publish decisions to NATS")
}

// replay reads every capture into the manager, stopping at the first error.
func replay(ctx context.Context, mgr *manager.Manager, paths []string, logger *zap.Logger) error {
	for _, path := range paths {
		reader, err := pcap.NewReader(path, replayFlags.inPort)
		if err != nil {
			return fmt.Errorf("failed to open capture %s: %w", path, err)
		}
		logger.Info("Reading packets...", zap.String("path", path))
		stats, err := reader.ReadPackets(ctx, mgr.Input())
		reader.Close()
		logger.Info("Finished reading capture.", zap.String("path", path), zap.Int("packets", stats.Packets), zap.Int("skipped", stats.Skipped))
		if err != nil {
			return err
		}
	}
	return nil
}

func printSummary(stats manager.Stats) {
	classes := make([]model.TrafficClass, 0, len(stats.ByClass))
	for class := range stats.ByClass {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool {
		if stats.ByClass[classes[i]] != stats.ByClass[classes[j]] {
			return stats.ByClass[classes[i]] > stats.ByClass[classes[j]]
		}
		return classes[i] < classes[j]
	})

	fmt.Printf("\nMode: %s  Packets: %d  Flows: %d  Errors: %d\n\n", stats.Mode, stats.Processed, stats.TrackedFlows, stats.Errors)
	rows := make([][]string, 0, len(classes))
	for _, class := range classes {
		n := stats.ByClass[class]
		rows = append(rows, []string{string(class), strconv.FormatUint(n, 10),
			fmt.Sprintf("%.1f%%", 100*float64(n)/float64(stats.Processed))})
	}
	renderTable([]string{"CLASS", "PACKETS", "SHARE"}, rows)

	methods := make([]model.Method, 0, len(stats.ByMethod))
	for method := range stats.ByMethod {
		methods = append(methods, method)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	rows = rows[:0]
	for _, method := range methods {
		rows = append(rows, []string{string(method), strconv.FormatUint(stats.ByMethod[method], 10)})
	}
	fmt.Println()
	renderTable([]string{"METHOD", "PACKETS"}, rows)
}

func renderTable(header []string, rows [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	table.AppendBulk(rows)
	table.Render()
}
