package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootFlags struct {
	config   string
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:   "ns-engine",
	Short: "Classifies SDN traffic flows and assigns forwarding priorities",
	Long: `ns-engine turns packet-in events into per-flow traffic classes and
forwarding priorities.

'serve' consumes packet-in events from NATS, publishes decisions back and
exposes the HTTP and gRPC query surfaces. 'replay' classifies capture files
offline through the same pipeline.
`,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.config, "config", "c", "configs/config.yaml",
		"Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "",
		"Override the configured log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
