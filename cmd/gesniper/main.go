// gesniper watches the exchange price feed, detects dumps, spikes, and flip
// opportunities, and routes alerts to tenant channels.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "gesniper",
		Short:         "Market event detector and alert router for the exchange price feed",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML or JSON config file (defaults to CONFIG_PATH)")

	root.AddCommand(newServeCmd(), newPruneCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
