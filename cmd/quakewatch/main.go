// quakewatch decides which earthquake updates get announced and correlates
// automated detections with the social-media messages that reported them.
//
// Usage:
//
//	quakewatch notify --action EVENT_ADDED --source us --code us2024abcd ...
//	quakewatch correlate < detection.json
//	quakewatch serve
//	quakewatch migrate
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	cfgFile string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quakewatch",
		Short: "Earthquake notification gatekeeper and detection correlator",
		Long: `quakewatch announces earthquake origin updates at most once per physical event.

Each notify invocation handles one update from the event indexer. The
correlator records queue detections and links them to the earliest
candidate trigger message.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (yaml, ini, toml or json); QUAKE_* env vars override")

	root.AddCommand(notifyCmd())
	root.AddCommand(correlateCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	return root
}
