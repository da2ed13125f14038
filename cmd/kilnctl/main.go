// Package main is the entry point for the kilnctl CLI, a thin client over
// the kiln daemon's HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thebtf/kiln/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	var addr string

	rootCmd := &cobra.Command{
		Use:     "kilnctl",
		Short:   "Control the kiln knowledge ingestion daemon",
		Version: Version,
		Example: `  kilnctl ingest notes.md --source-type document --project myapp
  kilnctl session get <session-id>
  kilnctl events --limit 20
  kilnctl predict success <pattern-id>
  kilnctl retrain success`,
	}
	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "a", cli.DefaultAddr, "Daemon address")

	rootCmd.AddCommand(
		cli.NewIngestCmd(&addr),
		cli.NewSessionCmd(&addr),
		cli.NewEventsCmd(&addr),
		cli.NewPredictCmd(&addr),
		cli.NewRetrainCmd(&addr),
		cli.NewOutcomeCmd(&addr),
		cli.NewReconcileCmd(&addr),
		cli.NewHealthCmd(&addr),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
