// Package cmd defines the CLI commands for the chairwatch executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chairwatch",
		Short: "Aggregates academic job postings into a deduplicated catalogue",
		Long: `chairwatch scrapes configured job boards and institutional career
pages, collapses duplicate adverts into one catalogue record per posting,
verifies that known postings are still open, classifies them with an
external model, and notifies about newly relevant openings.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./chairwatch.yaml)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newShowCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
