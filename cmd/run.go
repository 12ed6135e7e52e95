package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Executes one aggregation pass",
		Long: `Collects postings from every configured source, deduplicates them,
verifies the liveness of known postings, enriches new content through the
classification cache, writes the result in one transaction, and sends a
digest of newly relevant postings.`,
		RunE: runRunCommand,
	}
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	counters, err := a.pipeline.Execute(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.log.Warn("run interrupted")
			return nil
		}
		return fmt.Errorf("run: %w", err)
	}

	a.log.Info("run complete",
		zap.Int("found", counters.Found),
		zap.Int("new", counters.New),
		zap.Int("updated", counters.Updated),
		zap.Int("enriched", counters.Enriched),
		zap.Int("notified", counters.Notified))
	return nil
}
