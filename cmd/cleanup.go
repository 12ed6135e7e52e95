package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chairwatch/chairwatch/internal/run"
)

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Prunes old snapshots and expires long-closed postings",
		Long: `Keeps only the newest snapshot per posting and removes postings that
have been closed for longer than the configured retention period, together
with their snapshots and cached classification results.`,
		RunE: runCleanupCommand,
	}
}

func runCleanupCommand(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	retention := time.Duration(a.cfg.Cleanup.ClosedRetentionDays) * 24 * time.Hour
	if _, err := run.Cleanup(ctx, a.store, a.clock, retention, a.log); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}
