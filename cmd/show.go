package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <posting-id>",
		Short: "Prints one catalogue posting as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runShowCommand,
	}
}

func runShowCommand(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	return showPosting(cmd.Context(), a.store, args[0], cmd.OutOrStdout())
}

func showPosting(ctx context.Context, store catalog.Store, id string, w io.Writer) error {
	posting, ok, err := store.GetPosting(ctx, id)
	if err != nil {
		return fmt.Errorf("show %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("posting %s not found", id)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(posting)
}
