package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"samplib/internal/catalog"
	"samplib/internal/config"
	"samplib/internal/logging"
	"samplib/internal/pipeline"
	"samplib/internal/storage"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var hard bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan configured sources and enqueue analysis jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(cfg *config.Config, db *storage.DB) error {
				manager := pipeline.NewManager(cfg, db, logging.NewNop())

				mode := catalog.ScanQuick
				if hard {
					mode = catalog.ScanHard
				}
				if err := manager.ScanAll(cmd.Context(), mode, nil); err != nil {
					return fmt.Errorf("scan sources: %w", err)
				}

				progress, err := manager.Jobs().Progress(cmd.Context())
				if err != nil {
					return fmt.Errorf("read ledger: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Scanned %d source(s)\n", len(cfg.Sources))
				fmt.Fprintf(out, "Jobs: %d pending, %d claimed, %d done, %d failed\n",
					progress.Pending, progress.Claimed, progress.Done, progress.Failed)
				if progress.Remaining() > 0 {
					fmt.Fprintln(out, "Run samplibd to process pending work.")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&hard, "hard", false, "Prune catalog rows for files that no longer exist")
	return cmd
}
