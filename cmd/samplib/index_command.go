package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"samplib/internal/annindex"
	"samplib/internal/config"
	"samplib/internal/logging"
	"samplib/internal/records"
	"samplib/internal/storage"
)

func newIndexCommand(ctx *commandContext) *cobra.Command {
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the similarity index snapshot",
	}

	indexCmd.AddCommand(newIndexVerifyCommand(ctx))
	indexCmd.AddCommand(newIndexRebuildCommand(ctx))
	indexCmd.AddCommand(newIndexMigrateCommand(ctx))

	return indexCmd
}

func newIndexVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the index snapshot checksum and registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(cfg *config.Config, db *storage.DB) error {
				out := cmd.OutOrStdout()
				params := indexParams(cfg)

				idx, err := annindex.Load(cfg.IndexPath(), params)
				switch {
				case errors.Is(err, fs.ErrNotExist):
					if annindex.HasLegacy(cfg.LegacyIndexBase()) {
						fmt.Fprintln(out, "No snapshot; legacy layout found. Run `samplib index migrate`.")
						return nil
					}
					fmt.Fprintln(out, "No snapshot yet. The daemon writes one after the first batch.")
					return nil
				case errors.Is(err, annindex.ErrCorrupt):
					return fmt.Errorf("snapshot failed verification: %w (run `samplib index rebuild`)", err)
				case err != nil:
					return fmt.Errorf("open snapshot: %w", err)
				}

				meta, err := annindex.NewMetaStore(db).Get(cmd.Context(), cfg.Analysis.ModelID)
				if err != nil {
					return fmt.Errorf("read index registration: %w", err)
				}

				fmt.Fprintf(out, "Snapshot %s\n", cfg.IndexPath())
				fmt.Fprintf(out, "  model:   %s\n", params.ModelID)
				fmt.Fprintf(out, "  vectors: %d\n", idx.Len())
				if meta == nil {
					fmt.Fprintln(out, "  warning: snapshot is not registered in the database")
				} else if meta.Count != idx.Len() {
					fmt.Fprintf(out, "  warning: registration counts %d vectors\n", meta.Count)
				}
				fmt.Fprintln(out, "Checksum OK")
				return nil
			})
		},
	}
}

func newIndexRebuildCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index snapshot from stored embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(cfg *config.Config, db *storage.DB) error {
				idx, err := indexLoader(cfg, db).Rebuild(cmd.Context())
				if err != nil {
					return fmt.Errorf("rebuild index: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt %s with %d vector(s)\n", cfg.IndexPath(), idx.Len())
				return nil
			})
		},
	}
}

func newIndexMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Convert a legacy multi-file index into a single snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(cfg *config.Config, db *storage.DB) error {
				out := cmd.OutOrStdout()
				if _, err := os.Stat(cfg.IndexPath()); err == nil {
					fmt.Fprintf(out, "Snapshot already exists at %s; nothing to migrate\n", cfg.IndexPath())
					return nil
				}
				if !annindex.HasLegacy(cfg.LegacyIndexBase()) {
					return fmt.Errorf("no legacy index files at %s", cfg.LegacyIndexBase())
				}
				idx, err := indexLoader(cfg, db).Open(cmd.Context())
				if err != nil {
					return fmt.Errorf("migrate legacy index: %w", err)
				}
				fmt.Fprintf(out, "Migrated %d vector(s) into %s\n", idx.Len(), cfg.IndexPath())
				fmt.Fprintln(out, "Legacy files were left in place; remove them once the snapshot is confirmed.")
				return nil
			})
		},
	}
}

func indexParams(cfg *config.Config) annindex.Params {
	return annindex.DefaultParams(cfg.Analysis.ModelID, cfg.Analysis.EmbeddingDim)
}

func indexLoader(cfg *config.Config, db *storage.DB) *annindex.Loader {
	return annindex.NewLoader(
		records.NewStore(db),
		annindex.NewMetaStore(db),
		cfg.IndexPath(),
		cfg.LegacyIndexBase(),
		indexParams(cfg),
		logging.NewNop(),
	)
}
