package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"samplib/internal/annindex"
	"samplib/internal/catalog"
	"samplib/internal/config"
	"samplib/internal/ledger"
	"samplib/internal/storage"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show library, ledger, and index status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(cfg *config.Config, db *storage.DB) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				health, err := db.CheckHealth(cmd.Context())
				if err != nil {
					return fmt.Errorf("check database: %w", err)
				}
				fmt.Fprintln(out, renderDatabaseStatus(health, colorize))

				fmt.Fprintln(out, renderIndexStatus(cmd, cfg, db, colorize))

				samples := catalog.NewStore(db)
				sources, err := samples.ListSources(cmd.Context())
				if err != nil {
					return fmt.Errorf("list sources: %w", err)
				}
				rows := make([][]string, 0, len(sources))
				for _, src := range sources {
					active, missing, err := samples.CountBySource(cmd.Context(), src.ID)
					if err != nil {
						return fmt.Errorf("count samples: %w", err)
					}
					rows = append(rows, []string{src.ID, src.Root, strconv.Itoa(active), strconv.Itoa(missing)})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Source", "Root", "Active", "Missing"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
				))

				jobs := ledger.NewStore(db, claimTimeoutFor(cfg), cfg.Analysis.MaxAttempts)
				progress, err := jobs.Progress(cmd.Context())
				if err != nil {
					return fmt.Errorf("read ledger: %w", err)
				}
				fmt.Fprintf(out, "Jobs: %d pending, %d claimed, %d done, %d failed (%d total)\n",
					progress.Pending, progress.Claimed, progress.Done, progress.Failed, progress.Total())
				return nil
			})
		},
	}
}

func renderDatabaseStatus(health storage.Health, colorize bool) string {
	switch {
	case !health.Exists:
		return renderStatusLine("Database", statusWarn, "not created yet at "+health.Path, colorize)
	case !health.Readable || !health.IntegrityCheck:
		return renderStatusLine("Database", statusError, health.Error, colorize)
	default:
		return renderStatusLine("Database", statusOK, health.Path, colorize)
	}
}

func renderIndexStatus(cmd *cobra.Command, cfg *config.Config, db *storage.DB, colorize bool) string {
	if _, err := os.Stat(cfg.IndexPath()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if annindex.HasLegacy(cfg.LegacyIndexBase()) {
				return renderStatusLine("Index", statusWarn, "legacy layout present; run `samplib index migrate`", colorize)
			}
			return renderStatusLine("Index", statusInfo, "no snapshot yet", colorize)
		}
		return renderStatusLine("Index", statusError, err.Error(), colorize)
	}

	meta, err := annindex.NewMetaStore(db).Get(cmd.Context(), cfg.Analysis.ModelID)
	if err != nil {
		return renderStatusLine("Index", statusError, err.Error(), colorize)
	}
	if meta == nil {
		return renderStatusLine("Index", statusWarn, "snapshot present but unregistered; run `samplib index verify`", colorize)
	}
	detail := fmt.Sprintf("%d vectors, model %s, migrated=%s", meta.Count, meta.ModelID, yesNo(meta.MigratedFromLegacy))
	return renderStatusLine("Index", statusOK, detail, colorize)
}
