package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"samplib/internal/config"
	"samplib/internal/ledger"
	"samplib/internal/storage"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and repair the analysis ledger",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsClearCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List parked jobs that exhausted their attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(cfg *config.Config, jobs *ledger.Store) error {
				parked, err := jobs.ParkedJobs(cmd.Context())
				if err != nil {
					return fmt.Errorf("list parked jobs: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(parked) == 0 {
					fmt.Fprintln(out, "No parked jobs.")
					return nil
				}
				rows := make([][]string, 0, len(parked))
				for _, job := range parked {
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						job.SampleID,
						string(job.Kind),
						strconv.Itoa(job.Attempts),
						job.LastError,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Sample", "Kind", "Attempts", "Last Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Return failed jobs to the pending queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", arg)
				}
				ids = append(ids, id)
			}
			return ctx.withLedger(func(cfg *config.Config, jobs *ledger.Store) error {
				retried, err := jobs.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return fmt.Errorf("retry jobs: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s)\n", retried)
				return nil
			})
		},
	}
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete completed job history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(cfg *config.Config, jobs *ledger.Store) error {
				pruned, err := jobs.PruneDone(cmd.Context())
				if err != nil {
					return fmt.Errorf("clear done jobs: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d completed job(s)\n", pruned)
				return nil
			})
		},
	}
}

func (c *commandContext) withLedger(fn func(*config.Config, *ledger.Store) error) error {
	return c.withDB(func(cfg *config.Config, db *storage.DB) error {
		claimTimeout := claimTimeoutFor(cfg)
		return fn(cfg, ledger.NewStore(db, claimTimeout, cfg.Analysis.MaxAttempts))
	})
}
