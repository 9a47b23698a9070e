package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"samplib/internal/config"
	"samplib/internal/records"
	"samplib/internal/similarity"
	"samplib/internal/storage"
)

func newSimilarCommand(ctx *commandContext) *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "similar <sample-id>",
		Short: "Find the samples that sound closest to the given one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if k < 1 {
				return fmt.Errorf("-k must be at least 1")
			}
			return ctx.withDB(func(cfg *config.Config, db *storage.DB) error {
				searcher := similarity.NewSearcher(records.NewStore(db), cfg.IndexPath(), indexParams(cfg))
				neighbors, err := searcher.NearestBySample(cmd.Context(), args[0], k)
				if err != nil {
					if errors.Is(err, similarity.ErrNoEmbedding) {
						return fmt.Errorf("sample %s has no embedding yet; run the daemon or `samplib scan` first", args[0])
					}
					return err
				}
				out := cmd.OutOrStdout()
				if len(neighbors) == 0 {
					fmt.Fprintln(out, "No neighbors found.")
					return nil
				}
				rows := make([][]string, 0, len(neighbors))
				for _, n := range neighbors {
					rows = append(rows, []string{n.SampleID, fmt.Sprintf("%.4f", n.Distance)})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Sample", "Distance"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&k, "count", "k", 10, "Number of neighbors to return")
	return cmd
}
