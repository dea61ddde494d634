package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	compareMax   int
	compareScore bool
)

// compareCmd runs the similarity pipeline over the corpus.
var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compute similar bills for bills in the corpus",
	Long: `Enumerates bill files under the data root, runs per-section
similarity retrieval for each, folds the hits into bill-to-bill
relations, and upserts them under a fresh currency epoch. Stale rows
from earlier epochs are swept when the run completes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline()
		if err != nil {
			return err
		}
		defer p.store.Close()

		summary, err := p.orch.Compare(cmd.Context(), compareMax, compareScore)
		if err != nil {
			return err
		}

		logger.Info("done",
			zap.Int("processed", summary.Processed),
			zap.Int("relations", summary.Relations),
			zap.Int64("epoch", summary.EpochID))
		fmt.Printf("Processed %d/%d bills, %d relations (epoch %d, %s)\n",
			summary.Processed, summary.Total, summary.Relations,
			summary.EpochID, summary.Elapsed.Round(10*time.Millisecond))
		for reason, n := range summary.Skipped {
			fmt.Printf("  skipped (%s): %d\n", reason, n)
		}
		return nil
	},
}

func init() {
	compareCmd.Flags().IntVar(&compareMax, "max", 0, "process at most N randomly sampled bills (0 = all)")
	compareCmd.Flags().BoolVar(&compareScore, "score", false, "also run the pairwise comparator on top matches")
}
