package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aih/billsim/internal/indexer"
)

var (
	indexReindex  bool
	indexRecreate bool
	indexWithFull bool
)

// indexCmd loads the corpus into the search engine.
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index bill XML into the search engine",
	Long: `Enumerates bill files under the data root and indexes each as
a nested per-section document. Bills already present in the index are
skipped unless --reindex is set. Each indexed bill is also mirrored
into the relational store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline()
		if err != nil {
			return err
		}
		defer p.store.Close()

		summary, err := p.orch.Index(cmd.Context(), indexer.Options{
			Reindex:  indexReindex,
			WithFull: indexWithFull,
		}, indexRecreate)
		if err != nil {
			return err
		}

		logger.Info("done", zap.Int("indexed", summary.Processed))
		fmt.Printf("Indexed %d/%d bills (%s)\n",
			summary.Processed, summary.Total,
			summary.Elapsed.Round(10*time.Millisecond))
		for reason, n := range summary.Skipped {
			fmt.Printf("  skipped (%s): %d\n", reason, n)
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().BoolVar(&indexReindex, "reindex", false, "re-submit bills already present in the index")
	indexCmd.Flags().BoolVar(&indexRecreate, "recreate", false, "delete and recreate the indices first")
	indexCmd.Flags().BoolVar(&indexWithFull, "with-full", false, "also index whole-bill documents")
}
