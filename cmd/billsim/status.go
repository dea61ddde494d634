package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd reports store and index counts.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store and search index counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline()
		if err != nil {
			return err
		}
		defer p.store.Close()

		stats, err := p.store.Stats()
		if err != nil {
			return err
		}
		fmt.Println("Store:")
		for _, table := range []string{"bill", "section_item", "bill_to_bill", "section_to_section", "currency"} {
			fmt.Printf("  %-20s %d\n", table, stats[table])
		}

		if epoch, err := p.store.LatestEpoch(); err == nil {
			fmt.Printf("Latest epoch: %d (run %s, %s)\n", epoch.ID, epoch.RunID, epoch.CreatedAt)
		}

		if n, err := p.client.Count(cmd.Context(), cfg.Search.Index); err == nil {
			fmt.Printf("Search index %q: %d documents\n", cfg.Search.Index, n)
		} else {
			fmt.Printf("Search index %q: unreachable (%v)\n", cfg.Search.Index, err)
		}
		return nil
	},
}
