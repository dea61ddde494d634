// billsim computes pairwise similarity between legislative bills at
// section granularity: it indexes bill XML into a search engine, runs
// nested more-like-this retrieval per section, folds the hits into
// bill-to-bill relations, and persists the results in SQLite.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aih/billsim/internal/billpath"
	"github.com/aih/billsim/internal/comparematrix"
	"github.com/aih/billsim/internal/config"
	"github.com/aih/billsim/internal/indexer"
	"github.com/aih/billsim/internal/orchestrator"
	"github.com/aih/billsim/internal/search"
	"github.com/aih/billsim/internal/similarity"
	"github.com/aih/billsim/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "billsim",
	Short: "billsim - section-level bill similarity pipeline",
	Long: `billsim finds bills similar to each bill in a corpus of
legislative XML. Bills are indexed section-by-section into a full-text
engine; each section is then queried with a nested more-like-this
query and the per-section hits are folded into ranked bill-to-bill
relations, optionally refined by an external pairwise comparator.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "billsim.yaml", "path to config file")

	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(statusCmd)
}

// pipeline bundles the wired components for one command invocation.
type pipeline struct {
	orch   *orchestrator.Orchestrator
	store  *store.Store
	client *search.Client
}

// buildPipeline wires the components from the loaded configuration.
func buildPipeline() (*pipeline, error) {
	resolver, err := billpath.NewResolver(cfg.Paths.DataRoot, billpath.Layout(cfg.Paths.Layout))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	client := search.NewClient(cfg.Search.BaseURL, cfg.GetSearchTimeout(), cfg.Search.MaxConns, logger)
	engine := similarity.NewEngine(client, cfg.Search.Index, search.MLTOptions{
		ScoreMode: cfg.Search.ScoreMode,
		Size:      cfg.Search.MaxBillsSection,
		MinScore:  cfg.Search.MinScore,
	}, logger)
	bridge := comparematrix.NewBridge(cfg.Comparator.Binary, cfg.GetComparatorTimeout(), logger)
	ix := indexer.New(client, st, cfg.Search.Index, cfg.Search.IndexFull, logger)

	orch := orchestrator.New(orchestrator.Config{
		Resolver: resolver,
		Engine:   engine,
		Indexer:  ix,
		Store:    st,
		Bridge:   bridge,
		Logger:   logger,
		Workers:  cfg.GetWorkers(),
		TopK:     cfg.Pipeline.TopK,
	})
	return &pipeline{orch: orch, store: st, client: client}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, config.ErrInvalid) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
