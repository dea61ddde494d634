// Package orchestrator sequences bill-at-a-time processing: it
// enumerates bill files, runs the similarity pipeline for each over a
// bounded worker pool, persists the results under a fresh currency
// epoch, and sweeps stale rows when the run completes.
package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aih/billsim/internal/billpath"
	"github.com/aih/billsim/internal/comparematrix"
	"github.com/aih/billsim/internal/indexer"
	"github.com/aih/billsim/internal/parser"
	"github.com/aih/billsim/internal/search"
	"github.com/aih/billsim/internal/similarity"
	"github.com/aih/billsim/internal/store"
)

// epochVersion stamps currency epochs created by similarity runs.
const epochVersion = "billsim"

// progressEvery controls how often progress is logged.
const progressEvery = 100

// Summary reports the outcome of a batch run.
type Summary struct {
	Total     int
	Processed int
	Relations int
	// Skipped counts bills dropped per failure kind.
	Skipped map[string]int
	EpochID int64
	Elapsed time.Duration
}

// Orchestrator wires the pipeline components together.
type Orchestrator struct {
	resolver *billpath.Resolver
	engine   *similarity.Engine
	indexer  *indexer.Indexer
	store    *store.Store
	bridge   *comparematrix.Bridge
	logger   *zap.Logger

	workers int
	topK    int
}

// Config wires an Orchestrator. Bridge may be nil when no comparator
// pass is wanted.
type Config struct {
	Resolver *billpath.Resolver
	Engine   *similarity.Engine
	Indexer  *indexer.Indexer
	Store    *store.Store
	Bridge   *comparematrix.Bridge
	Logger   *zap.Logger
	Workers  int
	TopK     int
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 20
	}
	return &Orchestrator{
		resolver: cfg.Resolver,
		engine:   cfg.Engine,
		indexer:  cfg.Indexer,
		store:    cfg.Store,
		bridge:   cfg.Bridge,
		logger:   logger,
		workers:  workers,
		topK:     topK,
	}
}

// sample returns up to max paths drawn uniformly at random. max <= 0
// keeps everything.
func sample(paths []billpath.BillPath, max int) []billpath.BillPath {
	if max <= 0 || max >= len(paths) {
		return paths
	}
	shuffled := make([]billpath.BillPath, len(paths))
	copy(shuffled, paths)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:max]
}

// Compare runs the similarity pipeline over up to max enumerated bills
// (max <= 0 means all). withScore adds the pairwise comparator pass.
// Per-bill failures are counted, never fatal; the final sweep removes
// relation rows from earlier epochs.
func (o *Orchestrator) Compare(ctx context.Context, max int, withScore bool) (Summary, error) {
	start := time.Now()
	summary := Summary{Skipped: make(map[string]int)}

	paths, err := o.resolver.Enumerate()
	if err != nil {
		return summary, err
	}
	paths = sample(paths, max)
	summary.Total = len(paths)

	epoch, err := o.store.CreateEpoch(epochVersion)
	if err != nil {
		return summary, err
	}
	summary.EpochID = epoch.ID

	o.logger.Info("starting comparison run",
		zap.Int("bills", len(paths)),
		zap.Int("workers", o.workers),
		zap.Int64("epoch", epoch.ID),
		zap.Bool("with_score", withScore))

	var mu sync.Mutex
	work := make(chan billpath.BillPath)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.workers; i++ {
		g.Go(func() error {
			for bp := range work {
				relations, err := o.processBill(gctx, bp, epoch.ID, withScore)
				mu.Lock()
				if err != nil {
					summary.Skipped[skipReason(err)]++
					o.logger.Warn("skipping bill",
						zap.String("bill", bp.BillnumberVersion),
						zap.Error(err))
				} else {
					summary.Processed++
					summary.Relations += relations
					if summary.Processed%progressEvery == 0 {
						o.logger.Info("progress",
							zap.Int("processed", summary.Processed),
							zap.Int("total", summary.Total))
					}
				}
				mu.Unlock()
			}
			return nil
		})
	}

	for _, bp := range paths {
		select {
		case work <- bp:
		case <-gctx.Done():
		}
	}
	close(work)

	if err := g.Wait(); err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	if _, err := o.store.Sweep(epoch.ID); err != nil {
		return summary, err
	}

	summary.Elapsed = time.Since(start)
	o.logger.Info("comparison run complete",
		zap.Int("processed", summary.Processed),
		zap.Int("relations", summary.Relations),
		zap.Any("skipped", summary.Skipped),
		zap.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// processBill runs the pipeline for one bill and returns how many
// bill-to-bill relations it produced.
func (o *Orchestrator) processBill(ctx context.Context, bp billpath.BillPath, epochID int64, withScore bool) (int, error) {
	bill, err := parser.ParseFile(bp.FilePath())
	if err != nil {
		return 0, err
	}

	bs, err := o.engine.BillSimilarity(ctx, bp.BillnumberVersion, bill)
	if err != nil {
		return 0, err
	}
	relations := similarity.FoldToBillToBill(bs)

	if err := o.persistRelations(bp, bill, relations, epochID); err != nil {
		return 0, err
	}

	if withScore && o.bridge != nil && len(relations) > 0 {
		if err := o.scoreRelations(ctx, bp, relations, epochID); err != nil {
			return 0, err
		}
	}
	return len(relations), nil
}

// persistRelations writes the query bill, its folded relations, and
// the contributing section edges.
func (o *Orchestrator) persistRelations(bp billpath.BillPath, bill *parser.Bill, relations []similarity.BillToBill, epochID int64) error {
	length := bill.Length
	sectionsNum := len(bill.Sections)
	if _, err := o.store.UpsertBill(store.Bill{
		Billnumber:  billnumberOf(bp.BillnumberVersion),
		Version:     versionOf(bp.BillnumberVersion),
		Length:      &length,
		SectionsNum: &sectionsNum,
	}); err != nil {
		return err
	}

	var b2bs []store.BillToBill
	var edges []store.SectionToSection
	for _, rel := range relations {
		scoreES := rel.ScoreES
		sectionsNum := rel.SectionsNum
		sectionsMatch := rel.SectionsMatch
		b2bs = append(b2bs, store.BillToBill{
			BillnumberVersion:   rel.BillnumberVersion,
			BillnumberVersionTo: rel.BillnumberVersionTo,
			ScoreES:             &scoreES,
			Reasons:             rel.Reasons,
			IdentifiedBy:        rel.IdentifiedBy,
			SectionsNum:         &sectionsNum,
			SectionsMatch:       &sectionsMatch,
			CurrencyID:          epochID,
		})
		for _, sm := range rel.Sections {
			if sm.SectionIDAttr == "" || sm.Match.SectionID == "" {
				continue
			}
			score := sm.Match.ScoreES
			edges = append(edges, store.SectionToSection{
				BillnumberVersion:   rel.BillnumberVersion,
				SectionIDAttr:       sm.SectionIDAttr,
				BillnumberVersionTo: rel.BillnumberVersionTo,
				SectionIDAttrTo:     sm.Match.SectionID,
				Score:               &score,
				CurrencyID:          epochID,
			})
		}
	}

	// Relations and their section edges commit together; a relation row
	// is never visible without its edges.
	return o.store.SaveRelations(b2bs, edges)
}

// scoreRelations runs the pairwise comparator over the query bill and
// its top-K matches and stores the symmetric scores.
func (o *Orchestrator) scoreRelations(ctx context.Context, bp billpath.BillPath, relations []similarity.BillToBill, epochID int64) error {
	// Relations arrive sorted by descending summed score.
	top := relations
	if len(top) > o.topK {
		top = top[:o.topK]
	}

	paths := []string{bp.FilePath()}
	for _, rel := range top {
		target, err := o.resolver.PathFor(rel.BillnumberVersionTo)
		if err != nil {
			o.logger.Warn("cannot resolve comparator target",
				zap.String("bill", rel.BillnumberVersionTo),
				zap.Error(err))
			continue
		}
		paths = append(paths, target.FilePath())
	}

	results, err := o.bridge.Run(ctx, bp.BillnumberVersion, paths)
	if err != nil {
		return err
	}

	var b2bs []store.BillToBill
	for _, res := range results {
		if res.BillnumberVersionTo == bp.BillnumberVersion {
			continue
		}
		score := res.Score
		scoreTo := res.ScoreTo
		b2bs = append(b2bs, store.BillToBill{
			BillnumberVersion:   res.BillnumberVersion,
			BillnumberVersionTo: res.BillnumberVersionTo,
			Score:               &score,
			ScoreTo:             &scoreTo,
			Reasons:             res.Reasons,
			IdentifiedBy:        comparematrix.IdentifiedBy,
			CurrencyID:          epochID,
		})
	}
	return o.store.SaveBillToBillBulk(b2bs)
}

// Index enumerates all bills and loads them into the search engine.
func (o *Orchestrator) Index(ctx context.Context, opts indexer.Options, recreate bool) (Summary, error) {
	start := time.Now()
	summary := Summary{Skipped: make(map[string]int)}

	if err := o.indexer.EnsureIndices(ctx, recreate, opts.WithFull); err != nil {
		return summary, err
	}

	paths, err := o.resolver.Enumerate()
	if err != nil {
		return summary, err
	}
	summary.Total = len(paths)

	o.logger.Info("starting index run",
		zap.Int("bills", len(paths)),
		zap.Int("workers", o.workers))

	var mu sync.Mutex
	work := make(chan billpath.BillPath)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.workers; i++ {
		g.Go(func() error {
			for bp := range work {
				res, err := o.indexer.IndexBill(gctx, bp, opts)
				mu.Lock()
				switch {
				case err != nil:
					summary.Skipped[skipReason(err)]++
					o.logger.Warn("skipping bill",
						zap.String("bill", bp.BillnumberVersion),
						zap.Error(err))
				case res.Skipped:
					summary.Skipped["already_indexed"]++
				default:
					summary.Processed++
					if summary.Processed%progressEvery == 0 {
						o.logger.Info("progress",
							zap.Int("processed", summary.Processed),
							zap.Int("total", summary.Total))
					}
				}
				mu.Unlock()
			}
			return nil
		})
	}

	for _, bp := range paths {
		select {
		case work <- bp:
		case <-gctx.Done():
		}
	}
	close(work)

	if err := g.Wait(); err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	summary.Elapsed = time.Since(start)
	o.logger.Info("index run complete",
		zap.Int("processed", summary.Processed),
		zap.Any("skipped", summary.Skipped),
		zap.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// skipReason buckets a per-bill failure for the run summary.
func skipReason(err error) string {
	var perr *parser.ParseError
	if errors.As(err, &perr) {
		return "parse"
	}
	var qerr *search.QueryError
	if errors.As(err, &qerr) {
		return "query"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}

func billnumberOf(bnv string) string {
	bn, err := billpath.ParseBillnumber(bnv)
	if err != nil {
		return bnv
	}
	return bn.String()
}

func versionOf(bnv string) string {
	bn, err := billpath.ParseBillnumber(bnv)
	if err != nil {
		return ""
	}
	return bn.Version
}
