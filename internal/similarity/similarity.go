// Package similarity runs per-section nested more-like-this retrieval
// and folds section-level hits into bill-to-bill relations.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/aih/billsim/internal/parser"
	"github.com/aih/billsim/internal/search"
)

// IdentifiedByES tags relations produced by the search-engine fold.
const IdentifiedByES = "BillToBill_ES"

// SimilarSection is one candidate match for a query section: the outer
// hit's bill plus its best-matching section (the first inner hit).
type SimilarSection struct {
	// BillnumberVersion identifies the matched bill, e.g. "116hr200ih".
	BillnumberVersion string
	Congress          string
	Session           string

	// ScoreES is the engine score of the outer hit.
	ScoreES float64

	SectionID     string
	SectionNumber string
	SectionHeader string
	SectionLength int
	Highlight     string
}

// Section is a query bill section with its candidate matches.
type Section struct {
	SectionIDAttr   string
	Label           string
	Header          string
	Length          int
	SimilarSections []SimilarSection
}

// BillSections is the per-section similarity result for one bill.
type BillSections struct {
	BillnumberVersion string
	Length            int
	Sections          []Section
}

// BillToBill is a folded bill-to-bill relation.
type BillToBill struct {
	BillnumberVersion   string
	BillnumberVersionTo string

	// ScoreES is the sum of the engine scores of every contributing
	// section hit.
	ScoreES float64

	// Score and ScoreTo come from the pairwise comparator; nil until it
	// has run.
	Score   *float64
	ScoreTo *float64

	Reasons      []string
	IdentifiedBy string

	// SectionsNum counts the query bill's sections; SectionsMatch
	// counts those with a hit on the target bill.
	SectionsNum   int
	SectionsMatch int

	// Sections carries the contributing hits, one per matched query
	// section, paired with that section's id attribute.
	Sections []SectionMatch
}

// SectionMatch pairs a query section with its hit on the target bill.
type SectionMatch struct {
	SectionIDAttr string
	Match         SimilarSection
}

// Engine issues section queries against the search index.
type Engine struct {
	client *search.Client
	index  string
	opts   search.MLTOptions
	logger *zap.Logger
}

// NewEngine creates a similarity engine over the given section index.
func NewEngine(client *search.Client, index string, opts search.MLTOptions, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{client: client, index: index, opts: opts, logger: logger}
}

// SimilarSections retrieves candidate matches for one piece of section
// text. Outer hits without a usable id or inner hit are dropped.
func (e *Engine) SimilarSections(ctx context.Context, text string) ([]SimilarSection, error) {
	query := search.NestedMLTQuery(text, e.opts)
	resp, err := e.client.Search(ctx, e.index, query)
	if err != nil {
		return nil, fmt.Errorf("section query failed: %w", err)
	}

	var out []SimilarSection
	for _, hit := range resp.Hits.Hits {
		ss, ok := projectHit(hit)
		if !ok {
			e.logger.Debug("dropping malformed hit", zap.String("id", hit.ID))
			continue
		}
		out = append(out, ss)
	}
	return out, nil
}

// projectHit maps one outer hit and its first inner hit to a
// SimilarSection.
func projectHit(hit search.Hit) (SimilarSection, bool) {
	id := search.DeepGetString(hit.Source, "id")
	if id == "" {
		return SimilarSection{}, false
	}
	inner, ok := hit.InnerHits["sections"]
	if !ok || len(inner.Hits.Hits) == 0 {
		return SimilarSection{}, false
	}
	first := inner.Hits.Hits[0]

	ss := SimilarSection{
		BillnumberVersion: id,
		Congress:          search.DeepGetString(hit.Source, "congress"),
		Session:           search.DeepGetString(hit.Source, "session"),
		ScoreES:           hit.Score,
		SectionID:         search.DeepGetString(first.Source, "section_id"),
		SectionNumber:     search.DeepGetString(first.Source, "section_number"),
		SectionHeader:     search.DeepGetString(first.Source, "section_header"),
		SectionLength:     search.DeepGetInt(first.Source, "section_length"),
	}
	if hl := first.Highlight["sections.section_text"]; len(hl) > 0 {
		ss.Highlight = hl[0]
	}
	return ss, true
}

// BillSimilarity runs one section query per parsed section and returns
// the assembled per-section results. A bill with no sections yields an
// empty, valid result. A query rejected by the engine drops that
// section's matches and the remaining sections still proceed; only
// infrastructure errors abort the bill.
func (e *Engine) BillSimilarity(ctx context.Context, bnv string, bill *parser.Bill) (BillSections, error) {
	bs := BillSections{BillnumberVersion: bnv, Length: bill.Length}
	for _, sec := range bill.Sections {
		similar, err := e.SimilarSections(ctx, sec.Text)
		if err != nil {
			var qe *search.QueryError
			if !errors.As(err, &qe) {
				return BillSections{}, fmt.Errorf("section %q: %w", sec.IDAttr, err)
			}
			e.logger.Warn("section query rejected, skipping section",
				zap.String("bill", bnv),
				zap.String("section", sec.IDAttr),
				zap.Int("status", qe.Status))
			similar = nil
		}
		bs.Sections = append(bs.Sections, Section{
			SectionIDAttr:   sec.IDAttr,
			Label:           sec.Label,
			Header:          sec.Header,
			Length:          sec.Length,
			SimilarSections: similar,
		})
	}
	return bs, nil
}

// FoldToBillToBill aggregates section-level hits into one relation per
// target bill. Hits on the query bill itself and hits without a target
// id are dropped. Results are ordered by descending summed score.
func FoldToBillToBill(bs BillSections) []BillToBill {
	byTarget := make(map[string]*BillToBill)
	var order []string

	for _, sec := range bs.Sections {
		// A section matches a target at most once: the first hit
		// establishes the link, later hits on the same target only add
		// to the score sum.
		matched := make(map[string]bool)
		for _, hit := range sec.SimilarSections {
			if hit.BillnumberVersion == "" || hit.BillnumberVersion == bs.BillnumberVersion {
				continue
			}
			b2b, ok := byTarget[hit.BillnumberVersion]
			if !ok {
				b2b = &BillToBill{
					BillnumberVersion:   bs.BillnumberVersion,
					BillnumberVersionTo: hit.BillnumberVersion,
					IdentifiedBy:        IdentifiedByES,
					SectionsNum:         len(bs.Sections),
				}
				byTarget[hit.BillnumberVersion] = b2b
				order = append(order, hit.BillnumberVersion)
			}
			b2b.ScoreES += hit.ScoreES
			if !matched[hit.BillnumberVersion] {
				matched[hit.BillnumberVersion] = true
				b2b.SectionsMatch++
				b2b.Sections = append(b2b.Sections, SectionMatch{
					SectionIDAttr: sec.SectionIDAttr,
					Match:         hit,
				})
			}
		}
	}

	out := make([]BillToBill, 0, len(order))
	for _, id := range order {
		out = append(out, *byTarget[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScoreES > out[j].ScoreES })
	return out
}
