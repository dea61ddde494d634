// Package indexer assembles search documents from parsed bills and
// loads them into the search engine, mirroring each indexed bill into
// the relational store.
package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aih/billsim/internal/billpath"
	"github.com/aih/billsim/internal/parser"
	"github.com/aih/billsim/internal/search"
	"github.com/aih/billsim/internal/store"
)

// SectionDoc is one nested section in the search document.
type SectionDoc struct {
	SectionID     string `json:"section_id"`
	SectionNumber string `json:"section_number"`
	SectionHeader string `json:"section_header"`
	SectionText   string `json:"section_text"`
	SectionXML    string `json:"section_xml"`
	SectionLength int    `json:"section_length"`
}

// BillDoc is the per-section search document, keyed by
// billnumber_version.
type BillDoc struct {
	ID          string       `json:"id"`
	Congress    string       `json:"congress"`
	Session     string       `json:"session"`
	DCTitle     string       `json:"dctitle"`
	Date        string       `json:"date,omitempty"`
	LegisNum    string       `json:"legisnum"`
	Billnumber  string       `json:"billnumber"`
	BillVersion string       `json:"billversion"`
	Length      int          `json:"length"`
	Headers     []string     `json:"headers"`
	Sections    []SectionDoc `json:"sections"`
}

// BillFullDoc is the whole-bill search document.
type BillFullDoc struct {
	ID          string   `json:"id"`
	Congress    string   `json:"congress"`
	Session     string   `json:"session"`
	DCTitle     string   `json:"dctitle"`
	Date        string   `json:"date,omitempty"`
	LegisNum    string   `json:"legisnum"`
	Billnumber  string   `json:"billnumber"`
	BillVersion string   `json:"billversion"`
	Length      int      `json:"length"`
	Headers     []string `json:"headers"`
	BillText    string   `json:"bill_text"`
}

// Options tunes an indexing run.
type Options struct {
	// Reindex re-submits bills already present in the index.
	Reindex bool
	// WithFull also writes the whole-bill document.
	WithFull bool
}

// Result reports the outcome for one bill.
type Result struct {
	BillnumberVersion string
	Skipped           bool
	Sections          int
}

// Indexer loads bills into the search engine and the store.
type Indexer struct {
	client    *search.Client
	store     *store.Store
	index     string
	indexFull string
	logger    *zap.Logger
}

// New creates an indexer over the given indices.
func New(client *search.Client, st *store.Store, index, indexFull string, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{client: client, store: st, index: index, indexFull: indexFull, logger: logger}
}

// EnsureIndices creates the search indices, deleting them first when
// recreate is set.
func (ix *Indexer) EnsureIndices(ctx context.Context, recreate, withFull bool) error {
	if recreate {
		if err := ix.client.DeleteIndex(ctx, ix.index); err != nil {
			return err
		}
		if withFull {
			if err := ix.client.DeleteIndex(ctx, ix.indexFull); err != nil {
				return err
			}
		}
	}
	if err := ix.client.CreateIndex(ctx, ix.index, search.SectionMapping); err != nil {
		return fmt.Errorf("failed to create index %s: %w", ix.index, err)
	}
	if withFull {
		if err := ix.client.CreateIndex(ctx, ix.indexFull, search.BillFullMapping); err != nil {
			return fmt.Errorf("failed to create index %s: %w", ix.indexFull, err)
		}
	}
	return nil
}

// IndexBill parses and indexes one bill. Without Reindex, a bill whose
// document already exists is skipped.
func (ix *Indexer) IndexBill(ctx context.Context, bp billpath.BillPath, opts Options) (Result, error) {
	res := Result{BillnumberVersion: bp.BillnumberVersion}

	if !opts.Reindex {
		exists, err := ix.client.Exists(ctx, ix.index, bp.BillnumberVersion)
		if err != nil {
			return res, fmt.Errorf("failed to check %s: %w", bp.BillnumberVersion, err)
		}
		if exists {
			res.Skipped = true
			ix.logger.Debug("bill already indexed", zap.String("bill", bp.BillnumberVersion))
			return res, nil
		}
	}

	bill, err := parser.ParseFile(bp.FilePath())
	if err != nil {
		return res, err
	}

	doc := BuildDocument(bp.BillnumberVersion, bill)
	if err := ix.client.IndexDoc(ctx, ix.index, doc.ID, doc); err != nil {
		return res, fmt.Errorf("failed to index %s: %w", doc.ID, err)
	}
	if opts.WithFull {
		full := BuildFullDocument(bp.BillnumberVersion, bill)
		if err := ix.client.IndexDoc(ctx, ix.indexFull, full.ID, full); err != nil {
			return res, fmt.Errorf("failed to index full %s: %w", full.ID, err)
		}
	}

	if err := ix.persist(doc, bill); err != nil {
		return res, err
	}

	res.Sections = len(doc.Sections)
	ix.logger.Info("indexed bill",
		zap.String("bill", doc.ID),
		zap.Int("sections", res.Sections))
	return res, nil
}

// persist mirrors the indexed bill into the relational store. Sections
// without an id attribute are skipped.
func (ix *Indexer) persist(doc BillDoc, bill *parser.Bill) error {
	if ix.store == nil {
		return nil
	}

	length := bill.Length
	sectionsNum := len(bill.Sections)
	if _, err := ix.store.UpsertBill(store.Bill{
		Billnumber:  doc.Billnumber,
		Version:     doc.BillVersion,
		Length:      &length,
		SectionsNum: &sectionsNum,
	}); err != nil {
		return err
	}

	for _, sec := range bill.Sections {
		if sec.IDAttr == "" {
			continue
		}
		secLength := sec.Length
		if _, err := ix.store.UpsertSectionItem(store.SectionItem{
			BillnumberVersion: doc.ID,
			SectionIDAttr:     sec.IDAttr,
			Label:             sec.Label,
			Header:            sec.Header,
			Length:            &secLength,
		}); err != nil {
			return err
		}
	}
	return nil
}

// BuildDocument assembles the nested search document for a bill.
func BuildDocument(bnv string, bill *parser.Bill) BillDoc {
	billnumber, version := splitBillnumber(bnv)

	doc := BillDoc{
		ID:          bnv,
		Congress:    bill.Congress,
		Session:     bill.Session,
		DCTitle:     bill.Title,
		Date:        bill.Date,
		LegisNum:    bill.LegisNum,
		Billnumber:  billnumber,
		BillVersion: version,
		Length:      bill.Length,
		Headers:     dedupeHeaders(bill.AllHeaders),
	}
	for _, sec := range bill.Sections {
		doc.Sections = append(doc.Sections, SectionDoc{
			SectionID:     sec.IDAttr,
			SectionNumber: sec.Label,
			SectionHeader: sec.Header,
			SectionText:   sec.Text,
			SectionXML:    sec.XML,
			SectionLength: sec.Length,
		})
	}
	return doc
}

// BuildFullDocument assembles the whole-bill document from the parsed
// sections and metadata.
func BuildFullDocument(bnv string, bill *parser.Bill) BillFullDoc {
	billnumber, version := splitBillnumber(bnv)

	var text string
	for _, sec := range bill.Sections {
		if text != "" {
			text += "\n"
		}
		text += sec.Text
	}
	return BillFullDoc{
		ID:          bnv,
		Congress:    bill.Congress,
		Session:     bill.Session,
		DCTitle:     bill.Title,
		Date:        bill.Date,
		LegisNum:    bill.LegisNum,
		Billnumber:  billnumber,
		BillVersion: version,
		Length:      bill.Length,
		Headers:     dedupeHeaders(bill.AllHeaders),
		BillText:    text,
	}
}

// dedupeHeaders drops duplicate headings while preserving first-seen
// order.
func dedupeHeaders(headers []string) []string {
	seen := make(map[string]bool, len(headers))
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// splitBillnumber splits a billnumber_version identifier into its
// billnumber and version parts. Malformed identifiers yield the input
// unchanged with an empty version.
func splitBillnumber(bnv string) (string, string) {
	bn, err := billpath.ParseBillnumber(bnv)
	if err != nil {
		return bnv, ""
	}
	return bn.String(), bn.Version
}
