package store

import (
	"sort"
	"strings"
)

// Bill is one bill version. (Billnumber, Version) is unique.
type Bill struct {
	ID          int64
	Billnumber  string
	Version     string
	Length      *int
	SectionsNum *int
}

// BillnumberVersion returns the concatenated identifier.
func (b Bill) BillnumberVersion() string {
	return b.Billnumber + b.Version
}

// SectionItem is one persisted top-level section.
// (BillnumberVersion, SectionIDAttr) is unique.
type SectionItem struct {
	ID                int64
	BillnumberVersion string
	SectionIDAttr     string
	Label             string
	Header            string
	Length            *int
}

// BillToBill is a directed similarity edge between two bill versions.
// Nil score and count fields leave existing column values untouched on
// upsert.
type BillToBill struct {
	BillnumberVersion   string
	BillnumberVersionTo string
	ScoreES             *float64
	Score               *float64
	ScoreTo             *float64
	Reasons             []string
	IdentifiedBy        string
	SectionsNum         *int
	SectionsMatch       *int
	CurrencyID          int64
}

// SectionToSection is a directed similarity edge between two sections.
type SectionToSection struct {
	BillnumberVersion   string
	SectionIDAttr       string
	BillnumberVersionTo string
	SectionIDAttrTo     string
	Score               *float64
	CurrencyID          int64
}

// CurrencyEpoch marks one batch run. Rows stamped with an older epoch
// are swept after the next full run completes.
type CurrencyEpoch struct {
	ID        int64
	Version   string
	RunID     string
	CreatedAt string
}

// MergeReasons set-unions two comma-separated reason strings,
// preserving first-seen order.
func MergeReasons(existing, incoming string) string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range append(strings.Split(existing, ","), strings.Split(incoming, ",")...) {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return strings.Join(out, ", ")
}

// JoinReasons joins reason tags into the stored form, dropping
// duplicates.
func JoinReasons(reasons []string) string {
	return MergeReasons("", strings.Join(reasons, ","))
}

// SplitReasons splits a stored reasonsstring back into tags.
func SplitReasons(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// sortedKeys returns map keys in a stable order for deterministic bulk
// statements.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
