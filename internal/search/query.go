package search

import "unicode/utf8"

// MLT tuning shared by every section query.
const (
	MinTermFreq   = 2
	MaxQueryTerms = 30
	MinDocFreq    = 2
)

// MinScore returns the length-adaptive score floor for a query text.
// Short sections match almost anything at low scores; the floor rises
// with length so the max score mode stays usable.
func MinScore(text string) int {
	length := utf8.RuneCountInString(text)
	switch {
	case length < 500:
		return 20
	case length < 1000:
		return 40
	case length < 1500:
		return 50
	default:
		return 60
	}
}

// MLTOptions tunes a nested more-like-this query.
type MLTOptions struct {
	// ScoreMode is the nested score mode: avg, max or sum.
	ScoreMode string
	// Size bounds the number of outer hits.
	Size int
	// MinScore overrides the length-adaptive floor when positive.
	MinScore int
}

// NestedMLTQuery builds a nested more-like-this query over section
// text. A fresh query object is returned on every call; callers may
// mutate the result freely.
func NestedMLTQuery(text string, opts MLTOptions) map[string]any {
	scoreMode := opts.ScoreMode
	if scoreMode == "" {
		scoreMode = "max"
	}
	size := opts.Size
	if size <= 0 {
		size = 100
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = MinScore(text)
	}

	return map[string]any{
		"size":      size,
		"min_score": minScore,
		"_source":   []any{"id", "congress", "session"},
		"query": map[string]any{
			"nested": map[string]any{
				"score_mode": scoreMode,
				"path":       "sections",
				"query": map[string]any{
					"more_like_this": map[string]any{
						"fields":          []any{"sections.section_text"},
						"like":            text,
						"min_term_freq":   MinTermFreq,
						"max_query_terms": MaxQueryTerms,
						"min_doc_freq":    MinDocFreq,
					},
				},
				"inner_hits": map[string]any{
					"_source": []any{
						"sections.section_id", "sections.section_number",
						"sections.section_header", "sections.section_length",
					},
					"highlight": map[string]any{
						"fields": map[string]any{
							"sections.section_text": map[string]any{},
						},
					},
				},
			},
		},
	}
}
