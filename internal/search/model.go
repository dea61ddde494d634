package search

import "encoding/json"

// SearchResponse is the engine's query response envelope. Document
// sources stay dynamic; use DeepGet to traverse them.
type SearchResponse struct {
	Took     int  `json:"took"`
	TimedOut bool `json:"timed_out"`
	Hits     Hits `json:"hits"`
}

// Hits is the outer hit collection.
type Hits struct {
	Total    Total   `json:"total"`
	MaxScore float64 `json:"max_score"`
	Hits     []Hit   `json:"hits"`
}

// Total carries the hit count. Older engines report a bare integer;
// newer ones an object with value/relation.
type Total struct {
	Value    int    `json:"value"`
	Relation string `json:"relation"`
}

// UnmarshalJSON accepts both the bare-integer and object forms.
func (t *Total) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] != '{' {
		var v int
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		t.Value = v
		t.Relation = "eq"
		return nil
	}
	type object Total
	var v object
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = Total(v)
	return nil
}

// Hit is one outer or inner hit.
type Hit struct {
	Index     string               `json:"_index"`
	ID        string               `json:"_id"`
	Score     float64              `json:"_score"`
	Nested    *NestedID            `json:"_nested,omitempty"`
	Source    map[string]any       `json:"_source"`
	InnerHits map[string]InnerHits `json:"inner_hits,omitempty"`
	Highlight map[string][]string  `json:"highlight,omitempty"`
}

// NestedID identifies the nested object an inner hit came from.
type NestedID struct {
	Field  string `json:"field"`
	Offset int    `json:"offset"`
}

// InnerHits is the nested inner-hit block keyed by path.
type InnerHits struct {
	Hits Hits `json:"hits"`
}
