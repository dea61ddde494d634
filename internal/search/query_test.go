package search

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMinScore(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"short", 100, 20},
		{"boundary 499", 499, 20},
		{"boundary 500", 500, 40},
		{"medium", 999, 40},
		{"boundary 1000", 1000, 50},
		{"long", 1499, 50},
		{"boundary 1500", 1500, 60},
		{"very long", 5000, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Repeat("a", tt.length)
			if got := MinScore(text); got != tt.want {
				t.Errorf("MinScore(len %d) = %d, want %d", tt.length, got, tt.want)
			}
		})
	}
}

func TestNestedMLTQueryShape(t *testing.T) {
	q := NestedMLTQuery("some section text", MLTOptions{ScoreMode: "max", Size: 100})

	if q["size"] != 100 {
		t.Errorf("size = %v", q["size"])
	}
	if q["min_score"] != 20 {
		t.Errorf("min_score = %v, want length-adaptive 20", q["min_score"])
	}

	mlt, ok := DeepGet(q, "query", "nested", "query", "more_like_this")
	if !ok {
		t.Fatal("missing more_like_this clause")
	}
	m := mlt.(map[string]any)
	if m["like"] != "some section text" {
		t.Errorf("like = %v", m["like"])
	}
	if m["min_term_freq"] != MinTermFreq || m["max_query_terms"] != MaxQueryTerms || m["min_doc_freq"] != MinDocFreq {
		t.Errorf("mlt tuning = %v", m)
	}

	if mode := DeepGetString(q, "query", "nested", "score_mode"); mode != "max" {
		t.Errorf("score_mode = %q", mode)
	}
	if path := DeepGetString(q, "query", "nested", "path"); path != "sections" {
		t.Errorf("path = %q", path)
	}
	if _, ok := DeepGet(q, "query", "nested", "inner_hits", "highlight", "fields", "sections.section_text"); !ok {
		t.Error("missing inner_hits highlight on sections.section_text")
	}
}

func TestNestedMLTQueryExplicitMinScore(t *testing.T) {
	q := NestedMLTQuery(strings.Repeat("x", 2000), MLTOptions{MinScore: 25})
	if q["min_score"] != 25 {
		t.Errorf("min_score = %v, want explicit 25", q["min_score"])
	}
}

// Successive calls must return independent objects: mutating one query
// must never leak into the next.
func TestNestedMLTQueryFreshPerCall(t *testing.T) {
	first := NestedMLTQuery("alpha", MLTOptions{})
	pristine := NestedMLTQuery("alpha", MLTOptions{})

	mlt, _ := DeepGet(first, "query", "nested", "query", "more_like_this")
	mlt.(map[string]any)["like"] = "mutated"
	first["size"] = 1

	second := NestedMLTQuery("alpha", MLTOptions{})
	if diff := cmp.Diff(pristine, second); diff != "" {
		t.Errorf("query not fresh per call (-want +got):\n%s", diff)
	}
}

func TestDeepGet(t *testing.T) {
	doc := map[string]any{
		"hits": map[string]any{
			"hits": []any{
				map[string]any{"_id": "117hr21ih", "_score": 41.5},
			},
		},
	}

	if got := DeepGetString(doc, "hits", "hits", 0, "_id"); got != "117hr21ih" {
		t.Errorf("DeepGetString = %q", got)
	}
	if _, ok := DeepGet(doc, "hits", "hits", 1, "_id"); ok {
		t.Error("out-of-range index should not resolve")
	}
	if _, ok := DeepGet(doc, "hits", "missing"); ok {
		t.Error("missing key should not resolve")
	}
	if _, ok := DeepGet(doc, "hits", 0); ok {
		t.Error("int key on a map should not resolve")
	}
	if got := DeepGetInt(doc, "hits", "hits", 0, "_score"); got != 41 {
		t.Errorf("DeepGetInt = %d", got)
	}
	if got := DeepGetString(doc, "hits", "hits", 0, "_score"); got != "" {
		t.Errorf("DeepGetString on number = %q, want empty", got)
	}
}
