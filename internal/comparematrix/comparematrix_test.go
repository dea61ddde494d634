package comparematrix

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

const sampleMatrix = `[
  [
    {"ComparedDocs": "117hr21ih-117hr21ih", "Score": 1.0, "ScoreOther": 1.0, "Explanation": "identical"},
    {"ComparedDocs": "117hr21ih-116hr200ih", "Score": 0.63, "ScoreOther": 0.79, "Explanation": "incorporates, some sections match"}
  ],
  [
    {"ComparedDocs": "116hr200ih-117hr21ih", "Score": 0.79, "ScoreOther": 0.63, "Explanation": "incorporated by"},
    {"ComparedDocs": "116hr200ih-116hr200ih", "Score": 1.0, "ScoreOther": 1.0, "Explanation": "identical"}
  ]
]`

func TestParseOutput(t *testing.T) {
	stdout := "some log noise\n:compareMatrix:" + sampleMatrix + ":compareMatrix:\ntrailing"
	got := ParseOutput(stdout, "117hr21ih")

	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(got), got)
	}
	self := got[0]
	if self.BillnumberVersionTo != "117hr21ih" || self.Score != 1.0 {
		t.Errorf("self row = %+v", self)
	}
	r := got[1]
	if r.BillnumberVersionTo != "116hr200ih" {
		t.Errorf("target = %q", r.BillnumberVersionTo)
	}
	if r.Score != 0.63 || r.ScoreTo != 0.79 {
		t.Errorf("scores = %v/%v", r.Score, r.ScoreTo)
	}
	if len(r.Reasons) != 2 || r.Reasons[0] != "incorporates" || r.Reasons[1] != "some sections match" {
		t.Errorf("reasons = %v", r.Reasons)
	}
}

func TestParseOutputKeepsOnlyQueryRows(t *testing.T) {
	stdout := ":compareMatrix:" + sampleMatrix + ":compareMatrix:"
	got := ParseOutput(stdout, "116hr200ih")
	for _, r := range got {
		if r.BillnumberVersion != "116hr200ih" {
			t.Errorf("foreign row consumed: %+v", r)
		}
	}
	if len(got) != 2 {
		t.Errorf("expected 2 rows for 116hr200ih, got %d", len(got))
	}
}

func TestParseOutputTolerance(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
	}{
		{"empty", ""},
		{"no frame", sampleMatrix},
		{"single delimiter", ":compareMatrix:" + sampleMatrix},
		{"empty frame", ":compareMatrix::compareMatrix:"},
		{"whitespace frame", ":compareMatrix:  \n :compareMatrix:"},
		{"bad json", ":compareMatrix:{not json]:compareMatrix:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseOutput(tt.stdout, "117hr21ih"); got != nil {
				t.Errorf("expected nil, got %+v", got)
			}
		})
	}
}

func TestParseOutputMalformedComparedDocs(t *testing.T) {
	stdout := `:compareMatrix:[[
	  {"ComparedDocs": "117hr21ih", "Score": 1.0},
	  {"ComparedDocs": "-116hr200ih", "Score": 0.5},
	  {"ComparedDocs": "117hr21ih-", "Score": 0.5}
	]]:compareMatrix:`
	if got := ParseOutput(stdout, "117hr21ih"); got != nil {
		t.Errorf("malformed ComparedDocs should be dropped, got %+v", got)
	}
}

func TestRunEchoComparator(t *testing.T) {
	// A stand-in comparator that prints a framed matrix.
	script := `echo ':compareMatrix:[[{"ComparedDocs":"117hr21ih-116hr200ih","Score":0.5,"ScoreOther":0.4,"Explanation":"some sections match"}]]:compareMatrix:'`
	b := NewBridge("/bin/sh", 5*time.Second, zap.NewNop())

	results, err := b.runWith(context.Background(), "117hr21ih", []string{"-c", script})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 || results[0].BillnumberVersionTo != "116hr200ih" {
		t.Errorf("results = %+v", results)
	}
}

func TestRunTimeoutYieldsEmpty(t *testing.T) {
	b := NewBridge("/bin/sh", 50*time.Millisecond, zap.NewNop())
	results, err := b.runWith(context.Background(), "117hr21ih", []string{"-c", "sleep 5"})
	if err != nil {
		t.Fatalf("timeout should not surface an error: %v", err)
	}
	if results != nil {
		t.Errorf("expected empty results on timeout, got %+v", results)
	}
}

func TestRunMissingBinaryYieldsEmpty(t *testing.T) {
	b := NewBridge("/nonexistent/comparematrix", time.Second, zap.NewNop())
	results, err := b.Run(context.Background(), "117hr21ih", []string{"/a.xml", "/b.xml"})
	if err != nil {
		t.Fatalf("missing binary should not surface an error: %v", err)
	}
	if results != nil {
		t.Errorf("expected empty results, got %+v", results)
	}
}

func TestRunFewerThanTwoBills(t *testing.T) {
	b := NewBridge("/bin/true", time.Second, zap.NewNop())
	results, err := b.Run(context.Background(), "117hr21ih", []string{"/only.xml"})
	if err != nil || results != nil {
		t.Errorf("single path should be a no-op, got %+v, %v", results, err)
	}
}
