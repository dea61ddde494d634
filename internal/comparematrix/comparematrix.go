// Package comparematrix drives the external pairwise comparator. The
// comparator takes a comma-separated list of bill file paths and
// prints an NxN matrix of pairwise scores as JSON, framed between
// ":compareMatrix:" delimiters on stdout.
package comparematrix

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// IdentifiedBy tags relations produced by the comparator.
const IdentifiedBy = "comparematrix"

// frameDelimiter separates the JSON matrix from surrounding log noise
// on the comparator's stdout.
const frameDelimiter = ":compareMatrix:"

// maxOutput caps captured comparator output.
const maxOutput = 16 << 20

// Result is one directed pairwise comparison consumed from the matrix.
type Result struct {
	BillnumberVersion   string
	BillnumberVersionTo string
	Score               float64
	ScoreTo             float64
	Reasons             []string
}

// cell mirrors one matrix entry as the comparator prints it.
type cell struct {
	ComparedDocs string  `json:"ComparedDocs"`
	Score        float64 `json:"Score"`
	ScoreOther   float64 `json:"ScoreOther"`
	Explanation  string  `json:"Explanation"`
}

// Bridge runs the comparator executable.
type Bridge struct {
	binary  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewBridge creates a bridge to the comparator binary with a
// wall-clock timeout per invocation.
func NewBridge(binary string, timeout time.Duration, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{binary: binary, timeout: timeout, logger: logger}
}

// Run compares the bills at the given absolute paths and returns the
// rows where the query bill is the "from" side. A timeout or
// unparseable output yields an empty result, never a partial one.
func (b *Bridge) Run(ctx context.Context, queryBnv string, absPaths []string) ([]Result, error) {
	if len(absPaths) < 2 {
		return nil, nil
	}
	return b.runWith(ctx, queryBnv, []string{"-abspaths", strings.Join(absPaths, ",")})
}

// runWith invokes the binary with raw arguments and parses its framed
// output.
func (b *Bridge) runWith(ctx context.Context, queryBnv string, args []string) ([]Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.binary, args...)
	var stdout, stderr limitedWriter
	stdout.limit = maxOutput
	stderr.limit = 1 << 20
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		b.logger.Error("comparator timed out",
			zap.String("bill", queryBnv),
			zap.Duration("timeout", b.timeout))
		return nil, nil
	}
	if err != nil {
		b.logger.Error("comparator failed",
			zap.String("bill", queryBnv),
			zap.Error(err),
			zap.String("stderr", stderr.String()))
		return nil, nil
	}

	results := ParseOutput(stdout.String(), queryBnv)
	b.logger.Debug("comparator finished",
		zap.String("bill", queryBnv),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", elapsed))
	return results, nil
}

// ParseOutput extracts the framed matrix from comparator stdout and
// keeps the rows whose ComparedDocs begins with the query bill.
// Missing frames or malformed JSON yield an empty result.
func ParseOutput(stdout, queryBnv string) []Result {
	parts := strings.Split(stdout, frameDelimiter)
	if len(parts) < 3 || strings.TrimSpace(parts[1]) == "" {
		return nil
	}

	var matrix [][]cell
	if err := json.Unmarshal([]byte(parts[1]), &matrix); err != nil {
		return nil
	}

	var out []Result
	for _, row := range matrix {
		for _, c := range row {
			from, to, ok := strings.Cut(c.ComparedDocs, "-")
			if !ok || from == "" || to == "" || from != queryBnv {
				continue
			}
			out = append(out, Result{
				BillnumberVersion:   from,
				BillnumberVersionTo: to,
				Score:               c.Score,
				ScoreTo:             c.ScoreOther,
				Reasons:             splitReasons(c.Explanation),
			})
		}
	}
	return out
}

// splitReasons splits a comma-separated explanation into trimmed,
// non-empty reasons.
func splitReasons(explanation string) []string {
	var out []string
	for _, r := range strings.Split(explanation, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// limitedWriter captures output up to a byte limit and discards the
// rest.
type limitedWriter struct {
	buf   strings.Builder
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.buf.Len() < w.limit {
		remain := w.limit - w.buf.Len()
		if len(p) > remain {
			w.buf.Write(p[:remain])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}

func (w *limitedWriter) String() string { return w.buf.String() }
