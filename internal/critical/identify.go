// Package critical ranks stops by structural importance and describes the
// top-ranked ones.
package critical

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"go.uber.org/zap"

	"gtfs-resilience/internal/graph"
)

var (
	ErrUnknownMethod = errors.New("critical: unknown centrality method")
	ErrNodeNotFound  = errors.New("critical: node not found")
)

type Method string

const (
	Betweenness Method = "betweenness"
	Degree      Method = "degree"
	Closeness   Method = "closeness"
	Eigenvector Method = "eigenvector"
	Katz        Method = "katz"
)

// ParseMethod resolves a method name, case-insensitively.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case Betweenness, Degree, Closeness, Eigenvector, Katz:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Options holds the approximation policy.
type Options struct {
	// ExactLimit is the largest node count for which betweenness uses every
	// node as a source.
	ExactLimit int
	// Samples is the default number of betweenness sources above ExactLimit.
	Samples int
	// Seed drives source sampling.
	Seed uint64
	// KatzAlpha is the attenuation factor. It is lowered to 0.9/lambda_max
	// when it would make the series diverge.
	KatzAlpha float64
	MaxIter   int
	Tolerance float64
}

func DefaultOptions() Options {
	return Options{
		ExactLimit: 1000,
		Samples:    500,
		Seed:       42,
		KatzAlpha:  0.1,
		MaxIter:    1000,
		Tolerance:  1e-6,
	}
}

// Scored is a node and its centrality. Scores are only comparable within
// one method.
type Scored struct {
	NodeID string  `json:"node_id"`
	Score  float64 `json:"score"`
}

// Ranking is the ordered result of Identify plus how it was computed.
type Ranking struct {
	Method Method   `json:"method"`
	Nodes  []Scored `json:"nodes"`
	// Approximate is set when betweenness used fewer sources than nodes.
	Approximate bool `json:"approximate"`
	Sources     int  `json:"sources,omitempty"`
	// Converged reports whether the iterative methods met the tolerance.
	Converged bool    `json:"converged"`
	Alpha     float64 `json:"alpha,omitempty"`
}

// IDs lists the ranked node ids in order.
func (r Ranking) IDs() []string {
	out := make([]string, len(r.Nodes))
	for i, s := range r.Nodes {
		out[i] = s.NodeID
	}
	return out
}

type Analyzer struct {
	opts   Options
	logger *zap.Logger
}

func NewAnalyzer(opts Options, logger *zap.Logger) *Analyzer {
	d := DefaultOptions()
	if opts.ExactLimit <= 0 {
		opts.ExactLimit = d.ExactLimit
	}
	if opts.Samples <= 0 {
		opts.Samples = d.Samples
	}
	if opts.KatzAlpha <= 0 {
		opts.KatzAlpha = d.KatzAlpha
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = d.MaxIter
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = d.Tolerance
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{opts: opts, logger: logger}
}

// Identify scores every node with method and returns the topN highest,
// ties broken by node id. A non-positive topN, or one larger than the
// graph, returns every node.
//
// Betweenness is exact unless sampleSize is positive or the graph has more
// than ExactLimit nodes; then it is estimated from a seeded sample of
// sampleSize (default min(Samples, n)) sources.
func (a *Analyzer) Identify(g *graph.Graph, method Method, topN, sampleSize int) (Ranking, error) {
	if _, err := ParseMethod(string(method)); err != nil {
		return Ranking{}, err
	}
	n := g.Len()
	if n == 0 {
		return Ranking{}, graph.ErrEmptyGraph
	}
	a.logger.Info("identifying critical nodes", zap.String("method", string(method)), zap.Int("top_n", topN))

	r := Ranking{Method: method, Converged: true}
	var scores []float64
	switch method {
	case Betweenness:
		sources := a.sources(n, sampleSize)
		r.Sources = len(sources)
		r.Approximate = len(sources) < n
		if r.Approximate {
			a.logger.Info("using approximate betweenness", zap.Int("k", len(sources)), zap.Int("nodes", n))
		}
		scores = betweenness(g, sources)
		normalizeBetweenness(scores, len(sources))
	case Degree:
		scores = degreeCentrality(g)
	case Closeness:
		scores = closeness(g)
	case Eigenvector:
		scores, r.Converged = eigenvector(g, a.opts.MaxIter, a.opts.Tolerance)
	case Katz:
		r.Alpha = a.opts.KatzAlpha
		// An unconverged Rayleigh quotient can undershoot lambda_max; the
		// maximum degree bounds it from above.
		v, ok := eigenvector(g, a.opts.MaxIter, a.opts.Tolerance)
		lambda := float64(maxDegree(g))
		if ok {
			lambda = spectralRadius(g, v)
		}
		if lambda > 0 && r.Alpha*lambda >= 1 {
			r.Alpha = 0.9 / lambda
			a.logger.Warn("katz alpha too large for spectral radius, lowering",
				zap.Float64("lambda_max", lambda),
				zap.Bool("estimated", ok),
				zap.Float64("alpha", r.Alpha))
		}
		scores, r.Converged = katz(g, r.Alpha, a.opts.MaxIter, a.opts.Tolerance)
	}
	if !r.Converged {
		a.logger.Warn("centrality did not converge", zap.String("method", string(method)), zap.Int("max_iter", a.opts.MaxIter))
	}

	ranked := make([]Scored, n)
	for i, s := range scores {
		ranked[i] = Scored{NodeID: g.Stop(i).ID, Score: s}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].NodeID < ranked[j].NodeID
	})
	if topN > 0 && topN < n {
		ranked = ranked[:topN]
	}
	r.Nodes = ranked
	return r, nil
}

func (a *Analyzer) sources(n, sampleSize int) []int {
	if sampleSize <= 0 && n <= a.opts.ExactLimit {
		return identity(n)
	}
	k := sampleSize
	if k <= 0 {
		k = min(a.opts.Samples, n)
	}
	if k >= n {
		return identity(n)
	}
	rng := rand.New(rand.NewPCG(a.opts.Seed, 0))
	picked := rng.Perm(n)[:k]
	sort.Ints(picked)
	return picked
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
