package vulnerability

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gtfs-resilience/internal/community"
	"gtfs-resilience/internal/critical"
	"gtfs-resilience/internal/graph"
)

var (
	ErrNodeNotFound   = errors.New("vulnerability: node not found")
	ErrNotInPartition = errors.New("vulnerability: node missing from partition")
	ErrTaskPanic      = errors.New("vulnerability: task panicked")
)

// Record is the outcome of removing one node. Impact and CommunityImpact
// are embedded so the encoded record is flat; CommunityImpact is nil when
// no partition was supplied.
type Record struct {
	NodeID     string  `json:"node_id"`
	Name       string  `json:"name"`
	Centrality float64 `json:"centrality"`
	Baseline   Metrics `json:"baseline"`
	Modified   Metrics `json:"modified"`
	Impact
	*CommunityImpact
}

// Failure is a node whose assessment failed. Index is its position in the
// input list.
type Failure struct {
	Index  int    `json:"index"`
	NodeID string `json:"node_id"`
	Err    error  `json:"-"`
	Reason string `json:"error"`
}

// Assessment holds the records of the nodes that succeeded, in input order,
// and the failures.
type Assessment struct {
	Baseline Metrics   `json:"baseline"`
	Records  []Record  `json:"records"`
	Failures []Failure `json:"failures,omitempty"`
}

// Observer is notified after each node is assessed.
type Observer interface {
	ObserveTask(d time.Duration, err error)
}

type Assessor struct {
	opts     MetricOptions
	logger   *zap.Logger
	observer Observer
}

func NewAssessor(opts MetricOptions, logger *zap.Logger) *Assessor {
	if opts.PathSampleThreshold <= 0 {
		opts.PathSampleThreshold = DefaultMetricOptions().PathSampleThreshold
	}
	if opts.PathSamples <= 0 {
		opts.PathSamples = DefaultMetricOptions().PathSamples
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assessor{opts: opts, logger: logger}
}

// WithObserver registers o for per-task notifications.
func (a *Assessor) WithObserver(o Observer) *Assessor {
	a.observer = o
	return a
}

// Baseline computes the metric set of the intact graph.
func (a *Assessor) Baseline(g *graph.Graph) Metrics {
	return ComputeMetrics(g, a.opts)
}

// Assess removes each node in turn from a view of g, recomputes the metric
// set and compares it with the baseline. With a partition it also reports
// the community impact.
//
// When parallel is set and there is more than one node, at most maxWorkers
// nodes are assessed concurrently; a non-positive maxWorkers means
// GOMAXPROCS. Either way records come back in input order and a failing
// node is reported in Failures without affecting the others. The only
// returned error is the context's.
func (a *Assessor) Assess(ctx context.Context, g *graph.Graph, p *community.Partition, nodes []critical.Scored, parallel bool, maxWorkers int) (Assessment, error) {
	base := a.Baseline(g)
	a.logger.Info("baseline network metrics",
		zap.Int("nodes", base.Nodes),
		zap.Int("edges", base.Edges),
		zap.Float64("density", base.Density),
		zap.Int("largest_cc_size", base.LargestCCSize),
		zap.Float64("avg_path_length", base.AvgPathLength),
		zap.Float64("avg_clustering", base.AvgClustering))

	var links linkCounts
	if p != nil {
		links = countLinks(g, p)
	}

	type result struct {
		rec Record
		err error
	}
	results := make([]result, len(nodes))
	task := func(i int) {
		start := time.Now()
		rec, err := a.assessOne(g, p, links, nodes[i], base)
		results[i] = result{rec, err}
		if a.observer != nil {
			a.observer.ObserveTask(time.Since(start), err)
		}
	}

	if parallel && len(nodes) > 1 {
		if maxWorkers <= 0 {
			maxWorkers = runtime.GOMAXPROCS(0)
		}
		a.logger.Info("assessing vulnerability in parallel",
			zap.Int("nodes", len(nodes)),
			zap.Int("workers", min(maxWorkers, len(nodes))))
		eg, ectx := errgroup.WithContext(ctx)
		eg.SetLimit(maxWorkers)
		for i := range nodes {
			eg.Go(func() error {
				if err := ectx.Err(); err != nil {
					return err
				}
				task(i)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return Assessment{Baseline: base}, err
		}
	} else {
		a.logger.Info("assessing vulnerability sequentially", zap.Int("nodes", len(nodes)))
		for i := range nodes {
			if err := ctx.Err(); err != nil {
				return Assessment{Baseline: base}, err
			}
			task(i)
		}
	}

	out := Assessment{Baseline: base, Records: make([]Record, 0, len(nodes))}
	for i, r := range results {
		if r.err != nil {
			a.logger.Warn("vulnerability assessment failed",
				zap.String("node", nodes[i].NodeID),
				zap.Int("index", i),
				zap.Error(r.err))
			out.Failures = append(out.Failures, Failure{Index: i, NodeID: nodes[i].NodeID, Err: r.err, Reason: r.err.Error()})
			continue
		}
		out.Records = append(out.Records, r.rec)
	}
	a.logger.Info("vulnerability assessment complete",
		zap.Int("records", len(out.Records)),
		zap.Int("failures", len(out.Failures)))
	return out, nil
}

// assessOne never panics; a panic inside the computation becomes an
// ErrTaskPanic failure for this node only.
func (a *Assessor) assessOne(g *graph.Graph, p *community.Partition, links linkCounts, node critical.Scored, base Metrics) (rec Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("vulnerability task panic",
				zap.String("node", node.NodeID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()

	view, err := g.Without(node.NodeID)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %q", ErrNodeNotFound, node.NodeID)
	}
	mod := ComputeMetrics(view, a.opts)
	rec = Record{
		NodeID:     node.NodeID,
		Name:       g.Stop(view.Excluded()).Name,
		Centrality: node.Score,
		Baseline:   base,
		Modified:   mod,
		Impact:     CompareMetrics(base, mod),
	}
	if p != nil {
		ci, err := communityImpact(g, p, links, view.Excluded())
		if err != nil {
			return Record{}, err
		}
		rec.CommunityImpact = &ci
	}
	return rec, nil
}
