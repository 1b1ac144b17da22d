// Package pipeline runs the full analysis: build the stop network, detect
// communities, rank critical stops, assess what removing them costs and
// measure the equity and efficiency of the network.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gtfs-resilience/internal/community"
	"gtfs-resilience/internal/critical"
	"gtfs-resilience/internal/efficiency"
	"gtfs-resilience/internal/equity"
	"gtfs-resilience/internal/graph"
	"gtfs-resilience/internal/gtfs"
	"gtfs-resilience/internal/vulnerability"
)

const (
	StageBuild             = "build"
	StageCommunities       = "communities"
	StageCommunityAnalysis = "community_analysis"
	StageCriticalNodes     = "critical_nodes"
	StageCriticalAnalysis  = "critical_analysis"
	StageVulnerability     = "vulnerability"
	StageEquity            = "equity"
	StageEfficiency        = "efficiency"
)

type Options struct {
	Build      graph.BuildOptions
	Community  community.Options
	Critical   critical.Options
	Metrics    vulnerability.MetricOptions
	Efficiency efficiency.Options

	Method            critical.Method
	TopN              int
	BetweennessSample int
	Parallel          bool
	MaxWorkers        int
}

// Observer receives progress measurements. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	ObserveGraph(nodes, edges int)
	ObservePartition(count int, modularity float64)
	ObserveTask(d time.Duration, err error)
}

type Stage struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is everything a run produced.
type Report struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`

	Build         graph.BuildReport        `json:"build"`
	Partition     map[string]int           `json:"partition"`
	Communities   community.Summary        `json:"communities"`
	Ranking       critical.Ranking         `json:"ranking"`
	CriticalNodes []critical.Record        `json:"critical_nodes"`
	Vulnerability vulnerability.Assessment `json:"vulnerability"`
	Equity        equity.Report            `json:"equity"`
	Efficiency    efficiency.Report        `json:"efficiency"`
	Stages        []Stage                  `json:"stages"`
}

type Runner struct {
	opts     Options
	logger   *zap.Logger
	observer Observer
}

func NewRunner(opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{opts: opts, logger: logger}
}

// WithObserver registers o for stage, graph, partition and task measurements.
func (r *Runner) WithObserver(o Observer) *Runner {
	r.observer = o
	return r
}

// Run executes every stage on feed. The graph and partition are built once
// and only read afterwards.
func (r *Runner) Run(ctx context.Context, feed *gtfs.Feed) (*Report, error) {
	rep := &Report{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := r.logger.With(zap.String("run_id", rep.RunID))
	log.Info("analysis started", zap.String("method", string(r.opts.Method)), zap.Int("top_n", r.opts.TopN))

	stage := func(name string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := fn()
		d := time.Since(start)
		rep.Stages = append(rep.Stages, Stage{Name: name, Duration: d})
		if r.observer != nil {
			r.observer.ObserveStage(name, d)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		log.Info("stage complete", zap.String("stage", name), zap.Duration("took", d))
		return nil
	}

	var g *graph.Graph
	if err := stage(StageBuild, func() error {
		var err error
		g, rep.Build, err = graph.NewBuilder(r.opts.Build, log).Build(feed)
		return err
	}); err != nil {
		return rep, err
	}
	if r.observer != nil {
		r.observer.ObserveGraph(g.NodeCount(), g.EdgeCount())
	}

	var p *community.Partition
	if err := stage(StageCommunities, func() error {
		var err error
		p, err = community.NewDetector(r.opts.Community, log).Detect(g)
		return err
	}); err != nil {
		return rep, err
	}
	rep.Partition = p.Map()
	if r.observer != nil {
		r.observer.ObservePartition(p.Count(), p.Modularity())
	}

	if err := stage(StageCommunityAnalysis, func() error {
		var err error
		rep.Communities, err = community.Analyze(g, p)
		return err
	}); err != nil {
		return rep, err
	}

	analyzer := critical.NewAnalyzer(r.opts.Critical, log)
	if err := stage(StageCriticalNodes, func() error {
		var err error
		rep.Ranking, err = analyzer.Identify(g, r.opts.Method, r.opts.TopN, r.opts.BetweennessSample)
		return err
	}); err != nil {
		return rep, err
	}

	if err := stage(StageCriticalAnalysis, func() error {
		var err error
		rep.CriticalNodes, err = analyzer.Analyze(g, p, rep.Ranking.Nodes)
		return err
	}); err != nil {
		return rep, err
	}

	assessor := vulnerability.NewAssessor(r.opts.Metrics, log)
	if r.observer != nil {
		assessor.WithObserver(r.observer)
	}
	if err := stage(StageVulnerability, func() error {
		var err error
		rep.Vulnerability, err = assessor.Assess(ctx, g, p, rep.Ranking.Nodes, r.opts.Parallel, r.opts.MaxWorkers)
		return err
	}); err != nil {
		return rep, err
	}

	if err := stage(StageEquity, func() error {
		var err error
		rep.Equity, err = equity.NewAnalyzer(log).Analyze(g, p)
		return err
	}); err != nil {
		return rep, err
	}

	if err := stage(StageEfficiency, func() error {
		var err error
		rep.Efficiency, err = efficiency.NewAnalyzer(r.opts.Efficiency, log).Analyze(g, p)
		return err
	}); err != nil {
		return rep, err
	}

	log.Info("analysis complete",
		zap.Int("nodes", rep.Build.Stats.Nodes),
		zap.Int("communities", rep.Communities.NumCommunities),
		zap.Float64("modularity", rep.Communities.Modularity),
		zap.Int("critical_nodes", len(rep.Ranking.Nodes)),
		zap.Int("vulnerability_failures", len(rep.Vulnerability.Failures)),
		zap.Int("equity_gaps", len(rep.Equity.Gaps)),
		zap.Float64("global_efficiency", rep.Efficiency.Metrics.GlobalEfficiency))
	return rep, nil
}

// Publisher sends one report piece.
type Publisher interface {
	Publish(runID, kind string, v any) error
}

// Summary is the compact overview published alongside the detailed pieces.
type Summary struct {
	RunID          string            `json:"run_id"`
	StartedAt      time.Time         `json:"started_at"`
	Build          graph.BuildReport `json:"build"`
	Modularity     float64           `json:"modularity"`
	NumCommunities int               `json:"num_communities"`
	Method         critical.Method   `json:"method"`
	Approximate    bool              `json:"approximate"`
	CriticalNodes  []critical.Scored `json:"critical_nodes"`
	Failures       int               `json:"vulnerability_failures"`
	EquityGaps     int               `json:"equity_gaps"`
	Efficiency     float64           `json:"global_efficiency"`
	Stages         []Stage           `json:"stages"`
}

// Kinds lists the report pieces in publication order.
var Kinds = []string{"summary", "partition", "communities", "critical_nodes", "vulnerability", "equity", "efficiency"}

// Publish sends each piece of rep through p. Every piece is attempted; the
// errors are joined.
func Publish(p Publisher, rep *Report) error {
	pieces := map[string]any{
		"summary": Summary{
			RunID:          rep.RunID,
			StartedAt:      rep.StartedAt,
			Build:          rep.Build,
			Modularity:     rep.Communities.Modularity,
			NumCommunities: rep.Communities.NumCommunities,
			Method:         rep.Ranking.Method,
			Approximate:    rep.Ranking.Approximate,
			CriticalNodes:  rep.Ranking.Nodes,
			Failures:       len(rep.Vulnerability.Failures),
			EquityGaps:     len(rep.Equity.Gaps),
			Efficiency:     rep.Efficiency.Metrics.GlobalEfficiency,
			Stages:         rep.Stages,
		},
		"partition":      rep.Partition,
		"communities":    rep.Communities,
		"critical_nodes": rep.CriticalNodes,
		"vulnerability":  rep.Vulnerability,
		"equity":         rep.Equity,
		"efficiency":     rep.Efficiency,
	}
	var errs []error
	for _, kind := range Kinds {
		if err := p.Publish(rep.RunID, kind, pieces[kind]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
