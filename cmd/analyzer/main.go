package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gtfs-resilience/internal/community"
	"gtfs-resilience/internal/config"
	"gtfs-resilience/internal/critical"
	"gtfs-resilience/internal/db"
	"gtfs-resilience/internal/efficiency"
	"gtfs-resilience/internal/graph"
	"gtfs-resilience/internal/gtfs"
	"gtfs-resilience/internal/metrics"
	"gtfs-resilience/internal/pipeline"
	"gtfs-resilience/internal/publisher"
	"gtfs-resilience/internal/vulnerability"
)

func main() {
	// Load configuration from .env, the optional analysis file and environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("analysis failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts, err := pipelineOptions(cfg.Analysis)
	if err != nil {
		return err
	}

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.Analysis.MaxWorkers, cfg.Analysis.TopN, logger)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Publisher is optional; without it the report is only logged
	var pub *publisher.NATSPublisher
	if cfg.NATSURL != "" {
		pub, err = publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol), logger)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer pub.Close()
	}

	feed, err := loadFeed(ctx, cfg, logger)
	if err != nil {
		return err
	}
	sizes := feed.Sizes()
	logger.Info("feed loaded",
		zap.Int("stops", sizes[gtfs.TableStops]),
		zap.Int("routes", sizes[gtfs.TableRoutes]),
		zap.Int("trips", sizes[gtfs.TableTrips]),
		zap.Int("stop_times", sizes[gtfs.TableStopTimes]))

	runner := pipeline.NewRunner(opts, logger)
	if mcol != nil {
		runner.WithObserver(mcol)
	}
	rep, err := runner.Run(ctx, feed)
	if mcol != nil {
		mcol.ObserveRun(err)
	}
	if err != nil {
		return err
	}

	if pub != nil {
		if err := pipeline.Publish(pub, rep); err != nil {
			logger.Warn("publishing report", zap.Error(err))
		}
	}

	for i, r := range rep.Vulnerability.Records {
		fields := []zap.Field{
			zap.Int("rank", i+1),
			zap.String("stop_id", r.NodeID),
			zap.String("name", r.Name),
			zap.Float64("centrality", r.Centrality),
			zap.Float64("largest_cc_ratio_impact", r.Impact.LargestCCRatio),
			zap.Float64("avg_path_length_impact", r.Impact.AvgPathLength),
		}
		if r.CommunityImpact != nil {
			fields = append(fields, zap.Float64("community_impact", r.CommunityImpact.Score))
		}
		logger.Info("critical stop", fields...)
	}
	for _, f := range rep.Vulnerability.Failures {
		logger.Warn("vulnerability task failed", zap.String("stop_id", f.NodeID), zap.String("reason", f.Reason))
	}
	logger.Info("shutdown complete", zap.String("run_id", rep.RunID))
	return nil
}

// loadFeed reads the feed from GTFS_DIR when set, otherwise from the latest
// import database for the configured city.
func loadFeed(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gtfs.Feed, error) {
	if cfg.GTFSDir != "" {
		logger.Info("reading gtfs directory", zap.String("dir", cfg.GTFSDir))
		return gtfs.LoadDir(cfg.GTFSDir)
	}

	// Connect to the cluster's meta DB first (usually 'postgres')
	baseDSN := cfg.DatabaseURL
	rootDSN, err := db.WithDBName(baseDSN, "postgres")
	if err != nil {
		return nil, fmt.Errorf("invalid base DSN: %w", err)
	}
	metaDB, err := db.Open(rootDSN)
	if err != nil {
		return nil, fmt.Errorf("db open (meta): %w", err)
	}
	defer metaDB.Close()
	if err := db.Ping(ctx, metaDB); err != nil {
		return nil, fmt.Errorf("db ping (meta): %w", err)
	}

	finalDSN := baseDSN
	if cfg.City != "" {
		name, err := db.ResolveLatestImportDBName(ctx, metaDB, cfg.City)
		if err != nil {
			return nil, fmt.Errorf("resolve latest import for city %q: %w", cfg.City, err)
		}
		finalDSN, err = db.WithDBName(baseDSN, name)
		if err != nil {
			return nil, fmt.Errorf("compose DSN: %w", err)
		}
		logger.Info("using city database", zap.String("db", name), zap.String("city", cfg.City))
	}

	cityDB, err := db.Open(finalDSN)
	if err != nil {
		return nil, fmt.Errorf("db open (city): %w", err)
	}
	defer cityDB.Close()
	if err := db.Ping(ctx, cityDB); err != nil {
		return nil, fmt.Errorf("db ping (city): %w", err)
	}
	return db.FetchFeed(ctx, cityDB)
}

func pipelineOptions(a config.Analysis) (pipeline.Options, error) {
	method, err := critical.ParseMethod(a.Method)
	if err != nil {
		return pipeline.Options{}, err
	}
	seed := a.Seed

	comm := community.DefaultOptions()
	comm.Resolution = a.Resolution
	comm.Weighted = a.WeightedCommunities

	crit := critical.DefaultOptions()
	crit.ExactLimit = a.BetweennessExactLimit
	crit.Seed = a.Seed

	eff := efficiency.DefaultOptions()
	eff.PathSampleThreshold = a.PathSampleThreshold
	eff.PathSamples = a.PathSamples
	eff.RedundancySamples = a.RedundancySamples
	eff.Seed = a.Seed

	return pipeline.Options{
		Build:     graph.BuildOptions{SampleSize: a.SampleTrips, Seed: &seed},
		Community: comm,
		Critical:  crit,
		Metrics: vulnerability.MetricOptions{
			PathSampleThreshold: a.PathSampleThreshold,
			PathSamples:         a.PathSamples,
			ClusteringTrials:    a.ClusteringTrials,
			Seed:                a.Seed,
		},
		Efficiency:        eff,
		Method:            method,
		TopN:              a.TopN,
		BetweennessSample: a.BetweennessSample,
		Parallel:          a.Parallel,
		MaxWorkers:        a.MaxWorkers,
	}, nil
}

func newLogger(env, level string) (*zap.Logger, error) {
	var zc zap.Config
	if env == "production" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc.Level = lvl
	return zc.Build()
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
