package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Collector struct {
	reg    *prometheus.Registry
	logger *zap.Logger

	Runs          *prometheus.CounterVec   // status label: ok|error
	StageDuration *prometheus.HistogramVec // stage label

	GraphNodes  prometheus.Gauge
	GraphEdges  prometheus.Gauge
	Communities prometheus.Gauge
	Modularity  prometheus.Gauge

	VulnerabilityTasks    *prometheus.CounterVec // outcome label: ok|failed
	VulnerabilityDuration prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	MaxWorkers prometheus.Gauge
	TopN       prometheus.Gauge
}

func NewCollector(maxWorkers, topN int, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg:    reg,
		logger: logger,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_runs_total",
			Help: "Pipeline runs by final status.",
		}, []string{"status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analyzer_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 20),
		}, []string{"stage"}),
		GraphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_graph_nodes",
			Help: "Stops in the last built network.",
		}),
		GraphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_graph_edges",
			Help: "Connections in the last built network.",
		}),
		Communities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_communities",
			Help: "Communities found in the last run.",
		}),
		Modularity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_modularity",
			Help: "Modularity of the last partition.",
		}),
		VulnerabilityTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_vulnerability_tasks_total",
			Help: "Node removal simulations by outcome.",
		}, []string{"outcome"}),
		VulnerabilityDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analyzer_vulnerability_task_duration_seconds",
			Help:    "Duration of a single node removal simulation.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 18),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analyzer_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		MaxWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_max_workers",
			Help: "Configured vulnerability worker bound.",
		}),
		TopN: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_top_n",
			Help: "Configured number of critical nodes.",
		}),
	}

	reg.MustRegister(
		c.Runs, c.StageDuration,
		c.GraphNodes, c.GraphEdges, c.Communities, c.Modularity,
		c.VulnerabilityTasks, c.VulnerabilityDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.MaxWorkers, c.TopN,
	)

	c.MaxWorkers.Set(float64(maxWorkers))
	c.TopN.Set(float64(topN))

	return c
}

// ObserveStage records how long a pipeline stage took.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveTask records one vulnerability simulation.
func (c *Collector) ObserveTask(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	c.VulnerabilityTasks.WithLabelValues(outcome).Inc()
	c.VulnerabilityDuration.Observe(d.Seconds())
}

// ObserveGraph records the size of the built network.
func (c *Collector) ObserveGraph(nodes, edges int) {
	c.GraphNodes.Set(float64(nodes))
	c.GraphEdges.Set(float64(edges))
}

// ObservePartition records the community detection outcome.
func (c *Collector) ObservePartition(count int, modularity float64) {
	c.Communities.Set(float64(count))
	c.Modularity.Set(modularity)
}

// ObserveRun counts a finished run.
func (c *Collector) ObserveRun(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.Runs.WithLabelValues(status).Inc()
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	c.logger.Info("metrics listening", zap.String("addr", addr))
	return srv
}
