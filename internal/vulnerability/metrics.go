// Package vulnerability simulates the removal of critical stops and measures
// how much network health degrades.
package vulnerability

import (
	"math/rand/v2"

	"gtfs-resilience/internal/graph"
)

// MetricOptions sets the approximation policy for the metric set.
type MetricOptions struct {
	// PathSampleThreshold is the largest component size for which the
	// average path length is computed over every pair.
	PathSampleThreshold int
	// PathSamples is the number of BFS sources above the threshold.
	PathSamples int
	// ClusteringTrials is the number of random wedges checked to estimate
	// average clustering. Zero computes it exactly.
	ClusteringTrials int
	// Seed drives every sample, so equal inputs give equal metrics.
	Seed uint64
}

func DefaultMetricOptions() MetricOptions {
	return MetricOptions{
		PathSampleThreshold: 1000,
		PathSamples:         100,
		ClusteringTrials:    1000,
		Seed:                42,
	}
}

// Metrics is the health metric set computed before and after a removal.
// Path length and clustering are measured on the largest component.
type Metrics struct {
	Nodes          int     `json:"nodes"`
	Edges          int     `json:"edges"`
	Density        float64 `json:"density"`
	LargestCCSize  int     `json:"largest_cc_size"`
	LargestCCRatio float64 `json:"largest_cc_ratio"`
	AvgPathLength  float64 `json:"avg_path_length"`
	AvgClustering  float64 `json:"avg_clustering"`
}

// Impact is the percentage drop of each metric: 100 * (1 - modified/baseline),
// or 0 when the baseline value is 0. Negative values mean the metric grew.
type Impact struct {
	Nodes          float64 `json:"nodes_impact"`
	Edges          float64 `json:"edges_impact"`
	Density        float64 `json:"density_impact"`
	LargestCCSize  float64 `json:"largest_cc_size_impact"`
	LargestCCRatio float64 `json:"largest_cc_ratio_impact"`
	AvgPathLength  float64 `json:"avg_path_length_impact"`
	AvgClustering  float64 `json:"avg_clustering_impact"`
}

// ComputeMetrics measures n. It has no hidden state: the same network and
// options always produce the same Metrics.
func ComputeMetrics(n graph.Network, opts MetricOptions) Metrics {
	m := Metrics{
		Nodes:   n.NodeCount(),
		Edges:   n.EdgeCount(),
		Density: graph.Density(n),
	}
	largest := graph.Largest(graph.Components(n))
	if len(largest) == 0 {
		return m
	}
	m.LargestCCSize = len(largest)
	m.LargestCCRatio = float64(len(largest)) / float64(m.Nodes)

	rng := rand.New(rand.NewPCG(opts.Seed, 0))
	m.AvgPathLength = avgPathLength(n, largest, opts, rng)
	m.AvgClustering = avgClustering(n, largest, opts.ClusteringTrials, rng)
	return m
}

// avgPathLength averages hop distance over ordered pairs of distinct nodes
// in comp. Above the threshold only pairs starting at sampled sources count.
func avgPathLength(n graph.Network, comp []int, opts MetricOptions, rng *rand.Rand) float64 {
	if len(comp) < 2 {
		return 0
	}
	sources := comp
	if len(comp) > opts.PathSampleThreshold {
		k := min(opts.PathSamples, len(comp))
		sources = make([]int, k)
		for i, p := range rng.Perm(len(comp))[:k] {
			sources[i] = comp[p]
		}
	}
	bfs := graph.NewBFS(n)
	total, pairs := 0, 0
	for _, s := range sources {
		sum, reached := bfs.DistanceSum(n, s)
		total += sum
		pairs += reached
	}
	if pairs == 0 {
		return 0
	}
	return float64(total) / float64(pairs)
}

// avgClustering estimates the mean local clustering of comp by drawing a
// random node and two of its neighbours per trial and checking whether they
// are adjacent. Nodes of degree below two count as open wedges.
func avgClustering(n graph.Network, comp []int, trials int, rng *rand.Rand) float64 {
	if trials <= 0 {
		sum := 0.0
		for _, i := range comp {
			sum += graph.LocalClustering(n, i)
		}
		return sum / float64(len(comp))
	}
	var nbrs []int
	closed := 0
	for t := 0; t < trials; t++ {
		v := comp[rng.IntN(len(comp))]
		nbrs = nbrs[:0]
		n.EachNeighbor(v, func(j int) { nbrs = append(nbrs, j) })
		if len(nbrs) < 2 {
			continue
		}
		a := rng.IntN(len(nbrs))
		b := rng.IntN(len(nbrs) - 1)
		if b >= a {
			b++
		}
		if n.Adjacent(nbrs[a], nbrs[b]) {
			closed++
		}
	}
	return float64(closed) / float64(trials)
}

// CompareMetrics returns the per-metric percentage impact of going from
// base to mod.
func CompareMetrics(base, mod Metrics) Impact {
	return Impact{
		Nodes:          pct(float64(base.Nodes), float64(mod.Nodes)),
		Edges:          pct(float64(base.Edges), float64(mod.Edges)),
		Density:        pct(base.Density, mod.Density),
		LargestCCSize:  pct(float64(base.LargestCCSize), float64(mod.LargestCCSize)),
		LargestCCRatio: pct(base.LargestCCRatio, mod.LargestCCRatio),
		AvgPathLength:  pct(base.AvgPathLength, mod.AvgPathLength),
		AvgClustering:  pct(base.AvgClustering, mod.AvgClustering),
	}
}

func pct(base, mod float64) float64 {
	if base == 0 {
		return 0
	}
	return 100 * (1 - mod/base)
}
