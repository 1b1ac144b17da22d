package community

import (
	"go.uber.org/zap"

	"gtfs-resilience/internal/graph"
)

// Options tunes Louvain.
type Options struct {
	// Resolution scales the null-model term; 1 is standard modularity.
	Resolution float64
	// MinGain stops the search when a level improves modularity by less.
	MinGain float64
	// MaxLevels bounds the number of aggregation levels. Zero means no bound.
	MaxLevels int
	// Weighted uses trip counts as edge weights.
	Weighted bool
}

func DefaultOptions() Options {
	return Options{Resolution: 1.0, MinGain: 1e-7}
}

// Detector runs Louvain community detection. Node visitation and candidate
// community order are fixed by graph insertion order, so the same graph
// always yields the same partition.
type Detector struct {
	opts   Options
	logger *zap.Logger
}

func NewDetector(opts Options, logger *zap.Logger) *Detector {
	if opts.Resolution <= 0 {
		opts.Resolution = 1.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{opts: opts, logger: logger}
}

type arc struct {
	to int
	w  float64
}

// level is one aggregation step of the graph being optimised.
type level struct {
	arcs [][]arc   // neighbours excluding self
	loop []float64 // self-loop weight, counted once
	k    []float64 // weighted degree, loops counted twice
	m2   float64   // twice the total edge weight
}

func (l *level) size() int { return len(l.arcs) }

// Detect partitions g. Community ids are numbered from 0 in the order their
// first member appears in g. A graph without edges puts each node in its own
// community with modularity 0.
func (d *Detector) Detect(g *graph.Graph) (*Partition, error) {
	n := g.Len()
	if n == 0 {
		return nil, ErrEmptyGraph
	}
	d.logger.Info("detecting communities",
		zap.Int("nodes", n),
		zap.Int("edges", g.EdgeCount()),
		zap.Float64("resolution", d.opts.Resolution),
		zap.Bool("weighted", d.opts.Weighted))

	member := make([]int, n)
	for i := range member {
		member[i] = i
	}

	lv := d.initial(g)
	if lv.m2 > 0 {
		prevQ := modularityOf(lv, identity(lv.size()), d.opts.Resolution)
		for depth := 0; d.opts.MaxLevels == 0 || depth < d.opts.MaxLevels; depth++ {
			comm, moved := d.oneLevel(lv)
			if !moved {
				break
			}
			comm, k := renumber(comm)
			q := modularityOf(lv, comm, d.opts.Resolution)
			for i := range member {
				member[i] = comm[member[i]]
			}
			d.logger.Debug("louvain level",
				zap.Int("level", depth),
				zap.Int("communities", k),
				zap.Float64("modularity", q))
			if q-prevQ < d.opts.MinGain {
				break
			}
			prevQ = q
			lv = contract(lv, comm, k)
		}
	}

	member, count := renumber(member)
	assign := make(map[string]int, n)
	for i, c := range member {
		assign[g.Stop(i).ID] = c
	}
	p := &Partition{assign: assign, count: count}
	q, err := Modularity(g, p, d.opts.Resolution, d.opts.Weighted)
	if err != nil {
		return nil, err
	}
	p.modularity = q

	d.logger.Info("community detection complete",
		zap.Int("communities", count),
		zap.Float64("modularity", q))
	return p, nil
}

func (d *Detector) initial(g *graph.Graph) *level {
	n := g.Len()
	lv := &level{
		arcs: make([][]arc, n),
		loop: make([]float64, n),
		k:    make([]float64, n),
	}
	for i := 0; i < n; i++ {
		for _, j := range g.Neighbors(i) {
			w := 1.0
			if d.opts.Weighted {
				w = float64(g.Trips(i, j))
			}
			lv.arcs[i] = append(lv.arcs[i], arc{to: j, w: w})
			lv.k[i] += w
		}
		lv.m2 += lv.k[i]
	}
	return lv
}

// oneLevel moves nodes between communities until no single move improves
// modularity. It reports whether any node ended outside its own singleton.
func (d *Detector) oneLevel(lv *level) ([]int, bool) {
	n := lv.size()
	res := d.opts.Resolution
	comm := identity(n)
	tot := make([]float64, n)
	inner := make([]float64, n)
	for i := 0; i < n; i++ {
		tot[i] = lv.k[i]
		inner[i] = 2 * lv.loop[i]
	}

	q := levelModularity(inner, tot, lv.m2, res)
	weights := make([]float64, n)
	var seen []int
	moved := false
	for improved := true; improved; {
		improved = false
		for i := 0; i < n; i++ {
			seen = seen[:0]
			for _, a := range lv.arcs[i] {
				c := comm[a.to]
				if weights[c] == 0 {
					seen = append(seen, c)
				}
				weights[c] += a.w
			}

			own := comm[i]
			tot[own] -= lv.k[i]
			inner[own] -= 2*weights[own] + 2*lv.loop[i]

			ki := lv.k[i] / lv.m2
			best := own
			bestGain := weights[own] - res*tot[own]*ki
			for _, c := range seen {
				if gain := weights[c] - res*tot[c]*ki; gain > bestGain {
					best, bestGain = c, gain
				}
			}

			tot[best] += lv.k[i]
			inner[best] += 2*weights[best] + 2*lv.loop[i]
			comm[i] = best
			if best != own {
				improved = true
				moved = true
			}
			for _, c := range seen {
				weights[c] = 0
			}
			weights[own] = 0
		}
		next := levelModularity(inner, tot, lv.m2, res)
		if next-q < d.opts.MinGain {
			break
		}
		q = next
	}
	return comm, moved
}

func levelModularity(inner, tot []float64, m2, res float64) float64 {
	q := 0.0
	for c := range tot {
		q += inner[c]/m2 - res*(tot[c]/m2)*(tot[c]/m2)
	}
	return q
}

// contract collapses each community into a single node.
func contract(lv *level, comm []int, k int) *level {
	out := &level{
		arcs: make([][]arc, k),
		loop: make([]float64, k),
		k:    make([]float64, k),
		m2:   lv.m2,
	}
	type pair struct{ a, b int }
	weight := make(map[pair]float64)
	var order []pair
	for i := 0; i < lv.size(); i++ {
		ci := comm[i]
		out.loop[ci] += lv.loop[i]
		for _, a := range lv.arcs[i] {
			if a.to < i {
				continue
			}
			cj := comm[a.to]
			if ci == cj {
				out.loop[ci] += a.w
				continue
			}
			p := pair{ci, cj}
			if p.a > p.b {
				p.a, p.b = p.b, p.a
			}
			if _, ok := weight[p]; !ok {
				order = append(order, p)
			}
			weight[p] += a.w
		}
	}
	for _, p := range order {
		w := weight[p]
		out.arcs[p.a] = append(out.arcs[p.a], arc{to: p.b, w: w})
		out.arcs[p.b] = append(out.arcs[p.b], arc{to: p.a, w: w})
		out.k[p.a] += w
		out.k[p.b] += w
	}
	for c := 0; c < k; c++ {
		out.k[c] += 2 * out.loop[c]
	}
	return out
}

func modularityOf(lv *level, comm []int, res float64) float64 {
	n := lv.size()
	inner := make([]float64, n)
	tot := make([]float64, n)
	for i := 0; i < n; i++ {
		c := comm[i]
		tot[c] += lv.k[i]
		inner[c] += 2 * lv.loop[i]
		for _, a := range lv.arcs[i] {
			if comm[a.to] == c {
				inner[c] += a.w
			}
		}
	}
	q := 0.0
	for c := 0; c < n; c++ {
		q += inner[c]/lv.m2 - res*(tot[c]/lv.m2)*(tot[c]/lv.m2)
	}
	return q
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// renumber maps labels to 0..k-1 by first appearance.
func renumber(labels []int) ([]int, int) {
	next := make(map[int]int)
	out := make([]int, len(labels))
	for i, c := range labels {
		id, ok := next[c]
		if !ok {
			id = len(next)
			next[c] = id
		}
		out[i] = id
	}
	return out, len(next)
}
