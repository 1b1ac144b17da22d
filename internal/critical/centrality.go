package critical

import (
	"math"

	"gtfs-resilience/internal/graph"
)

// betweenness runs Brandes' accumulation from each source and returns the
// raw dependency sums. For an undirected graph every pair is counted once
// per direction.
func betweenness(g *graph.Graph, sources []int) []float64 {
	n := g.Len()
	cb := make([]float64, n)
	sigma := make([]float64, n)
	delta := make([]float64, n)
	dist := make([]int, n)
	pred := make([][]int, n)
	stack := make([]int, 0, n)

	for _, s := range sources {
		for i := 0; i < n; i++ {
			sigma[i], delta[i], dist[i] = 0, 0, -1
			pred[i] = pred[i][:0]
		}
		sigma[s], dist[s] = 1, 0

		// The stack doubles as the BFS queue: visit order is dequeue order.
		stack = append(stack[:0], s)
		for k := 0; k < len(stack); k++ {
			v := stack[k]
			for _, w := range g.Neighbors(v) {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					stack = append(stack, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		for k := len(stack) - 1; k >= 0; k-- {
			w := stack[k]
			for _, v := range pred[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				cb[w] += delta[w]
			}
		}
	}
	return cb
}

// normalizeBetweenness scales raw sums to the fraction of pairs, correcting
// for sampled sources by n/k.
func normalizeBetweenness(cb []float64, sources int) {
	n := len(cb)
	if n <= 2 || sources == 0 {
		return
	}
	scale := 1 / float64((n-1)*(n-2))
	scale *= float64(n) / float64(sources)
	for i := range cb {
		cb[i] *= scale
	}
}

// degreeCentrality is degree / (n-1). A single node scores 1.
func degreeCentrality(g *graph.Graph) []float64 {
	n := g.Len()
	out := make([]float64, n)
	if n <= 1 {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i := 0; i < n; i++ {
		out[i] = float64(g.Degree(i)) / float64(n-1)
	}
	return out
}

// closeness is (r-1)/sum(d) scaled by (r-1)/(n-1), where r counts the
// nodes reachable from i including i, so nodes in small components are
// not overrated.
func closeness(g *graph.Graph) []float64 {
	n := g.Len()
	out := make([]float64, n)
	if n <= 1 {
		return out
	}
	bfs := graph.NewBFS(g)
	for i := 0; i < n; i++ {
		sum, reached := bfs.DistanceSum(g, i)
		if sum == 0 {
			continue
		}
		out[i] = float64(reached) / float64(sum) * float64(reached) / float64(n-1)
	}
	return out
}

// eigenvector runs power iteration on A+I. The shift keeps bipartite graphs
// from oscillating without changing the dominant eigenvector. The result is
// L2-normalised.
func eigenvector(g *graph.Graph, maxIter int, tol float64) ([]float64, bool) {
	n := g.Len()
	x := make([]float64, n)
	for i := range x {
		x[i] = 1 / float64(n)
	}
	next := make([]float64, n)
	for iter := 0; iter < maxIter; iter++ {
		copy(next, x)
		for i := 0; i < n; i++ {
			for _, j := range g.Neighbors(i) {
				next[j] += x[i]
			}
		}
		if !normalize(next) {
			return next, false
		}
		diff := 0.0
		for i := range x {
			diff += math.Abs(next[i] - x[i])
		}
		x, next = next, x
		if diff < float64(n)*tol {
			return x, true
		}
	}
	return x, false
}

// spectralRadius estimates the largest adjacency eigenvalue as the Rayleigh
// quotient of the dominant eigenvector.
func spectralRadius(g *graph.Graph, v []float64) float64 {
	num, den := 0.0, 0.0
	for i := range v {
		ax := 0.0
		for _, j := range g.Neighbors(i) {
			ax += v[j]
		}
		num += v[i] * ax
		den += v[i] * v[i]
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func maxDegree(g *graph.Graph) int {
	best := 0
	for i := 0; i < g.Len(); i++ {
		best = max(best, g.Degree(i))
	}
	return best
}

// katz iterates x = alpha*A*x + 1 and returns the L2-normalised fixpoint.
// alpha must be below 1/lambda_max for the series to converge.
func katz(g *graph.Graph, alpha float64, maxIter int, tol float64) ([]float64, bool) {
	n := g.Len()
	x := make([]float64, n)
	next := make([]float64, n)
	for iter := 0; iter < maxIter; iter++ {
		for i := range next {
			next[i] = 1
		}
		for i := 0; i < n; i++ {
			for _, j := range g.Neighbors(i) {
				next[j] += alpha * x[i]
			}
		}
		diff := 0.0
		for i := range x {
			diff += math.Abs(next[i] - x[i])
		}
		x, next = next, x
		if diff < float64(n)*tol {
			normalize(x)
			return x, true
		}
	}
	normalize(x)
	return x, false
}

func normalize(v []float64) bool {
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return false
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return true
}

// ClosenessScores returns the closeness centrality of every node, indexed like g.
func ClosenessScores(g *graph.Graph) []float64 { return closeness(g) }

// EdgeScore is a connection and its centrality.
type EdgeScore struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Score float64 `json:"score"`
}

// EdgeBetweenness returns the normalised shortest-path betweenness of every
// edge in insertion order. Nil sources means every node; a subset gives the
// sampled estimate scaled by n/k.
func EdgeBetweenness(g *graph.Graph, sources []int) []EdgeScore {
	n := g.Len()
	if sources == nil {
		sources = identity(n)
	}
	type pair struct{ a, b int }
	id := make(map[pair]int, g.EdgeCount())
	out := make([]EdgeScore, 0, g.EdgeCount())
	g.EachEdge(func(i, j int) {
		id[pair{i, j}] = len(out)
		out = append(out, EdgeScore{From: g.Stop(i).ID, To: g.Stop(j).ID})
	})
	edgeOf := func(i, j int) int {
		if i > j {
			i, j = j, i
		}
		return id[pair{i, j}]
	}

	sigma := make([]float64, n)
	delta := make([]float64, n)
	dist := make([]int, n)
	pred := make([][]int, n)
	stack := make([]int, 0, n)
	for _, s := range sources {
		for i := 0; i < n; i++ {
			sigma[i], delta[i], dist[i] = 0, 0, -1
			pred[i] = pred[i][:0]
		}
		sigma[s], dist[s] = 1, 0
		stack = append(stack[:0], s)
		for k := 0; k < len(stack); k++ {
			v := stack[k]
			for _, w := range g.Neighbors(v) {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					stack = append(stack, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}
		for k := len(stack) - 1; k >= 0; k-- {
			w := stack[k]
			for _, v := range pred[w] {
				c := sigma[v] / sigma[w] * (1 + delta[w])
				out[edgeOf(v, w)].Score += c
				delta[v] += c
			}
		}
	}

	if n > 1 && len(sources) > 0 {
		scale := 1 / float64(n*(n-1)) * float64(n) / float64(len(sources))
		for i := range out {
			out[i].Score *= scale
		}
	}
	return out
}
