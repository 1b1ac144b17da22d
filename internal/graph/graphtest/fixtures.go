// Package graphtest builds small synthetic networks for tests.
package graphtest

import (
	"fmt"

	"gtfs-resilience/internal/graph"
)

// FromEdges builds a graph whose stops are added in the order they first
// appear in edges. Each pair is connected once.
func FromEdges(edges [][2]string) *graph.Graph {
	g := graph.New()
	for _, e := range edges {
		for _, id := range e {
			if _, ok := g.Index(id); !ok {
				if err := g.AddStop(graph.Stop{ID: id, Name: "Stop " + id}); err != nil {
					panic(err)
				}
			}
		}
		if _, err := g.Connect(e[0], e[1], "T-"+e[0]+e[1], "R1", 3); err != nil {
			panic(err)
		}
	}
	return g
}

// Clique returns the complete-graph edge list over ids.
func Clique(ids ...string) [][2]string {
	var edges [][2]string
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			edges = append(edges, [2]string{ids[i], ids[j]})
		}
	}
	return edges
}

// Path returns the edge list of a simple path over ids.
func Path(ids ...string) [][2]string {
	var edges [][2]string
	for i := 0; i+1 < len(ids); i++ {
		edges = append(edges, [2]string{ids[i], ids[i+1]})
	}
	return edges
}

// TwoCliquesBridge builds cliques {A1..A4} and {B1..B4} joined only through
// X, which is adjacent to A1 and B1.
func TwoCliquesBridge() *graph.Graph {
	edges := Clique("A1", "A2", "A3", "A4")
	edges = append(edges, Clique("B1", "B2", "B3", "B4")...)
	edges = append(edges, [2]string{"A1", "X"}, [2]string{"X", "B1"})
	return FromEdges(edges)
}

// CliquePartition assigns the A clique plus X to community 0 and the B
// clique to community 1.
func CliquePartition() map[string]int {
	return map[string]int{
		"A1": 0, "A2": 0, "A3": 0, "A4": 0, "X": 0,
		"B1": 1, "B2": 1, "B3": 1, "B4": 1,
	}
}

// Ring returns a cycle over n stops named prefix0..prefix(n-1).
func Ring(prefix string, n int) [][2]string {
	var edges [][2]string
	for i := 0; i < n; i++ {
		edges = append(edges, [2]string{fmt.Sprintf("%s%d", prefix, i), fmt.Sprintf("%s%d", prefix, (i+1)%n)})
	}
	return edges
}

// Star returns edges from hub to n leaves named L0..L(n-1).
func Star(hub string, n int) [][2]string {
	var edges [][2]string
	for i := 0; i < n; i++ {
		edges = append(edges, [2]string{hub, fmt.Sprintf("L%d", i)})
	}
	return edges
}
