// Package locmap holds the location mobility map shared by every run of a
// batch: location nodes with metadata, the weighted connections between
// them and each node's away probabilities.
//
// A Map is built once per batch and never mutated afterwards, so concurrent
// pipelines read it without locking.
package locmap

import (
	"sort"
)

// Node is a single location.
type Node struct {
	ID       int
	Metadata map[string]string
}

// Connection is a weighted link between two locations.
type Connection struct {
	From   int
	To     int
	Weight float64
}

// Stats summarizes a map's size.
type Stats struct {
	Nodes       int `json:"nodes"`
	Connections int `json:"connections"`
	AwayEntries int `json:"away_entries"`
}

// Map is the immutable location mobility map.
type Map struct {
	nodes       map[int]Node
	order       []int
	connections []Connection
	adjacency   map[int][]int
	away        map[int][]float64
}

// NodeCount returns the number of location nodes.
func (m *Map) NodeCount() int { return len(m.order) }

// ConnectionCount returns the number of connections.
func (m *Map) ConnectionCount() int { return len(m.connections) }

// Stats returns node, connection and away-table counts.
func (m *Map) Stats() Stats {
	return Stats{
		Nodes:       len(m.order),
		Connections: len(m.connections),
		AwayEntries: len(m.away),
	}
}

// NodeIDs returns node ids in the order they were imported.
func (m *Map) NodeIDs() []int {
	out := make([]int, len(m.order))
	copy(out, m.order)
	return out
}

// Node returns the node with the given id. The metadata map is a copy.
func (m *Map) Node(id int) (Node, bool) {
	n, ok := m.nodes[id]
	if !ok {
		return Node{}, false
	}
	meta := make(map[string]string, len(n.Metadata))
	for k, v := range n.Metadata {
		meta[k] = v
	}
	return Node{ID: n.ID, Metadata: meta}, true
}

// HasNode reports whether id is a known location.
func (m *Map) HasNode(id int) bool {
	_, ok := m.nodes[id]
	return ok
}

// Connections returns a copy of every connection in import order.
func (m *Map) Connections() []Connection {
	out := make([]Connection, len(m.connections))
	copy(out, m.connections)
	return out
}

// Neighbors returns the ids connected to id, sorted ascending.
// Connections are treated as undirected.
func (m *Map) Neighbors(id int) []int {
	adj := m.adjacency[id]
	out := make([]int, len(adj))
	copy(out, adj)
	return out
}

// AwayProbabilities returns the away-probability series for a node. A
// single-element series is a scalar probability.
func (m *Map) AwayProbabilities(id int) ([]float64, bool) {
	p, ok := m.away[id]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(p))
	copy(out, p)
	return out, true
}

// AwayProbability returns the away probability of a node at time step t.
// Series shorter than t+1 repeat their last value.
func (m *Map) AwayProbability(id, t int) (float64, bool) {
	p, ok := m.away[id]
	if !ok || len(p) == 0 {
		return 0, false
	}
	if t < 0 {
		t = 0
	}
	if t >= len(p) {
		t = len(p) - 1
	}
	return p[t], true
}

func (m *Map) finalize() {
	for id := range m.adjacency {
		sort.Ints(m.adjacency[id])
	}
}
