// Package dag validates the predecessor graph of an operation group.
//
// The graph is an adjacency list keyed by operation id. Traversals only
// follow ids, so cyclic input never produces cyclic in-memory structures.
package dag

import (
	"fmt"
	"sort"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

// Graph is the predecessor relation of one group.
type Graph struct {
	previous   map[string][]string
	importance map[string]core.Importance
	ids        []string
}

// New builds a graph from operations. Previous ids must refer to operations
// in the same slice.
func New(ops []*core.Operation) (*Graph, error) {
	g := &Graph{
		previous:   make(map[string][]string, len(ops)),
		importance: make(map[string]core.Importance, len(ops)),
		ids:        make([]string, 0, len(ops)),
	}
	for _, op := range ops {
		prev := append([]string(nil), op.Previous...)
		sort.Strings(prev)
		g.previous[op.ID] = prev
		g.importance[op.ID] = op.Importance
		g.ids = append(g.ids, op.ID)
	}
	sort.Strings(g.ids)
	for _, id := range g.ids {
		for _, p := range g.previous[id] {
			if _, ok := g.previous[p]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", core.ErrForeignPredecessor, id, p)
			}
		}
	}
	return g, nil
}

// Validate checks the group for cycles and for critical operations that
// depend on non-critical ones.
func Validate(ops []*core.Operation) error {
	g, err := New(ops)
	if err != nil {
		return err
	}
	if err := g.CheckCycles(); err != nil {
		return err
	}
	return g.CheckCriticalChains()
}

// CheckCycles returns a *core.CycleError describing the first cycle found.
// Nodes are visited in id order so the reported chain is stable.
func (g *Graph) CheckCycles() error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.ids))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		path = append(path, id)
		for _, p := range g.previous[id] {
			switch color[p] {
			case grey:
				return cycleFrom(path, p)
			case white:
				if chain := visit(p); chain != nil {
					return chain
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.ids {
		if color[id] != white {
			continue
		}
		if chain := visit(id); chain != nil {
			return &core.CycleError{Chain: chain}
		}
	}
	return nil
}

func cycleFrom(path []string, start string) []string {
	for i, id := range path {
		if id == start {
			chain := append([]string(nil), path[i:]...)
			return append(chain, start)
		}
	}
	return nil
}

// CheckCriticalChains rejects a critical operation with any non-critical
// transitive predecessor. Must run on an acyclic graph.
func (g *Graph) CheckCriticalChains() error {
	for _, id := range g.ids {
		if g.importance[id] != core.ImportanceCritical {
			continue
		}
		if chain := g.firstNonCritical(id); chain != nil {
			return &core.CriticalDependencyError{
				OperationID: id,
				PreviousID:  chain[len(chain)-1],
				Chain:       chain,
			}
		}
	}
	return nil
}

// firstNonCritical walks predecessors breadth-first and returns the path to
// the nearest non-critical one.
func (g *Graph) firstNonCritical(from string) []string {
	parent := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, p := range g.previous[id] {
			if _, seen := parent[p]; seen {
				continue
			}
			parent[p] = id
			if g.importance[p] != core.ImportanceCritical {
				return pathTo(parent, p)
			}
			queue = append(queue, p)
		}
	}
	return nil
}

func pathTo(parent map[string]string, to string) []string {
	var rev []string
	for id := to; id != ""; id = parent[id] {
		rev = append(rev, id)
	}
	out := make([]string, len(rev))
	for i, id := range rev {
		out[len(rev)-1-i] = id
	}
	return out
}

// Successors inverts the predecessor relation.
func Successors(ops []*core.Operation) map[string][]string {
	out := make(map[string][]string, len(ops))
	for _, op := range ops {
		for _, p := range op.Previous {
			out[p] = append(out[p], op.ID)
		}
	}
	for id := range out {
		sort.Strings(out[id])
	}
	return out
}
