package execution

import (
	"container/heap"
	"sort"
)

// Node is a task in a Graph.
type Node struct {
	Definition Definition

	index      int
	deps       []*Node
	dependents []*Node
}

func (n *Node) Path() string { return n.Definition.Path }

// Dependencies returns the nodes n depends on, ordered by path.
func (n *Node) Dependencies() []*Node { return append([]*Node(nil), n.deps...) }

// Graph is an immutable, validated set of task definitions. It is safe for
// concurrent reads.
type Graph struct {
	byPath map[string]*Node
	order  []*Node // topological, ties broken by path
}

// NewGraph builds and validates a Graph. It rejects empty or duplicate paths,
// dependencies on unknown tasks, self-dependencies, duplicate dependencies and
// cycles.
func NewGraph(defs []Definition) (*Graph, error) {
	if len(defs) == 0 {
		return nil, invalidf("no tasks")
	}

	sorted := append([]Definition(nil), defs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	byPath := make(map[string]*Node, len(sorted))
	nodes := make([]*Node, 0, len(sorted))
	for i, d := range sorted {
		if d.Path == "" {
			return nil, invalidf("task path is required")
		}
		if _, exists := byPath[d.Path]; exists {
			return nil, invalidf("duplicate task path: %q", d.Path)
		}
		n := &Node{Definition: d, index: i}
		byPath[d.Path] = n
		nodes = append(nodes, n)
	}

	for _, n := range nodes {
		seen := make(map[string]struct{}, len(n.Definition.DependsOn))
		for _, dep := range n.Definition.DependsOn {
			target, ok := byPath[dep]
			if !ok {
				return nil, invalidf("task %q depends on unknown task %q", n.Path(), dep)
			}
			if target == n {
				return nil, invalidf("task %q depends on itself", n.Path())
			}
			if _, dup := seen[dep]; dup {
				return nil, invalidf("task %q lists dependency %q twice", n.Path(), dep)
			}
			seen[dep] = struct{}{}
			n.deps = append(n.deps, target)
			target.dependents = append(target.dependents, n)
		}
	}
	for _, n := range nodes {
		sort.Slice(n.deps, func(i, j int) bool { return n.deps[i].index < n.deps[j].index })
		sort.Slice(n.dependents, func(i, j int) bool { return n.dependents[i].index < n.dependents[j].index })
	}

	order := topoOrder(nodes)
	if len(order) != len(nodes) {
		return nil, cycleError(findCycle(nodes))
	}
	return &Graph{byPath: byPath, order: order}, nil
}

// Node returns the node for path.
func (g *Graph) Node(path string) (*Node, bool) {
	n, ok := g.byPath[path]
	return n, ok
}

// Nodes returns all nodes in execution order.
func (g *Graph) Nodes() []*Node { return append([]*Node(nil), g.order...) }

func (g *Graph) Len() int { return len(g.order) }

// TopologicalOrder returns task paths in execution order.
func (g *Graph) TopologicalOrder() []string {
	out := make([]string, len(g.order))
	for i, n := range g.order {
		out[i] = n.Path()
	}
	return out
}

// Select returns the graph restricted to the given tasks and everything they
// depend on. An empty selection returns g.
func (g *Graph) Select(paths ...string) (*Graph, error) {
	if len(paths) == 0 {
		return g, nil
	}
	keep := make(map[string]bool)
	var visit func(n *Node)
	visit = func(n *Node) {
		if keep[n.Path()] {
			return
		}
		keep[n.Path()] = true
		for _, d := range n.deps {
			visit(d)
		}
	}
	for _, p := range paths {
		n, ok := g.byPath[p]
		if !ok {
			return nil, invalidf("unknown task %q", p)
		}
		visit(n)
	}
	var defs []Definition
	for _, n := range g.order {
		if keep[n.Path()] {
			defs = append(defs, n.Definition)
		}
	}
	return NewGraph(defs)
}

type nodeHeap []*Node

func (h nodeHeap) Len() int           { return len(h) }
func (h nodeHeap) Less(i, j int) bool { return h[i].index < h[j].index }
func (h nodeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)        { *h = append(*h, x.(*Node)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm with a min-heap on path order, so the
// result is deterministic. It returns fewer nodes than given when a cycle
// exists.
func topoOrder(nodes []*Node) []*Node {
	indeg := make([]int, len(nodes))
	ready := &nodeHeap{}
	for _, n := range nodes {
		indeg[n.index] = len(n.deps)
		if indeg[n.index] == 0 {
			heap.Push(ready, n)
		}
	}
	out := make([]*Node, 0, len(nodes))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(*Node)
		out = append(out, n)
		for _, m := range n.dependents {
			indeg[m.index]--
			if indeg[m.index] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle returns one cycle as a path list ending where it started.
func findCycle(nodes []*Node) []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(nodes))
	parent := make([]int, len(nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, dep := range nodes[u].dependents {
			v := dep.index
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}
	for i := range nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, nodes[cycle[i]].Path())
	}
	return out
}
