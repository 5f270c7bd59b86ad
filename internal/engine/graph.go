package engine

import (
	"fmt"
	"sort"

	"github.com/faststack-io/faststack/internal/ir"
)

// DAG is the dependency graph of a deployment run. Edges come from two
// places: node:// references in declared inputs (data dependencies) and
// DependsOn entries (explicit ordering edges with no data flow).
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	id    string
	index int      // declaration position, used as deterministic tie-break
	edges []string // node ids this node depends on
	deps  []string // node ids that depend on this node
}

// Plan builds the DAG and returns nodes in a total creation order consistent
// with every declared edge. Ties are broken by declaration order so repeated
// calls over the same input yield the same plan. Plan does not mutate its
// input and returns *CycleError when no valid order exists.
func Plan(nodes []*ir.ResourceNode) ([]*ir.ResourceNode, error) {
	dag, err := BuildDAG(nodes)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*ir.ResourceNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	ordered := make([]*ir.ResourceNode, 0, len(nodes))
	for _, id := range dag.CreationOrder() {
		ordered = append(ordered, byID[id])
	}
	return ordered, nil
}

// BuildDAG constructs the dependency graph from resource nodes.
func BuildDAG(nodes []*ir.ResourceNode) (*DAG, error) {
	dag := &DAG{nodes: make(map[string]*dagNode, len(nodes))}

	for i, n := range nodes {
		if _, dup := dag.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		dag.nodes[n.ID] = &dagNode{id: n.ID, index: i}
	}

	for _, n := range nodes {
		node := dag.nodes[n.ID]

		// Explicit ordering edges.
		for _, dep := range n.DependsOn {
			if _, ok := dag.nodes[dep]; !ok {
				return nil, fmt.Errorf("node %s depends on unknown node %q", n.ID, dep)
			}
			node.edges = append(node.edges, dep)
		}

		// Data edges implied by node:// input refs.
		for _, ref := range n.DeclaredInputs {
			if id, _, ok := ref.NodeRef(); ok {
				if _, exists := dag.nodes[id]; !exists {
					return nil, fmt.Errorf("node %s input %q references unknown node %q", n.ID, ref.Name, id)
				}
				node.edges = append(node.edges, id)
			}
		}
	}

	for id, node := range dag.nodes {
		for _, dep := range node.edges {
			dag.nodes[dep].deps = append(dag.nodes[dep].deps, id)
		}
	}

	order, err := dag.topoSort()
	if err != nil {
		return nil, err
	}
	dag.order = order

	dag.revOrder = make([]string, len(order))
	for i, id := range order {
		dag.revOrder[len(order)-1-i] = id
	}

	return dag, nil
}

// CreationOrder returns node ids in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string { return d.order }

// DestructionOrder returns node ids in reverse order, safe for teardown.
func (d *DAG) DestructionOrder() []string { return d.revOrder }

// Dependencies returns the ids a given node depends on.
func (d *DAG) Dependencies(id string) []string {
	if node, ok := d.nodes[id]; ok {
		return node.edges
	}
	return nil
}

// topoSort performs Kahn's algorithm. At each step the ready node with the
// lowest declaration index is taken, making the order deterministic.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for id, node := range d.nodes {
		inDegree[id] = len(node.edges)
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	sorted := make([]string, 0, len(d.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return d.nodes[ready[i]].index < d.nodes[ready[j]].index
		})
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, id)

		for _, dependent := range d.nodes[id].deps {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		return nil, &CycleError{Members: d.cycleMembers(sorted)}
	}
	return sorted, nil
}

// cycleMembers names the nodes participating in a cycle: everything left
// unsorted, pruned of nodes that merely sit downstream of the cycle.
func (d *DAG) cycleMembers(sorted []string) []string {
	remaining := make(map[string]bool, len(d.nodes))
	for id := range d.nodes {
		remaining[id] = true
	}
	for _, id := range sorted {
		delete(remaining, id)
	}

	// Iteratively drop nodes with no dependents inside the remaining set;
	// what survives is the union of the cycles themselves.
	for changed := true; changed; {
		changed = false
		for id := range remaining {
			hasDependent := false
			for _, dep := range d.nodes[id].deps {
				if remaining[dep] {
					hasDependent = true
					break
				}
			}
			if !hasDependent {
				delete(remaining, id)
				changed = true
			}
		}
	}

	members := make([]string, 0, len(remaining))
	for id := range remaining {
		members = append(members, id)
	}
	sort.Slice(members, func(i, j int) bool {
		return d.nodes[members[i]].index < d.nodes[members[j]].index
	})
	return members
}
