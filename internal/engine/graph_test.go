package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faststack-io/faststack/internal/ir"
)

func node(id string, deps ...string) *ir.ResourceNode {
	return &ir.ResourceNode{ID: id, Kind: ir.KindStorage, DependsOn: deps}
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestPlan_NoDependencies(t *testing.T) {
	nodes := []*ir.ResourceNode{node("a"), node("b"), node("c")}

	ordered, err := Plan(nodes)
	require.NoError(t, err)
	require.Len(t, ordered, 3)

	// With no edges the plan follows declaration order.
	assert.Equal(t, "a", ordered[0].ID)
	assert.Equal(t, "b", ordered[1].ID)
	assert.Equal(t, "c", ordered[2].ID)
}

func TestPlan_ExplicitDependsOn(t *testing.T) {
	nodes := []*ir.ResourceNode{
		node("a", "b"),
		node("b"),
		node("c", "a"),
	}

	ordered, err := Plan(nodes)
	require.NoError(t, err)

	ids := make([]string, len(ordered))
	for i, n := range ordered {
		ids[i] = n.ID
	}
	assert.Less(t, indexOf(ids, "b"), indexOf(ids, "a"), "b should come before a")
	assert.Less(t, indexOf(ids, "a"), indexOf(ids, "c"), "a should come before c")
}

func TestPlan_DataEdgesFromInputRefs(t *testing.T) {
	nodes := []*ir.ResourceNode{
		{
			ID:   "consumer",
			Kind: ir.KindRuntime,
			DeclaredInputs: []ir.ParameterRef{
				{Name: "image_uri", Source: ir.NodeOutput("producer", "image_uri")},
			},
		},
		{ID: "producer", Kind: ir.KindBuildJob},
	}

	ordered, err := Plan(nodes)
	require.NoError(t, err)
	assert.Equal(t, "producer", ordered[0].ID)
	assert.Equal(t, "consumer", ordered[1].ID)
}

func TestPlan_Deterministic(t *testing.T) {
	nodes := []*ir.ResourceNode{
		node("z"),
		node("m", "z"),
		node("a", "z"),
		node("k"),
	}

	first, err := Plan(nodes)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Plan(nodes)
		require.NoError(t, err)
		for j := range first {
			assert.Equal(t, first[j].ID, again[j].ID, "plan order must be stable across calls")
		}
	}
}

func TestPlan_CycleNamesOnlyCycleMembers(t *testing.T) {
	nodes := []*ir.ResourceNode{
		node("a", "b"),
		node("b", "a"),
		node("downstream", "a"), // depends on the cycle but is not part of it
		node("independent"),
	}

	_, err := Plan(nodes)
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"a", "b"}, cycleErr.Members)
	assert.NotContains(t, cycleErr.Members, "downstream")
	assert.NotContains(t, cycleErr.Members, "independent")
}

func TestPlan_SelfReferenceIsCycle(t *testing.T) {
	_, err := Plan([]*ir.ResourceNode{node("a", "a")})

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a"}, cycleErr.Members)
}

func TestBuildDAG_DuplicateID(t *testing.T) {
	_, err := BuildDAG([]*ir.ResourceNode{node("a"), node("a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestBuildDAG_UnknownDependency(t *testing.T) {
	_, err := BuildDAG([]*ir.ResourceNode{node("a", "ghost")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node")
}

func TestBuildDAG_UnknownInputRef(t *testing.T) {
	nodes := []*ir.ResourceNode{
		{
			ID:   "a",
			Kind: ir.KindRuntime,
			DeclaredInputs: []ir.ParameterRef{
				{Name: "x", Source: ir.NodeOutput("ghost", "y")},
			},
		},
	}
	_, err := BuildDAG(nodes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node")
}

func TestDAG_DestructionOrderIsReverse(t *testing.T) {
	nodes := []*ir.ResourceNode{
		node("base"),
		node("mid", "base"),
		node("top", "mid"),
	}

	dag, err := BuildDAG(nodes)
	require.NoError(t, err)

	assert.Equal(t, []string{"base", "mid", "top"}, dag.CreationOrder())
	assert.Equal(t, []string{"top", "mid", "base"}, dag.DestructionOrder())
}
