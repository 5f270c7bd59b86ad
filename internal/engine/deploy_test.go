package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faststack-io/faststack/internal/ir"
	"github.com/faststack-io/faststack/internal/params"
	"github.com/faststack-io/faststack/internal/provider"
)

// fakeLifecycle records create order and can be told to fail specific nodes.
type fakeLifecycle struct {
	mu      sync.Mutex
	created []string
	inputs  map[string]ir.Inputs
	failOn  map[string]error
	outputs map[string]ir.Outputs
	delay   time.Duration
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{
		inputs:  make(map[string]ir.Inputs),
		failOn:  make(map[string]error),
		outputs: make(map[string]ir.Outputs),
	}
}

func (f *fakeLifecycle) Create(ctx context.Context, node *ir.ResourceNode, in ir.Inputs) (ir.Outputs, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.created = append(f.created, node.ID)
	f.inputs[node.ID] = in
	f.mu.Unlock()

	if err := f.failOn[node.ID]; err != nil {
		return nil, err
	}
	if out, ok := f.outputs[node.ID]; ok {
		return out, nil
	}
	return ir.Outputs{"id": node.ID + "-physical"}, nil
}

func (f *fakeLifecycle) Delete(ctx context.Context, node *ir.ResourceNode, prior ir.Outputs) error {
	f.mu.Lock()
	f.created = append(f.created, "delete:"+node.ID)
	f.mu.Unlock()
	return f.failOn["delete:"+node.ID]
}

func (f *fakeLifecycle) Stabilize(ctx context.Context, node *ir.ResourceNode, out ir.Outputs) error {
	return nil
}

func (f *fakeLifecycle) orderOf(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range f.created {
		if v == id {
			return i
		}
	}
	return -1
}

func newTestDeployer(fake *fakeLifecycle, bridge params.Bridge) *Deployer {
	registry := provider.NewRegistry()
	for _, kind := range []ir.Kind{
		ir.KindIdentity, ir.KindMachineCredential, ir.KindRegistry, ir.KindBuildJob,
		ir.KindRuntime, ir.KindStorage, ir.KindApiRoute, ir.KindCDN, ir.KindCustomResource,
	} {
		registry.Register(kind, fake)
	}
	d := NewDeployer(registry, bridge)
	d.NodeTimeout = 5 * time.Second
	return d
}

func TestRun_AllApplied(t *testing.T) {
	fake := newFakeLifecycle()
	d := newTestDeployer(fake, params.NewMemory())

	nodes := []*ir.ResourceNode{
		{ID: "a", Kind: ir.KindStorage},
		{ID: "b", Kind: ir.KindStorage, DependsOn: []string{"a"}},
		{ID: "c", Kind: ir.KindStorage},
	}

	report, err := d.Run(context.Background(), "test", nodes, nil)
	require.NoError(t, err)
	assert.True(t, report.Applied())
	assert.Len(t, report.Results, 3)
	assert.Less(t, fake.orderOf("a"), fake.orderOf("b"), "a must stabilize before b starts")
}

func TestRun_OutputsFlowAlongDataEdges(t *testing.T) {
	fake := newFakeLifecycle()
	fake.outputs["producer"] = ir.Outputs{"image_uri": "registry.example/app:v1"}
	d := newTestDeployer(fake, params.NewMemory())

	nodes := []*ir.ResourceNode{
		{ID: "producer", Kind: ir.KindBuildJob},
		{
			ID:   "consumer",
			Kind: ir.KindRuntime,
			DeclaredInputs: []ir.ParameterRef{
				{Name: "image_uri", Source: ir.NodeOutput("producer", "image_uri")},
			},
		},
	}

	_, err := d.Run(context.Background(), "test", nodes, nil)
	require.NoError(t, err)
	assert.Equal(t, "registry.example/app:v1", fake.inputs["consumer"]["image_uri"])
}

func TestRun_ExplicitEdgeOrdersIndependentNodes(t *testing.T) {
	// No data flows from runtime to gateway; the DependsOn edge alone must
	// hold gateway back.
	fake := newFakeLifecycle()
	fake.delay = 10 * time.Millisecond
	d := newTestDeployer(fake, params.NewMemory())

	nodes := []*ir.ResourceNode{
		{ID: "runtime", Kind: ir.KindRuntime},
		{ID: "gateway", Kind: ir.KindCustomResource, DependsOn: []string{"runtime"}},
	}

	for i := 0; i < 10; i++ {
		fake.mu.Lock()
		fake.created = nil
		fake.mu.Unlock()

		_, err := d.Run(context.Background(), "test", nodes, nil)
		require.NoError(t, err)
		assert.Less(t, fake.orderOf("runtime"), fake.orderOf("gateway"))
	}
}

func TestRun_FailureSkipsDownstreamOnly(t *testing.T) {
	fake := newFakeLifecycle()
	fake.failOn["build"] = &BuildFailure{BuildID: "b-1", Status: "TIMED_OUT", Reason: "build exceeded 15m0s"}
	d := newTestDeployer(fake, params.NewMemory())

	nodes := []*ir.ResourceNode{
		{ID: "identity", Kind: ir.KindIdentity},
		{ID: "credential", Kind: ir.KindMachineCredential, DependsOn: []string{"identity"}},
		{ID: "build", Kind: ir.KindBuildJob, DependsOn: []string{"credential"}},
		{ID: "runtime", Kind: ir.KindRuntime, DependsOn: []string{"build"}},
		{ID: "gateway", Kind: ir.KindCustomResource, DependsOn: []string{"runtime"}},
	}

	report, err := d.Run(context.Background(), "test", nodes, nil)
	require.Error(t, err)

	var partial *PartialDeploymentError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "build", partial.FailedID)
	assert.ElementsMatch(t, []string{"identity", "credential"}, partial.Applied)
	assert.ElementsMatch(t, []string{"runtime", "gateway"}, partial.Skipped)

	var bf *BuildFailure
	require.ErrorAs(t, err, &bf, "the build failure must be reachable through the partial error")
	assert.Equal(t, "TIMED_OUT", bf.Status)

	// The report covers every node exactly once.
	require.Len(t, report.Results, 5)
	assert.Equal(t, ir.StatusApplied, report.Result("identity").Status)
	assert.Equal(t, ir.StatusApplied, report.Result("credential").Status)
	assert.Equal(t, ir.StatusFailed, report.Result("build").Status)
	assert.Equal(t, ir.StatusSkipped, report.Result("runtime").Status)
	assert.Equal(t, ir.StatusSkipped, report.Result("gateway").Status)
	assert.Contains(t, report.Result("build").Error, "build exceeded 15m0s")
}

func TestRun_IndependentBranchStillAppliesOnFailure(t *testing.T) {
	fake := newFakeLifecycle()
	fake.failOn["doomed"] = errors.New("boom")
	d := newTestDeployer(fake, params.NewMemory())
	d.Parallelism = 1 // serialize so the independent node is reached deterministically

	nodes := []*ir.ResourceNode{
		{ID: "island", Kind: ir.KindStorage},
		{ID: "doomed", Kind: ir.KindStorage, DependsOn: []string{"island"}},
		{ID: "after-doomed", Kind: ir.KindStorage, DependsOn: []string{"doomed"}},
	}

	report, err := d.Run(context.Background(), "test", nodes, nil)
	require.Error(t, err)
	assert.Equal(t, ir.StatusApplied, report.Result("island").Status)
	assert.Equal(t, ir.StatusFailed, report.Result("doomed").Status)
	assert.Equal(t, ir.StatusSkipped, report.Result("after-doomed").Status)
}

func TestResolveInputs_ParameterStore(t *testing.T) {
	bridge := params.NewMemory()
	require.NoError(t, bridge.Put(context.Background(), "/test/iam/role_arn", "arn:aws:iam::1:role/x", "setup"))
	require.NoError(t, bridge.PutSecret(context.Background(), "/test/auth/secret", "hunter2", "setup"))

	fake := newFakeLifecycle()
	d := newTestDeployer(fake, bridge)

	nodes := []*ir.ResourceNode{
		{
			ID:   "runtime",
			Kind: ir.KindRuntime,
			DeclaredInputs: []ir.ParameterRef{
				{Name: "role_arn", Source: "param://iam/role_arn"},
				{Name: "secret", Source: "secret://auth/secret"},
				{Name: "missing_ok", Source: "param://not/there", Optional: true},
			},
		},
	}

	_, err := d.Run(context.Background(), "test", nodes, nil)
	require.NoError(t, err)

	in := fake.inputs["runtime"]
	assert.Equal(t, "arn:aws:iam::1:role/x", in["role_arn"])
	assert.Equal(t, "hunter2", in["secret"])
	assert.Equal(t, "", in["missing_ok"])
}

func TestResolveInputs_MissingRequiredParameter(t *testing.T) {
	fake := newFakeLifecycle()
	d := newTestDeployer(fake, params.NewMemory())

	nodes := []*ir.ResourceNode{
		{
			ID:   "runtime",
			Kind: ir.KindRuntime,
			DeclaredInputs: []ir.ParameterRef{
				{Name: "role_arn", Source: "param://iam/role_arn"},
			},
		},
	}

	_, err := d.Run(context.Background(), "test", nodes, nil)
	require.Error(t, err)

	var unresolved *UnresolvedParameterError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "runtime", unresolved.NodeID)
	assert.Equal(t, "/test/iam/role_arn", unresolved.Key)
	assert.Empty(t, fake.created, "the lifecycle must not run with unresolved inputs")
}

func TestResolveInputs_SecretNotReadableAsPlain(t *testing.T) {
	bridge := params.NewMemory()
	require.NoError(t, bridge.PutSecret(context.Background(), "/test/auth/secret", "hunter2", "setup"))

	fake := newFakeLifecycle()
	d := newTestDeployer(fake, bridge)

	// A param:// ref (plain read) against a secret-typed key must not leak
	// the value; it behaves as unresolved.
	nodes := []*ir.ResourceNode{
		{
			ID:   "leaky",
			Kind: ir.KindRuntime,
			DeclaredInputs: []ir.ParameterRef{
				{Name: "secret", Source: "param://auth/secret"},
			},
		},
	}

	_, err := d.Run(context.Background(), "test", nodes, nil)
	var unresolved *UnresolvedParameterError
	require.ErrorAs(t, err, &unresolved)
}

func TestDestroy_ReverseOrderAndTolerance(t *testing.T) {
	fake := newFakeLifecycle()
	d := newTestDeployer(fake, params.NewMemory())

	nodes := []*ir.ResourceNode{
		{ID: "base", Kind: ir.KindStorage},
		{ID: "top", Kind: ir.KindStorage, DependsOn: []string{"base"}},
	}
	recorded := map[string]ir.Outputs{
		"base": {"id": "base-physical"},
		"top":  {"id": "top-physical"},
	}

	err := d.Destroy(context.Background(), nodes, recorded, nil)
	require.NoError(t, err)
	assert.Less(t, fake.orderOf("delete:top"), fake.orderOf("delete:base"))
}

func TestDestroy_SkipsNeverApplied(t *testing.T) {
	fake := newFakeLifecycle()
	d := newTestDeployer(fake, params.NewMemory())

	nodes := []*ir.ResourceNode{
		{ID: "applied", Kind: ir.KindStorage},
		{ID: "never-ran", Kind: ir.KindStorage},
	}
	recorded := map[string]ir.Outputs{"applied": {"id": "x"}}

	require.NoError(t, d.Destroy(context.Background(), nodes, recorded, nil))
	assert.Equal(t, -1, fake.orderOf("delete:never-ran"))
	assert.NotEqual(t, -1, fake.orderOf("delete:applied"))
}
