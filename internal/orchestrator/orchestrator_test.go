package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faststack-io/faststack/internal/config"
	"github.com/faststack-io/faststack/internal/engine"
	"github.com/faststack-io/faststack/internal/ir"
	awsp "github.com/faststack-io/faststack/providers/aws"
)

func testOrchestrator(t *testing.T, mutate func(*config.Config)) *Orchestrator {
	t.Helper()
	cfg := &config.Config{StackName: "demo", Region: "us-east-1", AdminEmail: "ops@example.com"}
	cfg.Backend.Pattern = "basic"
	if mutate != nil {
		mutate(cfg)
	}
	return &Orchestrator{
		cfg:     cfg,
		clients: &awsp.Clients{Region: cfg.Region, AccountID: "123456789012"},
	}
}

func planIndex(t *testing.T, order []*ir.ResourceNode) map[string]int {
	t.Helper()
	idx := make(map[string]int, len(order))
	for i, n := range order {
		idx[n.ID] = i
	}
	return idx
}

func TestNodes_GraphIsValid(t *testing.T) {
	o := testOrchestrator(t, nil)
	require.NoError(t, o.Validate())
}

func TestNodes_PlanOrderHonorsDataFlow(t *testing.T) {
	o := testOrchestrator(t, nil)

	order, err := o.PlanOrder()
	require.NoError(t, err)
	idx := planIndex(t, order)

	assert.Less(t, idx["identity"], idx["machine-credential"])
	assert.Less(t, idx["registry"], idx["build"])
	assert.Less(t, idx["staging-bucket"], idx["build"])
	assert.Less(t, idx["build"], idx["runtime"])
	assert.Less(t, idx["runtime"], idx["api"])
	assert.Less(t, idx["identity"], idx["api"])
	assert.Less(t, idx["web-bucket"], idx["cdn"])
}

func TestNodes_GatewayOnlyWithEndpoint(t *testing.T) {
	o := testOrchestrator(t, nil)
	idx := planIndex(t, o.Nodes())
	assert.NotContains(t, idx, "gateway")

	o = testOrchestrator(t, func(c *config.Config) {
		c.Gateway.Endpoint = "https://gateways.example.com"
	})

	order, err := o.PlanOrder()
	require.NoError(t, err)
	idx = planIndex(t, order)
	require.Contains(t, idx, "gateway")
	assert.Less(t, idx["api"], idx["gateway"])
	assert.Less(t, idx["runtime"], idx["gateway"])
	assert.Less(t, idx["machine-credential"], idx["gateway"])
}

func TestNodes_NamesCarryStackAndAccount(t *testing.T) {
	o := testOrchestrator(t, nil)

	byID := make(map[string]*ir.ResourceNode)
	for _, n := range o.Nodes() {
		byID[n.ID] = n
	}

	identity := byID["identity"].Config.(*awsp.IdentityConfig)
	assert.Equal(t, "demo-users", identity.PoolName)
	assert.Equal(t, "demo-123456789012", identity.DomainPrefix)

	staging := byID["staging-bucket"].Config.(*awsp.BucketConfig)
	assert.Equal(t, "demo-staging-123456789012", staging.BucketName)

	runtime := byID["runtime"].Config.(*awsp.RuntimeConfig)
	assert.Equal(t, "demo-agent", runtime.FunctionName)
	assert.Equal(t, "basic", runtime.Environment["AGENT_PATTERN"])
}

func TestNodes_RoleARNsComeFromParameterStore(t *testing.T) {
	o := testOrchestrator(t, nil)

	for _, n := range o.Nodes() {
		for _, ref := range n.DeclaredInputs {
			if ref.Name == "role_arn" || ref.Name == "service_role" {
				key, ok := ref.StoreKey()
				require.True(t, ok, "%s/%s must resolve through the bridge", n.ID, ref.Name)
				assert.Contains(t, key, "iam/")
			}
		}
	}
}

func TestCollectOutputs_SkipsUnappliedNodes(t *testing.T) {
	o := testOrchestrator(t, nil)

	report := &ir.RunReport{
		Results: []*ir.NodeResult{
			{ID: "identity", Status: ir.StatusApplied, Outputs: ir.Outputs{"user_pool_id": "pool-1", "domain": "demo.auth"}},
			{ID: "build", Status: ir.StatusFailed},
			{ID: "runtime", Status: ir.StatusSkipped, Outputs: ir.Outputs{"function_arn": "stale"}},
		},
	}
	o.collectOutputs(report)

	assert.Equal(t, "pool-1", report.Outputs.UserPoolID)
	assert.Equal(t, "demo.auth", report.Outputs.IdentityDomain)
	assert.Empty(t, report.Outputs.ImageURI)
	assert.Empty(t, report.Outputs.RuntimeARN, "skipped nodes contribute nothing")
}

func TestValidate_CatchesDanglingEdit(t *testing.T) {
	o := testOrchestrator(t, nil)

	nodes := o.Nodes()
	nodes[0].DependsOn = []string{"no-such-node"}

	_, err := engine.Plan(nodes)
	require.Error(t, err)
}
