// Package orchestrator assembles the resource graph for a configured stack
// and drives it through the deployment engine.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/faststack-io/faststack/internal/config"
	"github.com/faststack-io/faststack/internal/engine"
	"github.com/faststack-io/faststack/internal/gateway"
	"github.com/faststack-io/faststack/internal/ir"
	"github.com/faststack-io/faststack/internal/logging"
	"github.com/faststack-io/faststack/internal/params"
	"github.com/faststack-io/faststack/internal/pipeline"
	"github.com/faststack-io/faststack/internal/provider"
	awsp "github.com/faststack-io/faststack/providers/aws"
)

// Orchestrator owns one stack: it translates the configuration into a typed
// resource graph, wires the lifecycle registry, and runs deployments.
type Orchestrator struct {
	cfg      *config.Config
	clients  *awsp.Clients
	bridge   params.Bridge
	registry *provider.Registry
	deployer *engine.Deployer
	roles    *awsp.Roles
}

// New resolves cloud clients for the configured region and registers a
// lifecycle for every node kind the graph can contain.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	clients, err := awsp.NewClients(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}
	bridge := clients.Bridge()

	pipe, err := buildPipeline(cfg, clients)
	if err != nil {
		return nil, err
	}

	env := cfg.StackName
	registry := provider.NewRegistry()
	registry.Register(ir.KindIdentity, awsp.NewIdentity(clients, bridge, env))
	registry.Register(ir.KindMachineCredential, awsp.NewMachineCredential(clients, bridge, env))
	registry.Register(ir.KindRegistry, awsp.NewImageRegistry(clients))
	registry.Register(ir.KindBuildJob, awsp.NewBuildJob(pipe, bridge, env))
	registry.Register(ir.KindRuntime, awsp.NewRuntime(clients, bridge, env))
	registry.Register(ir.KindStorage, awsp.NewStorage(clients, bridge, env))
	registry.Register(ir.KindApiRoute, awsp.NewApiRoute(clients, bridge, env))
	registry.Register(ir.KindCDN, awsp.NewCDN(clients, bridge, env))
	if cfg.Gateway.Endpoint != "" {
		cp := gateway.NewHTTPControlPlane(cfg.Gateway.Endpoint)
		registry.Register(ir.KindCustomResource, awsp.NewCustomResource(gateway.NewAdapter(cp, bridge, env)))
	}

	return &Orchestrator{
		cfg:      cfg,
		clients:  clients,
		bridge:   bridge,
		registry: registry,
		deployer: engine.NewDeployer(registry, bridge),
		roles:    awsp.NewRoles(clients, bridge, env),
	}, nil
}

func buildPipeline(cfg *config.Config, clients *awsp.Clients) (pipeline.Pipeline, error) {
	switch cfg.Build.Backend {
	case config.BuildBackendDocker:
		return pipeline.NewDocker(clients.ECR)
	default:
		return pipeline.NewCodeBuild(clients.CodeBuild, clients.S3, clients.Logs, clients.Region), nil
	}
}

// Nodes builds the resource graph for the configured pattern. Data flow is
// expressed through node:// inputs; DependsOn carries the ordering-only
// edges.
func (o *Orchestrator) Nodes() []*ir.ResourceNode {
	stack := o.cfg.StackName
	account := o.clients.AccountID

	nodes := []*ir.ResourceNode{
		{
			ID:   "identity",
			Kind: ir.KindIdentity,
			Config: &awsp.IdentityConfig{
				PoolName:         stack + "-users",
				DomainPrefix:     fmt.Sprintf("%s-%s", stack, account),
				ResourceServerID: stack + "-api",
				Scopes: []awsp.ScopeConfig{
					{Name: "invoke", Description: "Invoke the agent runtime"},
				},
				AdminEmail: o.cfg.AdminEmail,
			},
			ProducedOutputs: []string{"user_pool_id", "user_pool_arn", "web_client_id", "discovery_url", "domain", "m2m_scopes"},
		},
		{
			ID:   "machine-credential",
			Kind: ir.KindMachineCredential,
			Config: &awsp.MachineCredentialConfig{
				ClientName: stack + "-m2m",
			},
			DeclaredInputs: []ir.ParameterRef{
				{Name: "user_pool_id", Source: ir.NodeOutput("identity", "user_pool_id")},
				{Name: "m2m_scopes", Source: ir.NodeOutput("identity", "m2m_scopes")},
			},
			ProducedOutputs: []string{"client_id", "secret_arn", "scopes"},
		},
		{
			ID:              "registry",
			Kind:            ir.KindRegistry,
			Config:          &awsp.RegistryConfig{RepositoryName: stack, ScanOnPush: true},
			ProducedOutputs: []string{"repository_uri", "repository_arn"},
		},
		{
			ID:   "staging-bucket",
			Kind: ir.KindStorage,
			Config: &awsp.BucketConfig{
				BucketName: fmt.Sprintf("%s-staging-%s", stack, account),
			},
			ProducedOutputs: []string{"bucket_name", "bucket_arn"},
		},
		{
			ID:   "build",
			Kind: ir.KindBuildJob,
			Config: &awsp.BuildJobConfig{
				SourceDir: o.cfg.Build.Source,
				ImageTag:  o.cfg.Build.ImageTag,
			},
			DeclaredInputs: []ir.ParameterRef{
				{Name: "repository_uri", Source: ir.NodeOutput("registry", "repository_uri")},
				{Name: "staging_bucket", Source: ir.NodeOutput("staging-bucket", "bucket_name")},
				{Name: "service_role", Source: ir.RefSchemeParam + "iam/build_role_arn"},
			},
			ProducedOutputs: []string{"image_uri", "image_tag", "source_digest"},
		},
		{
			ID:   "runtime",
			Kind: ir.KindRuntime,
			Config: &awsp.RuntimeConfig{
				FunctionName: stack + "-agent",
				Environment: map[string]string{
					"STACK_NAME":    stack,
					"AGENT_PATTERN": o.cfg.Backend.Pattern,
				},
			},
			DeclaredInputs: []ir.ParameterRef{
				{Name: "image_uri", Source: ir.NodeOutput("build", "image_uri")},
				{Name: "role_arn", Source: ir.RefSchemeParam + "iam/runtime_role_arn"},
			},
			ProducedOutputs: []string{"function_arn", "function_name"},
		},
		{
			ID:   "sessions-table",
			Kind: ir.KindStorage,
			Config: &awsp.TableConfig{
				TableName: stack + "-sessions",
				HashKey:   "session_id",
				TTLField:  "expires_at",
			},
			ProducedOutputs: []string{"table_name", "table_arn"},
		},
		{
			ID:   "api",
			Kind: ir.KindApiRoute,
			Config: &awsp.ApiRouteConfig{
				ApiName:    stack + "-api",
				RequireJWT: true,
			},
			DeclaredInputs: []ir.ParameterRef{
				{Name: "function_arn", Source: ir.NodeOutput("runtime", "function_arn")},
				{Name: "user_pool_id", Source: ir.NodeOutput("identity", "user_pool_id")},
				{Name: "web_client_id", Source: ir.NodeOutput("identity", "web_client_id")},
				{Name: "m2m_client_id", Source: ir.NodeOutput("machine-credential", "client_id"), Optional: true},
			},
			ProducedOutputs: []string{"api_id", "api_endpoint"},
		},
		{
			ID:   "web-bucket",
			Kind: ir.KindStorage,
			Config: &awsp.BucketConfig{
				BucketName: fmt.Sprintf("%s-web-%s", stack, account),
			},
			ProducedOutputs: []string{"bucket_name", "bucket_arn"},
		},
		{
			ID:     "cdn",
			Kind:   ir.KindCDN,
			Config: &awsp.CDNConfig{Comment: stack + "-web"},
			DeclaredInputs: []ir.ParameterRef{
				{Name: "bucket_name", Source: ir.NodeOutput("web-bucket", "bucket_name")},
			},
			ProducedOutputs: []string{"distribution_id", "domain_name", "url"},
		},
	}

	if o.cfg.Gateway.Endpoint != "" {
		nodes = append(nodes, &ir.ResourceNode{
			ID:   "gateway",
			Kind: ir.KindCustomResource,
			Config: &awsp.CustomResourceConfig{
				Properties: map[string]string{
					gateway.PropGatewayName: stack + "-gateway",
					gateway.PropTargetName:  stack + "-agent-target",
				},
			},
			DeclaredInputs: []ir.ParameterRef{
				{Name: gateway.PropFunctionARN, Source: ir.NodeOutput("runtime", "function_arn")},
				{Name: gateway.PropClientID, Source: ir.NodeOutput("machine-credential", "client_id")},
				{Name: gateway.PropDiscoveryURL, Source: ir.NodeOutput("identity", "discovery_url")},
				{Name: gateway.PropRoleARN, Source: ir.RefSchemeParam + "iam/runtime_role_arn"},
			},
			DependsOn:       []string{"api"},
			ProducedOutputs: []string{"physical_id", "gateway_id", "gateway_url", "target_id"},
		})
	}
	return nodes
}

// Deploy ensures the IAM prerequisites, runs the graph, and folds node
// outputs into the deployment summary. The report is returned even when the
// run fails partway, so callers can show what applied and what was skipped.
func (o *Orchestrator) Deploy(ctx context.Context, callback engine.EventCallback) (*ir.RunReport, error) {
	if err := o.roles.EnsureAll(ctx); err != nil {
		return nil, err
	}

	nodes := o.Nodes()
	logging.Info("deploying stack", "name", o.cfg.StackName, "nodes", len(nodes), "pattern", o.cfg.Backend.Pattern)

	report, err := o.deployer.Run(ctx, o.cfg.StackName, nodes, callback)
	if report != nil {
		report.Pattern = o.cfg.Backend.Pattern
		o.collectOutputs(report)
	}
	return report, err
}

// Destroy tears the stack down in reverse order using the recorded outputs
// of the last successful run, then removes the IAM roles.
func (o *Orchestrator) Destroy(ctx context.Context, recorded map[string]ir.Outputs, callback engine.EventCallback) error {
	if err := o.deployer.Destroy(ctx, o.Nodes(), recorded, callback); err != nil {
		return err
	}
	return o.roles.DeleteAll(ctx)
}

// Validate plans the graph without touching the cloud, surfacing cycles and
// dangling references.
func (o *Orchestrator) Validate() error {
	_, err := engine.Plan(o.Nodes())
	return err
}

// PlanOrder returns the creation order the deployer will use.
func (o *Orchestrator) PlanOrder() ([]*ir.ResourceNode, error) {
	return engine.Plan(o.Nodes())
}

func (o *Orchestrator) collectOutputs(report *ir.RunReport) {
	pick := func(id, key string) string {
		if res := report.Result(id); res != nil && res.Status == ir.StatusApplied {
			return res.Outputs[key]
		}
		return ""
	}
	report.Outputs = ir.DeploymentOutputs{
		IdentityDomain: pick("identity", "domain"),
		UserPoolID:     pick("identity", "user_pool_id"),
		ImageURI:       pick("build", "image_uri"),
		RuntimeARN:     pick("runtime", "function_arn"),
		GatewayURL:     pick("gateway", "gateway_url"),
		ApiEndpoint:    pick("api", "api_endpoint"),
		FrontendURL:    pick("cdn", "url"),
		TableName:      pick("sessions-table", "table_name"),
		BucketName:     pick("web-bucket", "bucket_name"),
	}
}
