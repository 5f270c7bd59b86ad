package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/faststack-io/faststack/internal/ir"
	"github.com/faststack-io/faststack/internal/logging"
	"github.com/faststack-io/faststack/internal/params"
)

// RuntimeConfig configures the container-image serverless runtime.
type RuntimeConfig struct {
	FunctionName   string            `json:"function_name"`
	MemoryMB       int32             `json:"memory_mb,omitempty"`
	TimeoutSeconds int32             `json:"timeout_seconds,omitempty"`
	Environment    map[string]string `json:"environment,omitempty"`
	Architecture   string            `json:"architecture,omitempty"` // arm64 (default) or x86_64
}

// Runtime provisions the function that runs the built image. The image URI
// and execution role arrive as inputs from the build and IAM nodes.
type Runtime struct {
	clients *Clients
	bridge  params.Bridge
	env     string
}

func NewRuntime(clients *Clients, bridge params.Bridge, env string) *Runtime {
	return &Runtime{clients: clients, bridge: bridge, env: env}
}

func (p *Runtime) Create(ctx context.Context, node *ir.ResourceNode, in ir.Inputs) (ir.Outputs, error) {
	cfg, ok := node.Config.(*RuntimeConfig)
	if !ok {
		return nil, fmt.Errorf("node %s: config is not RuntimeConfig", node.ID)
	}
	imageURI := in["image_uri"]
	roleARN := in["role_arn"]
	if imageURI == "" || roleARN == "" {
		return nil, fmt.Errorf("node %s: image_uri and role_arn inputs are required", node.ID)
	}

	memory := cfg.MemoryMB
	if memory == 0 {
		memory = 2048
	}
	timeout := cfg.TimeoutSeconds
	if timeout == 0 {
		timeout = 300
	}
	arch := types.ArchitectureArm64
	if cfg.Architecture == "x86_64" {
		arch = types.ArchitectureX8664
	}
	env := &types.Environment{Variables: cfg.Environment}

	out, err := p.clients.Lambda.CreateFunction(ctx, &lambda.CreateFunctionInput{
		FunctionName:  strPtr(cfg.FunctionName),
		Role:          strPtr(roleARN),
		PackageType:   types.PackageTypeImage,
		Code:          &types.FunctionCode{ImageUri: strPtr(imageURI)},
		MemorySize:    int32Ptr(memory),
		Timeout:       int32Ptr(timeout),
		Architectures: []types.Architecture{arch},
		Environment:   env,
	})
	if err != nil {
		if !isAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create function %s: %w", cfg.FunctionName, err)
		}
		return p.updateExisting(ctx, node, cfg, imageURI, roleARN, memory, timeout, env)
	}

	logging.Info("function created", "name", cfg.FunctionName)
	return p.publish(ctx, node, *out.FunctionArn, cfg.FunctionName)
}

// updateExisting converges a function that survived a previous run: new image
// first, then configuration once the code update settles.
func (p *Runtime) updateExisting(ctx context.Context, node *ir.ResourceNode, cfg *RuntimeConfig, imageURI, roleARN string, memory, timeout int32, env *types.Environment) (ir.Outputs, error) {
	out, err := p.clients.Lambda.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: strPtr(cfg.FunctionName),
		ImageUri:     strPtr(imageURI),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update function code %s: %w", cfg.FunctionName, err)
	}
	if err := p.waitActive(ctx, cfg.FunctionName); err != nil {
		return nil, err
	}

	_, err = p.clients.Lambda.UpdateFunctionConfiguration(ctx, &lambda.UpdateFunctionConfigurationInput{
		FunctionName: strPtr(cfg.FunctionName),
		Role:         strPtr(roleARN),
		MemorySize:   int32Ptr(memory),
		Timeout:      int32Ptr(timeout),
		Environment:  env,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update function configuration %s: %w", cfg.FunctionName, err)
	}

	logging.Info("function updated", "name", cfg.FunctionName)
	return p.publish(ctx, node, *out.FunctionArn, cfg.FunctionName)
}

func (p *Runtime) publish(ctx context.Context, node *ir.ResourceNode, arn, name string) (ir.Outputs, error) {
	if err := p.bridge.Put(ctx, params.Key(p.env, "runtime", "function_arn"), arn, node.ID); err != nil {
		return nil, fmt.Errorf("failed to publish function arn: %w", err)
	}
	return ir.Outputs{
		"function_arn":  arn,
		"function_name": name,
	}, nil
}

// Stabilize waits for the function to become Active with its last update
// applied; invocations before that are throttled or served stale code.
func (p *Runtime) Stabilize(ctx context.Context, node *ir.ResourceNode, out ir.Outputs) error {
	cfg, ok := node.Config.(*RuntimeConfig)
	if !ok {
		return fmt.Errorf("node %s: config is not RuntimeConfig", node.ID)
	}
	return p.waitActive(ctx, cfg.FunctionName)
}

func (p *Runtime) waitActive(ctx context.Context, name string) error {
	for {
		out, err := p.clients.Lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: strPtr(name)})
		if err != nil {
			return fmt.Errorf("failed to get function %s: %w", name, err)
		}
		c := out.Configuration
		if c.State == types.StateFailed {
			reason := ""
			if c.StateReason != nil {
				reason = *c.StateReason
			}
			return fmt.Errorf("function %s entered Failed state: %s", name, reason)
		}
		if c.State == types.StateActive && c.LastUpdateStatus != types.LastUpdateStatusInProgress {
			if c.LastUpdateStatus == types.LastUpdateStatusFailed {
				return fmt.Errorf("function %s update failed", name)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

func (p *Runtime) Delete(ctx context.Context, node *ir.ResourceNode, prior ir.Outputs) error {
	cfg, ok := node.Config.(*RuntimeConfig)
	if !ok {
		return fmt.Errorf("node %s: config is not RuntimeConfig", node.ID)
	}
	_, err := p.clients.Lambda.DeleteFunction(ctx, &lambda.DeleteFunctionInput{
		FunctionName: strPtr(cfg.FunctionName),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete function %s: %w", cfg.FunctionName, err)
	}
	return nil
}
