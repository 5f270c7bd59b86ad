package aws

import (
	"context"

	"github.com/faststack-io/faststack/internal/gateway"
	"github.com/faststack-io/faststack/internal/ir"
)

// CustomResourceConfig carries the property bag for an adapter-managed
// resource. Properties resolved from node inputs take precedence over static
// ones declared here.
type CustomResourceConfig struct {
	Properties map[string]string `json:"properties,omitempty"`
}

// CustomResource bridges graph nodes onto the provisioning adapter for
// services the native vocabulary cannot express.
type CustomResource struct {
	adapter *gateway.Adapter
}

func NewCustomResource(adapter *gateway.Adapter) *CustomResource {
	return &CustomResource{adapter: adapter}
}

func (p *CustomResource) Create(ctx context.Context, node *ir.ResourceNode, in ir.Inputs) (ir.Outputs, error) {
	res, err := p.adapter.Handle(ctx, gateway.LifecycleRequest{
		ResourceID:       node.ID,
		Operation:        gateway.OpCreate,
		Properties:       p.properties(node, in),
		IdempotencyToken: gateway.NewToken(),
	})
	if err != nil {
		return nil, err
	}

	out := ir.Outputs{"physical_id": res.PhysicalID}
	for k, v := range res.Attributes {
		out[k] = v
	}
	return out, nil
}

// Stabilize is a no-op: the adapter returns only once the resource is READY.
func (p *CustomResource) Stabilize(ctx context.Context, node *ir.ResourceNode, out ir.Outputs) error {
	return nil
}

func (p *CustomResource) Delete(ctx context.Context, node *ir.ResourceNode, prior ir.Outputs) error {
	_, err := p.adapter.Handle(ctx, gateway.LifecycleRequest{
		ResourceID:       node.ID,
		Operation:        gateway.OpDelete,
		PhysicalID:       prior["physical_id"],
		Properties:       p.properties(node, nil),
		IdempotencyToken: gateway.NewToken(),
	})
	return err
}

func (p *CustomResource) properties(node *ir.ResourceNode, in ir.Inputs) map[string]string {
	props := make(map[string]string)
	if cfg, ok := node.Config.(*CustomResourceConfig); ok {
		for k, v := range cfg.Properties {
			props[k] = v
		}
	}
	for k, v := range in {
		props[k] = v
	}
	if len(props) == 0 {
		return nil
	}
	return props
}
