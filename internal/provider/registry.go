package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/faststack-io/faststack/internal/ir"
)

// Lifecycle is the capability set every resource kind implements. Create and
// Delete perform the underlying control-plane calls; Stabilize blocks until
// the resource reaches a terminal ready state. The deployer never reports a
// node applied before Stabilize returns.
type Lifecycle interface {
	Create(ctx context.Context, node *ir.ResourceNode, in ir.Inputs) (ir.Outputs, error)
	Delete(ctx context.Context, node *ir.ResourceNode, prior ir.Outputs) error
	Stabilize(ctx context.Context, node *ir.ResourceNode, out ir.Outputs) error
}

// Registry maps resource kinds to their lifecycle implementations.
type Registry struct {
	mu         sync.RWMutex
	lifecycles map[ir.Kind]Lifecycle
}

func NewRegistry() *Registry {
	return &Registry{lifecycles: make(map[ir.Kind]Lifecycle)}
}

// Register binds a lifecycle implementation to a kind. Later registrations
// for the same kind replace earlier ones.
func (r *Registry) Register(kind ir.Kind, lc Lifecycle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycles[kind] = lc
}

// Get returns the lifecycle for a kind.
func (r *Registry) Get(kind ir.Kind) (Lifecycle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lc, ok := r.lifecycles[kind]
	if !ok {
		return nil, fmt.Errorf("no lifecycle registered for kind %q", kind)
	}
	return lc, nil
}

// Kinds returns the registered kinds, for validation.
func (r *Registry) Kinds() []ir.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]ir.Kind, 0, len(r.lifecycles))
	for k := range r.lifecycles {
		kinds = append(kinds, k)
	}
	return kinds
}
