package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/faststack-io/faststack/internal/ir"
	"github.com/faststack-io/faststack/internal/logging"
	"github.com/faststack-io/faststack/internal/params"
	"github.com/faststack-io/faststack/internal/provider"
)

const defaultParallelism = 4

// Event reports per-node progress during a run.
type Event struct {
	NodeID   string
	Kind     ir.Kind
	Status   string // "started", "applied", "failed", "skipped"
	Duration time.Duration
	Error    error
}

// EventCallback is invoked for each Event if set.
type EventCallback func(Event)

// Deployer executes a planned node order against registered lifecycles.
// Nodes with no dependency relationship may run concurrently; a node never
// starts before every one of its dependencies has stabilized.
type Deployer struct {
	registry    *provider.Registry
	bridge      params.Bridge
	NodeTimeout time.Duration
	Parallelism int
}

func NewDeployer(registry *provider.Registry, bridge params.Bridge) *Deployer {
	return &Deployer{
		registry:    registry,
		bridge:      bridge,
		NodeTimeout: DefaultNodeTimeout,
		Parallelism: defaultParallelism,
	}
}

// Run executes nodes in plan order and returns a report covering every node
// as applied, failed, or skipped. On any node failure the remaining
// unexecuted nodes are skipped, already-applied nodes are left as-is, and the
// returned error is a *PartialDeploymentError wrapping the cause.
func (d *Deployer) Run(ctx context.Context, env string, nodes []*ir.ResourceNode, callback EventCallback) (*ir.RunReport, error) {
	ordered, err := Plan(nodes)
	if err != nil {
		return nil, err
	}
	dag, err := BuildDAG(nodes)
	if err != nil {
		return nil, err
	}

	report := &ir.RunReport{
		Env:       env,
		StartedAt: time.Now().UTC(),
		ByID:      make(map[string]*ir.NodeResult, len(ordered)),
	}
	for _, n := range ordered {
		res := &ir.NodeResult{ID: n.ID, Kind: n.Kind, Status: ir.StatusSkipped}
		report.Results = append(report.Results, res)
		report.ByID[n.ID] = res
	}

	emit := func(ev Event) {
		if callback != nil {
			callback(ev)
		}
	}

	var (
		mu        sync.Mutex
		cond      = sync.NewCond(&mu)
		completed = make(map[string]ir.Outputs)
		failed    = make(map[string]bool)
		firstErr  error
		failedID  string
	)
	sem := make(chan struct{}, d.Parallelism)

	var wg sync.WaitGroup
	for _, node := range ordered {
		wg.Add(1)
		go func(n *ir.ResourceNode) {
			defer wg.Done()

			// Wait until every dependency has stabilized or failed.
			mu.Lock()
			for {
				if firstErr != nil {
					mu.Unlock()
					cond.Broadcast()
					return
				}
				ready, depFailed := true, false
				for _, dep := range dag.Dependencies(n.ID) {
					if failed[dep] {
						depFailed = true
						break
					}
					if _, ok := completed[dep]; !ok {
						ready = false
						break
					}
				}
				if depFailed {
					failed[n.ID] = true
					mu.Unlock()
					emit(Event{NodeID: n.ID, Kind: n.Kind, Status: "skipped"})
					cond.Broadcast()
					return
				}
				if ready {
					break
				}
				cond.Wait()
			}
			snapshot := make(map[string]ir.Outputs, len(completed))
			for id, out := range completed {
				snapshot[id] = out
			}
			mu.Unlock()

			if err := ctx.Err(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("run cancelled: %w", err)
					failedID = n.ID
				}
				mu.Unlock()
				cond.Broadcast()
				return
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(Event{NodeID: n.ID, Kind: n.Kind, Status: "started"})

			out, nodeErr := d.applyNode(ctx, env, n, snapshot)

			mu.Lock()
			res := report.ByID[n.ID]
			res.Duration = time.Since(start)
			res.FinishedAt = time.Now().UTC()
			if nodeErr != nil {
				res.Status = ir.StatusFailed
				res.Error = nodeErr.Error()
				failed[n.ID] = true
				if firstErr == nil {
					firstErr = nodeErr
					failedID = n.ID
				}
				mu.Unlock()
				emit(Event{NodeID: n.ID, Kind: n.Kind, Status: "failed", Duration: res.Duration, Error: nodeErr})
				cond.Broadcast()
				return
			}
			res.Status = ir.StatusApplied
			res.Outputs = out
			completed[n.ID] = out
			mu.Unlock()

			emit(Event{NodeID: n.ID, Kind: n.Kind, Status: "applied", Duration: res.Duration})
			cond.Broadcast()
		}(node)
	}
	wg.Wait()

	if firstErr != nil {
		var applied, skipped []string
		for _, res := range report.Results {
			switch res.Status {
			case ir.StatusApplied:
				applied = append(applied, res.ID)
			case ir.StatusSkipped:
				skipped = append(skipped, res.ID)
			}
		}
		return report, &PartialDeploymentError{
			FailedID: failedID,
			Cause:    firstErr,
			Applied:  applied,
			Skipped:  skipped,
		}
	}
	return report, nil
}

// applyNode resolves a node's inputs, runs its lifecycle Create with retry on
// transient errors, and blocks until the resource stabilizes.
func (d *Deployer) applyNode(ctx context.Context, env string, n *ir.ResourceNode, completed map[string]ir.Outputs) (ir.Outputs, error) {
	ctx, cancel := context.WithTimeout(ctx, d.NodeTimeout)
	defer cancel()

	in, err := d.resolveInputs(ctx, env, n, completed)
	if err != nil {
		return nil, err
	}

	lc, err := d.registry.Get(n.Kind)
	if err != nil {
		return nil, err
	}

	logging.Debug("applying node", "id", n.ID, "kind", n.Kind)

	var out ir.Outputs
	err = RetryWithBackoff(ctx, DefaultRetryPolicy(), func() error {
		var createErr error
		out, createErr = lc.Create(ctx, n, in)
		return createErr
	}, IsTransientError)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.ID, err)
	}

	if err := lc.Stabilize(ctx, n, out); err != nil {
		return nil, fmt.Errorf("node %s did not stabilize: %w", n.ID, err)
	}
	return out, nil
}

// resolveInputs materializes DeclaredInputs. node:// refs read the outputs of
// already-completed nodes; param:// and secret:// refs read the bridge. A
// missing store key is fatal unless the ref is marked optional.
func (d *Deployer) resolveInputs(ctx context.Context, env string, n *ir.ResourceNode, completed map[string]ir.Outputs) (ir.Inputs, error) {
	in := make(ir.Inputs, len(n.DeclaredInputs))
	for _, ref := range n.DeclaredInputs {
		if id, output, ok := ref.NodeRef(); ok {
			out, done := completed[id]
			if !done {
				// Unreachable when the graph is honored; guards misuse.
				return nil, fmt.Errorf("node %s: input %q reads node %s before it completed", n.ID, ref.Name, id)
			}
			val, exists := out[output]
			if !exists && !ref.Optional {
				return nil, fmt.Errorf("node %s: node %s produced no output %q", n.ID, id, output)
			}
			in[ref.Name] = val
			continue
		}

		key, ok := ref.StoreKey()
		if !ok {
			return nil, fmt.Errorf("node %s: input %q has malformed source %q", n.ID, ref.Name, ref.Source)
		}
		full := params.Key(env, key)

		var val string
		var err error
		if ref.IsSecret() {
			val, err = d.bridge.GetSecret(ctx, full)
		} else {
			val, err = d.bridge.Get(ctx, full)
		}
		if err != nil {
			var nf *params.NotFoundError
			if errors.As(err, &nf) {
				if ref.Optional {
					in[ref.Name] = ""
					continue
				}
				return nil, &UnresolvedParameterError{NodeID: n.ID, Key: full}
			}
			return nil, fmt.Errorf("node %s: reading input %q: %w", n.ID, ref.Name, err)
		}
		in[ref.Name] = val
	}
	return in, nil
}

// Destroy tears nodes down in reverse dependency order using recorded
// outputs. Missing remote resources are tolerated by the lifecycles.
func (d *Deployer) Destroy(ctx context.Context, nodes []*ir.ResourceNode, recorded map[string]ir.Outputs, callback EventCallback) error {
	dag, err := BuildDAG(nodes)
	if err != nil {
		return err
	}
	byID := make(map[string]*ir.ResourceNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	emit := func(ev Event) {
		if callback != nil {
			callback(ev)
		}
	}

	var errs []error
	for _, id := range dag.DestructionOrder() {
		n := byID[id]
		prior, ok := recorded[id]
		if !ok {
			continue // never applied
		}

		lc, err := d.registry.Get(n.Kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		start := time.Now()
		emit(Event{NodeID: n.ID, Kind: n.Kind, Status: "started"})
		err = RetryWithBackoff(ctx, DefaultRetryPolicy(), func() error {
			return lc.Delete(ctx, n, prior)
		}, IsTransientError)
		if err != nil {
			emit(Event{NodeID: n.ID, Kind: n.Kind, Status: "failed", Duration: time.Since(start), Error: err})
			errs = append(errs, fmt.Errorf("destroy %s: %w", n.ID, err))
			continue
		}
		emit(Event{NodeID: n.ID, Kind: n.Kind, Status: "applied", Duration: time.Since(start)})
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d resource(s) failed to destroy: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
