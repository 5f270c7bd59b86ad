package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/faststack-io/faststack/internal/engine"
	"github.com/faststack-io/faststack/internal/logging"
	"github.com/faststack-io/faststack/internal/params"
)

// Operation is a lifecycle operation on the external resource.
type Operation string

const (
	OpCreate Operation = "Create"
	OpUpdate Operation = "Update"
	OpDelete Operation = "Delete"
)

// readyWait bounds the poll for a newly created gateway to become READY.
const readyWait = 2 * time.Minute

// targetAttachRetries bounds retries of target attachment while the gateway
// is still settling.
const targetAttachRetries = 5

// LifecycleRequest asks the adapter to drive one lifecycle operation. The
// adapter owns the request for its duration and is the sole writer of the
// resulting external identifier. The framework may redeliver a request after
// a timeout, so every operation is safe to retry.
type LifecycleRequest struct {
	ResourceID       string            `json:"resource_id"`
	Operation        Operation         `json:"operation"`
	PhysicalID       string            `json:"physical_id,omitempty"` // set for Update/Delete
	Properties       map[string]string `json:"properties"`
	IdempotencyToken string            `json:"idempotency_token"`
}

// LifecycleResult is the adapter's answer for a successful operation.
type LifecycleResult struct {
	PhysicalID string            `json:"physical_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Properties understood by the adapter.
const (
	PropGatewayName  = "gateway_name"
	PropFunctionARN  = "function_arn"
	PropRoleARN      = "role_arn"
	PropClientID     = "client_id"
	PropDiscoveryURL = "discovery_url"
	PropToolSchema   = "tool_schema"
	PropTargetName   = "target_name"
)

// Adapter orchestrates the gateway service's multi-call, non-atomic
// lifecycle. Generated endpoints and identifiers are published to the
// parameter store bridge so sibling resources resolve them without
// re-querying the adapter.
type Adapter struct {
	cp     ControlPlane
	bridge params.Bridge
	env    string

	sleep func(time.Duration) // swapped by tests
}

func NewAdapter(cp ControlPlane, bridge params.Bridge, env string) *Adapter {
	return &Adapter{cp: cp, bridge: bridge, env: env, sleep: time.Sleep}
}

// NewToken returns a fresh idempotency token for a request.
func NewToken() string { return uuid.NewString() }

// Handle dispatches one lifecycle request.
func (a *Adapter) Handle(ctx context.Context, req LifecycleRequest) (*LifecycleResult, error) {
	switch req.Operation {
	case OpCreate:
		return a.create(ctx, req)
	case OpUpdate:
		return a.update(ctx, req)
	case OpDelete:
		return a.delete(ctx, req)
	}
	return nil, a.terminal(req, fmt.Sprintf("unknown operation %q", req.Operation))
}

// create is check-then-create: an existing gateway with the requested name is
// adopted rather than duplicated, so redelivered requests converge on the
// same physical id.
func (a *Adapter) create(ctx context.Context, req LifecycleRequest) (*LifecycleResult, error) {
	name := req.Properties[PropGatewayName]
	if name == "" {
		return nil, a.terminal(req, "gateway_name property is required")
	}

	if existing, err := a.findByName(ctx, name); err != nil {
		return nil, a.classify(req, err)
	} else if existing != nil {
		logging.Info("gateway already exists, adopting", "id", existing.ID, "name", name)
		return a.converge(ctx, req, existing)
	}

	gw, err := a.cp.CreateGateway(ctx, CreateGatewayInput{
		Name:             name,
		Description:      "faststack managed gateway",
		RoleARN:          req.Properties[PropRoleARN],
		AllowedClients:   []string{req.Properties[PropClientID]},
		DiscoveryURL:     req.Properties[PropDiscoveryURL],
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		return nil, a.classify(req, err)
	}
	logging.Info("gateway created", "id", gw.ID, "name", name)

	if err := a.waitReady(ctx, gw.ID); err != nil {
		return nil, a.classify(req, err)
	}
	fresh, err := a.cp.GetGateway(ctx, gw.ID)
	if err != nil {
		return nil, a.classify(req, err)
	}
	return a.converge(ctx, req, fresh)
}

// update runs clean against a resource already in the desired state. A name
// change cannot be applied in place; the gateway is recreated.
func (a *Adapter) update(ctx context.Context, req LifecycleRequest) (*LifecycleResult, error) {
	if req.PhysicalID == "" {
		return nil, a.terminal(req, "update requires a physical id")
	}

	gw, err := a.cp.GetGateway(ctx, req.PhysicalID)
	if err != nil {
		if IsNotFound(err) {
			return a.create(ctx, req)
		}
		return nil, a.classify(req, err)
	}

	if want := req.Properties[PropGatewayName]; want != "" && want != gw.Name {
		logging.Info("gateway name changed, recreating", "old", gw.Name, "new", want)
		if _, err := a.delete(ctx, req); err != nil {
			return nil, err
		}
		return a.create(ctx, req)
	}

	return a.converge(ctx, req, gw)
}

// delete removes targets first, then the gateway. Already-deleted resources
// are tolerated.
func (a *Adapter) delete(ctx context.Context, req LifecycleRequest) (*LifecycleResult, error) {
	id := req.PhysicalID
	if id == "" {
		return &LifecycleResult{}, nil
	}

	targets, err := a.cp.ListTargets(ctx, id)
	if err != nil && !IsNotFound(err) {
		return nil, a.classify(req, err)
	}
	for _, t := range targets {
		if err := a.cp.DeleteTarget(ctx, id, t.ID); err != nil && !IsNotFound(err) {
			return nil, a.classify(req, err)
		}
	}

	if err := a.cp.DeleteGateway(ctx, id); err != nil && !IsNotFound(err) {
		return nil, a.classify(req, err)
	}
	return &LifecycleResult{PhysicalID: id}, nil
}

// converge ensures the tool target matches the request and publishes the
// generated endpoint and identifiers to the bridge.
func (a *Adapter) converge(ctx context.Context, req LifecycleRequest, gw *Gateway) (*LifecycleResult, error) {
	targetID, err := a.ensureTarget(ctx, req, gw.ID)
	if err != nil {
		return nil, err
	}

	attrs := map[string]string{
		"gateway_id":  gw.ID,
		"gateway_url": gw.URL,
		"target_id":   targetID,
	}
	for key, val := range attrs {
		if val == "" {
			continue
		}
		if err := a.bridge.Put(ctx, params.Key(a.env, "gateway", key), val, req.ResourceID); err != nil {
			return nil, fmt.Errorf("failed to publish %s: %w", key, err)
		}
	}

	return &LifecycleResult{PhysicalID: gw.ID, Attributes: attrs}, nil
}

// ensureTarget updates the existing target when one exists, otherwise
// creates one, retrying with exponential backoff while the gateway is still
// settling.
func (a *Adapter) ensureTarget(ctx context.Context, req LifecycleRequest, gatewayID string) (string, error) {
	name := req.Properties[PropTargetName]
	if name == "" {
		name = req.ResourceID
	}
	in := TargetInput{
		Name:        name,
		FunctionARN: req.Properties[PropFunctionARN],
		ToolSchema:  json.RawMessage(req.Properties[PropToolSchema]),
	}

	targets, err := a.cp.ListTargets(ctx, gatewayID)
	if err != nil && !IsNotFound(err) {
		return "", a.classify(req, err)
	}
	if len(targets) > 0 {
		t, err := a.cp.UpdateTarget(ctx, gatewayID, targets[0].ID, in)
		if err != nil {
			return "", a.classify(req, err)
		}
		return t.ID, nil
	}

	for attempt := 0; attempt < targetAttachRetries; attempt++ {
		t, err := a.cp.CreateTarget(ctx, gatewayID, in)
		if err == nil {
			return t.ID, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.NotReady() {
			wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			logging.Info("gateway not ready for target, waiting", "wait", wait)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			default:
				a.sleep(wait)
			}
			continue
		}
		return "", a.classify(req, err)
	}
	return "", a.transient(req, fmt.Sprintf("gateway %s not ready for target after %d attempts", gatewayID, targetAttachRetries))
}

// waitReady polls until the gateway reaches READY or a failed state.
func (a *Adapter) waitReady(ctx context.Context, id string) error {
	deadline := time.Now().Add(readyWait)
	for time.Now().Before(deadline) {
		gw, err := a.cp.GetGateway(ctx, id)
		if err != nil {
			return err
		}
		switch gw.Status {
		case "READY":
			return nil
		case "FAILED", "DELETING":
			return &APIError{StatusCode: 500, Body: fmt.Sprintf("gateway %s in unexpected status %s", id, gw.Status)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			a.sleep(10 * time.Second)
		}
	}
	return fmt.Errorf("gateway %s not ready after %s", id, readyWait)
}

func (a *Adapter) findByName(ctx context.Context, name string) (*Gateway, error) {
	gateways, err := a.cp.ListGateways(ctx)
	if err != nil {
		return nil, err
	}
	for i := range gateways {
		if gateways[i].Name == name {
			return &gateways[i], nil
		}
	}
	return nil, nil
}

// classify maps control plane failures onto the transient/terminal split,
// carrying the remote body verbatim.
func (a *Adapter) classify(req LifecycleRequest, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &engine.AdapterLifecycleError{
			ResourceID: req.ResourceID,
			Op:         string(req.Operation),
			Transient:  apiErr.Retryable() || apiErr.NotReady(),
			Body:       apiErr.Body,
		}
	}
	// Transport errors with no response are retryable.
	return &engine.AdapterLifecycleError{
		ResourceID: req.ResourceID,
		Op:         string(req.Operation),
		Transient:  true,
		Body:       err.Error(),
	}
}

func (a *Adapter) terminal(req LifecycleRequest, body string) error {
	return &engine.AdapterLifecycleError{ResourceID: req.ResourceID, Op: string(req.Operation), Body: body}
}

func (a *Adapter) transient(req LifecycleRequest, body string) error {
	return &engine.AdapterLifecycleError{ResourceID: req.ResourceID, Op: string(req.Operation), Transient: true, Body: body}
}
