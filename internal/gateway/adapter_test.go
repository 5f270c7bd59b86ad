package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faststack-io/faststack/internal/engine"
	"github.com/faststack-io/faststack/internal/params"
)

// fakeControlPlane is an in-memory gateway service.
type fakeControlPlane struct {
	gateways map[string]*Gateway
	targets  map[string][]Target
	nextID   int

	createGatewayCalls int
	deleteOrder        []string
	targetNotReadyFor  int // CreateTarget fails with 409 CREATING this many times
	failWith           *APIError
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		gateways: make(map[string]*Gateway),
		targets:  make(map[string][]Target),
	}
}

func (f *fakeControlPlane) ListGateways(context.Context) ([]Gateway, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make([]Gateway, 0, len(f.gateways))
	for _, gw := range f.gateways {
		out = append(out, *gw)
	}
	return out, nil
}

func (f *fakeControlPlane) GetGateway(_ context.Context, id string) (*Gateway, error) {
	gw, ok := f.gateways[id]
	if !ok {
		return nil, &APIError{StatusCode: 404, Body: "gateway not found"}
	}
	copy := *gw
	return &copy, nil
}

func (f *fakeControlPlane) CreateGateway(_ context.Context, in CreateGatewayInput) (*Gateway, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.createGatewayCalls++
	f.nextID++
	id := fmt.Sprintf("gw-%d", f.nextID)
	gw := &Gateway{
		ID:     id,
		Name:   in.Name,
		Status: "READY",
		URL:    "https://" + id + ".gateway.example.com",
	}
	f.gateways[id] = gw
	copy := *gw
	return &copy, nil
}

func (f *fakeControlPlane) DeleteGateway(_ context.Context, id string) error {
	if _, ok := f.gateways[id]; !ok {
		return &APIError{StatusCode: 404, Body: "gateway not found"}
	}
	delete(f.gateways, id)
	f.deleteOrder = append(f.deleteOrder, "gateway:"+id)
	return nil
}

func (f *fakeControlPlane) ListTargets(_ context.Context, gatewayID string) ([]Target, error) {
	return f.targets[gatewayID], nil
}

func (f *fakeControlPlane) CreateTarget(_ context.Context, gatewayID string, in TargetInput) (*Target, error) {
	if f.targetNotReadyFor > 0 {
		f.targetNotReadyFor--
		return nil, &APIError{StatusCode: 409, Body: "gateway is in status CREATING"}
	}
	f.nextID++
	t := Target{ID: fmt.Sprintf("tgt-%d", f.nextID), Name: in.Name}
	f.targets[gatewayID] = append(f.targets[gatewayID], t)
	return &t, nil
}

func (f *fakeControlPlane) UpdateTarget(_ context.Context, gatewayID, targetID string, in TargetInput) (*Target, error) {
	for i, t := range f.targets[gatewayID] {
		if t.ID == targetID {
			f.targets[gatewayID][i].Name = in.Name
			return &f.targets[gatewayID][i], nil
		}
	}
	return nil, &APIError{StatusCode: 404, Body: "target not found"}
}

func (f *fakeControlPlane) DeleteTarget(_ context.Context, gatewayID, targetID string) error {
	targets := f.targets[gatewayID]
	for i, t := range targets {
		if t.ID == targetID {
			f.targets[gatewayID] = append(targets[:i], targets[i+1:]...)
			f.deleteOrder = append(f.deleteOrder, "target:"+targetID)
			return nil
		}
	}
	return &APIError{StatusCode: 404, Body: "target not found"}
}

func newTestAdapter(cp ControlPlane) (*Adapter, *params.Memory) {
	bridge := params.NewMemory()
	a := NewAdapter(cp, bridge, "test")
	a.sleep = func(time.Duration) {}
	return a, bridge
}

func createRequest() LifecycleRequest {
	return LifecycleRequest{
		ResourceID: "gateway",
		Operation:  OpCreate,
		Properties: map[string]string{
			PropGatewayName:  "demo-gateway",
			PropFunctionARN:  "arn:aws:lambda:us-east-1:1:function:agent",
			PropClientID:     "client-1",
			PropDiscoveryURL: "https://issuer.example/.well-known/openid-configuration",
		},
		IdempotencyToken: NewToken(),
	}
}

func TestAdapter_CreatePublishesEndpoints(t *testing.T) {
	cp := newFakeControlPlane()
	a, bridge := newTestAdapter(cp)

	res, err := a.Handle(context.Background(), createRequest())
	require.NoError(t, err)
	assert.Equal(t, "gw-1", res.PhysicalID)
	assert.Equal(t, "https://gw-1.gateway.example.com", res.Attributes["gateway_url"])
	assert.NotEmpty(t, res.Attributes["target_id"])

	url, err := bridge.Get(context.Background(), "/test/gateway/gateway_url")
	require.NoError(t, err)
	assert.Equal(t, "https://gw-1.gateway.example.com", url)

	rec, ok := bridge.Lookup("/test/gateway/gateway_id")
	require.True(t, ok)
	assert.Equal(t, "gateway", rec.Writer)
}

func TestAdapter_CreateIsIdempotent(t *testing.T) {
	cp := newFakeControlPlane()
	a, _ := newTestAdapter(cp)

	first, err := a.Handle(context.Background(), createRequest())
	require.NoError(t, err)

	// A redelivered create adopts the existing gateway instead of making a
	// second one.
	second, err := a.Handle(context.Background(), createRequest())
	require.NoError(t, err)

	assert.Equal(t, first.PhysicalID, second.PhysicalID)
	assert.Equal(t, 1, cp.createGatewayCalls)
	assert.Len(t, cp.gateways, 1)
	assert.Len(t, cp.targets[first.PhysicalID], 1, "adoption must not duplicate the target")
}

func TestAdapter_TargetAttachRetriesWhileSettling(t *testing.T) {
	cp := newFakeControlPlane()
	cp.targetNotReadyFor = 2
	a, _ := newTestAdapter(cp)

	res, err := a.Handle(context.Background(), createRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Attributes["target_id"])
}

func TestAdapter_TargetAttachGivesUpEventually(t *testing.T) {
	cp := newFakeControlPlane()
	cp.targetNotReadyFor = 100
	a, _ := newTestAdapter(cp)

	_, err := a.Handle(context.Background(), createRequest())
	require.Error(t, err)

	var lce *engine.AdapterLifecycleError
	require.ErrorAs(t, err, &lce)
	assert.True(t, lce.Transient, "still-settling gateways are a transient condition")
}

func TestAdapter_DeleteRemovesTargetsFirst(t *testing.T) {
	cp := newFakeControlPlane()
	a, _ := newTestAdapter(cp)

	created, err := a.Handle(context.Background(), createRequest())
	require.NoError(t, err)

	req := createRequest()
	req.Operation = OpDelete
	req.PhysicalID = created.PhysicalID
	_, err = a.Handle(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, cp.deleteOrder, 2)
	assert.Contains(t, cp.deleteOrder[0], "target:")
	assert.Contains(t, cp.deleteOrder[1], "gateway:")
}

func TestAdapter_DeleteToleratesMissingGateway(t *testing.T) {
	cp := newFakeControlPlane()
	a, _ := newTestAdapter(cp)

	req := createRequest()
	req.Operation = OpDelete
	req.PhysicalID = "gw-long-gone"
	_, err := a.Handle(context.Background(), req)
	require.NoError(t, err)
}

func TestAdapter_UpdateRecreatesOnNameChange(t *testing.T) {
	cp := newFakeControlPlane()
	a, _ := newTestAdapter(cp)

	created, err := a.Handle(context.Background(), createRequest())
	require.NoError(t, err)

	req := createRequest()
	req.Operation = OpUpdate
	req.PhysicalID = created.PhysicalID
	req.Properties[PropGatewayName] = "renamed-gateway"

	updated, err := a.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, created.PhysicalID, updated.PhysicalID)
	assert.Len(t, cp.gateways, 1)
}

func TestAdapter_UpdateOfMissingGatewayCreates(t *testing.T) {
	cp := newFakeControlPlane()
	a, _ := newTestAdapter(cp)

	req := createRequest()
	req.Operation = OpUpdate
	req.PhysicalID = "gw-gone"

	res, err := a.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, res.PhysicalID)
	assert.Equal(t, 1, cp.createGatewayCalls)
}

func TestAdapter_ClassifiesControlPlaneErrors(t *testing.T) {
	cases := []struct {
		name      string
		apiErr    *APIError
		transient bool
	}{
		{"server error", &APIError{StatusCode: 500, Body: "internal"}, true},
		{"throttled", &APIError{StatusCode: 429, Body: "slow down"}, true},
		{"bad request", &APIError{StatusCode: 400, Body: "invalid role arn"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cp := newFakeControlPlane()
			cp.failWith = tc.apiErr
			a, _ := newTestAdapter(cp)

			_, err := a.Handle(context.Background(), createRequest())
			require.Error(t, err)

			var lce *engine.AdapterLifecycleError
			require.ErrorAs(t, err, &lce)
			assert.Equal(t, tc.transient, lce.Transient)
			assert.Equal(t, tc.apiErr.Body, lce.Body, "remote body must survive verbatim")
		})
	}
}

func TestAPIError_NotReady(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 409, Body: "gateway is CREATING"}).NotReady())
	assert.True(t, (&APIError{StatusCode: 409, Body: "status UPDATING"}).NotReady())
	assert.False(t, (&APIError{StatusCode: 409, Body: "name already in use"}).NotReady())
	assert.False(t, (&APIError{StatusCode: 400, Body: "CREATING"}).NotReady())
}
