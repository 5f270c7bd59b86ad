package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"
)

// Gateway is the control plane's view of one provisioned gateway.
type Gateway struct {
	ID      string `json:"gatewayId"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	URL     string `json:"gatewayUrl"`
	RoleARN string `json:"roleArn"`
}

// Target attaches a tool backend to a gateway.
type Target struct {
	ID   string `json:"targetId"`
	Name string `json:"name"`
}

// CreateGatewayInput describes a new gateway secured by a JWT authorizer.
type CreateGatewayInput struct {
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	RoleARN          string   `json:"roleArn"`
	AllowedClients   []string `json:"allowedClients"`
	DiscoveryURL     string   `json:"discoveryUrl"`
	IdempotencyToken string   `json:"clientToken,omitempty"`
}

// TargetInput describes a tool target backed by a function ARN.
type TargetInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	FunctionARN string          `json:"functionArn"`
	ToolSchema  json.RawMessage `json:"toolSchema,omitempty"`
}

// ControlPlane is the third-party gateway service's management API. The
// native resource vocabulary has no type for it, so the adapter drives this
// interface directly.
type ControlPlane interface {
	ListGateways(ctx context.Context) ([]Gateway, error)
	GetGateway(ctx context.Context, id string) (*Gateway, error)
	CreateGateway(ctx context.Context, in CreateGatewayInput) (*Gateway, error)
	DeleteGateway(ctx context.Context, id string) error
	ListTargets(ctx context.Context, gatewayID string) ([]Target, error)
	CreateTarget(ctx context.Context, gatewayID string, in TargetInput) (*Target, error)
	UpdateTarget(ctx context.Context, gatewayID, targetID string, in TargetInput) (*Target, error)
	DeleteTarget(ctx context.Context, gatewayID, targetID string) error
}

// APIError carries a control plane response verbatim.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control plane returned %d: %s", e.StatusCode, e.Body)
}

// NotReady reports whether the error means the gateway is still settling and
// the same call will succeed shortly.
func (e *APIError) NotReady() bool {
	return e.StatusCode == http.StatusConflict &&
		(strings.Contains(e.Body, "CREATING") || strings.Contains(e.Body, "UPDATING"))
}

// Retryable reports whether the error is transient at the transport level.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsNotFound reports a missing remote resource.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// HTTPControlPlane talks JSON over HTTP with client-side retries for
// transport-level failures.
type HTTPControlPlane struct {
	base   string
	client *httpclient.Client
}

// NewHTTPControlPlane builds a control plane client for the given base URL.
func NewHTTPControlPlane(baseURL string) *HTTPControlPlane {
	backoff := heimdall.NewExponentialBackoff(500*time.Millisecond, 10*time.Second, 2, 250*time.Millisecond)
	return &HTTPControlPlane{
		base: strings.TrimRight(baseURL, "/"),
		client: httpclient.NewClient(
			httpclient.WithHTTPTimeout(30*time.Second),
			httpclient.WithRetryCount(3),
			httpclient.WithRetrier(heimdall.NewRetrier(backoff)),
		),
	}
}

func (c *HTTPControlPlane) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("control plane request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read control plane response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode control plane response: %w", err)
		}
	}
	return nil
}

func (c *HTTPControlPlane) ListGateways(ctx context.Context) ([]Gateway, error) {
	var out struct {
		Items []Gateway `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/gateways", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *HTTPControlPlane) GetGateway(ctx context.Context, id string) (*Gateway, error) {
	var gw Gateway
	if err := c.do(ctx, http.MethodGet, "/gateways/"+id, nil, &gw); err != nil {
		return nil, err
	}
	return &gw, nil
}

func (c *HTTPControlPlane) CreateGateway(ctx context.Context, in CreateGatewayInput) (*Gateway, error) {
	var gw Gateway
	if err := c.do(ctx, http.MethodPost, "/gateways", in, &gw); err != nil {
		return nil, err
	}
	return &gw, nil
}

func (c *HTTPControlPlane) DeleteGateway(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/gateways/"+id, nil, nil)
}

func (c *HTTPControlPlane) ListTargets(ctx context.Context, gatewayID string) ([]Target, error) {
	var out struct {
		Items []Target `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/gateways/"+gatewayID+"/targets", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *HTTPControlPlane) CreateTarget(ctx context.Context, gatewayID string, in TargetInput) (*Target, error) {
	var t Target
	if err := c.do(ctx, http.MethodPost, "/gateways/"+gatewayID+"/targets", in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPControlPlane) UpdateTarget(ctx context.Context, gatewayID, targetID string, in TargetInput) (*Target, error) {
	var t Target
	if err := c.do(ctx, http.MethodPut, "/gateways/"+gatewayID+"/targets/"+targetID, in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPControlPlane) DeleteTarget(ctx context.Context, gatewayID, targetID string) error {
	return c.do(ctx, http.MethodDelete, "/gateways/"+gatewayID+"/targets/"+targetID, nil, nil)
}
