package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	apitypes "github.com/aws/aws-sdk-go-v2/service/apigatewayv2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/faststack-io/faststack/internal/ir"
	"github.com/faststack-io/faststack/internal/logging"
	"github.com/faststack-io/faststack/internal/params"
)

// ApiRouteConfig configures the HTTP front door for the runtime.
type ApiRouteConfig struct {
	ApiName    string `json:"api_name"`
	RouteKey   string `json:"route_key,omitempty"` // defaults to "ANY /{proxy+}"
	RequireJWT bool   `json:"require_jwt,omitempty"`
}

// ApiRoute provisions an HTTP API with a proxy integration to the runtime
// function, optionally guarded by a JWT authorizer bound to the identity
// pool.
type ApiRoute struct {
	clients *Clients
	bridge  params.Bridge
	env     string
}

func NewApiRoute(clients *Clients, bridge params.Bridge, env string) *ApiRoute {
	return &ApiRoute{clients: clients, bridge: bridge, env: env}
}

func (p *ApiRoute) Create(ctx context.Context, node *ir.ResourceNode, in ir.Inputs) (ir.Outputs, error) {
	cfg, ok := node.Config.(*ApiRouteConfig)
	if !ok {
		return nil, fmt.Errorf("node %s: config is not ApiRouteConfig", node.ID)
	}
	functionARN := in["function_arn"]
	if functionARN == "" {
		return nil, fmt.Errorf("node %s: function_arn input is required", node.ID)
	}

	apiID, endpoint, err := p.ensureAPI(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var authorizerID string
	if cfg.RequireJWT {
		authorizerID, err = p.ensureAuthorizer(ctx, cfg, apiID, in)
		if err != nil {
			return nil, err
		}
	}

	integrationID, err := p.ensureIntegration(ctx, apiID, functionARN)
	if err != nil {
		return nil, err
	}
	if err := p.ensureRoute(ctx, cfg, apiID, integrationID, authorizerID); err != nil {
		return nil, err
	}
	if err := p.ensureStage(ctx, apiID); err != nil {
		return nil, err
	}
	if err := p.allowInvoke(ctx, apiID, functionARN); err != nil {
		return nil, err
	}

	logging.Info("api ready", "id", apiID, "endpoint", endpoint)
	if err := p.bridge.Put(ctx, params.Key(p.env, "api", "endpoint"), endpoint, node.ID); err != nil {
		return nil, fmt.Errorf("failed to publish api endpoint: %w", err)
	}
	return ir.Outputs{
		"api_id":       apiID,
		"api_endpoint": endpoint,
	}, nil
}

func (p *ApiRoute) Stabilize(ctx context.Context, node *ir.ResourceNode, out ir.Outputs) error {
	return nil
}

func (p *ApiRoute) Delete(ctx context.Context, node *ir.ResourceNode, prior ir.Outputs) error {
	apiID := prior["api_id"]
	if apiID == "" {
		return nil
	}
	_, err := p.clients.ApiGateway.DeleteApi(ctx, &apigatewayv2.DeleteApiInput{ApiId: strPtr(apiID)})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete api %s: %w", apiID, err)
	}
	return nil
}

func (p *ApiRoute) ensureAPI(ctx context.Context, cfg *ApiRouteConfig) (id, endpoint string, err error) {
	apis, err := p.clients.ApiGateway.GetApis(ctx, &apigatewayv2.GetApisInput{})
	if err != nil {
		return "", "", fmt.Errorf("failed to list apis: %w", err)
	}
	for _, api := range apis.Items {
		if api.Name != nil && *api.Name == cfg.ApiName {
			return *api.ApiId, *api.ApiEndpoint, nil
		}
	}

	out, err := p.clients.ApiGateway.CreateApi(ctx, &apigatewayv2.CreateApiInput{
		Name:         strPtr(cfg.ApiName),
		ProtocolType: apitypes.ProtocolTypeHttp,
		CorsConfiguration: &apitypes.Cors{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"*"},
			AllowHeaders: []string{"authorization", "content-type"},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create api %s: %w", cfg.ApiName, err)
	}
	return *out.ApiId, *out.ApiEndpoint, nil
}

// ensureAuthorizer binds a JWT authorizer to the identity pool issuer; the
// web and machine clients are accepted audiences.
func (p *ApiRoute) ensureAuthorizer(ctx context.Context, cfg *ApiRouteConfig, apiID string, in ir.Inputs) (string, error) {
	poolID := in["user_pool_id"]
	if poolID == "" {
		return "", fmt.Errorf("jwt authorizer requires the user_pool_id input")
	}
	audience := make([]string, 0, 2)
	for _, key := range []string{"web_client_id", "m2m_client_id"} {
		if in[key] != "" {
			audience = append(audience, in[key])
		}
	}

	existing, err := p.clients.ApiGateway.GetAuthorizers(ctx, &apigatewayv2.GetAuthorizersInput{ApiId: strPtr(apiID)})
	if err != nil {
		return "", fmt.Errorf("failed to list authorizers: %w", err)
	}
	if len(existing.Items) > 0 {
		return *existing.Items[0].AuthorizerId, nil
	}

	issuer := fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", p.clients.Region, poolID)
	out, err := p.clients.ApiGateway.CreateAuthorizer(ctx, &apigatewayv2.CreateAuthorizerInput{
		ApiId:          strPtr(apiID),
		Name:           strPtr(cfg.ApiName + "-jwt"),
		AuthorizerType: apitypes.AuthorizerTypeJwt,
		IdentitySource: []string{"$request.header.Authorization"},
		JwtConfiguration: &apitypes.JWTConfiguration{
			Issuer:   strPtr(issuer),
			Audience: audience,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create authorizer: %w", err)
	}
	return *out.AuthorizerId, nil
}

func (p *ApiRoute) ensureIntegration(ctx context.Context, apiID, functionARN string) (string, error) {
	existing, err := p.clients.ApiGateway.GetIntegrations(ctx, &apigatewayv2.GetIntegrationsInput{ApiId: strPtr(apiID)})
	if err != nil {
		return "", fmt.Errorf("failed to list integrations: %w", err)
	}
	if len(existing.Items) > 0 {
		return *existing.Items[0].IntegrationId, nil
	}

	out, err := p.clients.ApiGateway.CreateIntegration(ctx, &apigatewayv2.CreateIntegrationInput{
		ApiId:                strPtr(apiID),
		IntegrationType:      apitypes.IntegrationTypeAwsProxy,
		IntegrationUri:       strPtr(functionARN),
		PayloadFormatVersion: strPtr("2.0"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create integration: %w", err)
	}
	return *out.IntegrationId, nil
}

func (p *ApiRoute) ensureRoute(ctx context.Context, cfg *ApiRouteConfig, apiID, integrationID, authorizerID string) error {
	routeKey := cfg.RouteKey
	if routeKey == "" {
		routeKey = "ANY /{proxy+}"
	}

	existing, err := p.clients.ApiGateway.GetRoutes(ctx, &apigatewayv2.GetRoutesInput{ApiId: strPtr(apiID)})
	if err != nil {
		return fmt.Errorf("failed to list routes: %w", err)
	}
	for _, r := range existing.Items {
		if r.RouteKey != nil && *r.RouteKey == routeKey {
			return nil
		}
	}

	in := &apigatewayv2.CreateRouteInput{
		ApiId:    strPtr(apiID),
		RouteKey: strPtr(routeKey),
		Target:   strPtr("integrations/" + integrationID),
	}
	if authorizerID != "" {
		in.AuthorizationType = apitypes.AuthorizationTypeJwt
		in.AuthorizerId = strPtr(authorizerID)
	}
	if _, err := p.clients.ApiGateway.CreateRoute(ctx, in); err != nil {
		return fmt.Errorf("failed to create route %s: %w", routeKey, err)
	}
	return nil
}

func (p *ApiRoute) ensureStage(ctx context.Context, apiID string) error {
	_, err := p.clients.ApiGateway.CreateStage(ctx, &apigatewayv2.CreateStageInput{
		ApiId:      strPtr(apiID),
		StageName:  strPtr("$default"),
		AutoDeploy: boolPtr(true),
	})
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("failed to create stage: %w", err)
	}
	return nil
}

// allowInvoke grants the API permission to invoke the runtime function.
func (p *ApiRoute) allowInvoke(ctx context.Context, apiID, functionARN string) error {
	sourceARN := fmt.Sprintf("arn:aws:execute-api:%s:%s:%s/*/*", p.clients.Region, p.clients.AccountID, apiID)
	_, err := p.clients.Lambda.AddPermission(ctx, &lambda.AddPermissionInput{
		FunctionName: strPtr(functionARN),
		StatementId:  strPtr("faststack-apigw-invoke"),
		Action:       strPtr("lambda:InvokeFunction"),
		Principal:    strPtr("apigateway.amazonaws.com"),
		SourceArn:    strPtr(sourceARN),
	})
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("failed to grant invoke permission: %w", err)
	}
	return nil
}
