package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/faststack-io/faststack/internal/ir"
	"github.com/faststack-io/faststack/internal/logging"
	"github.com/faststack-io/faststack/internal/params"
)

// ScopeConfig is one OAuth scope exposed by the identity resource server.
type ScopeConfig struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// IdentityConfig configures the user directory that authenticates both
// interactive users and machine clients.
type IdentityConfig struct {
	PoolName         string        `json:"pool_name"`
	DomainPrefix     string        `json:"domain_prefix"`
	ResourceServerID string        `json:"resource_server_id"`
	Scopes           []ScopeConfig `json:"scopes,omitempty"`
	CallbackURLs     []string      `json:"callback_urls,omitempty"`
	AdminEmail       string        `json:"admin_email,omitempty"`
	SelfSignUp       bool          `json:"self_sign_up,omitempty"`
}

// Identity provisions a user pool, a hosted domain, a resource server with
// the configured scopes, and a public web client. The pool id, web client id
// and discovery URL are published to the bridge for downstream stacks.
type Identity struct {
	clients *Clients
	bridge  params.Bridge
	env     string
}

func NewIdentity(clients *Clients, bridge params.Bridge, env string) *Identity {
	return &Identity{clients: clients, bridge: bridge, env: env}
}

func (p *Identity) Create(ctx context.Context, node *ir.ResourceNode, in ir.Inputs) (ir.Outputs, error) {
	cfg, ok := node.Config.(*IdentityConfig)
	if !ok {
		return nil, fmt.Errorf("node %s: config is not IdentityConfig", node.ID)
	}

	poolID, poolARN, err := p.ensurePool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logging.Info("user pool ready", "id", poolID)

	if err := p.ensureDomain(ctx, cfg.DomainPrefix, poolID); err != nil {
		return nil, err
	}

	scopes, err := p.ensureResourceServer(ctx, cfg, poolID)
	if err != nil {
		return nil, err
	}

	webClientID, err := p.ensureWebClient(ctx, cfg, poolID)
	if err != nil {
		return nil, err
	}

	if cfg.AdminEmail != "" {
		if err := p.ensureAdminUser(ctx, poolID, cfg.AdminEmail); err != nil {
			return nil, err
		}
	}

	discoveryURL := fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s/.well-known/openid-configuration",
		p.clients.Region, poolID)
	domain := fmt.Sprintf("https://%s.auth.%s.amazoncognito.com", cfg.DomainPrefix, p.clients.Region)

	out := ir.Outputs{
		"user_pool_id":  poolID,
		"user_pool_arn": poolARN,
		"web_client_id": webClientID,
		"discovery_url": discoveryURL,
		"domain":        domain,
		"m2m_scopes":    strings.Join(scopes, " "),
	}

	for key, val := range map[string]string{
		"user_pool_id":  poolID,
		"web_client_id": webClientID,
		"discovery_url": discoveryURL,
		"domain":        domain,
	} {
		if err := p.bridge.Put(ctx, params.Key(p.env, "auth", key), val, node.ID); err != nil {
			return nil, fmt.Errorf("failed to publish %s: %w", key, err)
		}
	}
	return out, nil
}

// Stabilize waits for the hosted domain to finish its CDN propagation; the
// OAuth endpoints are not routable until then.
func (p *Identity) Stabilize(ctx context.Context, node *ir.ResourceNode, out ir.Outputs) error {
	cfg, ok := node.Config.(*IdentityConfig)
	if !ok {
		return fmt.Errorf("node %s: config is not IdentityConfig", node.ID)
	}

	for {
		desc, err := p.clients.Cognito.DescribeUserPoolDomain(ctx, &cognitoidentityprovider.DescribeUserPoolDomainInput{
			Domain: strPtr(cfg.DomainPrefix),
		})
		if err != nil {
			return fmt.Errorf("failed to describe domain %s: %w", cfg.DomainPrefix, err)
		}
		switch desc.DomainDescription.Status {
		case types.DomainStatusTypeActive:
			return nil
		case types.DomainStatusTypeFailed:
			return fmt.Errorf("domain %s entered FAILED state", cfg.DomainPrefix)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (p *Identity) Delete(ctx context.Context, node *ir.ResourceNode, prior ir.Outputs) error {
	cfg, ok := node.Config.(*IdentityConfig)
	if !ok {
		return fmt.Errorf("node %s: config is not IdentityConfig", node.ID)
	}
	poolID := prior["user_pool_id"]
	if poolID == "" {
		return nil
	}

	// The domain must go before the pool.
	_, err := p.clients.Cognito.DeleteUserPoolDomain(ctx, &cognitoidentityprovider.DeleteUserPoolDomainInput{
		Domain:     strPtr(cfg.DomainPrefix),
		UserPoolId: strPtr(poolID),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete domain %s: %w", cfg.DomainPrefix, err)
	}

	_, err = p.clients.Cognito.DeleteUserPool(ctx, &cognitoidentityprovider.DeleteUserPoolInput{
		UserPoolId: strPtr(poolID),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete user pool %s: %w", poolID, err)
	}
	return nil
}

// ensurePool finds a pool with the configured name or creates one. Pool names
// are not unique server-side, so adoption by name keeps reruns convergent.
func (p *Identity) ensurePool(ctx context.Context, cfg *IdentityConfig) (id, arn string, err error) {
	paginator := cognitoidentityprovider.NewListUserPoolsPaginator(p.clients.Cognito, &cognitoidentityprovider.ListUserPoolsInput{
		MaxResults: int32Ptr(60),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", "", fmt.Errorf("failed to list user pools: %w", err)
		}
		for _, pool := range page.UserPools {
			if pool.Name != nil && *pool.Name == cfg.PoolName {
				return *pool.Id, p.poolARN(*pool.Id), nil
			}
		}
	}

	out, err := p.clients.Cognito.CreateUserPool(ctx, &cognitoidentityprovider.CreateUserPoolInput{
		PoolName:               strPtr(cfg.PoolName),
		MfaConfiguration:       types.UserPoolMfaTypeOff,
		AutoVerifiedAttributes: []types.VerifiedAttributeType{types.VerifiedAttributeTypeEmail},
		UsernameAttributes:     []types.UsernameAttributeType{types.UsernameAttributeTypeEmail},
		AdminCreateUserConfig: &types.AdminCreateUserConfigType{
			AllowAdminCreateUserOnly: !cfg.SelfSignUp,
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create user pool %s: %w", cfg.PoolName, err)
	}
	return *out.UserPool.Id, *out.UserPool.Arn, nil
}

func (p *Identity) poolARN(poolID string) string {
	return fmt.Sprintf("arn:aws:cognito-idp:%s:%s:userpool/%s", p.clients.Region, p.clients.AccountID, poolID)
}

func (p *Identity) ensureDomain(ctx context.Context, prefix, poolID string) error {
	_, err := p.clients.Cognito.CreateUserPoolDomain(ctx, &cognitoidentityprovider.CreateUserPoolDomainInput{
		Domain:     strPtr(prefix),
		UserPoolId: strPtr(poolID),
	})
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("failed to create domain %s: %w", prefix, err)
	}
	return nil
}

// ensureResourceServer registers the OAuth scopes machine clients request.
// Returns the fully-qualified scope names.
func (p *Identity) ensureResourceServer(ctx context.Context, cfg *IdentityConfig, poolID string) ([]string, error) {
	scopes := make([]types.ResourceServerScopeType, 0, len(cfg.Scopes))
	qualified := make([]string, 0, len(cfg.Scopes))
	for _, s := range cfg.Scopes {
		desc := s.Description
		if desc == "" {
			desc = s.Name
		}
		scopes = append(scopes, types.ResourceServerScopeType{
			ScopeName:        strPtr(s.Name),
			ScopeDescription: strPtr(desc),
		})
		qualified = append(qualified, cfg.ResourceServerID+"/"+s.Name)
	}

	_, err := p.clients.Cognito.CreateResourceServer(ctx, &cognitoidentityprovider.CreateResourceServerInput{
		UserPoolId: strPtr(poolID),
		Identifier: strPtr(cfg.ResourceServerID),
		Name:       strPtr(cfg.ResourceServerID),
		Scopes:     scopes,
	})
	if err != nil {
		if !isAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create resource server %s: %w", cfg.ResourceServerID, err)
		}
		// Converge the scope set on reruns.
		_, err = p.clients.Cognito.UpdateResourceServer(ctx, &cognitoidentityprovider.UpdateResourceServerInput{
			UserPoolId: strPtr(poolID),
			Identifier: strPtr(cfg.ResourceServerID),
			Name:       strPtr(cfg.ResourceServerID),
			Scopes:     scopes,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update resource server %s: %w", cfg.ResourceServerID, err)
		}
	}
	return qualified, nil
}

// ensureWebClient provisions the public (no secret) client used by browsers.
func (p *Identity) ensureWebClient(ctx context.Context, cfg *IdentityConfig, poolID string) (string, error) {
	name := cfg.PoolName + "-web"
	if id, err := p.findClient(ctx, poolID, name); err != nil {
		return "", err
	} else if id != "" {
		return id, nil
	}

	callbacks := cfg.CallbackURLs
	if len(callbacks) == 0 {
		callbacks = []string{"http://localhost:3000/callback"}
	}
	out, err := p.clients.Cognito.CreateUserPoolClient(ctx, &cognitoidentityprovider.CreateUserPoolClientInput{
		UserPoolId:        strPtr(poolID),
		ClientName:        strPtr(name),
		GenerateSecret:    false,
		CallbackURLs:      callbacks,
		ExplicitAuthFlows: []types.ExplicitAuthFlowsType{types.ExplicitAuthFlowsTypeAllowUserSrpAuth, types.ExplicitAuthFlowsTypeAllowRefreshTokenAuth},
		AllowedOAuthFlows: []types.OAuthFlowType{types.OAuthFlowTypeCode},
		AllowedOAuthScopes: []string{
			"openid", "email", "profile",
		},
		AllowedOAuthFlowsUserPoolClient: true,
		SupportedIdentityProviders:      []string{"COGNITO"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create web client: %w", err)
	}
	return *out.UserPoolClient.ClientId, nil
}

func (p *Identity) findClient(ctx context.Context, poolID, name string) (string, error) {
	paginator := cognitoidentityprovider.NewListUserPoolClientsPaginator(p.clients.Cognito, &cognitoidentityprovider.ListUserPoolClientsInput{
		UserPoolId: strPtr(poolID),
		MaxResults: int32Ptr(60),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list clients: %w", err)
		}
		for _, c := range page.UserPoolClients {
			if c.ClientName != nil && *c.ClientName == name {
				return *c.ClientId, nil
			}
		}
	}
	return "", nil
}

// ensureAdminUser invites the configured operator. The temporary password is
// delivered by email; it never passes through this process.
func (p *Identity) ensureAdminUser(ctx context.Context, poolID, email string) error {
	_, err := p.clients.Cognito.AdminCreateUser(ctx, &cognitoidentityprovider.AdminCreateUserInput{
		UserPoolId: strPtr(poolID),
		Username:   strPtr(email),
		UserAttributes: []types.AttributeType{
			{Name: strPtr("email"), Value: strPtr(email)},
			{Name: strPtr("email_verified"), Value: strPtr("true")},
		},
		DesiredDeliveryMediums: []types.DeliveryMediumType{types.DeliveryMediumTypeEmail},
	})
	if err != nil && !isAlreadyExists(err) {
		var exists *types.UsernameExistsException
		if errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	return nil
}
