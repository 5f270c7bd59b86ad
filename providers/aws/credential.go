package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	cognitotypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/faststack-io/faststack/internal/ir"
	"github.com/faststack-io/faststack/internal/logging"
	"github.com/faststack-io/faststack/internal/params"
)

// MachineCredentialConfig configures the confidential client used for
// service-to-service calls via the client-credentials grant.
type MachineCredentialConfig struct {
	ClientName string `json:"client_name"`
}

// MachineCredential provisions a confidential identity client whose secret is
// stored in the secrets vault and mirrored to the bridge's restricted-read
// path. The secret value is never logged and never appears in node outputs.
type MachineCredential struct {
	clients *Clients
	bridge  params.Bridge
	env     string
}

func NewMachineCredential(clients *Clients, bridge params.Bridge, env string) *MachineCredential {
	return &MachineCredential{clients: clients, bridge: bridge, env: env}
}

func (p *MachineCredential) Create(ctx context.Context, node *ir.ResourceNode, in ir.Inputs) (ir.Outputs, error) {
	cfg, ok := node.Config.(*MachineCredentialConfig)
	if !ok {
		return nil, fmt.Errorf("node %s: config is not MachineCredentialConfig", node.ID)
	}
	poolID := in["user_pool_id"]
	if poolID == "" {
		return nil, fmt.Errorf("node %s: user_pool_id input is required", node.ID)
	}
	scopes := strings.Fields(in["m2m_scopes"])

	clientID, secret, err := p.ensureClient(ctx, cfg, poolID, scopes)
	if err != nil {
		return nil, err
	}
	logging.Info("machine client ready", "client_id", clientID, "secret", logging.Redact(secret))

	secretARN, err := p.storeSecret(ctx, cfg.ClientName, secret)
	if err != nil {
		return nil, err
	}
	if err := p.bridge.PutSecret(ctx, params.Key(p.env, "auth", "m2m_client_secret"), secret, node.ID); err != nil {
		return nil, fmt.Errorf("failed to publish client secret: %w", err)
	}
	if err := p.bridge.Put(ctx, params.Key(p.env, "auth", "m2m_client_id"), clientID, node.ID); err != nil {
		return nil, fmt.Errorf("failed to publish client id: %w", err)
	}

	return ir.Outputs{
		"client_id":  clientID,
		"secret_arn": secretARN,
		"scopes":     strings.Join(scopes, " "),
	}, nil
}

// Stabilize is a no-op: the client is usable as soon as Create returns.
func (p *MachineCredential) Stabilize(ctx context.Context, node *ir.ResourceNode, out ir.Outputs) error {
	return nil
}

func (p *MachineCredential) Delete(ctx context.Context, node *ir.ResourceNode, prior ir.Outputs) error {
	if arn := prior["secret_arn"]; arn != "" {
		_, err := p.clients.Secrets.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
			SecretId:                   strPtr(arn),
			ForceDeleteWithoutRecovery: boolPtr(true),
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to delete secret: %w", err)
		}
	}
	// The client itself is owned by the user pool and goes with it.
	return nil
}

// ensureClient finds or creates the confidential client, then reads back the
// generated secret.
func (p *MachineCredential) ensureClient(ctx context.Context, cfg *MachineCredentialConfig, poolID string, scopes []string) (clientID, secret string, err error) {
	paginator := cognitoidentityprovider.NewListUserPoolClientsPaginator(p.clients.Cognito, &cognitoidentityprovider.ListUserPoolClientsInput{
		UserPoolId: strPtr(poolID),
		MaxResults: int32Ptr(60),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", "", fmt.Errorf("failed to list clients: %w", err)
		}
		for _, c := range page.UserPoolClients {
			if c.ClientName != nil && *c.ClientName == cfg.ClientName {
				return p.describeClient(ctx, poolID, *c.ClientId)
			}
		}
	}

	out, err := p.clients.Cognito.CreateUserPoolClient(ctx, &cognitoidentityprovider.CreateUserPoolClientInput{
		UserPoolId:                      strPtr(poolID),
		ClientName:                      strPtr(cfg.ClientName),
		GenerateSecret:                  true,
		AllowedOAuthFlows:               []cognitotypes.OAuthFlowType{cognitotypes.OAuthFlowTypeClientCredentials},
		AllowedOAuthScopes:              scopes,
		AllowedOAuthFlowsUserPoolClient: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create machine client %s: %w", cfg.ClientName, err)
	}
	c := out.UserPoolClient
	if c.ClientSecret == nil {
		return "", "", fmt.Errorf("machine client %s was created without a secret", cfg.ClientName)
	}
	return *c.ClientId, *c.ClientSecret, nil
}

func (p *MachineCredential) describeClient(ctx context.Context, poolID, clientID string) (string, string, error) {
	out, err := p.clients.Cognito.DescribeUserPoolClient(ctx, &cognitoidentityprovider.DescribeUserPoolClientInput{
		UserPoolId: strPtr(poolID),
		ClientId:   strPtr(clientID),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to describe client %s: %w", clientID, err)
	}
	c := out.UserPoolClient
	if c.ClientSecret == nil {
		return "", "", fmt.Errorf("client %s has no secret", clientID)
	}
	return *c.ClientId, *c.ClientSecret, nil
}

// storeSecret writes the client secret to the vault, converging on reruns.
func (p *MachineCredential) storeSecret(ctx context.Context, name, secret string) (string, error) {
	secretName := params.Key(p.env, "auth", name)
	out, err := p.clients.Secrets.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         strPtr(secretName),
		SecretString: strPtr(secret),
	})
	if err == nil {
		return *out.ARN, nil
	}
	if !isAlreadyExists(err) {
		return "", fmt.Errorf("failed to store secret %s: %w", secretName, err)
	}

	put, err := p.clients.Secrets.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     strPtr(secretName),
		SecretString: strPtr(secret),
	})
	if err != nil {
		return "", fmt.Errorf("failed to rotate secret %s: %w", secretName, err)
	}
	return *put.ARN, nil
}
