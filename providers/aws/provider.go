package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/faststack-io/faststack/internal/params"
)

// Clients bundles the service clients the resource lifecycles share.
type Clients struct {
	Region    string
	AccountID string

	Cognito    *cognitoidentityprovider.Client
	ECR        *ecr.Client
	CodeBuild  *codebuild.Client
	Logs       *cloudwatchlogs.Client
	Lambda     *lambda.Client
	DynamoDB   *dynamodb.Client
	S3         *s3.Client
	ApiGateway *apigatewayv2.Client
	CloudFront *cloudfront.Client
	IAM        *iam.Client
	Secrets    *secretsmanager.Client
	SSM        *ssm.Client
}

// NewClients loads the default credential chain for a region and resolves
// the caller's account id, which namespaces registry URIs.
func NewClients(ctx context.Context, region string) (*Clients, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	ident, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("unable to resolve caller identity: %w", err)
	}

	return &Clients{
		Region:     region,
		AccountID:  *ident.Account,
		Cognito:    cognitoidentityprovider.NewFromConfig(cfg),
		ECR:        ecr.NewFromConfig(cfg),
		CodeBuild:  codebuild.NewFromConfig(cfg),
		Logs:       cloudwatchlogs.NewFromConfig(cfg),
		Lambda:     lambda.NewFromConfig(cfg),
		DynamoDB:   dynamodb.NewFromConfig(cfg),
		S3:         s3.NewFromConfig(cfg),
		ApiGateway: apigatewayv2.NewFromConfig(cfg),
		CloudFront: cloudfront.NewFromConfig(cfg),
		IAM:        iam.NewFromConfig(cfg),
		Secrets:    secretsmanager.NewFromConfig(cfg),
		SSM:        ssm.NewFromConfig(cfg),
	}, nil
}

// Bridge returns the Parameter Store bridge backed by these clients.
func (c *Clients) Bridge() params.Bridge {
	return params.NewSSM(c.SSM)
}

func strPtr(s string) *string  { return &s }
func int32Ptr(i int32) *int32  { return &i }
func boolPtr(b bool) *bool     { return &b }
