package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/faststack-io/faststack/internal/logging"
	"github.com/faststack-io/faststack/internal/params"
)

const lambdaTrustPolicy = `{
  "Version": "2012-10-17",
  "Statement": [{"Effect": "Allow", "Principal": {"Service": "lambda.amazonaws.com"}, "Action": "sts:AssumeRole"}]
}`

const codebuildTrustPolicy = `{
  "Version": "2012-10-17",
  "Statement": [{"Effect": "Allow", "Principal": {"Service": "codebuild.amazonaws.com"}, "Action": "sts:AssumeRole"}]
}`

// Roles provisions the execution roles the managed resources assume. Role
// ARNs are published to the bridge before the graph runs, so nodes reference
// them as apply-time parameters rather than graph edges.
type Roles struct {
	clients *Clients
	bridge  params.Bridge
	env     string
}

func NewRoles(clients *Clients, bridge params.Bridge, env string) *Roles {
	return &Roles{clients: clients, bridge: bridge, env: env}
}

// EnsureAll creates the runtime and build roles and publishes their ARNs.
func (r *Roles) EnsureAll(ctx context.Context) error {
	runtimeARN, err := r.ensureRole(ctx, r.env+"-runtime-role", lambdaTrustPolicy, []string{
		"arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole",
	})
	if err != nil {
		return err
	}
	buildARN, err := r.ensureRole(ctx, r.env+"-build-role", codebuildTrustPolicy, []string{
		"arn:aws:iam::aws:policy/AmazonEC2ContainerRegistryPowerUser",
		"arn:aws:iam::aws:policy/AmazonS3ReadOnlyAccess",
		"arn:aws:iam::aws:policy/CloudWatchLogsFullAccess",
	})
	if err != nil {
		return err
	}

	for key, arn := range map[string]string{
		"runtime_role_arn": runtimeARN,
		"build_role_arn":   buildARN,
	} {
		if err := r.bridge.Put(ctx, params.Key(r.env, "iam", key), arn, "iam-roles"); err != nil {
			return fmt.Errorf("failed to publish %s: %w", key, err)
		}
	}
	return nil
}

func (r *Roles) ensureRole(ctx context.Context, name, trustPolicy string, managedPolicies []string) (string, error) {
	var arn string
	out, err := r.clients.IAM.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 strPtr(name),
		AssumeRolePolicyDocument: strPtr(trustPolicy),
	})
	if err != nil {
		if !isAlreadyExists(err) {
			return "", fmt.Errorf("failed to create role %s: %w", name, err)
		}
		got, err := r.clients.IAM.GetRole(ctx, &iam.GetRoleInput{RoleName: strPtr(name)})
		if err != nil {
			return "", fmt.Errorf("failed to get role %s: %w", name, err)
		}
		arn = *got.Role.Arn
	} else {
		arn = *out.Role.Arn
		logging.Info("role created", "name", name)
		// IAM is eventually consistent; give a fresh role a moment to
		// propagate before anything assumes it.
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(8 * time.Second):
		}
	}

	for _, policy := range managedPolicies {
		_, err := r.clients.IAM.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  strPtr(name),
			PolicyArn: strPtr(policy),
		})
		if err != nil && !isAlreadyExists(err) {
			return "", fmt.Errorf("failed to attach %s to %s: %w", policy, name, err)
		}
	}
	return arn, nil
}

// DeleteAll detaches and removes the roles created by EnsureAll.
func (r *Roles) DeleteAll(ctx context.Context) error {
	for _, name := range []string{r.env + "-runtime-role", r.env + "-build-role"} {
		if err := r.deleteRole(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Roles) deleteRole(ctx context.Context, name string) error {
	attached, err := r.clients.IAM.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: strPtr(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to list policies for %s: %w", name, err)
	}
	for _, p := range attached.AttachedPolicies {
		_, err := r.clients.IAM.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  strPtr(name),
			PolicyArn: p.PolicyArn,
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to detach %s from %s: %w", *p.PolicyArn, name, err)
		}
	}

	_, err = r.clients.IAM.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: strPtr(name)})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete role %s: %w", name, err)
	}
	return nil
}
