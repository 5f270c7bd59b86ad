package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/faststack-io/faststack/internal/ir"
	"github.com/faststack-io/faststack/internal/logging"
)

// RegistryConfig configures the container image repository.
type RegistryConfig struct {
	RepositoryName string `json:"repository_name"`
	ScanOnPush     bool   `json:"scan_on_push,omitempty"`
}

// ImageRegistry provisions the repository the build pipeline pushes into.
type ImageRegistry struct {
	clients *Clients
}

func NewImageRegistry(clients *Clients) *ImageRegistry {
	return &ImageRegistry{clients: clients}
}

func (p *ImageRegistry) Create(ctx context.Context, node *ir.ResourceNode, in ir.Inputs) (ir.Outputs, error) {
	cfg, ok := node.Config.(*RegistryConfig)
	if !ok {
		return nil, fmt.Errorf("node %s: config is not RegistryConfig", node.ID)
	}

	out, err := p.clients.ECR.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: strPtr(cfg.RepositoryName),
		ImageScanningConfiguration: &types.ImageScanningConfiguration{
			ScanOnPush: cfg.ScanOnPush,
		},
		ImageTagMutability: types.ImageTagMutabilityMutable,
	})
	if err != nil {
		if !isAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create repository %s: %w", cfg.RepositoryName, err)
		}
		desc, err := p.clients.ECR.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
			RepositoryNames: []string{cfg.RepositoryName},
		})
		if err != nil || len(desc.Repositories) == 0 {
			return nil, fmt.Errorf("failed to describe repository %s: %w", cfg.RepositoryName, err)
		}
		repo := desc.Repositories[0]
		return ir.Outputs{
			"repository_uri": *repo.RepositoryUri,
			"repository_arn": *repo.RepositoryArn,
		}, nil
	}

	logging.Info("repository created", "name", cfg.RepositoryName)
	return ir.Outputs{
		"repository_uri": *out.Repository.RepositoryUri,
		"repository_arn": *out.Repository.RepositoryArn,
	}, nil
}

func (p *ImageRegistry) Stabilize(ctx context.Context, node *ir.ResourceNode, out ir.Outputs) error {
	return nil
}

func (p *ImageRegistry) Delete(ctx context.Context, node *ir.ResourceNode, prior ir.Outputs) error {
	cfg, ok := node.Config.(*RegistryConfig)
	if !ok {
		return fmt.Errorf("node %s: config is not RegistryConfig", node.ID)
	}
	_, err := p.clients.ECR.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
		RepositoryName: strPtr(cfg.RepositoryName),
		Force:          true,
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete repository %s: %w", cfg.RepositoryName, err)
	}
	return nil
}
