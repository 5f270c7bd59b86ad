package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"

	"github.com/faststack-io/faststack/internal/ir"
	"github.com/faststack-io/faststack/internal/logging"
	"github.com/faststack-io/faststack/internal/params"
)

// CDNConfig configures the distribution that fronts the web asset bucket.
type CDNConfig struct {
	Comment string `json:"comment"`
}

// CDN provisions a distribution with the asset bucket as its origin. The
// Comment field doubles as the idempotency handle: distributions have no
// unique name, so reruns adopt the one carrying the same comment.
type CDN struct {
	clients *Clients
	bridge  params.Bridge
	env     string
}

func NewCDN(clients *Clients, bridge params.Bridge, env string) *CDN {
	return &CDN{clients: clients, bridge: bridge, env: env}
}

func (p *CDN) Create(ctx context.Context, node *ir.ResourceNode, in ir.Inputs) (ir.Outputs, error) {
	cfg, ok := node.Config.(*CDNConfig)
	if !ok {
		return nil, fmt.Errorf("node %s: config is not CDNConfig", node.ID)
	}
	bucket := in["bucket_name"]
	if bucket == "" {
		return nil, fmt.Errorf("node %s: bucket_name input is required", node.ID)
	}

	if id, domain, err := p.findByComment(ctx, cfg.Comment); err != nil {
		return nil, err
	} else if id != "" {
		logging.Info("distribution already exists, adopting", "id", id)
		return p.publish(ctx, node, id, domain)
	}

	originDomain := fmt.Sprintf("%s.s3.%s.amazonaws.com", bucket, p.clients.Region)
	originID := "s3-" + bucket
	out, err := p.clients.CloudFront.CreateDistribution(ctx, &cloudfront.CreateDistributionInput{
		DistributionConfig: &cftypes.DistributionConfig{
			CallerReference:   strPtr(cfg.Comment),
			Comment:           strPtr(cfg.Comment),
			Enabled:           boolPtr(true),
			DefaultRootObject: strPtr("index.html"),
			Origins: &cftypes.Origins{
				Quantity: int32Ptr(1),
				Items: []cftypes.Origin{{
					Id:         strPtr(originID),
					DomainName: strPtr(originDomain),
					S3OriginConfig: &cftypes.S3OriginConfig{
						OriginAccessIdentity: strPtr(""),
					},
				}},
			},
			DefaultCacheBehavior: &cftypes.DefaultCacheBehavior{
				TargetOriginId:       strPtr(originID),
				ViewerProtocolPolicy: cftypes.ViewerProtocolPolicyRedirectToHttps,
				// Managed CachingOptimized policy.
				CachePolicyId: strPtr("658327ea-f89d-4fab-a63d-7e88639e58f6"),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create distribution: %w", err)
	}

	logging.Info("distribution created", "id", *out.Distribution.Id)
	return p.publish(ctx, node, *out.Distribution.Id, *out.Distribution.DomainName)
}

func (p *CDN) publish(ctx context.Context, node *ir.ResourceNode, id, domain string) (ir.Outputs, error) {
	url := "https://" + domain
	if err := p.bridge.Put(ctx, params.Key(p.env, "cdn", "url"), url, node.ID); err != nil {
		return nil, fmt.Errorf("failed to publish cdn url: %w", err)
	}
	return ir.Outputs{
		"distribution_id": id,
		"domain_name":     domain,
		"url":             url,
	}, nil
}

// Stabilize waits for global propagation; the distribution serves errors
// until it reaches Deployed.
func (p *CDN) Stabilize(ctx context.Context, node *ir.ResourceNode, out ir.Outputs) error {
	id := out["distribution_id"]
	if id == "" {
		return nil
	}

	for {
		dist, err := p.clients.CloudFront.GetDistribution(ctx, &cloudfront.GetDistributionInput{Id: strPtr(id)})
		if err != nil {
			return fmt.Errorf("failed to get distribution %s: %w", id, err)
		}
		if dist.Distribution.Status != nil && *dist.Distribution.Status == "Deployed" {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(15 * time.Second):
		}
	}
}

// Delete disables the distribution and removes it once propagation completes.
func (p *CDN) Delete(ctx context.Context, node *ir.ResourceNode, prior ir.Outputs) error {
	id := prior["distribution_id"]
	if id == "" {
		return nil
	}

	dist, err := p.clients.CloudFront.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{Id: strPtr(id)})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to get distribution config %s: %w", id, err)
	}

	etag := dist.ETag
	if dist.DistributionConfig.Enabled == nil || *dist.DistributionConfig.Enabled {
		dist.DistributionConfig.Enabled = boolPtr(false)
		upd, err := p.clients.CloudFront.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
			Id:                 strPtr(id),
			IfMatch:            etag,
			DistributionConfig: dist.DistributionConfig,
		})
		if err != nil {
			return fmt.Errorf("failed to disable distribution %s: %w", id, err)
		}
		etag = upd.ETag
		if err := p.Stabilize(ctx, node, ir.Outputs{"distribution_id": id}); err != nil {
			return err
		}
	}

	_, err = p.clients.CloudFront.DeleteDistribution(ctx, &cloudfront.DeleteDistributionInput{
		Id:      strPtr(id),
		IfMatch: etag,
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete distribution %s: %w", id, err)
	}
	return nil
}

func (p *CDN) findByComment(ctx context.Context, comment string) (id, domain string, err error) {
	list, err := p.clients.CloudFront.ListDistributions(ctx, &cloudfront.ListDistributionsInput{})
	if err != nil {
		return "", "", fmt.Errorf("failed to list distributions: %w", err)
	}
	if list.DistributionList == nil {
		return "", "", nil
	}
	for _, d := range list.DistributionList.Items {
		if d.Comment != nil && *d.Comment == comment {
			return *d.Id, *d.DomainName, nil
		}
	}
	return "", "", nil
}
