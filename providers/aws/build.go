package aws

import (
	"context"
	"fmt"

	"github.com/faststack-io/faststack/internal/ir"
	"github.com/faststack-io/faststack/internal/logging"
	"github.com/faststack-io/faststack/internal/params"
	"github.com/faststack-io/faststack/internal/pipeline"
)

// BuildJobConfig configures one container image build.
type BuildJobConfig struct {
	SourceDir     string `json:"source_dir"`
	ImageTag      string `json:"image_tag"`
	StagingBucket string `json:"staging_bucket,omitempty"`
	ServiceRole   string `json:"service_role,omitempty"`
}

// BuildJob triggers the build pipeline and surfaces the pushed image URI as a
// node output. Which pipeline runs (remote build service or local daemon) is
// decided at wiring time.
type BuildJob struct {
	pipe   pipeline.Pipeline
	bridge params.Bridge
	env    string
}

func NewBuildJob(pipe pipeline.Pipeline, bridge params.Bridge, env string) *BuildJob {
	return &BuildJob{pipe: pipe, bridge: bridge, env: env}
}

func (p *BuildJob) Create(ctx context.Context, node *ir.ResourceNode, in ir.Inputs) (ir.Outputs, error) {
	cfg, ok := node.Config.(*BuildJobConfig)
	if !ok {
		return nil, fmt.Errorf("node %s: config is not BuildJobConfig", node.ID)
	}
	repoURI := in["repository_uri"]
	if repoURI == "" {
		return nil, fmt.Errorf("node %s: repository_uri input is required", node.ID)
	}
	bucket := cfg.StagingBucket
	if in["staging_bucket"] != "" {
		bucket = in["staging_bucket"]
	}
	role := cfg.ServiceRole
	if in["service_role"] != "" {
		role = in["service_role"]
	}

	artifact, err := p.pipe.Trigger(ctx, pipeline.Source{
		Dir:         cfg.SourceDir,
		Bucket:      bucket,
		ServiceRole: role,
	}, repoURI, cfg.ImageTag)
	if err != nil {
		return nil, err
	}
	logging.Info("image published", "uri", artifact.ImageURI(), "digest", artifact.SourceDigest)

	if err := p.bridge.Put(ctx, params.Key(p.env, "build", "image_uri"), artifact.ImageURI(), node.ID); err != nil {
		return nil, fmt.Errorf("failed to publish image uri: %w", err)
	}

	return ir.Outputs{
		"image_uri":     artifact.ImageURI(),
		"image_tag":     artifact.ImageTag,
		"source_digest": artifact.SourceDigest,
	}, nil
}

// Stabilize is a no-op: Trigger returns only after the image is pushed.
func (p *BuildJob) Stabilize(ctx context.Context, node *ir.ResourceNode, out ir.Outputs) error {
	return nil
}

// Delete leaves pushed images in place; they are removed with the repository.
func (p *BuildJob) Delete(ctx context.Context, node *ir.ResourceNode, prior ir.Outputs) error {
	return nil
}
