package pipeline

import (
	"context"
	"time"
)

// BuildTimeout is the hard bound on a single build-and-publish run.
const BuildTimeout = 15 * time.Minute

// pollInterval is how often build status is checked while waiting.
const pollInterval = 5 * time.Second

// Status is the lifecycle state of one build artifact. A build transitions
// exactly once: Pending -> Building -> Succeeded | Failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusBuilding  Status = "building"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// BuildArtifact describes the produced container image. Tags are mutable:
// triggering twice with the same tag overwrites the reference, and consumers
// pin by tag rather than content digest.
type BuildArtifact struct {
	SourceDigest  string `json:"source_digest"`
	ImageTag      string `json:"image_tag"`
	RepositoryURI string `json:"repository_uri"`
	Status        Status `json:"status"`
}

// ImageURI is the pullable reference for a succeeded artifact.
func (a *BuildArtifact) ImageURI() string {
	return a.RepositoryURI + ":" + a.ImageTag
}

// Source points the pipeline at the code to build.
type Source struct {
	Dir         string // local source tree
	Bucket      string // staging bucket for remote builds
	ServiceRole string // execution role ARN for remote builds
}

// Pipeline triggers an external build job that produces a container image and
// blocks until a terminal state. Failure reasons from the remote job are
// surfaced verbatim; retries are the operator's responsibility.
type Pipeline interface {
	Trigger(ctx context.Context, source Source, repositoryURI, imageTag string) (*BuildArtifact, error)
}
