package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/codebuild/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/faststack-io/faststack/internal/engine"
	"github.com/faststack-io/faststack/internal/logging"
)

// buildAPI is the slice of the CodeBuild client the pipeline uses.
type buildAPI interface {
	CreateProject(ctx context.Context, in *codebuild.CreateProjectInput, opts ...func(*codebuild.Options)) (*codebuild.CreateProjectOutput, error)
	DeleteProject(ctx context.Context, in *codebuild.DeleteProjectInput, opts ...func(*codebuild.Options)) (*codebuild.DeleteProjectOutput, error)
	StartBuild(ctx context.Context, in *codebuild.StartBuildInput, opts ...func(*codebuild.Options)) (*codebuild.StartBuildOutput, error)
	BatchGetBuilds(ctx context.Context, in *codebuild.BatchGetBuildsInput, opts ...func(*codebuild.Options)) (*codebuild.BatchGetBuildsOutput, error)
}

type uploadAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type logsAPI interface {
	GetLogEvents(ctx context.Context, in *cloudwatchlogs.GetLogEventsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// CodeBuild runs the build remotely: the source tree is zipped and staged in
// S3, an ephemeral project builds and pushes the image, logs stream back
// while the build is polled, and the project is removed afterwards.
type CodeBuild struct {
	builds buildAPI
	s3     uploadAPI
	logs   logsAPI
	region string

	// Timeout overrides BuildTimeout; tests shrink it.
	Timeout time.Duration
}

func NewCodeBuild(builds *codebuild.Client, uploads *s3.Client, logs *cloudwatchlogs.Client, region string) *CodeBuild {
	return &CodeBuild{builds: builds, s3: uploads, logs: logs, region: region, Timeout: BuildTimeout}
}

func (c *CodeBuild) Trigger(ctx context.Context, source Source, repositoryURI, imageTag string) (*BuildArtifact, error) {
	artifact := &BuildArtifact{
		ImageTag:      imageTag,
		RepositoryURI: repositoryURI,
		Status:        StatusPending,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	archive, digest, err := zipSource(source.Dir)
	if err != nil {
		return artifact, fmt.Errorf("failed to package source: %w", err)
	}
	artifact.SourceDigest = digest

	sourceKey := fmt.Sprintf("builds/%s.zip", digest[:16])
	if _, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &source.Bucket,
		Key:    &sourceKey,
		Body:   bytes.NewReader(archive),
	}); err != nil {
		return artifact, fmt.Errorf("failed to upload source: %w", err)
	}
	logging.Info("source uploaded", "bucket", source.Bucket, "key", sourceKey, "bytes", len(archive))

	projectName := fmt.Sprintf("faststack-build-%s", digest[:12])
	if err := c.createProject(ctx, projectName, source, sourceKey, repositoryURI, imageTag); err != nil {
		return artifact, err
	}
	defer func() {
		// Ephemeral project; removal is best-effort.
		if _, derr := c.builds.DeleteProject(context.WithoutCancel(ctx), &codebuild.DeleteProjectInput{Name: &projectName}); derr != nil {
			logging.Warn("failed to delete build project", "project", projectName, "error", derr)
		}
	}()

	started, err := c.builds.StartBuild(ctx, &codebuild.StartBuildInput{ProjectName: &projectName})
	if err != nil {
		return artifact, fmt.Errorf("failed to start build: %w", err)
	}
	buildID := *started.Build.Id
	artifact.Status = StatusBuilding
	logging.Info("build started", "id", buildID)

	status, reason, err := c.waitForBuild(ctx, buildID)
	if err != nil {
		artifact.Status = StatusFailed
		if ctx.Err() != nil {
			return artifact, &engine.BuildFailure{BuildID: buildID, Status: "TIMED_OUT", Reason: fmt.Sprintf("build exceeded %s", c.timeout())}
		}
		return artifact, err
	}
	if status != types.StatusTypeSucceeded {
		artifact.Status = StatusFailed
		return artifact, &engine.BuildFailure{BuildID: buildID, Status: string(status), Reason: reason}
	}

	artifact.Status = StatusSucceeded
	return artifact, nil
}

func (c *CodeBuild) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return BuildTimeout
}

func (c *CodeBuild) createProject(ctx context.Context, name string, source Source, sourceKey, repositoryURI, imageTag string) error {
	buildspec := renderBuildspec(repositoryURI, imageTag, c.region)
	location := fmt.Sprintf("%s/%s", source.Bucket, sourceKey)
	timeoutMinutes := int32(c.timeout() / time.Minute)
	privileged := true

	_, err := c.builds.CreateProject(ctx, &codebuild.CreateProjectInput{
		Name:        &name,
		ServiceRole: &source.ServiceRole,
		Source: &types.ProjectSource{
			Type:      types.SourceTypeS3,
			Location:  &location,
			Buildspec: &buildspec,
		},
		Artifacts: &types.ProjectArtifacts{
			Type: types.ArtifactsTypeNoArtifacts,
		},
		Environment: &types.ProjectEnvironment{
			Type:           types.EnvironmentTypeArmContainer,
			Image:          strPtr("aws/codebuild/amazonlinux2-aarch64-standard:3.0"),
			ComputeType:    types.ComputeTypeBuildGeneral1Large,
			PrivilegedMode: &privileged,
		},
		TimeoutInMinutes: &timeoutMinutes,
	})
	if err != nil {
		return fmt.Errorf("failed to create build project: %w", err)
	}
	return nil
}

// waitForBuild polls the build until it terminates, streaming log events as
// they appear. The remote failure reason is returned verbatim.
func (c *CodeBuild) waitForBuild(ctx context.Context, buildID string) (types.StatusType, string, error) {
	var logGroup, logStream string
	var nextToken *string

	for {
		out, err := c.builds.BatchGetBuilds(ctx, &codebuild.BatchGetBuildsInput{Ids: []string{buildID}})
		if err != nil {
			return "", "", fmt.Errorf("failed to poll build %s: %w", buildID, err)
		}
		if len(out.Builds) == 0 {
			return "", "", fmt.Errorf("build %s not found", buildID)
		}
		build := out.Builds[0]

		if logGroup == "" && build.Logs != nil && build.Logs.GroupName != nil && build.Logs.StreamName != nil {
			logGroup = *build.Logs.GroupName
			logStream = *build.Logs.StreamName
		}
		if logGroup != "" {
			nextToken = c.streamLogs(ctx, logGroup, logStream, nextToken)
		}

		if build.BuildStatus != types.StatusTypeInProgress {
			if logGroup != "" {
				c.streamLogs(ctx, logGroup, logStream, nextToken)
			}
			reason := failureReason(build)
			return build.BuildStatus, reason, nil
		}

		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (c *CodeBuild) streamLogs(ctx context.Context, group, stream string, token *string) *string {
	startFromHead := true
	in := &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  &group,
		LogStreamName: &stream,
		StartFromHead: &startFromHead,
		NextToken:     token,
	}
	out, err := c.logs.GetLogEvents(ctx, in)
	if err != nil {
		return token // stream may not exist yet
	}
	for _, ev := range out.Events {
		if ev.Message != nil {
			fmt.Print(strings.TrimRight(*ev.Message, "\n") + "\n")
		}
	}
	if out.NextForwardToken != nil {
		return out.NextForwardToken
	}
	return token
}

func failureReason(build types.Build) string {
	var phases []string
	for _, p := range build.Phases {
		for _, pctx := range p.Contexts {
			if pctx.Message != nil && *pctx.Message != "" {
				phases = append(phases, fmt.Sprintf("%s: %s", p.PhaseType, *pctx.Message))
			}
		}
	}
	return strings.Join(phases, "; ")
}

// renderBuildspec emits the minimal buildspec that builds the agent image and
// pushes it to the registry under the requested tag.
func renderBuildspec(repositoryURI, imageTag, region string) string {
	registry := repositoryURI
	if i := strings.Index(repositoryURI, "/"); i > 0 {
		registry = repositoryURI[:i]
	}
	return fmt.Sprintf(`version: 0.2
phases:
  pre_build:
    commands:
      - aws ecr get-login-password --region %s | docker login --username AWS --password-stdin %s
  build:
    commands:
      - docker build -t %s:%s .
  post_build:
    commands:
      - docker push %s:%s
`, region, registry, repositoryURI, imageTag, repositoryURI, imageTag)
}

// zipSource packages a source tree into a deterministic in-memory zip and
// returns it with its content digest.
func zipSource(dir string) ([]byte, string, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == "node_modules" || name == ".faststack" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	if err := zw.Close(); err != nil {
		return nil, "", err
	}

	digest := fmt.Sprintf("%x", sha256.Sum256(buf.Bytes()))
	return buf.Bytes(), digest, nil
}

func strPtr(s string) *string { return &s }
