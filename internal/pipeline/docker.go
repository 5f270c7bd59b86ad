package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/faststack-io/faststack/internal/engine"
	"github.com/faststack-io/faststack/internal/logging"
)

type ecrAuthAPI interface {
	GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, opts ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// Docker builds the image on the local daemon and pushes it straight to the
// registry. Used when the operator has a local Docker daemon and wants to
// skip the remote build service.
type Docker struct {
	docker  client.APIClient
	ecrAuth ecrAuthAPI

	Timeout time.Duration
}

func NewDocker(ecrClient *ecr.Client) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Docker{docker: cli, ecrAuth: ecrClient, Timeout: BuildTimeout}, nil
}

func (d *Docker) Trigger(ctx context.Context, source Source, repositoryURI, imageTag string) (*BuildArtifact, error) {
	artifact := &BuildArtifact{
		ImageTag:      imageTag,
		RepositoryURI: repositoryURI,
		Status:        StatusPending,
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = BuildTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tar, err := archive.TarWithOptions(source.Dir, &archive.TarOptions{
		ExcludePatterns: []string{".git", "node_modules", ".faststack"},
	})
	if err != nil {
		return artifact, fmt.Errorf("failed to create build context: %w", err)
	}
	defer tar.Close()

	ref := artifact.ImageURI()
	artifact.Status = StatusBuilding
	logging.Info("building image", "ref", ref)

	resp, err := d.docker.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:       []string{ref},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		artifact.Status = StatusFailed
		return artifact, d.failure(ctx, "build", err)
	}
	defer resp.Body.Close()
	if err := drainStream(resp.Body); err != nil {
		artifact.Status = StatusFailed
		return artifact, d.failure(ctx, "build", err)
	}

	inspect, _, err := d.docker.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		artifact.Status = StatusFailed
		return artifact, fmt.Errorf("failed to inspect built image: %w", err)
	}
	artifact.SourceDigest = fmt.Sprintf("%x", sha256.Sum256([]byte(inspect.ID)))

	auth, err := d.registryAuth(ctx)
	if err != nil {
		artifact.Status = StatusFailed
		return artifact, err
	}

	logging.Info("pushing image", "ref", ref)
	pushResp, err := d.docker.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		artifact.Status = StatusFailed
		return artifact, d.failure(ctx, "push", err)
	}
	defer pushResp.Close()
	if err := drainStream(pushResp); err != nil {
		artifact.Status = StatusFailed
		return artifact, d.failure(ctx, "push", err)
	}

	artifact.Status = StatusSucceeded
	return artifact, nil
}

func (d *Docker) failure(ctx context.Context, phase string, err error) error {
	if ctx.Err() != nil {
		return &engine.BuildFailure{Status: "TIMED_OUT", Reason: fmt.Sprintf("%s exceeded the build timeout", phase)}
	}
	return &engine.BuildFailure{Status: "FAILED", Reason: fmt.Sprintf("%s: %v", phase, err)}
}

// registryAuth exchanges registry credentials for the RegistryAuth header the
// daemon expects.
func (d *Docker) registryAuth(ctx context.Context) (string, error) {
	out, err := d.ecrAuth.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get registry auth token: %w", err)
	}
	if len(out.AuthorizationData) == 0 || out.AuthorizationData[0].AuthorizationToken == nil {
		return "", fmt.Errorf("registry returned no authorization data")
	}

	raw, err := base64.StdEncoding.DecodeString(*out.AuthorizationData[0].AuthorizationToken)
	if err != nil {
		return "", fmt.Errorf("failed to decode registry auth token: %w", err)
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", fmt.Errorf("malformed registry auth token")
	}

	authCfg := registry.AuthConfig{Username: user, Password: pass}
	if out.AuthorizationData[0].ProxyEndpoint != nil {
		authCfg.ServerAddress = *out.AuthorizationData[0].ProxyEndpoint
	}
	encoded, err := json.Marshal(authCfg)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(encoded), nil
}

// drainStream consumes a daemon JSON stream, surfacing any embedded error.
func drainStream(r io.Reader) error {
	var out io.Writer = io.Discard
	if logging.Logger().Enabled(context.Background(), slog.LevelDebug) {
		out = os.Stdout
	}
	return jsonmessage.DisplayJSONMessagesStream(r, out, 0, false, nil)
}
