// Package smoke runs the built agent image on the local daemon and checks it
// answers on its health endpoint before anything is deployed remotely.
package smoke

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/faststack-io/faststack/internal/logging"
)

const (
	containerPort = "8080/tcp"
	hostPort      = "18080"
	startupWait   = 30 * time.Second
)

// Runner drives one throwaway container per check.
type Runner struct {
	docker client.APIClient

	// HealthPath is probed until it answers 200. Defaults to /ping.
	HealthPath string
}

func NewRunner() (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Runner{docker: cli, HealthPath: "/ping"}, nil
}

// Run starts the image, waits for the health endpoint, and tears the
// container down. Env entries are passed through to the container.
func (r *Runner) Run(ctx context.Context, imageRef string, env map[string]string) error {
	if err := r.pullIfMissing(ctx, imageRef); err != nil {
		return err
	}

	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	name := "faststack-smoke-" + uuid.NewString()[:8]
	created, err := r.docker.ContainerCreate(ctx,
		&container.Config{
			Image: imageRef,
			Env:   envList,
			ExposedPorts: nat.PortSet{
				nat.Port(containerPort): struct{}{},
			},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				nat.Port(containerPort): []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: hostPort}},
			},
			AutoRemove: false,
		},
		nil,
		&ocispec.Platform{OS: "linux", Architecture: "arm64"},
		name,
	)
	if err != nil {
		return fmt.Errorf("failed to create smoke container: %w", err)
	}
	defer r.cleanup(created.ID)

	if err := r.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start smoke container: %w", err)
	}
	logging.Info("smoke container started", "name", name, "image", imageRef)

	if err := r.waitHealthy(ctx); err != nil {
		r.dumpLogs(created.ID)
		return err
	}
	logging.Info("smoke check passed", "image", imageRef)
	return nil
}

func (r *Runner) waitHealthy(ctx context.Context) error {
	url := fmt.Sprintf("http://127.0.0.1:%s%s", hostPort, r.HealthPath)
	deadline := time.Now().Add(startupWait)

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("container did not answer on %s within %s", url, startupWait)
}

// dumpLogs surfaces the container's last output when the check fails.
func (r *Runner) dumpLogs(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := r.docker.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "50",
	})
	if err != nil {
		return
	}
	defer out.Close()

	raw, _ := io.ReadAll(out)
	if len(raw) > 0 {
		logging.Error("smoke container output", "logs", string(raw))
	}
}

func (r *Runner) cleanup(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeout := 5
	_ = r.docker.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	_ = r.docker.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (r *Runner) pullIfMissing(ctx context.Context, imageRef string) error {
	if _, _, err := r.docker.ImageInspectWithRaw(ctx, imageRef); err == nil {
		return nil
	}

	out, err := r.docker.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		if strings.Contains(err.Error(), "pull access denied") {
			return fmt.Errorf("image %s not found locally and not pullable without registry auth; build it first", imageRef)
		}
		return fmt.Errorf("failed to pull %s: %w", imageRef, err)
	}
	defer out.Close()
	_, _ = io.Copy(io.Discard, out)
	return nil
}
