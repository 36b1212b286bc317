// Package container runs short-lived Docker containers for the website
// inspection tools.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ashureev/agentdesk/internal/config"
)

const (
	// Mount point of the output directory inside the browser container.
	outMount = "/out"

	// Resource limits.
	memoryLimitBytes = 1024 * 1024 * 1024 // 1GB, headless Chrome is hungry
	shmSizeBytes     = 256 * 1024 * 1024
	pidsLimit        = 512

	windowSize     = "1280,800"
	defaultTimeout = 45 * time.Second
	maxLogBytes    = 2048
)

// dockerAPI is the subset of the Docker client the runner needs.
type dockerAPI interface {
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// BrowserRunner captures screenshots with a headless Chrome image.
type BrowserRunner struct {
	cli     dockerAPI
	image   string
	outDir  string
	timeout time.Duration
}

// NewBrowserRunner connects to the Docker daemon from the environment.
// Screenshots are written to outDir on the host.
func NewBrowserRunner(cfg config.BrowserConfig, outDir string) (*BrowserRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	r, err := newBrowserRunner(cli, cfg, outDir)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	slog.Info("Docker client initialized", "image", r.image, "out_dir", r.outDir)
	return r, nil
}

func newBrowserRunner(cli dockerAPI, cfg config.BrowserConfig, outDir string) (*BrowserRunner, error) {
	abs, err := filepath.Abs(outDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &BrowserRunner{cli: cli, image: cfg.Image, outDir: abs, timeout: timeout}, nil
}

// OutDir returns the absolute host directory screenshots land in.
func (r *BrowserRunner) OutDir() string { return r.outDir }

// EnsureImage pulls the browser image if the daemon does not have it.
func (r *BrowserRunner) EnsureImage(ctx context.Context) error {
	_, err := r.cli.ImageInspect(ctx, r.image)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect image %s: %w", r.image, err)
	}

	slog.Info("Pulling browser image", "image", r.image)
	rc, err := r.cli.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", r.image, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %w", r.image, err)
	}
	return nil
}

// Screenshot renders targetURL and writes it to filename inside the output
// directory, returning the host path.
func (r *BrowserRunner) Screenshot(ctx context.Context, targetURL, filename string) (string, error) {
	if filename == "" || filepath.Base(filename) != filename {
		return "", fmt.Errorf("invalid screenshot filename %q", filename)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.EnsureImage(ctx); err != nil {
		return "", err
	}

	cfg := &container.Config{
		Image: r.image,
		User:  "0:0",
		Cmd: []string{
			"--no-sandbox",
			"--headless",
			"--disable-gpu",
			"--hide-scrollbars",
			"--window-size=" + windowSize,
			"--screenshot=" + outMount + "/" + filename,
			targetURL,
		},
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: r.outDir,
			Target: outMount,
		}},
		ShmSize: shmSizeBytes,
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create browser container: %w", err)
	}
	defer r.remove(ctx, resp.ID)

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start browser container %s: %w", resp.ID, err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("wait for browser container %s: %w", resp.ID, err)
		}
	case status := <-statusCh:
		if status.Error != nil {
			return "", fmt.Errorf("browser container %s: %s", resp.ID, status.Error.Message)
		}
		if status.StatusCode != 0 {
			return "", fmt.Errorf("browser exited with code %d: %s", status.StatusCode, r.logs(ctx, resp.ID))
		}
	case <-ctx.Done():
		return "", fmt.Errorf("screenshot %s: %w", targetURL, ctx.Err())
	}

	hostPath := filepath.Join(r.outDir, filename)
	info, err := os.Stat(hostPath)
	if err != nil {
		return "", fmt.Errorf("screenshot not written: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("screenshot %s is empty", hostPath)
	}
	slog.Debug("Screenshot captured", "url", targetURL, "path", hostPath, "bytes", info.Size())
	return hostPath, nil
}

// Close releases the Docker client.
func (r *BrowserRunner) Close() error {
	return r.cli.Close()
}

// remove force-removes a finished container. It outlives ctx so a timed out
// capture does not leak containers.
func (r *BrowserRunner) remove(ctx context.Context, containerID string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.cli.ContainerRemove(rmCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return
		}
		slog.Warn("Failed to remove browser container", "container_id", containerID, "error", err)
	}
}

func (r *BrowserRunner) logs(ctx context.Context, containerID string) string {
	rc, err := r.cli.ContainerLogs(context.WithoutCancel(ctx), containerID, container.LogsOptions{ShowStderr: true, Tail: "20"})
	if err != nil {
		return "logs unavailable"
	}
	defer rc.Close()
	var out bytes.Buffer
	_, _ = stdcopy.StdCopy(&out, &out, io.LimitReader(rc, maxLogBytes*4))
	s := strings.TrimSpace(out.String())
	if len(s) > maxLogBytes {
		s = s[len(s)-maxLogBytes:]
	}
	return s
}

func ptr[T any](v T) *T {
	return &v
}
