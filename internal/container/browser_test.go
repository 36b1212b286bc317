package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agentdesk/internal/config"
)

type fakeDocker struct {
	mu         sync.Mutex
	hasImage   bool
	pulled     bool
	created    *container.Config
	hostCfg    *container.HostConfig
	removed    []string
	exitCode   int64
	writeShot  bool
	outDir     string
	blockStart bool
}

func (f *fakeDocker) ImageInspect(context.Context, string, ...client.ImageInspectOption) (image.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasImage {
		return image.InspectResponse{}, fmt.Errorf("no such image: %w", errdefs.ErrNotFound)
	}
	return image.InspectResponse{ID: "sha256:abc"}, nil
}

func (f *fakeDocker) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = true
	f.hasImage = true
	return io.NopCloser(strings.NewReader(`{"status":"done"}`)), nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, hostCfg *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = cfg
	f.hostCfg = hostCfg
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeShot {
		arg := f.created.Cmd[len(f.created.Cmd)-2]
		name := strings.TrimPrefix(arg, "--screenshot="+outMount+"/")
		return os.WriteFile(filepath.Join(f.outDir, name), []byte("\x89PNG"), 0o644)
	}
	return nil
}

func (f *fakeDocker) ContainerWait(ctx context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	f.mu.Lock()
	block := f.blockStart
	code := f.exitCode
	f.mu.Unlock()
	if !block {
		statusCh <- container.WaitResponse{StatusCode: code}
	}
	return statusCh, errCh
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) Close() error { return nil }

func newFakeRunner(t *testing.T, f *fakeDocker, timeout time.Duration) *BrowserRunner {
	t.Helper()
	dir := t.TempDir()
	f.outDir = dir
	r, err := newBrowserRunner(f, config.BrowserConfig{Image: "chrome:test", Timeout: timeout}, dir)
	require.NoError(t, err)
	return r
}

func TestScreenshotPullsImageAndRemovesContainer(t *testing.T) {
	f := &fakeDocker{writeShot: true}
	r := newFakeRunner(t, f, time.Second)

	path, err := r.Screenshot(context.Background(), "https://example.com", "screenshot_example.com_1.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.OutDir(), "screenshot_example.com_1.png"), path)

	assert.True(t, f.pulled)
	assert.Equal(t, []string{"c1"}, f.removed)
	assert.Equal(t, "https://example.com", f.created.Cmd[len(f.created.Cmd)-1])
	require.Len(t, f.hostCfg.Mounts, 1)
	assert.Equal(t, r.OutDir(), f.hostCfg.Mounts[0].Source)
	assert.Equal(t, outMount, f.hostCfg.Mounts[0].Target)
}

func TestScreenshotSkipsPullWhenPresent(t *testing.T) {
	f := &fakeDocker{hasImage: true, writeShot: true}
	r := newFakeRunner(t, f, time.Second)
	_, err := r.Screenshot(context.Background(), "https://example.com", "a.png")
	require.NoError(t, err)
	assert.False(t, f.pulled)
}

func TestScreenshotNonZeroExit(t *testing.T) {
	f := &fakeDocker{hasImage: true, exitCode: 1}
	r := newFakeRunner(t, f, time.Second)
	_, err := r.Screenshot(context.Background(), "https://example.com", "a.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 1")
	assert.Equal(t, []string{"c1"}, f.removed)
}

func TestScreenshotMissingFile(t *testing.T) {
	f := &fakeDocker{hasImage: true}
	r := newFakeRunner(t, f, time.Second)
	_, err := r.Screenshot(context.Background(), "https://example.com", "a.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not written")
}

func TestScreenshotTimeout(t *testing.T) {
	f := &fakeDocker{hasImage: true, blockStart: true}
	r := newFakeRunner(t, f, 20*time.Millisecond)
	_, err := r.Screenshot(context.Background(), "https://example.com", "a.png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, []string{"c1"}, f.removed)
}

func TestScreenshotRejectsPathFilename(t *testing.T) {
	r := newFakeRunner(t, &fakeDocker{}, time.Second)
	_, err := r.Screenshot(context.Background(), "https://example.com", "../escape.png")
	assert.Error(t, err)
}
