package runner

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const containerWorkDir = "/tmp"

// DockerInterpreter runs every program in its own short-lived container
// with networking disabled and memory and CPU limits applied.
type DockerInterpreter struct {
	client     *client.Client
	image      string
	timeout    time.Duration
	memoryMB   int
	cpuLimit   float64
	networkOff bool
}

// NewDockerInterpreter connects to the Docker daemon described by the
// environment.
func NewDockerInterpreter(cfg Config) (*DockerInterpreter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker not reachable: %w", err)
	}

	img := cfg.Image
	if img == "" {
		img = DefaultConfig().Image
	}

	return &DockerInterpreter{
		client:     cli,
		image:      img,
		timeout:    cfg.Timeout,
		memoryMB:   cfg.MemoryMB,
		cpuLimit:   cfg.CPULimit,
		networkOff: cfg.NetworkOff,
	}, nil
}

// Name returns the backend name
func (d *DockerInterpreter) Name() string {
	return BackendDocker
}

// Available pings the daemon.
func (d *DockerInterpreter) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := d.client.Ping(ctx)
	return err == nil
}

// Run executes source in a fresh container and removes it afterwards.
func (d *DockerInterpreter) Run(ctx context.Context, source string, stdout io.Writer) error {
	if err := d.ensureImage(ctx, d.image); err != nil {
		return fmt.Errorf("ensure image: %w", err)
	}

	containerCfg := &container.Config{
		Image:           d.image,
		Cmd:             []string{"python", "-I", "-u", studentFile},
		WorkingDir:      containerWorkDir,
		NetworkDisabled: d.networkOff,
		Tty:             false,
		Labels: map[string]string{
			"pythonquest.run": "true",
		},
	}
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   int64(d.memoryMB) * 1024 * 1024,
			NanoCPUs: int64(d.cpuLimit * 1e9),
		},
	}

	resp, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	defer d.remove(resp.ID)

	if err := d.copySource(ctx, resp.ID, source); err != nil {
		return err
	}

	runCtx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.client.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	statusCh, errCh := d.client.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case err := <-errCh:
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			_, _ = d.collectLogs(ctx, resp.ID, stdout)
			return timeoutFault(d.timeout)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("wait container: %w", err)
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	stderr, err := d.collectLogs(ctx, resp.ID, stdout)
	if err != nil {
		return err
	}
	if exitCode == 0 {
		return nil
	}
	return faultFromExit(stderr, int(exitCode))
}

// Close closes the Docker client.
func (d *DockerInterpreter) Close() error {
	return d.client.Close()
}

func (d *DockerInterpreter) copySource(ctx context.Context, containerID, source string) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	header := &tar.Header{
		Name: studentFile,
		Mode: 0644,
		Size: int64(len(source)),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write([]byte(source)); err != nil {
		return fmt.Errorf("write tar content: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}

	if err := d.client.CopyToContainer(ctx, containerID, containerWorkDir, &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy source: %w", err)
	}
	return nil
}

// collectLogs demultiplexes the container output, streaming stdout and
// returning stderr.
func (d *DockerInterpreter) collectLogs(ctx context.Context, containerID string, stdout io.Writer) (string, error) {
	logs, err := d.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()

	var stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(stdout, &stderr, logs); err != nil {
		return stderr.String(), fmt.Errorf("demux logs: %w", err)
	}
	return stderr.String(), nil
}

func (d *DockerInterpreter) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

func (d *DockerInterpreter) ensureImage(ctx context.Context, img string) error {
	_, err := d.client.ImageInspect(ctx, img)
	if err == nil {
		return nil
	}

	reader, err := d.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()

	// Drain the reader to complete the pull
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// Ensure DockerInterpreter implements Interpreter
var _ Interpreter = (*DockerInterpreter)(nil)
