package container

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"

	"github.com/FlexNetOS/capsule-orchestrator/internal/orcherrors"
)

// DockerDriver is the production Driver implementation, wrapping the Docker
// Engine API client the same way the reference container-management tooling
// in this codebase's lineage wraps it: one *client.Client, the caller's
// context on every call, and an explicit normalization step around
// ContainerWait, whose response arrives either as a record carrying the
// status code or as an error on a separate channel.
type DockerDriver struct {
	cli *client.Client
	log *logrus.Entry
}

func NewDockerDriver(log *logrus.Logger) (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, orcherrors.Config("creating docker client", err)
	}
	return &DockerDriver{cli: cli, log: log.WithField("component", "docker_driver")}, nil
}

func (d *DockerDriver) Healthy(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *DockerDriver) EnsureNetwork(ctx context.Context, name string) error {
	networks, err := d.cli.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return orcherrors.Config("listing docker networks", err)
	}
	for _, n := range networks {
		if n.Name == name {
			return nil
		}
	}
	_, err = d.cli.NetworkCreate(ctx, name, types.NetworkCreate{
		Driver:     "bridge",
		Attachable: true,
	})
	if err != nil {
		return orcherrors.Config("creating docker network", err)
	}
	return nil
}

func (d *DockerDriver) ImageExists(ctx context.Context, imageTag string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, imageTag)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, err
}

// Build tars up contextPath and feeds it to the Docker Engine image build
// API, mirroring rm=true, forcerm=true: intermediate containers from a
// failed or successful build are always removed.
func (d *DockerDriver) Build(ctx context.Context, imageTag, contextPath string) error {
	buildCtx, err := tarDirectory(contextPath)
	if err != nil {
		return orcherrors.ContainerBuild("packing build context", err)
	}

	resp, err := d.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{imageTag},
		Remove:      true,
		ForceRemove: true,
		Dockerfile:  "Dockerfile",
	})
	if err != nil {
		return orcherrors.ContainerBuild("starting image build", err)
	}
	defer resp.Body.Close()

	var lastErr string
	decoderBuf := new(bytes.Buffer)
	if _, err := io.Copy(decoderBuf, resp.Body); err != nil {
		return orcherrors.ContainerBuild("reading build output", err)
	}
	for _, line := range bytes.Split(decoderBuf.Bytes(), []byte("\n")) {
		if bytes.Contains(line, []byte(`"error"`)) {
			lastErr = string(line)
		}
	}
	if lastErr != "" {
		return orcherrors.ContainerBuild("image build reported an error", fmt.Errorf("%s", lastErr))
	}
	return nil
}

func tarDirectory(root string) (io.Reader, error) {
	buf := new(bytes.Buffer)
	tw := tar.NewWriter(buf)
	defer tw.Close()

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	return buf, err
}

func (d *DockerDriver) Run(ctx context.Context, imageTag, net, name string, mounts []Mount, env map[string]string) (Handle, error) {
	var mountSpecs []mount.Mount
	for _, m := range mounts {
		mountSpecs = append(mountSpecs, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.HostPath,
			Target:   m.ContainerPath,
			ReadOnly: m.ReadOnly,
		})
	}

	var envList []string
	for k, v := range env {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}

	created, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image: imageTag,
		Env:   envList,
	}, &container.HostConfig{
		Mounts:     mountSpecs,
		AutoRemove: false,
	}, &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			net: {},
		},
	}, nil, name)
	if err != nil {
		return "", orcherrors.ContainerRun("creating container", "", err)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return "", orcherrors.ContainerRun("starting container", "", err)
	}
	return Handle(created.ID), nil
}

// Wait normalizes the Docker Engine's ContainerWait response: it returns a
// record on one channel and an error on another, and the record's StatusCode
// must be unwrapped into a plain int regardless of which channel fires.
func (d *DockerDriver) Wait(ctx context.Context, h Handle, timeout time.Duration) (int, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := d.cli.ContainerWait(waitCtx, string(h), container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if waitCtx.Err() != nil {
			return -1, ErrTimeout
		}
		if err != nil {
			return -1, orcherrors.ContainerRun("waiting for container", "", err)
		}
		return -1, orcherrors.ContainerRun("container wait closed without a status", "", nil)
	case status := <-statusCh:
		return int(status.StatusCode), nil
	case <-waitCtx.Done():
		return -1, ErrTimeout
	}
}

// Logs returns the container's combined stdout+stderr. Capsule containers
// run without a TTY, so the Engine multiplexes both streams behind 8-byte
// frame headers; stdcopy demultiplexes them instead of leaking the headers
// into the returned text.
func (d *DockerDriver) Logs(ctx context.Context, h Handle) (string, error) {
	rc, err := d.cli.ContainerLogs(ctx, string(h), types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", orcherrors.ContainerRun("fetching container logs", "", err)
	}
	defer rc.Close()

	buf := new(bytes.Buffer)
	if _, err := stdcopy.StdCopy(buf, buf, rc); err != nil {
		return "", orcherrors.ContainerRun("reading container logs", "", err)
	}
	return buf.String(), nil
}

func (d *DockerDriver) Stop(ctx context.Context, h Handle, grace time.Duration) error {
	seconds := int(grace.Seconds())
	return d.cli.ContainerStop(ctx, string(h), container.StopOptions{Timeout: &seconds})
}

func (d *DockerDriver) Remove(ctx context.Context, h Handle, force bool) error {
	err := d.cli.ContainerRemove(ctx, string(h), types.ContainerRemoveOptions{Force: force})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return err
}
