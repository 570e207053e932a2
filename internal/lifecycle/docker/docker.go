// Package docker implements lifecycle.Provider on the local Docker daemon.
// Each machine is a container running the processing image; it is removed
// as soon as it stops.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"videorelay/internal/apperrors"
	"videorelay/internal/lifecycle"
	"videorelay/pkg/backoff"
)

const (
	managedByLabel = "managed-by"
	managedByValue = "videorelay"
)

// Provider implements lifecycle.Provider using Docker.
type Provider struct {
	client *client.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Docker provider from the environment's daemon settings and
// removes machine containers left behind by a previous process.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	p := &Provider{
		client: dockerClient,
		cfg:    cfg.withDefaults(),
		logger: slog.With("component", "docker"),
	}

	if err := p.removeOrphans(ctx); err != nil {
		p.logger.Warn("Failed to remove orphaned machines", "error", err)
	}
	return p, nil
}

// removeOrphans force-removes every container labeled as ours. Machines never
// outlive the dispatch that created them, so any found at startup are leaks.
func (p *Provider) removeOrphans(ctx context.Context) error {
	containers, err := p.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", managedByLabel+"="+managedByValue)),
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	for _, c := range containers {
		if err := p.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
			p.logger.Warn("Failed to remove orphaned machine", "machineId", c.ID, "error", err)
			continue
		}
		p.logger.Info("Removed orphaned machine", "machineId", c.ID)
	}
	return nil
}

// Create pulls the image if needed, then creates and starts the container.
func (p *Provider) Create(ctx context.Context, spec lifecycle.Spec) (*lifecycle.Machine, error) {
	// Pull with a detached context so a short request deadline doesn't abort a shared pull
	if err := p.pullImageIfNeeded(context.WithoutCancel(ctx), spec.Image); err != nil {
		return nil, apperrors.Provision("docker.pullImage", err)
	}

	servicePort := nat.Port(strconv.Itoa(spec.InternalPort) + "/tcp")

	containerConfig := &container.Config{
		Image:        spec.Image,
		Env:          []string{fmt.Sprintf("PORT=%d", spec.InternalPort)},
		ExposedPorts: nat.PortSet{servicePort: struct{}{}},
		Labels: map[string]string{
			managedByLabel:   managedByValue,
			"machine.name":   spec.Name,
			"machine.region": spec.Region,
		},
	}

	hostConfig := &container.HostConfig{
		AutoRemove:    true,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
		ExtraHosts:    p.cfg.ExtraHosts,
		Resources: container.Resources{
			NanoCPUs: int64(spec.Guest.CPUs) * 1e9,
			Memory:   int64(spec.Guest.MemoryMB) * 1024 * 1024,
		},
	}
	if p.cfg.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(p.cfg.Network)
	} else {
		hostConfig.PortBindings = nat.PortMap{
			servicePort: []nat.PortBinding{{HostIP: p.cfg.PublishHost}},
		}
	}

	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return nil, apperrors.Provision("docker.createContainer", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(context.WithoutCancel(ctx), resp.ID)
		return nil, apperrors.Provision("docker.startContainer", err)
	}

	address, err := p.serviceAddress(ctx, resp.ID, servicePort)
	if err != nil {
		p.remove(context.WithoutCancel(ctx), resp.ID)
		return nil, apperrors.Provision("docker.inspectContainer", err)
	}

	p.logger.Info("Machine created", "machineId", resp.ID, "name", spec.Name, "address", address)

	return &lifecycle.Machine{
		ID:        resp.ID,
		Name:      spec.Name,
		Region:    spec.Region,
		Address:   address,
		Endpoint:  "http://" + address + lifecycle.ProcessPath,
		CreatedAt: time.Now(),
	}, nil
}

// serviceAddress resolves the host:port the service port is reachable on.
func (p *Provider) serviceAddress(ctx context.Context, containerID string, servicePort nat.Port) (string, error) {
	inspect, err := p.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", err
	}
	if inspect.NetworkSettings == nil {
		return "", errors.New("container has no network settings")
	}

	if p.cfg.Network != "" {
		endpoint, ok := inspect.NetworkSettings.Networks[p.cfg.Network]
		if !ok || endpoint == nil || endpoint.IPAddress == "" {
			return "", fmt.Errorf("container has no address on network %q", p.cfg.Network)
		}
		return net.JoinHostPort(endpoint.IPAddress, servicePort.Port()), nil
	}

	bindings := inspect.NetworkSettings.Ports[servicePort]
	for _, b := range bindings {
		if b.HostPort == "" {
			continue
		}
		host := b.HostIP
		if host == "" || host == "0.0.0.0" {
			host = p.cfg.PublishHost
		}
		return net.JoinHostPort(host, b.HostPort), nil
	}
	return "", fmt.Errorf("port %s is not published", servicePort)
}

// AwaitReady polls the container until it is running, and healthy when the
// image declares a healthcheck.
func (p *Provider) AwaitReady(ctx context.Context, m *lifecycle.Machine) bool {
	logger := p.logger.With("machineId", m.ID)
	pollCfg := &backoff.Config{Initial: 100 * time.Millisecond, Max: p.cfg.PollMax}

	for attempt := 1; ; attempt++ {
		inspect, err := p.client.ContainerInspect(ctx, m.ID)
		if err != nil {
			logger.Warn("Failed to inspect machine", "error", err)
			return false
		}

		if state := inspect.State; state != nil {
			switch {
			case !state.Running && (state.Status == "exited" || state.Status == "dead"):
				logger.Warn("Machine exited before becoming ready", "exitCode", state.ExitCode)
				return false
			case state.Running && state.Health == nil:
				return true
			case state.Running && state.Health.Status == "healthy":
				return true
			case state.Health != nil && state.Health.Status == "unhealthy":
				logger.Warn("Machine reported unhealthy")
				return false
			}
		}

		if err := backoff.Wait(ctx, attempt, pollCfg); err != nil {
			return false
		}
	}
}

// Stop stops the container and removes it. Errors are logged only.
func (p *Provider) Stop(ctx context.Context, m *lifecycle.Machine) {
	timeout := int(p.cfg.StopTimeout / time.Second)
	if err := p.client.ContainerStop(ctx, m.ID, container.StopOptions{Timeout: &timeout}); err != nil && !cerrdefs.IsNotFound(err) {
		p.logger.Warn("Failed to stop machine", "machineId", m.ID, "error", err)
	}
	p.remove(ctx, m.ID)
	p.logger.Info("Machine stopped", "machineId", m.ID)
}

func (p *Provider) remove(ctx context.Context, containerID string) {
	err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	// AutoRemove usually wins the race
	if err != nil && !cerrdefs.IsNotFound(err) && !cerrdefs.IsConflict(err) {
		p.logger.Warn("Failed to remove machine", "machineId", containerID, "error", err)
	}
}

// Ready checks if the Docker daemon is reachable and responsive.
func (p *Provider) Ready(ctx context.Context) error {
	_, err := p.client.Ping(ctx)
	return err
}

// Close releases the Docker client.
func (p *Provider) Close() error {
	return p.client.Close()
}

func (p *Provider) pullImageIfNeeded(ctx context.Context, imageName string) error {
	if imageName == "" {
		return errors.New("machine image is required")
	}

	_, err := p.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	p.logger.Info("Pulling image", "image", imageName)
	reader, err := p.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

var _ lifecycle.Provider = (*Provider)(nil)
