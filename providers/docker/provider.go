// Package docker implements a provider for local Docker resources:
// containers, images, networks and volumes.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/reef-io/reef/pkg/provider"
)

type Provider struct {
	client *client.Client
	retry  *provider.RetryPolicy
}

func New() *Provider {
	return &Provider{retry: provider.DefaultRetryPolicy()}
}

func (p *Provider) ensureClient() error {
	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	p.client = cli
	return nil
}

// Schema declares the update policy per resource type. Docker offers no
// in-place mutation for most container settings, so nearly everything is
// force-new; restart policy is the exception, it can be changed on a
// running container.
func (p *Provider) Schema(resourceType string) (*provider.Schema, error) {
	switch resourceType {
	case "docker_container":
		return &provider.Schema{
			Arguments: map[string]provider.ArgumentSchema{
				"image":       {ForceNew: true},
				"name":        {ForceNew: true},
				"command":     {ForceNew: true},
				"ports":       {ForceNew: true},
				"env":         {ForceNew: true},
				"networks":    {ForceNew: true},
				"volumes":     {ForceNew: true},
				"labels":      {ForceNew: true},
				"workingDir":  {ForceNew: true},
				"user":        {ForceNew: true},
				"restart":     {},
				"healthcheck": {ForceNew: true},
				"logging":     {ForceNew: true},
				"secrets":     {ForceNew: true},
			},
		}, nil
	case "docker_image":
		return &provider.Schema{
			Arguments: map[string]provider.ArgumentSchema{
				"name":         {ForceNew: true},
				"buildContext": {ForceNew: true},
				"dockerfile":   {ForceNew: true},
			},
			// A new image can be built or pulled while the old one still
			// exists, so replacement creates first.
			CreateBeforeDestroy: true,
		}, nil
	case "docker_network":
		return &provider.Schema{
			Arguments: map[string]provider.ArgumentSchema{
				"name":     {ForceNew: true},
				"driver":   {ForceNew: true},
				"internal": {ForceNew: true},
				"labels":   {ForceNew: true},
			},
		}, nil
	case "docker_volume":
		return &provider.Schema{
			Arguments: map[string]provider.ArgumentSchema{
				"name":   {ForceNew: true},
				"driver": {ForceNew: true},
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown resource type: %s", resourceType)
	}
}

func (p *Provider) Create(ctx context.Context, resourceType, name string, args map[string]any) (string, map[string]any, error) {
	if err := p.ensureClient(); err != nil {
		return "", nil, err
	}

	switch resourceType {
	case "docker_container":
		return p.createContainer(ctx, name, args)
	case "docker_image":
		return p.createImage(ctx, name, args)
	case "docker_network":
		return p.createNetwork(ctx, name, args)
	case "docker_volume":
		return p.createVolume(ctx, name, args)
	default:
		return "", nil, fmt.Errorf("unknown resource type: %s", resourceType)
	}
}

func (p *Provider) Read(ctx context.Context, resourceType, id string) (map[string]any, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch resourceType {
	case "docker_container":
		inspect, err := p.client.ContainerInspect(ctx, id)
		if err != nil {
			return nil, mapNotFound(err, id)
		}
		return map[string]any{
			"id":     inspect.ID,
			"name":   strings.TrimPrefix(inspect.Name, "/"),
			"image":  inspect.Config.Image,
			"status": inspect.State.Status,
		}, nil
	case "docker_image":
		inspect, _, err := p.client.ImageInspectWithRaw(ctx, id)
		if err != nil {
			return nil, mapNotFound(err, id)
		}
		return map[string]any{"id": inspect.ID}, nil
	case "docker_network":
		inspect, err := p.client.NetworkInspect(ctx, id, network.InspectOptions{})
		if err != nil {
			return nil, mapNotFound(err, id)
		}
		return map[string]any{
			"id":     inspect.ID,
			"name":   inspect.Name,
			"driver": inspect.Driver,
		}, nil
	case "docker_volume":
		vol, err := p.client.VolumeInspect(ctx, id)
		if err != nil {
			return nil, mapNotFound(err, id)
		}
		return map[string]any{
			"id":     vol.Name,
			"name":   vol.Name,
			"driver": vol.Driver,
		}, nil
	default:
		return nil, fmt.Errorf("unknown resource type: %s", resourceType)
	}
}

func (p *Provider) Update(ctx context.Context, resourceType, id string, args map[string]any) (map[string]any, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	if resourceType != "docker_container" {
		return nil, fmt.Errorf("resource type %s does not support in-place updates", resourceType)
	}

	var cfg containerConfig
	if err := decodeArgs(args, &cfg); err != nil {
		return nil, err
	}

	// Restart policy is the only updatable container argument.
	update := container.UpdateConfig{
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyMode(cfg.Restart),
		},
	}
	if _, err := p.client.ContainerUpdate(ctx, id, update); err != nil {
		return nil, fmt.Errorf("failed to update container: %w", err)
	}

	return p.Read(ctx, resourceType, id)
}

func (p *Provider) Delete(ctx context.Context, resourceType, id string) error {
	if err := p.ensureClient(); err != nil {
		return err
	}
	if id == "" {
		return nil
	}

	switch resourceType {
	case "docker_container":
		timeout := 10 // seconds
		_ = p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
		if err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			if !client.IsErrNotFound(err) {
				return fmt.Errorf("failed to remove container: %w", err)
			}
		}
		return nil
	case "docker_image":
		if _, err := p.client.ImageRemove(ctx, id, image.RemoveOptions{Force: true}); err != nil {
			if !client.IsErrNotFound(err) {
				return fmt.Errorf("failed to remove image: %w", err)
			}
		}
		return nil
	case "docker_network":
		if err := p.client.NetworkRemove(ctx, id); err != nil {
			if !client.IsErrNotFound(err) {
				return fmt.Errorf("failed to remove network: %w", err)
			}
		}
		return nil
	case "docker_volume":
		if err := p.client.VolumeRemove(ctx, id, true); err != nil {
			if !client.IsErrNotFound(err) {
				return fmt.Errorf("failed to remove volume: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown resource type: %s", resourceType)
	}
}

func (p *Provider) createContainer(ctx context.Context, name string, args map[string]any) (string, map[string]any, error) {
	var desired containerConfig
	if err := decodeArgs(args, &desired); err != nil {
		return "", nil, err
	}
	if desired.Name == "" {
		desired.Name = name
	}

	if err := p.pullImage(ctx, desired.Image); err != nil {
		return "", nil, err
	}

	portBindings := nat.PortMap{}
	for hostPort, containerPort := range desired.Ports {
		cp := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		portBindings[cp] = []nat.PortBinding{
			{
				HostIP:   "0.0.0.0",
				HostPort: hostPort,
			},
		}
	}

	var binds []string
	for _, v := range desired.Volumes {
		parts := strings.SplitN(v, ":", 2)
		if len(parts) > 0 {
			if strings.HasPrefix(parts[0], "./") || strings.HasPrefix(parts[0], "../") {
				abs, err := filepath.Abs(parts[0])
				if err == nil {
					parts[0] = abs
					binds = append(binds, strings.Join(parts, ":"))
					continue
				}
			}
		}
		binds = append(binds, v)
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        binds,
	}
	if len(desired.Networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(desired.Networks[0])
	}

	if desired.Restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(desired.Restart),
		}
	}

	if desired.Logging != nil {
		hostConfig.LogConfig = container.LogConfig{
			Type:   desired.Logging.Driver,
			Config: desired.Logging.Options,
		}
	}

	for _, secret := range desired.Secrets {
		absPath, err := filepath.Abs(secret.File)
		if err != nil {
			return "", nil, fmt.Errorf("failed to resolve secret file path: %w", err)
		}
		hostConfig.Binds = append(hostConfig.Binds, fmt.Sprintf("%s:%s:ro", absPath, secret.Target))
	}

	config := &container.Config{
		Image:      desired.Image,
		Cmd:        desired.Command,
		Env:        mapToEnvList(desired.Env),
		Labels:     desired.Labels,
		WorkingDir: desired.WorkingDir,
		User:       desired.User,
	}

	if desired.Healthcheck != nil {
		test := desired.Healthcheck.Test
		if len(test) == 0 {
			test = []string{"NONE"}
		}

		interval, _ := time.ParseDuration(desired.Healthcheck.Interval)
		timeout, _ := time.ParseDuration(desired.Healthcheck.Timeout)
		startPeriod, _ := time.ParseDuration(desired.Healthcheck.StartPeriod)

		config.Healthcheck = &container.HealthConfig{
			Test:        test,
			Interval:    interval,
			Timeout:     timeout,
			StartPeriod: startPeriod,
			Retries:     desired.Healthcheck.Retries,
		}
	}

	resp, err := p.client.ContainerCreate(ctx,
		config,
		hostConfig,
		&network.NetworkingConfig{},
		&v1.Platform{},
		desired.Name,
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", nil, fmt.Errorf("failed to start container: %w", err)
	}

	attrs := map[string]any{
		"id":    resp.ID,
		"name":  desired.Name,
		"image": desired.Image,
	}
	return resp.ID, attrs, nil
}

func (p *Provider) createImage(ctx context.Context, name string, args map[string]any) (string, map[string]any, error) {
	var desired imageConfig
	if err := decodeArgs(args, &desired); err != nil {
		return "", nil, err
	}
	if desired.Name == "" {
		desired.Name = name
	}

	if desired.BuildContext != "" {
		tar, err := archive.TarWithOptions(desired.BuildContext, &archive.TarOptions{})
		if err != nil {
			return "", nil, fmt.Errorf("failed to create build context tar: %w", err)
		}
		defer tar.Close()

		opts := types.ImageBuildOptions{
			Tags:       []string{desired.Name},
			Dockerfile: desired.Dockerfile,
			Remove:     true,
		}

		resp, err := p.client.ImageBuild(ctx, tar, opts)
		if err != nil {
			return "", nil, fmt.Errorf("failed to build image: %w", err)
		}
		defer resp.Body.Close()

		// Drain output to prevent blocking
		io.Copy(io.Discard, resp.Body)
	} else {
		if err := p.pullImage(ctx, desired.Name); err != nil {
			return "", nil, err
		}
	}

	inspect, _, err := p.client.ImageInspectWithRaw(ctx, desired.Name)
	if err != nil {
		return "", nil, fmt.Errorf("failed to inspect image: %w", err)
	}

	attrs := map[string]any{
		"id":   inspect.ID,
		"name": desired.Name,
	}
	return inspect.ID, attrs, nil
}

func (p *Provider) createNetwork(ctx context.Context, name string, args map[string]any) (string, map[string]any, error) {
	var desired networkConfig
	if err := decodeArgs(args, &desired); err != nil {
		return "", nil, err
	}
	if desired.Name == "" {
		desired.Name = name
	}

	resp, err := p.client.NetworkCreate(ctx, desired.Name, types.NetworkCreate{
		Driver:   desired.Driver,
		Internal: desired.Internal,
		Labels:   desired.Labels,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create network: %w", err)
	}

	attrs := map[string]any{
		"id":     resp.ID,
		"name":   desired.Name,
		"driver": desired.Driver,
	}
	return resp.ID, attrs, nil
}

func (p *Provider) createVolume(ctx context.Context, name string, args map[string]any) (string, map[string]any, error) {
	var desired volumeConfig
	if err := decodeArgs(args, &desired); err != nil {
		return "", nil, err
	}
	if desired.Name == "" {
		desired.Name = name
	}

	vol, err := p.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   desired.Name,
		Driver: desired.Driver,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create volume: %w", err)
	}

	attrs := map[string]any{
		"id":     vol.Name,
		"name":   vol.Name,
		"driver": vol.Driver,
	}
	return vol.Name, attrs, nil
}

// pullImage pulls with backoff; registries throttle and flake enough
// that a blind single attempt fails real deployments.
func (p *Provider) pullImage(ctx context.Context, ref string) error {
	return provider.RetryWithBackoff(ctx, p.retry, func() error {
		reader, err := p.client.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("failed to pull image %s: %w", ref, err)
		}
		io.Copy(io.Discard, reader)
		return reader.Close()
	}, provider.IsTransientError)
}

func mapNotFound(err error, id string) error {
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%s: %w", id, provider.ErrNotFound)
	}
	return err
}

// decodeArgs round-trips the generic argument map through JSON into a
// typed config struct.
func decodeArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}
	return nil
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

type containerConfig struct {
	Image       string             `json:"image"`
	Name        string             `json:"name"`
	Command     []string           `json:"command"`
	Ports       map[string]int     `json:"ports"`
	Env         map[string]string  `json:"env"`
	Networks    []string           `json:"networks"`
	Volumes     []string           `json:"volumes"`
	Labels      map[string]string  `json:"labels"`
	WorkingDir  string             `json:"workingDir"`
	User        string             `json:"user"`
	Restart     string             `json:"restart"`
	Healthcheck *healthcheckConfig `json:"healthcheck"`
	Logging     *loggingConfig     `json:"logging"`
	Secrets     []secretConfig     `json:"secrets"`
}

type healthcheckConfig struct {
	Test        []string `json:"test"`
	Interval    string   `json:"interval"`
	Timeout     string   `json:"timeout"`
	StartPeriod string   `json:"startPeriod"`
	Retries     int      `json:"retries"`
}

type loggingConfig struct {
	Driver  string            `json:"driver"`
	Options map[string]string `json:"options"`
}

type secretConfig struct {
	Source string `json:"source"`
	Target string `json:"target"`
	File   string `json:"file"`
}

type networkConfig struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver"`
	Internal bool              `json:"internal"`
	Labels   map[string]string `json:"labels"`
}

type volumeConfig struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

type imageConfig struct {
	Name         string `json:"name"`
	BuildContext string `json:"buildContext"`
	Dockerfile   string `json:"dockerfile"`
}
