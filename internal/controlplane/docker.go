package controlplane

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
	"github.com/moby/go-archive"
)

type dockerDaemon struct {
	cli *client.Client
}

// DialDocker builds a Docker Engine API client for tcp://address. A nil
// tlsConfig yields a plaintext client. No request is sent until the first call.
func DialDocker(_ context.Context, address string, tlsConfig *tls.Config) (Daemon, error) {
	opts := []client.Opt{}
	if tlsConfig != nil {
		opts = append(opts, client.WithHTTPClient(&http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		}))
	}
	opts = append(opts,
		client.WithHost("tcp://"+address),
		client.WithAPIVersionNegotiation(),
	)

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &dockerDaemon{cli: cli}, nil
}

func (d *dockerDaemon) Version(ctx context.Context) (VersionInfo, error) {
	v, err := d.cli.ServerVersion(ctx)
	if err != nil {
		return VersionInfo{}, err
	}
	return VersionInfo{
		Version:    v.Version,
		APIVersion: v.APIVersion,
		OS:         v.Os,
		Arch:       v.Arch,
	}, nil
}

func (d *dockerDaemon) NetworkExists(ctx context.Context, name string) (bool, error) {
	_, err := d.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return true, nil
	}
	if cerrdefs.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect network %s: %w", name, err)
}

func (d *dockerDaemon) CreateNetwork(ctx context.Context, spec NetworkSpec) error {
	opts := network.CreateOptions{
		Driver:     spec.Driver,
		Options:    spec.Options,
		Labels:     spec.Labels,
		Attachable: spec.Attachable,
	}
	if spec.Subnet != "" {
		opts.IPAM = &network.IPAM{
			Config: []network.IPAMConfig{{
				Subnet:  spec.Subnet,
				Gateway: spec.Gateway,
			}},
		}
	}

	if _, err := d.cli.NetworkCreate(ctx, spec.Name, opts); err != nil {
		return classify(fmt.Sprintf("create network %s", spec.Name), err)
	}
	return nil
}

func (d *dockerDaemon) RemoveNetwork(ctx context.Context, name string) error {
	return classify(fmt.Sprintf("remove network %s", name), d.cli.NetworkRemove(ctx, name))
}

func (d *dockerDaemon) FindContainer(ctx context.Context, name string) (*ContainerSummary, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	for _, c := range list {
		s := summarize(c)
		if s.Name == name {
			return &s, nil
		}
	}
	return nil, nil
}

func (d *dockerDaemon) ListManaged(ctx context.Context, labels map[string]string) ([]ContainerSummary, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}

	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	out := make([]ContainerSummary, 0, len(list))
	for _, c := range list {
		out = append(out, summarize(c))
	}
	return out, nil
}

func (d *dockerDaemon) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:    spec.Image,
		Hostname: spec.Hostname,
		Labels:   spec.Labels,
		Env:      spec.Env,
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(spec.NetworkMode),
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyMode(spec.RestartPolicy),
		},
		Resources: container.Resources{
			Memory:    spec.MemoryBytes,
			CPUShares: spec.CPUShares,
		},
	}

	if hc := spec.HealthCheck; hc != nil {
		cfg.Healthcheck = &container.HealthConfig{
			Test:        hc.Command,
			Interval:    hc.Interval,
			Timeout:     hc.Timeout,
			StartPeriod: hc.StartPeriod,
			Retries:     hc.Retries,
		}
	}

	if len(spec.PortBindings) > 0 {
		cfg.ExposedPorts = nat.PortSet{}
		hostCfg.PortBindings = nat.PortMap{}
		for _, b := range spec.PortBindings {
			port, err := nat.NewPort("tcp", strconv.Itoa(b.ContainerPort))
			if err != nil {
				return "", fmt.Errorf("invalid container port %d: %w", b.ContainerPort, err)
			}
			cfg.ExposedPorts[port] = struct{}{}
			hostCfg.PortBindings[port] = append(hostCfg.PortBindings[port], nat.PortBinding{
				HostPort: strconv.Itoa(b.HostPort),
			})
		}
	}

	var netCfg *network.NetworkingConfig
	if spec.IPv4Address != "" && spec.NetworkMode != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.NetworkMode: {
					IPAMConfig: &network.EndpointIPAMConfig{IPv4Address: spec.IPv4Address},
				},
			},
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		if cerrdefs.IsNotFound(err) && d.imageMissing(ctx, spec.Image) {
			return "", fmt.Errorf("%w: %s: %v", ErrImageNotFound, spec.Image, err)
		}
		return "", classify(fmt.Sprintf("create container %s", spec.Name), err)
	}
	for _, w := range resp.Warnings {
		slog.Warn("Daemon warning on container create", "container", spec.Name, "warning", w)
	}
	return resp.ID, nil
}

// imageMissing tells a missing image apart from the other not-found causes
// of a failed create, such as a network removed after the gate passed.
func (d *dockerDaemon) imageMissing(ctx context.Context, ref string) bool {
	_, err := d.cli.ImageInspect(ctx, ref)
	return cerrdefs.IsNotFound(err)
}

func (d *dockerDaemon) StartContainer(ctx context.Context, id string) error {
	return classify(fmt.Sprintf("start container %s", id), d.cli.ContainerStart(ctx, id, container.StartOptions{}))
}

func (d *dockerDaemon) StopContainer(ctx context.Context, id string, grace time.Duration) error {
	secs := int(grace.Seconds())
	return classify(fmt.Sprintf("stop container %s", id), d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}))
}

func (d *dockerDaemon) RemoveContainer(ctx context.Context, id string) error {
	return classify(fmt.Sprintf("remove container %s", id), d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}))
}

func (d *dockerDaemon) InspectContainer(ctx context.Context, id string) (ContainerState, error) {
	resp, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerState{}, classify(fmt.Sprintf("inspect container %s", id), err)
	}

	st := ContainerState{ID: resp.ID}
	if resp.State != nil {
		st.Status = string(resp.State.Status)
		st.Running = resp.State.Running
		if resp.State.Health != nil {
			st.Health = string(resp.State.Health.Status)
		}
	}
	return st, nil
}

func (d *dockerDaemon) BuildImage(ctx context.Context, contextDir, tag string) error {
	buildContext, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to archive build context %s: %w", contextDir, err)
	}
	defer buildContext.Close()

	resp, err := d.cli.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", tag, err)
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("failed to build image %s: %w", tag, err)
	}
	return nil
}

func (d *dockerDaemon) Close() error {
	return d.cli.Close()
}

func summarize(c container.Summary) ContainerSummary {
	s := ContainerSummary{
		ID:     c.ID,
		State:  string(c.State),
		Status: c.Status,
		Labels: c.Labels,
	}
	if len(c.Names) > 0 {
		s.Name = strings.TrimPrefix(c.Names[0], "/")
	}
	return s
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case cerrdefs.IsNotFound(err):
		return fmt.Errorf("failed to %s: %w: %v", op, ErrNotFound, err)
	case cerrdefs.IsConflict(err):
		return fmt.Errorf("failed to %s: %w: %v", op, ErrAlreadyExists, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
