package dind

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	image   = "docker:28-dind"
	apiPort = "2375/tcp"
)

// Daemon is a throwaway container daemon reachable over plaintext TCP.
type Daemon struct {
	container testcontainers.Container
	Host      string
	Port      int
}

func StartDaemon(ctx context.Context) (*Daemon, error) {
	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{apiPort},
		Env:          map[string]string{"DOCKER_TLS_CERTDIR": ""},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.Privileged = true
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("API listen on [::]:2375"),
			wait.ForListeningPort(apiPort),
		).WithDeadline(90 * time.Second),
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start dind container: %w", err)
	}

	state, err := c.State(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container state: %w", err)
	}
	if !state.Running {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("dind container is not running")
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := c.MappedPort(ctx, apiPort)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	return &Daemon{container: c, Host: host, Port: port.Int()}, nil
}

func (d *Daemon) Terminate(ctx context.Context) error {
	if err := d.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate dind container: %w", err)
	}
	return nil
}
