// Package fakedaemon is an in-memory controlplane.Daemon for tests.
package fakedaemon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/EternisAI/silo-fleet/internal/controlplane"
)

type Container struct {
	ID      string
	Name    string
	Spec    controlplane.ContainerSpec
	Status  string
	Running bool

	inspects int
}

// Daemon keeps networks and containers in memory and counts every call.
// Failure maps are keyed by container name.
type Daemon struct {
	mu         sync.Mutex
	networks   map[string]controlplane.NetworkSpec
	containers map[string]*Container
	nextID     int
	calls      map[string]int

	// Health returns the health string for the n-th inspection (1-based).
	// Nil means "healthy" for containers with a health check.
	Health func(name string, n int) string

	VersionErr    error
	CreateErr     map[string]error
	StartErr      map[string]error
	InspectErr    map[string]error
	RemoveErr     map[string]error
	NetworkErr    error
	MissingImages map[string]bool
	BuildErr      error
	Builds        []string
	Closed        bool
}

func New() *Daemon {
	return &Daemon{
		networks:      map[string]controlplane.NetworkSpec{},
		containers:    map[string]*Container{},
		calls:         map[string]int{},
		CreateErr:     map[string]error{},
		StartErr:      map[string]error{},
		InspectErr:    map[string]error{},
		RemoveErr:     map[string]error{},
		MissingImages: map[string]bool{},
	}
}

// Calls returns how many times op was invoked.
func (d *Daemon) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

func (d *Daemon) Network(name string) (controlplane.NetworkSpec, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.networks[name]
	return n, ok
}

func (d *Daemon) AddNetwork(spec controlplane.NetworkSpec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.networks[spec.Name] = spec
}

// Container returns a copy of the container with name, or nil.
func (d *Daemon) Container(name string) *Container {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c := d.byName(name); c != nil {
		cp := *c
		return &cp
	}
	return nil
}

// Names lists the current container names in order.
func (d *Daemon) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.containers))
	for _, c := range d.containers {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Seed adds a running container as if created by an earlier run.
func (d *Daemon) Seed(spec controlplane.ContainerSpec) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.add(spec)
	c.Status = "running"
	c.Running = true
	return c.ID
}

func (d *Daemon) Version(context.Context) (controlplane.VersionInfo, error) {
	d.count("Version")
	if d.VersionErr != nil {
		return controlplane.VersionInfo{}, d.VersionErr
	}
	return controlplane.VersionInfo{Version: "28.5.1", APIVersion: "1.51", OS: "linux", Arch: "amd64"}, nil
}

func (d *Daemon) NetworkExists(_ context.Context, name string) (bool, error) {
	d.count("NetworkExists")
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.networks[name]
	return ok, nil
}

func (d *Daemon) CreateNetwork(_ context.Context, spec controlplane.NetworkSpec) error {
	d.count("CreateNetwork")
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.NetworkErr != nil {
		return d.NetworkErr
	}
	if _, ok := d.networks[spec.Name]; ok {
		return fmt.Errorf("network %s: %w", spec.Name, controlplane.ErrAlreadyExists)
	}
	d.networks[spec.Name] = spec
	return nil
}

func (d *Daemon) RemoveNetwork(_ context.Context, name string) error {
	d.count("RemoveNetwork")
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.networks[name]; !ok {
		return fmt.Errorf("network %s: %w", name, controlplane.ErrNotFound)
	}
	delete(d.networks, name)
	return nil
}

func (d *Daemon) FindContainer(_ context.Context, name string) (*controlplane.ContainerSummary, error) {
	d.count("FindContainer")
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.byName(name)
	if c == nil {
		return nil, nil
	}
	s := summary(c)
	return &s, nil
}

func (d *Daemon) ListManaged(_ context.Context, labels map[string]string) ([]controlplane.ContainerSummary, error) {
	d.count("ListManaged")
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []controlplane.ContainerSummary
	for _, c := range d.containers {
		match := true
		for k, v := range labels {
			if c.Spec.Labels[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, summary(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *Daemon) CreateContainer(_ context.Context, spec controlplane.ContainerSpec) (string, error) {
	d.count("CreateContainer")
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.MissingImages[spec.Image] {
		return "", fmt.Errorf("%w: %s", controlplane.ErrImageNotFound, spec.Image)
	}
	if err := d.CreateErr[spec.Name]; err != nil {
		return "", err
	}
	if d.byName(spec.Name) != nil {
		return "", fmt.Errorf("container %s: %w", spec.Name, controlplane.ErrAlreadyExists)
	}
	if spec.NetworkMode != "" && spec.NetworkMode != "host" {
		if _, ok := d.networks[spec.NetworkMode]; !ok {
			return "", fmt.Errorf("network %s: %w", spec.NetworkMode, controlplane.ErrNotFound)
		}
	}
	return d.add(spec).ID, nil
}

func (d *Daemon) StartContainer(_ context.Context, id string) error {
	d.count("StartContainer")
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.containers[id]
	if !ok {
		return fmt.Errorf("container %s: %w", id, controlplane.ErrNotFound)
	}
	if err := d.StartErr[c.Name]; err != nil {
		return err
	}
	c.Status = "running"
	c.Running = true
	return nil
}

func (d *Daemon) StopContainer(_ context.Context, id string, _ time.Duration) error {
	d.count("StopContainer")
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.containers[id]
	if !ok {
		return fmt.Errorf("container %s: %w", id, controlplane.ErrNotFound)
	}
	c.Status = "exited"
	c.Running = false
	return nil
}

func (d *Daemon) RemoveContainer(_ context.Context, id string) error {
	d.count("RemoveContainer")
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.containers[id]
	if !ok {
		return fmt.Errorf("container %s: %w", id, controlplane.ErrNotFound)
	}
	if err := d.RemoveErr[c.Name]; err != nil {
		return err
	}
	delete(d.containers, id)
	return nil
}

func (d *Daemon) InspectContainer(_ context.Context, id string) (controlplane.ContainerState, error) {
	d.count("InspectContainer")
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.containers[id]
	if !ok {
		return controlplane.ContainerState{}, fmt.Errorf("container %s: %w", id, controlplane.ErrNotFound)
	}
	if err := d.InspectErr[c.Name]; err != nil {
		return controlplane.ContainerState{}, err
	}

	c.inspects++
	st := controlplane.ContainerState{ID: c.ID, Status: c.Status, Running: c.Running}
	if c.Spec.HealthCheck != nil && c.Running {
		st.Health = controlplane.HealthHealthy
		if d.Health != nil {
			st.Health = d.Health(c.Name, c.inspects)
		}
	}
	return st, nil
}

func (d *Daemon) BuildImage(_ context.Context, contextDir, tag string) error {
	d.count("BuildImage")
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.BuildErr != nil {
		return d.BuildErr
	}
	d.Builds = append(d.Builds, contextDir+"="+tag)
	delete(d.MissingImages, tag)
	return nil
}

func (d *Daemon) Close() error {
	d.count("Close")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}

func (d *Daemon) count(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[op]++
}

func (d *Daemon) add(spec controlplane.ContainerSpec) *Container {
	d.nextID++
	c := &Container{
		ID:     fmt.Sprintf("c%04d", d.nextID),
		Name:   spec.Name,
		Spec:   spec,
		Status: "created",
	}
	d.containers[c.ID] = c
	return c
}

func (d *Daemon) byName(name string) *Container {
	for _, c := range d.containers {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func summary(c *Container) controlplane.ContainerSummary {
	return controlplane.ContainerSummary{
		ID:     c.ID,
		Name:   c.Name,
		State:  c.Status,
		Status: c.Status,
		Labels: c.Spec.Labels,
	}
}
