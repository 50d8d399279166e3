package docker

import (
	"context"
	"fmt"
	"sync"

	"github.com/artpar/boxcompose/internal/core/deployment"
)

// fakeClient is an in-memory Client. Launch marks the container running and
// assigns it the next 10.0.0.x address.
type fakeClient struct {
	mu sync.Mutex

	containers map[string]*ContainerInfo
	images     []string
	calls      []string
	launched   []deployment.RunSpec
	networks   []deployment.NetworkPlan
	volumes    []deployment.VolumePlan
	builds     []BuildSpec

	launchErr   map[string]error // by container name
	neverRuns   map[string]bool  // container stays "created"
	networkErr  error
	pullErr     error
	nextAddress int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		containers: map[string]*ContainerInfo{},
		launchErr:  map[string]error{},
		neverRuns:  map[string]bool{},
	}
}

func (f *fakeClient) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func (f *fakeClient) Launched() []deployment.RunSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deployment.RunSpec{}, f.launched...)
}

func (f *fakeClient) addContainer(name string, status ContainerStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextAddress++
	f.containers[name] = &ContainerInfo{
		ID:      "id-" + name,
		Name:    name,
		Status:  status,
		Address: fmt.Sprintf("10.0.0.%d", f.nextAddress),
	}
}

func (f *fakeClient) EnsureNetwork(_ context.Context, plan deployment.NetworkPlan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("network " + plan.Name)
	f.networks = append(f.networks, plan)
	return f.networkErr
}

func (f *fakeClient) EnsureVolume(_ context.Context, plan deployment.VolumePlan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("volume " + plan.Name)
	f.volumes = append(f.volumes, plan)
	return nil
}

func (f *fakeClient) FindContainer(_ context.Context, name string) (*ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return nil, NewRuntimeError("FindContainer", "container", name, "container not found", ErrContainerNotFound)
	}
	info := *c
	return &info, nil
}

func (f *fakeClient) Status(ctx context.Context, name string) (ContainerStatus, error) {
	info, err := f.FindContainer(ctx, name)
	if err != nil {
		return ContainerStatusUnknown, err
	}
	return info.Status, nil
}

func (f *fakeClient) Address(ctx context.Context, name string) (string, error) {
	info, err := f.FindContainer(ctx, name)
	if err != nil {
		return "", err
	}
	return info.Address, nil
}

func (f *fakeClient) StopContainer(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop " + name)
	c, ok := f.containers[name]
	if !ok {
		return NewRuntimeError("StopContainer", "container", name, "container not found", ErrContainerNotFound)
	}
	if c.Status != ContainerStatusRunning {
		return NewRuntimeError("StopContainer", "container", name, "container is not running", ErrContainerNotRunning)
	}
	c.Status = ContainerStatusExited
	return nil
}

func (f *fakeClient) RemoveContainer(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove " + name)
	if _, ok := f.containers[name]; !ok {
		return NewRuntimeError("RemoveContainer", "container", name, "container not found", ErrContainerNotFound)
	}
	delete(f.containers, name)
	return nil
}

func (f *fakeClient) CommitContainer(_ context.Context, name, image string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("commit " + name + " " + image)
	if _, ok := f.containers[name]; !ok {
		return "", NewRuntimeError("CommitContainer", "container", name, "container not found", ErrContainerNotFound)
	}
	return "sha256:" + image, nil
}

func (f *fakeClient) Launch(ctx context.Context, spec deployment.RunSpec, sink func(LogLine)) error {
	f.mu.Lock()
	f.record("launch " + spec.Name)
	f.launched = append(f.launched, spec)
	if err := f.launchErr[spec.Name]; err != nil {
		f.mu.Unlock()
		return err
	}
	status := ContainerStatusRunning
	if f.neverRuns[spec.Name] {
		status = ContainerStatusCreated
	}
	f.nextAddress++
	f.containers[spec.Name] = &ContainerInfo{
		ID:      "id-" + spec.Name,
		Name:    spec.Name,
		Image:   spec.Image,
		Status:  status,
		Address: fmt.Sprintf("10.0.0.%d", f.nextAddress),
	}
	f.mu.Unlock()

	if sink != nil {
		sink(LogLine{Service: spec.Service, Stream: StreamStdout, Text: "started " + spec.Service})
	}
	if spec.Has(deployment.FlagDetach) {
		return nil
	}
	<-ctx.Done()
	return nil
}

func (f *fakeClient) ListImages(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.images...), nil
}

func (f *fakeClient) PullImage(_ context.Context, ref string, _ PullOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pull " + ref)
	if f.pullErr != nil {
		return f.pullErr
	}
	f.images = append(f.images, ref)
	return nil
}

func (f *fakeClient) BuildImage(_ context.Context, spec BuildSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("build " + spec.Tag)
	f.builds = append(f.builds, spec)
	f.images = append(f.images, spec.Tag)
	return spec.Tag, nil
}

func (f *fakeClient) Close() error { return nil }

var _ Client = (*fakeClient)(nil)
