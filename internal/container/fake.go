package container

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Behavior simulates what a capsule image would do inside /io when run.
// hostIOPath is the host-side directory bind-mounted at /io; a behavior
// reads/writes there exactly as a real capsule would through the container
// boundary.
type Behavior func(hostIOPath string) BehaviorResult

// BehaviorResult is what a simulated capsule run produces.
type BehaviorResult struct {
	ExitCode int
	Logs     string
	Sleep    time.Duration
}

type fakeContainer struct {
	imageTag string
	hostIO   string
	running  bool
}

// FakeDriver is an in-memory Driver used by tests so the rest of the
// orchestrator can be exercised without a Docker daemon. Behaviors are
// registered per image tag; a tag with no registered behavior exits 0
// immediately with empty logs.
type FakeDriver struct {
	mu         sync.Mutex
	behaviors  map[string]Behavior
	containers map[Handle]*fakeContainer
	logsFor    map[Handle]string
	built      map[string]bool
	networks   map[string]bool
	nextID     int
	healthErr  error
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		behaviors:  make(map[string]Behavior),
		containers: make(map[Handle]*fakeContainer),
		logsFor:    make(map[Handle]string),
		built:      make(map[string]bool),
		networks:   make(map[string]bool),
	}
}

// SetBehavior registers what running imageTag should simulate.
func (f *FakeDriver) SetBehavior(imageTag string, b Behavior) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.behaviors[imageTag] = b
}

// SetHealthErr makes Healthy report the given error, simulating an
// unreachable runtime.
func (f *FakeDriver) SetHealthErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthErr = err
}

func (f *FakeDriver) Healthy(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *FakeDriver) EnsureNetwork(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = true
	return nil
}

func (f *FakeDriver) ImageExists(ctx context.Context, imageTag string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[imageTag], nil
}

func (f *FakeDriver) Build(ctx context.Context, imageTag, contextPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built[imageTag] = true
	return nil
}

func (f *FakeDriver) Run(ctx context.Context, imageTag, network, name string, mounts []Mount, env map[string]string) (Handle, error) {
	var hostIO string
	for _, m := range mounts {
		if m.ContainerPath == "/io" {
			hostIO = m.HostPath
		}
	}

	f.mu.Lock()
	f.nextID++
	h := Handle(fmt.Sprintf("fake-%d", f.nextID))
	f.containers[h] = &fakeContainer{imageTag: imageTag, hostIO: hostIO, running: true}
	f.mu.Unlock()
	return h, nil
}

// Wait runs the registered behavior (if any) for the container's image,
// honoring the caller's timeout even if the behavior simulates a longer
// sleep than the deadline allows.
func (f *FakeDriver) Wait(ctx context.Context, h Handle, timeout time.Duration) (int, error) {
	f.mu.Lock()
	c, ok := f.containers[h]
	if !ok {
		f.mu.Unlock()
		return -1, fmt.Errorf("fake driver: unknown container handle %q", h)
	}
	behavior := f.behaviors[c.imageTag]
	f.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan BehaviorResult, 1)
	go func() {
		if behavior == nil {
			result <- BehaviorResult{ExitCode: 0}
			return
		}
		r := behavior(c.hostIO)
		if r.Sleep > 0 {
			time.Sleep(r.Sleep)
		}
		result <- r
	}()

	select {
	case r := <-result:
		f.mu.Lock()
		c.running = false
		f.logsFor[h] = r.Logs
		f.mu.Unlock()
		return r.ExitCode, nil
	case <-waitCtx.Done():
		return -1, ErrTimeout
	}
}

func (f *FakeDriver) Logs(ctx context.Context, h Handle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logsFor[h], nil
}

func (f *FakeDriver) Stop(ctx context.Context, h Handle, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[h]; ok {
		c.running = false
	}
	return nil
}

func (f *FakeDriver) Remove(ctx context.Context, h Handle, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, h)
	delete(f.logsFor, h)
	return nil
}
