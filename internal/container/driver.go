// Package container defines the abstract container runtime driver the
// executor builds and runs capsule images against, plus two
// implementations: a production driver over the Docker Engine API and an
// in-memory fake used by tests that never touch a real daemon.
package container

import (
	"context"
	"time"
)

// Mount describes one bind mount into a running capsule container.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// Handle is an opaque reference to a running or exited container.
type Handle string

// Driver abstracts build/run/wait/logs/remove over a container runtime.
// All methods must be safe for concurrent use by multiple workers.
type Driver interface {
	// Healthy reports whether the underlying runtime is reachable.
	Healthy(ctx context.Context) error

	// EnsureNetwork idempotently creates the user-defined bridge network
	// every capsule container attaches to.
	EnsureNetwork(ctx context.Context, name string) error

	// ImageExists reports whether imageTag has already been built/pulled.
	ImageExists(ctx context.Context, imageTag string) (bool, error)

	// Build builds imageTag from the Dockerfile in contextPath.
	Build(ctx context.Context, imageTag, contextPath string) error

	// Run starts a container from imageTag with the given mounts and
	// environment, attached to network, and returns an opaque handle.
	Run(ctx context.Context, imageTag, network, name string, mounts []Mount, env map[string]string) (Handle, error)

	// Wait blocks until the container referenced by h exits or timeout
	// elapses, returning the normalized integer exit code. A timeout is
	// reported via ErrTimeout.
	Wait(ctx context.Context, h Handle, timeout time.Duration) (int, error)

	// Logs returns the full accumulated stdout+stderr for h.
	Logs(ctx context.Context, h Handle) (string, error)

	// Stop attempts a graceful stop within grace before the runtime kills
	// the container outright.
	Stop(ctx context.Context, h Handle, grace time.Duration) error

	// Remove force-removes the container referenced by h. It must be
	// idempotent: removing an already-removed handle is not an error.
	Remove(ctx context.Context, h Handle, force bool) error
}

// ErrTimeout is returned by Wait when the container does not exit within
// the requested timeout.
var ErrTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "container did not exit before timeout" }
