// Package executor implements the CapsuleExecutor: the full
// single-invocation lifecycle of validate -> stage -> launch -> wait ->
// read -> clean that every /execute and /handoff call ultimately runs.
package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FlexNetOS/capsule-orchestrator/internal/config"
	"github.com/FlexNetOS/capsule-orchestrator/internal/container"
	"github.com/FlexNetOS/capsule-orchestrator/internal/files"
	"github.com/FlexNetOS/capsule-orchestrator/internal/orcherrors"
	"github.com/FlexNetOS/capsule-orchestrator/internal/schema"
	"github.com/FlexNetOS/capsule-orchestrator/internal/state"
	"github.com/FlexNetOS/capsule-orchestrator/internal/volume"
)

const defaultTimeout = 3600 * time.Second

// Params is one /execute invocation's request.
type Params struct {
	Capsule         string
	Input           map[string]any
	Files           map[string]string // name -> host source path
	Session         string            // pre-assigned session id, if any (handoff callee)
	OrchestratorURL string
	Parent          string
	Timeout         time.Duration
}

// Result is the envelope every invocation ends in, regardless of outcome.
type Result struct {
	Success   bool           `json:"success"`
	Output    map[string]any `json:"output,omitempty"`
	Files     []string       `json:"files,omitempty"`
	Error     string         `json:"error,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Logs      string         `json:"logs,omitempty"`
}

// Executor runs the full capsule lifecycle.
type Executor struct {
	registry *config.Registry
	volumes  *volume.Manager
	files    *files.Manager
	schemas  *schema.Validator
	driver   container.Driver
	tracker  *state.Tracker
	log      *logrus.Entry
}

func New(registry *config.Registry, volumes *volume.Manager, fileMgr *files.Manager, schemas *schema.Validator, driver container.Driver, tracker *state.Tracker, log *logrus.Logger) *Executor {
	return &Executor{
		registry: registry,
		volumes:  volumes,
		files:    fileMgr,
		schemas:  schemas,
		driver:   driver,
		tracker:  tracker,
		log:      log.WithField("component", "capsule_executor"),
	}
}

// Execute runs the full capsule lifecycle. It never returns a Go error:
// every failure mode is folded into Result.Success=false so the RPC layer
// always has a well-formed envelope.
func (e *Executor) Execute(ctx context.Context, p Params) *Result {
	// The session tree is destroyed by whoever minted the session: a
	// handoff-supplied session stays alive past this return so the handler
	// can reflect output files into the caller's handoff/incoming/ first.
	session := p.Session
	ownTree := session == ""
	if ownTree {
		tree, err := e.volumes.Create("")
		if err != nil {
			return &Result{Success: false, Error: fmt.Sprintf("creating session volume: %v", err)}
		}
		session = tree.Session
	}

	log := e.log.WithField("session_id", session).WithField("capsule", p.Capsule)
	e.tracker.RegisterExecution(session, p.Capsule, p.Parent)

	fail := func(msg string, logs string) *Result {
		e.tracker.UpdateStatus(session, state.StatusFailed, "")
		log.Warn(msg)
		return &Result{Success: false, Error: msg, SessionID: session, Logs: logs}
	}

	if ownTree {
		defer e.volumes.Remove(session)
	}

	entry, ok := e.registry.Capsule(p.Capsule)
	if !ok {
		return fail(orcherrors.CapsuleNotFound(p.Capsule).Error(), "")
	}

	if err := e.schemas.ValidateInput(p.Capsule, p.Input); err != nil {
		return fail(err.Error(), "")
	}

	// No-op for a pre-staged handoff session; its tree already exists.
	if !ownTree {
		if _, err := e.volumes.Create(session); err != nil {
			return fail(fmt.Sprintf("creating session volume: %v", err), "")
		}
	}

	// Stage explicit files.
	for name, src := range p.Files {
		if _, err := e.files.StageInput(src, session, name); err != nil {
			return fail(fmt.Sprintf("staging file %q: %v", name, err), "")
		}
	}

	// Implicit file staging for input.file / input.files.
	input := stageImplicitFiles(p.Input, session, e.files)

	// Write input.json before the container ever starts.
	if err := e.files.WriteInputJSON(session, input); err != nil {
		return fail(fmt.Sprintf("writing input.json: %v", err), "")
	}

	// Ensure the image exists, else build it from the capsule directory.
	imageTag := entry.Image
	exists, err := e.driver.ImageExists(ctx, imageTag)
	if err != nil {
		return fail(fmt.Sprintf("checking image %q: %v", imageTag, err), "")
	}
	if !exists {
		if err := e.driver.Build(ctx, imageTag, entry.Path); err != nil {
			return fail(fmt.Sprintf("building image %q: %v", imageTag, err), "")
		}
	}

	// Compose the container environment.
	env := map[string]string{
		"ORCHESTRATOR_URL": p.OrchestratorURL,
		"OPENAI_API_BASE":  e.registry.LLMAPIBase(),
		"LITELLM_API_BASE": e.registry.LLMAPIBase(),
		"OPENAI_API_KEY":   e.registry.LLMAPIKey(),
	}

	// Run the container on the shared network with /io bound to the tree.
	tree := e.volumes.Tree(session)
	mounts := []container.Mount{{HostPath: tree.Root, ContainerPath: "/io"}}
	handle, err := e.driver.Run(ctx, imageTag, e.registry.Network(), "capsule-"+session, mounts, env)
	if err != nil {
		return fail(fmt.Sprintf("starting container: %v", err), "")
	}
	e.tracker.UpdateStatus(session, state.StatusRunning, string(handle))

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	// Wait with the per-call timeout.
	exitCode, waitErr := e.driver.Wait(ctx, handle, timeout)
	if waitErr != nil {
		logs, _ := e.driver.Logs(ctx, handle)
		_ = e.driver.Stop(ctx, handle, 10*time.Second)
		_ = e.driver.Remove(ctx, handle, true)
		if waitErr == container.ErrTimeout {
			terr := orcherrors.ContainerTimeout(fmt.Sprintf("capsule %q timed out after %s", p.Capsule, timeout), logs)
			return fail(terr.Error(), terr.Logs)
		}
		return fail(fmt.Sprintf("waiting for container: %v", waitErr), logs)
	}

	// Capture logs unconditionally for diagnostics.
	logs, _ := e.driver.Logs(ctx, handle)

	// A non-zero exit is a failure that carries the logs.
	if exitCode != 0 {
		_ = e.driver.Remove(ctx, handle, true)
		return fail(fmt.Sprintf("capsule %q exited with code %d", p.Capsule, exitCode), logs)
	}

	// Read output.json.
	output, ok, err := e.files.ReadOutputJSON(session)
	if err != nil {
		_ = e.driver.Remove(ctx, handle, true)
		return fail(fmt.Sprintf("reading output.json: %v", err), logs)
	}
	if !ok {
		_ = e.driver.Remove(ctx, handle, true)
		return fail(fmt.Sprintf("capsule %q failed to read output", p.Capsule), logs)
	}

	// Output validation is non-fatal.
	e.schemas.ValidateOutput(p.Capsule, output)

	// List the files the capsule wrote under output/.
	outputFiles, err := e.files.ListOutputFiles(session)
	if err != nil {
		log.Warnf("listing output files: %v", err)
	}

	// Remove the container and mark the execution completed.
	_ = e.driver.Remove(ctx, handle, true)
	e.tracker.UpdateStatus(session, state.StatusCompleted, string(handle))

	return &Result{
		Success:   true,
		Output:    output,
		Files:     outputFiles,
		SessionID: session,
	}
}

// stageImplicitFiles rewrites input.file / input.files entries that resolve
// to host paths, copying them into the session's input/ and rewriting the
// value to the in-container path. Strings that do not resolve on the host
// are passed through unchanged. This is the only in-payload mutation the
// executor performs, applied before input.json is written.
func stageImplicitFiles(input map[string]any, session string, fm *files.Manager) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}

	if raw, ok := out["file"]; ok {
		if p, ok := raw.(string); ok && files.ResolveHostPath(p) {
			if dst, err := fm.StageInput(p, session, filepath.Base(p)); err == nil {
				out["file"] = "/io/input/" + filepath.Base(dst)
			}
		}
	}

	if raw, ok := out["files"]; ok {
		if list, ok := raw.([]any); ok {
			rewritten := make([]any, len(list))
			for i, item := range list {
				rewritten[i] = item
				if p, ok := item.(string); ok && files.ResolveHostPath(p) {
					if dst, err := fm.StageInput(p, session, filepath.Base(p)); err == nil {
						rewritten[i] = "/io/input/" + filepath.Base(dst)
					}
				}
			}
			out["files"] = rewritten
		}
	}

	return out
}
