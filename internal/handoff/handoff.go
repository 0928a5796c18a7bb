// Package handoff mediates capsule-to-orchestrator calls that re-enter the
// executor with file passthrough between the caller's and callee's session
// trees.
package handoff

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/FlexNetOS/capsule-orchestrator/internal/config"
	"github.com/FlexNetOS/capsule-orchestrator/internal/executor"
	"github.com/FlexNetOS/capsule-orchestrator/internal/files"
	"github.com/FlexNetOS/capsule-orchestrator/internal/orcherrors"
	"github.com/FlexNetOS/capsule-orchestrator/internal/state"
	"github.com/FlexNetOS/capsule-orchestrator/internal/volume"
)

// Params is one /handoff invocation's request.
type Params struct {
	CallerSession   string
	Target          string
	Args            map[string]any
	OrchestratorURL string
}

// Handler mediates handoffs.
type Handler struct {
	registry *config.Registry
	volumes  *volume.Manager
	files    *files.Manager
	tracker  *state.Tracker
	executor *executor.Executor
	log      *logrus.Entry
}

func New(registry *config.Registry, volumes *volume.Manager, fileMgr *files.Manager, tracker *state.Tracker, exec *executor.Executor, log *logrus.Logger) *Handler {
	return &Handler{
		registry: registry,
		volumes:  volumes,
		files:    fileMgr,
		tracker:  tracker,
		executor: exec,
		log:      log.WithField("component", "handoff_handler"),
	}
}

// Handoff runs the full caller->callee delegation and returns a result in
// the same envelope shape as Execute; it never lets an error cross the RPC
// boundary.
func (h *Handler) Handoff(ctx context.Context, p Params) *executor.Result {
	log := h.log.WithField("caller_session", p.CallerSession).WithField("target", p.Target)

	// Resolve the target capsule first.
	if _, ok := h.registry.Capsule(p.Target); !ok {
		err := orcherrors.Handoff(fmt.Sprintf("target capsule %q not found", p.Target), nil)
		log.Warn(err.Error())
		return &executor.Result{Success: false, Error: err.Error()}
	}

	// Mint the target session up front so file copies land somewhere.
	targetTree, err := h.volumes.Create("")
	if err != nil {
		return &executor.Result{Success: false, Error: fmt.Sprintf("creating target session: %v", err)}
	}
	targetSession := targetTree.Session

	// Partition args into file references vs primitive values,
	// copying each file reference from the caller's handoff/outgoing/ into
	// the target's input/.
	resolvedArgs := make(map[string]any, len(p.Args))
	for k, v := range p.Args {
		resolvedArgs[k] = v
		name, isString := v.(string)
		if !isString {
			continue
		}
		if h.files.ExistsInOutgoing(p.CallerSession, name) {
			if err := h.files.CopyOutgoingToInput(p.CallerSession, targetSession, name); err != nil {
				h.volumes.Remove(targetSession)
				herr := orcherrors.Handoff(fmt.Sprintf("copying handoff file %q", name), err)
				return &executor.Result{Success: false, Error: herr.Error()}
			}
			// File references remain as plain basenames in args.
			resolvedArgs[k] = name
		}
	}

	// Resolve the caller capsule for attribution; degrade gracefully if unknown.
	callerCapsule := h.tracker.CapsuleName(p.CallerSession)

	// Invoke the executor with the pre-minted target session.
	result := h.executor.Execute(ctx, executor.Params{
		Capsule:         p.Target,
		Input:           resolvedArgs,
		Session:         targetSession,
		Parent:          p.CallerSession,
		OrchestratorURL: p.OrchestratorURL,
	})

	// Register the handoff edge with the observed outcome.
	h.tracker.RegisterHandoff(p.CallerSession, callerCapsule, p.Target, targetSession, result.Success)

	// Reflect each target output file into the caller's handoff/incoming/.
	if result.Success {
		for _, name := range result.Files {
			if err := h.files.CopyOutputToIncoming(targetSession, p.CallerSession, name); err != nil {
				log.Warnf("reflecting handoff output file %q to caller: %v", name, err)
			}
		}
	}

	// Destroy the target session. Execute leaves a pre-minted
	// session alive precisely so the incoming copies above can still read
	// the target's output/ tree; ownership of the cleanup sits here.
	h.volumes.Remove(targetSession)

	return result
}
