// Package state implements the single-mutex, in-memory StateTracker: the
// only shared mutable data structure in the orchestrator, recording live
// executions and a bounded ring of handoff edges for observability.
package state

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	maxHandoffHistory  = 1000
	executionRetention = 30 * time.Second
	handoffRetention   = 60 * time.Second
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Execution is one capsule invocation's lifecycle record.
type Execution struct {
	SessionID       string    `json:"session_id"`
	CapsuleName     string    `json:"capsule_name"`
	StartTime       time.Time `json:"start_time"`
	Status          Status    `json:"status"`
	ContainerHandle string    `json:"container_handle,omitempty"`
	ParentSession   string    `json:"parent_session,omitempty"`
	terminalAt      time.Time
}

// Handoff is one completed (or attempted) handoff edge.
type Handoff struct {
	CallerSession string    `json:"caller_session"`
	CallerCapsule string    `json:"caller_capsule"`
	TargetCapsule string    `json:"target_capsule"`
	TargetSession string    `json:"target_session"`
	Timestamp     time.Time `json:"timestamp"`
	Success       bool      `json:"success"`
}

// Snapshot is the visualizer payload.
type Snapshot struct {
	Nodes []Execution `json:"nodes"`
	Edges []Handoff   `json:"edges"`
	Now   time.Time   `json:"now"`
}

// Tracker is the thread-safe StateTracker.
type Tracker struct {
	mu         sync.Mutex
	executions map[string]*Execution
	handoffs   []*Handoff
}

func New() *Tracker {
	return &Tracker{
		executions: make(map[string]*Execution),
	}
}

// RegisterExecution records a new execution entering the running state.
func (t *Tracker) RegisterExecution(session, capsule, parent string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executions[session] = &Execution{
		SessionID:     session,
		CapsuleName:   capsule,
		StartTime:     time.Now(),
		Status:        StatusRunning,
		ParentSession: parent,
	}
}

// UpdateStatus transitions an execution's status, optionally attaching the
// container handle observed so far.
func (t *Tracker) UpdateStatus(session string, status Status, containerHandle string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.executions[session]
	if !ok {
		return
	}
	e.Status = status
	if containerHandle != "" {
		e.ContainerHandle = containerHandle
	}
	if status != StatusRunning {
		e.terminalAt = time.Now()
	}
}

// CapsuleName resolves the capsule name that owns session, used to
// attribute a handoff to its caller. Returns "" if the session is unknown.
func (t *Tracker) CapsuleName(session string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.executions[session]; ok {
		return e.CapsuleName
	}
	return ""
}

// RegisterHandoff appends a handoff edge, trimming the oldest entries past
// the retained history bound.
func (t *Tracker) RegisterHandoff(callerSession, callerCapsule, targetCapsule, targetSession string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handoffs = append(t.handoffs, &Handoff{
		CallerSession: callerSession,
		CallerCapsule: callerCapsule,
		TargetCapsule: targetCapsule,
		TargetSession: targetSession,
		Timestamp:     time.Now(),
		Success:       success,
	})
	if len(t.handoffs) > maxHandoffHistory {
		t.handoffs = t.handoffs[len(t.handoffs)-maxHandoffHistory:]
	}
}

// Snapshot returns the retained executions and handoffs: any execution that
// is still running or terminated within executionRetention, and any handoff
// within handoffRetention or whose endpoints are still live.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()

	liveSessions := make(map[string]bool)
	nodes := lo.FilterMap(lo.Values(t.executions), func(e *Execution, _ int) (Execution, bool) {
		retained := e.Status == StatusRunning || now.Sub(e.terminalAt) <= executionRetention
		if retained {
			liveSessions[e.SessionID] = true
			return *e, true
		}
		return Execution{}, false
	})

	edges := lo.FilterMap(t.handoffs, func(h *Handoff, _ int) (Handoff, bool) {
		fresh := now.Sub(h.Timestamp) <= handoffRetention
		endpointsLive := liveSessions[h.CallerSession] || liveSessions[h.TargetSession]
		if fresh || endpointsLive {
			return *h, true
		}
		return Handoff{}, false
	})

	return Snapshot{Nodes: nodes, Edges: edges, Now: now}
}
