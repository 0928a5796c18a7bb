// Package volume owns the on-disk session directory trees: pure path
// arithmetic over a configured base directory, with no cross-session
// locking because every session occupies a disjoint subtree.
package volume

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Tree is the set of paths belonging to one session.
type Tree struct {
	Session         string
	Root            string
	Input           string
	Output          string
	HandoffOutgoing string
	HandoffIncoming string
	InputJSON       string
	OutputJSON      string
}

// Manager creates, locates, and destroys session trees under Base.
type Manager struct {
	Base string
	log  *logrus.Entry
}

func New(base string, log *logrus.Logger) *Manager {
	return &Manager{Base: base, log: log.WithField("component", "volume_manager")}
}

func (m *Manager) treeFor(session string) *Tree {
	root := filepath.Join(m.Base, session)
	return &Tree{
		Session:         session,
		Root:            root,
		Input:           filepath.Join(root, "input"),
		Output:          filepath.Join(root, "output"),
		HandoffOutgoing: filepath.Join(root, "handoff", "outgoing"),
		HandoffIncoming: filepath.Join(root, "handoff", "incoming"),
		InputJSON:       filepath.Join(root, "input.json"),
		OutputJSON:      filepath.Join(root, "output.json"),
	}
}

// Create mints a session id if none is supplied and creates the four
// standard subdirectories.
func (m *Manager) Create(session string) (*Tree, error) {
	if session == "" {
		session = uuid.NewString()
	}
	t := m.treeFor(session)
	for _, dir := range []string{t.Input, t.Output, t.HandoffOutgoing, t.HandoffIncoming} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Tree returns the path set for an existing session without creating it.
func (m *Manager) Tree(session string) *Tree {
	return m.treeFor(session)
}

// Exists reports whether the session's root directory is present.
func (m *Manager) Exists(session string) bool {
	_, err := os.Stat(m.treeFor(session).Root)
	return err == nil
}

// Remove destroys a session tree. It is idempotent: removing an
// already-removed session is not an error, and any filesystem failure is
// logged rather than propagated, matching the best-effort cleanup contract.
func (m *Manager) Remove(session string) {
	root := m.treeFor(session).Root
	if err := os.RemoveAll(root); err != nil {
		m.log.WithField("session_id", session).Warnf("failed to remove session volume: %v", err)
	}
}

// CleanupAll removes every session subtree under Base, used at shutdown.
func (m *Manager) CleanupAll() {
	entries, err := os.ReadDir(m.Base)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Warnf("failed to list base path for cleanup: %v", err)
		}
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m.Remove(e.Name())
	}
}
