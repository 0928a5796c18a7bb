// Package files implements all cross-session file movement used by the
// executor and the handoff handler. Every move is a copy that preserves the
// source; the source may still be referenced by its owning session.
package files

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/FlexNetOS/capsule-orchestrator/internal/orcherrors"
	"github.com/FlexNetOS/capsule-orchestrator/internal/volume"
)

// Manager performs typed file moves across session trees.
type Manager struct {
	volumes *volume.Manager
}

func New(volumes *volume.Manager) *Manager {
	return &Manager{volumes: volumes}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// StageInput copies an external file into the session's input/ directory.
// If name is empty, the source's basename is used.
func (m *Manager) StageInput(src, session, name string) (string, error) {
	if name == "" {
		name = filepath.Base(src)
	}
	tree := m.volumes.Tree(session)
	dst := filepath.Join(tree.Input, name)
	if err := copyFile(src, dst); err != nil {
		return "", orcherrors.FileOperation("staging input file", err)
	}
	return dst, nil
}

// WriteInputJSON atomically writes the session's input.json: write to a
// sibling temp file, then rename into place, so a reader never observes a
// partially written payload.
func (m *Manager) WriteInputJSON(session string, payload any) error {
	tree := m.volumes.Tree(session)
	raw, err := json.Marshal(payload)
	if err != nil {
		return orcherrors.FileOperation("marshaling input.json", err)
	}
	tmp := tree.InputJSON + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return orcherrors.FileOperation("writing input.json", err)
	}
	if err := os.Rename(tmp, tree.InputJSON); err != nil {
		return orcherrors.FileOperation("renaming input.json into place", err)
	}
	return nil
}

// ReadOutputJSON reads and decodes output.json. A missing file is reported
// via ok=false rather than an error, since absence after a zero exit code is
// itself a well-defined failure the caller must narrate.
func (m *Manager) ReadOutputJSON(session string) (map[string]any, bool, error) {
	tree := m.volumes.Tree(session)
	raw, err := os.ReadFile(tree.OutputJSON)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, orcherrors.FileOperation("reading output.json", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false, orcherrors.FileOperation("decoding output.json", err)
	}
	return payload, true, nil
}

// ListOutputFiles lists the basenames written under output/.
func (m *Manager) ListOutputFiles(session string) ([]string, error) {
	tree := m.volumes.Tree(session)
	entries, err := os.ReadDir(tree.Output)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcherrors.FileOperation("listing output files", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// ExistsInOutgoing reports whether name is present in the session's
// handoff/outgoing/ directory — used by the handoff handler to decide
// whether a string argument denotes a file reference.
func (m *Manager) ExistsInOutgoing(session, name string) bool {
	tree := m.volumes.Tree(session)
	_, err := os.Stat(filepath.Join(tree.HandoffOutgoing, name))
	return err == nil
}

// CopyOutgoingToInput transfers a file the caller placed in its
// handoff/outgoing/ into the callee's input/.
func (m *Manager) CopyOutgoingToInput(srcSession, dstSession, name string) error {
	srcTree := m.volumes.Tree(srcSession)
	dstTree := m.volumes.Tree(dstSession)
	src := filepath.Join(srcTree.HandoffOutgoing, name)
	dst := filepath.Join(dstTree.Input, name)
	if err := copyFile(src, dst); err != nil {
		return orcherrors.FileOperation("copying handoff outgoing file to callee input", err)
	}
	return nil
}

// CopyOutputToIncoming reflects one of the callee's output files into the
// caller's handoff/incoming/ after the callee has returned.
func (m *Manager) CopyOutputToIncoming(srcSession, dstSession, name string) error {
	srcTree := m.volumes.Tree(srcSession)
	dstTree := m.volumes.Tree(dstSession)
	src := filepath.Join(srcTree.Output, name)
	dst := filepath.Join(dstTree.HandoffIncoming, name)
	if err := copyFile(src, dst); err != nil {
		return orcherrors.FileOperation("copying handoff output file to caller incoming", err)
	}
	return nil
}

// ResolveHostPath reports whether p resolves to a readable file on the host
// filesystem, used by the executor's implicit file-staging step.
func ResolveHostPath(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
