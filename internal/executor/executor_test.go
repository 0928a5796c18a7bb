package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/FlexNetOS/capsule-orchestrator/internal/config"
	"github.com/FlexNetOS/capsule-orchestrator/internal/container"
	"github.com/FlexNetOS/capsule-orchestrator/internal/files"
	"github.com/FlexNetOS/capsule-orchestrator/internal/schema"
	"github.com/FlexNetOS/capsule-orchestrator/internal/state"
	"github.com/FlexNetOS/capsule-orchestrator/internal/volume"
)

type harness struct {
	registry *config.Registry
	volumes  *volume.Manager
	files    *files.Manager
	schemas  *schema.Validator
	driver   *container.FakeDriver
	tracker  *state.Tracker
	exec     *Executor
	base     string
}

func newHarness(t *testing.T, capsules map[string]config.CapsuleEntry) *harness {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "sessions")

	doc := map[string]any{
		"server":   map[string]any{"host": "0.0.0.0", "port": 8080},
		"docker":   map[string]any{"network": "test-net", "base_path": base},
		"workers":  10,
		"capsules": capsules,
	}
	raw, err := yaml.Marshal(doc)
	require.NoError(t, err)
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, raw, 0o644))

	log := logrus.New()
	log.SetOutput(os.Stderr)

	registry, err := config.Load(configPath, log)
	require.NoError(t, err)

	volumes := volume.New(registry.BasePath(), log)
	fileMgr := files.New(volumes)
	schemas := schema.New(log)
	for name := range capsules {
		if path, ok := registry.SchemaPath(name); ok {
			require.NoError(t, schemas.Load(name, path))
		}
	}
	driver := container.NewFakeDriver()
	tracker := state.New()
	exec := New(registry, volumes, fileMgr, schemas, driver, tracker, log)

	return &harness{
		registry: registry, volumes: volumes, files: fileMgr,
		schemas: schemas, driver: driver, tracker: tracker, exec: exec, base: base,
	}
}

func capsuleDir(t *testing.T, schemaDoc string) string {
	t.Helper()
	dir := t.TempDir()
	if schemaDoc != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.json"), []byte(schemaDoc), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch\n"), 0o644))
	return dir
}

func TestExecuteEchoSucceedsAndCleansUpSession(t *testing.T) {
	path := capsuleDir(t, "")
	h := newHarness(t, map[string]config.CapsuleEntry{
		"echo": {Path: path, Image: "echo:latest"},
	})

	h.driver.SetBehavior("echo:latest", func(hostIO string) container.BehaviorResult {
		raw, err := os.ReadFile(filepath.Join(hostIO, "input.json"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(hostIO, "output.json"), raw, 0o644))
		return container.BehaviorResult{ExitCode: 0, Logs: "echoed"}
	})

	result := h.exec.Execute(context.Background(), Params{
		Capsule: "echo",
		Input:   map[string]any{"x": float64(1)},
	})

	require.True(t, result.Success)
	assert.Equal(t, float64(1), result.Output["x"])
	assert.False(t, h.volumes.Exists(result.SessionID), "session directory must not survive a returned /execute call")
}

func TestExecuteUnknownCapsuleFails(t *testing.T) {
	h := newHarness(t, map[string]config.CapsuleEntry{})

	result := h.exec.Execute(context.Background(), Params{Capsule: "nope", Input: map[string]any{}})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not found")
}

func TestExecuteSchemaRejectionReportsMissingField(t *testing.T) {
	path := capsuleDir(t, `{
		"input": {
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type": "object",
			"required": ["q"]
		}
	}`)
	h := newHarness(t, map[string]config.CapsuleEntry{
		"consumer": {Path: path, Image: "consumer:latest"},
	})

	result := h.exec.Execute(context.Background(), Params{Capsule: "consumer", Input: map[string]any{}})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "q")
}

func TestExecuteNonZeroExitFailsAndCapturesLogs(t *testing.T) {
	path := capsuleDir(t, "")
	h := newHarness(t, map[string]config.CapsuleEntry{
		"broken": {Path: path, Image: "broken:latest"},
	})
	h.driver.SetBehavior("broken:latest", func(hostIO string) container.BehaviorResult {
		return container.BehaviorResult{ExitCode: 1, Logs: "boom"}
	})

	result := h.exec.Execute(context.Background(), Params{Capsule: "broken", Input: map[string]any{}})

	assert.False(t, result.Success)
	assert.Contains(t, result.Logs, "boom")
}

func TestExecuteTimeoutFailsAndRemovesSession(t *testing.T) {
	path := capsuleDir(t, "")
	h := newHarness(t, map[string]config.CapsuleEntry{
		"slow": {Path: path, Image: "slow:latest"},
	})
	h.driver.SetBehavior("slow:latest", func(hostIO string) container.BehaviorResult {
		return container.BehaviorResult{ExitCode: 0, Sleep: 300 * time.Millisecond}
	})

	result := h.exec.Execute(context.Background(), Params{
		Capsule: "slow",
		Input:   map[string]any{},
		Timeout: 20 * time.Millisecond,
	})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
	assert.False(t, h.volumes.Exists(result.SessionID))
}

func TestExecuteImplicitFileStagingRewritesPath(t *testing.T) {
	path := capsuleDir(t, "")
	h := newHarness(t, map[string]config.CapsuleEntry{
		"ingest": {Path: path, Image: "ingest:latest"},
	})

	hostFile := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(hostFile, []byte("blob"), 0o644))

	var observedFilePath string
	h.driver.SetBehavior("ingest:latest", func(hostIO string) container.BehaviorResult {
		raw, err := os.ReadFile(filepath.Join(hostIO, "input.json"))
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		observedFilePath, _ = decoded["file"].(string)

		if _, err := os.Stat(filepath.Join(hostIO, "input", "payload.bin")); err != nil {
			return container.BehaviorResult{ExitCode: 1, Logs: "staged file missing"}
		}
		require.NoError(t, os.WriteFile(filepath.Join(hostIO, "output.json"), []byte(`{}`), 0o644))
		return container.BehaviorResult{ExitCode: 0}
	})

	result := h.exec.Execute(context.Background(), Params{
		Capsule: "ingest",
		Input:   map[string]any{"file": hostFile},
	})

	require.True(t, result.Success)
	assert.Equal(t, "/io/input/payload.bin", observedFilePath)
}
