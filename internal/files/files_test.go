package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlexNetOS/capsule-orchestrator/internal/volume"
)

func testSetup(t *testing.T) (*Manager, *volume.Manager, string) {
	t.Helper()
	base := t.TempDir()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	vm := volume.New(base, log)
	return New(vm), vm, base
}

func TestStageInputCopiesFile(t *testing.T) {
	fm, vm, base := testSetup(t)
	_, err := vm.Create("s1")
	require.NoError(t, err)

	src := filepath.Join(base, "source.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	dst, err := fm.StageInput(src, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "source.txt", filepath.Base(dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestWriteAndReadInputJSONRoundTrips(t *testing.T) {
	fm, vm, _ := testSetup(t)
	_, err := vm.Create("s1")
	require.NoError(t, err)

	payload := map[string]any{"x": float64(1)}
	require.NoError(t, fm.WriteInputJSON("s1", payload))

	tree := vm.Tree("s1")
	raw, err := os.ReadFile(tree.InputJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(raw))

	_, staleTmp := os.Stat(tree.InputJSON + ".tmp")
	assert.True(t, os.IsNotExist(staleTmp))
}

func TestReadOutputJSONMissingFileReportsNotOK(t *testing.T) {
	fm, vm, _ := testSetup(t)
	_, err := vm.Create("s1")
	require.NoError(t, err)

	payload, ok, err := fm.ReadOutputJSON("s1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, payload)
}

func TestReadOutputJSONDecodesExistingFile(t *testing.T) {
	fm, vm, _ := testSetup(t)
	_, err := vm.Create("s1")
	require.NoError(t, err)

	tree := vm.Tree("s1")
	require.NoError(t, os.WriteFile(tree.OutputJSON, []byte(`{"sum":6}`), 0o644))

	payload, ok, err := fm.ReadOutputJSON("s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(6), payload["sum"])
}

func TestListOutputFilesListsOnlyFiles(t *testing.T) {
	fm, vm, _ := testSetup(t)
	_, err := vm.Create("s1")
	require.NoError(t, err)

	tree := vm.Tree("s1")
	require.NoError(t, os.WriteFile(filepath.Join(tree.Output, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(tree.Output, "subdir"), 0o755))

	names, err := fm.ListOutputFiles("s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names)
}

func TestHandoffFileCopyRoundTrip(t *testing.T) {
	fm, vm, _ := testSetup(t)
	_, err := vm.Create("caller")
	require.NoError(t, err)
	_, err = vm.Create("callee")
	require.NoError(t, err)

	callerTree := vm.Tree("caller")
	require.NoError(t, os.WriteFile(filepath.Join(callerTree.HandoffOutgoing, "blob.bin"), []byte("payload"), 0o644))

	assert.True(t, fm.ExistsInOutgoing("caller", "blob.bin"))
	assert.False(t, fm.ExistsInOutgoing("caller", "missing.bin"))

	require.NoError(t, fm.CopyOutgoingToInput("caller", "callee", "blob.bin"))
	calleeTree := vm.Tree("callee")
	content, err := os.ReadFile(filepath.Join(calleeTree.Input, "blob.bin"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	require.NoError(t, os.WriteFile(filepath.Join(calleeTree.Output, "result.bin"), []byte("done"), 0o644))
	require.NoError(t, fm.CopyOutputToIncoming("callee", "caller", "result.bin"))

	content, err = os.ReadFile(filepath.Join(callerTree.HandoffIncoming, "result.bin"))
	require.NoError(t, err)
	assert.Equal(t, "done", string(content))
}

func TestResolveHostPath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "present.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.True(t, ResolveHostPath(file))
	assert.False(t, ResolveHostPath(filepath.Join(dir, "absent.txt")))
	assert.False(t, ResolveHostPath(dir))
	assert.False(t, ResolveHostPath(""))
}
