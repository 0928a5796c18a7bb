package volume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	base := t.TempDir()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return New(base, log)
}

func TestCreateMintsSessionWhenEmpty(t *testing.T) {
	m := testManager(t)

	tree, err := m.Create("")
	require.NoError(t, err)
	assert.NotEmpty(t, tree.Session)
	assert.DirExists(t, tree.Input)
	assert.DirExists(t, tree.Output)
	assert.DirExists(t, tree.HandoffOutgoing)
	assert.DirExists(t, tree.HandoffIncoming)
}

func TestCreateHonorsSuppliedSession(t *testing.T) {
	m := testManager(t)

	tree, err := m.Create("fixed-session")
	require.NoError(t, err)
	assert.Equal(t, "fixed-session", tree.Session)
	assert.Equal(t, filepath.Join(m.Base, "fixed-session"), tree.Root)
}

func TestExistsReflectsCreateAndRemove(t *testing.T) {
	m := testManager(t)

	assert.False(t, m.Exists("s1"))
	_, err := m.Create("s1")
	require.NoError(t, err)
	assert.True(t, m.Exists("s1"))

	m.Remove("s1")
	assert.False(t, m.Exists("s1"))
}

func TestRemoveIsIdempotent(t *testing.T) {
	m := testManager(t)
	m.Remove("never-created")
}

func TestCleanupAllRemovesEverySession(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("a")
	require.NoError(t, err)
	_, err = m.Create("b")
	require.NoError(t, err)

	m.CleanupAll()

	assert.False(t, m.Exists("a"))
	assert.False(t, m.Exists("b"))
}
