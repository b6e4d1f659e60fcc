package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zksmith/contract-worker/pkg/pathx"
)

func TestManager_CreateBuildsTree(t *testing.T) {
	t.Parallel()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	ws, err := m.Create("11111111-1111-1111-1111-111111111111")
	require.NoError(t, err)
	assert.DirExists(t, ws.Dir)
	assert.DirExists(t, ws.ArtifactsDir)
	assert.Equal(t, filepath.Join(ws.Dir, ArtifactsDirName), ws.ArtifactsDir)
}

func TestManager_CreateRejectsTraversal(t *testing.T) {
	t.Parallel()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = m.Create("../escape")
	require.ErrorIs(t, err, pathx.ErrOutsideRoot)
}

func TestWorkspace_WriteFile(t *testing.T) {
	t.Parallel()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	ws, err := m.Create("job")
	require.NoError(t, err)

	require.NoError(t, ws.WriteFile("contracts/sub/A.sol", []byte("contract A {}")))
	data, err := os.ReadFile(filepath.Join(ws.Dir, "contracts", "sub", "A.sol"))
	require.NoError(t, err)
	assert.Equal(t, "contract A {}", string(data))

	err = ws.WriteFile("../../outside.sol", []byte("x"))
	require.ErrorIs(t, err, pathx.ErrOutsideRoot)

	// Absolute paths normalize into the workspace instead of escaping it.
	require.NoError(t, ws.WriteFile("/abs/B.sol", []byte("contract B {}")))
	assert.FileExists(t, filepath.Join(ws.Dir, "abs", "B.sol"))
}

func TestGuard_CleanupRemovesDirs(t *testing.T) {
	t.Parallel()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	ws, err := m.Create("job")
	require.NoError(t, err)
	require.NoError(t, ws.WriteFile("a.txt", []byte("x")))

	g := NewGuard()
	g.Add(ws.Dir)
	require.NoError(t, g.Cleanup())
	assert.NoDirExists(t, ws.Dir)

	// Idempotent: a second call is a no-op.
	require.NoError(t, g.Cleanup())
}

func TestGuard_LateAddStillCleans(t *testing.T) {
	t.Parallel()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	ws, err := m.Create("job")
	require.NoError(t, err)

	g := NewGuard()
	require.NoError(t, g.Cleanup())
	g.Add(ws.Dir)
	assert.NoDirExists(t, ws.Dir)
}
