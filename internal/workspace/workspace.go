// Package workspace manages per-job scratch directories: materialized source
// files, the generated toolchain config, and the artifacts subtree produced
// by a successful run.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zksmith/contract-worker/pkg/pathx"
)

// ArtifactsDirName is the subtree the toolchain writes compiler outputs to.
const ArtifactsDirName = "artifacts"

// Manager creates job workspaces under one root directory.
type Manager struct {
	root string
}

// NewManager builds a manager rooted at root, creating it if absent.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("op=workspace.NewManager: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("op=workspace.NewManager: %w", err)
	}
	return &Manager{root: root}, nil
}

// Workspace is one job's directory tree.
type Workspace struct {
	// Dir is the workspace root, named after the job id.
	Dir string
	// ArtifactsDir is Dir/artifacts, pre-created so the toolchain can write
	// into it unconditionally.
	ArtifactsDir string
}

// Create builds <root>/<id>/ and its artifacts subtree.
func (m *Manager) Create(id string) (*Workspace, error) {
	dir, err := pathx.SafeJoin(m.root, id)
	if err != nil {
		return nil, fmt.Errorf("op=workspace.Create: id %q: %w", id, err)
	}
	artifacts := filepath.Join(dir, ArtifactsDirName)
	if err := os.MkdirAll(artifacts, 0o755); err != nil {
		return nil, fmt.Errorf("op=workspace.Create: %w", err)
	}
	return &Workspace{Dir: dir, ArtifactsDir: artifacts}, nil
}

// WriteFile materializes one file at its relative path inside the workspace.
// Absolute paths and traversal outside the workspace are rejected.
func (w *Workspace) WriteFile(relPath string, data []byte) error {
	dst, err := pathx.SafeJoin(w.Dir, relPath)
	if err != nil {
		return fmt.Errorf("op=workspace.WriteFile: path %q: %w", relPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("op=workspace.WriteFile: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("op=workspace.WriteFile: %w", err)
	}
	return nil
}

// Guard owns workspace directories and removes them on Cleanup. It backs both
// the error path (deferred) and the success path (detached after artifact
// upload), so Cleanup is idempotent and safe to call from either.
type Guard struct {
	mu   sync.Mutex
	dirs []string
	done bool
}

// NewGuard returns an empty guard.
func NewGuard() *Guard { return &Guard{} }

// Add registers a directory for removal. A no-op after Cleanup ran.
func (g *Guard) Add(dir string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		// Late registration after cleanup: remove immediately so nothing leaks.
		_ = os.RemoveAll(dir)
		return
	}
	g.dirs = append(g.dirs, dir)
}

// Cleanup removes every registered directory recursively. Idempotent; the
// first error is returned but removal continues past failures.
func (g *Guard) Cleanup() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return nil
	}
	g.done = true
	var first error
	for _, dir := range g.dirs {
		if err := os.RemoveAll(dir); err != nil && first == nil {
			first = fmt.Errorf("op=workspace.Cleanup: %w", err)
		}
	}
	g.dirs = nil
	return first
}
