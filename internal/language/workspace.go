package language

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Workspace is a per-job scratch directory, exclusively owned by one job.
type Workspace struct {
	ID  string
	Dir string // absolute
}

// DefaultRoot is used when no temp root is configured.
func DefaultRoot() string {
	return filepath.Join(os.TempDir(), "judge-engine")
}

// NewWorkspace creates a fresh uniquely-named directory below root.
func NewWorkspace(root string) (*Workspace, error) {
	if root == "" {
		root = DefaultRoot()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	id := uuid.NewString()
	dir := filepath.Join(abs, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{ID: id, Dir: dir}, nil
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Dir)
}
