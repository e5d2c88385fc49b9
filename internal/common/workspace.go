package common

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Workspace is a scoped working directory. The creator owns it and must call
// Close, which removes the directory and everything written under it.
type Workspace struct {
	root string
	once sync.Once
	err  error
}

// NewWorkspace creates a fresh directory below parent (os.TempDir when empty).
func NewWorkspace(parent, prefix string) (*Workspace, error) {
	if strings.TrimSpace(parent) == "" {
		parent = os.TempDir()
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "certgate-"
	}
	root, err := os.MkdirTemp(parent, prefix)
	if err != nil {
		return nil, err
	}
	return &Workspace{root: root}, nil
}

func (w *Workspace) Root() string {
	if w == nil {
		return ""
	}
	return w.root
}

// Dir returns a subdirectory of the workspace, creating it when needed.
func (w *Workspace) Dir(name string) (string, error) {
	if w == nil || w.root == "" {
		return "", errors.New("workspace is closed")
	}
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.New("workspace subdirectory escapes root")
	}
	dir := filepath.Join(w.root, clean)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Close removes the workspace. It is safe to call more than once.
func (w *Workspace) Close() error {
	if w == nil {
		return nil
	}
	w.once.Do(func() {
		if w.root != "" {
			w.err = os.RemoveAll(w.root)
		}
	})
	return w.err
}
