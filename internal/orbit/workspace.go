package orbit

import "os"

// Workspace is the directory ephemeris files are downloaded into. When the
// caller does not name a directory, an ephemeral one is created and removed
// again on Close; a caller-specified directory is never deleted.
type Workspace struct {
	Dir       string
	ephemeral bool
}

// NewWorkspace returns a workspace rooted at auxPath. An empty auxPath
// creates a process-scoped temporary directory that Close will remove.
func NewWorkspace(auxPath string) (*Workspace, error) {
	if auxPath != "" {
		if err := os.MkdirAll(auxPath, 0o755); err != nil {
			return nil, err
		}
		return &Workspace{Dir: auxPath}, nil
	}

	dir, err := os.MkdirTemp("", "gnssvod-orbit-*")
	if err != nil {
		return nil, err
	}
	return &Workspace{Dir: dir, ephemeral: true}, nil
}

// Ephemeral reports whether Close will delete the directory.
func (w *Workspace) Ephemeral() bool { return w.ephemeral }

// Close removes the directory if, and only if, the workspace created it.
// Safe to call more than once.
func (w *Workspace) Close() error {
	if !w.ephemeral || w.Dir == "" {
		return nil
	}
	dir := w.Dir
	w.Dir = ""
	return os.RemoveAll(dir)
}
