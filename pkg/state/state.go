// Package state owns the on-disk runtime layout under the DB path.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds the resolved runtime directories.
type Paths struct {
	State string
	Crash string
	Abort string
	Tmp   string
}

// PathsVar is set by EnsureStateDirs and read by crash/abort handling.
var PathsVar Paths

// EnsureStateDirs ensures the canonical runtime folder layout exists
// under the provided DB path. It rejects symlinks and permissive modes,
// and verifies the directories are writable by the process.
func EnsureStateDirs(dbPath string) error {
	statePath := filepath.Join(dbPath, "state")
	p := Paths{
		State: statePath,
		Crash: filepath.Join(statePath, "crash"),
		Abort: filepath.Join(statePath, "abort"),
		Tmp:   filepath.Join(statePath, "tmp"),
	}

	for _, dir := range []string{p.State, p.Crash, p.Abort, p.Tmp} {
		if fi, err := os.Lstat(dir); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", dir)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", dir)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode (group/other write): %s", dir)
			}
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", dir, err)
		}
		// writability check: create and remove a temp file
		tmp, err := os.CreateTemp(dir, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", dir, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	PathsVar = p
	return nil
}
