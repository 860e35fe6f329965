package runner

import (
	"fmt"
	"os"
	"sync"
)

// ScopedDir is a temporary directory with a guaranteed release. Each
// Controller owns its own set so no filesystem state is shared across
// groups.
type ScopedDir struct {
	Path string

	releaseOnce sync.Once
	releaseErr  error
}

// NewScopedDir creates a fresh temporary directory under the system temp
// root using the given name pattern.
func NewScopedDir(pattern string) (*ScopedDir, error) {
	path, err := os.MkdirTemp("", pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create scoped dir: %w", err)
	}
	return &ScopedDir{Path: path}, nil
}

// Release removes the directory and everything beneath it. Safe to call
// multiple times; only the first call does work.
func (d *ScopedDir) Release() error {
	d.releaseOnce.Do(func() {
		d.releaseErr = os.RemoveAll(d.Path)
	})
	return d.releaseErr
}
