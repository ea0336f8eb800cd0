package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Artifact is the destination file of one job. It is truncated when opened
// and only ever appended to; every Append is synced before it returns so a
// crash or interrupt leaves the file at the last completed turn.
type Artifact struct {
	mu   sync.Mutex
	path string
	f    *os.File
	size int64
}

// Create truncates or creates the artifact at path.
func Create(path string) (*Artifact, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return &Artifact{path: path, f: f}, nil
}

func (a *Artifact) Path() string {
	return a.path
}

// Size is the number of bytes appended so far.
func (a *Artifact) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

func (a *Artifact) Append(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.f == nil {
		return fmt.Errorf("write artifact: %s is closed", a.path)
	}
	n, err := a.f.WriteString(text)
	a.size += int64(n)
	if err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := a.f.Sync(); err != nil {
		return fmt.Errorf("write artifact: sync: %w", err)
	}
	return nil
}

func (a *Artifact) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f = nil
	return err
}
