package sandbox

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LocalSandbox backs Sandbox with the host filesystem, rooted at Root.
// Paths are resolved relative to Root and rejected if they escape it
// (spec'd as the default single-host deployment; firecracker/daytona-style
// isolated executors are a separate Sandbox implementation this package
// does not provide).
type LocalSandbox struct {
	root string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	// callbacks maps a canonical path to the onChange funcs registered for it.
	callbacks map[string][]func(mtime time.Time)
}

// NewLocalSandbox creates a LocalSandbox rooted at root. root must exist
// and be a directory.
func NewLocalSandbox(root string) (*LocalSandbox, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("sandbox: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox: root %s is not a directory", absRoot)
	}
	return &LocalSandbox{
		root:      absRoot,
		callbacks: make(map[string][]func(mtime time.Time)),
	}, nil
}

// Canonicalize resolves path against the sandbox root, following
// symlinks, and rejects any result that escapes the root.
func (s *LocalSandbox) Canonicalize(ctx context.Context, path string) (string, error) {
	joined := path
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(s.root, joined)
	}
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			resolved = filepath.Clean(joined)
		} else {
			return "", fmt.Errorf("sandbox: resolve %s: %w", path, err)
		}
	}
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("sandbox: path %s escapes sandbox root", path)
	}
	return resolved, nil
}

// Stat reports the current metadata for a canonical path.
func (s *LocalSandbox) Stat(ctx context.Context, canonicalPath string) (fs.FileInfo, error) {
	return os.Stat(canonicalPath)
}

// SupportsWatch is always true for LocalSandbox.
func (s *LocalSandbox) SupportsWatch() bool { return true }

// Watch registers a single-path fsnotify watch, lazily creating the
// shared watcher on first use.
func (s *LocalSandbox) Watch(ctx context.Context, canonicalPath string, onChange func(mtime time.Time)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("sandbox: create watcher: %w", err)
		}
		s.watcher = w
		go s.dispatchLoop(w)
	}

	if len(s.callbacks[canonicalPath]) == 0 {
		if err := s.watcher.Add(canonicalPath); err != nil {
			return nil, fmt.Errorf("sandbox: watch %s: %w", canonicalPath, err)
		}
	}
	s.callbacks[canonicalPath] = append(s.callbacks[canonicalPath], onChange)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		cbs := s.callbacks[canonicalPath]
		for i, cb := range cbs {
			if fmt.Sprintf("%p", cb) == fmt.Sprintf("%p", onChange) {
				cbs = append(cbs[:i], cbs[i+1:]...)
				break
			}
		}
		if len(cbs) == 0 {
			delete(s.callbacks, canonicalPath)
			_ = s.watcher.Remove(canonicalPath)
		} else {
			s.callbacks[canonicalPath] = cbs
		}
	}
	return cancel, nil
}

func (s *LocalSandbox) dispatchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				continue
			}
			s.mu.Lock()
			cbs := append([]func(time.Time){}, s.callbacks[event.Name]...)
			s.mu.Unlock()
			for _, cb := range cbs {
				cb(info.ModTime())
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close releases the underlying fsnotify watcher, if one was created.
func (s *LocalSandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}
