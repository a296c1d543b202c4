// Package sandbox defines the abstract contract a sandboxed execution
// environment must satisfy to back FilePool and the fs_* tool family.
// Concrete sandboxes (local filesystem jail, firecracker microVM, remote
// workspace) are external collaborators; this package only fixes the
// interface FilePool and the agent loop depend on.
package sandbox

import (
	"context"
	"io/fs"
	"time"
)

// Sandbox abstracts a file-backed execution environment: it canonicalizes
// paths into a stable form and reports file metadata, without exposing
// how the underlying environment is implemented.
type Sandbox interface {
	// Canonicalize resolves path into the sandbox's canonical form (e.g.
	// symlink-resolved, rooted at the sandbox's working directory). Two
	// different input paths that name the same file must canonicalize to
	// the same string.
	Canonicalize(ctx context.Context, path string) (string, error)

	// Stat reports the current metadata for a canonical path.
	Stat(ctx context.Context, canonicalPath string) (fs.FileInfo, error)

	// SupportsWatch reports whether Watch is implemented for this
	// sandbox. FilePool skips watcher registration when false.
	SupportsWatch() bool

	// Watch registers a callback invoked whenever canonicalPath changes
	// on disk. The returned cancel func stops the watch. Only called
	// when SupportsWatch is true.
	Watch(ctx context.Context, canonicalPath string, onChange func(mtime time.Time)) (cancel func(), err error)
}
