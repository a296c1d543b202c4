// Package filepool implements the FilePool: per-agent tracking of
// sandboxed file read/edit freshness, with optional watcher-backed
// external-change notification.
//
// Grounded on the teacher's internal/templates.Registry watch loop
// (fsnotify.Watcher, per-path add/remove bookkeeping under a mutex,
// debounced refresh goroutine) generalized here from a template
// discovery refresh into per-path freshness tracking and a
// per-file onChange callback, using github.com/fsnotify/fsnotify as the
// teacher does.
package filepool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaykit/conductor/internal/sandbox"
	"github.com/relaykit/conductor/pkg/models"
)

// Entry is the freshness state tracked for one canonical path.
type Entry struct {
	LastRead       time.Time
	LastEdit       time.Time
	LastReadMtime  time.Time
	LastKnownMtime time.Time
}

// Freshness is the result of ValidateWrite.
type Freshness struct {
	IsFresh     bool
	LastRead    time.Time
	LastEdit    time.Time
	CurrentMtime time.Time
}

// OnChange is invoked when a watched file changes on disk outside of
// recordRead/recordEdit. mtime is the file's new modification time.
type OnChange func(path string, mtime time.Time)

// AccessRecord pairs a canonical path with the bytes read at access time,
// used to answer RecentlyAccessed for context-compression snapshots.
type AccessRecord struct {
	Path     string
	Content  []byte
	MimeType string
	At       time.Time
}

// Pool tracks read/edit freshness for one agent's sandboxed files and
// optionally watches them for external changes.
type Pool struct {
	agentID string
	sandbox sandbox.Sandbox
	logger  *slog.Logger
	watch   bool
	onChange OnChange

	mu      sync.Mutex
	entries map[string]*Entry
	watched map[string]func()
	pending map[string]struct{} // paths with a watch registration in flight

	accessMu sync.Mutex
	access   []AccessRecord
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger overrides the default discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithWatch enables fsnotify-backed watcher registration on first touch,
// when the sandbox supports it.
func WithWatch(enabled bool) Option {
	return func(p *Pool) { p.watch = enabled }
}

// WithOnChange sets the callback invoked when a watched file changes
// externally. The agent wires this to emit a file_changed monitor event
// and send a re-read reminder.
func WithOnChange(fn OnChange) Option {
	return func(p *Pool) { p.onChange = fn }
}

// New creates a Pool for agentID backed by sb.
func New(agentID string, sb sandbox.Sandbox, opts ...Option) *Pool {
	p := &Pool{
		agentID:  agentID,
		sandbox:  sb,
		logger:   slog.Default(),
		entries:  make(map[string]*Entry),
		watched:  make(map[string]func()),
		pending:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RecordRead canonicalizes path, records the read timestamp and the
// file's mtime at read time, and ensures a watcher is registered.
func (p *Pool) RecordRead(ctx context.Context, path string) error {
	canon, mtime, err := p.touch(ctx, path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	e := p.entry(canon)
	now := time.Now()
	e.LastRead = now
	e.LastReadMtime = mtime
	e.LastKnownMtime = mtime
	p.mu.Unlock()

	p.ensureWatcher(ctx, canon)
	return nil
}

// RecordEdit canonicalizes path and records the edit timestamp.
func (p *Pool) RecordEdit(ctx context.Context, path string) error {
	canon, mtime, err := p.touch(ctx, path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	e := p.entry(canon)
	now := time.Now()
	e.LastEdit = now
	e.LastKnownMtime = mtime
	p.mu.Unlock()

	p.ensureWatcher(ctx, canon)
	return nil
}

// RecordAccessContent stores the bytes read at path for later recovery
// via RecentlyAccessed. Call alongside RecordRead when the caller has
// the file's content in hand (e.g. after a successful fs_read).
func (p *Pool) RecordAccessContent(path string, content []byte, mimeType string) {
	p.accessMu.Lock()
	defer p.accessMu.Unlock()
	p.access = append(p.access, AccessRecord{Path: path, Content: content, MimeType: mimeType, At: time.Now()})
}

// RecentlyAccessed returns up to limit most-recently-accessed files as
// RecoveredFile snapshots, most recent first.
func (p *Pool) RecentlyAccessed(limit int) []*models.RecoveredFile {
	p.accessMu.Lock()
	defer p.accessMu.Unlock()

	n := len(p.access)
	if limit > n {
		limit = n
	}
	out := make([]*models.RecoveredFile, 0, limit)
	for i := 0; i < limit; i++ {
		rec := p.access[n-1-i]
		out = append(out, &models.RecoveredFile{
			ID:        "recovered_" + rec.Path,
			Path:      rec.Path,
			Content:   rec.Content,
			MimeType:  rec.MimeType,
			Timestamp: rec.At,
		})
	}
	return out
}

// ValidateWrite reports whether canonicalPath is fresh: the file was
// read, and its mtime has not changed since that read.
func (p *Pool) ValidateWrite(ctx context.Context, path string) (Freshness, error) {
	canon, err := p.sandbox.Canonicalize(ctx, path)
	if err != nil {
		return Freshness{}, err
	}
	info, err := p.sandbox.Stat(ctx, canon)
	var current time.Time
	if err == nil {
		current = info.ModTime()
	}

	p.mu.Lock()
	e, ok := p.entries[canon]
	p.mu.Unlock()
	if !ok {
		return Freshness{IsFresh: false, CurrentMtime: current}, nil
	}

	fresh := !e.LastRead.IsZero() && e.LastReadMtime.Equal(e.LastKnownMtime)
	return Freshness{
		IsFresh:      fresh,
		LastRead:     e.LastRead,
		LastEdit:     e.LastEdit,
		CurrentMtime: current,
	}, nil
}

// Close tears down all active watchers.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, cancel := range p.watched {
		cancel()
		delete(p.watched, path)
	}
}

func (p *Pool) entry(canon string) *Entry {
	e, ok := p.entries[canon]
	if !ok {
		e = &Entry{}
		p.entries[canon] = e
	}
	return e
}

// touch canonicalizes path and stats its current mtime.
func (p *Pool) touch(ctx context.Context, path string) (canon string, mtime time.Time, err error) {
	canon, err = p.sandbox.Canonicalize(ctx, path)
	if err != nil {
		return "", time.Time{}, err
	}
	info, err := p.sandbox.Stat(ctx, canon)
	if err != nil {
		return canon, time.Time{}, nil
	}
	return canon, info.ModTime(), nil
}

// ensureWatcher registers a watcher for canon on first touch. Creation
// is serialized per path under p.mu so concurrent first-touches cannot
// double-watch.
func (p *Pool) ensureWatcher(ctx context.Context, canon string) {
	if !p.watch || !p.sandbox.SupportsWatch() {
		return
	}

	p.mu.Lock()
	if _, exists := p.watched[canon]; exists {
		p.mu.Unlock()
		return
	}
	if _, inFlight := p.pending[canon]; inFlight {
		p.mu.Unlock()
		return
	}
	p.pending[canon] = struct{}{}
	p.mu.Unlock()

	cancel, err := p.sandbox.Watch(ctx, canon, func(mtime time.Time) {
		p.mu.Lock()
		e := p.entry(canon)
		e.LastKnownMtime = mtime
		p.mu.Unlock()
		if p.onChange != nil {
			p.onChange(canon, mtime)
		}
	})

	p.mu.Lock()
	delete(p.pending, canon)
	if err != nil {
		p.logger.Warn("filepool: watch registration failed", "agent_id", p.agentID, "path", canon, "error", err)
	} else {
		p.watched[canon] = cancel
	}
	p.mu.Unlock()
}
