package filepool

import (
	"context"
	"io/fs"
	"sync"
	"testing"
	"time"
)

type fakeFileInfo struct {
	mtime time.Time
}

func (f fakeFileInfo) Name() string       { return "file" }
func (f fakeFileInfo) Size() int64        { return 0 }
func (f fakeFileInfo) Mode() fs.FileMode  { return 0 }
func (f fakeFileInfo) ModTime() time.Time { return f.mtime }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() any           { return nil }

type fakeSandbox struct {
	mu          sync.Mutex
	mtimes      map[string]time.Time
	supportsWatch bool
	watchers    map[string]func(time.Time)
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{
		mtimes:   make(map[string]time.Time),
		watchers: make(map[string]func(time.Time)),
	}
}

func (f *fakeSandbox) Canonicalize(ctx context.Context, path string) (string, error) {
	return "/sandbox" + path, nil
}

func (f *fakeSandbox) Stat(ctx context.Context, canonicalPath string) (fs.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeFileInfo{mtime: f.mtimes[canonicalPath]}, nil
}

func (f *fakeSandbox) SupportsWatch() bool { return f.supportsWatch }

func (f *fakeSandbox) Watch(ctx context.Context, canonicalPath string, onChange func(mtime time.Time)) (func(), error) {
	f.mu.Lock()
	f.watchers[canonicalPath] = onChange
	f.mu.Unlock()
	return func() {}, nil
}

func (f *fakeSandbox) setMtime(canonicalPath string, t time.Time) {
	f.mu.Lock()
	f.mtimes[canonicalPath] = t
	f.mu.Unlock()
}

func (f *fakeSandbox) triggerChange(canonicalPath string, t time.Time) {
	f.mu.Lock()
	cb := f.watchers[canonicalPath]
	f.mu.Unlock()
	if cb != nil {
		cb(t)
	}
}

func TestRecordRead_ThenValidateWriteIsFresh(t *testing.T) {
	sb := newFakeSandbox()
	mtime := time.Now()
	sb.setMtime("/sandbox/a.txt", mtime)

	p := New("agt:1", sb)
	if err := p.RecordRead(context.Background(), "/a.txt"); err != nil {
		t.Fatalf("RecordRead: %v", err)
	}

	fresh, err := p.ValidateWrite(context.Background(), "/a.txt")
	if err != nil {
		t.Fatalf("ValidateWrite: %v", err)
	}
	if !fresh.IsFresh {
		t.Fatalf("expected file fresh after read with no subsequent change")
	}
}

func TestValidateWrite_StaleAfterUnreadChange(t *testing.T) {
	sb := newFakeSandbox()
	mtime := time.Now()
	sb.setMtime("/sandbox/a.txt", mtime)

	p := New("agt:1", sb)
	if err := p.RecordRead(context.Background(), "/a.txt"); err != nil {
		t.Fatalf("RecordRead: %v", err)
	}

	// Simulate an external change the pool hasn't been told about: bump
	// the sandbox's mtime but don't notify via onChange.
	sb.setMtime("/sandbox/a.txt", mtime.Add(time.Minute))

	p.mu.Lock()
	p.entries["/sandbox/a.txt"].LastKnownMtime = mtime.Add(time.Minute)
	p.mu.Unlock()

	fresh, err := p.ValidateWrite(context.Background(), "/a.txt")
	if err != nil {
		t.Fatalf("ValidateWrite: %v", err)
	}
	if fresh.IsFresh {
		t.Fatalf("expected file stale after mtime changed since read")
	}
}

func TestValidateWrite_NeverReadIsNotFresh(t *testing.T) {
	sb := newFakeSandbox()
	p := New("agt:1", sb)
	fresh, err := p.ValidateWrite(context.Background(), "/never-touched.txt")
	if err != nil {
		t.Fatalf("ValidateWrite: %v", err)
	}
	if fresh.IsFresh {
		t.Fatalf("expected unread file to be not-fresh")
	}
}

func TestRecordRead_RegistersWatcherWhenEnabled(t *testing.T) {
	sb := newFakeSandbox()
	sb.supportsWatch = true

	var gotPath string
	var gotMtime time.Time
	done := make(chan struct{})
	p := New("agt:1", sb, WithWatch(true), WithOnChange(func(path string, mtime time.Time) {
		gotPath, gotMtime = path, mtime
		close(done)
	}))

	if err := p.RecordRead(context.Background(), "/a.txt"); err != nil {
		t.Fatalf("RecordRead: %v", err)
	}

	changeTime := time.Now().Add(time.Hour)
	sb.triggerChange("/sandbox/a.txt", changeTime)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onChange never called")
	}
	if gotPath != "/sandbox/a.txt" {
		t.Fatalf("onChange path = %q, want /sandbox/a.txt", gotPath)
	}
	if !gotMtime.Equal(changeTime) {
		t.Fatalf("onChange mtime = %v, want %v", gotMtime, changeTime)
	}
}

func TestRecentlyAccessed_ReturnsMostRecentFirstCappedAtLimit(t *testing.T) {
	sb := newFakeSandbox()
	p := New("agt:1", sb)
	for _, path := range []string{"/a.txt", "/b.txt", "/c.txt"} {
		p.RecordAccessContent(path, []byte("data"), "text/plain")
	}

	got := p.RecentlyAccessed(2)
	if len(got) != 2 {
		t.Fatalf("expected 2 recovered files, got %d", len(got))
	}
	if got[0].Path != "/c.txt" || got[1].Path != "/b.txt" {
		t.Fatalf("expected most-recent-first order, got %q then %q", got[0].Path, got[1].Path)
	}
}
