package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalSandboxCanonicalizeRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	sb, err := NewLocalSandbox(dir)
	if err != nil {
		t.Fatalf("NewLocalSandbox: %v", err)
	}
	if _, err := sb.Canonicalize(context.Background(), "../../etc/passwd"); err == nil {
		t.Fatal("expected escape to be rejected")
	}
}

func TestLocalSandboxCanonicalizeAndStat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	sb, err := NewLocalSandbox(dir)
	if err != nil {
		t.Fatalf("NewLocalSandbox: %v", err)
	}
	canon, err := sb.Canonicalize(context.Background(), "file.txt")
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	info, err := sb.Stat(context.Background(), canon)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 5 {
		t.Fatalf("expected size 5, got %d", info.Size())
	}
}

func TestLocalSandboxWatchFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.txt")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	sb, err := NewLocalSandbox(dir)
	if err != nil {
		t.Fatalf("NewLocalSandbox: %v", err)
	}
	defer sb.Close()

	if !sb.SupportsWatch() {
		t.Fatal("expected SupportsWatch to be true")
	}

	canon, err := sb.Canonicalize(context.Background(), "watched.txt")
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	changed := make(chan time.Time, 1)
	cancel, err := sb.Watch(context.Background(), canon, func(mtime time.Time) {
		changed <- mtime
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer cancel()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch callback")
	}
}
