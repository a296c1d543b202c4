package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaykit/conductor/pkg/models"
)

func TestFileStore_MessagesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	msgs := []*models.Message{
		{ID: "m1", Role: models.RoleUser, Content: []models.ContentBlock{{Type: models.BlockText, Text: "hi"}}},
	}
	if err := fs.SaveMessages(ctx, "agt:1", msgs); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}
	got, err := fs.LoadMessages(ctx, "agt:1")
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestFileStore_PersistMessagesNoopWhenUnchanged(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFileStore(dir)
	ctx := context.Background()
	msgs := []*models.Message{{ID: "m1", Role: models.RoleUser}}
	if err := fs.SaveMessages(ctx, "agt:1", msgs); err != nil {
		t.Fatalf("save: %v", err)
	}
	path := filepath.Join(dir, "agt:1", "runtime", "messages.json")
	info1, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := fs.SaveMessages(ctx, "agt:1", msgs); err != nil {
		t.Fatalf("save again: %v", err)
	}
	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat again: %v", err)
	}
	if info1.ModTime() != info2.ModTime() {
		t.Fatalf("expected no-op write when messages are byte-identical")
	}
}

func TestFileStore_EventsOrderedAndFilteredBySince(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFileStore(dir)
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		env := models.Envelope{
			Cursor:   i,
			Bookmark: models.Bookmark{Seq: i, Timestamp: time.Now()},
			Event:    models.Event{Channel: models.ChannelProgress, Kind: models.EventTextChunk},
		}
		if err := fs.AppendEvent(ctx, "agt:1", env); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	got, err := fs.ReadEvents(ctx, "agt:1", models.Bookmark{Seq: 2}, models.ChannelProgress)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events after seq 2, got %d", len(got))
	}
	for i, e := range got {
		want := uint64(3 + i)
		if e.Bookmark.Seq != want {
			t.Fatalf("events out of order: got seq %d at index %d, want %d", e.Bookmark.Seq, i, want)
		}
	}
}

// TestFileStore_WALRecovery simulates a crash: a WAL file is left on
// disk with no canonical file ever written, and the next store open
// must replay it (spec §8 "WAL recovery").
func TestFileStore_WALRecovery(t *testing.T) {
	dir := t.TempDir()
	agentDir := filepath.Join(dir, "agt:crash", "runtime")
	if err := os.MkdirAll(agentDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	msgs := []*models.Message{{ID: "recovered", Role: models.RoleUser}}
	payload, _ := json.Marshal(msgs)
	if err := os.WriteFile(filepath.Join(agentDir, "messages.json.wal"), payload, 0o644); err != nil {
		t.Fatalf("write wal: %v", err)
	}

	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	got, err := fs.LoadMessages(context.Background(), "agt:crash")
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(got) != 1 || got[0].ID != "recovered" {
		t.Fatalf("WAL was not replayed: %+v", got)
	}
	if _, err := os.Stat(filepath.Join(agentDir, "messages.json.wal")); !os.IsNotExist(err) {
		t.Fatalf("expected WAL file to be consumed after recovery")
	}
}

func TestFileStore_CorruptedWALIsRenamed(t *testing.T) {
	dir := t.TempDir()
	agentDir := filepath.Join(dir, "agt:bad", "runtime")
	if err := os.MkdirAll(agentDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(agentDir, "messages.json.wal"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write wal: %v", err)
	}
	if _, err := NewFileStore(dir); err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := os.Stat(filepath.Join(agentDir, "messages.json.wal.corrupted")); err != nil {
		t.Fatalf("expected corrupted wal to be renamed: %v", err)
	}
}

func TestFileStore_SnapshotImmutableAfterSave(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFileStore(dir)
	ctx := context.Background()
	snap := &models.Snapshot{ID: "sfp:0", Messages: []*models.Message{{ID: "m1"}}}
	if err := fs.SaveSnapshot(ctx, "agt:1", snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	snap.Messages[0].ID = "mutated"

	got, err := fs.LoadSnapshot(ctx, "agt:1", "sfp:0")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.Messages[0].ID != "m1" {
		t.Fatalf("snapshot was mutated after save: %+v", got.Messages[0])
	}
}

func TestFileStore_DeleteRemovesAllArtefacts(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFileStore(dir)
	ctx := context.Background()
	_ = fs.SaveInfo(ctx, "agt:1", &models.AgentMetadata{AgentID: "agt:1"})
	_ = fs.SaveMessages(ctx, "agt:1", []*models.Message{{ID: "m1"}})

	if err := fs.Delete(ctx, "agt:1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	exists, err := fs.Exists(ctx, "agt:1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatalf("expected agent to no longer exist after delete")
	}
}
