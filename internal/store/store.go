// Package store defines the durable backend contract shared by every
// persisted artefact the runtime owns: messages, tool call records,
// events, snapshots, todos, history windows and agent meta.
//
// Two realizations ship in this module: a file-backed store with a
// write-ahead log (see filestore.go) used as the reference
// implementation, and an in-memory store (see memstore.go) used by
// tests and ephemeral agents. internal/store/sqlstore provides the
// optional SQL-backed variant described in spec §4.9.
package store

import (
	"context"
	"errors"

	"github.com/relaykit/conductor/pkg/models"
)

// ErrNotFound is returned when a load/get method finds no record for
// the given agent id or artefact id.
var ErrNotFound = errors.New("store: not found")

// Store is the durable backend every agent persists through. All
// methods are self-contained: there is no implicit cross-call
// transaction beyond what an implementation's own atomicity documents.
type Store interface {
	SaveMessages(ctx context.Context, agentID string, messages []*models.Message) error
	LoadMessages(ctx context.Context, agentID string) ([]*models.Message, error)

	SaveToolCallRecords(ctx context.Context, agentID string, records []*models.ToolCallRecord) error
	LoadToolCallRecords(ctx context.Context, agentID string) ([]*models.ToolCallRecord, error)

	SaveTodos(ctx context.Context, agentID string, todos []models.TodoItem) error
	LoadTodos(ctx context.Context, agentID string) ([]models.TodoItem, error)

	AppendEvent(ctx context.Context, agentID string, env models.Envelope) error
	// ReadEvents returns every envelope with Bookmark.Seq > since.Seq
	// (since.Seq == 0 reads from the beginning), optionally restricted
	// to one channel. channel == "" reads all channels.
	ReadEvents(ctx context.Context, agentID string, since models.Bookmark, channel models.Channel) ([]models.Envelope, error)

	SaveSnapshot(ctx context.Context, agentID string, snap *models.Snapshot) error
	LoadSnapshot(ctx context.Context, agentID string, snapshotID string) (*models.Snapshot, error)
	ListSnapshots(ctx context.Context, agentID string) ([]string, error)

	SaveInfo(ctx context.Context, agentID string, info *models.AgentMetadata) error
	LoadInfo(ctx context.Context, agentID string) (*models.AgentMetadata, error)

	Exists(ctx context.Context, agentID string) (bool, error)
	Delete(ctx context.Context, agentID string) error
	List(ctx context.Context, prefix string) ([]string, error)

	SaveHistoryWindow(ctx context.Context, agentID string, w *models.HistoryWindow) error
	LoadHistoryWindows(ctx context.Context, agentID string) ([]*models.HistoryWindow, error)

	SaveCompressionRecord(ctx context.Context, agentID string, r *models.CompressionRecord) error
	LoadCompressionRecords(ctx context.Context, agentID string) ([]*models.CompressionRecord, error)

	SaveRecoveredFile(ctx context.Context, agentID string, f *models.RecoveredFile) error
	LoadRecoveredFiles(ctx context.Context, agentID string) ([]*models.RecoveredFile, error)

	SaveMediaCache(ctx context.Context, agentID string, key string, data []byte) error
	LoadMediaCache(ctx context.Context, agentID string, key string) ([]byte, error)
}
