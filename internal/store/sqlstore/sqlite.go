package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "modernc.org/sqlite"

	"github.com/relaykit/conductor/internal/store"
	"github.com/relaykit/conductor/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conductor_documents (
	agent_id     TEXT NOT NULL,
	kind         TEXT NOT NULL,
	doc_id       TEXT NOT NULL DEFAULT '',
	payload      TEXT NOT NULL,
	bookmark_seq INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (agent_id, kind, doc_id)
);
CREATE INDEX IF NOT EXISTS conductor_documents_bookmark_idx
	ON conductor_documents (agent_id, kind, bookmark_seq);
`

// SQLiteStore is the embedded single-file Store variant for
// single-process deployments that want the SQL-backed artefact layout
// without a WAL directory tree, backed by modernc.org/sqlite (a pure-Go
// driver, avoiding cgo for the reference build).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite database file at
// path and ensures the document table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite serializes writers; avoid SQLITE_BUSY churn
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) putDoc(ctx context.Context, agentID, kind, docID string, bookmarkSeq uint64, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conductor_documents (agent_id, kind, doc_id, payload, bookmark_seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, kind, doc_id) DO UPDATE SET payload = excluded.payload`,
		agentID, kind, docID, string(payload), bookmarkSeq)
	return err
}

func (s *SQLiteStore) getDoc(ctx context.Context, agentID, kind, docID string, out any) (bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM conductor_documents WHERE agent_id=? AND kind=? AND doc_id=?`,
		agentID, kind, docID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(payload), out)
}

func (s *SQLiteStore) SaveMessages(ctx context.Context, agentID string, messages []*models.Message) error {
	return s.putDoc(ctx, agentID, "messages", "", 0, messages)
}

func (s *SQLiteStore) LoadMessages(ctx context.Context, agentID string) ([]*models.Message, error) {
	var out []*models.Message
	_, err := s.getDoc(ctx, agentID, "messages", "", &out)
	return out, err
}

func (s *SQLiteStore) SaveToolCallRecords(ctx context.Context, agentID string, records []*models.ToolCallRecord) error {
	return s.putDoc(ctx, agentID, "tool_records", "", 0, records)
}

func (s *SQLiteStore) LoadToolCallRecords(ctx context.Context, agentID string) ([]*models.ToolCallRecord, error) {
	var out []*models.ToolCallRecord
	_, err := s.getDoc(ctx, agentID, "tool_records", "", &out)
	return out, err
}

func (s *SQLiteStore) SaveTodos(ctx context.Context, agentID string, todos []models.TodoItem) error {
	return s.putDoc(ctx, agentID, "todos", "", 0, todos)
}

func (s *SQLiteStore) LoadTodos(ctx context.Context, agentID string) ([]models.TodoItem, error) {
	var out []models.TodoItem
	_, err := s.getDoc(ctx, agentID, "todos", "", &out)
	return out, err
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, agentID string, env models.Envelope) error {
	kind := "event_" + string(env.Event.Channel)
	return s.putDoc(ctx, agentID, kind, formatSeq(env.Bookmark.Seq), env.Bookmark.Seq, env)
}

func (s *SQLiteStore) ReadEvents(ctx context.Context, agentID string, since models.Bookmark, channel models.Channel) ([]models.Envelope, error) {
	channels := []models.Channel{models.ChannelProgress, models.ChannelControl, models.ChannelMonitor}
	if channel != "" {
		channels = []models.Channel{channel}
	}
	var out []models.Envelope
	for _, ch := range channels {
		kind := "event_" + string(ch)
		rows, err := s.db.QueryContext(ctx, `
			SELECT payload FROM conductor_documents
			WHERE agent_id=? AND kind=? AND bookmark_seq > ?
			ORDER BY bookmark_seq ASC`, agentID, kind, since.Seq)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				rows.Close()
				return nil, err
			}
			var env models.Envelope
			if err := json.Unmarshal([]byte(payload), &env); err == nil {
				out = append(out, env)
			}
		}
		rows.Close()
	}
	return out, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, agentID string, snap *models.Snapshot) error {
	return s.putDoc(ctx, agentID, "snapshot", snap.ID, 0, snap)
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context, agentID string, snapshotID string) (*models.Snapshot, error) {
	var out models.Snapshot
	ok, err := s.getDoc(ctx, agentID, "snapshot", snapshotID, &out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return &out, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc_id FROM conductor_documents WHERE agent_id=? AND kind='snapshot'`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *SQLiteStore) SaveInfo(ctx context.Context, agentID string, info *models.AgentMetadata) error {
	return s.putDoc(ctx, agentID, "meta", "", 0, info)
}

func (s *SQLiteStore) LoadInfo(ctx context.Context, agentID string) (*models.AgentMetadata, error) {
	var out models.AgentMetadata
	ok, err := s.getDoc(ctx, agentID, "meta", "", &out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return &out, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, agentID string) (bool, error) {
	var out models.AgentMetadata
	ok, err := s.getDoc(ctx, agentID, "meta", "", &out)
	return ok, err
}

func (s *SQLiteStore) Delete(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conductor_documents WHERE agent_id=?`, agentID)
	return err
}

func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT agent_id FROM conductor_documents WHERE agent_id LIKE ? ORDER BY agent_id`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *SQLiteStore) SaveHistoryWindow(ctx context.Context, agentID string, w *models.HistoryWindow) error {
	return s.putDoc(ctx, agentID, "history_window", w.ID, 0, w)
}

func (s *SQLiteStore) LoadHistoryWindows(ctx context.Context, agentID string) ([]*models.HistoryWindow, error) {
	return sqliteQueryDocs[models.HistoryWindow](ctx, s.db, agentID, "history_window")
}

func (s *SQLiteStore) SaveCompressionRecord(ctx context.Context, agentID string, r *models.CompressionRecord) error {
	if len(r.Summary) > 500 {
		r.Summary = r.Summary[:500]
	}
	return s.putDoc(ctx, agentID, "compression", r.ID, 0, r)
}

func (s *SQLiteStore) LoadCompressionRecords(ctx context.Context, agentID string) ([]*models.CompressionRecord, error) {
	return sqliteQueryDocs[models.CompressionRecord](ctx, s.db, agentID, "compression")
}

func (s *SQLiteStore) SaveRecoveredFile(ctx context.Context, agentID string, f *models.RecoveredFile) error {
	return s.putDoc(ctx, agentID, "recovered_file", f.ID, 0, f)
}

func (s *SQLiteStore) LoadRecoveredFiles(ctx context.Context, agentID string) ([]*models.RecoveredFile, error) {
	return sqliteQueryDocs[models.RecoveredFile](ctx, s.db, agentID, "recovered_file")
}

func (s *SQLiteStore) SaveMediaCache(ctx context.Context, agentID string, key string, data []byte) error {
	return s.putDoc(ctx, agentID, "media", key, 0, data)
}

func (s *SQLiteStore) LoadMediaCache(ctx context.Context, agentID string, key string) ([]byte, error) {
	var out []byte
	ok, err := s.getDoc(ctx, agentID, "media", key, &out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return out, nil
}

func sqliteQueryDocs[T any](ctx context.Context, db *sql.DB, agentID, kind string) ([]*T, error) {
	rows, err := db.QueryContext(ctx, `SELECT payload FROM conductor_documents WHERE agent_id=? AND kind=?`, agentID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err == nil {
			out = append(out, &v)
		}
	}
	return out, nil
}

var _ store.Store = (*SQLiteStore)(nil)
