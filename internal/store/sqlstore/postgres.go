// Package sqlstore provides the optional SQL-backed Store variants
// described in spec §4.9 and §5: a Postgres implementation on
// github.com/jackc/pgx/v5 (the driver the rest of the example pack
// standardizes on, as opposed to the teacher's lib/pq) and an embedded
// modernc.org/sqlite variant for single-process deployments.
//
// Both store every artefact as a JSONB/TEXT blob keyed by
// (agent_id, kind[, artefact_id]) rather than modeling each field as a
// column: the abstract Store contract never needs relational queries
// over message/tool-record internals, only whole-blob save/load, so a
// document table keeps the schema small and keeps both backends in
// lockstep.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaykit/conductor/internal/store"
	"github.com/relaykit/conductor/pkg/models"
)

// PostgresConfig configures the pgx connection pool, grounded on the
// teacher's CockroachConfig shape (sessions/cockroach.go).
type PostgresConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sensible pool defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxConns:        25,
		MinConns:        2,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conductor_documents (
	agent_id   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	doc_id     TEXT NOT NULL DEFAULT '',
	payload    JSONB NOT NULL,
	bookmark_seq BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (agent_id, kind, doc_id)
);
CREATE INDEX IF NOT EXISTS conductor_documents_bookmark_idx
	ON conductor_documents (agent_id, kind, bookmark_seq);
`

// PostgresStore implements store.Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the document table
// exists.
func NewPostgresStore(ctx context.Context, dsn string, cfg *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlstore: dsn is required")
	}
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) putDoc(ctx context.Context, agentID, kind, docID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conductor_documents (agent_id, kind, doc_id, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id, kind, doc_id) DO UPDATE SET payload = EXCLUDED.payload`,
		agentID, kind, docID, payload)
	return err
}

func (s *PostgresStore) getDoc(ctx context.Context, agentID, kind, docID string, out any) (bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM conductor_documents WHERE agent_id=$1 AND kind=$2 AND doc_id=$3`,
		agentID, kind, docID).Scan(&payload)
	if err != nil {
		return false, nil //nolint:nilerr // pgx.ErrNoRows collapses to "not found" for callers
	}
	return true, json.Unmarshal(payload, out)
}

func (s *PostgresStore) SaveMessages(ctx context.Context, agentID string, messages []*models.Message) error {
	return s.putDoc(ctx, agentID, "messages", "", messages)
}

func (s *PostgresStore) LoadMessages(ctx context.Context, agentID string) ([]*models.Message, error) {
	var out []*models.Message
	_, err := s.getDoc(ctx, agentID, "messages", "", &out)
	return out, err
}

func (s *PostgresStore) SaveToolCallRecords(ctx context.Context, agentID string, records []*models.ToolCallRecord) error {
	return s.putDoc(ctx, agentID, "tool_records", "", records)
}

func (s *PostgresStore) LoadToolCallRecords(ctx context.Context, agentID string) ([]*models.ToolCallRecord, error) {
	var out []*models.ToolCallRecord
	_, err := s.getDoc(ctx, agentID, "tool_records", "", &out)
	return out, err
}

func (s *PostgresStore) SaveTodos(ctx context.Context, agentID string, todos []models.TodoItem) error {
	return s.putDoc(ctx, agentID, "todos", "", todos)
}

func (s *PostgresStore) LoadTodos(ctx context.Context, agentID string) ([]models.TodoItem, error) {
	var out []models.TodoItem
	_, err := s.getDoc(ctx, agentID, "todos", "", &out)
	return out, err
}

func (s *PostgresStore) AppendEvent(ctx context.Context, agentID string, env models.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	kind := "event_" + string(env.Event.Channel)
	docID := env.Bookmark.Seq
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conductor_documents (agent_id, kind, doc_id, payload, bookmark_seq)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id, kind, doc_id) DO NOTHING`,
		agentID, kind, formatSeq(docID), payload, docID)
	return err
}

func (s *PostgresStore) ReadEvents(ctx context.Context, agentID string, since models.Bookmark, channel models.Channel) ([]models.Envelope, error) {
	channels := []models.Channel{models.ChannelProgress, models.ChannelControl, models.ChannelMonitor}
	if channel != "" {
		channels = []models.Channel{channel}
	}
	var out []models.Envelope
	for _, ch := range channels {
		kind := "event_" + string(ch)
		rows, err := s.pool.Query(ctx, `
			SELECT payload FROM conductor_documents
			WHERE agent_id=$1 AND kind=$2 AND bookmark_seq > $3
			ORDER BY bookmark_seq ASC`, agentID, kind, since.Seq)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var payload []byte
			if err := rows.Scan(&payload); err != nil {
				rows.Close()
				return nil, err
			}
			var env models.Envelope
			if err := json.Unmarshal(payload, &env); err == nil {
				out = append(out, env)
			}
		}
		rows.Close()
	}
	return out, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, agentID string, snap *models.Snapshot) error {
	return s.putDoc(ctx, agentID, "snapshot", snap.ID, snap)
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context, agentID string, snapshotID string) (*models.Snapshot, error) {
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

func (s *PostgresStore) ListSnapshots(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc_id FROM conductor_documents WHERE agent_id=$1 AND kind='snapshot'`, agentID)
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

func (s *PostgresStore) SaveInfo(ctx context.Context, agentID string, info *models.AgentMetadata) error {
	return s.putDoc(ctx, agentID, "meta", "", info)
}

func (s *PostgresStore) LoadInfo(ctx context.Context, agentID string) (*models.AgentMetadata, error) {
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

func (s *PostgresStore) Exists(ctx context.Context, agentID string) (bool, error) {
	var out models.AgentMetadata
	ok, err := s.getDoc(ctx, agentID, "meta", "", &out)
	return ok, err
}

func (s *PostgresStore) Delete(ctx context.Context, agentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conductor_documents WHERE agent_id=$1`, agentID)
	return err
}

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT agent_id FROM conductor_documents
		WHERE agent_id LIKE $1 ORDER BY agent_id`, prefix+"%")
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

func (s *PostgresStore) SaveHistoryWindow(ctx context.Context, agentID string, w *models.HistoryWindow) error {
	return s.putDoc(ctx, agentID, "history_window", w.ID, w)
}

func (s *PostgresStore) LoadHistoryWindows(ctx context.Context, agentID string) ([]*models.HistoryWindow, error) {
	return queryDocs[models.HistoryWindow](ctx, s.pool, agentID, "history_window")
}

func (s *PostgresStore) SaveCompressionRecord(ctx context.Context, agentID string, r *models.CompressionRecord) error {
	if len(r.Summary) > 500 {
		r.Summary = r.Summary[:500]
	}
	return s.putDoc(ctx, agentID, "compression", r.ID, r)
}

func (s *PostgresStore) LoadCompressionRecords(ctx context.Context, agentID string) ([]*models.CompressionRecord, error) {
	return queryDocs[models.CompressionRecord](ctx, s.pool, agentID, "compression")
}

func (s *PostgresStore) SaveRecoveredFile(ctx context.Context, agentID string, f *models.RecoveredFile) error {
	return s.putDoc(ctx, agentID, "recovered_file", f.ID, f)
}

func (s *PostgresStore) LoadRecoveredFiles(ctx context.Context, agentID string) ([]*models.RecoveredFile, error) {
	return queryDocs[models.RecoveredFile](ctx, s.pool, agentID, "recovered_file")
}

func (s *PostgresStore) SaveMediaCache(ctx context.Context, agentID string, key string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conductor_documents (agent_id, kind, doc_id, payload)
		VALUES ($1, 'media', $2, $3)
		ON CONFLICT (agent_id, kind, doc_id) DO UPDATE SET payload = EXCLUDED.payload`,
		agentID, key, mediaEnvelope(data))
	return err
}

func (s *PostgresStore) LoadMediaCache(ctx context.Context, agentID string, key string) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM conductor_documents WHERE agent_id=$1 AND kind='media' AND doc_id=$2`,
		agentID, key).Scan(&payload)
	if err != nil {
		return nil, store.ErrNotFound
	}
	var out []byte
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AcquireAgentLock takes a Postgres advisory lock scoped to agentID, for
// multi-process pool deployments per spec §5. The returned release
// function must be called to unlock; it blocks until timeoutMs elapses
// waiting to acquire.
func (s *PostgresStore) AcquireAgentLock(ctx context.Context, agentID string, timeout time.Duration) (release func(), err error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	key := advisoryLockKey(agentID)
	if _, err := conn.Exec(lockCtx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		conn.Release()
		return nil, err
	}
	return func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}, nil
}

func advisoryLockKey(agentID string) int64 {
	var h int64 = 1469598103934665603
	for _, b := range []byte(agentID) {
		h ^= int64(b)
		h *= 1099511628211
	}
	if h < 0 {
		h = -h
	}
	return h
}

func formatSeq(seq uint64) string {
	// docID must be a string for the composite key; bookmark_seq carries
	// the numeric value used for ordering and the `> since` filter.
	buf := make([]byte, 0, 20)
	if seq == 0 {
		return "0"
	}
	for seq > 0 {
		buf = append([]byte{byte('0' + seq%10)}, buf...)
		seq /= 10
	}
	return string(buf)
}

func mediaEnvelope(data []byte) []byte {
	payload, _ := json.Marshal(data)
	return payload
}

func queryDocs[T any](ctx context.Context, pool *pgxpool.Pool, agentID, kind string) ([]*T, error) {
	rows, err := pool.Query(ctx, `SELECT payload FROM conductor_documents WHERE agent_id=$1 AND kind=$2`, agentID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(payload, &v); err == nil {
			out = append(out, &v)
		}
	}
	return out, nil
}

var _ store.Store = (*PostgresStore)(nil)
