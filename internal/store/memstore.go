package store

import (
	"context"
	"sort"
	"sync"

	"github.com/relaykit/conductor/pkg/models"
)

// MemStore is an in-memory Store, grounded on the teacher's
// sessions.MemoryStore: one RWMutex guarding plain maps, with every
// returned value deep-cloned so callers can never mutate store state
// through the result.
type MemStore struct {
	mu sync.RWMutex

	messages    map[string][]*models.Message
	toolRecords map[string][]*models.ToolCallRecord
	todos       map[string][]models.TodoItem
	events      map[string][]models.Envelope
	snapshots   map[string]map[string]*models.Snapshot
	info        map[string]*models.AgentMetadata
	windows     map[string][]*models.HistoryWindow
	compactions map[string][]*models.CompressionRecord
	recovered   map[string][]*models.RecoveredFile
	media       map[string]map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		messages:    map[string][]*models.Message{},
		toolRecords: map[string][]*models.ToolCallRecord{},
		todos:       map[string][]models.TodoItem{},
		events:      map[string][]models.Envelope{},
		snapshots:   map[string]map[string]*models.Snapshot{},
		info:        map[string]*models.AgentMetadata{},
		windows:     map[string][]*models.HistoryWindow{},
		compactions: map[string][]*models.CompressionRecord{},
		recovered:   map[string][]*models.RecoveredFile{},
		media:       map[string]map[string][]byte{},
	}
}

func (s *MemStore) SaveMessages(ctx context.Context, agentID string, messages []*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := make([]*models.Message, len(messages))
	for i, m := range messages {
		clone[i] = m.Clone()
	}
	s.messages[agentID] = clone
	return nil
}

func (s *MemStore) LoadMessages(ctx context.Context, agentID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.messages[agentID]
	out := make([]*models.Message, len(src))
	for i, m := range src {
		out[i] = m.Clone()
	}
	return out, nil
}

func (s *MemStore) SaveToolCallRecords(ctx context.Context, agentID string, records []*models.ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := make([]*models.ToolCallRecord, len(records))
	for i, r := range records {
		cp := *r
		cp.AuditTrail = append([]models.AuditEntry(nil), r.AuditTrail...)
		clone[i] = &cp
	}
	s.toolRecords[agentID] = clone
	return nil
}

func (s *MemStore) LoadToolCallRecords(ctx context.Context, agentID string) ([]*models.ToolCallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.toolRecords[agentID]
	out := make([]*models.ToolCallRecord, len(src))
	for i, r := range src {
		cp := *r
		cp.AuditTrail = append([]models.AuditEntry(nil), r.AuditTrail...)
		out[i] = &cp
	}
	return out, nil
}

func (s *MemStore) SaveTodos(ctx context.Context, agentID string, todos []models.TodoItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos[agentID] = append([]models.TodoItem(nil), todos...)
	return nil
}

func (s *MemStore) LoadTodos(ctx context.Context, agentID string) ([]models.TodoItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TodoItem(nil), s.todos[agentID]...), nil
}

func (s *MemStore) AppendEvent(ctx context.Context, agentID string, env models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[agentID] = append(s.events[agentID], env)
	return nil
}

func (s *MemStore) ReadEvents(ctx context.Context, agentID string, since models.Bookmark, channel models.Channel) ([]models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Envelope
	for _, e := range s.events[agentID] {
		if e.Bookmark.Seq <= since.Seq {
			continue
		}
		if channel != "" && e.Event.Channel != channel {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bookmark.Seq < out[j].Bookmark.Seq })
	return out, nil
}

func (s *MemStore) SaveSnapshot(ctx context.Context, agentID string, snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshots[agentID] == nil {
		s.snapshots[agentID] = map[string]*models.Snapshot{}
	}
	s.snapshots[agentID][snap.ID] = snap.Clone()
	return nil
}

func (s *MemStore) LoadSnapshot(ctx context.Context, agentID string, snapshotID string) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.snapshots[agentID]
	if m == nil {
		return nil, ErrNotFound
	}
	snap, ok := m[snapshotID]
	if !ok {
		return nil, ErrNotFound
	}
	return snap.Clone(), nil
}

func (s *MemStore) ListSnapshots(ctx context.Context, agentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id := range s.snapshots[agentID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) SaveInfo(ctx context.Context, agentID string, info *models.AgentMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *info
	s.info[agentID] = &cp
	return nil
}

func (s *MemStore) LoadInfo(ctx context.Context, agentID string) (*models.AgentMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.info[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *info
	return &cp, nil
}

func (s *MemStore) Exists(ctx context.Context, agentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.info[agentID]
	return ok, nil
}

func (s *MemStore) Delete(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, agentID)
	delete(s.toolRecords, agentID)
	delete(s.todos, agentID)
	delete(s.events, agentID)
	delete(s.snapshots, agentID)
	delete(s.info, agentID)
	delete(s.windows, agentID)
	delete(s.compactions, agentID)
	delete(s.recovered, agentID)
	delete(s.media, agentID)
	return nil
}

func (s *MemStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id := range s.info {
		if prefix == "" || len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) SaveHistoryWindow(ctx context.Context, agentID string, w *models.HistoryWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[agentID] = append(s.windows[agentID], w)
	return nil
}

func (s *MemStore) LoadHistoryWindows(ctx context.Context, agentID string) ([]*models.HistoryWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.HistoryWindow(nil), s.windows[agentID]...), nil
}

func (s *MemStore) SaveCompressionRecord(ctx context.Context, agentID string, r *models.CompressionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compactions[agentID] = append(s.compactions[agentID], r)
	return nil
}

func (s *MemStore) LoadCompressionRecords(ctx context.Context, agentID string) ([]*models.CompressionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.CompressionRecord(nil), s.compactions[agentID]...), nil
}

func (s *MemStore) SaveRecoveredFile(ctx context.Context, agentID string, f *models.RecoveredFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recovered[agentID] = append(s.recovered[agentID], f)
	return nil
}

func (s *MemStore) LoadRecoveredFiles(ctx context.Context, agentID string) ([]*models.RecoveredFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.RecoveredFile(nil), s.recovered[agentID]...), nil
}

func (s *MemStore) SaveMediaCache(ctx context.Context, agentID string, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.media[agentID] == nil {
		s.media[agentID] = map[string][]byte{}
	}
	cp := append([]byte(nil), data...)
	s.media[agentID][key] = cp
	return nil
}

func (s *MemStore) LoadMediaCache(ctx context.Context, agentID string, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.media[agentID][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

var _ Store = (*MemStore)(nil)
