package models

import "time"

// HistoryWindow is the full pre-compression snapshot of messages and
// events archived before a compression runs, so the original
// conversation can be recovered for audit or debugging.
type HistoryWindow struct {
	ID        string     `json:"id"`
	Messages  []*Message `json:"messages"`
	Events    []Envelope `json:"events"`
	Stats     map[string]any `json:"stats,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// CompressionRecord is the outcome of one compression pass: the summary
// text (truncated to 500 characters), the compression ratio, and the
// ids of any files snapshotted into RecoveredFile entries.
type CompressionRecord struct {
	ID          string    `json:"id"`
	WindowID    string    `json:"window_id"`
	Summary     string    `json:"summary"`
	Ratio       float64   `json:"ratio"`
	FileIDs     []string  `json:"file_ids,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// RecoveredFile is a point-in-time snapshot of a sandboxed file taken at
// compression time, so a multimodal or file reference dropped from the
// active history can still be inspected later.
type RecoveredFile struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Content   []byte    `json:"content"`
	MimeType  string    `json:"mime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TodoStatus is the lifecycle state of a TodoItem.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// TodoItem is one entry in an agent's persistent task list.
type TodoItem struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Status   TodoStatus `json:"status"`
	Priority int        `json:"priority,omitempty"`
}

// RunStats accumulates token/timing/error statistics across a single
// agent run, derived by folding the emitted event stream.
type RunStats struct {
	AgentID       string        `json:"agent_id"`
	StepCount     int           `json:"step_count"`
	ToolCalls     int           `json:"tool_calls"`
	ToolTimeouts  int           `json:"tool_timeouts"`
	InputTokens   int           `json:"input_tokens"`
	OutputTokens  int           `json:"output_tokens"`
	ContextPacks  int           `json:"context_packs"`
	DroppedItems  int           `json:"dropped_items"`
	Errors        int           `json:"errors"`
	Cancelled     bool          `json:"cancelled"`
	TimedOut      bool          `json:"timed_out"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	WallTime      time.Duration `json:"wall_time"`
}
