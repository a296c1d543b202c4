// Package agent implements the Agent: the top-level orchestrator that
// owns the control loop (spec §4.6) and the tool execution pipeline
// (spec §4.7), wiring together ContextManager, EventBus, HookManager,
// PermissionManager, ToolRunner, MessageQueue, FilePool, BreakpointManager
// and Store.
package agent

import (
	"context"

	"github.com/relaykit/conductor/pkg/models"
)

// Provider is the model backend the loop streams from. Concrete wire
// clients (Anthropic, OpenAI, Gemini, OpenRouter) are external
// collaborators per spec's Non-goals; only this streaming contract is
// specified here.
//
// Grounded on the teacher's internal/agent LLMProvider (provider_types.go),
// generalized from its flat CompletionChunk{Text,ToolCall,Done} shape
// into the spec's block-indexed content_block_start/delta/stop stream so
// the loop can reconstruct interleaved text/reasoning/tool_use blocks
// exactly as spec §4.6 step 6 describes.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}

// CompletionRequest is one turn's request to a Provider.
type CompletionRequest struct {
	Model          string
	System         string
	Messages       []*models.Message
	Tools          []ToolDescriptor
	MaxTokens      int
	ExposeThinking bool
}

// ToolDescriptor is the contract-level shape of a tool the model may
// call. Concrete tool implementations (filesystem, bash, MCP bridges,
// skills) are external collaborators per spec §1; the loop only needs
// enough to advertise the tool and validate/execute calls against it.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
	// Exec performs the tool call. ctx carries the per-call timeout
	// (spec §4.7 step 7, default 60s).
	Exec func(ctx context.Context, input map[string]any) (ToolOutcome, error)
}

// ToolOutcome is what a tool's Exec returns on success. A runtime error
// returned from Exec instead becomes an "exception" outcome; a
// ctx.Err() == context.Canceled becomes "aborted" (spec §4.7 step 7).
type ToolOutcome struct {
	OK              bool
	Data            any
	Error           string
	ErrorType       string
	Retryable       bool
	Recommendations []string
}

// StreamEventType tags a StreamEvent's variant, mirroring the block-level
// stream protocol spec §4.6 step 6 describes.
type StreamEventType string

const (
	StreamBlockStart StreamEventType = "content_block_start"
	StreamBlockDelta StreamEventType = "content_block_delta"
	StreamBlockStop  StreamEventType = "content_block_stop"
	StreamMessageDelta StreamEventType = "message_delta"
)

// StreamEvent is one chunk of a Provider's streamed response.
type StreamEvent struct {
	Type  StreamEventType
	Index int

	// BlockType names the block being opened by a BlockStart event:
	// "text", "reasoning" or "tool_use".
	BlockType models.BlockType

	// ToolUseID/ToolName accompany a BlockStart for a tool_use block.
	ToolUseID string
	ToolName  string

	// TextDelta/InputDelta accompany a BlockDelta: appended text (for
	// text/reasoning blocks) or a fragment of the tool input JSON being
	// streamed (for tool_use blocks).
	TextDelta  string
	InputDelta string

	// Usage accompanies a MessageDelta event (spec: "message_delta
	// carries usage -> emit token_usage monitor event").
	Usage *Usage

	Err error
}

// Usage is the token accounting carried by a MessageDelta event.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
